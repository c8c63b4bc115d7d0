package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/biotracer/agent/internal/client"
	"github.com/biotracer/agent/internal/config"
	"github.com/biotracer/agent/internal/container"
	"github.com/biotracer/agent/internal/control"
	controlClient "github.com/biotracer/agent/internal/control/client"
	"github.com/biotracer/agent/internal/control/messages"
	agentErrors "github.com/biotracer/agent/internal/errors"
	"github.com/biotracer/agent/internal/exporters"
	"github.com/biotracer/agent/internal/files"
	"github.com/biotracer/agent/internal/host"
	"github.com/biotracer/agent/internal/kernel/communication"
	"github.com/biotracer/agent/internal/logging"
	"github.com/biotracer/agent/internal/process"
	"github.com/jessevdk/go-flags"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

var options struct {
	Debug      bool   `short:"d" long:"debug" description:"Debug mode"`
	ConfigPath string `short:"c" long:"config" description:"Config file (default: ~/.config/tracer/tracer.yaml)"`

	Run           runCommand     `command:"run" description:"Run the monitoring daemon"`
	Info          infoCommand    `command:"info" description:"Show what the daemon is tracking"`
	Log           messageCommand `command:"log" description:"Record a log message"`
	Alert         messageCommand `command:"alert" description:"Record an alert"`
	Track         trackCommand   `command:"track" description:"Record a short lived process"`
	Start         startCommand   `command:"start" description:"Start a new run"`
	End           simpleCommand  `command:"end" description:"End the current run"`
	RefreshConfig simpleCommand  `command:"refresh-config" description:"Reload targets from the config file"`
	Stop          simpleCommand  `command:"stop" description:"Stop the daemon"`
}

const (
	exitCodeErr = -1
)

var (
	logger       *zap.Logger
	controlPlane *control.Plane
	restClient   *client.RestfulClient
	signalsChan  = make(chan os.Signal, 1)
)

func main() {
	options.Log.command = messages.CommandLog
	options.Alert.command = messages.CommandAlert
	options.End.command = messages.CommandEnd
	options.RefreshConfig.command = messages.CommandRefreshConfig
	options.Stop.command = messages.CommandStop

	if _, err := flags.Parse(&options); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			return
		}
		fmt.Printf("Failed: %v\n", err)
		os.Exit(exitCodeErr)
	}
}

func configPath() string {
	if options.ConfigPath != "" {
		return options.ConfigPath
	}
	return config.DefaultPath()
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath())
	if err != nil {
		return nil, agentErrors.WrappedErrLoadConfig(err)
	}
	return cfg, nil
}

type runCommand struct{}

func (rc *runCommand) Execute(args []string) error {
	var err error
	logger, err = logging.NewLogger("tracer-agent", options.Debug)
	if err != nil {
		return agentErrors.WrappedErrNewLogger(err)
	}
	defer logger.Sync()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	setupSignalHandling()

	logger.Info("Start agent")
	if err := startAgent(cfg); err != nil {
		logger.Error("Failed to start agent", zap.Error(err))
		return err
	}
	return nil
}

func setupSignalHandling() {
	signal.Notify(signalsChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-signalsChan
		logger.Info("Stop agent")
		if err := stopAgent(); err != nil {
			logger.Error("Failed to stop agent", zap.Error(err))
		}
	}()
}

func startAgent(cfg *config.Config) error {
	deps, err := newDependencies(cfg)
	if err != nil {
		return errors.WithMessage(err, "build dependencies")
	}

	controlPlane, err = control.NewPlane(context.Background(), logger, cfg, configPath(), deps)
	if err != nil {
		return errors.WithMessage(err, "new control plane")
	}

	if err := controlPlane.Start(); err != nil {
		return errors.WithMessage(err, "start control plane")
	}
	controlPlane.WaitUntilCompletion()

	return stopAgent()
}

func newDependencies(cfg *config.Config) (*control.Dependencies, error) {
	resolver, err := container.NewResolver(logger, container.NewDockerInspector())
	if err != nil {
		return nil, errors.WithMessage(err, "new container resolver")
	}
	deps := &control.Dependencies{
		Source:     process.NewPsUtilSource(logger),
		Containers: resolver,
	}

	fileExporter, err := exporters.NewFileExporter(cfg.ExportDirectory)
	if err != nil {
		return nil, errors.WithMessage(err, "new file exporter")
	}
	deps.Exporters = append(deps.Exporters, fileExporter)

	if cfg.DatabasePath != "" {
		sqliteExporter, err := exporters.OpenSQLiteExporter(cfg.DatabasePath)
		if err != nil {
			return nil, errors.WithMessage(err, "open sqlite exporter")
		}
		deps.Exporters = append(deps.Exporters, sqliteExporter)
	}

	if cfg.S3Bucket != "" {
		s3Client, err := exporters.NewS3Client(context.Background(), cfg.AwsRegion)
		if err != nil {
			return nil, errors.WithMessage(err, "new s3 client")
		}
		s3Exporter, err := exporters.NewS3Exporter(s3Client, cfg.S3Bucket, cfg.S3Prefix)
		if err != nil {
			return nil, errors.WithMessage(err, "new s3 exporter")
		}
		deps.Exporters = append(deps.Exporters, s3Exporter)
	}

	if cfg.ApiKey != "" {
		restClient, err = client.NewRestfulClient(context.Background(), logger,
			&client.ApiConfig{Url: cfg.ServiceUrl, Token: cfg.ApiKey})
		if err != nil {
			return nil, errors.WithMessage(err, "new restful client")
		}
		deps.Uploader = restClient
		deps.Exporters = append(deps.Exporters, exporters.NewServiceExporter(restClient))
	} else {
		logger.Warn("No api key configured, keeping events and files locally",
			zap.String("ExportDirectory", cfg.ExportDirectory))
		uploader, err := files.NewDirectoryUploader(filepath.Join(cfg.ExportDirectory, "uploads"))
		if err != nil {
			return nil, err
		}
		deps.Uploader = uploader
	}

	machineId, err := host.MachineId()
	if err != nil {
		logger.Warn("Failed to read machine id", zap.Error(err))
	}
	deps.Host = host.NewPropertiesCollector(logger, machineId, cfg.ResolvePublicIp)

	if cfg.ListenExecEvents {
		communicator, err := communication.NewCommunicator(logger)
		if err != nil {
			logger.Warn("Exec events unavailable, relying on polling only", zap.Error(err))
		} else {
			deps.Execs = communicator
		}
	}

	return deps, nil
}

func stopAgent() error {
	if controlPlane == nil {
		return errors.New("uninitialized control plane")
	}

	if err := controlPlane.Stop(); err != nil {
		return errors.WithMessage(err, "stop control plane")
	}
	if restClient != nil {
		restClient.AbortAll()
	}

	return nil
}

func send(request *messages.Request) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	response, err := controlClient.NewSocketClient(cfg.SocketPath).Send(context.Background(), request)
	if err != nil {
		return err
	}

	encoded, err := json.MarshalIndent(response, "", "  ")
	if err != nil {
		return errors.WithMessage(err, "encode response")
	}
	fmt.Println(string(encoded))
	return nil
}

type infoCommand struct{}

func (ic *infoCommand) Execute(args []string) error {
	return send(&messages.Request{Command: messages.CommandInfo})
}

type messageCommand struct {
	command messages.Command

	Args struct {
		Message string `positional-arg-name:"message"`
	} `positional-args:"yes" required:"yes"`
}

func (mc *messageCommand) Execute(args []string) error {
	return send(&messages.Request{Command: mc.command, Message: mc.Args.Message})
}

type trackCommand struct {
	Args struct {
		ProcessName string `positional-arg-name:"process-name"`
	} `positional-args:"yes" required:"yes"`
}

func (tc *trackCommand) Execute(args []string) error {
	return send(&messages.Request{Command: messages.CommandTrack, ProcessName: tc.Args.ProcessName})
}

type startCommand struct {
	RunName string `short:"n" long:"run-name" description:"Run name (default: generated from the current time)"`
}

func (sc *startCommand) Execute(args []string) error {
	return send(&messages.Request{Command: messages.CommandStart, RunName: sc.RunName})
}

type simpleCommand struct {
	command messages.Command
}

func (sc *simpleCommand) Execute(args []string) error {
	return send(&messages.Request{Command: sc.command})
}

package control

import (
	"context"
	"sync"
	"time"

	"github.com/biotracer/agent/internal/config"
	"github.com/biotracer/agent/internal/control/messages"
	"github.com/biotracer/agent/internal/events"
	"github.com/biotracer/agent/internal/exporters"
	"github.com/biotracer/agent/internal/files"
	"github.com/biotracer/agent/internal/kernel/communication"
	"github.com/biotracer/agent/internal/operations"
	"github.com/biotracer/agent/internal/operations/operators"
	"github.com/biotracer/agent/internal/process"
	"github.com/biotracer/agent/internal/tracker"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

const finalFlushTimeout = time.Second * 30

// ExecSource publishes exec notifications between polls.
type ExecSource interface {
	ListenForExecs()
	ExecsChan() <-chan communication.Exec
	Close() error
}

type Dependencies struct {
	Source     process.Source
	Uploader   files.Uploader
	Containers tracker.ContainerResolver
	Exporters  []exporters.Exporter
	Host       HostCollector
	// Execs is optional.
	Execs ExecSource
}

// Plane schedules the process and file cycles, serves daemon commands and submits recorded
// events. The tracker, the watcher and the command handler only run on the poll goroutine.
type Plane struct {
	logger    *zap.Logger
	context   context.Context
	cancel    context.CancelFunc
	waitGroup sync.WaitGroup
	running   *atomic.Bool
	stopOnce  sync.Once
	stopErr   error
	pollDone  chan struct{}

	config          *config.Config
	recorder        *events.Recorder
	tracker         *tracker.Tracker
	watcher         *files.Watcher
	cycle           *operators.Cycle
	processPipeline *operations.Pipeline
	filePipeline    *operations.Pipeline
	handler         *CommandHandler
	server          *Server
	execs           ExecSource
	exporters       []exporters.Exporter
}

func NewPlane(ctx context.Context, rootLogger *zap.Logger, cfg *config.Config, configPath string,
	deps *Dependencies) (*Plane, error) {
	logger := rootLogger.Named("control-plane")

	if valid, err := cfg.Valid(); !valid {
		return nil, errors.WithMessage(err, "invalid config")
	}
	catalog, err := cfg.Catalog()
	if err != nil {
		return nil, err
	}
	rules, err := cfg.FileRules()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)

	recorder := events.NewRecorder()
	processTracker := tracker.NewTracker(rootLogger, cfg.TrackerConfig(), catalog, recorder, deps.Containers)
	watcher := files.NewWatcher(rootLogger, files.NewScanner(rootLogger, rules), deps.Uploader, cfg.WatcherConfig())
	cycle := &operators.Cycle{}

	processPipeline := operations.NewPipeline(ctx, rootLogger)
	processPipeline.AddOperators(
		&operators.TakeSnapshot{Source: deps.Source, Cycle: cycle},
		&operators.TrackProcesses{Tracker: processTracker, Files: watcher, Cycle: cycle},
		&operators.ShortLivedProcesses{Logger: logger, Tracker: processTracker, Cycle: cycle},
		&operators.ProcessMetrics{Tracker: processTracker, Cycle: cycle},
		&operators.RemoveCompleted{Tracker: processTracker, Cycle: cycle},
	)

	filePipeline := operations.NewPipeline(ctx, rootLogger)
	filePipeline.AddOperators(&operators.PollFiles{Watcher: watcher, Root: cfg.WorkflowDirectory})

	loadConfig := func() (*config.Config, error) {
		return config.Load(configPath)
	}

	return &Plane{
		logger:          logger,
		context:         ctx,
		cancel:          cancel,
		running:         atomic.NewBool(false),
		pollDone:        make(chan struct{}),
		config:          cfg,
		recorder:        recorder,
		tracker:         processTracker,
		watcher:         watcher,
		cycle:           cycle,
		processPipeline: processPipeline,
		filePipeline:    filePipeline,
		handler:         NewCommandHandler(rootLogger, recorder, processTracker, cycle, deps.Host, loadConfig),
		server:          NewServer(rootLogger, cfg.SocketPath),
		execs:           deps.Execs,
		exporters:       deps.Exporters,
	}, nil
}

func (p *Plane) Start() error {
	if !p.running.CAS(false, true) {
		return errors.New("control plane is already running")
	}

	p.logger.Info("Start control plane", zap.String("WorkflowDirectory", p.config.WorkflowDirectory),
		zap.Int("Exporters", len(p.exporters)))

	if err := p.watcher.PrepareCacheDirectory(); err != nil {
		return errors.WithMessage(err, "prepare cache directory")
	}
	if err := p.server.Listen(); err != nil {
		return errors.WithMessage(err, "listen for commands")
	}

	var execsChan <-chan communication.Exec
	if p.execs != nil {
		p.execs.ListenForExecs()
		execsChan = p.execs.ExecsChan()
	}

	p.waitGroup.Add(3)
	go p.pollLoop(execsChan)
	go p.submitLoop()
	go func() {
		defer p.waitGroup.Done()
		p.server.Serve(p.context)
	}()

	return nil
}

func (p *Plane) pollLoop(execsChan <-chan communication.Exec) {
	defer p.waitGroup.Done()
	defer close(p.pollDone)

	p.logger.Debug("Start poll loop")
	defer p.logger.Debug("Done poll loop")

	processTicker := time.NewTicker(p.config.ProcessPollingInterval)
	defer processTicker.Stop()
	fileTicker := time.NewTicker(p.config.FilePollingInterval)
	defer fileTicker.Stop()

	for {
		select {
		case <-p.context.Done():
			return
		case <-processTicker.C:
			if err := p.processPipeline.Run(); err != nil {
				p.logger.Warn("Process cycle failed", zap.Error(err))
			}
		case <-fileTicker.C:
			if err := p.filePipeline.Run(); err != nil {
				p.logger.Warn("File cycle failed", zap.Error(err))
			}
		case exec, ok := <-execsChan:
			if !ok {
				execsChan = nil
				continue
			}
			p.cycle.QueueExec(exec)
		case pending := <-p.server.pendingCommands():
			pending.reply <- p.handler.Handle(p.context, pending.request)
			if pending.request.Command == messages.CommandStop {
				p.logger.Info("Stop requested over command socket")
				p.cancel()
			}
		}
	}
}

func (p *Plane) submitLoop() {
	defer p.waitGroup.Done()

	ticker := time.NewTicker(p.config.BatchSubmissionInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.context.Done():
			<-p.pollDone

			ctx, cancel := context.WithTimeout(context.Background(), finalFlushTimeout)
			if err := p.submit(ctx); err != nil {
				p.logger.Error("Failed to submit final batch", zap.Error(err))
			}
			cancel()
			return
		case <-ticker.C:
			if err := p.submit(p.context); err != nil {
				p.logger.Warn("Failed to submit batch", zap.Error(err))
			}
		}
	}
}

type runBatch struct {
	runName string
	events  []events.Event
}

// groupByRun splits drained events by run, keeping the order runs first appear in.
func groupByRun(drained []events.Event) []*runBatch {
	batches := make([]*runBatch, 0)
	byName := make(map[string]*runBatch)

	for _, event := range drained {
		batch, exists := byName[event.RunName]
		if !exists {
			batch = &runBatch{runName: event.RunName}
			byName[event.RunName] = batch
			batches = append(batches, batch)
		}
		batch.events = append(batch.events, event)
	}

	return batches
}

// submit drains the recorder and hands every batch to every exporter. A failed export is
// not retried.
func (p *Plane) submit(ctx context.Context) error {
	drained := p.recorder.Drain()
	if len(drained) == 0 {
		return nil
	}

	var errs *multierror.Error
	for _, batch := range groupByRun(drained) {
		for _, exporter := range p.exporters {
			if err := exporter.Export(ctx, batch.runName, batch.events); err != nil {
				errs = multierror.Append(errs, errors.WithMessagef(err, "export to '%s'", exporter.Name()))
			}
		}
	}

	p.logger.Debug("Submitted events", zap.Int("Events", len(drained)))
	return errs.ErrorOrNil()
}

// Stop may be called more than once and from several goroutines; all callers return once the
// plane is fully stopped.
func (p *Plane) Stop() error {
	p.stopOnce.Do(func() {
		p.logger.Info("Stop control plane")
		p.cancel()

		var errs *multierror.Error
		if err := p.server.Close(); err != nil {
			errs = multierror.Append(errs, errors.WithMessage(err, "close command server"))
		}
		if p.execs != nil {
			if err := p.execs.Close(); err != nil {
				errs = multierror.Append(errs, errors.WithMessage(err, "close exec listener"))
			}
		}

		p.waitGroup.Wait()

		for _, exporter := range p.exporters {
			if err := exporter.Close(); err != nil {
				errs = multierror.Append(errs, errors.WithMessagef(err, "close exporter '%s'", exporter.Name()))
			}
		}

		p.running.Store(false)
		p.stopErr = errs.ErrorOrNil()
	})

	return p.stopErr
}

func (p *Plane) WaitUntilCompletion() {
	p.waitGroup.Wait()
}

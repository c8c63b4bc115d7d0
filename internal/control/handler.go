package control

import (
	"context"
	"fmt"
	"time"

	"github.com/biotracer/agent/internal/config"
	"github.com/biotracer/agent/internal/control/messages"
	"github.com/biotracer/agent/internal/control/responses"
	"github.com/biotracer/agent/internal/events"
	"github.com/biotracer/agent/internal/operations/operators"
	"github.com/biotracer/agent/internal/tracker"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gopkg.in/guregu/null.v3"
)

const (
	runStatusStarted = "started"
	runStatusEnded   = "ended"
)

var (
	errEmptyMessage     = errors.New("message must not be empty")
	errEmptyProcessName = errors.New("process name must not be empty")
	errNoActiveRun      = errors.New("no run in progress")
)

// HostCollector describes the host a run executes on.
type HostCollector interface {
	Collect(ctx context.Context) (*events.HostProperties, error)
}

// ConfigLoader reads the configuration file again.
type ConfigLoader func() (*config.Config, error)

// CommandHandler executes daemon commands. It touches the tracker, so it must only be called
// from the poll goroutine.
type CommandHandler struct {
	logger     *zap.Logger
	recorder   *events.Recorder
	tracker    *tracker.Tracker
	cycle      *operators.Cycle
	host       HostCollector
	loadConfig ConfigLoader
	clock      func() time.Time
}

func NewCommandHandler(rootLogger *zap.Logger, recorder *events.Recorder, processTracker *tracker.Tracker,
	cycle *operators.Cycle, host HostCollector, loadConfig ConfigLoader) *CommandHandler {
	return &CommandHandler{
		logger:     rootLogger.Named("command-handler"),
		recorder:   recorder,
		tracker:    processTracker,
		cycle:      cycle,
		host:       host,
		loadConfig: loadConfig,
		clock:      func() time.Time { return time.Now().UTC() },
	}
}

func (h *CommandHandler) Handle(ctx context.Context, request *messages.Request) *responses.Response {
	funcLogger := h.logger.With(zap.String("Command", string(request.Command)))
	funcLogger.Debug("Handle command")

	var (
		response *responses.Response
		err      error
	)

	switch request.Command {
	case messages.CommandInfo:
		response = h.info()
	case messages.CommandLog:
		response, err = h.message(events.TypeLog, request.Message)
	case messages.CommandAlert:
		response, err = h.message(events.TypeAlert, request.Message)
	case messages.CommandTrack:
		response, err = h.track(request.ProcessName)
	case messages.CommandStart:
		response = h.startRun(ctx, request.RunName)
	case messages.CommandEnd:
		response, err = h.endRun()
	case messages.CommandRefreshConfig:
		response, err = h.refreshConfig()
	case messages.CommandStop:
		response = &responses.Response{Ok: true}
	default:
		err = errors.Errorf("unknown command '%s'", request.Command)
	}

	if err != nil {
		funcLogger.Warn("Command failed", zap.Error(err))
		return responses.Failure(err)
	}
	return response
}

func (h *CommandHandler) info() *responses.Response {
	runName, runID := h.recorder.Run()
	return &responses.Response{
		Ok:      true,
		Tracked: h.tracker.Len(),
		Preview: h.tracker.Preview(),
		RunName: runName,
		RunID:   runID,
	}
}

func (h *CommandHandler) message(eventType events.Type, message string) (*responses.Response, error) {
	if message == "" {
		return nil, errEmptyMessage
	}
	h.recorder.Record(eventType, message, nil, null.Time{})
	return &responses.Response{Ok: true}, nil
}

func (h *CommandHandler) track(processName string) (*responses.Response, error) {
	if processName == "" {
		return nil, errEmptyProcessName
	}
	h.tracker.FillShortLivedProcess(h.tracker.GatherShortLivedProcess(h.cycle.Snapshot, processName))
	return &responses.Response{Ok: true, Tracked: h.tracker.Len()}, nil
}

// startRun ends the run in progress, if any, before starting the new one. An empty name is
// generated from the current time.
func (h *CommandHandler) startRun(ctx context.Context, runName string) *responses.Response {
	now := h.clock()
	if currentName, _ := h.recorder.Run(); currentName != "" {
		h.recordRunStatus(runStatusEnded, now)
		h.recorder.EndRun()
	}

	if runName == "" {
		runName = fmt.Sprintf("run-%s", now.Format("20060102-150405"))
	}
	runID := h.recorder.StartRun(runName)
	h.recordRunStatus(runStatusStarted, now)

	h.recordHostProperties(ctx, now)

	return &responses.Response{Ok: true, RunName: runName, RunID: runID}
}

func (h *CommandHandler) recordHostProperties(ctx context.Context, now time.Time) {
	if h.host == nil {
		return
	}

	hostProperties, err := h.host.Collect(ctx)
	if err != nil {
		h.logger.Warn("Failed to collect host properties", zap.Error(err))
		return
	}
	h.recorder.Record(events.TypeHostProperties,
		fmt.Sprintf("[%s] Host properties: %s", now.Format(time.RFC3339), hostProperties.Hostname),
		hostProperties, null.Time{})
}

func (h *CommandHandler) endRun() (*responses.Response, error) {
	runName, runID := h.recorder.Run()
	if runName == "" {
		return nil, errNoActiveRun
	}

	h.recordRunStatus(runStatusEnded, h.clock())
	h.recorder.EndRun()
	return &responses.Response{Ok: true, RunName: runName, RunID: runID}, nil
}

func (h *CommandHandler) recordRunStatus(status string, now time.Time) {
	runName, runID := h.recorder.Run()
	h.recorder.Record(events.TypeRunStatus,
		fmt.Sprintf("[%s] Run %s %s", now.Format(time.RFC3339), runName, status),
		&events.RunStatus{RunName: runName, RunID: runID, Status: status}, null.Time{})
}

func (h *CommandHandler) refreshConfig() (*responses.Response, error) {
	loaded, err := h.loadConfig()
	if err != nil {
		return nil, errors.WithMessage(err, "load config")
	}
	if valid, err := loaded.Valid(); !valid {
		return nil, errors.WithMessage(err, "invalid config")
	}

	catalog, err := loaded.Catalog()
	if err != nil {
		return nil, errors.WithMessage(err, "build target catalog")
	}

	changed := h.tracker.ReloadTargets(catalog)
	h.logger.Info("Config refreshed", zap.Bool("TargetsChanged", changed))
	return &responses.Response{Ok: true, Changed: changed, Tracked: h.tracker.Len()}, nil
}

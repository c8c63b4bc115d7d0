package operations

import (
	"context"

	"github.com/biotracer/agent/internal/operations/operators"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// Pipeline runs its operators in order, once per poll cycle. An operator that fails with
// StopOnFailure aborts the rest of the cycle; other failures are collected.
type Pipeline struct {
	logger    *zap.Logger
	context   context.Context
	cancel    context.CancelFunc
	operators []operators.Operator
	running   *atomic.Bool
}

func NewPipeline(ctx context.Context, rootLogger *zap.Logger) *Pipeline {
	logger := rootLogger.Named("operations-pipeline")
	ctx, cancel := context.WithCancel(ctx)

	return &Pipeline{
		logger:    logger,
		context:   ctx,
		cancel:    cancel,
		operators: make([]operators.Operator, 0),
		running:   atomic.NewBool(false),
	}
}

func (p *Pipeline) AddOperators(ops ...operators.Operator) {
	p.operators = append(p.operators, ops...)
}

// Run executes one cycle. Cycles must not overlap.
func (p *Pipeline) Run() error {
	if !p.running.CAS(false, true) {
		return errors.New("pipeline is already running")
	}
	defer p.running.Store(false)

	var errs error
	for _, operator := range p.operators {
		if err := p.context.Err(); err != nil {
			return multierror.Append(errs, errors.WithMessage(err, "pipeline stopped"))
		}

		if err := operator.Operate(p.context); err != nil {
			err = errors.WithMessagef(err, "operator '%s'", operator.Name())
			errs = multierror.Append(errs, err)

			if operator.StopOnFailure() {
				p.logger.Warn("Operator failed, aborting cycle", zap.String("Operator", operator.Name()), zap.Error(err))
				return errs
			}
			p.logger.Debug("Operator failed", zap.String("Operator", operator.Name()), zap.Error(err))
		}
	}

	return errs
}

func (p *Pipeline) Running() bool {
	return p.running.Load()
}

func (p *Pipeline) Stop() error {
	p.cancel()
	return nil
}

package operators

import "context"

type Operator interface {
	Name() string
	Operate(ctx context.Context) error
	StopOnFailure() bool
}

// Func adapts a function to an Operator.
type Func struct {
	OperatorName string
	Fn           func(ctx context.Context) error
	Fatal        bool
}

func (f *Func) Name() string {
	return f.OperatorName
}

func (f *Func) Operate(ctx context.Context) error {
	return f.Fn(ctx)
}

func (f *Func) StopOnFailure() bool {
	return f.Fatal
}

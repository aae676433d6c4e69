package session

import "context"

// Recorder persists a finished run.
type Recorder interface {
	Record(context.Context, Result) error
}

// RecordFunc adapts a function to the Recorder interface.
type RecordFunc func(context.Context, Result) error

func (f RecordFunc) Record(ctx context.Context, result Result) error {
	return f(ctx, result)
}

package tasks

import (
	"context"
	"errors"

	"github.com/fentz26/beacon/internal/models"
)

// LogSink persists completed tasks. It is called once per completion, in
// completion order.
type LogSink interface {
	Append(ctx context.Context, task models.Task) error
}

// SinkFunc adapts a function to LogSink.
type SinkFunc func(ctx context.Context, task models.Task) error

// Append implements LogSink.
func (f SinkFunc) Append(ctx context.Context, task models.Task) error {
	return f(ctx, task)
}

// MultiSink writes to every sink and joins their errors. A failing sink does
// not stop the others.
type MultiSink []LogSink

// Append implements LogSink.
func (ms MultiSink) Append(ctx context.Context, task models.Task) error {
	var errs []error
	for _, s := range ms {
		if s == nil {
			continue
		}
		if err := s.Append(ctx, task); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

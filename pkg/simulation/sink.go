package simulation

import (
	"context"
	"errors"

	"github.com/cpunion/molt/pkg/types"
)

// EventSink receives committed events synchronously, in emission order.
type EventSink interface {
	Emit(ctx context.Context, ev types.Event) error
}

// SinkFunc adapts a function to EventSink.
type SinkFunc func(ctx context.Context, ev types.Event) error

// Emit calls f.
func (f SinkFunc) Emit(ctx context.Context, ev types.Event) error {
	return f(ctx, ev)
}

// MultiSink fans each event out to every sink in order. All sinks see the
// event even when an earlier one fails; the errors are joined.
type MultiSink []EventSink

// Emit implements EventSink.
func (m MultiSink) Emit(ctx context.Context, ev types.Event) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Emit(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

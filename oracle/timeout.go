package oracle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tbxark/visaflow/types"
)

type timeoutOracle struct {
	next    ExtractionOracle
	timeout time.Duration
}

// WithTimeout bounds every call to o. A call that outlives d fails with
// types.ErrOracleTimeout even when o ignores its context; its late result is discarded.
func WithTimeout(o ExtractionOracle, d time.Duration) ExtractionOracle {
	if d <= 0 {
		return o
	}
	return &timeoutOracle{next: o, timeout: d}
}

func (o *timeoutOracle) ExtractFromDocument(ctx context.Context, docType string, doc Document) (map[string]any, error) {
	return bounded(ctx, o.timeout, func(ctx context.Context) (map[string]any, error) {
		return o.next.ExtractFromDocument(ctx, docType, doc)
	})
}

func (o *timeoutOracle) InterpretUserText(ctx context.Context, text string, sc StageContext) (Interpretation, error) {
	return bounded(ctx, o.timeout, func(ctx context.Context) (Interpretation, error) {
		return o.next.InterpretUserText(ctx, text, sc)
	})
}

type result[T any] struct {
	value T
	err   error
}

func bounded[T any](ctx context.Context, d time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	done := make(chan result[T], 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				var zero T
				done <- result[T]{value: zero, err: fmt.Errorf("%w: recover from panic: %v", types.ErrOracleFailed, r)}
			}
		}()
		v, err := fn(ctx)
		done <- result[T]{value: v, err: err}
	}()

	var zero T
	select {
	case r := <-done:
		if r.err != nil {
			return zero, classify(r.err)
		}
		return r.value, nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return zero, fmt.Errorf("%w: no answer within %s", types.ErrOracleTimeout, d)
		}
		return zero, ctx.Err()
	}
}

// classify makes sure an oracle error belongs to the oracle category.
func classify(err error) error {
	switch {
	case errors.Is(err, types.ErrOracleTimeout), errors.Is(err, types.ErrOracleFailed):
		return err
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %w", types.ErrOracleTimeout, err)
	case errors.Is(err, context.Canceled):
		return err
	default:
		return fmt.Errorf("%w: %w", types.ErrOracleFailed, err)
	}
}

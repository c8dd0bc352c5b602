package rag

import (
	"context"
	"errors"
	"fmt"
	"time"
)

type outcome[T any] struct {
	value T
	err   error
}

// Call runs fn on its own goroutine under a derived context bounded by
// timeout and waits for either its result or the caller's cancellation.
// A zero timeout only inherits the caller's deadline. The derived context is
// cancelled before Call returns, and the result channel is buffered, so an
// abandoned fn can always finish and exit.
func Call[T any](ctx context.Context, timeout time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	var (
		callCtx context.Context
		cancel  context.CancelFunc
	)

	if timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, timeout)
	} else {
		callCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	done := make(chan outcome[T], 1)
	go func() {
		value, err := fn(callCtx)
		done <- outcome[T]{value, err}
	}()

	var zero T
	select {
	case o := <-done:
		if o.err != nil && errors.Is(o.err, context.DeadlineExceeded) && !errors.Is(o.err, ErrTimeout) {
			return zero, fmt.Errorf("%w: %w", ErrTimeout, o.err)
		}

		return o.value, o.err

	case <-callCtx.Done():
		err := callCtx.Err()
		if errors.Is(err, context.DeadlineExceeded) {
			return zero, fmt.Errorf("%w: %w", ErrTimeout, err)
		}

		return zero, err
	}
}

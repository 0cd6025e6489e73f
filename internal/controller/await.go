package controller

import (
	"context"
	"errors"
	"fmt"
	"time"

	"smartTradeBot/internal/ports"
)

// await runs fn on its own goroutine under a per-call timeout and returns as
// soon as either fn finishes or ctx is done, so a hung port call never delays
// cancellation.
func await[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		val T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- result{err: fmt.Errorf("%w: panic in port call: %v", ports.ErrUnknown, r)}
			}
		}()
		v, err := fn(cctx)
		ch <- result{val: v, err: err}
	}()

	select {
	case r := <-ch:
		return r.val, r.err
	case <-cctx.Done():
		var zero T
		if errors.Is(cctx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return zero, fmt.Errorf("%w after %s", ports.ErrTimeout, timeout)
		}
		return zero, fmt.Errorf("%w: %w", ports.ErrContextCanceled, ctx.Err())
	}
}

// sleep waits for d or until ctx is done. It reports false on cancellation.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

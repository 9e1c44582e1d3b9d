// Package task runs one unit of fan-out work in isolation: a per-task
// deadline bounds it and a panic inside it comes back as an error.
package task

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/JakeFAU/wikindex/internal/progress"
)

// ErrPanic wraps a recovered panic value.
var ErrPanic = errors.New("task panicked")

// Run calls fn under a child context that expires after timeout (no extra
// deadline when timeout <= 0). A panic in fn is recovered and returned as an
// error wrapping ErrPanic.
func Run[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (out T, err error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			var zero T
			out = zero
			err = fmt.Errorf("%w: %v", ErrPanic, r)
		}
	}()
	return fn(ctx)
}

// Outcome classifies a Run error for progress reporting.
func Outcome(err error) progress.Outcome {
	switch {
	case err == nil:
		return progress.OutcomeOK
	case errors.Is(err, ErrPanic):
		return progress.OutcomePanic
	case errors.Is(err, context.DeadlineExceeded):
		return progress.OutcomeTimeout
	default:
		return progress.OutcomeFailed
	}
}

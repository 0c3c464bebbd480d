package context

import (
	"context"
	"errors"
	"time"
)

// WithTimeoutOrCancel derives a cancelable child of parent. A positive timeout
// bounds the child; zero or negative means only parent cancellation applies.
func WithTimeoutOrCancel(parent context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, timeout)
}

// IsCanceled returns true if the context is done for any reason
func IsCanceled(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

// IsTimedOut returns true if the context ended because its deadline passed
func IsTimedOut(ctx context.Context) bool {
	return errors.Is(ctx.Err(), context.DeadlineExceeded)
}

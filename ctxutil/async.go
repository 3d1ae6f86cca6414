package ctxutil

import (
	"context"
	"time"
)

// DefaultAsyncTimeout bounds background store work started from a caller context.
const DefaultAsyncTimeout = 5 * time.Second

// WithAsyncContext derives a context that keeps the parent's values (trace id,
// source) but is not cancelled with it, bounded by timeout instead.
func WithAsyncContext(parent context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		timeout = DefaultAsyncTimeout
	}
	return context.WithTimeout(context.WithoutCancel(parent), timeout)
}

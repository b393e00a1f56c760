package safego

import (
	"context"

	"go.uber.org/zap"
)

// Go launches a goroutine with panic recovery. A panicking goroutine
// logs the panic value and exits cleanly instead of taking down the
// process.
func Go(logger *zap.Logger, name string, fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("Goroutine panicked",
					zap.String("goroutine", name),
					zap.Any("panic", r),
					zap.Stack("stack"),
				)
			}
		}()
		fn()
	}()
}

// GoCtx is Go for context-bound loops: fn receives ctx and is expected
// to return when ctx is done.
func GoCtx(ctx context.Context, logger *zap.Logger, name string, fn func(ctx context.Context)) {
	Go(logger, name, func() { fn(ctx) })
}

package goLink

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// taskRunner supervises background work: post-link setup and web-login poll
// loops. Tasks get a context cancelled at Close, panics are recovered, and
// failures are logged and counted instead of vanishing into an unobserved
// goroutine.
type taskRunner struct {
	logger *zap.Logger

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	failures atomic.Uint64
	closed   atomic.Bool
}

func newTaskRunner(logger *zap.Logger) *taskRunner {
	ctx, cancel := context.WithCancel(context.Background())
	return &taskRunner{
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Go runs fn on a supervised goroutine. The context passed to fn is
// cancelled when the runner closes; fn must honor it at every suspension
// point. Returns false when the runner is already closed.
func (r *taskRunner) Go(name string, fn func(ctx context.Context) error) bool {
	if r == nil || r.closed.Load() {
		return false
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer func() {
			if rec := recover(); rec != nil {
				r.failures.Add(1)
				r.logger.Error("background task panicked",
					zap.String("task", name),
					zap.String("panic", fmt.Sprint(rec)))
			}
		}()

		if err := fn(r.ctx); err != nil && r.ctx.Err() == nil {
			r.failures.Add(1)
			r.logger.Warn("background task failed",
				zap.String("task", name), zap.Error(err))
		}
	}()
	return true
}

// Failures reports the number of failed or panicked tasks since start.
func (r *taskRunner) Failures() uint64 {
	if r == nil {
		return 0
	}
	return r.failures.Load()
}

// Close cancels all running tasks and waits for them to finish.
func (r *taskRunner) Close() {
	if r == nil || !r.closed.CompareAndSwap(false, true) {
		return
	}
	r.cancel()
	r.wg.Wait()
}

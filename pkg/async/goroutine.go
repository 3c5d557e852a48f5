package async

import (
	"context"
	"runtime/debug"
	"sync"
	"time"

	"github.com/platinummonkey/entitle/pkg/observability"
)

// Group runs best-effort background tasks after a request has committed.
// Each task gets its own timeout, a context detached from the caller's
// cancellation, and panic recovery. Wait blocks until every task has finished.
type Group struct {
	logger *observability.Logger
	wg     sync.WaitGroup
}

// NewGroup creates a task group that logs failures to logger
func NewGroup(logger *observability.Logger) *Group {
	if logger == nil {
		logger = observability.GetLogger(context.Background())
	}
	return &Group{logger: logger}
}

// Go runs fn in a goroutine. Errors and panics are logged and never propagated.
//
//	group.Go(ctx, 5*time.Second, "owner transfer notification", func(ctx context.Context) error {
//		return notifier.Send(ctx, msg)
//	})
func (g *Group) Go(parent context.Context, timeout time.Duration, taskName string, fn func(context.Context) error) {
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()

		ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), timeout)
		defer cancel()

		defer func() {
			if r := recover(); r != nil {
				g.logger.WithField("task", taskName).
					WithField("panic", r).
					WithField("stack", string(debug.Stack())).
					Error("PANIC in background task")
			}
		}()

		if err := fn(ctx); err != nil {
			g.logger.WithError(err).WithField("task", taskName).Warn("Background task failed")
		}
	}()
}

// Wait blocks until all started tasks return
func (g *Group) Wait() {
	g.wg.Wait()
}

// WaitTimeout waits for running tasks up to timeout. Reports whether they all finished.
func (g *Group) WaitTimeout(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}

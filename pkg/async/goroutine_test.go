package async

import (
	"bytes"
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/platinummonkey/entitle/pkg/observability"
	"github.com/stretchr/testify/assert"
)

func newTestGroup() (*Group, *bytes.Buffer) {
	var buf bytes.Buffer
	return NewGroup(observability.NewLogger(observability.DebugLevel, &buf)), &buf
}

func TestGroup_RunsTasks(t *testing.T) {
	g, _ := newTestGroup()

	var count int32
	for i := 0; i < 5; i++ {
		g.Go(context.Background(), time.Second, "count", func(ctx context.Context) error {
			atomic.AddInt32(&count, 1)
			return nil
		})
	}
	g.Wait()

	assert.Equal(t, int32(5), atomic.LoadInt32(&count))
}

func TestGroup_LogsErrors(t *testing.T) {
	g, buf := newTestGroup()

	g.Go(context.Background(), time.Second, "send mail", func(ctx context.Context) error {
		return errors.New("relay unavailable")
	})
	g.Wait()

	assert.Contains(t, buf.String(), "relay unavailable")
	assert.Contains(t, buf.String(), "send mail")
}

func TestGroup_RecoversPanics(t *testing.T) {
	g, buf := newTestGroup()

	assert.NotPanics(t, func() {
		g.Go(context.Background(), time.Second, "explode", func(ctx context.Context) error {
			panic("boom")
		})
		g.Wait()
	})
	assert.Contains(t, buf.String(), "PANIC in background task")
}

func TestGroup_DetachedFromParentCancellation(t *testing.T) {
	g, _ := newTestGroup()

	parent, cancel := context.WithCancel(context.Background())
	cancel()

	var ctxErr error
	g.Go(parent, time.Second, "detached", func(ctx context.Context) error {
		ctxErr = ctx.Err()
		return nil
	})
	g.Wait()

	assert.NoError(t, ctxErr)
}

func TestGroup_Timeout(t *testing.T) {
	g, _ := newTestGroup()

	var ctxErr error
	g.Go(context.Background(), 10*time.Millisecond, "slow", func(ctx context.Context) error {
		<-ctx.Done()
		ctxErr = ctx.Err()
		return ctxErr
	})
	g.Wait()

	assert.ErrorIs(t, ctxErr, context.DeadlineExceeded)
}

func TestGroup_WaitTimeout(t *testing.T) {
	g, _ := newTestGroup()

	release := make(chan struct{})
	g.Go(context.Background(), time.Second, "blocked", func(ctx context.Context) error {
		<-release
		return nil
	})

	assert.False(t, g.WaitTimeout(10*time.Millisecond))
	close(release)
	assert.True(t, g.WaitTimeout(time.Second))
}

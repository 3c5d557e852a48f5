package jobs

import (
	"bytes"
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/platinummonkey/entitle/pkg/observability"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeExpirer struct {
	calls int32
	err   error
}

func (f *fakeExpirer) ExpireInvitations(ctx context.Context) (int64, error) {
	atomic.AddInt32(&f.calls, 1)
	return 2, f.err
}

type fakeReconciler struct {
	calls int32
	err   error
}

func (f *fakeReconciler) Reconcile(ctx context.Context) (int, error) {
	atomic.AddInt32(&f.calls, 1)
	return 1, f.err
}

func newTestScheduler(opts ...Option) (*Scheduler, *observability.Metrics, *bytes.Buffer) {
	var buf bytes.Buffer
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	return NewScheduler(observability.NewLogger(observability.DebugLevel, &buf), metrics, opts...), metrics, &buf
}

func TestScheduler_RunOnce(t *testing.T) {
	s, metrics, buf := newTestScheduler()
	expirer := &fakeExpirer{}
	reconciler := &fakeReconciler{}

	require.NoError(t, s.Add(ExpireInvitationsJob, "*/15 * * * *", ExpireInvitations(expirer)))
	require.NoError(t, s.Add(ReconcileTiersJob, "0 * * * *", ReconcileTiers(reconciler)))

	require.NoError(t, s.RunOnce(context.Background()))
	assert.Equal(t, int32(1), expirer.calls)
	assert.Equal(t, int32(1), reconciler.calls)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.JobRunsTotal.WithLabelValues(ExpireInvitationsJob, "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.JobRunsTotal.WithLabelValues(ReconcileTiersJob, "success")))
	assert.Contains(t, buf.String(), "Job completed")
}

func TestScheduler_RunOnceCollectsFailures(t *testing.T) {
	s, metrics, _ := newTestScheduler()
	expirer := &fakeExpirer{err: errors.New("database down")}
	reconciler := &fakeReconciler{err: errors.New("provider down")}

	require.NoError(t, s.Add(ExpireInvitationsJob, "*/15 * * * *", ExpireInvitations(expirer)))
	require.NoError(t, s.Add(ReconcileTiersJob, "0 * * * *", ReconcileTiers(reconciler)))

	err := s.RunOnce(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expire_invitations: database down")
	assert.Contains(t, err.Error(), "reconcile_tiers: provider down")

	// a failing job does not stop the next one
	assert.Equal(t, int32(1), reconciler.calls)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.JobRunsTotal.WithLabelValues(ReconcileTiersJob, "failure")))
}

func TestScheduler_RecoversPanics(t *testing.T) {
	s, _, buf := newTestScheduler()
	require.NoError(t, s.Add("boom", "@hourly", func(ctx context.Context) error {
		panic("nil map")
	}))

	err := s.RunOnce(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "job panicked")
	assert.Contains(t, buf.String(), "Job panicked")
}

func TestScheduler_TimeoutBoundsRun(t *testing.T) {
	s, _, _ := newTestScheduler(WithTimeout(20 * time.Millisecond))
	require.NoError(t, s.Add("slow", "@hourly", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}))

	err := s.RunOnce(context.Background())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestScheduler_RejectsBadSchedule(t *testing.T) {
	s, _, _ := newTestScheduler()

	err := s.Add("bad", "every other tuesday", func(ctx context.Context) error { return nil })
	assert.Error(t, err)
	assert.NoError(t, s.RunOnce(context.Background()))
}

func TestScheduler_StartRunsOnSchedule(t *testing.T) {
	s, _, _ := newTestScheduler()
	var runs int32
	require.NoError(t, s.Add("tick", "@every 1s", func(ctx context.Context) error {
		atomic.AddInt32(&runs, 1)
		return nil
	}))

	s.Start(context.Background())
	assert.Eventually(t, func() bool { return atomic.LoadInt32(&runs) >= 1 }, 3*time.Second, 50*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, s.Stop(ctx))
}

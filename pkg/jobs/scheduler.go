package jobs

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/platinummonkey/entitle/pkg/observability"
	"github.com/robfig/cron/v3"
)

// DefaultTimeout bounds a single job run
const DefaultTimeout = 10 * time.Minute

// Func is the body of a job
type Func func(ctx context.Context) error

type job struct {
	name     string
	schedule string
	run      Func
}

// Scheduler runs named jobs on cron schedules. A run that is still going
// when its next tick fires is skipped, not queued.
type Scheduler struct {
	cron    *cron.Cron
	jobs    []job
	logger  *observability.Logger
	metrics *observability.Metrics
	timeout time.Duration

	mu  sync.Mutex
	ctx context.Context
}

// Option configures a Scheduler
type Option func(*Scheduler)

// WithTimeout overrides DefaultTimeout
func WithTimeout(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// NewScheduler creates an empty scheduler
func NewScheduler(logger *observability.Logger, metrics *observability.Metrics, opts ...Option) *Scheduler {
	if logger == nil {
		logger = observability.GetLogger(context.Background())
	}
	s := &Scheduler{
		logger:  logger,
		metrics: metrics,
		timeout: DefaultTimeout,
		ctx:     context.Background(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.cron = cron.New(cron.WithChain(cron.SkipIfStillRunning(cronLogger{logger})))
	return s
}

// Add registers a job under a standard five-field cron schedule
func (s *Scheduler) Add(name, schedule string, run Func) error {
	j := job{name: name, schedule: schedule, run: run}
	if _, err := s.cron.AddFunc(schedule, func() {
		s.mu.Lock()
		ctx := s.ctx
		s.mu.Unlock()
		_ = s.run(ctx, j)
	}); err != nil {
		return fmt.Errorf("failed to schedule %s: %w", name, err)
	}
	s.jobs = append(s.jobs, j)
	return nil
}

// Start begins running jobs on their schedules. Runs derive from ctx.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()

	for _, j := range s.jobs {
		s.logger.WithFields(map[string]interface{}{
			"job":      j.name,
			"schedule": j.schedule,
		}).Info("Job scheduled")
	}
	s.cron.Start()
}

// Stop stops scheduling and waits for running jobs until ctx is done
func (s *Scheduler) Stop(ctx context.Context) error {
	stopped := s.cron.Stop()
	select {
	case <-stopped.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunOnce runs every registered job once, in registration order, and
// returns all failures joined
func (s *Scheduler) RunOnce(ctx context.Context) error {
	var errs []error
	for _, j := range s.jobs {
		if err := s.run(ctx, j); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", j.name, err))
		}
	}
	return errors.Join(errs...)
}

func (s *Scheduler) run(parent context.Context, j job) (err error) {
	ctx, cancel := context.WithTimeout(parent, s.timeout)
	defer cancel()

	log := s.logger.WithField("job", j.name)
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			log.WithFields(map[string]interface{}{
				"panic": fmt.Sprintf("%v", r),
				"stack": string(debug.Stack()),
			}).Error("Job panicked")
			err = fmt.Errorf("job panicked: %v", r)
		}

		s.metrics.RecordJobRun(j.name, err)
		log = log.WithField("duration_ms", time.Since(start).Milliseconds())
		if err != nil {
			log.WithError(err).Error("Job failed")
			return
		}
		log.Info("Job completed")
	}()

	log.Debug("Job started")
	return j.run(ctx)
}

// cronLogger adapts our logger to cron's logging interface
type cronLogger struct {
	logger *observability.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.WithFields(fields(keysAndValues)).Debug(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.WithFields(fields(keysAndValues)).WithError(err).Error(msg)
}

func fields(keysAndValues []interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		out[fmt.Sprint(keysAndValues[i])] = keysAndValues[i+1]
	}
	return out
}

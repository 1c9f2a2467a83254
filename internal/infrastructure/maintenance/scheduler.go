// Package maintenance runs the periodic sweeps that keep in-memory limiter, token
// and policy window state bounded.
package maintenance

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/turtacn/accessgate/internal/infrastructure/monitoring"
	"github.com/turtacn/accessgate/pkg/errors"
	"github.com/turtacn/accessgate/pkg/logger"
)

// Job is one periodic sweep. Run returns the number of entries it removed.
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) int
}

// Scheduler runs jobs on a cron schedule. Overlapping runs of the same job are skipped.
type Scheduler struct {
	cron    *cron.Cron
	jobs    []Job
	metrics *monitoring.Metrics
	log     logger.Logger

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	started bool
}

// NewScheduler validates jobs and registers them. metrics may be nil.
func NewScheduler(jobs []Job, metrics *monitoring.Metrics, log logger.Logger) (*Scheduler, error) {
	log = log.WithComponent("maintenance")
	cl := cronLogger{log: log}
	s := &Scheduler{
		cron:    cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl))),
		metrics: metrics,
		log:     log,
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	for _, job := range jobs {
		if job.Name == "" || job.Run == nil {
			return nil, errors.ErrInvalidConfig("maintenance job needs a name and a run function")
		}
		if job.Interval <= 0 {
			return nil, errors.ErrInvalidConfig(fmt.Sprintf("maintenance job %q: interval must be positive", job.Name))
		}
		job := job
		if _, err := s.cron.AddFunc("@every "+job.Interval.String(), func() { s.run(s.ctx, job) }); err != nil {
			return nil, errors.ErrInvalidConfig(fmt.Sprintf("maintenance job %q", job.Name)).WithCause(err)
		}
		s.jobs = append(s.jobs, job)
	}
	return s, nil
}

// Start begins running jobs in the background.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	s.cron.Start()
	s.log.Info(context.Background(), "Maintenance scheduler started", logger.Int("jobs", len(s.jobs)))
}

// Stop cancels running jobs and waits for them, or for ctx to end.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.cancel()
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunNow runs every job once, synchronously, and returns the removed counts by job name.
func (s *Scheduler) RunNow(ctx context.Context) map[string]int {
	removed := make(map[string]int, len(s.jobs))
	for _, job := range s.jobs {
		removed[job.Name] = s.run(ctx, job)
	}
	return removed
}

func (s *Scheduler) run(ctx context.Context, job Job) int {
	start := time.Now()
	removed := job.Run(ctx)
	if s.metrics != nil {
		s.metrics.RecordSweep(job.Name, removed)
	}
	s.log.Debug(ctx, "Maintenance sweep finished",
		logger.String("job", job.Name),
		logger.Int("removed", removed),
		logger.Duration("elapsed", time.Since(start)),
	)
	return removed
}

// cronLogger adapts logger.Logger to cron.Logger.
type cronLogger struct {
	log logger.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug(context.Background(), "cron: "+msg, fields(keysAndValues)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error(context.Background(), "cron: "+msg, err, fields(keysAndValues)...)
}

func fields(keysAndValues []interface{}) []logger.Field {
	out := make([]logger.Field, 0, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		key, ok := keysAndValues[i].(string)
		if !ok {
			key = fmt.Sprint(keysAndValues[i])
		}
		out = append(out, logger.Any(key, keysAndValues[i+1]))
	}
	return out
}

// Sweeper is implemented by components that prune idle in-memory state.
type Sweeper interface {
	Cleanup() int
}

// TokenSweeper prunes expired refresh records and revocation entries.
type TokenSweeper interface {
	CleanupExpired(ctx context.Context) int
}

// StandardJobs returns the limiter, token and policy-window sweeps.
func StandardJobs(limiter Sweeper, limiterEvery time.Duration, tokens TokenSweeper, tokensEvery time.Duration, windows Sweeper) []Job {
	return []Job{
		{Name: "rate_limiter", Interval: limiterEvery, Run: func(context.Context) int { return limiter.Cleanup() }},
		{Name: "tokens", Interval: tokensEvery, Run: tokens.CleanupExpired},
		{Name: "policy_windows", Interval: limiterEvery, Run: func(context.Context) int { return windows.Cleanup() }},
	}
}

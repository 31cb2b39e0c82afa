package queue

import (
	"context"
	"time"

	"github.com/facebookgo/clock"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/outreach-engine/internal/metrics"
	"github.com/sells-group/outreach-engine/internal/resilience"
	"github.com/sells-group/outreach-engine/internal/store"
)

// Handler processes one claimed job. Returning nil completes the job.
// A transient error reschedules it; a permanent error fails it outright.
type Handler func(ctx context.Context, job store.JobRecord) error

// RetryAfterError lets a handler pick its own retry delay instead of the
// runner's exponential schedule. Soft bounce retries use fixed 1h/2h/4h gaps.
type RetryAfterError struct {
	After time.Duration
	Err   error
}

func (e *RetryAfterError) Error() string { return e.Err.Error() }
func (e *RetryAfterError) Unwrap() error { return e.Err }

// RetryAfter wraps err so the runner reschedules the job after the given delay.
func RetryAfter(err error, after time.Duration) error {
	return &RetryAfterError{After: after, Err: err}
}

// RunnerConfig tunes the polling worker loop.
type RunnerConfig struct {
	PollInterval time.Duration
	BatchSize    int
	Concurrency  int
	BaseBackoff  time.Duration
	MaxBackoff   time.Duration
}

func DefaultRunnerConfig() RunnerConfig {
	return RunnerConfig{
		PollInterval: 5 * time.Second,
		BatchSize:    20,
		Concurrency:  4,
		BaseBackoff:  30 * time.Second,
		MaxBackoff:   30 * time.Minute,
	}
}

// Runner polls the jobs table and dispatches claimed jobs to registered
// handlers with bounded concurrency.
type Runner struct {
	store    store.Store
	clock    clock.Clock
	cfg      RunnerConfig
	handlers map[string]Handler
	logger   *zap.Logger
}

func NewRunner(st store.Store, clk clock.Clock, cfg RunnerConfig) *Runner {
	if clk == nil {
		clk = clock.New()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 20
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = 30 * time.Second
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 30 * time.Minute
	}
	return &Runner{
		store:    st,
		clock:    clk,
		cfg:      cfg,
		handlers: make(map[string]Handler),
		logger:   zap.L().Named("queue"),
	}
}

// Register binds a handler to a job type. Must be called before Run.
func (r *Runner) Register(jobType string, handler Handler) {
	r.handlers[jobType] = handler
}

// Run polls until the context is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	ticker := r.clock.Ticker(r.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if err := r.Tick(ctx); err != nil {
			r.logger.Warn("tick failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Tick claims and processes one batch per registered job type. Exported so
// tests and the HTTP trigger can drive the runner without the poll loop.
func (r *Runner) Tick(ctx context.Context) error {
	for jobType, handler := range r.handlers {
		jobs, err := r.store.ClaimDueJobs(ctx, jobType, r.clock.Now(), r.cfg.BatchSize)
		if err != nil {
			return eris.Wrapf(err, "queue: claim %s", jobType)
		}
		if len(jobs) == 0 {
			continue
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(r.cfg.Concurrency)
		for _, job := range jobs {
			g.Go(func() error {
				r.process(gctx, job, handler)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
	}
	return nil
}

func (r *Runner) process(ctx context.Context, job store.JobRecord, handler Handler) {
	started := r.clock.Now()
	err := handler(ctx, job)
	metrics.JobDuration.WithLabelValues(job.Type).Observe(r.clock.Now().Sub(started).Seconds())

	switch {
	case err == nil:
		if cerr := r.store.CompleteJob(ctx, job.ID); cerr != nil {
			r.logger.Error("complete job", zap.String("job_id", job.ID), zap.Error(cerr))
		}
		metrics.JobsProcessed.WithLabelValues(job.Type, "done").Inc()

	case resilience.IsPermanent(err) || job.Attempts >= job.MaxAttempts:
		if ferr := r.store.FailJob(ctx, job.ID, err.Error()); ferr != nil {
			r.logger.Error("fail job", zap.String("job_id", job.ID), zap.Error(ferr))
		}
		metrics.JobsProcessed.WithLabelValues(job.Type, "failed").Inc()
		r.logger.Warn("job failed",
			zap.String("job_id", job.ID),
			zap.String("type", job.Type),
			zap.Int("attempts", job.Attempts),
			zap.Error(err))

	default:
		delay := r.backoffFor(job.Attempts)
		var ra *RetryAfterError
		if eris.As(err, &ra) {
			delay = ra.After
		}
		nextRun := r.clock.Now().UTC().Add(delay)
		if rerr := r.store.RetryJob(ctx, job.ID, err.Error(), nextRun); rerr != nil {
			r.logger.Error("retry job", zap.String("job_id", job.ID), zap.Error(rerr))
		}
		metrics.JobsProcessed.WithLabelValues(job.Type, "retried").Inc()
		r.logger.Info("job retried",
			zap.String("job_id", job.ID),
			zap.String("type", job.Type),
			zap.Int("attempts", job.Attempts),
			zap.Duration("delay", delay))
	}
}

// backoffFor doubles the base delay per prior attempt, capped at MaxBackoff.
func (r *Runner) backoffFor(attempts int) time.Duration {
	delay := r.cfg.BaseBackoff
	for i := 1; i < attempts; i++ {
		delay *= 2
		if delay >= r.cfg.MaxBackoff {
			return r.cfg.MaxBackoff
		}
	}
	return delay
}

// Package scheduler runs the background jobs: billing, dunning,
// payroll, reconciliation and housekeeping. Every job run is guarded by
// a distributed lease so multiple instances never execute the same job
// concurrently, and every outcome lands in the job health store.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/patronhq/payment-service/internal/domain"
	"github.com/patronhq/payment-service/internal/domain/ports"
	"github.com/patronhq/payment-service/pkg/observability"
	"github.com/patronhq/payment-service/pkg/timeutil"
)

// Job is one scheduled unit of work. When ShouldRun is nil the job runs
// on every tick; otherwise it gates on the current time (payroll days,
// nightly hours).
type Job struct {
	Name      string
	Interval  time.Duration
	LeaseTTL  time.Duration
	ShouldRun func(now time.Time) bool
	Run       func(ctx context.Context) error
}

// Runner drives the job set.
type Runner struct {
	locker ports.Locker
	health ports.JobHealthStore
	logger ports.Logger
	jobs   []Job

	// noLease disables distributed leases, for tests and single-node
	// development.
	noLease bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRunner creates a scheduler over the given jobs.
func NewRunner(locker ports.Locker, health ports.JobHealthStore, logger ports.Logger, noLease bool, jobs []Job) *Runner {
	return &Runner{
		locker:  locker,
		health:  health,
		logger:  logger,
		jobs:    jobs,
		noLease: noLease,
	}
}

// Start launches one ticker goroutine per job.
func (r *Runner) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)
	for _, job := range r.jobs {
		r.wg.Add(1)
		go r.loop(ctx, job)
	}
	r.logger.Info("scheduler started", ports.Int("jobs", len(r.jobs)))
}

// Stop cancels all job loops and waits for in-flight runs.
func (r *Runner) Stop(ctx context.Context) error {
	if r.cancel != nil {
		r.cancel()
	}
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Runner) loop(ctx context.Context, job Job) {
	defer r.wg.Done()

	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := timeutil.Now()
			if job.ShouldRun != nil && !job.ShouldRun(now) {
				continue
			}
			r.RunJob(ctx, job)
		}
	}
}

// RunJob executes one job under its lease and records the outcome.
// Exposed so the cron trigger endpoints can force a run.
func (r *Runner) RunJob(ctx context.Context, job Job) {
	if !r.noLease {
		ttl := job.LeaseTTL
		if ttl == 0 {
			ttl = job.Interval
		}
		lock, err := r.locker.Acquire(ctx, ports.JobLockKey(job.Name), ttl)
		if err != nil {
			if domain.GetErrorCode(err) == domain.ErrorCodeLockNotAcquired {
				observability.RecordJobRun(job.Name, "lock_missed", 0)
				return
			}
			r.logger.Error("job lease failed", ports.String("job", job.Name), ports.Err(err))
			return
		}
		defer func() {
			if rerr := lock.Release(context.WithoutCancel(ctx)); rerr != nil {
				r.logger.Warn("job lease release failed", ports.String("job", job.Name), ports.Err(rerr))
			}
		}()
	}

	start := time.Now()
	err := job.Run(ctx)
	elapsed := time.Since(start)

	outcome := "success"
	if err != nil {
		outcome = "error"
		r.logger.Error("job failed",
			ports.String("job", job.Name),
			ports.Duration("elapsed", elapsed),
			ports.Err(err))
	} else {
		r.logger.Info("job completed",
			ports.String("job", job.Name),
			ports.Duration("elapsed", elapsed))
	}
	observability.RecordJobRun(job.Name, outcome, elapsed)

	if r.health != nil {
		rec := &ports.JobRunRecord{
			Name:       job.Name,
			LastRunAt:  timeutil.Now(),
			DurationMS: elapsed.Milliseconds(),
			Success:    err == nil,
		}
		if herr := r.health.RecordRun(context.WithoutCancel(ctx), rec); herr != nil {
			r.logger.Warn("job health record failed", ports.String("job", job.Name), ports.Err(herr))
		}
	}
}

// JobNames returns the configured job names in registration order.
func (r *Runner) JobNames() []string {
	names := make([]string, 0, len(r.jobs))
	for _, job := range r.jobs {
		names = append(names, job.Name)
	}
	return names
}

// Find returns the configured job with the given name, for manual
// trigger endpoints.
func (r *Runner) Find(name string) (Job, bool) {
	for _, job := range r.jobs {
		if job.Name == name {
			return job, true
		}
	}
	return Job{}, false
}

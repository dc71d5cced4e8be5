// internal/app/system/tasks/runner.go
package tasks

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Job is a named unit of background work scheduled by cron spec.
type Job struct {
	Name string
	Spec string // standard 5-field cron expression, evaluated in UTC
	Run  func(ctx context.Context) error
}

// Runner schedules jobs on a shared cron instance. Each tick runs with a
// bounded context so a wedged job cannot pile up behind itself forever.
type Runner struct {
	cron    *cron.Cron
	logger  *zap.Logger
	timeout time.Duration
}

// NewRunner creates a runner. All schedules evaluate in UTC.
func NewRunner(logger *zap.Logger, jobTimeout time.Duration) *Runner {
	if jobTimeout <= 0 {
		jobTimeout = 5 * time.Minute
	}
	return &Runner{
		cron:    cron.New(cron.WithLocation(time.UTC)),
		logger:  logger,
		timeout: jobTimeout,
	}
}

// Register adds a job to the schedule. Registration errors are
// configuration errors and should fail startup.
func (r *Runner) Register(job Job) error {
	_, err := r.cron.AddFunc(job.Spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		defer cancel()

		start := time.Now()
		if err := job.Run(ctx); err != nil {
			r.logger.Error("background job failed",
				zap.String("job", job.Name),
				zap.Duration("elapsed", time.Since(start)),
				zap.Error(err))
			return
		}
		r.logger.Debug("background job completed",
			zap.String("job", job.Name),
			zap.Duration("elapsed", time.Since(start)))
	})
	if err != nil {
		return err
	}
	r.logger.Info("background job registered",
		zap.String("job", job.Name),
		zap.String("spec", job.Spec))
	return nil
}

// Start begins executing scheduled jobs in their own goroutines.
func (r *Runner) Start() {
	r.cron.Start()
}

// Stop halts scheduling and waits for running jobs to finish.
func (r *Runner) Stop(ctx context.Context) error {
	done := r.cron.Stop().Done()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

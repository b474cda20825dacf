// Package sched wires the recurring sweeps onto a UTC cron runner.
package sched

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/launchindex/indexer/internal/indexer"
)

// Dispatcher is the submission side the scheduler drives.
type Dispatcher interface {
	SweepPending(ctx context.Context) (int, error)
	ProcessDue(ctx context.Context) (int, error)
}

// Verifier is the verification side the scheduler drives.
type Verifier interface {
	RunFreshChecks(ctx context.Context) (int, error)
	RunStagedChecks(ctx context.Context) (int, error)
	SweepRecredits(ctx context.Context) (int, error)
}

// QuotaResetter resets daily credential quotas.
type QuotaResetter interface {
	ResetDaily(ctx context.Context, day time.Time) (int, error)
}

// Config holds the cron expressions, all evaluated in UTC.
type Config struct {
	QuotaReset    string
	ProcessQueue  string
	SweepPending  string
	FreshCheck    string
	StagedCheck   string
	RecreditSweep string
}

// Scheduler owns the cron runner.
type Scheduler struct {
	cron   *cron.Cron
	logger *zap.Logger
}

// New builds a Scheduler with every sweep registered. An invalid cron
// expression fails construction rather than silently skipping the job.
func New(cfg Config, disp Dispatcher, verifier Verifier, quotas QuotaResetter,
	clock indexer.Clock, logger *zap.Logger) (*Scheduler, error) {
	// Jobs never overlap themselves; a slow verification pass skips the
	// next tick instead of running twice.
	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
	s := &Scheduler{cron: c, logger: logger}

	jobs := []struct {
		name string
		spec string
		run  func(ctx context.Context) (int, error)
	}{
		{"quota_reset", cfg.QuotaReset, func(ctx context.Context) (int, error) {
			return quotas.ResetDaily(ctx, clock.Now())
		}},
		{"process_queue", cfg.ProcessQueue, disp.ProcessDue},
		{"sweep_pending", cfg.SweepPending, disp.SweepPending},
		{"fresh_check", cfg.FreshCheck, verifier.RunFreshChecks},
		{"staged_check", cfg.StagedCheck, verifier.RunStagedChecks},
		{"recredit_sweep", cfg.RecreditSweep, verifier.SweepRecredits},
	}
	for _, job := range jobs {
		if job.spec == "" {
			continue
		}
		if _, err := c.AddFunc(job.spec, s.wrap(job.name, job.run)); err != nil {
			return nil, fmt.Errorf("register %s (%q): %w", job.name, job.spec, err)
		}
	}
	return s, nil
}

func (s *Scheduler) wrap(name string, run func(ctx context.Context) (int, error)) func() {
	return func() {
		start := time.Now()
		n, err := run(context.Background())
		if err != nil {
			s.logger.Error("scheduled job failed",
				zap.String("job", name), zap.Error(err))
			return
		}
		s.logger.Debug("scheduled job finished",
			zap.String("job", name),
			zap.Int("processed", n),
			zap.Duration("elapsed", time.Since(start)))
	}
}

// Start launches the cron runner in its own goroutine.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts scheduling and returns a context that closes once running jobs
// finish.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

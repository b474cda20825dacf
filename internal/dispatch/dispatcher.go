// Package dispatch claims pending addresses and drives their channel
// submissions through the delayed task queue.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/launchindex/indexer/internal/channel"
	"github.com/launchindex/indexer/internal/credential"
	"github.com/launchindex/indexer/internal/indexer"
	"github.com/launchindex/indexer/internal/metrics"
)

// Config governs the dispatcher.
type Config struct {
	Workers        int
	BatchSize      int
	LockTTL        time.Duration
	MaxAttempts    int
	RetryBase      time.Duration
	RetryMax       time.Duration
	ChannelTimeout time.Duration
	PreCheck       bool
}

// Dispatcher owns the submission half of the lifecycle: claiming pending
// addresses (which debits the credit), the optional pre-check, and the
// per-channel attempts with retry and backoff.
type Dispatcher struct {
	cfg      Config
	store    indexer.Store
	queue    indexer.TaskQueue
	registry *channel.Registry
	pool     *credential.Pool
	locker   indexer.Locker
	checker  indexer.Checker
	clock    indexer.Clock
	logger   *zap.Logger
}

// New constructs a Dispatcher. checker may be nil to disable the pre-check
// regardless of configuration.
func New(cfg Config, store indexer.Store, queue indexer.TaskQueue, registry *channel.Registry,
	pool *credential.Pool, locker indexer.Locker, checker indexer.Checker,
	clock indexer.Clock, logger *zap.Logger) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 5 * time.Minute
	}
	if cfg.RetryMax <= 0 {
		cfg.RetryMax = time.Hour
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 2 * time.Minute
	}
	return &Dispatcher{
		cfg:      cfg,
		store:    store,
		queue:    queue,
		registry: registry,
		pool:     pool,
		locker:   locker,
		checker:  checker,
		clock:    clock,
		logger:   logger,
	}
}

// SweepPending claims a batch of pending addresses and enqueues their channel
// tasks. Each claim debits one credit; addresses found in the index during
// the pre-check are marked indexed and refunded instead of submitted.
func (d *Dispatcher) SweepPending(ctx context.Context) (int, error) {
	pending, err := d.store.ListPending(ctx, d.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("list pending: %w", err)
	}
	claimed := 0
	for _, a := range pending {
		if err := ctx.Err(); err != nil {
			return claimed, err
		}
		if err := d.submitOne(ctx, a); err != nil {
			switch {
			case errors.Is(err, indexer.ErrConcurrencyLost):
				metrics.ObserveClaimLost()
			case errors.Is(err, indexer.ErrInsufficientCredit):
				d.logger.Warn("submission blocked on balance",
					zap.String("address_id", a.ID),
					zap.String("project_id", a.ProjectID))
			default:
				d.logger.Error("claim failed",
					zap.String("address_id", a.ID), zap.Error(err))
			}
			continue
		}
		claimed++
	}
	return claimed, nil
}

func (d *Dispatcher) submitOne(ctx context.Context, a indexer.Address) error {
	now := d.clock.Now()
	claimed, err := d.store.ClaimSubmission(ctx, a.ID, now)
	if err != nil {
		return err
	}
	// Resubmissions keep their original debit, so only a first claim bills.
	if !a.CreditDebited {
		metrics.ObserveCreditTransaction(string(indexer.TransactionDebit))
	}

	if d.cfg.PreCheck && d.checker != nil {
		res, checkErr := d.checker.Check(ctx, claimed.URL)
		if checkErr == nil && res.Indexed != nil && *res.Indexed {
			if _, err := d.store.MarkIndexed(ctx, claimed.ID, res, d.clock.Now(), true); err != nil {
				return fmt.Errorf("mark pre-indexed: %w", err)
			}
			metrics.ObserveCreditTransaction(string(indexer.TransactionRefund))
			d.logger.Info("address already indexed, credit returned",
				zap.String("address_id", claimed.ID),
				zap.String("method", res.Method))
			return nil
		}
	}

	tasks := make([]indexer.Task, 0, len(d.registry.Names()))
	for _, name := range d.registry.Names() {
		tasks = append(tasks, indexer.Task{
			AddressID: claimed.ID,
			ProjectID: claimed.ProjectID,
			Channel:   name,
			RunAt:     now.Add(channel.StaggerDelay(name)),
		})
	}
	if err := d.queue.Enqueue(ctx, tasks...); err != nil {
		return fmt.Errorf("enqueue channel tasks: %w", err)
	}
	d.logger.Info("address claimed for submission",
		zap.String("address_id", claimed.ID),
		zap.Int("channels", len(tasks)))
	return nil
}

// ProcessDue pops due channel tasks and runs them on the worker pool.
func (d *Dispatcher) ProcessDue(ctx context.Context) (int, error) {
	now := d.clock.Now()
	tasks, err := d.queue.PopDue(ctx, now, d.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("pop due tasks: %w", err)
	}
	if stats, err := d.queue.Stats(ctx); err == nil {
		metrics.SetQueueDepth("submit", "eligible", stats.Eligible)
		metrics.SetQueueDepth("submit", "delayed", stats.Delayed)
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.cfg.Workers)
	for _, task := range tasks {
		g.Go(func() error {
			metrics.IncActiveWorkers()
			defer metrics.DecActiveWorkers()
			d.runTask(gctx, task)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return len(tasks), err
	}
	return len(tasks), nil
}

func (d *Dispatcher) runTask(ctx context.Context, task indexer.Task) {
	log := d.logger.With(
		zap.String("address_id", task.AddressID),
		zap.String("channel", task.Channel),
		zap.Int("attempt", task.Attempt))

	acquired, err := d.locker.Acquire(ctx, task.AddressID, d.cfg.LockTTL)
	if err != nil {
		log.Error("acquire lock", zap.Error(err))
		d.requeue(ctx, task, d.clock.Now().Add(30*time.Second))
		return
	}
	if !acquired {
		d.requeue(ctx, task, d.clock.Now().Add(30*time.Second))
		return
	}
	defer func() {
		if err := d.locker.Release(ctx, task.AddressID); err != nil {
			log.Warn("release lock", zap.Error(err))
		}
	}()

	a, err := d.store.GetAddress(ctx, task.AddressID)
	if err != nil {
		if !errors.Is(err, indexer.ErrNotFound) {
			log.Error("load address", zap.Error(err))
		}
		return
	}
	if a.Status.Terminal() || a.IsIndexed {
		return
	}
	project, err := d.store.GetProject(ctx, a.ProjectID)
	if err != nil {
		log.Error("load project", zap.Error(err))
		return
	}

	req := indexer.SubmitRequest{Address: a, Project: project}
	ch, ok := d.registry.Get(task.Channel)
	if !ok {
		log.Warn("channel not registered, dropping task")
		return
	}
	var cred indexer.Credential
	if ch.QuotaGated() {
		cred, err = d.pool.Acquire(ctx, project.CredentialID)
		if errors.Is(err, indexer.ErrQuotaExhausted) {
			metrics.ObserveQuotaExhausted()
			d.requeue(ctx, task, d.clock.Now().Add(time.Hour))
			return
		}
		if err != nil {
			log.Error("acquire credential", zap.Error(err))
			d.requeue(ctx, task, d.clock.Now().Add(time.Hour))
			return
		}
		req.Credential = &cred
	}

	attemptCtx := ctx
	if d.cfg.ChannelTimeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, d.cfg.ChannelTimeout)
		defer cancel()
	}
	res := d.registry.Submit(attemptCtx, task.Channel, req)
	metrics.ObserveSubmission(task.Channel, string(res.Outcome))

	switch res.Outcome {
	case indexer.OutcomeSuccess:
		if err := d.store.RecordAttempt(ctx, a.ID, task.Channel, indexer.AttemptSuccess); err != nil {
			log.Error("record attempt", zap.Error(err))
		}
		d.advanceToIndexing(ctx, a.ID)
		log.Info("channel submission accepted", zap.String("detail", res.Detail))

	case indexer.OutcomeRateLimited:
		// Deferred, not counted against the attempt ceiling.
		if ch.QuotaGated() && req.Credential != nil {
			if err := d.pool.HandleRejection(ctx, req.Credential.ID, res.StatusCode); err != nil {
				log.Error("handle credential rejection", zap.Error(err))
			}
		}
		d.requeue(ctx, task, d.clock.Now().Add(d.backoff(task.Attempt)))
		log.Info("channel rate limited, deferred", zap.String("detail", res.Detail))

	case indexer.OutcomeError:
		if err := d.store.RecordAttempt(ctx, a.ID, task.Channel, indexer.AttemptError); err != nil {
			log.Error("record attempt", zap.Error(err))
		}
		d.advanceToIndexing(ctx, a.ID)
		next := task
		next.Attempt++
		if next.Attempt >= d.cfg.MaxAttempts || indexer.IsPermanent(res.Err) {
			log.Warn("channel submission abandoned",
				zap.String("detail", res.Detail), zap.Error(res.Err))
			return
		}
		d.requeue(ctx, next, d.clock.Now().Add(d.backoff(next.Attempt)))
		log.Warn("channel submission failed, will retry",
			zap.String("detail", res.Detail), zap.Error(res.Err))
	}
}

// advanceToIndexing marks the first channel activity. Losing the race just
// means another task got there first.
func (d *Dispatcher) advanceToIndexing(ctx context.Context, addressID string) {
	err := d.store.AdvanceStatus(ctx, addressID,
		[]indexer.Status{indexer.StatusSubmitted}, indexer.StatusIndexing)
	if err != nil && !errors.Is(err, indexer.ErrConcurrencyLost) {
		d.logger.Error("advance to indexing",
			zap.String("address_id", addressID), zap.Error(err))
	}
}

func (d *Dispatcher) requeue(ctx context.Context, task indexer.Task, runAt time.Time) {
	task.RunAt = runAt
	if err := d.queue.Enqueue(ctx, task); err != nil {
		d.logger.Error("requeue task",
			zap.String("address_id", task.AddressID),
			zap.String("channel", task.Channel),
			zap.Error(err))
	}
}

// backoff doubles per attempt from RetryBase, capped at RetryMax.
func (d *Dispatcher) backoff(attempt int) time.Duration {
	delay := d.cfg.RetryBase
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= d.cfg.RetryMax {
			return d.cfg.RetryMax
		}
	}
	return delay
}

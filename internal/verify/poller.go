package verify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/launchindex/indexer/internal/indexer"
	"github.com/launchindex/indexer/internal/metrics"
)

// Config governs the verification poller.
type Config struct {
	CheckTimeout        time.Duration
	FreshWindow         time.Duration
	RecheckHoldoff      time.Duration
	VerificationWindow  time.Duration
	SweepBatchSize      int
	NotificationTopic   string
	NotificationEnabled bool
}

// CheckerFactory builds the checker chain for one project. A project with a
// verified property gets inspection; everything else falls back to the
// configured global chain.
type CheckerFactory interface {
	ForProject(project indexer.Project) indexer.Checker
}

// Factory is the standard CheckerFactory: per-project inspection first, then
// the custom-search fallback from the shared settings.
type Factory struct {
	store    indexer.CredentialStore
	settings *Settings
	logger   *zap.Logger
}

// NewFactory constructs a Factory reading its fallbacks from settings.
func NewFactory(store indexer.CredentialStore, settings *Settings, logger *zap.Logger) *Factory {
	return &Factory{store: store, settings: settings, logger: logger}
}

// ForProject assembles the project's chain. The inspector picks whichever of
// the project's property or the global default actually covers the URL under
// check, so a mismatched property never produces a bogus FAIL.
func (f *Factory) ForProject(project indexer.Project) indexer.Checker {
	fallbacks := f.settings.Get()
	var properties []string
	if project.GSCProperty != "" {
		properties = append(properties, project.GSCProperty)
	}
	if fallbacks.DefaultGSCProperty != "" {
		properties = append(properties, fallbacks.DefaultGSCProperty)
	}

	var checkers []indexer.Checker
	if len(properties) > 0 {
		var jsonKey []byte
		if project.CredentialID != "" {
			if c, err := f.store.GetCredential(context.Background(), project.CredentialID); err == nil {
				jsonKey = c.JSONKey
			}
		}
		if len(jsonKey) == 0 {
			if creds, err := f.store.ListCredentials(context.Background()); err == nil {
				for _, c := range creds {
					if c.IsActive && len(c.JSONKey) > 0 {
						jsonKey = c.JSONKey
						break
					}
				}
			}
		}
		if len(jsonKey) > 0 {
			checkers = append(checkers, &propertyInspector{properties: properties, jsonKey: jsonKey})
		}
	}
	if fallbacks.CustomSearchAPIKey != "" && fallbacks.CustomSearchCSEID != "" {
		checkers = append(checkers, NewCustomSearch(fallbacks.CustomSearchAPIKey, fallbacks.CustomSearchCSEID))
	}
	return NewChain(f.logger, checkers...)
}

// Poller runs the verification passes. Verification is strictly serialized:
// the mutex admits one check at a time across sweeps and force-checks, to
// stay inside external API budgets.
type Poller struct {
	mu        sync.Mutex
	cfg       Config
	store     indexer.Store
	factory   CheckerFactory
	publisher indexer.Publisher
	clock     indexer.Clock
	logger    *zap.Logger
}

// NewPoller constructs a Poller. publisher may be nil to disable
// notifications regardless of configuration.
func NewPoller(cfg Config, store indexer.Store, factory CheckerFactory,
	publisher indexer.Publisher, clock indexer.Clock, logger *zap.Logger) *Poller {
	if cfg.SweepBatchSize <= 0 {
		cfg.SweepBatchSize = 200
	}
	if cfg.VerificationWindow <= 0 {
		cfg.VerificationWindow = indexer.VerificationWindow
	}
	return &Poller{
		cfg:       cfg,
		store:     store,
		factory:   factory,
		publisher: publisher,
		clock:     clock,
		logger:    logger,
	}
}

// RunFreshChecks verifies recently submitted addresses, skipping anything
// checked inside the holdoff.
func (p *Poller) RunFreshChecks(ctx context.Context) (int, error) {
	now := p.clock.Now()
	return p.runChecks(ctx, indexer.VerificationFilter{
		SubmittedAfter:  now.Add(-p.cfg.FreshWindow),
		NotCheckedSince: now.Add(-p.cfg.RecheckHoldoff),
		Limit:           p.cfg.SweepBatchSize,
	})
}

// RunStagedChecks re-verifies older addresses still inside the verification
// window, at most once a day each.
func (p *Poller) RunStagedChecks(ctx context.Context) (int, error) {
	now := p.clock.Now()
	return p.runChecks(ctx, indexer.VerificationFilter{
		SubmittedAfter:  now.Add(-p.cfg.VerificationWindow),
		SubmittedBefore: now.Add(-p.cfg.FreshWindow),
		NotCheckedSince: now.Add(-24 * time.Hour),
		Limit:           p.cfg.SweepBatchSize,
	})
}

func (p *Poller) runChecks(ctx context.Context, filter indexer.VerificationFilter) (int, error) {
	due, err := p.store.ListForVerification(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("list for verification: %w", err)
	}
	checked := 0
	for _, a := range due {
		if err := ctx.Err(); err != nil {
			return checked, err
		}
		p.verifyOne(ctx, a)
		checked++
	}
	return checked, nil
}

// VerifyAddress runs one immediate check, used by the force-check endpoint.
// Any live address qualifies regardless of its lifecycle position; only
// already-indexed addresses are a no-op.
func (p *Poller) VerifyAddress(ctx context.Context, addressID string) (indexer.Address, error) {
	a, err := p.store.GetAddress(ctx, addressID)
	if err != nil {
		return indexer.Address{}, err
	}
	if a.IsIndexed {
		return a, indexer.ErrAlreadyIndexed
	}
	p.verifyOne(ctx, a)
	return p.store.GetAddress(ctx, addressID)
}

func (p *Poller) verifyOne(ctx context.Context, a indexer.Address) {
	p.mu.Lock()
	defer p.mu.Unlock()

	log := p.logger.With(zap.String("address_id", a.ID), zap.String("url", a.URL))

	project, err := p.store.GetProject(ctx, a.ProjectID)
	if err != nil {
		log.Error("load project", zap.Error(err))
		return
	}
	// Entering verification is advisory; losing the race means another pass
	// already moved the address on.
	err = p.store.AdvanceStatus(ctx, a.ID,
		[]indexer.Status{indexer.StatusSubmitted, indexer.StatusIndexing, indexer.StatusNotIndexed},
		indexer.StatusVerifying)
	if err != nil && !errors.Is(err, indexer.ErrConcurrencyLost) {
		log.Error("advance to verifying", zap.Error(err))
		return
	}

	checkCtx := ctx
	if p.cfg.CheckTimeout > 0 {
		var cancel context.CancelFunc
		checkCtx, cancel = context.WithTimeout(ctx, p.cfg.CheckTimeout)
		defer cancel()
	}
	res, err := p.factory.ForProject(project).Check(checkCtx, a.URL)
	now := p.clock.Now()
	switch {
	case err != nil:
		// Transient: leave the address as is, no check_count bump.
		metrics.ObserveVerification("chain", "error")
		log.Warn("verification check failed", zap.Error(err))

	case res.Indexed == nil:
		metrics.ObserveVerification("chain", "unavailable")
		log.Debug("no verification method available")

	case *res.Indexed:
		updated, markErr := p.store.MarkIndexed(ctx, a.ID, res, now, false)
		if markErr != nil {
			log.Error("mark indexed", zap.Error(markErr))
			return
		}
		metrics.ObserveVerification(res.Method, "indexed")
		log.Info("address confirmed indexed", zap.String("method", res.Method))
		p.notifyIndexed(ctx, updated, project)

	default:
		if markErr := p.store.MarkNotIndexed(ctx, a.ID, res.Method, now); markErr != nil {
			log.Error("mark not indexed", zap.Error(markErr))
			return
		}
		metrics.ObserveVerification(res.Method, "not_indexed")
		log.Info("address confirmed absent", zap.String("method", res.Method))
	}
}

type indexedEvent struct {
	Type      string    `json:"type"`
	AddressID string    `json:"address_id"`
	ProjectID string    `json:"project_id"`
	UserID    string    `json:"user_id"`
	URL       string    `json:"url"`
	Method    string    `json:"method"`
	IndexedAt time.Time `json:"indexed_at"`
}

func (p *Poller) notifyIndexed(ctx context.Context, a indexer.Address, project indexer.Project) {
	if !p.cfg.NotificationEnabled || p.publisher == nil {
		return
	}
	event := indexedEvent{
		Type:      "address_indexed",
		AddressID: a.ID,
		ProjectID: a.ProjectID,
		UserID:    project.UserID,
		URL:       a.URL,
		Method:    a.CheckMethod,
	}
	if a.IndexedAt != nil {
		event.IndexedAt = *a.IndexedAt
	}
	if _, err := p.publisher.Publish(ctx, p.cfg.NotificationTopic, event); err != nil {
		p.logger.Warn("publish indexed notification",
			zap.String("address_id", a.ID), zap.Error(err))
	}
}

// SweepRecredits refunds addresses whose verification window expired without
// the URL reaching the index.
func (p *Poller) SweepRecredits(ctx context.Context) (int, error) {
	cutoff := p.clock.Now().Add(-p.cfg.VerificationWindow)
	due, err := p.store.ListForRecredit(ctx, cutoff, p.cfg.SweepBatchSize)
	if err != nil {
		return 0, fmt.Errorf("list for recredit: %w", err)
	}
	refunded := 0
	for _, a := range due {
		ok, err := p.store.Recredit(ctx, a.ID, "Verification window expired without indexing")
		if err != nil {
			p.logger.Error("recredit address",
				zap.String("address_id", a.ID), zap.Error(err))
			continue
		}
		if ok {
			metrics.ObserveCreditTransaction(string(indexer.TransactionRefund))
			refunded++
		}
	}
	if refunded > 0 {
		p.logger.Info("verification window sweep refunded credits", zap.Int("addresses", refunded))
	}
	return refunded, nil
}

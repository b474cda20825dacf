// Package credential rotates quota-limited external accounts across
// submission workers.
package credential

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/launchindex/indexer/internal/indexer"
)

// Pool hands out credentials for quota-gated channels. Selection favors the
// least-used active credential so daily load spreads evenly; a project with
// a pinned credential always gets that one.
type Pool struct {
	store  indexer.CredentialStore
	logger *zap.Logger
}

// NewPool constructs a Pool.
func NewPool(store indexer.CredentialStore, logger *zap.Logger) *Pool {
	return &Pool{store: store, logger: logger}
}

// Acquire reserves one quota unit and returns the credential to use.
// ErrQuotaExhausted means no credential can serve the attempt today.
func (p *Pool) Acquire(ctx context.Context, pinnedID string) (indexer.Credential, error) {
	// Selection and consumption are separate statements, so a racing worker
	// may drain the selected credential first. Retry against the next pick.
	for attempt := 0; attempt < 3; attempt++ {
		c, err := p.store.NextAvailable(ctx, pinnedID)
		if err != nil {
			return indexer.Credential{}, err
		}
		consumeErr := p.store.ConsumeQuota(ctx, c.ID, 1)
		if consumeErr == nil {
			return c, nil
		}
		if pinnedID != "" {
			return indexer.Credential{}, consumeErr
		}
		if !errors.Is(consumeErr, indexer.ErrQuotaExhausted) {
			return indexer.Credential{}, fmt.Errorf("consume quota: %w", consumeErr)
		}
	}
	return indexer.Credential{}, indexer.ErrQuotaExhausted
}

// HandleRejection disables a credential after an explicit quota or permission
// rejection from the remote service. Other status codes leave it active.
func (p *Pool) HandleRejection(ctx context.Context, id string, statusCode int) error {
	if statusCode != http.StatusTooManyRequests && statusCode != http.StatusForbidden {
		return nil
	}
	if err := p.store.Disable(ctx, id); err != nil {
		return fmt.Errorf("disable credential: %w", err)
	}
	p.logger.Warn("credential disabled after rejection",
		zap.String("credential_id", id),
		zap.Int("status_code", statusCode))
	return nil
}

// ResetDaily zeroes all quota counters for the given day. Safe to run more
// than once; later runs on the same day reset nothing.
func (p *Pool) ResetDaily(ctx context.Context, day time.Time) (int, error) {
	n, err := p.store.ResetQuotas(ctx, day)
	if err != nil {
		return 0, fmt.Errorf("reset quotas: %w", err)
	}
	if n > 0 {
		p.logger.Info("daily credential quotas reset", zap.Int("credentials", n))
	}
	return n, nil
}

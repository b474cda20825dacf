package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/launchindex/indexer/internal/indexer"
)

const credentialColumns = `id, name, email, json_key, daily_quota, used_today,
	is_active, last_reset_at, created_at`

func scanCredential(row rowScanner) (indexer.Credential, error) {
	var c indexer.Credential
	err := row.Scan(&c.ID, &c.Name, &c.Email, &c.JSONKey, &c.DailyQuota,
		&c.UsedToday, &c.IsActive, &c.LastResetAt, &c.CreatedAt)
	return c, err
}

// AddCredential inserts a credential, applying the default quota when unset.
func (s *Store) AddCredential(ctx context.Context, c indexer.Credential) error {
	if c.ID == "" {
		id, err := s.idGen.NewID()
		if err != nil {
			return fmt.Errorf("generate credential id: %w", err)
		}
		c.ID = id
	}
	if c.DailyQuota == 0 {
		c.DailyQuota = indexer.DefaultDailyQuota
	}
	_, err := s.db.Exec(ctx, `
INSERT INTO credentials (id, name, email, json_key, daily_quota, used_today, is_active, created_at)
VALUES ($1, $2, $3, $4, $5, 0, TRUE, $6)`,
		c.ID, c.Name, c.Email, c.JSONKey, c.DailyQuota, s.clock.Now())
	if err != nil {
		return fmt.Errorf("insert credential: %w", err)
	}
	return nil
}

// GetCredential fetches one credential by ID.
func (s *Store) GetCredential(ctx context.Context, id string) (indexer.Credential, error) {
	row := s.db.QueryRow(ctx, `SELECT `+credentialColumns+` FROM credentials WHERE id = $1`, id)
	c, err := scanCredential(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return indexer.Credential{}, fmt.Errorf("credential %s: %w", id, indexer.ErrNotFound)
	}
	if err != nil {
		return indexer.Credential{}, fmt.Errorf("get credential: %w", err)
	}
	return c, nil
}

// ListCredentials returns all credentials ordered by name.
func (s *Store) ListCredentials(ctx context.Context) ([]indexer.Credential, error) {
	rows, err := s.db.Query(ctx, `SELECT `+credentialColumns+` FROM credentials ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	defer rows.Close()
	var out []indexer.Credential
	for rows.Next() {
		c, err := scanCredential(rows)
		if err != nil {
			return nil, fmt.Errorf("scan credential: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate credentials: %w", err)
	}
	return out, nil
}

// RemoveCredential deletes a credential.
func (s *Store) RemoveCredential(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM credentials WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete credential: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("credential %s: %w", id, indexer.ErrNotFound)
	}
	return nil
}

// NextAvailable returns the active credential with the most remaining quota,
// or the pinned one when credentialID is non-empty.
func (s *Store) NextAvailable(ctx context.Context, credentialID string) (indexer.Credential, error) {
	if credentialID != "" {
		c, err := s.GetCredential(ctx, credentialID)
		if err != nil {
			return indexer.Credential{}, err
		}
		if !c.IsActive || c.Remaining() == 0 {
			return indexer.Credential{}, indexer.ErrQuotaExhausted
		}
		return c, nil
	}
	row := s.db.QueryRow(ctx, `
SELECT `+credentialColumns+` FROM credentials
WHERE is_active AND used_today < daily_quota
ORDER BY used_today, id
LIMIT 1`)
	c, err := scanCredential(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return indexer.Credential{}, indexer.ErrQuotaExhausted
	}
	if err != nil {
		return indexer.Credential{}, fmt.Errorf("select credential: %w", err)
	}
	return c, nil
}

// ConsumeQuota increments used_today as one conditional statement, so two
// workers can never push a credential past its daily quota.
func (s *Store) ConsumeQuota(ctx context.Context, id string, n int) error {
	tag, err := s.db.Exec(ctx, `
UPDATE credentials SET used_today = used_today + $2
WHERE id = $1 AND is_active AND used_today + $2 <= daily_quota`, id, n)
	if err != nil {
		return fmt.Errorf("consume quota: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return indexer.ErrQuotaExhausted
	}
	return nil
}

// Disable deactivates a credential until the next quota reset.
func (s *Store) Disable(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx, `UPDATE credentials SET is_active = FALSE WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("disable credential: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("credential %s: %w", id, indexer.ErrNotFound)
	}
	return nil
}

// ResetQuotas zeroes counters once per UTC day; a second run is a no-op.
func (s *Store) ResetQuotas(ctx context.Context, day time.Time) (int, error) {
	tag, err := s.db.Exec(ctx, `
UPDATE credentials SET used_today = 0, is_active = TRUE, last_reset_at = $1
WHERE last_reset_at IS NULL OR last_reset_at < date_trunc('day', $1::timestamptz)`, day.UTC())
	if err != nil {
		return 0, fmt.Errorf("reset quotas: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

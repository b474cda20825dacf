package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/launchindex/indexer/internal/indexer"
)

const addressColumns = `id, project_id, url, domain, status, channels,
	is_indexed, indexed_at, last_checked_at, check_count, check_method,
	indexed_title, indexed_snippet, pre_indexed, verified_not_indexed,
	credit_debited, credit_refunded, submitted_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAddress(row rowScanner) (indexer.Address, error) {
	var (
		a           indexer.Address
		status      string
		channelsRaw []byte
	)
	err := row.Scan(
		&a.ID, &a.ProjectID, &a.URL, &a.Domain, &status, &channelsRaw,
		&a.IsIndexed, &a.IndexedAt, &a.LastCheckedAt, &a.CheckCount, &a.CheckMethod,
		&a.IndexedTitle, &a.IndexedSnippet, &a.PreIndexed, &a.VerifiedNotIndexed,
		&a.CreditDebited, &a.CreditRefunded, &a.SubmittedAt, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return indexer.Address{}, err
	}
	a.Status = indexer.Status(status)
	a.Channels = map[string]indexer.ChannelState{}
	if len(channelsRaw) > 0 {
		if err := json.Unmarshal(channelsRaw, &a.Channels); err != nil {
			return indexer.Address{}, fmt.Errorf("decode channels: %w", err)
		}
	}
	return a, nil
}

func collectAddresses(rows pgx.Rows) ([]indexer.Address, error) {
	defer rows.Close()
	var out []indexer.Address
	for rows.Next() {
		a, err := scanAddress(rows)
		if err != nil {
			return nil, fmt.Errorf("scan address: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate addresses: %w", err)
	}
	return out, nil
}

// CreateAddresses inserts new addresses, skipping URLs the project already has.
func (s *Store) CreateAddresses(ctx context.Context, projectID string, addrs []indexer.Address) (int, error) {
	now := s.clock.Now()
	added := 0
	for _, a := range addrs {
		id := a.ID
		if id == "" {
			var err error
			id, err = s.idGen.NewID()
			if err != nil {
				return added, fmt.Errorf("generate address id: %w", err)
			}
		}
		tag, err := s.db.Exec(ctx, `
INSERT INTO addresses (id, project_id, url, domain, status, channels, created_at, updated_at)
VALUES ($1, $2, $3, $4, 'pending', '{}', $5, $5)
ON CONFLICT (project_id, url) DO NOTHING`,
			id, projectID, a.URL, indexer.DomainOf(a.URL), now)
		if err != nil {
			return added, fmt.Errorf("insert address: %w", err)
		}
		added += int(tag.RowsAffected())
	}
	return added, nil
}

// GetAddress fetches one address by ID.
func (s *Store) GetAddress(ctx context.Context, id string) (indexer.Address, error) {
	row := s.db.QueryRow(ctx, `SELECT `+addressColumns+` FROM addresses WHERE id = $1`, id)
	a, err := scanAddress(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return indexer.Address{}, fmt.Errorf("address %s: %w", id, indexer.ErrNotFound)
	}
	if err != nil {
		return indexer.Address{}, fmt.Errorf("get address: %w", err)
	}
	return a, nil
}

// ListAddresses returns a project's addresses ordered by creation time.
func (s *Store) ListAddresses(ctx context.Context, projectID string, limit, offset int) ([]indexer.Address, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := s.db.Query(ctx, `
SELECT `+addressColumns+` FROM addresses
WHERE ($1 = '' OR project_id = $1)
ORDER BY created_at
LIMIT $2 OFFSET $3`, projectID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list addresses: %w", err)
	}
	return collectAddresses(rows)
}

// ListPending returns pending addresses, oldest first.
func (s *Store) ListPending(ctx context.Context, limit int) ([]indexer.Address, error) {
	rows, err := s.db.Query(ctx, `
SELECT `+addressColumns+` FROM addresses
WHERE status = 'pending'
ORDER BY created_at
LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending: %w", err)
	}
	return collectAddresses(rows)
}

// ListForVerification selects addresses due a verification pass.
func (s *Store) ListForVerification(ctx context.Context, f indexer.VerificationFilter) ([]indexer.Address, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(ctx, `
SELECT `+addressColumns+` FROM addresses
WHERE status IN ('submitted', 'indexing', 'verifying', 'not_indexed')
  AND submitted_at IS NOT NULL
  AND ($1::timestamptz IS NULL OR submitted_at >= $1)
  AND ($2::timestamptz IS NULL OR submitted_at <= $2)
  AND ($3::timestamptz IS NULL OR last_checked_at IS NULL OR last_checked_at <= $3)
ORDER BY submitted_at
LIMIT $4`, nullTime(f.SubmittedAfter), nullTime(f.SubmittedBefore), nullTime(f.NotCheckedSince), limit)
	if err != nil {
		return nil, fmt.Errorf("list for verification: %w", err)
	}
	return collectAddresses(rows)
}

// ListForRecredit selects addresses whose verification window expired.
func (s *Store) ListForRecredit(ctx context.Context, cutoff time.Time, limit int) ([]indexer.Address, error) {
	rows, err := s.db.Query(ctx, `
SELECT `+addressColumns+` FROM addresses
WHERE credit_debited AND NOT credit_refunded AND NOT is_indexed
  AND status IN ('submitted', 'indexing', 'verifying', 'not_indexed')
  AND submitted_at IS NOT NULL AND submitted_at <= $1
ORDER BY submitted_at
LIMIT $2`, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("list for recredit: %w", err)
	}
	return collectAddresses(rows)
}

// ClaimSubmission moves pending to submitted, debiting one credit in the same
// transaction. The row lock serializes racing workers; losers see a status
// that is no longer pending.
func (s *Store) ClaimSubmission(ctx context.Context, addressID string, at time.Time) (indexer.Address, error) {
	var claimed indexer.Address
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		var (
			status  string
			debited bool
			userID  string
		)
		err := tx.QueryRow(ctx, `
SELECT a.status, a.credit_debited, p.user_id
FROM addresses a JOIN projects p ON p.id = a.project_id
WHERE a.id = $1
FOR UPDATE OF a`, addressID).Scan(&status, &debited, &userID)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("address %s: %w", addressID, indexer.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("lock address: %w", err)
		}
		if indexer.Status(status) != indexer.StatusPending {
			return indexer.ErrConcurrencyLost
		}
		if !debited {
			var balance int
			if err := tx.QueryRow(ctx, `
SELECT COALESCE(SUM(amount), 0) FROM credit_transactions WHERE user_id = $1`, userID).Scan(&balance); err != nil {
				return fmt.Errorf("read balance: %w", err)
			}
			if balance < 1 {
				return indexer.ErrInsufficientCredit
			}
			if err := s.insertTransaction(ctx, tx, userID, -1, indexer.TransactionDebit, "URL submission", addressID); err != nil {
				return err
			}
		}
		row := tx.QueryRow(ctx, `
UPDATE addresses
SET status = 'submitted', credit_debited = TRUE, submitted_at = $2, updated_at = $2
WHERE id = $1
RETURNING `+addressColumns, addressID, at)
		claimed, err = scanAddress(row)
		if err != nil {
			return fmt.Errorf("claim address: %w", err)
		}
		return nil
	})
	if err != nil {
		return indexer.Address{}, err
	}
	return claimed, nil
}

// RecordAttempt updates the channel counter and appends to the attempt log.
func (s *Store) RecordAttempt(ctx context.Context, addressID, channel string, status indexer.AttemptStatus) error {
	now := s.clock.Now()
	return s.withTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
UPDATE addresses
SET channels = jsonb_set(
        channels,
        ARRAY[$2],
        jsonb_build_object(
            'attempts', COALESCE((channels -> $2 ->> 'attempts')::int, 0) + 1,
            'last_status', $3::text
        )
    ),
    updated_at = $4
WHERE id = $1`, addressID, channel, string(status), now)
		if err != nil {
			return fmt.Errorf("update channel state: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("address %s: %w", addressID, indexer.ErrNotFound)
		}
		if _, err := tx.Exec(ctx, `
INSERT INTO attempts (address_id, channel, status, at) VALUES ($1, $2, $3, $4)`,
			addressID, channel, string(status), now); err != nil {
			return fmt.Errorf("insert attempt: %w", err)
		}
		return nil
	})
}

// AdvanceStatus conditionally moves the address to a new status.
func (s *Store) AdvanceStatus(ctx context.Context, addressID string, from []indexer.Status, to indexer.Status) error {
	fromStrs := make([]string, len(from))
	for i, f := range from {
		fromStrs[i] = string(f)
	}
	tag, err := s.db.Exec(ctx, `
UPDATE addresses SET status = $2, updated_at = $3
WHERE id = $1 AND status = ANY($4)`,
		addressID, string(to), s.clock.Now(), fromStrs)
	if err != nil {
		return fmt.Errorf("advance status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return indexer.ErrConcurrencyLost
	}
	return nil
}

// MarkIndexed records a positive verification; no-op when already indexed.
func (s *Store) MarkIndexed(ctx context.Context, addressID string, res indexer.CheckResult, at time.Time, refund bool) (indexer.Address, error) {
	var out indexer.Address
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		var (
			indexed  bool
			debited  bool
			refunded bool
			userID   string
		)
		err := tx.QueryRow(ctx, `
SELECT a.is_indexed, a.credit_debited, a.credit_refunded, p.user_id
FROM addresses a JOIN projects p ON p.id = a.project_id
WHERE a.id = $1
FOR UPDATE OF a`, addressID).Scan(&indexed, &debited, &refunded, &userID)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("address %s: %w", addressID, indexer.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("lock address: %w", err)
		}
		if indexed {
			row := tx.QueryRow(ctx, `SELECT `+addressColumns+` FROM addresses WHERE id = $1`, addressID)
			out, err = scanAddress(row)
			if err != nil {
				return fmt.Errorf("reread address: %w", err)
			}
			return nil
		}
		doRefund := refund && debited && !refunded
		if doRefund {
			if err := s.insertTransaction(ctx, tx, userID, 1, indexer.TransactionRefund, "Pre-check: already indexed", addressID); err != nil {
				return err
			}
		}
		row := tx.QueryRow(ctx, `
UPDATE addresses
SET is_indexed = TRUE, status = 'indexed', indexed_at = $2, last_checked_at = $2,
    check_count = check_count + 1, check_method = $3,
    indexed_title = $4, indexed_snippet = $5,
    pre_indexed = pre_indexed OR $6, credit_refunded = credit_refunded OR $7,
    updated_at = $2
WHERE id = $1
RETURNING `+addressColumns, addressID, at, res.Method, res.Title, res.Snippet, refund, doRefund)
		out, err = scanAddress(row)
		if err != nil {
			return fmt.Errorf("mark indexed: %w", err)
		}
		return nil
	})
	if err != nil {
		return indexer.Address{}, err
	}
	return out, nil
}

// MarkNotIndexed records a clean negative check.
func (s *Store) MarkNotIndexed(ctx context.Context, addressID, method string, at time.Time) error {
	tag, err := s.db.Exec(ctx, `
UPDATE addresses
SET status = 'not_indexed', verified_not_indexed = TRUE,
    last_checked_at = $2, check_count = check_count + 1, check_method = $3,
    updated_at = $2
WHERE id = $1 AND NOT is_indexed`, addressID, at, method)
	if err != nil {
		return fmt.Errorf("mark not indexed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Zero rows is either a missing address or one already indexed;
		// only the former is an error.
		var indexed bool
		err := s.db.QueryRow(ctx, `SELECT is_indexed FROM addresses WHERE id = $1`, addressID).Scan(&indexed)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("address %s: %w", addressID, indexer.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("mark not indexed: %w", err)
		}
	}
	return nil
}

// Recredit refunds the credit and moves the address to recredited.
func (s *Store) Recredit(ctx context.Context, addressID, reason string) (bool, error) {
	done := false
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		var (
			status   string
			debited  bool
			refunded bool
			indexed  bool
			userID   string
		)
		err := tx.QueryRow(ctx, `
SELECT a.status, a.credit_debited, a.credit_refunded, a.is_indexed, p.user_id
FROM addresses a JOIN projects p ON p.id = a.project_id
WHERE a.id = $1
FOR UPDATE OF a`, addressID).Scan(&status, &debited, &refunded, &indexed, &userID)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("address %s: %w", addressID, indexer.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("lock address: %w", err)
		}
		if !debited || refunded || indexed || !indexer.Status(status).RecreditEligible() {
			return nil
		}
		if err := s.insertTransaction(ctx, tx, userID, 1, indexer.TransactionRefund, reason, addressID); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `
UPDATE addresses SET status = 'recredited', credit_refunded = TRUE, updated_at = $2
WHERE id = $1`, addressID, s.clock.Now()); err != nil {
			return fmt.Errorf("recredit address: %w", err)
		}
		done = true
		return nil
	})
	return done, err
}

// ResetForResubmit clears channel counters and returns the address to pending.
func (s *Store) ResetForResubmit(ctx context.Context, addressID string) (indexer.Address, error) {
	row := s.db.QueryRow(ctx, `
UPDATE addresses
SET status = 'pending', channels = '{}', is_indexed = FALSE, submitted_at = NULL, updated_at = $2
WHERE id = $1 AND status <> 'indexed'
RETURNING `+addressColumns, addressID, s.clock.Now())
	a, err := scanAddress(row)
	if errors.Is(err, pgx.ErrNoRows) {
		// Either missing or already indexed; tell them apart.
		if _, getErr := s.GetAddress(ctx, addressID); getErr != nil {
			return indexer.Address{}, getErr
		}
		return indexer.Address{}, indexer.ErrAlreadyIndexed
	}
	if err != nil {
		return indexer.Address{}, fmt.Errorf("reset address: %w", err)
	}
	return a, nil
}

// DeleteAddress removes the address, settling any outstanding refund first.
func (s *Store) DeleteAddress(ctx context.Context, addressID string) (bool, error) {
	refunded := false
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		var (
			debited     bool
			refundedCol bool
			indexed     bool
			userID      string
		)
		err := tx.QueryRow(ctx, `
SELECT a.credit_debited, a.credit_refunded, a.is_indexed, p.user_id
FROM addresses a JOIN projects p ON p.id = a.project_id
WHERE a.id = $1
FOR UPDATE OF a`, addressID).Scan(&debited, &refundedCol, &indexed, &userID)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("address %s: %w", addressID, indexer.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("lock address: %w", err)
		}
		if debited && !refundedCol && !indexed {
			if err := s.insertTransaction(ctx, tx, userID, 1, indexer.TransactionRefund, "Address deleted before indexing", addressID); err != nil {
				return err
			}
			refunded = true
		}
		if _, err := tx.Exec(ctx, `DELETE FROM addresses WHERE id = $1`, addressID); err != nil {
			return fmt.Errorf("delete address: %w", err)
		}
		return nil
	})
	return refunded, err
}

func (s *Store) insertTransaction(ctx context.Context, tx pgx.Tx, userID string, amount int, typ indexer.TransactionType, description, addressID string) error {
	id, err := s.idGen.NewID()
	if err != nil {
		return fmt.Errorf("generate transaction id: %w", err)
	}
	if _, err := tx.Exec(ctx, `
INSERT INTO credit_transactions (id, user_id, amount, type, description, address_id, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		id, userID, amount, string(typ), strings.TrimSpace(description), addressID, s.clock.Now()); err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

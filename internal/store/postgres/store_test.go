package postgres

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/launchindex/indexer/internal/indexer"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

type seqIDs struct{ n int }

func (g *seqIDs) NewID() (string, error) {
	g.n++
	return fmt.Sprintf("id-%d", g.n), nil
}

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface, time.Time) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	now := time.Unix(1700000000, 0).UTC()
	store, err := NewWithDB(mock, fixedClock{t: now}, &seqIDs{})
	require.NoError(t, err)
	return store, mock, now
}

func TestCreateAddressesSkipsDuplicates(t *testing.T) {
	t.Parallel()
	store, mock, now := newMockStore(t)

	mock.ExpectExec("INSERT INTO addresses").
		WithArgs("id-1", "proj-1", "https://example.com/a", "example.com", now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO addresses").
		WithArgs("id-2", "proj-1", "https://example.com/b", "example.com", now).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	n, err := store.CreateAddresses(context.Background(), "proj-1", []indexer.Address{
		{URL: "https://example.com/a"},
		{URL: "https://example.com/b"},
	})
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetAddressNotFound(t *testing.T) {
	t.Parallel()
	store, mock, _ := newMockStore(t)

	mock.ExpectQuery("SELECT (.+) FROM addresses WHERE id").
		WithArgs("missing").
		WillReturnRows(pgxmock.NewRows([]string{"id"}))

	_, err := store.GetAddress(context.Background(), "missing")
	require.ErrorIs(t, err, indexer.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func addressRow(now time.Time) *pgxmock.Rows {
	return pgxmock.NewRows([]string{
		"id", "project_id", "url", "domain", "status", "channels",
		"is_indexed", "indexed_at", "last_checked_at", "check_count", "check_method",
		"indexed_title", "indexed_snippet", "pre_indexed", "verified_not_indexed",
		"credit_debited", "credit_refunded", "submitted_at", "created_at", "updated_at",
	}).AddRow(
		"addr-1", "proj-1", "https://example.com/a", "example.com", "submitted", []byte(`{}`),
		false, nil, nil, 0, "",
		"", "", false, false,
		true, false, &now, now, now,
	)
}

func TestClaimSubmissionDebitsInTx(t *testing.T) {
	t.Parallel()
	store, mock, now := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT a.status, a.credit_debited, p.user_id").
		WithArgs("addr-1").
		WillReturnRows(pgxmock.NewRows([]string{"status", "credit_debited", "user_id"}).
			AddRow("pending", false, "user-1"))
	mock.ExpectQuery("SELECT COALESCE").
		WithArgs("user-1").
		WillReturnRows(pgxmock.NewRows([]string{"sum"}).AddRow(3))
	mock.ExpectExec("INSERT INTO credit_transactions").
		WithArgs("id-1", "user-1", -1, "debit", "URL submission", "addr-1", now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectQuery("UPDATE addresses").
		WithArgs("addr-1", now).
		WillReturnRows(addressRow(now))
	mock.ExpectCommit()

	a, err := store.ClaimSubmission(context.Background(), "addr-1", now)
	require.NoError(t, err)
	require.Equal(t, indexer.StatusSubmitted, a.Status)
	require.True(t, a.CreditDebited)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimSubmissionLosesRace(t *testing.T) {
	t.Parallel()
	store, mock, now := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT a.status, a.credit_debited, p.user_id").
		WithArgs("addr-1").
		WillReturnRows(pgxmock.NewRows([]string{"status", "credit_debited", "user_id"}).
			AddRow("submitted", true, "user-1"))
	mock.ExpectRollback()

	_, err := store.ClaimSubmission(context.Background(), "addr-1", now)
	require.ErrorIs(t, err, indexer.ErrConcurrencyLost)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimSubmissionInsufficientCredit(t *testing.T) {
	t.Parallel()
	store, mock, now := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT a.status, a.credit_debited, p.user_id").
		WithArgs("addr-1").
		WillReturnRows(pgxmock.NewRows([]string{"status", "credit_debited", "user_id"}).
			AddRow("pending", false, "user-1"))
	mock.ExpectQuery("SELECT COALESCE").
		WithArgs("user-1").
		WillReturnRows(pgxmock.NewRows([]string{"sum"}).AddRow(0))
	mock.ExpectRollback()

	_, err := store.ClaimSubmission(context.Background(), "addr-1", now)
	require.ErrorIs(t, err, indexer.ErrInsufficientCredit)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAdvanceStatusLost(t *testing.T) {
	t.Parallel()
	store, mock, now := newMockStore(t)

	mock.ExpectExec("UPDATE addresses SET status").
		WithArgs("addr-1", "indexing", now, []string{"submitted"}).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := store.AdvanceStatus(context.Background(), "addr-1",
		[]indexer.Status{indexer.StatusSubmitted}, indexer.StatusIndexing)
	require.ErrorIs(t, err, indexer.ErrConcurrencyLost)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkNotIndexedMissingAddress(t *testing.T) {
	t.Parallel()
	store, mock, now := newMockStore(t)

	mock.ExpectExec("UPDATE addresses").
		WithArgs("gone", now, "custom_search").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery("SELECT is_indexed FROM addresses").
		WithArgs("gone").
		WillReturnError(pgx.ErrNoRows)

	err := store.MarkNotIndexed(context.Background(), "gone", "custom_search", now)
	require.ErrorIs(t, err, indexer.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkNotIndexedAlreadyIndexedIsNoop(t *testing.T) {
	t.Parallel()
	store, mock, now := newMockStore(t)

	mock.ExpectExec("UPDATE addresses").
		WithArgs("addr-1", now, "custom_search").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery("SELECT is_indexed FROM addresses").
		WithArgs("addr-1").
		WillReturnRows(pgxmock.NewRows([]string{"is_indexed"}).AddRow(true))

	err := store.MarkNotIndexed(context.Background(), "addr-1", "custom_search", now)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkIndexedWithRefund(t *testing.T) {
	t.Parallel()
	store, mock, now := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT a.is_indexed, a.credit_debited").
		WithArgs("addr-1").
		WillReturnRows(pgxmock.NewRows([]string{"is_indexed", "credit_debited", "credit_refunded", "user_id"}).
			AddRow(false, true, false, "user-1"))
	mock.ExpectExec("INSERT INTO credit_transactions").
		WithArgs("id-1", "user-1", 1, "refund", "Pre-check: already indexed", "addr-1", now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectQuery("UPDATE addresses").
		WithArgs("addr-1", now, "custom_search", "Example", "snippet", true, true).
		WillReturnRows(addressRow(now))
	mock.ExpectCommit()

	_, err := store.MarkIndexed(context.Background(), "addr-1", indexer.CheckResult{
		Method: "custom_search", Title: "Example", Snippet: "snippet",
	}, now, true)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecreditSkipsIneligible(t *testing.T) {
	t.Parallel()
	store, mock, _ := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT a.status, a.credit_debited, a.credit_refunded").
		WithArgs("addr-1").
		WillReturnRows(pgxmock.NewRows([]string{"status", "credit_debited", "credit_refunded", "is_indexed", "user_id"}).
			AddRow("submitted", true, true, false, "user-1"))
	mock.ExpectCommit()

	ok, err := store.Recredit(context.Background(), "addr-1", "verification window expired")
	require.NoError(t, err)
	require.False(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestConsumeQuotaExhausted(t *testing.T) {
	t.Parallel()
	store, mock, _ := newMockStore(t)

	mock.ExpectExec("UPDATE credentials SET used_today").
		WithArgs("cred-1", 1).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := store.ConsumeQuota(context.Background(), "cred-1", 1)
	require.ErrorIs(t, err, indexer.ErrQuotaExhausted)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestConsumeQuotaIncrements(t *testing.T) {
	t.Parallel()
	store, mock, _ := newMockStore(t)

	mock.ExpectExec("UPDATE credentials SET used_today").
		WithArgs("cred-1", 2).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, store.ConsumeQuota(context.Background(), "cred-1", 2))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestResetQuotas(t *testing.T) {
	t.Parallel()
	store, mock, _ := newMockStore(t)
	day := time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC)

	mock.ExpectExec("UPDATE credentials SET used_today = 0").
		WithArgs(day).
		WillReturnResult(pgxmock.NewResult("UPDATE", 3))

	n, err := store.ResetQuotas(context.Background(), day)
	require.NoError(t, err)
	require.Equal(t, 3, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAddCreditsReturnsBalance(t *testing.T) {
	t.Parallel()
	store, mock, now := newMockStore(t)

	mock.ExpectExec("INSERT INTO credit_transactions").
		WithArgs("id-1", "user-1", 50, "purchase", "starter pack", now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectQuery("SELECT COALESCE").
		WithArgs("user-1").
		WillReturnRows(pgxmock.NewRows([]string{"sum"}).AddRow(50))

	balance, err := store.AddCredits(context.Background(), "user-1", 50, indexer.TransactionPurchase, "starter pack")
	require.NoError(t, err)
	require.Equal(t, 50, balance)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteAddressRefunds(t *testing.T) {
	t.Parallel()
	store, mock, now := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT a.credit_debited").
		WithArgs("addr-1").
		WillReturnRows(pgxmock.NewRows([]string{"credit_debited", "credit_refunded", "is_indexed", "user_id"}).
			AddRow(true, false, false, "user-1"))
	mock.ExpectExec("INSERT INTO credit_transactions").
		WithArgs("id-1", "user-1", 1, "refund", "Address deleted before indexing", "addr-1", now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("DELETE FROM addresses").
		WithArgs("addr-1").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectCommit()

	refunded, err := store.DeleteAddress(context.Background(), "addr-1")
	require.NoError(t, err)
	require.True(t, refunded)
	require.NoError(t, mock.ExpectationsWereMet())
}

package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/launchindex/indexer/internal/clock/system"
	"github.com/launchindex/indexer/internal/id/uuid"
	"github.com/launchindex/indexer/internal/indexer"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return New(system.New(), uuid.New())
}

func seedProject(t *testing.T, s *Store, userID string, credits int) indexer.Project {
	t.Helper()
	ctx := context.Background()
	p := indexer.Project{ID: "proj-" + userID, UserID: userID, Name: "site"}
	require.NoError(t, s.CreateProject(ctx, p))
	if credits > 0 {
		_, err := s.AddCredits(ctx, userID, credits, indexer.TransactionPurchase, "starter pack")
		require.NoError(t, err)
	}
	return p
}

func seedAddress(t *testing.T, s *Store, projectID, rawURL string) indexer.Address {
	t.Helper()
	ctx := context.Background()
	n, err := s.CreateAddresses(ctx, projectID, []indexer.Address{{URL: rawURL}})
	require.NoError(t, err)
	require.Equal(t, 1, n)
	list, err := s.ListAddresses(ctx, projectID, 0, 0)
	require.NoError(t, err)
	for _, a := range list {
		if a.URL == rawURL {
			return a
		}
	}
	t.Fatalf("seeded address %s not found", rawURL)
	return indexer.Address{}
}

func TestCreateAddressesDeduplicates(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	p := seedProject(t, s, "u1", 10)
	ctx := context.Background()

	n, err := s.CreateAddresses(ctx, p.ID, []indexer.Address{
		{URL: "https://example.com/a"},
		{URL: "https://example.com/b"},
		{URL: "https://example.com/a"},
	})
	require.NoError(t, err)
	require.Equal(t, 2, n)

	n, err = s.CreateAddresses(ctx, p.ID, []indexer.Address{{URL: "https://example.com/b"}})
	require.NoError(t, err)
	require.Zero(t, n)

	list, err := s.ListAddresses(ctx, p.ID, 0, 0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, "example.com", list[0].Domain)
	require.Equal(t, indexer.StatusPending, list[0].Status)
}

func TestClaimSubmissionDebitsOnce(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	p := seedProject(t, s, "u1", 1)
	a := seedAddress(t, s, p.ID, "https://example.com/a")
	ctx := context.Background()
	now := time.Now().UTC()

	claimed, err := s.ClaimSubmission(ctx, a.ID, now)
	require.NoError(t, err)
	require.Equal(t, indexer.StatusSubmitted, claimed.Status)
	require.True(t, claimed.CreditDebited)
	require.NotNil(t, claimed.SubmittedAt)

	balance, err := s.Balance(ctx, "u1")
	require.NoError(t, err)
	require.Zero(t, balance)

	// A second claim loses the race rather than double-billing.
	_, err = s.ClaimSubmission(ctx, a.ID, now)
	require.ErrorIs(t, err, indexer.ErrConcurrencyLost)

	balance, err = s.Balance(ctx, "u1")
	require.NoError(t, err)
	require.Zero(t, balance)
}

func TestClaimSubmissionInsufficientCredit(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	p := seedProject(t, s, "u1", 0)
	a := seedAddress(t, s, p.ID, "https://example.com/a")

	_, err := s.ClaimSubmission(context.Background(), a.ID, time.Now().UTC())
	require.ErrorIs(t, err, indexer.ErrInsufficientCredit)

	got, err := s.GetAddress(context.Background(), a.ID)
	require.NoError(t, err)
	require.Equal(t, indexer.StatusPending, got.Status)
	require.False(t, got.CreditDebited)
}

func TestClaimSubmissionRace(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	p := seedProject(t, s, "u1", 5)
	a := seedAddress(t, s, p.ID, "https://example.com/a")
	ctx := context.Background()

	const workers = 8
	var wg sync.WaitGroup
	wins := make(chan struct{}, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.ClaimSubmission(ctx, a.ID, time.Now().UTC()); err == nil {
				wins <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(wins)

	won := 0
	for range wins {
		won++
	}
	require.Equal(t, 1, won)

	balance, err := s.Balance(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, 4, balance)
}

func TestRecordAttemptAccumulates(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	p := seedProject(t, s, "u1", 1)
	a := seedAddress(t, s, p.ID, "https://example.com/a")
	ctx := context.Background()

	require.NoError(t, s.RecordAttempt(ctx, a.ID, indexer.ChannelIndexNow, indexer.AttemptError))
	require.NoError(t, s.RecordAttempt(ctx, a.ID, indexer.ChannelIndexNow, indexer.AttemptSuccess))
	require.NoError(t, s.RecordAttempt(ctx, a.ID, indexer.ChannelPingomatic, indexer.AttemptSuccess))

	got, err := s.GetAddress(ctx, a.ID)
	require.NoError(t, err)
	st := got.ChannelState(indexer.ChannelIndexNow)
	require.Equal(t, 2, st.Attempts)
	require.Equal(t, indexer.AttemptSuccess, st.LastStatus)

	totals, err := s.ChannelTotals(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, 2, totals[indexer.ChannelIndexNow].Attempts)
	require.Equal(t, 1, totals[indexer.ChannelIndexNow].Success)
	require.Equal(t, 1, totals[indexer.ChannelIndexNow].Error)
	require.Equal(t, 1, totals[indexer.ChannelPingomatic].Success)
}

func TestAdvanceStatusConditional(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	p := seedProject(t, s, "u1", 1)
	a := seedAddress(t, s, p.ID, "https://example.com/a")
	ctx := context.Background()

	_, err := s.ClaimSubmission(ctx, a.ID, time.Now().UTC())
	require.NoError(t, err)

	err = s.AdvanceStatus(ctx, a.ID, []indexer.Status{indexer.StatusSubmitted}, indexer.StatusIndexing)
	require.NoError(t, err)

	err = s.AdvanceStatus(ctx, a.ID, []indexer.Status{indexer.StatusSubmitted}, indexer.StatusIndexing)
	require.ErrorIs(t, err, indexer.ErrConcurrencyLost)
}

func TestMarkIndexedWithPreCheckRefund(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	p := seedProject(t, s, "u1", 1)
	a := seedAddress(t, s, p.ID, "https://example.com/a")
	ctx := context.Background()
	now := time.Now().UTC()

	_, err := s.ClaimSubmission(ctx, a.ID, now)
	require.NoError(t, err)

	yes := true
	got, err := s.MarkIndexed(ctx, a.ID, indexer.CheckResult{
		Indexed: &yes, Method: "custom_search", Title: "Example", Snippet: "hello",
	}, now, true)
	require.NoError(t, err)
	require.True(t, got.IsIndexed)
	require.True(t, got.PreIndexed)
	require.True(t, got.CreditRefunded)
	require.Equal(t, indexer.StatusIndexed, got.Status)
	require.Equal(t, "custom_search", got.CheckMethod)
	require.Equal(t, 1, got.CheckCount)

	balance, err := s.Balance(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, 1, balance)

	// Marking again does not refund twice or bump check_count.
	got, err = s.MarkIndexed(ctx, a.ID, indexer.CheckResult{Indexed: &yes, Method: "inspection"}, now, true)
	require.NoError(t, err)
	require.Equal(t, 1, got.CheckCount)
	balance, err = s.Balance(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, 1, balance)
}

func TestRecreditGates(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	p := seedProject(t, s, "u1", 2)
	a := seedAddress(t, s, p.ID, "https://example.com/a")
	ctx := context.Background()

	// Pending and undebited: nothing to refund.
	ok, err := s.Recredit(ctx, a.ID, "verification window expired")
	require.NoError(t, err)
	require.False(t, ok)

	_, err = s.ClaimSubmission(ctx, a.ID, time.Now().UTC())
	require.NoError(t, err)

	ok, err = s.Recredit(ctx, a.ID, "verification window expired")
	require.NoError(t, err)
	require.True(t, ok)

	got, err := s.GetAddress(ctx, a.ID)
	require.NoError(t, err)
	require.Equal(t, indexer.StatusRecredited, got.Status)
	require.True(t, got.CreditRefunded)

	balance, err := s.Balance(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, 2, balance)

	// Idempotent: second sweep pass refunds nothing.
	ok, err = s.Recredit(ctx, a.ID, "verification window expired")
	require.NoError(t, err)
	require.False(t, ok)
	balance, err = s.Balance(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, 2, balance)
}

func TestResetForResubmitPreservesBilling(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	p := seedProject(t, s, "u1", 1)
	a := seedAddress(t, s, p.ID, "https://example.com/a")
	ctx := context.Background()
	now := time.Now().UTC()

	_, err := s.ClaimSubmission(ctx, a.ID, now)
	require.NoError(t, err)
	require.NoError(t, s.RecordAttempt(ctx, a.ID, indexer.ChannelIndexNow, indexer.AttemptSuccess))

	got, err := s.ResetForResubmit(ctx, a.ID)
	require.NoError(t, err)
	require.Equal(t, indexer.StatusPending, got.Status)
	require.Empty(t, got.Channels)
	require.True(t, got.CreditDebited)
	require.False(t, got.CreditRefunded)

	// Re-claiming a debited address is free.
	_, err = s.ClaimSubmission(ctx, a.ID, now)
	require.NoError(t, err)
	balance, err := s.Balance(ctx, "u1")
	require.NoError(t, err)
	require.Zero(t, balance)

	yes := true
	_, err = s.MarkIndexed(ctx, a.ID, indexer.CheckResult{Indexed: &yes, Method: "inspection"}, now, false)
	require.NoError(t, err)

	_, err = s.ResetForResubmit(ctx, a.ID)
	require.ErrorIs(t, err, indexer.ErrAlreadyIndexed)
}

func TestDeleteAddressSettlesRefund(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	p := seedProject(t, s, "u1", 1)
	a := seedAddress(t, s, p.ID, "https://example.com/a")
	ctx := context.Background()

	_, err := s.ClaimSubmission(ctx, a.ID, time.Now().UTC())
	require.NoError(t, err)

	refunded, err := s.DeleteAddress(ctx, a.ID)
	require.NoError(t, err)
	require.True(t, refunded)

	balance, err := s.Balance(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, 1, balance)

	_, err = s.GetAddress(ctx, a.ID)
	require.ErrorIs(t, err, indexer.ErrNotFound)
}

func TestConsumeQuotaRace(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.AddCredential(ctx, indexer.Credential{
		ID: "cred-1", Name: "svc", Email: "svc@example.com", DailyQuota: 5,
	}))
	require.NoError(t, s.ConsumeQuota(ctx, "cred-1", 4))

	const workers = 8
	var wg sync.WaitGroup
	wins := make(chan struct{}, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.ConsumeQuota(ctx, "cred-1", 1); err == nil {
				wins <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(wins)

	won := 0
	for range wins {
		won++
	}
	require.Equal(t, 1, won)

	c, err := s.GetCredential(ctx, "cred-1")
	require.NoError(t, err)
	require.Equal(t, 5, c.UsedToday)
	require.Zero(t, c.Remaining())
}

func TestNextAvailablePrefersLeastUsed(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.AddCredential(ctx, indexer.Credential{ID: "a", Name: "a", DailyQuota: 10}))
	require.NoError(t, s.AddCredential(ctx, indexer.Credential{ID: "b", Name: "b", DailyQuota: 10}))
	require.NoError(t, s.ConsumeQuota(ctx, "a", 3))

	c, err := s.NextAvailable(ctx, "")
	require.NoError(t, err)
	require.Equal(t, "b", c.ID)

	// Pinned credential wins regardless of load.
	c, err = s.NextAvailable(ctx, "a")
	require.NoError(t, err)
	require.Equal(t, "a", c.ID)

	require.NoError(t, s.Disable(ctx, "a"))
	_, err = s.NextAvailable(ctx, "a")
	require.ErrorIs(t, err, indexer.ErrQuotaExhausted)

	require.NoError(t, s.ConsumeQuota(ctx, "b", 10))
	_, err = s.NextAvailable(ctx, "")
	require.ErrorIs(t, err, indexer.ErrQuotaExhausted)
}

func TestResetQuotasOncePerDay(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.AddCredential(ctx, indexer.Credential{ID: "a", Name: "a", DailyQuota: 10}))
	require.NoError(t, s.ConsumeQuota(ctx, "a", 7))
	require.NoError(t, s.Disable(ctx, "a"))

	day := time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC)
	n, err := s.ResetQuotas(ctx, day)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	c, err := s.GetCredential(ctx, "a")
	require.NoError(t, err)
	require.Zero(t, c.UsedToday)
	require.True(t, c.IsActive)

	n, err = s.ResetQuotas(ctx, day.Add(6*time.Hour))
	require.NoError(t, err)
	require.Zero(t, n)

	n, err = s.ResetQuotas(ctx, day.AddDate(0, 0, 1))
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestListForRecredit(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	p := seedProject(t, s, "u1", 3)
	ctx := context.Background()
	old := seedAddress(t, s, p.ID, "https://example.com/old")
	fresh := seedAddress(t, s, p.ID, "https://example.com/fresh")
	now := time.Now().UTC()

	_, err := s.ClaimSubmission(ctx, old.ID, now.Add(-15*24*time.Hour))
	require.NoError(t, err)
	_, err = s.ClaimSubmission(ctx, fresh.ID, now.Add(-time.Hour))
	require.NoError(t, err)

	due, err := s.ListForRecredit(ctx, now.Add(-indexer.VerificationWindow), 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	require.Equal(t, old.ID, due[0].ID)
}

func TestListForVerificationFilters(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	p := seedProject(t, s, "u1", 3)
	ctx := context.Background()
	a := seedAddress(t, s, p.ID, "https://example.com/a")
	b := seedAddress(t, s, p.ID, "https://example.com/b")
	now := time.Now().UTC()

	_, err := s.ClaimSubmission(ctx, a.ID, now.Add(-2*time.Hour))
	require.NoError(t, err)
	_, err = s.ClaimSubmission(ctx, b.ID, now.Add(-30*time.Minute))
	require.NoError(t, err)
	require.NoError(t, s.MarkNotIndexed(ctx, a.ID, "custom_search", now.Add(-10*time.Minute)))

	// Fresh window with recheck holdoff: a was checked too recently.
	due, err := s.ListForVerification(ctx, indexer.VerificationFilter{
		SubmittedAfter:  now.Add(-6 * time.Hour),
		NotCheckedSince: now.Add(-50 * time.Minute),
		Limit:           10,
	})
	require.NoError(t, err)
	require.Len(t, due, 1)
	require.Equal(t, b.ID, due[0].ID)
}

func TestSpeedBucketsAndDailySeries(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	p := seedProject(t, s, "u1", 3)
	ctx := context.Background()
	fast := seedAddress(t, s, p.ID, "https://example.com/fast")
	slow := seedAddress(t, s, p.ID, "https://example.com/slow")
	now := time.Now().UTC()

	_, err := s.ClaimSubmission(ctx, fast.ID, now.Add(-3*24*time.Hour))
	require.NoError(t, err)
	_, err = s.ClaimSubmission(ctx, slow.ID, now.Add(-10*24*time.Hour))
	require.NoError(t, err)

	yes := true
	_, err = s.MarkIndexed(ctx, fast.ID, indexer.CheckResult{Indexed: &yes, Method: "inspection"}, now.Add(-3*24*time.Hour).Add(12*time.Hour), false)
	require.NoError(t, err)
	_, err = s.MarkIndexed(ctx, slow.ID, indexer.CheckResult{Indexed: &yes, Method: "inspection"}, now.Add(-6*24*time.Hour), false)
	require.NoError(t, err)

	b, err := s.SpeedBuckets(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, 2, b.TotalSubmitted)
	require.Equal(t, 1, b.Indexed24h)
	require.Equal(t, 2, b.Indexed7d)

	series, err := s.DailySeries(ctx, p.ID, 14)
	require.NoError(t, err)
	require.Len(t, series, 14)
	total := 0
	for _, d := range series {
		total += d.Indexed
	}
	require.Equal(t, 2, total)
}

func TestStatusCountsAndIndexedByService(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	p := seedProject(t, s, "u1", 3)
	ctx := context.Background()
	a := seedAddress(t, s, p.ID, "https://example.com/a")
	seedAddress(t, s, p.ID, "https://example.com/b")
	now := time.Now().UTC()

	_, err := s.ClaimSubmission(ctx, a.ID, now)
	require.NoError(t, err)
	require.NoError(t, s.MarkNotIndexed(ctx, a.ID, "custom_search", now))
	yes := true
	_, err = s.MarkIndexed(ctx, a.ID, indexer.CheckResult{Indexed: &yes, Method: "custom_search"}, now, false)
	require.NoError(t, err)

	counts, err := s.StatusCounts(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, 1, counts[indexer.StatusIndexed])
	require.Equal(t, 1, counts[indexer.StatusPending])

	n, err := s.IndexedByService(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestLedgerTransactions(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	p := seedProject(t, s, "u1", 5)
	a := seedAddress(t, s, p.ID, "https://example.com/a")
	ctx := context.Background()

	_, err := s.ClaimSubmission(ctx, a.ID, time.Now().UTC())
	require.NoError(t, err)
	refunded, err := s.DeleteAddress(ctx, a.ID)
	require.NoError(t, err)
	require.True(t, refunded)

	txs, err := s.Transactions(ctx, "u1", 0, 0)
	require.NoError(t, err)
	require.Len(t, txs, 3)
	// Newest first.
	require.Equal(t, indexer.TransactionRefund, txs[0].Type)
	require.Equal(t, indexer.TransactionDebit, txs[1].Type)
	require.Equal(t, indexer.TransactionPurchase, txs[2].Type)

	forAddr, err := s.TransactionsForAddress(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, forAddr, 2)

	balance, err := s.Balance(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, 5, balance)
}

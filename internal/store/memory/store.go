// Package memory provides an in-memory Store for development and testing.
// It mirrors the conditional-update semantics of the Postgres store under a
// single mutex, so claim races and billing idempotence behave the same way.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/launchindex/indexer/internal/indexer"
)

// Store implements indexer.Store in memory.
type Store struct {
	mu           sync.Mutex
	addresses    map[string]indexer.Address
	projects     map[string]indexer.Project
	credentials  map[string]indexer.Credential
	transactions []indexer.CreditTransaction
	attempts     []indexer.AttemptRecord

	clock indexer.Clock
	idGen indexer.IDGenerator
}

// New constructs a Store.
func New(clock indexer.Clock, idGen indexer.IDGenerator) *Store {
	return &Store{
		addresses:   make(map[string]indexer.Address),
		projects:    make(map[string]indexer.Project),
		credentials: make(map[string]indexer.Credential),
		clock:       clock,
		idGen:       idGen,
	}
}

// ---- addresses ----

// CreateAddresses inserts new addresses, skipping URLs the project already has.
func (s *Store) CreateAddresses(_ context.Context, projectID string, addrs []indexer.Address) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.projects[projectID]; !ok {
		return 0, fmt.Errorf("project %s: %w", projectID, indexer.ErrNotFound)
	}
	existing := make(map[string]struct{})
	for _, a := range s.addresses {
		if a.ProjectID == projectID {
			existing[a.URL] = struct{}{}
		}
	}
	now := s.clock.Now()
	added := 0
	for _, a := range addrs {
		if _, dup := existing[a.URL]; dup {
			continue
		}
		existing[a.URL] = struct{}{}
		if a.ID == "" {
			id, err := s.idGen.NewID()
			if err != nil {
				return added, fmt.Errorf("generate address id: %w", err)
			}
			a.ID = id
		}
		a.ProjectID = projectID
		a.Status = indexer.StatusPending
		a.Domain = indexer.DomainOf(a.URL)
		a.Channels = map[string]indexer.ChannelState{}
		a.CreatedAt = now
		a.UpdatedAt = now
		s.addresses[a.ID] = a
		added++
	}
	return added, nil
}

// GetAddress fetches one address by ID.
func (s *Store) GetAddress(_ context.Context, id string) (indexer.Address, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.addresses[id]
	if !ok {
		return indexer.Address{}, fmt.Errorf("address %s: %w", id, indexer.ErrNotFound)
	}
	return cloneAddress(a), nil
}

// ListAddresses returns a project's addresses ordered by creation time.
func (s *Store) ListAddresses(_ context.Context, projectID string, limit, offset int) ([]indexer.Address, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []indexer.Address
	for _, a := range s.addresses {
		if projectID == "" || a.ProjectID == projectID {
			out = append(out, cloneAddress(a))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return window(out, limit, offset), nil
}

// ListPending returns pending addresses, oldest first.
func (s *Store) ListPending(_ context.Context, limit int) ([]indexer.Address, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []indexer.Address
	for _, a := range s.addresses {
		if a.Status == indexer.StatusPending {
			out = append(out, cloneAddress(a))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return window(out, limit, 0), nil
}

// ListForVerification selects addresses due a verification pass.
func (s *Store) ListForVerification(_ context.Context, f indexer.VerificationFilter) ([]indexer.Address, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []indexer.Address
	for _, a := range s.addresses {
		if !a.Status.Verifiable() || a.SubmittedAt == nil {
			continue
		}
		if !f.SubmittedAfter.IsZero() && a.SubmittedAt.Before(f.SubmittedAfter) {
			continue
		}
		if !f.SubmittedBefore.IsZero() && a.SubmittedAt.After(f.SubmittedBefore) {
			continue
		}
		if !f.NotCheckedSince.IsZero() && a.LastCheckedAt != nil && a.LastCheckedAt.After(f.NotCheckedSince) {
			continue
		}
		out = append(out, cloneAddress(a))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SubmittedAt.Before(*out[j].SubmittedAt) })
	return window(out, f.Limit, 0), nil
}

// ListForRecredit selects addresses whose verification window expired.
func (s *Store) ListForRecredit(_ context.Context, cutoff time.Time, limit int) ([]indexer.Address, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []indexer.Address
	for _, a := range s.addresses {
		if a.CreditDebited && !a.CreditRefunded && !a.IsIndexed &&
			a.Status.RecreditEligible() && a.SubmittedAt != nil && !a.SubmittedAt.After(cutoff) {
			out = append(out, cloneAddress(a))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SubmittedAt.Before(*out[j].SubmittedAt) })
	return window(out, limit, 0), nil
}

// ClaimSubmission moves pending to submitted, debiting one credit atomically.
func (s *Store) ClaimSubmission(_ context.Context, addressID string, at time.Time) (indexer.Address, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.addresses[addressID]
	if !ok {
		return indexer.Address{}, fmt.Errorf("address %s: %w", addressID, indexer.ErrNotFound)
	}
	if a.Status != indexer.StatusPending {
		return indexer.Address{}, indexer.ErrConcurrencyLost
	}
	if !a.CreditDebited {
		userID, err := s.ownerLocked(a.ProjectID)
		if err != nil {
			return indexer.Address{}, err
		}
		if s.balanceLocked(userID) < 1 {
			return indexer.Address{}, indexer.ErrInsufficientCredit
		}
		if err := s.appendTransactionLocked(userID, -1, indexer.TransactionDebit, "URL submission", a.ID); err != nil {
			return indexer.Address{}, err
		}
		a.CreditDebited = true
	}
	a.Status = indexer.StatusSubmitted
	submitted := at
	a.SubmittedAt = &submitted
	a.UpdatedAt = at
	s.addresses[addressID] = a
	return cloneAddress(a), nil
}

// RecordAttempt updates the channel counter and appends to the attempt log.
func (s *Store) RecordAttempt(_ context.Context, addressID, channel string, status indexer.AttemptStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.addresses[addressID]
	if !ok {
		return fmt.Errorf("address %s: %w", addressID, indexer.ErrNotFound)
	}
	if a.Channels == nil {
		a.Channels = map[string]indexer.ChannelState{}
	}
	st := a.Channels[channel]
	st.Attempts++
	st.LastStatus = status
	a.Channels[channel] = st
	a.UpdatedAt = s.clock.Now()
	s.addresses[addressID] = a
	s.attempts = append(s.attempts, indexer.AttemptRecord{
		AddressID: addressID,
		Channel:   channel,
		Status:    status,
		At:        a.UpdatedAt,
	})
	return nil
}

// AdvanceStatus conditionally moves the address to a new status.
func (s *Store) AdvanceStatus(_ context.Context, addressID string, from []indexer.Status, to indexer.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.addresses[addressID]
	if !ok {
		return fmt.Errorf("address %s: %w", addressID, indexer.ErrNotFound)
	}
	for _, f := range from {
		if a.Status == f {
			a.Status = to
			a.UpdatedAt = s.clock.Now()
			s.addresses[addressID] = a
			return nil
		}
	}
	return indexer.ErrConcurrencyLost
}

// MarkIndexed records a positive verification; no-op when already indexed.
func (s *Store) MarkIndexed(_ context.Context, addressID string, res indexer.CheckResult, at time.Time, refund bool) (indexer.Address, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.addresses[addressID]
	if !ok {
		return indexer.Address{}, fmt.Errorf("address %s: %w", addressID, indexer.ErrNotFound)
	}
	if a.IsIndexed {
		return cloneAddress(a), nil
	}
	a.IsIndexed = true
	indexed := at
	a.IndexedAt = &indexed
	a.LastCheckedAt = &indexed
	a.CheckCount++
	a.CheckMethod = res.Method
	a.IndexedTitle = res.Title
	a.IndexedSnippet = res.Snippet
	a.Status = indexer.StatusIndexed
	if refund {
		a.PreIndexed = true
		if a.CreditDebited && !a.CreditRefunded {
			userID, err := s.ownerLocked(a.ProjectID)
			if err != nil {
				return indexer.Address{}, err
			}
			if err := s.appendTransactionLocked(userID, 1, indexer.TransactionRefund, "Pre-check: already indexed", a.ID); err != nil {
				return indexer.Address{}, err
			}
			a.CreditRefunded = true
		}
	}
	a.UpdatedAt = at
	s.addresses[addressID] = a
	return cloneAddress(a), nil
}

// MarkNotIndexed records a clean negative check.
func (s *Store) MarkNotIndexed(_ context.Context, addressID, method string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.addresses[addressID]
	if !ok {
		return fmt.Errorf("address %s: %w", addressID, indexer.ErrNotFound)
	}
	if a.IsIndexed {
		return nil
	}
	checked := at
	a.LastCheckedAt = &checked
	a.CheckCount++
	a.CheckMethod = method
	a.Status = indexer.StatusNotIndexed
	a.VerifiedNotIndexed = true
	a.UpdatedAt = at
	s.addresses[addressID] = a
	return nil
}

// Recredit refunds the credit and moves the address to recredited.
func (s *Store) Recredit(_ context.Context, addressID, reason string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.addresses[addressID]
	if !ok {
		return false, fmt.Errorf("address %s: %w", addressID, indexer.ErrNotFound)
	}
	if !a.CreditDebited || a.CreditRefunded || a.IsIndexed || !a.Status.RecreditEligible() {
		return false, nil
	}
	userID, err := s.ownerLocked(a.ProjectID)
	if err != nil {
		return false, err
	}
	if err := s.appendTransactionLocked(userID, 1, indexer.TransactionRefund, reason, a.ID); err != nil {
		return false, err
	}
	a.CreditRefunded = true
	a.Status = indexer.StatusRecredited
	a.UpdatedAt = s.clock.Now()
	s.addresses[addressID] = a
	return true, nil
}

// ResetForResubmit clears channel counters and returns the address to pending.
func (s *Store) ResetForResubmit(_ context.Context, addressID string) (indexer.Address, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.addresses[addressID]
	if !ok {
		return indexer.Address{}, fmt.Errorf("address %s: %w", addressID, indexer.ErrNotFound)
	}
	if !a.Status.Resubmittable() {
		return indexer.Address{}, indexer.ErrAlreadyIndexed
	}
	a.Status = indexer.StatusPending
	a.Channels = map[string]indexer.ChannelState{}
	a.IsIndexed = false
	a.SubmittedAt = nil
	a.UpdatedAt = s.clock.Now()
	s.addresses[addressID] = a
	return cloneAddress(a), nil
}

// DeleteAddress removes the address, settling any outstanding refund first.
func (s *Store) DeleteAddress(_ context.Context, addressID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.addresses[addressID]
	if !ok {
		return false, fmt.Errorf("address %s: %w", addressID, indexer.ErrNotFound)
	}
	refunded := false
	if a.CreditDebited && !a.CreditRefunded && !a.IsIndexed {
		userID, err := s.ownerLocked(a.ProjectID)
		if err != nil {
			return false, err
		}
		if err := s.appendTransactionLocked(userID, 1, indexer.TransactionRefund, "Address deleted before indexing", a.ID); err != nil {
			return false, err
		}
		refunded = true
	}
	delete(s.addresses, addressID)
	return refunded, nil
}

// ---- credentials ----

// AddCredential inserts a credential, applying the default quota when unset.
func (s *Store) AddCredential(_ context.Context, c indexer.Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
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
	c.IsActive = true
	c.CreatedAt = s.clock.Now()
	s.credentials[c.ID] = c
	return nil
}

// GetCredential fetches one credential by ID.
func (s *Store) GetCredential(_ context.Context, id string) (indexer.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.credentials[id]
	if !ok {
		return indexer.Credential{}, fmt.Errorf("credential %s: %w", id, indexer.ErrNotFound)
	}
	return c, nil
}

// ListCredentials returns all credentials ordered by name.
func (s *Store) ListCredentials(_ context.Context) ([]indexer.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]indexer.Credential, 0, len(s.credentials))
	for _, c := range s.credentials {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// RemoveCredential deletes a credential.
func (s *Store) RemoveCredential(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.credentials[id]; !ok {
		return fmt.Errorf("credential %s: %w", id, indexer.ErrNotFound)
	}
	delete(s.credentials, id)
	return nil
}

// NextAvailable returns the active credential with the most remaining quota.
func (s *Store) NextAvailable(_ context.Context, credentialID string) (indexer.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if credentialID != "" {
		c, ok := s.credentials[credentialID]
		if !ok {
			return indexer.Credential{}, fmt.Errorf("credential %s: %w", credentialID, indexer.ErrNotFound)
		}
		if !c.IsActive || c.Remaining() == 0 {
			return indexer.Credential{}, indexer.ErrQuotaExhausted
		}
		return c, nil
	}
	var best *indexer.Credential
	for id := range s.credentials {
		c := s.credentials[id]
		if !c.IsActive || c.Remaining() == 0 {
			continue
		}
		if best == nil || c.UsedToday < best.UsedToday ||
			(c.UsedToday == best.UsedToday && c.ID < best.ID) {
			cc := c
			best = &cc
		}
	}
	if best == nil {
		return indexer.Credential{}, indexer.ErrQuotaExhausted
	}
	return *best, nil
}

// ConsumeQuota atomically increments used_today, never past daily_quota.
func (s *Store) ConsumeQuota(_ context.Context, id string, n int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.credentials[id]
	if !ok {
		return fmt.Errorf("credential %s: %w", id, indexer.ErrNotFound)
	}
	if !c.IsActive || c.UsedToday+n > c.DailyQuota {
		return indexer.ErrQuotaExhausted
	}
	c.UsedToday += n
	s.credentials[id] = c
	return nil
}

// Disable deactivates a credential until the next quota reset.
func (s *Store) Disable(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.credentials[id]
	if !ok {
		return fmt.Errorf("credential %s: %w", id, indexer.ErrNotFound)
	}
	c.IsActive = false
	s.credentials[id] = c
	return nil
}

// ResetQuotas zeroes counters once per UTC day; a second run is a no-op.
func (s *Store) ResetQuotas(_ context.Context, day time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	dayUTC := day.UTC().Truncate(24 * time.Hour)
	reset := 0
	for id, c := range s.credentials {
		if c.LastResetAt != nil && !c.LastResetAt.UTC().Truncate(24*time.Hour).Before(dayUTC) {
			continue
		}
		c.UsedToday = 0
		c.IsActive = true
		resetAt := day
		c.LastResetAt = &resetAt
		s.credentials[id] = c
		reset++
	}
	return reset, nil
}

// ---- projects ----

// CreateProject inserts a project.
func (s *Store) CreateProject(_ context.Context, p indexer.Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID == "" {
		id, err := s.idGen.NewID()
		if err != nil {
			return fmt.Errorf("generate project id: %w", err)
		}
		p.ID = id
	}
	now := s.clock.Now()
	p.CreatedAt = now
	p.UpdatedAt = now
	s.projects[p.ID] = p
	return nil
}

// GetProject fetches one project by ID.
func (s *Store) GetProject(_ context.Context, id string) (indexer.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[id]
	if !ok {
		return indexer.Project{}, fmt.Errorf("project %s: %w", id, indexer.ErrNotFound)
	}
	return p, nil
}

// ListProjects returns a user's projects ordered by creation time.
func (s *Store) ListProjects(_ context.Context, userID string) ([]indexer.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []indexer.Project
	for _, p := range s.projects {
		if userID == "" || p.UserID == userID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// SetMainDomain records the derived main domain once known.
func (s *Store) SetMainDomain(_ context.Context, id, domain string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[id]
	if !ok {
		return fmt.Errorf("project %s: %w", id, indexer.ErrNotFound)
	}
	p.MainDomain = domain
	p.UpdatedAt = s.clock.Now()
	s.projects[id] = p
	return nil
}

// DeleteProject removes a project and cascades to its addresses.
func (s *Store) DeleteProject(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.projects[id]; !ok {
		return fmt.Errorf("project %s: %w", id, indexer.ErrNotFound)
	}
	delete(s.projects, id)
	for aid, a := range s.addresses {
		if a.ProjectID == id {
			delete(s.addresses, aid)
		}
	}
	return nil
}

// ---- ledger ----

// Balance sums the user's transaction amounts.
func (s *Store) Balance(_ context.Context, userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balanceLocked(userID), nil
}

// AddCredits appends a purchase or bonus row and returns the new balance.
func (s *Store) AddCredits(_ context.Context, userID string, amount int, typ indexer.TransactionType, description string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.appendTransactionLocked(userID, amount, typ, description, ""); err != nil {
		return 0, err
	}
	return s.balanceLocked(userID), nil
}

// Transactions returns a user's ledger rows, newest first.
func (s *Store) Transactions(_ context.Context, userID string, limit, offset int) ([]indexer.CreditTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []indexer.CreditTransaction
	for i := len(s.transactions) - 1; i >= 0; i-- {
		if s.transactions[i].UserID == userID {
			out = append(out, s.transactions[i])
		}
	}
	return window(out, limit, offset), nil
}

// TransactionsForAddress returns the ledger rows referencing one address.
func (s *Store) TransactionsForAddress(_ context.Context, addressID string) ([]indexer.CreditTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []indexer.CreditTransaction
	for _, tx := range s.transactions {
		if tx.AddressID == addressID {
			out = append(out, tx)
		}
	}
	return out, nil
}

// ---- reporting ----

// StatusCounts returns address counts per lifecycle status.
func (s *Store) StatusCounts(_ context.Context, projectID string) (indexer.StatusCounts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := indexer.StatusCounts{}
	for _, a := range s.addresses {
		if projectID == "" || a.ProjectID == projectID {
			counts[a.Status]++
		}
	}
	return counts, nil
}

// ChannelTotals aggregates the attempt log per channel.
func (s *Store) ChannelTotals(_ context.Context, projectID string) (map[string]indexer.ChannelTotals, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	totals := map[string]indexer.ChannelTotals{}
	for _, rec := range s.attempts {
		if projectID != "" {
			a, ok := s.addresses[rec.AddressID]
			if !ok || a.ProjectID != projectID {
				continue
			}
		}
		t := totals[rec.Channel]
		t.Attempts++
		if rec.Status == indexer.AttemptSuccess {
			t.Success++
		} else {
			t.Error++
		}
		totals[rec.Channel] = t
	}
	return totals, nil
}

// SpeedBuckets buckets time-to-index at 24h/48h/72h/7d.
func (s *Store) SpeedBuckets(_ context.Context, projectID string) (indexer.SpeedBuckets, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var b indexer.SpeedBuckets
	for _, a := range s.addresses {
		if projectID != "" && a.ProjectID != projectID {
			continue
		}
		if a.Status == indexer.StatusPending {
			continue
		}
		b.TotalSubmitted++
		if a.IndexedAt == nil || a.SubmittedAt == nil {
			continue
		}
		elapsed := a.IndexedAt.Sub(*a.SubmittedAt)
		if elapsed <= 24*time.Hour {
			b.Indexed24h++
		}
		if elapsed <= 48*time.Hour {
			b.Indexed48h++
		}
		if elapsed <= 72*time.Hour {
			b.Indexed72h++
		}
		if elapsed <= 7*24*time.Hour {
			b.Indexed7d++
		}
	}
	return b, nil
}

// IndexedByService counts addresses confirmed absent at least once before
// they were finally indexed.
func (s *Store) IndexedByService(_ context.Context, projectID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, a := range s.addresses {
		if projectID != "" && a.ProjectID != projectID {
			continue
		}
		if a.Status == indexer.StatusIndexed && a.VerifiedNotIndexed {
			n++
		}
	}
	return n, nil
}

// DailySeries returns submitted/indexed counts per day for the last N days.
func (s *Store) DailySeries(_ context.Context, projectID string, days int) ([]indexer.DailyCount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	submitted := map[string]int{}
	indexed := map[string]int{}
	for _, a := range s.addresses {
		if projectID != "" && a.ProjectID != projectID {
			continue
		}
		if a.SubmittedAt != nil {
			submitted[a.SubmittedAt.UTC().Format("2006-01-02")]++
		}
		if a.IndexedAt != nil {
			indexed[a.IndexedAt.UTC().Format("2006-01-02")]++
		}
	}
	now := s.clock.Now()
	out := make([]indexer.DailyCount, 0, days)
	for i := days - 1; i >= 0; i-- {
		day := now.AddDate(0, 0, -i).UTC().Format("2006-01-02")
		out = append(out, indexer.DailyCount{
			Day:       day,
			Submitted: submitted[day],
			Indexed:   indexed[day],
		})
	}
	return out, nil
}

// ---- helpers ----

func (s *Store) ownerLocked(projectID string) (string, error) {
	p, ok := s.projects[projectID]
	if !ok {
		return "", fmt.Errorf("project %s: %w", projectID, indexer.ErrNotFound)
	}
	return p.UserID, nil
}

func (s *Store) balanceLocked(userID string) int {
	balance := 0
	for _, tx := range s.transactions {
		if tx.UserID == userID {
			balance += tx.Amount
		}
	}
	return balance
}

func (s *Store) appendTransactionLocked(userID string, amount int, typ indexer.TransactionType, description, addressID string) error {
	id, err := s.idGen.NewID()
	if err != nil {
		return fmt.Errorf("generate transaction id: %w", err)
	}
	s.transactions = append(s.transactions, indexer.CreditTransaction{
		ID:          id,
		UserID:      userID,
		Amount:      amount,
		Type:        typ,
		Description: strings.TrimSpace(description),
		AddressID:   addressID,
		CreatedAt:   s.clock.Now(),
	})
	return nil
}

func cloneAddress(a indexer.Address) indexer.Address {
	cp := a
	cp.Channels = make(map[string]indexer.ChannelState, len(a.Channels))
	for k, v := range a.Channels {
		cp.Channels[k] = v
	}
	return cp
}

func window[T any](in []T, limit, offset int) []T {
	if offset > 0 {
		if offset >= len(in) {
			return nil
		}
		in = in[offset:]
	}
	if limit > 0 && len(in) > limit {
		in = in[:limit]
	}
	return in
}

package indexer

import (
	"net/url"
	"strings"
	"time"
)

// Status is the lifecycle state of an Address.
type Status string

// Lifecycle states, in the order an address normally moves through them.
const (
	StatusPending    Status = "pending"
	StatusSubmitted  Status = "submitted"
	StatusIndexing   Status = "indexing"
	StatusVerifying  Status = "verifying"
	StatusIndexed    Status = "indexed"
	StatusNotIndexed Status = "not_indexed"
	StatusRecredited Status = "recredited"
)

// AttemptStatus records the outcome of the most recent attempt on a channel.
type AttemptStatus string

const (
	AttemptNone    AttemptStatus = "none"
	AttemptSuccess AttemptStatus = "success"
	AttemptError   AttemptStatus = "error"
)

// ChannelState is the per-channel attempt bookkeeping kept on an Address.
type ChannelState struct {
	Attempts   int           `json:"attempts"`
	LastStatus AttemptStatus `json:"last_status"`
}

// Address is one URL tracked through the indexing lifecycle.
type Address struct {
	ID        string
	ProjectID string
	URL       string
	Domain    string
	Status    Status

	// Per-channel attempt counters, keyed by channel name.
	Channels map[string]ChannelState

	// Verification results.
	IsIndexed     bool
	IndexedAt     *time.Time
	LastCheckedAt *time.Time
	CheckCount    int
	CheckMethod   string

	// Indexation proof captured from the verification source.
	IndexedTitle   string
	IndexedSnippet string

	// PreIndexed marks addresses found in the index before any channel ran.
	// VerifiedNotIndexed marks addresses confirmed absent at least once,
	// which is what lets reporting attribute later indexing to this system.
	PreIndexed         bool
	VerifiedNotIndexed bool

	// Billing flags. CreditDebited is set at most once; CreditRefunded only
	// ever becomes true while the address is not indexed.
	CreditDebited  bool
	CreditRefunded bool

	SubmittedAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ChannelState returns the bookkeeping for a channel, zero-valued when the
// channel has never been attempted.
func (a *Address) ChannelState(name string) ChannelState {
	if a.Channels == nil {
		return ChannelState{LastStatus: AttemptNone}
	}
	st, ok := a.Channels[name]
	if !ok {
		return ChannelState{LastStatus: AttemptNone}
	}
	return st
}

// Project groups addresses under one owner and optional channel overrides.
type Project struct {
	ID          string
	UserID      string
	Name        string
	Description string

	// MainDomain is derived from the first member addresses.
	MainDomain string

	// CredentialID pins the project to one credential; empty means the
	// global pool.
	CredentialID string

	// Verification overrides. GSCProperty enables inspection-based checks
	// for the project's domain.
	GSCProperty string

	// IndexNow key served at IndexNowKeyLocation on the project's domain.
	IndexNowKey         string
	IndexNowKeyLocation string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Credential is a rate-limited external account used by quota-gated channels.
type Credential struct {
	ID          string
	Name        string
	Email       string
	JSONKey     []byte
	DailyQuota  int
	UsedToday   int
	IsActive    bool
	LastResetAt *time.Time
	CreatedAt   time.Time
}

// Remaining reports the quota left for today.
func (c Credential) Remaining() int {
	if r := c.DailyQuota - c.UsedToday; r > 0 {
		return r
	}
	return 0
}

// DefaultDailyQuota matches the Indexing API's per-account publish limit.
const DefaultDailyQuota = 200

// TransactionType classifies credit ledger rows.
type TransactionType string

const (
	TransactionPurchase TransactionType = "purchase"
	TransactionDebit    TransactionType = "debit"
	TransactionRefund   TransactionType = "refund"
	TransactionBonus    TransactionType = "bonus"
)

// CreditTransaction is one append-only ledger row. A user's balance is the
// sum of their transaction amounts; rows are never mutated.
type CreditTransaction struct {
	ID          string
	UserID      string
	Amount      int
	Type        TransactionType
	Description string
	AddressID   string
	CreatedAt   time.Time
}

// CheckResult is what a verification source reports for one URL.
// Indexed is nil when no reliable method was available, in which case the
// address state must be left untouched.
type CheckResult struct {
	Indexed *bool
	Method  string
	Title   string
	Snippet string
}

// AttemptRecord is one appended row of the channel attempt log, kept for
// per-channel success-rate reporting.
type AttemptRecord struct {
	AddressID string
	Channel   string
	Status    AttemptStatus
	At        time.Time
}

// Task is one unit of delayed work: submit one address on one channel, or
// verify one address when Channel is empty.
type Task struct {
	AddressID string    `json:"address_id"`
	ProjectID string    `json:"project_id"`
	Channel   string    `json:"channel,omitempty"`
	Attempt   int       `json:"attempt"`
	RunAt     time.Time `json:"run_at"`
}

// QueueStats summarizes a task queue for monitoring.
type QueueStats struct {
	Total    int64
	Eligible int64
	Delayed  int64
}

// VerificationWindow is how long an address gets to reach the index before
// its credit is returned.
const VerificationWindow = 14 * 24 * time.Hour

// DomainOf extracts the lowercase hostname of a raw address, or "" when the
// address does not parse.
func DomainOf(rawURL string) string {
	if !strings.Contains(rawURL, "://") {
		rawURL = "https://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

package indexer

import (
	"context"
	"time"
)

// Channel names. Adding a channel means implementing Channel and registering
// it under a new name; nothing in the dispatcher changes.
const (
	ChannelIndexingAPI = "indexing_api"
	ChannelIndexNow    = "indexnow"
	ChannelPingomatic  = "pingomatic"
	ChannelWebSub      = "websub"
	ChannelArchive     = "archive_org"
	ChannelSitemap     = "sitemap"
)

// Outcome classifies one channel submission attempt.
type Outcome string

const (
	OutcomeSuccess     Outcome = "success"
	OutcomeError       Outcome = "error"
	OutcomeRateLimited Outcome = "rate_limited"
)

// SubmitRequest carries everything a channel needs for one attempt.
type SubmitRequest struct {
	Address    Address
	Project    Project
	Credential *Credential
}

// SubmitResult is the attempt outcome. Err is set for OutcomeError and may
// be a *ChannelError to mark the failure permanent. StatusCode carries the
// remote HTTP status when one was received, so quota handling can react to
// explicit 429/403 rejections.
type SubmitResult struct {
	Outcome    Outcome
	Detail     string
	StatusCode int
	Err        error
}

// Channel is one external submission mechanism.
type Channel interface {
	Name() string
	// QuotaGated channels consume a Credential per attempt.
	QuotaGated() bool
	Submit(ctx context.Context, req SubmitRequest) SubmitResult
}

// Checker verifies whether a URL is present in the search index. A nil
// Indexed in the result means no reliable method was available. An error
// return is transient and must not change address state.
type Checker interface {
	Check(ctx context.Context, rawURL string) (CheckResult, error)
}

// AddressStore persists addresses. Conditional mutations return
// ErrConcurrencyLost when another worker got there first; combined
// billing mutations are atomic with the status transition they belong to.
type AddressStore interface {
	CreateAddresses(ctx context.Context, projectID string, addrs []Address) (int, error)
	GetAddress(ctx context.Context, id string) (Address, error)
	ListAddresses(ctx context.Context, projectID string, limit, offset int) ([]Address, error)
	ListPending(ctx context.Context, limit int) ([]Address, error)
	ListForVerification(ctx context.Context, f VerificationFilter) ([]Address, error)
	ListForRecredit(ctx context.Context, cutoff time.Time, limit int) ([]Address, error)

	// ClaimSubmission moves pending to submitted and debits one credit from
	// the owning user in the same atomic unit. The debit is skipped when
	// CreditDebited is already set (resubmits are free).
	ClaimSubmission(ctx context.Context, addressID string, at time.Time) (Address, error)

	RecordAttempt(ctx context.Context, addressID, channel string, status AttemptStatus) error

	// AdvanceStatus moves the address to a new status only when its current
	// status is one of from.
	AdvanceStatus(ctx context.Context, addressID string, from []Status, to Status) error

	// MarkIndexed records a positive verification and, when refund is set
	// (pre-indexed discovery), returns the debited credit. No-op when the
	// address is already indexed.
	MarkIndexed(ctx context.Context, addressID string, res CheckResult, at time.Time, refund bool) (Address, error)

	// MarkNotIndexed records a clean negative check.
	MarkNotIndexed(ctx context.Context, addressID, method string, at time.Time) error

	// Recredit moves the address to recredited and refunds the credit.
	// Returns false without side effects when billing flags rule it out.
	Recredit(ctx context.Context, addressID, reason string) (bool, error)

	// ResetForResubmit clears channel counters and returns the address to
	// pending. Billing flags are preserved.
	ResetForResubmit(ctx context.Context, addressID string) (Address, error)

	// DeleteAddress removes the address, settling any outstanding refund
	// first. Reports whether a refund was issued.
	DeleteAddress(ctx context.Context, addressID string) (bool, error)
}

// VerificationFilter selects addresses due a verification pass. Zero-valued
// fields are ignored.
type VerificationFilter struct {
	SubmittedAfter  time.Time
	SubmittedBefore time.Time
	NotCheckedSince time.Time
	Limit           int
}

// CredentialStore persists credentials and owns the atomic quota counter.
type CredentialStore interface {
	AddCredential(ctx context.Context, c Credential) error
	GetCredential(ctx context.Context, id string) (Credential, error)
	ListCredentials(ctx context.Context) ([]Credential, error)
	RemoveCredential(ctx context.Context, id string) error

	// NextAvailable returns the active credential with the most remaining
	// quota, or the one identified by credentialID when non-empty.
	// ErrQuotaExhausted when nothing has quota left.
	NextAvailable(ctx context.Context, credentialID string) (Credential, error)

	// ConsumeQuota increments used_today by n as a single atomic statement.
	// ErrQuotaExhausted when the increment would pass daily_quota.
	ConsumeQuota(ctx context.Context, id string, n int) error

	Disable(ctx context.Context, id string) error

	// ResetQuotas zeroes used_today for all credentials, once per UTC day.
	// Running it twice on the same day resets nothing the second time.
	ResetQuotas(ctx context.Context, day time.Time) (int, error)
}

// ProjectStore persists projects.
type ProjectStore interface {
	CreateProject(ctx context.Context, p Project) error
	GetProject(ctx context.Context, id string) (Project, error)
	ListProjects(ctx context.Context, userID string) ([]Project, error)
	SetMainDomain(ctx context.Context, id, domain string) error
	DeleteProject(ctx context.Context, id string) error
}

// Ledger reads and extends the append-only credit ledger. Debits and refunds
// tied to lifecycle transitions go through AddressStore; this interface
// covers balance reads and standalone grants.
type Ledger interface {
	Balance(ctx context.Context, userID string) (int, error)
	AddCredits(ctx context.Context, userID string, amount int, typ TransactionType, description string) (int, error)
	Transactions(ctx context.Context, userID string, limit, offset int) ([]CreditTransaction, error)
	TransactionsForAddress(ctx context.Context, addressID string) ([]CreditTransaction, error)
}

// Reporting read-model types.
type (
	StatusCounts  map[Status]int
	ChannelTotals struct {
		Attempts int `json:"attempts"`
		Success  int `json:"success"`
		Error    int `json:"error"`
	}
	SpeedBuckets struct {
		TotalSubmitted int `json:"total_submitted"`
		Indexed24h     int `json:"indexed_24h"`
		Indexed48h     int `json:"indexed_48h"`
		Indexed72h     int `json:"indexed_72h"`
		Indexed7d      int `json:"indexed_7d"`
	}
	DailyCount struct {
		Day       string `json:"date"`
		Submitted int    `json:"submitted"`
		Indexed   int    `json:"indexed"`
	}
)

// ReportStore exposes the derived reporting aggregates. An empty projectID
// means global scope.
type ReportStore interface {
	StatusCounts(ctx context.Context, projectID string) (StatusCounts, error)
	ChannelTotals(ctx context.Context, projectID string) (map[string]ChannelTotals, error)
	SpeedBuckets(ctx context.Context, projectID string) (SpeedBuckets, error)
	IndexedByService(ctx context.Context, projectID string) (int, error)
	DailySeries(ctx context.Context, projectID string, days int) ([]DailyCount, error)
}

// Store is the full durable store contract.
type Store interface {
	AddressStore
	CredentialStore
	ProjectStore
	Ledger
	ReportStore
}

// TaskQueue is a delayed task queue: tasks become eligible at RunAt.
type TaskQueue interface {
	Enqueue(ctx context.Context, tasks ...Task) error
	// PopDue atomically removes and returns up to limit tasks whose RunAt
	// is not after now.
	PopDue(ctx context.Context, now time.Time, limit int) ([]Task, error)
	Stats(ctx context.Context) (QueueStats, error)
}

// Locker serializes work per address across workers.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

// Publisher pushes notification events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// BlobStore writes raw artifacts (sitemaps, export snapshots) and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces entity IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}

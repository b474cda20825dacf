package indexer

import (
	"errors"
	"fmt"
)

// Sentinel errors shared across the service.
var (
	// ErrNotFound reports a missing address, project, user or credential.
	ErrNotFound = errors.New("not found")

	// ErrInsufficientCredit aborts a submission before any channel runs;
	// the address stays pending and nothing is debited.
	ErrInsufficientCredit = errors.New("insufficient credit")

	// ErrQuotaExhausted means no credential has quota left today. Not a
	// failure: the attempt is deferred to a later cycle.
	ErrQuotaExhausted = errors.New("credential quota exhausted")

	// ErrConcurrencyLost means another worker claimed the address first.
	// Losing the race is a silent no-op.
	ErrConcurrencyLost = errors.New("claim lost to concurrent worker")

	// ErrRateLimited defers a channel attempt without counting it.
	ErrRateLimited = errors.New("rate limited")

	// ErrAlreadyIndexed rejects a resubmit or forced state change on an
	// address that already reached indexed.
	ErrAlreadyIndexed = errors.New("address already indexed")
)

// ChannelError wraps a channel submission failure. Permanent errors (explicit
// 4xx rejections) count against the retry ceiling immediately; transient ones
// are retried with backoff.
type ChannelError struct {
	Channel   string
	Permanent bool
	Err       error
}

func (e *ChannelError) Error() string {
	kind := "transient"
	if e.Permanent {
		kind = "permanent"
	}
	return fmt.Sprintf("channel %s: %s: %v", e.Channel, kind, e.Err)
}

func (e *ChannelError) Unwrap() error { return e.Err }

// IsPermanent reports whether err is a permanent channel rejection.
func IsPermanent(err error) bool {
	var ce *ChannelError
	return errors.As(err, &ce) && ce.Permanent
}

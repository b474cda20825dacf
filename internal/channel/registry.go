package channel

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/launchindex/indexer/internal/indexer"
)

// Stagger delays spread one address's channel submissions over time instead
// of hammering every service at once.
var staggerDelays = map[string]time.Duration{
	indexer.ChannelIndexNow:    0,
	indexer.ChannelPingomatic:  2 * time.Minute,
	indexer.ChannelWebSub:      4 * time.Minute,
	indexer.ChannelArchive:     8 * time.Minute,
	indexer.ChannelSitemap:     16 * time.Minute,
	indexer.ChannelIndexingAPI: 30 * time.Minute,
}

// StaggerDelay returns how long after claim a channel's first attempt waits.
func StaggerDelay(channel string) time.Duration {
	return staggerDelays[channel]
}

// Registry holds the active channels and throttles attempts per channel and
// domain so one site cannot burn a channel's goodwill.
type Registry struct {
	mu       sync.Mutex
	channels map[string]indexer.Channel
	names    []string
	limiters map[string]*rate.Limiter
	perSec   rate.Limit
	burst    int
}

// NewRegistry constructs a Registry. perDomainPerSec <= 0 disables the
// cooldown entirely.
func NewRegistry(perDomainPerSec float64, burst int) *Registry {
	if burst <= 0 {
		burst = 1
	}
	return &Registry{
		channels: make(map[string]indexer.Channel),
		limiters: make(map[string]*rate.Limiter),
		perSec:   rate.Limit(perDomainPerSec),
		burst:    burst,
	}
}

// Register adds a channel. Registration order is the stagger enqueue order.
func (r *Registry) Register(c indexer.Channel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.channels[c.Name()]; !ok {
		r.names = append(r.names, c.Name())
	}
	r.channels[c.Name()] = c
}

// Get returns the channel registered under name.
func (r *Registry) Get(name string) (indexer.Channel, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.channels[name]
	return c, ok
}

// Names returns the registered channel names in registration order.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.names...)
}

// Submit runs one attempt through the per-domain cooldown, then the channel.
func (r *Registry) Submit(ctx context.Context, name string, req indexer.SubmitRequest) indexer.SubmitResult {
	c, ok := r.Get(name)
	if !ok {
		return permanentResult(name, errUnknownChannel(name))
	}
	if !r.allow(name, req.Address.Domain) {
		return indexer.SubmitResult{Outcome: indexer.OutcomeRateLimited, Detail: "domain cooldown"}
	}
	return c.Submit(ctx, req)
}

func (r *Registry) allow(channel, domain string) bool {
	if r.perSec <= 0 {
		return true
	}
	r.mu.Lock()
	key := channel + "|" + domain
	lim, ok := r.limiters[key]
	if !ok {
		lim = rate.NewLimiter(r.perSec, r.burst)
		r.limiters[key] = lim
	}
	r.mu.Unlock()
	return lim.Allow()
}

type errUnknownChannel string

func (e errUnknownChannel) Error() string { return "unknown channel " + string(e) }

package verify

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/api/customsearch/v1"
	"google.golang.org/api/option"

	"github.com/launchindex/indexer/internal/indexer"
)

// MethodCustomSearch names the Custom Search checker.
const MethodCustomSearch = "custom_search"

// CustomSearch probes the index with a site: query. Less authoritative than
// inspection but works without a verified property, which makes it the
// fallback in the chain.
type CustomSearch struct {
	apiKey string
	cseID  string
	extra  []option.ClientOption
}

// NewCustomSearch constructs the checker.
func NewCustomSearch(apiKey, cseID string, extra ...option.ClientOption) *CustomSearch {
	return &CustomSearch{apiKey: apiKey, cseID: cseID, extra: extra}
}

// SettingsCustomSearch reads its key and engine id from the shared settings
// on every check, so runtime updates apply to callers holding an old handle.
type SettingsCustomSearch struct {
	settings *Settings
	extra    []option.ClientOption
}

// NewSettingsCustomSearch constructs the settings-backed checker.
func NewSettingsCustomSearch(settings *Settings, extra ...option.ClientOption) *SettingsCustomSearch {
	return &SettingsCustomSearch{settings: settings, extra: extra}
}

func (c *SettingsCustomSearch) Check(ctx context.Context, rawURL string) (indexer.CheckResult, error) {
	v := c.settings.Get()
	return NewCustomSearch(v.CustomSearchAPIKey, v.CustomSearchCSEID, c.extra...).Check(ctx, rawURL)
}

// Check searches for the exact URL. A successful query with no matching item
// is a definite negative; matching items carry the indexed title and snippet
// as proof.
func (c *CustomSearch) Check(ctx context.Context, rawURL string) (indexer.CheckResult, error) {
	if c.apiKey == "" || c.cseID == "" {
		return indexer.CheckResult{}, fmt.Errorf("custom search not configured")
	}
	opts := append([]option.ClientOption{option.WithAPIKey(c.apiKey)}, c.extra...)
	svc, err := customsearch.NewService(ctx, opts...)
	if err != nil {
		return indexer.CheckResult{}, fmt.Errorf("build customsearch service: %w", err)
	}
	resp, err := svc.Cse.List().Cx(c.cseID).Q("site:" + rawURL).Num(10).Context(ctx).Do()
	if err != nil {
		return indexer.CheckResult{}, fmt.Errorf("search url: %w", err)
	}
	for _, item := range resp.Items {
		if !sameURL(item.Link, rawURL) {
			continue
		}
		indexed := true
		return indexer.CheckResult{
			Indexed: &indexed,
			Method:  MethodCustomSearch,
			Title:   item.Title,
			Snippet: item.Snippet,
		}, nil
	}
	indexed := false
	return indexer.CheckResult{Indexed: &indexed, Method: MethodCustomSearch}, nil
}

// sameURL compares URLs ignoring scheme and trailing slash, which search
// results normalize freely.
func sameURL(a, b string) bool {
	return normalizeURL(a) == normalizeURL(b)
}

func normalizeURL(raw string) string {
	raw = strings.TrimPrefix(raw, "http://")
	raw = strings.TrimPrefix(raw, "https://")
	return strings.TrimRight(strings.ToLower(raw), "/")
}

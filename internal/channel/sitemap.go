package channel

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/launchindex/indexer/internal/indexer"
)

// Sitemap writes a one-URL sitemap to blob storage and pings the search
// engine with its public location. The blob path must be served under
// baseURL for the ping to mean anything.
type Sitemap struct {
	blobs        indexer.BlobStore
	baseURL      string
	pingEndpoint string
	client       *http.Client
	clock        indexer.Clock
}

// NewSitemap constructs the channel. pingEndpoint may be empty to skip the
// ping and only publish the sitemap blob.
func NewSitemap(blobs indexer.BlobStore, baseURL, pingEndpoint string, client *http.Client, clock indexer.Clock) *Sitemap {
	if client == nil {
		client = &http.Client{Timeout: defaultHTTPTimeout}
	}
	return &Sitemap{
		blobs:        blobs,
		baseURL:      strings.TrimRight(baseURL, "/"),
		pingEndpoint: pingEndpoint,
		client:       client,
		clock:        clock,
	}
}

func (c *Sitemap) Name() string     { return indexer.ChannelSitemap }
func (c *Sitemap) QuotaGated() bool { return false }

type sitemapURLSet struct {
	XMLName xml.Name     `xml:"urlset"`
	XMLNS   string       `xml:"xmlns,attr"`
	URLs    []sitemapURL `xml:"url"`
}

type sitemapURL struct {
	Loc     string `xml:"loc"`
	LastMod string `xml:"lastmod"`
}

// Submit publishes the sitemap and pings the engine with its location.
func (c *Sitemap) Submit(ctx context.Context, req indexer.SubmitRequest) indexer.SubmitResult {
	set := sitemapURLSet{
		XMLNS: "http://www.sitemaps.org/schemas/sitemap/0.9",
		URLs: []sitemapURL{{
			Loc:     req.Address.URL,
			LastMod: c.clock.Now().Format(time.RFC3339),
		}},
	}
	body, err := xml.MarshalIndent(set, "", "  ")
	if err != nil {
		return permanentResult(c.Name(), fmt.Errorf("marshal sitemap: %w", err))
	}
	body = append([]byte(xml.Header), body...)

	path := fmt.Sprintf("sitemaps/%s/%s.xml", req.Project.ID, req.Address.ID)
	if _, err := c.blobs.PutObject(ctx, path, "application/xml", body); err != nil {
		return transientResult(c.Name(), fmt.Errorf("store sitemap: %w", err))
	}
	if c.pingEndpoint == "" {
		return indexer.SubmitResult{Outcome: indexer.OutcomeSuccess, Detail: "sitemap stored"}
	}

	public := c.baseURL + "/" + path
	pingURL := c.pingEndpoint + url.QueryEscape(public)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, pingURL, nil)
	if err != nil {
		return permanentResult(c.Name(), fmt.Errorf("build ping request: %w", err))
	}
	resp, err := c.client.Do(httpReq)
	if err != nil {
		return transientResult(c.Name(), fmt.Errorf("ping sitemap: %w", err))
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return indexer.SubmitResult{Outcome: indexer.OutcomeSuccess, Detail: resp.Status, StatusCode: resp.StatusCode}
	case resp.StatusCode == http.StatusTooManyRequests:
		return indexer.SubmitResult{Outcome: indexer.OutcomeRateLimited, Detail: resp.Status, StatusCode: resp.StatusCode}
	default:
		return transientResult(c.Name(), fmt.Errorf("sitemap ping failed: %s", resp.Status))
	}
}

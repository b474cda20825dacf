// Package channel implements the external URL submission mechanisms.
package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/launchindex/indexer/internal/indexer"
)

const defaultHTTPTimeout = 15 * time.Second

// IndexNow submits URLs to the IndexNow endpoint shared by Bing, Yandex and
// friends. The key is served by the site at keyLocation; a project can carry
// its own key, otherwise the shared one applies.
type IndexNow struct {
	endpoint string
	key      string
	client   *http.Client
}

// NewIndexNow constructs the channel.
func NewIndexNow(endpoint, key string, client *http.Client) *IndexNow {
	if client == nil {
		client = &http.Client{Timeout: defaultHTTPTimeout}
	}
	return &IndexNow{endpoint: endpoint, key: key, client: client}
}

func (c *IndexNow) Name() string     { return indexer.ChannelIndexNow }
func (c *IndexNow) QuotaGated() bool { return false }

type indexNowPayload struct {
	Host        string   `json:"host"`
	Key         string   `json:"key"`
	KeyLocation string   `json:"keyLocation,omitempty"`
	URLList     []string `json:"urlList"`
}

// Submit posts the single-URL payload. 200 and 202 both mean accepted.
func (c *IndexNow) Submit(ctx context.Context, req indexer.SubmitRequest) indexer.SubmitResult {
	key := req.Project.IndexNowKey
	if key == "" {
		key = c.key
	}
	if key == "" {
		return permanentResult(c.Name(), fmt.Errorf("no indexnow key configured"))
	}
	parsed, err := url.Parse(req.Address.URL)
	if err != nil || parsed.Host == "" {
		return permanentResult(c.Name(), fmt.Errorf("parse url %q: %w", req.Address.URL, err))
	}
	payload := indexNowPayload{
		Host:        parsed.Hostname(),
		Key:         key,
		KeyLocation: req.Project.IndexNowKeyLocation,
		URLList:     []string{req.Address.URL},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return permanentResult(c.Name(), fmt.Errorf("marshal payload: %w", err))
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return permanentResult(c.Name(), fmt.Errorf("build request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json; charset=utf-8")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return transientResult(c.Name(), fmt.Errorf("post indexnow: %w", err))
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusAccepted:
		return indexer.SubmitResult{Outcome: indexer.OutcomeSuccess, Detail: resp.Status, StatusCode: resp.StatusCode}
	case resp.StatusCode == http.StatusTooManyRequests:
		return indexer.SubmitResult{Outcome: indexer.OutcomeRateLimited, Detail: resp.Status, StatusCode: resp.StatusCode}
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return permanentResult(c.Name(), fmt.Errorf("indexnow rejected: %s", resp.Status))
	default:
		return transientResult(c.Name(), fmt.Errorf("indexnow failed: %s", resp.Status))
	}
}

func permanentResult(channel string, err error) indexer.SubmitResult {
	return indexer.SubmitResult{
		Outcome: indexer.OutcomeError,
		Detail:  err.Error(),
		Err:     &indexer.ChannelError{Channel: channel, Permanent: true, Err: err},
	}
}

func transientResult(channel string, err error) indexer.SubmitResult {
	return indexer.SubmitResult{
		Outcome: indexer.OutcomeError,
		Detail:  err.Error(),
		Err:     &indexer.ChannelError{Channel: channel, Err: err},
	}
}

package channel

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/launchindex/indexer/internal/indexer"
)

// Pingomatic announces the URL over the weblogUpdates XML-RPC interface.
type Pingomatic struct {
	endpoint string
	client   *http.Client
}

// NewPingomatic constructs the channel.
func NewPingomatic(endpoint string, client *http.Client) *Pingomatic {
	if client == nil {
		client = &http.Client{Timeout: defaultHTTPTimeout}
	}
	return &Pingomatic{endpoint: endpoint, client: client}
}

func (c *Pingomatic) Name() string     { return indexer.ChannelPingomatic }
func (c *Pingomatic) QuotaGated() bool { return false }

type xmlRPCResponse struct {
	XMLName xml.Name `xml:"methodResponse"`
	Fault   *struct {
		Value struct {
			Inner string `xml:",innerxml"`
		} `xml:"value"`
	} `xml:"fault"`
}

// Submit sends a weblogUpdates.ping call. An XML-RPC fault in a 200 response
// still counts as a permanent rejection.
func (c *Pingomatic) Submit(ctx context.Context, req indexer.SubmitRequest) indexer.SubmitResult {
	var call strings.Builder
	call.WriteString(`<?xml version="1.0"?><methodCall><methodName>weblogUpdates.ping</methodName><params>`)
	for _, param := range []string{req.Project.Name, req.Address.URL} {
		call.WriteString("<param><value><string>")
		if err := xml.EscapeText(&call, []byte(param)); err != nil {
			return permanentResult(c.Name(), fmt.Errorf("escape param: %w", err))
		}
		call.WriteString("</string></value></param>")
	}
	call.WriteString(`</params></methodCall>`)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, strings.NewReader(call.String()))
	if err != nil {
		return permanentResult(c.Name(), fmt.Errorf("build request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "text/xml")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return transientResult(c.Name(), fmt.Errorf("post ping: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return indexer.SubmitResult{Outcome: indexer.OutcomeRateLimited, Detail: resp.Status, StatusCode: resp.StatusCode}
	}
	if resp.StatusCode != http.StatusOK {
		return transientResult(c.Name(), fmt.Errorf("ping failed: %s", resp.Status))
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return transientResult(c.Name(), fmt.Errorf("read ping response: %w", err))
	}
	var parsed xmlRPCResponse
	if err := xml.Unmarshal(body, &parsed); err != nil {
		return transientResult(c.Name(), fmt.Errorf("decode ping response: %w", err))
	}
	if parsed.Fault != nil {
		return permanentResult(c.Name(), fmt.Errorf("ping fault: %s", strings.TrimSpace(parsed.Fault.Value.Inner)))
	}
	return indexer.SubmitResult{Outcome: indexer.OutcomeSuccess, Detail: resp.Status, StatusCode: resp.StatusCode}
}

// WebSub publishes the URL to a WebSub hub so subscribers refetch it.
type WebSub struct {
	hub    string
	client *http.Client
}

// NewWebSub constructs the channel.
func NewWebSub(hub string, client *http.Client) *WebSub {
	if client == nil {
		client = &http.Client{Timeout: defaultHTTPTimeout}
	}
	return &WebSub{hub: hub, client: client}
}

func (c *WebSub) Name() string     { return indexer.ChannelWebSub }
func (c *WebSub) QuotaGated() bool { return false }

// Submit posts hub.mode=publish form data. Hubs answer 202 or 204 on accept.
func (c *WebSub) Submit(ctx context.Context, req indexer.SubmitRequest) indexer.SubmitResult {
	form := url.Values{
		"hub.mode": {"publish"},
		"hub.url":  {req.Address.URL},
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.hub, strings.NewReader(form.Encode()))
	if err != nil {
		return permanentResult(c.Name(), fmt.Errorf("build request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return transientResult(c.Name(), fmt.Errorf("post websub: %w", err))
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return indexer.SubmitResult{Outcome: indexer.OutcomeSuccess, Detail: resp.Status, StatusCode: resp.StatusCode}
	case resp.StatusCode == http.StatusTooManyRequests:
		return indexer.SubmitResult{Outcome: indexer.OutcomeRateLimited, Detail: resp.Status, StatusCode: resp.StatusCode}
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return permanentResult(c.Name(), fmt.Errorf("websub rejected: %s", resp.Status))
	default:
		return transientResult(c.Name(), fmt.Errorf("websub failed: %s", resp.Status))
	}
}

// Archive asks the Wayback Machine to capture the URL, which leaves a public
// crawl trace pointing at it.
type Archive struct {
	endpoint string
	client   *http.Client
}

// NewArchive constructs the channel.
func NewArchive(endpoint string, client *http.Client) *Archive {
	if client == nil {
		client = &http.Client{Timeout: defaultHTTPTimeout}
	}
	return &Archive{endpoint: endpoint, client: client}
}

func (c *Archive) Name() string     { return indexer.ChannelArchive }
func (c *Archive) QuotaGated() bool { return false }

// Submit issues a save request. The archive throttles aggressively, so 429
// defers the attempt rather than counting it.
func (c *Archive) Submit(ctx context.Context, req indexer.SubmitRequest) indexer.SubmitResult {
	saveURL := strings.TrimRight(c.endpoint, "/") + "/" + req.Address.URL
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, saveURL, nil)
	if err != nil {
		return permanentResult(c.Name(), fmt.Errorf("build request: %w", err))
	}
	resp, err := c.client.Do(httpReq)
	if err != nil {
		return transientResult(c.Name(), fmt.Errorf("get archive save: %w", err))
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return indexer.SubmitResult{Outcome: indexer.OutcomeSuccess, Detail: resp.Status, StatusCode: resp.StatusCode}
	case resp.StatusCode == http.StatusTooManyRequests:
		return indexer.SubmitResult{Outcome: indexer.OutcomeRateLimited, Detail: resp.Status, StatusCode: resp.StatusCode}
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return permanentResult(c.Name(), fmt.Errorf("archive rejected: %s", resp.Status))
	default:
		return transientResult(c.Name(), fmt.Errorf("archive failed: %s", resp.Status))
	}
}

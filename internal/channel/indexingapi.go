package channel

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"google.golang.org/api/googleapi"
	"google.golang.org/api/indexing/v3"
	"google.golang.org/api/option"

	"github.com/launchindex/indexer/internal/indexer"
)

// IndexingAPI submits URLs through the Indexing API using the credential the
// dispatcher acquired for the attempt. Services are built per credential
// because each one carries its own service-account key.
type IndexingAPI struct {
	extra []option.ClientOption
}

// NewIndexingAPI constructs the channel. extra options are appended after the
// credential option, which lets tests inject an endpoint and client.
func NewIndexingAPI(extra ...option.ClientOption) *IndexingAPI {
	return &IndexingAPI{extra: extra}
}

func (c *IndexingAPI) Name() string     { return indexer.ChannelIndexingAPI }
func (c *IndexingAPI) QuotaGated() bool { return true }

// Submit publishes a URL_UPDATED notification.
func (c *IndexingAPI) Submit(ctx context.Context, req indexer.SubmitRequest) indexer.SubmitResult {
	if req.Credential == nil || len(req.Credential.JSONKey) == 0 {
		return permanentResult(c.Name(), fmt.Errorf("no service account credential"))
	}
	opts := append([]option.ClientOption{option.WithCredentialsJSON(req.Credential.JSONKey)}, c.extra...)
	svc, err := indexing.NewService(ctx, opts...)
	if err != nil {
		return transientResult(c.Name(), fmt.Errorf("build indexing service: %w", err))
	}
	notification := &indexing.UrlNotification{
		Url:  req.Address.URL,
		Type: "URL_UPDATED",
	}
	_, err = svc.UrlNotifications.Publish(notification).Context(ctx).Do()
	if err != nil {
		var apiErr *googleapi.Error
		if errors.As(err, &apiErr) {
			switch {
			case apiErr.Code == http.StatusTooManyRequests || apiErr.Code == http.StatusForbidden:
				return indexer.SubmitResult{
					Outcome:    indexer.OutcomeRateLimited,
					Detail:     apiErr.Message,
					StatusCode: apiErr.Code,
				}
			case apiErr.Code >= 400 && apiErr.Code < 500:
				res := permanentResult(c.Name(), fmt.Errorf("indexing api rejected: %w", err))
				res.StatusCode = apiErr.Code
				return res
			default:
				res := transientResult(c.Name(), fmt.Errorf("indexing api failed: %w", err))
				res.StatusCode = apiErr.Code
				return res
			}
		}
		return transientResult(c.Name(), fmt.Errorf("publish notification: %w", err))
	}
	return indexer.SubmitResult{Outcome: indexer.OutcomeSuccess, Detail: "URL_UPDATED accepted", StatusCode: http.StatusOK}
}

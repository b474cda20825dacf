package credential

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

// Tester verifies a service-account key by making a dry metadata call
// against the Indexing API.
type Tester struct {
	extra []option.ClientOption
}

// NewTester builds a Tester. Extra options are for tests pointing at a
// fake endpoint.
func NewTester(extra ...option.ClientOption) *Tester {
	return &Tester{extra: extra}
}

// Test authenticates with the credential and requests notification metadata
// for a probe URL. A NOT_FOUND answer still proves the key is accepted;
// permission and auth failures surface as errors.
func (t *Tester) Test(ctx context.Context, cred indexer.Credential) error {
	opts := append([]option.ClientOption{
		option.WithCredentialsJSON(cred.JSONKey),
	}, t.extra...)
	svc, err := indexing.NewService(ctx, opts...)
	if err != nil {
		return fmt.Errorf("build indexing client: %w", err)
	}

	_, err = svc.UrlNotifications.GetMetadata().
		Url("https://example.com/").Context(ctx).Do()
	if err == nil {
		return nil
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && gerr.Code == http.StatusNotFound {
		return nil
	}
	return fmt.Errorf("credential rejected: %w", err)
}

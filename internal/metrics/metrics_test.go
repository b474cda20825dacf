package metrics

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInitIsIdempotent(t *testing.T) {
	Init()
	Init()

	// Collectors must be usable after repeated Init.
	ObserveSubmission("indexnow", "success")
	ObserveVerification("custom_search", "indexed")
	ObserveCreditTransaction("debit")
	ObserveQuotaExhausted()
	ObserveClaimLost()
	SetQueueDepth("submission", "eligible", 3)
	IncActiveWorkers()
	DecActiveWorkers()
}

func TestHandlerServesMetrics(t *testing.T) {
	Init()
	ObserveSubmission("indexing_api", "error")

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	Handler().ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	require.Contains(t, rec.Body.String(), "indexer_submissions_total")
}

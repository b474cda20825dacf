package indexer

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCanTransitionHappyPath(t *testing.T) {
	t.Parallel()

	path := []Status{StatusPending, StatusSubmitted, StatusIndexing, StatusVerifying, StatusIndexed}
	for i := 0; i < len(path)-1; i++ {
		require.True(t, CanTransition(path[i], path[i+1]), "%s -> %s", path[i], path[i+1])
	}
}

func TestTerminalStatesRejectAllTransitions(t *testing.T) {
	t.Parallel()

	all := []Status{
		StatusPending, StatusSubmitted, StatusIndexing, StatusVerifying,
		StatusIndexed, StatusNotIndexed, StatusRecredited,
	}
	for _, to := range all {
		require.False(t, CanTransition(StatusIndexed, to))
		require.False(t, CanTransition(StatusRecredited, to))
	}
}

func TestRecreditEligibility(t *testing.T) {
	t.Parallel()

	require.True(t, StatusNotIndexed.RecreditEligible())
	require.True(t, StatusIndexing.RecreditEligible())
	require.True(t, StatusSubmitted.RecreditEligible())
	require.False(t, StatusPending.RecreditEligible())
	require.False(t, StatusIndexed.RecreditEligible())
	require.False(t, StatusRecredited.RecreditEligible())
}

func TestResubmittable(t *testing.T) {
	t.Parallel()

	require.False(t, StatusIndexed.Resubmittable())
	require.True(t, StatusRecredited.Resubmittable())
	require.True(t, StatusNotIndexed.Resubmittable())
}

func TestDomainOf(t *testing.T) {
	t.Parallel()

	require.Equal(t, "example.com", DomainOf("https://Example.com/page?a=1"))
	require.Equal(t, "example.com", DomainOf("example.com/page"))
	require.Equal(t, "sub.example.com", DomainOf("http://sub.example.com"))
	require.Equal(t, "", DomainOf("::not a url::"))
}

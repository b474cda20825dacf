package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPutObjectStoresCopy(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	payload := []byte("<urlset/>")

	uri, err := store.PutObject(context.Background(), "sitemaps/p/a.xml", "application/xml", payload)
	require.NoError(t, err)
	require.Equal(t, "memory://sitemaps/p/a.xml", uri)

	payload[0] = 'X'
	data, ok := store.Get("sitemaps/p/a.xml")
	require.True(t, ok)
	require.Equal(t, "<urlset/>", string(data))

	_, ok = store.Get("missing")
	require.False(t, ok)
}

package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/launchindex/indexer/internal/indexer"
	storagemem "github.com/launchindex/indexer/internal/storage/memory"
	storemem "github.com/launchindex/indexer/internal/store/memory"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

type seqIDs struct{ n int }

func (g *seqIDs) NewID() (string, error) {
	g.n++
	return fmt.Sprintf("id-%d", g.n), nil
}

func newFixture(t *testing.T) (*Exporter, *storemem.Store, *storagemem.BlobStore, fixedClock) {
	t.Helper()
	clock := fixedClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	store := storemem.New(clock, &seqIDs{})
	blobs := storagemem.NewBlobStore()
	return New(store, blobs, clock, zap.NewNop()), store, blobs, clock
}

func seed(t *testing.T, store *storemem.Store, clock fixedClock) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, store.CreateProject(ctx, indexer.Project{
		ID: "proj-1", UserID: "user-1", Name: "catalog",
	}))

	_, err := store.CreateAddresses(ctx, "proj-1", []indexer.Address{
		{ID: "addr-a", URL: "https://example.com/a"},
		{ID: "addr-b", URL: "https://example.com/b"},
	})
	require.NoError(t, err)

	yes := true
	_, err = store.MarkIndexed(ctx, "addr-a", indexer.CheckResult{
		Indexed: &yes, Method: "inspection",
	}, clock.t.Add(-2*time.Hour), false)
	require.NoError(t, err)
}

func TestWriteCSV(t *testing.T) {
	t.Parallel()

	exporter, store, _, clock := newFixture(t)
	seed(t, store, clock)

	var buf bytes.Buffer
	rows, err := exporter.WriteCSV(context.Background(), "proj-1", &buf)
	require.NoError(t, err)
	require.Equal(t, 2, rows)

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
	require.Equal(t, header, records[0])

	byURL := map[string][]string{}
	for _, rec := range records[1:] {
		byURL[rec[0]] = rec
	}
	indexed := byURL["https://example.com/a"]
	require.Equal(t, "indexed", indexed[1])
	require.Equal(t, "true", indexed[2])
	require.Equal(t, "inspection", indexed[4])
	require.Equal(t, "1", indexed[5])
	require.NotEmpty(t, indexed[7])

	pending := byURL["https://example.com/b"]
	require.Equal(t, "pending", pending[1])
	require.Equal(t, "false", pending[2])
	require.Empty(t, pending[7])
}

func TestWriteCSVEmptyProject(t *testing.T) {
	t.Parallel()

	exporter, store, _, _ := newFixture(t)
	require.NoError(t, store.CreateProject(context.Background(), indexer.Project{
		ID: "proj-empty", UserID: "user-1", Name: "empty",
	}))

	var buf bytes.Buffer
	rows, err := exporter.WriteCSV(context.Background(), "proj-empty", &buf)
	require.NoError(t, err)
	require.Zero(t, rows)

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 1)
}

func TestSnapshotStoresBlob(t *testing.T) {
	t.Parallel()

	exporter, store, blobs, clock := newFixture(t)
	seed(t, store, clock)

	url, rows, err := exporter.Snapshot(context.Background(), "proj-1")
	require.NoError(t, err)
	require.Equal(t, 2, rows)

	path := "exports/proj-1/2026-03-01T12-00-00Z.csv"
	require.Equal(t, "memory://"+path, url)

	data, ok := blobs.Get(path)
	require.True(t, ok)
	require.Contains(t, string(data), "https://example.com/a")
}

func TestSnapshotWithoutBlobStore(t *testing.T) {
	t.Parallel()

	clock := fixedClock{t: time.Now()}
	store := storemem.New(clock, &seqIDs{})
	exporter := New(store, nil, clock, zap.NewNop())

	_, _, err := exporter.Snapshot(context.Background(), "proj-1")
	require.Error(t, err)
}

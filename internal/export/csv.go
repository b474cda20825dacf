// Package export renders a project's addresses as a CSV report and can
// archive the snapshot to blob storage.
package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/launchindex/indexer/internal/indexer"
)

const pageSize = 500

var header = []string{
	"url", "status", "indexed", "pre_indexed", "check_method",
	"check_count", "submitted_at", "indexed_at", "last_checked_at",
}

// Exporter streams a project's addresses into CSV form.
type Exporter struct {
	addresses indexer.AddressStore
	blobs     indexer.BlobStore
	clock     indexer.Clock
	logger    *zap.Logger
}

// New builds an Exporter. blobs may be nil when snapshot archiving is off.
func New(addresses indexer.AddressStore, blobs indexer.BlobStore,
	clock indexer.Clock, logger *zap.Logger) *Exporter {
	return &Exporter{addresses: addresses, blobs: blobs, clock: clock, logger: logger}
}

// WriteCSV renders every address of the project and returns the row count.
func (e *Exporter) WriteCSV(ctx context.Context, projectID string, buf *bytes.Buffer) (int, error) {
	w := csv.NewWriter(buf)
	if err := w.Write(header); err != nil {
		return 0, fmt.Errorf("write csv header: %w", err)
	}

	rows := 0
	for offset := 0; ; offset += pageSize {
		addrs, err := e.addresses.ListAddresses(ctx, projectID, pageSize, offset)
		if err != nil {
			return 0, fmt.Errorf("list addresses: %w", err)
		}
		for _, a := range addrs {
			if err := w.Write(row(a)); err != nil {
				return 0, fmt.Errorf("write csv row: %w", err)
			}
			rows++
		}
		if len(addrs) < pageSize {
			break
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return 0, fmt.Errorf("flush csv: %w", err)
	}
	return rows, nil
}

// Snapshot renders the CSV and stores it under exports/<projectID>/, returning
// the blob URL.
func (e *Exporter) Snapshot(ctx context.Context, projectID string) (string, int, error) {
	if e.blobs == nil {
		return "", 0, fmt.Errorf("snapshot archiving is not configured")
	}

	var buf bytes.Buffer
	rows, err := e.WriteCSV(ctx, projectID, &buf)
	if err != nil {
		return "", 0, err
	}

	path := fmt.Sprintf("exports/%s/%s.csv", projectID,
		e.clock.Now().UTC().Format("2006-01-02T15-04-05Z"))
	url, err := e.blobs.PutObject(ctx, path, "text/csv", buf.Bytes())
	if err != nil {
		return "", 0, fmt.Errorf("store export snapshot: %w", err)
	}

	e.logger.Info("export snapshot stored",
		zap.String("project_id", projectID),
		zap.String("path", path),
		zap.Int("rows", rows))
	return url, rows, nil
}

func row(a indexer.Address) []string {
	return []string{
		a.URL,
		string(a.Status),
		strconv.FormatBool(a.IsIndexed),
		strconv.FormatBool(a.PreIndexed),
		a.CheckMethod,
		strconv.Itoa(a.CheckCount),
		formatTime(a.SubmittedAt),
		formatTime(a.IndexedAt),
		formatTime(a.LastCheckedAt),
	}
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

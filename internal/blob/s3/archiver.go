package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alanyoungcy/arbgraph/internal/domain"
)

// OpportunityHistory lists opportunities for archival.
type OpportunityHistory interface {
	ListBefore(ctx context.Context, before time.Time) ([]domain.Opportunity, error)
}

// HistoryArchiver copies opportunity history older than a cutoff to object
// storage as JSONL. Rows are not deleted from the primary store.
type HistoryArchiver struct {
	writer domain.BlobWriter
	opps   OpportunityHistory
	audit  domain.AuditStore
}

// NewHistoryArchiver creates a HistoryArchiver. audit may be nil.
func NewHistoryArchiver(writer domain.BlobWriter, opps OpportunityHistory, audit domain.AuditStore) *HistoryArchiver {
	return &HistoryArchiver{writer: writer, opps: opps, audit: audit}
}

// ArchiveOpportunities uploads every opportunity detected before the cutoff
// to archive/opportunities/YYYY-MM.jsonl and returns how many were written.
func (a *HistoryArchiver) ArchiveOpportunities(ctx context.Context, before time.Time) (int64, error) {
	opps, err := a.opps.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive opportunities query: %w", err)
	}
	if len(opps) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(opps)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive opportunities marshal: %w", err)
	}

	path := archivePath("opportunities", before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive opportunities upload: %w", err)
	}

	count := int64(len(opps))
	if a.audit != nil {
		if err := a.audit.Log(ctx, "archive.opportunities", map[string]any{
			"path":   path,
			"count":  count,
			"before": before.Format(time.RFC3339),
		}); err != nil {
			return count, fmt.Errorf("s3blob: archive opportunities audit log: %w", err)
		}
	}
	return count, nil
}

// archivePath partitions archives by the cutoff's year and month, e.g.
// archive/opportunities/2026-01.jsonl.
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.UTC().Format("2006-01"))
}

func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

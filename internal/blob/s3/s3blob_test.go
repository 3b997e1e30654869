package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/alanyoungcy/arbgraph/internal/domain"
)

func TestNormaliseEndpoint(t *testing.T) {
	tests := []struct {
		in     string
		useSSL bool
		want   string
	}{
		{"https://e2.example.com", false, "https://e2.example.com"},
		{"minio:9000", false, "http://minio:9000"},
		{"r2.example.com", true, "https://r2.example.com"},
	}
	for _, tt := range tests {
		if got := normaliseEndpoint(tt.in, tt.useSSL); got != tt.want {
			t.Errorf("normaliseEndpoint(%q, %v) = %q, want %q", tt.in, tt.useSSL, got, tt.want)
		}
	}
}

type memWriter struct {
	objects map[string][]byte
}

func (m *memWriter) Put(_ context.Context, path string, data io.Reader, _ string) error {
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	m.objects[path] = b
	return nil
}

func (m *memWriter) PutMultipart(ctx context.Context, path string, data io.Reader, _ int64) error {
	return m.Put(ctx, path, data, "")
}

type fixedHistory []domain.Opportunity

func (f fixedHistory) ListBefore(context.Context, time.Time) ([]domain.Opportunity, error) {
	return f, nil
}

type memAudit struct {
	events []string
}

func (a *memAudit) Log(_ context.Context, event string, _ map[string]any) error {
	a.events = append(a.events, event)
	return nil
}

func (a *memAudit) List(context.Context, domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

func TestArchiveOpportunitiesWritesJSONL(t *testing.T) {
	w := &memWriter{objects: map[string][]byte{}}
	audit := &memAudit{}
	hist := fixedHistory{
		{ID: "a", Cycle: []domain.Hop{{Asset: "A", Venue: "v", Rate: 2}, {Asset: "B", Venue: "v", Rate: 1}}, ProfitRatio: 2},
		{ID: "b", Cycle: []domain.Hop{{Asset: "C", Venue: "v", Rate: 1.1}, {Asset: "D", Venue: "v", Rate: 1}}, ProfitRatio: 1.1},
	}
	cutoff := time.Date(2026, 2, 15, 0, 0, 0, 0, time.UTC)

	n, err := NewHistoryArchiver(w, hist, audit).ArchiveOpportunities(context.Background(), cutoff)
	if err != nil {
		t.Fatalf("ArchiveOpportunities: %v", err)
	}
	if n != 2 {
		t.Errorf("count = %d, want 2", n)
	}
	data, ok := w.objects["archive/opportunities/2026-02.jsonl"]
	if !ok {
		t.Fatalf("objects = %v", w.objects)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("lines = %d, want 2", len(lines))
	}
	var first domain.Opportunity
	if err := json.NewDecoder(bytes.NewReader([]byte(lines[0]))).Decode(&first); err != nil {
		t.Fatal(err)
	}
	if first.ID != "a" || first.CycleKey() != "A@v>B@v" {
		t.Errorf("first = %+v", first)
	}
	if len(audit.events) != 1 || audit.events[0] != "archive.opportunities" {
		t.Errorf("audit = %v", audit.events)
	}
}

func TestArchiveOpportunitiesEmpty(t *testing.T) {
	w := &memWriter{objects: map[string][]byte{}}
	n, err := NewHistoryArchiver(w, fixedHistory(nil), nil).ArchiveOpportunities(context.Background(), time.Now())
	if err != nil || n != 0 || len(w.objects) != 0 {
		t.Errorf("n=%d err=%v objects=%d, want nothing written", n, err, len(w.objects))
	}
}

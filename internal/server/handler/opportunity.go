package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/arbgraph/internal/domain"
)

// Scanner runs one detection pass on demand.
type Scanner interface {
	ScanOnce(ctx context.Context) []domain.Opportunity
}

// OpportunityLister returns recently detected opportunities, newest first.
type OpportunityLister interface {
	ListRecent(ctx context.Context, limit int) ([]domain.Opportunity, error)
}

// StreamReader reads a durable stream after a cursor.
type StreamReader interface {
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]domain.StreamMessage, error)
}

// OpportunityHandler serves scans and opportunity history.
type OpportunityHandler struct {
	scanner Scanner
	recent  OpportunityLister
	stream  StreamReader // optional; needs Redis
	logger  *slog.Logger
}

func NewOpportunityHandler(scanner Scanner, recent OpportunityLister, stream StreamReader, logger *slog.Logger) *OpportunityHandler {
	return &OpportunityHandler{scanner: scanner, recent: recent, stream: stream, logger: logger}
}

type streamEntry struct {
	ID      string          `json:"id"`
	Message json.RawMessage `json:"message"`
}

type streamResponse struct {
	Entries []streamEntry `json:"entries"`
	Next    string        `json:"next"`
}

type listOpportunitiesResponse struct {
	Opportunities []domain.Opportunity `json:"opportunities"`
}

// Scan runs detection immediately. Found opportunities also go through the
// normal sink, so they are persisted and broadcast like scheduled ones.
// POST /api/scan
func (h *OpportunityHandler) Scan(w http.ResponseWriter, r *http.Request) {
	opps := h.scanner.ScanOnce(r.Context())
	if opps == nil {
		opps = []domain.Opportunity{}
	}
	writeJSON(w, http.StatusOK, listOpportunitiesResponse{Opportunities: opps})
}

// ListRecent returns the latest opportunities.
// GET /api/opportunities/recent?limit=20
func (h *OpportunityHandler) ListRecent(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r, 20, 200)
	opps, err := h.recent.ListRecent(r.Context(), limit)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list opportunities failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list opportunities")
		return
	}
	if opps == nil {
		opps = []domain.Opportunity{}
	}
	writeJSON(w, http.StatusOK, listOpportunitiesResponse{Opportunities: opps})
}

// Stream replays the durable opportunity stream after a cursor, letting
// clients that missed live messages catch up. Pass the returned next value
// as after on the following call.
// GET /api/opportunities/stream?after=0&limit=100
func (h *OpportunityHandler) Stream(w http.ResponseWriter, r *http.Request) {
	if h.stream == nil {
		writeError(w, http.StatusServiceUnavailable, "opportunity stream requires redis")
		return
	}
	after := r.URL.Query().Get("after")
	if after == "" {
		after = "0"
	}
	msgs, err := h.stream.StreamRead(r.Context(), domain.StreamOpportunities, after, parseLimit(r, 100, 1000))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: read opportunity stream failed",
			slog.String("after", after),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to read opportunity stream")
		return
	}
	resp := streamResponse{Entries: make([]streamEntry, 0, len(msgs)), Next: after}
	for _, m := range msgs {
		resp.Next = m.ID
		if !json.Valid(m.Payload) {
			continue
		}
		resp.Entries = append(resp.Entries, streamEntry{ID: m.ID, Message: m.Payload})
	}
	writeJSON(w, http.StatusOK, resp)
}

package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/arbgraph/internal/domain"
	"github.com/alanyoungcy/arbgraph/internal/feed"
)

// RateIngester accepts one observation into the graph.
type RateIngester interface {
	Apply(obs domain.RateObservation) error
}

// EdgeReader looks up one live edge.
type EdgeReader interface {
	Edge(key domain.EdgeKey) (domain.TradingEdge, bool)
}

// RatesHandler lets external pollers push observations over HTTP and
// serves single edge lookups.
type RatesHandler struct {
	ingest RateIngester
	edges  EdgeReader
	cache  domain.RateCache // optional; shared view written by the mirror
	logger *slog.Logger
}

func NewRatesHandler(ingest RateIngester, edges EdgeReader, cache domain.RateCache, logger *slog.Logger) *RatesHandler {
	return &RatesHandler{ingest: ingest, edges: edges, cache: cache, logger: logger}
}

type rateResponse struct {
	Edge   domain.TradingEdge `json:"edge"`
	Origin string             `json:"origin"`
}

// GetRate returns the latest rate of one edge. The live graph answers first;
// the shared cache covers edges this instance has not observed.
// GET /api/rates/{source}/{target}/{venue}
func (h *RatesHandler) GetRate(w http.ResponseWriter, r *http.Request) {
	key := domain.EdgeKey{
		Source: r.PathValue("source"),
		Target: r.PathValue("target"),
		Venue:  r.PathValue("venue"),
	}
	if e, ok := h.edges.Edge(key); ok {
		writeJSON(w, http.StatusOK, rateResponse{Edge: e, Origin: "graph"})
		return
	}
	if h.cache == nil {
		writeError(w, http.StatusNotFound, "rate not found")
		return
	}
	e, err := h.cache.GetRate(r.Context(), key)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, rateResponse{Edge: e, Origin: "cache"})
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "rate not found")
	default:
		h.logger.ErrorContext(r.Context(), "handler: cached rate lookup failed",
			slog.String("edge", key.String()),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to read rate")
	}
}

// PostRate ingests one JSON observation.
// POST /api/rates
//
// 202 on success, 400 when the body is not a usable observation, 422 when
// the rate is out of range or the venue is filtered.
func (h *RatesHandler) PostRate(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable request body")
		return
	}
	obs, err := feed.DecodeObservation(body)
	if err == nil {
		err = h.ingest.Apply(obs)
	}
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, map[string]any{"accepted": obs.Key()})
	case errors.Is(err, domain.ErrMalformedEvent):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrInvalidRate), errors.Is(err, feed.ErrVenueNotAllowed):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		h.logger.ErrorContext(r.Context(), "handler: apply rate failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to apply rate")
	}
}

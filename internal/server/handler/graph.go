package handler

import (
	"net/http"
	"slices"

	"github.com/alanyoungcy/arbgraph/internal/domain"
	"github.com/alanyoungcy/arbgraph/internal/graph"
)

// GraphHandler exposes read-only views of the rate graph.
type GraphHandler struct {
	graph *graph.RateGraph
}

func NewGraphHandler(g *graph.RateGraph) *GraphHandler {
	return &GraphHandler{graph: g}
}

// ListAssets returns every known asset with its metadata.
// GET /api/graph/assets
func (h *GraphHandler) ListAssets(w http.ResponseWriter, r *http.Request) {
	keys := h.graph.Assets()
	assets := make([]domain.Asset, 0, len(keys))
	for _, k := range keys {
		if a, ok := h.graph.Asset(k); ok {
			assets = append(assets, a)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"assets": assets})
}

// Neighbors lists the outgoing edges of one asset.
// GET /api/graph/assets/{key}/neighbors
func (h *GraphHandler) Neighbors(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	if _, ok := h.graph.Asset(key); !ok {
		writeError(w, http.StatusNotFound, "asset not found")
		return
	}
	ns := slices.Collect(h.graph.Neighbors(key))
	if ns == nil {
		ns = []graph.Neighbor{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"asset": key, "neighbors": ns})
}

// Snapshot returns the whole graph as one consistent copy.
// GET /api/graph/snapshot
func (h *GraphHandler) Snapshot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.graph.Snapshot())
}

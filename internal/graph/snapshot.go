package graph

import (
	"time"

	"github.com/alanyoungcy/arbgraph/internal/domain"
)

// Snapshot is an immutable, internally consistent copy of a RateGraph.
type Snapshot struct {
	Assets  []domain.Asset       `json:"assets"`
	Venues  []domain.Venue       `json:"venues"`
	Edges   []domain.TradingEdge `json:"edges"`
	TakenAt time.Time            `json:"taken_at"`
}

// Without returns a copy of the snapshot minus the given edges. Assets and
// venues are kept so vertex numbering stays stable between rescans.
func (s Snapshot) Without(drop map[domain.EdgeKey]bool) Snapshot {
	if len(drop) == 0 {
		return s
	}
	out := Snapshot{Assets: s.Assets, Venues: s.Venues, TakenAt: s.TakenAt}
	out.Edges = make([]domain.TradingEdge, 0, len(s.Edges))
	for _, e := range s.Edges {
		if !drop[e.EdgeKey] {
			out.Edges = append(out.Edges, e)
		}
	}
	return out
}

// AssetIndex maps asset keys to their position in Assets.
func (s Snapshot) AssetIndex() map[string]int {
	idx := make(map[string]int, len(s.Assets))
	for i, a := range s.Assets {
		idx[a.Key] = i
	}
	return idx
}

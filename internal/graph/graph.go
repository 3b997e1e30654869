// Package graph holds the live multigraph of assets and venue-specific
// exchange rates. A RateGraph is safe for concurrent use; detection runs
// against point-in-time Snapshots so writers are never held up for longer
// than a copy.
package graph

import (
	"fmt"
	"iter"
	"sync"
	"time"

	"github.com/alanyoungcy/arbgraph/internal/domain"
)

// Neighbor is one outgoing edge as seen from its source asset.
type Neighbor struct {
	Target string  `json:"target"`
	Venue  string  `json:"venue"`
	Rate   float64 `json:"rate"`
}

// RateGraph owns every Asset, Venue and TradingEdge. Edges are kept in
// insertion order so that detection over a snapshot is reproducible.
type RateGraph struct {
	mu sync.RWMutex

	assets     map[string]domain.Asset
	assetOrder []string
	venues     map[string]struct{}
	venueOrder []string

	index map[domain.EdgeKey]int
	edges []domain.TradingEdge
	out   map[string][]int

	now func() time.Time
}

// Option configures a RateGraph.
type Option func(*RateGraph)

// WithClock overrides the time source used for lastUpdated.
func WithClock(now func() time.Time) Option {
	return func(g *RateGraph) { g.now = now }
}

// New returns an empty graph.
func New(opts ...Option) *RateGraph {
	g := &RateGraph{
		assets: make(map[string]domain.Asset),
		venues: make(map[string]struct{}),
		index:  make(map[domain.EdgeKey]int),
		out:    make(map[string][]int),
		now:    time.Now,
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// UpsertEdge creates or overwrites the (source, target, venue) edge and
// stamps it with the current time. Missing assets and venues are created
// on demand. A rejected call leaves the graph untouched.
func (g *RateGraph) UpsertEdge(source, target, venue string, rate float64) error {
	obs := domain.RateObservation{Source: source, Target: target, Venue: venue, Rate: rate}
	if err := obs.Validate(); err != nil {
		return fmt.Errorf("graph: upsert %s: %w", obs.Key(), err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	g.ensureAssetLocked(domain.Asset{Key: source})
	g.ensureAssetLocked(domain.Asset{Key: target})
	g.ensureVenueLocked(venue)

	key := obs.Key()
	ts := g.now()
	if i, ok := g.index[key]; ok {
		g.edges[i].Rate = rate
		g.edges[i].LastUpdated = ts
		return nil
	}
	g.index[key] = len(g.edges)
	g.out[source] = append(g.out[source], len(g.edges))
	g.edges = append(g.edges, domain.TradingEdge{EdgeKey: key, Rate: rate, LastUpdated: ts})
	return nil
}

// Apply upserts a single observation.
func (g *RateGraph) Apply(obs domain.RateObservation) error {
	return g.UpsertEdge(obs.Source, obs.Target, obs.Venue, obs.Rate)
}

// RegisterAsset records asset metadata. Assets are immutable once created,
// so the call reports false and changes nothing when the key already exists.
func (g *RateGraph) RegisterAsset(a domain.Asset) bool {
	if a.Key == "" {
		return false
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.ensureAssetLocked(a)
}

// RegisterVenue records a venue ahead of any edge that uses it.
func (g *RateGraph) RegisterVenue(name string) bool {
	if name == "" {
		return false
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.ensureVenueLocked(name)
}

func (g *RateGraph) ensureAssetLocked(a domain.Asset) bool {
	if _, ok := g.assets[a.Key]; ok {
		return false
	}
	g.assets[a.Key] = a
	g.assetOrder = append(g.assetOrder, a.Key)
	return true
}

func (g *RateGraph) ensureVenueLocked(name string) bool {
	if _, ok := g.venues[name]; ok {
		return false
	}
	g.venues[name] = struct{}{}
	g.venueOrder = append(g.venueOrder, name)
	return true
}

// Neighbors enumerates the outgoing edges of asset. The edge list is
// copied under the read lock when iteration starts, so the loop body may
// call back into the graph. Unknown assets yield nothing.
func (g *RateGraph) Neighbors(asset string) iter.Seq[Neighbor] {
	return func(yield func(Neighbor) bool) {
		g.mu.RLock()
		idx := g.out[asset]
		ns := make([]Neighbor, len(idx))
		for i, e := range idx {
			edge := g.edges[e]
			ns[i] = Neighbor{Target: edge.Target, Venue: edge.Venue, Rate: edge.Rate}
		}
		g.mu.RUnlock()

		for _, n := range ns {
			if !yield(n) {
				return
			}
		}
	}
}

// Assets returns the known asset keys in creation order.
func (g *RateGraph) Assets() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]string, len(g.assetOrder))
	copy(out, g.assetOrder)
	return out
}

// Asset looks up asset metadata by key.
func (g *RateGraph) Asset(key string) (domain.Asset, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	a, ok := g.assets[key]
	return a, ok
}

// Edge looks up a single edge.
func (g *RateGraph) Edge(key domain.EdgeKey) (domain.TradingEdge, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	i, ok := g.index[key]
	if !ok {
		return domain.TradingEdge{}, false
	}
	return g.edges[i], true
}

// Len reports the number of assets and edges.
func (g *RateGraph) Len() (assets, edges int) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.assetOrder), len(g.edges)
}

// Snapshot copies the whole graph under the read lock. The copy shares no
// memory with the graph.
func (g *RateGraph) Snapshot() Snapshot {
	g.mu.RLock()
	defer g.mu.RUnlock()

	s := Snapshot{
		Assets:  make([]domain.Asset, len(g.assetOrder)),
		Venues:  make([]domain.Venue, len(g.venueOrder)),
		Edges:   make([]domain.TradingEdge, len(g.edges)),
		TakenAt: g.now(),
	}
	for i, k := range g.assetOrder {
		s.Assets[i] = g.assets[k]
	}
	for i, v := range g.venueOrder {
		s.Venues[i] = domain.Venue{Name: v}
	}
	copy(s.Edges, g.edges)
	return s
}

// Restore loads assets and edges from a snapshot (archive or database),
// keeping their recorded timestamps. Invalid edges are skipped and counted.
func (g *RateGraph) Restore(s Snapshot) (skipped int) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, a := range s.Assets {
		if a.Key != "" {
			g.ensureAssetLocked(a)
		}
	}
	for _, v := range s.Venues {
		if v.Name != "" {
			g.ensureVenueLocked(v.Name)
		}
	}
	for _, e := range s.Edges {
		obs := domain.RateObservation{Source: e.Source, Target: e.Target, Venue: e.Venue, Rate: e.Rate}
		if obs.Validate() != nil {
			skipped++
			continue
		}
		g.ensureAssetLocked(domain.Asset{Key: e.Source})
		g.ensureAssetLocked(domain.Asset{Key: e.Target})
		g.ensureVenueLocked(e.Venue)
		ts := e.LastUpdated
		if ts.IsZero() {
			ts = g.now()
		}
		if i, ok := g.index[e.EdgeKey]; ok {
			g.edges[i].Rate = e.Rate
			g.edges[i].LastUpdated = ts
			continue
		}
		g.index[e.EdgeKey] = len(g.edges)
		g.out[e.Source] = append(g.out[e.Source], len(g.edges))
		g.edges = append(g.edges, domain.TradingEdge{EdgeKey: e.EdgeKey, Rate: e.Rate, LastUpdated: ts})
	}
	return skipped
}

// Package detector finds arbitrage loops in a rate graph snapshot. Rates are
// mapped to weights -ln(rate) so that a loop whose rate product exceeds 1
// becomes a negative cycle, which Bellman-Ford relaxation exposes.
package detector

import (
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/arbgraph/internal/domain"
	"github.com/alanyoungcy/arbgraph/internal/graph"
)

// Config tunes the detector.
type Config struct {
	// MinProfitRatio is the compounded rate a cycle must strictly exceed.
	// Values at or below 1 mean "any profit".
	MinProfitRatio float64
	// Now stamps DetectedAt; defaults to time.Now.
	Now func() time.Time
	// NewID assigns opportunity IDs; defaults to random UUIDs.
	NewID func() string
}

// Detector runs negative-cycle detection over snapshots. It holds no graph
// state and may be shared between goroutines.
type Detector struct {
	minRatio float64
	now      func() time.Time
	newID    func() string
}

// New creates a Detector.
func New(cfg Config) *Detector {
	d := &Detector{
		minRatio: cfg.MinProfitRatio,
		now:      cfg.Now,
		newID:    cfg.NewID,
	}
	if d.minRatio < 1 || math.IsNaN(d.minRatio) {
		d.minRatio = 1
	}
	if d.now == nil {
		d.now = time.Now
	}
	if d.newID == nil {
		d.newID = func() string { return uuid.New().String() }
	}
	return d
}

// wedge is a snapshot edge with endpoints resolved to vertex numbers.
type wedge struct {
	from, to int
	weight   float64
	src      domain.TradingEdge
}

// Scan looks for one arbitrage cycle. It reports false when the snapshot
// holds no qualifying cycle, which is not an error.
func (d *Detector) Scan(snap graph.Snapshot) (domain.Opportunity, bool) {
	n := len(snap.Assets)
	if n < 2 || len(snap.Edges) < 2 {
		return domain.Opportunity{}, false
	}

	idx := snap.AssetIndex()
	edges := make([]wedge, 0, len(snap.Edges))
	for _, e := range snap.Edges {
		u, okU := idx[e.Source]
		v, okV := idx[e.Target]
		if !okU || !okV || u == v {
			continue
		}
		// Snapshots only hold validated rates; this guards hand-built input.
		w := -math.Log(e.Rate)
		if math.IsNaN(w) || math.IsInf(w, 0) {
			continue
		}
		edges = append(edges, wedge{from: u, to: v, weight: w, src: e})
	}
	if len(edges) < 2 {
		return domain.Opportunity{}, false
	}

	// A virtual source with zero-weight edges to every vertex: after its
	// single relaxation every dist is 0 and nothing has a predecessor.
	dist := make([]float64, n)
	pred := make([]int, n)
	for i := range pred {
		pred[i] = -1
	}

	for pass := 0; pass < n-1; pass++ {
		changed := false
		for i, e := range edges {
			if nd := dist[e.from] + e.weight; nd < dist[e.to] {
				dist[e.to] = nd
				pred[e.to] = i
				changed = true
			}
		}
		if !changed {
			return domain.Opportunity{}, false
		}
	}

	for i, e := range edges {
		if dist[e.from]+e.weight < dist[e.to] {
			pred[e.to] = i
			cycle := recoverCycle(e.to, pred, edges, n)
			if len(cycle) == 0 {
				continue
			}
			opp, ok := d.build(cycle, edges)
			if ok {
				return opp, true
			}
		}
	}
	return domain.Opportunity{}, false
}

// FindAll repeatedly scans, removing the edges of each cycle found before
// the next pass, and returns at most max opportunities (max <= 0 means 1).
func (d *Detector) FindAll(snap graph.Snapshot, max int) []domain.Opportunity {
	if max <= 0 {
		max = 1
	}
	var out []domain.Opportunity
	drop := make(map[domain.EdgeKey]bool)
	for len(out) < max {
		opp, ok := d.Scan(snap.Without(drop))
		if !ok {
			break
		}
		out = append(out, opp)
		for i, h := range opp.Cycle {
			next := opp.Cycle[(i+1)%len(opp.Cycle)]
			drop[domain.EdgeKey{Source: h.Asset, Target: next.Asset, Venue: h.Venue}] = true
		}
	}
	return out
}

// recoverCycle walks predecessor edges backward from start until a vertex
// repeats, never taking more than n+1 steps. It returns the cycle's edge
// indices in forward trade order, or nil if the chain ends first.
func recoverCycle(start int, pred []int, edges []wedge, n int) []int {
	seen := make(map[int]int, n)
	var walk []int // edge indices, newest first
	x := start
	for steps := 0; steps <= n; steps++ {
		if at, ok := seen[x]; ok {
			cyc := walk[at:]
			// walk is backward; flip to trade order.
			out := make([]int, len(cyc))
			for i := range cyc {
				out[i] = cyc[len(cyc)-1-i]
			}
			return out
		}
		e := pred[x]
		if e < 0 {
			return nil
		}
		seen[x] = len(walk)
		walk = append(walk, e)
		x = edges[e].from
	}
	return nil
}

// build turns a list of edge indices into an Opportunity, rotated to start
// at the lowest-numbered vertex, and checks the product threshold.
func (d *Detector) build(cycle []int, edges []wedge) (domain.Opportunity, bool) {
	start := 0
	for i, e := range cycle {
		if edges[e].from < edges[cycle[start]].from {
			start = i
		}
	}

	hops := make([]domain.Hop, len(cycle))
	ratio := 1.0
	for i := range cycle {
		e := edges[cycle[(start+i)%len(cycle)]]
		hops[i] = domain.Hop{Asset: e.src.Source, Venue: e.src.Venue, Rate: e.src.Rate}
		ratio *= e.src.Rate
	}
	if !(ratio > d.minRatio) {
		return domain.Opportunity{}, false
	}
	return domain.Opportunity{
		ID:          d.newID(),
		Cycle:       hops,
		ProfitRatio: ratio,
		DetectedAt:  d.now(),
	}, true
}

package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/arbgraph/internal/domain"
	"github.com/alanyoungcy/arbgraph/internal/graph"
)

// GraphMirror copies the live graph into durable storage and the shared
// rate cache, and warms a fresh graph from storage on start.
type GraphMirror struct {
	graph    *graph.RateGraph
	store    domain.GraphStore
	cache    domain.RateCache
	interval time.Duration
	logger   *slog.Logger

	syncedAssets int
	syncedVenues int
	watermark    time.Time
}

// NewGraphMirror creates a mirror. store and cache may each be nil.
func NewGraphMirror(g *graph.RateGraph, store domain.GraphStore, cache domain.RateCache, interval time.Duration, logger *slog.Logger) *GraphMirror {
	return &GraphMirror{
		graph:    g,
		store:    store,
		cache:    cache,
		interval: interval,
		logger:   logger.With(slog.String("component", "graph_mirror")),
	}
}

// Warm loads stored assets and edges into the graph. It returns the number
// of edges loaded.
func (m *GraphMirror) Warm(ctx context.Context) (int, error) {
	if m.store == nil {
		return 0, nil
	}
	assets, err := m.store.LoadAssets(ctx)
	if err != nil {
		return 0, fmt.Errorf("graph_mirror: warm: %w", err)
	}
	edges, err := m.store.LoadEdges(ctx)
	if err != nil {
		return 0, fmt.Errorf("graph_mirror: warm: %w", err)
	}
	skipped := m.graph.Restore(graph.Snapshot{Assets: assets, Edges: edges})
	m.logger.InfoContext(ctx, "graph warmed from store",
		slog.Int("assets", len(assets)),
		slog.Int("edges", len(edges)-skipped),
		slog.Int("skipped", skipped),
	)
	return len(edges) - skipped, nil
}

// Sync writes assets and venues added since the last sync and every edge
// updated after the newest timestamp seen by the previous sync.
func (m *GraphMirror) Sync(ctx context.Context) error {
	snap := m.graph.Snapshot()

	newAssets := snap.Assets[min(m.syncedAssets, len(snap.Assets)):]
	newVenues := snap.Venues[min(m.syncedVenues, len(snap.Venues)):]
	var changed []domain.TradingEdge
	next := m.watermark
	for _, e := range snap.Edges {
		if !m.watermark.IsZero() && !e.LastUpdated.After(m.watermark) {
			continue
		}
		changed = append(changed, e)
		if e.LastUpdated.After(next) {
			next = e.LastUpdated
		}
	}

	if m.store != nil {
		if err := m.store.UpsertAssets(ctx, newAssets); err != nil {
			return fmt.Errorf("graph_mirror: sync: %w", err)
		}
		if err := m.store.UpsertVenues(ctx, newVenues); err != nil {
			return fmt.Errorf("graph_mirror: sync: %w", err)
		}
		if err := m.store.UpsertEdges(ctx, changed); err != nil {
			return fmt.Errorf("graph_mirror: sync: %w", err)
		}
	}
	if m.cache != nil {
		if err := m.cache.SetRates(ctx, changed); err != nil {
			return fmt.Errorf("graph_mirror: sync: %w", err)
		}
	}

	m.syncedAssets = len(snap.Assets)
	m.syncedVenues = len(snap.Venues)
	m.watermark = next
	m.logger.DebugContext(ctx, "graph mirrored",
		slog.Int("new_assets", len(newAssets)),
		slog.Int("edges", len(changed)),
	)
	return nil
}

// Run syncs every interval until ctx is cancelled, then makes one last
// attempt with a short detached deadline.
func (m *GraphMirror) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := m.Sync(flushCtx); err != nil {
				m.logger.Warn("final graph sync failed", slog.String("error", err.Error()))
			}
			return ctx.Err()
		case <-ticker.C:
			if err := m.Sync(ctx); err != nil {
				m.logger.WarnContext(ctx, "graph sync failed", slog.String("error", err.Error()))
			}
		}
	}
}

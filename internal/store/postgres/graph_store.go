package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/arbgraph/internal/domain"
)

// GraphStore implements domain.GraphStore using PostgreSQL.
type GraphStore struct {
	pool *pgxpool.Pool
}

// NewGraphStore creates a new GraphStore backed by the given connection pool.
func NewGraphStore(pool *pgxpool.Pool) *GraphStore {
	return &GraphStore{pool: pool}
}

// UpsertAssets inserts new assets and refreshes metadata of known ones.
func (s *GraphStore) UpsertAssets(ctx context.Context, assets []domain.Asset) error {
	if len(assets) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	const query = `
		INSERT INTO assets (key, address, symbol, name, decimals)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (key) DO UPDATE SET
			address    = COALESCE(NULLIF(EXCLUDED.address, ''), assets.address),
			symbol     = COALESCE(NULLIF(EXCLUDED.symbol, ''), assets.symbol),
			name       = COALESCE(NULLIF(EXCLUDED.name, ''), assets.name),
			decimals   = GREATEST(EXCLUDED.decimals, assets.decimals),
			updated_at = NOW()`

	for _, a := range assets {
		batch.Queue(query, a.Key, a.Address, a.Symbol, a.Name, a.Decimals)
	}
	return s.sendBatch(ctx, batch, len(assets), "asset")
}

// UpsertVenues inserts venues that are not yet known.
func (s *GraphStore) UpsertVenues(ctx context.Context, venues []domain.Venue) error {
	if len(venues) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	const query = `INSERT INTO venues (name) VALUES ($1) ON CONFLICT (name) DO NOTHING`
	for _, v := range venues {
		batch.Queue(query, v.Name)
	}
	return s.sendBatch(ctx, batch, len(venues), "venue")
}

// UpsertEdges writes edge rates keyed on (source, target, venue). An older
// write never replaces a newer one.
func (s *GraphStore) UpsertEdges(ctx context.Context, edges []domain.TradingEdge) error {
	if len(edges) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	const query = `
		INSERT INTO trading_edges (source, target, venue, rate, last_updated)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (source, target, venue) DO UPDATE SET
			rate         = EXCLUDED.rate,
			last_updated = EXCLUDED.last_updated
		WHERE trading_edges.last_updated <= EXCLUDED.last_updated`

	for _, e := range edges {
		batch.Queue(query, e.Source, e.Target, e.Venue, e.Rate, e.LastUpdated)
	}
	return s.sendBatch(ctx, batch, len(edges), "edge")
}

// LoadAssets returns every stored asset.
func (s *GraphStore) LoadAssets(ctx context.Context) ([]domain.Asset, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT key, address, symbol, name, decimals FROM assets ORDER BY created_at, key`)
	if err != nil {
		return nil, fmt.Errorf("postgres: load assets: %w", err)
	}
	defer rows.Close()

	var assets []domain.Asset
	for rows.Next() {
		var a domain.Asset
		if err := rows.Scan(&a.Key, &a.Address, &a.Symbol, &a.Name, &a.Decimals); err != nil {
			return nil, fmt.Errorf("postgres: scan asset: %w", err)
		}
		assets = append(assets, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: load assets rows: %w", err)
	}
	return assets, nil
}

// LoadEdges returns every stored edge, oldest first.
func (s *GraphStore) LoadEdges(ctx context.Context) ([]domain.TradingEdge, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT source, target, venue, rate, last_updated FROM trading_edges ORDER BY last_updated, source, target, venue`)
	if err != nil {
		return nil, fmt.Errorf("postgres: load edges: %w", err)
	}
	defer rows.Close()

	var edges []domain.TradingEdge
	for rows.Next() {
		var e domain.TradingEdge
		if err := rows.Scan(&e.Source, &e.Target, &e.Venue, &e.Rate, &e.LastUpdated); err != nil {
			return nil, fmt.Errorf("postgres: scan edge: %w", err)
		}
		edges = append(edges, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: load edges rows: %w", err)
	}
	return edges, nil
}

func (s *GraphStore) sendBatch(ctx context.Context, batch *pgx.Batch, n int, what string) error {
	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := 0; i < n; i++ {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: upsert %s batch item %d: %w", what, i, err)
		}
	}
	return nil
}

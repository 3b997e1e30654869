package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/arbgraph/internal/domain"
)

// OpportunityStore implements domain.OpportunityStore using PostgreSQL.
type OpportunityStore struct {
	pool *pgxpool.Pool
}

// NewOpportunityStore creates a new OpportunityStore backed by the given connection pool.
func NewOpportunityStore(pool *pgxpool.Pool) *OpportunityStore {
	return &OpportunityStore{pool: pool}
}

const oppSelectCols = `id, cycle, profit_ratio, detected_at`

// Insert stores a detected opportunity. Re-inserting the same ID is a no-op.
func (s *OpportunityStore) Insert(ctx context.Context, opp domain.Opportunity) error {
	cycleJSON, err := json.Marshal(opp.Cycle)
	if err != nil {
		return fmt.Errorf("postgres: marshal cycle %s: %w", opp.ID, err)
	}

	const query = `
		INSERT INTO opportunities (id, cycle_key, cycle, profit_ratio, detected_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO NOTHING`

	_, err = s.pool.Exec(ctx, query, opp.ID, opp.CycleKey(), cycleJSON, opp.ProfitRatio, opp.DetectedAt)
	if err != nil {
		return fmt.Errorf("postgres: insert opportunity %s: %w", opp.ID, err)
	}
	return nil
}

// ListRecent returns up to limit opportunities, newest first.
func (s *OpportunityStore) ListRecent(ctx context.Context, limit int) ([]domain.Opportunity, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+oppSelectCols+` FROM opportunities ORDER BY detected_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list recent opportunities: %w", err)
	}
	return collectOpportunities(rows)
}

// ListBefore returns opportunities detected strictly before the given time.
func (s *OpportunityStore) ListBefore(ctx context.Context, before time.Time) ([]domain.Opportunity, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+oppSelectCols+` FROM opportunities WHERE detected_at < $1 ORDER BY detected_at`, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list opportunities before %s: %w", before.Format(time.RFC3339), err)
	}
	return collectOpportunities(rows)
}

func collectOpportunities(rows pgx.Rows) ([]domain.Opportunity, error) {
	defer rows.Close()

	var opps []domain.Opportunity
	for rows.Next() {
		var opp domain.Opportunity
		var cycleJSON []byte
		if err := rows.Scan(&opp.ID, &cycleJSON, &opp.ProfitRatio, &opp.DetectedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan opportunity: %w", err)
		}
		if err := json.Unmarshal(cycleJSON, &opp.Cycle); err != nil {
			return nil, fmt.Errorf("postgres: unmarshal cycle %s: %w", opp.ID, err)
		}
		opps = append(opps, opp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: opportunity rows: %w", err)
	}
	return opps, nil
}

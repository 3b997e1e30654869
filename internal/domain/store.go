package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
	// Event restricts audit listings to one event name.
	Event string
}

// GraphStore mirrors the rate graph into durable storage.
type GraphStore interface {
	UpsertAssets(ctx context.Context, assets []Asset) error
	UpsertVenues(ctx context.Context, venues []Venue) error
	UpsertEdges(ctx context.Context, edges []TradingEdge) error
	LoadAssets(ctx context.Context) ([]Asset, error)
	LoadEdges(ctx context.Context) ([]TradingEdge, error)
}

// OpportunityStore persists detected arbitrage cycles.
type OpportunityStore interface {
	Insert(ctx context.Context, opp Opportunity) error
	ListRecent(ctx context.Context, limit int) ([]Opportunity, error)
	ListBefore(ctx context.Context, before time.Time) ([]Opportunity, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}

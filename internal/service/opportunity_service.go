package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/arbgraph/internal/domain"
	"github.com/alanyoungcy/arbgraph/internal/notify"
)

const recentCap = 200

// Broadcaster pushes a payload to local websocket clients.
type Broadcaster interface {
	Broadcast(channel string, data []byte)
}

// OpportunityDeps are the optional outputs of an OpportunityService. Any
// nil dependency is skipped.
type OpportunityDeps struct {
	Store    domain.OpportunityStore
	Bus      domain.SignalBus
	Audit    domain.AuditStore
	Notifier *notify.Notifier
	Hub      Broadcaster
}

// OpportunityService receives every opportunity a scan finds, drops repeats
// of the same loop, and fans the rest out to storage, the bus, the audit
// log, notifications and websocket clients.
type OpportunityService struct {
	deps   OpportunityDeps
	dedup  *Dedup
	logger *slog.Logger

	mu     sync.RWMutex
	recent []domain.Opportunity
}

// NewOpportunityService creates the service. Loops with the same cycle key
// are reported at most once per dedupTTL.
func NewOpportunityService(deps OpportunityDeps, dedupTTL time.Duration, logger *slog.Logger) *OpportunityService {
	return &OpportunityService{
		deps:   deps,
		dedup:  NewDedup(dedupTTL),
		logger: logger.With(slog.String("component", "opportunity_service")),
	}
}

// Handle records one opportunity. Every output is attempted; failures are
// logged and returned together.
func (s *OpportunityService) Handle(ctx context.Context, opp domain.Opportunity) error {
	key := opp.CycleKey()
	if s.dedup.IsDuplicate(key) {
		s.logger.DebugContext(ctx, "duplicate opportunity suppressed",
			slog.String("cycle", key),
		)
		return nil
	}

	s.remember(opp)

	var errs []error
	if s.deps.Store != nil {
		if err := s.deps.Store.Insert(ctx, opp); err != nil {
			errs = append(errs, fmt.Errorf("insert: %w", err))
		}
	}

	payload, err := domain.EncodeEnvelope(domain.EventOpportunity, opp)
	if err != nil {
		errs = append(errs, fmt.Errorf("encode: %w", err))
	} else {
		errs = append(errs, s.publish(ctx, payload)...)
	}

	if s.deps.Audit != nil {
		if err := s.deps.Audit.Log(ctx, "opportunity_detected", map[string]any{
			"opp_id":       opp.ID,
			"cycle":        key,
			"profit_ratio": opp.ProfitRatio,
			"profit_bps":   opp.ProfitBps(),
		}); err != nil {
			errs = append(errs, fmt.Errorf("audit: %w", err))
		}
	}

	if s.deps.Notifier.Enabled() {
		if err := s.deps.Notifier.NotifyOpportunity(ctx, opp); err != nil {
			errs = append(errs, err)
		}
	}

	s.logger.InfoContext(ctx, "opportunity recorded",
		slog.String("opp_id", opp.ID),
		slog.String("cycle", key),
		slog.Float64("profit_bps", opp.ProfitBps()),
	)

	if len(errs) > 0 {
		return fmt.Errorf("opportunity_service: handle %s: %w", opp.ID, errors.Join(errs...))
	}
	return nil
}

// publish sends the payload on the bus, where the websocket hub picks it
// up, or straight to the hub when there is no bus.
func (s *OpportunityService) publish(ctx context.Context, payload []byte) []error {
	if s.deps.Bus == nil {
		if s.deps.Hub != nil {
			s.deps.Hub.Broadcast(domain.ChannelOpportunities, payload)
		}
		return nil
	}
	var errs []error
	if err := s.deps.Bus.Publish(ctx, domain.ChannelOpportunities, payload); err != nil {
		errs = append(errs, fmt.Errorf("publish: %w", err))
	}
	if err := s.deps.Bus.StreamAppend(ctx, domain.StreamOpportunities, payload); err != nil {
		errs = append(errs, fmt.Errorf("stream: %w", err))
	}
	return errs
}

func (s *OpportunityService) remember(opp domain.Opportunity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recent = append(s.recent, opp)
	if len(s.recent) > recentCap {
		s.recent = s.recent[len(s.recent)-recentCap:]
	}
}

// ListRecent returns up to limit opportunities, newest first. The store is
// authoritative when configured; otherwise the in-memory history is used.
func (s *OpportunityService) ListRecent(ctx context.Context, limit int) ([]domain.Opportunity, error) {
	if limit <= 0 || limit > recentCap {
		limit = 50
	}
	if s.deps.Store != nil {
		opps, err := s.deps.Store.ListRecent(ctx, limit)
		if err != nil {
			return nil, fmt.Errorf("opportunity_service: list recent: %w", err)
		}
		return opps, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	n := min(limit, len(s.recent))
	out := make([]domain.Opportunity, 0, n)
	for i := len(s.recent) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, s.recent[i])
	}
	return out, nil
}

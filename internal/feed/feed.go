// Package feed connects rate observations to the graph and periodically
// hands graph snapshots to the cycle detector, forwarding whatever it finds
// to a downstream sink.
package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/arbgraph/internal/detector"
	"github.com/alanyoungcy/arbgraph/internal/domain"
	"github.com/alanyoungcy/arbgraph/internal/graph"
)

// ErrVenueNotAllowed marks an observation for a venue outside the allow-list.
var ErrVenueNotAllowed = errors.New("venue not allowed")

// scanLockKey is the distributed lock that elects the scanning instance.
const scanLockKey = "scan"

// Sink receives every opportunity a scan discovers.
type Sink interface {
	Handle(ctx context.Context, opp domain.Opportunity) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, opp domain.Opportunity) error

// Handle calls f.
func (f SinkFunc) Handle(ctx context.Context, opp domain.Opportunity) error { return f(ctx, opp) }

// MinLockTTL is the shortest scan lock lease. Redis leases have millisecond
// resolution.
const MinLockTTL = 10 * time.Millisecond

// Config holds optional feed settings.
type Config struct {
	// Venues is the allow-list; empty accepts every venue.
	Venues []string
	// MaxCyclesPerScan bounds how many loops one scan reports.
	MaxCyclesPerScan int
	// Locks, when set, makes each tick contend for a shared lock so that
	// only one of several instances scans. LockTTL is raised to
	// MinLockTTL, since a zero TTL would never expire.
	Locks   domain.LockManager
	LockTTL time.Duration
	// OnApplied is called after each observation lands in the graph.
	OnApplied func(domain.RateObservation)
	// OnScan is called after each detection pass.
	OnScan func(found int, took time.Duration)
}

// Stats is a point-in-time view of feed activity.
type Stats struct {
	Applied       int64     `json:"applied"`
	Rejected      int64     `json:"rejected"`
	Scans         int64     `json:"scans"`
	LastScanAt    time.Time `json:"last_scan_at"`
	LastScanFound int       `json:"last_scan_found"`
}

// Feed owns the ingest and scan loops around one RateGraph.
type Feed struct {
	graph     *graph.RateGraph
	det       *detector.Detector
	ticker    Ticker
	sink      Sink
	allow     map[string]bool
	maxCycles int
	locks     domain.LockManager
	lockTTL   time.Duration
	onApplied func(domain.RateObservation)
	onScan    func(found int, took time.Duration)
	logger    *slog.Logger

	applied  atomic.Int64
	rejected atomic.Int64
	scans    atomic.Int64

	mu        sync.Mutex
	lastScan  time.Time
	lastFound int
	scanMu    sync.Mutex
}

// New creates a Feed. sink may be nil, in which case opportunities are only
// logged.
func New(g *graph.RateGraph, det *detector.Detector, ticker Ticker, sink Sink, cfg Config, logger *slog.Logger) *Feed {
	var allow map[string]bool
	if len(cfg.Venues) > 0 {
		allow = make(map[string]bool, len(cfg.Venues))
		for _, v := range cfg.Venues {
			allow[strings.ToLower(strings.TrimSpace(v))] = true
		}
	}
	if cfg.MaxCyclesPerScan <= 0 {
		cfg.MaxCyclesPerScan = 1
	}
	cfg.LockTTL = max(cfg.LockTTL, MinLockTTL)
	return &Feed{
		graph:     g,
		det:       det,
		ticker:    ticker,
		sink:      sink,
		allow:     allow,
		maxCycles: cfg.MaxCyclesPerScan,
		locks:     cfg.Locks,
		lockTTL:   cfg.LockTTL,
		onApplied: cfg.OnApplied,
		onScan:    cfg.OnScan,
		logger:    logger.With(slog.String("component", "opportunity_feed")),
	}
}

// Apply validates one observation and writes it to the graph.
func (f *Feed) Apply(obs domain.RateObservation) error {
	if err := obs.Validate(); err != nil {
		f.rejected.Add(1)
		return err
	}
	if f.allow != nil && !f.allow[strings.ToLower(obs.Venue)] {
		f.rejected.Add(1)
		return fmt.Errorf("%w: %s", ErrVenueNotAllowed, obs.Venue)
	}
	if err := f.graph.Apply(obs); err != nil {
		f.rejected.Add(1)
		return err
	}
	f.applied.Add(1)
	if f.onApplied != nil {
		f.onApplied(obs)
	}
	return nil
}

// Run consumes observations from in and scans on every tick until ctx is
// cancelled. A closed input channel stops ingestion but not scanning. Bad
// observations and failed sink calls are logged and never stop the loop.
func (f *Feed) Run(ctx context.Context, in <-chan domain.RateObservation) error {
	defer f.ticker.Stop()
	f.logger.InfoContext(ctx, "opportunity feed started")
	defer f.logger.Info("opportunity feed stopped")

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return f.ingest(ctx, in)
	})
	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-f.ticker.C():
				f.tick(ctx)
			}
		}
	})
	return g.Wait()
}

func (f *Feed) ingest(ctx context.Context, in <-chan domain.RateObservation) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case obs, ok := <-in:
			if !ok {
				f.logger.InfoContext(ctx, "observation channel closed")
				return nil
			}
			if err := f.Apply(obs); err != nil {
				f.logger.DebugContext(ctx, "observation rejected",
					slog.String("edge", obs.Key().String()),
					slog.Float64("rate", obs.Rate),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

func (f *Feed) tick(ctx context.Context) {
	if f.locks != nil {
		// The lock is left to expire so that peers skip the same tick.
		_, err := f.locks.Acquire(ctx, scanLockKey, f.lockTTL)
		if errors.Is(err, domain.ErrLockHeld) {
			f.logger.DebugContext(ctx, "scan skipped, another instance holds the lock")
			return
		}
		if err != nil {
			f.logger.WarnContext(ctx, "scan lock failed", slog.String("error", err.Error()))
			return
		}
	}
	f.ScanOnce(ctx)
}

// ScanOnce snapshots the graph, runs detection without holding any graph
// lock, and hands each opportunity to the sink. Concurrent calls are
// serialised.
func (f *Feed) ScanOnce(ctx context.Context) []domain.Opportunity {
	f.scanMu.Lock()
	defer f.scanMu.Unlock()

	snap := f.graph.Snapshot()
	start := time.Now()
	opps := f.det.FindAll(snap, f.maxCycles)
	took := time.Since(start)
	f.scans.Add(1)
	if f.onScan != nil {
		f.onScan(len(opps), took)
	}

	f.mu.Lock()
	f.lastScan = snap.TakenAt
	f.lastFound = len(opps)
	f.mu.Unlock()

	f.logger.DebugContext(ctx, "scan complete",
		slog.Int("assets", len(snap.Assets)),
		slog.Int("edges", len(snap.Edges)),
		slog.Int("found", len(opps)),
		slog.Duration("took", took),
	)

	for _, opp := range opps {
		f.logger.InfoContext(ctx, "arbitrage opportunity",
			slog.String("opp_id", opp.ID),
			slog.String("path", opp.Path()),
			slog.Float64("profit_ratio", opp.ProfitRatio),
		)
		if f.sink == nil {
			continue
		}
		if err := f.sink.Handle(ctx, opp); err != nil {
			f.logger.WarnContext(ctx, "sink failed",
				slog.String("opp_id", opp.ID),
				slog.String("error", err.Error()),
			)
		}
	}
	return opps
}

// Stats returns counters for the status endpoint.
func (f *Feed) Stats() Stats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return Stats{
		Applied:       f.applied.Load(),
		Rejected:      f.rejected.Load(),
		Scans:         f.scans.Load(),
		LastScanAt:    f.lastScan,
		LastScanFound: f.lastFound,
	}
}

package app

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/arbgraph/internal/chain"
	"github.com/alanyoungcy/arbgraph/internal/config"
	"github.com/alanyoungcy/arbgraph/internal/detector"
	"github.com/alanyoungcy/arbgraph/internal/domain"
	"github.com/alanyoungcy/arbgraph/internal/feed"
	"github.com/alanyoungcy/arbgraph/internal/graph"
	"github.com/alanyoungcy/arbgraph/internal/metrics"
	"github.com/alanyoungcy/arbgraph/internal/notify"
	"github.com/alanyoungcy/arbgraph/internal/platform/oneinch"
	"github.com/alanyoungcy/arbgraph/internal/seed"
	"github.com/alanyoungcy/arbgraph/internal/server"
	"github.com/alanyoungcy/arbgraph/internal/server/handler"
	"github.com/alanyoungcy/arbgraph/internal/server/ws"
	"github.com/alanyoungcy/arbgraph/internal/service"
)

// runOpts selects which parts of the engine a mode starts.
type runOpts struct {
	mode      string
	scheduled bool // scan on the configured interval
	serveHTTP bool
}

// SeedMode refreshes token_data.json from the metadata API and exits.
func (a *App) SeedMode(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting seed mode")

	tokens := make([]seed.SeedToken, 0, len(a.cfg.Seed.Tokens))
	for _, t := range a.cfg.Seed.Tokens {
		tokens = append(tokens, seed.SeedToken{Symbol: t.Symbol, Address: t.Address})
	}
	client := oneinch.NewClient(a.cfg.OneInch.BaseURL, a.cfg.OneInch.ChainID, a.cfg.OneInch.APIKey)
	data := seed.Refresh(ctx, client, tokens, a.cfg.Seed.Dexes, a.logger)

	if err := seed.WriteTokenData(a.cfg.Seed.TokenDataPath, data); err != nil {
		return fmt.Errorf("seed mode: %w", err)
	}
	a.logger.InfoContext(ctx, "token data written",
		slog.String("path", a.cfg.Seed.TokenDataPath),
		slog.Int("tokens", len(data.Tokens)),
		slog.Int("dexes", len(data.Dexes)),
	)
	return nil
}

// ScanMode ingests and scans on the interval without serving HTTP.
func (a *App) ScanMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting scan mode")
	return a.run(ctx, deps, runOpts{mode: ModeScan, scheduled: true})
}

// MonitorMode ingests rates and serves the API and websocket. Scans only
// run on request through POST /api/scan.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode")
	return a.run(ctx, deps, runOpts{mode: ModeMonitor, serveHTTP: true})
}

// FullMode starts every subsystem. The HTTP server follows server.enabled.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")
	return a.run(ctx, deps, runOpts{mode: ModeFull, scheduled: true, serveHTTP: a.cfg.Server.Enabled})
}

func (a *App) run(ctx context.Context, deps *Dependencies, opts runOpts) error {
	rg := graph.New()

	var archiver *service.SnapshotArchiver
	if deps.BlobWriter != nil {
		archiver = service.NewSnapshotArchiver(rg, deps.BlobWriter, deps.BlobReader, deps.History,
			a.cfg.S3.ArchiveInterval.Duration, a.logger)
	}
	mirrorEvery := a.cfg.Postgres.MirrorInterval.Duration
	if mirrorEvery <= 0 {
		mirrorEvery = 30 * time.Second
	}
	mirror := service.NewGraphMirror(rg, deps.GraphStore, deps.RateCache, mirrorEvery, a.logger)

	if err := a.loadGraph(ctx, rg, mirror, archiver); err != nil {
		return err
	}

	pairs, err := resolvePairs(a.cfg.Chain.Pairs, rg)
	if a.cfg.Chain.Enabled && err != nil {
		return fmt.Errorf("app: chain pairs: %w", err)
	}

	var (
		hub *ws.Hub
		fd  *feed.Feed
		mx  *metrics.Metrics
	)
	status := func() domain.BotStatus {
		assets, edges := rg.Len()
		st := fd.Stats()
		return domain.BotStatus{
			Mode:          opts.mode,
			UptimeSeconds: int64(time.Since(a.startedAt).Seconds()),
			Assets:        assets,
			Edges:         edges,
			LastScanAt:    st.LastScanAt,
			LastScanFound: st.LastScanFound,
		}
	}

	oppDeps := service.OpportunityDeps{
		Store:    deps.OpportunityStore,
		Bus:      deps.SignalBus,
		Audit:    deps.AuditStore,
		Notifier: deps.Notifier,
	}
	feedCfg := feed.Config{
		Venues:           a.cfg.Scanner.Venues,
		MaxCyclesPerScan: a.cfg.Scanner.MaxCyclesPerScan,
		Locks:            deps.LockManager,
		LockTTL:          a.cfg.Scanner.Interval.Duration * 9 / 10,
	}
	if opts.serveHTTP {
		hub = ws.NewHub(ws.Config{
			Bus:            deps.SignalBus,
			BridgeChannels: []string{domain.ChannelOpportunities},
			Status:         status,
		}, a.logger)
		oppDeps.Hub = hub
		feedCfg.OnApplied = func(obs domain.RateObservation) {
			msg, err := domain.EncodeEnvelope(domain.EventRate, obs)
			if err != nil {
				return
			}
			hub.Broadcast(domain.ChannelRates, msg)
		}
	}
	opps := service.NewOpportunityService(oppDeps, a.cfg.Scanner.DedupTTL.Duration, a.logger)

	var sink feed.Sink = opps
	if opts.serveHTTP && a.cfg.Server.Metrics {
		src := metrics.Sources{
			Graph: rg.Len,
			Feed: func() (int64, int64) {
				st := fd.Stats()
				return st.Applied, st.Rejected
			},
			WSClients: hub.ClientCount,
		}
		mx = metrics.New(src)
		feedCfg.OnScan = mx.ObserveScan
		sink = feed.SinkFunc(func(ctx context.Context, opp domain.Opportunity) error {
			mx.ObserveOpportunity(opp)
			return opps.Handle(ctx, opp)
		})
	}

	var ticker feed.Ticker = feed.NewManualTicker()
	if opts.scheduled {
		ticker = feed.NewIntervalTicker(a.cfg.Scanner.Interval.Duration)
	}
	det := detector.New(detector.Config{MinProfitRatio: a.cfg.Scanner.MinProfitRatio})
	fd = feed.New(rg, det, ticker, sink, feedCfg, a.logger)

	g, ctx := errgroup.WithContext(ctx)

	observations := make(chan domain.RateObservation, a.cfg.Scanner.IngestBuffer)
	g.Go(func() error {
		return fd.Run(ctx, observations)
	})
	a.startSources(ctx, g, deps, pairs, observations)

	if deps.GraphStore != nil || deps.RateCache != nil {
		g.Go(func() error {
			return mirror.Run(ctx)
		})
	}
	if archiver != nil {
		g.Go(func() error {
			return archiver.Run(ctx)
		})
	}

	if opts.serveHTTP {
		a.startHTTPServer(ctx, g, deps, rg, fd, opps, hub, mx, status)
	}

	a.notifyStartup(ctx, deps, rg, opts.mode)

	return g.Wait()
}

// loadGraph fills the graph before any source starts: token metadata first,
// then the newest archived snapshot, then the database mirror. Later steps
// overwrite earlier edges.
func (a *App) loadGraph(ctx context.Context, rg *graph.RateGraph, mirror *service.GraphMirror, archiver *service.SnapshotArchiver) error {
	data, err := seed.ReadTokenData(a.cfg.Seed.TokenDataPath)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		a.logger.InfoContext(ctx, "no token data file, starting without metadata",
			slog.String("path", a.cfg.Seed.TokenDataPath))
	case err != nil:
		return fmt.Errorf("app: %w", err)
	default:
		assets, venues := seed.Apply(rg, data)
		a.logger.InfoContext(ctx, "token data loaded",
			slog.Int("assets", assets),
			slog.Int("venues", venues),
		)
	}

	if archiver != nil && a.cfg.S3.RestoreOnStart {
		if _, err := archiver.RestoreLatest(ctx); err != nil {
			a.logger.WarnContext(ctx, "snapshot restore failed", slog.String("error", err.Error()))
		}
	}

	if _, err := mirror.Warm(ctx); err != nil {
		a.logger.WarnContext(ctx, "graph warm failed", slog.String("error", err.Error()))
	}
	return nil
}

// startSources launches every configured observation source. A source that
// fails is logged and dropped; the rest keep feeding the graph.
func (a *App) startSources(ctx context.Context, g *errgroup.Group, deps *Dependencies, pairs []chain.Pair, out chan<- domain.RateObservation) {
	soft := func(name string, run func() error) {
		g.Go(func() error {
			err := run()
			if err != nil && ctx.Err() == nil {
				a.logger.ErrorContext(ctx, "source stopped",
					slog.String("source", name),
					slog.String("error", err.Error()),
				)
			}
			return nil
		})
	}

	if path := a.cfg.Seed.RatesPath; path != "" {
		obs, err := seed.LoadRates(path)
		if err != nil {
			a.logger.ErrorContext(ctx, "seed rates not loaded",
				slog.String("path", path),
				slog.String("error", err.Error()),
			)
		} else {
			soft("seed", func() error { return seed.Emit(ctx, obs, out) })
		}
	}

	if deps.SignalBus != nil {
		src := feed.NewBusSource(deps.SignalBus, domain.ChannelRates, a.logger)
		soft("bus", func() error { return src.Run(ctx, out) })
	}

	if a.cfg.Chain.Enabled {
		w, err := chain.NewWatcher(chain.DialRPC(a.cfg.Chain.RPCURL), pairs, a.cfg.Chain.StartBlock, a.logger)
		if err != nil {
			a.logger.ErrorContext(ctx, "chain watcher disabled", slog.String("error", err.Error()))
			return
		}
		soft("chain", func() error { return w.Run(ctx, out) })
	}
}

// resolvePairs converts configured pairs, taking missing decimals from the
// graph's asset metadata.
func resolvePairs(cfgPairs []config.PairConfig, rg *graph.RateGraph) ([]chain.Pair, error) {
	decimals := func(explicit int32, token string) (int32, error) {
		if explicit > 0 {
			return explicit, nil
		}
		if a, ok := rg.Asset(token); ok && a.Decimals > 0 {
			return int32(a.Decimals), nil
		}
		return 0, fmt.Errorf("decimals unknown for %s", token)
	}

	pairs := make([]chain.Pair, 0, len(cfgPairs))
	var errs []error
	for _, p := range cfgPairs {
		d0, err0 := decimals(p.Decimals0, p.Token0)
		d1, err1 := decimals(p.Decimals1, p.Token1)
		if err := errors.Join(err0, err1); err != nil {
			errs = append(errs, fmt.Errorf("pair %s: %w", p.Address, err))
			continue
		}
		pairs = append(pairs, chain.Pair{
			Address:   common.HexToAddress(p.Address),
			Token0:    p.Token0,
			Token1:    p.Token1,
			Decimals0: d0,
			Decimals1: d1,
			Venue:     p.Venue,
		})
	}
	return pairs, errors.Join(errs...)
}

// startHTTPServer adds the API server and websocket hub to the errgroup.
func (a *App) startHTTPServer(
	ctx context.Context,
	g *errgroup.Group,
	deps *Dependencies,
	rg *graph.RateGraph,
	fd *feed.Feed,
	opps *service.OpportunityService,
	hub *ws.Hub,
	mx *metrics.Metrics,
	status func() domain.BotStatus,
) {
	handlers := server.Handlers{
		Health:        handler.NewHealthHandler(deps.HealthChecks, a.logger),
		Status:        handler.NewStatusHandler(status),
		Graph:         handler.NewGraphHandler(rg),
		Rates:         handler.NewRatesHandler(fd, rg, deps.RateCache, a.logger),
		Opportunities: handler.NewOpportunityHandler(fd, opps, deps.SignalBus, a.logger),
	}
	if deps.AuditStore != nil {
		handlers.Audit = handler.NewAuditHandler(deps.AuditStore, a.logger)
	}

	srv := server.NewServer(server.Config{
		Port:           a.cfg.Server.Port,
		CORSOrigins:    a.cfg.Server.CORSOrigins,
		APIKey:         a.cfg.Server.APIKey,
		Limiter:        deps.RateLimiter,
		WriteLimit:     a.cfg.Server.WriteLimit,
		WriteLimitSpan: a.cfg.Server.WriteLimitWindow.Duration,
		Metrics:        mx,
	}, handlers, hub, a.logger)

	g.Go(func() error {
		return hub.Run(ctx)
	})

	g.Go(func() error {
		a.logger.InfoContext(ctx, "HTTP server listening",
			slog.Int("port", a.cfg.Server.Port),
			slog.String("url", fmt.Sprintf("http://localhost:%d", a.cfg.Server.Port)))
		return srv.Start()
	})

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}

func (a *App) notifyStartup(ctx context.Context, deps *Dependencies, rg *graph.RateGraph, mode string) {
	if !deps.Notifier.Enabled() {
		return
	}
	assets, edges := rg.Len()
	host, _ := os.Hostname()
	msg := fmt.Sprintf("mode=%s host=%s assets=%d edges=%d", mode, host, assets, edges)
	if err := deps.Notifier.Notify(ctx, notify.EventStartup, "arbgraph started", msg); err != nil {
		a.logger.WarnContext(ctx, "startup notification failed", slog.String("error", err.Error()))
	}
}

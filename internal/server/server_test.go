package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alanyoungcy/arbgraph/internal/detector"
	"github.com/alanyoungcy/arbgraph/internal/domain"
	"github.com/alanyoungcy/arbgraph/internal/feed"
	"github.com/alanyoungcy/arbgraph/internal/graph"
	"github.com/alanyoungcy/arbgraph/internal/metrics"
	"github.com/alanyoungcy/arbgraph/internal/server/handler"
	"github.com/alanyoungcy/arbgraph/internal/service"
)

type testEnv struct {
	srv   http.Handler
	graph *graph.RateGraph
}

func newTestEnv(t *testing.T, apiKey string, checks map[string]handler.Check) testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	g := graph.New()
	opps := service.NewOpportunityService(service.OpportunityDeps{}, time.Minute, logger)
	f := feed.New(g, detector.New(detector.Config{}), feed.NewManualTicker(), opps,
		feed.Config{Venues: []string{"uniswap", "sushiswap"}, MaxCyclesPerScan: 4}, logger)

	status := func() domain.BotStatus {
		a, e := g.Len()
		return domain.BotStatus{Mode: "scan", Assets: a, Edges: e}
	}
	s := NewServer(Config{APIKey: apiKey}, Handlers{
		Health:        handler.NewHealthHandler(checks, logger),
		Status:        handler.NewStatusHandler(status),
		Graph:         handler.NewGraphHandler(g),
		Rates:         handler.NewRatesHandler(f, g, nil, logger),
		Opportunities: handler.NewOpportunityHandler(f, opps, nil, logger),
	}, nil, logger)
	return testEnv{srv: s.Handler(), graph: g}
}

func (e testEnv) do(t *testing.T, method, path, body string, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	e.srv.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, "", map[string]handler.Check{
		"postgres": func(context.Context) error { return nil },
	})
	if rec := env.do(t, http.MethodGet, "/api/health", ""); rec.Code != http.StatusOK {
		t.Fatalf("healthy: status = %d body = %s", rec.Code, rec.Body)
	}

	env = newTestEnv(t, "", map[string]handler.Check{
		"redis": func(context.Context) error { return errors.New("connection refused") },
	})
	rec := env.do(t, http.MethodGet, "/api/health", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("degraded: status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "connection refused") {
		t.Fatalf("body should name failing check: %s", rec.Body)
	}
}

func TestPostRateStatusCodes(t *testing.T) {
	env := newTestEnv(t, "", nil)
	tests := []struct {
		name string
		body string
		want int
	}{
		{"accepted", `{"source":"WETH","target":"USDC","venue":"uniswap","rate":3100.5}`, http.StatusAccepted},
		{"not json", `{"source":`, http.StatusBadRequest},
		{"missing venue", `{"source":"WETH","target":"USDC","rate":1}`, http.StatusBadRequest},
		{"missing rate", `{"source":"WETH","target":"USDC","venue":"uniswap"}`, http.StatusBadRequest},
		{"self loop", `{"source":"WETH","target":"WETH","venue":"uniswap","rate":1}`, http.StatusBadRequest},
		{"negative rate", `{"source":"WETH","target":"USDC","venue":"uniswap","rate":-1}`, http.StatusUnprocessableEntity},
		{"filtered venue", `{"source":"WETH","target":"USDC","venue":"curve","rate":1}`, http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/api/rates", tt.body)
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tt.want, rec.Body)
			}
		})
	}
	if _, edges := env.graph.Len(); edges != 1 {
		t.Fatalf("edges = %d, want only the accepted observation", edges)
	}
}

func TestMutatingRoutesRequireKey(t *testing.T) {
	env := newTestEnv(t, "k", nil)
	body := `{"source":"A","target":"B","venue":"uniswap","rate":2}`

	if rec := env.do(t, http.MethodPost, "/api/rates", body); rec.Code != http.StatusUnauthorized {
		t.Fatalf("no key: status = %d", rec.Code)
	}
	if rec := env.do(t, http.MethodPost, "/api/rates", body, "X-API-Key", "k"); rec.Code != http.StatusAccepted {
		t.Fatalf("with key: status = %d", rec.Code)
	}
	if rec := env.do(t, http.MethodGet, "/api/graph/assets", ""); rec.Code != http.StatusOK {
		t.Fatalf("reads stay open: status = %d", rec.Code)
	}
}

func TestScanAndRecent(t *testing.T) {
	env := newTestEnv(t, "", nil)
	for _, body := range []string{
		`{"source":"A","target":"B","venue":"uniswap","rate":2}`,
		`{"source":"B","target":"C","venue":"sushiswap","rate":3}`,
		`{"source":"C","target":"A","venue":"uniswap","rate":0.2}`,
	} {
		if rec := env.do(t, http.MethodPost, "/api/rates", body); rec.Code != http.StatusAccepted {
			t.Fatalf("seed %s: %d", body, rec.Code)
		}
	}

	rec := env.do(t, http.MethodPost, "/api/scan", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("scan status = %d", rec.Code)
	}
	var scan struct {
		Opportunities []domain.Opportunity `json:"opportunities"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &scan); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(scan.Opportunities) != 1 {
		t.Fatalf("opportunities = %+v", scan.Opportunities)
	}
	if got := scan.Opportunities[0].ProfitRatio; got < 1.19 || got > 1.21 {
		t.Fatalf("profit ratio = %v, want 1.2", got)
	}

	rec = env.do(t, http.MethodGet, "/api/opportunities/recent?limit=5", "")
	var recent struct {
		Opportunities []domain.Opportunity `json:"opportunities"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &recent); err != nil {
		t.Fatalf("decode recent: %v", err)
	}
	if len(recent.Opportunities) != 1 || recent.Opportunities[0].ID != scan.Opportunities[0].ID {
		t.Fatalf("recent = %+v", recent.Opportunities)
	}
}

func TestGraphRoutes(t *testing.T) {
	env := newTestEnv(t, "", nil)
	env.graph.RegisterAsset(domain.Asset{Key: "WETH", Symbol: "WETH", Decimals: 18})
	if err := env.graph.UpsertEdge("WETH", "USDC", "uniswap", 3000); err != nil {
		t.Fatal(err)
	}

	rec := env.do(t, http.MethodGet, "/api/graph/assets/WETH/neighbors", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("neighbors status = %d", rec.Code)
	}
	var nb struct {
		Neighbors []graph.Neighbor `json:"neighbors"`
	}
	json.Unmarshal(rec.Body.Bytes(), &nb)
	if len(nb.Neighbors) != 1 || nb.Neighbors[0].Target != "USDC" || nb.Neighbors[0].Rate != 3000 {
		t.Fatalf("neighbors = %+v", nb.Neighbors)
	}

	if rec := env.do(t, http.MethodGet, "/api/graph/assets/DOGE/neighbors", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("unknown asset status = %d", rec.Code)
	}

	rec = env.do(t, http.MethodGet, "/api/graph/snapshot", "")
	var snap graph.Snapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if len(snap.Assets) != 2 || len(snap.Edges) != 1 {
		t.Fatalf("snapshot = %+v", snap)
	}

	rec = env.do(t, http.MethodGet, "/api/status", "")
	var st domain.BotStatus
	json.Unmarshal(rec.Body.Bytes(), &st)
	if st.Assets != 2 || st.Edges != 1 {
		t.Fatalf("status = %+v", st)
	}
}

type memAudit struct {
	got domain.ListOpts
}

func (m *memAudit) List(_ context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	m.got = opts
	return []domain.AuditEntry{{ID: 1, Event: opts.Event}}, nil
}

func TestAuditRoute(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	audit := &memAudit{}
	g := graph.New()
	f := feed.New(g, detector.New(detector.Config{}), feed.NewManualTicker(), nil, feed.Config{}, logger)
	s := NewServer(Config{}, Handlers{
		Health:        handler.NewHealthHandler(nil, logger),
		Status:        handler.NewStatusHandler(func() domain.BotStatus { return domain.BotStatus{} }),
		Graph:         handler.NewGraphHandler(g),
		Rates:         handler.NewRatesHandler(f, g, nil, logger),
		Opportunities: handler.NewOpportunityHandler(f, service.NewOpportunityService(service.OpportunityDeps{}, time.Minute, logger), nil, logger),
		Audit:         handler.NewAuditHandler(audit, logger),
	}, nil, logger)
	env := testEnv{srv: s.Handler(), graph: g}

	rec := env.do(t, http.MethodGet, "/api/audit?event=opportunity_detected&since=2026-01-02T15:04:05Z&limit=7", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body %s", rec.Code, rec.Body)
	}
	if audit.got.Event != "opportunity_detected" || audit.got.Limit != 7 || audit.got.Since == nil {
		t.Fatalf("opts = %+v", audit.got)
	}
	if rec := env.do(t, http.MethodGet, "/api/audit?since=yesterday", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad since: status = %d", rec.Code)
	}
}

func TestMetricsRoute(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	g := graph.New()
	f := feed.New(g, detector.New(detector.Config{}), feed.NewManualTicker(), nil, feed.Config{}, logger)
	s := NewServer(Config{Metrics: metrics.New(metrics.Sources{Graph: g.Len})}, Handlers{
		Health:        handler.NewHealthHandler(nil, logger),
		Status:        handler.NewStatusHandler(func() domain.BotStatus { return domain.BotStatus{} }),
		Graph:         handler.NewGraphHandler(g),
		Rates:         handler.NewRatesHandler(f, g, nil, logger),
		Opportunities: handler.NewOpportunityHandler(f, service.NewOpportunityService(service.OpportunityDeps{}, time.Minute, logger), nil, logger),
	}, nil, logger)
	env := testEnv{srv: s.Handler(), graph: g}

	env.do(t, http.MethodPost, "/api/rates", `{"source":"A","target":"B","venue":"v","rate":2}`)
	rec := env.do(t, http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "arbgraph_graph_edges 1") {
		t.Errorf("graph gauge missing:\n%s", body)
	}
	if !strings.Contains(body, `arbgraph_http_requests_total{code="202",method="post"} 1`) {
		t.Errorf("request counter missing:\n%s", body)
	}
}

type memRateCache struct {
	edges map[domain.EdgeKey]domain.TradingEdge
}

func (c *memRateCache) SetRates(context.Context, []domain.TradingEdge) error { return nil }

func (c *memRateCache) GetRate(_ context.Context, key domain.EdgeKey) (domain.TradingEdge, error) {
	e, ok := c.edges[key]
	if !ok {
		return domain.TradingEdge{}, domain.ErrNotFound
	}
	return e, nil
}

type memStream struct {
	msgs    []domain.StreamMessage
	gotLast string
	gotN    int
}

func (s *memStream) StreamRead(_ context.Context, _ string, lastID string, count int) ([]domain.StreamMessage, error) {
	s.gotLast, s.gotN = lastID, count
	return s.msgs, nil
}

func newLookupEnv(cache domain.RateCache, stream handler.StreamReader) testEnv {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	g := graph.New()
	f := feed.New(g, detector.New(detector.Config{}), feed.NewManualTicker(), nil, feed.Config{}, logger)
	opps := service.NewOpportunityService(service.OpportunityDeps{}, time.Minute, logger)
	s := NewServer(Config{}, Handlers{
		Health:        handler.NewHealthHandler(nil, logger),
		Status:        handler.NewStatusHandler(func() domain.BotStatus { return domain.BotStatus{} }),
		Graph:         handler.NewGraphHandler(g),
		Rates:         handler.NewRatesHandler(f, g, cache, logger),
		Opportunities: handler.NewOpportunityHandler(f, opps, stream, logger),
	}, nil, logger)
	return testEnv{srv: s.Handler(), graph: g}
}

func TestGetRateFallsBackToCache(t *testing.T) {
	cached := domain.EdgeKey{Source: "DAI", Target: "USDC", Venue: "curve"}
	env := newLookupEnv(&memRateCache{edges: map[domain.EdgeKey]domain.TradingEdge{
		cached: {EdgeKey: cached, Rate: 0.9998},
	}}, nil)
	if err := env.graph.UpsertEdge("WETH", "USDC", "uniswap", 3000); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		path   string
		want   int
		origin string
		rate   float64
	}{
		{"/api/rates/WETH/USDC/uniswap", http.StatusOK, "graph", 3000},
		{"/api/rates/DAI/USDC/curve", http.StatusOK, "cache", 0.9998},
		{"/api/rates/DAI/USDC/uniswap", http.StatusNotFound, "", 0},
	}
	for _, tt := range tests {
		rec := env.do(t, http.MethodGet, tt.path, "")
		if rec.Code != tt.want {
			t.Fatalf("%s: status = %d, want %d", tt.path, rec.Code, tt.want)
		}
		if tt.want != http.StatusOK {
			continue
		}
		var resp struct {
			Edge   domain.TradingEdge `json:"edge"`
			Origin string             `json:"origin"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatal(err)
		}
		if resp.Origin != tt.origin || resp.Edge.Rate != tt.rate {
			t.Errorf("%s: got %+v", tt.path, resp)
		}
	}

	if rec := newLookupEnv(nil, nil).do(t, http.MethodGet, "/api/rates/DAI/USDC/curve", ""); rec.Code != http.StatusNotFound {
		t.Errorf("without cache: status = %d, want 404", rec.Code)
	}
}

func TestOpportunityStreamReplay(t *testing.T) {
	if rec := newLookupEnv(nil, nil).do(t, http.MethodGet, "/api/opportunities/stream", ""); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("without bus: status = %d, want 503", rec.Code)
	}

	stream := &memStream{msgs: []domain.StreamMessage{
		{ID: "1-0", Payload: []byte(`{"type":"opportunity","data":{"id":"a"}}`)},
		{ID: "2-0", Payload: []byte(`not json`)},
	}}
	env := newLookupEnv(nil, stream)
	rec := env.do(t, http.MethodGet, "/api/opportunities/stream?after=0-5&limit=2", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body %s", rec.Code, rec.Body)
	}
	if stream.gotLast != "0-5" || stream.gotN != 2 {
		t.Errorf("read after %q count %d", stream.gotLast, stream.gotN)
	}
	var resp struct {
		Entries []struct {
			ID string `json:"id"`
		} `json:"entries"`
		Next string `json:"next"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Entries) != 1 || resp.Entries[0].ID != "1-0" || resp.Next != "2-0" {
		t.Errorf("resp = %+v, want one entry and cursor past the unreadable one", resp)
	}
}

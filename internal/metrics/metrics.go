// Package metrics exposes engine counters in the Prometheus text format.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alanyoungcy/arbgraph/internal/domain"
)

const namespace = "arbgraph"

// Sources are read at scrape time. Any nil function is not registered.
type Sources struct {
	Graph     func() (assets, edges int)
	Feed      func() (applied, rejected int64)
	WSClients func() int
}

// Metrics owns a private registry so that tests and multiple instances never
// collide on the global one.
type Metrics struct {
	reg           *prometheus.Registry
	opportunities prometheus.Counter
	profitBps     prometheus.Histogram
	scanSeconds   prometheus.Histogram
	scanFound     prometheus.Gauge
	httpRequests  *prometheus.CounterVec
}

// New registers the engine collectors plus the Go and process collectors.
func New(src Sources) *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		opportunities: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "opportunities_total",
			Help: "Opportunities handed to the sink.",
		}),
		profitBps: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "opportunity_profit_bps",
			Help:    "Gross edge of reported loops in basis points.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 14),
		}),
		scanSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "scan_duration_seconds",
			Help:    "Time spent detecting cycles over one snapshot.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
		}),
		scanFound: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "last_scan_found",
			Help: "Loops found by the most recent scan.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "http_requests_total",
			Help: "HTTP requests by status code and method.",
		}, []string{"code", "method"}),
	}

	cs := []prometheus.Collector{
		m.opportunities, m.profitBps, m.scanSeconds, m.scanFound, m.httpRequests,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	}
	if src.Graph != nil {
		graph := src.Graph
		cs = append(cs,
			prometheus.NewGaugeFunc(prometheus.GaugeOpts{
				Namespace: namespace, Name: "graph_assets", Help: "Assets in the rate graph.",
			}, func() float64 { a, _ := graph(); return float64(a) }),
			prometheus.NewGaugeFunc(prometheus.GaugeOpts{
				Namespace: namespace, Name: "graph_edges", Help: "Edges in the rate graph.",
			}, func() float64 { _, e := graph(); return float64(e) }),
		)
	}
	if src.Feed != nil {
		feed := src.Feed
		cs = append(cs,
			prometheus.NewCounterFunc(prometheus.CounterOpts{
				Namespace: namespace, Name: "observations_applied_total", Help: "Observations written to the graph.",
			}, func() float64 { a, _ := feed(); return float64(a) }),
			prometheus.NewCounterFunc(prometheus.CounterOpts{
				Namespace: namespace, Name: "observations_rejected_total", Help: "Observations rejected before the graph.",
			}, func() float64 { _, r := feed(); return float64(r) }),
		)
	}
	if src.WSClients != nil {
		clients := src.WSClients
		cs = append(cs, prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace, Name: "ws_clients", Help: "Connected websocket clients.",
		}, func() float64 { return float64(clients()) }))
	}
	m.reg.MustRegister(cs...)
	return m
}

// ObserveOpportunity records one reported loop.
func (m *Metrics) ObserveOpportunity(opp domain.Opportunity) {
	m.opportunities.Inc()
	m.profitBps.Observe(opp.ProfitBps())
}

// ObserveScan records one detection pass.
func (m *Metrics) ObserveScan(found int, took time.Duration) {
	m.scanSeconds.Observe(took.Seconds())
	m.scanFound.Set(float64(found))
}

// Handler serves the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// InstrumentHTTP counts requests passing through next.
func (m *Metrics) InstrumentHTTP(next http.Handler) http.Handler {
	return promhttp.InstrumentHandlerCounter(m.httpRequests, next)
}

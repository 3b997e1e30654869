package domain

import (
	"strings"
	"time"
)

// Hop is one leg of an arbitrage cycle: sell Asset on Venue for the next
// hop's asset at Rate.
type Hop struct {
	Asset string  `json:"asset"`
	Venue string  `json:"venue"`
	Rate  float64 `json:"rate"`
}

// Opportunity is a closed trade loop whose compounded rate exceeds 1.
type Opportunity struct {
	ID          string    `json:"id"`
	Cycle       []Hop     `json:"cycle"`
	ProfitRatio float64   `json:"estimated_profit_ratio"`
	DetectedAt  time.Time `json:"detected_at"`
}

// ProfitBps is the gross edge in basis points (ratio 1.0025 -> 25 bps).
func (o Opportunity) ProfitBps() float64 {
	return (o.ProfitRatio - 1) * 10_000
}

// Assets returns the cycle's assets in trade order.
func (o Opportunity) Assets() []string {
	out := make([]string, len(o.Cycle))
	for i, h := range o.Cycle {
		out[i] = h.Asset
	}
	return out
}

// CycleKey is a stable identity for the loop, used for dedup. Cycles are
// emitted in canonical rotation so equal loops produce equal keys.
func (o Opportunity) CycleKey() string {
	parts := make([]string, len(o.Cycle))
	for i, h := range o.Cycle {
		parts[i] = h.Asset + "@" + h.Venue
	}
	return strings.Join(parts, ">")
}

// Path renders the loop as "A -> B -> C -> A".
func (o Opportunity) Path() string {
	if len(o.Cycle) == 0 {
		return ""
	}
	var b strings.Builder
	for _, h := range o.Cycle {
		b.WriteString(h.Asset)
		b.WriteString(" -[")
		b.WriteString(h.Venue)
		b.WriteString("]-> ")
	}
	b.WriteString(o.Cycle[0].Asset)
	return b.String()
}

// BotStatus summarises the process for the status endpoint and the
// websocket hello frame.
type BotStatus struct {
	Mode          string    `json:"mode"`
	UptimeSeconds int64     `json:"uptime_seconds"`
	Assets        int       `json:"assets"`
	Edges         int       `json:"edges"`
	LastScanAt    time.Time `json:"last_scan_at"`
	LastScanFound int       `json:"last_scan_found"`
}

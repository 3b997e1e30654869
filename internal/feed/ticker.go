package feed

import "time"

// Ticker schedules scans. Production code uses a wall-clock interval; tests
// drive a ManualTicker one tick at a time.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type intervalTicker struct {
	t *time.Ticker
}

// NewIntervalTicker ticks every d.
func NewIntervalTicker(d time.Duration) Ticker {
	return &intervalTicker{t: time.NewTicker(d)}
}

func (it *intervalTicker) C() <-chan time.Time { return it.t.C }
func (it *intervalTicker) Stop()               { it.t.Stop() }

// ManualTicker fires only when Tick is called.
type ManualTicker struct {
	ch chan time.Time
}

// NewManualTicker returns a ticker with no pending ticks.
func NewManualTicker() *ManualTicker {
	return &ManualTicker{ch: make(chan time.Time)}
}

// Tick blocks until the consumer has received the tick.
func (m *ManualTicker) Tick() {
	m.ch <- time.Now()
}

func (m *ManualTicker) C() <-chan time.Time { return m.ch }
func (m *ManualTicker) Stop()               {}

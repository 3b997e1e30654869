package chain

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/event"

	"github.com/alanyoungcy/arbgraph/internal/domain"
)

var (
	wethUSDC = common.HexToAddress("0xB4e16d0168e52d35CaCD2c6185b44281Ec28C9Dc")
	testPair = Pair{
		Address:   wethUSDC,
		Token0:    "USDC",
		Token1:    "WETH",
		Decimals0: 6,
		Decimals1: 18,
		Venue:     "uniswap",
	}
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func ether(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
}

func usdc(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1_000_000))
}

func swapLog(t *testing.T, d *SwapDecoder, block uint64, a0in, a1in, a0out, a1out *big.Int) types.Log {
	t.Helper()
	data, err := d.abi.Events[swapEvent].Inputs.NonIndexed().Pack(a0in, a1in, a0out, a1out)
	if err != nil {
		t.Fatalf("pack: %v", err)
	}
	return types.Log{
		Address:     wethUSDC,
		Topics:      []common.Hash{d.Topic(), {}, {}},
		Data:        data,
		BlockNumber: block,
	}
}

func TestDecodeSellsToken0ForToken1(t *testing.T) {
	d, err := NewSwapDecoder([]Pair{testPair})
	if err != nil {
		t.Fatal(err)
	}
	// 3000 USDC in, 1 WETH out.
	obs, err := d.Decode(swapLog(t, d, 1, usdc(3000), big.NewInt(0), big.NewInt(0), ether(1)))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if obs.Source != "USDC" || obs.Target != "WETH" || obs.Venue != "uniswap" {
		t.Errorf("obs = %+v", obs)
	}
	if want := 1.0 / 3000; math.Abs(obs.Rate-want) > 1e-12 {
		t.Errorf("rate = %v, want %v", obs.Rate, want)
	}
}

func TestDecodeSellsToken1ForToken0(t *testing.T) {
	d, _ := NewSwapDecoder([]Pair{testPair})
	// 2 WETH in, 6010 USDC out.
	obs, err := d.Decode(swapLog(t, d, 1, big.NewInt(0), ether(2), usdc(6010), big.NewInt(0)))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if obs.Source != "WETH" || obs.Target != "USDC" {
		t.Errorf("direction = %s -> %s, want WETH -> USDC", obs.Source, obs.Target)
	}
	if math.Abs(obs.Rate-3005) > 1e-9 {
		t.Errorf("rate = %v, want 3005", obs.Rate)
	}
}

func TestDecodeRejectsMalformedLogs(t *testing.T) {
	d, _ := NewSwapDecoder([]Pair{testPair})
	zero := big.NewInt(0)

	tests := []struct {
		name string
		lg   types.Log
	}{
		{"no amounts", swapLog(t, d, 1, zero, zero, zero, zero)},
		{"in without out", swapLog(t, d, 1, usdc(1), zero, zero, zero)},
		{"unknown pair", func() types.Log {
			lg := swapLog(t, d, 1, usdc(1), zero, zero, ether(1))
			lg.Address = common.HexToAddress("0x01")
			return lg
		}()},
		{"wrong topic", func() types.Log {
			lg := swapLog(t, d, 1, usdc(1), zero, zero, ether(1))
			lg.Topics[0] = common.HexToHash("0xdead")
			return lg
		}()},
		{"short data", func() types.Log {
			lg := swapLog(t, d, 1, usdc(1), zero, zero, ether(1))
			lg.Data = lg.Data[:40]
			return lg
		}()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := d.Decode(tt.lg); !errors.Is(err, domain.ErrMalformedEvent) {
				t.Errorf("got %v, want ErrMalformedEvent", err)
			}
		})
	}
}

func TestSwapRateScalesDecimals(t *testing.T) {
	rate, err := SwapRate(ether(1), 18, usdc(2500), 6)
	if err != nil {
		t.Fatal(err)
	}
	if rate != 2500 {
		t.Errorf("rate = %v, want 2500", rate)
	}
	if _, err := SwapRate(big.NewInt(0), 18, usdc(1), 6); !errors.Is(err, domain.ErrMalformedEvent) {
		t.Errorf("zero in: got %v", err)
	}
}

func TestSwapRateSmallRatesKeepPrecision(t *testing.T) {
	cases := []struct {
		out  int64
		want float64
	}{
		{12345, 1.2345e-14},
		{99, 9.9e-17},
		{1, 1e-18},
	}
	for _, c := range cases {
		rate, err := SwapRate(ether(1), 18, big.NewInt(c.out), 18)
		if err != nil {
			t.Fatalf("out=%d: %v", c.out, err)
		}
		if rate != c.want {
			t.Errorf("out=%d: rate = %v, want %v", c.out, rate, c.want)
		}
		back, err := SwapRate(big.NewInt(c.out), 18, ether(1), 18)
		if err != nil {
			t.Fatalf("reverse out=%d: %v", c.out, err)
		}
		if p := rate * back; math.Abs(p-1) > 1e-12 {
			t.Errorf("out=%d: round trip product = %v", c.out, p)
		}
	}
}

func TestNewSwapDecoderRequiresPairFields(t *testing.T) {
	if _, err := NewSwapDecoder([]Pair{{Address: wethUSDC, Token0: "USDC"}}); err == nil {
		t.Fatal("expected error for incomplete pair")
	}
}

// fakeNode serves backfill logs and pushes live logs through a
// subscription built with event.NewSubscription.
type fakeNode struct {
	mu       sync.Mutex
	past     []types.Log
	live     []types.Log
	fromSeen []uint64
	failNext bool
}

func (n *fakeNode) FilterLogs(_ context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.fromSeen = append(n.fromSeen, q.FromBlock.Uint64())
	return n.past, nil
}

func (n *fakeNode) SubscribeFilterLogs(_ context.Context, _ ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error) {
	n.mu.Lock()
	live := n.live
	fail := n.failNext
	n.failNext = false
	n.mu.Unlock()

	return event.NewSubscription(func(quit <-chan struct{}) error {
		for _, lg := range live {
			select {
			case ch <- lg:
			case <-quit:
				return nil
			}
		}
		if fail {
			return errors.New("connection reset")
		}
		<-quit
		return nil
	}), nil
}

func TestWatcherBackfillsThenStreams(t *testing.T) {
	d, _ := NewSwapDecoder([]Pair{testPair})
	zero := big.NewInt(0)
	node := &fakeNode{
		past: []types.Log{swapLog(t, d, 100, usdc(3000), zero, zero, ether(1))},
		live: []types.Log{
			swapLog(t, d, 101, zero, zero, zero, zero), // dropped
			swapLog(t, d, 102, zero, ether(1), usdc(3010), zero),
		},
	}
	dial := func(context.Context) (ethereum.LogFilterer, func(), error) {
		return node, func() {}, nil
	}

	w, err := NewWatcher(dial, []Pair{testPair}, 100, discardLogger())
	if err != nil {
		t.Fatal(err)
	}
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	w.now = func() time.Time { return fixed }

	ctx, cancel := context.WithCancel(context.Background())
	out := make(chan domain.RateObservation, 4)
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx, out) }()

	var got []domain.RateObservation
	for len(got) < 2 {
		select {
		case obs := <-out:
			got = append(got, obs)
		case <-time.After(2 * time.Second):
			t.Fatalf("received %d observations, want 2", len(got))
		}
	}
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("Run = %v, want context.Canceled", err)
	}

	if got[0].Source != "USDC" || got[1].Source != "WETH" {
		t.Errorf("order = %s, %s; want USDC then WETH", got[0].Source, got[1].Source)
	}
	if !got[1].ObservedAt.Equal(fixed) {
		t.Errorf("ObservedAt = %v, want %v", got[1].ObservedAt, fixed)
	}
	if w.nextBlock != 103 {
		t.Errorf("nextBlock = %d, want 103", w.nextBlock)
	}
}

func TestWatcherReconnectsFromLastBlock(t *testing.T) {
	d, _ := NewSwapDecoder([]Pair{testPair})
	zero := big.NewInt(0)
	node := &fakeNode{
		live:     []types.Log{swapLog(t, d, 50, usdc(3000), zero, zero, ether(1))},
		failNext: true,
	}
	dials := 0
	dial := func(context.Context) (ethereum.LogFilterer, func(), error) {
		node.mu.Lock()
		dials++
		node.mu.Unlock()
		return node, func() {}, nil
	}
	w, _ := NewWatcher(dial, []Pair{testPair}, 0, discardLogger())
	w.minBackoff = time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	out := make(chan domain.RateObservation, 4)
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx, out) }()

	// The same live log is replayed on the second connection.
	for i := 0; i < 2; i++ {
		select {
		case <-out:
		case <-time.After(2 * time.Second):
			t.Fatalf("observation %d not received", i)
		}
	}
	cancel()
	<-done

	node.mu.Lock()
	defer node.mu.Unlock()
	if dials < 2 {
		t.Errorf("dials = %d, want a reconnect", dials)
	}
	if len(node.fromSeen) == 0 || node.fromSeen[0] != 51 {
		t.Errorf("backfill from = %v, want first backfill at block 51", node.fromSeen)
	}
}

func TestWatcherBackoffResetsAfterWorkingConnection(t *testing.T) {
	node := &fakeNode{}
	dials := 0
	dial := func(context.Context) (ethereum.LogFilterer, func(), error) {
		dials++
		if dials == 4 {
			node.mu.Lock()
			node.failNext = true
			node.mu.Unlock()
			return node, func() {}, nil
		}
		return nil, nil, errors.New("connection refused")
	}
	w, _ := NewWatcher(dial, []Pair{testPair}, 0, discardLogger())
	w.minBackoff = time.Millisecond
	w.maxBackoff = time.Second

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var waits []time.Duration
	w.after = func(d time.Duration) <-chan time.Time {
		waits = append(waits, d)
		if len(waits) == 5 {
			cancel()
		}
		ch := make(chan time.Time, 1)
		ch <- time.Time{}
		return ch
	}

	if err := w.Run(ctx, make(chan domain.RateObservation, 1)); !errors.Is(err, context.Canceled) {
		t.Fatalf("Run = %v, want context.Canceled", err)
	}
	ms := time.Millisecond
	want := []time.Duration{ms, 2 * ms, 4 * ms, ms, 2 * ms}
	if len(waits) < len(want) {
		t.Fatalf("waits = %v, want prefix %v", waits, want)
	}
	for i, d := range want {
		if waits[i] != d {
			t.Errorf("wait %d = %v, want %v (all: %v)", i, waits[i], d, waits)
		}
	}
}

// Package chain streams DEX pair Swap logs from an EVM node and converts
// them to rate observations.
package chain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/alanyoungcy/arbgraph/internal/domain"
)

var errSubscriptionClosed = errors.New("log subscription closed")

// Dialer opens a log source and returns a function that releases it.
type Dialer func(ctx context.Context) (ethereum.LogFilterer, func(), error)

// DialRPC returns a Dialer backed by ethclient. Log subscriptions need a
// websocket or IPC endpoint.
func DialRPC(rpcURL string) Dialer {
	return func(ctx context.Context) (ethereum.LogFilterer, func(), error) {
		c, err := ethclient.DialContext(ctx, rpcURL)
		if err != nil {
			return nil, nil, fmt.Errorf("chain: dial %s: %w", rpcURL, err)
		}
		return c, c.Close, nil
	}
}

// Watcher subscribes to Swap logs of the configured pairs and reconnects
// with exponential backoff when the subscription drops.
type Watcher struct {
	dial       Dialer
	decoder    *SwapDecoder
	nextBlock  uint64
	minBackoff time.Duration
	maxBackoff time.Duration
	now        func() time.Time
	after      func(time.Duration) <-chan time.Time
	logger     *slog.Logger
}

// NewWatcher creates a watcher. A non-zero startBlock backfills history
// before the live subscription starts.
func NewWatcher(dial Dialer, pairs []Pair, startBlock uint64, logger *slog.Logger) (*Watcher, error) {
	dec, err := NewSwapDecoder(pairs)
	if err != nil {
		return nil, err
	}
	return &Watcher{
		dial:       dial,
		decoder:    dec,
		nextBlock:  startBlock,
		minBackoff: time.Second,
		maxBackoff: 30 * time.Second,
		now:        time.Now,
		after:      time.After,
		logger:     logger.With(slog.String("component", "chain_watcher")),
	}, nil
}

// Run streams observations to out until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context, out chan<- domain.RateObservation) error {
	if len(w.decoder.pairs) == 0 {
		w.logger.Info("no pairs configured, exiting")
		return nil
	}
	backoff := w.minBackoff
	for {
		subscribed, err := w.runConnection(ctx, out)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if subscribed {
			backoff = w.minBackoff
		}
		w.logger.Warn("chain subscription lost, reconnecting",
			slog.String("error", err.Error()),
			slog.Duration("backoff", backoff),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.after(backoff):
		}
		backoff = min(backoff*2, w.maxBackoff)
	}
}

// runConnection reports whether the subscription was established, so that
// Run can reset its backoff after a connection that worked.
func (w *Watcher) runConnection(ctx context.Context, out chan<- domain.RateObservation) (bool, error) {
	src, closeFn, err := w.dial(ctx)
	if err != nil {
		return false, err
	}
	defer closeFn()

	q := ethereum.FilterQuery{
		Addresses: w.decoder.Addresses(),
		Topics:    [][]common.Hash{{w.decoder.Topic()}},
	}

	logs := make(chan types.Log, 256)
	sub, err := src.SubscribeFilterLogs(ctx, q, logs)
	if err != nil {
		return false, fmt.Errorf("chain: subscribe: %w", err)
	}
	defer sub.Unsubscribe()

	// Backfill after subscribing so no block falls between the two.
	if w.nextBlock > 0 {
		hist := q
		hist.FromBlock = new(big.Int).SetUint64(w.nextBlock)
		past, err := src.FilterLogs(ctx, hist)
		if err != nil {
			return true, fmt.Errorf("chain: backfill from %d: %w", w.nextBlock, err)
		}
		w.logger.InfoContext(ctx, "backfilled swap logs",
			slog.Uint64("from_block", w.nextBlock),
			slog.Int("logs", len(past)),
		)
		for _, lg := range past {
			if err := w.handle(ctx, lg, out); err != nil {
				return true, err
			}
		}
	}
	w.logger.InfoContext(ctx, "watching pairs", slog.Int("pairs", len(q.Addresses)))

	for {
		select {
		case <-ctx.Done():
			return true, ctx.Err()
		case err, ok := <-sub.Err():
			if derr := w.drain(ctx, logs, out); derr != nil {
				return true, derr
			}
			if !ok || err == nil {
				return true, errSubscriptionClosed
			}
			return true, fmt.Errorf("chain: subscription: %w", err)
		case lg := <-logs:
			if err := w.handle(ctx, lg, out); err != nil {
				return true, err
			}
		}
	}
}

// handle decodes one log and forwards it. Only cancellation is returned as
// an error; undecodable logs are dropped.
func (w *Watcher) handle(ctx context.Context, lg types.Log, out chan<- domain.RateObservation) error {
	if lg.Removed {
		return nil
	}
	if lg.BlockNumber >= w.nextBlock {
		w.nextBlock = lg.BlockNumber + 1
	}
	obs, err := w.decoder.Decode(lg)
	if err != nil {
		w.logger.DebugContext(ctx, "swap log dropped",
			slog.String("pair", lg.Address.Hex()),
			slog.String("tx", lg.TxHash.Hex()),
			slog.String("error", err.Error()),
		)
		return nil
	}
	obs.ObservedAt = w.now()
	select {
	case out <- obs:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// drain handles logs already buffered when the subscription ends so the
// resume block accounts for them.
func (w *Watcher) drain(ctx context.Context, logs <-chan types.Log, out chan<- domain.RateObservation) error {
	for {
		select {
		case lg := <-logs:
			if err := w.handle(ctx, lg, out); err != nil {
				return err
			}
		default:
			return nil
		}
	}
}

package feed

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sugawarayuuta/sonnet"

	"github.com/alanyoungcy/arbgraph/internal/domain"
)

// observationPayload mirrors domain.RateObservation with an optional rate,
// so an absent rate is told apart from a zero one.
type observationPayload struct {
	Source     string    `json:"source"`
	Target     string    `json:"target"`
	Venue      string    `json:"venue"`
	Rate       *float64  `json:"rate"`
	ObservedAt time.Time `json:"observed_at"`
}

// DecodeObservation parses and validates a JSON observation. Decoding
// problems and missing fields are reported as domain.ErrMalformedEvent.
func DecodeObservation(data []byte) (domain.RateObservation, error) {
	var p observationPayload
	if err := sonnet.Unmarshal(data, &p); err != nil {
		return domain.RateObservation{}, fmt.Errorf("%w: %v", domain.ErrMalformedEvent, err)
	}
	if p.Rate == nil {
		return domain.RateObservation{}, fmt.Errorf("%w: missing rate", domain.ErrMalformedEvent)
	}
	obs := domain.RateObservation{
		Source:     p.Source,
		Target:     p.Target,
		Venue:      p.Venue,
		Rate:       *p.Rate,
		ObservedAt: p.ObservedAt,
	}
	if err := obs.Validate(); err != nil {
		return domain.RateObservation{}, err
	}
	return obs, nil
}

// BusSource relays observations published on a SignalBus channel, so that
// external pollers and watchers can feed the graph without linking to it.
type BusSource struct {
	bus     domain.SignalBus
	channel string
	logger  *slog.Logger
}

// NewBusSource creates a BusSource on channel (domain.ChannelRates if empty).
func NewBusSource(bus domain.SignalBus, channel string, logger *slog.Logger) *BusSource {
	if channel == "" {
		channel = domain.ChannelRates
	}
	return &BusSource{
		bus:     bus,
		channel: channel,
		logger:  logger.With(slog.String("component", "bus_source")),
	}
}

// Run forwards decoded observations to out until ctx is cancelled or the
// subscription closes. Malformed payloads are dropped.
func (s *BusSource) Run(ctx context.Context, out chan<- domain.RateObservation) error {
	ch, err := s.bus.Subscribe(ctx, s.channel)
	if err != nil {
		return fmt.Errorf("bus source: subscribe %s: %w", s.channel, err)
	}
	s.logger.InfoContext(ctx, "bus source started", slog.String("channel", s.channel))
	defer s.logger.Info("bus source stopped")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case data, ok := <-ch:
			if !ok {
				return nil
			}
			obs, err := DecodeObservation(data)
			if err != nil {
				s.logger.DebugContext(ctx, "bus source: dropped payload",
					slog.String("error", err.Error()),
					slog.Int("payload_len", len(data)),
				)
				continue
			}
			select {
			case out <- obs:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

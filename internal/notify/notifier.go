// Package notify fans opportunity alerts out to chat channels. Each sender
// is independent; one failing channel does not block the others.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/arbgraph/internal/domain"
)

// Event names understood by the notifier's filter.
const (
	EventOpportunity = "opportunity_detected"
	EventStartup     = "startup"
)

// Sender delivers one message to one channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// Notifier dispatches to every sender, filtered by event type.
type Notifier struct {
	senders []Sender
	events  map[string]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier. An empty events list allows every event.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = true
		}
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Enabled reports whether any sender is configured.
func (n *Notifier) Enabled() bool {
	return n != nil && len(n.senders) > 0
}

// Notify sends title and message if event passes the filter.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) error {
	if len(n.events) > 0 && !n.events[event] {
		n.logger.DebugContext(ctx, "event filtered out", slog.String("event", event))
		return nil
	}
	return n.dispatch(ctx, title, message)
}

// NotifyOpportunity formats and sends an opportunity alert.
func (n *Notifier) NotifyOpportunity(ctx context.Context, opp domain.Opportunity) error {
	title := fmt.Sprintf("Arbitrage %.1f bps", opp.ProfitBps())
	return n.Notify(ctx, EventOpportunity, title, FormatOpportunity(opp))
}

// FormatOpportunity renders the cycle one hop per line.
func FormatOpportunity(opp domain.Opportunity) string {
	var b strings.Builder
	fmt.Fprintf(&b, "ratio %.6f\n", opp.ProfitRatio)
	for i, h := range opp.Cycle {
		next := opp.Cycle[(i+1)%len(opp.Cycle)].Asset
		fmt.Fprintf(&b, "%s -> %s on %s @ %g\n", h.Asset, next, h.Venue, h.Rate)
	}
	fmt.Fprintf(&b, "id %s", opp.ID)
	return b.String()
}

func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("title", title),
		)
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %w", len(errs), errors.Join(errs...))
	}
	return nil
}

package domain

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Asset is a fungible token. Key is the identity used on edges, normally
// the token symbol; the remaining fields are optional metadata.
type Asset struct {
	Key      string `json:"key"`
	Address  string `json:"address,omitempty"`
	Symbol   string `json:"symbol,omitempty"`
	Name     string `json:"name,omitempty"`
	Decimals int    `json:"decimals"`
}

// Venue is a trading platform offering rates between assets.
type Venue struct {
	Name string `json:"name"`
}

// EdgeKey identifies a TradingEdge. Two edges between the same assets on
// different venues are distinct.
type EdgeKey struct {
	Source string `json:"source"`
	Target string `json:"target"`
	Venue  string `json:"venue"`
}

func (k EdgeKey) String() string {
	return k.Source + "->" + k.Target + "@" + k.Venue
}

// TradingEdge is the amount of Target received per unit of Source on Venue.
type TradingEdge struct {
	EdgeKey
	Rate        float64   `json:"rate"`
	LastUpdated time.Time `json:"last_updated"`
}

// RateObservation is one inbound price point, regardless of origin (swap
// log, REST poll, seed file).
type RateObservation struct {
	Source     string    `json:"source"`
	Target     string    `json:"target"`
	Venue      string    `json:"venue"`
	Rate       float64   `json:"rate"`
	ObservedAt time.Time `json:"observed_at,omitempty"`
}

// Key returns the edge the observation updates.
func (o RateObservation) Key() EdgeKey {
	return EdgeKey{Source: o.Source, Target: o.Target, Venue: o.Venue}
}

// Validate checks that all four required fields are usable. Missing fields
// and self-loops wrap ErrMalformedEvent; a bad rate wraps ErrInvalidRate.
func (o RateObservation) Validate() error {
	switch {
	case strings.TrimSpace(o.Source) == "":
		return fmt.Errorf("%w: missing source", ErrMalformedEvent)
	case strings.TrimSpace(o.Target) == "":
		return fmt.Errorf("%w: missing target", ErrMalformedEvent)
	case strings.TrimSpace(o.Venue) == "":
		return fmt.Errorf("%w: missing venue", ErrMalformedEvent)
	case o.Source == o.Target:
		return fmt.Errorf("%w: source and target are both %s", ErrMalformedEvent, o.Source)
	}
	return ValidateRate(o.Rate)
}

// ValidateRate reports ErrInvalidRate unless rate is positive, finite and
// has a finite natural log.
func ValidateRate(rate float64) error {
	if math.IsNaN(rate) || math.IsInf(rate, 0) || rate <= 0 {
		return fmt.Errorf("%w: %v", ErrInvalidRate, rate)
	}
	if w := math.Log(rate); math.IsInf(w, 0) || math.IsNaN(w) {
		return fmt.Errorf("%w: log(%v) is not finite", ErrInvalidRate, rate)
	}
	return nil
}

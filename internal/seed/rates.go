package seed

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/alanyoungcy/arbgraph/internal/domain"
)

// LoadRates reads a JSON array of observations. Every entry must be valid;
// the error names the first offending index.
func LoadRates(path string) ([]domain.RateObservation, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("seed: read %s: %w", path, err)
	}
	var obs []domain.RateObservation
	if err := json.Unmarshal(b, &obs); err != nil {
		return nil, fmt.Errorf("seed: decode %s: %w: %v", path, domain.ErrMalformedEvent, err)
	}
	now := time.Now()
	for i := range obs {
		if err := obs[i].Validate(); err != nil {
			return nil, fmt.Errorf("seed: %s entry %d: %w", path, i, err)
		}
		if obs[i].ObservedAt.IsZero() {
			obs[i].ObservedAt = now
		}
	}
	return obs, nil
}

// Emit sends obs to out in order, stopping early if ctx is cancelled.
func Emit(ctx context.Context, obs []domain.RateObservation, out chan<- domain.RateObservation) error {
	for _, o := range obs {
		select {
		case out <- o:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

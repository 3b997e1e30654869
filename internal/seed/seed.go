// Package seed maintains the token_data.json metadata file and loads the
// static seed rates used before live sources catch up.
package seed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/alanyoungcy/arbgraph/internal/domain"
	"github.com/alanyoungcy/arbgraph/internal/graph"
	"github.com/alanyoungcy/arbgraph/internal/platform/oneinch"
)

// SeedToken is a token listed in the seed configuration.
type SeedToken struct {
	Symbol  string `toml:"symbol" json:"symbol"`
	Address string `toml:"address" json:"address"`
}

// TokenEntry is a token's resolved metadata. Decimals is nil when the
// lookup failed.
type TokenEntry struct {
	Address  string `json:"address"`
	Decimals *int   `json:"decimals"`
	Name     string `json:"name"`
	LogoURI  string `json:"logoURI"`
}

// TokenData is the on-disk token_data.json document.
type TokenData struct {
	Tokens      map[string]TokenEntry     `json:"tokens"`
	Dexes       []oneinch.LiquiditySource `json:"dexes"`
	LastUpdated time.Time                 `json:"lastUpdated"`
}

// MetadataSource resolves token and DEX metadata.
type MetadataSource interface {
	GetToken(ctx context.Context, address string) (oneinch.TokenInfo, error)
	GetLiquiditySources(ctx context.Context) ([]oneinch.LiquiditySource, error)
}

// Refresh looks up every configured token and keeps the liquidity sources
// whose title is in dexes. Failed lookups are logged and leave the entry
// with only its address, so a flaky API never drops a token.
func Refresh(ctx context.Context, src MetadataSource, tokens []SeedToken, dexes []string, logger *slog.Logger) TokenData {
	logger = logger.With(slog.String("component", "seed"))
	data := TokenData{
		Tokens:      make(map[string]TokenEntry, len(tokens)),
		Dexes:       []oneinch.LiquiditySource{},
		LastUpdated: time.Now().UTC(),
	}

	sources, err := src.GetLiquiditySources(ctx)
	if err != nil {
		logger.WarnContext(ctx, "liquidity sources unavailable", slog.String("error", err.Error()))
	}
	for _, s := range sources {
		if slices.Contains(dexes, s.Title) {
			data.Dexes = append(data.Dexes, s)
		}
	}

	for _, t := range tokens {
		entry := TokenEntry{Address: t.Address}
		info, err := src.GetToken(ctx, t.Address)
		if err != nil {
			logger.WarnContext(ctx, "token lookup failed",
				slog.String("symbol", t.Symbol),
				slog.String("address", t.Address),
				slog.String("error", err.Error()),
			)
		} else {
			d := info.Decimals
			entry.Decimals = &d
			entry.Name = info.Name
			entry.LogoURI = info.LogoURI
		}
		data.Tokens[t.Symbol] = entry
	}
	return data
}

// WriteTokenData writes data as indented JSON, replacing path atomically.
func WriteTokenData(path string, data TokenData) error {
	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("seed: encode token data: %w", err)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("seed: create %s: %w", dir, err)
		}
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return fmt.Errorf("seed: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("seed: rename %s: %w", tmp, err)
	}
	return nil
}

// ReadTokenData loads a token_data.json file.
func ReadTokenData(path string) (TokenData, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return TokenData{}, fmt.Errorf("seed: read %s: %w", path, err)
	}
	var data TokenData
	if err := json.Unmarshal(b, &data); err != nil {
		return TokenData{}, fmt.Errorf("seed: decode %s: %w", path, err)
	}
	return data, nil
}

// Apply registers the data's tokens as assets, keyed by symbol, and its
// DEX titles as venues. It returns how many of each were new.
func Apply(g *graph.RateGraph, data TokenData) (assets, venues int) {
	symbols := make([]string, 0, len(data.Tokens))
	for sym := range data.Tokens {
		symbols = append(symbols, sym)
	}
	slices.Sort(symbols)

	for _, sym := range symbols {
		e := data.Tokens[sym]
		a := domain.Asset{Key: sym, Address: e.Address, Symbol: sym, Name: e.Name}
		if e.Decimals != nil {
			a.Decimals = *e.Decimals
		}
		if g.RegisterAsset(a) {
			assets++
		}
	}
	for _, d := range data.Dexes {
		if g.RegisterVenue(d.Title) {
			venues++
		}
	}
	return assets, venues
}

package provider

import (
	"context"
	"errors"
	"sort"
	"time"

	"pricecast/pkg/model"
)

// ErrDataUnavailable is returned when a source has no rows for the requested range
var ErrDataUnavailable = errors.New("no data available")

// Loader supplies closing prices for a symbol.
// The range is [start, end): start inclusive, end exclusive, both calendar dates.
type Loader interface {
	LoadCloses(ctx context.Context, symbol string, start, end time.Time) (model.PriceSeries, error)
}

// Provider is a named Loader
type Provider interface {
	Loader

	// Name returns the provider name
	Name() string

	// IsAvailable reports whether the provider can serve requests
	IsAvailable() bool
}

// ProviderError represents a provider-specific error
type ProviderError struct {
	Provider  string
	Err       error
	Retryable bool
}

func (e *ProviderError) Error() string {
	return e.Provider + ": " + e.Err.Error()
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// FallbackProvider tries multiple providers in order
type FallbackProvider struct {
	providers []Provider
}

// NewFallbackProvider creates a new fallback provider
func NewFallbackProvider(providers ...Provider) *FallbackProvider {
	// Filter to only available providers
	available := make([]Provider, 0, len(providers))
	for _, p := range providers {
		if p.IsAvailable() {
			available = append(available, p)
		}
	}
	return &FallbackProvider{providers: available}
}

// Name returns the combined provider name
func (f *FallbackProvider) Name() string {
	return "fallback"
}

// LoadCloses tries each provider in order until one returns data.
// ErrDataUnavailable is reported only if every provider reported it.
func (f *FallbackProvider) LoadCloses(ctx context.Context, symbol string, start, end time.Time) (model.PriceSeries, error) {
	var lastErr error
	for _, p := range f.providers {
		series, err := p.LoadCloses(ctx, symbol, start, end)
		if err == nil {
			return series, nil
		}
		if ctx.Err() != nil {
			return model.PriceSeries{}, ctx.Err()
		}
		if lastErr == nil || !errors.Is(err, ErrDataUnavailable) {
			lastErr = err
		}
	}
	if lastErr == nil {
		lastErr = ErrDataUnavailable
	}
	return model.PriceSeries{}, lastErr
}

// IsAvailable returns true if any provider is available
func (f *FallbackProvider) IsAvailable() bool {
	return len(f.providers) > 0
}

// normalize sorts candles by date, drops duplicate dates (keeping the last
// row seen for a date) and drops rows outside [start, end).
func normalize(symbol string, candles []model.Candle, start, end time.Time) model.PriceSeries {
	sort.SliceStable(candles, func(i, j int) bool {
		return candles[i].Time.Before(candles[j].Time)
	})

	out := make([]model.Candle, 0, len(candles))
	for _, c := range candles {
		if c.Time.Before(start) || !c.Time.Before(end) {
			continue
		}
		if n := len(out); n > 0 && out[n-1].Time.Equal(c.Time) {
			out[n-1] = c
			continue
		}
		out = append(out, c)
	}
	return model.FromCandles(symbol, out)
}

func dateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

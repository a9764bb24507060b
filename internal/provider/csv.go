package provider

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"pricecast/pkg/model"
)

// CSVProvider reads daily history exported as <dir>/<SYMBOL>.csv.
// The header must contain Date and Close columns; other columns are ignored.
type CSVProvider struct {
	dir string
}

// NewCSVProvider creates a provider over dir
func NewCSVProvider(dir string) *CSVProvider {
	return &CSVProvider{dir: dir}
}

// Name returns the provider name
func (p *CSVProvider) Name() string {
	return "csv"
}

// IsAvailable reports whether the directory exists
func (p *CSVProvider) IsAvailable() bool {
	if p.dir == "" {
		return false
	}
	info, err := os.Stat(p.dir)
	return err == nil && info.IsDir()
}

// LoadCloses implements Loader
func (p *CSVProvider) LoadCloses(ctx context.Context, symbol string, start, end time.Time) (model.PriceSeries, error) {
	if err := ctx.Err(); err != nil {
		return model.PriceSeries{}, err
	}

	name := strings.ToUpper(symbol) + ".csv"
	if !filepath.IsLocal(name) || filepath.Base(name) != name {
		return model.PriceSeries{}, &ProviderError{Provider: p.Name(), Err: fmt.Errorf("%w: invalid symbol %q", ErrDataUnavailable, symbol)}
	}
	path := filepath.Join(p.dir, name)
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return model.PriceSeries{}, &ProviderError{Provider: p.Name(), Err: fmt.Errorf("%w: %s", ErrDataUnavailable, path)}
		}
		return model.PriceSeries{}, &ProviderError{Provider: p.Name(), Err: err}
	}
	defer f.Close()

	candles, err := readCandles(f)
	if err != nil {
		return model.PriceSeries{}, &ProviderError{Provider: p.Name(), Err: fmt.Errorf("%s: %w", path, err)}
	}

	series := normalize(symbol, candles, dateOnly(start), dateOnly(end))
	if series.Len() == 0 {
		return model.PriceSeries{}, &ProviderError{Provider: p.Name(), Err: ErrDataUnavailable}
	}
	return series, nil
}

func readCandles(r io.Reader) ([]model.Candle, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}

	dateCol, closeCol := -1, -1
	for i, name := range header {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "date":
			dateCol = i
		case "close":
			closeCol = i
		}
	}
	if dateCol < 0 || closeCol < 0 {
		return nil, fmt.Errorf("header must contain Date and Close columns")
	}

	var candles []model.Candle
	for line := 2; ; line++ {
		rec, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		raw := strings.TrimSpace(rec[closeCol])
		if raw == "" || strings.EqualFold(raw, "null") {
			continue
		}
		date, err := time.Parse("2006-01-02", strings.TrimSpace(rec[dateCol]))
		if err != nil {
			return nil, fmt.Errorf("line %d: parsing date: %w", line, err)
		}
		closePrice, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: parsing close: %w", line, err)
		}
		candles = append(candles, model.Candle{Time: date, Close: closePrice})
	}
	return candles, nil
}

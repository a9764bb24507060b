package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"pricecast/internal/ratelimit"
	"pricecast/pkg/model"
)

const alphaVantageBaseURL = "https://www.alphavantage.co/query"

// AlphaVantageProvider serves daily closes from the Alpha Vantage API
type AlphaVantageProvider struct {
	apiKey    string
	client    *http.Client
	limiter   *ratelimit.Limiter
	rateLimit int
	baseURL   string
}

// NewAlphaVantageProvider creates a new Alpha Vantage provider
func NewAlphaVantageProvider(apiKey string, rateLimitPerMin int) *AlphaVantageProvider {
	return &AlphaVantageProvider{
		apiKey:    apiKey,
		client:    &http.Client{Timeout: 30 * time.Second},
		limiter:   ratelimit.NewLimiter("alphavantage", rateLimitPerMin),
		rateLimit: rateLimitPerMin,
		baseURL:   alphaVantageBaseURL,
	}
}

// Name returns the provider name
func (p *AlphaVantageProvider) Name() string {
	return "alphavantage"
}

// IsAvailable checks if the provider has an API key
func (p *AlphaVantageProvider) IsAvailable() bool {
	return p.apiKey != ""
}

// RateLimit returns the rate limit per minute
func (p *AlphaVantageProvider) RateLimit() int {
	return p.rateLimit
}

// alphaVantageResponse represents the daily series response.
// Values are strings keyed like "4. close".
type alphaVantageResponse struct {
	MetaData    map[string]string            `json:"Meta Data"`
	TimeSeries  map[string]map[string]string `json:"Time Series (Daily)"`
	Note        string                       `json:"Note"`        // Rate limit message
	Information string                       `json:"Information"` // Premium or quota message
	Error       string                       `json:"Error Message"`
}

// GetDailyCandles fetches the full daily history and keeps rows in [start, end).
func (p *AlphaVantageProvider) GetDailyCandles(ctx context.Context, symbol string, start, end time.Time) ([]model.Candle, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("function", "TIME_SERIES_DAILY")
	q.Set("symbol", symbol)
	q.Set("outputsize", "full")
	q.Set("apikey", p.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, &ProviderError{Provider: p.Name(), Err: err, Retryable: true}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		p.limiter.SignalRateLimited()
		return nil, &ProviderError{Provider: p.Name(), Err: fmt.Errorf("rate limited"), Retryable: true}
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &ProviderError{Provider: p.Name(), Err: fmt.Errorf("status %d", resp.StatusCode), Retryable: resp.StatusCode >= 500}
	}

	var data alphaVantageResponse
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}

	// Alpha Vantage reports throttling with 200 and a note
	if data.Note != "" || data.Information != "" {
		p.limiter.SignalRateLimited()
		msg := data.Note
		if msg == "" {
			msg = data.Information
		}
		return nil, &ProviderError{Provider: p.Name(), Err: fmt.Errorf("rate limited: %s", msg), Retryable: true}
	}

	if data.Error != "" {
		return nil, &ProviderError{Provider: p.Name(), Err: fmt.Errorf("%w: %s", ErrDataUnavailable, data.Error)}
	}

	p.limiter.ResetBackoff()

	candles := parseDailySeries(data.TimeSeries, dateOnly(start), dateOnly(end))
	if len(candles) == 0 {
		return nil, &ProviderError{Provider: p.Name(), Err: ErrDataUnavailable}
	}
	return candles, nil
}

// parseDailySeries converts the response map to candles in [start, end), unsorted
func parseDailySeries(series map[string]map[string]string, start, end time.Time) []model.Candle {
	candles := make([]model.Candle, 0, len(series))
	for dateStr, values := range series {
		t, err := time.Parse("2006-01-02", dateStr)
		if err != nil {
			continue
		}
		if t.Before(start) || !t.Before(end) {
			continue
		}

		closePrice, err := strconv.ParseFloat(values["4. close"], 64)
		if err != nil {
			continue
		}
		open, _ := strconv.ParseFloat(values["1. open"], 64)
		high, _ := strconv.ParseFloat(values["2. high"], 64)
		low, _ := strconv.ParseFloat(values["3. low"], 64)
		volume, _ := strconv.ParseInt(values["5. volume"], 10, 64)

		candles = append(candles, model.Candle{
			Time:   t,
			Open:   open,
			High:   high,
			Low:    low,
			Close:  closePrice,
			Volume: volume,
		})
	}
	return candles
}

// LoadCloses implements Loader
func (p *AlphaVantageProvider) LoadCloses(ctx context.Context, symbol string, start, end time.Time) (model.PriceSeries, error) {
	candles, err := p.GetDailyCandles(ctx, symbol, start, end)
	if err != nil {
		return model.PriceSeries{}, err
	}
	return normalize(symbol, candles, dateOnly(start), dateOnly(end)), nil
}

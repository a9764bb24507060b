package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"pricecast/internal/ratelimit"
	"pricecast/pkg/model"
)

const yahooBaseURL = "https://query1.finance.yahoo.com/v8/finance/chart"

// YahooProvider loads daily closes from the Yahoo Finance chart API (unofficial)
type YahooProvider struct {
	client  *http.Client
	limiter *ratelimit.Limiter
	baseURL string
}

// YahooOption configures a YahooProvider
type YahooOption func(*YahooProvider)

// WithBaseURL points the provider at another chart endpoint
func WithBaseURL(u string) YahooOption {
	return func(p *YahooProvider) { p.baseURL = strings.TrimRight(u, "/") }
}

// WithRateLimit sets the requests-per-minute budget
func WithRateLimit(perMinute int) YahooOption {
	return func(p *YahooProvider) { p.limiter = ratelimit.NewLimiter("yahoo", perMinute) }
}

// WithTimeout sets the HTTP client timeout
func WithTimeout(d time.Duration) YahooOption {
	return func(p *YahooProvider) { p.client.Timeout = d }
}

// NewYahooProvider creates a new Yahoo Finance provider
func NewYahooProvider(opts ...YahooOption) *YahooProvider {
	p := &YahooProvider{
		client:  &http.Client{Timeout: 30 * time.Second},
		limiter: ratelimit.NewLimiter("yahoo", 30), // Conservative rate limit
		baseURL: yahooBaseURL,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name returns the provider name
func (p *YahooProvider) Name() string {
	return "yahoo"
}

// IsAvailable always returns true (no API key needed)
func (p *YahooProvider) IsAvailable() bool {
	return true
}

// yahooResponse represents the Yahoo Finance chart response.
// Quote arrays contain nulls on days without trading.
type yahooResponse struct {
	Chart struct {
		Result []struct {
			Meta struct {
				Symbol    string `json:"symbol"`
				GMTOffset int64  `json:"gmtoffset"`
			} `json:"meta"`
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Open   []*float64 `json:"open"`
					High   []*float64 `json:"high"`
					Low    []*float64 `json:"low"`
					Close  []*float64 `json:"close"`
					Volume []*int64   `json:"volume"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

// GetDailyCandles fetches daily candles in [start, end).
// period1 is start at 00:00 UTC, period2 is end at 00:00 UTC, so the end date is excluded.
func (p *YahooProvider) GetDailyCandles(ctx context.Context, symbol string, start, end time.Time) ([]model.Candle, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	start, end = dateOnly(start), dateOnly(end)
	q := url.Values{}
	q.Set("period1", fmt.Sprintf("%d", start.Unix()))
	q.Set("period2", fmt.Sprintf("%d", end.Unix()))
	q.Set("interval", "1d")
	q.Set("includePrePost", "false")
	q.Set("events", "div,splits")
	reqURL := fmt.Sprintf("%s/%s?%s", p.baseURL, url.PathEscape(symbol), q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, &ProviderError{Provider: p.Name(), Err: err, Retryable: true}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		p.limiter.SignalRateLimited()
		return nil, &ProviderError{Provider: p.Name(), Err: fmt.Errorf("rate limited"), Retryable: true}
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil, &ProviderError{Provider: p.Name(), Err: fmt.Errorf("%w: unknown symbol %s", ErrDataUnavailable, symbol)}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &ProviderError{Provider: p.Name(), Err: fmt.Errorf("status %d", resp.StatusCode), Retryable: resp.StatusCode >= 500}
	}

	p.limiter.ResetBackoff()

	var data yahooResponse
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}

	if data.Chart.Error != nil {
		return nil, &ProviderError{Provider: p.Name(), Err: fmt.Errorf("%s", data.Chart.Error.Description)}
	}

	if len(data.Chart.Result) == 0 || len(data.Chart.Result[0].Timestamp) == 0 || len(data.Chart.Result[0].Indicators.Quote) == 0 {
		return nil, &ProviderError{Provider: p.Name(), Err: ErrDataUnavailable}
	}

	result := data.Chart.Result[0]
	quotes := result.Indicators.Quote[0]

	candles := make([]model.Candle, 0, len(result.Timestamp))
	for i, ts := range result.Timestamp {
		// Skip days without a close
		if i >= len(quotes.Close) || quotes.Close[i] == nil {
			continue
		}

		candles = append(candles, model.Candle{
			Time:   dateOnly(time.Unix(ts+result.Meta.GMTOffset, 0).UTC()),
			Open:   value(quotes.Open, i),
			High:   value(quotes.High, i),
			Low:    value(quotes.Low, i),
			Close:  *quotes.Close[i],
			Volume: volume(quotes.Volume, i),
		})
	}

	if len(candles) == 0 {
		return nil, &ProviderError{Provider: p.Name(), Err: ErrDataUnavailable}
	}
	return candles, nil
}

// LoadCloses implements Loader
func (p *YahooProvider) LoadCloses(ctx context.Context, symbol string, start, end time.Time) (model.PriceSeries, error) {
	candles, err := p.GetDailyCandles(ctx, symbol, start, end)
	if err != nil {
		return model.PriceSeries{}, err
	}
	series := normalize(symbol, candles, dateOnly(start), dateOnly(end))
	if series.Len() == 0 {
		return model.PriceSeries{}, &ProviderError{Provider: p.Name(), Err: ErrDataUnavailable}
	}
	return series, nil
}

func value(vals []*float64, i int) float64 {
	if i < len(vals) && vals[i] != nil {
		return *vals[i]
	}
	return 0
}

func volume(vals []*int64, i int) int64 {
	if i < len(vals) && vals[i] != nil {
		return *vals[i]
	}
	return 0
}

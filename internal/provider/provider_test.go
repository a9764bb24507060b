package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"pricecast/pkg/model"
)

func date(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

// Timestamps are 09:30 New York (14:30 UTC) on 2024-01-02, 01-03, 01-04, 01-05.
const yahooFixture = `{
  "chart": {
    "result": [{
      "meta": {"symbol": "AAPL", "gmtoffset": -18000},
      "timestamp": [1704205800, 1704292200, 1704378600, 1704465000],
      "indicators": {"quote": [{
        "open":   [187.15, 184.22, null, 181.99],
        "high":   [188.44, 185.88, null, 182.76],
        "low":    [183.89, 183.43, null, 180.17],
        "close":  [185.64, 184.25, null, 181.18],
        "volume": [82488700, 58414500, null, 62303300]
      }]}
    }],
    "error": null
  }
}`

func TestYahooLoadCloses(t *testing.T) {
	var gotPath, gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		fmt.Fprint(w, yahooFixture)
	}))
	defer srv.Close()

	p := NewYahooProvider(WithBaseURL(srv.URL), WithRateLimit(600))
	series, err := p.LoadCloses(context.Background(), "AAPL", date("2024-01-01"), date("2024-02-01"))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if gotPath != "/AAPL" {
		t.Errorf("Expected path /AAPL, got %s", gotPath)
	}
	if !strings.Contains(gotQuery, "interval=1d") {
		t.Errorf("Expected daily interval in query, got %s", gotQuery)
	}
	if !strings.Contains(gotQuery, fmt.Sprintf("period1=%d", date("2024-01-01").Unix())) {
		t.Errorf("Expected period1 at start date, got %s", gotQuery)
	}

	// null close row is skipped
	if series.Len() != 3 {
		t.Fatalf("Expected 3 points, got %d", series.Len())
	}
	want := []string{"2024-01-02", "2024-01-03", "2024-01-05"}
	for i, p := range series.Points {
		if got := p.Date.Format("2006-01-02"); got != want[i] {
			t.Errorf("Point %d: expected date %s, got %s", i, want[i], got)
		}
	}
	if series.Points[2].Close != 181.18 {
		t.Errorf("Expected last close 181.18, got %f", series.Points[2].Close)
	}
	if err := series.Validate(); err != nil {
		t.Errorf("Expected valid series, got %v", err)
	}
}

func TestYahooErrors(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		retryable bool
		noData    bool
	}{
		{name: "rate limited", status: http.StatusTooManyRequests, retryable: true},
		{name: "not found", status: http.StatusNotFound, noData: true},
		{name: "server error", status: http.StatusBadGateway, retryable: true},
		{name: "empty result", status: http.StatusOK, body: `{"chart":{"result":[],"error":null}}`, noData: true},
		{name: "chart error", status: http.StatusOK, body: `{"chart":{"result":null,"error":{"code":"Not Found","description":"No data found"}}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				fmt.Fprint(w, tt.body)
			}))
			defer srv.Close()

			p := NewYahooProvider(WithBaseURL(srv.URL), WithRateLimit(600))
			_, err := p.LoadCloses(context.Background(), "ZZZZ", date("2024-01-01"), date("2024-02-01"))
			if err == nil {
				t.Fatal("Expected error, got nil")
			}

			var pe *ProviderError
			if !errors.As(err, &pe) {
				t.Fatalf("Expected ProviderError, got %T", err)
			}
			if pe.Retryable != tt.retryable {
				t.Errorf("Expected retryable=%v, got %v", tt.retryable, pe.Retryable)
			}
			if errors.Is(err, ErrDataUnavailable) != tt.noData {
				t.Errorf("Expected ErrDataUnavailable=%v, got %v", tt.noData, err)
			}
		})
	}
}

func writeCSV(t *testing.T, dir, symbol, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, symbol+".csv"), []byte(content), 0o644); err != nil {
		t.Fatalf("Writing fixture: %v", err)
	}
}

func TestCSVLoadCloses(t *testing.T) {
	dir := t.TempDir()
	writeCSV(t, dir, "MSFT", `Date,Open,High,Low,Close,Adj Close,Volume
2024-01-04,370.6,373.1,367.1,367.9,366.5,20901500
2024-01-02,373.9,375.9,366.8,370.9,369.4,25258600
2024-01-03,369.0,373.3,368.5,370.6,369.1,23083500
2024-01-03,369.0,373.3,368.5,371.0,369.5,23083500
2024-01-05,368.9,372.1,366.5,null,,0
2024-01-08,369.3,375.2,369.0,374.7,373.2,23134000
`)

	p := NewCSVProvider(dir)
	if !p.IsAvailable() {
		t.Fatal("Expected provider to be available")
	}

	series, err := p.LoadCloses(context.Background(), "msft", date("2024-01-02"), date("2024-01-08"))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	// sorted, duplicate 01-03 keeps the last row, null skipped, end date excluded
	want := []float64{370.9, 371.0, 367.9}
	got := series.Closes()
	if len(got) != len(want) {
		t.Fatalf("Expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Close %d: expected %f, got %f", i, want[i], got[i])
		}
	}
	if series.Symbol != "msft" {
		t.Errorf("Expected symbol msft, got %s", series.Symbol)
	}
}

func TestCSVMissingAndEmpty(t *testing.T) {
	dir := t.TempDir()
	writeCSV(t, dir, "OLD", "Date,Close\n2001-01-02,10\n")
	p := NewCSVProvider(dir)

	if _, err := p.LoadCloses(context.Background(), "NOPE", date("2020-01-01"), date("2021-01-01")); !errors.Is(err, ErrDataUnavailable) {
		t.Errorf("Expected ErrDataUnavailable for missing file, got %v", err)
	}
	if _, err := p.LoadCloses(context.Background(), "OLD", date("2020-01-01"), date("2021-01-01")); !errors.Is(err, ErrDataUnavailable) {
		t.Errorf("Expected ErrDataUnavailable for empty range, got %v", err)
	}

	writeCSV(t, dir, "BAD", "When,Price\n2020-01-02,1\n")
	if _, err := p.LoadCloses(context.Background(), "BAD", date("2020-01-01"), date("2021-01-01")); err == nil || errors.Is(err, ErrDataUnavailable) {
		t.Errorf("Expected header error, got %v", err)
	}
}

func TestCSVStaysInsideDir(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "data")
	if err := os.Mkdir(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	writeCSV(t, root, "SECRET", "Date,Close\n2020-01-02,10\n2020-01-03,11\n")
	writeCSV(t, dir, "INNER", "Date,Close\n2020-01-02,10\n")
	p := NewCSVProvider(dir)

	for _, symbol := range []string{"../secret", "data/inner", "/etc/passwd"} {
		_, err := p.LoadCloses(context.Background(), symbol, date("2020-01-01"), date("2021-01-01"))
		if !errors.Is(err, ErrDataUnavailable) {
			t.Errorf("%s: expected ErrDataUnavailable, got %v", symbol, err)
		}
	}
}

type stubProvider struct {
	name   string
	series model.PriceSeries
	err    error
	calls  int
}

func (s *stubProvider) Name() string      { return s.name }
func (s *stubProvider) IsAvailable() bool { return true }
func (s *stubProvider) LoadCloses(ctx context.Context, symbol string, start, end time.Time) (model.PriceSeries, error) {
	s.calls++
	return s.series, s.err
}

func TestFallbackProvider(t *testing.T) {
	good := model.PriceSeries{Symbol: "X", Points: []model.PricePoint{{Date: date("2024-01-02"), Close: 1}}}

	first := &stubProvider{name: "first", err: &ProviderError{Provider: "first", Err: ErrDataUnavailable}}
	second := &stubProvider{name: "second", series: good}
	f := NewFallbackProvider(first, second)

	series, err := f.LoadCloses(context.Background(), "X", date("2024-01-01"), date("2024-02-01"))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if series.Len() != 1 || first.calls != 1 || second.calls != 1 {
		t.Errorf("Expected fallback to second provider, got len=%d calls=%d/%d", series.Len(), first.calls, second.calls)
	}

	// A transport failure is preferred over "no data" when reporting
	broken := &stubProvider{name: "broken", err: &ProviderError{Provider: "broken", Err: errors.New("connection reset"), Retryable: true}}
	f = NewFallbackProvider(first, broken)
	_, err = f.LoadCloses(context.Background(), "X", date("2024-01-01"), date("2024-02-01"))
	if err == nil || errors.Is(err, ErrDataUnavailable) {
		t.Errorf("Expected transport error, got %v", err)
	}

	empty := NewFallbackProvider()
	if empty.IsAvailable() {
		t.Error("Expected empty fallback to be unavailable")
	}
	if _, err := empty.LoadCloses(context.Background(), "X", date("2024-01-01"), date("2024-02-01")); !errors.Is(err, ErrDataUnavailable) {
		t.Errorf("Expected ErrDataUnavailable, got %v", err)
	}
}

func TestCachingProvider(t *testing.T) {
	good := model.PriceSeries{Symbol: "X", Points: []model.PricePoint{{Date: date("2024-01-02"), Close: 1}}}
	inner := &stubProvider{name: "inner", series: good}
	c := NewCachingProvider(inner)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := c.LoadCloses(ctx, "X", date("2024-01-01"), date("2024-02-01")); err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
	}
	if inner.calls != 1 {
		t.Errorf("Expected 1 inner call, got %d", inner.calls)
	}

	if _, err := c.LoadCloses(ctx, "X", date("2024-02-01"), date("2024-03-01")); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if inner.calls != 2 || c.Len() != 2 {
		t.Errorf("Expected a second range to miss the cache, got calls=%d len=%d", inner.calls, c.Len())
	}

	inner.err = ErrDataUnavailable
	if _, err := c.LoadCloses(ctx, "Y", date("2024-01-01"), date("2024-02-01")); !errors.Is(err, ErrDataUnavailable) {
		t.Errorf("Expected error to pass through, got %v", err)
	}
	if c.Len() != 2 {
		t.Errorf("Expected errors not to be cached, got len=%d", c.Len())
	}
}

func TestCachingProviderTTLAndSize(t *testing.T) {
	good := model.PriceSeries{Symbol: "X", Points: []model.PricePoint{{Date: date("2024-01-02"), Close: 1}}}
	inner := &stubProvider{name: "inner", series: good}
	c := NewCachingProvider(inner, WithCacheTTL(time.Hour), WithCacheSize(2))
	clock := date("2024-06-01")
	c.now = func() time.Time { return clock }
	ctx := context.Background()

	load := func(end string) {
		t.Helper()
		if _, err := c.LoadCloses(ctx, "X", date("2024-01-01"), date(end)); err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
	}

	// one testing range per day, as the server builds them
	for _, end := range []string{"2024-06-01", "2024-06-02", "2024-06-03"} {
		load(end)
		clock = clock.Add(time.Minute)
	}
	if c.Len() != 2 {
		t.Errorf("Expected cache capped at 2 ranges, got %d", c.Len())
	}

	calls := inner.calls
	load("2024-06-01")
	if inner.calls != calls+1 {
		t.Error("Expected the oldest range to have been evicted")
	}
	load("2024-06-03")
	if inner.calls != calls+1 {
		t.Error("Expected a recent range to be served from cache")
	}

	clock = clock.Add(2 * time.Hour)
	load("2024-06-03")
	if inner.calls != calls+2 {
		t.Error("Expected an expired range to be reloaded")
	}
	if c.Len() != 1 {
		t.Errorf("Expected expired entries dropped, got %d", c.Len())
	}
}

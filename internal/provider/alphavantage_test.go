package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

const alphaVantageFixture = `{
  "Meta Data": {"2. Symbol": "IBM"},
  "Time Series (Daily)": {
    "2024-01-05": {"1. open": "160.00", "2. high": "161.50", "3. low": "159.20", "4. close": "160.86", "5. volume": "4118900"},
    "2024-01-03": {"1. open": "161.00", "2. high": "161.73", "3. low": "160.08", "4. close": "160.10", "5. volume": "4086720"},
    "2024-01-04": {"1. open": "160.06", "2. high": "160.99", "3. low": "159.01", "4. close": "159.16", "5. volume": "3820100"},
    "2024-01-02": {"1. open": "161.79", "2. high": "163.34", "3. low": "160.20", "4. close": "161.93", "5. volume": "4042314"},
    "2023-12-29": {"1. open": "162.00", "2. high": "163.90", "3. low": "161.00", "4. close": "163.55", "5. volume": "3293800"}
  }
}`

func newAlphaVantageTest(t *testing.T, body string, status int) *AlphaVantageProvider {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("function") != "TIME_SERIES_DAILY" || q.Get("apikey") != "demo" || q.Get("outputsize") != "full" {
			t.Errorf("Unexpected query: %s", r.URL.RawQuery)
		}
		w.WriteHeader(status)
		fmt.Fprint(w, body)
	}))
	t.Cleanup(srv.Close)

	p := NewAlphaVantageProvider("demo", 600)
	p.baseURL = srv.URL
	return p
}

func TestAlphaVantageLoadCloses(t *testing.T) {
	p := newAlphaVantageTest(t, alphaVantageFixture, http.StatusOK)

	series, err := p.LoadCloses(context.Background(), "IBM", date("2024-01-01"), date("2024-01-05"))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	want := []float64{161.93, 160.10, 159.16}
	got := series.Closes()
	if len(got) != len(want) {
		t.Fatalf("Expected %d closes, got %v", len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Close %d: expected %.2f, got %.2f", i, want[i], got[i])
		}
	}
	if !series.Points[0].Date.Equal(date("2024-01-02")) {
		t.Errorf("Expected first date 2024-01-02, got %v", series.Points[0].Date)
	}
}

func TestAlphaVantageErrors(t *testing.T) {
	tests := []struct {
		name        string
		body        string
		status      int
		unavailable bool
		retryable   bool
	}{
		{"throttled note", `{"Note": "Thank you for using Alpha Vantage!"}`, http.StatusOK, false, true},
		{"invalid symbol", `{"Error Message": "Invalid API call."}`, http.StatusOK, true, false},
		{"empty range", `{"Time Series (Daily)": {}}`, http.StatusOK, true, false},
		{"server error", `oops`, http.StatusBadGateway, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newAlphaVantageTest(t, tt.body, tt.status)
			_, err := p.LoadCloses(context.Background(), "IBM", date("2024-01-01"), date("2024-02-01"))
			if err == nil {
				t.Fatal("Expected error")
			}
			if got := errors.Is(err, ErrDataUnavailable); got != tt.unavailable {
				t.Errorf("Expected unavailable=%v, got %v (%v)", tt.unavailable, got, err)
			}
			var pe *ProviderError
			if !errors.As(err, &pe) {
				t.Fatalf("Expected ProviderError, got %T", err)
			}
			if pe.Retryable != tt.retryable {
				t.Errorf("Expected retryable=%v, got %v", tt.retryable, pe.Retryable)
			}
		})
	}
}

func TestAlphaVantageAvailability(t *testing.T) {
	if NewAlphaVantageProvider("", 5).IsAvailable() {
		t.Error("Expected provider without key to be unavailable")
	}
	if !NewAlphaVantageProvider("key", 5).IsAvailable() {
		t.Error("Expected provider with key to be available")
	}
}

package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"pricecast/internal/pipeline"
)

func TestRecorder(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := New(reg)

	r.RunStarted("AAPL")
	r.EpochCompleted("AAPL")
	r.EpochCompleted("AAPL")
	if got := testutil.ToFloat64(r.inFlight); got != 1 {
		t.Errorf("Expected 1 run in flight, got %f", got)
	}

	r.RunFinished("AAPL", pipeline.Done, "", 2*time.Second)
	r.RunStarted("MSFT")
	r.RunFinished("MSFT", pipeline.Failed, pipeline.CodeEmptyData, time.Second)

	if got := testutil.ToFloat64(r.epochs.WithLabelValues("AAPL")); got != 2 {
		t.Errorf("Expected 2 epochs, got %f", got)
	}
	if got := testutil.ToFloat64(r.runsFinished.WithLabelValues("failed", "EMPTY_DATA")); got != 1 {
		t.Errorf("Expected 1 failed run, got %f", got)
	}
	if got := testutil.ToFloat64(r.inFlight); got != 0 {
		t.Errorf("Expected no runs in flight, got %f", got)
	}

	count, err := testutil.GatherAndCount(reg, "pricecast_run_duration_seconds")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if count != 2 {
		t.Errorf("Expected 2 duration series, got %d", count)
	}
}

package forecast

import (
	"context"
	"errors"
	"math"
	"reflect"
	"testing"

	"github.com/rs/zerolog"

	"pricecast/internal/window"
)

func sineSet(t *testing.T, n, length int) window.Set {
	t.Helper()
	series := make([]float64, n)
	for i := range series {
		series[i] = 0.5 + 0.4*math.Sin(float64(i)/4)
	}
	set, err := window.Make(series, length)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	return set
}

func smallLSTM(seed uint64) *LSTM {
	return NewLSTM(LSTMConfig{Units: 6, LearningRate: 0.05, Seed: seed, ClipNorm: 5}, zerolog.Nop())
}

func TestLSTMEpochCallbackOrder(t *testing.T) {
	m := smallLSTM(1)
	set := sineSet(t, 30, 5)

	var epochs []int
	err := m.Train(context.Background(), set, TrainOptions{Epochs: 3, BatchSize: 8}, func(epoch int) {
		epochs = append(epochs, epoch)
	})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if !reflect.DeepEqual(epochs, []int{0, 1, 2}) {
		t.Errorf("Expected epochs [0 1 2], got %v", epochs)
	}
}

func TestLSTMLossDecreases(t *testing.T) {
	m := smallLSTM(7)
	set := sineSet(t, 80, 8)

	// Train once so the model is usable, then measure.
	if err := m.Train(context.Background(), set, TrainOptions{Epochs: 1, BatchSize: 16}, nil); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	before, err := m.Loss(set)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if err := m.Train(context.Background(), set, TrainOptions{Epochs: 40, BatchSize: 16}, nil); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	after, err := m.Loss(set)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if after >= before {
		t.Errorf("Expected loss to decrease, before=%f after=%f", before, after)
	}
}

func TestLSTMPredictDeterministic(t *testing.T) {
	set := sineSet(t, 40, 6)

	a := smallLSTM(3)
	b := smallLSTM(3)
	for _, m := range []*LSTM{a, b} {
		if err := m.Train(context.Background(), set, TrainOptions{Epochs: 2, BatchSize: 4}, nil); err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
	}

	p1, err := a.Predict(set.Windows)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	p2, err := a.Predict(set.Windows)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	p3, err := b.Predict(set.Windows)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if len(p1) != set.Len() {
		t.Fatalf("Expected %d predictions, got %d", set.Len(), len(p1))
	}
	if !reflect.DeepEqual(p1, p2) {
		t.Error("Expected repeated Predict calls to match")
	}
	if !reflect.DeepEqual(p1, p3) {
		t.Error("Expected identically seeded models to match")
	}
}

func TestLSTMPredictBeforeTrain(t *testing.T) {
	m := smallLSTM(1)
	if _, err := m.Predict([]window.Window{{0.1, 0.2}}); !errors.Is(err, ErrNotTrained) {
		t.Errorf("Expected ErrNotTrained, got %v", err)
	}
}

func TestLSTMTrainValidation(t *testing.T) {
	m := smallLSTM(1)
	set := sineSet(t, 10, 3)
	ctx := context.Background()

	if err := m.Train(ctx, set, TrainOptions{Epochs: 0, BatchSize: 1}, nil); !errors.Is(err, ErrInvalidOptions) {
		t.Errorf("Expected ErrInvalidOptions for zero epochs, got %v", err)
	}
	if err := m.Train(ctx, set, TrainOptions{Epochs: 1, BatchSize: 0}, nil); !errors.Is(err, ErrInvalidOptions) {
		t.Errorf("Expected ErrInvalidOptions for zero batch, got %v", err)
	}

	bad := window.Set{Windows: set.Windows, Targets: set.Targets[:1], Length: set.Length}
	if err := m.Train(ctx, bad, TrainOptions{Epochs: 1, BatchSize: 1}, nil); !errors.Is(err, ErrShapeMismatch) {
		t.Errorf("Expected ErrShapeMismatch, got %v", err)
	}
	if err := m.Train(ctx, window.Set{}, TrainOptions{Epochs: 1, BatchSize: 1}, nil); !errors.Is(err, ErrShapeMismatch) {
		t.Errorf("Expected ErrShapeMismatch for empty set, got %v", err)
	}
}

func TestLSTMTrainCancellation(t *testing.T) {
	m := smallLSTM(1)
	set := sineSet(t, 20, 4)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls int
	err := m.Train(ctx, set, TrainOptions{Epochs: 10, BatchSize: 4}, func(epoch int) {
		calls++
		cancel()
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	if calls != 1 {
		t.Errorf("Expected 1 completed epoch, got %d", calls)
	}
}

func TestLSTMGradient(t *testing.T) {
	m := NewLSTM(LSTMConfig{Units: 3, LearningRate: 0.01, Seed: 11}, zerolog.Nop())
	x := []float64{0.2, 0.7, 0.4, 0.9}
	target := 0.3
	tr := newTrace(len(x), m.h)

	loss := func() float64 {
		d := m.forward(x, tr) - target
		return d * d
	}

	grad := make([]float64, len(m.w))
	y := m.forward(x, tr)
	m.backward(x, tr, 2*(y-target), grad)

	const eps = 1e-6
	for i := range m.w {
		orig := m.w[i]
		m.w[i] = orig + eps
		up := loss()
		m.w[i] = orig - eps
		down := loss()
		m.w[i] = orig

		numeric := (up - down) / (2 * eps)
		if math.Abs(numeric-grad[i]) > 1e-6+1e-4*math.Abs(numeric) {
			t.Errorf("Param %d: analytic %g, numeric %g", i, grad[i], numeric)
		}
	}
}

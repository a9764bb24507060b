package forecast

import (
	"context"
	"errors"

	"pricecast/internal/window"
)

var (
	// ErrInvalidOptions is returned for non-positive epochs or batch size
	ErrInvalidOptions = errors.New("epochs and batch size must be at least 1")
	// ErrShapeMismatch is returned when windows and targets do not line up
	ErrShapeMismatch = errors.New("windows and targets do not match")
	// ErrNotTrained is returned by Predict before any training
	ErrNotTrained = errors.New("model is not trained")
)

// TrainOptions controls one Train call
type TrainOptions struct {
	Epochs    int
	BatchSize int
}

// Validate checks the options
func (o TrainOptions) Validate() error {
	if o.Epochs < 1 || o.BatchSize < 1 {
		return ErrInvalidOptions
	}
	return nil
}

// EpochFunc is called once per completed epoch with the 0-based epoch index.
// It runs on the goroutine that called Train.
type EpochFunc func(epoch int)

// Model is a sequence regressor trained on windowed series.
type Model interface {
	// Train fits the model on every window of set for opts.Epochs passes.
	// The context is checked between epochs.
	Train(ctx context.Context, set window.Set, opts TrainOptions, onEpochEnd EpochFunc) error

	// Predict returns one normalized value per window, in window order.
	// It does not change model state.
	Predict(windows []window.Window) ([]float64, error)
}

// Factory builds a fresh untrained model
type Factory func() Model

func checkSet(set window.Set) error {
	if set.Len() == 0 || len(set.Targets) != set.Len() {
		return ErrShapeMismatch
	}
	for _, w := range set.Windows {
		if len(w) == 0 {
			return ErrShapeMismatch
		}
	}
	return nil
}

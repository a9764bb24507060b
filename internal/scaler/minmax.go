package scaler

import (
	"errors"

	"pricecast/pkg/model"
)

var (
	// ErrEmptySeries is returned when fitting on a series with no values
	ErrEmptySeries = errors.New("empty series")
	// ErrDegenerateRange is returned when every value in the series is equal
	ErrDegenerateRange = errors.New("degenerate range: min equals max")
)

// MinMax maps values into [0, 1] using bounds fixed at fit time.
// Values outside the fitted bounds map outside [0, 1]; nothing is clamped.
type MinMax struct {
	min   float64
	max   float64
	scale float64
}

// Fit computes the bounds of series
func Fit(series []float64) (*MinMax, error) {
	if len(series) == 0 {
		return nil, ErrEmptySeries
	}
	lo, hi := series[0], series[0]
	for _, v := range series[1:] {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	return NewMinMax(model.Bounds{Min: lo, Max: hi})
}

// FitTransform fits a scaler on series and returns the normalized series
func FitTransform(series []float64) ([]float64, *MinMax, error) {
	s, err := Fit(series)
	if err != nil {
		return nil, nil, err
	}
	return s.Transform(series), s, nil
}

// NewMinMax rebuilds a scaler from previously fitted bounds
func NewMinMax(b model.Bounds) (*MinMax, error) {
	if b.Range() == 0 {
		return nil, ErrDegenerateRange
	}
	return &MinMax{min: b.Min, max: b.Max, scale: b.Range()}, nil
}

// Bounds returns the fitted bounds
func (s *MinMax) Bounds() model.Bounds {
	return model.Bounds{Min: s.min, Max: s.max}
}

// Transform applies the fitted map without refitting
func (s *MinMax) Transform(series []float64) []float64 {
	out := make([]float64, len(series))
	for i, v := range series {
		out[i] = (v - s.min) / s.scale
	}
	return out
}

// Inverse maps normalized values back into the price domain
func (s *MinMax) Inverse(values []float64) []float64 {
	out := make([]float64, len(values))
	for i, v := range values {
		out[i] = v*s.scale + s.min
	}
	return out
}

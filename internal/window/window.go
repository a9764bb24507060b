package window

import (
	"errors"
	"fmt"
)

var (
	// ErrInsufficientData is returned when the series is not longer than the window
	ErrInsufficientData = errors.New("insufficient data")
	// ErrInvalidLength is returned for window lengths below 1
	ErrInvalidLength = errors.New("window length must be at least 1")
)

// Window is a fixed-length run of consecutive normalized prices
type Window []float64

// Set holds windows paired 1:1 with the value that follows each window
type Set struct {
	Windows []Window
	Targets []float64
	Length  int
}

// Len returns the number of (window, target) pairs
func (s Set) Len() int {
	return len(s.Windows)
}

// Make slices series into overlapping windows of the given length.
// Pair i holds series[i:i+length] and the target series[i+length], in time order.
func Make(series []float64, length int) (Set, error) {
	if length < 1 {
		return Set{}, ErrInvalidLength
	}
	if len(series) <= length {
		return Set{}, fmt.Errorf("%w: series has %d points, window length is %d", ErrInsufficientData, len(series), length)
	}

	n := len(series) - length
	set := Set{
		Windows: make([]Window, 0, n),
		Targets: make([]float64, 0, n),
		Length:  length,
	}
	for i := length; i < len(series); i++ {
		w := make(Window, length)
		copy(w, series[i-length:i])
		set.Windows = append(set.Windows, w)
		set.Targets = append(set.Targets, series[i])
	}
	return set, nil
}

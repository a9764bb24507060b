package pipeline

import (
	"context"
	"errors"
	"fmt"

	"pricecast/internal/forecast"
	"pricecast/internal/provider"
	"pricecast/internal/scaler"
	"pricecast/internal/window"
)

var (
	// ErrEmptyData is returned when a requested range yields no prices
	ErrEmptyData = errors.New("empty data")
	// ErrInvalidRequest is returned when a run request fails validation
	ErrInvalidRequest = errors.New("invalid request")
	// ErrBusy is returned when Run is called while a run is in progress
	ErrBusy = errors.New("pipeline is already running")
)

// Code classifies a failed run
type Code string

const (
	CodeInvalidRequest   Code = "INVALID_REQUEST"
	CodeEmptyData        Code = "EMPTY_DATA"
	CodeInsufficientData Code = "INSUFFICIENT_DATA"
	CodeDegenerateRange  Code = "DEGENERATE_RANGE"
	CodeCanceled         Code = "CANCELED"
	CodeRunFailure       Code = "RUN_FAILURE"
)

// RunError is the single error a failed run reports
type RunError struct {
	State State // state the run was in when it failed
	Code  Code
	Err   error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("%s: %v", e.State, e.Err)
}

func (e *RunError) Unwrap() error {
	return e.Err
}

// CodeOf returns the code of a RunError anywhere in err's chain, or "" if there is none
func CodeOf(err error) Code {
	var re *RunError
	if errors.As(err, &re) {
		return re.Code
	}
	return ""
}

func classify(err error) Code {
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return CodeInvalidRequest
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return CodeCanceled
	case errors.Is(err, ErrEmptyData), errors.Is(err, provider.ErrDataUnavailable), errors.Is(err, scaler.ErrEmptySeries):
		return CodeEmptyData
	case errors.Is(err, window.ErrInsufficientData):
		return CodeInsufficientData
	case errors.Is(err, scaler.ErrDegenerateRange):
		return CodeDegenerateRange
	case errors.Is(err, forecast.ErrInvalidOptions):
		return CodeInvalidRequest
	default:
		return CodeRunFailure
	}
}

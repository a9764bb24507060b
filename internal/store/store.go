package store

import (
	"context"
	"errors"
	"time"

	"pricecast/pkg/model"
)

// ErrNotFound is returned for unknown run IDs
var ErrNotFound = errors.New("run not found")

// Run is the persisted record of one pipeline run
type Run struct {
	ID           string     `json:"id"`
	Symbol       string     `json:"symbol"`
	WindowLength int        `json:"window_length"`
	Epochs       int        `json:"epochs"`
	BatchSize    int        `json:"batch_size"`
	TrainStart   time.Time  `json:"train_start"`
	TrainEnd     time.Time  `json:"train_end"`
	TestEnd      time.Time  `json:"test_end"`
	Trigger      string     `json:"trigger"`
	State        string     `json:"state"`
	Code         string     `json:"code,omitempty"`
	Error        string     `json:"error,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
	Predictions  int        `json:"predictions"`
	RMSE         float64    `json:"rmse"`
	MAE          float64    `json:"mae"`
	BoundsMin    float64    `json:"bounds_min"`
	BoundsMax    float64    `json:"bounds_max"`
}

// Store persists run history
type Store interface {
	// Begin records a newly started run
	Begin(ctx context.Context, run Run) error

	// Finish records the final state of a run and, on success, its predictions
	Finish(ctx context.Context, run Run, result *model.PredictionResult) error

	// Get returns one run
	Get(ctx context.Context, id string) (*Run, error)

	// List returns the most recent runs, newest first
	List(ctx context.Context, limit int) ([]Run, error)

	// Result rebuilds the prediction result of a finished run
	Result(ctx context.Context, id string) (*model.PredictionResult, error)

	Close() error
}

// NoopStore discards history
type NoopStore struct{}

func (NoopStore) Begin(context.Context, Run) error                            { return nil }
func (NoopStore) Finish(context.Context, Run, *model.PredictionResult) error { return nil }
func (NoopStore) Get(context.Context, string) (*Run, error)                   { return nil, ErrNotFound }
func (NoopStore) List(context.Context, int) ([]Run, error)                    { return nil, nil }
func (NoopStore) Result(context.Context, string) (*model.PredictionResult, error) {
	return nil, ErrNotFound
}
func (NoopStore) Close() error { return nil }

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"pricecast/internal/forecast"
	"pricecast/internal/provider"
	"pricecast/internal/scaler"
	"pricecast/internal/window"
	"pricecast/pkg/model"
)

// Progress is reported once per completed training epoch
type Progress struct {
	Epoch  int `json:"epoch"` // 0-based index of the epoch that just completed
	Epochs int `json:"epochs"`
}

// Fraction returns the share of training completed, in (0, 1]
func (p Progress) Fraction() float64 {
	if p.Epochs == 0 {
		return 0
	}
	return float64(p.Epoch+1) / float64(p.Epochs)
}

// Observer receives run lifecycle events, e.g. for metrics
type Observer interface {
	RunStarted(symbol string)
	EpochCompleted(symbol string)
	RunFinished(symbol string, state State, code Code, elapsed time.Duration)
}

// Option configures a Pipeline
type Option func(*Pipeline)

// WithLogger sets the logger
func WithLogger(l zerolog.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// WithProgress registers the per-epoch progress callback.
// It is called on the goroutine running the pipeline.
func WithProgress(fn func(Progress)) Option {
	return func(p *Pipeline) { p.onProgress = fn }
}

// WithStateHook registers a callback for every state transition
func WithStateHook(fn func(from, to State)) Option {
	return func(p *Pipeline) { p.onState = fn }
}

// WithObserver registers a lifecycle observer
func WithObserver(o Observer) Option {
	return func(p *Pipeline) { p.observer = o }
}

// Pipeline runs load -> scale -> window -> train -> load -> scale -> window -> predict.
// One Pipeline runs one request at a time; every run gets its own scaler and model.
type Pipeline struct {
	loader     provider.Loader
	newModel   forecast.Factory
	logger     zerolog.Logger
	onProgress func(Progress)
	onState    func(from, to State)
	observer   Observer

	mu     sync.Mutex
	state  State
	err    *RunError
	bounds *model.Bounds
}

// New creates a pipeline
func New(loader provider.Loader, newModel forecast.Factory, opts ...Option) *Pipeline {
	p := &Pipeline{
		loader:   loader,
		newModel: newModel,
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// State returns the current state
func (p *Pipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Err returns the failure of the last run, if it failed
func (p *Pipeline) Err() *RunError {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// Bounds returns the scaler bounds fit during the current or last run
func (p *Pipeline) Bounds() (model.Bounds, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.bounds == nil {
		return model.Bounds{}, false
	}
	return *p.bounds, true
}

// Run executes one request. On failure it returns a *RunError and leaves the
// pipeline in Failed; no partial result is returned. A new Run may start from
// Idle, Done or Failed.
func (p *Pipeline) Run(ctx context.Context, req Request) (*model.PredictionResult, error) {
	p.mu.Lock()
	if p.state != Idle && !p.state.Terminal() {
		p.mu.Unlock()
		return nil, ErrBusy
	}
	prev := p.state
	p.state = Idle
	p.err = nil
	p.bounds = nil
	p.mu.Unlock()
	if prev != Idle && p.onState != nil {
		p.onState(prev, Idle)
	}

	started := time.Now()
	if p.observer != nil {
		p.observer.RunStarted(req.Symbol)
	}

	result, err := p.run(ctx, req)

	var re *RunError
	if err != nil {
		re = p.fail(err)
	}
	if p.observer != nil {
		var code Code
		if re != nil {
			code = re.Code
		}
		p.observer.RunFinished(req.Symbol, p.State(), code, time.Since(started))
	}
	if re != nil {
		return nil, re
	}
	return result, nil
}

func (p *Pipeline) run(ctx context.Context, req Request) (*model.PredictionResult, error) {
	log := p.logger.With().Str("symbol", req.Symbol).Logger()

	if err := req.Validate(); err != nil {
		return nil, err
	}

	// 1. training split
	if err := p.enter(ctx, LoadingTrainingData); err != nil {
		return nil, err
	}
	train, err := p.load(ctx, req.Symbol, req.TrainStart, req.TrainEnd)
	if err != nil {
		return nil, err
	}
	log.Info().Int("points", train.Len()).Msg("training data loaded")

	// 2. fit the scaler and window the training series
	if err := p.enter(ctx, Preprocessing); err != nil {
		return nil, err
	}
	normalized, sc, err := scaler.FitTransform(train.Closes())
	if err != nil {
		return nil, err
	}
	bounds := sc.Bounds()
	p.mu.Lock()
	p.bounds = &bounds
	p.mu.Unlock()

	trainSet, err := window.Make(normalized, req.WindowLength)
	if err != nil {
		return nil, err
	}
	log.Debug().
		Float64("min", bounds.Min).
		Float64("max", bounds.Max).
		Int("windows", trainSet.Len()).
		Msg("training windows built")

	// 3. train
	if err := p.enter(ctx, Training); err != nil {
		return nil, err
	}
	m := p.newModel()
	opts := forecast.TrainOptions{Epochs: req.Epochs, BatchSize: req.BatchSize}
	err = m.Train(ctx, trainSet, opts, func(epoch int) {
		if p.observer != nil {
			p.observer.EpochCompleted(req.Symbol)
		}
		if p.onProgress != nil {
			p.onProgress(Progress{Epoch: epoch, Epochs: req.Epochs})
		}
	})
	if err != nil {
		return nil, fmt.Errorf("training: %w", err)
	}
	log.Info().Int("epochs", req.Epochs).Msg("training complete")

	// 4. testing split, starting at the training end date
	if err := p.enter(ctx, LoadingTestingData); err != nil {
		return nil, err
	}
	test, err := p.load(ctx, req.Symbol, req.TrainEnd, req.TestEnd)
	if err != nil {
		return nil, err
	}
	log.Info().Int("points", test.Len()).Msg("testing data loaded")

	// 5. reuse the training scaler, never refit on testing data
	if err := p.enter(ctx, Predicting); err != nil {
		return nil, err
	}
	testSet, err := window.Make(sc.Transform(test.Closes()), req.WindowLength)
	if err != nil {
		return nil, fmt.Errorf("testing data: %w", err)
	}
	normalizedPreds, err := m.Predict(testSet.Windows)
	if err != nil {
		return nil, fmt.Errorf("predicting: %w", err)
	}
	if len(normalizedPreds) != testSet.Len() {
		return nil, fmt.Errorf("predicting: %w: %d predictions for %d windows",
			forecast.ErrShapeMismatch, len(normalizedPreds), testSet.Len())
	}
	prices := sc.Inverse(normalizedPreds)

	result := &model.PredictionResult{
		Symbol:       req.Symbol,
		WindowLength: req.WindowLength,
		Epochs:       req.Epochs,
		BatchSize:    req.BatchSize,
		Bounds:       bounds,
		Points:       make([]model.PredictionPoint, len(prices)),
	}
	for i, predicted := range prices {
		actual := test.Points[i+req.WindowLength]
		result.Points[i] = model.PredictionPoint{
			Date:      actual.Date,
			Actual:    actual.Close,
			Predicted: predicted,
		}
	}

	p.transition(Done)
	log.Info().
		Int("predictions", len(result.Points)).
		Float64("rmse", result.RMSE()).
		Msg("run complete")
	return result, nil
}

func (p *Pipeline) load(ctx context.Context, symbol string, start, end time.Time) (model.PriceSeries, error) {
	series, err := p.loader.LoadCloses(ctx, symbol, start, end)
	if err != nil {
		if errors.Is(err, provider.ErrDataUnavailable) {
			return model.PriceSeries{}, fmt.Errorf("%w for %s %s..%s: %w",
				ErrEmptyData, symbol, start.Format("2006-01-02"), end.Format("2006-01-02"), err)
		}
		return model.PriceSeries{}, fmt.Errorf("loading %s: %w", symbol, err)
	}
	if series.Len() == 0 {
		return model.PriceSeries{}, fmt.Errorf("%w for %s %s..%s",
			ErrEmptyData, symbol, start.Format("2006-01-02"), end.Format("2006-01-02"))
	}
	if err := series.Validate(); err != nil {
		return model.PriceSeries{}, fmt.Errorf("loading %s: %w", symbol, err)
	}
	return series, nil
}

// enter checks for cancellation and moves to the next state
func (p *Pipeline) enter(ctx context.Context, next State) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.transition(next)
	return nil
}

func (p *Pipeline) transition(next State) {
	p.mu.Lock()
	prev := p.state
	p.state = next
	p.mu.Unlock()

	p.logger.Debug().Stringer("from", prev).Stringer("to", next).Msg("state transition")
	if p.onState != nil {
		p.onState(prev, next)
	}
}

func (p *Pipeline) fail(err error) *RunError {
	p.mu.Lock()
	prev := p.state
	re := &RunError{State: prev, Code: classify(err), Err: err}
	p.state = Failed
	p.err = re
	p.mu.Unlock()

	p.logger.Error().
		Err(err).
		Stringer("state", prev).
		Str("code", string(re.Code)).
		Msg("run failed")
	if p.onState != nil {
		p.onState(prev, Failed)
	}
	return re
}

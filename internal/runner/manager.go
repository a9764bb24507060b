package runner

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"pricecast/internal/forecast"
	"pricecast/internal/pipeline"
	"pricecast/internal/provider"
	"pricecast/internal/store"
	"pricecast/pkg/model"
)

// ErrTooManyRuns is returned by Submit when every run slot is taken
var ErrTooManyRuns = errors.New("too many runs in progress")

// maxHistory bounds the in-memory registry; older finished runs stay in the store
const maxHistory = 100

// Status is a snapshot of one run
type Status struct {
	ID         string                  `json:"id"`
	Symbol     string                  `json:"symbol"`
	State      string                  `json:"state"`
	Progress   pipeline.Progress       `json:"progress"`
	Code       pipeline.Code           `json:"code,omitempty"`
	Error      string                  `json:"error,omitempty"`
	Trigger    string                  `json:"trigger"`
	StartedAt  time.Time               `json:"started_at"`
	FinishedAt *time.Time              `json:"finished_at,omitempty"`
	Result     *model.PredictionResult `json:"result,omitempty"`
}

type entry struct {
	status Status
	cancel context.CancelFunc
}

// Option configures a Manager
type Option func(*Manager)

// WithLogger sets the logger
func WithLogger(l zerolog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithObserver passes an observer to every pipeline
func WithObserver(o pipeline.Observer) Option {
	return func(m *Manager) { m.observer = o }
}

// WithMaxRuns limits concurrent background runs
func WithMaxRuns(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.slots = make(chan struct{}, n)
		}
	}
}

// Manager starts pipeline runs and keeps their status.
// Each run gets its own Pipeline, scaler and model.
type Manager struct {
	loader   provider.Loader
	newModel forecast.Factory
	store    store.Store
	observer pipeline.Observer
	logger   zerolog.Logger
	slots    chan struct{}

	mu    sync.RWMutex
	runs  map[string]*entry
	order []string

	wg sync.WaitGroup
}

// NewManager creates a manager. A nil store disables history.
func NewManager(loader provider.Loader, newModel forecast.Factory, st store.Store, opts ...Option) *Manager {
	if st == nil {
		st = store.NoopStore{}
	}
	m := &Manager{
		loader:   loader,
		newModel: newModel,
		store:    st,
		logger:   zerolog.Nop(),
		slots:    make(chan struct{}, 2),
		runs:     make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With().Str("component", "runner").Logger()
	return m
}

// Submit validates req and starts it in the background.
// trigger records who asked for the run, e.g. "api" or "schedule".
func (m *Manager) Submit(req pipeline.Request, trigger string) (string, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}

	select {
	case m.slots <- struct{}{}:
	default:
		return "", ErrTooManyRuns
	}
	return m.start(req, trigger), nil
}

// SubmitWait is Submit that waits for a free run slot instead of failing.
// It returns ctx.Err() if ctx ends first.
func (m *Manager) SubmitWait(ctx context.Context, req pipeline.Request, trigger string) (string, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}

	select {
	case m.slots <- struct{}{}:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	return m.start(req, trigger), nil
}

// start runs req in the background on a slot the caller already holds
func (m *Manager) start(req pipeline.Request, trigger string) string {
	ctx, cancel := context.WithCancel(context.Background())
	id := m.register(req, trigger, cancel)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer func() { <-m.slots }()
		defer cancel()
		m.execute(ctx, id, req, nil)
	}()

	m.logger.Info().Str("run_id", id).Str("symbol", req.Symbol).Str("trigger", trigger).Msg("run submitted")
	return id
}

// Run executes req on the calling goroutine and records it like a submitted run.
func (m *Manager) Run(ctx context.Context, req pipeline.Request, onProgress func(pipeline.Progress)) (string, *model.PredictionResult, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	id := m.register(req, "cli", cancel)
	result, err := m.execute(ctx, id, req, onProgress)
	return id, result, err
}

// Cancel stops a running run. It reports whether the run was found.
func (m *Manager) Cancel(id string) bool {
	m.mu.RLock()
	e, ok := m.runs[id]
	m.mu.RUnlock()
	if ok {
		e.cancel()
	}
	return ok
}

// Status returns the current status of a run held in memory
func (m *Manager) Status(id string) (Status, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.runs[id]
	if !ok {
		return Status{}, false
	}
	return e.status, true
}

// List returns in-memory runs, newest first
func (m *Manager) List() []Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Status, 0, len(m.order))
	for i := len(m.order) - 1; i >= 0; i-- {
		st := m.runs[m.order[i]].status
		st.Result = nil
		out = append(out, st)
	}
	return out
}

// Result returns the result of a finished run, from memory or the store
func (m *Manager) Result(ctx context.Context, id string) (*model.PredictionResult, error) {
	if st, ok := m.Status(id); ok {
		if st.Result == nil {
			return nil, store.ErrNotFound
		}
		return st.Result, nil
	}
	return m.store.Result(ctx, id)
}

// Store returns the history store
func (m *Manager) Store() store.Store {
	return m.store
}

// Wait blocks until every background run has finished
func (m *Manager) Wait() {
	m.wg.Wait()
}

// Shutdown cancels every active run and waits for background runs to finish
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.RLock()
	for _, e := range m.runs {
		e.cancel()
	}
	m.mu.RUnlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) register(req pipeline.Request, trigger string, cancel context.CancelFunc) string {
	id := uuid.New().String()
	st := Status{
		ID:        id,
		Symbol:    req.Symbol,
		State:     pipeline.Idle.String(),
		Progress:  pipeline.Progress{Epochs: req.Epochs},
		Trigger:   trigger,
		StartedAt: time.Now().UTC(),
	}

	m.mu.Lock()
	m.runs[id] = &entry{status: st, cancel: cancel}
	m.order = append(m.order, id)
	m.evictLocked()
	m.mu.Unlock()
	return id
}

// evictLocked drops the oldest finished runs beyond maxHistory
func (m *Manager) evictLocked() {
	for i := 0; len(m.order) > maxHistory && i < len(m.order); {
		id := m.order[i]
		if m.runs[id].status.FinishedAt == nil {
			i++
			continue
		}
		delete(m.runs, id)
		m.order = append(m.order[:i], m.order[i+1:]...)
	}
}

func (m *Manager) update(id string, fn func(*Status)) {
	m.mu.Lock()
	if e, ok := m.runs[id]; ok {
		fn(&e.status)
	}
	m.mu.Unlock()
}

func (m *Manager) execute(ctx context.Context, id string, req pipeline.Request, onProgress func(pipeline.Progress)) (*model.PredictionResult, error) {
	log := m.logger.With().Str("run_id", id).Str("symbol", req.Symbol).Logger()

	st, _ := m.Status(id)
	rec := store.Run{
		ID:           id,
		Symbol:       req.Symbol,
		WindowLength: req.WindowLength,
		Epochs:       req.Epochs,
		BatchSize:    req.BatchSize,
		TrainStart:   req.TrainStart,
		TrainEnd:     req.TrainEnd,
		TestEnd:      req.TestEnd,
		Trigger:      st.Trigger,
		State:        st.State,
		CreatedAt:    st.StartedAt,
	}
	// History is written even for runs canceled early.
	storeCtx := context.WithoutCancel(ctx)
	if err := m.store.Begin(storeCtx, rec); err != nil {
		log.Warn().Err(err).Msg("failed to record run start")
	}

	opts := []pipeline.Option{
		pipeline.WithLogger(log),
		pipeline.WithStateHook(func(_, to pipeline.State) {
			m.update(id, func(s *Status) { s.State = to.String() })
		}),
		pipeline.WithProgress(func(p pipeline.Progress) {
			m.update(id, func(s *Status) { s.Progress = p })
			if onProgress != nil {
				onProgress(p)
			}
		}),
	}
	if m.observer != nil {
		opts = append(opts, pipeline.WithObserver(m.observer))
	}

	p := pipeline.New(m.loader, m.newModel, opts...)
	result, err := p.Run(ctx, req)
	if result != nil {
		result.RunID = id
	}

	finished := time.Now().UTC()
	m.update(id, func(s *Status) {
		s.State = p.State().String()
		s.FinishedAt = &finished
		s.Result = result
		if err != nil {
			s.Code = pipeline.CodeOf(err)
			s.Error = err.Error()
		}
	})

	rec.State = p.State().String()
	rec.FinishedAt = &finished
	if err != nil {
		rec.Code = string(pipeline.CodeOf(err))
		rec.Error = err.Error()
	}
	if serr := m.store.Finish(storeCtx, rec, result); serr != nil {
		log.Warn().Err(serr).Msg("failed to record run result")
	}

	if err != nil {
		return nil, err
	}
	log.Info().Dur("elapsed", finished.Sub(rec.CreatedAt)).Msg("run recorded")
	return result, nil
}

package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"pricecast/internal/config"
	"pricecast/internal/pipeline"
	"pricecast/internal/runner"
)

// Submitter starts runs in the background, waiting for a free run slot
type Submitter interface {
	SubmitWait(ctx context.Context, req pipeline.Request, trigger string) (string, error)
}

// Scheduler submits a run per watch-list symbol on a cron schedule.
// Symbols are submitted in order; each waits for a run slot.
type Scheduler struct {
	cron   *cron.Cron
	cfg    *config.Config
	runs   Submitter
	logger zerolog.Logger
	now    func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a scheduler. Call Register before Start.
func New(cfg *config.Config, runs Submitter, logger zerolog.Logger) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:   cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		cfg:    cfg,
		runs:   runs,
		logger: logger.With().Str("component", "scheduler").Logger(),
		now:    time.Now,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Register adds the configured watch-list job
func (s *Scheduler) Register() error {
	spec := s.cfg.Schedule.Cron
	if _, err := s.cron.AddFunc(spec, func() { s.RunNow() }); err != nil {
		return fmt.Errorf("register schedule %q: %w", spec, err)
	}
	return nil
}

// Start starts the cron scheduler
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info().
		Str("cron", s.cfg.Schedule.Cron).
		Strs("symbols", s.cfg.Schedule.Symbols).
		Msg("scheduler started")
}

// Stop stops the scheduler and returns a context that is done once running jobs return.
// A tick still waiting for run slots gives up on its remaining symbols.
func (s *Scheduler) Stop() context.Context {
	s.cancel()
	ctx := s.cron.Stop()
	s.logger.Info().Msg("scheduler stopped")
	return ctx
}

// Next returns the next activation time, or zero if nothing is scheduled
func (s *Scheduler) Next() time.Time {
	entries := s.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}

// RunNow submits one run per watch-list symbol and returns the accepted run IDs.
// It blocks while every run slot is taken. An invalid symbol is logged and skipped.
func (s *Scheduler) RunNow() []string {
	var ids []string
	now := s.now()
	for i, symbol := range s.cfg.Schedule.Symbols {
		req, err := runner.RequestFromConfig(s.cfg, symbol, now)
		if err != nil {
			s.logger.Error().Err(err).Str("symbol", symbol).Msg("building scheduled request")
			continue
		}
		id, err := s.runs.SubmitWait(s.ctx, req, "schedule")
		if err != nil {
			if s.ctx.Err() != nil {
				s.logger.Warn().Int("pending", len(s.cfg.Schedule.Symbols)-i).Msg("scheduler stopped before all symbols were submitted")
				break
			}
			s.logger.Warn().Err(err).Str("symbol", req.Symbol).Msg("scheduled run not started")
			continue
		}
		ids = append(ids, id)
	}
	s.logger.Info().Int("submitted", len(ids)).Int("symbols", len(s.cfg.Schedule.Symbols)).Msg("scheduled runs submitted")
	return ids
}

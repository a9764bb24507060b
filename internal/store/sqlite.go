package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"pricecast/pkg/model"
)

var _ Store = (*SQLiteStore)(nil)

// SQLiteStore persists runs and their predictions to a SQLite database.
type SQLiteStore struct {
	db     *sql.DB
	mu     sync.Mutex
	logger zerolog.Logger
}

// NewSQLiteStore opens (or creates) the database and runs migrations.
func NewSQLiteStore(path string, logger zerolog.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer; readers go through the same pool.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	s := &SQLiteStore{db: db, logger: logger.With().Str("component", "store").Logger()}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	s.logger.Debug().Str("path", path).Msg("sqlite store opened")
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id            TEXT PRIMARY KEY,
			symbol        TEXT NOT NULL,
			window_length INTEGER NOT NULL,
			epochs        INTEGER NOT NULL,
			batch_size    INTEGER NOT NULL,
			train_start   INTEGER NOT NULL,
			train_end     INTEGER NOT NULL,
			test_end      INTEGER NOT NULL,
			triggered_by  TEXT NOT NULL DEFAULT '',
			state         TEXT NOT NULL,
			code          TEXT NOT NULL DEFAULT '',
			error         TEXT NOT NULL DEFAULT '',
			created_at    INTEGER NOT NULL,
			finished_at   INTEGER NOT NULL DEFAULT 0,
			predictions   INTEGER NOT NULL DEFAULT 0,
			rmse          REAL NOT NULL DEFAULT 0,
			mae           REAL NOT NULL DEFAULT 0,
			bounds_min    REAL NOT NULL DEFAULT 0,
			bounds_max    REAL NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_created ON runs(created_at)`,

		`CREATE TABLE IF NOT EXISTS run_points (
			run_id    TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
			idx       INTEGER NOT NULL,
			date      INTEGER NOT NULL,
			actual    REAL NOT NULL,
			predicted REAL NOT NULL,
			PRIMARY KEY (run_id, idx)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Begin implements Store
func (s *SQLiteStore) Begin(ctx context.Context, run Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, symbol, window_length, epochs, batch_size, train_start, train_end, test_end, triggered_by, state, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Symbol, run.WindowLength, run.Epochs, run.BatchSize,
		run.TrainStart.Unix(), run.TrainEnd.Unix(), run.TestEnd.Unix(),
		run.Trigger, run.State, run.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("insert run %s: %w", run.ID, err)
	}
	return nil
}

// Finish implements Store
func (s *SQLiteStore) Finish(ctx context.Context, run Run, result *model.PredictionResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var finishedAt int64
	if run.FinishedAt != nil {
		finishedAt = run.FinishedAt.Unix()
	}
	if result != nil {
		run.Predictions = len(result.Points)
		run.RMSE = result.RMSE()
		run.MAE = result.MAE()
		run.BoundsMin = result.Bounds.Min
		run.BoundsMax = result.Bounds.Max
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE runs SET state = ?, code = ?, error = ?, finished_at = ?, predictions = ?, rmse = ?, mae = ?, bounds_min = ?, bounds_max = ?
		 WHERE id = ?`,
		run.State, run.Code, run.Error, finishedAt,
		run.Predictions, run.RMSE, run.MAE, run.BoundsMin, run.BoundsMax, run.ID,
	)
	if err != nil {
		return fmt.Errorf("update run %s: %w", run.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("update run %s: %w", run.ID, ErrNotFound)
	}

	if result != nil {
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO run_points (run_id, idx, date, actual, predicted) VALUES (?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("prepare points: %w", err)
		}
		defer stmt.Close()
		for i, p := range result.Points {
			if _, err := stmt.ExecContext(ctx, run.ID, i, p.Date.Unix(), p.Actual, p.Predicted); err != nil {
				return fmt.Errorf("insert point %d: %w", i, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit run %s: %w", run.ID, err)
	}
	return nil
}

const runColumns = `id, symbol, window_length, epochs, batch_size, train_start, train_end, test_end,
	triggered_by, state, code, error, created_at, finished_at, predictions, rmse, mae, bounds_min, bounds_max`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*Run, error) {
	var (
		r                                                   Run
		trainStart, trainEnd, testEnd, createdAt, finishedAt int64
	)
	err := row.Scan(&r.ID, &r.Symbol, &r.WindowLength, &r.Epochs, &r.BatchSize,
		&trainStart, &trainEnd, &testEnd,
		&r.Trigger, &r.State, &r.Code, &r.Error, &createdAt, &finishedAt,
		&r.Predictions, &r.RMSE, &r.MAE, &r.BoundsMin, &r.BoundsMax)
	if err != nil {
		return nil, err
	}
	r.TrainStart = time.Unix(trainStart, 0).UTC()
	r.TrainEnd = time.Unix(trainEnd, 0).UTC()
	r.TestEnd = time.Unix(testEnd, 0).UTC()
	r.CreatedAt = time.Unix(createdAt, 0).UTC()
	if finishedAt > 0 {
		t := time.Unix(finishedAt, 0).UTC()
		r.FinishedAt = &t
	}
	return &r, nil
}

// Get implements Store
func (s *SQLiteStore) Get(ctx context.Context, id string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", id, err)
	}
	return r, nil
}

// List implements Store
func (s *SQLiteStore) List(ctx context.Context, limit int) ([]Run, error) {
	if limit < 1 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM runs ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, *r)
	}
	return runs, rows.Err()
}

// Result implements Store
func (s *SQLiteStore) Result(ctx context.Context, id string) (*model.PredictionResult, error) {
	run, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT date, actual, predicted FROM run_points WHERE run_id = ? ORDER BY idx`, id)
	if err != nil {
		return nil, fmt.Errorf("query points: %w", err)
	}
	defer rows.Close()

	result := &model.PredictionResult{
		RunID:        run.ID,
		Symbol:       run.Symbol,
		WindowLength: run.WindowLength,
		Epochs:       run.Epochs,
		BatchSize:    run.BatchSize,
		Bounds:       model.Bounds{Min: run.BoundsMin, Max: run.BoundsMax},
	}
	for rows.Next() {
		var (
			p    model.PredictionPoint
			date int64
		)
		if err := rows.Scan(&date, &p.Actual, &p.Predicted); err != nil {
			return nil, fmt.Errorf("scan point: %w", err)
		}
		p.Date = time.Unix(date, 0).UTC()
		result.Points = append(result.Points, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(result.Points) == 0 {
		return nil, ErrNotFound
	}
	return result, nil
}

// Close closes the database
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"salaryclf/pipeline"
)

// Run statuses.
const (
	StatusOK     = "ok"
	StatusFailed = "failed"
)

const defaultLimit = 50

// Run is one audited pipeline run.
type Run struct {
	ID         string    `json:"id"`
	Kind       string    `json:"kind"`
	Source     string    `json:"source"`
	Rows       int       `json:"rows"`
	Status     string    `json:"status"`
	ErrorKind  string    `json:"error_kind,omitempty"`
	Message    string    `json:"message,omitempty"`
	Labels     []string  `json:"labels,omitempty"`
	DurationMS int64     `json:"duration_ms"`
	CreatedAt  time.Time `json:"created_at"`
}

// RunFromEvent converts a finished pipeline event into an audit record.
func RunFromEvent(event pipeline.Event) Run {
	status := StatusOK
	if event.Failed() {
		status = StatusFailed
	}
	return Run{
		ID:         event.ID,
		Kind:       event.Kind,
		Source:     event.Source,
		Rows:       event.Rows,
		Status:     status,
		ErrorKind:  event.ErrorKind,
		Message:    event.Message,
		Labels:     event.Labels,
		DurationMS: event.Duration.Milliseconds(),
		CreatedAt:  event.Time,
	}
}

// Store is the SQLite audit log of prediction runs.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and its schema.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}
	database, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	// sqlite allows one writer; a single connection also keeps :memory: consistent
	database.SetMaxOpenConns(1)

	query := `
    CREATE TABLE IF NOT EXISTS prediction_runs (
        id TEXT PRIMARY KEY,
        kind TEXT NOT NULL,
        source TEXT NOT NULL DEFAULT '',
        row_count INTEGER NOT NULL DEFAULT 0,
        status TEXT NOT NULL,
        error_kind TEXT NOT NULL DEFAULT '',
        message TEXT NOT NULL DEFAULT '',
        labels TEXT NOT NULL DEFAULT '[]',
        duration_ms INTEGER NOT NULL DEFAULT 0,
        created_at DATETIME NOT NULL
    );
    CREATE INDEX IF NOT EXISTS idx_prediction_runs_created ON prediction_runs(created_at);
    `
	if _, err := database.Exec(query); err != nil {
		database.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{db: database}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// SaveRun records one run. Saving the same ID twice replaces the record.
func (s *Store) SaveRun(ctx context.Context, run Run) error {
	if run.ID == "" {
		return errors.New("run id required")
	}
	if run.Labels == nil {
		run.Labels = []string{}
	}
	labels, err := json.Marshal(run.Labels)
	if err != nil {
		return err
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now()
	}
	_, err = s.db.ExecContext(ctx, `
        INSERT OR REPLACE INTO prediction_runs (
            id, kind, source, row_count, status, error_kind, message, labels, duration_ms, created_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Kind, run.Source, run.Rows, run.Status, run.ErrorKind, run.Message,
		string(labels), run.DurationMS, run.CreatedAt.UTC())
	return err
}

// RecentRuns returns up to limit runs, newest first. A non-positive limit
// uses the default.
func (s *Store) RecentRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = defaultLimit
	}
	rows, err := s.db.QueryContext(ctx, `
        SELECT id, kind, source, row_count, status, error_kind, message, labels, duration_ms, created_at
        FROM prediction_runs
        ORDER BY created_at DESC, rowid DESC
        LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		var r Run
		var labels string
		if err := rows.Scan(&r.ID, &r.Kind, &r.Source, &r.Rows, &r.Status, &r.ErrorKind,
			&r.Message, &labels, &r.DurationMS, &r.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(labels), &r.Labels); err != nil {
			return nil, fmt.Errorf("run %s: decode labels: %w", r.ID, err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// LabelCounts tallies predicted labels over all successful runs.
func (s *Store) LabelCounts(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT labels FROM prediction_runs WHERE status = ?`, StatusOK)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var labels []string
		if err := json.Unmarshal([]byte(raw), &labels); err != nil {
			return nil, err
		}
		for _, label := range labels {
			counts[label]++
		}
	}
	return counts, rows.Err()
}

// Observer returns a pipeline observer that records every run. Write failures
// are logged; they never fail the run that produced them.
func (s *Store) Observer(logger *zap.Logger) pipeline.Observer {
	return &auditObserver{store: s, logger: logger}
}

type auditObserver struct {
	store  *Store
	logger *zap.Logger
}

func (a *auditObserver) Observe(ctx context.Context, event pipeline.Event) {
	// the request context may already be done once the response is written
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := a.store.SaveRun(ctx, RunFromEvent(event)); err != nil {
		a.logger.Error("failed to save prediction run", zap.String("id", event.ID), zap.Error(err))
	}
}

// Package state journals refresh runs and alert events in a local SQLite
// database. Every serve/watch session appends here; the runs and alerts
// commands and the alerts panel read it back.
package state

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// ErrNotFound reports a missing journal row.
var ErrNotFound = errors.New("not found")

// RunStatus summarizes one refresh run.
type RunStatus string

const (
	// RunStatusOK means every panel refreshed.
	RunStatusOK RunStatus = "ok"
	// RunStatusPartial means at least one panel failed and at least one succeeded.
	RunStatusPartial RunStatus = "partial"
	// RunStatusFailed means every panel failed.
	RunStatusFailed RunStatus = "failed"
)

// Run is one journaled refresh of one instance.
type Run struct {
	ID           string    `json:"id"`
	Instance     string    `json:"instance"`
	Status       RunStatus `json:"status"`
	WindowFrom   time.Time `json:"window_from"`
	WindowTo     time.Time `json:"window_to"`
	StartedAt    time.Time `json:"started_at"`
	CompletedAt  time.Time `json:"completed_at"`
	PanelsOK     int       `json:"panels_ok"`
	PanelsFailed int       `json:"panels_failed"`
	// Panels is populated by GetRun only.
	Panels []PanelRun `json:"panels,omitempty"`
}

// PanelRun is one panel's outcome inside a run.
type PanelRun struct {
	ID         string    `json:"id"`
	RunID      string    `json:"run_id"`
	Panel      string    `json:"panel"`
	Status     RunStatus `json:"status"`
	Rows       int       `json:"rows"`
	DurationMs int64     `json:"duration_ms"`
	Error      string    `json:"error,omitempty"`
}

// AlertEvent is one threshold breach raised during a run.
type AlertEvent struct {
	ID        string    `json:"id"`
	Instance  string    `json:"instance"`
	Rule      string    `json:"rule"`
	Metric    string    `json:"metric"`
	Op        string    `json:"op"`
	Threshold float64   `json:"threshold"`
	Value     float64   `json:"value"`
	Severity  string    `json:"severity"`
	Message   string    `json:"message"`
	RaisedAt  time.Time `json:"raised_at"`
}

// Store is the SQLite-backed journal.
type Store struct {
	db     *sql.DB
	path   string
	logger *slog.Logger
}

// Open opens (creating directories as needed) and migrates the journal.
// Use ":memory:" for tests.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	dsn := "file::memory:?_pragma=foreign_keys(1)"
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create state directory: %w", err)
		}
		dsn = fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)", path)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open state database: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping state database: %w", err)
	}
	// The in-memory database lives in a single connection.
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	s := &Store{db: db, path: path, logger: logger}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the journal.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the database location.
func (s *Store) Path() string { return s.path }

// generateID creates a new UUID.
func generateID() string {
	return uuid.New().String()
}

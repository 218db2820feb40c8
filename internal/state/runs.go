// runs.go - Refresh run records.
package state

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
)

// RecordRun journals one refresh run with its panel outcomes in a single
// transaction. Missing IDs are generated.
func (s *Store) RecordRun(run Run) (string, error) {
	if run.ID == "" {
		run.ID = generateID()
	}

	tx, err := s.db.Begin()
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.Exec(`
		INSERT INTO runs (id, instance, status, window_from, window_to, started_at, completed_at, panels_ok, panels_failed)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Instance, string(run.Status),
		run.WindowFrom.UTC(), run.WindowTo.UTC(),
		run.StartedAt.UTC(), run.CompletedAt.UTC(),
		run.PanelsOK, run.PanelsFailed)
	if err != nil {
		return "", fmt.Errorf("failed to insert run: %w", err)
	}

	for _, pr := range run.Panels {
		if pr.ID == "" {
			pr.ID = generateID()
		}
		_, err = tx.Exec(`
			INSERT INTO panel_runs (id, run_id, panel, status, row_count, duration_ms, error)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			pr.ID, run.ID, pr.Panel, string(pr.Status), pr.Rows, pr.DurationMs, pr.Error)
		if err != nil {
			return "", fmt.Errorf("failed to insert panel run %s: %w", pr.Panel, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit run: %w", err)
	}

	s.logger.Debug("run journaled",
		slog.String("id", run.ID),
		slog.String("instance", run.Instance),
		slog.String("status", string(run.Status)))
	return run.ID, nil
}

// ListRuns returns the newest runs, most recent first. An empty instance
// selects every instance.
func (s *Store) ListRuns(instance string, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, instance, status, window_from, window_to, started_at, completed_at, panels_ok, panels_failed
		FROM runs`
	args := []any{}
	if instance != "" {
		query += ` WHERE instance = ?`
		args = append(args, instance)
	}
	query += ` ORDER BY started_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.ID, &r.Instance, &r.Status, &r.WindowFrom, &r.WindowTo,
			&r.StartedAt, &r.CompletedAt, &r.PanelsOK, &r.PanelsFailed); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// GetRun returns one run with its panel breakdown.
func (s *Store) GetRun(id string) (Run, error) {
	var r Run
	err := s.db.QueryRow(`
		SELECT id, instance, status, window_from, window_to, started_at, completed_at, panels_ok, panels_failed
		FROM runs WHERE id = ?`, id).
		Scan(&r.ID, &r.Instance, &r.Status, &r.WindowFrom, &r.WindowTo,
			&r.StartedAt, &r.CompletedAt, &r.PanelsOK, &r.PanelsFailed)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return Run{}, fmt.Errorf("failed to get run: %w", err)
	}

	rows, err := s.db.Query(`
		SELECT id, run_id, panel, status, row_count, duration_ms, error
		FROM panel_runs WHERE run_id = ? ORDER BY panel`, id)
	if err != nil {
		return Run{}, fmt.Errorf("failed to list panel runs: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var pr PanelRun
		if err := rows.Scan(&pr.ID, &pr.RunID, &pr.Panel, &pr.Status, &pr.Rows, &pr.DurationMs, &pr.Error); err != nil {
			return Run{}, fmt.Errorf("failed to scan panel run: %w", err)
		}
		r.Panels = append(r.Panels, pr)
	}
	return r, rows.Err()
}

// alerts.go - Alert event records and retention pruning.
package state

import (
	"fmt"
	"time"

	"github.com/leapstack-labs/sqlscope/pkg/telemetry"
)

// RecordAlerts journals a batch of alert events.
func (s *Store) RecordAlerts(events []AlertEvent) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, ev := range events {
		if ev.ID == "" {
			ev.ID = generateID()
		}
		_, err = tx.Exec(`
			INSERT INTO alert_events (id, instance, rule, metric, op, threshold, value, severity, message, raised_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			ev.ID, ev.Instance, ev.Rule, ev.Metric, ev.Op,
			ev.Threshold, ev.Value, ev.Severity, ev.Message, ev.RaisedAt.UTC())
		if err != nil {
			return fmt.Errorf("failed to insert alert event %s: %w", ev.Rule, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit alert events: %w", err)
	}
	return nil
}

// ListAlerts returns alert events inside the window, newest first. An empty
// instance selects every instance; a zero window selects everything.
func (s *Store) ListAlerts(instance string, win telemetry.TimeRange, limit int) ([]AlertEvent, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT id, instance, rule, metric, op, threshold, value, severity, message, raised_at
		FROM alert_events WHERE 1=1`
	args := []any{}
	if instance != "" {
		query += ` AND instance = ?`
		args = append(args, instance)
	}
	if !win.IsZero() {
		query += ` AND raised_at >= ? AND raised_at < ?`
		args = append(args, win.From, win.To)
	}
	query += ` ORDER BY raised_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list alert events: %w", err)
	}
	defer rows.Close()

	var out []AlertEvent
	for rows.Next() {
		var ev AlertEvent
		if err := rows.Scan(&ev.ID, &ev.Instance, &ev.Rule, &ev.Metric, &ev.Op,
			&ev.Threshold, &ev.Value, &ev.Severity, &ev.Message, &ev.RaisedAt); err != nil {
			return nil, fmt.Errorf("failed to scan alert event: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// PruneBefore deletes runs (and their panel rows via cascade) and alert
// events older than the cutoff, returning how many runs went.
func (s *Store) PruneBefore(cutoff time.Time) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM runs WHERE started_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to prune runs: %w", err)
	}
	pruned, _ := res.RowsAffected()

	if _, err := s.db.Exec(`DELETE FROM alert_events WHERE raised_at < ?`, cutoff.UTC()); err != nil {
		return pruned, fmt.Errorf("failed to prune alert events: %w", err)
	}
	return pruned, nil
}

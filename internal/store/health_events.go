package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/forgekit/forged/internal/types"
)

// maxHealthEvents bounds store growth: only the most recent events are kept,
// evicted FIFO by insertion order rather than timestamp value so the bound is
// deterministic even if clocks move.
const maxHealthEvents = 1000

// LogHealthEvent appends a health event and enforces the retention cap.
func (s *Store) LogHealthEvent(ctx context.Context, event types.HealthEvent) error {
	db, err := s.conn()
	if err != nil {
		return err
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	var metrics sql.NullString
	if len(event.Metrics) > 0 {
		data, err := json.Marshal(event.Metrics)
		if err != nil {
			return fmt.Errorf("failed to marshal event metrics: %w", err)
		}
		metrics = sql.NullString{String: string(data), Valid: true}
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO health_events (category, status, message, metrics, timestamp)
		VALUES (?, ?, ?, ?, ?)`,
		event.Category, string(event.Status), event.Message, metrics, formatTime(event.Timestamp))
	if err != nil {
		return fmt.Errorf("failed to insert health event: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		DELETE FROM health_events WHERE id NOT IN (
			SELECT id FROM health_events ORDER BY id DESC LIMIT ?)`, maxHealthEvents)
	if err != nil {
		return fmt.Errorf("failed to enforce health event cap: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit health event: %w", err)
	}
	return nil
}

// GetHealthEvents returns logged events, most recent first. hours > 0 limits
// results to a trailing time window; a non-empty category filters by check
// category. The filters combine.
func (s *Store) GetHealthEvents(ctx context.Context, hours int, category string) ([]types.HealthEvent, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}

	query := `SELECT category, status, message, metrics, timestamp FROM health_events`
	var conds []string
	var args []any
	if hours > 0 {
		conds = append(conds, "timestamp >= ?")
		args = append(args, formatTime(time.Now().Add(-time.Duration(hours)*time.Hour)))
	}
	if category != "" {
		conds = append(conds, "category = ?")
		args = append(args, category)
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY timestamp DESC, id DESC"

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query health events: %w", err)
	}
	defer rows.Close()

	var events []types.HealthEvent
	for rows.Next() {
		var e types.HealthEvent
		var metrics sql.NullString
		var timestamp string
		if err := rows.Scan(&e.Category, &e.Status, &e.Message, &metrics, &timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan health event: %w", err)
		}
		e.Timestamp = parseTime(timestamp)
		if metrics.Valid {
			if err := json.Unmarshal([]byte(metrics.String), &e.Metrics); err != nil {
				return nil, fmt.Errorf("failed to unmarshal event metrics: %w", err)
			}
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

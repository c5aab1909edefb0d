package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/forgekit/forged/internal/types"
)

// Snapshot is the full serialized state of the store: five top-level
// collections, suitable for backup or cross-instance transfer.
type Snapshot struct {
	Patterns     []types.Pattern     `json:"patterns"`
	Metrics      []types.AgentMetric `json:"metrics"`
	SkillUpdates []types.SkillUpdate `json:"skill_updates"`
	Suggestions  []types.Suggestion  `json:"suggestions"`
	HealthEvents []types.HealthEvent `json:"health_events"`
}

// Export serializes the entire store state.
func (s *Store) Export(ctx context.Context) (*Snapshot, error) {
	snap := &Snapshot{}

	var err error
	if snap.Patterns, err = s.GetPatterns(ctx, nil); err != nil {
		return nil, fmt.Errorf("failed to export patterns: %w", err)
	}
	// A generous window catches every stored metric row.
	if snap.Metrics, err = s.GetRecentMetrics(ctx, 365*100); err != nil {
		return nil, fmt.Errorf("failed to export metrics: %w", err)
	}
	if snap.SkillUpdates, err = s.getAllUpdates(ctx); err != nil {
		return nil, fmt.Errorf("failed to export skill updates: %w", err)
	}
	if snap.Suggestions, err = s.getAllSuggestions(ctx); err != nil {
		return nil, fmt.Errorf("failed to export suggestions: %w", err)
	}
	if snap.HealthEvents, err = s.GetHealthEvents(ctx, 0, ""); err != nil {
		return nil, fmt.Errorf("failed to export health events: %w", err)
	}
	return snap, nil
}

// Import replaces the in-memory state wholesale with the snapshot contents.
// Record identities, statuses, and timestamps are preserved exactly.
func (s *Store) Import(ctx context.Context, snap *Snapshot) error {
	db, err := s.conn()
	if err != nil {
		return err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"patterns", "agent_metrics", "skill_updates", "suggestions", "health_events"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}

	for _, p := range snap.Patterns {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO patterns (source, context, action, outcome, confidence, frequency, agent_id, last_seen)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			string(p.Source), p.Context, p.Action, string(p.Outcome),
			p.Confidence, p.Frequency, p.AgentID, formatTime(p.LastSeen))
		if err != nil {
			return fmt.Errorf("failed to import pattern: %w", err)
		}
	}

	for _, m := range snap.Metrics {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO agent_metrics (agent_id, date, tasks_completed, success_rate, avg_duration_ms, override_rate)
			VALUES (?, ?, ?, ?, ?, ?)`,
			m.AgentID, m.Date, m.TasksCompleted, m.SuccessRate, m.AvgDurationMs, m.OverrideRate)
		if err != nil {
			return fmt.Errorf("failed to import metric: %w", err)
		}
	}

	for _, u := range snap.SkillUpdates {
		var appliedAt sql.NullString
		if u.AppliedAt != nil {
			appliedAt = sql.NullString{String: formatTime(*u.AppliedAt), Valid: true}
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO skill_updates (id, skill_file, change_type, content, reason, confidence, status, created_at, applied_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			u.ID, u.SkillFile, string(u.ChangeType), u.Content, u.Reason,
			u.Confidence, string(u.Status), formatTime(u.CreatedAt), appliedAt)
		if err != nil {
			return fmt.Errorf("failed to import skill update: %w", err)
		}
	}

	for _, sg := range snap.Suggestions {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO suggestions (id, agent_id, suggestion, confidence, status, created_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			sg.ID, sg.AgentID, sg.Suggestion, sg.Confidence, string(sg.Status), formatTime(sg.CreatedAt))
		if err != nil {
			return fmt.Errorf("failed to import suggestion: %w", err)
		}
	}

	for _, e := range snap.HealthEvents {
		var metrics sql.NullString
		if len(e.Metrics) > 0 {
			data, err := json.Marshal(e.Metrics)
			if err != nil {
				return fmt.Errorf("failed to marshal event metrics: %w", err)
			}
			metrics = sql.NullString{String: string(data), Valid: true}
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO health_events (category, status, message, metrics, timestamp)
			VALUES (?, ?, ?, ?, ?)`,
			e.Category, string(e.Status), e.Message, metrics, formatTime(e.Timestamp))
		if err != nil {
			return fmt.Errorf("failed to import health event: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit import: %w", err)
	}
	return nil
}

func (s *Store) getAllUpdates(ctx context.Context) ([]types.SkillUpdate, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `
		SELECT id, skill_file, change_type, content, reason, confidence, status, created_at, applied_at
		FROM skill_updates ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query skill updates: %w", err)
	}
	defer rows.Close()

	var updates []types.SkillUpdate
	for rows.Next() {
		var u types.SkillUpdate
		var createdAt string
		var appliedAt sql.NullString
		if err := rows.Scan(&u.ID, &u.SkillFile, &u.ChangeType, &u.Content,
			&u.Reason, &u.Confidence, &u.Status, &createdAt, &appliedAt); err != nil {
			return nil, fmt.Errorf("failed to scan skill update: %w", err)
		}
		u.CreatedAt = parseTime(createdAt)
		if appliedAt.Valid {
			t := parseTime(appliedAt.String)
			u.AppliedAt = &t
		}
		updates = append(updates, u)
	}
	return updates, rows.Err()
}

func (s *Store) getAllSuggestions(ctx context.Context) ([]types.Suggestion, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `
		SELECT id, agent_id, suggestion, confidence, status, created_at
		FROM suggestions ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query suggestions: %w", err)
	}
	defer rows.Close()

	var suggestions []types.Suggestion
	for rows.Next() {
		var sg types.Suggestion
		var createdAt string
		if err := rows.Scan(&sg.ID, &sg.AgentID, &sg.Suggestion,
			&sg.Confidence, &sg.Status, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan suggestion: %w", err)
		}
		sg.CreatedAt = parseTime(createdAt)
		suggestions = append(suggestions, sg)
	}
	return suggestions, rows.Err()
}

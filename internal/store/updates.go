package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/forgekit/forged/internal/types"
)

// QueueSkillUpdate records a proposed skill-file modification and returns its
// generated id. The update starts in pending status regardless of the input.
func (s *Store) QueueSkillUpdate(ctx context.Context, update types.SkillUpdate) (string, error) {
	db, err := s.conn()
	if err != nil {
		return "", err
	}

	if !update.ChangeType.IsValid() {
		return "", fmt.Errorf("invalid change type: %s", update.ChangeType)
	}

	id := uuid.New().String()
	_, err = db.ExecContext(ctx, `
		INSERT INTO skill_updates (id, skill_file, change_type, content, reason, confidence, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, 'pending', ?)`,
		id, update.SkillFile, string(update.ChangeType), update.Content,
		update.Reason, update.Confidence, formatTime(time.Now()))
	if err != nil {
		return "", fmt.Errorf("failed to queue skill update: %w", err)
	}
	return id, nil
}

// GetPendingUpdates returns pending updates with confidence at or above
// minConfidence (0 returns all pending), sorted by confidence descending.
func (s *Store) GetPendingUpdates(ctx context.Context, minConfidence float64) ([]types.SkillUpdate, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `
		SELECT id, skill_file, change_type, content, reason, confidence, status, created_at, applied_at
		FROM skill_updates WHERE status = 'pending' AND confidence >= ?
		ORDER BY confidence DESC, created_at ASC`, minConfidence)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending updates: %w", err)
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

// MarkUpdateApplied transitions a pending update to applied and stamps the
// apply time. Unknown ids (and non-pending updates) are a no-op, not an error.
func (s *Store) MarkUpdateApplied(ctx context.Context, id string) error {
	return s.transitionUpdate(ctx, id, types.UpdatePending, types.UpdateApplied, true)
}

// MarkUpdateRejected transitions a pending update to rejected. Unknown ids
// are a no-op.
func (s *Store) MarkUpdateRejected(ctx context.Context, id string) error {
	return s.transitionUpdate(ctx, id, types.UpdatePending, types.UpdateRejected, false)
}

// MarkUpdateRolledBack transitions an update to rolled_back. Both applied and
// pending are accepted: an apply that fails partway rolls back an update that
// never reached applied. Unknown ids are a no-op.
func (s *Store) MarkUpdateRolledBack(ctx context.Context, id string) error {
	db, err := s.conn()
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx,
		`UPDATE skill_updates SET status = ? WHERE id = ? AND status IN (?, ?)`,
		string(types.UpdateRolledBack), id,
		string(types.UpdateApplied), string(types.UpdatePending))
	if err != nil {
		return fmt.Errorf("failed to mark update %s as %s: %w", id, types.UpdateRolledBack, err)
	}
	return nil
}

// transitionUpdate enforces the one-way update state machine by guarding on
// the current status; a non-matching row simply isn't updated.
func (s *Store) transitionUpdate(ctx context.Context, id string, from, to types.UpdateStatus, stampApplied bool) error {
	db, err := s.conn()
	if err != nil {
		return err
	}

	if stampApplied {
		_, err = db.ExecContext(ctx,
			`UPDATE skill_updates SET status = ?, applied_at = ? WHERE id = ? AND status = ?`,
			string(to), formatTime(time.Now()), id, string(from))
	} else {
		_, err = db.ExecContext(ctx,
			`UPDATE skill_updates SET status = ? WHERE id = ? AND status = ?`,
			string(to), id, string(from))
	}
	if err != nil {
		return fmt.Errorf("failed to mark update %s as %s: %w", id, to, err)
	}
	return nil
}

// QueueSuggestion records a lightweight recommendation and returns its id.
func (s *Store) QueueSuggestion(ctx context.Context, suggestion types.Suggestion) (string, error) {
	db, err := s.conn()
	if err != nil {
		return "", err
	}

	id := uuid.New().String()
	_, err = db.ExecContext(ctx, `
		INSERT INTO suggestions (id, agent_id, suggestion, confidence, status, created_at)
		VALUES (?, ?, ?, ?, 'pending', ?)`,
		id, suggestion.AgentID, suggestion.Suggestion, suggestion.Confidence, formatTime(time.Now()))
	if err != nil {
		return "", fmt.Errorf("failed to queue suggestion: %w", err)
	}
	return id, nil
}

// GetPendingSuggestions returns only suggestions still in pending status.
func (s *Store) GetPendingSuggestions(ctx context.Context) ([]types.Suggestion, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `
		SELECT id, agent_id, suggestion, confidence, status, created_at
		FROM suggestions WHERE status = 'pending' ORDER BY created_at ASC`)
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

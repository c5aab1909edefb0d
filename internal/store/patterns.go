package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/forgekit/forged/internal/types"
)

// PatternFilter narrows GetPatterns results. Zero-valued fields are ignored;
// all supplied filters are ANDed together.
type PatternFilter struct {
	Source        types.PatternSource
	Outcome       types.Outcome
	MinConfidence float64
	AgentID       string
}

// StorePatterns inserts or merges the given patterns. An incoming pattern
// with the same (source, context, action, outcome, agentID) as an existing
// record is merged: frequency sums, confidence becomes the arithmetic mean of
// the two confidences, lastSeen takes the maximum. Safe to call repeatedly
// with overlapping input.
func (s *Store) StorePatterns(ctx context.Context, patterns []types.Pattern) error {
	db, err := s.conn()
	if err != nil {
		return err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for i := range patterns {
		p := &patterns[i]
		if p.Frequency < 1 {
			p.Frequency = 1
		}
		if p.LastSeen.IsZero() {
			p.LastSeen = time.Now()
		}

		var (
			id         int64
			confidence float64
			frequency  int
			lastSeen   string
		)
		err := tx.QueryRowContext(ctx, `
			SELECT id, confidence, frequency, last_seen FROM patterns
			WHERE source = ? AND context = ? AND action = ? AND outcome = ? AND agent_id = ?`,
			string(p.Source), p.Context, p.Action, string(p.Outcome), p.AgentID,
		).Scan(&id, &confidence, &frequency, &lastSeen)

		switch {
		case err == sql.ErrNoRows:
			_, err = tx.ExecContext(ctx, `
				INSERT INTO patterns (source, context, action, outcome, confidence, frequency, agent_id, last_seen)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
				string(p.Source), p.Context, p.Action, string(p.Outcome),
				p.Confidence, p.Frequency, p.AgentID, formatTime(p.LastSeen))
			if err != nil {
				return fmt.Errorf("failed to insert pattern: %w", err)
			}
		case err != nil:
			return fmt.Errorf("failed to look up pattern: %w", err)
		default:
			merged := types.Pattern{
				Confidence: confidence,
				Frequency:  frequency,
				LastSeen:   parseTime(lastSeen),
			}
			merged.Merge(p)
			_, err = tx.ExecContext(ctx, `
				UPDATE patterns SET confidence = ?, frequency = ?, last_seen = ? WHERE id = ?`,
				merged.Confidence, merged.Frequency, formatTime(merged.LastSeen), id)
			if err != nil {
				return fmt.Errorf("failed to merge pattern: %w", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit patterns: %w", err)
	}
	return nil
}

// GetPatterns returns stored patterns matching the filter. A nil filter
// returns everything. Results are ordered by frequency, most frequent first.
func (s *Store) GetPatterns(ctx context.Context, filter *PatternFilter) ([]types.Pattern, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}

	query := `SELECT source, context, action, outcome, confidence, frequency, agent_id, last_seen FROM patterns`
	var conds []string
	var args []any
	if filter != nil {
		if filter.Source != "" {
			conds = append(conds, "source = ?")
			args = append(args, string(filter.Source))
		}
		if filter.Outcome != "" {
			conds = append(conds, "outcome = ?")
			args = append(args, string(filter.Outcome))
		}
		if filter.MinConfidence > 0 {
			conds = append(conds, "confidence >= ?")
			args = append(args, filter.MinConfidence)
		}
		if filter.AgentID != "" {
			conds = append(conds, "agent_id = ?")
			args = append(args, filter.AgentID)
		}
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY frequency DESC, last_seen DESC"

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query patterns: %w", err)
	}
	defer rows.Close()

	var patterns []types.Pattern
	for rows.Next() {
		var p types.Pattern
		var lastSeen string
		if err := rows.Scan(&p.Source, &p.Context, &p.Action, &p.Outcome,
			&p.Confidence, &p.Frequency, &p.AgentID, &lastSeen); err != nil {
			return nil, fmt.Errorf("failed to scan pattern: %w", err)
		}
		p.LastSeen = parseTime(lastSeen)
		patterns = append(patterns, p)
	}
	return patterns, rows.Err()
}

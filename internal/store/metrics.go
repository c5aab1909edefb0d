package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/forgekit/forged/internal/types"
)

// StoreMetrics upserts daily metric records keyed by (agentID, date). A
// second write for the same key overwrites the previous record. Missing
// optional fields default to zero.
func (s *Store) StoreMetrics(ctx context.Context, metrics []types.AgentMetric) error {
	db, err := s.conn()
	if err != nil {
		return err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, m := range metrics {
		if m.Date == "" {
			m.Date = types.MetricDate(time.Now())
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO agent_metrics (agent_id, date, tasks_completed, success_rate, avg_duration_ms, override_rate)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(agent_id, date) DO UPDATE SET
				tasks_completed = excluded.tasks_completed,
				success_rate = excluded.success_rate,
				avg_duration_ms = excluded.avg_duration_ms,
				override_rate = excluded.override_rate`,
			m.AgentID, m.Date, m.TasksCompleted, m.SuccessRate, m.AvgDurationMs, m.OverrideRate)
		if err != nil {
			return fmt.Errorf("failed to upsert metric for %s/%s: %w", m.AgentID, m.Date, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit metrics: %w", err)
	}
	return nil
}

// GetRecentMetrics returns all agents' metrics within an inclusive lookback
// window of the given number of days, anchored to now.
func (s *Store) GetRecentMetrics(ctx context.Context, days int) ([]types.AgentMetric, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}

	cutoff := types.MetricDate(time.Now().AddDate(0, 0, -days))
	rows, err := db.QueryContext(ctx, `
		SELECT agent_id, date, tasks_completed, success_rate, avg_duration_ms, override_rate
		FROM agent_metrics WHERE date >= ? ORDER BY date ASC`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to query metrics: %w", err)
	}
	defer rows.Close()

	return scanMetrics(rows)
}

// GetAgentMetrics returns one agent's metrics within an inclusive lookback
// window, sorted ascending by date. days <= 0 means the default 30-day window.
func (s *Store) GetAgentMetrics(ctx context.Context, agentID string, days int) ([]types.AgentMetric, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}

	if days <= 0 {
		days = 30
	}
	cutoff := types.MetricDate(time.Now().AddDate(0, 0, -days))
	rows, err := db.QueryContext(ctx, `
		SELECT agent_id, date, tasks_completed, success_rate, avg_duration_ms, override_rate
		FROM agent_metrics WHERE agent_id = ? AND date >= ? ORDER BY date ASC`, agentID, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to query metrics for %s: %w", agentID, err)
	}
	defer rows.Close()

	return scanMetrics(rows)
}

func scanMetrics(rows *sql.Rows) ([]types.AgentMetric, error) {
	var metrics []types.AgentMetric
	for rows.Next() {
		var m types.AgentMetric
		if err := rows.Scan(&m.AgentID, &m.Date, &m.TasksCompleted,
			&m.SuccessRate, &m.AvgDurationMs, &m.OverrideRate); err != nil {
			return nil, fmt.Errorf("failed to scan metric: %w", err)
		}
		metrics = append(metrics, m)
	}
	return metrics, rows.Err()
}

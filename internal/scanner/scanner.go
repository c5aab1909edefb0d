// Package scanner derives confidence-scored behavioral patterns from raw
// execution history: completed task records, user corrections, and stored
// agent metrics.
package scanner

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/forgekit/forged/internal/types"
)

// Confidence constants. Task completions are ordinary signal; corrections
// reflect explicit human intervention and score higher.
const (
	taskSuccessConfidence       = 0.85
	taskFailureConfidence       = 0.6
	correctionFailureConfidence = 0.9
	correctionSuccessConfidence = 0.95

	// Metrics-derived patterns only fire at the extremes; rates between
	// these bounds carry too little signal to classify.
	perfSuccessFloor = 0.85
	perfFailureCeil  = 0.6
)

// MetricSource is the slice of the learning store the scanner reads.
type MetricSource interface {
	GetRecentMetrics(ctx context.Context, days int) ([]types.AgentMetric, error)
}

// Config controls what the scanner reads and which patterns it keeps.
type Config struct {
	// TaskHistoryDir holds completed-task JSON records
	TaskHistoryDir string
	// CorrectionsDir holds user-correction JSON records
	CorrectionsDir string
	// MinFrequency drops patterns observed fewer times (default 1)
	MinFrequency int
	// MinConfidence drops low-confidence patterns (default 0.5)
	MinConfidence float64
	// MaxAgeDays skips task records older than this (default 30)
	MaxAgeDays int
}

// ConfigUpdate is a partial configuration change; nil fields are left as-is.
type ConfigUpdate struct {
	TaskHistoryDir *string
	CorrectionsDir *string
	MinFrequency   *int
	MinConfidence  *float64
	MaxAgeDays     *int
}

// DefaultConfig returns scanner configuration rooted at the forge directory.
func DefaultConfig(forgeDir string) *Config {
	if forgeDir == "" {
		forgeDir = ".forge"
	}
	return &Config{
		TaskHistoryDir: filepath.Join(forgeDir, "history"),
		CorrectionsDir: filepath.Join(forgeDir, "corrections"),
		MinFrequency:   1,
		MinConfidence:  0.5,
		MaxAgeDays:     30,
	}
}

// Scanner converts historical records into deduplicated Pattern records.
type Scanner struct {
	mu      sync.Mutex
	cfg     Config
	metrics MetricSource
}

// New creates a scanner reading metric history from the given source.
func New(cfg *Config, metrics MetricSource) *Scanner {
	if cfg == nil {
		cfg = DefaultConfig("")
	}
	if cfg.MinFrequency < 1 {
		cfg.MinFrequency = 1
	}
	if cfg.MaxAgeDays <= 0 {
		cfg.MaxAgeDays = 30
	}
	return &Scanner{cfg: *cfg, metrics: metrics}
}

// Configure merges a partial update into the scanner's configuration. Safe to
// call between scans.
func (s *Scanner) Configure(update ConfigUpdate) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if update.TaskHistoryDir != nil {
		s.cfg.TaskHistoryDir = *update.TaskHistoryDir
	}
	if update.CorrectionsDir != nil {
		s.cfg.CorrectionsDir = *update.CorrectionsDir
	}
	if update.MinFrequency != nil && *update.MinFrequency >= 1 {
		s.cfg.MinFrequency = *update.MinFrequency
	}
	if update.MinConfidence != nil {
		s.cfg.MinConfidence = *update.MinConfidence
	}
	if update.MaxAgeDays != nil && *update.MaxAgeDays > 0 {
		s.cfg.MaxAgeDays = *update.MaxAgeDays
	}
}

// Config returns a copy of the current configuration.
func (s *Scanner) Config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// Scan reads all three sources, merges duplicate observations, filters by
// frequency and confidence, and returns patterns sorted by frequency
// descending. Missing source directories yield zero records, not errors.
func (s *Scanner) Scan(ctx context.Context) ([]types.Pattern, error) {
	cfg := s.Config()

	var raw []types.Pattern
	raw = append(raw, s.scanTaskHistory(cfg)...)
	raw = append(raw, s.scanCorrections(cfg)...)
	raw = append(raw, s.scanPerformance(ctx, cfg)...)

	merged := mergePatterns(raw)

	filtered := merged[:0]
	for _, p := range merged {
		if p.Frequency >= cfg.MinFrequency && p.Confidence >= cfg.MinConfidence {
			filtered = append(filtered, p)
		}
	}

	sort.SliceStable(filtered, func(i, j int) bool {
		return filtered[i].Frequency > filtered[j].Frequency
	})
	return filtered, nil
}

// taskRecord is the on-disk shape of a completed task document. Context
// falls back to objective; action falls back to approach, then type.
type taskRecord struct {
	AgentID     string    `json:"agentId"`
	Context     string    `json:"context"`
	Objective   string    `json:"objective"`
	Action      string    `json:"action"`
	Approach    string    `json:"approach"`
	Type        string    `json:"type"`
	Success     *bool     `json:"success"`
	CompletedAt time.Time `json:"completedAt"`
}

func (s *Scanner) scanTaskHistory(cfg Config) []types.Pattern {
	cutoff := time.Now().AddDate(0, 0, -cfg.MaxAgeDays)

	var patterns []types.Pattern
	for _, data := range readJSONDir(cfg.TaskHistoryDir) {
		var rec taskRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			continue // malformed records are skipped, the scan continues
		}
		if rec.Success == nil {
			continue
		}
		if !rec.CompletedAt.IsZero() && rec.CompletedAt.Before(cutoff) {
			continue
		}

		context := firstNonEmpty(rec.Context, rec.Objective)
		action := firstNonEmpty(rec.Action, rec.Approach, rec.Type)
		if context == "" || action == "" {
			continue
		}

		outcome := types.OutcomeSuccess
		confidence := taskSuccessConfidence
		if !*rec.Success {
			outcome = types.OutcomeFailure
			confidence = taskFailureConfidence
		}
		lastSeen := rec.CompletedAt
		if lastSeen.IsZero() {
			lastSeen = time.Now()
		}
		patterns = append(patterns, types.Pattern{
			Source:     types.SourceTaskCompletion,
			Context:    context,
			Action:     action,
			Outcome:    outcome,
			Confidence: confidence,
			Frequency:  1,
			LastSeen:   lastSeen,
			AgentID:    rec.AgentID,
		})
	}
	return patterns
}

// correctionRecord is the on-disk shape of a user-correction document.
type correctionRecord struct {
	AgentID         string    `json:"agentId"`
	Context         string    `json:"context"`
	OriginalAction  string    `json:"originalAction"`
	CorrectedAction string    `json:"correctedAction"`
	Timestamp       time.Time `json:"timestamp"`
}

// scanCorrections yields two patterns per correction: the original action as
// a failure and the corrected action as a success.
func (s *Scanner) scanCorrections(cfg Config) []types.Pattern {
	var patterns []types.Pattern
	for _, data := range readJSONDir(cfg.CorrectionsDir) {
		var rec correctionRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			continue
		}
		if rec.OriginalAction == "" || rec.CorrectedAction == "" {
			continue
		}

		lastSeen := rec.Timestamp
		if lastSeen.IsZero() {
			lastSeen = time.Now()
		}
		patterns = append(patterns,
			types.Pattern{
				Source:     types.SourceUserCorrection,
				Context:    rec.Context,
				Action:     rec.OriginalAction,
				Outcome:    types.OutcomeFailure,
				Confidence: correctionFailureConfidence,
				Frequency:  1,
				LastSeen:   lastSeen,
				AgentID:    rec.AgentID,
			},
			types.Pattern{
				Source:     types.SourceUserCorrection,
				Context:    rec.Context,
				Action:     rec.CorrectedAction,
				Outcome:    types.OutcomeSuccess,
				Confidence: correctionSuccessConfidence,
				Frequency:  1,
				LastSeen:   lastSeen,
				AgentID:    rec.AgentID,
			})
	}
	return patterns
}

// scanPerformance derives patterns from stored metrics. A store failure
// degrades this source to empty rather than aborting the scan.
func (s *Scanner) scanPerformance(ctx context.Context, cfg Config) []types.Pattern {
	if s.metrics == nil {
		return nil
	}
	metrics, err := s.metrics.GetRecentMetrics(ctx, cfg.MaxAgeDays)
	if err != nil {
		fmt.Fprintf(os.Stderr, "forged: performance scan degraded: %v\n", err)
		return nil
	}

	var patterns []types.Pattern
	for _, m := range metrics {
		p := types.Pattern{
			Source:    types.SourcePerformance,
			Context:   fmt.Sprintf("agent %s daily performance", m.AgentID),
			Action:    "task execution",
			Frequency: max(m.TasksCompleted, 1),
			LastSeen:  time.Now(),
			AgentID:   m.AgentID,
		}
		switch {
		case m.SuccessRate >= perfSuccessFloor:
			p.Outcome = types.OutcomeSuccess
			p.Confidence = m.SuccessRate
		case m.SuccessRate <= perfFailureCeil:
			p.Outcome = types.OutcomeFailure
			p.Confidence = 1 - m.SuccessRate
		default:
			continue
		}
		patterns = append(patterns, p)
	}
	return patterns
}

// mergePatterns groups observations by identity and folds duplicates using
// the store's merge rule, preserving first-seen order.
func mergePatterns(patterns []types.Pattern) []types.Pattern {
	index := make(map[string]int)
	var merged []types.Pattern
	for _, p := range patterns {
		key := p.Key()
		if i, ok := index[key]; ok {
			merged[i].Merge(&p)
			continue
		}
		index[key] = len(merged)
		merged = append(merged, p)
	}
	return merged
}

// readJSONDir returns the contents of every .json file in dir. A missing
// directory means zero records found.
func readJSONDir(dir string) [][]byte {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}

	var docs [][]byte
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			continue
		}
		docs = append(docs, data)
	}
	return docs
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

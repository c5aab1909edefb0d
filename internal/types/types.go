package types

import (
	"fmt"
	"time"
)

// PatternSource identifies where a behavioral pattern was learned from.
type PatternSource string

const (
	// SourceTaskCompletion patterns come from completed task records
	SourceTaskCompletion PatternSource = "task_completion"
	// SourceUserCorrection patterns come from explicit user corrections
	SourceUserCorrection PatternSource = "user_correction"
	// SourcePerformance patterns are derived from aggregated agent metrics
	SourcePerformance PatternSource = "performance"
)

// IsValid checks if the pattern source value is valid
func (s PatternSource) IsValid() bool {
	switch s {
	case SourceTaskCompletion, SourceUserCorrection, SourcePerformance:
		return true
	}
	return false
}

// Outcome classifies a pattern observation as a success or a failure.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// IsValid checks if the outcome value is valid
func (o Outcome) IsValid() bool {
	return o == OutcomeSuccess || o == OutcomeFailure
}

// Pattern is a learned behavioral observation: in a given context, an action
// led to an outcome with some confidence. Patterns with identical
// (source, context, action, outcome, agentID) are merged, never duplicated.
type Pattern struct {
	Source     PatternSource `json:"source"`
	Context    string        `json:"context"`
	Action     string        `json:"action"`
	Outcome    Outcome       `json:"outcome"`
	Confidence float64       `json:"confidence"`
	Frequency  int           `json:"frequency"`
	LastSeen   time.Time     `json:"last_seen"`
	AgentID    string        `json:"agent_id,omitempty"`
}

// Key returns the identity used for merge deduplication.
func (p *Pattern) Key() string {
	return fmt.Sprintf("%s|%s|%s|%s|%s", p.Source, p.Context, p.Action, p.Outcome, p.AgentID)
}

// Merge folds another observation of the same pattern into this one.
// Frequency sums, confidence is the arithmetic mean of the two confidences
// (frequency-naive), and lastSeen takes the most recent timestamp.
func (p *Pattern) Merge(other *Pattern) {
	p.Frequency += other.Frequency
	p.Confidence = (p.Confidence + other.Confidence) / 2
	if other.LastSeen.After(p.LastSeen) {
		p.LastSeen = other.LastSeen
	}
}

// Validate checks if the pattern has valid field values
func (p *Pattern) Validate() error {
	if !p.Source.IsValid() {
		return fmt.Errorf("invalid pattern source: %s", p.Source)
	}
	if !p.Outcome.IsValid() {
		return fmt.Errorf("invalid outcome: %s", p.Outcome)
	}
	if p.Confidence < 0 || p.Confidence > 1 {
		return fmt.Errorf("confidence must be between 0 and 1 (got %g)", p.Confidence)
	}
	if p.Frequency < 1 {
		return fmt.Errorf("frequency must be at least 1 (got %d)", p.Frequency)
	}
	return nil
}

// AgentMetric is one day of aggregated performance for a single agent.
// At most one record exists per (agentID, date); a second write for the same
// key overwrites rather than appends.
type AgentMetric struct {
	AgentID        string  `json:"agent_id"`
	Date           string  `json:"date"` // calendar date, YYYY-MM-DD
	TasksCompleted int     `json:"tasks_completed"`
	SuccessRate    float64 `json:"success_rate"`
	AvgDurationMs  float64 `json:"avg_duration_ms"`
	OverrideRate   float64 `json:"override_rate"`
}

// MetricDate formats a timestamp as the calendar-date key used for metrics.
func MetricDate(t time.Time) string {
	return t.Format("2006-01-02")
}

// UpdateStatus tracks the lifecycle of a proposed skill-file modification.
// Transitions are one-way: pending -> {applied | rejected}; applied ->
// rolled_back. Re-proposing after rejection creates a new record.
type UpdateStatus string

const (
	UpdatePending    UpdateStatus = "pending"
	UpdateApplied    UpdateStatus = "applied"
	UpdateRejected   UpdateStatus = "rejected"
	UpdateRolledBack UpdateStatus = "rolled_back"
)

// ChangeType describes how an update's content is applied to the target file.
type ChangeType string

const (
	ChangeAppend ChangeType = "append"
	ChangeAdd    ChangeType = "add"
	ChangeModify ChangeType = "modify"
	ChangeRemove ChangeType = "remove"
)

// IsValid checks if the change type value is valid
func (c ChangeType) IsValid() bool {
	switch c {
	case ChangeAppend, ChangeAdd, ChangeModify, ChangeRemove:
		return true
	}
	return false
}

// SkillUpdate is a proposed or applied modification to an agent definition
// file. Updates below the apply threshold stay pending for human review.
type SkillUpdate struct {
	ID         string       `json:"id"`
	SkillFile  string       `json:"skill_file"`
	ChangeType ChangeType   `json:"change_type"`
	Content    string       `json:"content"`
	Reason     string       `json:"reason"`
	Confidence float64      `json:"confidence"`
	Status     UpdateStatus `json:"status"`
	CreatedAt  time.Time    `json:"created_at"`
	AppliedAt  *time.Time   `json:"applied_at,omitempty"`
}

// SuggestionStatus tracks the lifecycle of a non-mutating recommendation.
type SuggestionStatus string

const (
	SuggestionPending   SuggestionStatus = "pending"
	SuggestionApplied   SuggestionStatus = "applied"
	SuggestionDismissed SuggestionStatus = "dismissed"
)

// Suggestion is a lightweight recommendation for a specific agent. Unlike a
// SkillUpdate it never mutates files; an external reviewer resolves it.
type Suggestion struct {
	ID         string           `json:"id"`
	AgentID    string           `json:"agent_id"`
	Suggestion string           `json:"suggestion"`
	Confidence float64          `json:"confidence"`
	Status     SuggestionStatus `json:"status"`
	CreatedAt  time.Time        `json:"created_at"`
}

// HealthStatus is the severity of a health check result.
type HealthStatus string

const (
	StatusHealthy  HealthStatus = "healthy"
	StatusDegraded HealthStatus = "degraded"
	StatusCritical HealthStatus = "critical"
)

// HealthEvent is an append-only log entry mirroring a health check result.
// The store retains only the most recent 1000 events (FIFO by insertion).
type HealthEvent struct {
	Category  string             `json:"category"`
	Status    HealthStatus       `json:"status"`
	Message   string             `json:"message"`
	Metrics   map[string]float64 `json:"metrics,omitempty"`
	Timestamp time.Time          `json:"timestamp"`
}

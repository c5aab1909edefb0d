package health

import (
	"context"
	"time"

	"github.com/forgekit/forged/internal/types"
)

// Check categories. Every call to Monitor.Check produces exactly one result
// per category, even when the underlying probe fails.
const (
	CategoryDiskSpace       = "disk_space"
	CategoryForgeDirSize    = "forge_dir_size"
	CategoryStaleSessions   = "stale_sessions"
	CategoryDatabase        = "database"
	CategoryMemory          = "memory"
	CategoryConfigIntegrity = "config_integrity"
)

// ActionType distinguishes remediation kinds attached to a result.
type ActionType string

const (
	// ActionAutoFix carries an executable remediation closure
	ActionAutoFix ActionType = "auto_fix"
	// ActionAlert is informational; no remediation
	ActionAlert ActionType = "alert"
	// ActionEscalate flags the result for human attention
	ActionEscalate ActionType = "escalate"
)

// Action is a remediation or notification attached to a check result. The
// monitor itself never invokes Fix; that is the daemon's call to make.
type Action struct {
	Type        ActionType
	Description string
	Fix         func(ctx context.Context) error // non-nil only for auto_fix
}

// Result is the outcome of a single health check.
type Result struct {
	Category string
	Status   types.HealthStatus
	Message  string
	Metrics  map[string]float64
	Actions  []Action
}

// Event converts a result into its storable health event form.
func (r *Result) Event() types.HealthEvent {
	return types.HealthEvent{
		Category:  r.Category,
		Status:    r.Status,
		Message:   r.Message,
		Metrics:   r.Metrics,
		Timestamp: time.Now(),
	}
}

// degraded builds a degraded result carrying a probe failure reason.
func degraded(category string, err error) Result {
	return Result{
		Category: category,
		Status:   types.StatusDegraded,
		Message:  "check failed: " + err.Error(),
	}
}

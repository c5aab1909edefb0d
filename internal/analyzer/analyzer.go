// Package analyzer turns per-day agent metric records into interpretable
// health signals: per-agent aggregates, trends, recommendations, and
// cross-agent summaries.
package analyzer

import (
	"context"
	"fmt"
	"sort"

	"github.com/forgekit/forged/internal/store"
	"github.com/forgekit/forged/internal/types"
)

// Trend directions.
const (
	TrendUp   = "up"
	TrendDown = "down"
	TrendFlat = "flat"
)

// trendThresholdPct is the success-rate swing (in percentage points) between
// the first and second half of the window needed to call a trend.
const trendThresholdPct = 5.0

// Store is the slice of the learning store the analyzer reads.
type Store interface {
	GetRecentMetrics(ctx context.Context, days int) ([]types.AgentMetric, error)
	GetAgentMetrics(ctx context.Context, agentID string, days int) ([]types.AgentMetric, error)
	GetPatterns(ctx context.Context, filter *store.PatternFilter) ([]types.Pattern, error)
}

// Trend describes the direction of an agent's success rate over the window.
type Trend struct {
	Direction     string  `json:"direction"` // up, down, or flat
	Improving     bool    `json:"improving"`
	Degrading     bool    `json:"degrading"`
	Stable        bool    `json:"stable"`
	ChangePercent float64 `json:"change_percent"`
}

// AgentPerformance is the aggregated signal for one agent.
type AgentPerformance struct {
	AgentID          string   `json:"agent_id"`
	TasksCompleted   int      `json:"tasks_completed"`
	SuccessRate      float64  `json:"success_rate"`
	AvgDurationMs    float64  `json:"avg_duration_ms"`
	UserOverrideRate float64  `json:"user_override_rate"`
	Trend            Trend    `json:"trend"`
	Recommendations  []string `json:"recommendations,omitempty"`
	CommonFailures   []string `json:"common_failures,omitempty"`
}

// Summary is the cross-agent roll-up.
type Summary struct {
	TotalAgents    int      `json:"total_agents"`
	AvgSuccessRate float64  `json:"avg_success_rate"`
	TopPerformers  []string `json:"top_performers"`
	NeedsAttention []string `json:"needs_attention"`
}

// Comparison is the result of a head-to-head agent comparison.
type Comparison struct {
	AgentA         AgentPerformance `json:"agent_a"`
	AgentB         AgentPerformance `json:"agent_b"`
	Recommendation string           `json:"recommendation"`
}

// Analyzer computes performance aggregates from the learning store.
type Analyzer struct {
	store      Store
	windowDays int
}

// New creates an analyzer with the default 30-day window.
func New(s Store) *Analyzer {
	return &Analyzer{store: s, windowDays: 30}
}

// Analyze aggregates recent metrics for every agent, returning results
// sorted ascending by success rate: worst performers first, since surfacing
// problems is the priority.
func (a *Analyzer) Analyze(ctx context.Context) ([]AgentPerformance, error) {
	metrics, err := a.store.GetRecentMetrics(ctx, a.windowDays)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch recent metrics: %w", err)
	}

	byAgent := make(map[string][]types.AgentMetric)
	for _, m := range metrics {
		byAgent[m.AgentID] = append(byAgent[m.AgentID], m)
	}

	results := make([]AgentPerformance, 0, len(byAgent))
	for agentID, agentMetrics := range byAgent {
		results = append(results, a.aggregate(ctx, agentID, agentMetrics))
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].SuccessRate < results[j].SuccessRate
	})
	return results, nil
}

// AnalyzeAgent aggregates one agent's metrics over the window. days <= 0
// uses the default window.
func (a *Analyzer) AnalyzeAgent(ctx context.Context, agentID string, days int) (*AgentPerformance, error) {
	if days <= 0 {
		days = a.windowDays
	}
	metrics, err := a.store.GetAgentMetrics(ctx, agentID, days)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch metrics for %s: %w", agentID, err)
	}
	perf := a.aggregate(ctx, agentID, metrics)
	return &perf, nil
}

// aggregate computes the per-agent roll-up. Metrics are assumed sorted
// ascending by date, which is how the store returns them.
func (a *Analyzer) aggregate(ctx context.Context, agentID string, metrics []types.AgentMetric) AgentPerformance {
	perf := AgentPerformance{AgentID: agentID}

	var weightedSuccess, durationSum, overrideSum float64
	for _, m := range metrics {
		perf.TasksCompleted += m.TasksCompleted
		weightedSuccess += m.SuccessRate * float64(m.TasksCompleted)
		durationSum += m.AvgDurationMs
		overrideSum += m.OverrideRate
	}

	if perf.TasksCompleted > 0 {
		perf.SuccessRate = weightedSuccess / float64(perf.TasksCompleted)
	} else {
		// Absence of evidence is not evidence of failure: an idle agent
		// must not be flagged as a poor performer.
		perf.SuccessRate = 1
	}
	if len(metrics) > 0 {
		perf.AvgDurationMs = durationSum / float64(len(metrics))
		perf.UserOverrideRate = overrideSum / float64(len(metrics))
	}

	perf.Trend = computeTrend(metrics)
	if perf.TasksCompleted == 0 {
		perf.Trend = Trend{Direction: TrendFlat, Stable: true}
	}

	perf.CommonFailures = a.commonFailures(ctx, agentID)
	perf.Recommendations = recommend(perf)
	return perf
}

// computeTrend splits the date-sorted metrics in half by count and compares
// mean success rates. A single data point is always stable.
func computeTrend(metrics []types.AgentMetric) Trend {
	if len(metrics) < 2 {
		return Trend{Direction: TrendFlat, Stable: true}
	}

	mid := len(metrics) / 2
	first := meanSuccessRate(metrics[:mid])
	second := meanSuccessRate(metrics[mid:])
	change := (second - first) * 100

	trend := Trend{ChangePercent: change}
	switch {
	case change > trendThresholdPct:
		trend.Direction = TrendUp
		trend.Improving = true
	case change < -trendThresholdPct:
		trend.Direction = TrendDown
		trend.Degrading = true
	default:
		trend.Direction = TrendFlat
		trend.Stable = true
	}
	return trend
}

func meanSuccessRate(metrics []types.AgentMetric) float64 {
	if len(metrics) == 0 {
		return 0
	}
	var sum float64
	for _, m := range metrics {
		sum += m.SuccessRate
	}
	return sum / float64(len(metrics))
}

// recommend derives actionable recommendations. The negative conditions fire
// independently; only an agent with none of them and an improving trend earns
// the positive note. Unremarkable performance yields nothing.
func recommend(perf AgentPerformance) []string {
	var recs []string
	if perf.SuccessRate < 0.7 {
		recs = append(recs, fmt.Sprintf(
			"success rate %.0f%% is below 70%%: review failure patterns for %s",
			perf.SuccessRate*100, perf.AgentID))
	}
	if perf.Trend.Degrading {
		recs = append(recs, fmt.Sprintf(
			"performance is degrading (%.1f%%): investigate recent changes to %s",
			perf.Trend.ChangePercent, perf.AgentID))
	}
	if perf.UserOverrideRate > 0.2 {
		recs = append(recs, fmt.Sprintf(
			"user override rate %.0f%% is high: learn from corrections for %s",
			perf.UserOverrideRate*100, perf.AgentID))
	}
	if perf.TasksCompleted < 5 {
		recs = append(recs, fmt.Sprintf(
			"only %d tasks completed: insufficient data for a reliable signal",
			perf.TasksCompleted))
	}
	if perf.AvgDurationMs > 60_000 {
		recs = append(recs, fmt.Sprintf(
			"average duration %.0fms exceeds one minute: consider optimizing %s",
			perf.AvgDurationMs, perf.AgentID))
	}
	if len(recs) == 0 && perf.Trend.Improving {
		recs = append(recs, fmt.Sprintf(
			"%s is performing well and improving: reinforce current behavior", perf.AgentID))
	}
	return recs
}

// commonFailures returns the top failure-pattern contexts recorded for an
// agent, most frequent first, capped at three. A store failure yields none.
func (a *Analyzer) commonFailures(ctx context.Context, agentID string) []string {
	patterns, err := a.store.GetPatterns(ctx, &store.PatternFilter{
		Outcome: types.OutcomeFailure,
		AgentID: agentID,
	})
	if err != nil || len(patterns) == 0 {
		return nil
	}

	// Store results are already ordered by frequency descending.
	var failures []string
	for _, p := range patterns {
		failures = append(failures, p.Context)
		if len(failures) == 3 {
			break
		}
	}
	return failures
}

// CompareAgents fetches both agents' windows independently and names the
// stronger agent on success rate and on speed.
func (a *Analyzer) CompareAgents(ctx context.Context, agentA, agentB string) (*Comparison, error) {
	perfA, err := a.AnalyzeAgent(ctx, agentA, 0)
	if err != nil {
		return nil, err
	}
	perfB, err := a.AnalyzeAgent(ctx, agentB, 0)
	if err != nil {
		return nil, err
	}

	cmp := &Comparison{AgentA: *perfA, AgentB: *perfB}

	higherSuccess, lowerSuccess := agentA, agentB
	if perfB.SuccessRate > perfA.SuccessRate {
		higherSuccess, lowerSuccess = agentB, agentA
	}
	faster := agentA
	if perfB.AvgDurationMs < perfA.AvgDurationMs {
		faster = agentB
	}

	if higherSuccess == faster {
		cmp.Recommendation = fmt.Sprintf(
			"%s outperforms %s on both success rate and speed", higherSuccess, lowerSuccess)
	} else {
		cmp.Recommendation = fmt.Sprintf(
			"%s has the higher success rate, while %s completes tasks faster", higherSuccess, faster)
	}
	return cmp, nil
}

// GetSummary rolls all agents up into one view. Top performers hold a success
// rate of at least 0.85 (capped at five, highest first); agents need
// attention when their success rate is below 0.7 or their trend is degrading.
func (a *Analyzer) GetSummary(ctx context.Context) (*Summary, error) {
	results, err := a.Analyze(ctx)
	if err != nil {
		return nil, err
	}

	summary := &Summary{TotalAgents: len(results)}
	if len(results) == 0 {
		return summary, nil
	}

	var sum float64
	byRate := make([]AgentPerformance, len(results))
	copy(byRate, results)
	sort.SliceStable(byRate, func(i, j int) bool {
		return byRate[i].SuccessRate > byRate[j].SuccessRate
	})

	for _, perf := range byRate {
		sum += perf.SuccessRate
		if perf.SuccessRate >= 0.85 && len(summary.TopPerformers) < 5 {
			summary.TopPerformers = append(summary.TopPerformers, perf.AgentID)
		}
		if perf.SuccessRate < 0.7 || perf.Trend.Degrading {
			summary.NeedsAttention = append(summary.NeedsAttention, perf.AgentID)
		}
	}
	summary.AvgSuccessRate = sum / float64(len(results))
	return summary, nil
}

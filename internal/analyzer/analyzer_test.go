package analyzer

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgekit/forged/internal/store"
	"github.com/forgekit/forged/internal/types"
)

// fakeStore serves canned metrics and failure patterns.
type fakeStore struct {
	metrics  map[string][]types.AgentMetric
	patterns []types.Pattern
	err      error
}

func (f *fakeStore) GetRecentMetrics(ctx context.Context, days int) ([]types.AgentMetric, error) {
	if f.err != nil {
		return nil, f.err
	}
	var all []types.AgentMetric
	for _, ms := range f.metrics {
		all = append(all, ms...)
	}
	return all, nil
}

func (f *fakeStore) GetAgentMetrics(ctx context.Context, agentID string, days int) ([]types.AgentMetric, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.metrics[agentID], nil
}

func (f *fakeStore) GetPatterns(ctx context.Context, filter *store.PatternFilter) ([]types.Pattern, error) {
	var matched []types.Pattern
	for _, p := range f.patterns {
		if filter != nil && filter.AgentID != "" && p.AgentID != filter.AgentID {
			continue
		}
		if filter != nil && filter.Outcome != "" && p.Outcome != filter.Outcome {
			continue
		}
		matched = append(matched, p)
	}
	return matched, nil
}

// ratesToMetrics builds one metric per day, dates ascending, from rates.
func ratesToMetrics(agentID string, tasksPerDay int, rates ...float64) []types.AgentMetric {
	metrics := make([]types.AgentMetric, len(rates))
	start := time.Now().AddDate(0, 0, -len(rates))
	for i, rate := range rates {
		metrics[i] = types.AgentMetric{
			AgentID:        agentID,
			Date:           types.MetricDate(start.AddDate(0, 0, i)),
			TasksCompleted: tasksPerDay,
			SuccessRate:    rate,
		}
	}
	return metrics
}

func TestAnalyzeAgent_TrendImproving(t *testing.T) {
	fs := &fakeStore{metrics: map[string][]types.AgentMetric{
		"builder": ratesToMetrics("builder", 3, 0.5, 0.6, 0.9, 0.95),
	}}
	perf, err := New(fs).AnalyzeAgent(context.Background(), "builder", 0)
	require.NoError(t, err)

	assert.True(t, perf.Trend.Improving)
	assert.Equal(t, TrendUp, perf.Trend.Direction)
	assert.Greater(t, perf.Trend.ChangePercent, 5.0)
}

func TestAnalyzeAgent_TrendStable(t *testing.T) {
	fs := &fakeStore{metrics: map[string][]types.AgentMetric{
		"builder": ratesToMetrics("builder", 3, 0.85, 0.86, 0.84, 0.85),
	}}
	perf, err := New(fs).AnalyzeAgent(context.Background(), "builder", 0)
	require.NoError(t, err)

	assert.True(t, perf.Trend.Stable)
	assert.Equal(t, TrendFlat, perf.Trend.Direction)
}

func TestAnalyzeAgent_SinglePointIsStable(t *testing.T) {
	fs := &fakeStore{metrics: map[string][]types.AgentMetric{
		"builder": ratesToMetrics("builder", 10, 0.4),
	}}
	perf, err := New(fs).AnalyzeAgent(context.Background(), "builder", 0)
	require.NoError(t, err)

	assert.True(t, perf.Trend.Stable)
	assert.Equal(t, TrendFlat, perf.Trend.Direction)
	assert.Equal(t, 0.0, perf.Trend.ChangePercent)
}

func TestAnalyzeAgent_ZeroTasksReportsPerfectAndStable(t *testing.T) {
	fs := &fakeStore{metrics: map[string][]types.AgentMetric{}}
	perf, err := New(fs).AnalyzeAgent(context.Background(), "idle", 0)
	require.NoError(t, err)

	assert.Equal(t, 1.0, perf.SuccessRate)
	assert.True(t, perf.Trend.Stable)
	assert.Equal(t, 0, perf.TasksCompleted)
}

func TestAnalyzeAgent_TaskWeightedSuccessRate(t *testing.T) {
	fs := &fakeStore{metrics: map[string][]types.AgentMetric{
		"builder": {
			{AgentID: "builder", Date: "2026-08-01", TasksCompleted: 9, SuccessRate: 1.0},
			{AgentID: "builder", Date: "2026-08-02", TasksCompleted: 1, SuccessRate: 0.0},
		},
	}}
	perf, err := New(fs).AnalyzeAgent(context.Background(), "builder", 0)
	require.NoError(t, err)

	// 9 successes out of 10 tasks, not the unweighted 0.5.
	assert.InDelta(t, 0.9, perf.SuccessRate, 0.000001)
}

func TestRecommendations(t *testing.T) {
	tests := []struct {
		name     string
		perf     AgentPerformance
		contains string
		empty    bool
	}{
		{
			name:     "low success rate",
			perf:     AgentPerformance{AgentID: "a", SuccessRate: 0.5, TasksCompleted: 10, Trend: Trend{Stable: true}},
			contains: "failure patterns",
		},
		{
			name:     "degrading trend",
			perf:     AgentPerformance{AgentID: "a", SuccessRate: 0.8, TasksCompleted: 10, Trend: Trend{Degrading: true, ChangePercent: -12}},
			contains: "investigate recent changes",
		},
		{
			name:     "high override rate",
			perf:     AgentPerformance{AgentID: "a", SuccessRate: 0.8, TasksCompleted: 10, UserOverrideRate: 0.3, Trend: Trend{Stable: true}},
			contains: "learn from corrections",
		},
		{
			name:     "insufficient data",
			perf:     AgentPerformance{AgentID: "a", SuccessRate: 0.9, TasksCompleted: 2, Trend: Trend{Stable: true}},
			contains: "insufficient data",
		},
		{
			name:     "slow tasks",
			perf:     AgentPerformance{AgentID: "a", SuccessRate: 0.9, TasksCompleted: 10, AvgDurationMs: 90_000, Trend: Trend{Stable: true}},
			contains: "optimizing",
		},
		{
			name:     "healthy and improving earns reinforcement",
			perf:     AgentPerformance{AgentID: "a", SuccessRate: 0.95, TasksCompleted: 20, Trend: Trend{Improving: true, ChangePercent: 8}},
			contains: "performing well",
		},
		{
			name:  "unremarkable performance yields nothing",
			perf:  AgentPerformance{AgentID: "a", SuccessRate: 0.8, TasksCompleted: 10, Trend: Trend{Stable: true}},
			empty: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recs := recommend(tt.perf)
			if tt.empty {
				assert.Empty(t, recs)
				return
			}
			require.NotEmpty(t, recs)
			found := false
			for _, r := range recs {
				if strings.Contains(r, tt.contains) {
					found = true
				}
			}
			assert.True(t, found, "no recommendation contained %q in %v", tt.contains, recs)
		})
	}
}

func TestAnalyze_SortedWorstFirst(t *testing.T) {
	fs := &fakeStore{metrics: map[string][]types.AgentMetric{
		"strong": ratesToMetrics("strong", 5, 0.9, 0.92),
		"weak":   ratesToMetrics("weak", 5, 0.4, 0.45),
	}}
	results, err := New(fs).Analyze(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "weak", results[0].AgentID)
	assert.Equal(t, "strong", results[1].AgentID)
}

func TestGetSummary(t *testing.T) {
	fs := &fakeStore{metrics: map[string][]types.AgentMetric{
		"star":     ratesToMetrics("star", 10, 0.95, 0.95),
		"solid":    ratesToMetrics("solid", 10, 0.88, 0.9),
		"failing":  ratesToMetrics("failing", 10, 0.5, 0.55),
		"sliding":  ratesToMetrics("sliding", 10, 0.95, 0.95, 0.75, 0.72), // degrading but above 0.7
		"ordinary": ratesToMetrics("ordinary", 10, 0.8, 0.8),
	}}
	summary, err := New(fs).GetSummary(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 5, summary.TotalAgents)
	assert.Equal(t, []string{"star", "solid"}, summary.TopPerformers)
	// Inclusion is OR: low success rate or degrading trend alone qualifies.
	assert.ElementsMatch(t, []string{"failing", "sliding"}, summary.NeedsAttention)
	assert.Greater(t, summary.AvgSuccessRate, 0.0)
}

func TestCompareAgents(t *testing.T) {
	fs := &fakeStore{metrics: map[string][]types.AgentMetric{
		"accurate": {{AgentID: "accurate", Date: "2026-08-01", TasksCompleted: 10, SuccessRate: 0.95, AvgDurationMs: 50_000}},
		"fast":     {{AgentID: "fast", Date: "2026-08-01", TasksCompleted: 10, SuccessRate: 0.7, AvgDurationMs: 5_000}},
	}}
	a := New(fs)

	cmp, err := a.CompareAgents(context.Background(), "accurate", "fast")
	require.NoError(t, err)
	assert.Contains(t, cmp.Recommendation, "accurate has the higher success rate")
	assert.Contains(t, cmp.Recommendation, "fast completes tasks faster")

	// One agent dominating both axes is called out as such.
	fs.metrics["fast"] = []types.AgentMetric{
		{AgentID: "fast", Date: "2026-08-01", TasksCompleted: 10, SuccessRate: 0.5, AvgDurationMs: 90_000},
	}
	cmp, err = a.CompareAgents(context.Background(), "accurate", "fast")
	require.NoError(t, err)
	assert.Contains(t, cmp.Recommendation, "outperforms")
}

func TestCommonFailures_TopThree(t *testing.T) {
	fs := &fakeStore{
		metrics: map[string][]types.AgentMetric{
			"builder": ratesToMetrics("builder", 10, 0.5, 0.5),
		},
		patterns: []types.Pattern{
			{AgentID: "builder", Context: "flaky tests", Outcome: types.OutcomeFailure, Frequency: 9},
			{AgentID: "builder", Context: "merge conflicts", Outcome: types.OutcomeFailure, Frequency: 7},
			{AgentID: "builder", Context: "timeout", Outcome: types.OutcomeFailure, Frequency: 3},
			{AgentID: "builder", Context: "rare glitch", Outcome: types.OutcomeFailure, Frequency: 1},
			{AgentID: "builder", Context: "good run", Outcome: types.OutcomeSuccess, Frequency: 20},
		},
	}
	perf, err := New(fs).AnalyzeAgent(context.Background(), "builder", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"flaky tests", "merge conflicts", "timeout"}, perf.CommonFailures)
}

func TestAnalyze_StoreErrorPropagates(t *testing.T) {
	fs := &fakeStore{err: fmt.Errorf("store offline")}
	_, err := New(fs).Analyze(context.Background())
	assert.Error(t, err)
}

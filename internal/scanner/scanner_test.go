package scanner

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgekit/forged/internal/types"
)

type fakeMetrics struct {
	metrics []types.AgentMetric
	err     error
}

func (f *fakeMetrics) GetRecentMetrics(ctx context.Context, days int) ([]types.AgentMetric, error) {
	return f.metrics, f.err
}

func writeDoc(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
}

func newTestScanner(t *testing.T, metrics MetricSource) (*Scanner, *Config) {
	t.Helper()
	cfg := DefaultConfig(filepath.Join(t.TempDir(), ".forge"))
	return New(cfg, metrics), cfg
}

func TestScan_TaskCompletionSuccess(t *testing.T) {
	s, cfg := newTestScanner(t, &fakeMetrics{})
	writeDoc(t, cfg.TaskHistoryDir, "task-1.json", fmt.Sprintf(
		`{"context": "x", "approach": "y", "success": true, "completedAt": %q}`,
		time.Now().Format(time.RFC3339)))

	patterns, err := s.Scan(context.Background())
	require.NoError(t, err)
	require.Len(t, patterns, 1)
	assert.Equal(t, types.SourceTaskCompletion, patterns[0].Source)
	assert.Equal(t, "x", patterns[0].Context)
	assert.Equal(t, "y", patterns[0].Action)
	assert.Equal(t, types.OutcomeSuccess, patterns[0].Outcome)
	assert.GreaterOrEqual(t, patterns[0].Confidence, 0.8)
	assert.GreaterOrEqual(t, patterns[0].Frequency, 1)
}

func TestScan_TaskCompletionFailureBelowBoundary(t *testing.T) {
	s, cfg := newTestScanner(t, &fakeMetrics{})
	s.Configure(ConfigUpdate{MinConfidence: ptr(0.0)})
	writeDoc(t, cfg.TaskHistoryDir, "task-1.json", fmt.Sprintf(
		`{"context": "deploy", "action": "skip tests", "success": false, "completedAt": %q}`,
		time.Now().Format(time.RFC3339)))

	patterns, err := s.Scan(context.Background())
	require.NoError(t, err)
	require.Len(t, patterns, 1)
	assert.Equal(t, types.OutcomeFailure, patterns[0].Outcome)
	assert.Less(t, patterns[0].Confidence, 0.8)
}

func TestScan_SkipsOldAndMalformedRecords(t *testing.T) {
	s, cfg := newTestScanner(t, &fakeMetrics{})
	writeDoc(t, cfg.TaskHistoryDir, "old.json", fmt.Sprintf(
		`{"context": "x", "action": "y", "success": true, "completedAt": %q}`,
		time.Now().AddDate(0, 0, -45).Format(time.RFC3339)))
	writeDoc(t, cfg.TaskHistoryDir, "garbage.json", "this is not json at all")
	writeDoc(t, cfg.TaskHistoryDir, "notes.txt", "ignored extension")

	patterns, err := s.Scan(context.Background())
	require.NoError(t, err)
	assert.Empty(t, patterns)
}

func TestScan_ContextAndActionFallbacks(t *testing.T) {
	s, cfg := newTestScanner(t, &fakeMetrics{})
	writeDoc(t, cfg.TaskHistoryDir, "task-1.json", fmt.Sprintf(
		`{"objective": "migrate schema", "type": "refactor", "success": true, "completedAt": %q}`,
		time.Now().Format(time.RFC3339)))

	patterns, err := s.Scan(context.Background())
	require.NoError(t, err)
	require.Len(t, patterns, 1)
	assert.Equal(t, "migrate schema", patterns[0].Context)
	assert.Equal(t, "refactor", patterns[0].Action)
}

func TestScan_CorrectionYieldsTwoPatterns(t *testing.T) {
	s, cfg := newTestScanner(t, &fakeMetrics{})
	writeDoc(t, cfg.CorrectionsDir, "corr-1.json",
		`{"context": "error handling", "originalAction": "bad", "correctedAction": "good"}`)

	patterns, err := s.Scan(context.Background())
	require.NoError(t, err)
	require.Len(t, patterns, 2)

	byAction := make(map[string]types.Pattern)
	for _, p := range patterns {
		byAction[p.Action] = p
	}
	failure := byAction["bad"]
	assert.Equal(t, types.OutcomeFailure, failure.Outcome)
	assert.Equal(t, 0.9, failure.Confidence)
	success := byAction["good"]
	assert.Equal(t, types.OutcomeSuccess, success.Outcome)
	assert.Equal(t, 0.95, success.Confidence)
}

func TestScan_PerformanceDerivedBoundaries(t *testing.T) {
	metrics := &fakeMetrics{metrics: []types.AgentMetric{
		{AgentID: "strong", SuccessRate: 0.9, TasksCompleted: 12},
		{AgentID: "weak", SuccessRate: 0.5, TasksCompleted: 8},
		{AgentID: "middling", SuccessRate: 0.75, TasksCompleted: 10}, // no signal
	}}
	s, _ := newTestScanner(t, metrics)
	s.Configure(ConfigUpdate{MinConfidence: ptr(0.0)})

	patterns, err := s.Scan(context.Background())
	require.NoError(t, err)
	require.Len(t, patterns, 2)

	byAgent := make(map[string]types.Pattern)
	for _, p := range patterns {
		byAgent[p.AgentID] = p
	}
	strong := byAgent["strong"]
	assert.Equal(t, types.OutcomeSuccess, strong.Outcome)
	assert.Equal(t, 0.9, strong.Confidence)
	assert.Equal(t, 12, strong.Frequency)
	weak := byAgent["weak"]
	assert.Equal(t, types.OutcomeFailure, weak.Outcome)
	assert.InDelta(t, 0.5, weak.Confidence, 0.000001)
	_, found := byAgent["middling"]
	assert.False(t, found)
}

func TestScan_StoreFailureDegradesToEmpty(t *testing.T) {
	s, cfg := newTestScanner(t, &fakeMetrics{err: fmt.Errorf("store offline")})
	writeDoc(t, cfg.TaskHistoryDir, "task-1.json", fmt.Sprintf(
		`{"context": "x", "action": "y", "success": true, "completedAt": %q}`,
		time.Now().Format(time.RFC3339)))

	patterns, err := s.Scan(context.Background())
	require.NoError(t, err)
	require.Len(t, patterns, 1) // the file-based source still contributes
}

func TestScan_MergesDuplicateObservations(t *testing.T) {
	s, cfg := newTestScanner(t, &fakeMetrics{})
	for i := 0; i < 3; i++ {
		writeDoc(t, cfg.TaskHistoryDir, fmt.Sprintf("task-%d.json", i), fmt.Sprintf(
			`{"context": "x", "action": "y", "success": true, "completedAt": %q}`,
			time.Now().Format(time.RFC3339)))
	}

	patterns, err := s.Scan(context.Background())
	require.NoError(t, err)
	require.Len(t, patterns, 1)
	assert.Equal(t, 3, patterns[0].Frequency)
}

func TestScan_FiltersByFrequencyAndSortsDescending(t *testing.T) {
	s, cfg := newTestScanner(t, &fakeMetrics{})
	for i := 0; i < 3; i++ {
		writeDoc(t, cfg.TaskHistoryDir, fmt.Sprintf("frequent-%d.json", i), fmt.Sprintf(
			`{"context": "frequent", "action": "y", "success": true, "completedAt": %q}`,
			time.Now().Format(time.RFC3339)))
	}
	writeDoc(t, cfg.TaskHistoryDir, "rare.json", fmt.Sprintf(
		`{"context": "rare", "action": "y", "success": true, "completedAt": %q}`,
		time.Now().Format(time.RFC3339)))

	s.Configure(ConfigUpdate{MinFrequency: ptr(2)})
	patterns, err := s.Scan(context.Background())
	require.NoError(t, err)
	require.Len(t, patterns, 1)
	assert.Equal(t, "frequent", patterns[0].Context)

	s.Configure(ConfigUpdate{MinFrequency: ptr(1)})
	patterns, err = s.Scan(context.Background())
	require.NoError(t, err)
	require.Len(t, patterns, 2)
	assert.GreaterOrEqual(t, patterns[0].Frequency, patterns[1].Frequency)
}

func TestConfigure_MergesPartialUpdates(t *testing.T) {
	s, cfg := newTestScanner(t, &fakeMetrics{})
	original := s.Config()

	s.Configure(ConfigUpdate{MaxAgeDays: ptr(7)})
	updated := s.Config()
	assert.Equal(t, 7, updated.MaxAgeDays)
	assert.Equal(t, original.MinFrequency, updated.MinFrequency)
	assert.Equal(t, cfg.TaskHistoryDir, updated.TaskHistoryDir)
}

func ptr[T any](v T) *T { return &v }

package health

import (
	"context"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/forgekit/forged/internal/types"
)

// Monitor is a stateless diagnostic engine. Check runs a fixed battery of
// independent probes; a failing probe degrades its own result and never
// prevents the other checks from running.
type Monitor struct {
	cfg *Config
}

// NewMonitor creates a monitor for the given configuration.
func NewMonitor(cfg *Config) *Monitor {
	if cfg == nil {
		cfg = DefaultConfig("")
	}
	return &Monitor{cfg: cfg}
}

// Check runs every health check concurrently and returns one result per
// category, ordered by category name for stable output. It never returns an
// error: a probe failure is reported as a degraded result for that category.
func (m *Monitor) Check(ctx context.Context) []Result {
	checks := []func(context.Context) Result{
		m.checkDiskSpace,
		m.checkForgeDirSize,
		m.checkStaleSessions,
		m.checkDatabase,
		m.checkMemory,
		m.checkConfigIntegrity,
	}

	results := make([]Result, len(checks))
	g, ctx := errgroup.WithContext(ctx)
	for i, check := range checks {
		g.Go(func() error {
			results[i] = check(ctx)
			return nil
		})
	}
	_ = g.Wait() // checks report failures through their results

	sort.Slice(results, func(i, j int) bool {
		return results[i].Category < results[j].Category
	})
	return results
}

// HasCritical reports whether any result in the set is critical.
func HasCritical(results []Result) bool {
	for _, r := range results {
		if r.Status == types.StatusCritical {
			return true
		}
	}
	return false
}

// Package daemon schedules and runs the maintenance tasks: health checks,
// pattern scans, performance analysis, and skill update application.
package daemon

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/forgekit/forged/internal/analyzer"
	"github.com/forgekit/forged/internal/applier"
	"github.com/forgekit/forged/internal/config"
	"github.com/forgekit/forged/internal/events"
	"github.com/forgekit/forged/internal/health"
	"github.com/forgekit/forged/internal/scanner"
	"github.com/forgekit/forged/internal/store"
	"github.com/forgekit/forged/internal/types"
)

// suggestionSuccessThreshold is the success rate below which a performance
// analysis run queues tuning suggestions for an agent.
const suggestionSuccessThreshold = 0.7

// State is the daemon lifecycle state.
type State string

const (
	StateStopped State = "stopped"
	StateRunning State = "running"
)

// TaskStatus is the per-task slice of a status snapshot.
type TaskStatus struct {
	Enabled bool      `json:"enabled"`
	LastRun time.Time `json:"last_run,omitempty"`
	Runs    int       `json:"runs"`
}

// Status is a point-in-time snapshot of the daemon.
type Status struct {
	State     State                          `json:"state"`
	PID       int                            `json:"pid"`
	ForgeDir  string                         `json:"forge_dir"`
	StartedAt time.Time                      `json:"started_at,omitempty"`
	Tasks     map[events.TaskName]TaskStatus `json:"tasks"`
	Config    config.Config                  `json:"config"`
}

// ConfigUpdate is a partial daemon configuration change; nil fields are left
// as-is. Already-scheduled ticks are unaffected; the change applies from the
// next trigger.
type ConfigUpdate struct {
	Tasks          map[events.TaskName]*bool
	Scanner        *scanner.ConfigUpdate
	AutoFixEnabled *bool
}

// Daemon owns the learning store and the periodic task loops. One daemon per
// forge directory; the state file enforces that across processes.
type Daemon struct {
	cfg      *config.Config
	store    *store.Store
	monitor  *health.Monitor
	scanner  *scanner.Scanner
	analyzer *analyzer.Analyzer
	applier  *applier.Applier
	bus      *events.Bus

	// fixLimiter throttles automatic remediation so a flapping check cannot
	// run destructive cleanup in a tight loop.
	fixLimiter *rate.Limiter

	mu            sync.Mutex
	state         State
	startedAt     time.Time
	stateFilePath string
	cancel        context.CancelFunc
	wg            sync.WaitGroup
	enabled       map[events.TaskName]bool
	lastRun       map[events.TaskName]time.Time
	runCounts     map[events.TaskName]int
}

// New assembles a daemon from configuration. Nothing runs until Start.
func New(cfg *config.Config) *Daemon {
	if cfg == nil {
		cfg = &config.Config{ForgeDir: ".forge"}
	}
	forgeDir := cfg.ForgeDir
	if forgeDir == "" {
		forgeDir = ".forge"
	}

	st := store.New(filepath.Join(forgeDir, "learning.db"))

	scanCfg := scanner.DefaultConfig(forgeDir)
	if cfg.Scanner.MinConfidence > 0 {
		scanCfg.MinConfidence = cfg.Scanner.MinConfidence
	}
	if cfg.Scanner.MinFrequency > 0 {
		scanCfg.MinFrequency = cfg.Scanner.MinFrequency
	}
	if cfg.Scanner.MaxAgeDays > 0 {
		scanCfg.MaxAgeDays = cfg.Scanner.MaxAgeDays
	}

	applyCfg := applier.DefaultConfig(forgeDir)
	if cfg.Applier.ConfidenceThreshold > 0 {
		applyCfg.ConfidenceThreshold = cfg.Applier.ConfidenceThreshold
	}

	maxFixes := cfg.AutoFix.MaxPerHour
	if maxFixes <= 0 {
		maxFixes = 6
	}

	enabled := make(map[events.TaskName]bool, len(events.AllTasks))
	for _, task := range events.AllTasks {
		enabled[task] = true
	}

	return &Daemon{
		cfg:        cfg,
		store:      st,
		monitor:    health.NewMonitor(health.DefaultConfig(forgeDir)),
		scanner:    scanner.New(scanCfg, st),
		analyzer:   analyzer.New(st),
		applier:    applier.New(applyCfg, st),
		bus:        events.NewBus(),
		fixLimiter: rate.NewLimiter(rate.Every(time.Hour/time.Duration(maxFixes)), maxFixes),
		state:      StateStopped,
		enabled:    enabled,
		lastRun:    make(map[events.TaskName]time.Time),
		runCounts:  make(map[events.TaskName]int),
	}
}

// Events exposes the daemon's event bus for subscribers.
func (d *Daemon) Events() *events.Bus {
	return d.bus
}

// Store exposes the learning store for CLI queries against a live daemon.
func (d *Daemon) Store() *store.Store {
	return d.store
}

// Start initializes the store, claims the forge directory, and launches the
// periodic task loops. Starting a running daemon is a no-op.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state == StateRunning {
		fmt.Fprintln(os.Stderr, "forged: daemon already running, start ignored")
		return nil
	}

	if err := d.store.Initialize(ctx); err != nil {
		return fmt.Errorf("failed to initialize learning store: %w", err)
	}

	forgeDir := d.cfg.ForgeDir
	if forgeDir == "" {
		forgeDir = ".forge"
	}
	statePath, err := writeStateFile(forgeDir)
	if err != nil {
		_ = d.store.Close()
		return err
	}
	d.stateFilePath = statePath

	runCtx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel
	d.state = StateRunning
	d.startedAt = time.Now()

	schedule := map[events.TaskName]time.Duration{
		events.TaskHealthCheck:         d.cfg.HealthCheckInterval(),
		events.TaskPatternScan:         d.cfg.PatternScanInterval(),
		events.TaskPerformanceAnalysis: d.cfg.PerformanceAnalysisInterval(),
		events.TaskApplyUpdates:        d.cfg.ApplyUpdatesInterval(),
	}
	for task, interval := range schedule {
		d.wg.Add(1)
		go d.loop(runCtx, task, interval)
	}

	d.bus.Publish(events.Event{
		Type:      events.EventStarted,
		Message:   fmt.Sprintf("daemon started, forge dir %s", forgeDir),
		Timestamp: time.Now(),
	})
	return nil
}

// Stop cancels the task loops, waits for in-flight runs, and releases the
// store and state file. Stopping a stopped daemon is a no-op.
func (d *Daemon) Stop() error {
	d.mu.Lock()
	if d.state != StateRunning {
		d.mu.Unlock()
		return nil
	}
	d.state = StateStopped
	cancel := d.cancel
	statePath := d.stateFilePath
	d.cancel = nil
	d.stateFilePath = ""
	d.mu.Unlock()

	cancel()
	d.wg.Wait()

	err := d.store.Close()
	if rmErr := removeStateFile(statePath); rmErr != nil && err == nil {
		err = rmErr
	}

	d.bus.Publish(events.Event{
		Type:      events.EventStopped,
		Message:   "daemon stopped",
		Timestamp: time.Now(),
	})
	return err
}

// Status reports the lifecycle state, per-task bookkeeping, and the active
// configuration.
func (d *Daemon) Status() Status {
	d.mu.Lock()
	defer d.mu.Unlock()

	status := Status{
		State:    d.state,
		PID:      os.Getpid(),
		ForgeDir: d.cfg.ForgeDir,
		Tasks:    make(map[events.TaskName]TaskStatus, len(events.AllTasks)),
		Config:   *d.cfg,
	}
	if d.state == StateRunning {
		status.StartedAt = d.startedAt
	}
	for _, task := range events.AllTasks {
		status.Tasks[task] = TaskStatus{
			Enabled: d.enabled[task],
			LastRun: d.lastRun[task],
			Runs:    d.runCounts[task],
		}
	}
	return status
}

// Configure merges a partial configuration change. Safe to call while
// running: the next trigger picks up the change, in-flight runs do not.
func (d *Daemon) Configure(update ConfigUpdate) {
	d.mu.Lock()
	for task, on := range update.Tasks {
		if on != nil {
			d.enabled[task] = *on
		}
	}
	if update.AutoFixEnabled != nil {
		d.cfg.AutoFix.Enabled = *update.AutoFixEnabled
	}
	d.mu.Unlock()

	if update.Scanner != nil {
		d.scanner.Configure(*update.Scanner)
	}
}

func (d *Daemon) taskEnabled(task events.TaskName) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.enabled[task]
}

// Trigger runs a single task immediately, outside its schedule. Triggering a
// stopped daemon does nothing.
func (d *Daemon) Trigger(ctx context.Context, task events.TaskName) error {
	d.mu.Lock()
	running := d.state == StateRunning
	d.mu.Unlock()
	if !running {
		fmt.Fprintf(os.Stderr, "forged: daemon not running, %s trigger ignored\n", task)
		return nil
	}
	return d.runTask(ctx, task)
}

// RunHealthChecks triggers an immediate health check run.
func (d *Daemon) RunHealthChecks(ctx context.Context) error {
	return d.Trigger(ctx, events.TaskHealthCheck)
}

// RunPatternScan triggers an immediate pattern scan.
func (d *Daemon) RunPatternScan(ctx context.Context) error {
	return d.Trigger(ctx, events.TaskPatternScan)
}

// RunPerformanceAnalysis triggers an immediate performance analysis.
func (d *Daemon) RunPerformanceAnalysis(ctx context.Context) error {
	return d.Trigger(ctx, events.TaskPerformanceAnalysis)
}

// ApplyUpdates triggers an immediate update application pass.
func (d *Daemon) ApplyUpdates(ctx context.Context) error {
	return d.Trigger(ctx, events.TaskApplyUpdates)
}

// loop drives one task on its interval until the context is cancelled. The
// first run happens after a full interval, not at startup: starting the
// daemon should not immediately mutate anything.
func (d *Daemon) loop(ctx context.Context, task events.TaskName, interval time.Duration) {
	defer d.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !d.taskEnabled(task) {
				continue
			}
			// Cancellation only stops the schedule; a run already started
			// finishes its store writes before Stop returns.
			if err := d.runTask(context.WithoutCancel(ctx), task); err != nil {
				fmt.Fprintf(os.Stderr, "forged: %s failed: %v\n", task, err)
			}
		}
	}
}

// runTask executes one task, publishing start and completion events and
// recording run bookkeeping. Task errors are published and returned.
func (d *Daemon) runTask(ctx context.Context, task events.TaskName) error {
	d.bus.Publish(events.Event{
		Type:      events.EventTaskStart,
		Task:      task,
		Timestamp: time.Now(),
	})

	var result any
	var err error
	switch task {
	case events.TaskHealthCheck:
		result, err = d.runHealthCheck(ctx)
	case events.TaskPatternScan:
		result, err = d.runPatternScan(ctx)
	case events.TaskPerformanceAnalysis:
		result, err = d.runPerformanceAnalysis(ctx)
	case events.TaskApplyUpdates:
		result, err = d.runApplyUpdates(ctx)
	default:
		err = fmt.Errorf("unknown task: %s", task)
	}

	d.mu.Lock()
	d.lastRun[task] = time.Now()
	d.runCounts[task]++
	d.mu.Unlock()

	if err != nil {
		d.bus.Publish(events.Event{
			Type:      events.EventTaskError,
			Task:      task,
			Err:       err.Error(),
			Timestamp: time.Now(),
		})
		return err
	}

	d.bus.Publish(events.Event{
		Type:      events.EventTaskComplete,
		Task:      task,
		Result:    result,
		Timestamp: time.Now(),
	})
	return nil
}

// HealthReport summarizes one health check run.
type HealthReport struct {
	Results  []health.Result `json:"results"`
	Critical int             `json:"critical"`
	Degraded int             `json:"degraded"`
	Fixed    int             `json:"fixed"`
}

// runHealthCheck runs every check, logs results to the store, publishes
// severity events, and runs rate-limited auto-fixes for critical results.
// Degraded results are reported only; remediation escalates with severity.
func (d *Daemon) runHealthCheck(ctx context.Context) (*HealthReport, error) {
	results := d.monitor.Check(ctx)
	report := &HealthReport{Results: results}

	for _, result := range results {
		if err := d.store.LogHealthEvent(ctx, result.Event()); err != nil {
			fmt.Fprintf(os.Stderr, "forged: failed to log health event: %v\n", err)
		}

		switch result.Status {
		case types.StatusCritical:
			report.Critical++
			d.bus.Publish(events.Event{
				Type:      events.EventHealthCritical,
				Category:  result.Category,
				Message:   result.Message,
				Timestamp: time.Now(),
			})
			report.Fixed += d.autoFix(ctx, result)
		case types.StatusDegraded:
			report.Degraded++
			d.bus.Publish(events.Event{
				Type:      events.EventHealthDegraded,
				Category:  result.Category,
				Message:   result.Message,
				Timestamp: time.Now(),
			})
		}
	}
	return report, nil
}

// autoFix runs the result's auto-fix actions, subject to the global rate
// limit, and returns how many succeeded.
func (d *Daemon) autoFix(ctx context.Context, result health.Result) int {
	if !d.cfg.AutoFix.Enabled {
		return 0
	}

	fixed := 0
	for _, action := range result.Actions {
		if action.Type != health.ActionAutoFix || action.Fix == nil {
			continue
		}
		if !d.fixLimiter.Allow() {
			fmt.Fprintf(os.Stderr, "forged: auto-fix rate limit reached, skipping %s\n", result.Category)
			return fixed
		}
		if err := action.Fix(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "forged: auto-fix for %s failed: %v\n", result.Category, err)
			continue
		}
		fixed++
	}
	return fixed
}

// ScanReport summarizes one pattern scan run.
type ScanReport struct {
	PatternsFound  int `json:"patterns_found"`
	PatternsStored int `json:"patterns_stored"`
}

func (d *Daemon) runPatternScan(ctx context.Context) (*ScanReport, error) {
	patterns, err := d.scanner.Scan(ctx)
	if err != nil {
		return nil, err
	}
	if err := d.store.StorePatterns(ctx, patterns); err != nil {
		return nil, fmt.Errorf("failed to store patterns: %w", err)
	}
	return &ScanReport{PatternsFound: len(patterns), PatternsStored: len(patterns)}, nil
}

// AnalysisReport summarizes one performance analysis run.
type AnalysisReport struct {
	AgentsAnalyzed    int `json:"agents_analyzed"`
	SuggestionsQueued int `json:"suggestions_queued"`
}

// runPerformanceAnalysis aggregates agent performance and queues tuning
// suggestions for agents whose success rate falls below the threshold.
func (d *Daemon) runPerformanceAnalysis(ctx context.Context) (*AnalysisReport, error) {
	performances, err := d.analyzer.Analyze(ctx)
	if err != nil {
		return nil, err
	}

	report := &AnalysisReport{AgentsAnalyzed: len(performances)}
	for _, perf := range performances {
		if perf.TasksCompleted > 0 && perf.SuccessRate < suggestionSuccessThreshold {
			text := fmt.Sprintf("success rate %.0f%% over %d tasks; review recent failures",
				perf.SuccessRate*100, perf.TasksCompleted)
			report.SuggestionsQueued += d.queueSuggestion(ctx, perf.AgentID, text, 1-perf.SuccessRate)
		}

		if len(perf.CommonFailures) > 0 {
			failures := perf.CommonFailures
			if len(failures) > 3 {
				failures = failures[:3]
			}
			text := fmt.Sprintf("recurring failure contexts: %s", strings.Join(failures, "; "))
			report.SuggestionsQueued += d.queueSuggestion(ctx, perf.AgentID, text, 0.8)
		}
	}
	return report, nil
}

// queueSuggestion stores one suggestion, logging rather than propagating
// failures, and returns 1 on success for count accumulation.
func (d *Daemon) queueSuggestion(ctx context.Context, agentID, text string, confidence float64) int {
	_, err := d.store.QueueSuggestion(ctx, types.Suggestion{
		AgentID:    agentID,
		Suggestion: text,
		Confidence: confidence,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "forged: failed to queue suggestion for %s: %v\n", agentID, err)
		return 0
	}
	return 1
}

// runApplyUpdates applies pending high-confidence updates and prunes old
// backups.
func (d *Daemon) runApplyUpdates(ctx context.Context) (*applier.ApplyReport, error) {
	report, err := d.applier.ApplyPendingUpdates(ctx)
	if err != nil {
		return nil, err
	}
	retention := d.cfg.Applier.BackupRetentionDays
	if _, err := d.applier.CleanOldBackups(retention); err != nil {
		fmt.Fprintf(os.Stderr, "forged: backup cleanup failed: %v\n", err)
	}
	return report, nil
}

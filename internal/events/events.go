// Package events defines the daemon's lifecycle and task event types plus a
// small in-process bus for delivering them to subscribers (CLI, dashboard
// feeds, tests).
//
// Task identity is a closed constant set rather than free-form strings so
// subscribers can switch exhaustively over task outcomes.
package events

import (
	"sync"
	"time"
)

// EventType classifies a daemon event.
type EventType string

const (
	// EventStarted fires once daemon startup completes
	EventStarted EventType = "started"
	// EventStopped fires after all triggers are cancelled and the store is closed
	EventStopped EventType = "stopped"
	// EventTaskStart fires when a scheduled or manual task begins
	EventTaskStart EventType = "task_start"
	// EventTaskComplete fires when a task finishes, carrying a result summary
	EventTaskComplete EventType = "task_complete"
	// EventTaskError fires when a task fails; the daemon keeps running
	EventTaskError EventType = "task_error"
	// EventHealthCritical fires per critical health result
	EventHealthCritical EventType = "health_critical"
	// EventHealthDegraded fires per degraded health result (no auto remediation)
	EventHealthDegraded EventType = "health_degraded"
)

// TaskName identifies one of the daemon's recurring tasks.
type TaskName string

const (
	TaskHealthCheck         TaskName = "health_check"
	TaskPatternScan         TaskName = "pattern_scan"
	TaskPerformanceAnalysis TaskName = "performance_analysis"
	TaskApplyUpdates        TaskName = "apply_updates"
)

// AllTasks lists every schedulable task.
var AllTasks = []TaskName{
	TaskHealthCheck,
	TaskPatternScan,
	TaskPerformanceAnalysis,
	TaskApplyUpdates,
}

// Event is a single daemon occurrence delivered to subscribers.
type Event struct {
	Type      EventType `json:"type"`
	Task      TaskName  `json:"task,omitempty"`
	Category  string    `json:"category,omitempty"` // health check category for health events
	Message   string    `json:"message,omitempty"`
	Result    any       `json:"result,omitempty"` // task-specific summary payload
	Err       string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Bus fans events out to subscriber channels. Publishing never blocks: a
// subscriber that falls behind loses events rather than stalling the daemon.
type Bus struct {
	mu   sync.Mutex
	subs []chan Event
}

// NewBus creates an event bus with no subscribers.
func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers a new subscriber and returns its channel. The channel
// is buffered; events beyond the buffer are dropped for that subscriber.
func (b *Bus) Subscribe() <-chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, 64)
	b.subs = append(b.subs, ch)
	return ch
}

// Publish delivers an event to every subscriber without blocking.
func (b *Bus) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for _, ch := range b.subs {
		select {
		case ch <- event:
		default:
			// Slow subscriber; drop rather than stall the scheduler.
		}
	}
}

// Close closes all subscriber channels. Publish must not be called after Close.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, ch := range b.subs {
		close(ch)
	}
	b.subs = nil
}

package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// Store is the single source of truth for all maintenance-derived data:
// behavioral patterns, per-agent daily metrics, skill update records,
// suggestions, and health event history. It is backed by an embedded SQLite
// database and survives process restarts.
//
// All components treat the store as the sole writer-serialization point; the
// connection pool is pinned to a single connection so store operations are
// atomic with respect to each other even when daemon triggers interleave.
type Store struct {
	mu          sync.Mutex
	db          *sql.DB
	path        string
	initialized bool
}

// DefaultPath is the store location relative to the forge data directory.
const DefaultPath = ".forge/learning.db"

// New creates a store handle for the given database path. The special value
// ":memory:" creates an in-memory store (useful for tests). No I/O happens
// until Initialize is called.
func New(path string) *Store {
	if path == "" {
		path = DefaultPath
	}
	return &Store{path: path}
}

// Initialize opens the backing database, creating the containing directory
// and schema if absent. It is idempotent: a second call is a no-op.
//
// A corrupt backing file is moved aside and replaced with a fresh database
// rather than failing; if even that is impossible the store falls back to an
// in-memory database. The only error returned is failure to create the data
// directory, which is an unrecoverable startup condition.
func (s *Store) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.initialized {
		return nil
	}

	if s.path != ":memory:" {
		dir := filepath.Dir(s.path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	db, err := s.open(ctx, s.path)
	if err != nil && s.path != ":memory:" {
		// Corrupt or unreadable database: move it aside and start empty.
		fmt.Fprintf(os.Stderr, "forged: learning store unreadable, starting empty: %v\n", err)
		_ = os.Rename(s.path, s.path+".corrupt")
		db, err = s.open(ctx, s.path)
	}
	if err != nil {
		// Last resort: an in-memory store keeps the daemon functional.
		fmt.Fprintf(os.Stderr, "forged: falling back to in-memory learning store: %v\n", err)
		db, err = s.open(ctx, ":memory:")
		if err != nil {
			return fmt.Errorf("failed to open in-memory store: %w", err)
		}
	}

	s.db = db
	s.initialized = true
	return nil
}

func (s *Store) open(ctx context.Context, path string) (*sql.DB, error) {
	dsn := "file:" + path + "?_pragma=busy_timeout(10000)"
	if path != ":memory:" {
		dsn += "&_pragma=journal_mode(WAL)"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Single writer at a time; also keeps :memory: databases coherent.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return db, nil
}

// Close flushes to durable storage and releases the instance. The store must
// not be reused after Close.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	s.initialized = false
	return err
}

// Path returns the backing database path.
func (s *Store) Path() string {
	return s.path
}

// conn returns the database handle, or an error if the store has not been
// initialized. Write operations after successful initialization propagate
// their errors to the caller.
func (s *Store) conn() (*sql.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil, fmt.Errorf("store is not initialized")
	}
	return s.db, nil
}

// Stats summarizes the record counts held by the store.
type Stats struct {
	Patterns       int `json:"patterns"`
	Metrics        int `json:"metrics"`
	PendingUpdates int `json:"pending_updates"`
	Suggestions    int `json:"suggestions"`
	HealthEvents   int `json:"health_events"`
}

// GetStats returns record counts for every collection.
func (s *Store) GetStats(ctx context.Context) (*Stats, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}

	stats := &Stats{}
	counts := []struct {
		query string
		dest  *int
	}{
		{"SELECT COUNT(*) FROM patterns", &stats.Patterns},
		{"SELECT COUNT(*) FROM agent_metrics", &stats.Metrics},
		{"SELECT COUNT(*) FROM skill_updates WHERE status = 'pending'", &stats.PendingUpdates},
		{"SELECT COUNT(*) FROM suggestions", &stats.Suggestions},
		{"SELECT COUNT(*) FROM health_events", &stats.HealthEvents},
	}
	for _, c := range counts {
		if err := db.QueryRowContext(ctx, c.query).Scan(c.dest); err != nil {
			return nil, fmt.Errorf("failed to count records: %w", err)
		}
	}
	return stats, nil
}

// timeFormat is how timestamps are stored in TEXT columns.
const timeFormat = time.RFC3339Nano

func formatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeFormat, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

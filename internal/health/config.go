package health

import (
	"path/filepath"
	"time"
)

// Config holds the thresholds and paths the monitor diagnoses against.
type Config struct {
	// ForgeDir is the root data directory the daemon maintains (".forge")
	ForgeDir string

	// SessionsDir holds session files; staleness is judged by mtime
	SessionsDir string
	// CheckpointsDir holds execution checkpoints eligible for purging
	CheckpointsDir string
	// LogsDir holds daemon log files eligible for purging
	LogsDir string
	// TaskHistoryDir holds completed-task records
	TaskHistoryDir string
	// CorrectionsDir holds user-correction records
	CorrectionsDir string

	// DatabasePath is the learning store's backing file
	DatabasePath string

	// ConfigPaths are the tracked configuration files checked for integrity
	ConfigPaths []string

	// DiskWarnPercent and DiskCritPercent bound the disk_space statuses
	DiskWarnPercent float64
	DiskCritPercent float64

	// MaxForgeDirBytes bounds forge_dir_size before it degrades
	MaxForgeDirBytes int64

	// MaxSessionAge is how long a session file may sit untouched
	MaxSessionAge time.Duration

	// MaxDatabaseBytes bounds the learning store size before it degrades
	MaxDatabaseBytes int64

	// MemWarnPercent and MemCritPercent bound the memory statuses
	MemWarnPercent float64
	MemCritPercent float64
}

// DefaultConfig returns monitor configuration rooted at the given forge
// data directory.
func DefaultConfig(forgeDir string) *Config {
	if forgeDir == "" {
		forgeDir = ".forge"
	}
	return &Config{
		ForgeDir:         forgeDir,
		SessionsDir:      filepath.Join(forgeDir, "sessions"),
		CheckpointsDir:   filepath.Join(forgeDir, "checkpoints"),
		LogsDir:          filepath.Join(forgeDir, "logs"),
		TaskHistoryDir:   filepath.Join(forgeDir, "history"),
		CorrectionsDir:   filepath.Join(forgeDir, "corrections"),
		DatabasePath:     filepath.Join(forgeDir, "learning.db"),
		ConfigPaths:      []string{filepath.Join(forgeDir, "config.yaml")},
		DiskWarnPercent:  85,
		DiskCritPercent:  95,
		MaxForgeDirBytes: 1 << 30, // 1 GiB
		MaxSessionAge:    24 * time.Hour,
		MaxDatabaseBytes: 100 * 1000 * 1000, // 100 MB
		MemWarnPercent:   80,
		MemCritPercent:   90,
	}
}

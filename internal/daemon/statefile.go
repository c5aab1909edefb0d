package daemon

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"
)

// StateFile is the on-disk record of a running daemon. Other forged
// processes read it to report status and to refuse a second daemon on the
// same forge directory.
type StateFile struct {
	PID       int       `json:"pid"`
	Hostname  string    `json:"hostname"`
	StartedAt time.Time `json:"started_at"`
	ForgeDir  string    `json:"forge_dir"`
}

// StateFilePath returns the daemon state file location for a forge directory.
func StateFilePath(forgeDir string) string {
	return filepath.Join(forgeDir, "daemon.json")
}

// writeStateFile claims the forge directory for this process. An existing
// state file belonging to a live process is an error; a stale one is
// overwritten.
func writeStateFile(forgeDir string) (string, error) {
	path := StateFilePath(forgeDir)

	if existing, err := ReadStateFile(forgeDir); err == nil {
		if isProcessAlive(existing.PID, existing.Hostname) {
			return "", fmt.Errorf("daemon already running (PID %d on %s, started %s)",
				existing.PID, existing.Hostname, existing.StartedAt.Format(time.RFC3339))
		}
		// Stale state file from a dead process, overwrite it.
	}

	hostname, err := os.Hostname()
	if err != nil {
		return "", fmt.Errorf("failed to get hostname: %w", err)
	}

	state := StateFile{
		PID:       os.Getpid(),
		Hostname:  hostname,
		StartedAt: time.Now(),
		ForgeDir:  forgeDir,
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal daemon state: %w", err)
	}
	if err := os.MkdirAll(forgeDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create forge directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write daemon state file: %w", err)
	}
	return path, nil
}

// ReadStateFile loads the daemon state file for a forge directory.
func ReadStateFile(forgeDir string) (*StateFile, error) {
	data, err := os.ReadFile(StateFilePath(forgeDir))
	if err != nil {
		return nil, err
	}
	var state StateFile
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to parse daemon state file: %w", err)
	}
	return &state, nil
}

// removeStateFile releases the forge directory claim. Missing files are fine.
func removeStateFile(path string) error {
	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove daemon state file: %w", err)
	}
	return nil
}

// isProcessAlive reports whether the recorded process still exists. Remote
// hostnames cannot be checked and are assumed alive.
func isProcessAlive(pid int, hostname string) bool {
	currentHost, err := os.Hostname()
	if err != nil {
		return true
	}
	if !strings.EqualFold(hostname, currentHost) {
		return true
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}

	// Signal 0 probes existence without delivering anything.
	err = process.Signal(syscall.Signal(0))
	if err == nil {
		return true
	}
	if err == syscall.EPERM {
		// Exists but owned by someone else.
		return true
	}
	return false
}

package health

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/forgekit/forged/internal/types"
)

// checkDiskSpace measures usage of the filesystem holding the forge
// directory. Degraded attaches an auto-fix that purges old checkpoints and
// logs; critical means the operator needs to act regardless.
func (m *Monitor) checkDiskSpace(ctx context.Context) Result {
	var st syscall.Statfs_t
	if err := syscall.Statfs(statTarget(m.cfg.ForgeDir), &st); err != nil {
		return degraded(CategoryDiskSpace, fmt.Errorf("statfs: %w", err))
	}

	total := st.Blocks * uint64(st.Bsize)
	if total == 0 {
		return degraded(CategoryDiskSpace, fmt.Errorf("filesystem reports zero size"))
	}
	avail := st.Bavail * uint64(st.Bsize)
	usedPct := 100 * (1 - float64(avail)/float64(total))

	result := Result{
		Category: CategoryDiskSpace,
		Status:   types.StatusHealthy,
		Message:  fmt.Sprintf("disk %.1f%% used", usedPct),
		Metrics: map[string]float64{
			"used_percent":    usedPct,
			"available_bytes": float64(avail),
		},
	}

	switch {
	case usedPct >= m.cfg.DiskCritPercent:
		result.Status = types.StatusCritical
		result.Message = fmt.Sprintf("disk critically full: %.1f%% used", usedPct)
	case usedPct >= m.cfg.DiskWarnPercent:
		result.Status = types.StatusDegraded
		result.Message = fmt.Sprintf("disk filling up: %.1f%% used", usedPct)
	default:
		return result
	}

	checkpoints, logs := m.cfg.CheckpointsDir, m.cfg.LogsDir
	result.Actions = append(result.Actions, Action{
		Type:        ActionAutoFix,
		Description: "purge checkpoints older than 7 days and logs older than 30 days",
		Fix: func(ctx context.Context) error {
			if _, err := removeOlderThan(checkpoints, 7*24*time.Hour); err != nil {
				return err
			}
			_, err := removeOlderThan(logs, 30*24*time.Hour)
			return err
		},
	})
	return result
}

// checkForgeDirSize bounds the total size of the forge data directory.
func (m *Monitor) checkForgeDirSize(ctx context.Context) Result {
	size, err := dirSize(m.cfg.ForgeDir)
	if err != nil {
		return degraded(CategoryForgeDirSize, err)
	}

	result := Result{
		Category: CategoryForgeDirSize,
		Status:   types.StatusHealthy,
		Message:  fmt.Sprintf("forge directory is %d bytes", size),
		Metrics: map[string]float64{
			"size_bytes": float64(size),
			"max_bytes":  float64(m.cfg.MaxForgeDirBytes),
		},
	}
	if size <= m.cfg.MaxForgeDirBytes {
		return result
	}

	result.Status = types.StatusDegraded
	result.Message = fmt.Sprintf("forge directory over limit: %d bytes (max %d)", size, m.cfg.MaxForgeDirBytes)
	checkpoints, history, corrections := m.cfg.CheckpointsDir, m.cfg.TaskHistoryDir, m.cfg.CorrectionsDir
	result.Actions = append(result.Actions, Action{
		Type:        ActionAutoFix,
		Description: "trim checkpoints older than 3 days, task history older than 14 days, corrections older than 30 days",
		Fix: func(ctx context.Context) error {
			if _, err := removeOlderThan(checkpoints, 3*24*time.Hour); err != nil {
				return err
			}
			if _, err := removeOlderThan(history, 14*24*time.Hour); err != nil {
				return err
			}
			_, err := removeOlderThan(corrections, 30*24*time.Hour)
			return err
		},
	})
	return result
}

// checkStaleSessions finds session files untouched longer than the maximum
// age. The attached auto-fix deletes exactly the stale files found here;
// sessions still fresh at fix time are never touched.
func (m *Monitor) checkStaleSessions(ctx context.Context) Result {
	entries, err := os.ReadDir(m.cfg.SessionsDir)
	if os.IsNotExist(err) {
		return Result{
			Category: CategoryStaleSessions,
			Status:   types.StatusHealthy,
			Message:  "no sessions directory",
		}
	}
	if err != nil {
		return degraded(CategoryStaleSessions, err)
	}

	cutoff := time.Now().Add(-m.cfg.MaxSessionAge)
	var stale []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			stale = append(stale, filepath.Join(m.cfg.SessionsDir, entry.Name()))
		}
	}

	result := Result{
		Category: CategoryStaleSessions,
		Status:   types.StatusHealthy,
		Message:  fmt.Sprintf("%d session files, none stale", len(entries)),
		Metrics: map[string]float64{
			"session_count": float64(len(entries)),
			"stale_count":   float64(len(stale)),
		},
	}
	if len(stale) == 0 {
		return result
	}

	result.Status = types.StatusDegraded
	result.Message = fmt.Sprintf("%d stale session files (untouched > %s)", len(stale), m.cfg.MaxSessionAge)
	result.Actions = append(result.Actions, Action{
		Type:        ActionAutoFix,
		Description: fmt.Sprintf("delete %d stale session files", len(stale)),
		Fix: func(ctx context.Context) error {
			for _, path := range stale {
				if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
					return fmt.Errorf("failed to delete stale session %s: %w", path, err)
				}
			}
			return nil
		},
	})
	return result
}

// checkDatabase bounds the learning store size. An absent database is a
// first run, not a problem.
func (m *Monitor) checkDatabase(ctx context.Context) Result {
	info, err := os.Stat(m.cfg.DatabasePath)
	if os.IsNotExist(err) {
		return Result{
			Category: CategoryDatabase,
			Status:   types.StatusHealthy,
			Message:  "database does not yet exist",
		}
	}
	if err != nil {
		return degraded(CategoryDatabase, err)
	}

	result := Result{
		Category: CategoryDatabase,
		Status:   types.StatusHealthy,
		Message:  fmt.Sprintf("database is %d bytes", info.Size()),
		Metrics: map[string]float64{
			"size_bytes": float64(info.Size()),
			"max_bytes":  float64(m.cfg.MaxDatabaseBytes),
		},
	}
	if info.Size() <= m.cfg.MaxDatabaseBytes {
		return result
	}

	result.Status = types.StatusDegraded
	result.Message = fmt.Sprintf("database over limit: %d bytes (max %d)", info.Size(), m.cfg.MaxDatabaseBytes)
	result.Actions = append(result.Actions, Action{
		Type:        ActionAutoFix,
		Description: "compact the learning store",
		// Placeholder: compaction needs coordination with the live store
		// connection, which the monitor doesn't hold.
		Fix: func(ctx context.Context) error { return nil },
	})
	return result
}

// checkMemory reads system memory usage. The probe is /proc/meminfo; on
// systems without it the check degrades with the probe failure, which is the
// contract for any unreadable probe.
func (m *Monitor) checkMemory(ctx context.Context) Result {
	usedPct, err := memoryUsedPercent()
	if err != nil {
		return degraded(CategoryMemory, err)
	}

	result := Result{
		Category: CategoryMemory,
		Status:   types.StatusHealthy,
		Message:  fmt.Sprintf("memory %.1f%% used", usedPct),
		Metrics:  map[string]float64{"used_percent": usedPct},
	}
	switch {
	case usedPct > m.cfg.MemCritPercent:
		result.Status = types.StatusCritical
		result.Message = fmt.Sprintf("memory critically high: %.1f%% used", usedPct)
		result.Actions = append(result.Actions, Action{
			Type:        ActionEscalate,
			Description: "system memory exhaustion imminent",
		})
	case usedPct > m.cfg.MemWarnPercent:
		result.Status = types.StatusDegraded
		result.Message = fmt.Sprintf("memory high: %.1f%% used", usedPct)
	}
	return result
}

// checkConfigIntegrity parses each tracked config file. A missing file is
// fine; a malformed one is collected as an issue. Config problems need human
// judgment, so this check is alert-only.
func (m *Monitor) checkConfigIntegrity(ctx context.Context) Result {
	var issues []string
	for _, path := range m.cfg.ConfigPaths {
		data, err := os.ReadFile(path)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			issues = append(issues, fmt.Sprintf("%s: %v", path, err))
			continue
		}

		var probe any
		switch strings.ToLower(filepath.Ext(path)) {
		case ".json":
			err = json.Unmarshal(data, &probe)
		case ".yaml", ".yml":
			err = yaml.Unmarshal(data, &probe)
		}
		if err != nil {
			issues = append(issues, fmt.Sprintf("%s: %v", path, err))
		}
	}

	if len(issues) == 0 {
		return Result{
			Category: CategoryConfigIntegrity,
			Status:   types.StatusHealthy,
			Message:  fmt.Sprintf("%d config files valid", len(m.cfg.ConfigPaths)),
		}
	}
	return Result{
		Category: CategoryConfigIntegrity,
		Status:   types.StatusDegraded,
		Message:  fmt.Sprintf("%d config files malformed", len(issues)),
		Metrics:  map[string]float64{"issue_count": float64(len(issues))},
		Actions: []Action{{
			Type:        ActionAlert,
			Description: strings.Join(issues, "; "),
		}},
	}
}

// statTarget returns an existing path to stat for filesystem probes: the
// directory itself if present, otherwise its parent (the daemon may run
// before the forge directory is created).
func statTarget(dir string) string {
	if _, err := os.Stat(dir); err == nil {
		return dir
	}
	return filepath.Dir(dir)
}

// dirSize walks a directory tree summing regular file sizes. A missing
// directory has size zero.
func dirSize(dir string) (int64, error) {
	var size int64
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		size += info.Size()
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		return 0, fmt.Errorf("failed to walk %s: %w", dir, err)
	}
	return size, nil
}

// removeOlderThan deletes regular files in dir whose mtime is older than age.
// Returns the number of files removed. A missing directory removes nothing.
func removeOlderThan(dir string, age time.Duration) (int, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read %s: %w", dir, err)
	}

	cutoff := time.Now().Add(-age)
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(filepath.Join(dir, entry.Name())); err != nil && !os.IsNotExist(err) {
				return removed, fmt.Errorf("failed to remove %s: %w", entry.Name(), err)
			}
			removed++
		}
	}
	return removed, nil
}

// memoryUsedPercent reads system memory usage from /proc/meminfo.
func memoryUsedPercent() (float64, error) {
	f, err := os.Open("/proc/meminfo")
	if err != nil {
		return 0, fmt.Errorf("failed to read memory stats: %w", err)
	}
	defer f.Close()

	var totalKB, availKB float64
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 {
			continue
		}
		value, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			continue
		}
		switch fields[0] {
		case "MemTotal:":
			totalKB = value
		case "MemAvailable:":
			availKB = value
		}
	}
	if err := scanner.Err(); err != nil {
		return 0, fmt.Errorf("failed to scan memory stats: %w", err)
	}
	if totalKB == 0 {
		return 0, fmt.Errorf("memory stats missing MemTotal")
	}
	return 100 * (1 - availKB/totalKB), nil
}

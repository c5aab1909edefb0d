// Package applier safely mutates agent skill files based on queued update
// records: backup before write, validate before commit, roll back on failure.
package applier

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/forgekit/forged/internal/types"
)

// defaultConfidenceThreshold gates automatic application: pending updates at
// or above it are applied, the rest wait for human review.
const defaultConfidenceThreshold = 0.7

// defaultBackupRetentionDays bounds how long backup files are kept.
const defaultBackupRetentionDays = 30

// Store is the slice of the learning store the applier uses.
type Store interface {
	GetPendingUpdates(ctx context.Context, minConfidence float64) ([]types.SkillUpdate, error)
	QueueSkillUpdate(ctx context.Context, update types.SkillUpdate) (string, error)
	MarkUpdateApplied(ctx context.Context, id string) error
	MarkUpdateRejected(ctx context.Context, id string) error
	MarkUpdateRolledBack(ctx context.Context, id string) error
}

// Backup is a saved pre-mutation copy of a skill file, keyed to the update
// that caused the mutation.
type Backup struct {
	ID           string    `json:"id"`
	OriginalPath string    `json:"original_path"`
	BackupPath   string    `json:"backup_path"`
	UpdateID     string    `json:"update_id"`
	CreatedAt    time.Time `json:"created_at"`
	Content      string    `json:"content"`
}

// ApplyReport summarizes a batch apply run.
type ApplyReport struct {
	Applied int      `json:"applied"`
	Queued  int      `json:"queued"`
	Failed  int      `json:"failed"`
	Errors  []string `json:"errors,omitempty"`
}

// Config controls the applier's thresholds and backup location.
type Config struct {
	// BackupDir is where pre-mutation copies are written
	BackupDir string
	// ConfidenceThreshold gates automatic application (default 0.7)
	ConfidenceThreshold float64
}

// DefaultConfig returns applier configuration rooted at the forge directory.
func DefaultConfig(forgeDir string) *Config {
	if forgeDir == "" {
		forgeDir = ".forge"
	}
	return &Config{
		BackupDir:           filepath.Join(forgeDir, "backups"),
		ConfidenceThreshold: defaultConfidenceThreshold,
	}
}

// Applier validates, backs up, applies, and rolls back skill-file updates.
// Backup records are held in memory for the life of the instance.
type Applier struct {
	mu      sync.Mutex
	store   Store
	cfg     Config
	backups []Backup
}

// New creates an applier backed by the given store.
func New(cfg *Config, store Store) *Applier {
	if cfg == nil {
		cfg = DefaultConfig("")
	}
	if cfg.ConfidenceThreshold <= 0 {
		cfg.ConfidenceThreshold = defaultConfidenceThreshold
	}
	return &Applier{store: store, cfg: *cfg}
}

// ApplyPendingUpdates fetches all pending updates and partitions them by the
// confidence threshold: at or above is applied immediately, below stays
// pending for review. A failure applying one update never stops the rest.
func (a *Applier) ApplyPendingUpdates(ctx context.Context) (*ApplyReport, error) {
	pending, err := a.store.GetPendingUpdates(ctx, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch pending updates: %w", err)
	}

	report := &ApplyReport{}
	for _, update := range pending {
		if update.Confidence < a.cfg.ConfidenceThreshold {
			report.Queued++
			continue
		}
		if err := a.ApplyUpdate(ctx, update); err != nil {
			report.Failed++
			report.Errors = append(report.Errors, fmt.Sprintf("%s: %v", update.ID, err))
			continue
		}
		report.Applied++
	}
	return report, nil
}

// ApplyUpdate executes the mutation protocol for a single update: read,
// backup, compute, validate, write, mark applied. A write or bookkeeping
// failure triggers a best-effort restore of the original content and marks
// the update rolled back before returning the original error.
func (a *Applier) ApplyUpdate(ctx context.Context, update types.SkillUpdate) error {
	// A missing target is an empty file, not an error: updates may create
	// new skill files.
	original := ""
	if data, err := os.ReadFile(update.SkillFile); err == nil {
		original = string(data)
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("failed to read %s: %w", update.SkillFile, err)
	}

	// Backup must be durable before any mutation of the target.
	backup, err := a.createBackup(update, original)
	if err != nil {
		return fmt.Errorf("failed to back up %s: %w", update.SkillFile, err)
	}

	newContent, err := computeContent(original, update)
	if err != nil {
		return err
	}

	// Validation failures abort before any write; the backup already taken
	// is harmless.
	if err := validateContent(update.SkillFile, newContent); err != nil {
		return err
	}

	if err := a.writeAndMark(ctx, update, newContent); err != nil {
		// Best-effort restore, then surface the original failure.
		_ = os.WriteFile(update.SkillFile, []byte(backup.Content), 0644)
		_ = a.store.MarkUpdateRolledBack(ctx, update.ID)
		return err
	}
	return nil
}

func (a *Applier) writeAndMark(ctx context.Context, update types.SkillUpdate, content string) error {
	if err := os.MkdirAll(filepath.Dir(update.SkillFile), 0755); err != nil {
		return fmt.Errorf("failed to create target directory: %w", err)
	}
	if err := os.WriteFile(update.SkillFile, []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", update.SkillFile, err)
	}
	if err := a.store.MarkUpdateApplied(ctx, update.ID); err != nil {
		return fmt.Errorf("failed to mark update applied: %w", err)
	}
	return nil
}

// createBackup writes a physical copy of the pre-change content under the
// backup directory and records it in the in-memory index.
func (a *Applier) createBackup(update types.SkillUpdate, content string) (*Backup, error) {
	if err := os.MkdirAll(a.cfg.BackupDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create backup directory: %w", err)
	}

	id := uuid.New().String()
	backupPath := filepath.Join(a.cfg.BackupDir, id+filepath.Ext(update.SkillFile)+".bak")
	if err := os.WriteFile(backupPath, []byte(content), 0644); err != nil {
		return nil, fmt.Errorf("failed to write backup file: %w", err)
	}

	backup := Backup{
		ID:           id,
		OriginalPath: update.SkillFile,
		BackupPath:   backupPath,
		UpdateID:     update.ID,
		CreatedAt:    time.Now(),
		Content:      content,
	}

	a.mu.Lock()
	a.backups = append(a.backups, backup)
	a.mu.Unlock()
	return &backup, nil
}

// computeContent derives the new file content for the update's change type.
func computeContent(original string, update types.SkillUpdate) (string, error) {
	switch update.ChangeType {
	case types.ChangeAppend, types.ChangeAdd:
		if original == "" {
			return update.Content, nil
		}
		return original + "\n\n" + update.Content, nil
	case types.ChangeModify:
		// Additive modify: both old and new content are retained, with an
		// annotation naming the reason, preserving auditability.
		annotation := fmt.Sprintf("<!-- modified: %s -->", update.Reason)
		return original + "\n\n" + annotation + "\n" + update.Content, nil
	case types.ChangeRemove:
		// Exact-match removal of the first occurrence, not pattern matching.
		return strings.Replace(original, update.Content, "", 1), nil
	default:
		return "", fmt.Errorf("unknown change type: %s", update.ChangeType)
	}
}

// validateContent applies file-type-specific structural rules to the
// computed content before anything is written.
func validateContent(path, content string) error {
	for _, marker := range []string{"<<<<<<< ", ">>>>>>> "} {
		if strings.Contains(content, marker) {
			return fmt.Errorf("content contains merge conflict markers")
		}
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		if !json.Valid([]byte(content)) {
			return fmt.Errorf("invalid JSON after applying update to %s", path)
		}
	case ".yaml", ".yml":
		if strings.Contains(content, "\t") {
			return fmt.Errorf("YAML content contains tab characters")
		}
	}
	return nil
}

// Rollback restores the backup's recorded content to its original path and
// marks the associated update rolled back. Unknown backup ids are an error.
func (a *Applier) Rollback(ctx context.Context, backupID string) error {
	backup := a.findBackup(func(b Backup) bool { return b.ID == backupID })
	if backup == nil {
		return fmt.Errorf("no backup found with id %s", backupID)
	}
	return a.restore(ctx, backup)
}

// RollbackUpdate restores the backup taken for the given update id. Unknown
// update ids are an error.
func (a *Applier) RollbackUpdate(ctx context.Context, updateID string) error {
	backup := a.findBackup(func(b Backup) bool { return b.UpdateID == updateID })
	if backup == nil {
		return fmt.Errorf("no backup found for update %s", updateID)
	}
	return a.restore(ctx, backup)
}

func (a *Applier) findBackup(match func(Backup) bool) *Backup {
	a.mu.Lock()
	defer a.mu.Unlock()

	// Latest matching backup wins when a file was updated more than once.
	for i := len(a.backups) - 1; i >= 0; i-- {
		if match(a.backups[i]) {
			b := a.backups[i]
			return &b
		}
	}
	return nil
}

func (a *Applier) restore(ctx context.Context, backup *Backup) error {
	if err := os.WriteFile(backup.OriginalPath, []byte(backup.Content), 0644); err != nil {
		return fmt.Errorf("failed to restore %s: %w", backup.OriginalPath, err)
	}
	if err := a.store.MarkUpdateRolledBack(ctx, backup.UpdateID); err != nil {
		return fmt.Errorf("failed to mark update rolled back: %w", err)
	}
	return nil
}

// QueueForReview queues a proposal without applying it, returning the new id.
func (a *Applier) QueueForReview(ctx context.Context, proposal types.SkillUpdate) (string, error) {
	return a.store.QueueSkillUpdate(ctx, proposal)
}

// ApproveAndApply applies a pending update by id regardless of its
// confidence: manual approval bypasses the automatic threshold. Unknown or
// non-pending ids are an error.
func (a *Applier) ApproveAndApply(ctx context.Context, updateID string) error {
	pending, err := a.store.GetPendingUpdates(ctx, 0)
	if err != nil {
		return fmt.Errorf("failed to fetch pending updates: %w", err)
	}
	for _, update := range pending {
		if update.ID == updateID {
			return a.ApplyUpdate(ctx, update)
		}
	}
	return fmt.Errorf("no pending update found with id %s", updateID)
}

// RejectUpdate marks an update rejected without touching any file.
func (a *Applier) RejectUpdate(ctx context.Context, updateID string) error {
	return a.store.MarkUpdateRejected(ctx, updateID)
}

// GetBackups returns all in-memory backup records in creation order.
func (a *Applier) GetBackups() []Backup {
	a.mu.Lock()
	defer a.mu.Unlock()

	backups := make([]Backup, len(a.backups))
	copy(backups, a.backups)
	return backups
}

// CleanOldBackups deletes backup files older than maxAgeDays (<= 0 uses the
// 30-day default) and drops their index entries. The returned count reflects
// successful physical deletions only; a record whose file is already gone is
// still dropped from the index but not counted.
func (a *Applier) CleanOldBackups(maxAgeDays int) (int, error) {
	if maxAgeDays <= 0 {
		maxAgeDays = defaultBackupRetentionDays
	}
	cutoff := time.Now().AddDate(0, 0, -maxAgeDays)

	a.mu.Lock()
	defer a.mu.Unlock()

	cleaned := 0
	kept := make([]Backup, 0, len(a.backups))
	for i, backup := range a.backups {
		if !backup.CreatedAt.Before(cutoff) {
			kept = append(kept, backup)
			continue
		}
		err := os.Remove(backup.BackupPath)
		switch {
		case err == nil:
			cleaned++
		case os.IsNotExist(err):
			// Already gone; drop the record without counting it.
		default:
			// Keep the failed record and everything not yet visited so the
			// index stays consistent.
			a.backups = append(kept, a.backups[i:]...)
			return cleaned, fmt.Errorf("failed to remove backup %s: %w", backup.BackupPath, err)
		}
	}
	a.backups = kept
	return cleaned, nil
}

// CreateUpdateProposal formats a skill update proposal from a learned
// pattern: successes become guidance blocks, failures become avoidance notes.
func CreateUpdateProposal(skillFile string, pattern types.Pattern) types.SkillUpdate {
	var content, reason string
	if pattern.Outcome == types.OutcomeSuccess {
		content = fmt.Sprintf("### %s\n%s", pattern.Context, pattern.Action)
		reason = fmt.Sprintf("observed %d successful applications", pattern.Frequency)
	} else {
		content = fmt.Sprintf("### Avoid: %s\n**Do not:** %s", pattern.Context, pattern.Action)
		reason = fmt.Sprintf("observed %d failures", pattern.Frequency)
	}
	return types.SkillUpdate{
		SkillFile:  skillFile,
		ChangeType: types.ChangeAppend,
		Content:    content,
		Reason:     reason,
		Confidence: pattern.Confidence,
	}
}

package applier

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgekit/forged/internal/types"
)

// fakeStore records status transitions without a database.
type fakeStore struct {
	pending  []types.SkillUpdate
	statuses map[string]types.UpdateStatus
}

func newFakeStore(pending ...types.SkillUpdate) *fakeStore {
	fs := &fakeStore{statuses: make(map[string]types.UpdateStatus)}
	for i := range pending {
		if pending[i].ID == "" {
			pending[i].ID = pending[i].SkillFile + "-update"
		}
		pending[i].Status = types.UpdatePending
		fs.statuses[pending[i].ID] = types.UpdatePending
		fs.pending = append(fs.pending, pending[i])
	}
	return fs
}

func (f *fakeStore) GetPendingUpdates(_ context.Context, minConfidence float64) ([]types.SkillUpdate, error) {
	var out []types.SkillUpdate
	for _, u := range f.pending {
		if f.statuses[u.ID] == types.UpdatePending && u.Confidence >= minConfidence {
			out = append(out, u)
		}
	}
	return out, nil
}

func (f *fakeStore) QueueSkillUpdate(_ context.Context, update types.SkillUpdate) (string, error) {
	update.ID = "queued-" + update.SkillFile
	update.Status = types.UpdatePending
	f.statuses[update.ID] = types.UpdatePending
	f.pending = append(f.pending, update)
	return update.ID, nil
}

// status treats ids the fake never saw as pending, matching tests that build
// updates out of band.
func (f *fakeStore) status(id string) types.UpdateStatus {
	if s, ok := f.statuses[id]; ok {
		return s
	}
	return types.UpdatePending
}

// The fake enforces the same guarded transitions as the real store.
func (f *fakeStore) MarkUpdateApplied(_ context.Context, id string) error {
	if f.status(id) == types.UpdatePending {
		f.statuses[id] = types.UpdateApplied
	}
	return nil
}

func (f *fakeStore) MarkUpdateRejected(_ context.Context, id string) error {
	if f.status(id) == types.UpdatePending {
		f.statuses[id] = types.UpdateRejected
	}
	return nil
}

func (f *fakeStore) MarkUpdateRolledBack(_ context.Context, id string) error {
	if s := f.status(id); s == types.UpdateApplied || s == types.UpdatePending {
		f.statuses[id] = types.UpdateRolledBack
	}
	return nil
}

// failingMarkStore makes the mark-applied bookkeeping step fail.
type failingMarkStore struct {
	*fakeStore
	markErr error
}

func (f *failingMarkStore) MarkUpdateApplied(context.Context, string) error {
	return f.markErr
}

func newTestApplier(t *testing.T, store Store) *Applier {
	t.Helper()
	return New(&Config{
		BackupDir:           filepath.Join(t.TempDir(), "backups"),
		ConfidenceThreshold: defaultConfidenceThreshold,
	}, store)
}

func update(skillFile string, ct types.ChangeType, content string, confidence float64) types.SkillUpdate {
	return types.SkillUpdate{
		SkillFile:  skillFile,
		ChangeType: ct,
		Content:    content,
		Reason:     "test",
		Confidence: confidence,
	}
}

func TestApplyPendingUpdates_ConfidenceGate(t *testing.T) {
	dir := t.TempDir()
	fs := newFakeStore(
		update(filepath.Join(dir, "a.md"), types.ChangeAppend, "low", 0.5),
		update(filepath.Join(dir, "b.md"), types.ChangeAppend, "borderline", 0.6),
		update(filepath.Join(dir, "c.md"), types.ChangeAppend, "high", 0.8),
		update(filepath.Join(dir, "d.md"), types.ChangeAppend, "highest", 0.95),
	)
	a := newTestApplier(t, fs)

	report, err := a.ApplyPendingUpdates(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, report.Applied)
	assert.Equal(t, 2, report.Queued)
	assert.Equal(t, 0, report.Failed)

	// The high-confidence files exist, the low-confidence ones do not.
	assert.FileExists(t, filepath.Join(dir, "c.md"))
	assert.FileExists(t, filepath.Join(dir, "d.md"))
	assert.NoFileExists(t, filepath.Join(dir, "a.md"))
	assert.NoFileExists(t, filepath.Join(dir, "b.md"))
}

func TestApplyUpdate_AppendToExisting(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "skills.md")
	require.NoError(t, os.WriteFile(path, []byte("# Skills"), 0644))

	fs := newFakeStore()
	a := newTestApplier(t, fs)
	u := update(path, types.ChangeAppend, "### New skill", 0.9)
	u.ID = "u1"

	require.NoError(t, a.ApplyUpdate(context.Background(), u))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "# Skills\n\n### New skill", string(data))
	assert.Equal(t, types.UpdateApplied, fs.statuses["u1"])
}

func TestApplyUpdate_AppendCreatesMissingFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "new.md")

	a := newTestApplier(t, newFakeStore())
	u := update(path, types.ChangeAppend, "fresh content", 0.9)
	u.ID = "u1"

	require.NoError(t, a.ApplyUpdate(context.Background(), u))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "fresh content", string(data))
}

func TestApplyUpdate_ModifyAnnotates(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "skills.md")
	require.NoError(t, os.WriteFile(path, []byte("old guidance"), 0644))

	a := newTestApplier(t, newFakeStore())
	u := update(path, types.ChangeModify, "new guidance", 0.9)
	u.ID = "u1"
	u.Reason = "observed better outcomes"

	require.NoError(t, a.ApplyUpdate(context.Background(), u))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	content := string(data)
	assert.Contains(t, content, "old guidance")
	assert.Contains(t, content, "new guidance")
	assert.Contains(t, content, "<!-- modified: observed better outcomes -->")
}

func TestApplyUpdate_RemoveFirstOccurrenceOnly(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "skills.md")
	require.NoError(t, os.WriteFile(path, []byte("keep DROP keep DROP"), 0644))

	a := newTestApplier(t, newFakeStore())
	u := update(path, types.ChangeRemove, "DROP ", 0.9)
	u.ID = "u1"

	require.NoError(t, a.ApplyUpdate(context.Background(), u))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "keep keep DROP", string(data))
}

func TestApplyUpdate_InvalidJSONRejected(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	original := `{"valid": true}`
	require.NoError(t, os.WriteFile(path, []byte(original), 0644))

	a := newTestApplier(t, newFakeStore())
	u := update(path, types.ChangeAppend, `{"more": }`, 0.9)
	u.ID = "u1"

	err := a.ApplyUpdate(context.Background(), u)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid JSON")

	// The target file is untouched on validation failure.
	data, readErr := os.ReadFile(path)
	require.NoError(t, readErr)
	assert.Equal(t, original, string(data))
}

func TestApplyUpdate_YAMLTabsRejected(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("key: value"), 0644))

	a := newTestApplier(t, newFakeStore())
	u := update(path, types.ChangeAppend, "nested:\n\tbad: true", 0.9)
	u.ID = "u1"

	err := a.ApplyUpdate(context.Background(), u)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tab")
}

func TestApplyUpdate_ConflictMarkersRejected(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "skills.md")

	a := newTestApplier(t, newFakeStore())
	u := update(path, types.ChangeAppend, "<<<<<<< HEAD\nours\n>>>>>>> theirs", 0.9)
	u.ID = "u1"

	err := a.ApplyUpdate(context.Background(), u)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "merge conflict")
}

func TestRollback_RestoresOriginalContent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "skills.md")
	require.NoError(t, os.WriteFile(path, []byte("Original content"), 0644))

	fs := newFakeStore()
	a := newTestApplier(t, fs)
	u := update(path, types.ChangeAppend, "appended", 0.9)
	u.ID = "u1"

	require.NoError(t, a.ApplyUpdate(context.Background(), u))

	backups := a.GetBackups()
	require.Len(t, backups, 1)

	require.NoError(t, a.Rollback(context.Background(), backups[0].ID))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "Original content", string(data))
	assert.Equal(t, types.UpdateRolledBack, fs.statuses["u1"])
}

func TestRollbackUpdate_ByUpdateID(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "skills.md")
	require.NoError(t, os.WriteFile(path, []byte("before"), 0644))

	fs := newFakeStore()
	a := newTestApplier(t, fs)
	u := update(path, types.ChangeAppend, "after", 0.9)
	u.ID = "u1"

	require.NoError(t, a.ApplyUpdate(context.Background(), u))
	require.NoError(t, a.RollbackUpdate(context.Background(), "u1"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "before", string(data))
}

func TestRollback_UnknownIDFails(t *testing.T) {
	a := newTestApplier(t, newFakeStore())

	err := a.Rollback(context.Background(), "nonexistent")
	assert.Error(t, err)

	err = a.RollbackUpdate(context.Background(), "nonexistent")
	assert.Error(t, err)
}

func TestApproveAndApply_BypassesThreshold(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "skills.md")
	fs := newFakeStore(update(path, types.ChangeAppend, "low confidence content", 0.3))
	updateID := fs.pending[0].ID
	a := newTestApplier(t, fs)

	require.NoError(t, a.ApproveAndApply(context.Background(), updateID))

	assert.FileExists(t, path)
	assert.Equal(t, types.UpdateApplied, fs.statuses[updateID])
}

func TestApproveAndApply_UnknownIDFails(t *testing.T) {
	a := newTestApplier(t, newFakeStore())
	err := a.ApproveAndApply(context.Background(), "nonexistent")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no pending update")
}

func TestRejectUpdate(t *testing.T) {
	fs := newFakeStore(update("skills.md", types.ChangeAppend, "x", 0.5))
	updateID := fs.pending[0].ID
	a := newTestApplier(t, fs)

	require.NoError(t, a.RejectUpdate(context.Background(), updateID))
	assert.Equal(t, types.UpdateRejected, fs.statuses[updateID])
}

func TestCleanOldBackups(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "skills.md")

	a := newTestApplier(t, newFakeStore())
	u := update(path, types.ChangeAppend, "content", 0.9)
	u.ID = "u1"
	require.NoError(t, a.ApplyUpdate(context.Background(), u))
	require.Len(t, a.GetBackups(), 1)

	// Recent backups survive.
	cleaned, err := a.CleanOldBackups(30)
	require.NoError(t, err)
	assert.Equal(t, 0, cleaned)
	assert.Len(t, a.GetBackups(), 1)

	// Age the record past the cutoff and clean again.
	a.mu.Lock()
	a.backups[0].CreatedAt = time.Now().AddDate(0, 0, -45)
	backupPath := a.backups[0].BackupPath
	a.mu.Unlock()

	cleaned, err = a.CleanOldBackups(30)
	require.NoError(t, err)
	assert.Equal(t, 1, cleaned)
	assert.Empty(t, a.GetBackups())
	assert.NoFileExists(t, backupPath)
}

func TestCleanOldBackups_MissingFileDropsRecord(t *testing.T) {
	dir := t.TempDir()
	a := newTestApplier(t, newFakeStore())
	u := update(filepath.Join(dir, "skills.md"), types.ChangeAppend, "content", 0.9)
	u.ID = "u1"
	require.NoError(t, a.ApplyUpdate(context.Background(), u))

	a.mu.Lock()
	a.backups[0].CreatedAt = time.Now().AddDate(0, 0, -45)
	require.NoError(t, os.Remove(a.backups[0].BackupPath))
	a.mu.Unlock()

	cleaned, err := a.CleanOldBackups(30)
	require.NoError(t, err)
	assert.Equal(t, 0, cleaned)
	assert.Empty(t, a.GetBackups())
}

func TestCleanOldBackups_RemoveFailureKeepsIndexConsistent(t *testing.T) {
	dir := t.TempDir()
	a := newTestApplier(t, newFakeStore())

	for i, name := range []string{"a.md", "b.md", "c.md"} {
		u := update(filepath.Join(dir, name), types.ChangeAppend, "content", 0.9)
		u.ID = fmt.Sprintf("u%d", i)
		require.NoError(t, a.ApplyUpdate(context.Background(), u))
	}
	require.Len(t, a.GetBackups(), 3)

	a.mu.Lock()
	// First record: past the cutoff with its file already gone.
	a.backups[0].CreatedAt = time.Now().AddDate(0, 0, -45)
	require.NoError(t, os.Remove(a.backups[0].BackupPath))
	// Third record: past the cutoff, but removal fails because the path is
	// now a non-empty directory.
	a.backups[2].CreatedAt = time.Now().AddDate(0, 0, -45)
	require.NoError(t, os.Remove(a.backups[2].BackupPath))
	require.NoError(t, os.MkdirAll(filepath.Join(a.backups[2].BackupPath, "child"), 0755))
	freshID := a.backups[1].ID
	failedID := a.backups[2].ID
	a.mu.Unlock()

	cleaned, err := a.CleanOldBackups(30)
	require.Error(t, err)
	assert.Equal(t, 0, cleaned)

	// The fresh record appears exactly once, the already-gone record is
	// dropped, and the failed record survives for the next run.
	backups := a.GetBackups()
	require.Len(t, backups, 2)
	assert.Equal(t, freshID, backups[0].ID)
	assert.Equal(t, failedID, backups[1].ID)
}

func TestApplyUpdate_BookkeepingFailureRollsBackPending(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "skills.md")
	require.NoError(t, os.WriteFile(path, []byte("original"), 0644))

	fs := newFakeStore(update(path, types.ChangeAppend, "appended", 0.9))
	updateID := fs.pending[0].ID
	failing := &failingMarkStore{fakeStore: fs, markErr: errors.New("database is locked")}
	a := newTestApplier(t, failing)

	err := a.ApplyUpdate(context.Background(), fs.pending[0])
	require.Error(t, err)

	// The target is restored and the never-applied update ends rolled back,
	// so the next batch run does not retry it.
	data, readErr := os.ReadFile(path)
	require.NoError(t, readErr)
	assert.Equal(t, "original", string(data))
	assert.Equal(t, types.UpdateRolledBack, fs.statuses[updateID])

	pending, err := fs.GetPendingUpdates(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestCreateUpdateProposal(t *testing.T) {
	success := CreateUpdateProposal("skills.md", types.Pattern{
		Context:    "database migrations",
		Action:     "run in a transaction",
		Outcome:    types.OutcomeSuccess,
		Frequency:  7,
		Confidence: 0.9,
	})
	assert.Equal(t, "### database migrations\nrun in a transaction", success.Content)
	assert.Equal(t, types.ChangeAppend, success.ChangeType)
	assert.Equal(t, 0.9, success.Confidence)
	assert.Contains(t, success.Reason, "7 successful")

	failure := CreateUpdateProposal("skills.md", types.Pattern{
		Context:    "force pushes",
		Action:     "push directly to main",
		Outcome:    types.OutcomeFailure,
		Frequency:  3,
		Confidence: 0.8,
	})
	assert.Equal(t, "### Avoid: force pushes\n**Do not:** push directly to main", failure.Content)
	assert.Contains(t, failure.Reason, "3 failures")
}

func TestQueueForReview(t *testing.T) {
	fs := newFakeStore()
	a := newTestApplier(t, fs)

	id, err := a.QueueForReview(context.Background(), update("skills.md", types.ChangeAppend, "x", 0.5))
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.Equal(t, types.UpdatePending, fs.statuses[id])
}

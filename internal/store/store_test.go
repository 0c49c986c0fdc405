package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clhuang/ticketd/internal/task"
)

func intPtr(v int) *int { return &v }

func newTestTask(owner string) *task.Task {
	date := task.TodayInTaiwan().AddDate(0, 0, 10).Format(task.DateLayout)
	return &task.Task{
		OwnerID:         owner,
		FromStation:     2,
		ToStation:       7,
		Date:            date,
		AdultCount:      intPtr(1),
		IntervalMinutes: 5,
		Status:          task.StatusPending,
		CreatedAt:       time.Now().UTC(),
	}
}

func setupTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scheduler.json")
	s, err := New(path, true)
	require.NoError(t, err)
	return s, path
}

func TestAddTask_AssignsID(t *testing.T) {
	s, path := setupTestStore(t)

	id, err := s.AddTask(newTestTask("alice"))

	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.FileExists(t, path)

	got, ok := s.GetTask(id)
	require.True(t, ok)
	assert.Equal(t, "alice", got.OwnerID)
}

func TestAddTask_KeepsExistingID(t *testing.T) {
	s, _ := setupTestStore(t)
	tk := newTestTask("alice")
	tk.ID = "fixed-id"

	id, err := s.AddTask(tk)

	require.NoError(t, err)
	assert.Equal(t, "fixed-id", id)
}

func TestAddTask_SurfacesPersistError(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "scheduler.json")
	s, err := New(path, true)
	require.NoError(t, err)

	// A directory squatting on the storage path makes the rename fail.
	require.NoError(t, os.Mkdir(path, 0o755))

	_, err = s.AddTask(newTestTask("alice"))

	assert.Error(t, err)
}

func TestGetTask_ReloadsOnCacheMiss(t *testing.T) {
	s1, path := setupTestStore(t)

	s2, err := New(path, true)
	require.NoError(t, err)

	id, err := s1.AddTask(newTestTask("alice"))
	require.NoError(t, err)

	// s2 has never seen the task; the miss must trigger a reload.
	got, ok := s2.GetTask(id)
	require.True(t, ok)
	assert.Equal(t, "alice", got.OwnerID)
}

func TestGetTask_NotFound(t *testing.T) {
	s, _ := setupTestStore(t)

	_, ok := s.GetTask("no-such-task")

	assert.False(t, ok)
}

func TestListTasks_ExcludesDeleted(t *testing.T) {
	s, _ := setupTestStore(t)
	id1, _ := s.AddTask(newTestTask("alice"))
	deleted := newTestTask("alice")
	deleted.Status = task.StatusDeleted
	_, _ = s.AddTask(deleted)

	visible := s.ListTasks(false, false)
	all := s.ListTasks(false, true)

	require.Len(t, visible, 1)
	assert.Equal(t, id1, visible[0].ID)
	assert.Len(t, all, 2)
}

func TestMissingFileYieldsEmptySet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nope", "scheduler.json")

	s, err := New(path, true)

	require.NoError(t, err)
	assert.Empty(t, s.ListTasks(true, true))
}

func TestCorruptedFileIsBackedUp(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "scheduler.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	s, err := New(path, true)

	require.NoError(t, err)
	assert.Empty(t, s.ListTasks(false, true))
	assert.FileExists(t, path+corruptedSuffix)
	assert.NoFileExists(t, path)
}

func TestEmptyFileYieldsEmptySet(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "scheduler.json")
	require.NoError(t, os.WriteFile(path, nil, 0o600))

	s, err := New(path, true)

	require.NoError(t, err)
	assert.Empty(t, s.ListTasks(false, true))
	assert.NoFileExists(t, path+corruptedSuffix)
}

func TestSaveLeavesNoCompanionFiles(t *testing.T) {
	s, path := setupTestStore(t)
	_, err := s.AddTask(newTestTask("alice"))
	require.NoError(t, err)

	assert.NoFileExists(t, path+tmpSuffix)
	assert.NoFileExists(t, path+lockSuffix)
}

func TestSaveSkippedWhenLockHeld(t *testing.T) {
	s, path := setupTestStore(t)
	id, err := s.AddTask(newTestTask("alice"))
	require.NoError(t, err)

	before, err := os.ReadFile(path)
	require.NoError(t, err)

	// Another process holds the lock for the whole bounded-retry window.
	require.NoError(t, os.WriteFile(path+lockSuffix, nil, 0o644))
	defer func() { _ = os.Remove(path + lockSuffix) }()

	_, ok := s.UpdateTask(id, func(tk *task.Task) { tk.Status = task.StatusCancelled })
	require.True(t, ok)

	after, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, before, after, "no write may happen without the lock")

	// In-memory state is retained for the next cycle.
	got, ok := s.GetTask(id)
	require.True(t, ok)
	assert.Equal(t, task.StatusCancelled, got.Status)
}

func TestUpdateTask_PersistsAndReturnsCopy(t *testing.T) {
	s, path := setupTestStore(t)
	id, _ := s.AddTask(newTestTask("alice"))

	updated, ok := s.UpdateTask(id, func(tk *task.Task) { tk.Attempts = 3 })

	require.True(t, ok)
	assert.Equal(t, 3, updated.Attempts)

	// Mutating the returned copy must not leak into the store.
	updated.Attempts = 99
	got, _ := s.GetTask(id)
	assert.Equal(t, 3, got.Attempts)

	// The update reached the file without an explicit Save.
	fresh, err := New(path, true)
	require.NoError(t, err)
	onDisk, ok := fresh.GetTask(id)
	require.True(t, ok)
	assert.Equal(t, 3, onDisk.Attempts)
}

func TestUpdateTask_NotFound(t *testing.T) {
	s, _ := setupTestStore(t)

	_, ok := s.UpdateTask("no-such-task", func(tk *task.Task) {})

	assert.False(t, ok)
}

func TestAccessorsReturnCopies(t *testing.T) {
	s, _ := setupTestStore(t)
	id, _ := s.AddTask(newTestTask("alice"))

	got, _ := s.GetTask(id)
	got.Status = task.StatusCancelled
	listed := s.ListTasks(false, false)
	require.Len(t, listed, 1)
	listed[0].Status = task.StatusCancelled

	fresh, _ := s.GetTask(id)
	assert.Equal(t, task.StatusPending, fresh.Status,
		"mutating a handed-out task must not touch the store")
}

func TestCancelTask(t *testing.T) {
	s, _ := setupTestStore(t)
	id, _ := s.AddTask(newTestTask("alice"))

	assert.True(t, s.CancelTask(id, "alice"))

	got, _ := s.GetTask(id)
	assert.Equal(t, task.StatusCancelled, got.Status)
}

func TestCancelTask_OwnershipMismatch(t *testing.T) {
	s, _ := setupTestStore(t)
	id, _ := s.AddTask(newTestTask("alice"))

	assert.False(t, s.CancelTask(id, "bob"))

	got, _ := s.GetTask(id)
	assert.Equal(t, task.StatusPending, got.Status, "status must be unchanged")
}

func TestCancelTask_PrivilegedCaller(t *testing.T) {
	s, _ := setupTestStore(t)
	id, _ := s.AddTask(newTestTask("alice"))

	assert.True(t, s.CancelTask(id, ""))
}

func TestCancelTask_NotFound(t *testing.T) {
	s, _ := setupTestStore(t)

	assert.False(t, s.CancelTask("no-such-task", "alice"))
}

func TestCancelTask_TerminalStatusUntouched(t *testing.T) {
	s, _ := setupTestStore(t)
	tk := newTestTask("alice")
	tk.Status = task.StatusSuccess
	id, _ := s.AddTask(tk)

	assert.False(t, s.CancelTask(id, "alice"))

	got, _ := s.GetTask(id)
	assert.Equal(t, task.StatusSuccess, got.Status)
}

func TestRemoveTask_SoftDeletes(t *testing.T) {
	s, path := setupTestStore(t)
	id, _ := s.AddTask(newTestTask("alice"))

	assert.True(t, s.RemoveTask(id, "alice"))

	got, ok := s.GetTask(id)
	require.True(t, ok, "record is retained, not erased")
	assert.Equal(t, task.StatusDeleted, got.Status)

	// The record survives in the persisted file too.
	buf, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(buf), id)
}

func TestRemoveTask_OwnershipMismatch(t *testing.T) {
	s, _ := setupTestStore(t)
	id, _ := s.AddTask(newTestTask("alice"))

	assert.False(t, s.RemoveTask(id, "bob"))

	got, _ := s.GetTask(id)
	assert.Equal(t, task.StatusPending, got.Status)
}

func TestPurgeDeleted(t *testing.T) {
	s, path := setupTestStore(t)

	old := newTestTask("alice")
	old.Status = task.StatusDeleted
	stale := time.Now().UTC().Add(-2 * time.Hour)
	old.LastAttempt = &stale
	oldID, _ := s.AddTask(old)

	fresh := newTestTask("alice")
	fresh.Status = task.StatusDeleted
	recent := time.Now().UTC().Add(-10 * time.Minute)
	fresh.LastAttempt = &recent
	freshID, _ := s.AddTask(fresh)

	purged := s.PurgeDeleted(time.Hour)

	assert.Equal(t, 1, purged)
	_, ok := s.GetTask(freshID)
	assert.True(t, ok, "recently deleted task is retained")

	buf, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(buf), oldID, "purged task must leave the persisted file")
	assert.Contains(t, string(buf), freshID)
}

func TestPurgeDeleted_IgnoresOtherStatuses(t *testing.T) {
	s, _ := setupTestStore(t)
	tk := newTestTask("alice")
	stale := time.Now().UTC().Add(-3 * time.Hour)
	tk.LastAttempt = &stale
	id, _ := s.AddTask(tk)

	assert.Equal(t, 0, s.PurgeDeleted(time.Hour))
	_, ok := s.GetTask(id)
	assert.True(t, ok)
}

func TestPurgeDeleted_RepurgesRecordsMergedBackFromDisk(t *testing.T) {
	s1, path := setupTestStore(t)
	gone := newTestTask("alice")
	gone.Status = task.StatusDeleted
	stale := time.Now().UTC().Add(-2 * time.Hour)
	gone.LastAttempt = &stale
	id, _ := s1.AddTask(gone)

	// A second process loads the record before s1 purges it.
	s2, err := New(path, true)
	require.NoError(t, err)
	require.Equal(t, 1, s1.PurgeDeleted(time.Hour))

	// s2's save merges its stale memory back in, resurrecting the record.
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, s2.Save())

	// The next sweep drops it again.
	s1.ListTasks(true, true)
	assert.Equal(t, 1, s1.PurgeDeleted(time.Hour))

	s3, err := New(path, true)
	require.NoError(t, err)
	_, ok := s3.GetTask(id)
	assert.False(t, ok)
}

func TestSaveMergesConcurrentFileChange(t *testing.T) {
	s1, path := setupTestStore(t)
	id, err := s1.AddTask(newTestTask("alice"))
	require.NoError(t, err)

	// A second process marks the task successful and saves.
	s2, err := New(path, true)
	require.NoError(t, err)
	time.Sleep(10 * time.Millisecond) // ensure the file mtime advances
	pnr := "ABC123"
	_, ok := s2.UpdateTask(id, func(tk *task.Task) {
		tk.Status = task.StatusSuccess
		tk.SuccessPNR = &pnr
	})
	require.True(t, ok)

	// s1 still believes the task is pending; its save must not revert the
	// concurrent success.
	require.NoError(t, s1.Save())

	s3, err := New(path, true)
	require.NoError(t, err)
	got, ok := s3.GetTask(id)
	require.True(t, ok)
	assert.Equal(t, task.StatusSuccess, got.Status)
	require.NotNil(t, got.SuccessPNR)
	assert.Equal(t, "ABC123", *got.SuccessPNR)
}

func TestSaveMergeKeepsDiskOnlyAndMemoryOnlyTasks(t *testing.T) {
	s1, path := setupTestStore(t)
	id1, err := s1.AddTask(newTestTask("alice"))
	require.NoError(t, err)

	s2, err := New(path, true)
	require.NoError(t, err)
	time.Sleep(10 * time.Millisecond)
	id2, err := s2.AddTask(newTestTask("bob"))
	require.NoError(t, err)

	// s1 adds a third task; its save must union all three.
	time.Sleep(10 * time.Millisecond)
	id3, err := s1.AddTask(newTestTask("carol"))
	require.NoError(t, err)

	s3, err := New(path, true)
	require.NoError(t, err)
	for _, id := range []string{id1, id2, id3} {
		_, ok := s3.GetTask(id)
		assert.True(t, ok, "task %s missing after merge", id)
	}
}

func TestAttemptsNeverDecreaseAcrossSaves(t *testing.T) {
	s1, path := setupTestStore(t)
	id, err := s1.AddTask(newTestTask("alice"))
	require.NoError(t, err)

	// Another process runs the task five times.
	s2, err := New(path, true)
	require.NoError(t, err)
	later := time.Now().UTC()
	time.Sleep(10 * time.Millisecond)
	_, ok := s2.UpdateTask(id, func(tk *task.Task) {
		tk.Attempts = 5
		tk.LastAttempt = &later
	})
	require.True(t, ok)

	// s1's stale copy has fewer attempts; saving must not roll them back.
	require.NoError(t, s1.Save())

	s3, err := New(path, true)
	require.NoError(t, err)
	got, _ := s3.GetTask(id)
	assert.GreaterOrEqual(t, got.Attempts, 5)
}

func TestMemoryOnlyStore(t *testing.T) {
	s, err := New("", false)
	require.NoError(t, err)

	id, err := s.AddTask(newTestTask("alice"))
	require.NoError(t, err)

	_, ok := s.GetTask(id)
	assert.True(t, ok)
	assert.Empty(t, s.Path())
}

func TestStatusSummary(t *testing.T) {
	s, path := setupTestStore(t)
	_, _ = s.AddTask(newTestTask("alice"))
	done := newTestTask("bob")
	done.Status = task.StatusSuccess
	_, _ = s.AddTask(done)

	sum := s.Status()

	assert.Equal(t, path, sum.StoragePath)
	assert.Equal(t, 2, sum.TotalTasks)
	assert.Equal(t, 1, sum.Counts[task.StatusPending])
	assert.Equal(t, 1, sum.Counts[task.StatusSuccess])
}

func TestPersistedFileFormat(t *testing.T) {
	s, path := setupTestStore(t)
	_, err := s.AddTask(newTestTask("alice"))
	require.NoError(t, err)

	buf, err := os.ReadFile(path)
	require.NoError(t, err)

	var data struct {
		Tasks       []json.RawMessage `json:"tasks"`
		LastUpdated string            `json:"last_updated"`
	}
	require.NoError(t, json.Unmarshal(buf, &data))
	assert.Len(t, data.Tasks, 1)
	parsed, err := time.Parse(time.RFC3339Nano, data.LastUpdated)
	require.NoError(t, err)
	assert.Equal(t, time.UTC, parsed.Location())
}

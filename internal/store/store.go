// Package store implements the durable task store: a single JSON file shared
// by the writer daemon, read-mostly front-ends and the watchdog. Writes are
// atomic (temp file + rename), guarded by a create-only lock file, and merged
// against concurrent modifications before replacing the file.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/clhuang/ticketd/internal/task"
)

const (
	tmpSuffix       = ".tmp"
	lockSuffix      = ".lock"
	corruptedSuffix = ".corrupted"
)

// DefaultPurgeGrace is how long a soft-deleted task is retained after its
// last update before a purge sweep removes it for good.
const DefaultPurgeGrace = time.Hour

type fileData struct {
	Tasks       []task.Record `json:"tasks"`
	LastUpdated string        `json:"last_updated"`
}

// Store is the single source of truth for the task set. The in-memory map is
// authoritative between loads within one process; the backing file plus its
// lock file is authoritative across processes. Accessors hand out copies;
// every mutation of stored state goes through UpdateTask, CancelTask or
// RemoveTask under the store lock.
type Store struct {
	mu      sync.Mutex
	path    string
	persist bool
	lock    fileLock
	tasks   map[string]*task.Task
	fileMod time.Time
}

// Summary is the aggregate view exposed to front-ends and the watchdog.
type Summary struct {
	StoragePath string              `json:"storage_path"`
	TotalTasks  int                 `json:"total_tasks"`
	Counts      map[task.Status]int `json:"counts"`
}

// New opens (or creates the directory for) the store at path and loads any
// existing task set. With persist=false the store is memory-only, which the
// tests and dry runs use.
func New(path string, persist bool) (*Store, error) {
	s := &Store{
		path:    path,
		persist: persist && path != "",
		tasks:   make(map[string]*task.Task),
	}
	if s.persist {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create storage directory: %w", err)
		}
		s.lock = fileLock{path: path + lockSuffix}
		s.loadLocked()
	}
	return s, nil
}

// Path returns the storage location, empty for memory-only stores.
func (s *Store) Path() string {
	if !s.persist {
		return ""
	}
	return s.path
}

// AddTask inserts the task, assigning an id if it has none, and persists
// immediately. Duplicate submission content is the caller's problem; every
// add is a distinct task.
func (s *Store) AddTask(t *task.Task) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	s.tasks[t.ID] = t.Clone()
	err := s.saveLocked()
	if err != nil {
		log.Printf("Added task %s but failed to persist it: %v", t.ID, err)
	} else {
		log.Printf("Added new booking task: %s", t.ID)
	}
	return t.ID, err
}

// GetTask returns a copy of the task by id. It reloads from disk only when
// the id is unknown in cache, keeping hot paths off the filesystem.
func (s *Store) GetTask(id string) (*task.Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tasks[id]; !ok {
		s.loadLocked()
	}
	t, ok := s.tasks[id]
	if !ok {
		return nil, false
	}
	return t.Clone(), true
}

// UpdateTask applies mutate to the stored task under the lock and persists
// the result, returning a copy of the updated task. The callback is the only
// way to reach the live task, so concurrent readers never observe a half
// written transition and the callback can re-check the current status before
// committing one.
func (s *Store) UpdateTask(id string, mutate func(*task.Task)) (*task.Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tasks[id]; !ok {
		s.loadLocked()
	}
	t, ok := s.tasks[id]
	if !ok {
		return nil, false
	}
	mutate(t)
	if err := s.saveLocked(); err != nil {
		log.Printf("Failed to persist update of %s: %v", id, err)
	}
	return t.Clone(), true
}

// ListTasks returns copies of all tasks, reloading when the cache is empty
// or forceReload is set. Soft-deleted tasks are excluded unless asked for.
func (s *Store) ListTasks(forceReload, includeDeleted bool) []*task.Task {
	s.mu.Lock()
	defer s.mu.Unlock()

	if forceReload || len(s.tasks) == 0 {
		s.loadLocked()
	}

	out := make([]*task.Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		if !includeDeleted && t.Status == task.StatusDeleted {
			continue
		}
		out = append(out, t.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// CancelTask sets the task to cancelled. With a non-empty ownerID the task
// must belong to that owner; an empty ownerID is the privileged internal
// path. Returns false for not-found, ownership mismatch, or a task already
// in a terminal status.
func (s *Store) CancelTask(id, ownerID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.loadLocked()
	t, ok := s.tasks[id]
	if !ok {
		log.Printf("Cancel failed, task not found: %s", id)
		return false
	}
	if ownerID != "" && t.OwnerID != ownerID {
		log.Printf("Cancel denied, task %s not owned by %s", id, ownerID)
		return false
	}
	if t.Status.IsTerminal() {
		log.Printf("Cancel skipped, task %s already %s", id, t.Status)
		return false
	}
	t.Status = task.StatusCancelled
	if err := s.saveLocked(); err != nil {
		log.Printf("Failed to persist cancellation of %s: %v", id, err)
	}
	log.Printf("Cancelled task: %s", id)
	return true
}

// RemoveTask soft-deletes the task: the record stays in the file until a
// purge sweep drops it after the grace period. Same ownership rules as
// CancelTask.
func (s *Store) RemoveTask(id, ownerID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.loadLocked()
	t, ok := s.tasks[id]
	if !ok {
		log.Printf("Remove failed, task not found: %s", id)
		return false
	}
	if ownerID != "" && t.OwnerID != ownerID {
		log.Printf("Remove denied, task %s not owned by %s", id, ownerID)
		return false
	}
	t.Status = task.StatusDeleted
	if err := s.saveLocked(); err != nil {
		log.Printf("Failed to persist removal of %s: %v", id, err)
	}
	log.Printf("Removed task: %s", id)
	return true
}

// PurgeDeleted drops soft-deleted tasks whose last update is older than the
// grace period and persists the shrunken set. Returns how many were purged.
func (s *Store) PurgeDeleted(grace time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-grace)
	purged := 0
	for id, t := range s.tasks {
		if t.Status != task.StatusDeleted {
			continue
		}
		if lastUpdate(t).Before(cutoff) {
			delete(s.tasks, id)
			purged++
			log.Printf("Purged deleted task: %s", id)
		}
	}
	if purged > 0 {
		if err := s.saveLocked(); err != nil {
			log.Printf("Failed to persist purge: %v", err)
		}
	}
	return purged
}

// Save persists the current task set. Safe to call from the scheduling loop
// after every scan; failures keep the in-memory state for the next cycle.
func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked()
}

// Status reports the aggregate task counts and storage location.
func (s *Store) Status() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()

	sum := Summary{
		StoragePath: s.path,
		TotalTasks:  len(s.tasks),
		Counts:      make(map[task.Status]int),
	}
	for _, t := range s.tasks {
		sum.Counts[t.Status]++
	}
	return sum
}

// lastUpdate approximates when the task last changed: the last attempt if it
// ever ran, otherwise its creation time.
func lastUpdate(t *task.Task) time.Time {
	if t.LastAttempt != nil {
		return *t.LastAttempt
	}
	return t.CreatedAt
}

// loadLocked reads the backing file and merges its tasks into memory. Caller
// holds s.mu. Missing files mean an empty set; a file that fails to parse is
// renamed aside and the store continues. Reads attempt the lock but proceed
// without it when acquisition fails.
func (s *Store) loadLocked() {
	if !s.persist {
		return
	}

	if release, ok := s.lock.acquire(); ok {
		defer release()
	} else {
		log.Printf("Proceeding with unlocked read of %s", s.path)
	}

	info, err := os.Stat(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return
	}
	if err != nil {
		log.Printf("Failed to stat storage file: %v", err)
		return
	}

	disk, err := s.readFile()
	if err != nil {
		log.Printf("Failed to parse storage file, backing it up: %v", err)
		backup := s.path + corruptedSuffix
		if renameErr := os.Rename(s.path, backup); renameErr != nil {
			log.Printf("Failed to back up corrupted file: %v", renameErr)
		} else {
			log.Printf("Corrupted file backed up to %s", backup)
		}
		return
	}

	s.tasks = mergeTasks(s.tasks, disk)
	s.fileMod = info.ModTime()
}

// saveLocked atomically replaces the backing file with the in-memory set.
// Caller holds s.mu. If the file changed since our last observation, its
// content is merged in first so another process's progress is not clobbered.
// When the lock cannot be acquired the write is skipped for this cycle; a
// partial or unlocked write is never attempted.
func (s *Store) saveLocked() error {
	if !s.persist {
		return nil
	}

	release, ok := s.lock.acquire()
	if !ok {
		log.Printf("Could not acquire store lock, skipping save of %s", s.path)
		return nil
	}
	defer release()

	if info, err := os.Stat(s.path); err == nil && info.ModTime().After(s.fileMod) {
		if disk, err := s.readFile(); err == nil {
			s.tasks = mergeTasks(s.tasks, disk)
		} else {
			log.Printf("Failed to read changed storage file for merge: %v", err)
		}
	}

	records := make([]task.Record, 0, len(s.tasks))
	for _, t := range s.tasks {
		records = append(records, t.ToRecord())
	}
	sort.Slice(records, func(i, j int) bool {
		if records[i].CreatedAt == records[j].CreatedAt {
			return records[i].ID < records[j].ID
		}
		return records[i].CreatedAt < records[j].CreatedAt
	})

	data := fileData{
		Tasks:       records,
		LastUpdated: time.Now().UTC().Format(time.RFC3339Nano),
	}
	buf, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		log.Printf("Failed to serialize tasks: %v", err)
		return err
	}

	tmp := s.path + tmpSuffix
	if err := os.WriteFile(tmp, buf, 0o600); err != nil {
		log.Printf("Failed to write temp storage file: %v", err)
		return err
	}
	if err := os.Rename(tmp, s.path); err != nil {
		log.Printf("Failed to replace storage file: %v", err)
		return err
	}
	if info, err := os.Stat(s.path); err == nil {
		s.fileMod = info.ModTime()
	}
	return nil
}

// readFile parses the backing file into a task map. Empty files parse as an
// empty set, matching a store that has never saved.
func (s *Store) readFile() (map[string]*task.Task, error) {
	buf, err := os.ReadFile(s.path)
	if err != nil {
		return nil, err
	}
	tasks := make(map[string]*task.Task)
	if len(buf) == 0 {
		return tasks, nil
	}

	var data fileData
	if err := json.Unmarshal(buf, &data); err != nil {
		return nil, err
	}
	for _, r := range data.Tasks {
		t, err := task.FromRecord(r)
		if err != nil {
			log.Printf("Skipping bad task record: %v", err)
			continue
		}
		tasks[t.ID] = t
	}
	return tasks, nil
}

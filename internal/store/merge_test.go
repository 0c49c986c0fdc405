package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clhuang/ticketd/internal/task"
)

func mergeFixture(id string, status task.Status, attempts int, last *time.Time) *task.Task {
	return &task.Task{
		ID:          id,
		FromStation: 1,
		ToStation:   2,
		Date:        "2026/09/15",
		Status:      status,
		Attempts:    attempts,
		LastAttempt: last,
	}
}

func TestMerge_TerminalInMemoryWins(t *testing.T) {
	later := time.Now().UTC()
	mem := map[string]*task.Task{"x": mergeFixture("x", task.StatusSuccess, 3, nil)}
	disk := map[string]*task.Task{"x": mergeFixture("x", task.StatusPending, 9, &later)}

	out := mergeTasks(mem, disk)

	require.Contains(t, out, "x")
	assert.Equal(t, task.StatusSuccess, out["x"].Status)
}

func TestMerge_TerminalOnDiskWins(t *testing.T) {
	later := time.Now().UTC()
	mem := map[string]*task.Task{"x": mergeFixture("x", task.StatusPending, 9, &later)}
	disk := map[string]*task.Task{"x": mergeFixture("x", task.StatusCancelled, 1, nil)}

	out := mergeTasks(mem, disk)

	assert.Equal(t, task.StatusCancelled, out["x"].Status)
}

func TestMerge_LaterAttemptWins(t *testing.T) {
	early := time.Now().UTC().Add(-time.Hour)
	late := time.Now().UTC()
	mem := map[string]*task.Task{"x": mergeFixture("x", task.StatusPending, 2, &early)}
	disk := map[string]*task.Task{"x": mergeFixture("x", task.StatusRunning, 3, &late)}

	out := mergeTasks(mem, disk)

	assert.Equal(t, task.StatusRunning, out["x"].Status)
	assert.Equal(t, 3, out["x"].Attempts)
}

func TestMerge_TieBreaksOnAttempts(t *testing.T) {
	now := time.Now().UTC()
	mem := map[string]*task.Task{"x": mergeFixture("x", task.StatusPending, 2, &now)}
	disk := map[string]*task.Task{"x": mergeFixture("x", task.StatusWaiting, 5, &now)}

	out := mergeTasks(mem, disk)

	assert.Equal(t, task.StatusWaiting, out["x"].Status)
	assert.Equal(t, 5, out["x"].Attempts)
}

func TestMerge_FullTieKeepsMemory(t *testing.T) {
	mem := map[string]*task.Task{"x": mergeFixture("x", task.StatusPending, 2, nil)}
	disk := map[string]*task.Task{"x": mergeFixture("x", task.StatusWaiting, 2, nil)}

	out := mergeTasks(mem, disk)

	assert.Equal(t, task.StatusPending, out["x"].Status)
}

func TestMerge_AttemptsNeverDecrease(t *testing.T) {
	later := time.Now().UTC()
	// Memory wins on recency but ran fewer times than the disk copy claims.
	mem := map[string]*task.Task{"x": mergeFixture("x", task.StatusPending, 1, &later)}
	disk := map[string]*task.Task{"x": mergeFixture("x", task.StatusPending, 4, nil)}

	out := mergeTasks(mem, disk)

	assert.Equal(t, task.StatusPending, out["x"].Status)
	assert.Equal(t, 4, out["x"].Attempts, "merge must keep the highest attempt count")
}

func TestMerge_UnionsBothSides(t *testing.T) {
	mem := map[string]*task.Task{"m": mergeFixture("m", task.StatusPending, 0, nil)}
	disk := map[string]*task.Task{"d": mergeFixture("d", task.StatusPending, 0, nil)}

	out := mergeTasks(mem, disk)

	assert.Len(t, out, 2)
	assert.Contains(t, out, "m")
	assert.Contains(t, out, "d")
}

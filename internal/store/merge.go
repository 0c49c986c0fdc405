package store

import (
	"time"

	"github.com/clhuang/ticketd/internal/task"
)

// mergeTasks reconciles the in-memory task set with a version read from
// disk. Precedence, per task id:
//   - a terminal copy (success, cancelled, deleted) beats a non-terminal
//     one, memory first: a completed outcome is never silently reverted
//   - otherwise the copy with the later last attempt wins; tied or absent,
//     the higher attempt count; still tied, memory
//
// Tasks present on only one side are kept. The attempt counter of the
// winner is raised to the loser's if the loser ran more, so attempts never
// decrease across a merge.
func mergeTasks(mem, disk map[string]*task.Task) map[string]*task.Task {
	out := make(map[string]*task.Task, len(mem)+len(disk))
	for id, d := range disk {
		out[id] = d
	}
	for id, m := range mem {
		d, ok := out[id]
		if !ok {
			out[id] = m
			continue
		}
		out[id] = resolve(m, d)
	}
	return out
}

func resolve(mem, disk *task.Task) *task.Task {
	winner, loser := pick(mem, disk)
	if loser.Attempts > winner.Attempts {
		winner.Attempts = loser.Attempts
	}
	return winner
}

func pick(mem, disk *task.Task) (winner, loser *task.Task) {
	if mem.Status.IsTerminal() {
		return mem, disk
	}
	if disk.Status.IsTerminal() {
		return disk, mem
	}
	switch {
	case attemptTime(mem).After(attemptTime(disk)):
		return mem, disk
	case attemptTime(disk).After(attemptTime(mem)):
		return disk, mem
	case disk.Attempts > mem.Attempts:
		return disk, mem
	default:
		return mem, disk
	}
}

func attemptTime(t *task.Task) time.Time {
	if t.LastAttempt != nil {
		return *t.LastAttempt
	}
	return time.Time{}
}

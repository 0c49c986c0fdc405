// Package watchdog implements the supervisor that keeps the scheduling loop
// alive, reports aggregate task health, marks overdue tasks expired, and
// purges old soft-deleted tasks. It runs either inside the writer daemon or
// as a standalone process polling the same store.
package watchdog

import (
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/clhuang/ticketd/internal/metrics"
	"github.com/clhuang/ticketd/internal/store"
	"github.com/clhuang/ticketd/internal/task"
)

const (
	DefaultMonitorInterval = 60 * time.Second

	reportSchedule = "@every 30m"
	purgeSchedule  = "@every 1h"
)

// Supervisable is the scheduling loop as the watchdog sees it: something
// whose liveness can be polled and that can be started again if it stopped.
type Supervisable interface {
	Running() bool
	Start()
}

// Config tunes the watchdog. Zero values take the defaults.
type Config struct {
	MonitorInterval time.Duration
	PurgeGrace      time.Duration
}

// Watchdog monitors the store and, when given one, the scheduling loop.
// With a nil Supervisable it runs in standalone mode: health reporting and
// cleanup only, no restarts.
type Watchdog struct {
	store *store.Store
	sched Supervisable
	cfg   Config

	mu      sync.Mutex
	running bool
	stop    chan struct{}
	done    chan struct{}
	cron    *cron.Cron
}

func New(s *store.Store, sched Supervisable, cfg Config) *Watchdog {
	if cfg.MonitorInterval <= 0 {
		cfg.MonitorInterval = DefaultMonitorInterval
	}
	if cfg.PurgeGrace <= 0 {
		cfg.PurgeGrace = store.DefaultPurgeGrace
	}
	return &Watchdog{store: s, sched: sched, cfg: cfg}
}

// Start launches the monitor loop and the periodic report/purge jobs.
func (w *Watchdog) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		log.Println("Watchdog is already running")
		return
	}
	w.running = true
	w.stop = make(chan struct{})
	w.done = make(chan struct{})

	if w.sched != nil && !w.sched.Running() {
		w.sched.Start()
		log.Println("Started booking scheduler")
	}

	w.logStartupSummary()

	w.cron = cron.New()
	if _, err := w.cron.AddFunc(reportSchedule, w.ReportStatus); err != nil {
		log.Printf("Failed to schedule status report: %v", err)
	}
	if _, err := w.cron.AddFunc(purgeSchedule, w.purgeDeleted); err != nil {
		log.Printf("Failed to schedule purge sweep: %v", err)
	}
	w.cron.Start()

	go w.monitor(w.stop, w.done)
	log.Println("Watchdog started")
}

// Stop shuts the watchdog down and waits for the monitor loop to exit. The
// supervised scheduler, if any, is left to its own Stop.
func (w *Watchdog) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	close(w.stop)
	done := w.done
	c := w.cron
	w.mu.Unlock()

	if c != nil {
		c.Stop()
	}
	<-done
	log.Println("Watchdog stopped")
}

// Running reports whether the watchdog is active.
func (w *Watchdog) Running() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

func (w *Watchdog) monitor(stop, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(w.cfg.MonitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if w.sched != nil && !w.sched.Running() {
				log.Println("Scheduler appears to be stopped, restarting...")
				w.sched.Start()
			}
			w.cleanupExpired()
		}
	}
}

// cleanupExpired marks schedulable tasks whose travel date has passed. The
// scheduler does the same during its scans; the watchdog repeats it so a
// wedged loop cannot leave stale tasks pending forever. Each transition
// re-checks the live status under the store lock, so a booking that
// succeeded since the snapshot is never marked expired.
func (w *Watchdog) cleanupExpired() {
	expired := 0
	for _, t := range w.store.ListTasks(true, false) {
		switch t.Status {
		case task.StatusPending, task.StatusWaiting, task.StatusRunning:
		default:
			continue
		}
		if !t.IsExpired() {
			continue
		}
		marked := false
		w.store.UpdateTask(t.ID, func(tk *task.Task) {
			switch tk.Status {
			case task.StatusPending, task.StatusWaiting, task.StatusRunning:
				if tk.IsExpired() {
					tk.Status = task.StatusExpired
					marked = true
				}
			}
		})
		if marked {
			expired++
			log.Printf("Marked task %s as expired (date: %s)", shortID(t.ID), t.Date)
		}
	}
	if expired > 0 {
		metrics.RecordTasksExpired(expired)
	}
}

func (w *Watchdog) purgeDeleted() {
	purged := w.store.PurgeDeleted(w.cfg.PurgeGrace)
	if purged > 0 {
		metrics.RecordTasksPurged(purged)
		log.Printf("Purged %d deleted tasks", purged)
	}
}

// ReportStatus logs the aggregate health of the task set and refreshes the
// status gauges. Runs on the report cadence and once at startup.
func (w *Watchdog) ReportStatus() {
	tasks := w.store.ListTasks(true, true)

	counts := make(map[task.Status]int)
	recent := 0
	successes := 0
	cutoff := time.Now().UTC().Add(-time.Hour)
	for _, t := range tasks {
		counts[t.Status]++
		if t.LastAttempt != nil && t.LastAttempt.After(cutoff) {
			recent++
		}
		if t.Status == task.StatusSuccess && t.SuccessPNR != nil {
			successes++
		}
	}

	metrics.UpdateTaskGauges(counts)
	log.Printf("Status Report - Total: %d, Status: %v, Recent activity: %d tasks", len(tasks), counts, recent)
	if successes > 0 {
		log.Printf("Successful bookings: %d tasks with PNR codes", successes)
	}
}

func (w *Watchdog) logStartupSummary() {
	tasks := w.store.ListTasks(true, false)
	active := make([]*task.Task, 0, len(tasks))
	for _, t := range tasks {
		switch t.Status {
		case task.StatusPending, task.StatusWaiting, task.StatusRunning:
			active = append(active, t)
		}
	}

	log.Printf("Watchdog supervising %d tasks (%d active), storage: %s", len(tasks), len(active), w.store.Path())
	for i, t := range active {
		if i == 5 {
			log.Printf("  ... and %d more", len(active)-5)
			break
		}
		log.Printf("  %s | %s | %s | every %dm", shortID(t.ID), t.Route(), t.Date, t.IntervalMinutes)
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8] + "..."
	}
	return id
}

// Package scheduler runs the polling loop that drives booking attempts: it
// scans the task set on a fixed cadence, applies the status state machine,
// hands due tasks to the execution driver one at a time, and sweeps out old
// soft-deleted tasks.
package scheduler

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/clhuang/ticketd/internal/booking"
	"github.com/clhuang/ticketd/internal/metrics"
	"github.com/clhuang/ticketd/internal/store"
	"github.com/clhuang/ticketd/internal/task"
)

const (
	DefaultScanInterval  = 30 * time.Second
	DefaultErrorBackoff  = 60 * time.Second
	DefaultPurgeInterval = time.Hour
)

// Config tunes the loop cadences. Zero values take the defaults.
type Config struct {
	ScanInterval  time.Duration
	ErrorBackoff  time.Duration
	PurgeInterval time.Duration
	PurgeGrace    time.Duration
}

// Scheduler owns the background scan loop. One instance, explicitly
// constructed and passed to whichever entry point needs it; there is no
// process-wide singleton.
type Scheduler struct {
	store  *store.Store
	driver *booking.Driver
	cfg    Config

	mu        sync.Mutex
	running   bool
	stop      chan struct{}
	done      chan struct{}
	lastPurge time.Time
}

// Status is the aggregate view consumed by front-ends: the loop's running
// flag plus the store summary.
type Status struct {
	Running bool          `json:"running"`
	Store   store.Summary `json:"store"`
}

func New(s *store.Store, d *booking.Driver, cfg Config) *Scheduler {
	if cfg.ScanInterval <= 0 {
		cfg.ScanInterval = DefaultScanInterval
	}
	if cfg.ErrorBackoff <= 0 {
		cfg.ErrorBackoff = DefaultErrorBackoff
	}
	if cfg.PurgeInterval <= 0 {
		cfg.PurgeInterval = DefaultPurgeInterval
	}
	if cfg.PurgeGrace <= 0 {
		cfg.PurgeGrace = store.DefaultPurgeGrace
	}
	return &Scheduler{store: s, driver: d, cfg: cfg}
}

// Start launches the scan loop in a background goroutine. Calling Start on
// a running scheduler is a no-op.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		log.Println("Scheduler is already running")
		return
	}
	s.running = true
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	metrics.SetSchedulerRunning(true)
	go s.loop(s.stop, s.done)
	log.Println("Scheduler started")
}

// Stop signals the loop and waits for it to finish its current cycle. An
// in-flight attempt is not interrupted; cancellation of individual tasks is
// cooperative through their status.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stop)
	done := s.done
	s.mu.Unlock()

	<-done
	metrics.SetSchedulerRunning(false)
	log.Println("Scheduler stopped")
}

// Running reports whether the loop is active. The watchdog polls this.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Status returns the running flag and the store's aggregate counts.
func (s *Scheduler) Status() Status {
	return Status{
		Running: s.Running(),
		Store:   s.store.Status(),
	}
}

func (s *Scheduler) loop(stop, done chan struct{}) {
	defer close(done)

	for {
		err := s.scan(time.Now())
		metrics.RecordScanCycle()

		wait := s.cfg.ScanInterval
		if err != nil {
			metrics.RecordScanError()
			log.Printf("Error in scheduler loop: %v", err)
			wait = s.cfg.ErrorBackoff
		}

		select {
		case <-stop:
			return
		case <-time.After(wait):
		}
	}
}

// scan runs one cycle over a snapshot of the task set. Per task the checks
// are strictly ordered: settled statuses are skipped, then expiry, then the
// attempt limit, then the sale-window gate, then the due-time check. An
// expired task can therefore never be resurrected by a sale-window
// transition. Transitions commit through Store.UpdateTask, whose callback
// re-checks the live status so a concurrent outcome is never overwritten.
func (s *Scheduler) scan(now time.Time) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("scan cycle panic: %v", r)
		}
	}()

	expired := 0
	for _, t := range s.store.ListTasks(false, false) {
		if t.Status.IsSettled() {
			continue
		}

		if t.IsExpired() {
			if s.markExpired(t.ID) {
				expired++
				log.Printf("Task %s expired (date: %s)", t.ID, t.Date)
			}
			continue
		}

		if t.MaxAttempts != nil && t.Attempts >= *t.MaxAttempts {
			stopped := false
			s.store.UpdateTask(t.ID, func(tk *task.Task) {
				if tk.Status.IsSettled() {
					return
				}
				msg := "Maximum attempts reached"
				tk.Status = task.StatusFailed
				tk.ErrorMessage = &msg
				stopped = true
			})
			if stopped {
				log.Printf("Task %s stopped after %d attempts", t.ID, t.Attempts)
			}
			continue
		}

		if !task.SaleOpen(t.Date) {
			if t.Status == task.StatusPending {
				s.store.UpdateTask(t.ID, func(tk *task.Task) {
					if tk.Status == task.StatusPending {
						tk.Status = task.StatusWaiting
					}
				})
				log.Printf("Task %s waiting for ticket sales to open (date: %s)", t.ID, t.Date)
			}
			continue
		}
		if t.Status == task.StatusWaiting {
			s.store.UpdateTask(t.ID, func(tk *task.Task) {
				if tk.Status == task.StatusWaiting {
					tk.Status = task.StatusPending
				}
			})
			log.Printf("Task %s sales window now open (date: %s)", t.ID, t.Date)
		}

		if t.Due(now) {
			s.driver.Execute(context.Background(), t)
		}
	}

	if expired > 0 {
		metrics.RecordTasksExpired(expired)
	}

	saveErr := s.store.Save()

	if time.Since(s.lastPurge) >= s.cfg.PurgeInterval {
		purged := s.store.PurgeDeleted(s.cfg.PurgeGrace)
		if purged > 0 {
			metrics.RecordTasksPurged(purged)
			log.Printf("Purged %d deleted tasks", purged)
		}
		s.lastPurge = now
	}

	metrics.UpdateTaskGauges(s.store.Status().Counts)
	return saveErr
}

// markExpired flips the task to expired unless a concurrent writer settled
// it first.
func (s *Scheduler) markExpired(id string) bool {
	marked := false
	s.store.UpdateTask(id, func(tk *task.Task) {
		if tk.Status.IsSettled() {
			return
		}
		tk.Status = task.StatusExpired
		marked = true
	})
	return marked
}

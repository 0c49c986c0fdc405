// Package booking glues scheduled tasks to the external purchase-attempt
// collaborator. The collaborator is an opaque box that takes the request
// parameters and produces textual output; this package turns a task into a
// request, interprets the output, and writes the outcome back to the store.
package booking

import (
	"context"
	"log"
	"time"

	"github.com/clhuang/ticketd/internal/metrics"
	"github.com/clhuang/ticketd/internal/store"
	"github.com/clhuang/ticketd/internal/task"
)

// Request carries the parameters a single purchase attempt needs.
// NonInteractive is always set by the driver: a scheduled attempt can never
// stop to ask a human anything.
type Request struct {
	FromStation    int
	ToStation      int
	Date           string
	AdultCount     *int
	StudentCount   *int
	DepartTime     *int
	TrainIndex     *int
	SeatPrefer     *int
	ClassType      *int
	PersonalID     *string
	UseMembership  *bool
	NoOCR          bool
	NonInteractive bool
}

// Attempter is the external purchase-attempt collaborator. Attempt blocks
// for the duration of one try and returns whatever it printed; the error is
// treated as an ordinary failed attempt, never escalated.
type Attempter interface {
	Attempt(ctx context.Context, req Request) (output string, err error)
}

// Notifier is told about confirmed bookings. Optional.
type Notifier interface {
	BookingSucceeded(t *task.Task) error
}

// Driver executes one due task at a time against the collaborator.
type Driver struct {
	store     *store.Store
	attempter Attempter
	notifier  Notifier
}

func NewDriver(s *store.Store, a Attempter, n Notifier) *Driver {
	return &Driver{store: s, attempter: a, notifier: n}
}

// Execute runs one attempt for the task. The pre-execution transition
// (running, incremented attempts, stamped last attempt) is persisted before
// the collaborator is invoked, so a crash mid-attempt still counts as
// attempted after restart. Both transitions re-check the stored status under
// the store lock: a terminal outcome recorded by another path is never
// overwritten.
func (d *Driver) Execute(ctx context.Context, t *task.Task) {
	now := time.Now().UTC()
	started := false
	cur, ok := d.store.UpdateTask(t.ID, func(tk *task.Task) {
		if tk.Status.IsTerminal() {
			return
		}
		tk.Status = task.StatusRunning
		tk.LastAttempt = &now
		tk.Attempts++
		started = true
	})
	if !ok || !started {
		return
	}

	log.Printf("Executing task %s (attempt %d)", cur.ID, cur.Attempts)

	start := time.Now()
	output, err := d.attempter.Attempt(ctx, requestFrom(cur))
	elapsed := time.Since(start)

	if pnr, found := ExtractPNR(output); found {
		done, ok := d.store.UpdateTask(t.ID, func(tk *task.Task) {
			tk.SuccessPNR = &pnr
			tk.ErrorMessage = nil
			tk.Status = task.StatusSuccess
		})
		metrics.RecordAttempt("success", elapsed)
		log.Printf("Task %s completed successfully! PNR: %s", t.ID, pnr)
		if ok {
			d.notify(done)
		}
		return
	}

	msg := FailureMessage(output, err)
	failed := false
	d.store.UpdateTask(t.ID, func(tk *task.Task) {
		// Another process may have settled the task meanwhile.
		if tk.Status.IsTerminal() {
			return
		}
		tk.ErrorMessage = &msg
		tk.Status = task.StatusPending
		failed = true
	})
	if !failed {
		return
	}
	metrics.RecordAttempt("failure", elapsed)
	log.Printf("Task %s attempt %d failed: %s", t.ID, cur.Attempts, msg)
}

func (d *Driver) notify(t *task.Task) {
	if d.notifier == nil {
		return
	}
	if err := d.notifier.BookingSucceeded(t); err != nil {
		log.Printf("Failed to send success notification for task %s: %v", t.ID, err)
	}
}

func requestFrom(t *task.Task) Request {
	return Request{
		FromStation:    t.FromStation,
		ToStation:      t.ToStation,
		Date:           t.Date,
		AdultCount:     t.AdultCount,
		StudentCount:   t.StudentCount,
		DepartTime:     t.DepartTime,
		TrainIndex:     t.TrainIndex,
		SeatPrefer:     t.SeatPrefer,
		ClassType:      t.ClassType,
		PersonalID:     t.PersonalID,
		UseMembership:  t.Membership,
		NoOCR:          t.NoOCR,
		NonInteractive: true,
	}
}

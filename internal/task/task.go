// Package task defines the booking task domain model shared by the store,
// scheduler and watchdog. It contains the task fields, the status state
// machine values, validation and serialization helpers.
package task

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusWaiting   Status = "waiting"
	StatusRunning   Status = "running"
	StatusSuccess   Status = "success"
	StatusFailed    Status = "failed"
	StatusExpired   Status = "expired"
	StatusCancelled Status = "cancelled"
	StatusDeleted   Status = "deleted"
)

// ParseStatus maps a wire string to a Status and rejects anything outside
// the closed set.
func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusPending, StatusWaiting, StatusRunning, StatusSuccess,
		StatusFailed, StatusExpired, StatusCancelled, StatusDeleted:
		return Status(s), nil
	}
	return "", fmt.Errorf("unknown task status %q", s)
}

// IsTerminal reports whether the status is an outcome that concurrent
// writers must never revert.
func (s Status) IsTerminal() bool {
	return s == StatusSuccess || s == StatusCancelled || s == StatusDeleted
}

// IsSettled reports whether the task is done being scheduled. Settled but
// non-terminal tasks (failed, expired) are still purgeable and can lose a
// merge against fresher state.
func (s Status) IsSettled() bool {
	return s.IsTerminal() || s == StatusFailed || s == StatusExpired
}

// Task is one scheduled purchase request and its progress record. Request
// parameters are immutable after creation; progress fields are mutated only
// by the scheduler, the execution driver, or an explicit cancel/remove.
type Task struct {
	ID      string
	OwnerID string

	FromStation  int
	ToStation    int
	Date         string
	AdultCount   *int
	StudentCount *int
	DepartTime   *int
	TrainIndex   *int
	SeatPrefer   *int
	ClassType    *int
	PersonalID   *string
	Membership   *bool
	NoOCR        bool

	IntervalMinutes int
	MaxAttempts     *int

	Status       Status
	CreatedAt    time.Time
	LastAttempt  *time.Time
	Attempts     int
	SuccessPNR   *string
	ErrorMessage *string
}

// Params carries the caller-supplied fields for New.
type Params struct {
	OwnerID         string
	FromStation     int
	ToStation       int
	Date            string
	AdultCount      *int
	StudentCount    *int
	DepartTime      *int
	TrainIndex      *int
	SeatPrefer      *int
	ClassType       *int
	PersonalID      string
	UseMembership   *bool
	NoOCR           bool
	IntervalMinutes int
	MaxAttempts     *int
}

// New validates the parameters and builds a pending task. Every rule here
// runs before anything is persisted.
func New(p Params) (*Task, error) {
	personalID := strings.ToUpper(strings.TrimSpace(p.PersonalID))
	if personalID == "" {
		return nil, fmt.Errorf("personal ID is required for booking")
	}
	if len(personalID) != 10 {
		return nil, fmt.Errorf("personal ID must be 10 characters long")
	}
	if p.UseMembership == nil {
		return nil, fmt.Errorf("membership preference must be specified")
	}
	if p.FromStation < 1 || p.FromStation > len(StationMap) {
		return nil, fmt.Errorf("invalid from station: %d (must be 1-%d)", p.FromStation, len(StationMap))
	}
	if p.ToStation < 1 || p.ToStation > len(StationMap) {
		return nil, fmt.Errorf("invalid to station: %d (must be 1-%d)", p.ToStation, len(StationMap))
	}
	if p.FromStation == p.ToStation {
		return nil, fmt.Errorf("departure and arrival stations cannot be the same")
	}

	travel, err := ParseDate(p.Date)
	if err != nil {
		return nil, fmt.Errorf("invalid date format (use YYYY/MM/DD): %s", p.Date)
	}
	if travel.Before(TodayInTaiwan()) {
		return nil, fmt.Errorf("booking date must be in the future: %s", p.Date)
	}

	if p.AdultCount == nil && p.StudentCount == nil {
		return nil, fmt.Errorf("at least one ticket type (adult or student) must be specified")
	}
	adults, students := 0, 0
	if p.AdultCount != nil {
		adults = *p.AdultCount
	}
	if p.StudentCount != nil {
		students = *p.StudentCount
	}
	if adults < 0 || adults > 10 {
		return nil, fmt.Errorf("adult ticket count must be 0-10: %d", adults)
	}
	if students < 0 || students > 10 {
		return nil, fmt.Errorf("student ticket count must be 0-10: %d", students)
	}
	total := adults + students
	if total == 0 {
		return nil, fmt.Errorf("total ticket count must be greater than 0")
	}
	if total > 10 {
		return nil, fmt.Errorf("total ticket count cannot exceed 10")
	}

	if p.DepartTime != nil && (*p.DepartTime < 1 || *p.DepartTime > len(TimeTable)) {
		return nil, fmt.Errorf("invalid time slot: %d (must be 1-%d)", *p.DepartTime, len(TimeTable))
	}
	if p.TrainIndex != nil && *p.TrainIndex < 1 {
		return nil, fmt.Errorf("invalid train index: %d (must be >= 1)", *p.TrainIndex)
	}
	if p.SeatPrefer != nil && (*p.SeatPrefer < 0 || *p.SeatPrefer > 2) {
		return nil, fmt.Errorf("invalid seat preference: %d (must be 0, 1, or 2)", *p.SeatPrefer)
	}
	if p.ClassType != nil && *p.ClassType != 0 && *p.ClassType != 1 {
		return nil, fmt.Errorf("invalid class type: %d (must be 0 or 1)", *p.ClassType)
	}
	if p.IntervalMinutes < 1 {
		return nil, fmt.Errorf("interval must be at least 1 minute: %d", p.IntervalMinutes)
	}
	if p.IntervalMinutes > 60 {
		return nil, fmt.Errorf("interval should not exceed 60 minutes: %d", p.IntervalMinutes)
	}
	if p.MaxAttempts != nil && *p.MaxAttempts < 1 {
		return nil, fmt.Errorf("max attempts must be at least 1: %d", *p.MaxAttempts)
	}

	return &Task{
		ID:              uuid.New().String(),
		OwnerID:         p.OwnerID,
		FromStation:     p.FromStation,
		ToStation:       p.ToStation,
		Date:            p.Date,
		AdultCount:      p.AdultCount,
		StudentCount:    p.StudentCount,
		DepartTime:      p.DepartTime,
		TrainIndex:      p.TrainIndex,
		SeatPrefer:      p.SeatPrefer,
		ClassType:       p.ClassType,
		PersonalID:      &personalID,
		Membership:      p.UseMembership,
		NoOCR:           p.NoOCR,
		IntervalMinutes: p.IntervalMinutes,
		MaxAttempts:     p.MaxAttempts,
		Status:          StatusPending,
		CreatedAt:       time.Now().UTC(),
	}, nil
}

// Clone returns a deep copy. The store hands out clones so callers can read
// them without holding the store lock.
func (t *Task) Clone() *Task {
	c := *t
	c.AdultCount = clonePtr(t.AdultCount)
	c.StudentCount = clonePtr(t.StudentCount)
	c.DepartTime = clonePtr(t.DepartTime)
	c.TrainIndex = clonePtr(t.TrainIndex)
	c.SeatPrefer = clonePtr(t.SeatPrefer)
	c.ClassType = clonePtr(t.ClassType)
	c.PersonalID = clonePtr(t.PersonalID)
	c.Membership = clonePtr(t.Membership)
	c.MaxAttempts = clonePtr(t.MaxAttempts)
	c.LastAttempt = clonePtr(t.LastAttempt)
	c.SuccessPNR = clonePtr(t.SuccessPNR)
	c.ErrorMessage = clonePtr(t.ErrorMessage)
	return &c
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// IsExpired reports whether the travel date has already passed in Taiwan.
// Malformed dates are treated as not expired so a bad record keeps retrying
// instead of silently dying.
func (t *Task) IsExpired() bool {
	travel, err := ParseDate(t.Date)
	if err != nil {
		return false
	}
	return TodayInTaiwan().After(travel)
}

// ShouldStop reports whether the task has nothing left to try: the travel
// date passed or the attempt budget is spent.
func (t *Task) ShouldStop() bool {
	if t.IsExpired() {
		return true
	}
	return t.MaxAttempts != nil && t.Attempts >= *t.MaxAttempts
}

// Due reports whether the task is ready for another attempt at the given
// time. A task that has never been attempted is due immediately.
func (t *Task) Due(now time.Time) bool {
	if t.LastAttempt == nil {
		return true
	}
	return now.Sub(*t.LastAttempt) >= time.Duration(t.IntervalMinutes)*time.Minute
}

// Route renders the origin and destination station names.
func (t *Task) Route() string {
	return fmt.Sprintf("%s -> %s", StationMap[t.FromStation-1], StationMap[t.ToStation-1])
}

package task

import (
	"fmt"
	"time"
)

// Record is the wire and storage representation of a task. Pointer fields
// serialize as null when absent; unknown keys in stored files are ignored.
type Record struct {
	ID              string  `json:"id"`
	UserID          *string `json:"user_id,omitempty"`
	FromStation     int     `json:"from_station"`
	ToStation       int     `json:"to_station"`
	Date            string  `json:"date"`
	AdultCnt        *int    `json:"adult_cnt,omitempty"`
	StudentCnt      *int    `json:"student_cnt,omitempty"`
	Time            *int    `json:"time,omitempty"`
	TrainIndex      *int    `json:"train_index,omitempty"`
	SeatPrefer      *int    `json:"seat_prefer,omitempty"`
	ClassType       *int    `json:"class_type,omitempty"`
	PersonalID      *string `json:"personal_id,omitempty"`
	UseMembership   *bool   `json:"use_membership,omitempty"`
	NoOCR           bool    `json:"no_ocr"`
	IntervalMinutes int     `json:"interval_minutes"`
	MaxAttempts     *int    `json:"max_attempts,omitempty"`
	Status          string  `json:"status"`
	CreatedAt       string  `json:"created_at,omitempty"`
	LastAttempt     *string `json:"last_attempt,omitempty"`
	Attempts        int     `json:"attempts"`
	SuccessPNR      *string `json:"success_pnr,omitempty"`
	ErrorMessage    *string `json:"error_message,omitempty"`
}

// timestampLayouts are tried in order when parsing stored timestamps.
// Offset-less values come from older files and are treated as UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
}

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTimestamp(s string) (time.Time, error) {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

// ToRecord maps the task to its wire form. The mapping is total: every
// field round-trips through FromRecord.
func (t *Task) ToRecord() Record {
	r := Record{
		ID:              t.ID,
		FromStation:     t.FromStation,
		ToStation:       t.ToStation,
		Date:            t.Date,
		AdultCnt:        t.AdultCount,
		StudentCnt:      t.StudentCount,
		Time:            t.DepartTime,
		TrainIndex:      t.TrainIndex,
		SeatPrefer:      t.SeatPrefer,
		ClassType:       t.ClassType,
		PersonalID:      t.PersonalID,
		UseMembership:   t.Membership,
		NoOCR:           t.NoOCR,
		IntervalMinutes: t.IntervalMinutes,
		MaxAttempts:     t.MaxAttempts,
		Status:          string(t.Status),
		Attempts:        t.Attempts,
		SuccessPNR:      t.SuccessPNR,
		ErrorMessage:    t.ErrorMessage,
	}
	if t.OwnerID != "" {
		owner := t.OwnerID
		r.UserID = &owner
	}
	if !t.CreatedAt.IsZero() {
		r.CreatedAt = formatTimestamp(t.CreatedAt)
	}
	if t.LastAttempt != nil {
		ts := formatTimestamp(*t.LastAttempt)
		r.LastAttempt = &ts
	}
	return r
}

// FromRecord rebuilds a task from its wire form. Required keys are id,
// from/to station, date and status; a status outside the closed enum is an
// error rather than carried along as free text.
func FromRecord(r Record) (*Task, error) {
	if r.ID == "" {
		return nil, fmt.Errorf("task record missing id")
	}
	if r.FromStation == 0 || r.ToStation == 0 {
		return nil, fmt.Errorf("task record %s missing stations", r.ID)
	}
	if r.Date == "" {
		return nil, fmt.Errorf("task record %s missing date", r.ID)
	}
	status, err := ParseStatus(r.Status)
	if err != nil {
		return nil, fmt.Errorf("task record %s: %w", r.ID, err)
	}

	t := &Task{
		ID:              r.ID,
		FromStation:     r.FromStation,
		ToStation:       r.ToStation,
		Date:            r.Date,
		AdultCount:      r.AdultCnt,
		StudentCount:    r.StudentCnt,
		DepartTime:      r.Time,
		TrainIndex:      r.TrainIndex,
		SeatPrefer:      r.SeatPrefer,
		ClassType:       r.ClassType,
		PersonalID:      r.PersonalID,
		Membership:      r.UseMembership,
		NoOCR:           r.NoOCR,
		IntervalMinutes: r.IntervalMinutes,
		MaxAttempts:     r.MaxAttempts,
		Status:          status,
		Attempts:        r.Attempts,
		SuccessPNR:      r.SuccessPNR,
		ErrorMessage:    r.ErrorMessage,
	}
	if r.UserID != nil {
		t.OwnerID = *r.UserID
	}
	if r.IntervalMinutes == 0 {
		t.IntervalMinutes = 5
	}
	if r.CreatedAt != "" {
		created, err := parseTimestamp(r.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("task record %s: %w", r.ID, err)
		}
		t.CreatedAt = created
	}
	if r.LastAttempt != nil && *r.LastAttempt != "" {
		last, err := parseTimestamp(*r.LastAttempt)
		if err != nil {
			return nil, fmt.Errorf("task record %s: %w", r.ID, err)
		}
		t.LastAttempt = &last
	}
	return t, nil
}

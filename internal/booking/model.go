package booking

import (
	"time"
)

// ReminderKind selects one of the two independent reminder-sent flags.
type ReminderKind string

const (
	ReminderEarly ReminderKind = "24h"
	ReminderLate  ReminderKind = "1h"
)

type VoteChoice string

const (
	VoteYes VoteChoice = "yes"
	VoteNo  VoteChoice = "no"
)

type User struct {
	ID        int64
	Username  string
	FirstName string
	Phone     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Slot struct {
	ID        int64
	Date      string // DD.MM
	Day       string // day-of-week label
	Time      string // HH:MM
	Available bool
	CreatedAt time.Time
}

// Appointment binds one user to one slot. Date and Time are copies of the
// slot's values taken at booking time.
type Appointment struct {
	ID              int64
	UserID          int64
	SlotID          *int64
	ClientName      string
	Date            string
	Time            string
	Reminder24hSent bool
	Reminder1hSent  bool
	CreatedAt       time.Time
}

func (a Appointment) ReminderSent(kind ReminderKind) bool {
	if kind == ReminderEarly {
		return a.Reminder24hSent
	}
	return a.Reminder1hSent
}

// AppointmentDetail is an appointment joined with its owner's contact info.
type AppointmentDetail struct {
	Appointment
	Username  string
	FirstName string
	Phone     string
}

// DateEntry is one distinct slot date with its day label.
type DateEntry struct {
	Date string
	Day  string
}

type Poll struct {
	ID        int64
	Question  string
	YesVotes  int
	NoVotes   int
	CreatedAt time.Time
}

// NormalizeReport summarizes a time-separator maintenance run.
type NormalizeReport struct {
	Updated int
	Skipped []Slot // normalized value collided with an existing (date, time)
}

type EventLog struct {
	ID            int64
	EventType     string
	AppointmentID *int64
	SlotID        *int64
	Payload       []byte
	CreatedAt     time.Time
}

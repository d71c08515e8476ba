package booking

import (
	"context"
)

// Repository is the slot/appointment store. Every mutating method is one
// atomic unit; callers hold no locks across calls.
type Repository interface {
	// Users
	UpsertUser(ctx context.Context, u User) error
	GetUser(ctx context.Context, id int64) (*User, error)

	// Slots
	CreateSlot(ctx context.Context, date, day, clock string) (*Slot, error)
	GetSlot(ctx context.Context, id int64) (*Slot, error)
	ListAvailableSlots(ctx context.Context, date string) ([]Slot, error)
	ListSlotsByDate(ctx context.Context, date string) ([]Slot, error)
	ListAvailableDates(ctx context.Context) ([]DateEntry, error)
	ListSlotDates(ctx context.Context) ([]DateEntry, error)
	// DeleteFreeSlot removes the slot only while it is still available.
	DeleteFreeSlot(ctx context.Context, id int64) error
	// DeleteSlot removes the slot together with any appointment attached to
	// it and returns that appointment.
	DeleteSlot(ctx context.Context, id int64) (*Appointment, error)
	NormalizeTimes(ctx context.Context) (NormalizeReport, error)

	// Appointments
	ReserveSlot(ctx context.Context, slotID, userID int64, clientName string) (*Appointment, error)
	// CancelAppointment deletes the appointment and frees its slot. A non-nil
	// requester restricts the delete to appointments owned by that user.
	CancelAppointment(ctx context.Context, id int64, requester *int64) (*Appointment, error)
	GetAppointment(ctx context.Context, id int64) (*AppointmentDetail, error)
	GetAppointmentBySlot(ctx context.Context, slotID int64) (*AppointmentDetail, error)
	ListUserAppointments(ctx context.Context, userID int64) ([]Appointment, error)
	ListAppointmentDates(ctx context.Context) ([]string, error)
	ListAppointmentsByDate(ctx context.Context, date string) ([]AppointmentDetail, error)
	ListReminderCandidates(ctx context.Context) ([]AppointmentDetail, error)
	SetReminderSent(ctx context.Context, id int64, kind ReminderKind, sent bool) error

	// Polls
	CreatePoll(ctx context.Context, question string) (*Poll, error)
	GetPoll(ctx context.Context, id int64) (*Poll, error)
	CastVote(ctx context.Context, pollID, userID int64, choice VoteChoice) (*Poll, error)

	// Event logging
	InsertEvent(ctx context.Context, ev EventLog) error

	Ping(ctx context.Context) error
}

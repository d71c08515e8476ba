package booking

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"
)

const (
	EventSlotCreated          = "SLOT_CREATED"
	EventSlotDeleted          = "SLOT_DELETED"
	EventAppointmentBooked    = "APPOINTMENT_BOOKED"
	EventAppointmentCancelled = "APPOINTMENT_CANCELLED"
	EventReminderSent         = "REMINDER_SENT"
	EventTimesNormalized      = "TIMES_NORMALIZED"
)

// Service validates input before it reaches the store and records an audit
// event for every committed mutation.
type Service struct {
	repo Repository
	now  func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{
		repo: repo,
		now:  time.Now,
	}
}

func (s *Service) Repository() Repository { return s.repo }

// RegisterUser stores the contact shared by a chat user.
func (s *Service) RegisterUser(ctx context.Context, u User) error {
	if u.ID == 0 {
		return &ValidationError{Field: "user id", Reason: "must be set"}
	}
	return s.repo.UpsertUser(ctx, u)
}

func (s *Service) User(ctx context.Context, id int64) (*User, error) {
	return s.repo.GetUser(ctx, id)
}

// CreateSlot validates raw admin input and stores a new free slot.
func (s *Service) CreateSlot(ctx context.Context, dateInput, dayInput, timeInput string) (*Slot, error) {
	date, err := NormalizeSlotDate(dateInput)
	if err != nil {
		return nil, err
	}
	day, err := NormalizeDayLabel(dayInput)
	if err != nil {
		return nil, err
	}
	clock, err := NormalizeSlotTime(timeInput)
	if err != nil {
		return nil, err
	}

	slot, err := s.repo.CreateSlot(ctx, date, day, clock)
	if err != nil {
		return nil, err
	}

	s.logEvent(ctx, EventSlotCreated, nil, &slot.ID, map[string]any{
		"date": slot.Date,
		"day":  slot.Day,
		"time": slot.Time,
	})
	return slot, nil
}

func (s *Service) Slot(ctx context.Context, id int64) (*Slot, error) {
	return s.repo.GetSlot(ctx, id)
}

func (s *Service) AvailableDates(ctx context.Context) ([]DateEntry, error) {
	return s.repo.ListAvailableDates(ctx)
}

func (s *Service) SlotDates(ctx context.Context) ([]DateEntry, error) {
	return s.repo.ListSlotDates(ctx)
}

func (s *Service) AvailableSlots(ctx context.Context, date string) ([]Slot, error) {
	return s.repo.ListAvailableSlots(ctx, date)
}

func (s *Service) SlotsByDate(ctx context.Context, date string) ([]Slot, error) {
	return s.repo.ListSlotsByDate(ctx, date)
}

// Book reserves a slot for the user under the given client name.
func (s *Service) Book(ctx context.Context, slotID, userID int64, clientName string) (*Appointment, error) {
	name, err := NormalizeClientName(clientName)
	if err != nil {
		return nil, err
	}

	appt, err := s.repo.ReserveSlot(ctx, slotID, userID, name)
	if err != nil {
		return nil, err
	}

	s.logEvent(ctx, EventAppointmentBooked, &appt.ID, appt.SlotID, map[string]any{
		"user_id": userID,
		"date":    appt.Date,
		"time":    appt.Time,
	})
	return appt, nil
}

// Cancel removes an appointment and frees its slot. A nil requester cancels
// on behalf of an admin.
func (s *Service) Cancel(ctx context.Context, appointmentID int64, requester *int64) (*Appointment, error) {
	appt, err := s.repo.CancelAppointment(ctx, appointmentID, requester)
	if err != nil {
		return nil, err
	}

	payload := map[string]any{
		"user_id": appt.UserID,
		"date":    appt.Date,
		"time":    appt.Time,
	}
	if requester == nil {
		payload["by"] = "admin"
	}
	s.logEvent(ctx, EventAppointmentCancelled, &appt.ID, appt.SlotID, payload)
	return appt, nil
}

// DeleteFreeSlot deletes a slot that has no appointment. ErrSlotOccupied
// means a reservation got there first.
func (s *Service) DeleteFreeSlot(ctx context.Context, slotID int64) error {
	if err := s.repo.DeleteFreeSlot(ctx, slotID); err != nil {
		return err
	}
	s.logEvent(ctx, EventSlotDeleted, nil, &slotID, map[string]any{})
	return nil
}

// DeleteSlot deletes a slot along with whatever appointment holds it and
// returns that appointment, nil when the slot was free.
func (s *Service) DeleteSlot(ctx context.Context, slotID int64) (*Appointment, error) {
	detached, err := s.repo.DeleteSlot(ctx, slotID)
	if err != nil {
		return nil, err
	}

	payload := map[string]any{}
	var apptID *int64
	if detached != nil {
		apptID = &detached.ID
		payload["user_id"] = detached.UserID
		payload["date"] = detached.Date
		payload["time"] = detached.Time
	}
	s.logEvent(ctx, EventSlotDeleted, apptID, &slotID, payload)
	return detached, nil
}

func (s *Service) NormalizeTimes(ctx context.Context) (NormalizeReport, error) {
	report, err := s.repo.NormalizeTimes(ctx)
	if err != nil {
		return report, err
	}

	skipped := make([]int64, 0, len(report.Skipped))
	for _, sl := range report.Skipped {
		skipped = append(skipped, sl.ID)
	}
	s.logEvent(ctx, EventTimesNormalized, nil, nil, map[string]any{
		"updated": report.Updated,
		"skipped": skipped,
	})
	return report, nil
}

func (s *Service) Appointment(ctx context.Context, id int64) (*AppointmentDetail, error) {
	return s.repo.GetAppointment(ctx, id)
}

func (s *Service) AppointmentBySlot(ctx context.Context, slotID int64) (*AppointmentDetail, error) {
	return s.repo.GetAppointmentBySlot(ctx, slotID)
}

func (s *Service) UserAppointments(ctx context.Context, userID int64) ([]Appointment, error) {
	return s.repo.ListUserAppointments(ctx, userID)
}

func (s *Service) AppointmentDates(ctx context.Context) ([]string, error) {
	return s.repo.ListAppointmentDates(ctx)
}

func (s *Service) AppointmentsByDate(ctx context.Context, date string) ([]AppointmentDetail, error) {
	return s.repo.ListAppointmentsByDate(ctx, date)
}

func (s *Service) ReminderCandidates(ctx context.Context) ([]AppointmentDetail, error) {
	return s.repo.ListReminderCandidates(ctx)
}

// MarkReminderSent sets the flag for kind. Setting it twice is harmless.
func (s *Service) MarkReminderSent(ctx context.Context, appointmentID int64, kind ReminderKind) error {
	if err := s.repo.SetReminderSent(ctx, appointmentID, kind, true); err != nil {
		return err
	}
	s.logEvent(ctx, EventReminderSent, &appointmentID, nil, map[string]any{"kind": string(kind)})
	return nil
}

func (s *Service) CreatePoll(ctx context.Context, question string) (*Poll, error) {
	if question == "" {
		return nil, &ValidationError{Field: "question", Reason: "must not be empty"}
	}
	return s.repo.CreatePoll(ctx, question)
}

func (s *Service) Poll(ctx context.Context, id int64) (*Poll, error) {
	return s.repo.GetPoll(ctx, id)
}

func (s *Service) Vote(ctx context.Context, pollID, userID int64, choice VoteChoice) (*Poll, error) {
	return s.repo.CastVote(ctx, pollID, userID, choice)
}

func (s *Service) Ping(ctx context.Context) error {
	return s.repo.Ping(ctx)
}

func (s *Service) logEvent(ctx context.Context, eventType string, appointmentID, slotID *int64, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("failed to marshal event payload for %s: %v", eventType, err)
		data = nil
	}

	ev := EventLog{
		EventType:     eventType,
		AppointmentID: appointmentID,
		SlotID:        slotID,
		Payload:       data,
		CreatedAt:     s.now(),
	}

	if err := s.repo.InsertEvent(ctx, ev); err != nil {
		log.Printf("failed to insert event log %s (%s): %v", eventType, describeRefs(appointmentID, slotID), err)
	}
}

func describeRefs(appointmentID, slotID *int64) string {
	switch {
	case appointmentID != nil && slotID != nil:
		return fmt.Sprintf("appointment %d, slot %d", *appointmentID, *slotID)
	case appointmentID != nil:
		return fmt.Sprintf("appointment %d", *appointmentID)
	case slotID != nil:
		return fmt.Sprintf("slot %d", *slotID)
	}
	return "no refs"
}

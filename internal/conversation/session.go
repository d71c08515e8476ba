package conversation

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// State is the step a conversation is waiting on.
type State string

const (
	StateIdle                 State = "idle"
	StateAwaitingPhone        State = "awaiting_phone"
	StateChoosingDate         State = "choosing_date"
	StateChoosingTime         State = "choosing_time"
	StateEnteringName         State = "entering_name"
	StateReviewingAppointment State = "reviewing_appointment"
	StateConfirmingCancel     State = "confirming_cancel"

	// Admin slot creation.
	StateEnteringDate State = "admin_entering_date"
	StateEnteringDay  State = "admin_entering_day"
	StateEnteringTime State = "admin_entering_time"

	// Admin slot deletion.
	StatePickingDate          State = "admin_picking_date"
	StatePickingTime          State = "admin_picking_time"
	StateEnteringNotification State = "admin_entering_notification"
)

func (s State) admin() bool {
	switch s {
	case StateEnteringDate, StateEnteringDay, StateEnteringTime,
		StatePickingDate, StatePickingTime, StateEnteringNotification:
		return true
	}
	return false
}

// Session is the transient record of one user's conversation. Only the
// fields of the current state are meaningful.
type Session struct {
	State         State     `json:"state"`
	Date          string    `json:"date,omitempty"`
	Day           string    `json:"day,omitempty"`
	SlotID        int64     `json:"slot_id,omitempty"`
	AppointmentID int64     `json:"appointment_id,omitempty"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func idle() Session { return Session{State: StateIdle} }

// SessionStore keeps sessions by user id. A missing session reads as idle.
type SessionStore interface {
	Load(ctx context.Context, userID int64) (Session, error)
	Save(ctx context.Context, userID int64, s Session) error
	Clear(ctx context.Context, userID int64) error
}

// MemorySessions is a bounded in-process SessionStore. Sessions idle for
// longer than ttl are dropped, as are the least recently used ones once the
// cache is full.
type MemorySessions struct {
	cache *expirable.LRU[int64, Session]
}

func NewMemorySessions(size int, ttl time.Duration) *MemorySessions {
	if size <= 0 {
		size = 1024
	}
	return &MemorySessions{cache: expirable.NewLRU[int64, Session](size, nil, ttl)}
}

func (m *MemorySessions) Load(_ context.Context, userID int64) (Session, error) {
	s, ok := m.cache.Get(userID)
	if !ok {
		return idle(), nil
	}
	return s, nil
}

func (m *MemorySessions) Save(_ context.Context, userID int64, s Session) error {
	if s.State == StateIdle {
		m.cache.Remove(userID)
		return nil
	}
	m.cache.Add(userID, s)
	return nil
}

func (m *MemorySessions) Clear(_ context.Context, userID int64) error {
	m.cache.Remove(userID)
	return nil
}

func (m *MemorySessions) Len() int { return m.cache.Len() }

package conversation

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/hackgods/slot-booking-bot/internal/booking"
	"github.com/hackgods/slot-booking-bot/internal/config"
	"github.com/hackgods/slot-booking-bot/internal/notify"
)

// Booking is the booking service as seen by the conversation.
type Booking interface {
	User(ctx context.Context, id int64) (*booking.User, error)
	RegisterUser(ctx context.Context, u booking.User) error

	AvailableDates(ctx context.Context) ([]booking.DateEntry, error)
	AvailableSlots(ctx context.Context, date string) ([]booking.Slot, error)
	Slot(ctx context.Context, id int64) (*booking.Slot, error)
	Book(ctx context.Context, slotID, userID int64, clientName string) (*booking.Appointment, error)
	UserAppointments(ctx context.Context, userID int64) ([]booking.Appointment, error)
	Appointment(ctx context.Context, id int64) (*booking.AppointmentDetail, error)
	Cancel(ctx context.Context, appointmentID int64, requester *int64) (*booking.Appointment, error)

	CreateSlot(ctx context.Context, date, day, clock string) (*booking.Slot, error)
	SlotDates(ctx context.Context) ([]booking.DateEntry, error)
	SlotsByDate(ctx context.Context, date string) ([]booking.Slot, error)
	AppointmentBySlot(ctx context.Context, slotID int64) (*booking.AppointmentDetail, error)
	DeleteFreeSlot(ctx context.Context, slotID int64) error
	DeleteSlot(ctx context.Context, slotID int64) (*booking.Appointment, error)
	AppointmentDates(ctx context.Context) ([]string, error)
	AppointmentsByDate(ctx context.Context, date string) ([]booking.AppointmentDetail, error)
	NormalizeTimes(ctx context.Context) (booking.NormalizeReport, error)
}

// Machine drives every user's conversation. Events of one user are handled
// one at a time; different users proceed in parallel.
type Machine struct {
	svc      Booking
	out      Output
	sessions SessionStore
	admins   config.AdminSet
	locks    *userLocks
	now      func() time.Time
}

func NewMachine(svc Booking, out Output, sessions SessionStore, admins config.AdminSet) *Machine {
	return &Machine{
		svc:      svc,
		out:      out,
		sessions: sessions,
		admins:   admins,
		locks:    newUserLocks(),
		now:      time.Now,
	}
}

// turn is the state of one Handle call: the event and the session it
// advances.
type turn struct {
	Event
	session Session
	dirty   bool
}

func (t *turn) set(s Session) {
	t.session = s
	t.dirty = true
}

func (t *turn) reset() { t.set(idle()) }

// Handle advances the sender's conversation by one event. Domain outcomes
// are answered in the chat and are not errors; a storage failure resets the
// conversation, tells the user and is returned for logging.
func (m *Machine) Handle(ctx context.Context, ev Event) error {
	if ev.ChatID == 0 {
		ev.ChatID = ev.UserID
	}

	unlock := m.locks.lock(ev.UserID)
	defer unlock()

	sess, err := m.sessions.Load(ctx, ev.UserID)
	if err != nil {
		log.Printf("load session for %d: %v", ev.UserID, err)
		sess = idle()
	}

	t := &turn{Event: ev, session: sess}
	err = m.step(ctx, t)

	if err != nil {
		if clearErr := m.sessions.Clear(ctx, ev.UserID); clearErr != nil {
			log.Printf("clear session for %d: %v", ev.UserID, clearErr)
		}
		m.reply(ctx, t, textGenericFailure, mainKeyboard())
		return fmt.Errorf("handle event from %d: %w", ev.UserID, err)
	}

	if t.dirty {
		t.session.UpdatedAt = m.now()
		if err := m.sessions.Save(ctx, ev.UserID, t.session); err != nil {
			log.Printf("save session for %d: %v", ev.UserID, err)
		}
	}
	return nil
}

func (m *Machine) step(ctx context.Context, t *turn) error {
	switch t.Kind {
	case EventContact:
		return m.onContact(ctx, t)
	case EventAction:
		return m.onAction(ctx, t)
	default:
		return m.onText(ctx, t)
	}
}

func (m *Machine) onText(ctx context.Context, t *turn) error {
	switch command(t.Text) {
	case cmdStart:
		return m.start(ctx, t)
	case cmdAdmin:
		if !m.isAdmin(t) {
			m.reply(ctx, t, textAccessDenied, nil)
			return nil
		}
		t.reset()
		m.reply(ctx, t, textAdminPanel, adminKeyboard())
		return nil
	case cmdFixTime:
		if !m.isAdmin(t) {
			m.reply(ctx, t, textAccessDenied, nil)
			return nil
		}
		return m.fixTimes(ctx, t)
	}

	if t.session.State.admin() {
		if !m.isAdmin(t) {
			t.reset()
			m.reply(ctx, t, textAccessDenied, nil)
			return nil
		}
		return m.adminText(ctx, t)
	}

	switch t.session.State {
	case StateEnteringName:
		return m.enterName(ctx, t)
	case StateAwaitingPhone:
		m.reply(ctx, t, textAskPhone, phoneKeyboard())
		return nil
	}

	m.reply(ctx, t, textUseMenu, mainKeyboard())
	return nil
}

func (m *Machine) onAction(ctx context.Context, t *turn) error {
	name, arg := parseAction(t.Text)

	switch name {
	case actAdmin, actAdminAdd, actAdminDelete, actDeleteDate, actDeleteSlot,
		actAdminView, actViewDate, actViewAppt, actAdminFixTimes:
		if !m.isAdmin(t) {
			if t.session.State.admin() {
				t.reset()
			}
			m.reply(ctx, t, textAccessDenied, nil)
			return nil
		}
		return m.adminAction(ctx, t, name, arg)
	}

	return m.userAction(ctx, t, name, arg)
}

func (m *Machine) isAdmin(t *turn) bool {
	return m.admins.Contains(t.UserID)
}

// reply answers in place for button presses and with a new message for
// text. Delivery problems are logged by the dispatcher and ignored here.
func (m *Machine) reply(ctx context.Context, t *turn, text string, kb notify.Keyboard) {
	if t.Kind == EventAction {
		if err := m.out.Show(ctx, t.ChatID, t.MessageID, text, kb); err != nil {
			log.Printf("reply to %d not delivered: %v", t.ChatID, err)
		}
		return
	}
	if _, err := m.out.Send(ctx, t.ChatID, text, kb); err != nil {
		log.Printf("reply to %d not delivered: %v", t.ChatID, err)
	}
}

func (m *Machine) notifyAdmins(ctx context.Context, text string) {
	ids := m.admins.IDs()
	if len(ids) == 0 {
		return
	}
	if n := m.out.NotifyAdmins(ctx, ids, text); n < len(ids) {
		log.Printf("admin notification delivered to %d of %d admins", n, len(ids))
	}
}

type userLocks struct {
	mu    sync.Mutex
	locks map[int64]*userLock
}

type userLock struct {
	mu   sync.Mutex
	refs int
}

func newUserLocks() *userLocks {
	return &userLocks{locks: make(map[int64]*userLock)}
}

func (u *userLocks) lock(userID int64) (unlock func()) {
	u.mu.Lock()
	l, ok := u.locks[userID]
	if !ok {
		l = &userLock{}
		u.locks[userID] = l
	}
	l.refs++
	u.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		u.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(u.locks, userID)
		}
		u.mu.Unlock()
	}
}

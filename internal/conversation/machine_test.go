package conversation

import (
	"context"
	"database/sql"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/slot-booking-bot/internal/booking"
	"github.com/hackgods/slot-booking-bot/internal/config"
	"github.com/hackgods/slot-booking-bot/internal/db"
	"github.com/hackgods/slot-booking-bot/internal/notify"
)

const (
	adminID  int64 = 1
	clientID int64 = 10
	otherID  int64 = 20
)

type outMessage struct {
	chatID int64
	text   string
	kb     notify.Keyboard
}

type fakeOutput struct {
	mu       sync.Mutex
	messages []outMessage
	admin    []string
	failFor  map[int64]bool
}

func (f *fakeOutput) Send(_ context.Context, chatID int64, text string, kb notify.Keyboard) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failFor[chatID] {
		return 0, notify.ErrDeliveryFailed
	}
	f.messages = append(f.messages, outMessage{chatID: chatID, text: text, kb: kb})
	return int64(len(f.messages)), nil
}

func (f *fakeOutput) Show(ctx context.Context, chatID, _ int64, text string, kb notify.Keyboard) error {
	_, err := f.Send(ctx, chatID, text, kb)
	return err
}

func (f *fakeOutput) NotifyAdmins(_ context.Context, admins []int64, text string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.admin = append(f.admin, text)
	return len(admins)
}

func (f *fakeOutput) last(chatID int64) outMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.messages) - 1; i >= 0; i-- {
		if f.messages[i].chatID == chatID {
			return f.messages[i]
		}
	}
	return outMessage{}
}

func (f *fakeOutput) adminNotices() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.admin...)
}

type harness struct {
	t        *testing.T
	machine  *Machine
	out      *fakeOutput
	svc      *booking.Service
	sessions *MemorySessions
	conn     *sql.DB
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	conn, err := db.OpenSQLite(filepath.Join(t.TempDir(), "bot.db"))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	svc := booking.NewService(booking.NewSQLiteRepository(conn))
	out := &fakeOutput{failFor: map[int64]bool{}}
	sessions := NewMemorySessions(100, time.Hour)

	return &harness{
		t:        t,
		machine:  NewMachine(svc, out, sessions, config.NewAdminSet(adminID)),
		out:      out,
		svc:      svc,
		sessions: sessions,
		conn:     conn,
	}
}

func (h *harness) text(userID int64, text string) string {
	h.t.Helper()
	require.NoError(h.t, h.machine.Handle(context.Background(), Event{Kind: EventText, UserID: userID, Text: text}))
	return h.out.last(userID).text
}

func (h *harness) press(userID int64, data string) string {
	h.t.Helper()
	require.NoError(h.t, h.machine.Handle(context.Background(), Event{Kind: EventAction, UserID: userID, MessageID: 5, Text: data}))
	return h.out.last(userID).text
}

func (h *harness) state(userID int64) Session {
	h.t.Helper()
	s, err := h.sessions.Load(context.Background(), userID)
	require.NoError(h.t, err)
	return s
}

func (h *harness) register(userID int64, username string) {
	h.t.Helper()
	require.NoError(h.t, h.svc.RegisterUser(context.Background(), booking.User{
		ID:        userID,
		Username:  username,
		FirstName: "Test",
		Phone:     "+79990000000",
	}))
}

func (h *harness) slot(date, day, clock string) *booking.Slot {
	h.t.Helper()
	s, err := h.svc.CreateSlot(context.Background(), date, day, clock)
	require.NoError(h.t, err)
	return s
}

func TestMachine_BookAndCancelEndToEnd(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	// Admin creates a slot.
	assert.Equal(t, textAdminPanel, h.text(adminID, "/admin"))
	assert.Equal(t, textAskSlotDate, h.press(adminID, actAdminAdd))
	assert.Equal(t, textAskSlotDay, h.text(adminID, "25.12"))
	assert.Equal(t, textAskSlotTime, h.text(adminID, "чт"))
	reply := h.text(adminID, "14:30")
	assert.Contains(t, reply, "Слот успешно добавлен")
	assert.Equal(t, StateIdle, h.state(adminID).State)

	slots, err := h.svc.AvailableSlots(ctx, "25.12")
	require.NoError(t, err)
	require.Len(t, slots, 1)
	slotID := slots[0].ID

	// Client registers with a phone number.
	assert.Equal(t, textAskPhone, h.text(clientID, "/start"))
	assert.Equal(t, StateAwaitingPhone, h.state(clientID).State)
	require.NoError(t, h.machine.Handle(ctx, Event{Kind: EventContact, UserID: clientID, Username: "ann", FirstName: "Ann", Phone: "+79991112233"}))
	assert.Equal(t, textMainMenu, h.out.last(clientID).text)

	// Client books it.
	assert.Equal(t, textChooseDate, h.press(clientID, actBook))
	assert.Equal(t, textTimesFor("25.12"), h.press(clientID, action(actDate, "25.12")))
	assert.Equal(t, StateChoosingTime, h.state(clientID).State)
	assert.Equal(t, textAskName, h.press(clientID, action(actSlot, slotID)))
	assert.Equal(t, StateEnteringName, h.state(clientID).State)

	reply = h.text(clientID, "Ann")
	assert.Contains(t, reply, "Вы успешно записаны")
	assert.Contains(t, reply, "14:30")
	assert.Equal(t, StateIdle, h.state(clientID).State)

	notices := h.out.adminNotices()
	require.Len(t, notices, 1)
	assert.Contains(t, notices[0], "@ann")
	assert.Contains(t, notices[0], "+79991112233")

	mine, err := h.svc.UserAppointments(ctx, clientID)
	require.NoError(t, err)
	require.Len(t, mine, 1)
	apptID := mine[0].ID

	slot, err := h.svc.Slot(ctx, slotID)
	require.NoError(t, err)
	assert.False(t, slot.Available)

	// Client cancels it.
	assert.Equal(t, textMyAppointments, h.press(clientID, actMine))
	assert.Contains(t, h.press(clientID, action(actAppointment, apptID)), "Детали записи")
	assert.Contains(t, h.press(clientID, action(actCancelAsk, apptID)), "Вы уверены")
	assert.Equal(t, StateConfirmingCancel, h.state(clientID).State)
	assert.Contains(t, h.press(clientID, action(actCancelDo, apptID)), "Запись успешно отменена")

	slot, err = h.svc.Slot(ctx, slotID)
	require.NoError(t, err)
	assert.True(t, slot.Available)

	notices = h.out.adminNotices()
	require.Len(t, notices, 2)
	assert.Contains(t, notices[1], "Запись отменена")
}

func TestMachine_DuplicateSlotFromAdmin(t *testing.T) {
	h := newHarness(t)
	h.slot("25.12", "чт", "14:30")

	h.press(adminID, actAdminAdd)
	h.text(adminID, "25.12")
	h.text(adminID, "чт")
	assert.Equal(t, textDuplicateSlot, h.text(adminID, "14.30"))
	assert.Equal(t, StateIdle, h.state(adminID).State)
}

func TestMachine_AdminInputReprompts(t *testing.T) {
	h := newHarness(t)

	h.press(adminID, actAdminAdd)
	assert.Equal(t, textBadSlotDate, h.text(adminID, "31.02"))
	assert.Equal(t, StateEnteringDate, h.state(adminID).State)

	h.text(adminID, "1.3")
	assert.Equal(t, "01.03", h.state(adminID).Date)

	assert.Equal(t, textBadSlotDay, h.text(adminID, "   "))
	h.text(adminID, "сб")

	assert.Equal(t, textBadSlotTime, h.text(adminID, "25:00"))
	assert.Equal(t, StateEnteringTime, h.state(adminID).State)
	assert.Contains(t, h.text(adminID, "09.15"), "09:15")
}

func TestMachine_NameTooShortReprompts(t *testing.T) {
	h := newHarness(t)
	h.register(clientID, "ann")
	s := h.slot("25.12", "чт", "14:30")

	h.press(clientID, action(actSlot, s.ID))
	assert.Equal(t, textBadName, h.text(clientID, " A "))

	sess := h.state(clientID)
	assert.Equal(t, StateEnteringName, sess.State)
	assert.Equal(t, s.ID, sess.SlotID)

	assert.Contains(t, h.text(clientID, "Ann"), "Вы успешно записаны")
}

func TestMachine_SlotTakenWhileEnteringName(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.register(clientID, "ann")
	h.register(otherID, "bob")
	s := h.slot("25.12", "чт", "14:30")

	h.press(clientID, action(actSlot, s.ID))
	_, err := h.svc.Book(ctx, s.ID, otherID, "Bob")
	require.NoError(t, err)

	assert.Equal(t, textSlotTaken, h.text(clientID, "Ann"))
	assert.Equal(t, StateIdle, h.state(clientID).State)

	mine, err := h.svc.UserAppointments(ctx, clientID)
	require.NoError(t, err)
	assert.Empty(t, mine)
}

func TestMachine_PickingTakenSlot(t *testing.T) {
	h := newHarness(t)
	h.register(clientID, "ann")
	h.register(otherID, "bob")
	s := h.slot("25.12", "чт", "14:30")
	_, err := h.svc.Book(context.Background(), s.ID, otherID, "Bob")
	require.NoError(t, err)

	assert.Equal(t, textSlotTaken, h.press(clientID, action(actSlot, s.ID)))
	assert.Equal(t, StateChoosingDate, h.state(clientID).State)
}

func TestMachine_PhoneGate(t *testing.T) {
	h := newHarness(t)
	h.slot("25.12", "чт", "14:30")

	assert.Equal(t, textAskPhone, h.press(clientID, actBook))
	assert.Equal(t, StateAwaitingPhone, h.state(clientID).State)

	assert.Equal(t, textAskPhone, h.text(clientID, "hello"))

	// Navigation does not need a phone.
	assert.Equal(t, textMainMenu, h.press(clientID, actMenu))
}

func TestMachine_ContactWithoutPhone(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.machine.Handle(context.Background(), Event{Kind: EventContact, UserID: clientID}))
	assert.Equal(t, textAskPhone, h.out.last(clientID).text)

	_, err := h.svc.User(context.Background(), clientID)
	assert.ErrorIs(t, err, booking.ErrUserNotFound)
}

func TestMachine_CancelRequiresConfirmation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.register(clientID, "ann")
	s := h.slot("25.12", "чт", "14:30")
	appt, err := h.svc.Book(ctx, s.ID, clientID, "Ann")
	require.NoError(t, err)

	assert.Equal(t, textCancelExpired, h.press(clientID, action(actCancelDo, appt.ID)))

	got, err := h.svc.Appointment(ctx, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, appt.ID, got.ID)
	assert.Empty(t, h.out.adminNotices())
}

func TestMachine_CannotTouchForeignAppointment(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.register(clientID, "ann")
	h.register(otherID, "bob")
	s := h.slot("25.12", "чт", "14:30")
	appt, err := h.svc.Book(ctx, s.ID, otherID, "Bob")
	require.NoError(t, err)

	assert.Equal(t, textApptForbidden, h.press(clientID, action(actAppointment, appt.ID)))
	assert.Equal(t, textApptForbidden, h.press(clientID, action(actCancelAsk, appt.ID)))

	// A forged confirmation for somebody else's appointment is rejected too.
	require.NoError(t, h.sessions.Save(ctx, clientID, Session{State: StateConfirmingCancel, AppointmentID: appt.ID}))
	assert.Equal(t, textApptNotFound, h.press(clientID, action(actCancelDo, appt.ID)))

	_, err = h.svc.Appointment(ctx, appt.ID)
	assert.NoError(t, err)
}

func TestMachine_AdminCheckedOnEveryStep(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	assert.Equal(t, textAccessDenied, h.text(clientID, "/admin"))
	assert.Equal(t, textAccessDenied, h.press(clientID, actAdminAdd))

	// An admin state left over for a non-admin does not let text through.
	require.NoError(t, h.sessions.Save(ctx, clientID, Session{State: StateEnteringTime, Date: "25.12", Day: "чт"}))
	assert.Equal(t, textAccessDenied, h.text(clientID, "14:30"))
	assert.Equal(t, StateIdle, h.state(clientID).State)

	slots, err := h.svc.SlotsByDate(ctx, "25.12")
	require.NoError(t, err)
	assert.Empty(t, slots)
}

func TestMachine_DeleteFreeSlot(t *testing.T) {
	h := newHarness(t)
	s := h.slot("25.12", "чт", "14:30")

	assert.Equal(t, textPickDeleteDate, h.press(adminID, actAdminDelete))
	assert.Equal(t, textPickDeleteTime("25.12"), h.press(adminID, action(actDeleteDate, "25.12")))
	assert.Equal(t, textSlotDeleted, h.press(adminID, action(actDeleteSlot, s.ID)))

	_, err := h.svc.Slot(context.Background(), s.ID)
	assert.ErrorIs(t, err, booking.ErrSlotNotFound)
}

func TestMachine_DeleteSlotOutOfOrder(t *testing.T) {
	h := newHarness(t)
	s := h.slot("25.12", "чт", "14:30")

	assert.Equal(t, textAdminPanel, h.press(adminID, action(actDeleteSlot, s.ID)))

	_, err := h.svc.Slot(context.Background(), s.ID)
	assert.NoError(t, err)
}

func TestMachine_DeleteOccupiedSlotNotifiesClient(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.register(clientID, "ann")
	s := h.slot("25.12", "чт", "14:30")
	_, err := h.svc.Book(ctx, s.ID, clientID, "Ann")
	require.NoError(t, err)

	h.press(adminID, actAdminDelete)
	h.press(adminID, action(actDeleteDate, "25.12"))
	assert.Contains(t, h.press(adminID, action(actDeleteSlot, s.ID)), "есть активная запись")
	assert.Equal(t, StateEnteringNotification, h.state(adminID).State)

	assert.Equal(t, textEmptyNotification, h.text(adminID, "  "))

	assert.Equal(t, textDeletedWithNotice(true), h.text(adminID, "Мастер заболел"))

	notice := h.out.last(clientID).text
	assert.Contains(t, notice, "отменена администратором")
	assert.Contains(t, notice, "Мастер заболел")

	_, err = h.svc.Slot(ctx, s.ID)
	assert.ErrorIs(t, err, booking.ErrSlotNotFound)
	mine, err := h.svc.UserAppointments(ctx, clientID)
	require.NoError(t, err)
	assert.Empty(t, mine)
}

func TestMachine_DeleteOccupiedSlotWhenNoticeFails(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.register(clientID, "ann")
	s := h.slot("25.12", "чт", "14:30")
	_, err := h.svc.Book(ctx, s.ID, clientID, "Ann")
	require.NoError(t, err)
	h.out.failFor[clientID] = true

	h.press(adminID, actAdminDelete)
	h.press(adminID, action(actDeleteDate, "25.12"))
	h.press(adminID, action(actDeleteSlot, s.ID))
	assert.Equal(t, textDeletedWithNotice(false), h.text(adminID, "Мастер заболел"))

	_, err = h.svc.Slot(ctx, s.ID)
	assert.ErrorIs(t, err, booking.ErrSlotNotFound)
}

func TestMachine_ViewAppointments(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	assert.Equal(t, textNoAdminAppts, h.press(adminID, actAdminView))

	h.register(clientID, "ann")
	s := h.slot("25.12", "чт", "14:30")
	appt, err := h.svc.Book(ctx, s.ID, clientID, "Ann")
	require.NoError(t, err)

	assert.Equal(t, textPickViewDate, h.press(adminID, actAdminView))
	assert.Equal(t, textAdminApptsOn("25.12"), h.press(adminID, action(actViewDate, "25.12")))

	detail := h.press(adminID, action(actViewAppt, appt.ID))
	assert.Contains(t, detail, "@ann")
	assert.Contains(t, detail, "+79990000000")
}

func TestMachine_FixTimeCommand(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.svc.Repository().CreateSlot(ctx, "25.12", "чт", "9.30")
	require.NoError(t, err)

	assert.Equal(t, textAccessDenied, h.text(clientID, "/fix_time"))

	reply := h.text(adminID, "/fix_time@slot_bot")
	assert.Contains(t, reply, "Обновлено слотов: 1")

	slots, err := h.svc.SlotsByDate(ctx, "25.12")
	require.NoError(t, err)
	require.Len(t, slots, 1)
	assert.Equal(t, "09:30", slots[0].Time)
}

func TestMachine_StorageFailureResetsConversation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.sessions.Save(ctx, clientID, Session{State: StateChoosingTime, Date: "25.12"}))
	require.NoError(t, h.conn.Close())

	err := h.machine.Handle(ctx, Event{Kind: EventAction, UserID: clientID, Text: actBook})
	require.Error(t, err)
	assert.True(t, booking.IsStorageError(err))

	assert.Equal(t, textGenericFailure, h.out.last(clientID).text)
	assert.Equal(t, StateIdle, h.state(clientID).State)
}

func TestMachine_UnknownTextPointsToMenu(t *testing.T) {
	h := newHarness(t)
	assert.Equal(t, textUseMenu, h.text(clientID, "hello"))
	assert.Zero(t, h.sessions.Len())
}

func TestMachine_ConcurrentEventsOfOneUser(t *testing.T) {
	h := newHarness(t)
	h.register(clientID, "ann")
	for i := 0; i < 4; i++ {
		h.slot("25.12", "чт", "1"+string(rune('0'+i))+":00")
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, h.machine.Handle(context.Background(), Event{Kind: EventAction, UserID: clientID, Text: action(actDate, "25.12")}))
		}()
	}
	wg.Wait()

	assert.Equal(t, StateChoosingTime, h.state(clientID).State)
	h.machine.locks.mu.Lock()
	assert.Empty(t, h.machine.locks.locks)
	h.machine.locks.mu.Unlock()
}

func TestCommand(t *testing.T) {
	assert.Equal(t, "/start", command("/start"))
	assert.Equal(t, "/fix_time", command(" /fix_time@slot_bot now"))
	assert.Equal(t, "", command("hello /start"))
}

func TestActionRoundTrip(t *testing.T) {
	name, arg := parseAction(action(actSlot, int64(42)))
	assert.Equal(t, actSlot, name)
	id, ok := parseID(arg)
	assert.True(t, ok)
	assert.Equal(t, int64(42), id)

	name, arg = parseAction(actMenu)
	assert.Equal(t, actMenu, name)
	assert.Empty(t, arg)

	_, ok = parseID("-1")
	assert.False(t, ok)
	assert.True(t, strings.HasPrefix(action(actDate, "25.12"), "date:"))
}

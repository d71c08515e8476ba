package conversation

import (
	"context"
	"errors"
	"log"

	"github.com/hackgods/slot-booking-bot/internal/booking"
)

func (m *Machine) start(ctx context.Context, t *turn) error {
	u, err := m.svc.User(ctx, t.UserID)
	if errors.Is(err, booking.ErrUserNotFound) || (err == nil && u.Phone == "") {
		t.set(Session{State: StateAwaitingPhone})
		m.reply(ctx, t, textAskPhone, phoneKeyboard())
		return nil
	}
	if err != nil {
		return err
	}

	t.reset()
	m.reply(ctx, t, textMainMenu, mainKeyboard())
	return nil
}

func (m *Machine) onContact(ctx context.Context, t *turn) error {
	if t.Phone == "" {
		m.reply(ctx, t, textAskPhone, phoneKeyboard())
		return nil
	}

	err := m.svc.RegisterUser(ctx, booking.User{
		ID:        t.UserID,
		Username:  t.Username,
		FirstName: t.FirstName,
		Phone:     t.Phone,
	})
	if err != nil {
		return err
	}

	t.reset()
	m.reply(ctx, t, textPhoneSaved, nil)
	m.reply(ctx, t, textMainMenu, mainKeyboard())
	return nil
}

// registered gates booking actions on a stored phone number. When it
// returns false the user has already been asked for the phone.
func (m *Machine) registered(ctx context.Context, t *turn) (bool, error) {
	u, err := m.svc.User(ctx, t.UserID)
	if errors.Is(err, booking.ErrUserNotFound) || (err == nil && u.Phone == "") {
		t.set(Session{State: StateAwaitingPhone})
		if _, err := m.out.Send(ctx, t.ChatID, textAskPhone, phoneKeyboard()); err != nil {
			log.Printf("phone prompt to %d not delivered: %v", t.ChatID, err)
		}
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (m *Machine) userAction(ctx context.Context, t *turn, name, arg string) error {
	switch name {
	case actMenu:
		t.reset()
		m.reply(ctx, t, textMainMenu, mainKeyboard())
		return nil
	case actCancelName:
		t.reset()
		m.reply(ctx, t, textNameCancelled, mainKeyboard())
		return nil
	}

	ok, err := m.registered(ctx, t)
	if err != nil || !ok {
		return err
	}

	switch name {
	case actBook, actDates:
		return m.showDates(ctx, t)
	case actDate:
		return m.showTimes(ctx, t, arg)
	case actSlot:
		return m.pickSlot(ctx, t, arg)
	case actMine:
		return m.showMine(ctx, t)
	case actAppointment:
		return m.review(ctx, t, arg)
	case actCancelAsk:
		return m.askCancel(ctx, t, arg)
	case actCancelDo:
		return m.doCancel(ctx, t, arg)
	}

	t.reset()
	m.reply(ctx, t, textMainMenu, mainKeyboard())
	return nil
}

func (m *Machine) showDates(ctx context.Context, t *turn) error {
	dates, err := m.svc.AvailableDates(ctx)
	if err != nil {
		return err
	}
	if len(dates) == 0 {
		t.reset()
		m.reply(ctx, t, textNoDates, backToMainKeyboard())
		return nil
	}

	t.set(Session{State: StateChoosingDate})
	m.reply(ctx, t, textChooseDate, datesKeyboard(dates, actDate, actMenu, "🔙 Назад в меню"))
	return nil
}

func (m *Machine) showTimes(ctx context.Context, t *turn, date string) error {
	slots, err := m.svc.AvailableSlots(ctx, date)
	if err != nil {
		return err
	}
	if len(slots) == 0 {
		t.set(Session{State: StateChoosingDate})
		m.reply(ctx, t, textNoTimesFor(date), backToDatesKeyboard())
		return nil
	}

	t.set(Session{State: StateChoosingTime, Date: date})
	m.reply(ctx, t, textTimesFor(date), timesKeyboard(slots))
	return nil
}

func (m *Machine) pickSlot(ctx context.Context, t *turn, arg string) error {
	id, ok := parseID(arg)
	if !ok {
		return m.showDates(ctx, t)
	}

	slot, err := m.svc.Slot(ctx, id)
	if err != nil && !errors.Is(err, booking.ErrSlotNotFound) {
		return err
	}
	if err != nil || !slot.Available {
		t.set(Session{State: StateChoosingDate})
		m.reply(ctx, t, textSlotTaken, backToDatesKeyboard())
		return nil
	}

	t.set(Session{State: StateEnteringName, SlotID: slot.ID, Date: slot.Date})
	m.reply(ctx, t, textAskName, cancelNameKeyboard())
	return nil
}

func (m *Machine) enterName(ctx context.Context, t *turn) error {
	appt, err := m.svc.Book(ctx, t.session.SlotID, t.UserID, t.Text)
	switch {
	case booking.IsValidationError(err):
		m.reply(ctx, t, textBadName, cancelNameKeyboard())
		return nil
	case errors.Is(err, booking.ErrSlotUnavailable):
		t.reset()
		m.reply(ctx, t, textSlotTaken, mainKeyboard())
		return nil
	case errors.Is(err, booking.ErrUserNotFound):
		t.set(Session{State: StateAwaitingPhone})
		m.reply(ctx, t, textAskPhone, phoneKeyboard())
		return nil
	case err != nil:
		return err
	}

	t.reset()
	m.reply(ctx, t, textBooked(appt), mainKeyboard())

	u, err := m.svc.User(ctx, t.UserID)
	if err != nil {
		log.Printf("load user %d for admin notification: %v", t.UserID, err)
		u = &booking.User{ID: t.UserID, Username: t.Username}
	}
	m.notifyAdmins(ctx, textAdminBooked(appt, u))
	return nil
}

func (m *Machine) showMine(ctx context.Context, t *turn) error {
	appts, err := m.svc.UserAppointments(ctx, t.UserID)
	if err != nil {
		return err
	}

	t.reset()
	if len(appts) == 0 {
		m.reply(ctx, t, textNoAppointments, backToMainKeyboard())
		return nil
	}
	m.reply(ctx, t, textMyAppointments, appointmentsKeyboard(appts))
	return nil
}

// ownAppointment loads an appointment of the current user. A nil result
// means the user has already been told why it is not available.
func (m *Machine) ownAppointment(ctx context.Context, t *turn, arg string) (*booking.AppointmentDetail, error) {
	id, ok := parseID(arg)
	if !ok {
		t.reset()
		m.reply(ctx, t, textApptNotFound, backToAppointmentsKeyboard())
		return nil, nil
	}

	appt, err := m.svc.Appointment(ctx, id)
	if errors.Is(err, booking.ErrAppointmentNotFound) {
		t.reset()
		m.reply(ctx, t, textApptNotFound, backToAppointmentsKeyboard())
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if appt.UserID != t.UserID {
		t.reset()
		m.reply(ctx, t, textApptForbidden, backToAppointmentsKeyboard())
		return nil, nil
	}
	return appt, nil
}

func (m *Machine) review(ctx context.Context, t *turn, arg string) error {
	appt, err := m.ownAppointment(ctx, t, arg)
	if err != nil || appt == nil {
		return err
	}

	t.set(Session{State: StateReviewingAppointment, AppointmentID: appt.ID})
	m.reply(ctx, t, textAppointment(appt), reviewKeyboard(appt.ID))
	return nil
}

func (m *Machine) askCancel(ctx context.Context, t *turn, arg string) error {
	appt, err := m.ownAppointment(ctx, t, arg)
	if err != nil || appt == nil {
		return err
	}

	t.set(Session{State: StateConfirmingCancel, AppointmentID: appt.ID})
	m.reply(ctx, t, textConfirmCancel(appt), confirmCancelKeyboard(appt.ID))
	return nil
}

// doCancel runs only as the answer to the confirmation shown by askCancel.
func (m *Machine) doCancel(ctx context.Context, t *turn, arg string) error {
	id, ok := parseID(arg)
	if !ok || t.session.State != StateConfirmingCancel || t.session.AppointmentID != id {
		t.reset()
		m.reply(ctx, t, textCancelExpired, backToAppointmentsKeyboard())
		return nil
	}

	owner := t.UserID
	appt, err := m.svc.Cancel(ctx, id, &owner)
	if errors.Is(err, booking.ErrAppointmentNotFound) {
		t.reset()
		m.reply(ctx, t, textApptNotFound, backToAppointmentsKeyboard())
		return nil
	}
	if err != nil {
		return err
	}

	t.reset()
	m.reply(ctx, t, textCancelled(appt), mainKeyboard())
	m.notifyAdmins(ctx, textAdminCancelled(appt, t.Username))
	return nil
}

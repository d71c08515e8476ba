package conversation

import (
	"context"
	"errors"
	"log"
	"strings"

	"github.com/hackgods/slot-booking-bot/internal/booking"
)

func (m *Machine) adminAction(ctx context.Context, t *turn, name, arg string) error {
	switch name {
	case actAdmin:
		t.reset()
		m.reply(ctx, t, textAdminPanel, adminKeyboard())
		return nil
	case actAdminAdd:
		t.set(Session{State: StateEnteringDate})
		m.reply(ctx, t, textAskSlotDate, cancelAdminKeyboard())
		return nil
	case actAdminDelete:
		return m.showDeleteDates(ctx, t)
	case actDeleteDate:
		if s := t.session.State; s != StatePickingDate && s != StatePickingTime {
			t.reset()
			m.reply(ctx, t, textAdminPanel, adminKeyboard())
			return nil
		}
		return m.showDeleteTimes(ctx, t, arg)
	case actDeleteSlot:
		if t.session.State != StatePickingTime {
			t.reset()
			m.reply(ctx, t, textAdminPanel, adminKeyboard())
			return nil
		}
		return m.deleteSlot(ctx, t, arg)
	case actAdminView:
		return m.showAppointmentDates(ctx, t)
	case actViewDate:
		return m.showAppointmentsOn(ctx, t, arg)
	case actViewAppt:
		return m.showAdminAppointment(ctx, t, arg)
	case actAdminFixTimes:
		return m.fixTimes(ctx, t)
	}
	return nil
}

func (m *Machine) adminText(ctx context.Context, t *turn) error {
	input := strings.TrimSpace(t.Text)

	switch t.session.State {
	case StateEnteringDate:
		date, err := booking.NormalizeSlotDate(input)
		if err != nil {
			m.reply(ctx, t, textBadSlotDate, cancelAdminKeyboard())
			return nil
		}
		t.set(Session{State: StateEnteringDay, Date: date})
		m.reply(ctx, t, textAskSlotDay, cancelAdminKeyboard())
		return nil

	case StateEnteringDay:
		day, err := booking.NormalizeDayLabel(input)
		if err != nil {
			m.reply(ctx, t, textBadSlotDay, cancelAdminKeyboard())
			return nil
		}
		t.set(Session{State: StateEnteringTime, Date: t.session.Date, Day: day})
		m.reply(ctx, t, textAskSlotTime, cancelAdminKeyboard())
		return nil

	case StateEnteringTime:
		return m.createSlot(ctx, t, input)

	case StateEnteringNotification:
		return m.notifyAndDelete(ctx, t, input)
	}

	m.reply(ctx, t, textAdminPanel, adminKeyboard())
	return nil
}

func (m *Machine) createSlot(ctx context.Context, t *turn, input string) error {
	if _, err := booking.NormalizeSlotTime(input); err != nil {
		m.reply(ctx, t, textBadSlotTime, cancelAdminKeyboard())
		return nil
	}

	slot, err := m.svc.CreateSlot(ctx, t.session.Date, t.session.Day, input)
	switch {
	case errors.Is(err, booking.ErrDuplicateSlot):
		t.reset()
		m.reply(ctx, t, textDuplicateSlot, adminKeyboard())
		return nil
	case booking.IsValidationError(err):
		// The date or day held in the session no longer validates; start over.
		t.set(Session{State: StateEnteringDate})
		m.reply(ctx, t, textBadSlotDate, cancelAdminKeyboard())
		return nil
	case err != nil:
		return err
	}

	t.reset()
	m.reply(ctx, t, textSlotCreated(slot), adminKeyboard())
	return nil
}

func (m *Machine) showDeleteDates(ctx context.Context, t *turn) error {
	dates, err := m.svc.SlotDates(ctx)
	if err != nil {
		return err
	}
	if len(dates) == 0 {
		t.reset()
		m.reply(ctx, t, textNoSlotsToDelete, backToAdminKeyboard())
		return nil
	}

	t.set(Session{State: StatePickingDate})
	m.reply(ctx, t, textPickDeleteDate, datesKeyboard(dates, actDeleteDate, actAdmin, "🔙 Назад в админ-панель"))
	return nil
}

func (m *Machine) showDeleteTimes(ctx context.Context, t *turn, date string) error {
	slots, err := m.svc.SlotsByDate(ctx, date)
	if err != nil {
		return err
	}
	if len(slots) == 0 {
		t.reset()
		m.reply(ctx, t, textNoSlotsOn(date), backToAdminKeyboard())
		return nil
	}

	t.set(Session{State: StatePickingTime, Date: date})
	m.reply(ctx, t, textPickDeleteTime(date), deleteSlotsKeyboard(slots))
	return nil
}

// deleteSlot removes a free slot right away. An occupied slot, or one that
// was booked while the admin was looking at the list, first asks for the
// message to forward to the client.
func (m *Machine) deleteSlot(ctx context.Context, t *turn, arg string) error {
	id, ok := parseID(arg)
	if !ok {
		t.reset()
		m.reply(ctx, t, textSlotNotFound, backToAdminKeyboard())
		return nil
	}

	slot, err := m.svc.Slot(ctx, id)
	if errors.Is(err, booking.ErrSlotNotFound) {
		t.reset()
		m.reply(ctx, t, textSlotNotFound, backToAdminKeyboard())
		return nil
	}
	if err != nil {
		return err
	}

	if slot.Available {
		err := m.svc.DeleteFreeSlot(ctx, id)
		switch {
		case err == nil:
			t.reset()
			m.reply(ctx, t, textSlotDeleted, adminKeyboard())
			return nil
		case errors.Is(err, booking.ErrSlotNotFound):
			t.reset()
			m.reply(ctx, t, textSlotNotFound, backToAdminKeyboard())
			return nil
		case !errors.Is(err, booking.ErrSlotOccupied):
			return err
		}
	}

	appt, err := m.svc.AppointmentBySlot(ctx, id)
	if errors.Is(err, booking.ErrAppointmentNotFound) {
		// Cancelled in the meantime; show the refreshed list.
		return m.showDeleteTimes(ctx, t, slot.Date)
	}
	if err != nil {
		return err
	}

	t.set(Session{State: StateEnteringNotification, Date: slot.Date, SlotID: id, AppointmentID: appt.ID})
	m.reply(ctx, t, textAskNotification(appt), cancelAdminKeyboard())
	return nil
}

// notifyAndDelete forwards the admin's message to the client, then deletes
// the slot together with its appointment. The deletion happens whether or
// not the message got through.
func (m *Machine) notifyAndDelete(ctx context.Context, t *turn, message string) error {
	if message == "" {
		m.reply(ctx, t, textEmptyNotification, cancelAdminKeyboard())
		return nil
	}

	var notified int64
	delivered := false
	appt, err := m.svc.Appointment(ctx, t.session.AppointmentID)
	switch {
	case err == nil:
		delivered = m.forward(ctx, appt.Appointment, message)
		notified = appt.ID
	case !errors.Is(err, booking.ErrAppointmentNotFound):
		return err
	}

	detached, err := m.svc.DeleteSlot(ctx, t.session.SlotID)
	if errors.Is(err, booking.ErrSlotNotFound) {
		t.reset()
		m.reply(ctx, t, textSlotNotFound, adminKeyboard())
		return nil
	}
	if err != nil {
		return err
	}

	// Someone else may have booked the slot after the first client cancelled.
	if detached != nil && detached.ID != notified {
		delivered = m.forward(ctx, *detached, message)
		notified = detached.ID
	}

	t.reset()
	if notified == 0 {
		m.reply(ctx, t, textSlotDeleted, adminKeyboard())
		return nil
	}
	m.reply(ctx, t, textDeletedWithNotice(delivered), adminKeyboard())
	return nil
}

func (m *Machine) forward(ctx context.Context, appt booking.Appointment, message string) bool {
	if _, err := m.out.Send(ctx, appt.UserID, textCancelledByAdmin(appt, message), nil); err != nil {
		log.Printf("cancellation notice for appointment %d not delivered: %v", appt.ID, err)
		return false
	}
	return true
}

func (m *Machine) showAppointmentDates(ctx context.Context, t *turn) error {
	dates, err := m.svc.AppointmentDates(ctx)
	if err != nil {
		return err
	}

	t.reset()
	if len(dates) == 0 {
		m.reply(ctx, t, textNoAdminAppts, backToAdminKeyboard())
		return nil
	}
	m.reply(ctx, t, textPickViewDate, adminDatesKeyboard(dates))
	return nil
}

func (m *Machine) showAppointmentsOn(ctx context.Context, t *turn, date string) error {
	appts, err := m.svc.AppointmentsByDate(ctx, date)
	if err != nil {
		return err
	}

	t.reset()
	if len(appts) == 0 {
		m.reply(ctx, t, textNoAdminApptsOn(date), backToAdminKeyboard())
		return nil
	}
	m.reply(ctx, t, textAdminApptsOn(date), adminAppointmentsKeyboard(appts))
	return nil
}

func (m *Machine) showAdminAppointment(ctx context.Context, t *turn, arg string) error {
	t.reset()

	id, ok := parseID(arg)
	if !ok {
		m.reply(ctx, t, textApptNotFound, backToAdminKeyboard())
		return nil
	}

	appt, err := m.svc.Appointment(ctx, id)
	if errors.Is(err, booking.ErrAppointmentNotFound) {
		m.reply(ctx, t, textApptNotFound, backToAdminKeyboard())
		return nil
	}
	if err != nil {
		return err
	}

	m.reply(ctx, t, textAdminAppointment(appt), adminAppointmentKeyboard(appt.Date))
	return nil
}

func (m *Machine) fixTimes(ctx context.Context, t *turn) error {
	report, err := m.svc.NormalizeTimes(ctx)
	if err != nil {
		return err
	}

	t.reset()
	m.reply(ctx, t, textNormalized(report), adminKeyboard())
	return nil
}

package booking

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func countEvents(t *testing.T, conn *sql.DB, eventType string) int {
	t.Helper()
	var n int
	require.NoError(t, conn.QueryRow(`SELECT COUNT(*) FROM event_logs WHERE event_type = ?`, eventType).Scan(&n))
	return n
}

func TestService_BookAndCancelScenario(t *testing.T) {
	ctx := context.Background()
	repo, conn := createTestRepo(t)
	svc := NewService(repo)

	require.NoError(t, svc.RegisterUser(ctx, User{ID: 10, Username: "ann", FirstName: "Ann", Phone: "+79990000000"}))

	slot, err := svc.CreateSlot(ctx, "25.12", "чт", "14.30")
	require.NoError(t, err)
	assert.Equal(t, "14:30", slot.Time)

	_, err = svc.CreateSlot(ctx, "25.12", "чт", "14:30")
	assert.ErrorIs(t, err, ErrDuplicateSlot)

	appt, err := svc.Book(ctx, slot.ID, 10, "  Ann ")
	require.NoError(t, err)
	assert.Equal(t, "Ann", appt.ClientName)
	assert.Equal(t, "25.12", appt.Date)
	assert.Equal(t, "14:30", appt.Time)

	got, err := svc.Slot(ctx, slot.ID)
	require.NoError(t, err)
	assert.False(t, got.Available)

	owner := int64(10)
	_, err = svc.Cancel(ctx, appt.ID, &owner)
	require.NoError(t, err)

	got, err = svc.Slot(ctx, slot.ID)
	require.NoError(t, err)
	assert.True(t, got.Available)

	mine, err := svc.UserAppointments(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, mine)

	assert.Equal(t, 1, countEvents(t, conn, EventSlotCreated))
	assert.Equal(t, 1, countEvents(t, conn, EventAppointmentBooked))
	assert.Equal(t, 1, countEvents(t, conn, EventAppointmentCancelled))
	assertSlotPairing(t, conn)
}

func TestService_Validation(t *testing.T) {
	ctx := context.Background()
	repo, conn := createTestRepo(t)
	svc := NewService(repo)

	_, err := svc.CreateSlot(ctx, "32.01", "пн", "10:00")
	assert.True(t, IsValidationError(err))
	_, err = svc.CreateSlot(ctx, "01.01", "", "10:00")
	assert.True(t, IsValidationError(err))
	_, err = svc.CreateSlot(ctx, "01.01", "пн", "10-00")
	assert.True(t, IsValidationError(err))

	slot, err := svc.CreateSlot(ctx, "1.1", "пн", "10:00")
	require.NoError(t, err)
	assert.Equal(t, "01.01", slot.Date)

	require.NoError(t, svc.RegisterUser(ctx, User{ID: 1}))
	_, err = svc.Book(ctx, slot.ID, 1, " A ")
	assert.True(t, IsValidationError(err))

	got, err := svc.Slot(ctx, slot.ID)
	require.NoError(t, err)
	assert.True(t, got.Available, "rejected name must not reserve the slot")

	assert.True(t, IsValidationError(svc.RegisterUser(ctx, User{})))
	_, err = svc.CreatePoll(ctx, "")
	assert.True(t, IsValidationError(err))

	assert.Equal(t, 0, countEvents(t, conn, EventAppointmentBooked))
}

func TestService_DeleteSlotAndReminders(t *testing.T) {
	ctx := context.Background()
	repo, conn := createTestRepo(t)
	svc := NewService(repo)
	require.NoError(t, svc.RegisterUser(ctx, User{ID: 3}))

	slot, err := svc.CreateSlot(ctx, "10.10", "пт", "09:00")
	require.NoError(t, err)
	appt, err := svc.Book(ctx, slot.ID, 3, "Client")
	require.NoError(t, err)

	require.NoError(t, svc.MarkReminderSent(ctx, appt.ID, ReminderLate))
	require.NoError(t, svc.MarkReminderSent(ctx, appt.ID, ReminderLate))
	detail, err := svc.Appointment(ctx, appt.ID)
	require.NoError(t, err)
	assert.True(t, detail.Reminder1hSent)

	assert.ErrorIs(t, svc.DeleteFreeSlot(ctx, slot.ID), ErrSlotOccupied)

	detached, err := svc.DeleteSlot(ctx, slot.ID)
	require.NoError(t, err)
	require.NotNil(t, detached)
	assert.Equal(t, appt.ID, detached.ID)

	assert.Equal(t, 1, countEvents(t, conn, EventSlotDeleted))
	assert.Equal(t, 2, countEvents(t, conn, EventReminderSent))
}

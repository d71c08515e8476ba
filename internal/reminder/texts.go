package reminder

import (
	"fmt"

	"github.com/hackgods/slot-booking-bot/internal/booking"
)

func reminderText(kind booking.ReminderKind, a booking.AppointmentDetail) string {
	if kind == booking.ReminderEarly {
		return fmt.Sprintf("👋 Привет! Напоминаем о вашей записи завтра!\n\n"+
			"📅 Дата: %s\n⏰ Время: %s\n👤 Имя: %s\n\n"+
			"Не забудьте прийти вовремя! 😊", a.Date, a.Time, a.ClientName)
	}
	return fmt.Sprintf("⏰ Напоминаем о вашей записи через час!\n\n"+
		"📅 Дата: %s\n⏰ Время: %s\n👤 Имя: %s\n\n"+
		"Ждём вас! 💖", a.Date, a.Time, a.ClientName)
}

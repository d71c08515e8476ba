package conversation

import (
	"fmt"
	"strings"

	"github.com/hackgods/slot-booking-bot/internal/booking"
	"github.com/hackgods/slot-booking-bot/internal/notify"
)

const (
	textAskPhone        = "👋 Добро пожаловать! Для использования бота необходимо поделиться номером телефона.\n\n📞 Нажмите кнопку ниже, чтобы поделиться номером:"
	textPhoneSaved      = "✅ Номер успешно сохранен!"
	textMainMenu        = "👋 Добро пожаловать в главное меню! Выберите действие:"
	textNoDates         = "❌ На данный момент нет доступных дат для записи.\n\n⚠️ Пожалуйста, попробуйте позже или свяжитесь с администратором."
	textChooseDate      = "📅 Выберите удобную дату для записи:"
	textSlotTaken       = "❌ Извините, это время уже занято.\n\n⚠️ Пожалуйста, выберите другое время."
	textAskName         = "✍️ Введите ваше имя для записи:\n\nℹ️ Это имя будет использоваться для вашей записи."
	textBadName         = "❌ Имя должно содержать хотя бы 2 символа.\n\n✍️ Пожалуйста, введите ваше имя еще раз:"
	textNameCancelled   = "❌ Ввод имени отменен."
	textNoAppointments  = "📭 У вас пока нет активных записей.\n\n💡 Вы можете записаться, нажав соответствующую кнопку в меню."
	textMyAppointments  = "📋 Ваши активные записи:\n\nℹ️ Нажмите на запись для просмотра деталей или отмены:"
	textApptNotFound    = "❌ Запись не найдена."
	textApptForbidden   = "❌ У вас нет доступа к этой записи."
	textCancelExpired   = "⚠️ Подтверждение устарело. Откройте запись заново."
	textUseMenu         = "ℹ️ Воспользуйтесь кнопками меню."
	textGenericFailure  = "⚠️ Что-то пошло не так. Пожалуйста, попробуйте позже."
	textAccessDenied    = "❌ У вас нет доступа к этой команде."
	textAdminPanel      = "👨‍💼 Панель администратора:\n\nℹ️ Выберите действие:"
	textAskSlotDate     = "➕ Добавление нового слота:\n\n📅 Введите дату в формате ДД.ММ (например, 25.12):"
	textBadSlotDate     = "❌ Неверная дата!\n\n📅 Введите дату в формате ДД.ММ (например, 25.12):"
	textAskSlotDay      = "📅 Введите день недели (пн, вт, ср, чт, пт, сб, вс):"
	textBadSlotDay      = "❌ День недели не может быть пустым.\n\n📅 Введите день недели (пн, вт, ср, чт, пт, сб, вс):"
	textAskSlotTime     = "⏰ Введите время в формате ЧЧ:ММ (например, 14:30):"
	textBadSlotTime     = "❌ Неверный формат времени!\n\n⏰ Введите время в формате ЧЧ:ММ (например, 14:30):"
	textDuplicateSlot   = "❌ Ошибка: слот с такой датой и временем уже существует.\n\n⚠️ Пожалуйста, введите другие данные."
	textNoSlotsToDelete = "❌ Нет доступных слотов для удаления."
	textPickDeleteDate  = "🗑️ Удаление слота:\n\n📅 Выберите дату:"
	textSlotNotFound    = "❌ Слот не найден."
	textSlotDeleted     = "✅ Слот удален (без активных записей)."
	textNoAdminAppts    = "📭 Нет активных записей."
	textPickViewDate    = "📋 Просмотр записей:\n\n📅 Выберите дату:"

	textEmptyNotification = "💬 Сообщение не может быть пустым. Напишите текст для пользователя:"
)

func textTimesFor(date string) string {
	return fmt.Sprintf("📅 Выбрана дата: %s\n\n⏰ Выберите удобное время:", date)
}

func textNoTimesFor(date string) string {
	return fmt.Sprintf("❌ На дату %s нет доступных времен для записи.", date)
}

func textBooked(a *booking.Appointment) string {
	return fmt.Sprintf("✅ Вы успешно записаны!\n\n📅 Дата: %s\n⏰ Время: %s\n👤 Имя: %s\n\n"+
		"💡 Вы можете просмотреть или отменить запись в разделе \"Мои записи\".", a.Date, a.Time, a.ClientName)
}

func textAdminBooked(a *booking.Appointment, u *booking.User) string {
	return fmt.Sprintf("🔔 Новая запись!\n\n📅 Дата: %s\n⏰ Время: %s\n👤 Клиент: %s\n👤 Username: %s\n📞 Телефон: %s",
		a.Date, a.Time, a.ClientName, handle(u.Username), u.Phone)
}

func textAppointment(d *booking.AppointmentDetail) string {
	return fmt.Sprintf("📋 Детали записи:\n\n📅 Дата: %s\n⏰ Время: %s\n👤 Имя: %s\n📞 Телефон: %s\n\n"+
		"ℹ️ Вы можете отменить запись, нажав кнопку ниже:", d.Date, d.Time, d.ClientName, d.Phone)
}

func textConfirmCancel(d *booking.AppointmentDetail) string {
	return fmt.Sprintf("⚠️ Вы уверены, что хотите отменить запись?\n\n📅 Дата: %s\n⏰ Время: %s\n👤 Имя: %s\n\n"+
		"❌ Это действие нельзя отменить!", d.Date, d.Time, d.ClientName)
}

func textCancelled(a *booking.Appointment) string {
	return fmt.Sprintf("✅ Запись успешно отменена!\n\n📅 Дата: %s\n⏰ Время: %s\n\n💡 Вы можете записаться на другое время.", a.Date, a.Time)
}

func textAdminCancelled(a *booking.Appointment, username string) string {
	return fmt.Sprintf("❌ Запись отменена!\n\n📅 Дата: %s\n⏰ Время: %s\n👤 Пользователь: %s", a.Date, a.Time, handle(username))
}

func textSlotCreated(s *booking.Slot) string {
	return fmt.Sprintf("✅ Слот успешно добавлен!\n\n📅 Дата: %s\n📆 День: %s\n⏰ Время: %s", s.Date, s.Day, s.Time)
}

func textPickDeleteTime(date string) string {
	return fmt.Sprintf("🗑️ Удаление слота:\n\n📅 Выбрана дата: %s\n\n⏰ Выберите время для удаления:\n"+
		"🟢 Свободен - можно удалить без оповещения\n🔴 Занят - будет запрошено сообщение для пользователя", date)
}

func textNoSlotsOn(date string) string {
	return fmt.Sprintf("❌ На дату %s нет слотов.", date)
}

func textAskNotification(d *booking.AppointmentDetail) string {
	return fmt.Sprintf("⚠️ На этот слот есть активная запись!\n\n👤 Клиент: %s\n📅 Дата: %s\n⏰ Время: %s\n\n"+
		"💬 Пожалуйста, напишите сообщение для пользователя, которое будет отправлено при отмене записи:",
		d.ClientName, d.Date, d.Time)
}

func textCancelledByAdmin(a booking.Appointment, message string) string {
	return fmt.Sprintf("❌ Ваша запись отменена администратором.\n\n📅 Дата: %s\n⏰ Время: %s\n👤 Имя: %s\n\n"+
		"💬 Сообщение от администратора: %s\n\n⚠️ Пожалуйста, запишитесь на другое время.",
		a.Date, a.Time, a.ClientName, message)
}

func textDeletedWithNotice(delivered bool) string {
	if delivered {
		return "✅ Слот удален с оповещением пользователя."
	}
	return "✅ Слот удален, но не удалось отправить уведомление пользователю."
}

func textAdminApptsOn(date string) string {
	return fmt.Sprintf("📋 Записи на %s:\n\nℹ️ Выберите запись для просмотра деталей:", date)
}

func textNoAdminApptsOn(date string) string {
	return fmt.Sprintf("📭 На дату %s нет записей.", date)
}

func textAdminAppointment(d *booking.AppointmentDetail) string {
	return fmt.Sprintf("📋 Детали записи:\n\n📅 Дата: %s\n⏰ Время: %s\n👤 Username: %s\n👨‍💼 Имя: %s\n📞 Телефон: %s\n✂️ Имя для записи: %s",
		d.Date, d.Time, handle(d.Username), d.FirstName, d.Phone, d.ClientName)
}

func textNormalized(r booking.NormalizeReport) string {
	if r.Updated == 0 && len(r.Skipped) == 0 {
		return "ℹ️ Все слоты уже имеют правильный формат времени."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "✅ Формат времени исправлен!\n\n🔧 Обновлено слотов: %d", r.Updated)
	if len(r.Skipped) > 0 {
		b.WriteString("\n\n⚠️ Пропущены (такое время уже есть):")
		for _, s := range r.Skipped {
			fmt.Fprintf(&b, "\n• %s %s", s.Date, s.Time)
		}
	}
	return b.String()
}

func handle(username string) string {
	if username == "" {
		return "не указан"
	}
	return "@" + username
}

// Keyboards

func button(text, data string) []notify.Button {
	return []notify.Button{{Text: text, Data: data}}
}

func phoneKeyboard() notify.Keyboard {
	return notify.Keyboard{{{Text: "📱 Поделиться номером", RequestContact: true}}}
}

func mainKeyboard() notify.Keyboard {
	return notify.Keyboard{
		button("✂️ Записаться", actBook),
		button("📋 Мои записи", actMine),
	}
}

func backToMainKeyboard() notify.Keyboard {
	return notify.Keyboard{button("🔙 Назад в меню", actMenu)}
}

func backToDatesKeyboard() notify.Keyboard {
	return notify.Keyboard{button("🔙 Назад к датам", actDates)}
}

func backToAppointmentsKeyboard() notify.Keyboard {
	return notify.Keyboard{button("🔙 Назад к записям", actMine)}
}

func cancelNameKeyboard() notify.Keyboard {
	return notify.Keyboard{button("❌ Отмена", actCancelName)}
}

func datesKeyboard(dates []booking.DateEntry, pick, back, backText string) notify.Keyboard {
	kb := make(notify.Keyboard, 0, len(dates)+1)
	for _, d := range dates {
		kb = append(kb, button(fmt.Sprintf("📅 %s (%s)", d.Date, d.Day), action(pick, d.Date)))
	}
	return append(kb, button(backText, back))
}

// timesKeyboard lays the free times out two per row.
func timesKeyboard(slots []booking.Slot) notify.Keyboard {
	var kb notify.Keyboard
	var row []notify.Button
	for _, s := range slots {
		row = append(row, notify.Button{Text: "⏰ " + s.Time, Data: action(actSlot, s.ID)})
		if len(row) == 2 {
			kb = append(kb, row)
			row = nil
		}
	}
	if len(row) > 0 {
		kb = append(kb, row)
	}
	return append(kb, button("🔙 Назад к датам", actDates))
}

func appointmentsKeyboard(appts []booking.Appointment) notify.Keyboard {
	kb := make(notify.Keyboard, 0, len(appts)+1)
	for _, a := range appts {
		kb = append(kb, button(fmt.Sprintf("📅 %s ⏰ %s", a.Date, a.Time), action(actAppointment, a.ID)))
	}
	return append(kb, button("🔙 Назад в меню", actMenu))
}

func reviewKeyboard(id int64) notify.Keyboard {
	return notify.Keyboard{
		button("❌ Отменить запись", action(actCancelAsk, id)),
		button("🔙 Назад к записям", actMine),
	}
}

func confirmCancelKeyboard(id int64) notify.Keyboard {
	return notify.Keyboard{{
		{Text: "✅ Да, отменить", Data: action(actCancelDo, id)},
		{Text: "❌ Нет, вернуться", Data: action(actAppointment, id)},
	}}
}

func adminKeyboard() notify.Keyboard {
	return notify.Keyboard{
		button("➕ Добавить слот", actAdminAdd),
		button("❌ Удалить слот", actAdminDelete),
		button("📋 Просмотр записей", actAdminView),
		button("🔧 Исправить время", actAdminFixTimes),
	}
}

func backToAdminKeyboard() notify.Keyboard {
	return notify.Keyboard{button("🔙 Назад в админ-панель", actAdmin)}
}

func cancelAdminKeyboard() notify.Keyboard {
	return notify.Keyboard{button("❌ Отменить", actAdmin)}
}

func deleteSlotsKeyboard(slots []booking.Slot) notify.Keyboard {
	kb := make(notify.Keyboard, 0, len(slots)+1)
	for _, s := range slots {
		status := "🔴 Занят"
		if s.Available {
			status = "🟢 Свободен"
		}
		kb = append(kb, button(fmt.Sprintf("⏰ %s (%s)", s.Time, status), action(actDeleteSlot, s.ID)))
	}
	return append(kb, button("🔙 Назад к датам", actAdminDelete))
}

func adminDatesKeyboard(dates []string) notify.Keyboard {
	kb := make(notify.Keyboard, 0, len(dates)+1)
	for _, d := range dates {
		kb = append(kb, button("📅 "+d, action(actViewDate, d)))
	}
	return append(kb, button("🔙 Назад в админ-панель", actAdmin))
}

func adminAppointmentsKeyboard(appts []booking.AppointmentDetail) notify.Keyboard {
	kb := make(notify.Keyboard, 0, len(appts)+1)
	for _, a := range appts {
		kb = append(kb, button(fmt.Sprintf("⏰ %s - %s", a.Time, a.ClientName), action(actViewAppt, a.ID)))
	}
	return append(kb, button("🔙 Назад к датам", actAdminView))
}

func adminAppointmentKeyboard(date string) notify.Keyboard {
	return notify.Keyboard{
		button("🔙 Назад к записям", action(actViewDate, date)),
		button("🏠 В админ-панель", actAdmin),
	}
}

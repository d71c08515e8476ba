package conversation

import (
	"context"
	"strconv"
	"strings"

	"github.com/hackgods/slot-booking-bot/internal/notify"
)

type EventKind int

const (
	EventText    EventKind = iota // free text or a /command
	EventAction                   // inline button press
	EventContact                  // the user shared their own phone number
)

// Event is one inbound input, already stripped of transport details.
type Event struct {
	Kind      EventKind
	UserID    int64
	ChatID    int64
	MessageID int64 // message that carried the pressed button
	Username  string
	FirstName string
	Text      string // message text or button data
	Phone     string
}

// Output is what the machine needs from the notification side.
type Output interface {
	Send(ctx context.Context, chatID int64, text string, kb notify.Keyboard) (int64, error)
	Show(ctx context.Context, chatID, messageID int64, text string, kb notify.Keyboard) error
	NotifyAdmins(ctx context.Context, admins []int64, text string) int
}

// Button data. Parameterized actions carry their argument after a colon.
const (
	actMenu        = "menu"
	actBook        = "book"
	actMine        = "mine"
	actDates       = "dates"
	actDate        = "date"
	actSlot        = "slot"
	actCancelName  = "cancel_name"
	actAppointment = "appt"
	actCancelAsk   = "cancel_ask"
	actCancelDo    = "cancel_do"

	actAdmin         = "admin"
	actAdminAdd      = "admin_add"
	actAdminDelete   = "admin_del"
	actDeleteDate    = "deldate"
	actDeleteSlot    = "delslot"
	actAdminView     = "admin_view"
	actViewDate      = "viewdate"
	actViewAppt      = "viewappt"
	actAdminFixTimes = "admin_fix"
)

const (
	cmdStart   = "/start"
	cmdAdmin   = "/admin"
	cmdFixTime = "/fix_time"
)

func action(name string, arg any) string {
	switch v := arg.(type) {
	case int64:
		return name + ":" + strconv.FormatInt(v, 10)
	case string:
		return name + ":" + v
	}
	return name
}

func parseAction(data string) (name, arg string) {
	name, arg, _ = strings.Cut(data, ":")
	return name, arg
}

func parseID(arg string) (int64, bool) {
	id, err := strconv.ParseInt(arg, 10, 64)
	return id, err == nil && id > 0
}

// command returns the bare /command of a text message, without any
// @botname suffix or arguments.
func command(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return ""
	}
	cmd, _, _ := strings.Cut(text, " ")
	cmd, _, _ = strings.Cut(cmd, "@")
	return cmd
}

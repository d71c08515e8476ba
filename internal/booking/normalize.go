package booking

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

const (
	minClientNameLen = 2
	maxClientNameLen = 64
	maxDayLabelLen   = 16
)

// NormalizeSlotTime validates admin time input. Either ':' or '.' separates
// exactly two 2-digit numeric groups; the result always uses ':'.
func NormalizeSlotTime(input string) (string, error) {
	s := strings.ReplaceAll(strings.TrimSpace(input), ".", ":")
	parts := strings.Split(s, ":")
	if len(parts) != 2 || len(parts[0]) != 2 || len(parts[1]) != 2 || !isDigits(parts[0]) || !isDigits(parts[1]) {
		return "", &ValidationError{Field: "time", Reason: "expected HH:MM"}
	}
	h, _ := strconv.Atoi(parts[0])
	m, _ := strconv.Atoi(parts[1])
	if h > 23 || m > 59 {
		return "", &ValidationError{Field: "time", Reason: "out of range"}
	}
	return parts[0] + ":" + parts[1], nil
}

// CanonicalStoredTime rewrites a stored time into HH:MM, padding a single
// digit hour ("9.30" -> "09:30"). ok is false when the value cannot be
// interpreted; such rows are left untouched by maintenance.
func CanonicalStoredTime(stored string) (string, bool) {
	s := strings.ReplaceAll(strings.TrimSpace(stored), ".", ":")
	parts := strings.Split(s, ":")
	if len(parts) != 2 || !isDigits(parts[0]) || !isDigits(parts[1]) {
		return "", false
	}
	if len(parts[0]) < 1 || len(parts[0]) > 2 || len(parts[1]) != 2 {
		return "", false
	}
	h, _ := strconv.Atoi(parts[0])
	m, _ := strconv.Atoi(parts[1])
	if h > 23 || m > 59 {
		return "", false
	}
	return fmt.Sprintf("%02d:%02d", h, m), true
}

// NormalizeSlotDate validates D.M / DD.MM input and returns zero-padded DD.MM.
// Feb 29 is accepted; the year is resolved later against the clock.
func NormalizeSlotDate(input string) (string, error) {
	day, month, err := ParseDayMonth(strings.TrimSpace(input))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%02d.%02d", day, month), nil
}

// ParseDayMonth splits a DD.MM date.
func ParseDayMonth(s string) (day, month int, err error) {
	parts := strings.Split(s, ".")
	if len(parts) != 2 || !isDigits(parts[0]) || !isDigits(parts[1]) || len(parts[0]) > 2 || len(parts[1]) > 2 {
		return 0, 0, &ValidationError{Field: "date", Reason: "expected DD.MM"}
	}
	day, _ = strconv.Atoi(parts[0])
	month, _ = strconv.Atoi(parts[1])
	if month < 1 || month > 12 || day < 1 || day > daysIn(month) {
		return 0, 0, &ValidationError{Field: "date", Reason: "no such day"}
	}
	return day, month, nil
}

// ParseHourMinute splits an HH:MM time.
func ParseHourMinute(s string) (hour, minute int, err error) {
	parts := strings.Split(s, ":")
	if len(parts) != 2 || !isDigits(parts[0]) || !isDigits(parts[1]) {
		return 0, 0, &ValidationError{Field: "time", Reason: "expected HH:MM"}
	}
	hour, _ = strconv.Atoi(parts[0])
	minute, _ = strconv.Atoi(parts[1])
	if hour > 23 || minute > 59 {
		return 0, 0, &ValidationError{Field: "time", Reason: "out of range"}
	}
	return hour, minute, nil
}

func NormalizeDayLabel(input string) (string, error) {
	s := strings.TrimSpace(input)
	if s == "" {
		return "", &ValidationError{Field: "day", Reason: "empty"}
	}
	if utf8.RuneCountInString(s) > maxDayLabelLen {
		return "", &ValidationError{Field: "day", Reason: "too long"}
	}
	return s, nil
}

// NormalizeClientName trims and NFC-normalizes the name, then requires at
// least two non-whitespace characters.
func NormalizeClientName(input string) (string, error) {
	s := norm.NFC.String(strings.TrimSpace(input))
	visible := 0
	for _, r := range s {
		if !unicode.IsSpace(r) {
			visible++
		}
	}
	if visible < minClientNameLen {
		return "", &ValidationError{Field: "name", Reason: "at least 2 characters"}
	}
	if utf8.RuneCountInString(s) > maxClientNameLen {
		return "", &ValidationError{Field: "name", Reason: "too long"}
	}
	return s, nil
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func daysIn(month int) int {
	switch month {
	case 2:
		return 29
	case 4, 6, 9, 11:
		return 30
	default:
		return 31
	}
}

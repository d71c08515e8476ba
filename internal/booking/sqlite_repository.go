package booking

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"
)

// SQLiteRepository is the single-file store. The connection pool is pinned to
// one connection (see db.OpenSQLite), so each transaction runs alone.
type SQLiteRepository struct {
	db *sql.DB
}

func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

// sqliteTime accepts timestamps whether the driver already parsed them or
// handed back raw text, which happens for RETURNING columns.
type sqliteTime struct {
	t *time.Time
}

func (s sqliteTime) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*s.t = time.Time{}
		return nil
	case time.Time:
		*s.t = v
		return nil
	case []byte:
		return s.parse(string(v))
	case string:
		return s.parse(v)
	}
	return fmt.Errorf("unsupported timestamp type %T", src)
}

func (s sqliteTime) parse(v string) error {
	for _, layout := range sqlite3.SQLiteTimestampFormats {
		if t, err := time.ParseInLocation(layout, v, time.UTC); err == nil {
			*s.t = t
			return nil
		}
	}
	return fmt.Errorf("unparseable timestamp %q", v)
}

func sqliteCode(err error) sqlite3.ErrNoExtended {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.ExtendedCode
	}
	return 0
}

func scanSQLiteSlot(row rowScanner) (*Slot, error) {
	var s Slot
	if err := row.Scan(&s.ID, &s.Date, &s.Day, &s.Time, &s.Available, sqliteTime{&s.CreatedAt}); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSlotNotFound
		}
		return nil, storageErr("scan slot", err)
	}
	return &s, nil
}

func scanSQLiteAppointment(row rowScanner) (*Appointment, error) {
	var a Appointment
	var date, clock *string
	err := row.Scan(&a.ID, &a.UserID, &a.SlotID, &a.ClientName, &date, &clock,
		&a.Reminder24hSent, &a.Reminder1hSent, sqliteTime{&a.CreatedAt})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, storageErr("scan appointment", err)
	}
	a.Date = deref(date)
	a.Time = deref(clock)
	return &a, nil
}

func scanSQLiteDetail(row rowScanner) (*AppointmentDetail, error) {
	var d AppointmentDetail
	var date, clock *string
	err := row.Scan(&d.ID, &d.UserID, &d.SlotID, &d.ClientName, &date, &clock,
		&d.Reminder24hSent, &d.Reminder1hSent, sqliteTime{&d.CreatedAt},
		&d.Username, &d.FirstName, &d.Phone)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, storageErr("scan appointment detail", err)
	}
	d.Date = deref(date)
	d.Time = deref(clock)
	return &d, nil
}

func scanSQLitePoll(row rowScanner) (*Poll, error) {
	var p Poll
	if err := row.Scan(&p.ID, &p.Question, &p.YesVotes, &p.NoVotes, sqliteTime{&p.CreatedAt}); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrPollNotFound
		}
		return nil, storageErr("scan poll", err)
	}
	return &p, nil
}

func collectSQLite[T any](rows *sql.Rows, scan func(rowScanner) (*T, error)) ([]T, error) {
	defer rows.Close()

	var result []T
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *v)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate rows", err)
	}
	return result, nil
}

func (r *SQLiteRepository) query(ctx context.Context, op, q string, args ...any) (*sql.Rows, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, storageErr(op, err)
	}
	return rows, nil
}

// Users

func (r *SQLiteRepository) UpsertUser(ctx context.Context, u User) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO users (id, username, first_name, phone)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE
		SET username = excluded.username,
		    first_name = excluded.first_name,
		    phone = excluded.phone,
		    updated_at = CURRENT_TIMESTAMP
	`, u.ID, u.Username, u.FirstName, u.Phone)
	return storageErr("upsert user", err)
}

func (r *SQLiteRepository) GetUser(ctx context.Context, id int64) (*User, error) {
	var u User
	err := r.db.QueryRowContext(ctx, `
		SELECT id, username, first_name, phone, created_at, updated_at
		FROM users WHERE id = ?
	`, id).Scan(&u.ID, &u.Username, &u.FirstName, &u.Phone, sqliteTime{&u.CreatedAt}, sqliteTime{&u.UpdatedAt})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, storageErr("get user", err)
	}
	return &u, nil
}

// Slots

func (r *SQLiteRepository) CreateSlot(ctx context.Context, date, day, clock string) (*Slot, error) {
	s, err := scanSQLiteSlot(r.db.QueryRowContext(ctx, `
		INSERT INTO slots (date, day, time, available) VALUES (?, ?, ?, 1)
		RETURNING `+slotColumns, date, day, clock))
	if err != nil {
		if sqliteCode(err) == sqlite3.ErrConstraintUnique {
			return nil, ErrDuplicateSlot
		}
		return nil, err
	}
	return s, nil
}

func (r *SQLiteRepository) GetSlot(ctx context.Context, id int64) (*Slot, error) {
	return scanSQLiteSlot(r.db.QueryRowContext(ctx, `SELECT `+slotColumns+` FROM slots WHERE id = ?`, id))
}

func (r *SQLiteRepository) ListAvailableSlots(ctx context.Context, date string) ([]Slot, error) {
	rows, err := r.query(ctx, "list available slots",
		`SELECT `+slotColumns+` FROM slots WHERE date = ? AND available = 1 ORDER BY time`, date)
	if err != nil {
		return nil, err
	}
	return collectSQLite(rows, scanSQLiteSlot)
}

func (r *SQLiteRepository) ListSlotsByDate(ctx context.Context, date string) ([]Slot, error) {
	rows, err := r.query(ctx, "list slots by date",
		`SELECT `+slotColumns+` FROM slots WHERE date = ? ORDER BY time`, date)
	if err != nil {
		return nil, err
	}
	return collectSQLite(rows, scanSQLiteSlot)
}

func (r *SQLiteRepository) listDates(ctx context.Context, op, where string) ([]DateEntry, error) {
	rows, err := r.query(ctx, op, `SELECT date, MIN(day) FROM slots `+where+` GROUP BY date ORDER BY `+dateOrder)
	if err != nil {
		return nil, err
	}
	return collectSQLite(rows, func(row rowScanner) (*DateEntry, error) {
		var e DateEntry
		if err := row.Scan(&e.Date, &e.Day); err != nil {
			return nil, storageErr("scan date", err)
		}
		return &e, nil
	})
}

func (r *SQLiteRepository) ListAvailableDates(ctx context.Context) ([]DateEntry, error) {
	return r.listDates(ctx, "list available dates", `WHERE available = 1`)
}

func (r *SQLiteRepository) ListSlotDates(ctx context.Context) ([]DateEntry, error) {
	return r.listDates(ctx, "list slot dates", ``)
}

func (r *SQLiteRepository) DeleteFreeSlot(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM slots WHERE id = ? AND available = 1`, id)
	if err != nil {
		return storageErr("delete free slot", err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}
	if _, err := r.GetSlot(ctx, id); err != nil {
		return err
	}
	return ErrSlotOccupied
}

func (r *SQLiteRepository) DeleteSlot(ctx context.Context, id int64) (*Appointment, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, storageErr("begin delete slot", err)
	}
	defer tx.Rollback()

	detached, err := scanSQLiteAppointment(tx.QueryRowContext(ctx,
		`DELETE FROM appointments WHERE slot_id = ? RETURNING `+appointmentColumns, id))
	if err != nil && !errors.Is(err, ErrAppointmentNotFound) {
		return nil, err
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM slots WHERE id = ?`, id)
	if err != nil {
		return nil, storageErr("delete slot", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrSlotNotFound
	}

	if err := tx.Commit(); err != nil {
		return nil, storageErr("commit delete slot", err)
	}
	return detached, nil
}

func (r *SQLiteRepository) NormalizeTimes(ctx context.Context) (NormalizeReport, error) {
	var report NormalizeReport

	rows, err := r.query(ctx, "list slots", `SELECT `+slotColumns+` FROM slots ORDER BY id`)
	if err != nil {
		return report, err
	}
	slots, err := collectSQLite(rows, scanSQLiteSlot)
	if err != nil {
		return report, err
	}

	for _, s := range slots {
		canonical, ok := CanonicalStoredTime(s.Time)
		if !ok || canonical == s.Time {
			continue
		}
		err := r.retimeSlot(ctx, s.ID, canonical)
		if sqliteCode(err) == sqlite3.ErrConstraintUnique {
			report.Skipped = append(report.Skipped, s)
			continue
		}
		if err != nil {
			return report, storageErr("normalize slot time", err)
		}
		report.Updated++
	}

	rows, err = r.query(ctx, "list appointment times",
		`SELECT `+appointmentColumns+` FROM appointments WHERE slot_id IS NULL AND time IS NOT NULL`)
	if err != nil {
		return report, err
	}
	appts, err := collectSQLite(rows, scanSQLiteAppointment)
	if err != nil {
		return report, err
	}
	for _, a := range appts {
		canonical, ok := CanonicalStoredTime(a.Time)
		if !ok || canonical == a.Time {
			continue
		}
		if _, err := r.db.ExecContext(ctx, `UPDATE appointments SET time = ? WHERE id = ?`, canonical, a.ID); err != nil {
			return report, storageErr("normalize appointment time", err)
		}
	}

	return report, nil
}

func (r *SQLiteRepository) retimeSlot(ctx context.Context, id int64, clock string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `UPDATE slots SET time = ? WHERE id = ?`, clock, id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE appointments SET time = ? WHERE slot_id = ?`, clock, id); err != nil {
		return err
	}
	return tx.Commit()
}

// Appointments

func (r *SQLiteRepository) ReserveSlot(ctx context.Context, slotID, userID int64, clientName string) (*Appointment, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, storageErr("begin reserve", err)
	}
	defer tx.Rollback()

	var date, clock string
	err = tx.QueryRowContext(ctx, `
		UPDATE slots SET available = 0
		WHERE id = ? AND available = 1
		RETURNING date, time
	`, slotID).Scan(&date, &clock)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSlotUnavailable
		}
		return nil, storageErr("claim slot", err)
	}

	appt, err := scanSQLiteAppointment(tx.QueryRowContext(ctx, `
		INSERT INTO appointments (user_id, slot_id, client_name, date, time)
		VALUES (?, ?, ?, ?, ?)
		RETURNING `+appointmentColumns, userID, slotID, clientName, date, clock))
	if err != nil {
		switch sqliteCode(err) {
		case sqlite3.ErrConstraintUnique:
			return nil, ErrSlotUnavailable
		case sqlite3.ErrConstraintForeignKey:
			return nil, ErrUserNotFound
		}
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, storageErr("commit reserve", err)
	}
	return appt, nil
}

func (r *SQLiteRepository) CancelAppointment(ctx context.Context, id int64, requester *int64) (*Appointment, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, storageErr("begin cancel", err)
	}
	defer tx.Rollback()

	appt, err := scanSQLiteAppointment(tx.QueryRowContext(ctx, `
		DELETE FROM appointments
		WHERE id = ? AND (? IS NULL OR user_id = ?)
		RETURNING `+appointmentColumns, id, requester, requester))
	if err != nil {
		return nil, err
	}

	if appt.SlotID != nil {
		if _, err := tx.ExecContext(ctx, `UPDATE slots SET available = 1 WHERE id = ?`, *appt.SlotID); err != nil {
			return nil, storageErr("release slot", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, storageErr("commit cancel", err)
	}
	return appt, nil
}

func (r *SQLiteRepository) GetAppointment(ctx context.Context, id int64) (*AppointmentDetail, error) {
	return scanSQLiteDetail(r.db.QueryRowContext(ctx, detailSelect+` WHERE a.id = ?`, id))
}

func (r *SQLiteRepository) GetAppointmentBySlot(ctx context.Context, slotID int64) (*AppointmentDetail, error) {
	return scanSQLiteDetail(r.db.QueryRowContext(ctx, detailSelect+` WHERE a.slot_id = ?`, slotID))
}

func (r *SQLiteRepository) ListUserAppointments(ctx context.Context, userID int64) ([]Appointment, error) {
	rows, err := r.query(ctx, "list user appointments", `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE user_id = ? AND date IS NOT NULL AND time IS NOT NULL
		ORDER BY `+dateOrder+`, time
	`, userID)
	if err != nil {
		return nil, err
	}
	return collectSQLite(rows, scanSQLiteAppointment)
}

func (r *SQLiteRepository) ListAppointmentDates(ctx context.Context) ([]string, error) {
	rows, err := r.query(ctx, "list appointment dates", `
		SELECT date FROM appointments
		WHERE date IS NOT NULL
		GROUP BY date
		ORDER BY `+dateOrder)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var dates []string
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, storageErr("scan appointment date", err)
		}
		dates = append(dates, d)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate appointment dates", err)
	}
	return dates, nil
}

func (r *SQLiteRepository) ListAppointmentsByDate(ctx context.Context, date string) ([]AppointmentDetail, error) {
	rows, err := r.query(ctx, "list appointments by date", detailSelect+` WHERE a.date = ? ORDER BY a.time`, date)
	if err != nil {
		return nil, err
	}
	return collectSQLite(rows, scanSQLiteDetail)
}

func (r *SQLiteRepository) ListReminderCandidates(ctx context.Context) ([]AppointmentDetail, error) {
	rows, err := r.query(ctx, "list reminder candidates",
		detailSelect+` WHERE a.date IS NOT NULL AND a.time IS NOT NULL ORDER BY a.id`)
	if err != nil {
		return nil, err
	}
	return collectSQLite(rows, scanSQLiteDetail)
}

func (r *SQLiteRepository) SetReminderSent(ctx context.Context, id int64, kind ReminderKind, sent bool) error {
	column, err := reminderColumn(kind)
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, fmt.Sprintf(`UPDATE appointments SET %s = ? WHERE id = ?`, column), sent, id)
	if err != nil {
		return storageErr("set reminder flag", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrAppointmentNotFound
	}
	return nil
}

// Polls

const pollColumns = `id, question, yes_votes, no_votes, created_at`

func (r *SQLiteRepository) CreatePoll(ctx context.Context, question string) (*Poll, error) {
	return scanSQLitePoll(r.db.QueryRowContext(ctx,
		`INSERT INTO polls (question) VALUES (?) RETURNING `+pollColumns, question))
}

func (r *SQLiteRepository) GetPoll(ctx context.Context, id int64) (*Poll, error) {
	return scanSQLitePoll(r.db.QueryRowContext(ctx, `SELECT `+pollColumns+` FROM polls WHERE id = ?`, id))
}

func (r *SQLiteRepository) CastVote(ctx context.Context, pollID, userID int64, choice VoteChoice) (*Poll, error) {
	if choice != VoteYes && choice != VoteNo {
		return nil, &ValidationError{Field: "vote", Reason: "expected yes or no"}
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, storageErr("begin vote", err)
	}
	defer tx.Rollback()

	poll, err := scanSQLitePoll(tx.QueryRowContext(ctx, `SELECT `+pollColumns+` FROM polls WHERE id = ?`, pollID))
	if err != nil {
		return nil, err
	}

	var previous string
	err = tx.QueryRowContext(ctx, `SELECT vote FROM poll_votes WHERE poll_id = ? AND user_id = ?`, pollID, userID).Scan(&previous)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if _, err := tx.ExecContext(ctx, `INSERT INTO poll_votes (poll_id, user_id, vote) VALUES (?, ?, ?)`, pollID, userID, string(choice)); err != nil {
			return nil, storageErr("insert vote", err)
		}
	case err != nil:
		return nil, storageErr("load vote", err)
	case VoteChoice(previous) == choice:
		return poll, nil
	default:
		old := voteColumn(VoteChoice(previous))
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`UPDATE polls SET %[1]s = %[1]s - 1 WHERE id = ?`, old), pollID); err != nil {
			return nil, storageErr("retract vote", err)
		}
		if _, err := tx.ExecContext(ctx, `UPDATE poll_votes SET vote = ? WHERE poll_id = ? AND user_id = ?`, string(choice), pollID, userID); err != nil {
			return nil, storageErr("update vote", err)
		}
	}

	poll, err = scanSQLitePoll(tx.QueryRowContext(ctx, fmt.Sprintf(
		`UPDATE polls SET %[1]s = %[1]s + 1 WHERE id = ? RETURNING `+pollColumns, voteColumn(choice)), pollID))
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, storageErr("commit vote", err)
	}
	return poll, nil
}

// Event logging

func (r *SQLiteRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	var payload *string
	if ev.Payload != nil {
		s := string(ev.Payload)
		payload = &s
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO event_logs (event_type, appointment_id, slot_id, payload, created_at)
		VALUES (?, ?, ?, ?, COALESCE(?, CURRENT_TIMESTAMP))
	`, ev.EventType, ev.AppointmentID, ev.SlotID, payload, nullableTime(ev.CreatedAt))
	return storageErr("insert event log", err)
}

func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return storageErr("ping", r.db.PingContext(ctx))
}

package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

const (
	slotColumns        = `id, date, day, time, available, created_at`
	appointmentColumns = `id, user_id, slot_id, client_name, date, time, reminder_24h_sent, reminder_1h_sent, created_at`
	detailSelect       = `
		SELECT a.id, a.user_id, a.slot_id, a.client_name, a.date, a.time,
		       a.reminder_24h_sent, a.reminder_1h_sent, a.created_at,
		       u.username, u.first_name, u.phone
		FROM appointments a
		JOIN users u ON u.id = a.user_id`
	dateOrder = `substr(date, 4, 2), substr(date, 1, 2)`
)

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

// Helpers

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

func scanUser(row pgx.Row) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Username, &u.FirstName, &u.Phone, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, storageErr("scan user", err)
	}
	return &u, nil
}

func scanPgSlot(row pgx.Row) (*Slot, error) {
	var s Slot
	err := row.Scan(&s.ID, &s.Date, &s.Day, &s.Time, &s.Available, &s.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSlotNotFound
		}
		return nil, storageErr("scan slot", err)
	}
	return &s, nil
}

func scanPgAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var date, clock *string

	err := row.Scan(
		&a.ID,
		&a.UserID,
		&a.SlotID,
		&a.ClientName,
		&date,
		&clock,
		&a.Reminder24hSent,
		&a.Reminder1hSent,
		&a.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, storageErr("scan appointment", err)
	}

	a.Date = deref(date)
	a.Time = deref(clock)
	return &a, nil
}

func scanPgDetail(row pgx.Row) (*AppointmentDetail, error) {
	var d AppointmentDetail
	var date, clock *string

	err := row.Scan(
		&d.ID,
		&d.UserID,
		&d.SlotID,
		&d.ClientName,
		&date,
		&clock,
		&d.Reminder24hSent,
		&d.Reminder1hSent,
		&d.CreatedAt,
		&d.Username,
		&d.FirstName,
		&d.Phone,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, storageErr("scan appointment detail", err)
	}

	d.Date = deref(date)
	d.Time = deref(clock)
	return &d, nil
}

func collectPg[T any](rows pgx.Rows, scan func(pgx.Row) (*T, error)) ([]T, error) {
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

func scanDateEntry(row pgx.Row) (*DateEntry, error) {
	var e DateEntry
	if err := row.Scan(&e.Date, &e.Day); err != nil {
		return nil, storageErr("scan date", err)
	}
	return &e, nil
}

// Users

func (r *PgRepository) UpsertUser(ctx context.Context, u User) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO users (id, username, first_name, phone, created_at, updated_at)
		VALUES ($1, $2, $3, $4, now(), now())
		ON CONFLICT (id) DO UPDATE
		SET username = EXCLUDED.username,
		    first_name = EXCLUDED.first_name,
		    phone = EXCLUDED.phone,
		    updated_at = now()
	`, u.ID, u.Username, u.FirstName, u.Phone)
	return storageErr("upsert user", err)
}

func (r *PgRepository) GetUser(ctx context.Context, id int64) (*User, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, username, first_name, phone, created_at, updated_at
		FROM users
		WHERE id = $1
	`, id)
	return scanUser(row)
}

// Slots

func (r *PgRepository) CreateSlot(ctx context.Context, date, day, clock string) (*Slot, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO slots (date, day, time, available, created_at)
		VALUES ($1, $2, $3, TRUE, now())
		RETURNING `+slotColumns, date, day, clock)

	s, err := scanPgSlot(row)
	if err != nil {
		if pgCode(err) == pgUniqueViolation {
			return nil, ErrDuplicateSlot
		}
		return nil, err
	}
	return s, nil
}

func (r *PgRepository) GetSlot(ctx context.Context, id int64) (*Slot, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+slotColumns+` FROM slots WHERE id = $1`, id)
	return scanPgSlot(row)
}

func (r *PgRepository) ListAvailableSlots(ctx context.Context, date string) ([]Slot, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+slotColumns+`
		FROM slots
		WHERE date = $1 AND available
		ORDER BY time
	`, date)
	if err != nil {
		return nil, storageErr("list available slots", err)
	}
	return collectPg(rows, scanPgSlot)
}

func (r *PgRepository) ListSlotsByDate(ctx context.Context, date string) ([]Slot, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+slotColumns+`
		FROM slots
		WHERE date = $1
		ORDER BY time
	`, date)
	if err != nil {
		return nil, storageErr("list slots by date", err)
	}
	return collectPg(rows, scanPgSlot)
}

func (r *PgRepository) ListAvailableDates(ctx context.Context) ([]DateEntry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT date, MIN(day)
		FROM slots
		WHERE available
		GROUP BY date
		ORDER BY `+dateOrder)
	if err != nil {
		return nil, storageErr("list available dates", err)
	}
	return collectPg(rows, scanDateEntry)
}

func (r *PgRepository) ListSlotDates(ctx context.Context) ([]DateEntry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT date, MIN(day)
		FROM slots
		GROUP BY date
		ORDER BY `+dateOrder)
	if err != nil {
		return nil, storageErr("list slot dates", err)
	}
	return collectPg(rows, scanDateEntry)
}

func (r *PgRepository) DeleteFreeSlot(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM slots WHERE id = $1 AND available`, id)
	if err != nil {
		return storageErr("delete free slot", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	if _, err := r.GetSlot(ctx, id); err != nil {
		return err
	}
	return ErrSlotOccupied
}

func (r *PgRepository) DeleteSlot(ctx context.Context, id int64) (*Appointment, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, storageErr("begin delete slot", err)
	}
	defer tx.Rollback(ctx)

	// Lock the slot first so a concurrent reservation either commits before
	// us (and its appointment is removed below) or fails afterwards.
	var locked int64
	err = tx.QueryRow(ctx, `SELECT id FROM slots WHERE id = $1 FOR UPDATE`, id).Scan(&locked)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSlotNotFound
		}
		return nil, storageErr("lock slot", err)
	}

	detached, err := scanPgAppointment(tx.QueryRow(ctx, `
		DELETE FROM appointments
		WHERE slot_id = $1
		RETURNING `+appointmentColumns, id))
	if err != nil && !errors.Is(err, ErrAppointmentNotFound) {
		return nil, err
	}

	if _, err := tx.Exec(ctx, `DELETE FROM slots WHERE id = $1`, id); err != nil {
		return nil, storageErr("delete slot", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, storageErr("commit delete slot", err)
	}
	return detached, nil
}

func (r *PgRepository) NormalizeTimes(ctx context.Context) (NormalizeReport, error) {
	var report NormalizeReport

	rows, err := r.pool.Query(ctx, `SELECT `+slotColumns+` FROM slots ORDER BY id`)
	if err != nil {
		return report, storageErr("list slots", err)
	}
	slots, err := collectPg(rows, scanPgSlot)
	if err != nil {
		return report, err
	}

	for _, s := range slots {
		canonical, ok := CanonicalStoredTime(s.Time)
		if !ok || canonical == s.Time {
			continue
		}
		err := r.retimeSlot(ctx, s.ID, canonical)
		if pgCode(err) == pgUniqueViolation {
			report.Skipped = append(report.Skipped, s)
			continue
		}
		if err != nil {
			return report, storageErr("normalize slot time", err)
		}
		report.Updated++
	}

	rows, err = r.pool.Query(ctx, `SELECT `+appointmentColumns+` FROM appointments WHERE slot_id IS NULL AND time IS NOT NULL`)
	if err != nil {
		return report, storageErr("list appointment times", err)
	}
	appts, err := collectPg(rows, scanPgAppointment)
	if err != nil {
		return report, err
	}
	for _, a := range appts {
		canonical, ok := CanonicalStoredTime(a.Time)
		if !ok || canonical == a.Time {
			continue
		}
		if _, err := r.pool.Exec(ctx, `UPDATE appointments SET time = $2 WHERE id = $1`, a.ID, canonical); err != nil {
			return report, storageErr("normalize appointment time", err)
		}
	}

	return report, nil
}

func (r *PgRepository) retimeSlot(ctx context.Context, id int64, clock string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `UPDATE slots SET time = $2 WHERE id = $1`, id, clock); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `UPDATE appointments SET time = $2 WHERE slot_id = $1`, id, clock); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// Appointments

func (r *PgRepository) ReserveSlot(ctx context.Context, slotID, userID int64, clientName string) (*Appointment, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, storageErr("begin reserve", err)
	}
	defer tx.Rollback(ctx)

	// The conditional update is the arbiter: a concurrent reservation blocks
	// on the row lock and then sees available = false.
	var date, clock string
	err = tx.QueryRow(ctx, `
		UPDATE slots
		SET available = FALSE
		WHERE id = $1 AND available
		RETURNING date, time
	`, slotID).Scan(&date, &clock)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSlotUnavailable
		}
		return nil, storageErr("claim slot", err)
	}

	appt, err := scanPgAppointment(tx.QueryRow(ctx, `
		INSERT INTO appointments (user_id, slot_id, client_name, date, time, created_at)
		VALUES ($1, $2, $3, $4, $5, now())
		RETURNING `+appointmentColumns, userID, slotID, clientName, date, clock))
	if err != nil {
		switch pgCode(err) {
		case pgUniqueViolation:
			return nil, ErrSlotUnavailable
		case pgForeignKeyViolation:
			return nil, ErrUserNotFound
		}
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, storageErr("commit reserve", err)
	}
	return appt, nil
}

func (r *PgRepository) CancelAppointment(ctx context.Context, id int64, requester *int64) (*Appointment, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, storageErr("begin cancel", err)
	}
	defer tx.Rollback(ctx)

	// Slot row first, then the appointment: same lock order as reserve and
	// delete.
	_, err = tx.Exec(ctx, `
		UPDATE slots
		SET available = TRUE
		WHERE id = (
			SELECT slot_id FROM appointments
			WHERE id = $1 AND ($2::bigint IS NULL OR user_id = $2)
		)
	`, id, requester)
	if err != nil {
		return nil, storageErr("release slot", err)
	}

	appt, err := scanPgAppointment(tx.QueryRow(ctx, `
		DELETE FROM appointments
		WHERE id = $1 AND ($2::bigint IS NULL OR user_id = $2)
		RETURNING `+appointmentColumns, id, requester))
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, storageErr("commit cancel", err)
	}
	return appt, nil
}

func (r *PgRepository) GetAppointment(ctx context.Context, id int64) (*AppointmentDetail, error) {
	return scanPgDetail(r.pool.QueryRow(ctx, detailSelect+` WHERE a.id = $1`, id))
}

func (r *PgRepository) GetAppointmentBySlot(ctx context.Context, slotID int64) (*AppointmentDetail, error) {
	return scanPgDetail(r.pool.QueryRow(ctx, detailSelect+` WHERE a.slot_id = $1`, slotID))
}

func (r *PgRepository) ListUserAppointments(ctx context.Context, userID int64) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE user_id = $1 AND date IS NOT NULL AND time IS NOT NULL
		ORDER BY `+dateOrder+`, time
	`, userID)
	if err != nil {
		return nil, storageErr("list user appointments", err)
	}
	return collectPg(rows, scanPgAppointment)
}

func (r *PgRepository) ListAppointmentDates(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT date
		FROM appointments
		WHERE date IS NOT NULL
		GROUP BY date
		ORDER BY `+dateOrder)
	if err != nil {
		return nil, storageErr("list appointment dates", err)
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

func (r *PgRepository) ListAppointmentsByDate(ctx context.Context, date string) ([]AppointmentDetail, error) {
	rows, err := r.pool.Query(ctx, detailSelect+` WHERE a.date = $1 ORDER BY a.time`, date)
	if err != nil {
		return nil, storageErr("list appointments by date", err)
	}
	return collectPg(rows, scanPgDetail)
}

func (r *PgRepository) ListReminderCandidates(ctx context.Context) ([]AppointmentDetail, error) {
	rows, err := r.pool.Query(ctx, detailSelect+` WHERE a.date IS NOT NULL AND a.time IS NOT NULL ORDER BY a.id`)
	if err != nil {
		return nil, storageErr("list reminder candidates", err)
	}
	return collectPg(rows, scanPgDetail)
}

func (r *PgRepository) SetReminderSent(ctx context.Context, id int64, kind ReminderKind, sent bool) error {
	column, err := reminderColumn(kind)
	if err != nil {
		return err
	}

	tag, err := r.pool.Exec(ctx, fmt.Sprintf(`UPDATE appointments SET %s = $2 WHERE id = $1`, column), id, sent)
	if err != nil {
		return storageErr("set reminder flag", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAppointmentNotFound
	}
	return nil
}

// Polls

func scanPgPoll(row pgx.Row) (*Poll, error) {
	var p Poll
	if err := row.Scan(&p.ID, &p.Question, &p.YesVotes, &p.NoVotes, &p.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPollNotFound
		}
		return nil, storageErr("scan poll", err)
	}
	return &p, nil
}

func (r *PgRepository) CreatePoll(ctx context.Context, question string) (*Poll, error) {
	return scanPgPoll(r.pool.QueryRow(ctx, `
		INSERT INTO polls (question) VALUES ($1)
		RETURNING id, question, yes_votes, no_votes, created_at
	`, question))
}

func (r *PgRepository) GetPoll(ctx context.Context, id int64) (*Poll, error) {
	return scanPgPoll(r.pool.QueryRow(ctx, `
		SELECT id, question, yes_votes, no_votes, created_at FROM polls WHERE id = $1
	`, id))
}

func (r *PgRepository) CastVote(ctx context.Context, pollID, userID int64, choice VoteChoice) (*Poll, error) {
	if choice != VoteYes && choice != VoteNo {
		return nil, &ValidationError{Field: "vote", Reason: "expected yes or no"}
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, storageErr("begin vote", err)
	}
	defer tx.Rollback(ctx)

	// Locking the poll serializes votes on it.
	if _, err := scanPgPoll(tx.QueryRow(ctx, `
		SELECT id, question, yes_votes, no_votes, created_at FROM polls WHERE id = $1 FOR UPDATE
	`, pollID)); err != nil {
		return nil, err
	}

	var previous string
	err = tx.QueryRow(ctx, `SELECT vote FROM poll_votes WHERE poll_id = $1 AND user_id = $2`, pollID, userID).Scan(&previous)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		if _, err := tx.Exec(ctx, `INSERT INTO poll_votes (poll_id, user_id, vote) VALUES ($1, $2, $3)`, pollID, userID, string(choice)); err != nil {
			return nil, storageErr("insert vote", err)
		}
	case err != nil:
		return nil, storageErr("load vote", err)
	case VoteChoice(previous) == choice:
		return getPgPollTx(ctx, tx, pollID)
	default:
		if _, err := tx.Exec(ctx, fmt.Sprintf(`UPDATE polls SET %s = %s - 1 WHERE id = $1`, voteColumn(VoteChoice(previous)), voteColumn(VoteChoice(previous))), pollID); err != nil {
			return nil, storageErr("retract vote", err)
		}
		if _, err := tx.Exec(ctx, `UPDATE poll_votes SET vote = $3 WHERE poll_id = $1 AND user_id = $2`, pollID, userID, string(choice)); err != nil {
			return nil, storageErr("update vote", err)
		}
	}

	poll, err := scanPgPoll(tx.QueryRow(ctx, fmt.Sprintf(`
		UPDATE polls SET %[1]s = %[1]s + 1 WHERE id = $1
		RETURNING id, question, yes_votes, no_votes, created_at
	`, voteColumn(choice)), pollID))
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, storageErr("commit vote", err)
	}
	return poll, nil
}

func getPgPollTx(ctx context.Context, tx pgx.Tx, id int64) (*Poll, error) {
	return scanPgPoll(tx.QueryRow(ctx, `
		SELECT id, question, yes_votes, no_votes, created_at FROM polls WHERE id = $1
	`, id))
}

// Event logging

func (r *PgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO event_logs (event_type, appointment_id, slot_id, payload, created_at)
		VALUES ($1, $2, $3, $4, COALESCE($5, now()))
	`, ev.EventType, ev.AppointmentID, ev.SlotID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return storageErr("insert event log", err)
	}
	return nil
}

func (r *PgRepository) Ping(ctx context.Context) error {
	return storageErr("ping", r.pool.Ping(ctx))
}

func reminderColumn(kind ReminderKind) (string, error) {
	switch kind {
	case ReminderEarly:
		return "reminder_24h_sent", nil
	case ReminderLate:
		return "reminder_1h_sent", nil
	}
	return "", &ValidationError{Field: "reminder kind", Reason: fmt.Sprintf("unknown %q", kind)}
}

func voteColumn(choice VoteChoice) string {
	if choice == VoteYes {
		return "yes_votes"
	}
	return "no_votes"
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

package reminder

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hackgods/slot-booking-bot/internal/booking"
	"github.com/hackgods/slot-booking-bot/internal/config"
	"github.com/hackgods/slot-booking-bot/internal/notify"
	redisclient "github.com/hackgods/slot-booking-bot/internal/redis"
)

const (
	tickLockName     = "reminder:tick"
	maxParallelSends = 8
)

// Store is the part of the booking service the scheduler reads and writes.
type Store interface {
	ReminderCandidates(ctx context.Context) ([]booking.AppointmentDetail, error)
	MarkReminderSent(ctx context.Context, appointmentID int64, kind booking.ReminderKind) error
}

type Sender interface {
	Send(ctx context.Context, chatID int64, text string, kb notify.Keyboard) (int64, error)
}

// Locker lets replicas share one scheduler: a tick runs only on the instance
// that got the lock.
type Locker interface {
	WithLock(ctx context.Context, name string, fn func(ctx context.Context) error) error
}

type Scheduler struct {
	store  Store
	sender Sender
	cfg    config.Reminder
	locker Locker
	now    func() time.Time

	sendTimeout time.Duration

	lastTick atomic.Int64 // unix nanos of the last tick that completed
}

func NewScheduler(store Store, sender Sender, cfg config.Reminder) *Scheduler {
	sendTimeout := cfg.SendTimeout
	if sendTimeout <= 0 {
		sendTimeout = cfg.Interval / 3
	}
	return &Scheduler{
		store:       store,
		sender:      sender,
		cfg:         cfg,
		now:         time.Now,
		sendTimeout: sendTimeout,
	}
}

// WithLocker makes every tick run under the shared lock.
func (s *Scheduler) WithLocker(l Locker) *Scheduler {
	s.locker = l
	return s
}

// Run ticks until ctx is cancelled. A tick that cannot load appointments
// pauses the loop for ErrorBackoff; nothing else stops it.
func (s *Scheduler) Run(ctx context.Context) {
	log.Printf("reminder scheduler started, interval=%s", s.cfg.Interval)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		if err := s.runOnce(ctx); err != nil {
			log.Printf("reminder tick failed, backing off %s: %v", s.cfg.ErrorBackoff, err)
			if !sleep(ctx, s.cfg.ErrorBackoff) {
				log.Println("reminder scheduler shutting down")
				return
			}
			ticker.Reset(s.cfg.Interval)
			continue
		}

		select {
		case <-ctx.Done():
			log.Println("reminder scheduler shutting down")
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context) error {
	runCtx, cancel := context.WithTimeout(ctx, s.cfg.Interval)
	defer cancel()

	now := s.now()
	tick := func(ctx context.Context) error {
		sent, err := s.Tick(ctx, now)
		if err != nil {
			return err
		}
		if sent > 0 {
			log.Printf("reminder tick delivered %d reminder(s)", sent)
		}
		return nil
	}

	var err error
	if s.locker == nil {
		err = tick(runCtx)
	} else {
		err = s.locker.WithLock(runCtx, tickLockName, tick)
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			err = nil
		}
	}
	if err == nil {
		s.lastTick.Store(now.UnixNano())
	}
	return err
}

// LastTick reports when the loop last completed a tick, zero before the
// first one. A tick skipped because another replica held the lock counts.
func (s *Scheduler) LastTick() time.Time {
	n := s.lastTick.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

// Tick sends every reminder due at the minute of now and returns how many
// were delivered. Only a failure to load appointments is returned; trouble
// with a single appointment is logged and skipped. Sends run in parallel,
// each under its own timeout, so a stalled chat cannot starve the others.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) (int, error) {
	appts, err := s.store.ReminderCandidates(ctx)
	if err != nil {
		return 0, fmt.Errorf("load reminder candidates: %w", err)
	}

	current := now.Truncate(time.Minute)
	var (
		delivered atomic.Int64
		g         errgroup.Group
	)
	g.SetLimit(maxParallelSends)

	for _, a := range appts {
		kind, due, err := s.dueReminder(a, now, current)
		if err != nil {
			log.Printf("skipping reminders for appointment %d: %v", a.ID, err)
			continue
		}
		if !due {
			continue
		}

		a := a
		g.Go(func() error {
			if s.deliver(ctx, a, kind) {
				delivered.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()
	return int(delivered.Load()), nil
}

// deliver sends one reminder and sets its flag whether or not the message
// got through, so a failing chat is not retried every minute.
func (s *Scheduler) deliver(ctx context.Context, a booking.AppointmentDetail, kind booking.ReminderKind) bool {
	sendCtx, cancel := context.WithTimeout(ctx, s.sendTimeout)
	_, sendErr := s.sender.Send(sendCtx, a.UserID, reminderText(kind, a), nil)
	cancel()
	if sendErr != nil {
		log.Printf("%s reminder for appointment %d not delivered: %v", kind, a.ID, sendErr)
	}

	if err := s.store.MarkReminderSent(ctx, a.ID, kind); err != nil {
		log.Printf("failed to mark %s reminder sent for appointment %d: %v", kind, a.ID, err)
		return false
	}
	if sendErr != nil {
		return false
	}
	log.Printf("%s reminder sent for appointment %d", kind, a.ID)
	return true
}

// dueReminder decides which reminder, if any, falls exactly on the current
// minute. The early reminder wins when both offsets match.
func (s *Scheduler) dueReminder(a booking.AppointmentDetail, now, current time.Time) (booking.ReminderKind, bool, error) {
	at, err := ResolveInstant(a.Date, a.Time, now)
	if err != nil {
		return "", false, err
	}

	early := at.Add(-s.cfg.EarlyOffset).Truncate(time.Minute)
	late := at.Add(-s.cfg.LateOffset).Truncate(time.Minute)

	if current.Equal(early) && !a.Reminder24hSent {
		return booking.ReminderEarly, true, nil
	} else if current.Equal(late) && !a.Reminder1hSent {
		return booking.ReminderLate, true, nil
	}
	return "", false, nil
}

// ResolveInstant places a stored DD.MM / HH:MM pair in now's year and
// location, moving it to the next year when it is already in the past. A
// date that does not exist in the chosen year (29.02) is an error.
func ResolveInstant(date, clock string, now time.Time) (time.Time, error) {
	day, month, err := booking.ParseDayMonth(date)
	if err != nil {
		return time.Time{}, err
	}
	hour, minute, err := booking.ParseHourMinute(clock)
	if err != nil {
		return time.Time{}, err
	}

	at, err := instantIn(now.Year(), month, day, hour, minute, now.Location())
	if err != nil {
		return time.Time{}, err
	}
	if at.Before(now) {
		return instantIn(now.Year()+1, month, day, hour, minute, now.Location())
	}
	return at, nil
}

func instantIn(year, month, day, hour, minute int, loc *time.Location) (time.Time, error) {
	t := time.Date(year, time.Month(month), day, hour, minute, 0, 0, loc)
	if t.Day() != day {
		return time.Time{}, fmt.Errorf("%02d.%02d does not exist in %d", day, month, year)
	}
	return t, nil
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

package reminder

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/slot-booking-bot/internal/booking"
	"github.com/hackgods/slot-booking-bot/internal/config"
	"github.com/hackgods/slot-booking-bot/internal/db"
	"github.com/hackgods/slot-booking-bot/internal/notify"
	redisclient "github.com/hackgods/slot-booking-bot/internal/redis"
)

var testConfig = config.Reminder{
	Interval:     time.Minute,
	ErrorBackoff: 2 * time.Minute,
	EarlyOffset:  24 * time.Hour,
	LateOffset:   time.Hour,
}

type memoryStore struct {
	mu    sync.Mutex
	appts []booking.AppointmentDetail
	err   error
	loads int32
}

func (m *memoryStore) ReminderCandidates(context.Context) ([]booking.AppointmentDetail, error) {
	atomic.AddInt32(&m.loads, 1)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	out := make([]booking.AppointmentDetail, len(m.appts))
	copy(out, m.appts)
	return out, nil
}

func (m *memoryStore) MarkReminderSent(_ context.Context, id int64, kind booking.ReminderKind) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.appts {
		if m.appts[i].ID != id {
			continue
		}
		if kind == booking.ReminderEarly {
			m.appts[i].Reminder24hSent = true
		} else {
			m.appts[i].Reminder1hSent = true
		}
		return nil
	}
	return booking.ErrAppointmentNotFound
}

type recordingSender struct {
	mu   sync.Mutex
	sent map[int64][]string
	err  error
}

func (r *recordingSender) Send(_ context.Context, chatID int64, text string, _ notify.Keyboard) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sent == nil {
		r.sent = map[int64][]string{}
	}
	r.sent[chatID] = append(r.sent[chatID], text)
	return 1, r.err
}

func (r *recordingSender) count(chatID int64) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sent[chatID])
}

func appointment(id, userID int64, date, clock string) booking.AppointmentDetail {
	return booking.AppointmentDetail{Appointment: booking.Appointment{
		ID: id, UserID: userID, ClientName: "Ann", Date: date, Time: clock,
	}}
}

func at(year int, month time.Month, day, hour, minute, sec int) time.Time {
	return time.Date(year, month, day, hour, minute, sec, 0, time.UTC)
}

func TestTick_EarlyReminderExactMinute(t *testing.T) {
	store := &memoryStore{appts: []booking.AppointmentDetail{appointment(1, 100, "25.12", "14:30")}}
	sender := &recordingSender{}
	s := NewScheduler(store, sender, testConfig)
	ctx := context.Background()

	n, err := s.Tick(ctx, at(2026, time.December, 24, 14, 30, 17))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, sender.count(100))
	assert.Contains(t, sender.sent[100][0], "завтра")
	assert.True(t, store.appts[0].Reminder24hSent)
	assert.False(t, store.appts[0].Reminder1hSent)

	// Same minute again: the flag prevents a resend.
	n, err = s.Tick(ctx, at(2026, time.December, 24, 14, 30, 59))
	require.NoError(t, err)
	assert.Zero(t, n)

	// One minute later no longer matches.
	n, err = s.Tick(ctx, at(2026, time.December, 24, 14, 31, 0))
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, 1, sender.count(100))
}

func TestTick_LateReminder(t *testing.T) {
	store := &memoryStore{appts: []booking.AppointmentDetail{appointment(1, 100, "25.12", "14:30")}}
	sender := &recordingSender{}
	s := NewScheduler(store, sender, testConfig)

	n, err := s.Tick(context.Background(), at(2026, time.December, 25, 13, 30, 0))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.True(t, store.appts[0].Reminder1hSent)
	assert.Contains(t, sender.sent[100][0], "через час")
}

func TestTick_NoWindowMatching(t *testing.T) {
	store := &memoryStore{appts: []booking.AppointmentDetail{appointment(1, 100, "25.12", "14:30")}}
	sender := &recordingSender{}
	s := NewScheduler(store, sender, testConfig)

	for _, now := range []time.Time{
		at(2026, time.December, 24, 14, 29, 59),
		at(2026, time.December, 24, 14, 31, 0),
		at(2026, time.December, 25, 13, 0, 0),
	} {
		n, err := s.Tick(context.Background(), now)
		require.NoError(t, err)
		assert.Zero(t, n, "now=%s", now)
	}
}

func TestTick_EarlyWinsWhenOffsetsCoincide(t *testing.T) {
	cfg := testConfig
	cfg.LateOffset = cfg.EarlyOffset
	store := &memoryStore{appts: []booking.AppointmentDetail{appointment(1, 100, "25.12", "14:30")}}
	sender := &recordingSender{}
	s := NewScheduler(store, sender, cfg)

	n, err := s.Tick(context.Background(), at(2026, time.December, 24, 14, 30, 0))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.True(t, store.appts[0].Reminder24hSent)
	assert.False(t, store.appts[0].Reminder1hSent)
}

func TestTick_BadAppointmentDoesNotStopOthers(t *testing.T) {
	store := &memoryStore{appts: []booking.AppointmentDetail{
		appointment(1, 100, "31.02", "14:30"),
		appointment(2, 200, "25.12", "9.30"),
		appointment(3, 300, "25.12", "14:30"),
	}}
	sender := &recordingSender{}
	s := NewScheduler(store, sender, testConfig)

	n, err := s.Tick(context.Background(), at(2026, time.December, 24, 14, 30, 0))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, sender.count(300))
	assert.Zero(t, sender.count(100))
}

func TestTick_DeliveryFailureStillMarksSent(t *testing.T) {
	store := &memoryStore{appts: []booking.AppointmentDetail{appointment(1, 100, "25.12", "14:30")}}
	sender := &recordingSender{err: notify.ErrDeliveryFailed}
	s := NewScheduler(store, sender, testConfig)

	_, err := s.Tick(context.Background(), at(2026, time.December, 24, 14, 30, 0))
	require.NoError(t, err)
	assert.True(t, store.appts[0].Reminder24hSent)
}

func TestTick_StoreFailure(t *testing.T) {
	store := &memoryStore{err: &booking.StorageError{Op: "list", Err: errors.New("connection refused")}}
	s := NewScheduler(store, &recordingSender{}, testConfig)

	_, err := s.Tick(context.Background(), time.Now())
	require.Error(t, err)
	assert.True(t, booking.IsStorageError(err))
}

func TestRun_BacksOffAndStopsOnCancel(t *testing.T) {
	store := &memoryStore{err: errors.New("db down")}
	s := NewScheduler(store, &recordingSender{}, config.Reminder{
		Interval:     5 * time.Millisecond,
		ErrorBackoff: 10 * time.Millisecond,
		EarlyOffset:  24 * time.Hour,
		LateOffset:   time.Hour,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return atomic.LoadInt32(&store.loads) >= 3 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop after cancel")
	}
}

type fakeLocker struct {
	held  bool
	calls int
	names []string
}

func (f *fakeLocker) WithLock(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	f.calls++
	f.names = append(f.names, name)
	if f.held {
		return redisclient.ErrLockNotAcquired
	}
	return fn(ctx)
}

func TestRunOnce_UnderLock(t *testing.T) {
	store := &memoryStore{appts: []booking.AppointmentDetail{appointment(1, 100, "25.12", "14:30")}}
	sender := &recordingSender{}
	locker := &fakeLocker{}
	s := NewScheduler(store, sender, testConfig).WithLocker(locker)
	s.now = func() time.Time { return at(2025, time.December, 24, 14, 30, 5) }

	require.NoError(t, s.runOnce(context.Background()))
	assert.Equal(t, 1, sender.count(100))
	assert.Equal(t, []string{tickLockName}, locker.names)

	// Another instance holds the lock: the tick is skipped without error.
	locker.held = true
	store.appts[0].Reminder24hSent = false
	require.NoError(t, s.runOnce(context.Background()))
	assert.Equal(t, 1, sender.count(100))
	assert.Equal(t, int32(1), atomic.LoadInt32(&store.loads))
}

func TestLastTick(t *testing.T) {
	store := &memoryStore{}
	s := NewScheduler(store, &recordingSender{}, testConfig)
	assert.True(t, s.LastTick().IsZero())

	first := at(2025, time.December, 24, 14, 30, 5)
	s.now = func() time.Time { return first }
	require.NoError(t, s.runOnce(context.Background()))
	assert.True(t, s.LastTick().Equal(first))

	store.err = errors.New("database is locked")
	s.now = func() time.Time { return first.Add(time.Minute) }
	require.Error(t, s.runOnce(context.Background()))
	assert.True(t, s.LastTick().Equal(first), "a failed tick must not move the heartbeat")
}

func TestResolveInstant(t *testing.T) {
	tests := []struct {
		name    string
		date    string
		clock   string
		now     time.Time
		want    time.Time
		wantErr bool
	}{
		{name: "later this year", date: "25.12", clock: "14:30", now: at(2026, time.October, 16, 12, 0, 0), want: at(2026, time.December, 25, 14, 30, 0)},
		{name: "already past rolls to next year", date: "01.01", clock: "09:00", now: at(2026, time.December, 31, 10, 0, 0), want: at(2027, time.January, 1, 9, 0, 0)},
		{name: "earlier today rolls to next year", date: "16.10", clock: "08:00", now: at(2026, time.October, 16, 12, 0, 0), want: at(2027, time.October, 16, 8, 0, 0)},
		{name: "leap day in a leap year", date: "29.02", clock: "10:00", now: at(2028, time.January, 10, 0, 0, 0), want: at(2028, time.February, 29, 10, 0, 0)},
		{name: "leap day in a common year", date: "29.02", clock: "10:00", now: at(2026, time.January, 10, 0, 0, 0), wantErr: true},
		{name: "malformed time", date: "01.05", clock: "9.30", now: at(2026, time.January, 10, 0, 0, 0), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ResolveInstant(tt.date, tt.clock, tt.now)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "got %s want %s", got, tt.want)
		})
	}
}

func TestTick_AgainstSQLiteStore(t *testing.T) {
	ctx := context.Background()
	conn, err := db.OpenSQLite(filepath.Join(t.TempDir(), "bot.db"))
	require.NoError(t, err)
	defer conn.Close()

	svc := booking.NewService(booking.NewSQLiteRepository(conn))
	require.NoError(t, svc.RegisterUser(ctx, booking.User{ID: 5, Username: "ann"}))
	slot, err := svc.CreateSlot(ctx, "25.12", "чт", "14:30")
	require.NoError(t, err)
	appt, err := svc.Book(ctx, slot.ID, 5, "Ann")
	require.NoError(t, err)

	sender := &recordingSender{}
	s := NewScheduler(svc, sender, testConfig)

	now := at(2026, time.December, 24, 14, 30, 5)
	n, err := s.Tick(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = s.Tick(ctx, now.Add(time.Minute))
	require.NoError(t, err)
	assert.Zero(t, n)

	detail, err := svc.Appointment(ctx, appt.ID)
	require.NoError(t, err)
	assert.True(t, detail.Reminder24hSent)
	assert.Equal(t, 1, sender.count(5))
}

// stallingSender never answers for one chat until its context ends.
type stallingSender struct {
	recordingSender
	stall int64
}

func (s *stallingSender) Send(ctx context.Context, chatID int64, text string, kb notify.Keyboard) (int64, error) {
	if chatID == s.stall {
		<-ctx.Done()
		return 0, ctx.Err()
	}
	return s.recordingSender.Send(ctx, chatID, text, kb)
}

func TestTick_StalledDeliveryDoesNotStarveOthers(t *testing.T) {
	store := &memoryStore{appts: []booking.AppointmentDetail{
		appointment(1, 100, "25.12", "14:30"),
		appointment(2, 200, "25.12", "14:30"),
	}}
	sender := &stallingSender{stall: 100}
	cfg := testConfig
	cfg.SendTimeout = 50 * time.Millisecond
	s := NewScheduler(store, sender, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	n, err := s.Tick(ctx, at(2026, time.December, 24, 14, 30, 0))
	require.NoError(t, err)
	assert.Equal(t, 1, n, "only the delivered reminder counts")
	assert.Equal(t, 1, sender.count(200))
	assert.NoError(t, ctx.Err(), "the stalled send must give up on its own timeout")

	// Both flags are set: the stalled chat is not retried every minute.
	assert.True(t, store.appts[0].Reminder24hSent)
	assert.True(t, store.appts[1].Reminder24hSent)
}

func TestTick_FailedDeliveryIsNotCounted(t *testing.T) {
	store := &memoryStore{appts: []booking.AppointmentDetail{appointment(1, 100, "25.12", "14:30")}}
	s := NewScheduler(store, &recordingSender{err: notify.ErrDeliveryFailed}, testConfig)

	n, err := s.Tick(context.Background(), at(2026, time.December, 24, 14, 30, 0))
	require.NoError(t, err)
	assert.Zero(t, n)
}

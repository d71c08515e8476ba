package redisclient

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/slot-booking-bot/internal/config"
	"github.com/hackgods/slot-booking-bot/internal/conversation"
)

// createTestClient connects to REDIS_ADDR or skips. Keys written by a test
// use a random user id or name so runs do not collide.
func createTestClient(t *testing.T) *redis.Client {
	t.Helper()

	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}

	client, err := NewRedisClient(context.Background(), config.Config{
		RedisAddr:     addr,
		RedisUsername: os.Getenv("REDIS_USERNAME"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return client
}

func randomID() int64 {
	return int64(uuid.New().ID())
}

func TestSessions_RoundTrip(t *testing.T) {
	client := createTestClient(t)
	ctx := context.Background()
	store := NewSessions(client, time.Minute)
	userID := randomID()
	t.Cleanup(func() { store.Clear(ctx, userID) })

	got, err := store.Load(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, conversation.StateIdle, got.State)

	want := conversation.Session{
		State:     conversation.StateEnteringName,
		Date:      "25.12",
		SlotID:    7,
		UpdatedAt: time.Date(2025, 12, 1, 10, 0, 0, 0, time.UTC),
	}
	require.NoError(t, store.Save(ctx, userID, want))

	got, err = store.Load(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, want.State, got.State)
	assert.Equal(t, want.SlotID, got.SlotID)
	assert.True(t, want.UpdatedAt.Equal(got.UpdatedAt))

	ttl, err := client.TTL(ctx, sessionKey(userID)).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))

	require.NoError(t, store.Save(ctx, userID, conversation.Session{State: conversation.StateIdle}))
	n, err := client.Exists(ctx, sessionKey(userID)).Result()
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestUpdateLog_FirstSeen(t *testing.T) {
	client := createTestClient(t)
	ctx := context.Background()
	log := NewUpdateLog(client, time.Minute)
	updateID := randomID()

	first, err := log.FirstSeen(ctx, updateID)
	require.NoError(t, err)
	assert.True(t, first)

	again, err := log.FirstSeen(ctx, updateID)
	require.NoError(t, err)
	assert.False(t, again)

	require.NoError(t, log.Forget(ctx, updateID))
	released, err := log.FirstSeen(ctx, updateID)
	require.NoError(t, err)
	assert.True(t, released)
}

func TestLocker_SingleHolder(t *testing.T) {
	client := createTestClient(t)
	locker := NewLocker(client, 5*time.Second)
	name := "test:" + uuid.NewString()

	var (
		wg      sync.WaitGroup
		ran     atomic.Int32
		blocked atomic.Int32
		release = make(chan struct{})
	)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := locker.WithLock(context.Background(), name, func(ctx context.Context) error {
				ran.Add(1)
				<-release
				return nil
			})
			if err == ErrLockNotAcquired {
				blocked.Add(1)
			}
		}()
	}

	require.Eventually(t, func() bool { return ran.Load()+blocked.Load() == 4 }, 5*time.Second, 10*time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), ran.Load())
	assert.Equal(t, int32(3), blocked.Load())

	// Released after use.
	err := locker.WithLock(context.Background(), name, func(context.Context) error { return nil })
	assert.NoError(t, err)
}

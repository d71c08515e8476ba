package redisclient

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// UpdateLog remembers recently seen chat update ids. The first caller to
// claim an id wins; Telegram redeliveries and replicas racing on the same
// update lose.
type UpdateLog struct {
	client *redis.Client
	ttl    time.Duration
}

func NewUpdateLog(client *redis.Client, ttl time.Duration) *UpdateLog {
	return &UpdateLog{client: client, ttl: ttl}
}

func (u *UpdateLog) FirstSeen(ctx context.Context, updateID int64) (bool, error) {
	ok, err := u.client.SetNX(ctx, updatePrefix+strconv.FormatInt(updateID, 10), 1, u.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("claim update %d: %w", updateID, err)
	}
	return ok, nil
}

func (u *UpdateLog) Forget(ctx context.Context, updateID int64) error {
	if err := u.client.Del(ctx, updatePrefix+strconv.FormatInt(updateID, 10)).Err(); err != nil {
		return fmt.Errorf("release update %d: %w", updateID, err)
	}
	return nil
}

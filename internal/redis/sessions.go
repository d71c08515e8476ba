package redisclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hackgods/slot-booking-bot/internal/conversation"
)

// Sessions keeps conversations in Redis as JSON so they survive restarts and
// are shared between webhook replicas. Every save refreshes the TTL.
type Sessions struct {
	client *redis.Client
	ttl    time.Duration
}

func NewSessions(client *redis.Client, ttl time.Duration) *Sessions {
	return &Sessions{client: client, ttl: ttl}
}

func sessionKey(userID int64) string {
	return sessionPrefix + strconv.FormatInt(userID, 10)
}

func (s *Sessions) Load(ctx context.Context, userID int64) (conversation.Session, error) {
	raw, err := s.client.Get(ctx, sessionKey(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return conversation.Session{State: conversation.StateIdle}, nil
	}
	if err != nil {
		return conversation.Session{}, fmt.Errorf("get session %d: %w", userID, err)
	}

	var sess conversation.Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return conversation.Session{}, fmt.Errorf("decode session %d: %w", userID, err)
	}
	return sess, nil
}

func (s *Sessions) Save(ctx context.Context, userID int64, sess conversation.Session) error {
	if sess.State == conversation.StateIdle {
		return s.Clear(ctx, userID)
	}

	raw, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode session %d: %w", userID, err)
	}
	if err := s.client.Set(ctx, sessionKey(userID), raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("set session %d: %w", userID, err)
	}
	return nil
}

func (s *Sessions) Clear(ctx context.Context, userID int64) error {
	if err := s.client.Del(ctx, sessionKey(userID)).Err(); err != nil {
		return fmt.Errorf("delete session %d: %w", userID, err)
	}
	return nil
}

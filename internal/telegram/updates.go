package telegram

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/time/rate"

	"github.com/hackgods/slot-booking-bot/internal/config"
	"github.com/hackgods/slot-booking-bot/internal/conversation"
)

// ToEvent strips an update down to a conversation event. ok is false for
// updates the bot does not react to.
func ToEvent(u Update) (ev conversation.Event, ok bool) {
	if q := u.CallbackQuery; q != nil {
		ev = conversation.Event{
			Kind:      conversation.EventAction,
			UserID:    q.From.ID,
			ChatID:    q.From.ID,
			Username:  q.From.Username,
			FirstName: q.From.FirstName,
			Text:      q.Data,
		}
		if q.Message != nil {
			ev.ChatID = q.Message.Chat.ID
			ev.MessageID = q.Message.MessageID
		}
		return ev, true
	}

	m := u.Message
	if m == nil || m.From == nil || m.From.IsBot {
		return conversation.Event{}, false
	}

	ev = conversation.Event{
		Kind:      conversation.EventText,
		UserID:    m.From.ID,
		ChatID:    m.Chat.ID,
		Username:  m.From.Username,
		FirstName: m.From.FirstName,
		Text:      m.Text,
	}

	if m.Contact != nil {
		ev.Kind = conversation.EventContact
		// Only the sender's own number counts; a forwarded card reads as no phone.
		if m.Contact.UserID == m.From.ID {
			ev.Phone = m.Contact.PhoneNumber
		}
		return ev, true
	}

	if m.Text == "" {
		return conversation.Event{}, false
	}
	return ev, true
}

// EventHandler consumes conversation events.
type EventHandler interface {
	Handle(ctx context.Context, ev conversation.Event) error
}

type callbackAnswerer interface {
	AnswerCallback(ctx context.Context, callbackID string) error
}

// UpdateHandler is the path shared by the webhook and the poller: answer the
// button press, apply per-user flood control, run the conversation.
type UpdateHandler struct {
	events  EventHandler
	answer  callbackAnswerer
	limiter *RateLimiter
}

func NewUpdateHandler(events EventHandler, answer callbackAnswerer, limiter *RateLimiter) *UpdateHandler {
	return &UpdateHandler{events: events, answer: answer, limiter: limiter}
}

// Handle processes one update. It returns false only when the sender is
// over the rate limit and the update was dropped.
func (h *UpdateHandler) Handle(ctx context.Context, u Update) bool {
	if q := u.CallbackQuery; q != nil && h.answer != nil {
		if err := h.answer.AnswerCallback(ctx, q.ID); err != nil {
			log.Printf("answer callback %s: %v", q.ID, err)
		}
	}

	ev, ok := ToEvent(u)
	if !ok {
		return true
	}

	if h.limiter != nil && !h.limiter.Allow(ev.UserID) {
		log.Printf("update %d from %d dropped: rate limited", u.UpdateID, ev.UserID)
		return false
	}

	if err := h.events.Handle(ctx, ev); err != nil {
		log.Printf("update %d: %v", u.UpdateID, err)
	}
	return true
}

// RateLimiter keeps one token bucket per user. Buckets of users quiet for
// an hour are dropped.
type RateLimiter struct {
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	limiters *expirable.LRU[int64, *rate.Limiter]
}

func NewRateLimiter(cfg config.RateLimit) *RateLimiter {
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		limit:    rate.Limit(cfg.RPS),
		burst:    burst,
		limiters: expirable.NewLRU[int64, *rate.Limiter](10000, nil, time.Hour),
	}
}

func (r *RateLimiter) Allow(userID int64) bool {
	r.mu.Lock()
	l, ok := r.limiters.Get(userID)
	if !ok {
		l = rate.NewLimiter(r.limit, r.burst)
		r.limiters.Add(userID, l)
	}
	r.mu.Unlock()
	return l.Allow()
}

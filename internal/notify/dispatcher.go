package notify

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/hackgods/slot-booking-bot/internal/config"
)

// ErrDeliveryFailed is returned once every attempt to deliver a message has
// failed or the failure was permanent. Callers log it and carry on.
var ErrDeliveryFailed = errors.New("message delivery failed")

// Button is an inline action. RequestContact turns it into a one-time
// "share phone" button instead; Data is ignored then.
type Button struct {
	Text           string
	Data           string
	RequestContact bool
}

// Keyboard is a grid of buttons, one slice per row.
type Keyboard [][]Button

// Messenger is the outbound side of the chat transport.
type Messenger interface {
	Send(ctx context.Context, chatID int64, text string, kb Keyboard) (messageID int64, err error)
	Edit(ctx context.Context, chatID, messageID int64, text string, kb Keyboard) error
}

// transient is implemented by transport errors worth retrying.
type transient interface {
	Transient() bool
}

func IsTransient(err error) bool {
	var t transient
	return errors.As(err, &t) && t.Transient()
}

type Dispatcher struct {
	messenger   Messenger
	maxAttempts int
	baseBackoff time.Duration
	sleep       func(ctx context.Context, d time.Duration) error
}

func NewDispatcher(m Messenger, cfg config.Delivery) *Dispatcher {
	attempts := cfg.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	return &Dispatcher{
		messenger:   m,
		maxAttempts: attempts,
		baseBackoff: cfg.BaseBackoff,
		sleep:       sleepContext,
	}
}

// Send delivers a new message and returns its id.
func (d *Dispatcher) Send(ctx context.Context, chatID int64, text string, kb Keyboard) (int64, error) {
	var id int64
	err := d.retry(ctx, fmt.Sprintf("send to %d", chatID), func() error {
		var err error
		id, err = d.messenger.Send(ctx, chatID, text, kb)
		return err
	})
	return id, err
}

// Edit replaces the text and keyboard of an earlier message.
func (d *Dispatcher) Edit(ctx context.Context, chatID, messageID int64, text string, kb Keyboard) error {
	return d.retry(ctx, fmt.Sprintf("edit %d/%d", chatID, messageID), func() error {
		return d.messenger.Edit(ctx, chatID, messageID, text, kb)
	})
}

// Show edits messageID in place when it is set and falls back to a fresh
// message when there is nothing to edit or the edit cannot be delivered.
func (d *Dispatcher) Show(ctx context.Context, chatID, messageID int64, text string, kb Keyboard) error {
	if messageID != 0 {
		if err := d.Edit(ctx, chatID, messageID, text, kb); err == nil {
			return nil
		}
	}
	_, err := d.Send(ctx, chatID, text, kb)
	return err
}

// NotifyAdmins sends text to every admin and reports how many received it.
func (d *Dispatcher) NotifyAdmins(ctx context.Context, admins []int64, text string) int {
	delivered := 0
	for _, id := range admins {
		if _, err := d.Send(ctx, id, text, nil); err != nil {
			log.Printf("admin notification to %d not delivered: %v", id, err)
			continue
		}
		delivered++
	}
	return delivered
}

func (d *Dispatcher) retry(ctx context.Context, what string, fn func() error) error {
	backoff := d.baseBackoff
	var err error
	for attempt := 1; attempt <= d.maxAttempts; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		if !IsTransient(err) {
			log.Printf("delivery %s failed permanently: %v", what, err)
			return fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
		}
		if attempt == d.maxAttempts {
			break
		}

		log.Printf("delivery %s attempt %d/%d failed, retrying in %s: %v", what, attempt, d.maxAttempts, backoff, err)
		if serr := d.sleep(ctx, backoff); serr != nil {
			return fmt.Errorf("%w: %v", ErrDeliveryFailed, serr)
		}
		backoff *= 2
	}

	log.Printf("delivery %s gave up after %d attempts: %v", what, d.maxAttempts, err)
	return fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"log"
	"net/http"

	"github.com/hackgods/slot-booking-bot/internal/telegram"
)

const secretHeader = "X-Telegram-Bot-Api-Secret-Token"

// UpdateProcessor runs one chat update; false means it was rate limited.
type UpdateProcessor interface {
	Handle(ctx context.Context, u telegram.Update) bool
}

// UpdateLog reports whether an update id is seen for the first time.
// Forget releases an id so a redelivery of that update is processed.
type UpdateLog interface {
	FirstSeen(ctx context.Context, updateID int64) (bool, error)
	Forget(ctx context.Context, updateID int64) error
}

// webhookHandler accepts updates pushed by Telegram. Anything the bot could
// process is acknowledged with 200 so Telegram does not redeliver it; domain
// failures are answered in the chat, not over HTTP.
func webhookHandler(updates UpdateProcessor, seen UpdateLog, secret string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if secret != "" && subtle.ConstantTimeCompare([]byte(r.Header.Get(secretHeader)), []byte(secret)) != 1 {
			writeError(w, http.StatusUnauthorized, "invalid_secret", "secret token mismatch")
			return
		}

		var u telegram.Update
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&u); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		ctx := r.Context()
		sender := u.SenderID()

		if seen != nil {
			first, err := seen.FirstSeen(ctx, u.UpdateID)
			if err != nil {
				log.Printf("update log unavailable, processing update %d anyway: %v request_id=%s", u.UpdateID, err, GetRequestID(ctx))
			} else if !first {
				annotateUpdate(ctx, u.UpdateID, sender, "duplicate")
				writeJSON(w, http.StatusOK, WebhookResponse{OK: true, Duplicate: true})
				return
			}
		}

		if !updates.Handle(ctx, u) {
			// 429 makes Telegram redeliver; the retry must not read as a duplicate.
			if seen != nil {
				if err := seen.Forget(ctx, u.UpdateID); err != nil {
					log.Printf("release update %d: %v request_id=%s", u.UpdateID, err, GetRequestID(ctx))
				}
			}
			annotateUpdate(ctx, u.UpdateID, sender, "rate_limited")
			writeError(w, http.StatusTooManyRequests, "rate_limited", "too many updates from this user")
			return
		}

		annotateUpdate(ctx, u.UpdateID, sender, "handled")
		writeJSON(w, http.StatusOK, WebhookResponse{OK: true})
	}
}

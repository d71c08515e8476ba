package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
)

type RouterConfig struct {
	Updates        UpdateProcessor // nil when the bot polls instead
	UpdateLog      UpdateLog
	WebhookSecret  string
	Store          Pinger
	Redis          *redis.Client // nil when sessions stay in memory
	Reminder       Heartbeat
	ReminderMaxAge time.Duration // heartbeat older than this degrades readiness
	Transport      string
	Env            string
	Version        string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware)
	r.Use(RecoverMiddleware)

	health := newHealthHandler(cfg)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	if cfg.Updates != nil {
		r.Post("/telegram/webhook", webhookHandler(cfg.Updates, cfg.UpdateLog, cfg.WebhookSecret))
	}

	return r
}

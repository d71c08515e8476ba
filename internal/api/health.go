package api

import (
	"context"
	"net/http"
	"time"
)

// Pinger is a dependency the readiness check pings.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Heartbeat reports the last completed reminder tick.
type Heartbeat interface {
	LastTick() time.Time
}

type dependencyCheck struct {
	name     string
	critical bool // a failing critical check makes the bot unready
	check    func(ctx context.Context) string
}

type HealthHandler struct {
	checks    []dependencyCheck
	transport string
	env       string
	version   string
}

type LivenessResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
	Env     string `json:"env,omitempty"`
}

type ReadinessResponse struct {
	Status       string            `json:"status"`
	Version      string            `json:"version,omitempty"`
	Env          string            `json:"env,omitempty"`
	Transport    string            `json:"transport,omitempty"`
	Dependencies map[string]string `json:"dependencies"`
}

func newHealthHandler(cfg RouterConfig) *HealthHandler {
	h := &HealthHandler{transport: cfg.Transport, env: cfg.Env, version: cfg.Version}

	if cfg.Store != nil {
		h.checks = append(h.checks, dependencyCheck{name: "store", critical: true, check: pingCheck(cfg.Store.Ping)})
	}
	if cfg.Redis != nil {
		rdb := cfg.Redis
		h.checks = append(h.checks, dependencyCheck{name: "redis", check: pingCheck(func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		})})
	}
	if cfg.Reminder != nil {
		h.checks = append(h.checks, dependencyCheck{name: "reminder", check: heartbeatCheck(cfg.Reminder, cfg.ReminderMaxAge)})
	}
	return h
}

func pingCheck(ping func(ctx context.Context) error) func(ctx context.Context) string {
	return func(ctx context.Context) string {
		ctx, cancel := context.WithTimeout(ctx, time.Second)
		defer cancel()
		if err := ping(ctx); err != nil {
			return "down"
		}
		return "ok"
	}
}

func heartbeatCheck(hb Heartbeat, maxAge time.Duration) func(ctx context.Context) string {
	return func(context.Context) string {
		last := hb.LastTick()
		switch {
		case last.IsZero():
			return "starting"
		case maxAge > 0 && time.Since(last) > maxAge:
			return "stale"
		}
		return "ok"
	}
}

func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, LivenessResponse{
		Status:  "ok",
		Version: h.version,
		Env:     h.env,
	})
}

// Readiness fails only on critical dependencies. Redis and the reminder
// loop degrade it: conversations and bookings keep working without them.
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	resp := ReadinessResponse{
		Status:       "ok",
		Version:      h.version,
		Env:          h.env,
		Transport:    h.transport,
		Dependencies: make(map[string]string, len(h.checks)),
	}

	for _, c := range h.checks {
		state := c.check(ctx)
		resp.Dependencies[c.name] = state
		if state == "ok" || state == "starting" {
			continue
		}
		if c.critical {
			resp.Status = "error"
		} else if resp.Status == "ok" {
			resp.Status = "degraded"
		}
	}

	code := http.StatusOK
	if resp.Status == "error" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}

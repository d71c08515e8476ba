package api

import (
	"context"
	"log"
	"net/http"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

type contextKey string

const requestKey contextKey = "request"

// requestInfo travels in the request context so handlers can attach the
// chat update they processed to the access log line.
type requestInfo struct {
	id string

	mu       sync.Mutex
	updateID int64
	senderID int64
	outcome  string
}

func (ri *requestInfo) annotate(updateID, senderID int64, outcome string) {
	ri.mu.Lock()
	defer ri.mu.Unlock()
	ri.updateID, ri.senderID, ri.outcome = updateID, senderID, outcome
}

func (ri *requestInfo) fields() string {
	ri.mu.Lock()
	defer ri.mu.Unlock()
	if ri.updateID == 0 && ri.outcome == "" {
		return ""
	}
	var b strings.Builder
	b.WriteString(" update_id=")
	b.WriteString(strconv.FormatInt(ri.updateID, 10))
	if ri.senderID != 0 {
		b.WriteString(" user=")
		b.WriteString(strconv.FormatInt(ri.senderID, 10))
	}
	if ri.outcome != "" {
		b.WriteString(" outcome=")
		b.WriteString(ri.outcome)
	}
	return b.String()
}

// RequestIDMiddleware tags every request with X-Request-ID, generating one
// when the caller did not send it.
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)

		ctx := context.WithValue(r.Context(), requestKey, &requestInfo{id: id})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// LoggingMiddleware logs one line per request. Successful health checks are
// not logged.
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		if isHealthCheck(r) && rec.status < http.StatusBadRequest {
			return
		}

		var extra string
		if ri := infoFrom(r.Context()); ri != nil {
			extra = ri.fields()
		}
		log.Printf("method=%s path=%s status=%d bytes=%d duration=%s request_id=%s%s",
			r.Method, r.URL.Path, rec.status, rec.bytes, time.Since(start), GetRequestID(r.Context()), extra)
	})
}

// RecoverMiddleware turns a panic in a handler into a 500.
func RecoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if p := recover(); p != nil {
				log.Printf("panic serving %s request_id=%s: %v\n%s", r.URL.Path, GetRequestID(r.Context()), p, debug.Stack())
				writeError(w, http.StatusInternalServerError, "internal_error", "")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func GetRequestID(ctx context.Context) string {
	if ri := infoFrom(ctx); ri != nil {
		return ri.id
	}
	return ""
}

func infoFrom(ctx context.Context) *requestInfo {
	ri, _ := ctx.Value(requestKey).(*requestInfo)
	return ri
}

// annotateUpdate records which update a webhook request carried and what
// became of it.
func annotateUpdate(ctx context.Context, updateID, senderID int64, outcome string) {
	if ri := infoFrom(ctx); ri != nil {
		ri.annotate(updateID, senderID, outcome)
	}
}

func isHealthCheck(r *http.Request) bool {
	return strings.HasPrefix(r.URL.Path, "/health/")
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (rw *statusRecorder) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *statusRecorder) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytes += n
	return n, err
}

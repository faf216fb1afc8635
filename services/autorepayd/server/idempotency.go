package server

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"strings"

	"autorepay/services/autorepayd/journal"
)

const headerIdempotencyKey = "Idempotency-Key"

// withIdempotency reserves the key for the authenticated caller before the
// handler runs and replays the stored response for later repeats. A repeat
// that arrives while the first request is still running gets 409. Responses
// with a 5xx status release the key so the caller may retry.
func withIdempotency(store *journal.Journal, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := strings.TrimSpace(r.Header.Get(headerIdempotencyKey))
			if key == "" || store == nil {
				next.ServeHTTP(w, r)
				return
			}
			if len(key) > 128 {
				writeError(w, http.StatusBadRequest, "idempotency key too long")
				return
			}
			caller := ""
			if principal, ok := PrincipalFromContext(r.Context()); ok && principal != nil {
				caller = principal.Subject
			}
			record, reserved, err := store.ReserveIdempotency(r.Context(), caller, key, r.Method, r.URL.Path)
			if err != nil {
				logger.Error("idempotency reserve failed", slog.Any("error", err))
				writeError(w, http.StatusInternalServerError, "idempotency store unavailable")
				return
			}
			if !reserved {
				switch {
				case record.Method != r.Method || record.Path != r.URL.Path:
					writeError(w, http.StatusUnprocessableEntity, "idempotency key reused for a different request")
				case record.Status == journal.IdempotencyPending:
					writeError(w, http.StatusConflict, "request with this idempotency key is in progress")
				default:
					w.Header().Set("Content-Type", "application/json")
					w.Header().Set("Idempotent-Replay", "true")
					w.WriteHeader(record.Status)
					_, _ = w.Write([]byte(record.Response))
				}
				return
			}

			// The reservation outlives a cancelled request context.
			ctx := context.WithoutCancel(r.Context())
			release := func() {
				if err := store.ReleaseIdempotency(ctx, caller, key); err != nil {
					logger.Warn("idempotency release failed", slog.String("key", key), slog.Any("error", err))
				}
			}
			defer func() {
				if p := recover(); p != nil {
					release()
					panic(p)
				}
			}()

			recorder := &captureWriter{ResponseWriter: w}
			next.ServeHTTP(recorder, r)
			status := recorder.statusCode()
			if status >= 500 {
				release()
				return
			}
			if err := store.CompleteIdempotency(ctx, caller, key, status, recorder.body.String()); err != nil {
				logger.Warn("idempotency save failed", slog.String("key", key), slog.Any("error", err))
			}
		})
	}
}

type captureWriter struct {
	http.ResponseWriter
	body   bytes.Buffer
	status int
}

func (c *captureWriter) WriteHeader(status int) {
	if c.status == 0 {
		c.status = status
	}
	c.ResponseWriter.WriteHeader(status)
}

func (c *captureWriter) Write(b []byte) (int, error) {
	if c.status == 0 {
		c.status = http.StatusOK
	}
	c.body.Write(b)
	return c.ResponseWriter.Write(b)
}

func (c *captureWriter) statusCode() int {
	if c.status == 0 {
		return http.StatusOK
	}
	return c.status
}

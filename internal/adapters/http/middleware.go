package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/thebiggive/matchbot-sub000/internal/domain"
)

type ctxKey string

const ctxKeyRequestID ctxKey = "request_id"

// requestIDHeader is shared with the donations API so one id follows a
// donation from checkout through allocation.
const requestIDHeader = "X-Request-Id"

// retryAfterSeconds is advertised when reservations lost every optimistic retry.
const retryAfterSeconds = "1"

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get(requestIDHeader)
		if reqID == "" {
			reqID = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, reqID)
		ctx := context.WithValue(r.Context(), ctxKeyRequestID, reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				// A panic mid-allocation leaves real-time reservations to the reconcile worker.
				httpLogger().ErrorContext(r.Context(), "matching handler panicked",
					"operation", "http_panic_recovery",
					"outcome", "failure",
					"request_id", requestIDFromContext(r.Context()),
					"method", r.Method,
					"path", r.URL.Path,
					"panic", rec,
				)
				writeError(r.Context(), w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
	bytes      int
}

func (r *statusRecorder) WriteHeader(statusCode int) {
	r.statusCode = statusCode
	r.ResponseWriter.WriteHeader(statusCode)
}

func (r *statusRecorder) Write(payload []byte) (int, error) {
	if r.statusCode == 0 {
		r.statusCode = http.StatusOK
	}
	n, err := r.ResponseWriter.Write(payload)
	r.bytes += n
	return n, err
}

// loggingMiddleware emits one access line per request. The chi route context
// is shared with the router, so route params are readable once the handler returns.
func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(recorder, r)

		statusCode := recorder.statusCode
		if statusCode == 0 {
			statusCode = http.StatusOK
		}
		outcome := "success"
		if statusCode >= 400 {
			outcome = "failure"
		}

		fields := []any{
			"operation", "http_request",
			"outcome", outcome,
			"method", r.Method,
			"route", routePattern(r),
			"status_code", statusCode,
			"bytes", recorder.bytes,
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", requestIDFromContext(r.Context()),
		}
		fields = append(fields, matchingSubjects(r)...)
		switch {
		case statusCode >= 500:
			httpLogger().ErrorContext(r.Context(), "matching request completed", fields...)
		case statusCode >= 400:
			httpLogger().WarnContext(r.Context(), "matching request completed", fields...)
		default:
			httpLogger().InfoContext(r.Context(), "matching request completed", fields...)
		}
	})
}

// routePattern falls back to the raw path for requests chi did not match.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return r.URL.Path
}

var subjectParams = []string{"donation_id", "withdrawal_id", "campaign_id", "funding_id"}

func matchingSubjects(r *http.Request) []any {
	var fields []any
	for _, name := range subjectParams {
		if v := chi.URLParam(r, name); v != "" {
			fields = append(fields, name, v)
		}
	}
	return fields
}

func requestIDFromContext(ctx context.Context) string {
	v := ctx.Value(ctxKeyRequestID)
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

func mapDomainError(err error) (int, string, string) {
	switch {
	case errors.Is(err, domain.ErrInvalidInput), errors.Is(err, domain.ErrInvalidAmount):
		return http.StatusBadRequest, "VALIDATION_ERROR", err.Error()
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND", "resource not found"
	case errors.Is(err, domain.ErrCurrencyMismatch):
		return http.StatusUnprocessableEntity, "CURRENCY_MISMATCH", err.Error()
	case errors.Is(err, domain.ErrReservationRetriesExhausted):
		return http.StatusServiceUnavailable, "RESERVATION_CONTENDED", "match funds are under contention, retry shortly"
	case errors.Is(err, domain.ErrConflict), errors.Is(err, domain.ErrAlreadyReversed):
		return http.StatusConflict, "CONFLICT", err.Error()
	case errors.Is(err, domain.ErrNegativeBalance), errors.Is(err, domain.ErrBalanceInvariant):
		return http.StatusConflict, "BALANCE_CONFLICT", "funding balance changed, retry the request"
	default:
		return http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error"
	}
}

package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/ihmeuw-scicomp/jobmon/internal/jmerr"
	"github.com/ihmeuw-scicomp/jobmon/internal/jmlog"
	"github.com/ihmeuw-scicomp/jobmon/internal/metrics"
)

var bodyValidator = validator.New()

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// recoverMiddleware absorbs panics and client disconnects without
// emitting error-level telemetry, following the same "log but
// continue" pattern the sweep loops use (spec §5's cancellation
// policy: a mid-request disconnect is routine, not an error).
func recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				jmlog.WithComponent("api").Error().
					Interface("panic", rec).Str("path", r.URL.Path).Msg("handler panic recovered")
				writeErr(w, jmerr.IntegrationError("internal error", fmt.Errorf("%v", rec)))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// metricsMiddleware records jobmon_api_requests_total and
// jobmon_api_request_duration_seconds for every request.
func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		metrics.APIRequestsTotal.WithLabelValues(r.Method, fmt.Sprintf("%d", sw.status)).Inc()
		metrics.APIRequestDuration.WithLabelValues(r.Method).Observe(time.Since(start).Seconds())
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// decodeAndValidate reads a JSON body into dst and runs struct-tag
// validation, returning a SchemaViolation on either failure.
func decodeAndValidate(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return jmerr.SchemaViolation("malformed request body", err)
	}
	if err := bodyValidator.Struct(dst); err != nil {
		return jmerr.SchemaViolation("request body failed validation", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// errorBody is the structured error shape every failing response
// carries (spec §7).
type errorBody struct {
	ErrorKind string `json:"error_kind"`
	Detail    string `json:"detail"`
}

// writeErr maps a jmerr.Kind to its HTTP status (spec §7) and writes
// the structured body. Client disconnects (context.Canceled,
// http.ErrAbortHandler) are swallowed without a response, matching
// §5's "not treated as an error" rule.
func writeErr(w http.ResponseWriter, err error) {
	if errors.Is(err, context.Canceled) || errors.Is(err, http.ErrAbortHandler) {
		return
	}

	je, ok := jmerr.As(err)
	if !ok {
		jmlog.WithComponent("api").Error().Err(err).Msg("unclassified error")
		writeJSON(w, http.StatusInternalServerError, errorBody{
			ErrorKind: "IntegrationError", Detail: err.Error(),
		})
		return
	}

	status := map[jmerr.Kind]int{
		jmerr.KindInvalidTransition:   http.StatusConflict,
		jmerr.KindNotFound:            http.StatusNotFound,
		jmerr.KindConflict:            http.StatusServiceUnavailable,
		jmerr.KindAuthorizationDenied: http.StatusForbidden,
		jmerr.KindUnauthenticated:     http.StatusUnauthorized,
		jmerr.KindIntegrationError:    http.StatusBadGateway,
		jmerr.KindSchemaViolation:     http.StatusBadRequest,
	}[je.Kind]
	if status == 0 {
		status = http.StatusInternalServerError
	}

	writeJSON(w, status, errorBody{ErrorKind: string(je.Kind), Detail: je.Detail})
}

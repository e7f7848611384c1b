// Package httputil is the one place HTTP envelopes get written and apperr
// kinds get translated to status codes. Grounded on the teacher's
// pkg/httputil/response.go (a JSON writer plus an Error helper keyed off
// chi's request id), adapted from the teacher's {status, data|error} shape
// to the {success, message, data} / {success, message, data, statusCode,
// timestamp} envelopes this API uses.
package httputil

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"tokenserver/internal/apperr"
)

type successEnvelope struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data"`
}

type errorEnvelope struct {
	Success    bool      `json:"success"`
	Message    string    `json:"message"`
	Data       any       `json:"data"`
	StatusCode int       `json:"statusCode"`
	Timestamp  time.Time `json:"timestamp"`
	TraceID    string    `json:"traceId,omitempty"`
}

// JSON writes a success envelope with the given status and payload.
func JSON(w http.ResponseWriter, status int, data any, message string) error {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)

	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return enc.Encode(successEnvelope{Success: true, Message: message, Data: data})
}

// Error writes the error envelope for status, tagging the response with the
// chi request id as a trace id.
func Error(w http.ResponseWriter, r *http.Request, status int, message string) error {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)

	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return enc.Encode(errorEnvelope{
		Success:    false,
		Message:    message,
		Data:       nil,
		StatusCode: status,
		Timestamp:  time.Now().UTC(),
		TraceID:    middleware.GetReqID(r.Context()),
	})
}

// HandleError translates an apperr.Kind (or an untyped error, which defaults
// to Transient) into the matching HTTP status and writes the envelope.
// Handlers call this once at the boundary; no apperr kind leaks past it.
func HandleError(w http.ResponseWriter, r *http.Request, err error) error {
	status := http.StatusInternalServerError
	switch apperr.KindOf(err) {
	case apperr.KindValidation:
		status = http.StatusBadRequest
	case apperr.KindNotFound:
		status = http.StatusNotFound
	case apperr.KindConflict:
		status = http.StatusConflict
	case apperr.KindRateLimited:
		status = http.StatusServiceUnavailable
	case apperr.KindTransient, apperr.KindInvariant:
		status = http.StatusInternalServerError
	}
	return Error(w, r, status, err.Error())
}

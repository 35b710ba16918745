// Package http serves the debtor registry, ledger and reports as a JSON API.
//
// This file builds JSON responses and maps domain errors to status codes.

package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"cobranca/internal/core"
	"cobranca/internal/log"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// JSONResponseBuilder provides a fluent API for building JSON responses.
type JSONResponseBuilder struct {
	statusCode int
	headers    map[string]string
	body       any
}

// NewJSONResponse creates a new response builder with default 200 status.
func NewJSONResponse() *JSONResponseBuilder {
	return &JSONResponseBuilder{
		statusCode: http.StatusOK,
		headers:    make(map[string]string),
	}
}

func (b *JSONResponseBuilder) Status(code int) *JSONResponseBuilder {
	b.statusCode = code
	return b
}

func (b *JSONResponseBuilder) Header(name, value string) *JSONResponseBuilder {
	b.headers[name] = value
	return b
}

// Body sets the value encoded as the response body.
func (b *JSONResponseBuilder) Body(v any) *JSONResponseBuilder {
	b.body = v
	return b
}

// Write sends the built response. A nil body writes only the status.
func (b *JSONResponseBuilder) Write(w http.ResponseWriter) {
	for name, value := range b.headers {
		w.Header().Set(name, value)
	}
	if b.body == nil {
		w.WriteHeader(b.statusCode)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(b.statusCode)
	_ = json.NewEncoder(w).Encode(b.body)
}

// errorBody is the shape of every error response.
type errorBody struct {
	Error  string            `json:"error"`
	Fields validation.Errors `json:"fields,omitempty"`
}

// ErrorResponse creates an error response with a plain message.
func ErrorResponse(statusCode int, message string) *JSONResponseBuilder {
	return NewJSONResponse().Status(statusCode).Body(errorBody{Error: message})
}

// statusFor maps the core error kinds to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, core.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrDuplicateID), errors.Is(err, core.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, core.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// DomainError builds the response for err. Internal failures hide the
// message; validation failures carry the per-field problems.
func DomainError(err error) *JSONResponseBuilder {
	status := statusFor(err)
	body := errorBody{Error: err.Error()}
	switch status {
	case http.StatusInternalServerError:
		body.Error = "internal error"
	case http.StatusServiceUnavailable:
		body.Error = core.ErrStoreUnavailable.Error()
	case http.StatusBadRequest:
		var ve *core.ValidationError
		if errors.As(err, &ve) {
			var fields validation.Errors
			if errors.As(ve.Err, &fields) {
				body.Fields = fields
			}
		}
	}
	b := NewJSONResponse().Status(status).Body(body)
	if status == http.StatusServiceUnavailable {
		b.Header("Retry-After", "5")
	}
	return b
}

// writeError logs err on the request logger and writes its response.
func writeError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	status := statusFor(err)
	level := slog.LevelWarn
	if status >= 500 {
		level = slog.LevelError
	}
	log.FromContext(r.Context()).LogFields(r.Context(), level, msg, log.NewFields().
		WithError(err).
		WithHTTPRequest(r.Method, r.URL.Path, "", ""))
	DomainError(err).Write(w)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	NewJSONResponse().Status(status).Body(v).Write(w)
}

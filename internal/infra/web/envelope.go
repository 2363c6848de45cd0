package web

import (
	"encoding/json"
	"net/http"
	"time"

	"ai-chat-pipeline/internal/domain"
)

// envelope is the shared response shape for every JSON endpoint.
type envelope struct {
	Success   bool           `json:"success"`
	Data      any            `json:"data,omitempty"`
	Error     *envelopeError `json:"error,omitempty"`
	Timestamp string         `json:"timestamp"`
}

type envelopeError struct {
	Code       string            `json:"code"`
	Message    string            `json:"message"`
	StatusCode int               `json:"statusCode"`
	Details    map[string]string `json:"details,omitempty"`
}

func writeData(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{
		Success:   true,
		Data:      data,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// writeError renders err through the taxonomy: stable code, caller-safe
// message, matching HTTP status. Raw internal detail never leaves here.
func writeError(w http.ResponseWriter, err error) {
	kind := domain.KindOf(err)
	var details map[string]string
	var app *domain.AppError
	if e, ok := err.(*domain.AppError); ok {
		app = e
	}
	if app != nil && len(app.Details) > 0 && kind != domain.KindInternal {
		details = app.Details
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(kind.StatusCode())
	_ = json.NewEncoder(w).Encode(envelope{
		Success: false,
		Error: &envelopeError{
			Code:       string(kind),
			Message:    domain.UserMessage(err),
			StatusCode: kind.StatusCode(),
			Details:    details,
		},
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

package httputil

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	apperrors "github.com/timbouc/cart/pkg/errors"
	"github.com/timbouc/cart/pkg/logger"
	"github.com/timbouc/cart/pkg/validator"
)

// Response is the JSON envelope of every API response.
type Response struct {
	Data  any            `json:"data,omitempty"`
	Error *ErrorResponse `json:"error,omitempty"`
}

// ErrorResponse is the error half of Response.
type ErrorResponse struct {
	Code      string            `json:"code"`
	Message   string            `json:"message"`
	Fields    map[string]string `json:"fields,omitempty"`
	RequestID string            `json:"request_id,omitempty"`
}

// WriteJSON writes v with the given status code.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// The status line is gone by now, so an encode failure cannot be reported.
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError maps err to a status code and error envelope. Server-side
// failures are logged with the request logger when RequestLogger is mounted,
// otherwise with fallback. Their causes never reach the client.
func WriteError(w http.ResponseWriter, r *http.Request, err error, fallback *slog.Logger) {
	ctx := r.Context()
	appErr := apperrors.From(err)

	if appErr.Status >= http.StatusInternalServerError {
		l := logger.FromContext(ctx)
		if l == slog.Default() && fallback != nil {
			l = fallback
		}
		l.ErrorContext(ctx, "request failed",
			slog.String("code", appErr.Code),
			slog.String("error", err.Error()),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
		)
	}

	WriteJSON(w, appErr.Status, Response{Error: &ErrorResponse{
		Code:      appErr.Code,
		Message:   appErr.Message,
		RequestID: logger.CorrelationIDFromContext(ctx),
	}})
}

// WriteValidationError writes a 400. Validator failures carry per-field
// messages; anything else is reported as INVALID_INPUT.
func WriteValidationError(w http.ResponseWriter, err error) {
	body := &ErrorResponse{Code: "INVALID_INPUT", Message: err.Error()}

	var valErr *validator.ValidationError
	if errors.As(err, &valErr) {
		body = &ErrorResponse{
			Code:    "VALIDATION_ERROR",
			Message: "request validation failed",
			Fields:  valErr.Fields(),
		}
	}
	WriteJSON(w, http.StatusBadRequest, Response{Error: body})
}

package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/timbouc/cart/pkg/httputil"
	"github.com/timbouc/cart/pkg/logger"
)

// Session resolves the caller's session from the first non-empty header in
// headers and stores it in the request context. Requests carrying none of
// them are rejected with 400.
func Session(headers ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := sessionFromHeaders(r, headers)
			if id == "" {
				name := "session"
				if len(headers) > 0 {
					name = headers[0]
				}
				writeSessionError(w, name+" header is required")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithSessionID(r.Context(), id)))
		})
	}
}

// WithSessionID returns a new context carrying the session ID. Loggers built
// from the context pick it up as session_id.
func WithSessionID(ctx context.Context, id string) context.Context {
	return logger.WithSessionID(ctx, id)
}

// SessionIDFromContext extracts the session ID stored by Session.
func SessionIDFromContext(ctx context.Context) string {
	return logger.SessionIDFromContext(ctx)
}

func sessionFromHeaders(r *http.Request, headers []string) string {
	for _, h := range headers {
		if v := strings.TrimSpace(r.Header.Get(h)); v != "" {
			return v
		}
	}
	return ""
}

func writeSessionError(w http.ResponseWriter, message string) {
	httputil.WriteJSON(w, http.StatusBadRequest, httputil.Response{
		Error: &httputil.ErrorResponse{Code: "INVALID_INPUT", Message: message},
	})
}

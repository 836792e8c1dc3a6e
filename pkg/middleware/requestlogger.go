package middleware

import (
	"log/slog"
	"net/http"

	"github.com/timbouc/cart/pkg/logger"
)

// sessionHeaders are checked in order when no session is in context yet.
var sessionHeaders = []string{"X-Session-ID", "X-User-ID"}

// RequestLogger stores a logger carrying the request's correlation, session
// and trace fields in the context, for logger.FromContext. Mount it after
// RequestLogging and Tracing so those fields exist.
func RequestLogger(base *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			// Session runs later, on the cart routes, so read the headers here.
			if SessionIDFromContext(ctx) == "" {
				if id := sessionFromHeaders(r, sessionHeaders); id != "" {
					ctx = WithSessionID(ctx, id)
				}
			}

			ctx = logger.NewContext(ctx, logger.WithContext(ctx, base))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

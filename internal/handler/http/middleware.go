package http

import (
	"net/http"
	"strings"

	"github.com/timbouc/cart/pkg/httputil"
	"github.com/timbouc/cart/pkg/middleware"
)

// Session headers, in lookup order.
const (
	SessionHeader = "X-Session-ID"
	UserHeader    = "X-User-ID"
)

// SessionFromHeader reads the cart session from X-Session-ID, falling back to
// X-User-ID for signed-in shoppers whose gateway only forwards the user id.
// Requests with neither header are rejected with 400.
var SessionFromHeader = middleware.Session(SessionHeader, UserHeader)

// ContentTypeJSON enforces that requests with a body have Content-Type: application/json.
func ContentTypeJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.ContentLength > 0 || r.Method == http.MethodPost || r.Method == http.MethodPut || r.Method == http.MethodPatch {
			ct := r.Header.Get("Content-Type")
			if ct != "" && !strings.HasPrefix(ct, "application/json") {
				httputil.WriteJSON(w, http.StatusUnsupportedMediaType, httputil.Response{
					Error: &httputil.ErrorResponse{Code: "UNSUPPORTED_MEDIA_TYPE", Message: "Content-Type must be application/json"},
				})
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

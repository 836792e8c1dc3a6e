package middleware

import (
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"
)

// corsMethods are the methods the cart API serves.
var corsMethods = strings.Join([]string{
	http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions,
}, ", ")

// CORSConfig holds configuration for the CORS middleware.
type CORSConfig struct {
	// AllowedOrigins lists the origins browsers may call from. "*" allows any.
	AllowedOrigins []string

	// AllowedHeaders lists the request headers a preflight may ask for.
	AllowedHeaders []string

	// ExposedHeaders lists the response headers scripts may read.
	ExposedHeaders []string

	// MaxAge is how long preflight results may be cached.
	MaxAge time.Duration

	// AllowCredentials lets browsers send cookies. Wildcard origins are then
	// echoed back instead of answered with "*".
	AllowCredentials bool

	// Environment "development" allows any origin.
	Environment string
}

// DefaultCORSConfig allows any origin in development and carries the cart
// session headers.
func DefaultCORSConfig() CORSConfig {
	return CORSConfig{
		AllowedOrigins: []string{"*"},
		AllowedHeaders: []string{"Accept", "Content-Type", CorrelationHeader, "X-Session-ID", "X-User-ID"},
		ExposedHeaders: []string{CorrelationHeader},
		MaxAge:         time.Hour,
		Environment:    "development",
	}
}

// CORS answers preflight requests and decorates cross-origin responses.
// Requests from origins outside the allowlist get no CORS headers.
func CORS(cfg CORSConfig) func(http.Handler) http.Handler {
	anyOrigin := cfg.Environment == "development" || slices.Contains(cfg.AllowedOrigins, "*")
	headers := strings.Join(cfg.AllowedHeaders, ", ")
	exposed := strings.Join(cfg.ExposedHeaders, ", ")
	maxAge := strconv.Itoa(int(cfg.MaxAge.Seconds()))

	allowed := func(origin string) bool {
		return anyOrigin || slices.Contains(cfg.AllowedOrigins, origin)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			h := w.Header()
			h.Add("Vary", "Origin")

			if origin == "" || !allowed(origin) {
				next.ServeHTTP(w, r)
				return
			}

			if anyOrigin && !cfg.AllowCredentials {
				h.Set("Access-Control-Allow-Origin", "*")
			} else {
				h.Set("Access-Control-Allow-Origin", origin)
			}
			if cfg.AllowCredentials {
				h.Set("Access-Control-Allow-Credentials", "true")
			}
			if exposed != "" {
				h.Set("Access-Control-Expose-Headers", exposed)
			}

			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				h.Set("Access-Control-Allow-Methods", corsMethods)
				h.Set("Access-Control-Allow-Headers", headers)
				if cfg.MaxAge > 0 {
					h.Set("Access-Control-Max-Age", maxAge)
				}
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/timbouc/cart/internal/service"
	"github.com/timbouc/cart/pkg/health"
	"github.com/timbouc/cart/pkg/middleware"
)

// RouterConfig carries the HTTP-level settings of the router.
type RouterConfig struct {
	Environment    string
	AllowedOrigins []string
	RateLimit      middleware.RateLimitConfig

	// Registerer receives the HTTP metrics; nil uses the default registry.
	Registerer prometheus.Registerer
}

// NewRouter creates a chi router with all cart routes registered.
func NewRouter(
	carts *service.Registry,
	healthHandler *health.Handler,
	logger *slog.Logger,
	cfg RouterConfig,
) http.Handler {
	r := chi.NewRouter()

	cors := middleware.DefaultCORSConfig()
	cors.Environment = cfg.Environment
	if len(cfg.AllowedOrigins) > 0 {
		cors.AllowedOrigins = cfg.AllowedOrigins
	}

	// Global middleware
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.CORS(cors))
	r.Use(chimw.Compress(5))
	r.Use(chimw.Timeout(30 * time.Second))
	r.Use(middleware.RequestLogging(logger))
	r.Use(middleware.NewHTTPMetrics("cart", cfg.Registerer).Middleware)
	r.Use(middleware.Tracing("cart"))
	r.Use(middleware.RequestLogger(logger))

	// Health check endpoints
	r.Get("/health/live", healthHandler.LivenessHandler())
	r.Get("/health/ready", healthHandler.ReadinessHandler())
	r.Handle("/metrics", promhttp.Handler())

	cartHandler := NewCartHandler(carts, logger)
	r.Route("/api/v1/cart", func(r chi.Router) {
		r.Use(ContentTypeJSON)
		r.Use(SessionFromHeader)
		r.Use(middleware.RateLimit(cfg.RateLimit, logger))
		mountCartRoutes(r, cartHandler)
	})

	return r
}

func mountCartRoutes(r chi.Router, h *CartHandler) {
	r.Get("/", h.GetCart)
	r.Delete("/", h.ClearCart)
	r.Get("/totals", h.GetTotals)

	r.Get("/items", h.ListItems)
	r.Post("/items", h.AddItems)
	r.Get("/items/{itemId}", h.GetItem)
	r.Patch("/items/{itemId}", h.UpdateItem)
	r.Delete("/items/{itemId}", h.RemoveItem)

	r.Get("/conditions", h.ListConditions)
	r.Post("/conditions", h.ApplyConditions)
	r.Delete("/conditions", h.ClearConditions)
	r.Get("/conditions/{name}", h.GetCondition)
	r.Delete("/conditions/{name}", h.RemoveCondition)

	r.Get("/data", h.GetData)
	r.Put("/data", h.PutData)
	r.Get("/data/*", h.GetData)
	r.Put("/data/*", h.PutData)
}

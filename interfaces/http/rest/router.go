package rest

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
)

// RouterConfig tunes the middleware stack.
type RouterConfig struct {
	// AllowedOrigins is appended to the built-in extension and localhost
	// origins.
	AllowedOrigins []string
	RequestTimeout time.Duration
	// MetricsHandler, when set, is mounted at /metrics.
	MetricsHandler http.Handler
}

// NewRouter assembles the chi router with the full middleware stack.
func NewRouter(h *Handler, cfg RouterConfig, logger *zap.Logger) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}

	r := chi.NewRouter()
	r.Use(RequestID())
	r.Use(Recovery(logger))
	r.Use(Logging(logger))
	r.Use(chimiddleware.Timeout(timeout))

	origins := append([]string{
		"chrome-extension://*",
		"moz-extension://*",
		"http://localhost:*",
		"http://127.0.0.1:*",
	}, cfg.AllowedOrigins...)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", h.Health)

	r.Route("/api", func(r chi.Router) {
		r.Route("/tabs", func(r chi.Router) {
			r.Post("/ingest", h.IngestTabs)
			r.Post("/delete", h.DeleteTabs)
			r.Get("/clusters", h.GetClusters)
		})
		r.Get("/graph/visualization", h.GetVisualization)
		r.Get("/recommendations", h.GetRecommendations)
		r.Route("/entities", func(r chi.Router) {
			r.Post("/re-enrich", h.ReEnrichEntities)
			r.Get("/search", h.SearchEntities)
		})
	})

	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler)
	}
	return r
}

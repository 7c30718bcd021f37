package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/notifyhub/restock-monitor/internal/api/handler"
	apimw "github.com/notifyhub/restock-monitor/internal/api/middleware"
	"github.com/notifyhub/restock-monitor/internal/service"
)

// NewRouter wires the chi router, attaches all middleware, and registers
// every route. It is the single source of truth for the HTTP surface area.
// feedsDir, when non-empty, is served read-only under /feeds for the RSS
// channel.
func NewRouter(
	svc *service.ItemService,
	db handler.Pinger,
	reg prometheus.Gatherer,
	feedsDir string,
	logger *zap.Logger,
) http.Handler {
	r := chi.NewRouter()

	// --- global middleware (applied to every route) ---
	r.Use(chimw.Recoverer)          // recover panics, return 500
	r.Use(chimw.RealIP)             // trust X-Forwarded-For / X-Real-IP
	r.Use(chimw.RequestSize(1<<20)) // 1 MB max request body
	r.Use(apimw.CorrelationID)      // X-Correlation-ID inject / echo
	r.Use(apimw.RequestLogger(logger))

	// --- handler instances ---
	ih := handler.NewItemHandler(svc, logger)
	ah := handler.NewAdminHandler(svc, logger)
	hh := handler.NewHealthHandler(db)

	// --- routes ---
	r.Get("/health", hh.Health)

	// Raw Prometheus scrape endpoint (for Prometheus server / Grafana)
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	if feedsDir != "" {
		r.Handle("/feeds/*", http.StripPrefix("/feeds/", http.FileServer(http.Dir(feedsDir))))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/items", ih.Register)
		r.Get("/items/{id}", ih.GetByID)
		r.Post("/items/{id}/reactivate", ih.Reactivate)

		r.Post("/destinations/{id}/disable", ah.DisableDestination)
		r.Post("/destinations/{id}/enable", ah.EnableDestination)

		r.Post("/checks/trigger", ah.TriggerCheck)
		r.Get("/stats", ah.Stats)
	})

	return r
}

package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
	"go.uber.org/zap"

	"github.com/notifyhub/alertflow/internal/api/handler"
	apimw "github.com/notifyhub/alertflow/internal/api/middleware"
	"github.com/notifyhub/alertflow/internal/queue"
	"github.com/notifyhub/alertflow/internal/realtime"
	"github.com/notifyhub/alertflow/internal/service"
)

// CreateEndpoint is the rate-limit key for notification creation.
const CreateEndpoint = "POST /api/v1/notifications"

// Deps bundles everything the HTTP layer needs.
type Deps struct {
	Notifications *service.NotificationService
	Rules         *service.RuleService
	Limiter       apimw.Checker
	Jobs          handler.JobRunner
	Queue         *queue.PriorityQueue
	Hub           *realtime.Hub
	Gatherer      prometheus.Gatherer
	// OnScrape runs before every Prometheus scrape to refresh gauges.
	OnScrape func()
	Checks   map[string]func(context.Context) error
	Logger   *zap.Logger
}

// NewRouter wires the chi router, attaches all middleware, and registers
// every route. It is the single source of truth for the HTTP surface area.
func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()

	// --- global middleware (applied to every route) ---
	r.Use(chimw.Recoverer)          // recover panics, return 500
	r.Use(chimw.RealIP)             // trust X-Forwarded-For / X-Real-IP
	r.Use(chimw.RequestSize(1<<20)) // 1 MB max request body
	r.Use(apimw.CorrelationID)      // X-Correlation-ID inject / echo
	r.Use(apimw.RequestLogger(d.Logger))

	// --- handler instances ---
	nh := handler.NewNotificationHandler(d.Notifications, d.Logger)
	ph := handler.NewPreferencesHandler(d.Notifications)
	eh := handler.NewEscalationHandler(d.Rules)
	rh := handler.NewRateLimitHandler(d.Limiter, d.Logger)
	jh := handler.NewJobsHandler(d.Jobs, d.Logger)
	var conns handler.ConnCounter
	if d.Hub != nil {
		conns = d.Hub
	}
	mh := handler.NewMetricsHandler(d.Queue, conns)
	hh := handler.NewHealthHandler(d.Checks)

	// --- routes ---
	r.Get("/health", hh.Health)
	r.Get("/ready", hh.Ready)

	// Raw Prometheus scrape endpoint (for Prometheus server / Grafana)
	r.Handle("/metrics", promhttp.HandlerFor(scrapeGatherer(d.Gatherer, d.OnScrape), promhttp.HandlerOpts{}))

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/rate-limit/check", rh.Check)

		r.With(apimw.RateLimit(d.Limiter, CreateEndpoint, d.Logger)).Post("/notifications", nh.Create)
		r.Get("/notifications", nh.List)
		r.Get("/notifications/{id}", nh.GetByID)
		r.Post("/notifications/{id}/read", nh.MarkRead)
		r.Post("/notifications/{id}/acted", nh.MarkActed)
		r.Get("/notifications/{id}/lineage", nh.Lineage)
		r.Get("/notifications/{id}/deliveries", nh.Deliveries)

		r.Get("/users/{userID}/preferences", ph.Get)
		r.Put("/users/{userID}/preferences", ph.Put)

		r.Get("/escalation-rules", eh.ListRules)
		r.Put("/escalation-rules", eh.UpsertRule)
		r.Put("/roles", eh.AssignRole)

		r.Post("/jobs/escalations/run", jh.RunEscalations)
		r.Post("/jobs/digests/run", jh.RunDigests)
		r.Post("/jobs/rate-limit/prune", jh.Prune)

		// JSON metrics snapshot
		r.Get("/metrics", mh.GetMetrics)

		if d.Hub != nil {
			r.Get("/ws", handler.NewWSHandler(d.Hub).Serve)
		}
	})

	return r
}

func scrapeGatherer(g prometheus.Gatherer, before func()) prometheus.Gatherer {
	if before == nil {
		return g
	}
	return prometheus.GathererFunc(func() ([]*dto.MetricFamily, error) {
		before()
		return g.Gather()
	})
}

package statusapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/marmos91/fleetflow/internal/logger"
	"github.com/marmos91/fleetflow/pkg/flow"
	"github.com/marmos91/fleetflow/pkg/metrics"
)

// Runtime exposes the pieces of the running engine the status surface
// reads from. It never mutates flow state — every route here is
// read-only, observability-only (§ Status API).
type Runtime struct {
	StoreOpen flow.StoreFactory
	Queue     flow.TaskQueue
	Token     flow.SecurityToken

	// Workers lists the configured worker queue names, reported by /healthz.
	Workers []string
}

// NewRouter builds the chi router serving /healthz, /metrics, and
// /flows/{session_id}, adapted from the teacher's controlplane API router
// (request-id middleware, panic recovery, its own requestLogger shape).
func NewRouter(rt Runtime) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(15 * time.Second))

	r.Get("/healthz", healthHandler(rt))

	if metrics.IsEnabled() {
		r.Handle("/metrics", promhttp.HandlerFor(metrics.GetRegistry(), promhttp.HandlerOpts{}))
	}

	r.Route("/flows", func(r chi.Router) {
		r.Get("/{session_id}", flowHandler(rt))
	})

	return r
}

// requestLogger logs request start at DEBUG and completion at INFO,
// mirroring the teacher's own requestLogger middleware.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := middleware.GetReqID(r.Context())

		logger.Debug("status api request started", "request_id", requestID, "method", r.Method, "path", r.URL.Path)

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		logger.Info("status api request completed",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start).String(),
		)
	})
}

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/advisoros/taskqueue/internal/api/middleware"
)

// NewRouter assembles the ops router: request ID, real IP, panic recovery and
// trace propagation around the stats endpoint and a liveness probe.
func NewRouter(stats *StatsHandler) chi.Router {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.TraceMiddleware)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Get("/internal/queues/stats", stats.GetQueueStats)

	return r
}

package admin

import (
	"net/http"

	"github.com/bridgedist/bucketd/report"
	"github.com/bridgedist/bucketd/telemetry"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

// RegisterRoutes registers the admin API under /admin, and /metrics when
// Prometheus is enabled
func RegisterRoutes(mux *http.ServeMux, handlers *AdminHandlers, secret string) {
	r := chi.NewRouter()
	r.Use(AuthMiddleware(secret))

	r.Get("/buckets", handlers.handleListBuckets)
	r.Route("/buckets/{name}", func(r chi.Router) {
		r.Get("/", handlers.wrapWithBucket(handlers.handleBucket))
		r.Get("/groups", handlers.wrapWithBucket(handlers.handleGroups))
	})
	r.Get("/dispatches/{name}", handlers.wrapWithBucket(handlers.handleDispatches))

	mux.Handle("/admin", http.RedirectHandler("/admin/", http.StatusMovedPermanently))
	mux.Handle("/admin/", http.StripPrefix("/admin", r))
	if h := telemetry.GetMetricsHandler(); h != nil {
		mux.Handle("/metrics", h)
	}

	log.Info().Msg("Admin endpoints enabled at /admin/*")
}

// wrapWithBucket resolves the {name} URL parameter to a configured bucket
func (h *AdminHandlers) wrapWithBucket(fn func(http.ResponseWriter, *http.Request, report.BucketRef)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "name")
		if name == "" {
			writeErrorResponse(w, http.StatusBadRequest, "bucket name is required")
			return
		}
		ref, ok := h.lookup(name)
		if !ok {
			writeErrorResponse(w, http.StatusNotFound, "bucket '"+name+"' not found")
			return
		}
		fn(w, r, ref)
	}
}

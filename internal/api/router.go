package api

import (
	"net/http"

	"github.com/gwlsn/shotclock/internal/metrics"
)

// registerAPIRoutes registers all JSON endpoints on the given mux
func registerAPIRoutes(mux *http.ServeMux, h *Handler) {
	mux.HandleFunc("POST /api/analyze", h.Analyze)

	// History
	mux.HandleFunc("GET /api/analyses", h.ListAnalyses)
	mux.HandleFunc("GET /api/analyses/{id}", h.GetAnalysis)
	mux.HandleFunc("GET /api/analyses/{id}/similar", h.SimilarAnalyses)

	// Ops
	mux.HandleFunc("GET /healthz", h.Health)
	mux.Handle("GET /metrics", metrics.Handler())
}

// NewRouter creates a new HTTP router with the upload form, the API and the
// static directory holding uploads and the chart.
func NewRouter(h *Handler) *http.ServeMux {
	mux := http.NewServeMux()

	registerAPIRoutes(mux, h)

	mux.HandleFunc("GET /", h.Index)
	mux.HandleFunc("POST /{$}", h.Upload)

	static := http.FileServer(http.Dir(h.cfg.StaticDir))
	mux.Handle("GET /static/", http.StripPrefix("/static/", noCache(static)))

	return mux
}

// noCache stops browsers from reusing the chart image across uploads
func noCache(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}

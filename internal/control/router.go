package control

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter builds the /agent/* mux. The mutating endpoints
// (scan_now/clear_cache/compact_cache) carry a per-IP rate limit so an
// accidental scripted loop can't hammer the orchestrator or the cache
// store.
func NewRouter(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/agent/ping", h.Ping)
	r.Get("/agent/stats", h.Stats)
	r.Get("/agent/ls", h.Ls)
	r.Get("/agent/cache_info", h.CacheInfo)
	r.Handle("/agent/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(httprate.LimitByIP(10, time.Minute))
		r.Post("/agent/scan_now", h.ScanNow)
		r.Post("/agent/clear_cache", h.ClearCache)
		r.Post("/agent/compact_cache", h.CompactCache)
	})

	return r
}

package api

import (
	"net/http"

	"github.com/GoCodeAlone/artifacts/metrics"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Config holds configuration for the HTTP layer.
type Config struct {
	// StreamRateLimit is the per-IP request budget per minute for the
	// retrieval routes. Defaults to 120 when zero.
	StreamRateLimit int
	// ServiceName names the server spans.
	ServiceName string
}

// NewRouter creates an http.Handler with every route registered. Retrieval
// routes are rate limited. When mw has a JWT secret every route except the
// signed download, public files and operations requires a token. collector
// may be nil.
func NewRouter(h *Handler, mw *Middleware, collector *metrics.Collector, cfg Config) http.Handler {
	mux := http.NewServeMux()
	rl := mw.RateLimit(cfg.StreamRateLimit)

	// --- Retrieval ---
	mux.Handle("GET /artifacts/{id}/stream", rl(mw.RequireAuth(http.HandlerFunc(h.Stream))))
	mux.Handle("GET /artifacts/{id}/download", rl(http.HandlerFunc(h.Download)))
	mux.Handle("GET /artifacts/{id}", rl(mw.RequireAuth(http.HandlerFunc(h.Show))))
	mux.Handle("GET /storage/{disk}/{path...}", rl(http.HandlerFunc(h.PublicFile)))

	// --- Owner API ---
	mux.Handle("POST /api/v1/owners/{type}/{id}/artifacts/{collection}", mw.RequireAuth(http.HandlerFunc(h.Upload)))
	mux.Handle("GET /api/v1/owners/{type}/{id}/artifacts/{collection}", mw.RequireAuth(http.HandlerFunc(h.List)))
	mux.Handle("DELETE /artifacts/{id}", mw.RequireAuth(http.HandlerFunc(h.Delete)))

	// --- Operations ---
	mux.HandleFunc("GET /healthz", h.Healthz)
	if collector != nil {
		mux.Handle("GET /metrics", collector.Handler())
	}

	name := cfg.ServiceName
	if name == "" {
		name = "artifacts"
	}
	// Metrics sit inside the otel handler so they see the matched pattern.
	var handler http.Handler = collector.Middleware(mux)
	handler = otelhttp.NewHandler(handler, name)
	handler = mw.Recover(handler)
	return mw.RequestID(handler)
}

package handlers

import (
	"net/http"

	"github.com/Rorqualx/pagesnap/internal/config"
	"github.com/Rorqualx/pagesnap/internal/middleware"
)

// NewRouter registers the API routes and wraps them in the middleware
// chain: Recovery, Logging, APIKey.
func NewRouter(h *Handler, cfg *config.Config) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/screenshot", h.HandleScreenshot)
	mux.HandleFunc("GET /v1/stats", h.HandleStats)
	mux.HandleFunc("GET /health", h.HandleHealth)
	mux.HandleFunc("/", h.HandleNotFound)

	return middleware.Chain(
		middleware.Recovery,
		middleware.Logging,
		middleware.APIKey(cfg),
	)(mux)
}

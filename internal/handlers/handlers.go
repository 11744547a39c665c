// Package handlers provides the HTTP API in front of the capture engine.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Rorqualx/pagesnap/internal/blocklist"
	"github.com/Rorqualx/pagesnap/internal/browser"
	"github.com/Rorqualx/pagesnap/internal/capture"
	"github.com/Rorqualx/pagesnap/internal/captcha"
	"github.com/Rorqualx/pagesnap/internal/config"
	"github.com/Rorqualx/pagesnap/internal/profile"
	"github.com/Rorqualx/pagesnap/internal/security"
	"github.com/Rorqualx/pagesnap/internal/stats"
	"github.com/Rorqualx/pagesnap/internal/types"
	"github.com/Rorqualx/pagesnap/pkg/version"
)

// maxBodySize limits request bodies to prevent memory exhaustion.
const maxBodySize = 1 << 20

// statsHostLimit is how many hosts the stats endpoint lists.
const statsHostLimit = 20

// Backend is what the handlers need from the capture service.
type Backend interface {
	Capture(ctx context.Context, req capture.Request) (*capture.Image, error)
	PoolStats() browser.PoolStatsSnapshot
	PoolUsage() (maxBrowsers, live, warm int)
	SolverStats() captcha.Snapshot
	BlocklistStats() (blocklist.ReloadStats, bool)
	HostStats(limit int) []stats.HostStatsJSON
}

// Handler handles all pagesnap API requests.
type Handler struct {
	backend Backend
	config  *config.Config
}

// New creates a new Handler.
func New(backend Backend, cfg *config.Config) *Handler {
	return &Handler{backend: backend, config: cfg}
}

// StatsResponse is returned by the stats endpoint.
type StatsResponse struct {
	Pool      browser.PoolStatsSnapshot `json:"pool"`
	Captcha   captcha.Snapshot          `json:"captcha"`
	Blocklist *blocklist.ReloadStats    `json:"blocklist,omitempty"`
	Hosts     []stats.HostStatsJSON     `json:"hosts"`
	Version   string                    `json:"version"`
}

// statusForKind maps a failure kind to its HTTP status.
func statusForKind(k types.Kind) int {
	switch k {
	case types.KindInvalidRequest:
		return http.StatusBadRequest
	case types.KindCapacityExceeded, types.KindSessionUnavailable:
		return http.StatusServiceUnavailable
	case types.KindNavigationTimeout:
		return http.StatusGatewayTimeout
	case types.KindNavigationFailure:
		return http.StatusBadGateway
	case types.KindContentNotReady:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// HandleScreenshot handles POST /v1/screenshot.
func (h *Handler) HandleScreenshot(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	logger := zerolog.Ctx(r.Context())

	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	defer r.Body.Close()

	buf := getBuffer()
	defer putBuffer(buf)

	if _, err := io.Copy(buf, r.Body); err != nil {
		logger.Warn().Err(err).Msg("Failed to read request body")
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.writeErrorWithStatus(w, http.StatusRequestEntityTooLarge, types.KindInvalidRequest, "Request body too large", startTime)
			return
		}
		h.writeError(w, types.KindInvalidRequest, "Failed to read request", startTime)
		return
	}

	var req types.ScreenshotRequest
	if err := json.Unmarshal(buf.Bytes(), &req); err != nil {
		logger.Warn().Err(err).Msg("Failed to decode request")
		h.writeError(w, types.KindInvalidRequest, "Invalid JSON request", startTime)
		return
	}

	creq, msg := h.buildRequest(&req)
	if msg != "" {
		logger.Info().Str("url", security.RedactURL(req.URL)).Str("reason", msg).Msg("Request rejected")
		h.writeError(w, types.KindInvalidRequest, msg, startTime)
		return
	}

	logger.Info().
		Str("url", security.RedactURL(creq.URL)).
		Str("device", string(creq.Device)).
		Bool("follow_redirects", creq.FollowRedirects).
		Msg("Screenshot requested")

	img, err := h.backend.Capture(r.Context(), creq)
	if err != nil {
		var ce *types.CaptureError
		if !errors.As(err, &ce) {
			ce = types.NewCaptureError(types.KindInternalFault, "capture failed", err)
		}
		logger.Warn().
			Err(ce.Err).
			Str("kind", ce.Kind.String()).
			Str("url", security.RedactURL(creq.URL)).
			Msg("Screenshot failed")
		h.writeError(w, ce.Kind, ce.Message, startTime)
		return
	}

	w.Header().Set("Content-Type", img.MimeType)
	w.Header().Set("Content-Length", strconv.Itoa(len(img.Bytes)))
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("X-Capture-Duration-Ms", strconv.FormatInt(time.Since(startTime).Milliseconds(), 10))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(img.Bytes); err != nil {
		logger.Debug().Err(err).Msg("Client went away while writing image")
	}
}

// buildRequest validates the API request and turns it into a capture
// request. A non-empty message means the request is invalid.
func (h *Handler) buildRequest(req *types.ScreenshotRequest) (capture.Request, string) {
	if err := req.Validate(); err != nil {
		return capture.Request{}, err.Error()
	}

	device, err := profile.ParseDevice(req.Device)
	if err != nil {
		return capture.Request{}, err.Error()
	}

	target, err := security.NormalizeURL(req.URL)
	if err != nil {
		return capture.Request{}, err.Error()
	}
	if !h.config.AllowPrivateTargets {
		if err := security.ValidateURL(target); err != nil {
			return capture.Request{}, fmt.Sprintf("URL not allowed: %v", err)
		}
	}

	return capture.Request{
		URL:             target,
		Device:          device,
		Width:           req.Width,
		Height:          req.Height,
		FollowRedirects: req.FollowRedirects,
	}, ""
}

// HandleHealth handles GET /health.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	maxBrowsers, live, warm := h.backend.PoolUsage()
	h.writeJSONResponse(w, http.StatusOK, types.HealthResponse{
		Status:       types.StatusOK,
		Version:      version.Full(),
		MaxBrowsers:  maxBrowsers,
		LiveBrowsers: live,
		WarmBrowsers: warm,
	})
}

// HandleStats handles GET /v1/stats.
func (h *Handler) HandleStats(w http.ResponseWriter, r *http.Request) {
	resp := StatsResponse{
		Pool:    h.backend.PoolStats(),
		Captcha: h.backend.SolverStats(),
		Hosts:   h.backend.HostStats(statsHostLimit),
		Version: version.Full(),
	}
	if bl, ok := h.backend.BlocklistStats(); ok {
		resp.Blocklist = &bl
	}
	h.writeJSONResponse(w, http.StatusOK, resp)
}

// HandleNotFound handles requests to unknown paths.
func (h *Handler) HandleNotFound(w http.ResponseWriter, r *http.Request) {
	h.writeErrorWithStatus(w, http.StatusNotFound, types.KindInvalidRequest, "Not found", time.Now())
}

// writeError writes an error response with the status for kind.
func (h *Handler) writeError(w http.ResponseWriter, kind types.Kind, message string, startTime time.Time) {
	h.writeErrorWithStatus(w, statusForKind(kind), kind, message, startTime)
}

// writeErrorWithStatus writes an error response with a specific HTTP status code.
func (h *Handler) writeErrorWithStatus(w http.ResponseWriter, statusCode int, kind types.Kind, message string, startTime time.Time) {
	resp := types.ErrorResponse{
		Status:    types.StatusError,
		Kind:      kind.String(),
		Message:   message,
		Retryable: kind.Retryable(),
		StartTime: startTime.UnixMilli(),
		EndTime:   time.Now().UnixMilli(),
		Version:   version.Full(),
	}
	if kind.Retryable() {
		w.Header().Set("Retry-After", "1")
	}
	h.writeJSONResponse(w, statusCode, resp)
}

// writeJSONResponse buffers JSON before writing so encoding errors are
// caught before headers are sent.
func (h *Handler) writeJSONResponse(w http.ResponseWriter, statusCode int, resp any) {
	buf := getBuffer()
	defer putBuffer(buf)

	if err := json.NewEncoder(buf).Encode(resp); err != nil {
		log.Error().Err(err).Msg("Failed to encode JSON response")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"status":"error","message":"internal encoding error"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_, _ = w.Write(buf.Bytes())
}

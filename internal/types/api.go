package types

import (
	"fmt"
	"strings"
)

// Request validation limits.
const (
	MaxURLLength    = 8192
	MaxDeviceLength = 32
	MaxDimension    = 16384
)

// ScreenshotRequest is the JSON body accepted by the HTTP API.
// It mirrors the capture request; URL normalization happens in the handler.
type ScreenshotRequest struct {
	URL             string `json:"url"`
	Device          string `json:"device,omitempty"`
	Width           int    `json:"width,omitempty"`
	Height          int    `json:"height,omitempty"`
	FollowRedirects bool   `json:"followRedirects,omitempty"`
}

// Validate performs size and range checks that are cheap to do before the
// request reaches the capture engine.
func (r *ScreenshotRequest) Validate() error {
	if strings.TrimSpace(r.URL) == "" {
		return ErrURLRequired
	}
	if len(r.URL) > MaxURLLength {
		return fmt.Errorf("url exceeds maximum length of %d", MaxURLLength)
	}
	if len(r.Device) > MaxDeviceLength {
		return fmt.Errorf("device exceeds maximum length of %d", MaxDeviceLength)
	}
	if r.Width < 0 || r.Height < 0 {
		return fmt.Errorf("width and height cannot be negative")
	}
	if r.Width > MaxDimension || r.Height > MaxDimension {
		return fmt.Errorf("width and height cannot exceed %d", MaxDimension)
	}
	return nil
}

// ErrorResponse is the JSON body returned for any failed request.
type ErrorResponse struct {
	Status    string `json:"status"`
	Kind      string `json:"kind,omitempty"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
	StartTime int64  `json:"startTimestamp"`
	EndTime   int64  `json:"endTimestamp"`
	Version   string `json:"version"`
}

// HealthResponse is returned by the health endpoint.
type HealthResponse struct {
	Status       string `json:"status"`
	Version      string `json:"version"`
	MaxBrowsers  int    `json:"maxBrowsers"`
	LiveBrowsers int    `json:"liveBrowsers"`
	WarmBrowsers int    `json:"warmBrowsers"`
}

// Status values for API responses.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// MimeTypePNG is the content type of every captured image.
const MimeTypePNG = "image/png"

// Package capture orchestrates a single screenshot: it resolves the
// viewport, acquires a browser session, prepares and navigates the page,
// exports a full-page PNG and always releases the session.
package capture

import (
	"context"
	"fmt"
	"net/url"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Rorqualx/pagesnap/internal/browser"
	"github.com/Rorqualx/pagesnap/internal/captcha"
	"github.com/Rorqualx/pagesnap/internal/metrics"
	"github.com/Rorqualx/pagesnap/internal/profile"
	"github.com/Rorqualx/pagesnap/internal/security"
	"github.com/Rorqualx/pagesnap/internal/types"
)

// MimeTypePNG is the content type of every captured image.
const MimeTypePNG = "image/png"

// DefaultCaptureTimeout bounds a capture from Acquire to Release when no
// timeout is configured.
const DefaultCaptureTimeout = 45 * time.Second

// maxScreenshotReserve caps the part of the capture deadline that a
// reCAPTCHA solve may not use.
const maxScreenshotReserve = 10 * time.Second

// Request describes one capture.
type Request struct {
	URL             string
	Device          profile.Device
	Width           int
	Height          int
	FollowRedirects bool
}

// Image is a captured page.
type Image struct {
	Bytes    []byte
	MimeType string
}

// SessionManager hands out browser sessions and drives them.
type SessionManager interface {
	Acquire(ctx context.Context) (*browser.Session, error)
	Configure(ctx context.Context, s *browser.Session, v profile.Viewport) error
	Capture(ctx context.Context, s *browser.Session) ([]byte, error)
	Release(s *browser.Session)
}

// Evader applies fingerprint countermeasures to a session.
type Evader interface {
	Apply(ctx context.Context, s *browser.Session) error
}

// Navigator loads the target page under the redirect policy.
type Navigator interface {
	ArmRedirectPolicy(ctx context.Context, s *browser.Session, follow bool) error
	Navigate(ctx context.Context, s *browser.Session, url string) error
}

// Solver solves a reCAPTCHA widget on a loaded page, if there is one.
type Solver interface {
	Solve(ctx context.Context, s *browser.Session) (*captcha.SolveResult, error)
}

// HostRecorder receives the outcome of every capture, keyed by target URL.
type HostRecorder interface {
	Record(rawURL, outcome string, latency time.Duration, size int)
}

// Deps are the components an Engine drives. Solver and Hosts are optional.
type Deps struct {
	Sessions  SessionManager
	Evasion   Evader
	Navigator Navigator
	Solver    Solver
	Hosts     HostRecorder
}

// Engine runs captures. It is safe for concurrent use; each capture owns
// its own session.
type Engine struct {
	deps    Deps
	timeout time.Duration
}

// NewEngine creates an engine. timeout is the overall deadline for the
// phases after Acquire; zero selects DefaultCaptureTimeout.
func NewEngine(deps Deps, timeout time.Duration) *Engine {
	if timeout <= 0 {
		timeout = DefaultCaptureTimeout
	}
	return &Engine{deps: deps, timeout: timeout}
}

// Capture renders req.URL and returns a full-page PNG. Every error it
// returns is a *types.CaptureError. The acquired session is released
// exactly once on every path, including panics and deadline expiry.
func (e *Engine) Capture(ctx context.Context, req Request) (img *Image, err error) {
	start := time.Now()
	device := string(req.Device)
	if device == "" {
		device = string(profile.Desktop)
	}

	// Registered first so it runs after the deferred Release.
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Interface("panic", r).
				Str("stack", string(debug.Stack())).
				Str("url", security.RedactURL(req.URL)).
				Msg("Panic during capture")
			img = nil
			err = types.NewCaptureError(types.KindInternalFault, "internal fault during capture", fmt.Errorf("panic: %v", r))
		}
		e.record(req.URL, device, start, img, err)
	}()

	if err := validate(req); err != nil {
		return nil, classify(phaseValidate, err)
	}

	viewport, err := profile.Resolve(req.Device, req.Width, req.Height)
	if err != nil {
		return nil, classify(phaseResolve, err)
	}

	s, err := e.deps.Sessions.Acquire(ctx)
	if err != nil {
		return nil, classify(phaseAcquire, err)
	}
	defer e.deps.Sessions.Release(s)

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	logger := log.With().
		Str("session_id", s.ID).
		Str("url", security.RedactURL(req.URL)).
		Str("viewport", viewport.String()).
		Logger()

	if err := e.deps.Evasion.Apply(ctx, s); err != nil {
		return nil, classify(phaseEvasion, err)
	}
	if err := e.deps.Sessions.Configure(ctx, s, viewport); err != nil {
		return nil, classify(phaseConfigure, err)
	}
	if err := e.deps.Navigator.ArmRedirectPolicy(ctx, s, req.FollowRedirects); err != nil {
		return nil, classify(phaseArm, err)
	}
	if err := e.deps.Navigator.Navigate(ctx, s, req.URL); err != nil {
		return nil, classify(phaseNavigate, err)
	}

	if e.deps.Solver != nil {
		e.solve(ctx, s, logger)
	}

	data, err := e.deps.Sessions.Capture(ctx, s)
	if err != nil {
		return nil, classify(phaseCapture, err)
	}

	logger.Info().
		Int("bytes", len(data)).
		Dur("duration", time.Since(start)).
		Msg("Capture complete")

	return &Image{Bytes: data, MimeType: MimeTypePNG}, nil
}

// screenshotReserve is the tail of the capture deadline kept for the
// screenshot: a quarter of the timeout, at most maxScreenshotReserve.
func (e *Engine) screenshotReserve() time.Duration {
	return min(e.timeout/4, maxScreenshotReserve)
}

// solve runs the optional reCAPTCHA step under a deadline that stops
// screenshotReserve before the capture deadline. Its failures are logged
// only.
func (e *Engine) solve(ctx context.Context, s *browser.Session, logger zerolog.Logger) {
	budget := e.timeout
	if deadline, ok := ctx.Deadline(); ok {
		budget = time.Until(deadline)
	}
	budget -= e.screenshotReserve()
	if budget <= 0 {
		logger.Warn().Msg("No time left for reCAPTCHA solve, capturing page as is")
		return
	}

	solveCtx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	res, err := e.deps.Solver.Solve(solveCtx, s)
	switch {
	case err != nil:
		logger.Warn().Err(err).Msg("reCAPTCHA solve failed, capturing page as is")
	case res != nil:
		logger.Info().
			Str("provider", res.Provider).
			Dur("solve_time", res.SolveTime).
			Bool("injected", res.Injected).
			Msg("reCAPTCHA solved")
	}
}

func (e *Engine) record(target, device string, start time.Time, img *Image, err error) {
	elapsed := time.Since(start)
	outcome, size := "ok", 0
	if err != nil {
		outcome = types.KindOf(err).String()
	} else {
		size = len(img.Bytes)
	}
	metrics.RecordCapture(device, outcome, elapsed, size)
	if e.deps.Hosts != nil {
		e.deps.Hosts.Record(target, outcome, elapsed, size)
	}
}

// validate checks that the URL is absolute http(s) with a host. Scheme
// prefixing is the caller's job.
func validate(req Request) error {
	if req.URL == "" {
		return types.ErrURLRequired
	}
	u, err := url.Parse(req.URL)
	if err != nil {
		return fmt.Errorf("%w: %w", types.ErrInvalidURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: scheme %q not allowed", types.ErrInvalidURL, u.Scheme)
	}
	if u.Hostname() == "" {
		return fmt.Errorf("%w: missing host", types.ErrInvalidURL)
	}
	return nil
}

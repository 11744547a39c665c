// Package captcha solves reCAPTCHA v2 widgets found on captured pages
// through external solving services (2Captcha, CapSolver) with fallback.
package captcha

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Rorqualx/pagesnap/internal/browser"
	"github.com/Rorqualx/pagesnap/internal/config"
	"github.com/Rorqualx/pagesnap/internal/metrics"
	"github.com/Rorqualx/pagesnap/internal/security"
	"github.com/Rorqualx/pagesnap/internal/types"
)

// Provider is an external reCAPTCHA solving service.
type Provider interface {
	// Name returns the provider name (e.g., "2captcha", "capsolver").
	Name() string

	// SolveRecaptchaV2 returns a g-recaptcha-response token for the widget.
	SolveRecaptchaV2(ctx context.Context, req *RecaptchaRequest) (*Result, error)

	// Balance retrieves the current account balance from the provider.
	Balance(ctx context.Context) (float64, error)

	// IsConfigured returns true if the provider has valid API credentials.
	IsConfigured() bool
}

// RecaptchaRequest contains the parameters needed to solve a reCAPTCHA v2 widget.
type RecaptchaRequest struct {
	SiteKey   string // data-sitekey of the widget
	PageURL   string // URL of the page holding the widget
	UserAgent string // User agent of the capturing browser
	Invisible bool   // data-size="invisible"
}

// Result is a provider's answer to a RecaptchaRequest.
type Result struct {
	Token     string        // The solution token to inject
	SolveTime time.Duration // How long the solve took
	Cost      float64       // Cost in USD for this solve
	Provider  string        // Which provider solved it
}

// SolveResult contains the outcome of a solve on a page.
type SolveResult struct {
	Provider  string
	SolveTime time.Duration
	Cost      float64
	Injected  bool
}

// SolverChain tries its providers in order until one returns a token.
type SolverChain struct {
	providers []Provider
	metrics   *Metrics
	userAgent string
}

// SolverChainConfig contains configuration for the SolverChain.
type SolverChainConfig struct {
	Providers []Provider // Providers in priority order
	Metrics   *Metrics   // Optional
	UserAgent string     // Sent to providers that emulate the browser
}

// NewSolverChain creates a new SolverChain with the given configuration.
func NewSolverChain(cfg SolverChainConfig) *SolverChain {
	m := cfg.Metrics
	if m == nil {
		m = NewMetrics()
	}
	return &SolverChain{
		providers: cfg.Providers,
		metrics:   m,
		userAgent: cfg.UserAgent,
	}
}

// FromConfig builds the chain from CAPTCHA_API_KEY (2Captcha, primary)
// and CAPSOLVER_API_KEY (fallback). It returns nil when neither is set.
func FromConfig(cfg *config.Config) *SolverChain {
	if !cfg.HasCaptchaSolver() {
		return nil
	}

	var providers []Provider
	if cfg.CaptchaAPIKey != "" {
		providers = append(providers, NewTwoCaptchaSolver(TwoCaptchaConfig{
			APIKey:  cfg.CaptchaAPIKey,
			Timeout: cfg.CaptchaTimeout,
		}))
	}
	if cfg.CaptchaCapSolverAPIKey != "" {
		providers = append(providers, NewCapSolverSolver(CapSolverConfig{
			APIKey:  cfg.CaptchaCapSolverAPIKey,
			Timeout: cfg.CaptchaTimeout,
		}))
	}

	return NewSolverChain(SolverChainConfig{
		Providers: providers,
		UserAgent: cfg.UserAgent,
	})
}

// HasProviders returns true if at least one provider is configured.
func (c *SolverChain) HasProviders() bool {
	if c == nil {
		return false
	}
	for _, p := range c.providers {
		if p.IsConfigured() {
			return true
		}
	}
	return false
}

// Solve looks for a reCAPTCHA v2 widget on the session's page and, if one
// is present, solves it and injects the token. It returns (nil, nil) when
// the page has no widget.
func (c *SolverChain) Solve(ctx context.Context, s *browser.Session) (*SolveResult, error) {
	if !c.HasProviders() {
		return nil, types.ErrCaptchaNoProviders
	}
	page := s.Page()
	if page == nil {
		return nil, types.ErrSessionUnavailable
	}

	widget, err := DetectRecaptcha(ctx, page)
	if err != nil {
		return nil, err
	}
	if widget == nil {
		return nil, nil
	}

	info, err := page.Context(ctx).Info()
	if err != nil {
		return nil, fmt.Errorf("%w: page info: %w", types.ErrSessionUnavailable, err)
	}

	log.Info().
		Str("session_id", s.ID).
		Str("sitekey", redactSitekey(widget.SiteKey)).
		Str("url", security.RedactURL(info.URL)).
		Bool("invisible", widget.Invisible).
		Msg("reCAPTCHA widget found, solving externally")

	result, err := c.solve(ctx, &RecaptchaRequest{
		SiteKey:   widget.SiteKey,
		PageURL:   info.URL,
		UserAgent: c.userAgent,
		Invisible: widget.Invisible,
	})
	if err != nil {
		return nil, err
	}

	out := &SolveResult{
		Provider:  result.Provider,
		SolveTime: result.SolveTime,
		Cost:      result.Cost,
	}
	if err := InjectRecaptchaToken(ctx, page, widget, result.Token); err != nil {
		c.metrics.RecordError(result.Provider, err.Error())
		return out, err
	}
	out.Injected = true
	return out, nil
}

// solve tries each configured provider in order.
func (c *SolverChain) solve(ctx context.Context, req *RecaptchaRequest) (*Result, error) {
	var lastErr error
	for _, p := range c.providers {
		if !p.IsConfigured() {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		start := time.Now()
		result, err := p.SolveRecaptchaV2(ctx, req)
		elapsed := time.Since(start)

		if err != nil {
			log.Warn().
				Err(err).
				Str("provider", p.Name()).
				Dur("duration", elapsed).
				Msg("External solver failed, trying next provider")
			c.metrics.RecordAttempt(p.Name(), false, 0, elapsed)
			c.metrics.RecordError(p.Name(), err.Error())
			metrics.RecordCaptchaSolve(p.Name(), false)
			lastErr = err
			continue
		}

		log.Info().
			Str("provider", p.Name()).
			Dur("solve_time", result.SolveTime).
			Float64("cost", result.Cost).
			Msg("External solver succeeded")
		c.metrics.RecordAttempt(p.Name(), true, result.Cost, elapsed)
		metrics.RecordCaptchaSolve(p.Name(), true)
		if result.Provider == "" {
			result.Provider = p.Name()
		}
		return result, nil
	}

	if lastErr != nil {
		return nil, fmt.Errorf("all providers failed, last error: %w", lastErr)
	}
	return nil, types.ErrCaptchaNoProviders
}

// RefreshBalances queries every configured provider for its balance and
// caches the result in the chain's metrics.
func (c *SolverChain) RefreshBalances(ctx context.Context) {
	for _, p := range c.providers {
		if !p.IsConfigured() {
			continue
		}
		bal, err := p.Balance(ctx)
		if err != nil {
			log.Warn().Err(err).Str("provider", p.Name()).Msg("Failed to fetch solver balance")
			c.metrics.RecordError(p.Name(), err.Error())
			continue
		}
		c.metrics.UpdateBalance(p.Name(), bal)
	}
}

// Stats returns a snapshot of per-provider usage.
func (c *SolverChain) Stats() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	return c.metrics.Snapshot()
}

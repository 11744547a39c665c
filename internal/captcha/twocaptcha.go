package captcha

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Rorqualx/pagesnap/internal/types"
)

const (
	twoCaptchaBaseURL = "https://api.2captcha.com"

	// 2Captcha asks clients to wait at least 5 seconds between polls.
	twoCaptchaPollInterval = 5 * time.Second

	// reCAPTCHA v2 usually takes 15-45 seconds on 2Captcha.
	twoCaptchaDefaultTimeout = 120 * time.Second
)

// TwoCaptchaSolver solves reCAPTCHA v2 through the 2Captcha API.
type TwoCaptchaSolver struct {
	api *taskAPI
}

// TwoCaptchaConfig contains configuration for the 2Captcha solver.
type TwoCaptchaConfig struct {
	APIKey       string
	Timeout      time.Duration
	BaseURL      string        // Override for testing
	PollInterval time.Duration // Override for testing
}

// NewTwoCaptchaSolver creates a new 2Captcha solver.
func NewTwoCaptchaSolver(cfg TwoCaptchaConfig) *TwoCaptchaSolver {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = twoCaptchaDefaultTimeout
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = twoCaptchaBaseURL
	}
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = twoCaptchaPollInterval
	}

	s := &TwoCaptchaSolver{}
	s.api = &taskAPI{
		name:         s.Name(),
		apiKey:       cfg.APIKey,
		baseURL:      baseURL,
		httpClient:   newHTTPClient(timeout),
		pollInterval: poll,
		timeout:      timeout,
		mapError:     s.handleError,
	}
	return s
}

// Name returns the provider name.
func (s *TwoCaptchaSolver) Name() string {
	return "2captcha"
}

// IsConfigured returns true if an API key is set.
func (s *TwoCaptchaSolver) IsConfigured() bool {
	return s.api.apiKey != ""
}

type twoCaptchaRecaptchaTask struct {
	Type        string `json:"type"`
	WebsiteURL  string `json:"websiteURL"`
	WebsiteKey  string `json:"websiteKey"`
	IsInvisible bool   `json:"isInvisible,omitempty"`
	UserAgent   string `json:"userAgent,omitempty"`
}

type twoCaptchaRecaptchaSolution struct {
	GRecaptchaResponse string `json:"gRecaptchaResponse"`
	Token              string `json:"token"`
}

// SolveRecaptchaV2 submits a RecaptchaV2TaskProxyless task and waits for the token.
func (s *TwoCaptchaSolver) SolveRecaptchaV2(ctx context.Context, req *RecaptchaRequest) (*Result, error) {
	if !s.IsConfigured() {
		return nil, fmt.Errorf("2captcha API key not configured")
	}
	start := time.Now()

	id, err := s.api.createTask(ctx, twoCaptchaRecaptchaTask{
		Type:        "RecaptchaV2TaskProxyless",
		WebsiteURL:  req.PageURL,
		WebsiteKey:  req.SiteKey,
		IsInvisible: req.Invisible,
		UserAgent:   req.UserAgent,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create task: %w", err)
	}

	log.Debug().
		Str("task_id", string(id)).
		Str("sitekey", redactSitekey(req.SiteKey)).
		Msg("2Captcha task created")

	var sol twoCaptchaRecaptchaSolution
	cost, err := s.api.poll(ctx, id, &sol)
	if err != nil {
		return nil, err
	}

	token := sol.GRecaptchaResponse
	if token == "" {
		token = sol.Token
	}
	if token == "" {
		return nil, fmt.Errorf("2captcha: solution without a token")
	}

	return &Result{
		Token:     token,
		SolveTime: time.Since(start),
		Cost:      cost,
		Provider:  s.Name(),
	}, nil
}

// Balance retrieves the current account balance.
func (s *TwoCaptchaSolver) Balance(ctx context.Context) (float64, error) {
	if !s.IsConfigured() {
		return 0, fmt.Errorf("2captcha API key not configured")
	}
	return s.api.balance(ctx)
}

// handleError converts 2Captcha error codes to captcha errors.
func (s *TwoCaptchaSolver) handleError(code, description, taskID string) error {
	switch code {
	case "ERROR_ZERO_BALANCE":
		return types.NewCaptchaBalanceError(s.Name())
	case "ERROR_NO_SLOT_AVAILABLE":
		return types.NewCaptchaRejectedError(s.Name(), code, "no workers available, try again later")
	case "ERROR_WRONG_GOOGLEKEY", "ERROR_GOOGLEKEY", "ERROR_WRONG_SITEKEY":
		return types.NewCaptchaRejectedError(s.Name(), code, "invalid sitekey")
	case "ERROR_CAPTCHA_UNSOLVABLE":
		return types.NewCaptchaRejectedError(s.Name(), code, "captcha could not be solved")
	case "ERROR_BAD_DUPLICATES":
		return types.NewCaptchaRejectedError(s.Name(), code, "too many duplicate requests")
	case "ERROR_KEY_DOES_NOT_EXIST", "ERROR_WRONG_USER_KEY":
		return types.NewCaptchaRejectedError(s.Name(), code, "invalid API key")
	default:
		msg := description
		if msg == "" {
			msg = code
		}
		return &types.CaptchaError{
			Provider: s.Name(),
			TaskID:   taskID,
			Code:     code,
			Message:  fmt.Sprintf("2Captcha error: %s", msg),
			Err:      types.ErrCaptchaSolverRejected,
		}
	}
}

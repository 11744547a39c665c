package captcha

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Rorqualx/pagesnap/internal/types"
)

const (
	capSolverBaseURL        = "https://api.capsolver.com"
	capSolverPollInterval   = 3 * time.Second
	capSolverDefaultTimeout = 120 * time.Second
)

// CapSolverSolver solves reCAPTCHA v2 through the CapSolver API.
// It is used as the fallback provider after 2Captcha.
type CapSolverSolver struct {
	api *taskAPI
}

// CapSolverConfig contains configuration for the CapSolver solver.
type CapSolverConfig struct {
	APIKey       string
	Timeout      time.Duration
	BaseURL      string        // Override for testing
	PollInterval time.Duration // Override for testing
}

// NewCapSolverSolver creates a new CapSolver solver.
func NewCapSolverSolver(cfg CapSolverConfig) *CapSolverSolver {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = capSolverDefaultTimeout
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = capSolverBaseURL
	}
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = capSolverPollInterval
	}

	s := &CapSolverSolver{}
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
func (s *CapSolverSolver) Name() string {
	return "capsolver"
}

// IsConfigured returns true if an API key is set.
func (s *CapSolverSolver) IsConfigured() bool {
	return s.api.apiKey != ""
}

type capSolverRecaptchaTask struct {
	Type        string `json:"type"`
	WebsiteURL  string `json:"websiteURL"`
	WebsiteKey  string `json:"websiteKey"`
	IsInvisible bool   `json:"isInvisible,omitempty"`
}

type capSolverRecaptchaSolution struct {
	GRecaptchaResponse string `json:"gRecaptchaResponse"`
	UserAgent          string `json:"userAgent,omitempty"`
}

// SolveRecaptchaV2 submits a ReCaptchaV2TaskProxyLess task and waits for the token.
func (s *CapSolverSolver) SolveRecaptchaV2(ctx context.Context, req *RecaptchaRequest) (*Result, error) {
	if !s.IsConfigured() {
		return nil, fmt.Errorf("capsolver API key not configured")
	}
	start := time.Now()

	id, err := s.api.createTask(ctx, capSolverRecaptchaTask{
		Type:        "ReCaptchaV2TaskProxyLess",
		WebsiteURL:  req.PageURL,
		WebsiteKey:  req.SiteKey,
		IsInvisible: req.Invisible,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create task: %w", err)
	}

	log.Debug().
		Str("task_id", string(id)).
		Str("sitekey", redactSitekey(req.SiteKey)).
		Msg("CapSolver task created")

	var sol capSolverRecaptchaSolution
	cost, err := s.api.poll(ctx, id, &sol)
	if err != nil {
		return nil, err
	}
	if sol.GRecaptchaResponse == "" {
		return nil, fmt.Errorf("capsolver: solution without a token")
	}

	return &Result{
		Token:     sol.GRecaptchaResponse,
		SolveTime: time.Since(start),
		Cost:      cost,
		Provider:  s.Name(),
	}, nil
}

// Balance retrieves the current account balance.
func (s *CapSolverSolver) Balance(ctx context.Context) (float64, error) {
	if !s.IsConfigured() {
		return 0, fmt.Errorf("capsolver API key not configured")
	}
	return s.api.balance(ctx)
}

// handleError converts CapSolver error codes to captcha errors.
func (s *CapSolverSolver) handleError(code, description, taskID string) error {
	switch code {
	case "ERROR_ZERO_BALANCE":
		return types.NewCaptchaBalanceError(s.Name())
	case "ERROR_NO_AVAILABLE_WORKERS":
		return types.NewCaptchaRejectedError(s.Name(), code, "no workers available, try again later")
	case "ERROR_INVALID_TASK_DATA", "ERROR_WRONG_WEBSITEKEY":
		return types.NewCaptchaRejectedError(s.Name(), code, "invalid sitekey or task data")
	case "ERROR_CAPTCHA_UNSOLVABLE":
		return types.NewCaptchaRejectedError(s.Name(), code, "captcha could not be solved")
	case "ERROR_KEY_DENIED", "ERROR_INVALID_CLIENTKEY":
		return types.NewCaptchaRejectedError(s.Name(), code, "invalid API key")
	case "ERROR_TASK_NOT_FOUND", "ERROR_TASKID_INVALID":
		return types.NewCaptchaRejectedError(s.Name(), code, "task not found or expired")
	default:
		msg := description
		if msg == "" {
			msg = code
		}
		return &types.CaptchaError{
			Provider: s.Name(),
			TaskID:   taskID,
			Code:     code,
			Message:  fmt.Sprintf("CapSolver error: %s", msg),
			Err:      types.ErrCaptchaSolverRejected,
		}
	}
}

// Package types provides shared types and errors for the application.
package types

import "errors"

// Sentinel errors for consistent error handling across the application.
// These errors can be checked with errors.Is() for type-safe error handling.
var (
	// Request errors
	ErrInvalidRequest = errors.New("invalid request")
	ErrInvalidURL     = errors.New("invalid URL")
	ErrURLRequired    = errors.New("url is required")
	ErrInvalidProfile = errors.New("custom device profile requires positive width and height")
	ErrUnknownDevice  = errors.New("unknown device profile")

	// Browser pool errors
	ErrBrowserPoolClosed = errors.New("browser pool is closed")
	ErrCapacityExceeded  = errors.New("no browser slot available within the acquire timeout")
	ErrLaunchFailed      = errors.New("browser process failed to start")

	// Session errors
	ErrSessionUnavailable = errors.New("browser session is closed or unavailable")

	// Navigation errors
	ErrNavigationTimeout = errors.New("navigation did not reach network idle before the deadline")
	ErrNavigationFailed  = errors.New("target page failed to load")
	ErrContentNotReady   = errors.New("document body did not appear in time")

	// Capture errors
	ErrCaptureFailed = errors.New("screenshot export failed")

	// Context errors
	ErrContextCanceled = errors.New("operation canceled")

	// CAPTCHA solver errors
	ErrCaptchaSolverTimeout  = errors.New("captcha solver timed out")
	ErrCaptchaSolverRejected = errors.New("captcha task was rejected")
	ErrCaptchaSolverBalance  = errors.New("insufficient solver balance")
	ErrCaptchaSitekeyMissing = errors.New("recaptcha sitekey not found")
	ErrCaptchaNoProviders    = errors.New("no captcha solver provider configured")
	ErrCaptchaTokenInjection = errors.New("failed to inject captcha token")
)

// Kind classifies a capture failure. Every error leaving the capture
// engine carries exactly one Kind.
type Kind int

// Capture failure kinds.
const (
	KindInternalFault Kind = iota
	KindInvalidRequest
	KindLaunchFailure
	KindSessionUnavailable
	KindNavigationTimeout
	KindNavigationFailure
	KindContentNotReady
	KindCaptureFailure
	KindCapacityExceeded
)

var kindNames = map[Kind]string{
	KindInternalFault:      "InternalFault",
	KindInvalidRequest:     "InvalidRequest",
	KindLaunchFailure:      "LaunchFailure",
	KindSessionUnavailable: "SessionUnavailable",
	KindNavigationTimeout:  "NavigationTimeout",
	KindNavigationFailure:  "NavigationFailure",
	KindContentNotReady:    "ContentNotReady",
	KindCaptureFailure:     "CaptureFailure",
	KindCapacityExceeded:   "CapacityExceeded",
}

// String returns the kind name used in logs, metrics and API responses.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "InternalFault"
}

// Retryable reports whether a fresh attempt with a new session may succeed.
// The engine never retries on its own; this is advice for callers.
func (k Kind) Retryable() bool {
	switch k {
	case KindLaunchFailure, KindSessionUnavailable, KindNavigationTimeout, KindCapacityExceeded:
		return true
	default:
		return false
	}
}

// CaptureError is the only error type returned by the capture engine.
// It implements the error interface and supports error unwrapping.
type CaptureError struct {
	Kind    Kind   // Failure classification
	Message string // Human-readable error message
	Err     error  // Underlying error (for unwrapping)
}

// Error implements the error interface.
func (e *CaptureError) Error() string {
	return e.Kind.String() + ": " + e.Message
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *CaptureError) Unwrap() error {
	return e.Err
}

// NewCaptureError creates a CaptureError of the given kind.
func NewCaptureError(kind Kind, message string, err error) *CaptureError {
	return &CaptureError{
		Kind:    kind,
		Message: message,
		Err:     err,
	}
}

// KindOf returns the Kind of err if it is (or wraps) a *CaptureError,
// and KindInternalFault otherwise.
func KindOf(err error) Kind {
	var ce *CaptureError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return KindInternalFault
}

// CaptchaError provides detailed information about CAPTCHA solving failures.
type CaptchaError struct {
	Provider string // Provider name, e.g. "2captcha"
	TaskID   string // Task ID from the provider (for debugging)
	Code     string // Error code from the provider
	Message  string // Human-readable error message
	Err      error  // Underlying error (for unwrapping)
}

// Error implements the error interface.
func (e *CaptchaError) Error() string {
	return e.Message
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *CaptchaError) Unwrap() error {
	return e.Err
}

// NewCaptchaTimeoutError creates an error for CAPTCHA solve timeout.
func NewCaptchaTimeoutError(provider, taskID string) *CaptchaError {
	return &CaptchaError{
		Provider: provider,
		TaskID:   taskID,
		Code:     "timeout",
		Message:  "CAPTCHA solving timed out waiting for solution from " + provider,
		Err:      ErrCaptchaSolverTimeout,
	}
}

// NewCaptchaRejectedError creates an error when a CAPTCHA task is rejected.
func NewCaptchaRejectedError(provider, code, reason string) *CaptchaError {
	return &CaptchaError{
		Provider: provider,
		Code:     code,
		Message:  "CAPTCHA task rejected by " + provider + ": " + reason,
		Err:      ErrCaptchaSolverRejected,
	}
}

// NewCaptchaBalanceError creates an error for insufficient balance.
func NewCaptchaBalanceError(provider string) *CaptchaError {
	return &CaptchaError{
		Provider: provider,
		Code:     "insufficient_balance",
		Message:  "Insufficient balance in " + provider + " account",
		Err:      ErrCaptchaSolverBalance,
	}
}

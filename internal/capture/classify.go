package capture

import (
	"context"
	"errors"

	"github.com/Rorqualx/pagesnap/internal/types"
)

type phase int

const (
	phaseValidate phase = iota
	phaseResolve
	phaseAcquire
	phaseEvasion
	phaseConfigure
	phaseArm
	phaseNavigate
	phaseCapture
)

var phaseNames = [...]string{
	phaseValidate:  "validate",
	phaseResolve:   "resolve",
	phaseAcquire:   "acquire",
	phaseEvasion:   "evasion",
	phaseConfigure: "configure",
	phaseArm:       "arm redirect policy",
	phaseNavigate:  "navigate",
	phaseCapture:   "capture",
}

func (p phase) String() string {
	if int(p) < len(phaseNames) {
		return phaseNames[p]
	}
	return "unknown"
}

// defaultKind is the kind a phase reports for a deadline or cancellation
// that no component classified.
func (p phase) defaultKind() types.Kind {
	switch p {
	case phaseValidate, phaseResolve:
		return types.KindInvalidRequest
	case phaseAcquire:
		return types.KindCapacityExceeded
	case phaseEvasion, phaseConfigure, phaseArm:
		return types.KindSessionUnavailable
	case phaseNavigate:
		return types.KindNavigationFailure
	case phaseCapture:
		return types.KindCaptureFailure
	default:
		return types.KindInternalFault
	}
}

// sentinelKinds is checked in order; the first match wins.
var sentinelKinds = []struct {
	err  error
	kind types.Kind
}{
	{types.ErrInvalidRequest, types.KindInvalidRequest},
	{types.ErrInvalidURL, types.KindInvalidRequest},
	{types.ErrURLRequired, types.KindInvalidRequest},
	{types.ErrInvalidProfile, types.KindInvalidRequest},
	{types.ErrUnknownDevice, types.KindInvalidRequest},
	{types.ErrCapacityExceeded, types.KindCapacityExceeded},
	{types.ErrBrowserPoolClosed, types.KindSessionUnavailable},
	{types.ErrLaunchFailed, types.KindLaunchFailure},
	{types.ErrSessionUnavailable, types.KindSessionUnavailable},
	{types.ErrNavigationTimeout, types.KindNavigationTimeout},
	{types.ErrNavigationFailed, types.KindNavigationFailure},
	{types.ErrContentNotReady, types.KindContentNotReady},
	{types.ErrCaptureFailed, types.KindCaptureFailure},
}

// classify maps an error from phase p to a *types.CaptureError.
func classify(p phase, err error) *types.CaptureError {
	var ce *types.CaptureError
	if errors.As(err, &ce) {
		return ce
	}

	for _, s := range sentinelKinds {
		if errors.Is(err, s.err) {
			return types.NewCaptureError(s.kind, p.String()+": "+err.Error(), err)
		}
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		kind := p.defaultKind()
		if p == phaseNavigate {
			kind = types.KindNavigationTimeout
		}
		return types.NewCaptureError(kind, p.String()+": deadline exceeded", err)
	case errors.Is(err, context.Canceled), errors.Is(err, types.ErrContextCanceled):
		return types.NewCaptureError(p.defaultKind(), p.String()+": canceled", err)
	}

	return types.NewCaptureError(types.KindInternalFault, p.String()+": unexpected error", err)
}

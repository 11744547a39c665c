package capture

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/Rorqualx/pagesnap/internal/types"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name  string
		phase phase
		err   error
		want  types.Kind
	}{
		{"invalid profile", phaseResolve, types.ErrInvalidProfile, types.KindInvalidRequest},
		{"wrapped navigation timeout", phaseNavigate, fmt.Errorf("%w: %w", types.ErrNavigationTimeout, context.DeadlineExceeded), types.KindNavigationTimeout},
		{"raw deadline in navigate", phaseNavigate, context.DeadlineExceeded, types.KindNavigationTimeout},
		{"raw deadline in configure", phaseConfigure, context.DeadlineExceeded, types.KindSessionUnavailable},
		{"raw deadline in capture", phaseCapture, context.DeadlineExceeded, types.KindCaptureFailure},
		{"cancel in navigate", phaseNavigate, context.Canceled, types.KindNavigationFailure},
		{"content not ready wins over phase", phaseNavigate, types.ErrContentNotReady, types.KindContentNotReady},
		{"unknown", phaseCapture, errors.New("???"), types.KindInternalFault},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classify(tt.phase, tt.err)
			if got.Kind != tt.want {
				t.Errorf("Kind = %v, want %v", got.Kind, tt.want)
			}
			if !errors.Is(got, tt.err) {
				t.Errorf("classified error does not wrap %v", tt.err)
			}
		})
	}
}

func TestClassify_PassesCaptureErrorThrough(t *testing.T) {
	in := types.NewCaptureError(types.KindLaunchFailure, "x", nil)
	if got := classify(phaseNavigate, fmt.Errorf("wrapped: %w", in)); got != in {
		t.Errorf("classify() = %v, want the original CaptureError", got)
	}
}

func TestPhaseString(t *testing.T) {
	if phaseArm.String() != "arm redirect policy" {
		t.Errorf("phaseArm = %q", phaseArm.String())
	}
	if phase(99).String() != "unknown" {
		t.Errorf("phase(99) = %q", phase(99).String())
	}
}

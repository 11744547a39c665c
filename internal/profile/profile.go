// Package profile maps device classes to concrete viewports.
package profile

import (
	"fmt"
	"strings"

	"github.com/Rorqualx/pagesnap/internal/types"
)

// Device is a requested device class.
type Device string

// Supported device classes. The empty Device resolves as Desktop.
const (
	Desktop Device = "desktop"
	Tablet  Device = "tablet"
	Mobile  Device = "mobile"
	Custom  Device = "custom"
)

// Viewport is the width and height a page is rendered at.
type Viewport struct {
	Width  int
	Height int
}

// String returns the viewport as WIDTHxHEIGHT.
func (v Viewport) String() string {
	return fmt.Sprintf("%dx%d", v.Width, v.Height)
}

var presets = map[Device]Viewport{
	Desktop: {Width: 1920, Height: 1080},
	Tablet:  {Width: 768, Height: 1024},
	Mobile:  {Width: 375, Height: 667},
}

// ParseDevice converts a user-supplied device name into a Device.
// Matching is case-insensitive and surrounding whitespace is ignored.
func ParseDevice(s string) (Device, error) {
	d := Device(strings.ToLower(strings.TrimSpace(s)))
	switch d {
	case "":
		return Desktop, nil
	case Desktop, Tablet, Mobile, Custom:
		return d, nil
	default:
		return "", fmt.Errorf("%w: %q", types.ErrUnknownDevice, s)
	}
}

// Resolve returns the viewport for a device class. Width and height are
// only used for Custom, where both must be positive.
func Resolve(device Device, width, height int) (Viewport, error) {
	if device == "" {
		device = Desktop
	}
	if device == Custom {
		if width <= 0 || height <= 0 {
			return Viewport{}, fmt.Errorf("%w: got %dx%d", types.ErrInvalidProfile, width, height)
		}
		return Viewport{Width: width, Height: height}, nil
	}
	v, ok := presets[device]
	if !ok {
		return Viewport{}, fmt.Errorf("%w: %q", types.ErrUnknownDevice, string(device))
	}
	return v, nil
}

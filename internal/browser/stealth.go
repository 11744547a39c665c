package browser

import (
	"context"
	"fmt"

	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"github.com/rs/zerolog/log"
	"github.com/ysmood/gson"

	"github.com/Rorqualx/pagesnap/internal/types"
	"github.com/Rorqualx/pagesnap/pkg/version"
)

// Identity reported by every session, independent of the emulated device.
const (
	DefaultAcceptLanguage = "en-US,en;q=0.9"
	DefaultPlatform       = "Win32"
)

// Evasion applies a fixed, ordered bundle of fingerprint countermeasures
// to a session before navigation:
//
//  1. user agent override (identification string, Accept-Language, platform)
//  2. navigator.webdriver reported as false
//  3. fingerprint bundle: the go-rod/stealth script, plugin/vendor/language
//     spoofing and an Accept-Language extra header
//
// The bundle is applied as a unit and is not configurable per request.
type Evasion struct {
	userAgent      string
	acceptLanguage string
	platform       string
}

// NewEvasion returns the evasion bundle. An empty userAgent selects
// version.UserAgent.
func NewEvasion(userAgent string) *Evasion {
	if userAgent == "" {
		userAgent = version.UserAgent
	}
	return &Evasion{
		userAgent:      userAgent,
		acceptLanguage: DefaultAcceptLanguage,
		platform:       DefaultPlatform,
	}
}

// UserAgent returns the identification string the bundle reports.
func (e *Evasion) UserAgent() string {
	return e.userAgent
}

// Apply runs the bundle on s. A second Apply on the same session is a no-op.
// A released or crashed session fails with ErrSessionUnavailable.
func (e *Evasion) Apply(ctx context.Context, s *Session) error {
	page := s.Page()
	if page == nil {
		return types.ErrSessionUnavailable
	}
	if s.evaded.Load() {
		return nil
	}
	page = page.Context(ctx)

	// The UA override must come first: Chrome runs its own scripts as soon
	// as a document loads.
	err := proto.NetworkSetUserAgentOverride{
		UserAgent:      e.userAgent,
		AcceptLanguage: e.acceptLanguage,
		Platform:       e.platform,
	}.Call(page)
	if err != nil {
		return fmt.Errorf("%w: user agent override: %w", types.ErrSessionUnavailable, err)
	}

	if _, err := page.EvalOnNewDocument(webdriverScript); err != nil {
		return fmt.Errorf("%w: webdriver script: %w", types.ErrSessionUnavailable, err)
	}

	if _, err := page.EvalOnNewDocument(stealth.JS); err != nil {
		return fmt.Errorf("%w: stealth script: %w", types.ErrSessionUnavailable, err)
	}
	if _, err := page.EvalOnNewDocument(fingerprintScript); err != nil {
		return fmt.Errorf("%w: fingerprint script: %w", types.ErrSessionUnavailable, err)
	}

	if err := (proto.NetworkEnable{}).Call(page); err != nil {
		return fmt.Errorf("%w: enable network: %w", types.ErrSessionUnavailable, err)
	}
	err = proto.NetworkSetExtraHTTPHeaders{
		Headers: proto.NetworkHeaders{"Accept-Language": gson.New(e.acceptLanguage)},
	}.Call(page)
	if err != nil {
		return fmt.Errorf("%w: extra headers: %w", types.ErrSessionUnavailable, err)
	}

	s.evaded.Store(true)
	log.Debug().Str("session_id", s.ID).Msg("Evasion bundle applied")
	return nil
}

// webdriverScript makes navigator.webdriver report false.
const webdriverScript = `
(() => {
    Object.defineProperty(Object.getPrototypeOf(navigator), 'webdriver', {
        get: () => false,
        configurable: true
    });
})();
`

// fingerprintScript covers the vectors stealth.JS leaves at their
// headless defaults: plugin list, vendor, languages and WebGL identity.
const fingerprintScript = `
(() => {
    'use strict';
    if (window.__pagesnapFingerprint) {
        return;
    }
    window.__pagesnapFingerprint = true;

    try {
        const define = (obj, prop, value) => {
            try {
                Object.defineProperty(obj, prop, { get: () => value, configurable: true });
            } catch (e) {}
        };

        const proto = Object.getPrototypeOf(navigator);

        if (!navigator.plugins || navigator.plugins.length === 0) {
            const plugins = [
                { name: 'PDF Viewer', filename: 'internal-pdf-viewer', description: 'Portable Document Format' },
                { name: 'Chrome PDF Viewer', filename: 'internal-pdf-viewer', description: 'Portable Document Format' },
                { name: 'Chromium PDF Viewer', filename: 'internal-pdf-viewer', description: 'Portable Document Format' }
            ];
            plugins.item = (i) => plugins[i] || null;
            plugins.namedItem = (n) => plugins.find(p => p.name === n) || null;
            plugins.refresh = () => {};
            define(proto, 'plugins', plugins);
        }

        define(proto, 'vendor', 'Google Inc.');
        define(proto, 'languages', Object.freeze(['en-US', 'en']));
        define(proto, 'hardwareConcurrency', 8);
        define(proto, 'deviceMemory', 8);

        const UNMASKED_VENDOR_WEBGL = 37445;
        const UNMASKED_RENDERER_WEBGL = 37446;
        ['WebGLRenderingContext', 'WebGL2RenderingContext'].forEach((name) => {
            const ctx = window[name];
            if (!ctx || !ctx.prototype || ctx.prototype.getParameter.__pagesnap) {
                return;
            }
            const original = ctx.prototype.getParameter;
            const patched = function(param) {
                if (param === UNMASKED_VENDOR_WEBGL) {
                    return 'Intel Inc.';
                }
                if (param === UNMASKED_RENDERER_WEBGL) {
                    return 'Intel Iris OpenGL Engine';
                }
                return original.call(this, param);
            };
            patched.__pagesnap = true;
            ctx.prototype.getParameter = patched;
        });
    } catch (e) {}
})();
`

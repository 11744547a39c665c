package browser

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/rs/zerolog/log"

	"github.com/Rorqualx/pagesnap/internal/config"
	"github.com/Rorqualx/pagesnap/internal/security"
)

// process is one launched browser: the OS process owned by the launcher
// and the CDP connection to it.
type process struct {
	launcher  *launcher.Launcher
	browser   *rod.Browser
	createdAt time.Time
}

// LocalBinary returns the browser executable that will be launched without
// a download: BROWSER_PATH if set, otherwise a system Chrome or Chromium.
func LocalBinary(cfg *config.Config) (string, bool) {
	if cfg.BrowserPath != "" {
		return cfg.BrowserPath, true
	}
	return launcher.LookPath()
}

// createLauncher creates a configured Rod launcher. ctx bounds the start
// only: rod waits on it for the binary download and the DevTools URL, and
// drops it once Launch returns.
//
// Key anti-detection strategies:
// 1. Disable automation-controlled blink features
// 2. Drop the enable-automation switch rod adds by default
// 3. Proper WebGL rendering with SwiftShader
func createLauncher(ctx context.Context, cfg *config.Config) *launcher.Launcher {
	l := launcher.New().Context(ctx)

	// Browser binary: explicit path, then a system install, then rod's managed download.
	if path, ok := LocalBinary(cfg); ok {
		l = l.Bin(path)
	}

	if cfg.Headless {
		l = l.Set("headless", "new")
	} else {
		// Rod enables headless by default. When HEADLESS=false, Chrome uses
		// the DISPLAY env var (usually an Xvfb server).
		l = l.Headless(false)
	}

	// Container security flags
	l = l.Set("no-sandbox").
		Set("disable-setuid-sandbox").
		Set("disable-dev-shm-usage")

	if cfg.ProxyURL != "" {
		l = l.Set("proxy-server", cfg.ProxyURL)
		log.Debug().Str("proxy", security.RedactProxyURL(cfg.ProxyURL)).Msg("Browser proxy configured")
	}

	// Always prevent WebRTC IP leaks.
	l = l.Set("force-webrtc-ip-handling-policy", "disable_non_proxied_udp")

	// Prevents navigator.webdriver = true at the process level.
	l = l.Set("disable-blink-features", "AutomationControlled")
	l = l.Delete("enable-automation")

	l = l.Set("disable-features", "Translate,TranslateUI,BlinkGenPropertyTrees,WebRtcHideLocalIpsWithMdns")

	// WebGL with SwiftShader. Without it WebGL returns empty values, which is a detection signal.
	l = l.Set("use-gl", "swiftshader").
		Set("use-angle", "swiftshader").
		Set("enable-unsafe-swiftshader")

	if cfg.IgnoreCertErrors {
		l = l.Set("ignore-certificate-errors")
	}

	l = l.Set("accept-lang", "en-US,en;q=0.9")

	l = l.Set("no-first-run").
		Set("no-default-browser-check").
		Set("disable-infobars").
		Set("disable-search-engine-choice-screen")

	// Initial window matches the desktop profile; the viewport is overridden per capture.
	l = l.Set("window-size", "1920,1080")

	l = l.Set("disable-background-networking").
		Set("disable-default-apps").
		Set("disable-extensions").
		Set("disable-sync").
		Set("mute-audio").
		Set("hide-scrollbars").
		Set("safebrowsing-disable-auto-update")

	l = l.Set("disable-gpu-sandbox").
		Set("disable-renderer-backgrounding")

	// Do NOT use --disable-gpu on ARM, it breaks SwiftShader.
	if isARM() {
		l = l.Set("disable-gpu-compositing")
	}

	return l
}

// launchProcess starts a browser process and connects to it over CDP.
// The start is bounded by ctx: rod gives up waiting for the DevTools URL
// and kills the process when ctx ends. A process that finishes starting
// after ctx ended is torn down in the background and ctx's error returned.
func launchProcess(ctx context.Context, cfg *config.Config) (*process, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	type result struct {
		proc *process
		err  error
	}
	done := make(chan result, 1)

	go func() {
		l := createLauncher(ctx, cfg)
		u, err := l.Launch()
		if err != nil {
			discardLauncher(l)
			done <- result{err: fmt.Errorf("failed to launch browser: %w", err)}
			return
		}

		b := rod.New().ControlURL(u)
		if err := b.Connect(); err != nil {
			discardLauncher(l)
			done <- result{err: fmt.Errorf("failed to connect to browser: %w", err)}
			return
		}

		if cfg.IgnoreCertErrors {
			if err := b.IgnoreCertErrors(true); err != nil {
				log.Warn().Err(err).Msg("Failed to set IgnoreCertErrors")
			}
		}

		log.Debug().Str("url", u).Msg("Browser spawned successfully")
		done <- result{proc: &process{launcher: l, browser: b, createdAt: time.Now()}}
	}()

	select {
	case r := <-done:
		return r.proc, r.err
	case <-ctx.Done():
		go func() {
			if r := <-done; r.proc != nil {
				killProcess(r.proc, closeTimeout)
			}
		}()
		return nil, ctx.Err()
	}
}

// discardLauncher kills a process that failed to start and removes its
// profile directory. It does not wait for the process to exit: a process
// that never started has no exit to wait for.
func discardLauncher(l *launcher.Launcher) {
	l.Kill()
	if dir := l.Get(flags.UserDataDir); dir != "" {
		_ = os.RemoveAll(dir)
	}
}

// killProcess closes the CDP connection, kills the OS process and removes
// its profile directory. The browser close is bounded by timeout; the kill
// happens regardless. Returns false if the close timed out.
func killProcess(p *process, timeout time.Duration) bool {
	closed := true
	if p.browser != nil {
		closeDone := make(chan struct{})
		go func() {
			defer close(closeDone)
			if err := p.browser.Close(); err != nil {
				log.Debug().Err(err).Msg("Error closing browser")
			}
		}()
		select {
		case <-closeDone:
		case <-time.After(timeout):
			closed = false
		}
	}
	if p.launcher != nil {
		p.launcher.Kill()
		p.launcher.Cleanup()
	}
	return closed
}

// isARM returns true if running on ARM architecture.
func isARM() bool {
	arch := runtime.GOARCH
	return arch == "arm" || arch == "arm64"
}

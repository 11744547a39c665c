package browser

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/rs/zerolog/log"

	"github.com/Rorqualx/pagesnap/internal/profile"
	"github.com/Rorqualx/pagesnap/internal/security"
	"github.com/Rorqualx/pagesnap/internal/types"
)

// pngSignature is the 8-byte header every PNG file starts with.
var pngSignature = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}

// pageCloseTimeout bounds closing the page before the process is killed.
const pageCloseTimeout = 2 * time.Second

// Session is one browser process and one page, owned by a single capture.
// It is created by Manager.Acquire and destroyed by Manager.Release.
type Session struct {
	ID        string
	CreatedAt time.Time

	proc *process
	page *rod.Page

	mu       sync.Mutex
	cleanups []func()
	released atomic.Bool
	evaded   atomic.Bool
}

// Page returns the session's page, or nil once the session is released.
func (s *Session) Page() *rod.Page {
	if s == nil || s.released.Load() {
		return nil
	}
	return s.page
}

// Alive reports whether the session still has a usable page.
func (s *Session) Alive() bool {
	return s.Page() != nil
}

// AddCleanup registers fn to run when the session is released.
// Cleanups run in reverse registration order, before the page is closed.
// If the session is already released, fn runs immediately.
func (s *Session) AddCleanup(fn func()) {
	s.mu.Lock()
	if s.released.Load() {
		s.mu.Unlock()
		fn()
		return
	}
	s.cleanups = append(s.cleanups, fn)
	s.mu.Unlock()
}

// runCleanups runs and clears the registered cleanups.
func (s *Session) runCleanups() {
	s.mu.Lock()
	fns := s.cleanups
	s.cleanups = nil
	s.mu.Unlock()

	for i := len(fns) - 1; i >= 0; i-- {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Error().Interface("panic", r).Str("session_id", s.ID).Msg("Session cleanup panicked")
				}
			}()
			fns[i]()
		}()
	}
}

// Manager hands out sessions backed by the pool and drives the
// session-level browser operations of a capture.
type Manager struct {
	pool *Pool
}

// NewManager creates a session manager on top of pool.
func NewManager(pool *Pool) *Manager {
	return &Manager{pool: pool}
}

// Pool returns the underlying browser pool.
func (m *Manager) Pool() *Pool {
	return m.pool
}

// Acquire obtains a fresh browser process and opens an about:blank page in it.
//
// The caller MUST call Release exactly once for every successful Acquire.
// Use defer to ensure the session is always released:
//
//	s, err := mgr.Acquire(ctx)
//	if err != nil {
//	    return err
//	}
//	defer mgr.Release(s)
func (m *Manager) Acquire(ctx context.Context) (*Session, error) {
	proc, err := m.pool.acquire(ctx)
	if err != nil {
		return nil, err
	}

	openCtx, cancel := context.WithTimeout(ctx, m.pool.launchTimeout())
	page, err := proc.browser.Context(openCtx).Page(proto.TargetCreateTarget{URL: "about:blank"})
	cancel()
	if err != nil {
		m.pool.release(proc)
		return nil, fmt.Errorf("%w: open page: %w", types.ErrLaunchFailed, err)
	}

	id, err := security.GenerateID()
	if err != nil {
		id = fmt.Sprintf("%p", page)
	}

	s := &Session{
		ID:        id,
		CreatedAt: time.Now(),
		proc:      proc,
		// Detach the page from the acquire context; every later call
		// supplies its own context.
		page: page.Context(context.Background()),
	}

	log.Debug().Str("session_id", s.ID).Msg("Session acquired")
	return s, nil
}

// Configure sets the page viewport. It must run before navigation.
func (m *Manager) Configure(ctx context.Context, s *Session, v profile.Viewport) error {
	page := s.Page()
	if page == nil {
		return types.ErrSessionUnavailable
	}

	err := page.Context(ctx).SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             v.Width,
		Height:            v.Height,
		DeviceScaleFactor: 1,
		Mobile:            false,
	})
	if err != nil {
		return fmt.Errorf("%w: set viewport: %w", types.ErrSessionUnavailable, err)
	}

	log.Debug().Str("session_id", s.ID).Str("viewport", v.String()).Msg("Viewport configured")
	return nil
}

// Capture exports the full page, not just the viewport, as PNG.
func (m *Manager) Capture(ctx context.Context, s *Session) ([]byte, error) {
	page := s.Page()
	if page == nil {
		return nil, types.ErrSessionUnavailable
	}

	img, err := page.Context(ctx).Screenshot(true, &proto.PageCaptureScreenshot{
		Format:                proto.PageCaptureScreenshotFormatPng,
		CaptureBeyondViewport: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", types.ErrCaptureFailed, err)
	}
	if !bytes.HasPrefix(img, pngSignature) {
		return nil, fmt.Errorf("%w: output is not a PNG image (%d bytes)", types.ErrCaptureFailed, len(img))
	}

	return img, nil
}

// Release runs the session cleanups, closes the page and kills the browser
// process. It is safe to call Release multiple times or on a nil session;
// only the first call has an effect.
func (m *Manager) Release(s *Session) {
	if s == nil || !s.released.CompareAndSwap(false, true) {
		return
	}

	s.runCleanups()

	if s.page != nil {
		ctx, cancel := context.WithTimeout(context.Background(), pageCloseTimeout)
		if err := s.page.Context(ctx).Close(); err != nil {
			log.Debug().Err(err).Str("session_id", s.ID).Msg("Failed to close page during release")
		}
		cancel()
	}

	if s.proc != nil {
		m.pool.release(s.proc)
	}

	log.Debug().
		Str("session_id", s.ID).
		Dur("age", time.Since(s.CreatedAt)).
		Msg("Session released")
}

// isHealthy checks that a warm process still answers CDP calls.
func isHealthy(p *process) bool {
	if p == nil || p.browser == nil {
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := (proto.BrowserGetVersion{}).Call(p.browser.Context(ctx)); err != nil {
		log.Debug().Err(err).Msg("Browser health check failed")
		return false
	}
	return true
}

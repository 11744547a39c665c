// Package navigation loads the capture target into a session: it arms the
// redirect policy and tracker blocking, navigates, and waits until the page
// is network-idle and has a document body.
package navigation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/rs/zerolog/log"

	"github.com/Rorqualx/pagesnap/internal/blocklist"
	"github.com/Rorqualx/pagesnap/internal/browser"
	"github.com/Rorqualx/pagesnap/internal/config"
	"github.com/Rorqualx/pagesnap/internal/metrics"
	"github.com/Rorqualx/pagesnap/internal/security"
	"github.com/Rorqualx/pagesnap/internal/types"
)

// listenerStopTimeout bounds waiting for an event listener goroutine to exit.
const listenerStopTimeout = 5 * time.Second

// Options are the navigation bounds.
type Options struct {
	NavigationTimeout   time.Duration
	ContentReadyTimeout time.Duration
	IdleWindow          time.Duration
	IdleMaxInflight     int
}

// OptionsFromConfig extracts navigation options from the application config.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		NavigationTimeout:   cfg.NavigationTimeout,
		ContentReadyTimeout: cfg.ContentReadyTimeout,
		IdleWindow:          cfg.NetworkIdleWindow,
		IdleMaxInflight:     cfg.NetworkIdleMaxInflight,
	}
}

// Controller navigates sessions. It is safe for concurrent use; all
// per-capture state lives with the session.
type Controller struct {
	opts      Options
	blocklist *blocklist.Manager

	guards sync.Map // session ID -> *RedirectGuard
}

// NewController creates a navigation controller. A nil blocklist disables
// tracker blocking.
func NewController(opts Options, bl *blocklist.Manager) *Controller {
	return &Controller{opts: opts, blocklist: bl}
}

// ArmRedirectPolicy installs request interception on s. With follow set and
// tracker blocking disabled nothing is armed. The listener is owned by the
// session and torn down when it is released.
func (c *Controller) ArmRedirectPolicy(ctx context.Context, s *browser.Session, follow bool) error {
	page := s.Page()
	if page == nil {
		return types.ErrSessionUnavailable
	}
	if follow && c.blocklist == nil {
		return nil
	}

	var blocks func(string) bool
	if c.blocklist != nil {
		bl := c.blocklist
		blocks = func(u string) bool { return bl.Get().BlocksURL(u) }
	}

	patterns := []*proto.FetchRequestPattern{
		{URLPattern: "*", RequestStage: proto.FetchRequestStageRequest},
	}
	if !follow {
		patterns = append(patterns, &proto.FetchRequestPattern{
			URLPattern:   "*",
			ResourceType: proto.NetworkResourceTypeDocument,
			RequestStage: proto.FetchRequestStageResponse,
		})
	}

	if err := (proto.FetchEnable{Patterns: patterns}).Call(page.Context(ctx)); err != nil {
		return fmt.Errorf("%w: enable request interception: %w", types.ErrSessionUnavailable, err)
	}

	guard := NewRedirectGuard(follow, blocks)
	guard.Arm()
	c.guards.Store(s.ID, guard)

	stop := listen(page, func(p *rod.Page) func() {
		return p.EachEvent(func(e *proto.FetchRequestPaused) {
			c.handlePaused(p, guard, e)
		})
	})

	s.AddCleanup(func() {
		stop()
		c.guards.Delete(s.ID)
		aborted, pinned, blocked := guard.Counts()
		log.Debug().
			Str("session_id", s.ID).
			Int("aborted", aborted).
			Int("pinned", pinned).
			Int("blocked", blocked).
			Msg("Request interception stopped")
	})

	log.Debug().
		Str("session_id", s.ID).
		Bool("follow_redirects", follow).
		Bool("block_trackers", c.blocklist != nil).
		Msg("Redirect policy armed")
	return nil
}

// handlePaused applies the guard's decision to one paused request.
// Errors are ignored: the request may have been canceled or the page closed.
func (c *Controller) handlePaused(p *rod.Page, guard *RedirectGuard, e *proto.FetchRequestPaused) {
	req := Request{
		NetworkID: string(e.NetworkID),
		TopLevel:  e.ResourceType == proto.NetworkResourceTypeDocument && e.FrameID == p.FrameID,
	}
	if e.Request != nil {
		req.URL = e.Request.URL
	}

	if e.ResponseStatusCode != nil || e.ResponseErrorReason != "" {
		status := 0
		if e.ResponseStatusCode != nil {
			status = *e.ResponseStatusCode
		}
		if guard.OnResponse(req, status) == Pin {
			metrics.RedirectsAborted.Inc()
			log.Debug().
				Int("status", status).
				Str("url", security.RedactURL(req.URL)).
				Msg("Redirect response pinned")
			_ = proto.FetchFulfillRequest{
				RequestID:       e.RequestID,
				ResponseCode:    status,
				ResponseHeaders: withoutLocation(e.ResponseHeaders),
				Body:            []byte{},
			}.Call(p)
			return
		}
		_ = proto.FetchContinueRequest{RequestID: e.RequestID}.Call(p)
		return
	}

	switch guard.OnRequest(req) {
	case Abort:
		metrics.RedirectsAborted.Inc()
		log.Debug().Str("url", security.RedactURL(req.URL)).Msg("Top-level navigation aborted")
		_ = proto.FetchFailRequest{
			RequestID:   e.RequestID,
			ErrorReason: proto.NetworkErrorReasonAborted,
		}.Call(p)
	case Block:
		metrics.RequestsBlocked.Inc()
		_ = proto.FetchFailRequest{
			RequestID:   e.RequestID,
			ErrorReason: proto.NetworkErrorReasonBlockedByClient,
		}.Call(p)
	default:
		_ = proto.FetchContinueRequest{RequestID: e.RequestID}.Call(p)
	}
}

// withoutLocation copies response headers, dropping Location.
func withoutLocation(headers []*proto.FetchHeaderEntry) []*proto.FetchHeaderEntry {
	out := make([]*proto.FetchHeaderEntry, 0, len(headers))
	for _, h := range headers {
		if h == nil || strings.EqualFold(h.Name, "Location") {
			continue
		}
		out = append(out, h)
	}
	return out
}

// Navigate loads url in s and waits until the page is network-idle and its
// <body> exists.
//
// The navigation bound covers Page.navigate and the idle wait; content
// readiness has its own bound starting when the page goes idle. Expiry of
// either cancels the in-flight CDP call.
func (c *Controller) Navigate(ctx context.Context, s *browser.Session, url string) error {
	page := s.Page()
	if page == nil {
		return types.ErrSessionUnavailable
	}

	start := time.Now()
	navCtx, cancel := context.WithTimeout(ctx, c.opts.NavigationTimeout)
	defer cancel()

	tracker := newIdleTracker(c.opts.IdleMaxInflight, c.opts.IdleWindow)
	stop := listen(page, func(p *rod.Page) func() {
		return p.EachEvent(
			func(e *proto.NetworkRequestWillBeSent) {
				if e.Request != nil {
					tracker.started(string(e.RequestID), e.Request.URL)
				}
			},
			func(e *proto.NetworkLoadingFinished) { tracker.finished(string(e.RequestID)) },
			func(e *proto.NetworkLoadingFailed) { tracker.finished(string(e.RequestID)) },
		)
	})
	defer stop()

	// The idle tracker is fed by Network events only.
	if err := (proto.NetworkEnable{}).Call(page.Context(navCtx)); err != nil {
		return navigationError(navCtx, "enable network events", err)
	}

	res, err := proto.PageNavigate{URL: url}.Call(page.Context(navCtx))
	if err != nil {
		return navigationError(navCtx, "navigate", err)
	}
	if res.ErrorText != "" && !c.abortedByGuard(s.ID, res.ErrorText) {
		return fmt.Errorf("%w: %s", types.ErrNavigationFailed, res.ErrorText)
	}

	tracker.reset()
	if err := tracker.wait(navCtx); err != nil {
		return navigationError(navCtx, "wait for network idle", err)
	}

	log.Debug().
		Str("session_id", s.ID).
		Dur("elapsed", time.Since(start)).
		Int("inflight", tracker.inflightCount()).
		Msg("Page reached network idle")

	readyCtx, cancelReady := context.WithTimeout(ctx, c.opts.ContentReadyTimeout)
	defer cancelReady()
	if _, err := page.Context(readyCtx).Element("body"); err != nil {
		if ctx.Err() != nil && !errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("wait for body: %w", ctx.Err())
		}
		return fmt.Errorf("%w: %w", types.ErrContentNotReady, err)
	}

	return nil
}

// abortedByGuard reports whether a navigation error was caused by our own
// redirect guard rather than by the target.
func (c *Controller) abortedByGuard(sessionID, errorText string) bool {
	if !strings.Contains(errorText, "ERR_ABORTED") {
		return false
	}
	v, ok := c.guards.Load(sessionID)
	return ok && v.(*RedirectGuard).Aborted()
}

// navigationError maps a failure during the navigation bound. Any deadline
// is a navigation timeout; cancellation is passed through.
func navigationError(ctx context.Context, phase string, err error) error {
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded), errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %s: %w", types.ErrNavigationTimeout, phase, context.DeadlineExceeded)
	case ctx.Err() != nil:
		return fmt.Errorf("%s: %w", phase, ctx.Err())
	default:
		return fmt.Errorf("%w: %s: %w", types.ErrNavigationFailed, phase, err)
	}
}

// listen subscribes to page events with a private context and returns a
// stop function that cancels the subscription and waits, bounded, for the
// listener goroutine to exit. stop is safe to call more than once.
func listen(page *rod.Page, subscribe func(p *rod.Page) (wait func())) (stop func()) {
	ctx, cancel := context.WithCancel(context.Background())
	p := page.Context(ctx)

	// EachEvent subscribes before returning, so no event after this point is missed.
	wait := subscribe(p)

	done := make(chan struct{})
	go func() {
		defer close(done)
		defer func() {
			if r := recover(); r != nil {
				log.Error().Interface("panic", r).Msg("Recovered from panic in page event listener")
			}
		}()
		wait()
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			select {
			case <-done:
			case <-time.After(listenerStopTimeout):
				log.Warn().Msg("Timeout waiting for page event listener to stop")
			}
		})
	}
}

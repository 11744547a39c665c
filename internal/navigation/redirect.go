package navigation

import (
	"sync"
)

// State is the position of a RedirectGuard in its state machine.
type State int

// Guard states. A guard starts Idle, becomes Intercepting once armed, and
// after each intercepted request settles in Aborted or Continuing.
const (
	StateIdle State = iota
	StateIntercepting
	StateAborted
	StateContinuing
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateIntercepting:
		return "Intercepting"
	case StateAborted:
		return "Aborted"
	case StateContinuing:
		return "Continuing"
	default:
		return "Unknown"
	}
}

// Decision is what the interception listener does with a paused request.
type Decision int

const (
	// Continue lets the request or response through unmodified.
	Continue Decision = iota
	// Abort fails the request with net::ERR_ABORTED.
	Abort
	// Block fails the request with net::ERR_BLOCKED_BY_CLIENT.
	Block
	// Pin fulfills a redirect response in place, without its Location header.
	Pin
)

// Request is the subset of a paused request the guard decides on.
type Request struct {
	// NetworkID is stable across the request and response stages.
	NetworkID string
	URL       string
	// TopLevel is true for Document requests in the page's main frame.
	TopLevel bool
}

// RedirectGuard decides, per intercepted request, whether a capture may
// leave the URL it was asked for. With follow disabled only the first
// top-level document request is allowed; every later top-level navigation
// is aborted and a 3xx answer to the first one is pinned.
//
// Sub-resources are never affected by the redirect policy, but are failed
// when blocks reports their URL as a tracker.
type RedirectGuard struct {
	follow bool
	blocks func(url string) bool

	mu         sync.Mutex
	state      State
	firstDocID string
	sawDoc     bool
	aborted    int
	pinned     int
	blocked    int
}

// NewRedirectGuard creates an unarmed guard. blocks may be nil.
func NewRedirectGuard(follow bool, blocks func(url string) bool) *RedirectGuard {
	return &RedirectGuard{follow: follow, blocks: blocks}
}

// Arm moves the guard from Idle to Intercepting.
func (g *RedirectGuard) Arm() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state == StateIdle {
		g.state = StateIntercepting
	}
}

// OnRequest decides a request-stage interception.
func (g *RedirectGuard) OnRequest(r Request) Decision {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.state == StateIdle {
		return Continue
	}

	if !r.TopLevel {
		if g.blocks != nil && g.blocks(r.URL) {
			g.blocked++
			return Block
		}
		g.state = StateContinuing
		return Continue
	}

	if !g.sawDoc {
		g.sawDoc = true
		g.firstDocID = r.NetworkID
		g.state = StateContinuing
		return Continue
	}
	if g.follow {
		g.state = StateContinuing
		return Continue
	}

	g.state = StateAborted
	g.aborted++
	return Abort
}

// OnResponse decides a response-stage interception of a top-level document.
func (g *RedirectGuard) OnResponse(r Request, status int) Decision {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.state == StateIdle || g.follow || !r.TopLevel {
		return Continue
	}
	if r.NetworkID != g.firstDocID || !isRedirect(status) {
		return Continue
	}

	g.state = StateAborted
	g.pinned++
	return Pin
}

// State returns the current state.
func (g *RedirectGuard) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Aborted reports whether the guard aborted or pinned any navigation.
func (g *RedirectGuard) Aborted() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.aborted > 0 || g.pinned > 0
}

// Counts returns how many requests were aborted, pinned and blocked.
func (g *RedirectGuard) Counts() (aborted, pinned, blocked int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.aborted, g.pinned, g.blocked
}

// isRedirect reports whether status makes Chrome follow a Location header.
func isRedirect(status int) bool {
	switch status {
	case 301, 302, 303, 307, 308:
		return true
	}
	return false
}

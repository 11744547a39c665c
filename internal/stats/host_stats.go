// Package stats tracks per-host capture outcomes.
package stats

import (
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	// maxHosts is the number of hosts tracked before LRU eviction.
	maxHosts = 10000

	// evictionBatchSize is how many hosts are evicted at once.
	evictionBatchSize = 100

	cleanupInterval = 5 * time.Minute
	staleAfter      = 30 * time.Minute
)

// OutcomeOK is the outcome recorded for a successful capture.
const OutcomeOK = "ok"

// HostStats tracks capture statistics for a single host.
type HostStats struct {
	mu sync.RWMutex

	Captures     int64
	Failures     int64
	Outcomes     map[string]int64 // keyed by OutcomeOK or failure kind
	TotalLatency time.Duration
	TotalBytes   int64
	LastOutcome  string
	LastAccess   time.Time
}

// HostStatsJSON is the JSON form of HostStats.
type HostStatsJSON struct {
	Host         string           `json:"host"`
	Captures     int64            `json:"captures"`
	Failures     int64            `json:"failures"`
	Outcomes     map[string]int64 `json:"outcomes"`
	AvgLatencyMs int64            `json:"avgLatencyMs"`
	AvgBytes     int64            `json:"avgBytes"`
	LastOutcome  string           `json:"lastOutcome"`
	LastAccess   time.Time        `json:"lastAccess"`
}

// FailureRate returns the failure rate (0.0-1.0) for this host.
func (s *HostStats) FailureRate() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.Captures == 0 {
		return 0
	}
	return float64(s.Failures) / float64(s.Captures)
}

func (s *HostStats) toJSON(host string) HostStatsJSON {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := HostStatsJSON{
		Host:        host,
		Captures:    s.Captures,
		Failures:    s.Failures,
		Outcomes:    make(map[string]int64, len(s.Outcomes)),
		LastOutcome: s.LastOutcome,
		LastAccess:  s.LastAccess,
	}
	for k, v := range s.Outcomes {
		out.Outcomes[k] = v
	}
	if s.Captures > 0 {
		out.AvgLatencyMs = s.TotalLatency.Milliseconds() / s.Captures
	}
	if ok := s.Captures - s.Failures; ok > 0 {
		out.AvgBytes = s.TotalBytes / ok
	}
	return out
}

// Manager manages statistics for all hosts.
type Manager struct {
	mu    sync.RWMutex
	hosts map[string]*HostStats
	now   func() time.Time

	stopCh    chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewManager creates a host stats manager and starts its stale entry sweep.
func NewManager() *Manager {
	m := newManager(time.Now)
	m.wg.Add(1)
	go m.cleanupRoutine()
	return m
}

func newManager(now func() time.Time) *Manager {
	return &Manager{
		hosts:  make(map[string]*HostStats),
		now:    now,
		stopCh: make(chan struct{}),
	}
}

func (m *Manager) cleanupRoutine() {
	defer m.wg.Done()

	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.cleanupStale(staleAfter)
		case <-m.stopCh:
			return
		}
	}
}

// cleanupStale removes hosts that have not been captured within maxAge.
func (m *Manager) cleanupStale(maxAge time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	var removed int
	for host, s := range m.hosts {
		s.mu.RLock()
		last := s.LastAccess
		s.mu.RUnlock()

		if now.Sub(last) > maxAge {
			delete(m.hosts, host)
			removed++
		}
	}

	if removed > 0 {
		log.Debug().
			Int("removed", removed).
			Int("remaining", len(m.hosts)).
			Msg("Cleaned up stale host stats")
	}
}

// Close stops the background sweep. It is safe to call more than once.
func (m *Manager) Close() {
	m.closeOnce.Do(func() {
		close(m.stopCh)
	})
	m.wg.Wait()
}

// ExtractHost returns the lowercased hostname of rawURL, or "" when it
// has none.
func ExtractHost(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(parsed.Hostname())
}

// Record adds one capture outcome for the host of rawURL. outcome is
// OutcomeOK or a failure kind name; size is only counted on success.
func (m *Manager) Record(rawURL, outcome string, latency time.Duration, size int) {
	host := ExtractHost(rawURL)
	if host == "" {
		return
	}

	s := m.getOrCreate(host)
	s.mu.Lock()
	defer s.mu.Unlock()

	s.Captures++
	if outcome != OutcomeOK {
		s.Failures++
	} else {
		s.TotalBytes += int64(size)
	}
	if s.Outcomes == nil {
		s.Outcomes = make(map[string]int64)
	}
	s.Outcomes[outcome]++
	s.TotalLatency += latency
	s.LastOutcome = outcome
	s.LastAccess = m.now()
}

// Get returns the stats for host, if tracked.
func (m *Manager) Get(host string) (HostStatsJSON, bool) {
	host = strings.ToLower(host)
	m.mu.RLock()
	s, ok := m.hosts[host]
	m.mu.RUnlock()
	if !ok {
		return HostStatsJSON{}, false
	}
	return s.toJSON(host), true
}

// Len returns the number of tracked hosts.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.hosts)
}

// Top returns up to limit hosts ordered by capture count, then by host
// name. A limit of zero or less returns every host.
func (m *Manager) Top(limit int) []HostStatsJSON {
	m.mu.RLock()
	out := make([]HostStatsJSON, 0, len(m.hosts))
	for host, s := range m.hosts {
		out = append(out, s.toJSON(host))
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Captures != out[j].Captures {
			return out[i].Captures > out[j].Captures
		}
		return out[i].Host < out[j].Host
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// getOrCreate returns the stats for a host, evicting the least recently
// captured hosts when the table is full.
func (m *Manager) getOrCreate(host string) *HostStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.hosts[host]; ok {
		return s
	}
	if len(m.hosts) >= maxHosts {
		m.evictOldestBatchLocked(evictionBatchSize)
	}
	s := &HostStats{LastAccess: m.now()}
	m.hosts[host] = s
	return s
}

// evictOldestBatchLocked removes the count least recently captured hosts.
// Must be called with m.mu held.
func (m *Manager) evictOldestBatchLocked(count int) {
	if count <= 0 || len(m.hosts) == 0 {
		return
	}
	if len(m.hosts) <= count {
		clear(m.hosts)
		return
	}

	type hostTime struct {
		host string
		last time.Time
	}
	candidates := make([]hostTime, 0, len(m.hosts))
	for host, s := range m.hosts {
		s.mu.RLock()
		candidates = append(candidates, hostTime{host, s.LastAccess})
		s.mu.RUnlock()
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].last.Before(candidates[j].last)
	})
	for _, c := range candidates[:count] {
		delete(m.hosts, c.host)
	}

	log.Debug().Int("evicted", count).Msg("Evicted least recently captured hosts")
}

package captcha

import (
	"sort"
	"sync"
	"time"
)

// Metrics tracks usage statistics for solver providers.
type Metrics struct {
	mu        sync.RWMutex
	providers map[string]*ProviderStats
}

// ProviderStats contains statistics for a single provider.
type ProviderStats struct {
	Attempts    int64     `json:"attempts"`
	Successes   int64     `json:"successes"`
	Failures    int64     `json:"failures"`
	TotalCost   float64   `json:"total_cost"`
	TotalTimeMs int64     `json:"total_time_ms"`
	LastUsed    time.Time `json:"last_used,omitempty"`
	LastBalance float64   `json:"last_balance"`
	LastError   string    `json:"last_error,omitempty"`
	LastErrorAt time.Time `json:"last_error_at,omitempty"`
}

// SuccessRate returns the share of successful attempts in percent.
func (s ProviderStats) SuccessRate() float64 {
	if s.Attempts == 0 {
		return 0
	}
	return float64(s.Successes) / float64(s.Attempts) * 100
}

// AverageTime returns the mean time spent per attempt.
func (s ProviderStats) AverageTime() time.Duration {
	if s.Attempts == 0 {
		return 0
	}
	return time.Duration(s.TotalTimeMs/s.Attempts) * time.Millisecond
}

// Snapshot is a point-in-time copy of all provider statistics.
type Snapshot struct {
	Providers map[string]ProviderStats `json:"providers"`
	Attempts  int64                    `json:"total_attempts"`
	Successes int64                    `json:"total_successes"`
	TotalCost float64                  `json:"total_cost"`
}

// Names returns the provider names in the snapshot, sorted.
func (s Snapshot) Names() []string {
	names := make([]string, 0, len(s.Providers))
	for name := range s.Providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NewMetrics creates a new Metrics instance.
func NewMetrics() *Metrics {
	return &Metrics{
		providers: make(map[string]*ProviderStats),
	}
}

// RecordAttempt records a solve attempt for a provider.
func (m *Metrics) RecordAttempt(provider string, success bool, cost float64, duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := m.getOrCreate(provider)
	stats.Attempts++
	stats.LastUsed = time.Now()
	stats.TotalTimeMs += duration.Milliseconds()

	if success {
		stats.Successes++
		stats.TotalCost += cost
	} else {
		stats.Failures++
	}
}

// RecordError records an error for a provider.
func (m *Metrics) RecordError(provider string, errMsg string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := m.getOrCreate(provider)
	stats.LastError = errMsg
	stats.LastErrorAt = time.Now()
}

// UpdateBalance updates the cached balance for a provider.
func (m *Metrics) UpdateBalance(provider string, balance float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.getOrCreate(provider).LastBalance = balance
}

// Get returns a copy of the stats for provider.
func (m *Metrics) Get(provider string) (ProviderStats, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats, ok := m.providers[provider]
	if !ok {
		return ProviderStats{}, false
	}
	return *stats, true
}

// Snapshot copies all provider stats and their totals.
func (m *Metrics) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snap := Snapshot{Providers: make(map[string]ProviderStats, len(m.providers))}
	for name, stats := range m.providers {
		snap.Providers[name] = *stats
		snap.Attempts += stats.Attempts
		snap.Successes += stats.Successes
		snap.TotalCost += stats.TotalCost
	}
	return snap
}

// Reset clears all metrics.
func (m *Metrics) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.providers = make(map[string]*ProviderStats)
}

// getOrCreate must be called with the lock held.
func (m *Metrics) getOrCreate(provider string) *ProviderStats {
	stats, ok := m.providers[provider]
	if !ok {
		stats = &ProviderStats{}
		m.providers[provider] = stats
	}
	return stats
}

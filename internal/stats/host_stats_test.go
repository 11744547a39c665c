package stats

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestManager() (*Manager, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	return newManager(clock.Now), clock
}

func TestExtractHost(t *testing.T) {
	tests := []struct {
		name   string
		rawURL string
		want   string
	}{
		{"simple url", "https://example.com/page", "example.com"},
		{"url with port", "https://example.com:8080/page", "example.com"},
		{"uppercase host", "https://WWW.Example.COM/", "www.example.com"},
		{"ipv6", "http://[::1]:9000/", "::1"},
		{"no host", "not-a-valid-url", ""},
		{"empty url", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExtractHost(tt.rawURL); got != tt.want {
				t.Errorf("ExtractHost(%q) = %q, want %q", tt.rawURL, got, tt.want)
			}
		})
	}
}

func TestManager_Record(t *testing.T) {
	m, clock := newTestManager()

	m.Record("https://example.com/a", OutcomeOK, 200*time.Millisecond, 1000)
	clock.Advance(time.Second)
	m.Record("https://EXAMPLE.com/b", OutcomeOK, 400*time.Millisecond, 3000)
	clock.Advance(time.Second)
	m.Record("https://example.com/c", "NavigationTimeout", 900*time.Millisecond, 0)

	got, ok := m.Get("example.com")
	if !ok {
		t.Fatal("example.com not tracked")
	}
	want := HostStatsJSON{
		Host:         "example.com",
		Captures:     3,
		Failures:     1,
		Outcomes:     map[string]int64{OutcomeOK: 2, "NavigationTimeout": 1},
		AvgLatencyMs: 500,
		AvgBytes:     2000,
		LastOutcome:  "NavigationTimeout",
		LastAccess:   clock.Now(),
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Get mismatch (-want +got):\n%s", diff)
	}
}

func TestManager_RecordIgnoresHostless(t *testing.T) {
	m, _ := newTestManager()
	m.Record("", OutcomeOK, time.Second, 10)
	m.Record("garbage", "InvalidRequest", time.Second, 0)
	if n := m.Len(); n != 0 {
		t.Errorf("Len() = %d, want 0", n)
	}
}

func TestHostStats_FailureRate(t *testing.T) {
	var s HostStats
	if r := s.FailureRate(); r != 0 {
		t.Errorf("empty FailureRate = %v, want 0", r)
	}
	s.Captures, s.Failures = 4, 1
	if r := s.FailureRate(); r != 0.25 {
		t.Errorf("FailureRate = %v, want 0.25", r)
	}
}

func TestManager_Top(t *testing.T) {
	m, _ := newTestManager()
	for i := 0; i < 3; i++ {
		m.Record("https://b.example/", OutcomeOK, time.Millisecond, 1)
	}
	m.Record("https://a.example/", OutcomeOK, time.Millisecond, 1)
	m.Record("https://c.example/", OutcomeOK, time.Millisecond, 1)

	hosts := func(in []HostStatsJSON) []string {
		out := make([]string, len(in))
		for i, h := range in {
			out[i] = h.Host
		}
		return out
	}

	if diff := cmp.Diff([]string{"b.example", "a.example", "c.example"}, hosts(m.Top(0))); diff != "" {
		t.Errorf("Top(0) mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"b.example", "a.example"}, hosts(m.Top(2))); diff != "" {
		t.Errorf("Top(2) mismatch (-want +got):\n%s", diff)
	}
}

func TestManager_CleanupStale(t *testing.T) {
	m, clock := newTestManager()
	m.Record("https://old.example/", OutcomeOK, time.Millisecond, 1)
	clock.Advance(time.Hour)
	m.Record("https://fresh.example/", OutcomeOK, time.Millisecond, 1)

	m.cleanupStale(30 * time.Minute)

	if _, ok := m.Get("old.example"); ok {
		t.Error("stale host should be removed")
	}
	if _, ok := m.Get("fresh.example"); !ok {
		t.Error("fresh host should be kept")
	}
}

func TestManager_EvictsOldest(t *testing.T) {
	m, clock := newTestManager()
	for i := 0; i < maxHosts; i++ {
		m.Record(fmt.Sprintf("https://h%05d.example/", i), OutcomeOK, time.Millisecond, 1)
		clock.Advance(time.Millisecond)
	}
	m.Record("https://new.example/", OutcomeOK, time.Millisecond, 1)

	if got, want := m.Len(), maxHosts-evictionBatchSize+1; got != want {
		t.Errorf("Len() = %d, want %d", got, want)
	}
	if _, ok := m.Get("h00000.example"); ok {
		t.Error("oldest host should be evicted")
	}
	if _, ok := m.Get(fmt.Sprintf("h%05d.example", evictionBatchSize)); !ok {
		t.Error("host after the evicted batch should be kept")
	}
	if _, ok := m.Get("new.example"); !ok {
		t.Error("new host missing")
	}
}

func TestManager_Concurrent(t *testing.T) {
	m, _ := newTestManager()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				m.Record("https://example.com/", OutcomeOK, time.Millisecond, 10)
				_ = m.Top(5)
			}
		}()
	}
	wg.Wait()

	got, _ := m.Get("example.com")
	if got.Captures != 800 {
		t.Errorf("Captures = %d, want 800", got.Captures)
	}
}

func TestManager_CloseIdempotent(t *testing.T) {
	m := NewManager()
	m.Close()
	m.Close()
}

func TestHostStatsJSON_OutcomesCopied(t *testing.T) {
	m, _ := newTestManager()
	m.Record("https://example.com/", OutcomeOK, time.Millisecond, 1)
	got, _ := m.Get("example.com")
	got.Outcomes[OutcomeOK] = 99

	again, _ := m.Get("example.com")
	if diff := cmp.Diff(map[string]int64{OutcomeOK: 1}, again.Outcomes, cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("snapshot aliased internal map (-want +got):\n%s", diff)
	}
}

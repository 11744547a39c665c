package blocklist

import (
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// debounceDelay coalesces the burst of events editors emit on save.
const debounceDelay = 100 * time.Millisecond

// ReloadStats contains statistics about blocklist reloads.
type ReloadStats struct {
	LastReloadTime time.Time `json:"lastReloadTime,omitempty"`
	ReloadCount    int64     `json:"reloadCount"`
	Domains        int       `json:"domains"`
	LastError      error     `json:"-"`
	LastErrorStr   string    `json:"lastError,omitempty"`
}

// Manager provides a hot-reload capable blocklist.
// It holds the embedded defaults and optionally watches an external file
// whose entries extend (or replace) them. Reads are lock-free.
type Manager struct {
	embedded     *List
	current      atomic.Value // *List
	externalPath string
	watcher      *fsnotify.Watcher
	stopCh       chan struct{}
	wg           sync.WaitGroup
	mu           sync.Mutex // serializes reloads and guards stats
	stats        ReloadStats
	closed       bool

	debounceMu    sync.Mutex
	debounceTimer *time.Timer
}

// NewManager creates a blocklist Manager.
// If externalPath is empty, only the embedded list is used.
// If hotReload is true and externalPath is set, file changes trigger reloads.
// A missing or invalid external file is logged and the embedded list is kept.
func NewManager(externalPath string, hotReload bool) (*Manager, error) {
	m := &Manager{
		embedded:     Default(),
		externalPath: externalPath,
		stopCh:       make(chan struct{}),
	}
	m.current.Store(m.embedded)

	if externalPath == "" {
		return m, nil
	}

	if err := m.Reload(); err != nil {
		log.Warn().
			Err(err).
			Str("path", externalPath).
			Msg("Failed to load external blocklist, using embedded defaults")
	} else {
		log.Info().
			Str("path", externalPath).
			Int("domains", m.Get().Len()).
			Msg("Loaded external blocklist")
	}

	if hotReload {
		if err := m.startWatcher(); err != nil {
			log.Warn().
				Err(err).
				Str("path", externalPath).
				Msg("Failed to start file watcher, hot-reload disabled")
		} else {
			log.Info().Str("path", externalPath).Msg("Hot-reload enabled for blocklist")
		}
	}

	return m, nil
}

// Static returns a Manager that serves only the embedded list.
func Static() *Manager {
	m := &Manager{
		embedded: Default(),
		stopCh:   make(chan struct{}),
	}
	m.current.Store(m.embedded)
	return m
}

// Get returns the current List. Safe for concurrent use.
func (m *Manager) Get() *List {
	return m.current.Load().(*List)
}

// Reload re-reads the external file. On failure the previous list stays in use.
func (m *Manager) Reload() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.externalPath == "" {
		return fmt.Errorf("no external blocklist path configured")
	}

	data, err := os.ReadFile(m.externalPath)
	if err != nil {
		m.stats.LastError = err
		return fmt.Errorf("failed to read blocklist file: %w", err)
	}

	external, err := Parse(data)
	if err != nil {
		m.stats.LastError = err
		return fmt.Errorf("failed to parse blocklist file: %w", err)
	}

	merged := merge(m.embedded, external)
	m.current.Store(merged)

	m.stats.LastReloadTime = time.Now()
	m.stats.ReloadCount++
	m.stats.LastError = nil

	log.Debug().
		Int64("reload_count", m.stats.ReloadCount).
		Int("domains", merged.Len()).
		Msg("Blocklist reloaded")
	return nil
}

// Stats returns the current reload statistics.
func (m *Manager) Stats() ReloadStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := m.stats
	stats.Domains = m.Get().Len()
	if stats.LastError != nil {
		stats.LastErrorStr = stats.LastError.Error()
	}
	return stats
}

// Close stops the file watcher. Safe to call multiple times.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	close(m.stopCh)
	m.wg.Wait()

	m.debounceMu.Lock()
	if m.debounceTimer != nil {
		m.debounceTimer.Stop()
	}
	m.debounceMu.Unlock()

	if m.watcher != nil {
		return m.watcher.Close()
	}
	return nil
}

func (m *Manager) startWatcher() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := watcher.Add(m.externalPath); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch file: %w", err)
	}
	m.watcher = watcher

	m.wg.Add(1)
	go m.watchFile()
	return nil
}

func (m *Manager) watchFile() {
	defer m.wg.Done()

	for {
		select {
		case event, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			log.Debug().
				Str("event", event.Op.String()).
				Str("file", event.Name).
				Msg("Blocklist file changed")
			m.scheduleReload()

		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			log.Warn().Err(err).Msg("File watcher error")

		case <-m.stopCh:
			return
		}
	}
}

// scheduleReload (re)arms the debounce timer.
func (m *Manager) scheduleReload() {
	m.debounceMu.Lock()
	defer m.debounceMu.Unlock()

	if m.debounceTimer != nil {
		m.debounceTimer.Reset(debounceDelay)
		return
	}
	m.debounceTimer = time.AfterFunc(debounceDelay, func() {
		select {
		case <-m.stopCh:
			return
		default:
		}
		if err := m.Reload(); err != nil {
			log.Warn().
				Err(err).
				Str("path", m.externalPath).
				Msg("Hot-reload failed, keeping previous blocklist")
		}
	})
}

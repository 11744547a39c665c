package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Rorqualx/pagesnap/internal/blocklist"
	"github.com/Rorqualx/pagesnap/internal/browser"
	"github.com/Rorqualx/pagesnap/internal/captcha"
	"github.com/Rorqualx/pagesnap/internal/config"
	"github.com/Rorqualx/pagesnap/internal/navigation"
	"github.com/Rorqualx/pagesnap/internal/stats"
)

// Service is an Engine wired to real browsers, plus the long-lived
// resources it owns.
type Service struct {
	*Engine

	pool      *browser.Pool
	blocklist *blocklist.Manager
	solver    *captcha.SolverChain
	hosts     *stats.Manager
	balances  *balanceRefresher
}

const (
	// balanceRefreshInterval is how often solver balances are re-read.
	balanceRefreshInterval = 10 * time.Minute

	// balanceRefreshTimeout bounds one pass over the providers.
	balanceRefreshTimeout = 30 * time.Second
)

// balanceRefresher calls refresh once at start and then on every tick
// until stopped.
type balanceRefresher struct {
	refresh  func(context.Context)
	interval time.Duration

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func startBalanceRefresher(refresh func(context.Context), interval time.Duration) *balanceRefresher {
	r := &balanceRefresher{
		refresh:  refresh,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
	r.wg.Add(1)
	go r.run()
	return r
}

func (r *balanceRefresher) run() {
	defer r.wg.Done()

	r.once()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.once()
		case <-r.stopCh:
			return
		}
	}
}

// once runs a single refresh that Stop can interrupt.
func (r *balanceRefresher) once() {
	ctx, cancel := context.WithTimeout(context.Background(), balanceRefreshTimeout)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		select {
		case <-r.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	r.refresh(ctx)
	cancel()
	<-done
}

// Stop ends the refresh loop and waits for it to exit.
func (r *balanceRefresher) Stop() {
	if r == nil {
		return
	}
	r.stopOnce.Do(func() {
		close(r.stopCh)
	})
	r.wg.Wait()
}

// NewService builds the browser pool, the evasion bundle, the navigation
// controller (with the tracker blocklist when enabled) and the optional
// reCAPTCHA solver chain from cfg.
func NewService(cfg *config.Config) (*Service, error) {
	var bl *blocklist.Manager
	if cfg.BlockTrackers {
		m, err := blocklist.NewManager(cfg.BlocklistPath, cfg.BlocklistHotReload)
		if err != nil {
			return nil, fmt.Errorf("failed to load blocklist: %w", err)
		}
		bl = m
		log.Info().
			Int("domains", bl.Stats().Domains).
			Str("path", cfg.BlocklistPath).
			Bool("hot_reload", cfg.BlocklistHotReload).
			Msg("Tracker blocking enabled")
	}

	pool, err := browser.NewPool(cfg)
	if err != nil {
		if bl != nil {
			_ = bl.Close()
		}
		return nil, err
	}

	hosts := stats.NewManager()
	evasion := browser.NewEvasion(cfg.UserAgent)
	deps := Deps{
		Sessions:  browser.NewManager(pool),
		Evasion:   evasion,
		Navigator: navigation.NewController(navigation.OptionsFromConfig(cfg), bl),
		Hosts:     hosts,
	}

	chain := captcha.FromConfig(cfg)
	var balances *balanceRefresher
	if chain != nil {
		deps.Solver = chain
		balances = startBalanceRefresher(chain.RefreshBalances, balanceRefreshInterval)
		log.Info().Msg("reCAPTCHA solving enabled")
	}

	return &Service{
		Engine:    NewEngine(deps, cfg.CaptureTimeout),
		pool:      pool,
		blocklist: bl,
		solver:    chain,
		hosts:     hosts,
		balances:  balances,
	}, nil
}

// PoolStats returns the browser pool counters.
func (s *Service) PoolStats() browser.PoolStatsSnapshot {
	return s.pool.Stats()
}

// PoolUsage returns the configured maximum and the current live and warm
// process counts.
func (s *Service) PoolUsage() (maxBrowsers, live, warm int) {
	return s.pool.Size(), s.pool.Live(), s.pool.Warm()
}

// SolverStats returns per-provider reCAPTCHA usage, empty when solving is off.
func (s *Service) SolverStats() captcha.Snapshot {
	return s.solver.Stats()
}

// BlocklistStats returns the tracker blocklist reload state. ok is false
// when tracker blocking is off.
func (s *Service) BlocklistStats() (stats blocklist.ReloadStats, ok bool) {
	if s.blocklist == nil {
		return blocklist.ReloadStats{}, false
	}
	return s.blocklist.Stats(), true
}

// HostStats returns per-host capture outcomes, busiest hosts first.
func (s *Service) HostStats(limit int) []stats.HostStatsJSON {
	return s.hosts.Top(limit)
}

// Close stops the background refreshers, shuts down the pool and stops
// the blocklist watcher.
func (s *Service) Close() error {
	s.balances.Stop()
	s.hosts.Close()

	var errs []error
	if err := s.pool.Close(); err != nil {
		errs = append(errs, err)
	}
	if s.blocklist != nil {
		if err := s.blocklist.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

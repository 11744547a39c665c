// Package browser owns the browser processes used for captures: a bounded
// pool of isolated Chromium processes, the per-capture Session wrapping one
// process and one page, and the evasion bundle applied to a session before
// navigation.
package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/Rorqualx/pagesnap/internal/config"
	"github.com/Rorqualx/pagesnap/internal/metrics"
	"github.com/Rorqualx/pagesnap/internal/types"
)

// closeTimeout bounds how long a release waits for a hung browser to close.
const closeTimeout = 10 * time.Second

// Pool bounds the number of browser processes held by captures and keeps a
// few warm spare processes ready to hand out.
//
// Processes are never reused: every process handed out by acquire is
// killed by release, and a background refill launches a replacement spare.
// At most MaxBrowsers processes are held at once; up to WarmBrowsers idle
// spares exist on top of that.
type Pool struct {
	config *config.Config
	sem    *semaphore.Weighted
	warm   chan *process
	closed atomic.Bool

	// Stop channel for graceful shutdown of background goroutines
	stopCh chan struct{}

	// WaitGroup to track refill goroutines for clean shutdown
	wg        sync.WaitGroup
	refilling atomic.Bool

	// Tracks processes currently held by captures
	live atomic.Int32

	// Counts browser closes that exceeded closeTimeout
	leakedCloses atomic.Int32

	// Hooks for process lifecycle; replaced in tests.
	spawn   func(ctx context.Context) (*process, error)
	destroy func(p *process) bool
	healthy func(p *process) bool

	stats PoolStats
}

// PoolStats provides statistics about pool usage.
type PoolStats struct {
	Acquired      atomic.Int64
	Released      atomic.Int64
	Launched      atomic.Int64
	LaunchErrors  atomic.Int64
	CapacityWaits atomic.Int64 // acquisitions rejected with ErrCapacityExceeded
}

// NewPool creates a pool that launches real browser processes. It pre-warms
// the configured number of spares and blocks until they are ready.
// If any spare fails to launch, the pool is cleaned up and an error is returned.
func NewPool(cfg *config.Config) (*Pool, error) {
	log.Info().
		Int("max_browsers", cfg.MaxBrowsers).
		Int("warm_browsers", cfg.WarmBrowsers).
		Bool("headless", cfg.Headless).
		Str("browser_path", cfg.BrowserPath).
		Msg("Initializing browser pool")

	p := newPool(cfg, func(ctx context.Context) (*process, error) {
		return launchProcess(ctx, cfg)
	}, func(proc *process) bool {
		return killProcess(proc, closeTimeout)
	})
	p.healthy = isHealthy

	if err := p.prewarm(); err != nil {
		if closeErr := p.Close(); closeErr != nil {
			log.Error().Err(closeErr).Msg("Failed to close pool during cleanup")
		}
		return nil, err
	}

	log.Info().Int("warm", len(p.warm)).Msg("Browser pool initialized successfully")
	return p, nil
}

func newPool(cfg *config.Config, spawn func(context.Context) (*process, error), destroy func(*process) bool) *Pool {
	p := &Pool{
		config:  cfg,
		sem:     semaphore.NewWeighted(int64(cfg.MaxBrowsers)),
		warm:    make(chan *process, max(cfg.WarmBrowsers, 0)),
		stopCh:  make(chan struct{}),
		spawn:   spawn,
		destroy: destroy,
		healthy: func(*process) bool { return true },
	}
	metrics.UpdatePoolMetrics(cfg.MaxBrowsers, 0, 0)
	return p
}

// prewarm launches the configured number of spares synchronously. Each
// launch is bounded by the launch timeout.
func (p *Pool) prewarm() error {
	for i := 0; i < cap(p.warm); i++ {
		proc, err := p.launch(context.Background())
		if err != nil {
			log.Error().Err(err).Int("browser_index", i).Msg("Failed to spawn browser during pool initialization")
			return fmt.Errorf("warm browser %d: %w", i, err)
		}
		p.warm <- proc
		log.Debug().Int("browser_index", i).Msg("Warm browser spawned")
	}
	p.updateMetrics()
	return nil
}

// launchTimeout returns the bound on a single process start.
func (p *Pool) launchTimeout() time.Duration {
	if p.config.LaunchTimeout > 0 {
		return p.config.LaunchTimeout
	}
	return config.DefaultLaunchTimeout
}

// launch spawns one process under the launch timeout and records the
// attempt. A process that does not start in time is killed and reported as
// ErrLaunchFailed. If ctx itself ends first, ctx's error is returned.
func (p *Pool) launch(ctx context.Context) (*process, error) {
	timeout := p.launchTimeout()
	launchCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	proc, err := p.spawn(launchCtx)
	if err != nil {
		p.stats.LaunchErrors.Add(1)
		metrics.RecordLaunch(false)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if launchCtx.Err() != nil {
			return nil, fmt.Errorf("%w: browser did not start within %s", types.ErrLaunchFailed, timeout)
		}
		if errors.Is(err, types.ErrLaunchFailed) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", types.ErrLaunchFailed, err)
	}
	p.stats.Launched.Add(1)
	metrics.RecordLaunch(true)
	return proc, nil
}

// acquire obtains a browser process for exclusive use.
// It waits at most AcquireTimeout for a free slot, then fails with
// ErrCapacityExceeded. A warm spare is used when one is healthy; otherwise
// a fresh process is launched. Launch failure returns ErrLaunchFailed.
//
// The caller MUST call release exactly once for every successful acquire.
func (p *Pool) acquire(ctx context.Context) (*process, error) {
	if p.closed.Load() {
		return nil, types.ErrBrowserPoolClosed
	}

	waitCtx, cancel := context.WithTimeout(ctx, p.config.AcquireTimeout)
	err := p.sem.Acquire(waitCtx, 1)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %v", types.ErrContextCanceled, ctx.Err())
		}
		p.stats.CapacityWaits.Add(1)
		metrics.CapacityRejections.Inc()
		log.Warn().
			Int("max_browsers", p.config.MaxBrowsers).
			Dur("waited", p.config.AcquireTimeout).
			Msg("No browser slot freed up in time")
		return nil, types.ErrCapacityExceeded
	}

	// Slot held from here: every failure path below must give it back.
	if p.closed.Load() {
		p.sem.Release(1)
		return nil, types.ErrBrowserPoolClosed
	}

	proc := p.takeSpare()
	if proc == nil {
		proc, err = p.launch(ctx)
		if err != nil {
			p.sem.Release(1)
			p.refill()
			if ctx.Err() != nil {
				return nil, fmt.Errorf("%w: %v", types.ErrContextCanceled, ctx.Err())
			}
			return nil, err
		}
	}

	p.live.Add(1)
	p.stats.Acquired.Add(1)
	p.updateMetrics()
	p.refill()

	log.Debug().
		Int64("total_acquired", p.stats.Acquired.Load()).
		Int32("live", p.live.Load()).
		Msg("Browser acquired from pool")
	return proc, nil
}

// takeSpare returns a healthy warm spare, or nil if none is ready.
// Unhealthy spares are destroyed in the background.
func (p *Pool) takeSpare() *process {
	for {
		select {
		case proc, ok := <-p.warm:
			if !ok || proc == nil {
				return nil
			}
			if p.healthy(proc) {
				return proc
			}
			log.Warn().Msg("Warm browser failed health check, discarding")
			p.destroyAsync(proc)
		default:
			return nil
		}
	}
}

// release kills a process obtained from acquire and frees its slot.
// The browser close is bounded; the slot is freed even if the close hangs.
func (p *Pool) release(proc *process) {
	if proc == nil {
		return
	}

	if !p.destroy(proc) {
		leaked := p.leakedCloses.Add(1)
		log.Warn().
			Int32("leaked_count", leaked).
			Msg("Browser close timed out - process killed without a clean close")
	}

	p.live.Add(-1)
	p.stats.Released.Add(1)
	p.sem.Release(1)
	p.updateMetrics()
	p.refill()

	log.Debug().
		Int64("total_released", p.stats.Released.Load()).
		Msg("Browser released")
}

// destroyAsync kills a process off the caller's path.
func (p *Pool) destroyAsync(proc *process) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.destroy(proc)
	}()
}

// refill starts a background goroutine that tops up the warm spares.
// At most one refill runs at a time.
func (p *Pool) refill() {
	if p.closed.Load() || cap(p.warm) == 0 || len(p.warm) >= cap(p.warm) {
		return
	}
	if !p.refilling.CompareAndSwap(false, true) {
		return
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer p.refilling.Store(false)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go func() {
			select {
			case <-p.stopCh:
				cancel()
			case <-ctx.Done():
			}
		}()

		for !p.closed.Load() && len(p.warm) < cap(p.warm) {
			proc, err := p.launch(ctx)
			if err != nil {
				log.Error().Err(err).Msg("Failed to spawn warm browser")
				return
			}
			if !p.offerSpare(proc) {
				p.destroy(proc)
				return
			}
			p.updateMetrics()
		}
	}()
}

// offerSpare adds a process to the warm spares if the pool is open and has room.
// Only refill goroutines call it; Close waits for them before closing warm.
func (p *Pool) offerSpare(proc *process) bool {
	if p.closed.Load() {
		return false
	}
	select {
	case p.warm <- proc:
		return true
	default:
		return false
	}
}

func (p *Pool) updateMetrics() {
	metrics.UpdatePoolMetrics(p.config.MaxBrowsers, int(p.live.Load()), len(p.warm))
}

// Size returns the configured maximum number of browsers held at once.
func (p *Pool) Size() int {
	return p.config.MaxBrowsers
}

// Live returns the number of processes currently held by captures.
func (p *Pool) Live() int {
	return int(p.live.Load())
}

// Warm returns the number of idle spare processes.
func (p *Pool) Warm() int {
	if p.closed.Load() {
		return 0
	}
	return len(p.warm)
}

// PoolStatsSnapshot holds a point-in-time snapshot of pool statistics.
type PoolStatsSnapshot struct {
	Acquired      int64
	Released      int64
	Launched      int64
	LaunchErrors  int64
	CapacityWaits int64
	LeakedCloses  int32
}

// Stats returns a snapshot of the current pool statistics.
func (p *Pool) Stats() PoolStatsSnapshot {
	return PoolStatsSnapshot{
		Acquired:      p.stats.Acquired.Load(),
		Released:      p.stats.Released.Load(),
		Launched:      p.stats.Launched.Load(),
		LaunchErrors:  p.stats.LaunchErrors.Load(),
		CapacityWaits: p.stats.CapacityWaits.Load(),
		LeakedCloses:  p.leakedCloses.Load(),
	}
}

// Close shuts down the pool and kills the warm spares. Processes still held
// by captures are killed by their own release.
// After Close is called, acquire returns ErrBrowserPoolClosed.
//
// Close is safe to call multiple times.
func (p *Pool) Close() error {
	if p.closed.Swap(true) {
		return nil
	}

	log.Info().Msg("Closing browser pool")

	// Signal background goroutines to stop immediately
	close(p.stopCh)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		log.Debug().Msg("Background goroutines stopped")
	case <-time.After(30 * time.Second):
		log.Warn().Msg("Timeout waiting for background goroutines to stop")
	}

	close(p.warm)

	// Kill spares in parallel, up to 4 at a time.
	eg := new(errgroup.Group)
	eg.SetLimit(4)
	for proc := range p.warm {
		eg.Go(func() error {
			if !p.destroy(proc) {
				return errors.New("browser close timed out during pool shutdown")
			}
			return nil
		})
	}
	closeErr := eg.Wait()

	metrics.UpdatePoolMetrics(p.config.MaxBrowsers, int(p.live.Load()), 0)

	log.Info().
		Int64("total_acquired", p.stats.Acquired.Load()).
		Int64("total_released", p.stats.Released.Load()).
		Int64("total_launched", p.stats.Launched.Load()).
		Msg("Browser pool closed")

	return closeErr
}

package browser

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Rorqualx/pagesnap/internal/profile"
	"github.com/Rorqualx/pagesnap/internal/types"
)

func TestSessionCleanupsRunInReverse(t *testing.T) {
	p, f := newFakePool(t, testConfig())
	proc, err := p.acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire() error = %v", err)
	}
	mgr := NewManager(p)
	s := &Session{ID: "test", CreatedAt: time.Now(), proc: proc}

	var order []int
	s.AddCleanup(func() { order = append(order, 1) })
	s.AddCleanup(func() { panic("cleanup failure") })
	s.AddCleanup(func() { order = append(order, 3) })

	mgr.Release(s)
	mgr.Release(s)

	if len(order) != 2 || order[0] != 3 || order[1] != 1 {
		t.Errorf("cleanup order = %v, want [3 1]", order)
	}
	if f.destroyed.Load() != 1 {
		t.Errorf("destroyed = %d, want exactly 1", f.destroyed.Load())
	}
	if p.Live() != 0 {
		t.Errorf("Live() = %d after release", p.Live())
	}

	ran := false
	s.AddCleanup(func() { ran = true })
	if !ran {
		t.Error("cleanup added after release did not run immediately")
	}
}

func TestSessionReleasedIsUnavailable(t *testing.T) {
	mgr := NewManager(nil)
	s := &Session{ID: "test"}
	mgr.Release(s)

	if s.Page() != nil || s.Alive() {
		t.Error("released session still reports a page")
	}
	ctx := context.Background()
	if err := mgr.Configure(ctx, s, profile.Viewport{Width: 10, Height: 10}); !errors.Is(err, types.ErrSessionUnavailable) {
		t.Errorf("Configure() error = %v", err)
	}
	if _, err := mgr.Capture(ctx, s); !errors.Is(err, types.ErrSessionUnavailable) {
		t.Errorf("Capture() error = %v", err)
	}
	if err := NewEvasion("").Apply(ctx, s); !errors.Is(err, types.ErrSessionUnavailable) {
		t.Errorf("Apply() error = %v", err)
	}
}

func TestManagerReleaseNil(t *testing.T) {
	NewManager(nil).Release(nil)
}

func TestManagerRealSession(t *testing.T) {
	skipCI(t)

	cfg := testConfig()
	cfg.AcquireTimeout = 30 * time.Second
	p, err := NewPool(cfg)
	if err != nil {
		t.Fatalf("NewPool() error = %v", err)
	}
	defer p.Close()
	mgr := NewManager(p)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	s, err := mgr.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	defer mgr.Release(s)

	if err := mgr.Configure(ctx, s, profile.Viewport{Width: 375, Height: 667}); err != nil {
		t.Fatalf("Configure() error = %v", err)
	}
	width, err := s.Page().Context(ctx).Eval(`() => window.innerWidth`)
	if err != nil {
		t.Fatalf("Eval() error = %v", err)
	}
	if width.Value.Int() != 375 {
		t.Errorf("innerWidth = %d, want 375", width.Value.Int())
	}

	img, err := mgr.Capture(ctx, s)
	if err != nil {
		t.Fatalf("Capture() error = %v", err)
	}
	if !bytes.HasPrefix(img, pngSignature) {
		t.Error("capture is not a PNG")
	}
}

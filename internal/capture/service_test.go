package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Rorqualx/pagesnap/internal/browser"
	"github.com/Rorqualx/pagesnap/internal/captcha"
	"github.com/Rorqualx/pagesnap/internal/config"
	"github.com/Rorqualx/pagesnap/internal/profile"
	"github.com/Rorqualx/pagesnap/internal/types"
)

var pngSignature = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}

// newBrowserService starts a Service on a local Chromium, skipping the
// test when none is available.
func newBrowserService(t *testing.T) (*Service, *config.Config) {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping browser test in short mode")
	}
	cfg := &config.Config{
		Headless:               true,
		MaxBrowsers:            1,
		AcquireTimeout:         30 * time.Second,
		LaunchTimeout:          30 * time.Second,
		CaptureTimeout:         30 * time.Second,
		NavigationTimeout:      10 * time.Second,
		ContentReadyTimeout:    5 * time.Second,
		NetworkIdleWindow:      100 * time.Millisecond,
		NetworkIdleMaxInflight: 2,
	}
	if _, ok := browser.LocalBinary(cfg); !ok {
		t.Skip("Skipping browser test: no Chromium found")
	}

	svc, err := NewService(cfg)
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	t.Cleanup(func() {
		if err := svc.Close(); err != nil {
			t.Errorf("Close() error = %v", err)
		}
	})
	return svc, cfg
}

func TestService_CaptureTwice(t *testing.T) {
	svc, _ := newBrowserService(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "<html><body><h1>pagesnap</h1></body></html>")
	}))
	defer srv.Close()

	for i := 0; i < 2; i++ {
		img, err := svc.Capture(context.Background(), Request{URL: srv.URL, Device: profile.Desktop})
		if err != nil {
			t.Fatalf("capture %d: error = %v", i, err)
		}
		if !bytes.HasPrefix(img.Bytes, pngSignature) {
			t.Fatalf("capture %d: output is not a PNG (%d bytes)", i, len(img.Bytes))
		}
		if img.MimeType != MimeTypePNG {
			t.Errorf("capture %d: MimeType = %q", i, img.MimeType)
		}
	}
	if _, live, _ := svc.PoolUsage(); live > 1 {
		t.Errorf("live browsers = %d, want at most 1", live)
	}
}

func TestService_CaptureInvalidHost(t *testing.T) {
	svc, cfg := newBrowserService(t)

	start := time.Now()
	img, err := svc.Capture(context.Background(), Request{URL: "http://pagesnap-test.invalid/", Device: profile.Desktop})
	if img != nil {
		t.Error("image returned for an unresolvable host")
	}
	if got := types.KindOf(err); got != types.KindNavigationFailure {
		t.Errorf("Kind = %v, want NavigationFailure (err: %v)", got, err)
	}
	if elapsed := time.Since(start); elapsed > cfg.NavigationTimeout+cfg.LaunchTimeout {
		t.Errorf("Capture took %v, longer than the launch and navigation bounds", elapsed)
	}
}

// balanceProvider reports a fixed balance and counts Balance calls.
type balanceProvider struct {
	balance float64
	calls   atomic.Int32
}

func (p *balanceProvider) Name() string { return "fake" }

func (p *balanceProvider) SolveRecaptchaV2(ctx context.Context, req *captcha.RecaptchaRequest) (*captcha.Result, error) {
	return nil, errors.New("not used")
}

func (p *balanceProvider) Balance(ctx context.Context) (float64, error) {
	p.calls.Add(1)
	return p.balance, nil
}

func (p *balanceProvider) IsConfigured() bool { return true }

func TestBalanceRefresher_RefreshesChainAtStart(t *testing.T) {
	p := &balanceProvider{balance: 4.25}
	chain := captcha.NewSolverChain(captcha.SolverChainConfig{Providers: []captcha.Provider{p}})

	r := startBalanceRefresher(chain.RefreshBalances, time.Hour)
	deadline := time.Now().Add(2 * time.Second)
	for p.calls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	r.Stop()

	if got := p.calls.Load(); got != 1 {
		t.Fatalf("Balance calls = %d, want 1 before the first tick", got)
	}
	if got := chain.Stats().Providers["fake"].LastBalance; got != 4.25 {
		t.Errorf("LastBalance = %v, want 4.25", got)
	}
}

func TestBalanceRefresher_Ticks(t *testing.T) {
	var calls atomic.Int32
	r := startBalanceRefresher(func(context.Context) { calls.Add(1) }, 10*time.Millisecond)

	deadline := time.Now().Add(2 * time.Second)
	for calls.Load() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	r.Stop()

	got := calls.Load()
	if got < 3 {
		t.Fatalf("refresh calls = %d, want at least 3", got)
	}
	time.Sleep(50 * time.Millisecond)
	if after := calls.Load(); after != got {
		t.Errorf("refresh ran %d more times after Stop", after-got)
	}
}

func TestBalanceRefresher_StopInterruptsRefresh(t *testing.T) {
	started := make(chan struct{})
	var sawCancel atomic.Bool
	r := startBalanceRefresher(func(ctx context.Context) {
		close(started)
		<-ctx.Done()
		sawCancel.Store(errors.Is(ctx.Err(), context.Canceled))
	}, time.Hour)

	<-started
	done := make(chan struct{})
	go func() {
		r.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not interrupt a running refresh")
	}
	if !sawCancel.Load() {
		t.Error("refresh context was not canceled by Stop")
	}

	// A second Stop and a nil refresher are no-ops.
	r.Stop()
	var nilRefresher *balanceRefresher
	nilRefresher.Stop()
}

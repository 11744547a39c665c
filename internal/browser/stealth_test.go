package browser

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Rorqualx/pagesnap/pkg/version"
)

func TestNewEvasionDefaults(t *testing.T) {
	if got := NewEvasion("").UserAgent(); got != version.UserAgent {
		t.Errorf("UserAgent() = %q, want version.UserAgent", got)
	}
	if got := NewEvasion("custom/1.0").UserAgent(); got != "custom/1.0" {
		t.Errorf("UserAgent() = %q, want custom/1.0", got)
	}
}

func TestEvasionApply(t *testing.T) {
	skipCI(t)

	var gotUA, gotLang string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		gotLang = r.Header.Get("Accept-Language")
		w.Write([]byte("<html><body>ok</body></html>"))
	}))
	defer srv.Close()

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

	ev := NewEvasion("")
	if err := ev.Apply(ctx, s); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if err := ev.Apply(ctx, s); err != nil {
		t.Fatalf("second Apply() error = %v", err)
	}

	page := s.Page().Context(ctx)
	if err := page.Navigate(srv.URL); err != nil {
		t.Fatalf("Navigate() error = %v", err)
	}
	if err := page.WaitLoad(); err != nil {
		t.Fatalf("WaitLoad() error = %v", err)
	}

	if gotUA != version.UserAgent {
		t.Errorf("User-Agent = %q, want %q", gotUA, version.UserAgent)
	}
	if gotLang != DefaultAcceptLanguage {
		t.Errorf("Accept-Language = %q, want %q", gotLang, DefaultAcceptLanguage)
	}

	wd, err := page.Eval(`() => navigator.webdriver`)
	if err != nil {
		t.Fatalf("Eval() error = %v", err)
	}
	if wd.Value.Bool() {
		t.Error("navigator.webdriver = true")
	}
}

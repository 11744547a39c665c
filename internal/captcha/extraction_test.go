package captcha

import (
	"errors"
	"testing"

	"github.com/go-rod/rod/lib/proto"
	"github.com/ysmood/gson"

	"github.com/Rorqualx/pagesnap/internal/types"
)

func TestSitekeyFromFrameURL(t *testing.T) {
	tests := []struct {
		name      string
		src       string
		key       string
		invisible bool
		ok        bool
	}{
		{
			name: "normal anchor",
			src:  "https://www.google.com/recaptcha/api2/anchor?ar=1&k=6LeIxAcTAAAAAJcZVRqyHh71UMIEGNQ_MXjiZKhI&co=aHR0cHM6&hl=en&size=normal",
			key:  "6LeIxAcTAAAAAJcZVRqyHh71UMIEGNQ_MXjiZKhI",
			ok:   true,
		},
		{
			name:      "invisible anchor on recaptcha.net",
			src:       "https://www.recaptcha.net/recaptcha/api2/anchor?k=abc&size=invisible",
			key:       "abc",
			invisible: true,
			ok:        true,
		},
		{
			name: "bframe is not an anchor",
			src:  "https://www.google.com/recaptcha/api2/bframe?k=abc",
		},
		{
			name: "enterprise anchor",
			src:  "https://www.google.com/recaptcha/enterprise/anchor?k=abc",
		},
		{
			name: "anchor without key",
			src:  "https://www.google.com/recaptcha/api2/anchor?size=normal",
		},
		{
			name: "garbage",
			src:  "://",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key, invisible, ok := sitekeyFromFrameURL(tt.src)
			if ok != tt.ok || key != tt.key || invisible != tt.invisible {
				t.Errorf("sitekeyFromFrameURL() = (%q, %v, %v), want (%q, %v, %v)",
					key, invisible, ok, tt.key, tt.invisible, tt.ok)
			}
		})
	}
}

func detectObject(raw string) *proto.RuntimeRemoteObject {
	return &proto.RuntimeRemoteObject{Value: gson.New(raw)}
}

func TestParseDetectResult(t *testing.T) {
	t.Run("no widget", func(t *testing.T) {
		w, err := parseDetectResult(detectObject(`{"sitekey":"","frames":[]}`))
		if err != nil || w != nil {
			t.Errorf("got (%+v, %v), want (nil, nil)", w, err)
		}
	})

	t.Run("container attributes", func(t *testing.T) {
		w, err := parseDetectResult(detectObject(`{"sitekey":"key1","invisible":true,"callback":"onDone","frames":[]}`))
		if err != nil {
			t.Fatal(err)
		}
		if w.SiteKey != "key1" || !w.Invisible || w.Callback != "onDone" {
			t.Errorf("widget = %+v", w)
		}
	})

	t.Run("key from iframe", func(t *testing.T) {
		w, err := parseDetectResult(detectObject(`{"sitekey":"","frames":["https://www.google.com/recaptcha/api2/anchor?k=key2&size=invisible"]}`))
		if err != nil {
			t.Fatal(err)
		}
		if w.SiteKey != "key2" || !w.Invisible {
			t.Errorf("widget = %+v", w)
		}
	})

	t.Run("frames without key", func(t *testing.T) {
		_, err := parseDetectResult(detectObject(`{"sitekey":"","frames":["https://www.google.com/recaptcha/api2/bframe?hl=en"]}`))
		if !errors.Is(err, types.ErrCaptchaSitekeyMissing) {
			t.Errorf("error = %v, want ErrCaptchaSitekeyMissing", err)
		}
	})

	t.Run("bad json", func(t *testing.T) {
		if _, err := parseDetectResult(detectObject(`not json`)); err == nil {
			t.Error("expected error")
		}
	})
}

func TestRedactSitekey(t *testing.T) {
	if got := redactSitekey("short"); got != "short" {
		t.Errorf("redactSitekey(short) = %q", got)
	}
	if got := redactSitekey("6LeIxAcTAAAAAJcZVRqyHh71UMIEGNQ_MXjiZKhI"); got != "6LeIxAcTAA..." {
		t.Errorf("redactSitekey(long) = %q", got)
	}
}

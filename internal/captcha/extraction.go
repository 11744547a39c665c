package captcha

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/Rorqualx/pagesnap/internal/types"
)

// Widget describes a reCAPTCHA v2 widget found on a page.
type Widget struct {
	SiteKey   string `json:"sitekey"`
	Invisible bool   `json:"invisible"`
	Callback  string `json:"callback,omitempty"`
}

// detectScript looks for a reCAPTCHA v2 widget and reports its sitekey,
// size and data-callback. Anchor iframes are checked when the container
// carries no data-sitekey (widgets rendered with grecaptcha.render).
const detectScript = `() => {
	const out = {sitekey: "", invisible: false, callback: "", frames: []};
	const el = document.querySelector('.g-recaptcha[data-sitekey], div[data-sitekey]:not(.cf-turnstile):not(.h-captcha)');
	if (el) {
		out.sitekey = el.getAttribute('data-sitekey') || "";
		out.invisible = el.getAttribute('data-size') === 'invisible';
		out.callback = el.getAttribute('data-callback') || "";
	}
	for (const f of document.querySelectorAll('iframe[src*="/recaptcha/"]')) {
		out.frames.push(f.src);
	}
	return JSON.stringify(out);
}`

type detectResult struct {
	Widget
	Frames []string `json:"frames"`
}

// DetectRecaptcha returns the reCAPTCHA v2 widget on page, or nil if there
// is none.
func DetectRecaptcha(ctx context.Context, page *rod.Page) (*Widget, error) {
	obj, err := page.Context(ctx).Eval(detectScript)
	if err != nil {
		return nil, fmt.Errorf("detect recaptcha: %w", err)
	}
	return parseDetectResult(obj)
}

func parseDetectResult(obj *proto.RuntimeRemoteObject) (*Widget, error) {
	if obj == nil {
		return nil, nil
	}
	var res detectResult
	if err := json.Unmarshal([]byte(obj.Value.Str()), &res); err != nil {
		return nil, fmt.Errorf("detect recaptcha: %w", err)
	}

	w := res.Widget
	for _, src := range res.Frames {
		key, invisible, ok := sitekeyFromFrameURL(src)
		if !ok {
			continue
		}
		if w.SiteKey == "" {
			w.SiteKey = key
			w.Invisible = invisible
		}
		break
	}

	if w.SiteKey == "" {
		if len(res.Frames) > 0 {
			return nil, types.ErrCaptchaSitekeyMissing
		}
		return nil, nil
	}
	return &w, nil
}

// sitekeyFromFrameURL extracts the sitekey (k parameter) and size from a
// reCAPTCHA anchor iframe URL such as
// https://www.google.com/recaptcha/api2/anchor?k=KEY&size=normal.
// Enterprise anchors are not v2 widgets and are rejected.
func sitekeyFromFrameURL(src string) (key string, invisible bool, ok bool) {
	u, err := url.Parse(src)
	if err != nil {
		return "", false, false
	}
	if !strings.Contains(u.Path, "/recaptcha/api2/anchor") {
		return "", false, false
	}
	q := u.Query()
	key = q.Get("k")
	if key == "" {
		return "", false, false
	}
	return key, q.Get("size") == "invisible", true
}

// redactSitekey shortens a sitekey for logging.
func redactSitekey(key string) string {
	if len(key) <= 10 {
		return key
	}
	return key[:10] + "..."
}

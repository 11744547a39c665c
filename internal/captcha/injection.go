package captcha

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-rod/rod"
	"github.com/rs/zerolog/log"

	"github.com/Rorqualx/pagesnap/internal/types"
)

// injectScript writes the token into every g-recaptcha-response textarea,
// creating one inside the widget if the page has none, then fires the
// widget's data-callback and any callbacks registered through
// grecaptcha.render. It returns the number of places the token reached.
const injectScript = `(token, callback) => {
	let reached = 0;
	let areas = document.querySelectorAll('#g-recaptcha-response, textarea[name="g-recaptcha-response"]');
	if (areas.length === 0) {
		const host = document.querySelector('.g-recaptcha') || document.body;
		if (host) {
			const ta = document.createElement('textarea');
			ta.id = 'g-recaptcha-response';
			ta.name = 'g-recaptcha-response';
			ta.style.display = 'none';
			host.appendChild(ta);
			areas = [ta];
		}
	}
	for (const ta of areas) {
		ta.value = token;
		ta.innerHTML = token;
		ta.dispatchEvent(new Event('change', {bubbles: true}));
		reached++;
	}

	const call = (fn) => {
		try { fn(token); reached++; } catch (e) {}
	};
	if (callback && typeof window[callback] === 'function') {
		call(window[callback]);
	}
	const cfg = window.___grecaptcha_cfg;
	if (cfg && cfg.clients) {
		const seen = new Set();
		const walk = (obj, depth) => {
			if (!obj || typeof obj !== 'object' || depth > 4 || seen.has(obj)) return;
			seen.add(obj);
			for (const k of Object.keys(obj)) {
				const v = obj[k];
				if (k === 'callback') {
					if (typeof v === 'function') call(v);
					else if (typeof v === 'string' && typeof window[v] === 'function') call(window[v]);
				} else {
					walk(v, depth + 1);
				}
			}
		};
		for (const id of Object.keys(cfg.clients)) walk(cfg.clients[id], 0);
	}
	return reached;
}`

// InjectRecaptchaToken hands a solved token to the page's reCAPTCHA widget.
func InjectRecaptchaToken(ctx context.Context, page *rod.Page, w *Widget, token string) error {
	if token == "" {
		return fmt.Errorf("empty token provided")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if page == nil {
		return types.ErrSessionUnavailable
	}

	callback := ""
	if w != nil {
		callback = w.Callback
	}

	obj, err := page.Context(ctx).Eval(injectScript, token, callback)
	if err != nil {
		return fmt.Errorf("%w: %w", types.ErrCaptchaTokenInjection, err)
	}
	reached := obj.Value.Int()
	if reached == 0 {
		return types.ErrCaptchaTokenInjection
	}

	log.Debug().
		Int("targets", reached).
		Str("token_prefix", tokenPrefix(token)).
		Msg("reCAPTCHA token injected")
	return nil
}

func tokenPrefix(token string) string {
	b, _ := json.Marshal(token[:min(12, len(token))])
	return string(b)
}

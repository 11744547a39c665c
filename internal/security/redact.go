package security

import (
	"net/url"
	"strings"
)

// Redacted replaces secret values in logged URLs.
const Redacted = "REDACTED"

// secretParamFragments mark query parameter names whose values are not logged.
var secretParamFragments = []string{
	"pass", "pwd", "secret", "token", "key", "auth", "bearer",
	"credential", "session", "sid", "signature", "sig", "private",
}

func isSecretParam(name string) bool {
	name = strings.ToLower(name)
	for _, frag := range secretParamFragments {
		if strings.Contains(name, frag) {
			return true
		}
	}
	return false
}

// RedactURL returns rawURL in a form safe to log. User info is dropped,
// secret-looking query values are replaced and key=value fragments (as
// used by OAuth implicit flows) are hidden.
func RedactURL(rawURL string) string {
	if rawURL == "" {
		return ""
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return "[invalid-url]"
	}

	if u.User != nil {
		u.User = url.User(Redacted)
	}
	if u.RawQuery != "" {
		q := u.Query()
		for name := range q {
			if isSecretParam(name) {
				q[name] = []string{Redacted}
			}
		}
		u.RawQuery = q.Encode()
	}
	if strings.Contains(u.Fragment, "=") {
		u.Fragment = Redacted
		u.RawFragment = ""
	}
	return u.String()
}

// RedactProxyURL hides the password of a proxy URL and keeps the user name.
func RedactProxyURL(proxyURL string) string {
	if proxyURL == "" {
		return ""
	}
	u, err := url.Parse(proxyURL)
	if err != nil {
		return "[invalid-proxy-url]"
	}
	if u.User != nil {
		if _, ok := u.User.Password(); ok {
			u.User = url.UserPassword(u.User.Username(), Redacted)
		}
	}
	return u.String()
}

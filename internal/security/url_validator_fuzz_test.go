package security

import (
	"context"
	"net"
	"net/url"
	"strings"
	"testing"
)

// FuzzValidateURL tests URL validation with fuzzed inputs.
// Run with: go test -fuzz=FuzzValidateURL -fuzztime=60s ./internal/security/
func FuzzValidateURL(f *testing.F) {
	seedURLs := []string{
		"https://example.com",
		"https://example.com/path?query=value",
		"https://example.com:8080/path",
		"file:///etc/passwd",
		"http://127.0.0.1",
		"http://localhost",
		"http://0.0.0.0",
		"http://169.254.169.254/latest/meta-data",
		"http://[::1]",
		"http://[::ffff:127.0.0.1]",
		"http://192.168.1.1",
		"http://%6c%6f%63%61%6c%68%6f%73%74",
		"http://localhost%00.example.com",
		"http://ｌｏｃａｌｈｏｓｔ/",
		"javascript:alert(1)",
		"gopher://example.com",
		"",
		"not-a-url",
		"://missing-scheme",
		"http://",
		"http://[",
		"https://example.com/" + strings.Repeat("a", 1000),
	}
	for _, u := range seedURLs {
		f.Add(u)
	}

	// Keep the fuzzer off the network.
	orig := lookupIP
	lookupIP = func(context.Context, string) ([]net.IP, error) {
		return []net.IP{net.ParseIP("93.184.215.14")}, nil
	}
	defer func() { lookupIP = orig }()

	f.Fuzz(func(t *testing.T, raw string) {
		err := ValidateURL(raw)
		if raw == "" && err == nil {
			t.Error("empty URL should return error")
		}
		if err != nil {
			return
		}

		u, perr := url.Parse(raw)
		if perr != nil {
			t.Fatalf("accepted unparseable URL %q", raw)
		}
		if s := strings.ToLower(u.Scheme); s != "http" && s != "https" {
			t.Errorf("accepted scheme %q", u.Scheme)
		}
		host, herr := canonicalHost(u.Hostname())
		if herr != nil {
			t.Errorf("accepted URL with invalid host: %q", raw)
		}
		if host == "localhost" {
			t.Errorf("localhost URL should be blocked: %s", raw)
		}
		if ip := parseIPWithNormalization(host); ip != nil && (ip.IsLoopback() || ip.IsPrivate()) {
			t.Errorf("internal address accepted: %s", raw)
		}
	})
}

// FuzzNormalizeURL checks that any normalized URL is itself stable under normalization.
func FuzzNormalizeURL(f *testing.F) {
	for _, s := range []string{"example.com", "HTTP://Example.COM", "bücher.example/x", "//a.b", "ftp://x", ""} {
		f.Add(s)
	}
	f.Fuzz(func(t *testing.T, raw string) {
		out, err := NormalizeURL(raw)
		if err != nil {
			return
		}
		again, err := NormalizeURL(out)
		if err != nil {
			t.Fatalf("NormalizeURL(%q) = %q which no longer normalizes: %v", raw, out, err)
		}
		if again != out {
			t.Errorf("not idempotent: %q -> %q -> %q", raw, out, again)
		}
	})
}

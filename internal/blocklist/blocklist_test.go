package blocklist

import "testing"

func TestDefault(t *testing.T) {
	l := Default()
	if l == nil {
		t.Fatal("Default() returned nil")
	}
	if l.Len() == 0 {
		t.Error("expected embedded blocklist to contain domains")
	}
	if l != Default() {
		t.Error("Default() should return the same instance")
	}
}

func TestBlocks(t *testing.T) {
	l, err := Parse([]byte(`
domains:
  - tracker.example
  - ads.example.org
allow:
  - good.tracker.example
`))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	tests := []struct {
		host string
		want bool
	}{
		{"tracker.example", true},
		{"cdn.tracker.example", true},
		{"a.b.tracker.example", true},
		{"TRACKER.EXAMPLE.", true},
		{"nottracker.example", false},
		{"tracker.example.com", false},
		{"good.tracker.example", false},
		{"x.good.tracker.example", false},
		{"ads.example.org", true},
		{"example.org", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.host, func(t *testing.T) {
			if got := l.Blocks(tt.host); got != tt.want {
				t.Errorf("Blocks(%q) = %v, want %v", tt.host, got, tt.want)
			}
		})
	}
}

func TestBlocksInternationalized(t *testing.T) {
	l, err := Parse([]byte("domains:\n  - bücher.example\n"))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if !l.Blocks("xn--bcher-kva.example") {
		t.Error("punycode host should match unicode entry")
	}
	if !l.Blocks("shop.bücher.example") {
		t.Error("unicode subdomain should match")
	}
}

func TestBlocksURL(t *testing.T) {
	l := Default()

	tests := []struct {
		url  string
		want bool
	}{
		{"https://www.google-analytics.com/analytics.js", true},
		{"http://connect.facebook.net/en_US/fbevents.js", true},
		{"https://example.com/app.js", false},
		{"data:image/png;base64,AAAA", false},
		{"blob:https://example.com/uuid", false},
		{"://bad", false},
	}
	for _, tt := range tests {
		if got := l.BlocksURL(tt.url); got != tt.want {
			t.Errorf("BlocksURL(%q) = %v, want %v", tt.url, got, tt.want)
		}
	}
}

func TestNilList(t *testing.T) {
	var l *List
	if l.Blocks("doubleclick.net") {
		t.Error("nil list should block nothing")
	}
}

func TestParseInvalid(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"bad yaml", "domains: [unclosed"},
		{"empty", "domains: []\n"},
		{"bad host", "domains:\n  - \"exa mple..com\"\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse([]byte(tt.data)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestMerge(t *testing.T) {
	base, _ := Parse([]byte("domains:\n  - a.example\n"))
	extra, _ := Parse([]byte("domains:\n  - b.example\n"))
	replace, _ := Parse([]byte("replace: true\ndomains:\n  - b.example\n"))

	m := merge(base, extra)
	if !m.Blocks("a.example") || !m.Blocks("b.example") {
		t.Error("merged list should contain both sets")
	}

	r := merge(base, replace)
	if r.Blocks("a.example") {
		t.Error("replace should drop embedded entries")
	}
	if !r.Blocks("b.example") {
		t.Error("replace should keep override entries")
	}
}

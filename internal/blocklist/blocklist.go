// Package blocklist loads the tracker host list used to fail third-party
// sub-resource requests during captures.
package blocklist

import (
	"embed"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/net/idna"
	"gopkg.in/yaml.v3"
)

//go:embed blocklist.yaml
var defaultBlocklistFS embed.FS

// List is a set of blocked host suffixes with exceptions.
// A List is immutable once built and safe for concurrent use.
type List struct {
	Domains []string `yaml:"domains"`
	Allow   []string `yaml:"allow"`

	// Replace drops the embedded domains instead of extending them.
	// Only meaningful in an external override file.
	Replace bool `yaml:"replace"`

	blocked map[string]struct{}
	allowed map[string]struct{}
}

var (
	instance *List
	once     sync.Once
	loadErr  error
)

// Default returns the embedded blocklist.
func Default() *List {
	once.Do(func() {
		instance, loadErr = load()
		if loadErr != nil {
			log.Error().Err(loadErr).Msg("Failed to load embedded blocklist, blocking nothing")
			instance = compile(&List{})
		}
	})
	return instance
}

// load reads the blocklist from the embedded YAML file.
func load() (*List, error) {
	data, err := defaultBlocklistFS.ReadFile("blocklist.yaml")
	if err != nil {
		return nil, err
	}

	l, err := Parse(data)
	if err != nil {
		return nil, err
	}

	log.Debug().
		Int("domains", len(l.blocked)).
		Int("allow", len(l.allowed)).
		Msg("Blocklist loaded")
	return l, nil
}

// Parse decodes and compiles a YAML blocklist.
func Parse(data []byte) (*List, error) {
	var l List
	if err := yaml.Unmarshal(data, &l); err != nil {
		return nil, fmt.Errorf("invalid YAML: %w", err)
	}
	if err := l.Validate(); err != nil {
		return nil, err
	}
	return compile(&l), nil
}

// Validate checks that every entry is a usable host name.
func (l *List) Validate() error {
	if len(l.Domains) == 0 && len(l.Allow) == 0 {
		return fmt.Errorf("blocklist must have at least one entry in domains or allow")
	}
	for _, d := range append(append([]string{}, l.Domains...), l.Allow...) {
		if _, err := normalizeHost(d); err != nil {
			return fmt.Errorf("invalid host %q: %w", d, err)
		}
	}
	return nil
}

// compile builds the lookup sets. Entries that fail to normalize are skipped.
func compile(l *List) *List {
	l.blocked = make(map[string]struct{}, len(l.Domains))
	l.allowed = make(map[string]struct{}, len(l.Allow))
	for _, d := range l.Domains {
		if h, err := normalizeHost(d); err == nil {
			l.blocked[h] = struct{}{}
		}
	}
	for _, d := range l.Allow {
		if h, err := normalizeHost(d); err == nil {
			l.allowed[h] = struct{}{}
		}
	}
	return l
}

// Len returns the number of blocked host entries.
func (l *List) Len() int {
	return len(l.blocked)
}

// Blocks reports whether host or any of its parent domains is listed and
// not excepted by the allow list. The most specific match wins.
func (l *List) Blocks(host string) bool {
	if l == nil || len(l.blocked) == 0 {
		return false
	}
	h, err := normalizeHost(host)
	if err != nil {
		return false
	}
	for {
		if _, ok := l.allowed[h]; ok {
			return false
		}
		if _, ok := l.blocked[h]; ok {
			return true
		}
		i := strings.IndexByte(h, '.')
		if i < 0 {
			return false
		}
		h = h[i+1:]
	}
}

// BlocksURL reports whether the host of rawURL is blocked.
// Non-HTTP URLs (data:, blob:) are never blocked.
func (l *List) BlocksURL(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return false
	}
	return l.Blocks(u.Hostname())
}

// merge returns a compiled list of base extended by (or, with Replace, replaced by) override.
func merge(base, override *List) *List {
	merged := &List{}
	if !override.Replace {
		merged.Domains = append(merged.Domains, base.Domains...)
		merged.Allow = append(merged.Allow, base.Allow...)
	}
	merged.Domains = append(merged.Domains, override.Domains...)
	merged.Allow = append(merged.Allow, override.Allow...)
	return compile(merged)
}

// normalizeHost lowercases a host, strips a trailing dot and converts
// internationalized names to their ASCII form.
func normalizeHost(host string) (string, error) {
	h := strings.TrimSuffix(strings.TrimSpace(strings.ToLower(host)), ".")
	if h == "" {
		return "", fmt.Errorf("empty host")
	}
	return idna.Lookup.ToASCII(h)
}

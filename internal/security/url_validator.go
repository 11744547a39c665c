// Package security provides input validation for capture targets and
// helpers for keeping secrets out of logs.
package security

import (
	"context"
	"errors"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/idna"
)

// URL validation errors.
var (
	ErrInvalidURL       = errors.New("invalid URL")
	ErrBlockedScheme    = errors.New("URL scheme not allowed")
	ErrPrivateIPBlocked = errors.New("private/internal IP addresses are not allowed")
	ErrLocalhostBlocked = errors.New("localhost URLs are not allowed")
	ErrMetadataBlocked  = errors.New("cloud metadata URLs are not allowed")
)

// AllowedSchemes defines the permitted capture target schemes.
var AllowedSchemes = map[string]bool{
	"http":  true,
	"https": true,
}

// blockedHosts contains hostnames that are never captured.
var blockedHosts = map[string]error{
	"localhost":                ErrLocalhostBlocked,
	"localhost.localdomain":    ErrLocalhostBlocked,
	"local":                    ErrLocalhostBlocked,
	"ip6-localhost":            ErrLocalhostBlocked,
	"ip6-loopback":             ErrLocalhostBlocked,
	"metadata.google.internal": ErrMetadataBlocked,
	"metadata":                 ErrMetadataBlocked,
	"instance-data":            ErrMetadataBlocked,
}

// cloudMetadataIPs are provider metadata endpoints outside the link-local range.
var cloudMetadataIPs = []net.IP{
	net.ParseIP("100.100.100.200"), // Alibaba Cloud
	net.ParseIP("192.0.0.192"),     // Oracle Cloud
	net.ParseIP("fd00:ec2::254"),   // AWS IPv6
	net.ParseIP("fc00:ec2::254"),
}

// dnsTimeout bounds the resolution done during validation.
const dnsTimeout = 3 * time.Second

// lookupIP is replaced in tests.
var lookupIP = func(ctx context.Context, host string) ([]net.IP, error) {
	return net.DefaultResolver.LookupIP(ctx, "ip", host)
}

// NormalizeURL turns user input into an absolute capture URL.
// A missing scheme defaults to https, the host is lowercased and converted
// to its ASCII (punycode) form. It does not check reachability.
func NormalizeURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", ErrInvalidURL
	}

	switch {
	case strings.HasPrefix(raw, "//"):
		raw = "https:" + raw
	case !strings.Contains(raw, "://"):
		raw = "https://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", ErrInvalidURL
	}
	u.Scheme = strings.ToLower(u.Scheme)
	if !AllowedSchemes[u.Scheme] {
		return "", ErrBlockedScheme
	}

	host, err := canonicalHost(u.Hostname())
	if err != nil {
		return "", err
	}
	if port := u.Port(); port != "" {
		u.Host = net.JoinHostPort(host, port)
	} else if strings.Contains(host, ":") {
		u.Host = "[" + host + "]"
	} else {
		u.Host = host
	}
	if u.Path == "" {
		u.Path = "/"
	}
	return u.String(), nil
}

// canonicalHost lowercases host and converts IDNs to ASCII. IP literals pass through.
func canonicalHost(host string) (string, error) {
	host = strings.TrimSuffix(strings.ToLower(host), ".")
	if host == "" {
		return "", ErrInvalidURL
	}
	if net.ParseIP(host) != nil {
		return host, nil
	}
	ascii, err := idna.Lookup.ToASCII(host)
	if err != nil {
		return "", ErrInvalidURL
	}
	return ascii, nil
}

// ValidateURL checks that a capture target is safe for the browser to load.
// It blocks:
//   - non-HTTP(S) schemes
//   - localhost names, including Unicode look-alikes that map to them
//   - loopback, private, link-local, unspecified and metadata addresses
//   - alternate IPv4 encodings (decimal, octal, hex, shortened)
//   - IPv4-mapped IPv6 addresses
//
// Hostnames are resolved and every address is checked. A resolution failure
// is allowed through; the browser will report it as a navigation failure.
func ValidateURL(rawURL string) error {
	if rawURL == "" {
		return ErrInvalidURL
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ErrInvalidURL
	}
	if !AllowedSchemes[strings.ToLower(parsed.Scheme)] {
		return ErrBlockedScheme
	}

	hostname, err := canonicalHost(parsed.Hostname())
	if err != nil {
		return err
	}
	if err := checkHostname(hostname); err != nil {
		return err
	}

	if ip := parseIPWithNormalization(hostname); ip != nil {
		return validateIP(ip)
	}

	ctx, cancel := context.WithTimeout(context.Background(), dnsTimeout)
	defer cancel()
	ips, err := lookupIP(ctx, hostname)
	if err != nil {
		return nil
	}
	for _, ip := range ips {
		if err := validateIP(ip); err != nil {
			return err
		}
	}
	return nil
}

func checkHostname(hostname string) error {
	if err, ok := blockedHosts[hostname]; ok {
		return err
	}
	if strings.HasSuffix(hostname, ".localhost") || strings.HasPrefix(hostname, "localhost.") {
		return ErrLocalhostBlocked
	}
	return nil
}

// parseIPWithNormalization parses an IP address in any encoding a browser
// accepts: dotted decimal, a single decimal number, octal or hex octets,
// and shortened forms such as 127.1.
func parseIPWithNormalization(hostname string) net.IP {
	if ip := net.ParseIP(hostname); ip != nil {
		return ip
	}

	if num, err := strconv.ParseUint(hostname, 10, 32); err == nil {
		return net.IPv4(byte(num>>24), byte(num>>16), byte(num>>8), byte(num))
	}

	parts := strings.Split(hostname, ".")
	switch len(parts) {
	case 4:
		var octets [4]byte
		for i, part := range parts {
			val, err := parseIntWithBase(part)
			if err != nil || val > 255 {
				return nil
			}
			octets[i] = byte(val)
		}
		return net.IPv4(octets[0], octets[1], octets[2], octets[3])
	case 2:
		first, err1 := parseIntWithBase(parts[0])
		second, err2 := parseIntWithBase(parts[1])
		if err1 == nil && err2 == nil && first <= 255 && second <= 0xFFFFFF {
			return net.IPv4(byte(first), byte(second>>16), byte(second>>8), byte(second))
		}
	}
	return nil
}

// parseIntWithBase parses decimal, 0-prefixed octal or 0x-prefixed hex.
func parseIntWithBase(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, errors.New("empty string")
	}
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		return strconv.ParseUint(s[2:], 16, 64)
	}
	if strings.HasPrefix(s, "0") && len(s) > 1 {
		return strconv.ParseUint(s[1:], 8, 64)
	}
	return strconv.ParseUint(s, 10, 64)
}

// validateIP checks if an address is safe to capture.
func validateIP(ip net.IP) error {
	if ip4 := ip.To4(); ip4 != nil {
		ip = ip4
	}

	switch {
	case ip.IsLoopback():
		return ErrLocalhostBlocked
	case ip.IsPrivate(), ip.IsLinkLocalUnicast(), ip.IsLinkLocalMulticast(), ip.IsUnspecified():
		return ErrPrivateIPBlocked
	case isCloudMetadataIP(ip):
		return ErrMetadataBlocked
	}
	return nil
}

func isCloudMetadataIP(ip net.IP) bool {
	for _, metadataIP := range cloudMetadataIPs {
		if ip.Equal(metadataIP) {
			return true
		}
	}
	return false
}

// Proxy URL validation errors.
var (
	ErrInvalidProxyURL    = errors.New("invalid proxy URL")
	ErrBlockedProxyScheme = errors.New("proxy URL scheme not allowed (must be http, https, socks4, or socks5)")
)

// AllowedProxySchemes defines the permitted schemes for PROXY_URL.
var AllowedProxySchemes = map[string]bool{
	"http":   true,
	"https":  true,
	"socks4": true,
	"socks5": true,
}

// ValidateProxyURL validates the browser proxy URL. An empty URL means no
// proxy. When allowPrivateIPs is false, loopback and private literal
// addresses are rejected; hostnames are not resolved.
func ValidateProxyURL(proxyURL string, allowPrivateIPs bool) error {
	if proxyURL == "" {
		return nil
	}

	parsed, err := url.Parse(proxyURL)
	if err != nil {
		return ErrInvalidProxyURL
	}
	if !AllowedProxySchemes[strings.ToLower(parsed.Scheme)] {
		return ErrBlockedProxyScheme
	}
	if parsed.Host == "" {
		return ErrInvalidProxyURL
	}
	if allowPrivateIPs {
		return nil
	}

	hostname := strings.ToLower(parsed.Hostname())
	if err := checkHostname(hostname); err != nil {
		return err
	}
	if ip := parseIPWithNormalization(hostname); ip != nil {
		return validateIP(ip)
	}
	return nil
}

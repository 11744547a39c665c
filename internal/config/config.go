// Package config provides application configuration management.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Rorqualx/pagesnap/internal/security"
)

// Configuration upper bounds to prevent resource exhaustion.
const (
	maxBrowsersLimit   = 20
	maxCaptureTimeout  = 5 * time.Minute
	maxAcquireTimeout  = 2 * time.Minute
	maxLaunchTimeout   = 2 * time.Minute
	maxIdleWindow      = 10 * time.Second
	maxIdleInflight    = 50
	minAPIKeyLength    = 16 // Minimum API key length for security
	defaultPort        = 8080
	defaultMetricsPort = 9090
)

// DefaultLaunchTimeout bounds one browser start when LAUNCH_TIMEOUT is unset
// or invalid.
const DefaultLaunchTimeout = 30 * time.Second

// Config holds all application configuration.
// Configuration is loaded from environment variables at startup.
type Config struct {
	// Server settings
	Host string
	Port int

	// Browser settings
	Headless         bool
	BrowserPath      string
	ProxyURL         string
	IgnoreCertErrors bool // Ignore TLS certificate errors (required for some proxies)
	UserAgent        string

	// Pool settings
	MaxBrowsers    int           // Live browser processes allowed at once
	WarmBrowsers   int           // Pre-launched spare processes
	AcquireTimeout time.Duration // Longest wait for a free browser slot
	LaunchTimeout  time.Duration // Longest wait for one browser process to start

	// Capture deadlines
	CaptureTimeout      time.Duration // Overall bound after a session is acquired
	NavigationTimeout   time.Duration // Page.navigate plus the network idle wait
	ContentReadyTimeout time.Duration // Wait for <body> after the page is idle

	// Network idle detection
	NetworkIdleWindow      time.Duration
	NetworkIdleMaxInflight int

	// Tracker blocking
	BlockTrackers      bool
	BlocklistPath      string // Path to external blocklist.yaml override file
	BlocklistHotReload bool   // Enable file watching for hot-reload of the blocklist

	// CAPTCHA solver settings
	CaptchaAPIKey          string        // 2Captcha API key
	CaptchaCapSolverAPIKey string        // CapSolver API key, used as fallback provider
	CaptchaTimeout         time.Duration // Timeout for external solver API

	// Security
	AllowPrivateTargets bool // Allow captures of localhost/private IP targets

	// API Key Authentication
	APIKeyEnabled bool   // Enable API key authentication
	APIKey        string // Required API key for requests (only used if APIKeyEnabled is true)

	// Metrics
	PrometheusEnabled bool
	PrometheusPort    int

	// Logging
	LogLevel string
}

// Load loads configuration from environment variables.
// Returns a Config with values from environment or sensible defaults.
func Load() *Config {
	return &Config{
		// Server - default to localhost for security (prevents accidental exposure)
		// Set HOST=0.0.0.0 explicitly to bind to all interfaces
		Host: getEnvString("HOST", "127.0.0.1"),
		Port: getEnvInt("PORT", defaultPort),

		// Browser
		Headless:         getEnvBool("HEADLESS", true),
		BrowserPath:      getEnvString("BROWSER_PATH", ""),
		ProxyURL:         getEnvString("PROXY_URL", ""),
		IgnoreCertErrors: getEnvBool("IGNORE_CERT_ERRORS", false),
		UserAgent:        getEnvString("USER_AGENT", ""),

		// Pool
		MaxBrowsers:    getEnvInt("MAX_BROWSERS", 3),
		WarmBrowsers:   getEnvInt("WARM_BROWSERS", 1),
		AcquireTimeout: getEnvDuration("ACQUIRE_TIMEOUT", 10*time.Second),
		LaunchTimeout:  getEnvDuration("LAUNCH_TIMEOUT", DefaultLaunchTimeout),

		// Deadlines
		CaptureTimeout:      getEnvDuration("CAPTURE_TIMEOUT", 45*time.Second),
		NavigationTimeout:   getEnvDuration("NAVIGATION_TIMEOUT", 30*time.Second),
		ContentReadyTimeout: getEnvDuration("CONTENT_READY_TIMEOUT", 10*time.Second),

		// Network idle
		NetworkIdleWindow:      getEnvDuration("NETWORK_IDLE_WINDOW", 500*time.Millisecond),
		NetworkIdleMaxInflight: getEnvInt("NETWORK_IDLE_MAX_INFLIGHT", 2),

		// Tracker blocking
		BlockTrackers:      getEnvBool("BLOCK_TRACKERS", true),
		BlocklistPath:      getEnvString("BLOCKLIST_PATH", ""),
		BlocklistHotReload: getEnvBool("BLOCKLIST_HOT_RELOAD", false),

		// CAPTCHA
		CaptchaAPIKey:          getEnvString("CAPTCHA_API_KEY", ""),
		CaptchaCapSolverAPIKey: getEnvString("CAPSOLVER_API_KEY", ""),
		CaptchaTimeout:         getEnvDuration("CAPTCHA_TIMEOUT", 120*time.Second),

		// Security
		AllowPrivateTargets: getEnvBool("ALLOW_PRIVATE_TARGETS", false),

		// API Key Authentication
		APIKeyEnabled: getEnvBool("API_KEY_ENABLED", false),
		APIKey:        getEnvString("API_KEY", ""),

		// Metrics
		PrometheusEnabled: getEnvBool("PROMETHEUS_ENABLED", false),
		PrometheusPort:    getEnvInt("PROMETHEUS_PORT", defaultMetricsPort),

		// Logging
		LogLevel: getEnvString("LOG_LEVEL", "info"),
	}
}

// Addr returns the HTTP listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// HasCaptchaSolver returns true if at least one external CAPTCHA provider is configured.
func (c *Config) HasCaptchaSolver() bool {
	return c.CaptchaAPIKey != "" || c.CaptchaCapSolverAPIKey != ""
}

// Validate checks configuration values and logs warnings for invalid values.
// Invalid values are corrected to sensible defaults.
func (c *Config) Validate() {
	// Port validation - allow 0 for system-assigned ports
	if c.Port < 0 || c.Port > 65535 {
		log.Warn().Int("port", c.Port).Msgf("Invalid port, using default %d", defaultPort)
		c.Port = defaultPort
	}

	// BrowserPath validation - prevent path traversal attacks
	if c.BrowserPath != "" {
		if strings.Contains(c.BrowserPath, "..") {
			log.Error().
				Str("path", c.BrowserPath).
				Msg("BrowserPath contains path traversal sequence (..), ignoring")
			c.BrowserPath = ""
		} else if !isAbsPath(c.BrowserPath) {
			log.Warn().
				Str("path", c.BrowserPath).
				Msg("BrowserPath should be an absolute path")
		}
	}

	c.validatePool()
	c.validateDeadlines()

	// Log level validation
	validLogLevels := map[string]bool{
		"trace": true, "debug": true, "info": true,
		"warn": true, "error": true, "fatal": true,
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		log.Warn().Str("level", c.LogLevel).Msg("Invalid log level, using 'info'")
		c.LogLevel = "info"
	}
	c.LogLevel = strings.ToLower(c.LogLevel)

	// Certificate validation warning
	if c.IgnoreCertErrors {
		if c.ProxyURL == "" {
			log.Warn().Msg("WARNING: IGNORE_CERT_ERRORS enabled without a proxy - this exposes you to MITM attacks")
		} else {
			log.Info().Msg("IGNORE_CERT_ERRORS enabled for proxy compatibility")
		}
	}

	// Proxy URL validation. Local proxies are a common setup, so private hosts are allowed.
	if c.ProxyURL != "" {
		if err := security.ValidateProxyURL(c.ProxyURL, true); err != nil {
			log.Error().
				Err(err).
				Str("proxy_url", security.RedactProxyURL(c.ProxyURL)).
				Msg("Invalid PROXY_URL (must be http, https, socks4, or socks5 with a host), ignoring")
			c.ProxyURL = ""
		} else if strings.Contains(c.ProxyURL, "@") {
			log.Warn().Msg("ProxyURL contains embedded credentials (@) - Chromium ignores them in --proxy-server")
		}
	}

	if c.AllowPrivateTargets {
		log.Warn().Msg("ALLOW_PRIVATE_TARGETS enabled - captures may reach internal network addresses")
	}

	// Blocklist path validation
	if c.BlocklistPath != "" {
		if strings.Contains(c.BlocklistPath, "..") {
			log.Error().
				Str("path", c.BlocklistPath).
				Msg("BlocklistPath contains path traversal sequence (..), ignoring")
			c.BlocklistPath = ""
		} else if !isAbsPath(c.BlocklistPath) {
			log.Warn().
				Str("path", c.BlocklistPath).
				Msg("BlocklistPath should be an absolute path")
		}
		if c.BlocklistHotReload && c.BlocklistPath != "" {
			if _, err := os.Stat(c.BlocklistPath); os.IsNotExist(err) {
				log.Warn().
					Str("path", c.BlocklistPath).
					Msg("BlocklistPath does not exist - hot-reload will watch for file creation")
			}
		}
	}
	if c.BlocklistHotReload && c.BlocklistPath == "" {
		log.Warn().Msg("BLOCKLIST_HOT_RELOAD enabled but BLOCKLIST_PATH not set - hot-reload disabled")
		c.BlocklistHotReload = false
	}

	c.validateCaptchaConfig()

	// Metrics port conflict
	if c.PrometheusEnabled {
		if c.PrometheusPort < 1 || c.PrometheusPort > 65535 {
			log.Warn().Int("port", c.PrometheusPort).Msgf("Invalid PROMETHEUS_PORT, using %d", defaultMetricsPort)
			c.PrometheusPort = defaultMetricsPort
		}
		if c.PrometheusPort == c.Port {
			log.Error().
				Int("port", c.PrometheusPort).
				Msg("PROMETHEUS_PORT conflicts with PORT, adjusting")
			c.PrometheusPort = c.Port + 1
		}
	}

	// API key validation with minimum length enforcement
	if c.APIKeyEnabled {
		switch {
		case c.APIKey == "":
			log.Error().Msg("API_KEY_ENABLED is true but API_KEY is empty - authentication will always fail")
		case len(c.APIKey) < minAPIKeyLength:
			log.Error().
				Int("length", len(c.APIKey)).
				Int("min_required", minAPIKeyLength).
				Msg("API_KEY is too short for secure authentication - consider using a longer key")
		}
	}
}

func (c *Config) validatePool() {
	if c.MaxBrowsers < 1 {
		log.Warn().Int("max", c.MaxBrowsers).Msg("Invalid MAX_BROWSERS, using default 3")
		c.MaxBrowsers = 3
	} else if c.MaxBrowsers > maxBrowsersLimit {
		log.Warn().
			Int("max", c.MaxBrowsers).
			Int("limit", maxBrowsersLimit).
			Msg("MAX_BROWSERS too large, capping to maximum")
		c.MaxBrowsers = maxBrowsersLimit
	}

	if c.WarmBrowsers < 0 {
		log.Warn().Int("warm", c.WarmBrowsers).Msg("Invalid WARM_BROWSERS, disabling warm spares")
		c.WarmBrowsers = 0
	} else if c.WarmBrowsers > c.MaxBrowsers {
		log.Warn().
			Int("warm", c.WarmBrowsers).
			Int("max", c.MaxBrowsers).
			Msg("WARM_BROWSERS exceeds MAX_BROWSERS, capping")
		c.WarmBrowsers = c.MaxBrowsers
	}

	if c.AcquireTimeout > maxAcquireTimeout {
		log.Warn().
			Dur("timeout", c.AcquireTimeout).
			Dur("max", maxAcquireTimeout).
			Msg("ACQUIRE_TIMEOUT too long, using maximum")
		c.AcquireTimeout = maxAcquireTimeout
	}

	if c.LaunchTimeout <= 0 {
		log.Warn().Dur("timeout", c.LaunchTimeout).Msg("Invalid LAUNCH_TIMEOUT, using default")
		c.LaunchTimeout = DefaultLaunchTimeout
	} else if c.LaunchTimeout > maxLaunchTimeout {
		log.Warn().
			Dur("timeout", c.LaunchTimeout).
			Dur("max", maxLaunchTimeout).
			Msg("LAUNCH_TIMEOUT too long, using maximum")
		c.LaunchTimeout = maxLaunchTimeout
	}
}

// validateDeadlines checks the capture bound first, then the phase bounds it contains.
func (c *Config) validateDeadlines() {
	if c.CaptureTimeout < time.Second {
		log.Warn().Dur("timeout", c.CaptureTimeout).Msg("Capture timeout too short, using 45s")
		c.CaptureTimeout = 45 * time.Second
	}
	if c.CaptureTimeout > maxCaptureTimeout {
		log.Warn().
			Dur("timeout", c.CaptureTimeout).
			Dur("max", maxCaptureTimeout).
			Msg("Capture timeout too high, capping to maximum")
		c.CaptureTimeout = maxCaptureTimeout
	}
	if c.NavigationTimeout > c.CaptureTimeout {
		log.Warn().
			Dur("navigation", c.NavigationTimeout).
			Dur("capture", c.CaptureTimeout).
			Msg("Navigation timeout exceeds capture timeout, adjusting to capture timeout")
		c.NavigationTimeout = c.CaptureTimeout
	}
	if c.ContentReadyTimeout > c.CaptureTimeout {
		log.Warn().
			Dur("content_ready", c.ContentReadyTimeout).
			Dur("capture", c.CaptureTimeout).
			Msg("Content ready timeout exceeds capture timeout, adjusting to capture timeout")
		c.ContentReadyTimeout = c.CaptureTimeout
	}

	if c.NetworkIdleWindow > maxIdleWindow {
		log.Warn().
			Dur("window", c.NetworkIdleWindow).
			Dur("max", maxIdleWindow).
			Msg("NETWORK_IDLE_WINDOW too long, capping to maximum")
		c.NetworkIdleWindow = maxIdleWindow
	}
	if c.NetworkIdleMaxInflight < 0 {
		log.Warn().Int("inflight", c.NetworkIdleMaxInflight).Msg("Invalid NETWORK_IDLE_MAX_INFLIGHT, using 2")
		c.NetworkIdleMaxInflight = 2
	} else if c.NetworkIdleMaxInflight > maxIdleInflight {
		log.Warn().
			Int("inflight", c.NetworkIdleMaxInflight).
			Int("max", maxIdleInflight).
			Msg("NETWORK_IDLE_MAX_INFLIGHT too high, capping to maximum")
		c.NetworkIdleMaxInflight = maxIdleInflight
	}
}

// validateCaptchaConfig validates CAPTCHA solver configuration.
func (c *Config) validateCaptchaConfig() {
	const minSolverTimeout = 30 * time.Second
	const maxSolverTimeout = 300 * time.Second
	if c.CaptchaTimeout < minSolverTimeout {
		log.Warn().
			Dur("timeout", c.CaptchaTimeout).
			Dur("min", minSolverTimeout).
			Msg("CAPTCHA_TIMEOUT too short, using minimum")
		c.CaptchaTimeout = minSolverTimeout
	} else if c.CaptchaTimeout > maxSolverTimeout {
		log.Warn().
			Dur("timeout", c.CaptchaTimeout).
			Dur("max", maxSolverTimeout).
			Msg("CAPTCHA_TIMEOUT too long, using maximum")
		c.CaptchaTimeout = maxSolverTimeout
	}

	if c.HasCaptchaSolver() {
		var configured []string
		if c.CaptchaAPIKey != "" {
			configured = append(configured, "2captcha")
		}
		if c.CaptchaCapSolverAPIKey != "" {
			configured = append(configured, "capsolver")
		}
		log.Info().
			Strs("providers", configured).
			Msg("reCAPTCHA solving enabled")

		// Solves run inside the capture deadline.
		if c.CaptchaTimeout >= c.CaptureTimeout {
			log.Warn().
				Dur("captcha_timeout", c.CaptchaTimeout).
				Dur("capture_timeout", c.CaptureTimeout).
				Msg("CAPTCHA_TIMEOUT is not shorter than CAPTURE_TIMEOUT - solves will be cut off by the capture deadline")
		}
	}
}

func isAbsPath(p string) bool {
	return strings.HasPrefix(p, "/") || strings.HasPrefix(p, "C:") || strings.HasPrefix(p, "c:")
}

// Helper functions for environment variable parsing

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		// Use ParseInt with explicit bounds to catch overflow
		intValue, err := strconv.ParseInt(value, 10, 32)
		if err == nil {
			return int(intValue)
		}
		log.Warn().
			Str("key", key).
			Str("value", value).
			Err(err).
			Int("default", defaultValue).
			Msg("Invalid integer in environment variable, using default")
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		boolValue, err := strconv.ParseBool(value)
		if err == nil {
			return boolValue
		}
		log.Warn().
			Str("key", key).
			Str("value", value).
			Err(err).
			Bool("default", defaultValue).
			Msg("Invalid boolean in environment variable, using default")
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		duration, err := time.ParseDuration(value)
		if err == nil {
			// Reject negative or zero durations
			if duration > 0 {
				return duration
			}
			log.Warn().
				Str("key", key).
				Str("value", value).
				Dur("default", defaultValue).
				Msg("Duration must be positive, using default")
			return defaultValue
		}
		log.Warn().
			Str("key", key).
			Str("value", value).
			Err(err).
			Dur("default", defaultValue).
			Msg("Invalid duration in environment variable, using default")
	}
	return defaultValue
}

// Package metrics provides Prometheus metrics for monitoring pagesnap.
package metrics

import (
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// CapturesTotal counts finished captures by outcome kind ("ok" on success).
	CapturesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pagesnap_captures_total",
			Help: "Total number of captures by outcome",
		},
		[]string{"kind"},
	)

	// CaptureDuration tracks end-to-end capture duration by device class.
	CaptureDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pagesnap_capture_duration_seconds",
			Help:    "Capture duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 10), // 0.25s to ~128s
		},
		[]string{"device"},
	)

	// CaptureBytes tracks the size of produced PNG images.
	CaptureBytes = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pagesnap_capture_bytes",
			Help:    "Size of captured PNG images in bytes",
			Buckets: prometheus.ExponentialBuckets(16*1024, 2, 10), // 16KiB to 8MiB
		},
	)

	// BrowsersMax shows the configured live browser limit.
	BrowsersMax = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pagesnap_browsers_max",
			Help: "Configured maximum number of browsers in use",
		},
	)

	// BrowsersLive shows browser processes currently held by captures.
	BrowsersLive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pagesnap_browsers_live",
			Help: "Browser processes currently held by captures",
		},
	)

	// BrowsersWarm shows pre-launched spare browser processes.
	BrowsersWarm = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pagesnap_browsers_warm",
			Help: "Pre-launched spare browser processes",
		},
	)

	// BrowserLaunches counts browser launches by result.
	BrowserLaunches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pagesnap_browser_launches_total",
			Help: "Total browser process launches by result",
		},
		[]string{"result"},
	)

	// CapacityRejections counts acquisitions that gave up waiting for a slot.
	CapacityRejections = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pagesnap_capacity_rejections_total",
			Help: "Total captures rejected because no browser slot freed up in time",
		},
	)

	// RequestsBlocked counts sub-resource requests failed by the tracker blocklist.
	RequestsBlocked = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pagesnap_requests_blocked_total",
			Help: "Total sub-resource requests blocked by the tracker blocklist",
		},
	)

	// RedirectsAborted counts top-level redirect navigations stopped by the redirect guard.
	RedirectsAborted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pagesnap_redirects_aborted_total",
			Help: "Total redirect navigations aborted because redirects were not followed",
		},
	)

	// CaptchaSolves counts reCAPTCHA solve attempts by provider and result.
	CaptchaSolves = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pagesnap_captcha_solves_total",
			Help: "Total reCAPTCHA solve attempts by provider and result",
		},
		[]string{"provider", "result"},
	)

	// MemoryUsageBytes shows current memory usage.
	MemoryUsageBytes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pagesnap_memory_usage_bytes",
			Help: "Current memory usage in bytes (alloc)",
		},
	)

	// GoroutineCount shows current goroutine count.
	GoroutineCount = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pagesnap_goroutines",
			Help: "Current number of goroutines",
		},
	)

	// BuildInfo provides build information as labels.
	BuildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pagesnap_build_info",
			Help: "Build information",
		},
		[]string{"version", "go_version"},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(
		CapturesTotal,
		CaptureDuration,
		CaptureBytes,
		BrowsersMax,
		BrowsersLive,
		BrowsersWarm,
		BrowserLaunches,
		CapacityRejections,
		RequestsBlocked,
		RedirectsAborted,
		CaptchaSolves,
		MemoryUsageBytes,
		GoroutineCount,
		BuildInfo,
	)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// SetBuildInfo sets the build info metric.
func SetBuildInfo(version, goVersion string) {
	BuildInfo.WithLabelValues(version, goVersion).Set(1)
}

// StartMemoryCollector starts a goroutine that periodically updates memory metrics.
func StartMemoryCollector(interval time.Duration, stopCh <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			updateMemoryMetrics()
		case <-stopCh:
			return
		}
	}
}

func updateMemoryMetrics() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	MemoryUsageBytes.Set(float64(m.Alloc))
	GoroutineCount.Set(float64(runtime.NumGoroutine()))
}

// RecordCapture records metrics for a finished capture. kind is "ok" for
// successful captures and the failure kind name otherwise.
func RecordCapture(device, kind string, duration time.Duration, size int) {
	CapturesTotal.WithLabelValues(kind).Inc()
	CaptureDuration.WithLabelValues(device).Observe(duration.Seconds())
	if size > 0 {
		CaptureBytes.Observe(float64(size))
	}
}

// UpdatePoolMetrics updates browser pool gauges.
func UpdatePoolMetrics(max, live, warm int) {
	BrowsersMax.Set(float64(max))
	BrowsersLive.Set(float64(live))
	BrowsersWarm.Set(float64(warm))
}

// RecordLaunch records a browser launch attempt.
func RecordLaunch(ok bool) {
	if ok {
		BrowserLaunches.WithLabelValues("ok").Inc()
		return
	}
	BrowserLaunches.WithLabelValues("error").Inc()
}

// RecordCaptchaSolve records a reCAPTCHA solve attempt.
func RecordCaptchaSolve(provider string, ok bool) {
	result := "error"
	if ok {
		result = "ok"
	}
	CaptchaSolves.WithLabelValues(provider, result).Inc()
}

package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/Rorqualx/pagesnap/internal/config"
	"github.com/Rorqualx/pagesnap/internal/types"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
})

func TestRecoveryMiddleware(t *testing.T) {
	panicHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("test panic")
	})

	req := httptest.NewRequest("GET", "/test", nil)
	w := httptest.NewRecorder()
	Recovery(panicHandler).ServeHTTP(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Errorf("Expected status 500, got %d", w.Code)
	}
	if w.Header().Get("Content-Type") != "application/json" {
		t.Error("Expected Content-Type application/json")
	}

	var resp types.ErrorResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode body: %v", err)
	}
	if resp.Status != types.StatusError || resp.Kind != "InternalFault" || resp.Retryable {
		t.Errorf("unexpected error body: %+v", resp)
	}
}

func TestRecoveryMiddlewareNoPanic(t *testing.T) {
	req := httptest.NewRequest("GET", "/test", nil)
	w := httptest.NewRecorder()
	Recovery(okHandler).ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}
}

func TestRecoveryMiddlewareRepanicsAbort(t *testing.T) {
	defer func() {
		if r := recover(); r != http.ErrAbortHandler {
			t.Errorf("recovered %v, want http.ErrAbortHandler", r)
		}
	}()
	h := Recovery(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic(http.ErrAbortHandler)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/", nil))
}

func TestLoggingMiddleware(t *testing.T) {
	var ctxLogger bool
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctxLogger = zerolog.Ctx(r.Context()).GetLevel() != zerolog.Disabled
		w.WriteHeader(http.StatusTeapot)
	})

	req := httptest.NewRequest("GET", "/v1/screenshot?token=secret", nil)
	w := httptest.NewRecorder()
	Logging(inner).ServeHTTP(w, req)

	if w.Code != http.StatusTeapot {
		t.Errorf("Expected status 418, got %d", w.Code)
	}
	if !ctxLogger {
		t.Error("request context carries no logger")
	}
	if id := w.Header().Get(RequestIDHeader); len(id) != 32 {
		t.Errorf("generated request ID = %q, want 32 hex chars", id)
	}
}

func TestLoggingMiddlewareRequestID(t *testing.T) {
	tests := []struct {
		name     string
		incoming string
		keep     bool
	}{
		{"valid id kept", "req-12345678", true},
		{"too short replaced", "abc", false},
		{"bad chars replaced", "req id with spaces", false},
		{"prototype pollution replaced", "__proto__", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			req.Header.Set(RequestIDHeader, tt.incoming)
			w := httptest.NewRecorder()
			Logging(okHandler).ServeHTTP(w, req)

			got := w.Header().Get(RequestIDHeader)
			if (got == tt.incoming) != tt.keep {
				t.Errorf("%s = %q, keep = %v", RequestIDHeader, got, tt.keep)
			}
			if got == "" {
				t.Error("no request ID returned")
			}
		})
	}
}

func TestResponseWriterWrapper(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := &responseWriter{ResponseWriter: rec, statusCode: http.StatusOK}

	rw.WriteHeader(http.StatusNotFound)
	rw.Write([]byte("hello"))
	rw.Flush()

	if rw.statusCode != http.StatusNotFound {
		t.Errorf("statusCode = %d", rw.statusCode)
	}
	if rw.bytes != 5 {
		t.Errorf("bytes = %d, want 5", rw.bytes)
	}
	if !rec.Flushed {
		t.Error("Flush not forwarded")
	}
}

func TestMaskIP(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"192.168.1.77:54321", "192.168.1.0/24"},
		{"10.0.0.5", "10.0.0.0/24"},
		{"[2001:db8:abcd:12::1]:443", "2001:db8:abcd::/48"},
		{"not-an-ip", "[redacted]"},
	}
	for _, tt := range tests {
		if got := maskIP(tt.in); got != tt.want {
			t.Errorf("maskIP(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestChainMiddleware(t *testing.T) {
	var order []string
	mw := func(name string) func(http.Handler) http.Handler {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	h := Chain(mw("A"), nil, mw("B"), mw("C"))(okHandler)
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/", nil))

	if strings.Join(order, "") != "ABC" {
		t.Errorf("order = %v, want [A B C]", order)
	}
}

func TestAPIKeyMiddleware(t *testing.T) {
	const key = "0123456789abcdef0123"

	tests := []struct {
		name    string
		cfg     config.Config
		path    string
		headers map[string]string
		want    int
	}{
		{"disabled", config.Config{}, "/v1/screenshot", nil, http.StatusOK},
		{"valid header", config.Config{APIKeyEnabled: true, APIKey: key}, "/v1/screenshot", map[string]string{"X-API-Key": key}, http.StatusOK},
		{"valid bearer", config.Config{APIKeyEnabled: true, APIKey: key}, "/v1/screenshot", map[string]string{"Authorization": "Bearer " + key}, http.StatusOK},
		{"invalid key", config.Config{APIKeyEnabled: true, APIKey: key}, "/v1/screenshot", map[string]string{"X-API-Key": "wrong"}, http.StatusUnauthorized},
		{"missing key", config.Config{APIKeyEnabled: true, APIKey: key}, "/v1/screenshot", nil, http.StatusUnauthorized},
		{"query param rejected", config.Config{APIKeyEnabled: true, APIKey: key}, "/v1/screenshot?api_key=" + key, nil, http.StatusUnauthorized},
		{"prefix of key", config.Config{APIKeyEnabled: true, APIKey: key}, "/v1/screenshot", map[string]string{"X-API-Key": key[:10]}, http.StatusUnauthorized},
		{"empty configured key", config.Config{APIKeyEnabled: true}, "/v1/screenshot", map[string]string{"X-API-Key": ""}, http.StatusUnauthorized},
		{"health bypass", config.Config{APIKeyEnabled: true, APIKey: key}, "/health", nil, http.StatusOK},
		{"metrics bypass", config.Config{APIKeyEnabled: true, APIKey: key}, "/metrics", nil, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.cfg
			req := httptest.NewRequest("POST", tt.path, nil)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			w := httptest.NewRecorder()
			APIKey(&cfg)(okHandler).ServeHTTP(w, req)

			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}

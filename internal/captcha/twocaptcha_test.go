package captcha

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Rorqualx/pagesnap/internal/types"
)

// taskServer fakes the createTask protocol. result is returned from every
// getTaskResult call after the first pendingPolls calls report "processing".
func taskServer(t *testing.T, create, result, balance map[string]any, pendingPolls int32) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var polls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		if body["clientKey"] != "test-key" {
			json.NewEncoder(w).Encode(map[string]any{"errorId": 1, "errorCode": "ERROR_KEY_DOES_NOT_EXIST"})
			return
		}
		switch r.URL.Path {
		case "/createTask":
			json.NewEncoder(w).Encode(create)
		case "/getTaskResult":
			if polls.Add(1) <= pendingPolls {
				json.NewEncoder(w).Encode(map[string]any{"errorId": 0, "status": "processing"})
				return
			}
			json.NewEncoder(w).Encode(result)
		case "/getBalance":
			json.NewEncoder(w).Encode(balance)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv, &polls
}

func newTestTwoCaptcha(url string) *TwoCaptchaSolver {
	return NewTwoCaptchaSolver(TwoCaptchaConfig{
		APIKey:       "test-key",
		BaseURL:      url,
		PollInterval: 10 * time.Millisecond,
		Timeout:      2 * time.Second,
	})
}

var testRecaptcha = &RecaptchaRequest{
	SiteKey: "6Le-wvkSAAAAAPBMRTvw0Q4Muexq9bi0DJwx_mJ-",
	PageURL: "https://example.com/form",
}

func TestTwoCaptchaSolver_Name(t *testing.T) {
	if got := NewTwoCaptchaSolver(TwoCaptchaConfig{}).Name(); got != "2captcha" {
		t.Errorf("Name() = %q, want %q", got, "2captcha")
	}
}

func TestTwoCaptchaSolver_IsConfigured(t *testing.T) {
	if NewTwoCaptchaSolver(TwoCaptchaConfig{}).IsConfigured() {
		t.Error("IsConfigured() = true without a key")
	}
	if !NewTwoCaptchaSolver(TwoCaptchaConfig{APIKey: "k"}).IsConfigured() {
		t.Error("IsConfigured() = false with a key")
	}
}

func TestTwoCaptchaSolver_NotConfigured(t *testing.T) {
	_, err := NewTwoCaptchaSolver(TwoCaptchaConfig{}).SolveRecaptchaV2(context.Background(), testRecaptcha)
	if err == nil {
		t.Error("expected error for unconfigured solver")
	}
}

func TestTwoCaptchaSolver_Success(t *testing.T) {
	srv, polls := taskServer(t,
		map[string]any{"errorId": 0, "taskId": 72345678901},
		map[string]any{
			"errorId":  0,
			"status":   "ready",
			"solution": map[string]any{"gRecaptchaResponse": "03AGdBq24PBCbwiDRaS_MJ7Z"},
			"cost":     "0.00299",
		},
		nil, 2)

	res, err := newTestTwoCaptcha(srv.URL).SolveRecaptchaV2(context.Background(), testRecaptcha)
	if err != nil {
		t.Fatalf("SolveRecaptchaV2() error = %v", err)
	}
	if res.Token != "03AGdBq24PBCbwiDRaS_MJ7Z" {
		t.Errorf("Token = %q", res.Token)
	}
	if res.Cost != 0.00299 {
		t.Errorf("Cost = %v, want 0.00299", res.Cost)
	}
	if res.Provider != "2captcha" {
		t.Errorf("Provider = %q", res.Provider)
	}
	if got := polls.Load(); got != 3 {
		t.Errorf("polls = %d, want 3", got)
	}
}

func TestTwoCaptchaSolver_TokenFallback(t *testing.T) {
	srv, _ := taskServer(t,
		map[string]any{"errorId": 0, "taskId": 1},
		map[string]any{"errorId": 0, "status": "ready", "solution": map[string]any{"token": "tok"}},
		nil, 0)

	res, err := newTestTwoCaptcha(srv.URL).SolveRecaptchaV2(context.Background(), testRecaptcha)
	if err != nil {
		t.Fatalf("SolveRecaptchaV2() error = %v", err)
	}
	if res.Token != "tok" {
		t.Errorf("Token = %q, want tok", res.Token)
	}
}

func TestTwoCaptchaSolver_CreateErrors(t *testing.T) {
	tests := []struct {
		code string
		want error
	}{
		{"ERROR_ZERO_BALANCE", types.ErrCaptchaSolverBalance},
		{"ERROR_WRONG_GOOGLEKEY", types.ErrCaptchaSolverRejected},
		{"ERROR_SOMETHING_NEW", types.ErrCaptchaSolverRejected},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			srv, _ := taskServer(t, map[string]any{"errorId": 10, "errorCode": tt.code}, nil, nil, 0)

			_, err := newTestTwoCaptcha(srv.URL).SolveRecaptchaV2(context.Background(), testRecaptcha)
			if !errors.Is(err, tt.want) {
				t.Fatalf("error = %v, want %v", err, tt.want)
			}
			var ce *types.CaptchaError
			if !errors.As(err, &ce) || ce.Code != tt.code {
				t.Errorf("CaptchaError code = %+v, want %s", ce, tt.code)
			}
		})
	}
}

func TestTwoCaptchaSolver_FailedStatus(t *testing.T) {
	srv, _ := taskServer(t,
		map[string]any{"errorId": 0, "taskId": 1},
		map[string]any{"errorId": 0, "status": "failed"},
		nil, 0)

	_, err := newTestTwoCaptcha(srv.URL).SolveRecaptchaV2(context.Background(), testRecaptcha)
	if !errors.Is(err, types.ErrCaptchaSolverRejected) {
		t.Errorf("error = %v, want ErrCaptchaSolverRejected", err)
	}
}

func TestTwoCaptchaSolver_Timeout(t *testing.T) {
	srv, _ := taskServer(t, map[string]any{"errorId": 0, "taskId": 1}, nil, nil, 1<<30)

	s := NewTwoCaptchaSolver(TwoCaptchaConfig{
		APIKey:       "test-key",
		BaseURL:      srv.URL,
		PollInterval: 10 * time.Millisecond,
		Timeout:      80 * time.Millisecond,
	})
	_, err := s.SolveRecaptchaV2(context.Background(), testRecaptcha)
	if !errors.Is(err, types.ErrCaptchaSolverTimeout) {
		t.Errorf("error = %v, want ErrCaptchaSolverTimeout", err)
	}
}

func TestTwoCaptchaSolver_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := newTestTwoCaptcha(srv.URL).SolveRecaptchaV2(context.Background(), testRecaptcha)
	if err == nil {
		t.Error("expected error for 502 response")
	}
}

func TestTwoCaptchaSolver_Balance(t *testing.T) {
	srv, _ := taskServer(t, nil, nil, map[string]any{"errorId": 0, "balance": 12.5}, 0)

	bal, err := newTestTwoCaptcha(srv.URL).Balance(context.Background())
	if err != nil {
		t.Fatalf("Balance() error = %v", err)
	}
	if bal != 12.5 {
		t.Errorf("Balance() = %v, want 12.5", bal)
	}
}

func TestTwoCaptchaSolver_BalanceBadKey(t *testing.T) {
	srv, _ := taskServer(t, nil, nil, nil, 0)

	s := NewTwoCaptchaSolver(TwoCaptchaConfig{APIKey: "wrong", BaseURL: srv.URL})
	_, err := s.Balance(context.Background())
	if !errors.Is(err, types.ErrCaptchaSolverRejected) {
		t.Errorf("error = %v, want ErrCaptchaSolverRejected", err)
	}
}

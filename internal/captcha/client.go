package captcha

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Rorqualx/pagesnap/internal/types"
)

// maxResponseSize caps solver API response bodies.
const maxResponseSize = 1 << 20

// taskID is a provider task identifier. 2Captcha sends numbers, CapSolver strings.
type taskID string

// UnmarshalJSON accepts both JSON numbers and strings.
func (id *taskID) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = taskID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*id = taskID(n.String())
	return nil
}

// MarshalJSON writes numeric IDs as numbers so 2Captcha accepts them back.
func (id taskID) MarshalJSON() ([]byte, error) {
	if _, err := strconv.ParseInt(string(id), 10, 64); err == nil {
		return []byte(id), nil
	}
	return json.Marshal(string(id))
}

// apiStatus is the error envelope shared by every createTask-style API.
type apiStatus struct {
	ErrorID          int    `json:"errorId"`
	ErrorCode        string `json:"errorCode,omitempty"`
	ErrorDescription string `json:"errorDescription,omitempty"`
}

type createTaskRequest struct {
	ClientKey string `json:"clientKey"`
	Task      any    `json:"task"`
}

type createTaskResponse struct {
	apiStatus
	TaskID taskID `json:"taskId"`
}

type getResultRequest struct {
	ClientKey string `json:"clientKey"`
	TaskID    taskID `json:"taskId"`
}

type getResultResponse struct {
	apiStatus
	Status   string          `json:"status"` // "idle", "processing", "ready" or "failed"
	Solution json.RawMessage `json:"solution,omitempty"`
	Cost     json.RawMessage `json:"cost,omitempty"` // number or numeric string
}

type balanceResponse struct {
	apiStatus
	Balance float64 `json:"balance"`
}

// taskAPI speaks the createTask / getTaskResult / getBalance JSON protocol
// used by both 2Captcha and CapSolver.
type taskAPI struct {
	name         string
	apiKey       string
	baseURL      string
	httpClient   *http.Client
	pollInterval time.Duration
	timeout      time.Duration

	// mapError converts a provider error code into a *types.CaptchaError.
	mapError func(code, description, taskID string) error
}

// call POSTs in as JSON to path and decodes the response into out.
func (a *taskAPI) call(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

// createTask submits a task and returns its ID.
func (a *taskAPI) createTask(ctx context.Context, task any) (taskID, error) {
	var resp createTaskResponse
	if err := a.call(ctx, "/createTask", createTaskRequest{ClientKey: a.apiKey, Task: task}, &resp); err != nil {
		return "", err
	}
	if resp.ErrorID != 0 {
		return "", a.mapError(resp.ErrorCode, resp.ErrorDescription, "")
	}
	if resp.TaskID == "" {
		return "", fmt.Errorf("%s returned no task ID", a.name)
	}
	return resp.TaskID, nil
}

// poll waits for a task to finish and decodes its solution into solution.
// It returns the reported cost in USD, or 0 if the provider does not report one.
func (a *taskAPI) poll(ctx context.Context, id taskID, solution any) (float64, error) {
	pollCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	ticker := time.NewTicker(a.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-pollCtx.Done():
			return 0, types.NewCaptchaTimeoutError(a.name, string(id))
		case <-ticker.C:
		}

		var resp getResultResponse
		if err := a.call(pollCtx, "/getTaskResult", getResultRequest{ClientKey: a.apiKey, TaskID: id}, &resp); err != nil {
			if pollCtx.Err() != nil {
				return 0, types.NewCaptchaTimeoutError(a.name, string(id))
			}
			return 0, err
		}
		if resp.ErrorID != 0 {
			return 0, a.mapError(resp.ErrorCode, resp.ErrorDescription, string(id))
		}

		switch resp.Status {
		case "ready":
			if len(resp.Solution) == 0 {
				return 0, fmt.Errorf("%s: ready status without a solution", a.name)
			}
			if err := json.Unmarshal(resp.Solution, solution); err != nil {
				return 0, fmt.Errorf("%s: failed to parse solution: %w", a.name, err)
			}
			return parseCost(resp.Cost), nil
		case "failed":
			return 0, types.NewCaptchaRejectedError(a.name, "failed", "task failed")
		}

		log.Debug().
			Str("provider", a.name).
			Str("task_id", string(id)).
			Str("status", resp.Status).
			Msg("Captcha task still processing")
	}
}

// balance returns the account balance in USD.
func (a *taskAPI) balance(ctx context.Context) (float64, error) {
	var resp balanceResponse
	if err := a.call(ctx, "/getBalance", map[string]string{"clientKey": a.apiKey}, &resp); err != nil {
		return 0, err
	}
	if resp.ErrorID != 0 {
		return 0, a.mapError(resp.ErrorCode, resp.ErrorDescription, "")
	}
	return resp.Balance, nil
}

// parseCost reads a cost sent as a number or a numeric string.
func parseCost(raw json.RawMessage) float64 {
	s := strings.Trim(string(raw), `"`)
	cost, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return cost
}

// newHTTPClient returns a client whose timeout leaves room for the solve timeout.
func newHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{Timeout: timeout + 10*time.Second}
}

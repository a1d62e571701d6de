package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"safe-code-exec/internal/config"
	"safe-code-exec/internal/executor"
	"safe-code-exec/internal/monitor"
	"safe-code-exec/internal/policy"
	"safe-code-exec/internal/sandbox"
	"safe-code-exec/internal/storage"
)

type stubBackend struct {
	result *sandbox.RunResult
	err    error
}

func (s *stubBackend) Name() string { return "stub" }

func (s *stubBackend) Run(_ context.Context, _ string, _ time.Duration) (*sandbox.RunResult, error) {
	return s.result, s.err
}

func (s *stubBackend) Health(_ context.Context) sandbox.Health {
	return sandbox.Health{Available: true}
}

func (s *stubBackend) Close() error { return nil }

func newTestHandlers(b sandbox.Backend) *Handlers {
	cfg := config.DefaultConfig()
	v := policy.NewValidator(policy.DefaultPolicyLimits(), nil)
	exec := executor.New(v, b, cfg, monitor.NewMetrics())
	return NewHandlers(exec, nil, nil, monitor.NewMetrics())
}

func postJSON(t *testing.T, handler http.HandlerFunc, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest("POST", "/", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	handler(w, req)
	return w
}

func TestHandleExecute_Success(t *testing.T) {
	h := newTestHandlers(&stubBackend{result: &sandbox.RunResult{ExitCode: 0, Stdout: "42\n"}})

	w := postJSON(t, h.HandleExecute, `{"code": "print(6 * 7)"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	var resp ExecuteResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != "success" {
		t.Errorf("status = %q, want success", resp.Status)
	}
	if resp.Output == nil || *resp.Output != "42" {
		t.Errorf("output = %v, want 42", resp.Output)
	}
	if resp.Error != nil {
		t.Errorf("error = %v, want null", *resp.Error)
	}
}

func TestHandleExecute_NullFieldsOnWire(t *testing.T) {
	h := newTestHandlers(&stubBackend{result: &sandbox.RunResult{ExitCode: 0, Stdout: ""}})

	w := postJSON(t, h.HandleExecute, `{"code": "x = 1"}`)

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(w.Body.Bytes(), &raw); err != nil {
		t.Fatalf("decode: %v", err)
	}
	// Empty output and no error serialize as JSON null, never "".
	if string(raw["output"]) != "null" {
		t.Errorf("output on wire = %s, want null", raw["output"])
	}
	if string(raw["error"]) != "null" {
		t.Errorf("error on wire = %s, want null", raw["error"])
	}
}

func TestHandleSubmit_ReturnsID(t *testing.T) {
	b := &stubBackend{result: &sandbox.RunResult{ExitCode: 0, Stdout: "ok\n"}}
	cfg := config.DefaultConfig()
	v := policy.NewValidator(policy.DefaultPolicyLimits(), nil)
	exec := executor.New(v, b, cfg, nil)
	// Unstarted writer: Log only buffers, nothing touches a database.
	h := NewHandlers(exec, nil, storage.NewAuditWriter(nil, 4), monitor.NewMetrics())

	w := postJSON(t, h.HandleSubmit, `{"code": "print('ok')"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	var resp SubmitResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.ID == "" {
		t.Error("submission ID missing")
	}
	if resp.Status != "success" {
		t.Errorf("status = %q, want success", resp.Status)
	}
}

func TestHandleSubmit_NoDatabase(t *testing.T) {
	h := newTestHandlers(&stubBackend{result: &sandbox.RunResult{ExitCode: 0, Stdout: "ok\n"}})

	w := postJSON(t, h.HandleSubmit, `{"code": "print('ok')"}`)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503 without a persistence sink", w.Code)
	}

	var resp ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Code != "DB_UNAVAILABLE" {
		t.Errorf("code = %q, want DB_UNAVAILABLE", resp.Code)
	}
}

func TestHandleExecute_RejectedByPolicy(t *testing.T) {
	h := newTestHandlers(&stubBackend{result: &sandbox.RunResult{ExitCode: 0, Stdout: "should not run"}})

	w := postJSON(t, h.HandleExecute, `{"code": "import os\nos.system('ls')"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 with error payload", w.Code)
	}

	var resp ExecuteResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != "error" {
		t.Errorf("status = %q, want error", resp.Status)
	}
	if resp.Error == nil || !strings.Contains(*resp.Error, "validation failed") {
		t.Errorf("error = %v, want validation failure", resp.Error)
	}
	if resp.ExecutionTime != 0 {
		t.Errorf("execution_time = %f, want 0 for rejected code", resp.ExecutionTime)
	}
	if resp.Output != nil {
		t.Errorf("output = %q, want null for rejected code", *resp.Output)
	}
}

func TestHandleExecute_BadRequests(t *testing.T) {
	h := newTestHandlers(&stubBackend{})

	tests := []struct {
		name string
		body string
	}{
		{"invalid json", `{"code":`},
		{"empty code", `{"code": ""}`},
		{"missing code", `{}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := postJSON(t, h.HandleExecute, tt.body)
			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", w.Code)
			}
			var resp ErrorResponse
			if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if resp.Code != "INVALID_REQUEST" {
				t.Errorf("code = %q, want INVALID_REQUEST", resp.Code)
			}
		})
	}
}

func TestHandleValidate(t *testing.T) {
	h := newTestHandlers(&stubBackend{})

	w := postJSON(t, h.HandleValidate, `{"code": "import os"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	var resp ValidateResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.IsSafe {
		t.Error("is_safe = true for dangerous import")
	}
	if len(resp.Violations) == 0 {
		t.Error("violations empty for dangerous import")
	}
}

func TestHandleValidate_SafeCodeEmptyViolations(t *testing.T) {
	h := newTestHandlers(&stubBackend{})

	w := postJSON(t, h.HandleValidate, `{"code": "print(1)"}`)

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(w.Body.Bytes(), &raw); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if string(raw["is_safe"]) != "true" {
		t.Errorf("is_safe = %s, want true", raw["is_safe"])
	}
	// Violations serialize as [], never null.
	if string(raw["violations"]) != "[]" {
		t.Errorf("violations on wire = %s, want []", raw["violations"])
	}
}

func TestHandleGetSubmission_NoDatabase(t *testing.T) {
	h := newTestHandlers(&stubBackend{})

	req := httptest.NewRequest("GET", "/submissions/abc", nil)
	req.SetPathValue("id", "abc")
	w := httptest.NewRecorder()
	h.HandleGetSubmission(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503 without database", w.Code)
	}
}

func TestHandleListSubmissions_NoDatabase(t *testing.T) {
	h := newTestHandlers(&stubBackend{})

	req := httptest.NewRequest("GET", "/submissions", nil)
	w := httptest.NewRecorder()
	h.HandleListSubmissions(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503 without database", w.Code)
	}
}

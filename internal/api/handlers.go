package api

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"safe-code-exec/internal/executor"
	"safe-code-exec/internal/monitor"
	"safe-code-exec/internal/storage"
)

type Handlers struct {
	exec        *executor.Executor
	db          *storage.DB
	auditWriter *storage.AuditWriter
	metrics     *monitor.Metrics
}

func NewHandlers(exec *executor.Executor, db *storage.DB, auditWriter *storage.AuditWriter, metrics *monitor.Metrics) *Handlers {
	return &Handlers{
		exec:        exec,
		db:          db,
		auditWriter: auditWriter,
		metrics:     metrics,
	}
}

// HandleExecute runs code without persisting anything. HandleSubmit is the
// persisting variant.
func (h *Handlers) HandleExecute(w http.ResponseWriter, r *http.Request) {
	result, ok := h.runExecution(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, executeResponse(result))
}

// HandleSubmit runs code and stores the sanitized result as a submission
// record. The record ID is returned so the caller can fetch it later.
func (h *Handlers) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	// A submission ID must be resolvable later; without a sink the caller
	// should use /execute instead.
	if h.auditWriter == nil {
		writeError(w, "database not configured", "DB_UNAVAILABLE", http.StatusServiceUnavailable, r)
		return
	}

	var req ExecuteRequest
	start := time.Now()

	result, ok := h.runExecutionInto(w, r, &req)
	if !ok {
		return
	}

	id := uuid.New().String()
	h.logAudit(id, result, req.Code, h.exec.Backend().Name(), start, r)

	writeJSON(w, http.StatusOK, SubmitResponse{
		ID:              id,
		ExecuteResponse: executeResponse(result),
	})
}

func (h *Handlers) runExecution(w http.ResponseWriter, r *http.Request) (*executor.Result, bool) {
	var req ExecuteRequest
	return h.runExecutionInto(w, r, &req)
}

func (h *Handlers) runExecutionInto(w http.ResponseWriter, r *http.Request, req *ExecuteRequest) (*executor.Result, bool) {
	if err := json.NewDecoder(r.Body).Decode(req); err != nil {
		writeError(w, "invalid JSON: "+err.Error(), "INVALID_REQUEST", http.StatusBadRequest, r)
		return nil, false
	}

	if req.Code == "" {
		writeError(w, "code is required", "INVALID_REQUEST", http.StatusBadRequest, r)
		return nil, false
	}

	h.metrics.CodeSizeBytes.Observe(float64(len(req.Code)))
	h.metrics.ActiveExecutions.Inc()
	defer h.metrics.ActiveExecutions.Dec()

	result := h.exec.Execute(r.Context(), req.Code)

	backend := h.exec.Backend().Name()
	h.metrics.RecordExecution(backend, string(result.Status), result.ExecutionTime.Seconds())
	if result.Output != nil {
		h.metrics.OutputSizeBytes.Observe(float64(len(*result.Output)))
	}

	return &result, true
}

func executeResponse(result *executor.Result) ExecuteResponse {
	return ExecuteResponse{
		Output:        result.Output,
		Error:         result.Error,
		Status:        string(result.Status),
		ExecutionTime: result.ExecutionTime.Seconds(),
	}
}

func (h *Handlers) HandleValidate(w http.ResponseWriter, r *http.Request) {
	var req ValidateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid JSON: "+err.Error(), "INVALID_REQUEST", http.StatusBadRequest, r)
		return
	}

	if req.Code == "" {
		writeError(w, "code is required", "INVALID_REQUEST", http.StatusBadRequest, r)
		return
	}

	decision := h.exec.Validate(req.Code)
	h.metrics.RecordValidation(decision.Safe, len(decision.Violations))

	if !decision.Safe && h.db != nil {
		rec := &storage.RejectionRecord{
			CodeHash:   fmt.Sprintf("%x", sha256.Sum256([]byte(req.Code))),
			Violations: decision.Reason(),
			Complexity: decision.Complexity,
			RequestIP:  r.RemoteAddr,
		}
		if err := h.db.LogRejection(r.Context(), rec); err != nil {
			log.Warn().Err(err).Msg("failed to record rejection")
		}
	}

	// Violations is never null on the wire, rejected or not.
	violations := decision.Violations
	if violations == nil {
		violations = []string{}
	}

	writeJSON(w, http.StatusOK, ValidateResponse{
		IsSafe:     decision.Safe,
		Violations: violations,
		Complexity: decision.Complexity,
	})
}

func (h *Handlers) HandleGetSubmission(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, "submission ID required", "INVALID_REQUEST", http.StatusBadRequest, r)
		return
	}

	if h.db == nil {
		writeError(w, "database not configured", "DB_UNAVAILABLE", http.StatusServiceUnavailable, r)
		return
	}

	sub, err := h.db.GetSubmission(r.Context(), id)
	if err != nil {
		writeError(w, "submission not found", "NOT_FOUND", http.StatusNotFound, r)
		return
	}

	writeJSON(w, http.StatusOK, sub)
}

func (h *Handlers) HandleListSubmissions(w http.ResponseWriter, r *http.Request) {
	if h.db == nil {
		writeError(w, "database not configured", "DB_UNAVAILABLE", http.StatusServiceUnavailable, r)
		return
	}

	filter := storage.SubmissionFilter{
		Backend: r.URL.Query().Get("backend"),
		Status:  r.URL.Query().Get("status"),
		Limit:   100,
	}

	subs, err := h.db.ListSubmissions(r.Context(), filter)
	if err != nil {
		writeError(w, "query failed", "INTERNAL", http.StatusInternalServerError, r)
		return
	}

	if subs == nil {
		subs = []storage.Submission{}
	}
	writeJSON(w, http.StatusOK, subs)
}

func (h *Handlers) logAudit(id string, result *executor.Result, code, backend string, start time.Time, r *http.Request) {
	if h.auditWriter == nil {
		return
	}

	output := ""
	if result.Output != nil {
		output = *result.Output
	}
	errMsg := ""
	if result.Error != nil {
		errMsg = *result.Error
	}

	completedAt := time.Now()
	h.auditWriter.Log(&storage.Submission{
		ID:              id,
		CodeHash:        fmt.Sprintf("%x", sha256.Sum256([]byte(code))),
		Backend:         backend,
		Output:          output,
		Error:           errMsg,
		Status:          string(result.Status),
		ExecutionTimeMS: result.ExecutionTime.Milliseconds(),
		RequestIP:       r.RemoteAddr,
		CreatedAt:       start,
		CompletedAt:     &completedAt,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

func writeError(w http.ResponseWriter, msg, code string, status int, r *http.Request) {
	resp := ErrorResponse{
		Error:     msg,
		Code:      code,
		RequestID: RequestIDFromContext(r.Context()),
	}
	writeJSON(w, status, resp)
}

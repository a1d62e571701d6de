package api

// ExecuteRequest is the API-level request to validate and run code.
type ExecuteRequest struct {
	Code string `json:"code"`
}

// ExecuteResponse mirrors the execution result contract: output and error
// are null when absent, never empty strings, and status is success exactly
// when error is null. ExecutionTime is in seconds.
type ExecuteResponse struct {
	Output        *string `json:"output"`
	Error         *string `json:"error"`
	Status        string  `json:"status"`
	ExecutionTime float64 `json:"execution_time"`
}

// SubmitResponse is an ExecuteResponse plus the identifier of the stored
// submission record.
type SubmitResponse struct {
	ID string `json:"id"`
	ExecuteResponse
}

// ValidateRequest is the API-level request for static analysis only.
type ValidateRequest struct {
	Code string `json:"code"`
}

// ValidateResponse reports the policy decision without executing anything.
type ValidateResponse struct {
	IsSafe     bool     `json:"is_safe"`
	Violations []string `json:"violations"`
	Complexity int      `json:"complexity"`
}

// ErrorResponse is returned for API errors.
type ErrorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"request_id"`
}

// HealthResponse is returned by the health check endpoint.
type HealthResponse struct {
	Status   string `json:"status"`
	Backend  string `json:"backend"`
	Engine   bool   `json:"engine"`
	Database bool   `json:"database"`
	Uptime   string `json:"uptime"`
}

package storage

import "time"

// Submission represents a stored execution record. Output and Error hold
// the sanitized values returned to the caller, never raw backend output.
type Submission struct {
	ID              string     `json:"id" db:"id"`
	CodeHash        string     `json:"code_hash" db:"code_hash"`
	Backend         string     `json:"backend" db:"backend"`
	Output          string     `json:"output" db:"output"`
	Error           string     `json:"error" db:"error"`
	Status          string     `json:"status" db:"status"` // success, error, timeout, memory_limit
	Complexity      int        `json:"complexity" db:"complexity"`
	ExecutionTimeMS int64      `json:"execution_time_ms" db:"execution_time_ms"`
	RequestIP       string     `json:"request_ip" db:"request_ip"`
	APIKeyHash      string     `json:"api_key_hash,omitempty" db:"api_key_hash"`
	CreatedAt       time.Time  `json:"created_at" db:"created_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty" db:"completed_at"`
}

// RejectionRecord stores validation rejections for audit. Code never
// reaches a backend in these cases, only the violations are kept.
type RejectionRecord struct {
	ID         string    `json:"id" db:"id"`
	CodeHash   string    `json:"code_hash" db:"code_hash"`
	Violations string    `json:"violations" db:"violations"`
	Complexity int       `json:"complexity" db:"complexity"`
	RequestIP  string    `json:"request_ip" db:"request_ip"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

// SubmissionFilter provides criteria for querying submissions.
type SubmissionFilter struct {
	Backend string
	Status  string
	Since   *time.Time
	Until   *time.Time
	Limit   int
	Offset  int
}

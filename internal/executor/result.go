package executor

import "time"

// Status is the closed set of execution outcomes.
type Status string

const (
	StatusSuccess     Status = "success"
	StatusError       Status = "error"
	StatusTimeout     Status = "timeout"
	StatusMemoryLimit Status = "memory_limit"
)

// Result is the entire contract surface handed upward. Output and Error are
// pointers so "absent" is distinguishable from empty; Status is success if
// and only if Error is nil.
type Result struct {
	Output        *string       `json:"output"`
	Error         *string       `json:"error"`
	Status        Status        `json:"status"`
	ExecutionTime time.Duration `json:"execution_time"`
}

func successResult(output string, elapsed time.Duration) Result {
	r := Result{Status: StatusSuccess, ExecutionTime: elapsed}
	if output != "" {
		r.Output = &output
	}
	return r
}

func failureResult(status Status, message string, elapsed time.Duration) Result {
	return Result{Status: status, Error: &message, ExecutionTime: elapsed}
}

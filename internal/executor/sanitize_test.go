package executor

import (
	"strings"
	"testing"
)

func TestSanitizeError(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			"absolute path",
			"Error in /tmp/sandbox-abc/main.py: boom",
			"Error in <path>: boom",
		},
		{
			"nested library path",
			"File /usr/local/lib/python3.12/site-packages/pandas/core/frame.py, line 3",
			"File <path>, line 3",
		},
		{
			"container id",
			"container 4f9d2a1b8c3e0f5a6b7c exited",
			"container <id> exited",
		},
		{
			"short hex kept",
			"object at 0xdeadbeef",
			"object at 0xdeadbeef",
		},
		{
			"diagnostics kept",
			"ZeroDivisionError: division by zero on line 2",
			"ZeroDivisionError: division by zero on line 2",
		},
		{
			"single-component path kept",
			"no module named /x",
			"no module named /x",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SanitizeError(tt.in); got != tt.want {
				t.Errorf("SanitizeError(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestSanitizeError_CapsLength(t *testing.T) {
	long := strings.Repeat("e", 5000)
	got := SanitizeError(long)

	if len(got) > maxErrorLength+len("... [truncated]") {
		t.Errorf("len = %d, want capped near %d", len(got), maxErrorLength)
	}
	if !strings.HasSuffix(got, "... [truncated]") {
		t.Error("truncated message missing marker")
	}
}

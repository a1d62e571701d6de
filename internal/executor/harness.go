package executor

import "strings"

// harnessPreamble imports exactly the modules the policy allow-list
// guarantees are available in the execution image. The trailer prints a
// bounded diagnostic to stderr and exits non-zero; the success path runs
// user code unmodified.
const harnessPreamble = `import sys
import traceback
import pandas as pd
import scipy
import numpy as np

try:
`

const harnessTrailer = `
except Exception as e:
    print(f"Error: {e}", file=sys.stderr)
    traceback.print_exc(limit=8, file=sys.stderr)
    sys.exit(1)
`

// BuildHarness wraps validated user code in the fixed preamble and
// error-trapping trailer, re-indenting it under the guarded block.
func BuildHarness(code string) string {
	var b strings.Builder
	b.Grow(len(harnessPreamble) + len(code) + len(code)/10 + len(harnessTrailer))

	b.WriteString(harnessPreamble)
	if strings.TrimSpace(code) == "" {
		code = "pass"
	}
	for i, line := range strings.Split(code, "\n") {
		if i > 0 {
			b.WriteByte('\n')
		}
		if line != "" {
			b.WriteString("    ")
			b.WriteString(line)
		}
	}
	b.WriteString(harnessTrailer)
	return b.String()
}

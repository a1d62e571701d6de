package executor

import (
	"regexp"
	"strings"
)

// Sanitization removes operational internals from error text before it
// crosses the trust boundary: filesystem paths, container/session-like hex
// identifiers, and unbounded length. It never removes legitimate
// diagnostic content (exception type, message, line numbers).

const maxErrorLength = 2000

var (
	// Absolute paths with at least two components: /tmp/sandbox-abc/main.py,
	// /usr/local/lib/python3.12/...
	pathPattern = regexp.MustCompile(`(?:/[\w.\-]+){2,}`)

	// Hex tokens of 12+ chars look like container IDs, exec IDs or session
	// handles. Shorter hex (addresses in tracebacks truncated to 8) stays.
	hexTokenPattern = regexp.MustCompile(`\b[0-9a-fA-F]{12,}\b`)
)

// SanitizeError strips operational internals and caps the message length.
func SanitizeError(msg string) string {
	msg = pathPattern.ReplaceAllString(msg, "<path>")
	msg = hexTokenPattern.ReplaceAllString(msg, "<id>")
	msg = strings.TrimSpace(msg)

	if len(msg) > maxErrorLength {
		msg = msg[:maxErrorLength] + "... [truncated]"
	}
	return msg
}

package policy

import (
	"regexp"
)

// PrefilterPattern is one textual rule of the cheap pre-parse scan. The
// prefilter is defense in depth ahead of the structural walk: it runs on the
// raw text, so it fires even when the submission does not parse.
type PrefilterPattern struct {
	Name    string
	Message string
	Regex   *regexp.Regexp
}

// Prefilter scans submissions for known-dangerous substrings before any
// parsing happens.
type Prefilter struct {
	patterns []PrefilterPattern
}

func NewPrefilter() *Prefilter {
	return &Prefilter{patterns: defaultPrefilterPatterns()}
}

// Scan returns the message of every pattern that matches, in table order.
func (f *Prefilter) Scan(code string) []string {
	var hits []string
	for _, p := range f.patterns {
		if p.Regex.MatchString(code) {
			hits = append(hits, p.Message)
		}
	}
	return hits
}

func defaultPrefilterPatterns() []PrefilterPattern {
	return []PrefilterPattern{
		{
			Name:    "eval_exec",
			Message: "use of eval() or exec() is not allowed",
			Regex:   regexp.MustCompile(`(?i)\b(eval|exec)\s*\(`),
		},
		{
			Name:    "dunder_import",
			Message: "use of __import__() is not allowed",
			Regex:   regexp.MustCompile(`(?i)\b__import__\s*\(`),
		},
		{
			Name:    "file_open",
			Message: "file operations are not allowed",
			Regex:   regexp.MustCompile(`(?i)\bopen\s*\(`),
		},
		{
			Name:    "stdin_input",
			Message: "input operations are not allowed",
			Regex:   regexp.MustCompile(`(?i)\binput\s*\(`),
		},
		{
			Name:    "system_module",
			Message: "system module access is not allowed",
			Regex:   regexp.MustCompile(`(?i)\b(subprocess|os|sys)\s*\.`),
		},
		{
			Name:    "network_module",
			Message: "network operations are not allowed",
			Regex:   regexp.MustCompile(`(?i)\b(socket|urllib|requests)\s*\.`),
		},
		{
			Name:    "serialization_module",
			Message: "serialization modules are not allowed",
			Regex:   regexp.MustCompile(`(?i)\b(pickle|marshal|shelve)\s*\.`),
		},
		{
			Name:    "lowlevel_module",
			Message: "low-level system access is not allowed",
			Regex:   regexp.MustCompile(`(?i)\b(ctypes|multiprocessing)\s*\.`),
		},
		{
			Name:    "dunder_assignment",
			Message: "dunder attribute modification is not allowed",
			Regex:   regexp.MustCompile(`__\w+__\s*=[^=]`),
		},
		{
			Name:    "scope_access",
			Message: "access to global/local scope is not allowed",
			Regex:   regexp.MustCompile(`(?i)\b(globals|locals)\s*\(\s*\)`),
		},
	}
}

package policy

import (
	"fmt"
	"strings"
)

// dangerousModules are rejected by name even before the allow-list check,
// so the violation message names them explicitly.
var dangerousModules = map[string]bool{
	"os": true, "sys": true, "subprocess": true, "socket": true,
	"urllib": true, "requests": true, "http": true, "ftplib": true,
	"smtplib": true, "telnetlib": true, "xmlrpc": true,
	"pickle": true, "marshal": true, "shelve": true, "dbm": true,
	"sqlite3": true, "ctypes": true, "multiprocessing": true,
	"threading": true, "asyncio": true, "importlib": true, "pkgutil": true,
	"runpy": true, "code": true, "codeop": true,
}

// dangerousBuiltins are bare-name calls that are always rejected.
var dangerousBuiltins = map[string]bool{
	"eval": true, "exec": true, "compile": true, "__import__": true,
	"open": true, "file": true, "input": true, "raw_input": true,
	"reload": true, "execfile": true, "apply": true, "buffer": true,
	"intern": true, "globals": true, "locals": true, "vars": true,
}

// dangerousAttributes are dunder attributes used in sandbox escape idioms
// (class hierarchy traversal, frame/globals access, code object access).
var dangerousAttributes = map[string]bool{
	"__class__": true, "__bases__": true, "__subclasses__": true,
	"__mro__": true, "__globals__": true, "__code__": true,
	"__func__": true, "__self__": true, "__dict__": true,
	"__getattribute__": true, "__setattr__": true, "__delattr__": true,
}

// DefaultAllowedModules is the import allow-list: a fixed data-science
// subset. Anything absent is denied by default.
func DefaultAllowedModules() []string {
	return []string{
		"pandas", "numpy", "scipy", "math", "statistics",
		"random", "datetime", "json", "csv", "re",
		"collections", "itertools", "functools", "operator",
	}
}

// Limits are the policy ceilings. They are policy choices, not resource
// budgets, and come from configuration.
type Limits struct {
	MaxCodeLength int
	MaxLines      int
	MaxComplexity int
}

func DefaultPolicyLimits() Limits {
	return Limits{
		MaxCodeLength: 10000,
		MaxLines:      100,
		MaxComplexity: 20,
	}
}

// Decision is the outcome of validating one submission. Safe is true only
// when Violations is empty; Complexity is always computed.
type Decision struct {
	Safe       bool     `json:"is_safe"`
	Violations []string `json:"violations"`
	Complexity int      `json:"complexity"`
}

// Reason joins all violations into one message for error reporting.
func (d Decision) Reason() string {
	return strings.Join(d.Violations, "; ")
}

// Validator is the static analysis layer. It is pure and safe for
// concurrent use; identical input always yields an identical Decision.
//
// Known limitation: a name-based allow-list cannot be sound against
// semantic obfuscation (string-built names, chr() assembly, attribute-chain
// traversal). The sandbox backends are the actual trust boundary; this
// layer rejects the obvious cheaply.
type Validator struct {
	limits    Limits
	allowed   map[string]bool
	prefilter *Prefilter
}

func NewValidator(limits Limits, allowedModules []string) *Validator {
	if limits.MaxCodeLength <= 0 {
		limits = DefaultPolicyLimits()
	}
	if len(allowedModules) == 0 {
		allowedModules = DefaultAllowedModules()
	}

	allowed := make(map[string]bool, len(allowedModules))
	for _, m := range allowedModules {
		allowed[m] = true
	}

	return &Validator{
		limits:    limits,
		allowed:   allowed,
		prefilter: NewPrefilter(),
	}
}

// Validate runs the full policy: length check, textual prefilter,
// structural walk and complexity scoring. All violations are collected,
// not just the first.
func (v *Validator) Validate(code string) Decision {
	var violations []string

	if len(code) > v.limits.MaxCodeLength {
		violations = append(violations,
			fmt.Sprintf("code exceeds maximum length of %d characters", v.limits.MaxCodeLength))
	}

	// The prefilter works on raw text, so it contributes even when the
	// parse below fails.
	violations = append(violations, v.prefilter.Scan(code)...)

	complexity := 0
	nodes, err := Parse(code)
	if err != nil {
		violations = append(violations, fmt.Sprintf("syntax error: %s", err))
		complexity = 100
	} else {
		violations = append(violations, v.walkNodes(nodes)...)
		complexity = Complexity(nodes)
	}

	if complexity > v.limits.MaxComplexity {
		violations = append(violations,
			"code complexity too high (potential infinite loops or resource exhaustion)")
	}

	if lines := lineCount(code); lines > v.limits.MaxLines {
		violations = append(violations,
			fmt.Sprintf("code has too many lines (maximum %d lines allowed)", v.limits.MaxLines))
	}

	return Decision{
		Safe:       len(violations) == 0,
		Violations: violations,
		Complexity: complexity,
	}
}

func (v *Validator) walkNodes(nodes []Node) []string {
	var violations []string

	for _, n := range nodes {
		switch n.Kind {
		case KindImport:
			root := n.Name
			if i := strings.Index(root, "."); i > 0 {
				root = root[:i]
			}
			switch {
			case dangerousModules[n.Name] || dangerousModules[root]:
				violations = append(violations,
					fmt.Sprintf("import of dangerous module '%s' is not allowed", n.Name))
			case !v.allowed[n.Name] && !v.allowed[root]:
				violations = append(violations,
					fmt.Sprintf("import of module '%s' is not allowed", n.Name))
			}

		case KindCall:
			if dangerousBuiltins[n.Name] {
				violations = append(violations,
					fmt.Sprintf("use of dangerous function '%s' is not allowed", n.Name))
			}

		case KindAttribute:
			if dangerousAttributes[n.Name] {
				violations = append(violations,
					fmt.Sprintf("access to dangerous attribute '%s' is not allowed", n.Name))
			}

		case KindAssign:
			if strings.HasPrefix(n.Name, "__") {
				violations = append(violations, "assignment to dunder variables is not allowed")
			}
		}
	}

	return violations
}

// Complexity is a weighted count of control-flow and definition constructs,
// used as a resource-risk proxy: loops and conditionals +1, function
// definitions +2, class definitions +3.
func Complexity(nodes []Node) int {
	score := 0
	for _, n := range nodes {
		switch n.Kind {
		case KindLoop, KindConditional:
			score++
		case KindFunctionDef:
			score += 2
		case KindClassDef:
			score += 3
		}
	}
	return score
}

func lineCount(code string) int {
	return strings.Count(code, "\n") + 1
}

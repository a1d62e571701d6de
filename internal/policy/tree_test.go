package policy

import (
	"reflect"
	"testing"
)

func kinds(nodes []Node) []NodeKind {
	if len(nodes) == 0 {
		return nil
	}
	out := make([]NodeKind, len(nodes))
	for i, n := range nodes {
		out[i] = n.Kind
	}
	return out
}

func TestParse_Imports(t *testing.T) {
	tests := []struct {
		name string
		code string
		want []string // import names in order
	}{
		{"single", "import os", []string{"os"}},
		{"multiple", "import os, json", []string{"os", "json"}},
		{"aliased", "import pandas as pd", []string{"pandas"}},
		{"dotted", "import numpy.linalg", []string{"numpy.linalg"}},
		{"from import", "from collections import Counter", []string{"collections"}},
		{"from dotted", "from scipy.stats import norm", []string{"scipy.stats"}},
		{"mixed alias list", "import json, pickle as p", []string{"json", "pickle"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			nodes, err := Parse(tt.code)
			if err != nil {
				t.Fatalf("Parse: %v", err)
			}
			var got []string
			for _, n := range nodes {
				if n.Kind == KindImport {
					got = append(got, n.Name)
				}
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("imports = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParse_NodeKinds(t *testing.T) {
	tests := []struct {
		name string
		code string
		want []NodeKind
	}{
		{"call", "print(1)", []NodeKind{KindCall}},
		{"attribute", "df.head", []NodeKind{KindAttribute}},
		{"attribute call", "df.head()", []NodeKind{KindAttribute}},
		{"assign", "x = 1", []NodeKind{KindAssign}},
		{"augmented assign ignored", "x += 1", nil},
		{"equality is not assign", "x == 1", nil},
		{"for loop", "for i in range(3):\n    pass", []NodeKind{KindLoop, KindCall}},
		{"while loop", "while True:\n    pass", []NodeKind{KindLoop}},
		{"conditional", "if x:\n    pass", []NodeKind{KindConditional}},
		{"elif counts", "if x:\n    pass\nelif y:\n    pass", []NodeKind{KindConditional, KindConditional}},
		{"function def", "def f():\n    return 1", []NodeKind{KindFunctionDef}},
		{"async function def", "async def f():\n    return 1", []NodeKind{KindFunctionDef}},
		{"class def", "class C:\n    pass", []NodeKind{KindClassDef}},
		{"keyword is not a call", "if (x):\n    pass", []NodeKind{KindConditional}},
		{"kwarg is not an assign", "f(x=1)", []NodeKind{KindCall}},
		{"inline suite", "if x: y = 1", []NodeKind{KindConditional, KindAssign}},
		{"semicolon statements", "x = 1; y = 2", []NodeKind{KindAssign, KindAssign}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			nodes, err := Parse(tt.code)
			if err != nil {
				t.Fatalf("Parse: %v", err)
			}
			if got := kinds(nodes); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("kinds = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParse_DefNameIsABinding(t *testing.T) {
	// The declared name is always followed by "(" or ":" but it is a
	// binding, not a use; it must never surface as a call node.
	tests := []struct {
		name string
		code string
		want []NodeKind
	}{
		{"def", "def helper(x):\n    return x", []NodeKind{KindFunctionDef}},
		{"async def", "async def fetch_rows():\n    pass", []NodeKind{KindFunctionDef}},
		{"def shadowing a builtin", "def vars(x):\n    return x", []NodeKind{KindFunctionDef}},
		{"class", "class Model:\n    pass", []NodeKind{KindClassDef}},
		{"class with base", "class Model(Base):\n    pass", []NodeKind{KindClassDef}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			nodes, err := Parse(tt.code)
			if err != nil {
				t.Fatalf("Parse: %v", err)
			}
			if got := kinds(nodes); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("kinds = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParse_StringsAndCommentsSkipped(t *testing.T) {
	nodes, err := Parse(`x = "import os"  # os.system("rm -rf /")`)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got := kinds(nodes); !reflect.DeepEqual(got, []NodeKind{KindAssign}) {
		t.Errorf("kinds = %v, want [assign]", got)
	}

	nodes, err = Parse("s = '''\nimport subprocess\n'''")
	if err != nil {
		t.Fatalf("Parse triple-quoted: %v", err)
	}
	for _, n := range nodes {
		if n.Kind == KindImport {
			t.Errorf("import inside triple-quoted string leaked into nodes: %+v", n)
		}
	}
}

func TestParse_ImplicitLineJoining(t *testing.T) {
	nodes, err := Parse("x = (1 +\n     2)")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got := kinds(nodes); !reflect.DeepEqual(got, []NodeKind{KindAssign}) {
		t.Errorf("kinds = %v, want [assign]", got)
	}
}

func TestParse_SyntaxErrors(t *testing.T) {
	tests := []struct {
		name string
		code string
	}{
		{"unterminated string", `s = 'never closed`},
		{"unterminated triple", `s = """open`},
		{"unbalanced open", "x = (1, 2"},
		{"unbalanced close", "x = 1)"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse(tt.code); err == nil {
				t.Error("expected syntax error, got nil")
			}
		})
	}
}

func TestComplexity_Weights(t *testing.T) {
	tests := []struct {
		name string
		code string
		want int
	}{
		{"empty", "x = 1", 0},
		{"loop", "for i in range(3):\n    pass", 1},
		{"conditional", "if x:\n    pass", 1},
		{"function", "def f():\n    return 1", 2},
		{"class", "class C:\n    pass", 3},
		{"mixed", "class C:\n    pass\ndef f():\n    if x:\n        pass", 6},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			nodes, err := Parse(tt.code)
			if err != nil {
				t.Fatalf("Parse: %v", err)
			}
			if got := Complexity(nodes); got != tt.want {
				t.Errorf("Complexity = %d, want %d", got, tt.want)
			}
		})
	}
}

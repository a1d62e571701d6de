package policy

// NodeKind is the closed set of structural constructs the validator walks.
type NodeKind int

const (
	KindImport NodeKind = iota
	KindCall
	KindAttribute
	KindAssign
	KindLoop
	KindConditional
	KindFunctionDef
	KindClassDef
)

func (k NodeKind) String() string {
	switch k {
	case KindImport:
		return "import"
	case KindCall:
		return "call"
	case KindAttribute:
		return "attribute"
	case KindAssign:
		return "assign"
	case KindLoop:
		return "loop"
	case KindConditional:
		return "conditional"
	case KindFunctionDef:
		return "function_def"
	case KindClassDef:
		return "class_def"
	default:
		return "unknown"
	}
}

// Node is one entry of the flattened syntax tree. Name holds the dotted
// module path for imports, the callee for calls, the attribute name for
// attribute access and the target for assignments.
type Node struct {
	Kind NodeKind
	Name string
	Line int
}

// Parse scans code and extracts the structural nodes the policy cares about.
// It is a statement-level walk, not a full grammar: precise expression shape
// is irrelevant to the allow/deny decision, only which constructs appear.
// A scan failure (unterminated string, unbalanced brackets) is returned as
// an error and the caller treats the submission as unparseable.
func Parse(code string) ([]Node, error) {
	toks, err := newScanner(code).scan()
	if err != nil {
		return nil, err
	}

	p := &treeParser{toks: toks}
	return p.walk(), nil
}

// pyKeywords are names that can never be a call target, attribute or
// assignment target. Soft keywords (match, case) are deliberately absent.
var pyKeywords = map[string]bool{
	"False": true, "None": true, "True": true, "and": true, "as": true,
	"assert": true, "async": true, "await": true, "break": true,
	"class": true, "continue": true, "def": true, "del": true, "elif": true,
	"else": true, "except": true, "finally": true, "for": true, "from": true,
	"global": true, "if": true, "import": true, "in": true, "is": true,
	"lambda": true, "nonlocal": true, "not": true, "or": true, "pass": true,
	"raise": true, "return": true, "try": true, "while": true, "with": true,
	"yield": true,
}

type treeParser struct {
	toks  []token
	pos   int
	depth int
}

func (p *treeParser) walk() []Node {
	var nodes []Node
	stmtStart := true
	var prev token

	for p.pos < len(p.toks) {
		tok := p.toks[p.pos]

		switch tok.kind {
		case tokEOF:
			return nodes

		case tokNewline:
			stmtStart = true
			p.pos++
			continue

		case tokOp:
			switch tok.text {
			case "(", "[", "{":
				p.depth++
			case ")", "]", "}":
				p.depth--
			case ";":
				stmtStart = true
				p.pos++
				prev = tok
				continue
			case ":":
				// A colon at top level opens a suite: `if x: y = 1`.
				if p.depth == 0 {
					stmtStart = true
					p.pos++
					prev = tok
					continue
				}
			}

		case tokName:
			if stmtStart && p.depth == 0 {
				switch tok.text {
				case "import":
					nodes = append(nodes, p.importList(tok.line)...)
					stmtStart = false
					prev = tok
					continue
				case "from":
					if n, ok := p.fromImport(tok.line); ok {
						nodes = append(nodes, n)
					}
					stmtStart = false
					prev = tok
					continue
				case "for", "while":
					nodes = append(nodes, Node{Kind: KindLoop, Name: tok.text, Line: tok.line})
				case "if", "elif":
					nodes = append(nodes, Node{Kind: KindConditional, Name: tok.text, Line: tok.line})
				case "def":
					nodes = append(nodes, Node{Kind: KindFunctionDef, Name: p.peekName(1), Line: tok.line})
					p.consumeDefName()
					stmtStart = false
					prev = tok
					continue
				case "class":
					nodes = append(nodes, Node{Kind: KindClassDef, Name: p.peekName(1), Line: tok.line})
					p.consumeDefName()
					stmtStart = false
					prev = tok
					continue
				case "async":
					// `async def` is counted when the def token is reached.
					p.pos++
					prev = tok
					continue
				}
			}

			if !pyKeywords[tok.text] {
				switch {
				case prev.kind == tokOp && prev.text == ".":
					nodes = append(nodes, Node{Kind: KindAttribute, Name: tok.text, Line: tok.line})
				case p.peekOp(1) == "(":
					nodes = append(nodes, Node{Kind: KindCall, Name: tok.text, Line: tok.line})
				case p.depth == 0 && p.peekOp(1) == "=":
					nodes = append(nodes, Node{Kind: KindAssign, Name: tok.text, Line: tok.line})
				}
			}
		}

		stmtStart = false
		prev = tok
		p.pos++
	}

	return nodes
}

// importList consumes `import a, b.c as d, ...` and emits one Import node
// per dotted module path.
func (p *treeParser) importList(line int) []Node {
	p.pos++ // consume "import"
	var nodes []Node

	for {
		mod, ok := p.dottedName()
		if !ok {
			return nodes
		}
		nodes = append(nodes, Node{Kind: KindImport, Name: mod, Line: line})

		if p.curName() == "as" {
			p.pos++ // "as"
			p.pos++ // alias
		}
		if p.curOp() != "," {
			return nodes
		}
		p.pos++ // ","
	}
}

// fromImport consumes `from a.b import ...` and emits an Import node for the
// source module. Imported names are not individually checked; access to them
// is caught by the call and attribute walks.
func (p *treeParser) fromImport(line int) (Node, bool) {
	p.pos++ // consume "from"

	mod, ok := p.dottedName()
	if !ok {
		return Node{}, false
	}

	// Skip until the statement ends; the module decides the verdict.
	for p.pos < len(p.toks) {
		tok := p.toks[p.pos]
		if tok.kind == tokNewline || tok.kind == tokEOF || (tok.kind == tokOp && tok.text == ";") {
			break
		}
		p.pos++
	}

	return Node{Kind: KindImport, Name: mod, Line: line}, true
}

// consumeDefName advances past a def/class keyword and the declared name.
// The name is a binding, not a use: `def open(...)` shadows the builtin and
// must not be walked as a call to it.
func (p *treeParser) consumeDefName() {
	p.pos++ // def / class
	if p.curName() != "" {
		p.pos++
	}
}

func (p *treeParser) dottedName() (string, bool) {
	if p.pos >= len(p.toks) || p.toks[p.pos].kind != tokName {
		return "", false
	}
	name := p.toks[p.pos].text
	p.pos++

	for p.curOp() == "." {
		if p.pos+1 < len(p.toks) && p.toks[p.pos+1].kind == tokName {
			name += "." + p.toks[p.pos+1].text
			p.pos += 2
		} else {
			break
		}
	}
	return name, true
}

func (p *treeParser) curName() string {
	if p.pos < len(p.toks) && p.toks[p.pos].kind == tokName {
		return p.toks[p.pos].text
	}
	return ""
}

func (p *treeParser) curOp() string {
	if p.pos < len(p.toks) && p.toks[p.pos].kind == tokOp {
		return p.toks[p.pos].text
	}
	return ""
}

func (p *treeParser) peekName(off int) string {
	if p.pos+off < len(p.toks) && p.toks[p.pos+off].kind == tokName {
		return p.toks[p.pos+off].text
	}
	return ""
}

func (p *treeParser) peekOp(off int) string {
	if p.pos+off < len(p.toks) && p.toks[p.pos+off].kind == tokOp {
		return p.toks[p.pos+off].text
	}
	return ""
}

package policy

import (
	"fmt"
	"strings"
)

// tokenKind classifies scanner output. The scanner is not a full Python
// lexer: it only needs to separate names, literals and operators well enough
// for the structural walk, and to skip comments and string contents so that
// nothing inside them is mistaken for code.
type tokenKind int

const (
	tokName tokenKind = iota
	tokNumber
	tokString
	tokOp
	tokNewline
	tokEOF
)

type token struct {
	kind tokenKind
	text string
	line int
}

// syntaxError reports a lexical problem with its source line.
type syntaxError struct {
	line int
	msg  string
}

func (e *syntaxError) Error() string {
	return fmt.Sprintf("line %d: %s", e.line, e.msg)
}

type scanner struct {
	src   []rune
	pos   int
	line  int
	depth int // bracket nesting; newlines inside brackets are joined
}

func newScanner(code string) *scanner {
	return &scanner{src: []rune(code), line: 1}
}

// scan tokenizes the whole input. Comments are dropped, string literals are
// collapsed to a single token with their contents discarded, and newlines
// inside brackets are suppressed (implicit line joining).
func (s *scanner) scan() ([]token, error) {
	var toks []token

	for {
		tok, err := s.next()
		if err != nil {
			return nil, err
		}
		if tok.kind == tokEOF {
			toks = append(toks, tok)
			return toks, nil
		}
		toks = append(toks, tok)
	}
}

func (s *scanner) next() (token, error) {
	for s.pos < len(s.src) {
		c := s.src[s.pos]

		switch {
		case c == '#':
			for s.pos < len(s.src) && s.src[s.pos] != '\n' {
				s.pos++
			}

		case c == '\n':
			s.pos++
			line := s.line
			s.line++
			if s.depth == 0 {
				return token{kind: tokNewline, line: line}, nil
			}

		case c == '\\' && s.peekAt(1) == '\n':
			s.pos += 2
			s.line++

		case c == ' ' || c == '\t' || c == '\r':
			s.pos++

		case c == '\'' || c == '"':
			line := s.line
			if err := s.skipString(c); err != nil {
				return token{}, err
			}
			return token{kind: tokString, line: line}, nil

		case isIdentStart(c):
			start := s.pos
			for s.pos < len(s.src) && isIdentPart(s.src[s.pos]) {
				s.pos++
			}
			return token{kind: tokName, text: string(s.src[start:s.pos]), line: s.line}, nil

		case c >= '0' && c <= '9':
			start := s.pos
			for s.pos < len(s.src) && (isIdentPart(s.src[s.pos]) || s.src[s.pos] == '.') {
				s.pos++
			}
			return token{kind: tokNumber, text: string(s.src[start:s.pos]), line: s.line}, nil

		default:
			return s.operator()
		}
	}

	if s.depth > 0 {
		return token{}, &syntaxError{line: s.line, msg: "unbalanced brackets at end of input"}
	}
	return token{kind: tokEOF, line: s.line}, nil
}

// multiCharOps are matched longest-first so that "==" never splits into
// two assignment tokens.
var multiCharOps = []string{
	"**=", "//=", ">>=", "<<=", "...", "!=", "==", "<=", ">=", "->", ":=",
	"+=", "-=", "*=", "/=", "%=", "&=", "|=", "^=", "@=", "**", "//", "<<", ">>",
}

func (s *scanner) operator() (token, error) {
	rest := string(s.src[s.pos:])
	for _, op := range multiCharOps {
		if strings.HasPrefix(rest, op) {
			s.pos += len(op)
			return token{kind: tokOp, text: op, line: s.line}, nil
		}
	}

	c := s.src[s.pos]
	s.pos++
	switch c {
	case '(', '[', '{':
		s.depth++
	case ')', ']', '}':
		s.depth--
		if s.depth < 0 {
			return token{}, &syntaxError{line: s.line, msg: fmt.Sprintf("unmatched %q", c)}
		}
	}
	return token{kind: tokOp, text: string(c), line: s.line}, nil
}

// skipString consumes a string literal, including triple-quoted and escaped
// forms. Contents are discarded: nothing inside a literal reaches the walk.
func (s *scanner) skipString(quote rune) error {
	startLine := s.line

	triple := s.peekAt(1) == quote && s.peekAt(2) == quote
	if triple {
		s.pos += 3
		for s.pos < len(s.src) {
			if s.src[s.pos] == '\\' {
				s.pos += 2
				continue
			}
			if s.src[s.pos] == quote && s.peekAt(1) == quote && s.peekAt(2) == quote {
				s.pos += 3
				return nil
			}
			if s.src[s.pos] == '\n' {
				s.line++
			}
			s.pos++
		}
		return &syntaxError{line: startLine, msg: "unterminated triple-quoted string"}
	}

	s.pos++
	for s.pos < len(s.src) {
		switch s.src[s.pos] {
		case '\\':
			s.pos += 2
			continue
		case quote:
			s.pos++
			return nil
		case '\n':
			return &syntaxError{line: startLine, msg: "unterminated string literal"}
		}
		s.pos++
	}
	return &syntaxError{line: startLine, msg: "unterminated string literal"}
}

func (s *scanner) peekAt(off int) rune {
	if s.pos+off >= len(s.src) {
		return 0
	}
	return s.src[s.pos+off]
}

func isIdentStart(c rune) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c > 127
}

func isIdentPart(c rune) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9')
}

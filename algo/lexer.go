package algo

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/ezachrisen/arbiter/evaluator"
)

type tokenKind int

const (
	tEOF tokenKind = iota
	tNewline
	tIndent
	tDedent
	tName
	tInt
	tDecimal
	tString
	tOp
)

func (k tokenKind) String() string {
	switch k {
	case tEOF:
		return "end of input"
	case tNewline:
		return "end of line"
	case tIndent:
		return "indent"
	case tDedent:
		return "dedent"
	case tName:
		return "name"
	case tInt, tDecimal:
		return "number"
	case tString:
		return "string"
	default:
		return "operator"
	}
}

type token struct {
	kind tokenKind
	text string // for strings, the unquoted value
	pos  evaluator.Position
}

func (t token) String() string {
	switch t.kind {
	case tName, tOp, tInt, tDecimal:
		return fmt.Sprintf("%q", t.text)
	case tString:
		return "string literal"
	}
	return t.kind.String()
}

// operators, longest first so that the scanner is greedy.
var operators = []string{
	"**=", "//=",
	"**", "//", "==", "!=", "<=", ">=", "+=", "-=", "*=", "/=", "%=",
	"+", "-", "*", "/", "%", "<", ">", "=", "(", ")", "[", "]", "{", "}", ",", ":", ".", ";",
}

// lexer splits an algorithm into tokens. Indentation is turned into
// INDENT and DEDENT tokens; newlines inside brackets are ignored.
type lexer struct {
	src    []rune
	off    int
	line   int
	col    int
	depth  int   // bracket nesting
	indent []int // indentation stack
	bol    bool  // at beginning of a logical line
	toks   []token
	errs   evaluator.ErrorList
}

func tokenize(src string) ([]token, evaluator.ErrorList) {
	src = strings.ReplaceAll(src, "\r\n", "\n")
	l := &lexer{
		src:    []rune(src),
		line:   1,
		col:    1,
		indent: []int{0},
		bol:    true,
	}
	l.run()
	return l.toks, l.errs
}

func (l *lexer) pos() evaluator.Position {
	return evaluator.Position{Line: l.line, Column: l.col}
}

func (l *lexer) peek(n int) rune {
	if l.off+n >= len(l.src) {
		return 0
	}
	return l.src[l.off+n]
}

func (l *lexer) advance() rune {
	r := l.src[l.off]
	l.off++
	if r == '\n' {
		l.line++
		l.col = 1
	} else {
		l.col++
	}
	return r
}

func (l *lexer) emit(kind tokenKind, text string, pos evaluator.Position) {
	l.toks = append(l.toks, token{kind: kind, text: text, pos: pos})
}

func (l *lexer) errorf(pos evaluator.Position, format string, args ...any) {
	l.errs = append(l.errs, evaluator.Error{Pos: pos, Msg: fmt.Sprintf(format, args...)})
}

func (l *lexer) run() {
	for l.off < len(l.src) {
		if l.bol {
			if !l.lineStart() {
				continue
			}
		}
		r := l.peek(0)
		switch {
		case r == '\n':
			p := l.pos()
			l.advance()
			if l.depth == 0 {
				l.emit(tNewline, "", p)
				l.bol = true
			}
		case r == ' ' || r == '\t' || r == '\f':
			l.advance()
		case r == '#':
			for l.off < len(l.src) && l.peek(0) != '\n' {
				l.advance()
			}
		case r == '\\' && l.peek(1) == '\n':
			l.advance()
			l.advance()
		case isIdentStart(r):
			l.name()
		case unicode.IsDigit(r) || (r == '.' && unicode.IsDigit(l.peek(1))):
			l.number()
		case r == '\'' || r == '"':
			l.str()
		default:
			l.operator()
		}
	}

	p := l.pos()
	if len(l.toks) > 0 && l.toks[len(l.toks)-1].kind != tNewline && l.toks[len(l.toks)-1].kind != tDedent {
		l.emit(tNewline, "", p)
	}
	for len(l.indent) > 1 {
		l.indent = l.indent[:len(l.indent)-1]
		l.emit(tDedent, "", p)
	}
	l.emit(tEOF, "", p)
}

// lineStart measures the indentation of a new logical line and emits
// INDENT or DEDENT tokens. Blank and comment-only lines are skipped; it
// returns false when it consumed such a line.
func (l *lexer) lineStart() bool {
	width := 0
scan:
	for l.off < len(l.src) {
		switch l.peek(0) {
		case ' ':
			width++
		case '\t':
			width += 8 - width%8
		case '\f':
		default:
			break scan
		}
		l.advance()
	}
	r := l.peek(0)
	if l.off >= len(l.src) || r == '\n' || r == '#' {
		for l.off < len(l.src) && l.peek(0) != '\n' {
			l.advance()
		}
		if l.off < len(l.src) {
			l.advance()
		}
		return false
	}

	l.bol = false
	p := l.pos()
	cur := l.indent[len(l.indent)-1]
	switch {
	case width > cur:
		l.indent = append(l.indent, width)
		l.emit(tIndent, "", p)
	case width < cur:
		for width < l.indent[len(l.indent)-1] {
			l.indent = l.indent[:len(l.indent)-1]
			l.emit(tDedent, "", p)
		}
		if width != l.indent[len(l.indent)-1] {
			l.errorf(p, "unindent does not match any outer indentation level")
		}
	}
	return true
}

func isIdentStart(r rune) bool {
	return r == '_' || unicode.IsLetter(r)
}

func isIdentPart(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

func (l *lexer) name() {
	p := l.pos()
	start := l.off
	for l.off < len(l.src) && isIdentPart(l.peek(0)) {
		l.advance()
	}
	text := string(l.src[start:l.off])
	// string prefixes: u'', r'', b''
	if (text == "u" || text == "U" || text == "r" || text == "R" || text == "b" || text == "B") && (l.peek(0) == '\'' || l.peek(0) == '"') {
		l.str()
		if n := len(l.toks); n > 0 {
			l.toks[n-1].pos = p
		}
		return
	}
	l.emit(tName, text, p)
}

func (l *lexer) number() {
	p := l.pos()
	start := l.off
	kind := tInt
	for l.off < len(l.src) && (unicode.IsDigit(l.peek(0)) || l.peek(0) == '_') {
		l.advance()
	}
	if l.peek(0) == '.' && !isIdentStart(l.peek(1)) {
		kind = tDecimal
		l.advance()
		for l.off < len(l.src) && unicode.IsDigit(l.peek(0)) {
			l.advance()
		}
	}
	if r := l.peek(0); r == 'e' || r == 'E' {
		next := l.peek(1)
		if unicode.IsDigit(next) || ((next == '+' || next == '-') && unicode.IsDigit(l.peek(2))) {
			kind = tDecimal
			l.advance()
			l.advance()
			for l.off < len(l.src) && unicode.IsDigit(l.peek(0)) {
				l.advance()
			}
		}
	}
	text := strings.ReplaceAll(string(l.src[start:l.off]), "_", "")
	if strings.HasPrefix(text, ".") {
		text = "0" + text
	}
	if strings.HasSuffix(text, ".") {
		text += "0"
	}
	if l.off < len(l.src) && isIdentStart(l.peek(0)) {
		l.errorf(l.pos(), "invalid syntax")
	}
	l.emit(kind, text, p)
}

func (l *lexer) str() {
	p := l.pos()
	quote := l.advance()
	var sb strings.Builder
	for {
		if l.off >= len(l.src) || l.peek(0) == '\n' {
			l.errorf(p, "EOL while scanning string literal")
			break
		}
		r := l.advance()
		if r == quote {
			break
		}
		if r != '\\' {
			sb.WriteRune(r)
			continue
		}
		if l.off >= len(l.src) {
			continue
		}
		e := l.advance()
		switch e {
		case 'n':
			sb.WriteRune('\n')
		case 't':
			sb.WriteRune('\t')
		case 'r':
			sb.WriteRune('\r')
		case '\\', '\'', '"':
			sb.WriteRune(e)
		case '\n':
		default:
			sb.WriteRune('\\')
			sb.WriteRune(e)
		}
	}
	l.emit(tString, sb.String(), p)
}

func (l *lexer) operator() {
	p := l.pos()
	rest := string(l.src[l.off:min(l.off+3, len(l.src))])
	for _, op := range operators {
		if strings.HasPrefix(rest, op) {
			for range []rune(op) {
				l.advance()
			}
			switch op {
			case "(", "[", "{":
				l.depth++
			case ")", "]", "}":
				if l.depth > 0 {
					l.depth--
				}
			}
			l.emit(tOp, op, p)
			return
		}
	}
	l.errorf(p, "invalid character %q", l.peek(0))
	l.advance()
}

package algo

import (
	"fmt"
	"strconv"

	"github.com/ezachrisen/arbiter/evaluator"
	"github.com/ezachrisen/arbiter/schema"
)

var keywords = map[string]bool{
	"if": true, "elif": true, "else": true, "for": true, "while": true, "in": true,
	"not": true, "and": true, "or": true, "is": true, "return": true, "pass": true,
	"break": true, "continue": true, "True": true, "False": true, "None": true,
	"def": true, "class": true, "import": true, "from": true, "lambda": true,
	"global": true, "del": true, "with": true, "try": true, "except": true,
	"raise": true, "yield": true, "assert": true,
}

// maxNesting bounds the depth of the syntax tree, which keeps both the
// parser and the interpreter within their stacks.
const maxNesting = 1000

type parser struct {
	toks  []token
	p     int
	depth int
}

// bailout carries the first syntax error out of the recursive descent.
type bailout struct {
	err evaluator.Error
}

// parse turns an algorithm into statements. Only the first syntax error
// is reported.
func parse(src string) (body []stmt, err error) {
	toks, lerrs := tokenize(src)
	if len(lerrs) > 0 {
		return nil, lerrs[:1]
	}
	p := &parser{toks: toks}
	defer func() {
		if r := recover(); r != nil {
			b, ok := r.(bailout)
			if !ok {
				panic(r)
			}
			body, err = nil, evaluator.ErrorList{b.err}
		}
	}()
	return p.file(), nil
}

// parseExpr parses a single expression, such as a test case value.
func parseExpr(src string) (x expr, err error) {
	toks, lerrs := tokenize(src)
	if len(lerrs) > 0 {
		return nil, lerrs[:1]
	}
	p := &parser{toks: toks}
	defer func() {
		if r := recover(); r != nil {
			b, ok := r.(bailout)
			if !ok {
				panic(r)
			}
			x, err = nil, evaluator.ErrorList{b.err}
		}
	}()
	x = p.exprList()
	for p.tok().kind == tNewline {
		p.next()
	}
	if p.tok().kind != tEOF {
		p.fail(p.tok().pos, "unexpected %s", p.tok())
	}
	return x, nil
}

func (p *parser) tok() token {
	return p.toks[p.p]
}

func (p *parser) peekAt(n int) token {
	if p.p+n >= len(p.toks) {
		return p.toks[len(p.toks)-1]
	}
	return p.toks[p.p+n]
}

func (p *parser) next() token {
	t := p.toks[p.p]
	if t.kind != tEOF {
		p.p++
	}
	return t
}

func (p *parser) fail(pos evaluator.Position, format string, args ...any) {
	panic(bailout{evaluator.Error{Pos: pos, Msg: fmt.Sprintf(format, args...)}})
}

func (p *parser) push(pos evaluator.Position) {
	p.depth++
	if p.depth > maxNesting {
		p.fail(pos, "too many nesting levels")
	}
}

func (p *parser) pop() {
	p.depth--
}

func (p *parser) isOp(op string) bool {
	t := p.tok()
	return t.kind == tOp && t.text == op
}

func (p *parser) isKeyword(kw string) bool {
	t := p.tok()
	return t.kind == tName && t.text == kw
}

func (p *parser) expectOp(op string) token {
	if !p.isOp(op) {
		p.fail(p.tok().pos, "invalid syntax: expected %q, found %s", op, p.tok())
	}
	return p.next()
}

func (p *parser) expectKind(k tokenKind) token {
	if p.tok().kind != k {
		p.fail(p.tok().pos, "invalid syntax: expected %s, found %s", k, p.tok())
	}
	return p.next()
}

func (p *parser) file() []stmt {
	var body []stmt
	for {
		switch p.tok().kind {
		case tEOF:
			return body
		case tNewline:
			p.next()
		case tIndent:
			p.fail(p.tok().pos, "unexpected indent")
		default:
			body = append(body, p.statement()...)
		}
	}
}

func (p *parser) statement() []stmt {
	t := p.tok()
	p.push(t.pos)
	defer p.pop()
	if t.kind == tName {
		switch t.text {
		case "if":
			p.next()
			return []stmt{p.ifStatement(t.pos)}
		case "for":
			return []stmt{p.forStatement()}
		case "while":
			p.next()
			cond := p.expr()
			return []stmt{&whileStmt{at: at{t.pos}, cond: cond, body: p.suite()}}
		case "elif", "else":
			p.fail(t.pos, "invalid syntax: %q without if", t.text)
		}
	}
	return p.simpleLine()
}

// simpleLine parses simple statements separated by ";" up to the end of
// the line.
func (p *parser) simpleLine() []stmt {
	stmts := []stmt{p.simpleStatement()}
	for p.isOp(";") {
		p.next()
		if p.tok().kind == tNewline || p.tok().kind == tEOF {
			break
		}
		stmts = append(stmts, p.simpleStatement())
	}
	if p.tok().kind != tEOF {
		p.expectKind(tNewline)
	}
	return stmts
}

func (p *parser) suite() []stmt {
	p.expectOp(":")
	if p.tok().kind != tNewline {
		return p.simpleLine()
	}
	p.next()
	p.expectKind(tIndent)
	var body []stmt
	for p.tok().kind != tDedent && p.tok().kind != tEOF {
		if p.tok().kind == tNewline {
			p.next()
			continue
		}
		body = append(body, p.statement()...)
	}
	if p.tok().kind == tDedent {
		p.next()
	}
	return body
}

func (p *parser) ifStatement(pos evaluator.Position) stmt {
	s := &ifStmt{at: at{pos}, cond: p.expr()}
	s.body = p.suite()
	switch {
	case p.isKeyword("elif"):
		t := p.next()
		s.els = []stmt{p.ifStatement(t.pos)}
	case p.isKeyword("else"):
		p.next()
		s.els = p.suite()
	}
	return s
}

func (p *parser) forStatement() stmt {
	t := p.next()
	vars := p.loopVars()
	p.expectKeyword("in")
	iter := p.exprList()
	return &forStmt{at: at{t.pos}, vars: vars, iter: iter, body: p.suite()}
}

func (p *parser) expectKeyword(kw string) {
	if !p.isKeyword(kw) {
		p.fail(p.tok().pos, "invalid syntax: expected %q, found %s", kw, p.tok())
	}
	p.next()
}

func (p *parser) loopVars() []string {
	var vars []string
	for {
		t := p.expectKind(tName)
		if keywords[t.text] {
			p.fail(t.pos, "invalid syntax: %q is a keyword", t.text)
		}
		vars = append(vars, t.text)
		if !p.isOp(",") {
			return vars
		}
		p.next()
	}
}

func (p *parser) simpleStatement() stmt {
	t := p.tok()
	if t.kind == tName {
		switch t.text {
		case "return":
			p.next()
			s := &returnStmt{at: at{t.pos}}
			if p.canStartExpr() {
				s.value = p.exprList()
			}
			return s
		case "pass":
			p.next()
			return &passStmt{at{t.pos}}
		case "break":
			p.next()
			return &breakStmt{at{t.pos}}
		case "continue":
			p.next()
			return &continueStmt{at{t.pos}}
		}
	}

	x := p.exprList()
	switch {
	case p.isOp("="):
		p.next()
		targets := p.targets(x)
		return &assignStmt{at: at{t.pos}, targets: targets, value: p.exprList()}
	case p.tok().kind == tOp && len(p.tok().text) >= 2 && p.tok().text[len(p.tok().text)-1] == '=' &&
		p.tok().text != "==" && p.tok().text != "!=" && p.tok().text != "<=" && p.tok().text != ">=":
		op := p.next().text
		targets := p.targets(x)
		if len(targets) != 1 {
			p.fail(t.pos, "illegal expression for augmented assignment")
		}
		return &assignStmt{at: at{t.pos}, targets: targets, op: op[:len(op)-1], value: p.exprList()}
	}
	return &exprStmt{at: at{t.pos}, x: x}
}

func (p *parser) targets(x expr) []expr {
	if l, ok := x.(*listExpr); ok && l.tuple {
		for _, e := range l.elts {
			p.checkTarget(e)
		}
		return l.elts
	}
	p.checkTarget(x)
	return []expr{x}
}

func (p *parser) checkTarget(x expr) {
	switch x.(type) {
	case *nameExpr, *indexExpr:
		return
	}
	p.fail(x.position(), "cannot assign to expression")
}

func (p *parser) canStartExpr() bool {
	t := p.tok()
	switch t.kind {
	case tInt, tDecimal, tString:
		return true
	case tName:
		switch t.text {
		case "True", "False", "None", "not":
			return true
		}
		return !keywords[t.text]
	case tOp:
		switch t.text {
		case "(", "[", "{", "-", "+":
			return true
		}
	}
	return false
}

// exprList parses one expression, or a tuple when expressions are
// separated by commas.
func (p *parser) exprList() expr {
	pos := p.tok().pos
	x := p.expr()
	if !p.isOp(",") {
		return x
	}
	elts := []expr{x}
	for p.isOp(",") {
		p.next()
		if !p.canStartExpr() {
			break
		}
		elts = append(elts, p.expr())
	}
	return &listExpr{at: at{pos}, elts: elts, tuple: true}
}

func (p *parser) expr() expr {
	pos := p.tok().pos
	p.push(pos)
	defer p.pop()
	x := p.orTest()
	if p.isKeyword("if") {
		p.next()
		cond := p.orTest()
		p.expectKeyword("else")
		els := p.expr()
		return &condExpr{at: at{pos}, cond: cond, then: x, els: els}
	}
	return x
}

func (p *parser) orTest() expr {
	x := p.andTest()
	depth := p.depth
	for p.isKeyword("or") {
		t := p.next()
		p.push(t.pos)
		x = &boolExpr{at: at{t.pos}, op: "or", x: x, y: p.andTest()}
	}
	p.depth = depth
	return x
}

func (p *parser) andTest() expr {
	x := p.notTest()
	depth := p.depth
	for p.isKeyword("and") {
		t := p.next()
		p.push(t.pos)
		x = &boolExpr{at: at{t.pos}, op: "and", x: x, y: p.notTest()}
	}
	p.depth = depth
	return x
}

func (p *parser) notTest() expr {
	if p.isKeyword("not") {
		t := p.next()
		p.push(t.pos)
		defer p.pop()
		return &unaryExpr{at: at{t.pos}, op: "not", x: p.notTest()}
	}
	return p.comparison()
}

func (p *parser) compareOp() (string, bool) {
	t := p.tok()
	switch {
	case t.kind == tOp:
		switch t.text {
		case "<", ">", "==", "!=", "<=", ">=":
			p.next()
			return t.text, true
		}
	case t.kind == tName && t.text == "in":
		p.next()
		return "in", true
	case t.kind == tName && t.text == "not" && p.peekAt(1).kind == tName && p.peekAt(1).text == "in":
		p.next()
		p.next()
		return "not in", true
	case t.kind == tName && t.text == "is":
		p.next()
		if p.isKeyword("not") {
			p.next()
			return "is not", true
		}
		return "is", true
	}
	return "", false
}

func (p *parser) comparison() expr {
	pos := p.tok().pos
	x := p.arith()
	c := &compareExpr{at: at{pos}, operands: []expr{x}}
	for {
		op, ok := p.compareOp()
		if !ok {
			break
		}
		c.ops = append(c.ops, op)
		c.operands = append(c.operands, p.arith())
	}
	if len(c.ops) == 0 {
		return x
	}
	return c
}

func (p *parser) arith() expr {
	x := p.term()
	depth := p.depth
	for p.isOp("+") || p.isOp("-") {
		t := p.next()
		p.push(t.pos)
		x = &binaryExpr{at: at{t.pos}, op: t.text, x: x, y: p.term()}
	}
	p.depth = depth
	return x
}

func (p *parser) term() expr {
	x := p.factor()
	depth := p.depth
	for p.isOp("*") || p.isOp("/") || p.isOp("//") || p.isOp("%") {
		t := p.next()
		p.push(t.pos)
		x = &binaryExpr{at: at{t.pos}, op: t.text, x: x, y: p.factor()}
	}
	p.depth = depth
	return x
}

func (p *parser) factor() expr {
	if p.isOp("-") || p.isOp("+") {
		t := p.next()
		p.push(t.pos)
		defer p.pop()
		return &unaryExpr{at: at{t.pos}, op: t.text, x: p.factor()}
	}
	return p.power()
}

func (p *parser) power() expr {
	x := p.postfix()
	if p.isOp("**") {
		t := p.next()
		p.push(t.pos)
		defer p.pop()
		return &binaryExpr{at: at{t.pos}, op: "**", x: x, y: p.factor()}
	}
	return x
}

func (p *parser) postfix() expr {
	x := p.atom()
	depth := p.depth
	defer func() { p.depth = depth }()
	for {
		if p.isOp("(") || p.isOp("[") || p.isOp(".") {
			p.push(p.tok().pos)
		}
		switch {
		case p.isOp("("):
			x = p.call(x)
		case p.isOp("["):
			x = p.subscript(x)
		case p.isOp("."):
			p.next()
			t := p.expectKind(tName)
			x = &attrExpr{at: at{t.pos}, x: x, name: t.text}
		default:
			return x
		}
	}
}

func (p *parser) call(fn expr) expr {
	switch fn.(type) {
	case *nameExpr, *attrExpr:
	default:
		p.fail(fn.position(), "expression is not callable")
	}
	p.expectOp("(")
	c := &callExpr{at: at{fn.position()}, fn: fn}
	for !p.isOp(")") {
		if p.tok().kind == tName && p.peekAt(1).kind == tOp && p.peekAt(1).text == "=" {
			name := p.next().text
			p.next()
			c.kwargs = append(c.kwargs, kwarg{name: name, value: p.expr()})
		} else {
			if len(c.kwargs) > 0 {
				p.fail(p.tok().pos, "positional argument follows keyword argument")
			}
			c.args = append(c.args, p.expr())
		}
		if !p.isOp(",") {
			break
		}
		p.next()
	}
	p.expectOp(")")
	return c
}

func (p *parser) subscript(x expr) expr {
	t := p.expectOp("[")
	var lo, hi expr
	if !p.isOp(":") {
		lo = p.expr()
	}
	if p.isOp(":") {
		p.next()
		if !p.isOp("]") {
			hi = p.expr()
		}
		p.expectOp("]")
		return &sliceExpr{at: at{t.pos}, x: x, lo: lo, hi: hi}
	}
	p.expectOp("]")
	return &indexExpr{at: at{t.pos}, x: x, index: lo}
}

func (p *parser) atom() expr {
	t := p.tok()
	switch t.kind {
	case tName:
		p.next()
		switch t.text {
		case "True":
			return &litExpr{at: at{t.pos}, value: true}
		case "False":
			return &litExpr{at: at{t.pos}, value: false}
		case "None":
			return &litExpr{at: at{t.pos}, value: nil}
		}
		if keywords[t.text] {
			p.fail(t.pos, "invalid syntax: unexpected %q", t.text)
		}
		return &nameExpr{at: at{t.pos}, name: t.text}
	case tInt:
		p.next()
		if i, err := strconv.ParseInt(t.text, 10, 64); err == nil {
			return &litExpr{at: at{t.pos}, value: i}
		}
		d, err := schema.ParseDecimal(t.text)
		if err != nil {
			p.fail(t.pos, "invalid number %s", t.text)
		}
		return &litExpr{at: at{t.pos}, value: d}
	case tDecimal:
		p.next()
		d, err := schema.ParseDecimal(t.text)
		if err != nil {
			p.fail(t.pos, "invalid number %s", t.text)
		}
		return &litExpr{at: at{t.pos}, value: d}
	case tString:
		s := p.next().text
		for p.tok().kind == tString {
			s += p.next().text
		}
		return &litExpr{at: at{t.pos}, value: s}
	case tOp:
		switch t.text {
		case "(":
			return p.parenthesized()
		case "[":
			return p.list()
		case "{":
			return p.dict()
		}
	}
	p.fail(t.pos, "invalid syntax: unexpected %s", t)
	return nil
}

func (p *parser) parenthesized() expr {
	t := p.expectOp("(")
	if p.isOp(")") {
		p.next()
		return &listExpr{at: at{t.pos}, tuple: true}
	}
	x := p.expr()
	if p.isKeyword("for") {
		c := p.comprehension(t.pos, x)
		p.expectOp(")")
		return c
	}
	if !p.isOp(",") {
		p.expectOp(")")
		return x
	}
	elts := []expr{x}
	for p.isOp(",") {
		p.next()
		if p.isOp(")") {
			break
		}
		elts = append(elts, p.expr())
	}
	p.expectOp(")")
	return &listExpr{at: at{t.pos}, elts: elts, tuple: true}
}

func (p *parser) list() expr {
	t := p.expectOp("[")
	l := &listExpr{at: at{t.pos}}
	if p.isOp("]") {
		p.next()
		return l
	}
	x := p.expr()
	if p.isKeyword("for") {
		c := p.comprehension(t.pos, x)
		p.expectOp("]")
		return c
	}
	l.elts = append(l.elts, x)
	for p.isOp(",") {
		p.next()
		if p.isOp("]") {
			break
		}
		l.elts = append(l.elts, p.expr())
	}
	p.expectOp("]")
	return l
}

func (p *parser) comprehension(pos evaluator.Position, elt expr) expr {
	p.expectKeyword("for")
	c := &compExpr{at: at{pos}, elt: elt, vars: p.loopVars()}
	p.expectKeyword("in")
	c.iter = p.orTest()
	for p.isKeyword("if") {
		p.next()
		c.conds = append(c.conds, p.orTest())
	}
	return c
}

func (p *parser) dict() expr {
	t := p.expectOp("{")
	d := &dictExpr{at: at{t.pos}}
	for !p.isOp("}") {
		d.keys = append(d.keys, p.expr())
		p.expectOp(":")
		d.values = append(d.values, p.expr())
		if !p.isOp(",") {
			break
		}
		p.next()
	}
	p.expectOp("}")
	return d
}

package algo

import "github.com/ezachrisen/arbiter/evaluator"

// The AST produced by the parser. Nodes carry the position of their first
// token so runtime errors can point back into the algorithm.

type node interface {
	position() evaluator.Position
}

type stmt interface {
	node
	stmtNode()
}

type expr interface {
	node
	exprNode()
}

type at struct{ pos evaluator.Position }

func (a at) position() evaluator.Position { return a.pos }

// Statements

type assignStmt struct {
	at
	targets []expr // one target, or several for tuple unpacking
	op      string // "" for plain assignment, else the binary operator of an augmented one
	value   expr
}

type exprStmt struct {
	at
	x expr
}

type ifStmt struct {
	at
	cond expr
	body []stmt
	els  []stmt // elif chains are nested ifStmts
}

type forStmt struct {
	at
	vars []string
	iter expr
	body []stmt
}

type whileStmt struct {
	at
	cond expr
	body []stmt
}

type returnStmt struct {
	at
	value expr // nil for a bare return
}

type passStmt struct{ at }
type breakStmt struct{ at }
type continueStmt struct{ at }

func (*assignStmt) stmtNode()   {}
func (*exprStmt) stmtNode()     {}
func (*ifStmt) stmtNode()       {}
func (*forStmt) stmtNode()      {}
func (*whileStmt) stmtNode()    {}
func (*returnStmt) stmtNode()   {}
func (*passStmt) stmtNode()     {}
func (*breakStmt) stmtNode()    {}
func (*continueStmt) stmtNode() {}

// Expressions

type nameExpr struct {
	at
	name string
}

type litExpr struct {
	at
	value any
}

type listExpr struct {
	at
	elts  []expr
	tuple bool
}

type dictExpr struct {
	at
	keys   []expr
	values []expr
}

type kwarg struct {
	name  string
	value expr
}

// callExpr calls a name (fn is a nameExpr) or a method (fn is an attrExpr).
type callExpr struct {
	at
	fn     expr
	args   []expr
	kwargs []kwarg
}

type attrExpr struct {
	at
	x    expr
	name string
}

type indexExpr struct {
	at
	x     expr
	index expr
}

type sliceExpr struct {
	at
	x      expr
	lo, hi expr // either may be nil
}

type unaryExpr struct {
	at
	op string // "-", "+", "not"
	x  expr
}

type binaryExpr struct {
	at
	op   string
	x, y expr
}

// boolExpr is a short-circuit "and" or "or".
type boolExpr struct {
	at
	op   string
	x, y expr
}

// compareExpr is a comparison chain: a < b <= c.
type compareExpr struct {
	at
	ops      []string // "<", "==", "in", "not in", "is", "is not", ...
	operands []expr
}

type condExpr struct {
	at
	cond, then, els expr
}

type compExpr struct {
	at
	elt   expr
	vars  []string
	iter  expr
	conds []expr
}

func (*nameExpr) exprNode()    {}
func (*litExpr) exprNode()     {}
func (*listExpr) exprNode()    {}
func (*dictExpr) exprNode()    {}
func (*callExpr) exprNode()    {}
func (*attrExpr) exprNode()    {}
func (*indexExpr) exprNode()   {}
func (*sliceExpr) exprNode()   {}
func (*unaryExpr) exprNode()   {}
func (*binaryExpr) exprNode()  {}
func (*boolExpr) exprNode()    {}
func (*compareExpr) exprNode() {}
func (*condExpr) exprNode()    {}
func (*compExpr) exprNode()    {}

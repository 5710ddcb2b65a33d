// Package algo implements the default algorithm dialect: a small,
// indentation based statement language with Python-like syntax.
//
// An algorithm is a sequence of statements (assignments, if/elif/else,
// for and while loops, return) over expressions (literals, lists, tuples,
// dicts, arithmetic, comparisons, boolean logic, conditional expressions
// and list comprehensions). Every call by name that is not a language
// builtin is resolved at run time through an evaluator.Frame, which lets
// the engine enforce its allow-lists.
//
// Numbers written with a decimal point are decimals, never floats.
package algo

import (
	"fmt"
	"slices"

	"github.com/ezachrisen/arbiter/evaluator"
)

// Compiler compiles algorithms written in the default dialect.
type Compiler struct{}

// NewCompiler returns a Compiler.
func NewCompiler() *Compiler {
	return &Compiler{}
}

// Compile parses the source and checks that every variable it reads is
// assigned somewhere in the algorithm.
func (c *Compiler) Compile(src string) (evaluator.Program, error) {
	body, err := parse(src)
	if err != nil {
		return nil, err
	}

	r := newResolver()
	r.block(body)
	if len(r.errs) > 0 {
		return nil, r.errs
	}

	return &program{
		body:  body,
		refs:  r.refs,
		notes: r.unused(),
	}, nil
}

// IsBuiltin reports whether name is a function of the language itself.
// Builtins are not subject to allow-lists.
func IsBuiltin(name string) bool {
	_, ok := builtins[name]
	return ok
}

// program is a compiled algorithm.
type program struct {
	body  []stmt
	refs  []evaluator.Reference
	notes []evaluator.Error
}

func (p *program) References() []evaluator.Reference {
	return slices.Clone(p.refs)
}

func (p *program) Notes() []evaluator.Error {
	return slices.Clone(p.notes)
}

// resolver walks the AST once to collect the names the algorithm calls
// and to find variables that are read but never assigned.
type resolver struct {
	assigned map[string]evaluator.Position // plain assignments, for the unused check
	bound    map[string]bool                // every name bound anywhere
	loaded   map[string]bool
	loads    []*nameExpr
	refs     []evaluator.Reference
	errs     evaluator.ErrorList
}

func newResolver() *resolver {
	return &resolver{
		assigned: map[string]evaluator.Position{},
		bound:    map[string]bool{},
		loaded:   map[string]bool{},
	}
}

func (r *resolver) block(body []stmt) {
	// Bindings are collected first: a name may be read in a loop body
	// before the statement that assigns it.
	for _, s := range body {
		r.bind(s)
	}
	for _, s := range body {
		r.stmt(s)
	}
	for _, n := range r.loads {
		if !r.bound[n.name] {
			r.errs = append(r.errs, evaluator.Error{Pos: n.pos, Msg: fmt.Sprintf("undefined name '%s'", n.name)})
		}
	}
	r.loads = nil
}

func (r *resolver) bind(s stmt) {
	switch s := s.(type) {
	case *assignStmt:
		for _, t := range s.targets {
			if n, ok := t.(*nameExpr); ok {
				r.bound[n.name] = true
				if _, seen := r.assigned[n.name]; !seen {
					r.assigned[n.name] = n.pos
				}
			}
		}
	case *forStmt:
		for _, v := range s.vars {
			r.bound[v] = true
		}
		for _, b := range s.body {
			r.bind(b)
		}
	case *whileStmt:
		for _, b := range s.body {
			r.bind(b)
		}
	case *ifStmt:
		for _, b := range s.body {
			r.bind(b)
		}
		for _, b := range s.els {
			r.bind(b)
		}
	}
}

func (r *resolver) stmt(s stmt) {
	switch s := s.(type) {
	case *assignStmt:
		r.expr(s.value)
		for _, t := range s.targets {
			switch t := t.(type) {
			case *nameExpr:
				if s.op != "" {
					r.load(t)
				}
			case *indexExpr:
				r.expr(t.x)
				r.expr(t.index)
			}
		}
	case *exprStmt:
		r.expr(s.x)
	case *ifStmt:
		r.expr(s.cond)
		r.stmts(s.body)
		r.stmts(s.els)
	case *forStmt:
		r.expr(s.iter)
		r.stmts(s.body)
	case *whileStmt:
		r.expr(s.cond)
		r.stmts(s.body)
	case *returnStmt:
		if s.value != nil {
			r.expr(s.value)
		}
	}
}

func (r *resolver) stmts(body []stmt) {
	for _, s := range body {
		r.stmt(s)
	}
}

func (r *resolver) load(n *nameExpr) {
	r.loaded[n.name] = true
	r.loads = append(r.loads, n)
}

func (r *resolver) expr(x expr) {
	if x == nil {
		return
	}
	switch x := x.(type) {
	case *nameExpr:
		r.load(x)
	case *listExpr:
		for _, e := range x.elts {
			r.expr(e)
		}
	case *dictExpr:
		for i := range x.keys {
			r.expr(x.keys[i])
			r.expr(x.values[i])
		}
	case *callExpr:
		switch fn := x.fn.(type) {
		case *nameExpr:
			if !IsBuiltin(fn.name) {
				r.refs = append(r.refs, evaluator.Reference{Name: fn.name, Pos: fn.pos})
			}
		case *attrExpr:
			r.expr(fn.x)
		}
		for _, a := range x.args {
			r.expr(a)
		}
		for _, k := range x.kwargs {
			r.expr(k.value)
		}
	case *attrExpr:
		r.expr(x.x)
	case *indexExpr:
		r.expr(x.x)
		r.expr(x.index)
	case *sliceExpr:
		r.expr(x.x)
		r.expr(x.lo)
		r.expr(x.hi)
	case *unaryExpr:
		r.expr(x.x)
	case *binaryExpr:
		r.expr(x.x)
		r.expr(x.y)
	case *boolExpr:
		r.expr(x.x)
		r.expr(x.y)
	case *compareExpr:
		for _, o := range x.operands {
			r.expr(o)
		}
	case *condExpr:
		r.expr(x.cond)
		r.expr(x.then)
		r.expr(x.els)
	case *compExpr:
		for _, v := range x.vars {
			r.bound[v] = true
		}
		r.expr(x.iter)
		r.expr(x.elt)
		for _, c := range x.conds {
			r.expr(c)
		}
	}
}

// unused lists the variables that are assigned but never read.
func (r *resolver) unused() []evaluator.Error {
	var notes []evaluator.Error
	for name, pos := range r.assigned {
		if !r.loaded[name] {
			notes = append(notes, evaluator.Error{Pos: pos, Msg: fmt.Sprintf("local variable '%s' is assigned to but never used", name)})
		}
	}
	slices.SortFunc(notes, func(a, b evaluator.Error) int {
		if a.Pos.Line != b.Pos.Line {
			return a.Pos.Line - b.Pos.Line
		}
		return a.Pos.Column - b.Pos.Column
	})
	return notes
}

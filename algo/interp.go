package algo

import (
	"context"
	"errors"
	"fmt"

	"github.com/ezachrisen/arbiter/evaluator"
	"github.com/ezachrisen/arbiter/schema"
)

// RuntimeError is raised by the algorithm itself: a type error, a bad
// index, a division by zero.
type RuntimeError struct {
	Pos evaluator.Position
	Msg string
}

func (e *RuntimeError) Error() string {
	return fmt.Sprintf("%s: %s", e.Pos, e.Msg)
}

type flow int

const (
	flowNext flow = iota
	flowReturn
	flowBreak
	flowContinue
)

// interp runs one program for one evaluation.
type interp struct {
	ctx   context.Context
	frame evaluator.Frame
	vars  map[string]any
	ret   any
}

// Run executes the algorithm. A program that ends without a return
// statement returns nil.
func (p *program) Run(ctx context.Context, f evaluator.Frame) (any, error) {
	in := &interp{ctx: ctx, frame: f, vars: map[string]any{}}
	if _, err := in.block(p.body); err != nil {
		return nil, err
	}
	return in.ret, nil
}

func (in *interp) errorf(n node, format string, args ...any) error {
	return &RuntimeError{Pos: n.position(), Msg: fmt.Sprintf(format, args...)}
}

// wrap attaches the position of n to errors that do not carry one.
func (in *interp) wrap(n node, err error) error {
	var re *RuntimeError
	if errors.As(err, &re) {
		return err
	}
	return &RuntimeError{Pos: n.position(), Msg: err.Error()}
}

func (in *interp) step() error {
	if in.frame == nil {
		return nil
	}
	return in.frame.Step()
}

func (in *interp) block(body []stmt) (flow, error) {
	for _, s := range body {
		fl, err := in.exec(s)
		if err != nil || fl != flowNext {
			return fl, err
		}
	}
	return flowNext, nil
}

func (in *interp) exec(s stmt) (flow, error) {
	if err := in.step(); err != nil {
		return flowNext, err
	}

	switch s := s.(type) {
	case *exprStmt:
		_, err := in.eval(s.x)
		return flowNext, err

	case *assignStmt:
		v, err := in.eval(s.value)
		if err != nil {
			return flowNext, err
		}
		if s.op != "" {
			cur, err := in.eval(s.targets[0])
			if err != nil {
				return flowNext, err
			}
			if v, err = binary(s.op, cur, v); err != nil {
				return flowNext, in.wrap(s, err)
			}
		}
		return flowNext, in.assign(s, s.targets, v)

	case *ifStmt:
		c, err := in.eval(s.cond)
		if err != nil {
			return flowNext, err
		}
		if truthy(c) {
			return in.block(s.body)
		}
		return in.block(s.els)

	case *forStmt:
		seq, err := in.eval(s.iter)
		if err != nil {
			return flowNext, err
		}
		items, err := iterate(seq)
		if err != nil {
			return flowNext, in.wrap(s, err)
		}
		for _, item := range items {
			if err := in.bindVars(s, s.vars, item); err != nil {
				return flowNext, err
			}
			fl, err := in.block(s.body)
			if err != nil {
				return flowNext, err
			}
			if fl == flowReturn {
				return fl, nil
			}
			if fl == flowBreak {
				break
			}
		}
		return flowNext, nil

	case *whileStmt:
		for {
			c, err := in.eval(s.cond)
			if err != nil {
				return flowNext, err
			}
			if !truthy(c) {
				return flowNext, nil
			}
			fl, err := in.block(s.body)
			if err != nil {
				return flowNext, err
			}
			if fl == flowReturn {
				return fl, nil
			}
			if fl == flowBreak {
				return flowNext, nil
			}
		}

	case *returnStmt:
		in.ret = nil
		if s.value != nil {
			v, err := in.eval(s.value)
			if err != nil {
				return flowNext, err
			}
			in.ret = v
		}
		return flowReturn, nil

	case *breakStmt:
		return flowBreak, nil
	case *continueStmt:
		return flowContinue, nil
	case *passStmt:
		return flowNext, nil
	}
	return flowNext, in.errorf(s, "unsupported statement")
}

// assign stores v into one target, or unpacks it over several.
func (in *interp) assign(n node, targets []expr, v any) error {
	if len(targets) == 1 {
		return in.store(targets[0], v)
	}
	items, err := unpack(v, len(targets))
	if err != nil {
		return in.wrap(n, err)
	}
	for i, t := range targets {
		if err := in.store(t, items[i]); err != nil {
			return err
		}
	}
	return nil
}

func (in *interp) bindVars(n node, names []string, v any) error {
	if len(names) == 1 {
		in.vars[names[0]] = v
		return nil
	}
	items, err := unpack(v, len(names))
	if err != nil {
		return in.wrap(n, err)
	}
	for i, name := range names {
		in.vars[name] = items[i]
	}
	return nil
}

func unpack(v any, n int) ([]any, error) {
	items, err := iterate(v)
	if err != nil {
		return nil, fmt.Errorf("cannot unpack non-iterable %s object", typeName(v))
	}
	switch {
	case len(items) < n:
		return nil, fmt.Errorf("not enough values to unpack (expected %d, got %d)", n, len(items))
	case len(items) > n:
		return nil, fmt.Errorf("too many values to unpack (expected %d)", n)
	}
	return items, nil
}

func (in *interp) store(target expr, v any) error {
	switch t := target.(type) {
	case *nameExpr:
		in.vars[t.name] = v
		return nil
	case *indexExpr:
		c, err := in.eval(t.x)
		if err != nil {
			return err
		}
		i, err := in.eval(t.index)
		if err != nil {
			return err
		}
		switch c := c.(type) {
		case []any:
			n, ok := i.(int64)
			if !ok {
				return in.errorf(t, "list indices must be integers, not %s", typeName(i))
			}
			if n < 0 {
				n += int64(len(c))
			}
			if n < 0 || n >= int64(len(c)) {
				return in.errorf(t, "list assignment index out of range")
			}
			c[n] = v
			return nil
		case map[string]any:
			c[keyString(i)] = v
			return nil
		}
		return in.errorf(t, "'%s' object does not support item assignment", typeName(c))
	}
	return in.errorf(target, "cannot assign to expression")
}

func assignable(x expr) bool {
	switch x.(type) {
	case *nameExpr, *indexExpr:
		return true
	}
	return false
}

// keyString turns a dict key into the string the dict is indexed by.
func keyString(k any) string {
	if s, ok := k.(string); ok {
		return s
	}
	return schema.Format(k)
}

func (in *interp) eval(x expr) (any, error) {
	if err := in.step(); err != nil {
		return nil, err
	}

	switch x := x.(type) {
	case *litExpr:
		return x.value, nil

	case *nameExpr:
		v, ok := in.vars[x.name]
		if !ok {
			return nil, in.errorf(x, "local variable '%s' referenced before assignment", x.name)
		}
		return v, nil

	case *listExpr:
		out := make([]any, len(x.elts))
		for i, e := range x.elts {
			v, err := in.eval(e)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil

	case *dictExpr:
		out := make(map[string]any, len(x.keys))
		for i := range x.keys {
			k, err := in.eval(x.keys[i])
			if err != nil {
				return nil, err
			}
			v, err := in.eval(x.values[i])
			if err != nil {
				return nil, err
			}
			out[keyString(k)] = v
		}
		return out, nil

	case *callExpr:
		return in.call(x)

	case *attrExpr:
		v, err := in.eval(x.x)
		if err != nil {
			return nil, err
		}
		f, ok := schema.Field(v, x.name)
		if !ok {
			return nil, in.errorf(x, "'%s' object has no attribute '%s'", typeName(v), x.name)
		}
		return f, nil

	case *indexExpr:
		c, err := in.eval(x.x)
		if err != nil {
			return nil, err
		}
		i, err := in.eval(x.index)
		if err != nil {
			return nil, err
		}
		v, err := index(c, i)
		if err != nil {
			return nil, in.wrap(x, err)
		}
		return v, nil

	case *sliceExpr:
		c, err := in.eval(x.x)
		if err != nil {
			return nil, err
		}
		var lo, hi any
		if x.lo != nil {
			if lo, err = in.eval(x.lo); err != nil {
				return nil, err
			}
		}
		if x.hi != nil {
			if hi, err = in.eval(x.hi); err != nil {
				return nil, err
			}
		}
		v, err := slice(c, lo, hi)
		if err != nil {
			return nil, in.wrap(x, err)
		}
		return v, nil

	case *unaryExpr:
		v, err := in.eval(x.x)
		if err != nil {
			return nil, err
		}
		r, err := unary(x.op, v)
		if err != nil {
			return nil, in.wrap(x, err)
		}
		return r, nil

	case *binaryExpr:
		a, err := in.eval(x.x)
		if err != nil {
			return nil, err
		}
		b, err := in.eval(x.y)
		if err != nil {
			return nil, err
		}
		r, err := binary(x.op, a, b)
		if err != nil {
			return nil, in.wrap(x, err)
		}
		return r, nil

	case *boolExpr:
		a, err := in.eval(x.x)
		if err != nil {
			return nil, err
		}
		if (x.op == "and") != truthy(a) {
			return a, nil
		}
		return in.eval(x.y)

	case *compareExpr:
		left, err := in.eval(x.operands[0])
		if err != nil {
			return nil, err
		}
		for i, op := range x.ops {
			right, err := in.eval(x.operands[i+1])
			if err != nil {
				return nil, err
			}
			ok, err := compare(op, left, right)
			if err != nil {
				return nil, in.wrap(x, err)
			}
			if !ok {
				return false, nil
			}
			left = right
		}
		return true, nil

	case *condExpr:
		c, err := in.eval(x.cond)
		if err != nil {
			return nil, err
		}
		if truthy(c) {
			return in.eval(x.then)
		}
		return in.eval(x.els)

	case *compExpr:
		return in.comprehension(x)
	}
	return nil, in.errorf(x, "unsupported expression")
}

// comprehension evaluates a list comprehension. Its loop variables do not
// leak into the algorithm.
func (in *interp) comprehension(x *compExpr) (any, error) {
	seq, err := in.eval(x.iter)
	if err != nil {
		return nil, err
	}
	items, err := iterate(seq)
	if err != nil {
		return nil, in.wrap(x, err)
	}

	saved := map[string]any{}
	for _, name := range x.vars {
		if v, ok := in.vars[name]; ok {
			saved[name] = v
		}
	}
	defer func() {
		for _, name := range x.vars {
			if v, ok := saved[name]; ok {
				in.vars[name] = v
			} else {
				delete(in.vars, name)
			}
		}
	}()

	out := []any{}
outer:
	for _, item := range items {
		if err := in.bindVars(x, x.vars, item); err != nil {
			return nil, err
		}
		for _, c := range x.conds {
			ok, err := in.eval(c)
			if err != nil {
				return nil, err
			}
			if !truthy(ok) {
				continue outer
			}
		}
		v, err := in.eval(x.elt)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (in *interp) call(x *callExpr) (any, error) {
	args := make([]any, len(x.args))
	for i, a := range x.args {
		v, err := in.eval(a)
		if err != nil {
			return nil, err
		}
		args[i] = v
	}
	var kwargs map[string]any
	if len(x.kwargs) > 0 {
		kwargs = make(map[string]any, len(x.kwargs))
		for _, k := range x.kwargs {
			v, err := in.eval(k.value)
			if err != nil {
				return nil, err
			}
			kwargs[k.name] = v
		}
	}

	switch fn := x.fn.(type) {
	case *nameExpr:
		if b, ok := builtins[fn.name]; ok {
			v, err := b(args, kwargs)
			if err != nil {
				return nil, in.wrap(x, fmt.Errorf("%s(): %w", fn.name, err))
			}
			return v, nil
		}
		if in.frame == nil {
			return nil, in.errorf(x, "cannot call %s here", fn.name)
		}
		v, err := in.frame.Call(in.ctx, fn.name, args, kwargs)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", x.position(), err)
		}
		return schema.Normalize(v), nil

	case *attrExpr:
		recv, err := in.eval(fn.x)
		if err != nil {
			return nil, err
		}
		v, updated, err := callMethod(recv, fn.name, args, kwargs)
		if err != nil {
			return nil, in.wrap(x, err)
		}
		if updated != nil && assignable(fn.x) {
			if err := in.store(fn.x, updated); err != nil {
				return nil, err
			}
		}
		return v, nil
	}
	return nil, in.errorf(x, "object is not callable")
}

package cel

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/ezachrisen/arbiter/evaluator"
	celgo "github.com/google/cel-go/cel"
	"github.com/google/cel-go/common"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	exprpb "google.golang.org/genproto/googleapis/api/expr/v1alpha1"
)

// Compiler compiles CEL expressions.
type Compiler struct {
	base *celgo.Env
}

// NewCompiler returns a CEL compiler with the CEL standard library.
func NewCompiler() (*Compiler, error) {
	env, err := celgo.NewEnv()
	if err != nil {
		return nil, fmt.Errorf("creating CEL environment: %w", err)
	}
	return &Compiler{base: env}, nil
}

// signature is a callable the expression uses, with the number of
// arguments it is called with.
type signature struct {
	name  string
	arity int
}

func (s signature) overloadID() string {
	return fmt.Sprintf("%s_%d", s.name, s.arity)
}

// Compile parses the expression, collects the calls it makes and type
// checks it against dynamic declarations for those calls.
func (c *Compiler) Compile(src string) (evaluator.Program, error) {
	ast, iss := c.base.Parse(src)
	if iss != nil && iss.Err() != nil {
		return nil, errorList(iss.Errors())
	}

	parsed, err := celgo.AstToParsedExpr(ast)
	if err != nil {
		return nil, fmt.Errorf("converting CEL AST: %w", err)
	}

	w := &walker{base: c.base, info: parsed.GetSourceInfo(), seen: map[signature]bool{}}
	w.walk(parsed.GetExpr())
	sort.Slice(w.sigs, func(i, j int) bool {
		return w.sigs[i].overloadID() < w.sigs[j].overloadID()
	})

	env, err := c.base.Extend(declarations(w.sigs, nil)...)
	if err != nil {
		return nil, fmt.Errorf("declaring CEL functions: %w", err)
	}
	checked, iss := env.Check(ast)
	if iss != nil && iss.Err() != nil {
		return nil, errorList(iss.Errors())
	}

	return &program{
		base: c.base,
		ast:  checked,
		sigs: w.sigs,
		refs: refsInOrder(w),
	}, nil
}

// refsInOrder returns the calls sorted by their position in the source.
func refsInOrder(w *walker) []evaluator.Reference {
	idx := make([]int, len(w.refs))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return w.offsets[idx[a]] < w.offsets[idx[b]]
	})
	refs := make([]evaluator.Reference, 0, len(w.refs))
	for _, i := range idx {
		refs = append(refs, w.refs[i])
	}
	return refs
}

func errorList(errs []*common.Error) evaluator.ErrorList {
	out := make(evaluator.ErrorList, 0, len(errs))
	for _, e := range errs {
		out = append(out, evaluator.Error{
			Pos: evaluator.Position{Line: e.Location.Line(), Column: e.Location.Column() + 1},
			Msg: e.Message,
		})
	}
	return out
}

// declarations declares each signature as a function of dynamic
// arguments. When bind is not nil, each overload is bound to the
// function it returns.
func declarations(sigs []signature, bind func(signature) func(args ...ref.Val) ref.Val) []celgo.EnvOption {
	byName := map[string][]celgo.FunctionOpt{}
	var names []string
	for _, s := range sigs {
		argTypes := make([]*celgo.Type, s.arity)
		for i := range argTypes {
			argTypes[i] = celgo.DynType
		}
		opts := []celgo.OverloadOpt{}
		if bind != nil {
			opts = append(opts, celgo.FunctionBinding(bind(s)))
		}
		if _, ok := byName[s.name]; !ok {
			names = append(names, s.name)
		}
		byName[s.name] = append(byName[s.name], celgo.Overload(s.overloadID(), argTypes, celgo.DynType, opts...))
	}

	out := make([]celgo.EnvOption, 0, len(names))
	for _, n := range names {
		out = append(out, celgo.Function(n, byName[n]...))
	}
	return out
}

// walker finds the global calls of an expression.
type walker struct {
	base    *celgo.Env
	info    *exprpb.SourceInfo
	seen    map[signature]bool
	sigs    []signature
	refs    []evaluator.Reference
	offsets []int32
}

func (w *walker) walk(e *exprpb.Expr) {
	if e == nil {
		return
	}
	switch k := e.GetExprKind().(type) {
	case *exprpb.Expr_CallExpr:
		call := k.CallExpr
		if call.GetTarget() == nil && !w.isStandard(call.GetFunction()) {
			w.record(e.GetId(), call.GetFunction(), len(call.GetArgs()))
		}
		w.walk(call.GetTarget())
		for _, a := range call.GetArgs() {
			w.walk(a)
		}
	case *exprpb.Expr_SelectExpr:
		w.walk(k.SelectExpr.GetOperand())
	case *exprpb.Expr_ListExpr:
		for _, el := range k.ListExpr.GetElements() {
			w.walk(el)
		}
	case *exprpb.Expr_StructExpr:
		for _, entry := range k.StructExpr.GetEntries() {
			w.walk(entry.GetMapKey())
			w.walk(entry.GetValue())
		}
	case *exprpb.Expr_ComprehensionExpr:
		c := k.ComprehensionExpr
		w.walk(c.GetIterRange())
		w.walk(c.GetAccuInit())
		w.walk(c.GetLoopCondition())
		w.walk(c.GetLoopStep())
		w.walk(c.GetResult())
	}
}

// isStandard reports whether a function is an operator or part of the
// CEL standard library.
func (w *walker) isStandard(name string) bool {
	return strings.HasPrefix(name, "_") || strings.HasPrefix(name, "@") || w.base.HasFunction(name)
}

func (w *walker) record(id int64, name string, arity int) {
	offset := w.info.GetPositions()[id]
	w.refs = append(w.refs, evaluator.Reference{Name: name, Pos: w.position(offset)})
	w.offsets = append(w.offsets, offset)

	s := signature{name: name, arity: arity}
	if !w.seen[s] {
		w.seen[s] = true
		w.sigs = append(w.sigs, s)
	}
}

// position converts a character offset into a line and column.
func (w *walker) position(offset int32) evaluator.Position {
	line, start := 1, int32(0)
	for _, lo := range w.info.GetLineOffsets() {
		if offset < lo {
			break
		}
		line++
		start = lo
	}
	return evaluator.Position{Line: line, Column: int(offset-start) + 1}
}

// program is a checked CEL expression.
type program struct {
	base *celgo.Env
	ast  *celgo.Ast
	sigs []signature
	refs []evaluator.Reference
}

func (p *program) References() []evaluator.Reference {
	return slices.Clone(p.refs)
}

// Notes is always empty: CEL expressions have no variables to leave
// unused.
func (p *program) Notes() []evaluator.Error {
	return nil
}

// Run plans the checked expression in an environment whose functions are
// bound to the frame, and evaluates it.
func (p *program) Run(ctx context.Context, f evaluator.Frame) (any, error) {
	// The first error returned by the frame; CEL only carries error text.
	var fatal error

	bind := func(s signature) func(args ...ref.Val) ref.Val {
		return func(args ...ref.Val) ref.Val {
			if fatal != nil {
				return types.NewErr("evaluation aborted")
			}
			if err := f.Step(); err != nil {
				fatal = err
				return types.NewErr("%s", err.Error())
			}
			in := make([]any, len(args))
			for i, a := range args {
				in[i] = fromCEL(a)
			}
			out, err := f.Call(ctx, s.name, in, nil)
			if err != nil {
				fatal = err
				return types.NewErr("%s", err.Error())
			}
			return toCEL(out)
		}
	}

	env, err := p.base.Extend(declarations(p.sigs, bind)...)
	if err != nil {
		return nil, fmt.Errorf("binding CEL functions: %w", err)
	}
	prg, err := env.Program(p.ast, celgo.InterruptCheckFrequency(100))
	if err != nil {
		return nil, fmt.Errorf("generating CEL program: %w", err)
	}

	val, _, err := prg.ContextEval(ctx, map[string]any{})
	if fatal != nil {
		return nil, fatal
	}
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("evaluating CEL expression: %w", err)
	}
	return fromCEL(val), nil
}

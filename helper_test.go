package arbiter_test

import (
	"context"
	"flag"
	"fmt"
	"testing"

	"github.com/ezachrisen/arbiter"
	"github.com/ezachrisen/arbiter/evaluator"
	"github.com/ezachrisen/arbiter/schema"
)

// Set flag with go test -run=MyTest --debug=true
// to print validation reports and results
var debugOutput bool

func init() {
	flag.BoolVar(&debugOutput, "debug", false, "Enable detailed logging for tests")
}

func debugLogf(t *testing.T, format string, args ...any) {
	t.Helper()
	if debugOutput {
		t.Logf(format, args...)
	}
}

// fixture is an engine with a few functions registered in the "test"
// namespace, and a context "default" allowing all of them but foo.
type fixture struct {
	reg     *arbiter.Registry
	engine  *arbiter.Engine
	context *arbiter.Context
}

func newFixture(t *testing.T, opts ...arbiter.EngineOption) *fixture {
	t.Helper()
	reg := arbiter.NewRegistry()
	for _, el := range testElements() {
		if _, err := reg.Register(el); err != nil {
			t.Fatalf("registering %s: %v", el.Name, err)
		}
	}
	e := arbiter.NewEngine(reg, opts...)
	c, err := e.NewContext("default", "functions of the tests")
	if err != nil {
		t.Fatal(err)
	}
	f := &fixture{reg: reg, engine: e, context: c}
	for _, name := range []string{"test_values", "double", "warn", "fail", "whoami", "needs_contract", "remember"} {
		f.allow(t, c, "test", name)
	}
	return f
}

func (f *fixture) allow(t *testing.T, c *arbiter.Context, namespace, name string) {
	t.Helper()
	el, err := f.reg.Resolve(namespace, name)
	if err != nil {
		t.Fatal(err)
	}
	if err := c.AddElement(el); err != nil {
		t.Fatal(err)
	}
}

// rule adds a rule bound to c (the default context when nil).
func (f *fixture) rule(t *testing.T, shortName, src string, c *arbiter.Context) *arbiter.Rule {
	t.Helper()
	if c == nil {
		c = f.context
	}
	r := arbiter.NewRule(shortName, src)
	r.SetContext(c)
	if err := f.engine.AddRule(r); err != nil {
		t.Fatal(err)
	}
	return r
}

// allowRule lets rules of c call the rule with the short name.
func (f *fixture) allowRule(t *testing.T, c *arbiter.Context, shortName string) {
	t.Helper()
	if c == nil {
		c = f.context
	}
	f.allow(t, c, arbiter.RuleNamespace, shortName)
}

func (f *fixture) mustValidate(t *testing.T, r *arbiter.Rule) arbiter.Diagnostics {
	t.Helper()
	ok, diags := f.engine.Validate(context.Background(), r)
	if !ok {
		t.Fatalf("rule %s did not validate:\n%s", r.ShortName, diags.Report(r))
	}
	debugLogf(t, "%s", diags.Report(r))
	return diags
}

func testElements() []arbiter.TreeElement {
	fn := func(name string, returns schema.Type, f arbiter.Func, params ...arbiter.ParamSpec) arbiter.TreeElement {
		return arbiter.TreeElement{
			Namespace: "test",
			Name:      name,
			Kind:      arbiter.KindFunction,
			Params:    params,
			Returns:   returns,
			Func:      f,
		}
	}
	x := arbiter.ParamSpec{Name: "x", Type: schema.Int{}}
	msg := arbiter.ParamSpec{Name: "message", Type: schema.String{}}

	needsContract := fn("needs_contract", schema.String{}, func(c *arbiter.Call) (any, error) {
		return fmt.Sprint(c.Args["contract"]), nil
	})
	needsContract.Requires = []string{"contract"}

	return []arbiter.TreeElement{
		fn("test_values", schema.List{ValueType: schema.Any{}}, func(c *arbiter.Call) (any, error) {
			v, _ := c.Arg("x")
			n, ok := v.(int64)
			if !ok {
				return nil, fmt.Errorf("x is not an int: %s", schema.Format(v))
			}
			return []any{2 * n, []any{"Toto"}, []any{"Titi"}}, nil
		}, x),
		fn("double", schema.Int{}, func(c *arbiter.Call) (any, error) {
			v, _ := c.Arg("x")
			return 2 * v.(int64), nil
		}, x),
		fn("warn", nil, func(c *arbiter.Call) (any, error) {
			v, _ := c.Arg("message")
			c.AddError(fmt.Sprint(v))
			return nil, nil
		}, msg),
		fn("fail", nil, func(c *arbiter.Call) (any, error) {
			v, _ := c.Arg("message")
			return nil, c.Fail(fmt.Sprint(v))
		}, msg),
		fn("whoami", schema.String{}, func(c *arbiter.Call) (any, error) {
			return c.Rule.ShortName, nil
		}),
		// remember stores a value in the evaluation arguments for the
		// functions called after it
		fn("remember", nil, func(c *arbiter.Call) (any, error) {
			v, _ := c.Arg("x")
			c.Args["remembered"] = v
			return nil, nil
		}, x),
		needsContract,
		fn("foo", schema.Int{}, func(c *arbiter.Call) (any, error) {
			return int64(42), nil
		}),
		fn("bar", schema.Int{}, func(c *arbiter.Call) (any, error) {
			return int64(43), nil
		}),
	}
}

// mockCompiler compiles every source to a program calling the
// functions named in calls, and records the sources it compiled.
type mockCompiler struct {
	compiled []string
	calls    []string
}

func (m *mockCompiler) Compile(src string) (evaluator.Program, error) {
	m.compiled = append(m.compiled, src)
	if src == "" {
		return nil, evaluator.ErrorList{{Pos: evaluator.Position{Line: 1, Column: 1}, Msg: "empty algorithm"}}
	}
	return &mockProgram{src: src, calls: m.calls}, nil
}

type mockProgram struct {
	src   string
	calls []string
}

func (p *mockProgram) Run(ctx context.Context, f evaluator.Frame) (any, error) {
	var last any
	for _, name := range p.calls {
		if err := f.Step(); err != nil {
			return nil, err
		}
		v, err := f.Call(ctx, name, nil, nil)
		if err != nil {
			return nil, err
		}
		last = v
	}
	if last == nil {
		return p.src, nil
	}
	return last, nil
}

func (p *mockProgram) References() []evaluator.Reference {
	refs := make([]evaluator.Reference, len(p.calls))
	for i, name := range p.calls {
		refs[i] = evaluator.Reference{Name: name, Pos: evaluator.Position{Line: 1, Column: i + 1}}
	}
	return refs
}

func (p *mockProgram) Notes() []evaluator.Error {
	return nil
}

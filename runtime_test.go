package arbiter_test

import (
	"context"
	"errors"
	"testing"

	"github.com/ezachrisen/arbiter"
	"github.com/ezachrisen/arbiter/schema"
	"github.com/matryer/is"
)

func TestEvaluateDraft(t *testing.T) {
	is := is.New(t)
	f := newFixture(t)
	r := f.rule(t, "draft", "return 1", nil)

	_, err := f.engine.Evaluate(context.Background(), r, nil)
	is.True(errors.Is(err, arbiter.ErrRuleNotValidated))
	var re *arbiter.RuleError
	is.True(errors.As(err, &re))
	is.Equal(re.Rule, "draft")

	_, err = f.engine.EvaluateRule(context.Background(), "missing", nil)
	is.True(errors.Is(err, arbiter.ErrRuleNotFound))
}

func TestEvaluate(t *testing.T) {

	cases := map[string]struct {
		src    string
		args   arbiter.Args
		opts   []arbiter.EvalOption
		want   any
		errors []string
	}{
		"value":            {src: "return test_values(2)", want: []any{int64(4), []any{"Toto"}, []any{"Titi"}}},
		"keyword argument": {src: "return double(x=4)", want: int64(8)},
		"functional error": {src: "warn('too young')\nreturn 1", want: int64(1), errors: []string{"too young"}},
		"abort":            {src: "warn('first')\nfail('stop')\nreturn 1", errors: []string{"first", "stop"}},
		"required arg":     {src: "return needs_contract()", args: arbiter.Args{"contract": "C1"}, want: "C1"},
		"missing arg":      {src: "return needs_contract()", errors: []string{"contract undefined !"}},
		"overridden":       {src: "return double(1) + double(1)", opts: []arbiter.EvalOption{arbiter.WithOverrides(map[string][]any{"double": {int64(5), int64(6)}})}, want: int64(11)},
		"decimal":          {src: "return Decimal('0.1') + Decimal('0.2')", want: decimal(t, "0.3")},
	}

	for k, c := range cases {
		t.Run(k, func(t *testing.T) {
			is := is.New(t)
			f := newFixture(t)
			r := f.rule(t, "evaluated", c.src, nil)
			f.mustValidate(t, r)

			res, err := f.engine.Evaluate(context.Background(), r, c.args, c.opts...)
			is.NoErr(err)
			debugLogf(t, "%s", res)
			if !schema.Equal(res.Value, c.want) {
				t.Errorf("got %s, want %s", schema.Format(res.Value), schema.Format(c.want))
			}
			is.Equal(res.Errors, c.errors)
			is.True(res.EvalID != "")
			is.True(res.Steps > 0)
		})
	}
}

func decimal(t *testing.T, s string) any {
	t.Helper()
	d, err := schema.ParseDecimal(s)
	if err != nil {
		t.Fatal(err)
	}
	return d
}

func TestEvaluateErrors(t *testing.T) {

	cases := map[string]struct {
		src  string
		opts []arbiter.EvalOption
		err  error
	}{
		"missing argument": {src: "return double()", err: arbiter.ErrMissingArguments},
		"too many calls":   {src: "return double(1) + double(1)", opts: []arbiter.EvalOption{arbiter.WithOverrides(map[string][]any{"double": {int64(5)}})}, err: arbiter.ErrTooManyCalls},
		"step budget":      {src: "while True:\n    pass", opts: []arbiter.EvalOption{arbiter.WithMaxSteps(100)}, err: arbiter.ErrStepBudgetExceeded},
	}

	for k, c := range cases {
		t.Run(k, func(t *testing.T) {
			is := is.New(t)
			f := newFixture(t)
			r := f.rule(t, "failing", c.src, nil)
			f.mustValidate(t, r)

			res, err := f.engine.Evaluate(context.Background(), r, nil, c.opts...)
			is.Equal(res, nil)
			if !errors.Is(err, c.err) {
				t.Errorf("got %v, wanted %v", err, c.err)
			}
		})
	}
}

func TestFunctionError(t *testing.T) {
	is := is.New(t)
	f := newFixture(t)
	r := f.rule(t, "bad_input", "return test_values('x')", nil)
	f.mustValidate(t, r)

	_, err := f.engine.Evaluate(context.Background(), r, nil)
	var fe *arbiter.FunctionError
	is.True(errors.As(err, &fe))
	is.Equal(fe.Name, "test_values")
}

func TestEvaluateCancelled(t *testing.T) {
	is := is.New(t)
	f := newFixture(t, arbiter.MaxSteps(0))
	r := f.rule(t, "forever", "while True:\n    pass", nil)
	f.mustValidate(t, r)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.engine.Evaluate(ctx, r, nil)
	is.True(errors.Is(err, context.Canceled))
}

func TestSelfCall(t *testing.T) {
	is := is.New(t)
	f := newFixture(t)
	r := f.rule(t, "self", "return self()", nil)
	f.allowRule(t, nil, "self")
	f.mustValidate(t, r)

	_, err := f.engine.Evaluate(context.Background(), r, nil)
	is.True(errors.Is(err, arbiter.ErrCircularRuleCall))
	var re *arbiter.RuleError
	is.True(errors.As(err, &re))
	is.Equal(re.Path, []string{"self", "self"})
}

func TestMutualRecursion(t *testing.T) {
	is := is.New(t)
	f := newFixture(t)
	a := f.rule(t, "a", "return b()", nil)
	b := f.rule(t, "b", "return a()", nil)
	f.allowRule(t, nil, "a")
	f.allowRule(t, nil, "b")
	f.mustValidate(t, b)
	f.mustValidate(t, a)

	_, err := f.engine.Evaluate(context.Background(), a, nil)
	var re *arbiter.RuleError
	is.True(errors.As(err, &re))
	is.True(errors.Is(err, arbiter.ErrCircularRuleCall))
	is.Equal(re.Path, []string{"a", "b", "a"})
}

func TestNestedRules(t *testing.T) {
	is := is.New(t)
	f := newFixture(t)

	child := f.rule(t, "child", "warn('child')\nremember(param_n())\nreturn needs_contract() + '/' + whoami()", nil)
	is.NoErr(child.SetParams(arbiter.Param{Name: "n", Type: schema.Int{}}))
	parent := f.rule(t, "parent", "warn('parent')\nx = child(n=3)\nwarn('after')\nreturn x + '/' + whoami()", nil)
	f.allowRule(t, nil, "child")
	f.mustValidate(t, child)
	f.mustValidate(t, parent)

	args := arbiter.Args{"contract": "C1"}
	res, err := f.engine.Evaluate(context.Background(), parent, args, arbiter.WithDebug(true))
	is.NoErr(err)
	debugLogf(t, "%s", res)

	is.Equal(res.Value, "C1/child/parent")
	is.Equal(res.Errors, []string{"parent", "child", "after"}) // one accumulator
	is.Equal(args["remembered"], int64(3))                      // one set of arguments

	names := make([]string, len(res.Calls))
	for i, c := range res.Calls {
		names[i] = c.Name
	}
	is.Equal(names, []string{"warn", "warn", "param_n", "remember", "needs_contract", "whoami", "child", "warn", "whoami"})
	is.Equal(res.Calls[1].Depth, 1)
	is.Equal(res.Calls[6].Depth, 0)
}

func TestNestedAbort(t *testing.T) {
	is := is.New(t)
	f := newFixture(t)
	child := f.rule(t, "child", "fail('stop')\nreturn 1", nil)
	parent := f.rule(t, "parent", "x = child()\nwarn('after')\nreturn x", nil)
	f.allowRule(t, nil, "child")
	f.mustValidate(t, child)
	f.mustValidate(t, parent)

	res, err := f.engine.Evaluate(context.Background(), parent, nil)
	is.NoErr(err)
	is.Equal(res.Value, nil)
	is.Equal(res.Errors, []string{"stop", "after"})
}

func TestMissingParam(t *testing.T) {
	is := is.New(t)
	f := newFixture(t)
	r := f.rule(t, "age_check", "return param_age() >= 18", nil)
	is.NoErr(r.SetParams(arbiter.Param{Name: "age", Type: schema.Int{}}))
	f.mustValidate(t, r)

	res, err := f.engine.Evaluate(context.Background(), r, nil)
	is.NoErr(err)
	is.Equal(res.Value, nil)
	is.Equal(res.Errors, []string{"age undefined !"})

	res, err = f.engine.Evaluate(context.Background(), r, nil, arbiter.WithParams(map[string]any{"age": 20}))
	is.NoErr(err)
	is.Equal(res.Value, true)
}

func TestCalleeContextGoverns(t *testing.T) {
	is := is.New(t)
	f := newFixture(t)

	other, err := f.engine.NewContext("other", "")
	is.NoErr(err)
	f.allow(t, other, "test", "foo")

	child := f.rule(t, "child", "return foo()", other)
	parent := f.rule(t, "parent", "return child() + 1", nil)
	f.allowRule(t, nil, "child")
	f.mustValidate(t, child)
	f.mustValidate(t, parent)

	res, err := f.engine.Evaluate(context.Background(), parent, nil)
	is.NoErr(err)
	is.Equal(res.Value, int64(43))

	direct := f.rule(t, "direct", "return foo()", nil)
	ok, _ := f.engine.Validate(context.Background(), direct)
	is.True(!ok)
}

func TestCalleeNotValidated(t *testing.T) {
	is := is.New(t)
	f := newFixture(t)
	child := f.rule(t, "child", "return 1", nil)
	parent := f.rule(t, "parent", "return child()", nil)
	f.allowRule(t, nil, "child")
	f.mustValidate(t, child)
	f.mustValidate(t, parent)

	child.SetAlgorithm("return 2")
	_, err := f.engine.Evaluate(context.Background(), parent, nil)
	is.True(errors.Is(err, arbiter.ErrRuleNotValidated))
	var re *arbiter.RuleError
	is.True(errors.As(err, &re))
	is.Equal(re.Rule, "child")
}

func TestMaxDepth(t *testing.T) {
	is := is.New(t)
	f := newFixture(t)
	r1 := f.rule(t, "r1", "return r2()", nil)
	r2 := f.rule(t, "r2", "return r3()", nil)
	r3 := f.rule(t, "r3", "return 3", nil)
	for _, r := range []*arbiter.Rule{r3, r2, r1} {
		f.allowRule(t, nil, r.ShortName)
	}
	for _, r := range []*arbiter.Rule{r3, r2, r1} {
		f.mustValidate(t, r)
	}

	res, err := f.engine.Evaluate(context.Background(), r1, nil)
	is.NoErr(err)
	is.Equal(res.Value, int64(3))

	_, err = f.engine.Evaluate(context.Background(), r1, nil, arbiter.WithMaxDepth(2))
	is.True(errors.Is(err, arbiter.ErrMaxDepthExceeded))
}

func TestEnforceResultType(t *testing.T) {

	cases := map[string]struct {
		opts []arbiter.EngineOption
		err  error
	}{
		"advisory": {},
		"enforced": {opts: []arbiter.EngineOption{arbiter.EnforceResultType(true)}, err: arbiter.ErrResultType},
	}

	for k, c := range cases {
		t.Run(k, func(t *testing.T) {
			f := newFixture(t, c.opts...)
			r := f.rule(t, "typed", "return double(2)", nil)
			r.ResultType = schema.String{}
			f.mustValidate(t, r)

			_, err := f.engine.Evaluate(context.Background(), r, nil)
			if !errors.Is(err, c.err) {
				t.Errorf("got %v, wanted %v", err, c.err)
			}
		})
	}
}

func TestRemovedRule(t *testing.T) {
	is := is.New(t)
	f := newFixture(t)
	child := f.rule(t, "child", "return 1", nil)
	parent := f.rule(t, "parent", "return child()", nil)
	f.allowRule(t, nil, "child")
	f.mustValidate(t, child)
	f.mustValidate(t, parent)

	is.NoErr(f.engine.RemoveRule("child"))
	_, err := f.engine.Evaluate(context.Background(), parent, nil)
	is.True(errors.Is(err, arbiter.ErrUnauthorizedFunction))
}

func TestMockCompiler(t *testing.T) {
	is := is.New(t)
	mock := &mockCompiler{calls: []string{"whoami"}}
	f := newFixture(t, arbiter.WithCompiler(arbiter.DialectAlgo, mock))
	r := f.rule(t, "mocked", "anything", nil)
	f.mustValidate(t, r)

	res, err := f.engine.Evaluate(context.Background(), r, nil)
	is.NoErr(err)
	is.Equal(res.Value, "mocked")
	is.Equal(res.Steps, 1)
	is.Equal(len(mock.compiled), 1) // compiled once, at validation
}

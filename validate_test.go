package arbiter_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/ezachrisen/arbiter"
	"github.com/ezachrisen/arbiter/schema"
	"github.com/matryer/is"
)

func TestValidateUnauthorized(t *testing.T) {

	cases := map[string]struct {
		src   string
		names []string
	}{
		"one":             {src: "return foo()", names: []string{"foo"}},
		"all of them":     {src: "x = foo()\ny = bar()\nreturn x + y + double(1)", names: []string{"foo", "bar"}},
		"reported once":   {src: "return foo() + foo() + foo()", names: []string{"foo"}},
		"unknown as well": {src: "return nowhere(1) + bar()", names: []string{"nowhere", "bar"}},
	}

	for k, c := range cases {
		t.Run(k, func(t *testing.T) {
			is := is.New(t)
			f := newFixture(t)
			r := f.rule(t, "calls_foo", c.src, nil)

			ok, diags := f.engine.Validate(context.Background(), r)
			debugLogf(t, "%s", diags.Report(r))
			is.True(!ok)
			is.Equal(r.Status(), arbiter.StatusDraft)

			unauthorized := diags.OfKind(arbiter.ErrUnauthorizedFunction)
			is.Equal(len(unauthorized), len(c.names))
			is.Equal(len(diags.Errors()), len(c.names))
			for i, name := range c.names {
				is.Equal(unauthorized[i].Name, name)
				is.Equal(unauthorized[i].Severity, arbiter.SeverityError)
				is.True(unauthorized[i].Pos.Line > 0)
			}

			_, err := f.engine.Evaluate(context.Background(), r, nil)
			is.True(errors.Is(err, arbiter.ErrRuleNotValidated))
		})
	}
}

func TestValidateCompileErrors(t *testing.T) {
	is := is.New(t)
	f := newFixture(t)
	r := f.rule(t, "broken", "y = 1\nreturn x + 1", nil)

	ok, diags := f.engine.Validate(context.Background(), r)
	is.True(!ok)
	is.Equal(len(diags), 1)
	is.True(errors.Is(diags[0], arbiter.ErrCompilation))
	is.Equal(diags[0].Pos.Line, 2)
	is.True(strings.Contains(diags[0].Msg, "x"))
	is.True(strings.Contains(diags.Err().Error(), "2:"))
}

func TestValidateContext(t *testing.T) {
	is := is.New(t)
	f := newFixture(t)

	unbound := arbiter.NewRule("unbound", "return 1")
	is.NoErr(f.engine.AddRule(unbound))
	ok, diags := f.engine.Validate(context.Background(), unbound)
	is.True(!ok)
	is.True(errors.Is(diags.Err(), arbiter.ErrContextNotFound))

	empty, err := f.engine.NewContext("empty", "")
	is.NoErr(err)
	r := f.rule(t, "constant", "return 1", empty)
	ok, diags = f.engine.Validate(context.Background(), r)
	is.True(ok)
	is.Equal(len(diags.Warnings()), 1)
	is.True(errors.Is(diags.Warnings()[0], arbiter.ErrEmptyContext))
	is.Equal(diags.Summary(), "0 errors, 1 warning")
}

func TestValidateParams(t *testing.T) {
	is := is.New(t)
	f := newFixture(t)
	r := f.rule(t, "with_params", "return double(param_age())", nil)

	ok, diags := f.engine.Validate(context.Background(), r)
	is.True(!ok) // param_age is not declared
	is.Equal(diags.Errors()[0].Name, "param_age")

	is.NoErr(r.SetParams(arbiter.Param{Name: "age", Type: schema.Int{}}))
	r.AddTestCase(arbiter.NewTestCase("twice the age", "40", "param_age", "20"))
	f.mustValidate(t, r)

	res, err := f.engine.Evaluate(context.Background(), r, nil, arbiter.WithParams(map[string]any{"age": 30}))
	is.NoErr(err)
	is.Equal(res.Value, int64(60))
}

func TestValidateTestCases(t *testing.T) {
	is := is.New(t)
	f := newFixture(t)
	r := f.rule(t, "doubled", "return double(2)", nil)
	r.AddTestCase(
		arbiter.NewTestCase("computed", "4"),
		arbiter.NewTestCase("overridden", "10", "double", "10"),
		arbiter.NewTestCase("wrong", "5"),
		arbiter.NewTestCase("not a number", "1", "double", "'x'"),
	)

	ok, diags := f.engine.Validate(context.Background(), r)
	debugLogf(t, "%s", diags.Report(r))
	is.True(!ok)
	is.Equal(r.Status(), arbiter.StatusDraft)

	failed := diags.OfKind(arbiter.ErrTestCaseFailed)
	is.Equal(len(failed), 2)
	is.Equal(failed[0].TestCase, "wrong")
	is.Equal(failed[0].Expected, "5")
	is.Equal(failed[0].Actual, "4")
	is.True(failed[0].Diff != "")
	is.Equal(failed[1].TestCase, "not a number")
	is.True(errors.Is(diags.Err(), arbiter.ErrTestCaseFailed))

	report := diags.Report(r)
	is.True(strings.Contains(report, "ARBITER VALIDATION REPORT"))
	is.True(strings.Contains(report, "Failed Test Cases"))

	r.SetTestCases(arbiter.NewTestCase("computed", "4"))
	f.mustValidate(t, r)
}

func TestValidateCycles(t *testing.T) {

	cases := map[string]struct {
		opts []arbiter.EngineOption
		ok   bool
		sev  arbiter.Severity
	}{
		"warning": {ok: true, sev: arbiter.SeverityWarning},
		"strict":  {opts: []arbiter.EngineOption{arbiter.StrictCycleCheck(true)}, sev: arbiter.SeverityError},
	}

	for k, c := range cases {
		t.Run(k, func(t *testing.T) {
			is := is.New(t)
			f := newFixture(t, c.opts...)
			a := f.rule(t, "a", "return b()", nil)
			f.rule(t, "b", "return a()", nil)
			f.allowRule(t, nil, "a")
			f.allowRule(t, nil, "b")

			ok, diags := f.engine.Validate(context.Background(), a)
			is.Equal(ok, c.ok)
			cycles := diags.OfKind(arbiter.ErrCircularRuleCall)
			is.Equal(len(cycles), 1)
			is.Equal(cycles[0].Severity, c.sev)
			is.Equal(cycles[0].Name, "b")
			is.Equal(cycles[0].Msg, "a -> b -> a")
		})
	}
}

func TestValidateSelfCall(t *testing.T) {
	is := is.New(t)
	f := newFixture(t)
	r := f.rule(t, "self", "return self()", nil)
	f.allowRule(t, nil, "self")

	ok, diags := f.engine.Validate(context.Background(), r)
	is.True(ok)
	is.Equal(diags.Warnings()[0].Msg, "self -> self")
}

func TestValidateCEL(t *testing.T) {
	is := is.New(t)
	f := newFixture(t)
	r := f.rule(t, "cel_rule", `whoami() + "!"`, nil)
	r.SetDialect(arbiter.DialectCEL)
	r.AddTestCase(arbiter.NewTestCase("name", `"cel_rule!"`))
	f.mustValidate(t, r)

	r.SetAlgorithm(`foo() + 1`)
	ok, diags := f.engine.Validate(context.Background(), r)
	is.True(!ok)
	is.Equal(diags.Errors()[0].Name, "foo")
}

func TestValidateWithCompiler(t *testing.T) {
	is := is.New(t)
	mock := &mockCompiler{calls: []string{"whoami", "bar"}}
	f := newFixture(t, arbiter.WithCompiler(arbiter.DialectAlgo, mock))
	r := f.rule(t, "mocked", "anything", nil)

	ok, diags := f.engine.Validate(context.Background(), r)
	is.True(!ok)
	is.Equal(len(diags.Errors()), 1)
	is.Equal(diags.Errors()[0].Name, "bar")
	is.Equal(diags.Errors()[0].Pos.Column, 2)
	is.Equal(mock.compiled, []string{"anything"})

	r.SetAlgorithm("")
	ok, diags = f.engine.Validate(context.Background(), r)
	is.True(!ok)
	is.Equal(diags[0].Msg, "empty algorithm")
}

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

func TestRunnerOverridesUnknownFunction(t *testing.T) {
	is := is.New(t)
	f := newFixture(t)
	r := f.rule(t, "scenario", "return test_values(test_values_inexisting())", nil)
	r.AddTestCase(arbiter.NewTestCase("override", "(8, ['Toto'], ['Titi'])", "test_values_inexisting", "4"))

	report, err := arbiter.NewRunner(f.engine).Run(context.Background(), r)
	is.NoErr(err)
	debugLogf(t, "%s", report)
	is.True(report.Passed())
	is.Equal(report.Summary(), "override ... SUCCESS")
	is.Equal(report.Outcomes[0].Actual, `[8, ["Toto"], ["Titi"]]`)

	// overrides do not authorize anything outside of test runs
	ok, diags := f.engine.Validate(context.Background(), r)
	is.True(!ok)
	is.Equal(diags.Errors()[0].Name, "test_values_inexisting")
}

func TestRunnerOutcomes(t *testing.T) {

	cases := map[string]struct {
		tc     arbiter.TestCase
		passed bool
		err    error
	}{
		"computed":       {tc: arbiter.NewTestCase("computed", "4"), passed: true},
		"coerced":        {tc: arbiter.NewTestCase("coerced", "6", "double", "6.0"), passed: true},
		"sequence":       {tc: arbiter.NewTestCase("sequence", "3", "double", "1", "double", "2", "param_n", "5"), passed: true},
		"wrong":          {tc: arbiter.NewTestCase("wrong", "5")},
		"not coercible":  {tc: arbiter.NewTestCase("not coercible", "4", "double", "'x'"), err: arbiter.ErrCoercion},
		"bad literal":    {tc: arbiter.NewTestCase("bad literal", "4", "double", "[1,"), err: arbiter.ErrCoercion},
		"bad expected":   {tc: arbiter.NewTestCase("bad expected", "(1,"), err: arbiter.ErrCoercion},
		"too few values": {tc: arbiter.NewTestCase("too few values", "3", "double", "1", "param_n", "5"), err: arbiter.ErrTooManyCalls},
		"aborted":        {tc: arbiter.NewTestCase("aborted", ""), passed: true},
	}

	for k, c := range cases {
		t.Run(k, func(t *testing.T) {
			is := is.New(t)
			f := newFixture(t)
			src := "return double(2)"
			if k == "sequence" || k == "too few values" || k == "aborted" {
				src = "return double(param_n()) + double(2)"
			}
			r := f.rule(t, "tested", src, nil)
			is.NoErr(r.SetParams(arbiter.Param{Name: "n", Type: schema.Int{}}))
			r.AddTestCase(c.tc)

			report, err := arbiter.NewRunner(f.engine).Run(context.Background(), r)
			is.NoErr(err)
			o := report.Outcomes[0]
			debugLogf(t, "%s", report)
			is.Equal(o.Passed, c.passed)
			if !errors.Is(o.Err, c.err) {
				t.Errorf("got %v, wanted %v", o.Err, c.err)
			}
		})
	}
}

func TestRunnerReport(t *testing.T) {
	is := is.New(t)
	f := newFixture(t)
	r := f.rule(t, "reported", "return [double(1), 'a']", nil)
	r.AddTestCase(
		arbiter.NewTestCase("good", "[2, 'a']"),
		arbiter.NewTestCase("bad", "[3, 'a']"),
	)

	report, err := arbiter.NewRunner(f.engine).Run(context.Background(), r)
	is.NoErr(err)
	is.True(!report.Passed())
	is.Equal(len(report.Failed()), 1)
	is.Equal(report.Summary(), "good ... SUCCESS\nbad ... FAILED")

	bad := report.Failed()[0]
	is.Equal(bad.Expected, `[3, "a"]`)
	is.Equal(bad.Actual, `[2, "a"]`)
	is.True(strings.Contains(bad.Diff, "/0"))
	is.True(strings.Contains(report.String(), "TEST CASES: reported"))
}

func TestRunnerDrafts(t *testing.T) {
	is := is.New(t)
	f := newFixture(t)
	child := f.rule(t, "child", "return 1", nil)
	parent := f.rule(t, "parent", "return child() + 1", nil)
	f.allowRule(t, nil, "child")
	parent.AddTestCase(
		arbiter.NewTestCase("draft callee", "2"),
		arbiter.NewTestCase("overridden callee", "11", "child", "10"),
	)

	report, err := arbiter.NewRunner(f.engine).Run(context.Background(), parent)
	is.NoErr(err)
	is.True(errors.Is(report.Outcomes[0].Err, arbiter.ErrRuleNotValidated))
	is.True(report.Outcomes[1].Passed)

	f.mustValidate(t, child)
	report, err = arbiter.NewRunner(f.engine).Run(context.Background(), parent)
	is.NoErr(err)
	is.True(report.Passed())
}

func TestRunnerCancelled(t *testing.T) {
	is := is.New(t)
	f := newFixture(t)
	r := f.rule(t, "cancelled", "return 1", nil)
	r.AddTestCase(arbiter.NewTestCase("one", "1"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := arbiter.NewRunner(f.engine).Run(ctx, r)
	is.True(errors.Is(err, context.Canceled))

	_, err = arbiter.NewRunner(f.engine).Run(context.Background(), nil)
	is.True(err != nil)
}

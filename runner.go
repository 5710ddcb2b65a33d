package arbiter

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ezachrisen/arbiter/algo"
	"github.com/ezachrisen/arbiter/schema"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/wI2L/jsondiff"
	"go.opentelemetry.io/otel/attribute"
)

// Runner runs the test cases of rules.
type Runner struct {
	engine *Engine
	opts   []EvalOption
}

// NewRunner returns a runner for the rules of e. The options are applied
// to every test case evaluation.
func NewRunner(e *Engine, opts ...EvalOption) *Runner {
	return &Runner{engine: e, opts: opts}
}

// Outcome is the result of one test case.
type Outcome struct {
	TestCase TestCase
	Passed   bool

	// Values compared, as literals
	Expected string
	Actual   string

	// Diff lists the JSON patch operations turning the expected value
	// into the actual one.
	Diff string

	// Err is set when the test case could not be run: a value that
	// cannot be coerced, a call without a value left, a fatal evaluation
	// error.
	Err error

	Result *Result
}

// TestReport holds the outcomes of the test cases of a rule, in the
// order of the test cases.
type TestReport struct {
	Rule     string
	Outcomes []Outcome
}

// Passed reports whether every test case passed.
func (t *TestReport) Passed() bool {
	return len(t.Failed()) == 0
}

// Failed returns the outcomes of the failed test cases.
func (t *TestReport) Failed() []Outcome {
	var out []Outcome
	for _, o := range t.Outcomes {
		if !o.Passed {
			out = append(out, o)
		}
	}
	return out
}

// Summary returns one line per test case:
//
//	<description> ... SUCCESS
//	<description> ... FAILED
func (t *TestReport) Summary() string {
	lines := make([]string, len(t.Outcomes))
	for i, o := range t.Outcomes {
		status := "SUCCESS"
		if !o.Passed {
			status = "FAILED"
		}
		lines[i] = fmt.Sprintf("%s ... %s", o.TestCase.Description, status)
	}
	return strings.Join(lines, "\n")
}

func (t *TestReport) String() string {
	tw := table.NewWriter()
	tw.SetTitle("\nTEST CASES: %s\n", t.Rule)
	tw.AppendHeader(table.Row{"\nTest Case", "\nPassed", "\nExpected", "\nActual", "\nDiff"})
	for _, o := range t.Outcomes {
		actual := o.Actual
		if o.Err != nil {
			actual = o.Err.Error()
		}
		passed := "yes"
		if !o.Passed {
			passed = "NO"
		}
		tw.AppendRow(table.Row{o.TestCase.Description, passed, o.Expected, actual, o.Diff})
	}
	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 3, WidthMax: 30},
		{Number: 4, WidthMax: 40},
		{Number: 5, WidthMax: 40},
	})
	style := table.StyleLight
	style.Format.Header = text.FormatDefault
	style.Options.SeparateRows = true
	tw.SetStyle(style)
	return tw.Render()
}

// Run evaluates the rule once per test case. The rule under test does
// not have to be validated; the rules it calls do.
func (rn *Runner) Run(ctx context.Context, r *Rule) (*TestReport, error) {
	if r == nil {
		return nil, fmt.Errorf("missing rule")
	}
	ctx, span := rn.engine.tracer.Start(ctx, "arbiter.RunTests")
	defer span.End()
	span.SetAttributes(attribute.String("arbiter.rule", r.ShortName))

	s := r.state()
	report := &TestReport{Rule: r.ShortName}
	for _, tc := range s.testCases {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		report.Outcomes = append(report.Outcomes, rn.runCase(ctx, r, s, tc))
	}
	span.SetAttributes(attribute.Int("arbiter.failed", len(report.Failed())))
	rn.engine.log.Debug("ran test cases", "rule", r.ShortName,
		"count", len(report.Outcomes), "failed", len(report.Failed()))
	return report, nil
}

func (rn *Runner) runCase(ctx context.Context, r *Rule, s ruleState, tc TestCase) Outcome {
	out := Outcome{TestCase: tc, Expected: tc.Expected}

	overrides, err := testValues(s, tc)
	if err != nil {
		out.Err = err
		return out
	}

	var expected any
	if strings.TrimSpace(tc.Expected) != "" {
		expected, err = algo.ParseLiteral(tc.Expected)
		if err != nil {
			out.Err = fmt.Errorf("%w: expected result %q: %w", ErrCoercion, tc.Expected, err)
			return out
		}
	}
	expected = schema.Normalize(expected)
	out.Expected = schema.Format(expected)

	o := rn.engine.evalOptions(r, rn.opts...)
	o.Overrides = overrides
	if o.Today.IsZero() {
		o.Today = time.Now()
	}
	res, err := rn.engine.evaluate(ctx, r, Args{}, o, true)
	if err != nil {
		out.Err = err
		return out
	}

	out.Result = res
	out.Actual = schema.Format(res.Value)
	out.Passed = schema.Equal(expected, res.Value)
	if !out.Passed {
		out.Diff = diff(expected, res.Value)
	}
	return out
}

// testValues parses the values of a test case and coerces each one to
// the type the overridden callable returns.
func testValues(s ruleState, tc TestCase) (map[string][]any, error) {
	overrides := map[string][]any{}
	for _, tv := range tc.Values {
		v, err := algo.ParseLiteral(tv.Value)
		if err != nil {
			return nil, fmt.Errorf("%w: value %q of %s: %w", ErrCoercion, tv.Value, tv.Name, err)
		}
		if t := valueType(s, tv.Name); t != nil {
			if v, err = schema.Coerce(t, v); err != nil {
				return nil, fmt.Errorf("%w: value %q of %s: %w", ErrCoercion, tv.Value, tv.Name, err)
			}
		}
		overrides[tv.Name] = append(overrides[tv.Name], schema.Normalize(v))
	}
	return overrides, nil
}

// valueType is the declared type of the callable name, nil when unknown.
func valueType(s ruleState, name string) schema.Type {
	if p, ok := strings.CutPrefix(name, ParamPrefix); ok {
		for _, param := range s.params {
			if param.Name == p {
				return param.Type
			}
		}
	}
	if s.context == nil {
		return nil
	}
	el, err := s.context.Lookup(name)
	if err != nil {
		return nil
	}
	return el.Returns
}

// diff renders the JSON patch between two values, one operation per
// line.
func diff(expected, actual any) string {
	patch, err := jsondiff.Compare(schema.JSON(expected), schema.JSON(actual))
	if err != nil {
		return fmt.Sprintf("expected %s, got %s", schema.Format(expected), schema.Format(actual))
	}
	lines := make([]string, 0, len(patch))
	for _, op := range patch {
		path := op.Path
		if path == "" {
			path = "/"
		}
		switch op.Type {
		case jsondiff.OperationRemove:
			lines = append(lines, fmt.Sprintf("%s %s", op.Type, path))
		default:
			lines = append(lines, fmt.Sprintf("%s %s: %v", op.Type, path, op.Value))
		}
	}
	return strings.Join(lines, "\n")
}

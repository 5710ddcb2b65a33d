package arbiter_test

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/ezachrisen/arbiter"
	"github.com/ezachrisen/arbiter/schema"
	"github.com/matryer/is"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics(t *testing.T) {
	is := is.New(t)
	reg := prometheus.NewRegistry()
	m, err := arbiter.NewMetrics(reg)
	is.NoErr(err)
	_, err = arbiter.NewMetrics(reg)
	is.True(err != nil) // already registered

	f := newFixture(t, arbiter.WithMetrics(m))
	good := f.rule(t, "good", "return double(1)", nil)
	bad := f.rule(t, "bad", "return foo()", nil)
	f.mustValidate(t, good)
	ok, _ := f.engine.Validate(context.Background(), bad)
	is.True(!ok)

	_, err = f.engine.Evaluate(context.Background(), good, nil)
	is.NoErr(err)

	expected := `
# HELP arbiter_validations_total Rule validations by result (validated, rejected).
# TYPE arbiter_validations_total counter
arbiter_validations_total{result="rejected"} 1
arbiter_validations_total{result="validated"} 1
# HELP arbiter_function_calls_total Calls of tree elements by name and outcome.
# TYPE arbiter_function_calls_total counter
arbiter_function_calls_total{function="double",outcome="ok"} 1
`
	is.NoErr(testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"arbiter_validations_total", "arbiter_function_calls_total"))
	is.Equal(testutil.CollectAndCount(reg, "arbiter_evaluations_total"), 1)
}

func TestDocumentation(t *testing.T) {

	cases := map[string]struct {
		desc   string
		values map[string]any
		want   string
		err    bool
	}{
		"values": {
			desc:   "Surcharge of <%= rate %> after <%= delay %> days",
			values: map[string]any{"rate": decimalValue("0.05"), "delay": 30},
			want:   "Surcharge of 0.05 after 30 days",
		},
		"zero values": {
			desc: "Surcharge of <%= rate %> after <%= delay %> days",
			want: "Surcharge of 0 after 0 days",
		},
		"names": {
			desc: "<%= shortName %>: <%= name %>",
			want: "late_fee: Late payment fee",
		},
		"broken template": {
			desc: "<%= if ( %>",
			err:  true,
		},
	}

	for k, c := range cases {
		t.Run(k, func(t *testing.T) {
			is := is.New(t)
			r := arbiter.NewRule("late_fee", "return 1")
			r.Name = "Late payment fee"
			r.Description = c.desc
			is.NoErr(r.SetParams(
				arbiter.Param{Name: "rate", Type: schema.Decimal{}},
				arbiter.Param{Name: "delay", Type: schema.Int{}},
			))

			got, err := r.Documentation(c.values)
			if c.err {
				is.True(err != nil)
				return
			}
			is.NoErr(err)
			is.Equal(got, c.want)
		})
	}
}

func decimalValue(s string) any {
	d, err := schema.ParseDecimal(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestErrorCodeDefinitions(t *testing.T) {
	is := is.New(t)
	e := arbiter.NewEngine(nil)

	is.True(errors.Is(e.AddErrorCodes(arbiter.ErrorCode{Name: "no code"}), arbiter.ErrInvalidName))
	is.True(errors.Is(e.AddErrorCodes(arbiter.ErrorCode{Code: "x", Level: "fatal"}), arbiter.ErrUnknownErrorCode))

	is.NoErr(e.AddErrorCodes(
		arbiter.ErrorCode{Code: "b", Name: "Second"},
		arbiter.ErrorCode{Code: "a", Name: "First", Level: arbiter.LevelInfo},
	))
	codes := e.ErrorCodes()
	is.Equal(len(codes), 2)
	is.Equal(codes[0].Code, "a")
	is.Equal(codes[1].Level, arbiter.LevelError)
	is.Equal(codes[1].Message(), "[error] Second")

	_, ok := e.ErrorCode("c")
	is.True(!ok)
}

func TestResultString(t *testing.T) {
	is := is.New(t)
	f := newFixture(t)
	r := f.rule(t, "printed", "warn('careful')\nreturn double(2)", nil)
	f.mustValidate(t, r)

	res, err := f.engine.Evaluate(context.Background(), r, nil, arbiter.WithDebug(true))
	is.NoErr(err)
	s := res.String()
	debugLogf(t, "%s", s)
	is.True(strings.Contains(s, "ARBITER RESULT: printed"))
	is.True(strings.Contains(s, "careful"))
	is.True(strings.Contains(s, "double(2) = 4"))
	is.True(res.HasErrors())
}

func TestStructure(t *testing.T) {
	is := is.New(t)
	f := newFixture(t)
	r := f.rule(t, "listed", "return double(2)", nil)
	r.Name = "Listed rule"
	is.NoErr(f.engine.AddRule(arbiter.NewRule("loose", "return 1")))

	html, err := arbiter.StructureToHTML(f.engine)
	is.NoErr(err)
	is.True(strings.Contains(html, "listed"))
	is.True(strings.Contains(html, "loose"))
	is.True(strings.Contains(html, "test/double"))

	name, err := arbiter.StructureToTmpFile(f.engine)
	is.NoErr(err)
	defer os.Remove(name)
	b, err := os.ReadFile(name)
	is.NoErr(err)
	is.Equal(string(b), html)
}

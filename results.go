package arbiter

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/ezachrisen/arbiter/schema"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// Result of evaluating a rule.
type Result struct {
	// The Rule that was evaluated
	Rule *Rule

	// EvalID identifies the evaluation in logs and traces.
	EvalID string

	// The value returned by the algorithm. Numbers are returned as the
	// algorithm produced them (int64, float64 or *apd.Decimal). None
	// (nil) when the rule was aborted.
	Value any

	// Functional errors, in the order they were added, including those
	// of the rules called by the rule.
	Errors []string

	Warnings []string
	Info     []string
	Debug    []string

	// Details set by add_result_detail.
	Details map[string]any

	// Incomplete is set when the rule reported that its inputs were not
	// all available yet.
	Incomplete bool

	// A trace of the calls made during the evaluation. Only available if
	// debugging is turned on for the rule or the evaluation.
	Calls []CallTrace

	// Steps used from the evaluation's budget
	Steps int
}

// CallTrace records one call made by an algorithm.
type CallTrace struct {
	// Rule whose algorithm made the call
	Rule string

	// Depth of the rule in the rule call stack; 0 for the evaluated rule.
	Depth  int
	Name   string
	Args   []any
	Result any
	Err    string

	// Overridden is set when the value came from a test case.
	Overridden bool
}

func (c CallTrace) String() string {
	args := make([]string, len(c.Args))
	for i, a := range c.Args {
		args[i] = schema.Format(a)
	}
	s := fmt.Sprintf("%s(%s)", c.Name, strings.Join(args, ", "))
	if c.Err != "" {
		return s + " failed: " + c.Err
	}
	return s + " = " + schema.Format(c.Result)
}

// HasErrors reports whether functional errors were added.
func (u *Result) HasErrors() bool {
	return len(u.Errors) > 0
}

// accumulator collects the messages of one evaluation. It is shared by
// the rules called during the evaluation.
type accumulator struct {
	errors   []string
	warnings []string
	info     []string
	debug    []string
	details  map[string]any
	calls    []CallTrace
}

func (a *accumulator) result(r *Rule, v any) *Result {
	return &Result{
		Rule:     r,
		Value:    v,
		Errors:   slices.Clone(a.errors),
		Warnings: slices.Clone(a.warnings),
		Info:     slices.Clone(a.info),
		Debug:    slices.Clone(a.debug),
		Details:  maps.Clone(a.details),
		Calls:    slices.Clone(a.calls),
	}
}

// String produces a summary of the evaluation: the value, the messages
// and, when debugging was on, the calls made.
func (u *Result) String() string {

	tw := table.NewWriter()
	title := "\nARBITER RESULT\n"
	if u.Rule != nil {
		title = fmt.Sprintf("\nARBITER RESULT: %s\n", u.Rule.ShortName)
	}
	tw.SetTitle(title)
	tw.AppendHeader(table.Row{"\nItem", "\nValue"})

	tw.AppendRow(table.Row{"Value", schema.Format(u.Value)})
	if u.Incomplete {
		tw.AppendRow(table.Row{"Incomplete", "yes"})
	}
	for _, m := range []struct {
		name string
		msgs []string
	}{
		{"Errors", u.Errors},
		{"Warnings", u.Warnings},
		{"Info", u.Info},
		{"Debug", u.Debug},
	} {
		if len(m.msgs) > 0 {
			tw.AppendRow(table.Row{m.name, strings.Join(m.msgs, "\n")})
		}
	}
	for _, k := range slices.Sorted(maps.Keys(u.Details)) {
		tw.AppendRow(table.Row{"Detail " + k, schema.Format(u.Details[k])})
	}
	tw.AppendRow(table.Row{"Steps", u.Steps})

	if len(u.Calls) > 0 {
		calls := make([]string, len(u.Calls))
		for i, c := range u.Calls {
			calls[i] = strings.Repeat("  ", c.Depth) + c.String()
		}
		tw.AppendRow(table.Row{"Calls", strings.Join(calls, "\n")})
	}

	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 2, WidthMax: 80},
	})
	style := table.StyleLight
	style.Format.Header = text.FormatDefault
	tw.SetStyle(style)
	return tw.Render()
}

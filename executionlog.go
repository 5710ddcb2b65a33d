package arbiter

import (
	"slices"
	"time"

	"github.com/ezachrisen/arbiter/schema"
)

// ExecutionLog records an evaluation of a rule in debug mode. Values are
// kept as literals of the rule language, so that a log can be stored as
// it is and turned into a test case later.
type ExecutionLog struct {
	EvalID string    `json:"eval_id"`
	Rule   string    `json:"rule"`
	Time   time.Time `json:"time"`

	// Today is the calculation date the evaluation was given, if any.
	Today time.Time `json:"today,omitzero"`

	Result   string            `json:"result"`
	Errors   []string          `json:"errors,omitempty"`
	Warnings []string          `json:"warnings,omitempty"`
	Info     []string          `json:"info,omitempty"`
	Debug    []string          `json:"debug,omitempty"`
	Details  map[string]string `json:"details,omitempty"`
	Calls    []LoggedCall      `json:"calls,omitempty"`

	// Failure is the error that stopped the evaluation.
	Failure string `json:"failure,omitempty"`
}

// LoggedCall is a CallTrace with its values rendered as literals.
type LoggedCall struct {
	Rule       string   `json:"rule"`
	Depth      int      `json:"depth"`
	Name       string   `json:"name"`
	Args       []string `json:"args,omitempty"`
	Result     string   `json:"result"`
	Err        string   `json:"error,omitempty"`
	Overridden bool     `json:"overridden,omitempty"`
}

// LogStore keeps the execution logs of rules evaluated in debug mode.
type LogStore interface {
	PutLog(l ExecutionLog) error
}

// NewExecutionLog builds the log of an evaluation of rule. res is nil
// when the evaluation failed with err.
func NewExecutionLog(rule string, res *Result, err error) ExecutionLog {
	l := ExecutionLog{Rule: rule, Time: time.Now().UTC(), Result: schema.Literal(nil)}
	if err != nil {
		l.Failure = err.Error()
	}
	if res == nil {
		return l
	}

	l.EvalID = res.EvalID
	l.Result = schema.Literal(res.Value)
	l.Errors = slices.Clone(res.Errors)
	l.Warnings = slices.Clone(res.Warnings)
	l.Info = slices.Clone(res.Info)
	l.Debug = slices.Clone(res.Debug)
	if len(res.Details) > 0 {
		l.Details = make(map[string]string, len(res.Details))
		for k, v := range res.Details {
			l.Details[k] = schema.Literal(v)
		}
	}
	for _, c := range res.Calls {
		args := make([]string, len(c.Args))
		for i, a := range c.Args {
			args[i] = schema.Literal(a)
		}
		l.Calls = append(l.Calls, LoggedCall{
			Rule:       c.Rule,
			Depth:      c.Depth,
			Name:       c.Name,
			Args:       args,
			Result:     schema.Literal(c.Result),
			Err:        c.Err,
			Overridden: c.Overridden,
		})
	}
	return l
}

// TestCase turns the log into a test case of the logged rule. Every
// successful call the rule made itself becomes a value of the test case,
// in call order, and the logged result becomes the expected result.
// Calls made by the rules it called are left out: their result is the
// value of the call to the rule.
func (l ExecutionLog) TestCase(description string) TestCase {
	if description == "" {
		description = "logged " + l.Time.Format(time.DateTime)
	}
	tc := TestCase{Description: description, Expected: l.Result}
	for _, c := range l.Calls {
		if c.Depth != 0 || c.Err != "" {
			continue
		}
		tc.Values = append(tc.Values, TestCaseValue{Name: c.Name, Value: c.Result})
	}
	return tc
}

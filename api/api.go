// Package api serves the rule engine over HTTP as JSON remote procedure
// calls, in the style of oto services: every method is a POST to
// <basepath><Service>.<Method> with a request object in the body.
//
//	curl -d '{"rule":"age","params":{"birth":"1990-06-01"}}' \
//	    http://localhost:8080/oto/RuleService.Evaluate
package api

import (
	"context"

	"github.com/ezachrisen/arbiter"
	"github.com/ezachrisen/arbiter/catalog"
)

// RuleService evaluates, validates, tests and edits the rules of a vault.
type RuleService interface {
	// Evaluate runs a validated rule.
	Evaluate(context.Context, EvaluateRequest) (*EvaluateResponse, error)
	// Validate checks a rule and runs its test cases; a rule passing
	// every check becomes validated.
	Validate(context.Context, ValidateRequest) (*ValidateResponse, error)
	// RunTests runs the test cases of a rule, validated or not.
	RunTests(context.Context, RunTestsRequest) (*RunTestsResponse, error)
	// ListRules lists the rules of the current engine.
	ListRules(context.Context, ListRulesRequest) (*ListRulesResponse, error)
	// PutRule adds or replaces a rule. The rule is validated before it is
	// published; a rule failing validation is not published and the
	// response carries the diagnostics.
	PutRule(context.Context, PutRuleRequest) (*PutRuleResponse, error)
	// DeleteRule removes a rule.
	DeleteRule(context.Context, DeleteRuleRequest) (*DeleteRuleResponse, error)
	// Tree renders the function tree.
	Tree(context.Context, TreeRequest) (*TreeResponse, error)
	// Logs lists the execution logs of a rule in debug mode, newest
	// first.
	Logs(context.Context, LogsRequest) (*LogsResponse, error)
	// CreateTestCase adds a test case built from an execution log to its
	// rule, which is then published like PutRule does.
	CreateTestCase(context.Context, CreateTestCaseRequest) (*CreateTestCaseResponse, error)
}

// EvaluateRequest is the input of RuleService.Evaluate
type EvaluateRequest struct {
	// Rule is the short name of the rule
	Rule string `json:"rule"`
	// Args are the evaluation arguments read by the runtime functions
	Args map[string]any `json:"args,omitempty"`
	// Params are the rule parameters, converted to their declared types
	Params map[string]any `json:"params,omitempty"`
	// Today is the evaluation date (YYYY-MM-DD), the current date when
	// empty
	Today string `json:"today,omitempty"`
	// Debug records the calls made by the rule
	Debug bool `json:"debug,omitempty"`
}

// EvaluateResponse is the output of RuleService.Evaluate
type EvaluateResponse struct {
	EvalID     string         `json:"evalID"`
	Value      any            `json:"value"`
	Display    string         `json:"display"`
	Errors     []string       `json:"errors"`
	Warnings   []string       `json:"warnings"`
	Info       []string       `json:"info"`
	Debug      []string       `json:"debug"`
	Details    map[string]any `json:"details,omitempty"`
	Incomplete bool           `json:"incomplete"`
	Steps      int            `json:"steps"`
	Calls      []Call         `json:"calls,omitempty"`
}

// Call is one call of a debugged evaluation
type Call struct {
	Rule       string `json:"rule"`
	Depth      int    `json:"depth"`
	Call       string `json:"call"`
	Error      string `json:"error,omitempty"`
	Overridden bool   `json:"overridden,omitempty"`
}

// ValidateRequest is the input of RuleService.Validate
type ValidateRequest struct {
	Rule string `json:"rule"`
}

// ValidateResponse is the output of RuleService.Validate
type ValidateResponse struct {
	Validated   bool         `json:"validated"`
	Status      string       `json:"status"`
	Summary     string       `json:"summary"`
	Diagnostics []Diagnostic `json:"diagnostics"`
}

// Diagnostic is one finding of a validation
type Diagnostic struct {
	Severity string `json:"severity"`
	Kind     string `json:"kind"`
	Rule     string `json:"rule"`
	Name     string `json:"name,omitempty"`
	Pos      string `json:"pos,omitempty"`
	TestCase string `json:"testCase,omitempty"`
	Expected string `json:"expected,omitempty"`
	Actual   string `json:"actual,omitempty"`
	Message  string `json:"message"`
}

// RunTestsRequest is the input of RuleService.RunTests
type RunTestsRequest struct {
	Rule string `json:"rule"`
}

// RunTestsResponse is the output of RuleService.RunTests
type RunTestsResponse struct {
	Passed   bool      `json:"passed"`
	Outcomes []Outcome `json:"outcomes"`
}

// Outcome is the result of one test case
type Outcome struct {
	Description string `json:"description"`
	Passed      bool   `json:"passed"`
	Expected    string `json:"expected"`
	Actual      string `json:"actual"`
	Diff        string `json:"diff,omitempty"`
	Error       string `json:"error,omitempty"`
}

// ListRulesRequest is the input of RuleService.ListRules
type ListRulesRequest struct {
	// Context lists only the rules bound to the context
	Context string `json:"context,omitempty"`
}

// ListRulesResponse is the output of RuleService.ListRules
type ListRulesResponse struct {
	Rules []RuleSummary `json:"rules"`
}

// RuleSummary describes a rule in a listing
type RuleSummary struct {
	ShortName string `json:"shortName"`
	Name      string `json:"name"`
	Status    string `json:"status"`
	Context   string `json:"context"`
	Dialect   string `json:"dialect"`
}

// PutRuleRequest is the input of RuleService.PutRule
type PutRuleRequest struct {
	Rule catalog.Rule `json:"rule"`
}

// PutRuleResponse is the output of RuleService.PutRule
type PutRuleResponse struct {
	// Published is false when the rule failed validation
	Published   bool         `json:"published"`
	Summary     string       `json:"summary"`
	Diagnostics []Diagnostic `json:"diagnostics"`
}

// DeleteRuleRequest is the input of RuleService.DeleteRule
type DeleteRuleRequest struct {
	Rule string `json:"rule"`
}

// DeleteRuleResponse is the output of RuleService.DeleteRule
type DeleteRuleResponse struct{}

// TreeRequest is the input of RuleService.Tree
type TreeRequest struct{}

// TreeResponse is the output of RuleService.Tree
type TreeResponse struct {
	Tree string `json:"tree"`
}

// LogsRequest is the input of RuleService.Logs
type LogsRequest struct {
	Rule string `json:"rule"`
}

// LogsResponse is the output of RuleService.Logs
type LogsResponse struct {
	Logs []arbiter.ExecutionLog `json:"logs"`
}

// CreateTestCaseRequest is the input of RuleService.CreateTestCase
type CreateTestCaseRequest struct {
	Rule   string `json:"rule"`
	EvalID string `json:"evalID"`
	// Description of the test case, the time of the log when empty
	Description string `json:"description,omitempty"`
}

// CreateTestCaseResponse is the output of RuleService.CreateTestCase
type CreateTestCaseResponse struct {
	TestCase    catalog.TestCase `json:"testCase"`
	Published   bool             `json:"published"`
	Summary     string           `json:"summary"`
	Diagnostics []Diagnostic     `json:"diagnostics"`
}

package arbiter

import (
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/ezachrisen/arbiter/evaluator"
	"github.com/ezachrisen/arbiter/schema"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// Status is the validation state of a rule.
//
//	draft --Validate ok--> validated
//	validated --any edit--> draft
//	draft|validated --Disable--> disabled
//	disabled --Enable--> draft
type Status string

const (
	StatusDraft     Status = "draft"
	StatusValidated Status = "validated"
	StatusDisabled  Status = "disabled"
)

// Dialect is the language a rule's algorithm is written in.
type Dialect string

const (
	// DialectAlgo is the default statement language (package algo).
	DialectAlgo Dialect = "algo"

	// DialectCEL is a single CEL expression (package cel).
	DialectCEL Dialect = "cel"
)

// Param is a named, typed input of a rule, supplied by the caller and
// read by the algorithm through param_<name>().
type Param struct {
	Name        string
	Type        schema.Type
	Description string
}

// ParamPrefix is the prefix of the accessors of rule parameters.
const ParamPrefix = "param_"

// A Rule is an algorithm bound to a context, with test cases that must
// pass before the rule can be evaluated.
//
// The algorithm, dialect, parameters, test cases and context are changed
// through setters. Every change sends a validated rule back to draft.
type Rule struct {
	// ShortName is the identifier other rules call this rule by.
	// (required)
	ShortName string

	// Display name
	Name string

	// Description is the documentation of the rule. It is a plush
	// template rendered with the rule parameters (see Documentation).
	Description string

	// The declared type of the result. It is advisory unless the engine
	// has the EnforceResultType option set.
	ResultType schema.Type

	// Debug records a trace of every call made by the rule in the result.
	Debug bool

	// A reference to any object.
	// Not used by the rules engine.
	Meta any

	mu        sync.RWMutex
	algorithm string
	dialect   Dialect
	params    []Param
	testCases []TestCase
	status    Status
	context   *Context

	// revision is incremented by every edit. The compiled program is
	// cached for one revision.
	revision        uint64
	program         evaluator.Program
	programRevision uint64
}

// NewRule initializes a draft rule written in the default dialect.
func NewRule(shortName string, algorithm string) *Rule {
	return &Rule{
		ShortName: shortName,
		algorithm: algorithm,
		dialect:   DialectAlgo,
		status:    StatusDraft,
		revision:  1,
	}
}

// edited must be called with r.mu held.
func (r *Rule) edited() {
	r.revision++
	r.program = nil
	if r.status == StatusValidated {
		r.status = StatusDraft
	}
}

// Algorithm returns the source of the algorithm.
func (r *Rule) Algorithm() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.algorithm
}

// SetAlgorithm stores the source of the algorithm. It is compiled when
// the rule is validated.
func (r *Rule) SetAlgorithm(src string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.algorithm = src
	r.edited()
}

// Dialect returns the dialect of the algorithm.
func (r *Rule) Dialect() Dialect {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.dialect == "" {
		return DialectAlgo
	}
	return r.dialect
}

// SetDialect changes the dialect of the algorithm.
func (r *Rule) SetDialect(d Dialect) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dialect = d
	r.edited()
}

// Params returns the parameters of the rule.
func (r *Rule) Params() []Param {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.params)
}

// Param returns the parameter with the name.
func (r *Rule) Param(name string) (Param, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.params {
		if p.Name == name {
			return p, true
		}
	}
	return Param{}, false
}

// SetParams replaces the parameters of the rule.
func (r *Rule) SetParams(params ...Param) error {
	seen := map[string]bool{}
	for _, p := range params {
		if !isIdentifier(p.Name) {
			return fmt.Errorf("%w: parameter %q of rule %s", ErrInvalidName, p.Name, r.ShortName)
		}
		if seen[p.Name] {
			return fmt.Errorf("%w: parameter %s of rule %s", ErrDuplicateDefinition, p.Name, r.ShortName)
		}
		seen[p.Name] = true
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.params = slices.Clone(params)
	r.edited()
	return nil
}

// TestCases returns the test cases of the rule.
func (r *Rule) TestCases() []TestCase {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.testCases)
}

// AddTestCase appends test cases.
func (r *Rule) AddTestCase(tc ...TestCase) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.testCases = append(r.testCases, tc...)
	r.edited()
}

// SetTestCases replaces the test cases.
func (r *Rule) SetTestCases(tc ...TestCase) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.testCases = slices.Clone(tc)
	r.edited()
}

// Context returns the context the rule is bound to.
func (r *Rule) Context() *Context {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.context
}

// SetContext binds the rule to c.
func (r *Rule) SetContext(c *Context) {
	r.mu.Lock()
	old := r.context
	r.context = c
	r.edited()
	r.mu.Unlock()

	if old != nil && old != c {
		old.unbind(r)
	}
	if c != nil {
		c.bind(r)
	}
}

// Status returns the validation state.
func (r *Rule) Status() Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.status
}

// Disable prevents the rule from being evaluated. Callers of a disabled
// rule get ErrRuleNotValidated.
func (r *Rule) Disable() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status = StatusDisabled
}

// Enable turns a disabled rule back into a draft, which must be
// validated again.
func (r *Rule) Enable() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status == StatusDisabled {
		r.status = StatusDraft
		r.revision++
	}
}

// ruleState is a consistent view of a rule's definition.
type ruleState struct {
	revision  uint64
	algorithm string
	dialect   Dialect
	params    []Param
	testCases []TestCase
	context   *Context
	status    Status
	program   evaluator.Program
}

func (r *Rule) state() ruleState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s := ruleState{
		revision:  r.revision,
		algorithm: r.algorithm,
		dialect:   r.dialect,
		params:    slices.Clone(r.params),
		testCases: slices.Clone(r.testCases),
		context:   r.context,
		status:    r.status,
	}
	if s.dialect == "" {
		s.dialect = DialectAlgo
	}
	if r.programRevision == r.revision {
		s.program = r.program
	}
	return s
}

// cachedProgram returns the compiled algorithm, nil when the rule has not
// been compiled since its last edit.
func (r *Rule) cachedProgram() evaluator.Program {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.programRevision != r.revision {
		return nil
	}
	return r.program
}

// setProgram caches p if the rule has not changed since revision.
func (r *Rule) setProgram(revision uint64, p evaluator.Program) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.revision == revision {
		r.program, r.programRevision = p, revision
	}
}

// markValidated moves the rule to validated if it has not changed since
// revision and has not been disabled.
func (r *Rule) markValidated(revision uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.revision != revision || r.status == StatusDisabled {
		return false
	}
	r.status = StatusValidated
	return true
}

// String returns a table describing the rule.
func (r *Rule) String() string {
	s := r.state()

	tw := table.NewWriter()
	tw.SetTitle("\nRULE %s\n", r.ShortName)

	ctxName := ""
	if s.context != nil {
		ctxName = s.context.Name
	}
	resultType := ""
	if r.ResultType != nil {
		resultType = r.ResultType.String()
	}
	params := make([]string, len(s.params))
	for i, p := range s.params {
		params[i] = fmt.Sprintf("%s %v", p.Name, p.Type)
	}

	tw.AppendRows([]table.Row{
		{"Name", r.Name},
		{"Status", string(s.status)},
		{"Dialect", string(s.dialect)},
		{"Context", ctxName},
		{"Result Type", resultType},
		{"Parameters", strings.Join(params, "\n")},
		{"Test Cases", len(s.testCases)},
		{"Algorithm", s.algorithm},
	})
	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1},
		{Number: 2, WidthMax: 60},
	})

	style := table.StyleLight
	style.Format.Header = text.FormatDefault
	style.Options.SeparateRows = true
	tw.SetStyle(style)
	return tw.Render()
}

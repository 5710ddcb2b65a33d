package arbiter

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/ezachrisen/arbiter/evaluator"
	"github.com/ezachrisen/arbiter/schema"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Args are the arguments of an evaluation (contract, date, party...).
// The same map is passed to every function called during the
// evaluation, including those called by nested rules, and functions may
// add keys to pass derived values on.
type Args map[string]any

// EvalOptions determine how a rule is evaluated.
// See the functional definitions below for the meaning.
type EvalOptions struct {
	Params                  map[string]any
	Overrides               map[string][]any
	Debug                   bool
	MaxSteps                int
	MaxDepth                int
	Today                   time.Time
	CrashOnMissingArguments bool
}

type EvalOption func(f *EvalOptions)

// Given an array of EvalOption functions, apply their effect
// on the EvalOptions struct.
func applyEvalOptions(o *EvalOptions, opts ...EvalOption) {
	for _, opt := range opts {
		opt(o)
	}
}

// WithParams supplies the values of the rule parameters, read by the
// algorithm with param_<name>().
func WithParams(p map[string]any) EvalOption {
	return func(f *EvalOptions) {
		f.Params = p
	}
}

// WithOverrides replaces callables by canned values: each call of name
// returns the next value of its list, and fails with ErrTooManyCalls
// when the list is exhausted. Overrides apply to every rule called
// during the evaluation and take precedence over allow-lists.
func WithOverrides(o map[string][]any) EvalOption {
	return func(f *EvalOptions) {
		f.Overrides = o
	}
}

// WithDebug records a trace of every call in Result.Calls.
func WithDebug(b bool) EvalOption {
	return func(f *EvalOptions) {
		f.Debug = b
	}
}

// WithMaxSteps limits the number of interpreter steps of the evaluation.
// Zero disables the budget.
func WithMaxSteps(n int) EvalOption {
	return func(f *EvalOptions) {
		f.MaxSteps = n
	}
}

// WithMaxDepth limits how deep rules may call each other.
func WithMaxDepth(n int) EvalOption {
	return func(f *EvalOptions) {
		f.MaxDepth = n
	}
}

// WithToday fixes the date returned by Call.Today.
func WithToday(d time.Time) EvalOption {
	return func(f *EvalOptions) {
		f.Today = d
	}
}

// CrashOnMissingArguments makes ErrIncompleteInputs an evaluation error
// instead of an incomplete result.
func CrashOnMissingArguments(b bool) EvalOption {
	return func(f *EvalOptions) {
		f.CrashOnMissingArguments = b
	}
}

// evaluation is the state of one call to Evaluate. It is never shared
// between evaluations.
type evaluation struct {
	ctx       context.Context
	engine    *Engine
	args      Args
	acc       *accumulator
	overrides map[string][]any
	opts      EvalOptions
	today     time.Time
	steps     int

	// short names of the rules being evaluated, outermost first
	stack []string
}

// evaluate runs r at the top of a new evaluation. Test runs skip the
// status check of r, but not of the rules it calls.
func (e *Engine) evaluate(ctx context.Context, r *Rule, args Args, o EvalOptions, test bool) (*Result, error) {
	start := time.Now()
	evalID := uuid.NewString()

	ctx, span := e.tracer.Start(ctx, "arbiter.Evaluate", trace.WithAttributes(
		attribute.String("arbiter.rule", r.ShortName),
		attribute.String("arbiter.eval_id", evalID),
		attribute.Bool("arbiter.test", test),
	))
	defer span.End()

	res, err := e.evaluateRule(ctx, r, args, o, test)
	if res != nil {
		res.EvalID = evalID
	}
	e.opts.Metrics.observeEvaluation(r.ShortName, res, err, time.Since(start))
	if !test && r.Debug && e.opts.Logs != nil {
		l := NewExecutionLog(r.ShortName, res, err)
		l.EvalID, l.Today = evalID, o.Today
		if lerr := e.opts.Logs.PutLog(l); lerr != nil {
			e.log.Warn("saving execution log", "rule", r.ShortName, "eval_id", evalID, "error", lerr)
		}
	}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.log.Debug("evaluation failed", "rule", r.ShortName, "eval_id", evalID, "error", err)
		return nil, err
	}
	span.SetAttributes(attribute.Int("arbiter.steps", res.Steps), attribute.Int("arbiter.errors", len(res.Errors)))
	e.log.Debug("evaluated rule", "rule", r.ShortName, "eval_id", evalID,
		"value", schema.Format(res.Value), "errors", len(res.Errors), "steps", res.Steps,
		"duration", time.Since(start))
	return res, nil
}

func (e *Engine) evaluateRule(ctx context.Context, r *Rule, args Args, o EvalOptions, test bool) (*Result, error) {
	s := r.state()
	if !test && s.status != StatusValidated {
		return nil, &RuleError{Rule: r.ShortName, Err: fmt.Errorf("%w: status is %s", ErrRuleNotValidated, s.status)}
	}
	prog, err := e.compile(r, s)
	if err != nil {
		return nil, &RuleError{Rule: r.ShortName, Err: fmt.Errorf("%w: %w", ErrCompilation, err)}
	}

	if args == nil {
		args = Args{}
	}
	ev := &evaluation{
		ctx:       ctx,
		engine:    e,
		args:      args,
		acc:       &accumulator{details: map[string]any{}},
		overrides: map[string][]any{},
		opts:      o,
		today:     o.Today,
	}
	for k, v := range o.Overrides {
		ev.overrides[k] = slices.Clone(v)
	}
	if ev.today.IsZero() {
		ev.today = time.Now()
	}

	params := make(map[string]any, len(o.Params))
	for k, v := range o.Params {
		params[k] = schema.Normalize(v)
	}

	v, err := ev.run(r, s, prog, params)
	incomplete := false
	if err != nil {
		if !errors.Is(err, ErrIncompleteInputs) || o.CrashOnMissingArguments {
			return nil, err
		}
		v, incomplete = nil, true
	}
	res := ev.acc.result(r, v)
	res.Incomplete = incomplete
	res.Steps = ev.steps
	return res, nil
}

// run executes the program of r with a new frame. An aborted rule
// returns None.
func (ev *evaluation) run(r *Rule, s ruleState, prog evaluator.Program, params map[string]any) (any, error) {
	ev.stack = append(ev.stack, r.ShortName)
	defer func() { ev.stack = ev.stack[:len(ev.stack)-1] }()

	f := &frame{ev: ev, rule: r, context: s.context, params: params, declared: s.params}
	v, err := prog.Run(ev.ctx, f)
	if err != nil {
		if errors.Is(err, ErrRuleAborted) {
			return nil, nil
		}
		return nil, err
	}

	v = schema.Normalize(v)
	if ev.engine.opts.EnforceResultType && r.ResultType != nil && v != nil && !schema.Conforms(r.ResultType, v) {
		return nil, &RuleError{
			Rule: r.ShortName,
			Path: slices.Clone(ev.stack),
			Err:  fmt.Errorf("%w: got %s %s, declared %s", ErrResultType, schema.TypeOf(v), schema.Format(v), r.ResultType),
		}
	}
	return v, nil
}

func (ev *evaluation) trace(f *frame, name string, args []any, result any, err error, overridden bool) {
	if !ev.opts.Debug {
		return
	}
	t := CallTrace{
		Rule:       f.rule.ShortName,
		Depth:      len(ev.stack) - 1,
		Name:       name,
		Args:       slices.Clone(args),
		Result:     result,
		Overridden: overridden,
	}
	if err != nil {
		t.Err = err.Error()
	}
	ev.acc.calls = append(ev.acc.calls, t)
}

// frame resolves the calls of one rule's algorithm. It implements
// evaluator.Frame.
type frame struct {
	ev       *evaluation
	rule     *Rule
	context  *Context
	params   map[string]any
	declared []Param
}

func (f *frame) Step() error {
	ev := f.ev
	ev.steps++
	if ev.opts.MaxSteps > 0 && ev.steps > ev.opts.MaxSteps {
		return fmt.Errorf("%w: more than %d steps", ErrStepBudgetExceeded, ev.opts.MaxSteps)
	}
	if ev.steps%256 == 0 {
		return ev.ctx.Err()
	}
	return nil
}

// Call resolves name in this order: test overrides, parameter accessors
// of the rule, then the elements the rule's context allows. The context
// is checked on every call, since it may have changed after the rule was
// validated.
func (f *frame) Call(ctx context.Context, name string, args []any, kwargs map[string]any) (any, error) {
	ev := f.ev

	if vals, ok := ev.overrides[name]; ok {
		if len(vals) == 0 {
			err := fmt.Errorf("%w: %s", ErrTooManyCalls, name)
			ev.trace(f, name, args, nil, err, true)
			return nil, err
		}
		ev.overrides[name] = vals[1:]
		ev.trace(f, name, args, vals[0], nil, true)
		return vals[0], nil
	}

	if p, ok := strings.CutPrefix(name, ParamPrefix); ok && f.declares(p) {
		return f.param(name, p)
	}

	if f.context == nil {
		return nil, &FunctionError{Name: name, Err: fmt.Errorf("%w: rule %s has no context", ErrUnauthorizedFunction, f.rule.ShortName)}
	}
	el, err := f.context.Lookup(name)
	if err != nil {
		return nil, &FunctionError{Name: name, Err: err}
	}

	switch el.Kind {
	case KindRule:
		return f.callRule(name, el, args, kwargs)
	case KindFunction:
		return f.callFunction(ctx, name, el, args, kwargs)
	}
	return nil, &FunctionError{Name: name, Err: fmt.Errorf("%w: %s is a %s", ErrUnknownFunction, el.Key(), el.Kind)}
}

func (f *frame) declares(param string) bool {
	for _, p := range f.declared {
		if p.Name == param {
			return true
		}
	}
	return false
}

// param reads a rule parameter. A parameter the caller did not supply
// aborts the rule.
func (f *frame) param(name, p string) (any, error) {
	v, ok := f.params[p]
	if !ok {
		f.ev.acc.errors = append(f.ev.acc.errors, p+" undefined !")
		f.ev.trace(f, name, nil, nil, ErrRuleAborted, false)
		return nil, ErrRuleAborted
	}
	f.ev.trace(f, name, nil, v, nil, false)
	return v, nil
}

func (f *frame) callFunction(ctx context.Context, name string, el *TreeElement, args []any, kwargs map[string]any) (any, error) {
	ev := f.ev
	if el.Func == nil {
		return nil, &FunctionError{Name: name, Err: fmt.Errorf("%w: %s has no implementation", ErrUnknownFunction, el.Key())}
	}
	bound, err := bindArgs(el.Params, args, kwargs)
	if err != nil {
		return nil, &FunctionError{Name: name, Err: err}
	}
	for _, req := range el.Requires {
		if _, ok := ev.args[req]; !ok {
			ev.acc.errors = append(ev.acc.errors, req+" undefined !")
			ev.trace(f, name, args, nil, ErrRuleAborted, false)
			return nil, ErrRuleAborted
		}
	}

	c := &Call{
		Ctx:        ctx,
		Args:       ev.args,
		Positional: args,
		Keywords:   kwargs,
		Element:    el,
		Rule:       f.rule,
		bound:      bound,
		ev:         ev,
	}
	v, err := el.Func(c)
	ev.engine.opts.Metrics.observeCall(name, err)
	ev.trace(f, name, args, v, err, false)
	if err != nil {
		if errors.Is(err, ErrRuleAborted) || errors.Is(err, ErrIncompleteInputs) {
			return nil, err
		}
		return nil, &FunctionError{Name: name, Err: err}
	}
	return v, nil
}

// callRule evaluates another rule with the same arguments and
// accumulator. The callee's context governs the calls it makes.
func (f *frame) callRule(name string, el *TreeElement, args []any, kwargs map[string]any) (any, error) {
	ev := f.ev
	callee, err := ev.engine.Rule(el.Name)
	if err != nil {
		return nil, &FunctionError{Name: name, Err: fmt.Errorf("%w: %w", ErrUnknownFunction, err)}
	}

	if slices.Contains(ev.stack, callee.ShortName) {
		return nil, &RuleError{
			Rule: callee.ShortName,
			Path: append(slices.Clone(ev.stack), callee.ShortName),
			Err:  ErrCircularRuleCall,
		}
	}
	if ev.opts.MaxDepth > 0 && len(ev.stack) >= ev.opts.MaxDepth {
		return nil, &RuleError{
			Rule: callee.ShortName,
			Path: append(slices.Clone(ev.stack), callee.ShortName),
			Err:  fmt.Errorf("%w: %d", ErrMaxDepthExceeded, ev.opts.MaxDepth),
		}
	}

	s := callee.state()
	if s.status != StatusValidated {
		return nil, &RuleError{
			Rule: callee.ShortName,
			Path: append(slices.Clone(ev.stack), callee.ShortName),
			Err:  fmt.Errorf("%w: status is %s", ErrRuleNotValidated, s.status),
		}
	}
	prog, err := ev.engine.compile(callee, s)
	if err != nil {
		return nil, &RuleError{Rule: callee.ShortName, Err: fmt.Errorf("%w: %w", ErrCompilation, err)}
	}

	specs := make([]ParamSpec, len(s.params))
	for i, p := range s.params {
		specs[i] = ParamSpec{Name: p.Name, Type: p.Type, Optional: true}
	}
	params, err := bindArgs(specs, args, kwargs)
	if err != nil {
		return nil, &FunctionError{Name: name, Err: err}
	}

	v, err := ev.run(callee, s, prog, params)
	ev.trace(f, name, args, v, err, false)
	return v, err
}

// bindArgs maps positional and keyword arguments to the parameters of a
// signature. An element without parameters accepts any positional
// arguments.
func bindArgs(params []ParamSpec, args []any, kwargs map[string]any) (map[string]any, error) {
	bound := map[string]any{}
	if len(params) == 0 {
		if len(kwargs) > 0 {
			return nil, fmt.Errorf("unexpected keyword argument %s", slices.Sorted(maps.Keys(kwargs))[0])
		}
		return bound, nil
	}
	if len(args) > len(params) {
		return nil, fmt.Errorf("takes at most %d arguments, %d given", len(params), len(args))
	}
	for i, a := range args {
		bound[params[i].Name] = a
	}
	for _, k := range slices.Sorted(maps.Keys(kwargs)) {
		if !slices.ContainsFunc(params, func(p ParamSpec) bool { return p.Name == k }) {
			return nil, fmt.Errorf("unexpected keyword argument %s", k)
		}
		if _, ok := bound[k]; ok {
			return nil, fmt.Errorf("multiple values for argument %s", k)
		}
		bound[k] = kwargs[k]
	}
	var missing []string
	for _, p := range params {
		if _, ok := bound[p.Name]; !ok && !p.Optional {
			missing = append(missing, p.Name)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrMissingArguments, strings.Join(missing, ", "))
	}
	return bound, nil
}

// Call is passed to the implementation of a function element. It gives
// access to the evaluation arguments, the arguments of the call and the
// accumulator of functional errors.
type Call struct {
	Ctx context.Context

	// Args are the evaluation arguments, shared by every call.
	Args Args

	// Arguments of the call as written in the algorithm
	Positional []any
	Keywords   map[string]any

	// The element being called and the rule calling it
	Element *TreeElement
	Rule    *Rule

	bound map[string]any
	ev    *evaluation
}

// Arg returns the argument bound to the parameter name of the element.
func (c *Call) Arg(name string) (any, bool) {
	v, ok := c.bound[name]
	return v, ok
}

// AddError appends a functional error. The evaluation goes on.
func (c *Call) AddError(msg string) {
	c.ev.acc.errors = append(c.ev.acc.errors, msg)
}

// AddWarning appends a warning.
func (c *Call) AddWarning(msg string) {
	c.ev.acc.warnings = append(c.ev.acc.warnings, msg)
}

// AddInfo appends an information message.
func (c *Call) AddInfo(msg string) {
	c.ev.acc.info = append(c.ev.acc.info, msg)
}

// AddDebug appends a debug message.
func (c *Call) AddDebug(msg string) {
	c.ev.acc.debug = append(c.ev.acc.debug, msg)
}

// AddDetail sets a detail of the result.
func (c *Call) AddDetail(key string, value any) {
	c.ev.acc.details[key] = value
}

// AddErrorCode appends the message of a registered error code to the
// list matching its level. An unknown code is reported as an error and
// aborts the rule.
func (c *Call) AddErrorCode(code string) error {
	ec, ok := c.ev.engine.ErrorCode(code)
	if !ok {
		return c.Fail(fmt.Sprintf("No error definition found for error_code %s", code))
	}
	switch ec.Level {
	case LevelInfo:
		c.AddInfo(ec.Message())
	case LevelWarning:
		c.AddWarning(ec.Message())
	default:
		c.AddError(ec.Message())
	}
	return nil
}

// Errors returns the functional errors added so far.
func (c *Call) Errors() []string {
	return slices.Clone(c.ev.acc.errors)
}

// Fail appends msg to the functional errors and returns ErrRuleAborted,
// which the function returns to stop the rule without a value.
func (c *Call) Fail(msg string) error {
	c.AddError(msg)
	return ErrRuleAborted
}

// Incomplete returns ErrIncompleteInputs, which the function returns
// when the data the rule needs is not available yet.
func (c *Call) Incomplete() error {
	return ErrIncompleteInputs
}

// Today returns the date of the evaluation.
func (c *Call) Today() time.Time {
	t := c.ev.today
	return schema.NewDate(t.Year(), t.Month(), t.Day())
}

// Engine returns the engine running the evaluation.
func (c *Call) Engine() *Engine {
	return c.ev.engine
}

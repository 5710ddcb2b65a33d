package arbiter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/ezachrisen/arbiter/algo"
	"github.com/ezachrisen/arbiter/cel"
	"github.com/ezachrisen/arbiter/evaluator"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const (
	defaultMaxSteps = 1_000_000
	defaultDepth    = 50
)

// Engine holds the rules and contexts of a deployment over a registry of
// tree elements, validates rules and evaluates them.
type Engine struct {
	registry *Registry

	// Mutex for the maps below
	mu         sync.RWMutex
	rules      map[string]*Rule
	contexts   map[string]*Context
	errorCodes map[string]ErrorCode

	compilers map[Dialect]func() (evaluator.Compiler, error)

	// Options used by the engine during validation and evaluation
	opts   EngineOptions
	log    *slog.Logger
	tracer trace.Tracer
}

// NewEngine initializes an engine over reg. A nil registry is replaced by
// an empty one.
func NewEngine(reg *Registry, opts ...EngineOption) *Engine {
	if reg == nil {
		reg = NewRegistry()
	}
	engine := Engine{
		registry:   reg,
		rules:      make(map[string]*Rule),
		contexts:   make(map[string]*Context),
		errorCodes: make(map[string]ErrorCode),
		opts: EngineOptions{
			MaxSteps: defaultMaxSteps,
			MaxDepth: defaultDepth,
		},
	}
	applyEngineOptions(&engine.opts, opts...)

	engine.compilers = map[Dialect]func() (evaluator.Compiler, error){
		DialectAlgo: func() (evaluator.Compiler, error) { return algo.NewCompiler(), nil },
		DialectCEL: sync.OnceValues(func() (evaluator.Compiler, error) {
			return cel.NewCompiler()
		}),
	}
	for d, c := range engine.opts.Compilers {
		engine.compilers[d] = func() (evaluator.Compiler, error) { return c, nil }
	}

	engine.log = engine.opts.Logger
	if engine.log == nil {
		engine.log = slog.New(slog.DiscardHandler)
	}
	engine.tracer = engine.opts.Tracer
	if engine.tracer == nil {
		engine.tracer = otel.Tracer("github.com/ezachrisen/arbiter")
	}
	return &engine
}

// See the functional definitions below for the meaning.
type EngineOptions struct {
	StrictCycleCheck  bool
	EnforceResultType bool
	MaxSteps          int
	MaxDepth          int
	Logger            *slog.Logger
	Tracer            trace.Tracer
	Metrics           *Metrics
	Compilers         map[Dialect]evaluator.Compiler
	Logs              LogStore
}

type EngineOption func(f *EngineOptions)

// Given an array of EngineOption functions, apply their effect
// on the EngineOptions struct.
func applyEngineOptions(o *EngineOptions, opts ...EngineOption) {
	for _, opt := range opts {
		opt(o)
	}
}

// StrictCycleCheck makes a rule that can reach itself through the rules
// it calls fail validation. By default it is a warning, and the call is
// stopped at run time with ErrCircularRuleCall.
// Default: off
func StrictCycleCheck(b bool) EngineOption {
	return func(f *EngineOptions) {
		f.StrictCycleCheck = b
	}
}

// EnforceResultType makes evaluation fail with ErrResultType when a rule
// returns a value that does not conform to its declared result type.
// None is accepted for every type.
// Default: off, the result type is documentation only
func EnforceResultType(b bool) EngineOption {
	return func(f *EngineOptions) {
		f.EnforceResultType = b
	}
}

// MaxSteps sets the default step budget of an evaluation. Zero disables
// the budget.
// Default: 1,000,000
func MaxSteps(n int) EngineOption {
	return func(f *EngineOptions) {
		f.MaxSteps = n
	}
}

// MaxDepth sets the default maximum depth of rule calls.
// Default: 50
func MaxDepth(n int) EngineOption {
	return func(f *EngineOptions) {
		f.MaxDepth = n
	}
}

// WithLogger sets the logger the engine reports validations and
// evaluations to.
// Default: discard
func WithLogger(l *slog.Logger) EngineOption {
	return func(f *EngineOptions) {
		f.Logger = l
	}
}

// WithExecutionLogs saves an ExecutionLog of every evaluation of a rule
// whose Debug flag is set. Test runs are not logged.
// Default: none
func WithExecutionLogs(s LogStore) EngineOption {
	return func(f *EngineOptions) {
		f.Logs = s
	}
}

// WithTracer sets the tracer used for validation and evaluation spans.
// Default: the tracer of the global OpenTelemetry provider
func WithTracer(t trace.Tracer) EngineOption {
	return func(f *EngineOptions) {
		f.Tracer = t
	}
}

// WithMetrics records evaluations, calls and validations in m.
func WithMetrics(m *Metrics) EngineOption {
	return func(f *EngineOptions) {
		f.Metrics = m
	}
}

// WithCompiler registers the compiler used for a dialect, replacing the
// built in one.
func WithCompiler(d Dialect, c evaluator.Compiler) EngineOption {
	return func(f *EngineOptions) {
		if f.Compilers == nil {
			f.Compilers = map[Dialect]evaluator.Compiler{}
		}
		f.Compilers[d] = c
	}
}

// Registry returns the registry of tree elements.
func (e *Engine) Registry() *Registry {
	return e.registry
}

// Options returns the options of the engine.
func (e *Engine) Options() EngineOptions {
	return e.opts
}

// NewContext creates a context. Context names are unique.
func (e *Engine) NewContext(name, description string) (*Context, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("%w: context without a name", ErrInvalidName)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.contexts[name]; ok {
		return nil, fmt.Errorf("%w: context %s", ErrDuplicateDefinition, name)
	}
	c := NewContext(name, e.registry)
	c.Description = description
	e.contexts[name] = c
	return c, nil
}

// Context returns the context with the name.
func (e *Engine) Context(name string) (*Context, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	c, ok := e.contexts[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrContextNotFound, name)
	}
	return c, nil
}

// Contexts returns the contexts, sorted by name.
func (e *Engine) Contexts() []*Context {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*Context, 0, len(e.contexts))
	for _, c := range e.contexts {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// RemoveContext deletes a context no rule is bound to.
func (e *Engine) RemoveContext(name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	c, ok := e.contexts[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrContextNotFound, name)
	}
	if rules := c.Rules(); len(rules) > 0 {
		return fmt.Errorf("context %s is used by rule %s", name, rules[0].ShortName)
	}
	delete(e.contexts, name)
	return nil
}

// AddRule adds rules to the engine, replacing rules with the same short
// name, and registers each of them as a tree element of kind rule in the
// RuleNamespace, so contexts can allow other rules to call it.
func (e *Engine) AddRule(rules ...*Rule) error {
	for _, r := range rules {
		if r == nil {
			return fmt.Errorf("attempt to add nil rule")
		}
		if !isIdentifier(r.ShortName) {
			return fmt.Errorf("%w: rule short name %q", ErrInvalidName, r.ShortName)
		}
		if err := e.registerRule(r); err != nil {
			return fmt.Errorf("registering rule %s: %w", r.ShortName, err)
		}

		e.mu.Lock()
		old := e.rules[r.ShortName]
		e.rules[r.ShortName] = r
		e.mu.Unlock()

		// the replaced rule no longer holds on to its context
		if old != nil && old != r {
			if c := old.Context(); c != nil {
				c.unbind(old)
			}
		}
	}
	return nil
}

// registerRule mirrors r into the registry. A rule whose parameters have
// changed replaces its element.
func (e *Engine) registerRule(r *Rule) error {
	params := r.Params()
	specs := make([]ParamSpec, len(params))
	for i, p := range params {
		specs[i] = ParamSpec{Name: p.Name, Type: p.Type, Optional: true}
	}
	el := TreeElement{
		Namespace:   RuleNamespace,
		Name:        r.ShortName,
		Description: r.Name,
		Kind:        KindRule,
		Params:      specs,
		Returns:     r.ResultType,
	}

	_, err := e.registry.Register(el)
	if !errors.Is(err, ErrDuplicateDefinition) {
		return err
	}
	existing, rerr := e.registry.Resolve(RuleNamespace, r.ShortName)
	if rerr != nil || existing.Kind != KindRule {
		return err
	}
	if err := e.registry.Unregister(RuleNamespace, r.ShortName); err != nil {
		return err
	}
	_, err = e.registry.Register(el)
	return err
}

// RemoveRule deletes the rule and its tree element. Rules calling it fail
// with ErrUnauthorizedFunction from then on.
func (e *Engine) RemoveRule(shortName string) error {
	e.mu.Lock()
	r, ok := e.rules[shortName]
	if ok {
		delete(e.rules, shortName)
	}
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrRuleNotFound, shortName)
	}
	if c := r.Context(); c != nil {
		c.unbind(r)
	}
	if err := e.registry.Unregister(RuleNamespace, shortName); err != nil && !errors.Is(err, ErrUnknownFunction) {
		return err
	}
	return nil
}

// Rule returns the rule with the short name.
func (e *Engine) Rule(shortName string) (*Rule, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	r, ok := e.rules[shortName]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRuleNotFound, shortName)
	}
	return r, nil
}

// Rules returns the rules, sorted by short name.
func (e *Engine) Rules() []*Rule {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*Rule, 0, len(e.rules))
	for _, r := range e.rules {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ShortName < out[j].ShortName })
	return out
}

// RuleCount is the number of rules in the engine.
func (e *Engine) RuleCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.rules)
}

// compile returns the program of the rule in state s, compiling and
// caching it when needed.
func (e *Engine) compile(r *Rule, s ruleState) (evaluator.Program, error) {
	if s.program != nil {
		return s.program, nil
	}
	newCompiler, ok := e.compilers[s.dialect]
	if !ok {
		return nil, fmt.Errorf("%w: unknown dialect %q", ErrCompilation, s.dialect)
	}
	c, err := newCompiler()
	if err != nil {
		return nil, fmt.Errorf("creating %s compiler: %w", s.dialect, err)
	}
	p, err := c.Compile(s.algorithm)
	if err != nil {
		return nil, err
	}
	r.setProgram(s.revision, p)
	return p, nil
}

// Evaluate runs the rule against args. The rule must be validated.
//
// Functional errors, warnings and messages added during the evaluation,
// including those of the rules it calls, are returned in the result.
// Failures of the evaluation itself (an unauthorized or unknown
// function, a circular rule call, an exhausted step budget...) are
// returned as errors.
func (e *Engine) Evaluate(ctx context.Context, r *Rule, args Args, opts ...EvalOption) (*Result, error) {
	o := e.evalOptions(r, opts...)
	return e.evaluate(ctx, r, args, o, false)
}

// EvaluateRule evaluates the rule with the short name.
func (e *Engine) EvaluateRule(ctx context.Context, shortName string, args Args, opts ...EvalOption) (*Result, error) {
	r, err := e.Rule(shortName)
	if err != nil {
		return nil, err
	}
	return e.Evaluate(ctx, r, args, opts...)
}

func (e *Engine) evalOptions(r *Rule, opts ...EvalOption) EvalOptions {
	o := EvalOptions{
		MaxSteps: e.opts.MaxSteps,
		MaxDepth: e.opts.MaxDepth,
		Debug:    r.Debug,
	}
	applyEvalOptions(&o, opts...)
	return o
}

// String returns a table of the rules of the engine.
func (e *Engine) String() string {
	tw := table.NewWriter()
	tw.SetTitle("\nARBITER RULES\n")
	tw.AppendHeader(table.Row{"\nRule", "\nStatus", "\nDialect", "\nContext", "Result\nType", "\nAlgorithm"})

	maxWidthOfAlgorithmColumn := 40
	maxLength := 0
	for _, r := range e.Rules() {
		s := r.state()
		ctxName, resultType := "", ""
		if s.context != nil {
			ctxName = s.context.Name
		}
		if r.ResultType != nil {
			resultType = r.ResultType.String()
		}
		tw.AppendRow(table.Row{r.ShortName, string(s.status), string(s.dialect), ctxName, resultType, s.algorithm})
		maxLength = max(maxLength, len(s.algorithm))
	}

	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 6, WidthMax: maxWidthOfAlgorithmColumn},
	})

	style := table.StyleLight
	style.Format.Header = text.FormatDefault
	// Only add the row separator if the algorithm is wide enough to wrap.
	if maxLength > maxWidthOfAlgorithmColumn {
		style.Options.SeparateRows = true
	}
	tw.SetStyle(style)
	return tw.Render()
}

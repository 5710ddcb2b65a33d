package arbiter

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/ezachrisen/arbiter/evaluator"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Validate checks the rule and moves it to validated when no error is
// found:
//
//  1. the algorithm compiles in the rule's dialect;
//  2. every name it calls is a declared parameter accessor, a language
//     builtin, or an element allowed by the rule's context (all the
//     offending names are reported, not only the first one);
//  3. the rule cannot reach itself through the rules it calls (a warning
//     unless the engine has StrictCycleCheck set);
//  4. every test case passes.
//
// Validate returns whether the rule was validated and the diagnostics
// found, warnings included.
func (e *Engine) Validate(ctx context.Context, r *Rule) (bool, Diagnostics) {
	ctx, span := e.tracer.Start(ctx, "arbiter.Validate")
	defer span.End()
	span.SetAttributes(attribute.String("arbiter.rule", r.ShortName))

	ok, diags := e.validate(ctx, r)

	e.opts.Metrics.observeValidation(ok)
	span.SetAttributes(attribute.Bool("arbiter.validated", ok), attribute.Int("arbiter.diagnostics", len(diags)))
	if !ok {
		span.SetStatus(codes.Error, diags.Summary())
	}
	e.log.Info("validated rule", "rule", r.ShortName, "ok", ok, "diagnostics", diags.Summary())
	return ok, diags
}

func (e *Engine) validate(ctx context.Context, r *Rule) (bool, Diagnostics) {
	s := r.state()
	if s.status == StatusDisabled {
		return false, Diagnostics{{
			Severity: SeverityError,
			Kind:     ErrRuleNotValidated,
			Rule:     r.ShortName,
			Msg:      "the rule is disabled",
		}}
	}

	prog, err := e.compile(r, s)
	if err != nil {
		return false, compileDiagnostics(r.ShortName, err)
	}

	var diags Diagnostics
	for _, n := range prog.Notes() {
		diags = append(diags, Diagnostic{
			Severity: SeverityWarning,
			Kind:     ErrCompilation,
			Rule:     r.ShortName,
			Pos:      n.Pos,
			Msg:      n.Msg,
		})
	}

	switch {
	case s.context == nil:
		diags = append(diags, Diagnostic{
			Severity: SeverityError,
			Kind:     ErrContextNotFound,
			Rule:     r.ShortName,
			Msg:      "the rule is not bound to a context",
		})
	case s.context.Empty():
		diags = append(diags, Diagnostic{
			Severity: SeverityWarning,
			Kind:     ErrEmptyContext,
			Rule:     r.ShortName,
			Msg:      fmt.Sprintf("context %s allows nothing", s.context.Name),
		})
	}

	diags = append(diags, e.checkReferences(r, s, prog)...)

	if path := e.findCycle(r, s, prog); path != nil {
		sev := SeverityWarning
		if e.opts.StrictCycleCheck {
			sev = SeverityError
		}
		diags = append(diags, Diagnostic{
			Severity: sev,
			Kind:     ErrCircularRuleCall,
			Rule:     r.ShortName,
			Name:     path[1],
			Msg:      strings.Join(path, " -> "),
		})
	}

	if !diags.HasErrors() {
		diags = append(diags, e.checkTestCases(ctx, r)...)
	}
	if diags.HasErrors() {
		return false, diags
	}

	if !r.markValidated(s.revision) {
		return false, append(diags, Diagnostic{
			Severity: SeverityError,
			Kind:     ErrRuleNotValidated,
			Rule:     r.ShortName,
			Msg:      "the rule changed during validation",
		})
	}
	if registered, err := e.Rule(r.ShortName); err == nil && registered == r {
		if err := e.registerRule(r); err != nil {
			e.log.Warn("updating rule element", "rule", r.ShortName, "error", err)
		}
	}
	return true, diags
}

func compileDiagnostics(rule string, err error) Diagnostics {
	var list evaluator.ErrorList
	if !errors.As(err, &list) {
		return Diagnostics{{
			Severity: SeverityError,
			Kind:     ErrCompilation,
			Rule:     rule,
			Msg:      err.Error(),
		}}
	}
	diags := make(Diagnostics, 0, len(list))
	for _, x := range list {
		diags = append(diags, Diagnostic{
			Severity: SeverityError,
			Kind:     ErrCompilation,
			Rule:     rule,
			Pos:      x.Pos,
			Msg:      x.Msg,
		})
	}
	return diags
}

// checkReferences reports each name the program calls that the rule's
// context does not allow. A name is reported once, at its first use.
func (e *Engine) checkReferences(r *Rule, s ruleState, prog evaluator.Program) Diagnostics {
	var diags Diagnostics
	seen := map[string]bool{}
	for _, ref := range prog.References() {
		if seen[ref.Name] {
			continue
		}
		seen[ref.Name] = true

		if p, ok := strings.CutPrefix(ref.Name, ParamPrefix); ok && slices.ContainsFunc(s.params, func(x Param) bool { return x.Name == p }) {
			continue
		}

		d := Diagnostic{
			Severity: SeverityError,
			Kind:     ErrUnauthorizedFunction,
			Rule:     r.ShortName,
			Name:     ref.Name,
			Pos:      ref.Pos,
		}
		if s.context == nil {
			d.Msg = "no context"
			diags = append(diags, d)
			continue
		}
		if _, err := s.context.Lookup(ref.Name); err != nil {
			if errors.Is(err, ErrDuplicateDefinition) {
				d.Kind = ErrDuplicateDefinition
			}
			d.Msg = fmt.Sprintf("not allowed in context %s", s.context.Name)
			if d.Kind == ErrDuplicateDefinition {
				d.Msg = err.Error()
			}
			diags = append(diags, d)
		}
	}
	return diags
}

// findCycle follows the rules the program can call through the contexts
// of each rule on the path, and returns the path back to r, or nil.
func (e *Engine) findCycle(r *Rule, s ruleState, prog evaluator.Program) []string {
	visited := map[string]bool{}

	var walk func(c *Context, p evaluator.Program, path []string) []string
	walk = func(c *Context, p evaluator.Program, path []string) []string {
		if c == nil {
			return nil
		}
		for _, ref := range p.References() {
			el, err := c.Lookup(ref.Name)
			if err != nil || el.Kind != KindRule {
				continue
			}
			next := append(slices.Clone(path), el.Name)
			if el.Name == r.ShortName {
				return next
			}
			if visited[el.Name] {
				continue
			}
			visited[el.Name] = true

			callee, err := e.Rule(el.Name)
			if err != nil {
				continue
			}
			cs := callee.state()
			cp, err := e.compile(callee, cs)
			if err != nil {
				continue
			}
			if found := walk(cs.context, cp, next); found != nil {
				return found
			}
		}
		return nil
	}
	return walk(s.context, prog, []string{r.ShortName})
}

func (e *Engine) checkTestCases(ctx context.Context, r *Rule) Diagnostics {
	report, err := NewRunner(e).Run(ctx, r)
	if err != nil {
		return Diagnostics{{
			Severity: SeverityError,
			Kind:     ErrTestCaseFailed,
			Rule:     r.ShortName,
			Msg:      err.Error(),
		}}
	}
	var diags Diagnostics
	for _, o := range report.Failed() {
		d := Diagnostic{
			Severity: SeverityError,
			Kind:     ErrTestCaseFailed,
			Rule:     r.ShortName,
			TestCase: o.TestCase.Description,
			Expected: o.Expected,
			Actual:   o.Actual,
			Diff:     o.Diff,
		}
		if o.Err != nil {
			d.Msg = o.Err.Error()
			d.Actual = o.Err.Error()
		} else {
			d.Msg = fmt.Sprintf("expected %s, got %s", o.Expected, o.Actual)
		}
		diags = append(diags, d)
	}
	return diags
}

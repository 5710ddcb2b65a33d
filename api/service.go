package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ezachrisen/arbiter"
	"github.com/ezachrisen/arbiter/catalog"
	"github.com/ezachrisen/arbiter/schema"
	"github.com/ezachrisen/arbiter/store"
)

var errNoStore = errors.New("no store: execution logs are not kept")

// Service implements RuleService over a vault. Rules changed through the
// service are saved in the store, when there is one.
type Service struct {
	vault  *arbiter.Vault
	store  *store.Store
	logger *slog.Logger
}

var _ RuleService = (*Service)(nil)

// NewService returns a service evaluating the engine of vault. st may
// be nil.
func NewService(vault *arbiter.Vault, st *store.Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{vault: vault, store: st, logger: logger}
}

func (s *Service) Evaluate(ctx context.Context, req EvaluateRequest) (*EvaluateResponse, error) {
	e := s.vault.Engine()
	r, err := e.Rule(req.Rule)
	if err != nil {
		return nil, err
	}

	params, err := ruleParams(r, req.Params)
	if err != nil {
		return nil, err
	}
	opts := []arbiter.EvalOption{arbiter.WithParams(params), arbiter.WithDebug(req.Debug)}
	if req.Today != "" {
		today, err := schema.ParseDate(req.Today)
		if err != nil {
			return nil, fmt.Errorf("%w: today: %v", arbiter.ErrCoercion, err)
		}
		opts = append(opts, arbiter.WithToday(today))
	}

	res, err := e.Evaluate(ctx, r, arbiter.Args(req.Args), opts...)
	if err != nil {
		return nil, err
	}

	out := &EvaluateResponse{
		EvalID:     res.EvalID,
		Value:      schema.JSON(res.Value),
		Display:    schema.Format(res.Value),
		Errors:     nonNil(res.Errors),
		Warnings:   nonNil(res.Warnings),
		Info:       nonNil(res.Info),
		Debug:      nonNil(res.Debug),
		Incomplete: res.Incomplete,
		Steps:      res.Steps,
	}
	if len(res.Details) > 0 {
		out.Details = make(map[string]any, len(res.Details))
		for k, v := range res.Details {
			out.Details[k] = schema.JSON(v)
		}
	}
	for _, c := range res.Calls {
		out.Calls = append(out.Calls, Call{
			Rule:       c.Rule,
			Depth:      c.Depth,
			Call:       c.String(),
			Error:      c.Err,
			Overridden: c.Overridden,
		})
	}
	return out, nil
}

// ruleParams converts JSON parameter values to the declared types.
func ruleParams(r *arbiter.Rule, in map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(in))
	for name, v := range in {
		p, ok := r.Param(name)
		if !ok {
			return nil, fmt.Errorf("%w: rule %s has no parameter %s", arbiter.ErrCoercion, r.ShortName, name)
		}
		c, err := schema.Coerce(p.Type, v)
		if err != nil {
			return nil, fmt.Errorf("%w: parameter %s: %v", arbiter.ErrCoercion, name, err)
		}
		out[name] = c
	}
	return out, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func (s *Service) Validate(ctx context.Context, req ValidateRequest) (*ValidateResponse, error) {
	r, err := s.vault.Engine().Rule(req.Rule)
	if err != nil {
		return nil, err
	}

	// Validation changes the status of the rule: it goes through the
	// vault like any other change.
	diags, err := s.vault.ApplyMutations(ctx, []arbiter.RuleMutation{{ShortName: r.ShortName, Rule: r}})
	if err != nil && !diags.HasErrors() {
		return nil, err
	}
	out := &ValidateResponse{
		Validated:   err == nil,
		Summary:     diags.Summary(),
		Diagnostics: diagnostics(diags),
	}
	current, rerr := s.vault.Engine().Rule(req.Rule)
	if rerr != nil {
		return nil, rerr
	}
	out.Status = string(current.Status())
	if err == nil {
		s.save(current)
	}
	return out, nil
}

func (s *Service) RunTests(ctx context.Context, req RunTestsRequest) (*RunTestsResponse, error) {
	e := s.vault.Engine()
	r, err := e.Rule(req.Rule)
	if err != nil {
		return nil, err
	}
	report, err := arbiter.NewRunner(e).Run(ctx, r)
	if err != nil {
		return nil, err
	}

	out := &RunTestsResponse{Passed: report.Passed(), Outcomes: []Outcome{}}
	for _, o := range report.Outcomes {
		x := Outcome{
			Description: o.TestCase.Description,
			Passed:      o.Passed,
			Expected:    o.Expected,
			Actual:      o.Actual,
			Diff:        o.Diff,
		}
		if o.Err != nil {
			x.Error = o.Err.Error()
		}
		out.Outcomes = append(out.Outcomes, x)
	}
	return out, nil
}

func (s *Service) ListRules(ctx context.Context, req ListRulesRequest) (*ListRulesResponse, error) {
	e := s.vault.Engine()
	rules := e.Rules()
	if req.Context != "" {
		c, err := e.Context(req.Context)
		if err != nil {
			return nil, err
		}
		rules = c.Rules()
	}

	out := &ListRulesResponse{Rules: []RuleSummary{}}
	for _, r := range rules {
		x := RuleSummary{
			ShortName: r.ShortName,
			Name:      r.Name,
			Status:    string(r.Status()),
			Dialect:   string(r.Dialect()),
		}
		if c := r.Context(); c != nil {
			x.Context = c.Name
		}
		out.Rules = append(out.Rules, x)
	}
	return out, nil
}

func (s *Service) PutRule(ctx context.Context, req PutRuleRequest) (*PutRuleResponse, error) {
	r, err := req.Rule.ToRule()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", arbiter.ErrInvalidName, err)
	}
	diags, err := s.vault.ApplyMutations(ctx, []arbiter.RuleMutation{{
		ShortName: r.ShortName,
		Rule:      r,
		Context:   req.Rule.Context,
	}})
	if err != nil && !diags.HasErrors() {
		return nil, err
	}
	out := &PutRuleResponse{
		Published:   err == nil,
		Summary:     diags.Summary(),
		Diagnostics: diagnostics(diags),
	}
	if err != nil {
		s.logger.Info("rule rejected", "rule", r.ShortName, "diagnostics", diags.Summary())
		return out, nil
	}

	current, err := s.vault.Engine().Rule(r.ShortName)
	if err != nil {
		return nil, err
	}
	s.save(current)
	return out, nil
}

func (s *Service) DeleteRule(ctx context.Context, req DeleteRuleRequest) (*DeleteRuleResponse, error) {
	if _, err := s.vault.Engine().Rule(req.Rule); err != nil {
		return nil, err
	}
	if _, err := s.vault.ApplyMutations(ctx, []arbiter.RuleMutation{{ShortName: req.Rule}}); err != nil {
		return nil, err
	}
	if s.store != nil {
		if err := s.store.DeleteRule(req.Rule); err != nil {
			s.logger.Warn("deleting stored rule", "rule", req.Rule, "error", err)
		}
	}
	return &DeleteRuleResponse{}, nil
}

func (s *Service) Tree(ctx context.Context, req TreeRequest) (*TreeResponse, error) {
	return &TreeResponse{Tree: s.vault.Engine().Registry().Tree()}, nil
}

func (s *Service) Logs(ctx context.Context, req LogsRequest) (*LogsResponse, error) {
	if s.store == nil {
		return nil, errNoStore
	}
	logs, err := s.store.Logs(req.Rule)
	if err != nil {
		return nil, err
	}
	if logs == nil {
		logs = []arbiter.ExecutionLog{}
	}
	return &LogsResponse{Logs: logs}, nil
}

func (s *Service) CreateTestCase(ctx context.Context, req CreateTestCaseRequest) (*CreateTestCaseResponse, error) {
	if s.store == nil {
		return nil, errNoStore
	}
	r, err := s.vault.Engine().Rule(req.Rule)
	if err != nil {
		return nil, err
	}
	l, err := s.store.Log(req.Rule, req.EvalID)
	if err != nil {
		return nil, err
	}

	rule := catalog.FromRule(r)
	tc := catalog.FromTestCase(l.TestCase(req.Description))
	rule.TestCases = append(rule.TestCases, tc)
	put, err := s.PutRule(ctx, PutRuleRequest{Rule: rule})
	if err != nil {
		return nil, err
	}
	return &CreateTestCaseResponse{
		TestCase:    tc,
		Published:   put.Published,
		Summary:     put.Summary,
		Diagnostics: put.Diagnostics,
	}, nil
}

// save writes the rule to the store. The engine stays the reference: a
// failure is logged, not returned.
func (s *Service) save(r *arbiter.Rule) {
	if s.store == nil {
		return
	}
	if err := s.store.PutRule(catalog.FromRule(r)); err != nil {
		s.logger.Warn("saving rule", "rule", r.ShortName, "error", err)
	}
}

func diagnostics(diags arbiter.Diagnostics) []Diagnostic {
	out := make([]Diagnostic, 0, len(diags))
	for _, d := range diags {
		x := Diagnostic{
			Severity: d.Severity.String(),
			Rule:     d.Rule,
			Name:     d.Name,
			TestCase: d.TestCase,
			Expected: d.Expected,
			Actual:   d.Actual,
			Message:  d.Msg,
		}
		if d.Kind != nil {
			x.Kind = d.Kind.Error()
		}
		if d.Pos.Line > 0 {
			x.Pos = d.Pos.String()
		}
		out = append(out, x)
	}
	return out
}

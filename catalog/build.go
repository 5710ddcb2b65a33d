package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ezachrisen/arbiter"
	"github.com/ezachrisen/arbiter/schema"
)

// Apply adds the content of the catalog to e: folders and function
// documentation first, then error codes, contexts and rules. Rules are
// added as drafts (or disabled); Build validates them.
//
// A rule replacing a rule of e is unbound from its previous context.
func Apply(e *arbiter.Engine, cat *Catalog) error {
	reg := e.Registry()

	for _, el := range cat.Elements {
		if err := applyElement(reg, el); err != nil {
			return fmt.Errorf("element %s: %w", el.Key(), err)
		}
	}

	codes := make([]arbiter.ErrorCode, len(cat.Errors))
	for i, c := range cat.Errors {
		codes[i] = arbiter.ErrorCode{Code: c.Code, Name: c.Name, Level: arbiter.Level(c.Kind), Description: c.Description}
	}
	if err := e.AddErrorCodes(codes...); err != nil {
		return err
	}

	for _, c := range cat.Contexts {
		if err := defineContext(e, c); err != nil {
			return fmt.Errorf("context %s: %w", c.Name, err)
		}
	}

	for _, r := range cat.Rules {
		rule, err := r.ToRule()
		if err != nil {
			return fmt.Errorf("rule %s: %w", r.ShortName, err)
		}
		if r.Context != "" {
			c, err := e.Context(r.Context)
			if err != nil {
				return fmt.Errorf("rule %s: %w", r.ShortName, err)
			}
			rule.SetContext(c)
		}
		if old, err := e.Rule(r.ShortName); err == nil {
			old.SetContext(nil)
		}
		if err := e.AddRule(rule); err != nil {
			return err
		}
	}

	// Allow-lists come last: they may name rules.
	for _, c := range cat.Contexts {
		if err := allowElements(e, c); err != nil {
			return fmt.Errorf("context %s: %w", c.Name, err)
		}
	}
	return nil
}

func applyElement(reg *arbiter.Registry, el Element) error {
	var parent arbiter.Key
	if el.Parent != "" {
		k, err := parseKey(el.Parent)
		if err != nil {
			return err
		}
		parent = k
	}

	if el.Folder {
		_, err := reg.Register(arbiter.TreeElement{
			Namespace:       el.Namespace,
			Name:            el.Name,
			Kind:            arbiter.KindFolder,
			Description:     el.Description,
			LongDescription: el.LongDescription,
			Parent:          parent,
		})
		return err
	}

	existing, err := reg.Resolve(el.Namespace, el.Name)
	if err != nil {
		return err
	}
	updated := *existing
	if el.Description != "" {
		updated.Description = el.Description
	}
	if el.LongDescription != "" {
		updated.LongDescription = el.LongDescription
	}
	updated.Parent = parent
	_, err = reg.Register(updated)
	return err
}

func defineContext(e *arbiter.Engine, c Context) error {
	ctx, err := e.Context(c.Name)
	if errors.Is(err, arbiter.ErrContextNotFound) {
		_, err = e.NewContext(c.Name, c.Description)
		return err
	}
	if err != nil {
		return err
	}
	if c.Description != "" {
		ctx.Description = c.Description
	}
	return nil
}

func allowElements(e *arbiter.Engine, c Context) error {
	ctx, err := e.Context(c.Name)
	if err != nil {
		return err
	}
	reg := e.Registry()
	for _, a := range c.Allow {
		k, err := parseKey(a)
		if err != nil {
			return err
		}
		el, err := reg.Resolve(k.Namespace, k.Name)
		if err != nil {
			return err
		}
		if err := ctx.AddElement(el); err != nil {
			return err
		}
	}
	return nil
}

// ToRule returns the rule the document defines, a draft (or disabled)
// rule bound to no context.
func (r Rule) ToRule() (*arbiter.Rule, error) {
	rule := arbiter.NewRule(r.ShortName, r.Algorithm)
	rule.Name = r.Name
	rule.Description = r.Description
	rule.Debug = r.Debug
	if r.Dialect != "" {
		rule.SetDialect(arbiter.Dialect(r.Dialect))
	}
	if r.ResultType != "" {
		t, err := schema.ParseType(r.ResultType)
		if err != nil {
			return nil, fmt.Errorf("result type: %w", err)
		}
		rule.ResultType = t
	}

	params := make([]arbiter.Param, len(r.Params))
	for i, p := range r.Params {
		var t schema.Type = schema.Any{}
		if p.Type != "" {
			pt, err := schema.ParseType(p.Type)
			if err != nil {
				return nil, fmt.Errorf("parameter %s: %w", p.Name, err)
			}
			t = pt
		}
		params[i] = arbiter.Param{Name: p.Name, Type: t, Description: p.Description}
	}
	if err := rule.SetParams(params...); err != nil {
		return nil, err
	}

	cases := make([]arbiter.TestCase, len(r.TestCases))
	for i, tc := range r.TestCases {
		cases[i] = arbiter.TestCase{Description: tc.Description, Expected: string(tc.Expected)}
		for _, v := range tc.Values {
			cases[i].Values = append(cases[i].Values, arbiter.TestCaseValue{Name: v.Name, Value: string(v.Value)})
		}
	}
	rule.SetTestCases(cases...)

	if r.Status == string(arbiter.StatusDisabled) {
		rule.Disable()
	}
	return rule, nil
}

// Build applies the catalog to a copy of base and validates the rules
// the catalog marks validated. Rules may call each other, so validation
// is repeated until no more rules pass; the diagnostics of the rules
// that still fail are returned with ErrRejected.
//
// The engine is returned even when rules are rejected; those rules stay
// drafts.
func Build(ctx context.Context, base *arbiter.Engine, cat *Catalog) (*arbiter.Engine, arbiter.Diagnostics, error) {
	e := base.Clone()
	if err := Apply(e, cat); err != nil {
		return nil, nil, err
	}

	pending := []*arbiter.Rule{}
	for _, r := range cat.Rules {
		if r.Status != string(arbiter.StatusValidated) {
			continue
		}
		rule, err := e.Rule(r.ShortName)
		if err != nil {
			return nil, nil, err
		}
		pending = append(pending, rule)
	}

	diags := map[*arbiter.Rule]arbiter.Diagnostics{}
	var passed arbiter.Diagnostics
	for progress := true; progress && len(pending) > 0; {
		progress = false
		var failed []*arbiter.Rule
		for _, r := range pending {
			ok, d := e.Validate(ctx, r)
			if ctx.Err() != nil {
				return nil, nil, ctx.Err()
			}
			if ok {
				passed = append(passed, d...)
				progress = true
				continue
			}
			diags[r] = d
			failed = append(failed, r)
		}
		pending = failed
	}

	if len(pending) == 0 {
		return e, passed, nil
	}
	names := make([]string, len(pending))
	all := passed
	for i, r := range pending {
		names[i] = r.ShortName
		all = append(all, diags[r]...)
	}
	return e, all, fmt.Errorf("%w: %s", ErrRejected, strings.Join(names, ", "))
}

// FromEngine exports the folders, contexts, error codes and rules of e.
// Functions registered by code are not exported.
func FromEngine(e *arbiter.Engine) *Catalog {
	cat := &Catalog{}
	for _, el := range e.Registry().Elements() {
		if el.Kind != arbiter.KindFolder {
			continue
		}
		x := Element{
			Namespace:       el.Namespace,
			Name:            el.Name,
			Folder:          true,
			Description:     el.Description,
			LongDescription: el.LongDescription,
		}
		if el.Parent != (arbiter.Key{}) {
			x.Parent = el.Parent.String()
		}
		cat.Elements = append(cat.Elements, x)
	}

	for _, c := range e.Contexts() {
		x := Context{Name: c.Name, Description: c.Description}
		for _, el := range c.Elements() {
			x.Allow = append(x.Allow, el.Key().String())
		}
		cat.Contexts = append(cat.Contexts, x)
	}

	for _, c := range e.ErrorCodes() {
		cat.Errors = append(cat.Errors, ErrorCode{Code: c.Code, Name: c.Name, Kind: string(c.Level), Description: c.Description})
	}

	for _, r := range e.Rules() {
		cat.Rules = append(cat.Rules, FromRule(r))
	}
	return cat
}

// FromRule returns the document of a rule.
func FromRule(r *arbiter.Rule) Rule {
	x := Rule{
		ShortName:   r.ShortName,
		Name:        r.Name,
		Description: r.Description,
		Algorithm:   r.Algorithm(),
		Status:      string(r.Status()),
		Debug:       r.Debug,
	}
	if d := r.Dialect(); d != arbiter.DialectAlgo {
		x.Dialect = string(d)
	}
	if r.ResultType != nil {
		x.ResultType = r.ResultType.String()
	}
	if c := r.Context(); c != nil {
		x.Context = c.Name
	}
	for _, p := range r.Params() {
		px := Param{Name: p.Name, Description: p.Description}
		if _, isAny := p.Type.(schema.Any); p.Type != nil && !isAny {
			px.Type = p.Type.String()
		}
		x.Params = append(x.Params, px)
	}
	for _, tc := range r.TestCases() {
		x.TestCases = append(x.TestCases, FromTestCase(tc))
	}
	return x
}

// FromTestCase converts a test case of the engine to its catalog form.
func FromTestCase(tc arbiter.TestCase) TestCase {
	tx := TestCase{Description: tc.Description, Expected: Literal(tc.Expected)}
	for _, v := range tc.Values {
		tx.Values = append(tx.Values, Value{Name: v.Name, Value: Literal(v.Value)})
	}
	return tx
}

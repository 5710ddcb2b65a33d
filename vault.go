package arbiter

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"sync/atomic"
)

// Vault provides lock-free, hot-reloadable access to an engine.
//
// Readers get the current engine with Engine and evaluate against it.
// Writers never change that engine: ApplyMutations and Publish install a
// new one, so evaluations in flight finish on the snapshot they started
// with.
type Vault struct {
	current atomic.Pointer[Engine]

	// serializes writers
	mu sync.Mutex
}

// RuleMutation defines a single change to the rules of the vault.
type RuleMutation struct {
	// Required; short name of the rule being changed, added or deleted
	ShortName string

	// Rule is the new definition replacing or adding the rule. If Rule is
	// nil and Context is empty, the rule is deleted.
	Rule *Rule

	// Context is the name of the context to bind the rule to. With a nil
	// Rule, the existing rule is moved to this context. When adding or
	// replacing a rule it defaults to the context of the replaced rule.
	Context string
}

// NewVault creates a vault holding e. A nil engine is replaced by an
// empty one.
func NewVault(e *Engine) *Vault {
	if e == nil {
		e = NewEngine(nil)
	}
	v := &Vault{}
	v.current.Store(e)
	return v
}

// Engine returns the current engine. It must be treated as read-only.
func (v *Vault) Engine() *Engine {
	return v.current.Load()
}

// Publish replaces the engine, typically with one built from a catalog.
func (v *Vault) Publish(e *Engine) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.current.Store(e)
}

// ApplyMutations changes a copy of the current engine, validates every
// rule added, replaced or moved, and publishes the copy. When a mutation
// fails or a rule does not validate, the current engine is kept and the
// diagnostics of the failed validation are returned with the error.
func (v *Vault) ApplyMutations(ctx context.Context, mutations []RuleMutation) (Diagnostics, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	next := v.current.Load().Clone()
	var changed []*Rule
	for _, m := range mutations {
		r, err := next.applyMutation(m)
		if err != nil {
			return nil, fmt.Errorf("rule %s: %w", m.ShortName, err)
		}
		if r != nil {
			changed = append(changed, r)
		}
	}

	var all Diagnostics
	for _, r := range changed {
		ok, diags := next.Validate(ctx, r)
		all = append(all, diags...)
		if !ok {
			return all, fmt.Errorf("validating rule %s: %w", r.ShortName, diags.Err())
		}
	}
	v.current.Store(next)
	return all, nil
}

// applyMutation returns the rule to validate, nil for a deletion.
func (e *Engine) applyMutation(m RuleMutation) (*Rule, error) {
	existing, _ := e.Rule(m.ShortName)

	switch {
	case m.Rule == nil && m.Context == "":
		return nil, e.RemoveRule(m.ShortName)

	case m.Rule == nil:
		if existing == nil {
			return nil, fmt.Errorf("moving: %w", ErrRuleNotFound)
		}
		c, err := e.Context(m.Context)
		if err != nil {
			return nil, fmt.Errorf("moving: %w", err)
		}
		existing.SetContext(c)
		return existing, nil
	}

	if m.Rule.ShortName != m.ShortName {
		return nil, fmt.Errorf("%w: mutation of %s carries rule %s", ErrInvalidName, m.ShortName, m.Rule.ShortName)
	}
	name := m.Context
	if name == "" && existing != nil && existing.Context() != nil {
		name = existing.Context().Name
	}
	if name == "" && m.Rule.Context() != nil {
		name = m.Rule.Context().Name
	}

	// The rule is copied so the caller's rule is never bound to a
	// context of the vault.
	r := m.Rule.clone(nil)
	if r.status == StatusValidated {
		r.status = StatusDraft
	}
	if name != "" {
		c, err := e.Context(name)
		if err != nil {
			return nil, err
		}
		r.context = c
		c.bind(r)
	}
	if existing != nil {
		if c := existing.Context(); c != nil {
			c.unbind(existing)
		}
	}
	if err := e.AddRule(r); err != nil {
		return nil, err
	}
	return r, nil
}

// Clone returns a copy of the engine, its registry, contexts, error codes
// and rules, that can be changed without affecting e. Compiled programs
// are shared.
func (e *Engine) Clone() *Engine {
	reg := e.registry.clone()

	e.mu.RLock()
	defer e.mu.RUnlock()

	ne := &Engine{
		registry:   reg,
		rules:      make(map[string]*Rule, len(e.rules)),
		contexts:   make(map[string]*Context, len(e.contexts)),
		errorCodes: maps.Clone(e.errorCodes),
		compilers:  e.compilers,
		opts:       e.opts,
		log:        e.log,
		tracer:     e.tracer,
	}
	for name, c := range e.contexts {
		nc := NewContext(name, reg)
		nc.Description = c.Description
		c.mu.RLock()
		nc.allowed = maps.Clone(c.allowed)
		c.mu.RUnlock()
		ne.contexts[name] = nc
	}
	for name, r := range e.rules {
		var nc *Context
		if c := r.Context(); c != nil {
			nc = ne.contexts[c.Name]
		}
		nr := r.clone(nc)
		if nc != nil {
			nc.bind(nr)
		}
		ne.rules[name] = nr
	}
	return ne
}

func (r *Registry) clone() *Registry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return &Registry{elements: maps.Clone(r.elements), version: r.version}
}

// clone copies the rule, bound to c. The status and the compiled
// program carry over.
func (r *Rule) clone(c *Context) *Rule {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return &Rule{
		ShortName:       r.ShortName,
		Name:            r.Name,
		Description:     r.Description,
		ResultType:      r.ResultType,
		Debug:           r.Debug,
		Meta:            r.Meta,
		algorithm:       r.algorithm,
		dialect:         r.dialect,
		params:          slices.Clone(r.params),
		testCases:       slices.Clone(r.testCases),
		status:          r.status,
		context:         c,
		revision:        r.revision,
		program:         r.program,
		programRevision: r.programRevision,
	}
}

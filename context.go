package arbiter

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Context is a named allow-list of tree elements. A rule bound to a
// context may only call the elements the context allows. Allowing a
// folder allows every element below it.
type Context struct {
	Name        string
	Description string

	registry *Registry

	mu      sync.RWMutex
	allowed map[Key]bool
	rules   map[*Rule]bool

	// index maps technical names to the elements the context allows. It
	// is rebuilt when the allow-list or the registry changes.
	index        map[string][]*TreeElement
	indexVersion uint64
	indexValid   bool
}

// NewContext returns an empty context over the elements of reg.
func NewContext(name string, reg *Registry) *Context {
	return &Context{
		Name:     name,
		registry: reg,
		allowed:  map[Key]bool{},
		rules:    map[*Rule]bool{},
	}
}

// Allows reports whether the element, or one of the folders above it, is
// in the allow-list.
func (c *Context) Allows(namespace, name string) bool {
	k := Key{Namespace: namespace, Name: name}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.allowed[k] {
		return true
	}
	c.registry.mu.RLock()
	defer c.registry.mu.RUnlock()
	for _, a := range c.registry.ancestors(k) {
		if c.allowed[a] {
			return true
		}
	}
	return false
}

// AddElement allows e. It fails when e is not registered, or when it
// would allow two different elements with the same technical name.
func (c *Context) AddElement(e *TreeElement) error {
	if _, err := c.registry.Resolve(e.Namespace, e.Name); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.allowed[e.Key()] {
		return nil
	}

	next := make(map[Key]bool, len(c.allowed)+1)
	for k := range c.allowed {
		next[k] = true
	}
	next[e.Key()] = true

	index, version := c.buildIndex(next)
	for name, elems := range index {
		if len(elems) > 1 {
			return fmt.Errorf("%w: %s would allow %s twice (%s)", ErrDuplicateDefinition, c.Name, name, keyList(elems))
		}
	}

	c.allowed = next
	c.index, c.indexVersion, c.indexValid = index, version, true
	return nil
}

// RemoveElement removes e from the allow-list. Removal is never refused:
// for each validated rule bound to the context that calls an element no
// longer allowed, a warning diagnostic is returned instead.
func (c *Context) RemoveElement(e *TreeElement) Diagnostics {
	c.mu.Lock()
	if !c.allowed[e.Key()] {
		c.mu.Unlock()
		return nil
	}
	before := c.lookupIndexLocked()
	delete(c.allowed, e.Key())
	c.indexValid = false
	after := c.lookupIndexLocked()
	rules := c.boundRulesLocked()
	c.mu.Unlock()

	var diags Diagnostics
	for _, r := range rules {
		if r.Status() != StatusValidated {
			continue
		}
		p := r.cachedProgram()
		if p == nil {
			continue
		}
		for _, ref := range p.References() {
			if len(before[ref.Name]) == 0 || len(after[ref.Name]) > 0 {
				continue
			}
			diags = append(diags, Diagnostic{
				Severity: SeverityWarning,
				Kind:     ErrUnauthorizedFunction,
				Rule:     r.ShortName,
				Name:     ref.Name,
				Pos:      ref.Pos,
				Msg:      fmt.Sprintf("context %s no longer allows %s; the rule must be validated again", c.Name, ref.Name),
			})
			break
		}
	}
	return diags
}

// Lookup returns the allowed element algorithms call technicalName.
func (c *Context) Lookup(technicalName string) (*TreeElement, error) {
	index := c.lookupIndex()
	elems := index[technicalName]
	switch len(elems) {
	case 0:
		return nil, fmt.Errorf("%w: %s is not allowed in context %s", ErrUnauthorizedFunction, technicalName, c.Name)
	case 1:
		return elems[0], nil
	}
	return nil, fmt.Errorf("%w: %s is ambiguous in context %s (%s)", ErrDuplicateDefinition, technicalName, c.Name, keyList(elems))
}

// Elements returns the elements added to the context, sorted by key.
func (c *Context) Elements() []*TreeElement {
	c.mu.RLock()
	keys := make([]Key, 0, len(c.allowed))
	for k := range c.allowed {
		keys = append(keys, k)
	}
	c.mu.RUnlock()

	out := []*TreeElement{}
	for _, k := range keys {
		if e, err := c.registry.Resolve(k.Namespace, k.Name); err == nil {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Key().String() < out[j].Key().String()
	})
	return out
}

// Functions returns every callable element the context allows, folders
// expanded, sorted by technical name.
func (c *Context) Functions() []*TreeElement {
	index := c.lookupIndex()
	out := []*TreeElement{}
	for _, elems := range index {
		out = append(out, elems...)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TechnicalName != out[j].TechnicalName {
			return out[i].TechnicalName < out[j].TechnicalName
		}
		return out[i].Key().String() < out[j].Key().String()
	})
	return out
}

// Empty reports whether the context allows nothing.
func (c *Context) Empty() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.allowed) == 0
}

// Rules returns the rules bound to the context, sorted by short name.
func (c *Context) Rules() []*Rule {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.boundRulesLocked()
}

func (c *Context) boundRulesLocked() []*Rule {
	out := make([]*Rule, 0, len(c.rules))
	for r := range c.rules {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ShortName < out[j].ShortName })
	return out
}

func (c *Context) bind(r *Rule) {
	c.mu.Lock()
	c.rules[r] = true
	c.mu.Unlock()
}

func (c *Context) unbind(r *Rule) {
	c.mu.Lock()
	delete(c.rules, r)
	c.mu.Unlock()
}

func (c *Context) lookupIndex() map[string][]*TreeElement {
	version := c.registry.currentVersion()
	c.mu.RLock()
	if c.indexValid && c.indexVersion == version {
		index := c.index
		c.mu.RUnlock()
		return index
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lookupIndexLocked()
}

// lookupIndexLocked returns the index, rebuilding it when stale. c.mu
// must be held for writing.
func (c *Context) lookupIndexLocked() map[string][]*TreeElement {
	if c.indexValid && c.indexVersion == c.registry.currentVersion() {
		return c.index
	}
	c.index, c.indexVersion = c.buildIndex(c.allowed)
	c.indexValid = true
	return c.index
}

func (c *Context) buildIndex(allowed map[Key]bool) (map[string][]*TreeElement, uint64) {
	c.registry.mu.RLock()
	defer c.registry.mu.RUnlock()

	index := map[string][]*TreeElement{}
	seen := map[Key]bool{}
	for k := range allowed {
		for _, e := range c.registry.subtree(k) {
			if e.Kind == KindFolder || seen[e.Key()] {
				continue
			}
			seen[e.Key()] = true
			index[e.TechnicalName] = append(index[e.TechnicalName], e)
		}
	}
	for _, elems := range index {
		sort.Slice(elems, func(i, j int) bool {
			return elems[i].Key().String() < elems[j].Key().String()
		})
	}
	return index, c.registry.version
}

func keyList(elems []*TreeElement) string {
	s := make([]string, len(elems))
	for i, e := range elems {
		s[i] = e.Key().String()
	}
	return strings.Join(s, ", ")
}

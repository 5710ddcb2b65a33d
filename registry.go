package arbiter

import (
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/ezachrisen/arbiter/schema"
)

// Kind is the kind of a tree element.
type Kind string

const (
	KindFunction Kind = "function"
	KindFolder   Kind = "folder"
	KindRule     Kind = "rule"
)

// RuleNamespace is the namespace rules added to an engine are registered
// under, so that other rules can call them by short name.
const RuleNamespace = "rule"

// Key identifies a tree element.
type Key struct {
	Namespace string
	Name      string
}

func (k Key) String() string {
	return k.Namespace + "/" + k.Name
}

// ParamSpec describes one argument of a tree element.
type ParamSpec struct {
	Name     string
	Type     schema.Type
	Optional bool
}

// Func is the implementation of a function element.
type Func func(c *Call) (any, error)

// TreeElement is a named callable rule authors may use in an algorithm,
// or a folder grouping other elements.
type TreeElement struct {
	Namespace string
	Name      string

	// TechnicalName is the identifier algorithms call the element by.
	// It defaults to Name.
	TechnicalName string

	Description     string
	LongDescription string
	Kind            Kind

	// Params is the argument signature. Positional and keyword arguments
	// of a call are bound to it.
	Params  []ParamSpec
	Returns schema.Type

	// Requires lists the evaluation arguments the function reads. When
	// one is missing, the call adds "<name> undefined !" to the errors
	// and aborts the rule.
	Requires []string

	Func Func

	// Parent is the folder the element is shown under.
	Parent Key
}

// Key returns the key of the element.
func (e *TreeElement) Key() Key {
	return Key{Namespace: e.Namespace, Name: e.Name}
}

// Signature renders the element as it is called, e.g. add_days(date, n).
func (e *TreeElement) Signature() string {
	names := make([]string, len(e.Params))
	for i, p := range e.Params {
		names[i] = p.Name
		if p.Optional {
			names[i] += "?"
		}
	}
	return fmt.Sprintf("%s(%s)", e.TechnicalName, strings.Join(names, ", "))
}

// Registry is the catalog of tree elements. Elements stored in the
// registry are never modified: Register replaces them, so a pointer
// obtained from Resolve stays consistent while it is used.
type Registry struct {
	mu       sync.RWMutex
	elements map[Key]*TreeElement
	version  uint64
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{elements: map[Key]*TreeElement{}}
}

// Register adds the element, or updates the element registered under the
// same namespace and name. An update keeps the argument names: a
// different argument list is an ErrDuplicateDefinition. The description,
// return type and implementation are replaced; a nil return type or
// implementation keeps the registered one.
func (r *Registry) Register(e TreeElement) (*TreeElement, error) {
	if err := prepareElement(&e); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if e.Parent != (Key{}) {
		p, ok := r.elements[e.Parent]
		switch {
		case !ok:
			return nil, fmt.Errorf("%w: parent %s of %s not found", ErrInvalidElement, e.Parent, e.Key())
		case p.Kind != KindFolder:
			return nil, fmt.Errorf("%w: parent %s of %s is not a folder", ErrInvalidElement, e.Parent, e.Key())
		case e.Parent == e.Key():
			return nil, fmt.Errorf("%w: %s is its own parent", ErrInvalidElement, e.Key())
		}
		for _, a := range r.ancestors(e.Parent) {
			if a == e.Key() {
				return nil, fmt.Errorf("%w: %s cannot be moved below its own child %s", ErrInvalidElement, e.Key(), e.Parent)
			}
		}
	}

	existing, ok := r.elements[e.Key()]
	if !ok {
		stored := e
		r.elements[e.Key()] = &stored
		r.version++
		return &stored, nil
	}

	if existing.Kind != e.Kind {
		return nil, fmt.Errorf("%w: %s is a %s, not a %s", ErrDuplicateDefinition, e.Key(), existing.Kind, e.Kind)
	}
	if !sameParamNames(existing.Params, e.Params) {
		return nil, fmt.Errorf("%w: %s is registered as %s", ErrDuplicateDefinition, e.Key(), existing.Signature())
	}

	updated := *existing
	updated.TechnicalName = e.TechnicalName
	updated.Description = e.Description
	updated.LongDescription = e.LongDescription
	updated.Params = e.Params
	if e.Returns != nil {
		updated.Returns = e.Returns
	}
	if e.Func != nil {
		updated.Func = e.Func
	}
	if e.Requires != nil {
		updated.Requires = e.Requires
	}
	if e.Parent != (Key{}) {
		updated.Parent = e.Parent
	}
	if e.Func == nil && sameElement(existing, &updated) {
		return existing, nil
	}
	r.elements[e.Key()] = &updated
	r.version++
	return &updated, nil
}

// prepareElement fills in defaults and checks names.
func prepareElement(e *TreeElement) error {
	e.Name = strings.TrimSpace(e.Name)
	if e.Name == "" {
		return fmt.Errorf("%w: tree element without a name", ErrInvalidName)
	}
	if e.Kind == "" {
		e.Kind = KindFunction
	}
	if e.TechnicalName == "" {
		e.TechnicalName = e.Name
	}

	switch e.Kind {
	case KindFolder:
		if e.Func != nil || len(e.Params) > 0 {
			return fmt.Errorf("%w: folder %s cannot be called", ErrInvalidElement, e.Key())
		}
		return nil
	case KindFunction, KindRule:
	default:
		return fmt.Errorf("%w: unknown kind %q for %s", ErrInvalidElement, e.Kind, e.Key())
	}

	if !isIdentifier(e.TechnicalName) {
		return fmt.Errorf("%w: %q is not an identifier", ErrInvalidName, e.TechnicalName)
	}
	seen := map[string]bool{}
	for _, p := range e.Params {
		if !isIdentifier(p.Name) {
			return fmt.Errorf("%w: argument %q of %s is not an identifier", ErrInvalidName, p.Name, e.TechnicalName)
		}
		if seen[p.Name] {
			return fmt.Errorf("%w: argument %s of %s", ErrDuplicateDefinition, p.Name, e.TechnicalName)
		}
		seen[p.Name] = true
	}
	return nil
}

// sameElement reports whether a and b only differ by their
// implementation.
func sameElement(a, b *TreeElement) bool {
	if a.TechnicalName != b.TechnicalName ||
		a.Description != b.Description ||
		a.LongDescription != b.LongDescription ||
		a.Parent != b.Parent ||
		!sameType(a.Returns, b.Returns) ||
		!slices.Equal(a.Requires, b.Requires) ||
		len(a.Params) != len(b.Params) {
		return false
	}
	for i := range a.Params {
		p, q := a.Params[i], b.Params[i]
		if p.Name != q.Name || p.Optional != q.Optional || !sameType(p.Type, q.Type) {
			return false
		}
	}
	return true
}

func sameType(a, b schema.Type) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.String() == b.String()
}

func sameParamNames(a, b []ParamSpec) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Name != b[i].Name {
			return false
		}
	}
	return true
}

// isIdentifier reports whether s is an ASCII identifier.
func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '_', 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z':
		case '0' <= c && c <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}

// Resolve returns the element registered under namespace and name.
func (r *Registry) Resolve(namespace, name string) (*TreeElement, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.elements[Key{Namespace: namespace, Name: name}]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrUnknownFunction, namespace, name)
	}
	return e, nil
}

// Unregister removes an element. Folders must be empty.
func (r *Registry) Unregister(namespace, name string) error {
	k := Key{Namespace: namespace, Name: name}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.elements[k]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownFunction, k)
	}
	for _, e := range r.elements {
		if e.Parent == k {
			return fmt.Errorf("%w: %s still contains %s", ErrInvalidElement, k, e.Key())
		}
	}
	delete(r.elements, k)
	r.version++
	return nil
}

// Elements returns every element, sorted by key.
func (r *Registry) Elements() []*TreeElement {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sorted(func(*TreeElement) bool { return true })
}

// Roots returns the elements without a parent, sorted by key.
func (r *Registry) Roots() []*TreeElement {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sorted(func(e *TreeElement) bool { return e.Parent == (Key{}) })
}

// Children returns the elements directly under the folder k.
func (r *Registry) Children(k Key) []*TreeElement {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.children(k)
}

func (r *Registry) children(k Key) []*TreeElement {
	return r.sorted(func(e *TreeElement) bool { return e.Parent == k })
}

func (r *Registry) sorted(keep func(*TreeElement) bool) []*TreeElement {
	out := []*TreeElement{}
	for _, e := range r.elements {
		if keep(e) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Key().String() < out[j].Key().String()
	})
	return out
}

// subtree returns k and every element below it.
func (r *Registry) subtree(k Key) []*TreeElement {
	e, ok := r.elements[k]
	if !ok {
		return nil
	}
	out := []*TreeElement{e}
	seen := map[Key]bool{k: true}
	for i := 0; i < len(out); i++ {
		if out[i].Kind != KindFolder {
			continue
		}
		for _, c := range r.children(out[i].Key()) {
			if !seen[c.Key()] {
				seen[c.Key()] = true
				out = append(out, c)
			}
		}
	}
	return out
}

// ancestors returns the folders above k, nearest first.
func (r *Registry) ancestors(k Key) []Key {
	var out []Key
	seen := map[Key]bool{k: true}
	for {
		e, ok := r.elements[k]
		if !ok || e.Parent == (Key{}) || seen[e.Parent] {
			return out
		}
		out = append(out, e.Parent)
		seen[e.Parent] = true
		k = e.Parent
	}
}

func (r *Registry) currentVersion() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.version
}

// Tree returns a tree of the registry for browsing. Functions are shown
// with their signature.
//
// Example output:
//
//	rule_engine/runtime  Runtime
//	├── dates  Dates
//	│   ├── add_days(date, duration?, stick_to_end_of_month?)
//	│   └── today()
//	eligible(age?)
func (r *Registry) Tree() string {
	var sb strings.Builder
	for _, root := range r.Roots() {
		sb.WriteString(label(root, true))
		sb.WriteString("\n")
		r.buildTree(&sb, root.Key(), "", 0)
	}
	return sb.String()
}

func label(e *TreeElement, root bool) string {
	var s string
	switch {
	case e.Kind == KindFolder && root:
		s = e.Key().String()
	case e.Kind == KindFolder:
		s = e.Name
	default:
		s = e.Signature()
	}
	if e.Description != "" {
		s += "  " + e.Description
	}
	return s
}

// buildTree writes the children of k with tree characters (├──, └──, │).
// Recursion stops after 20 levels.
func (r *Registry) buildTree(sb *strings.Builder, k Key, prefix string, depth int) {
	if depth >= 20 {
		return
	}
	children := r.Children(k)
	for i, child := range children {
		connector, childPrefix := "├── ", "│   "
		if i == len(children)-1 {
			connector, childPrefix = "└── ", "    "
		}
		sb.WriteString(prefix)
		sb.WriteString(connector)
		sb.WriteString(label(child, false))
		sb.WriteString("\n")
		r.buildTree(sb, child.Key(), prefix+childPrefix, depth+1)
	}
}

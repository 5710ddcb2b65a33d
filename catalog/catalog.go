// Package catalog reads and writes the YAML documents that describe a
// deployment of the rule engine: folders of the function tree, contexts,
// functional error codes and rules with their test cases.
//
// A catalog file looks like this:
//
//	elements:
//	  - namespace: pricing
//	    name: pricing
//	    folder: true
//	    description: Pricing functions
//	contexts:
//	  - name: underwriting
//	    allow: [rule_engine/dates, pricing/pricing]
//	errors:
//	  - code: too_young
//	    name: The insured is too young
//	    kind: error
//	rules:
//	  - short_name: age
//	    context: underwriting
//	    params:
//	      - {name: birth, type: date}
//	    algorithm: return years_between(param_birth(), today())
//	    status: validated
//	    test_cases:
//	      - description: thirty years
//	        values:
//	          - {name: param_birth, value: "date(1990, 1, 1)"}
//	          - {name: today, value: "date(2020, 1, 1)"}
//	        expected: 30
//
// Documents are checked against an embedded CUE schema before they are
// decoded, so typos in field names are reported instead of ignored.
package catalog

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/ezachrisen/arbiter"
	"gopkg.in/yaml.v3"
)

//go:embed schema.cue
var schemaSource string

var (
	// ErrInvalidCatalog is returned for documents that do not match the
	// catalog schema.
	ErrInvalidCatalog = errors.New("invalid catalog")

	// ErrRejected is returned by Build when rules marked validated in the
	// catalog fail validation.
	ErrRejected = errors.New("rules failed validation")
)

// Catalog is the content of a catalog document.
type Catalog struct {
	Elements []Element   `yaml:"elements,omitempty" json:"elements,omitempty"`
	Contexts []Context   `yaml:"contexts,omitempty" json:"contexts,omitempty"`
	Errors   []ErrorCode `yaml:"errors,omitempty" json:"errors,omitempty"`
	Rules    []Rule      `yaml:"rules,omitempty" json:"rules,omitempty"`
}

// Element declares a folder of the function tree, or places and
// documents a function registered by code.
type Element struct {
	Namespace       string `yaml:"namespace" json:"namespace"`
	Name            string `yaml:"name" json:"name"`
	Folder          bool   `yaml:"folder,omitempty" json:"folder,omitempty"`
	Description     string `yaml:"description,omitempty" json:"description,omitempty"`
	LongDescription string `yaml:"long_description,omitempty" json:"long_description,omitempty"`

	// Parent is the key (namespace/name) of the folder the element is
	// shown under.
	Parent string `yaml:"parent,omitempty" json:"parent,omitempty"`
}

// Key returns the key of the element in the registry.
func (e Element) Key() arbiter.Key {
	return arbiter.Key{Namespace: e.Namespace, Name: e.Name}
}

// Context is a named allow-list of element keys (namespace/name).
type Context struct {
	Name        string   `yaml:"name" json:"name"`
	Description string   `yaml:"description,omitempty" json:"description,omitempty"`
	Allow       []string `yaml:"allow,omitempty" json:"allow,omitempty"`
}

// ErrorCode is a functional error code. Kind is info, warning or error.
type ErrorCode struct {
	Code        string `yaml:"code" json:"code"`
	Name        string `yaml:"name" json:"name"`
	Kind        string `yaml:"kind,omitempty" json:"kind,omitempty"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
}

// Rule is the definition of a rule. Status is draft, validated or
// disabled; rules marked validated are validated when the catalog is
// built.
type Rule struct {
	ShortName   string     `yaml:"short_name" json:"short_name"`
	Name        string     `yaml:"name,omitempty" json:"name,omitempty"`
	Description string     `yaml:"description,omitempty" json:"description,omitempty"`
	Dialect     string     `yaml:"dialect,omitempty" json:"dialect,omitempty"`
	ResultType  string     `yaml:"result_type,omitempty" json:"result_type,omitempty"`
	Context     string     `yaml:"context,omitempty" json:"context,omitempty"`
	Params      []Param    `yaml:"params,omitempty" json:"params,omitempty"`
	Algorithm   string     `yaml:"algorithm" json:"algorithm"`
	Status      string     `yaml:"status,omitempty" json:"status,omitempty"`
	TestCases   []TestCase `yaml:"test_cases,omitempty" json:"test_cases,omitempty"`

	// Debug traces the calls of every evaluation and keeps an execution
	// log of it when the engine has a log store.
	Debug bool `yaml:"debug,omitempty" json:"debug,omitempty"`
}

// Param is a rule parameter. An empty type accepts any value.
type Param struct {
	Name        string `yaml:"name" json:"name"`
	Type        string `yaml:"type,omitempty" json:"type,omitempty"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
}

// TestCase is a test case of a rule.
type TestCase struct {
	Description string  `yaml:"description" json:"description"`
	Values      []Value `yaml:"values,omitempty" json:"values,omitempty"`
	Expected    Literal `yaml:"expected,omitempty" json:"expected,omitempty"`
}

// Value overrides the callable Name while a test case runs.
type Value struct {
	Name  string  `yaml:"name" json:"name"`
	Value Literal `yaml:"value" json:"value"`
}

// Literal is the source of a constant in the rule language. YAML
// numbers are kept as written, booleans become True and False and null
// becomes the empty literal (None).
type Literal string

func (l *Literal) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: literal must be a scalar, quote lists and tuples", n.Line)
	}
	switch n.Tag {
	case "!!null":
		*l = ""
	case "!!bool":
		var b bool
		if err := n.Decode(&b); err != nil {
			return err
		}
		*l = "False"
		if b {
			*l = "True"
		}
	default:
		*l = Literal(n.Value)
	}
	return nil
}

// Parse checks data against the catalog schema and decodes it.
func Parse(data []byte) (*Catalog, error) {
	if err := check(data); err != nil {
		return nil, err
	}
	cat := &Catalog{}
	if err := yaml.Unmarshal(data, cat); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCatalog, err)
	}
	return cat, nil
}

// Load reads and parses the catalog file at path.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading catalog: %w", err)
	}
	cat, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cat, nil
}

// Encode writes the catalog as YAML.
func (c *Catalog) Encode(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return err
	}
	return enc.Close()
}

// Save writes the catalog to path.
func (c *Catalog) Save(path string) error {
	var buf bytes.Buffer
	if err := c.Encode(&buf); err != nil {
		return fmt.Errorf("encoding catalog: %w", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("writing catalog: %w", err)
	}
	return nil
}

// Merge adds the content of other, replacing the entries with the same
// key, code, name or short name.
func (c *Catalog) Merge(other *Catalog) {
	if other == nil {
		return
	}
	c.Elements = mergeBy(c.Elements, other.Elements, func(e Element) string { return e.Key().String() })
	c.Contexts = mergeBy(c.Contexts, other.Contexts, func(x Context) string { return x.Name })
	c.Errors = mergeBy(c.Errors, other.Errors, func(x ErrorCode) string { return x.Code })
	c.Rules = mergeBy(c.Rules, other.Rules, func(x Rule) string { return x.ShortName })
}

func mergeBy[T any](dst, src []T, key func(T) string) []T {
	index := make(map[string]int, len(dst))
	for i, x := range dst {
		index[key(x)] = i
	}
	for _, x := range src {
		if i, ok := index[key(x)]; ok {
			dst[i] = x
			continue
		}
		index[key(x)] = len(dst)
		dst = append(dst, x)
	}
	return dst
}

// check validates the document against the #Catalog definition. The
// YAML is converted to JSON, which CUE compiles as is.
func check(data []byte) error {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidCatalog, err)
	}
	if doc == nil {
		return nil
	}
	js, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidCatalog, err)
	}

	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if schema.Err() != nil {
		return fmt.Errorf("compiling catalog schema: %w", schema.Err())
	}
	v := ctx.CompileBytes(js, cue.Filename("catalog.json"))
	if v.Err() != nil {
		return fmt.Errorf("%w: %v", ErrInvalidCatalog, v.Err())
	}
	unified := schema.LookupPath(cue.ParsePath("#Catalog")).Unify(v)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidCatalog, strings.TrimSpace(err.Error()))
	}
	return nil
}

func parseKey(s string) (arbiter.Key, error) {
	ns, name, ok := strings.Cut(s, "/")
	if !ok || ns == "" || name == "" {
		return arbiter.Key{}, fmt.Errorf("%w: %q is not a namespace/name key", ErrInvalidCatalog, s)
	}
	return arbiter.Key{Namespace: ns, Name: name}, nil
}

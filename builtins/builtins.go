// Package builtins provides the runtime tree elements every deployment
// exposes to rule authors: functional messages, dates, rounding and
// access to the evaluation arguments.
//
// The elements live in the rule_engine namespace under the runtime
// folder. Allowing that folder in a context allows all of them.
package builtins

import (
	"fmt"
	"time"

	"github.com/cockroachdb/apd/v3"
	"github.com/ezachrisen/arbiter"
	"github.com/ezachrisen/arbiter/schema"
)

// Namespace of the runtime elements.
const Namespace = "rule_engine"

var (
	// Runtime is the folder holding every runtime element.
	Runtime = arbiter.Key{Namespace: Namespace, Name: "runtime"}

	Messages = arbiter.Key{Namespace: Namespace, Name: "messages"}
	Dates    = arbiter.Key{Namespace: Namespace, Name: "dates"}
	Tools    = arbiter.Key{Namespace: Namespace, Name: "tools"}
)

// Register adds the runtime folders and functions to reg. It may be
// called again on the same registry.
func Register(reg *arbiter.Registry) error {
	for _, e := range Elements() {
		if _, err := reg.Register(e); err != nil {
			return fmt.Errorf("registering %s: %w", e.Key(), err)
		}
	}
	return nil
}

// Elements returns the runtime elements, folders first.
func Elements() []arbiter.TreeElement {
	out := []arbiter.TreeElement{
		folder(Runtime, arbiter.Key{}, "Runtime", "Functions provided by the rule engine"),
		folder(Messages, Runtime, "Messages", "Functional errors, warnings and result details"),
		folder(Dates, Runtime, "Dates", "Calendar arithmetic"),
		folder(Tools, Runtime, "Tools", "Rounding, text and argument access"),
	}
	out = append(out, messageElements()...)
	out = append(out, dateElements()...)
	out = append(out, toolElements()...)
	return out
}

func folder(k, parent arbiter.Key, name, desc string) arbiter.TreeElement {
	return arbiter.TreeElement{
		Namespace:       k.Namespace,
		Name:            k.Name,
		Description:     name,
		LongDescription: desc,
		Kind:            arbiter.KindFolder,
		Parent:          parent,
	}
}

func function(parent arbiter.Key, name, desc string, returns schema.Type, f arbiter.Func, params ...arbiter.ParamSpec) arbiter.TreeElement {
	return arbiter.TreeElement{
		Namespace:   Namespace,
		Name:        name,
		Description: desc,
		Kind:        arbiter.KindFunction,
		Params:      params,
		Returns:     returns,
		Func:        f,
		Parent:      parent,
	}
}

func param(name string, t schema.Type) arbiter.ParamSpec {
	return arbiter.ParamSpec{Name: name, Type: t}
}

func optional(name string, t schema.Type) arbiter.ParamSpec {
	return arbiter.ParamSpec{Name: name, Type: t, Optional: true}
}

// dateArg reads a date argument. A value that is not a date is a
// functional error that aborts the rule.
func dateArg(c *arbiter.Call, name string) (time.Time, error) {
	v, _ := c.Arg(name)
	d, ok := v.(time.Time)
	if !ok {
		return time.Time{}, c.Fail(fmt.Sprintf("%s needs a date for %s, got %s", c.Element.TechnicalName, name, schema.Format(v)))
	}
	return d, nil
}

// intArg reads an integer argument, def when it is not given.
func intArg(c *arbiter.Call, name string, def int) (int, error) {
	v, ok := c.Arg(name)
	if !ok || v == nil {
		return def, nil
	}
	n, err := schema.Coerce(schema.Int{}, v)
	if err != nil {
		return 0, fmt.Errorf("argument %s: %w", name, err)
	}
	return int(n.(int64)), nil
}

func boolArg(c *arbiter.Call, name string, def bool) bool {
	v, ok := c.Arg(name)
	if !ok || v == nil {
		return def
	}
	b, ok := v.(bool)
	if !ok {
		return def
	}
	return b
}

func stringArg(c *arbiter.Call, name string) string {
	v, _ := c.Arg(name)
	if s, ok := v.(string); ok {
		return s
	}
	return schema.Format(v)
}

func decimalArg(c *arbiter.Call, name string) (*apd.Decimal, error) {
	v, _ := c.Arg(name)
	d, ok := schema.ToDecimal(v)
	if !ok {
		return nil, fmt.Errorf("argument %s: %s is not a number", name, schema.Format(v))
	}
	return d, nil
}

package builtins

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"strings"

	"github.com/cockroachdb/apd/v3"
	"github.com/ezachrisen/arbiter"
	"github.com/ezachrisen/arbiter/schema"
	"github.com/markbates/inflect"
)

func toolElements() []arbiter.TreeElement {
	return []arbiter.TreeElement{
		function(Tools, "round", "Rounds amount half up to a multiple of rounding_factor (default 0.01)", schema.Decimal{}, round,
			param("amount", schema.Decimal{}), optional("rounding_factor", schema.Decimal{})),
		function(Tools, "slugify", "Lower case identifier form of a text: \"Hello World\" becomes hello_world", schema.String{}, slugify,
			param("text", schema.String{}), optional("char", schema.String{})),
		function(Tools, "value_get", "Reads a dotted path in the evaluation arguments, e.g. contract.options[-1].premium", schema.Any{}, valueGet,
			param("path", schema.String{})),
		function(Tools, "random_integer", "Random integer between min_value and max_value, both included", schema.Int{}, randomInteger,
			param("min_value", schema.Int{}), param("max_value", schema.Int{})),
		function(Tools, "random_floating", "Random decimal between min_value and max_value, rounded to digits decimals when given", schema.Decimal{}, randomFloating,
			param("min_value", schema.Decimal{}), param("max_value", schema.Decimal{}), optional("digits", schema.Int{})),
	}
}

var cent = apd.New(1, -2)

func round(c *arbiter.Call) (any, error) {
	amount, err := decimalArg(c, "amount")
	if err != nil {
		return nil, err
	}
	factor := cent
	if v, ok := c.Arg("rounding_factor"); ok && v != nil {
		if factor, err = decimalArg(c, "rounding_factor"); err != nil {
			return nil, err
		}
	}
	return RoundHalfUp(amount, factor)
}

// RoundHalfUp rounds amount to the nearest multiple of factor, halves
// away from zero.
func RoundHalfUp(amount, factor *apd.Decimal) (*apd.Decimal, error) {
	if factor.IsZero() {
		return nil, errors.New("rounding factor is zero")
	}
	ctx := schema.DecimalContext.WithPrecision(schema.DecimalContext.Precision)
	ctx.Rounding = apd.RoundHalfUp

	q := new(apd.Decimal)
	if _, err := ctx.Quo(q, amount, factor); err != nil {
		return nil, err
	}
	if _, err := ctx.Quantize(q, q, 0); err != nil {
		return nil, err
	}
	out := new(apd.Decimal)
	if _, err := ctx.Mul(out, q, factor); err != nil {
		return nil, err
	}
	return out, nil
}

func randomInteger(c *arbiter.Call) (any, error) {
	lo, err := int64Arg(c, "min_value")
	if err != nil {
		return nil, err
	}
	hi, err := int64Arg(c, "max_value")
	if err != nil {
		return nil, err
	}
	if hi < lo {
		return nil, fmt.Errorf("empty range for random_integer(%d, %d)", lo, hi)
	}
	span := uint64(hi) - uint64(lo)
	if span == math.MaxUint64 {
		return int64(rand.Uint64()), nil
	}
	return lo + int64(rand.Uint64N(span+1)), nil
}

func randomFloating(c *arbiter.Call) (any, error) {
	lo, err := decimalArg(c, "min_value")
	if err != nil {
		return nil, err
	}
	hi, err := decimalArg(c, "max_value")
	if err != nil {
		return nil, err
	}
	ctx := schema.DecimalContext

	// lo + (hi - lo) * u, u in [0, 1)
	width, u, out := new(apd.Decimal), new(apd.Decimal), new(apd.Decimal)
	if _, err := ctx.Sub(width, hi, lo); err != nil {
		return nil, err
	}
	if _, err := u.SetFloat64(rand.Float64()); err != nil {
		return nil, err
	}
	if _, err := ctx.Mul(out, width, u); err != nil {
		return nil, err
	}
	if _, err := ctx.Add(out, out, lo); err != nil {
		return nil, err
	}

	if v, ok := c.Arg("digits"); !ok || v == nil {
		return out, nil
	}
	digits, err := intArg(c, "digits", 0)
	if err != nil {
		return nil, err
	}
	qctx := ctx.WithPrecision(ctx.Precision)
	qctx.Rounding = apd.RoundHalfEven
	if _, err := qctx.Quantize(out, out, int32(-digits)); err != nil {
		return nil, err
	}
	return out, nil
}

func int64Arg(c *arbiter.Call, name string) (int64, error) {
	v, _ := c.Arg(name)
	n, err := schema.Coerce(schema.Int{}, v)
	if err != nil {
		return 0, fmt.Errorf("argument %s: %w", name, err)
	}
	return n.(int64), nil
}

func slugify(c *arbiter.Call) (any, error) {
	sep := "_"
	if v, ok := c.Arg("char"); ok && v != nil {
		sep = stringArg(c, "char")
	}
	return inflect.ParameterizeJoin(stringArg(c, "text"), sep), nil
}

// valueGet follows a dotted path from an evaluation argument. A field
// ending with [0] or [-1] selects the first or last element of a list.
// Paths crossing a list apply the rest of the path to every element.
func valueGet(c *arbiter.Call) (any, error) {
	path := strings.Split(stringArg(c, "path"), ".")
	v, ok := c.Args[path[0]]
	if !ok {
		return nil, c.Fail(path[0] + " undefined !")
	}
	return walk(schema.Normalize(v), path[1:])
}

func walk(v any, path []string) (any, error) {
	if len(path) == 0 || v == nil {
		return v, nil
	}
	name, index := path[0], 0
	switch {
	case strings.HasSuffix(name, "[0]"):
		name, index = strings.TrimSuffix(name, "[0]"), 1
	case strings.HasSuffix(name, "[-1]"):
		name, index = strings.TrimSuffix(name, "[-1]"), -1
	}

	l, isList := v.([]any)
	if !isList {
		f, err := field(v, name, index)
		if err != nil {
			return nil, err
		}
		return walk(f, path[1:])
	}

	out := []any{}
	for _, e := range l {
		if e == nil {
			out = append(out, nil)
			continue
		}
		f, err := field(e, name, index)
		if err != nil {
			return nil, err
		}
		if sub, ok := f.([]any); ok && index == 0 {
			out = append(out, sub...)
			continue
		}
		out = append(out, f)
	}
	return walk(out, path[1:])
}

func field(v any, name string, index int) (any, error) {
	f, ok := schema.Field(v, name)
	if !ok {
		return nil, fmt.Errorf("no field %s in %s", name, schema.Format(v))
	}
	if index == 0 {
		return f, nil
	}
	l, ok := f.([]any)
	if !ok {
		return nil, fmt.Errorf("field %s is not a list", name)
	}
	switch {
	case len(l) == 0:
		return nil, nil
	case index > 0:
		return l[0], nil
	}
	return l[len(l)-1], nil
}

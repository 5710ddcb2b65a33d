package algo

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/apd/v3"
	"github.com/ezachrisen/arbiter/schema"
)

type builtinFunc func(args []any, kwargs map[string]any) (any, error)

// maxRange bounds the lists range() may build.
const maxRange = 1_000_000

var builtins map[string]builtinFunc

func init() {
	builtins = map[string]builtinFunc{
		"Decimal": bDecimal,
		"int":     bInt,
		"float":   bFloat,
		"str":     bStr,
		"bool":    bBool,
		"len":     bLen,
		"abs":     bAbs,
		"min":     func(a []any, kw map[string]any) (any, error) { return extreme(a, -1) },
		"max":     func(a []any, kw map[string]any) (any, error) { return extreme(a, 1) },
		"sum":     bSum,
		"sorted":  bSorted,
		"range":   bRange,
		"list":    bList,
		"any":     func(a []any, kw map[string]any) (any, error) { return quantifier(a, true) },
		"all":     func(a []any, kw map[string]any) (any, error) { return quantifier(a, false) },
		"date":    bDate,
	}
}

func arity(args []any, lo, hi int) error {
	switch {
	case len(args) < lo:
		return fmt.Errorf("expected at least %d arguments, got %d", lo, len(args))
	case len(args) > hi:
		return fmt.Errorf("expected at most %d arguments, got %d", hi, len(args))
	}
	return nil
}

func sortedKeys(m map[string]any) []any {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]any, len(keys))
	for i, k := range keys {
		out[i] = k
	}
	return out
}

func bDecimal(args []any, _ map[string]any) (any, error) {
	if err := arity(args, 0, 1); err != nil {
		return nil, err
	}
	if len(args) == 0 {
		return apd.New(0, 0), nil
	}
	if s, ok := args[0].(string); ok {
		return schema.ParseDecimal(s)
	}
	d, ok := schema.ToDecimal(args[0])
	if !ok {
		return nil, fmt.Errorf("conversion from %s to Decimal is not supported", typeName(args[0]))
	}
	return d, nil
}

func bInt(args []any, _ map[string]any) (any, error) {
	if err := arity(args, 0, 1); err != nil {
		return nil, err
	}
	if len(args) == 0 {
		return int64(0), nil
	}
	switch x := args[0].(type) {
	case int64:
		return x, nil
	case bool:
		return boolInt(x), nil
	case float64:
		return int64(x), nil
	case *apd.Decimal:
		d := new(apd.Decimal)
		if _, err := schema.DecimalContext.RoundToIntegralValue(d, truncated(x)); err != nil {
			return nil, err
		}
		return d.Int64()
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(x), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid literal for int(): %s", schema.Format(x))
		}
		return i, nil
	}
	return nil, fmt.Errorf("int() argument must be a string or a number, not '%s'", typeName(args[0]))
}

// truncated drops the fractional digits of d.
func truncated(d *apd.Decimal) *apd.Decimal {
	out := new(apd.Decimal)
	c := schema.DecimalContext.WithPrecision(schema.DecimalContext.Precision)
	c.Rounding = apd.RoundDown
	if _, err := c.Quantize(out, d, 0); err != nil {
		return d
	}
	return out
}

func bFloat(args []any, _ map[string]any) (any, error) {
	if err := arity(args, 0, 1); err != nil {
		return nil, err
	}
	if len(args) == 0 {
		return float64(0), nil
	}
	switch x := args[0].(type) {
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return nil, fmt.Errorf("could not convert string to float: %s", schema.Format(x))
		}
		return f, nil
	case bool:
		return float64(boolInt(x)), nil
	}
	if !schema.IsNumber(args[0]) {
		return nil, fmt.Errorf("float() argument must be a string or a number, not '%s'", typeName(args[0]))
	}
	return asFloat(args[0]), nil
}

func bStr(args []any, _ map[string]any) (any, error) {
	if err := arity(args, 0, 1); err != nil {
		return nil, err
	}
	if len(args) == 0 {
		return "", nil
	}
	return str(args[0]), nil
}

// str renders a value the way str() does: strings are not quoted.
func str(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return schema.Format(v)
}

func bBool(args []any, _ map[string]any) (any, error) {
	if err := arity(args, 0, 1); err != nil {
		return nil, err
	}
	return len(args) == 1 && truthy(args[0]), nil
}

func bLen(args []any, _ map[string]any) (any, error) {
	if err := arity(args, 1, 1); err != nil {
		return nil, err
	}
	switch x := args[0].(type) {
	case []any:
		return int64(len(x)), nil
	case map[string]any:
		return int64(len(x)), nil
	case string:
		return int64(len([]rune(x))), nil
	}
	return nil, fmt.Errorf("object of type '%s' has no len()", typeName(args[0]))
}

func bAbs(args []any, _ map[string]any) (any, error) {
	if err := arity(args, 1, 1); err != nil {
		return nil, err
	}
	switch x := args[0].(type) {
	case int64:
		if x < 0 {
			return -x, nil
		}
		return x, nil
	case float64:
		return math.Abs(x), nil
	case *apd.Decimal:
		d := new(apd.Decimal)
		d.Abs(x)
		return d, nil
	}
	return nil, fmt.Errorf("bad operand type for abs(): '%s'", typeName(args[0]))
}

// candidates returns the values min, max, sum and friends work on: the
// elements of a single iterable argument, or the arguments themselves.
func candidates(args []any) ([]any, error) {
	if len(args) == 1 {
		return iterate(args[0])
	}
	return args, nil
}

func extreme(args []any, sign int) (any, error) {
	if len(args) == 0 {
		return nil, errors.New("expected at least 1 argument, got 0")
	}
	items, err := candidates(args)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, errors.New("arg is an empty sequence")
	}
	best := items[0]
	for _, v := range items[1:] {
		c, err := order(v, best)
		if err != nil {
			return nil, err
		}
		if c*sign > 0 {
			best = v
		}
	}
	return best, nil
}

func bSum(args []any, kwargs map[string]any) (any, error) {
	if err := arity(args, 1, 2); err != nil {
		return nil, err
	}
	items, err := iterate(args[0])
	if err != nil {
		return nil, err
	}
	var total any = int64(0)
	if len(args) == 2 {
		total = args[1]
	} else if s, ok := kwargs["start"]; ok {
		total = s
	}
	for _, v := range items {
		if total, err = binary("+", total, v); err != nil {
			return nil, err
		}
	}
	return total, nil
}

func bSorted(args []any, kwargs map[string]any) (any, error) {
	if err := arity(args, 1, 1); err != nil {
		return nil, err
	}
	items, err := iterate(args[0])
	if err != nil {
		return nil, err
	}
	out := slices.Clone(items)
	var sortErr error
	slices.SortStableFunc(out, func(a, b any) int {
		c, err := order(a, b)
		if err != nil && sortErr == nil {
			sortErr = err
		}
		return c
	})
	if sortErr != nil {
		return nil, sortErr
	}
	if truthy(kwargs["reverse"]) {
		slices.Reverse(out)
	}
	return out, nil
}

func bRange(args []any, _ map[string]any) (any, error) {
	if err := arity(args, 1, 3); err != nil {
		return nil, err
	}
	n := make([]int64, len(args))
	for i, a := range args {
		v, ok := a.(int64)
		if !ok {
			return nil, fmt.Errorf("'%s' object cannot be interpreted as an integer", typeName(a))
		}
		n[i] = v
	}
	start, stop, step := int64(0), n[0], int64(1)
	if len(n) > 1 {
		start, stop = n[0], n[1]
	}
	if len(n) > 2 {
		step = n[2]
	}
	if step == 0 {
		return nil, errors.New("arg 3 must not be zero")
	}
	out := []any{}
	for i := start; (step > 0 && i < stop) || (step < 0 && i > stop); i += step {
		if len(out) >= maxRange {
			return nil, fmt.Errorf("range larger than %d elements", maxRange)
		}
		out = append(out, i)
	}
	return out, nil
}

func bList(args []any, _ map[string]any) (any, error) {
	if err := arity(args, 0, 1); err != nil {
		return nil, err
	}
	if len(args) == 0 {
		return []any{}, nil
	}
	items, err := iterate(args[0])
	if err != nil {
		return nil, err
	}
	return slices.Clone(items), nil
}

func quantifier(args []any, anyOf bool) (any, error) {
	if err := arity(args, 1, 1); err != nil {
		return nil, err
	}
	items, err := iterate(args[0])
	if err != nil {
		return nil, err
	}
	for _, v := range items {
		if truthy(v) == anyOf {
			return anyOf, nil
		}
	}
	return !anyOf, nil
}

// date(year, month, day) or date("YYYY-MM-DD")
func bDate(args []any, _ map[string]any) (any, error) {
	if err := arity(args, 1, 3); err != nil {
		return nil, err
	}
	if len(args) == 1 {
		switch x := args[0].(type) {
		case string:
			return schema.ParseDate(x)
		case time.Time:
			return x, nil
		}
		return nil, fmt.Errorf("cannot make a date from %s", typeName(args[0]))
	}
	if len(args) != 3 {
		return nil, errors.New("expected year, month and day")
	}
	var ymd [3]int
	for i, a := range args {
		v, ok := a.(int64)
		if !ok {
			return nil, fmt.Errorf("an integer is required (got type %s)", typeName(a))
		}
		ymd[i] = int(v)
	}
	d := schema.NewDate(ymd[0], time.Month(ymd[1]), ymd[2])
	if d.Day() != ymd[2] || int(d.Month()) != ymd[1] {
		return nil, errors.New("day is out of range for month")
	}
	return d, nil
}

// callMethod invokes a method on a runtime value. Methods that grow a
// list return the new list as updated; the caller stores it back into the
// receiver.
func callMethod(recv any, name string, args []any, kwargs map[string]any) (v, updated any, err error) {
	switch r := recv.(type) {
	case []any:
		return listMethod(r, name, args)
	case map[string]any:
		v, err := dictMethod(r, name, args)
		return v, nil, err
	case string:
		v, err := stringMethod(r, name, args)
		return v, nil, err
	}
	return nil, nil, fmt.Errorf("'%s' object has no attribute '%s'", typeName(recv), name)
}

func listMethod(l []any, name string, args []any) (any, any, error) {
	switch name {
	case "append":
		if err := arity(args, 1, 1); err != nil {
			return nil, nil, err
		}
		return nil, append(l, args[0]), nil
	case "extend":
		if err := arity(args, 1, 1); err != nil {
			return nil, nil, err
		}
		items, err := iterate(args[0])
		if err != nil {
			return nil, nil, err
		}
		return nil, append(l, items...), nil
	case "index":
		if err := arity(args, 1, 1); err != nil {
			return nil, nil, err
		}
		for i, e := range l {
			if schema.Equal(e, args[0]) {
				return int64(i), nil, nil
			}
		}
		return nil, nil, fmt.Errorf("%s is not in list", schema.Format(args[0]))
	case "count":
		if err := arity(args, 1, 1); err != nil {
			return nil, nil, err
		}
		n := int64(0)
		for _, e := range l {
			if schema.Equal(e, args[0]) {
				n++
			}
		}
		return n, nil, nil
	case "pop":
		if err := arity(args, 0, 1); err != nil {
			return nil, nil, err
		}
		if len(l) == 0 {
			return nil, nil, errors.New("pop from empty list")
		}
		i := int64(len(l) - 1)
		if len(args) == 1 {
			n, ok := args[0].(int64)
			if !ok {
				return nil, nil, errors.New("list indices must be integers")
			}
			if n < 0 {
				n += int64(len(l))
			}
			if n < 0 || n >= int64(len(l)) {
				return nil, nil, errors.New("pop index out of range")
			}
			i = n
		}
		v := l[i]
		return v, slices.Delete(slices.Clone(l), int(i), int(i)+1), nil
	}
	return nil, nil, fmt.Errorf("'list' object has no attribute '%s'", name)
}

func dictMethod(d map[string]any, name string, args []any) (any, error) {
	switch name {
	case "get":
		if err := arity(args, 1, 2); err != nil {
			return nil, err
		}
		if v, ok := d[keyString(args[0])]; ok {
			return v, nil
		}
		if len(args) == 2 {
			return args[1], nil
		}
		return nil, nil
	case "keys":
		return sortedKeys(d), nil
	case "values":
		keys := sortedKeys(d)
		out := make([]any, len(keys))
		for i, k := range keys {
			out[i] = d[k.(string)]
		}
		return out, nil
	case "items":
		keys := sortedKeys(d)
		out := make([]any, len(keys))
		for i, k := range keys {
			out[i] = []any{k, d[k.(string)]}
		}
		return out, nil
	case "update":
		if err := arity(args, 1, 1); err != nil {
			return nil, err
		}
		o, ok := args[0].(map[string]any)
		if !ok {
			return nil, fmt.Errorf("cannot update a dict from %s", typeName(args[0]))
		}
		for k, v := range o {
			d[k] = v
		}
		return nil, nil
	case "pop":
		if err := arity(args, 1, 2); err != nil {
			return nil, err
		}
		k := keyString(args[0])
		if v, ok := d[k]; ok {
			delete(d, k)
			return v, nil
		}
		if len(args) == 2 {
			return args[1], nil
		}
		return nil, fmt.Errorf("KeyError: %s", schema.Format(args[0]))
	}
	return nil, fmt.Errorf("'dict' object has no attribute '%s'", name)
}

func stringMethod(s, name string, args []any) (any, error) {
	strArg := func(i int) (string, error) {
		v, ok := args[i].(string)
		if !ok {
			return "", fmt.Errorf("must be str, not %s", typeName(args[i]))
		}
		return v, nil
	}
	switch name {
	case "upper":
		return strings.ToUpper(s), nil
	case "lower":
		return strings.ToLower(s), nil
	case "strip":
		return strings.TrimSpace(s), nil
	case "startswith", "endswith":
		if err := arity(args, 1, 1); err != nil {
			return nil, err
		}
		p, err := strArg(0)
		if err != nil {
			return nil, err
		}
		if name == "startswith" {
			return strings.HasPrefix(s, p), nil
		}
		return strings.HasSuffix(s, p), nil
	case "replace":
		if err := arity(args, 2, 2); err != nil {
			return nil, err
		}
		old, err := strArg(0)
		if err != nil {
			return nil, err
		}
		repl, err := strArg(1)
		if err != nil {
			return nil, err
		}
		return strings.ReplaceAll(s, old, repl), nil
	case "split":
		if err := arity(args, 0, 1); err != nil {
			return nil, err
		}
		var parts []string
		if len(args) == 0 {
			parts = strings.Fields(s)
		} else {
			sep, err := strArg(0)
			if err != nil {
				return nil, err
			}
			parts = strings.Split(s, sep)
		}
		out := make([]any, len(parts))
		for i, p := range parts {
			out[i] = p
		}
		return out, nil
	case "join":
		if err := arity(args, 1, 1); err != nil {
			return nil, err
		}
		items, err := iterate(args[0])
		if err != nil {
			return nil, err
		}
		parts := make([]string, len(items))
		for i, v := range items {
			p, ok := v.(string)
			if !ok {
				return nil, fmt.Errorf("sequence item %d: expected str instance, %s found", i, typeName(v))
			}
			parts[i] = p
		}
		return strings.Join(parts, s), nil
	}
	return nil, fmt.Errorf("'str' object has no attribute '%s'", name)
}

package algo

import (
	"errors"
	"fmt"
	"math"
	"math/bits"
	"strings"
	"time"

	"github.com/cockroachdb/apd/v3"
	"github.com/ezachrisen/arbiter/datecalc"
	"github.com/ezachrisen/arbiter/schema"
)

// maxRepeat bounds the length of a string or list built with *.
const maxRepeat = maxRange

var errIntOverflow = errors.New("integer overflow")

func addInt(a, b int64) (int64, error) {
	r := a + b
	if (r > a) != (b > 0) {
		return 0, errIntOverflow
	}
	return r, nil
}

func subInt(a, b int64) (int64, error) {
	r := a - b
	if (r < a) != (b > 0) {
		return 0, errIntOverflow
	}
	return r, nil
}

func mulInt(a, b int64) (int64, error) {
	if a == 0 || b == 0 {
		return 0, nil
	}
	neg := (a < 0) != (b < 0)
	hi, lo := bits.Mul64(absInt(a), absInt(b))
	if hi != 0 || lo > math.MaxInt64+boolUint(neg) {
		return 0, errIntOverflow
	}
	if neg {
		return int64(-lo), nil
	}
	return int64(lo), nil
}

// powInt raises a to b >= 0 by repeated squaring.
func powInt(a, b int64) (int64, error) {
	r := int64(1)
	for {
		var err error
		if b&1 == 1 {
			if r, err = mulInt(r, a); err != nil {
				return 0, err
			}
		}
		b >>= 1
		if b == 0 {
			return r, nil
		}
		if a, err = mulInt(a, a); err != nil {
			return 0, err
		}
	}
}

func absInt(a int64) uint64 {
	if a < 0 {
		return uint64(-a)
	}
	return uint64(a)
}

func boolUint(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

// repeat builds n copies of a string or list of length size.
func repeat(x any, n int64) (any, bool, error) {
	var size int
	switch a := x.(type) {
	case string:
		size = len(a)
	case []any:
		size = len(a)
	default:
		return nil, false, nil
	}
	n = max(n, 0)
	if size > 0 && n > maxRepeat/int64(size) {
		return nil, true, fmt.Errorf("repetition longer than %d elements", maxRepeat)
	}
	switch a := x.(type) {
	case string:
		return strings.Repeat(a, int(n)), true, nil
	default:
		l := x.([]any)
		out := make([]any, 0, int(n)*len(l))
		for i := int64(0); i < n; i++ {
			out = append(out, l...)
		}
		return out, true, nil
	}
}

// typeName is the name of a value's type as it appears in error messages.
func typeName(v any) string {
	switch v.(type) {
	case nil:
		return "NoneType"
	case bool:
		return "bool"
	case int64:
		return "int"
	case float64:
		return "float"
	case *apd.Decimal:
		return "Decimal"
	case string:
		return "str"
	case time.Time:
		return "date"
	case []any:
		return "list"
	case map[string]any:
		return "dict"
	}
	return fmt.Sprintf("%T", v)
}

func truthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case int64:
		return x != 0
	case float64:
		return x != 0
	case *apd.Decimal:
		return !x.IsZero()
	case string:
		return x != ""
	case []any:
		return len(x) > 0
	case map[string]any:
		return len(x) > 0
	case time.Time:
		return !x.IsZero()
	}
	return true
}

type decimalOp func(d, x, y *apd.Decimal) (apd.Condition, error)

func decimalArith(op decimalOp, x, y any) (any, error) {
	a, ok1 := schema.ToDecimal(x)
	b, ok2 := schema.ToDecimal(y)
	if !ok1 || !ok2 {
		return nil, fmt.Errorf("unsupported operand types: '%s' and '%s'", typeName(x), typeName(y))
	}
	d := new(apd.Decimal)
	if _, err := op(d, a, b); err != nil {
		return nil, err
	}
	return d, nil
}

// numeric reports whether both operands are numbers, and whether either of
// them is a decimal or a float.
func numeric(x, y any) (ok, dec, flt bool) {
	if !schema.IsNumber(x) || !schema.IsNumber(y) {
		return false, false, false
	}
	_, dx := x.(*apd.Decimal)
	_, dy := y.(*apd.Decimal)
	_, fx := x.(float64)
	_, fy := y.(float64)
	return true, dx || dy, fx || fy
}

func asFloat(v any) float64 {
	switch x := v.(type) {
	case int64:
		return float64(x)
	case float64:
		return x
	case *apd.Decimal:
		f, _ := x.Float64()
		return f
	}
	return 0
}

func binary(op string, x, y any) (any, error) {
	// bool behaves as an int in arithmetic
	if b, ok := x.(bool); ok {
		x = boolInt(b)
	}
	if b, ok := y.(bool); ok {
		y = boolInt(b)
	}

	ctx := schema.DecimalContext
	isNum, dec, flt := numeric(x, y)

	switch op {
	case "+":
		switch {
		case isNum && dec:
			return decimalArith(ctx.Add, x, y)
		case isNum && flt:
			return asFloat(x) + asFloat(y), nil
		case isNum:
			return addInt(x.(int64), y.(int64))
		}
		switch a := x.(type) {
		case string:
			if b, ok := y.(string); ok {
				return a + b, nil
			}
		case []any:
			if b, ok := y.([]any); ok {
				out := make([]any, 0, len(a)+len(b))
				return append(append(out, a...), b...), nil
			}
		}
	case "-":
		switch {
		case isNum && dec:
			return decimalArith(ctx.Sub, x, y)
		case isNum && flt:
			return asFloat(x) - asFloat(y), nil
		case isNum:
			return subInt(x.(int64), y.(int64))
		}
		if a, ok := x.(time.Time); ok {
			if b, ok := y.(time.Time); ok {
				return datecalc.DayNumber(a) - datecalc.DayNumber(b), nil
			}
		}
	case "*":
		switch {
		case isNum && dec:
			return decimalArith(ctx.Mul, x, y)
		case isNum && flt:
			return asFloat(x) * asFloat(y), nil
		case isNum:
			return mulInt(x.(int64), y.(int64))
		}
		if n, ok := y.(int64); ok {
			if r, ok, err := repeat(x, n); ok {
				return r, err
			}
		}
		if n, ok := x.(int64); ok {
			if r, ok, err := repeat(y, n); ok {
				return r, err
			}
		}
	case "/":
		if !isNum {
			break
		}
		if schema.CompareNumbers(y, int64(0)) == 0 {
			return nil, fmt.Errorf("division by zero")
		}
		if flt && !dec {
			return asFloat(x) / asFloat(y), nil
		}
		return decimalArith(ctx.Quo, x, y)
	case "//":
		if !isNum {
			break
		}
		if schema.CompareNumbers(y, int64(0)) == 0 {
			return nil, fmt.Errorf("integer division or modulo by zero")
		}
		switch {
		case dec:
			q, err := decimalArith(ctx.Quo, x, y)
			if err != nil {
				return nil, err
			}
			d := new(apd.Decimal)
			if _, err := ctx.Floor(d, q.(*apd.Decimal)); err != nil {
				return nil, err
			}
			return d, nil
		case flt:
			return math.Floor(asFloat(x) / asFloat(y)), nil
		}
		a, b := x.(int64), y.(int64)
		if a == math.MinInt64 && b == -1 {
			return nil, errIntOverflow
		}
		q := a / b
		if (a%b != 0) && ((a < 0) != (b < 0)) {
			q--
		}
		return q, nil
	case "%":
		if !isNum {
			break
		}
		if schema.CompareNumbers(y, int64(0)) == 0 {
			return nil, fmt.Errorf("integer division or modulo by zero")
		}
		switch {
		case dec:
			// x - y * floor(x / y)
			q, err := binary("//", x, y)
			if err != nil {
				return nil, err
			}
			m, err := decimalArith(ctx.Mul, y, q)
			if err != nil {
				return nil, err
			}
			return decimalArith(ctx.Sub, x, m)
		case flt:
			a, b := asFloat(x), asFloat(y)
			return a - b*math.Floor(a/b), nil
		}
		a, b := x.(int64), y.(int64)
		m := a % b
		if m != 0 && ((m < 0) != (b < 0)) {
			m += b
		}
		return m, nil
	case "**":
		if !isNum {
			break
		}
		if !dec && !flt {
			a, b := x.(int64), y.(int64)
			if b >= 0 {
				return powInt(a, b)
			}
		}
		if flt && !dec {
			return math.Pow(asFloat(x), asFloat(y)), nil
		}
		return decimalArith(ctx.Pow, x, y)
	}
	return nil, fmt.Errorf("unsupported operand types for %s: '%s' and '%s'", op, typeName(x), typeName(y))
}

func boolInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

func unary(op string, x any) (any, error) {
	switch op {
	case "not":
		return !truthy(x), nil
	case "+":
		if schema.IsNumber(x) {
			return x, nil
		}
	case "-":
		switch v := x.(type) {
		case int64:
			return subInt(0, v)
		case float64:
			return -v, nil
		case *apd.Decimal:
			d := new(apd.Decimal)
			d.Neg(v)
			return d, nil
		case bool:
			return -boolInt(v), nil
		}
	}
	return nil, fmt.Errorf("bad operand type for unary %s: '%s'", op, typeName(x))
}

// order compares two values for <, <=, > and >=.
func order(x, y any) (int, error) {
	if schema.IsNumber(x) && schema.IsNumber(y) {
		return schema.CompareNumbers(x, y), nil
	}
	switch a := x.(type) {
	case string:
		if b, ok := y.(string); ok {
			return strings.Compare(a, b), nil
		}
	case time.Time:
		if b, ok := y.(time.Time); ok {
			return a.Compare(b), nil
		}
	case []any:
		if b, ok := y.([]any); ok {
			for i := 0; i < len(a) && i < len(b); i++ {
				if schema.Equal(a[i], b[i]) {
					continue
				}
				return order(a[i], b[i])
			}
			return len(a) - len(b), nil
		}
	case bool:
		return order(boolInt(a), y)
	}
	if b, ok := y.(bool); ok && schema.IsNumber(x) {
		return order(x, boolInt(b))
	}
	return 0, fmt.Errorf("unorderable types: %s and %s", typeName(x), typeName(y))
}

func compare(op string, x, y any) (bool, error) {
	switch op {
	case "==", "is":
		return schema.Equal(x, y), nil
	case "!=", "is not":
		return !schema.Equal(x, y), nil
	case "in":
		return contains(y, x)
	case "not in":
		in, err := contains(y, x)
		return !in, err
	}

	c, err := order(x, y)
	if err != nil {
		return false, err
	}
	switch op {
	case "<":
		return c < 0, nil
	case "<=":
		return c <= 0, nil
	case ">":
		return c > 0, nil
	case ">=":
		return c >= 0, nil
	}
	return false, fmt.Errorf("unknown comparison %s", op)
}

func contains(container, v any) (bool, error) {
	switch c := container.(type) {
	case []any:
		for _, e := range c {
			if schema.Equal(e, v) {
				return true, nil
			}
		}
		return false, nil
	case map[string]any:
		k, ok := v.(string)
		if !ok {
			return false, nil
		}
		_, found := c[k]
		return found, nil
	case string:
		s, ok := v.(string)
		if !ok {
			return false, fmt.Errorf("'in <string>' requires string as left operand, not %s", typeName(v))
		}
		return strings.Contains(c, s), nil
	}
	return false, fmt.Errorf("argument of type '%s' is not iterable", typeName(container))
}

// iterate returns the elements a for loop visits.
func iterate(v any) ([]any, error) {
	switch c := v.(type) {
	case []any:
		return c, nil
	case map[string]any:
		return sortedKeys(c), nil
	case string:
		out := make([]any, 0, len(c))
		for _, r := range c {
			out = append(out, string(r))
		}
		return out, nil
	}
	return nil, fmt.Errorf("'%s' object is not iterable", typeName(v))
}

func index(x, i any) (any, error) {
	switch c := x.(type) {
	case []any:
		n, ok := i.(int64)
		if !ok {
			return nil, fmt.Errorf("list indices must be integers, not %s", typeName(i))
		}
		if n < 0 {
			n += int64(len(c))
		}
		if n < 0 || n >= int64(len(c)) {
			return nil, fmt.Errorf("list index out of range")
		}
		return c[n], nil
	case string:
		n, ok := i.(int64)
		if !ok {
			return nil, fmt.Errorf("string indices must be integers")
		}
		r := []rune(c)
		if n < 0 {
			n += int64(len(r))
		}
		if n < 0 || n >= int64(len(r)) {
			return nil, fmt.Errorf("string index out of range")
		}
		return string(r[n]), nil
	case map[string]any:
		k, ok := i.(string)
		if !ok {
			k = schema.Format(i)
		}
		v, found := c[k]
		if !found {
			return nil, fmt.Errorf("KeyError: %s", schema.Format(i))
		}
		return v, nil
	}
	return nil, fmt.Errorf("'%s' object is not subscriptable", typeName(x))
}

func slice(x, lo, hi any) (any, error) {
	bounds := func(n int) (int, int, error) {
		l, h := 0, n
		if lo != nil {
			v, ok := lo.(int64)
			if !ok {
				return 0, 0, fmt.Errorf("slice indices must be integers")
			}
			l = clampIndex(int(v), n)
		}
		if hi != nil {
			v, ok := hi.(int64)
			if !ok {
				return 0, 0, fmt.Errorf("slice indices must be integers")
			}
			h = clampIndex(int(v), n)
		}
		return l, max(l, h), nil
	}
	switch c := x.(type) {
	case []any:
		l, h, err := bounds(len(c))
		if err != nil {
			return nil, err
		}
		return append([]any{}, c[l:h]...), nil
	case string:
		r := []rune(c)
		l, h, err := bounds(len(r))
		if err != nil {
			return nil, err
		}
		return string(r[l:h]), nil
	}
	return nil, fmt.Errorf("'%s' object is not subscriptable", typeName(x))
}

func clampIndex(i, n int) int {
	if i < 0 {
		i += n
	}
	return min(max(i, 0), n)
}

package schema

import (
	"fmt"
	"math"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/apd/v3"
)

// DecimalContext is used for every decimal operation. It mirrors the
// precision of the calculations business users write rules against.
var DecimalContext = apd.BaseContext.WithPrecision(28)

// DateLayout is the layout used to read and write dates.
const DateLayout = "2006-01-02"

// NewDate returns the date at midnight UTC.
func NewDate(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// ParseDate reads a date in the YYYY-MM-DD layout.
func ParseDate(s string) (time.Time, error) {
	return time.ParseInLocation(DateLayout, strings.TrimSpace(s), time.UTC)
}

// ParseDecimal reads a decimal number.
func ParseDecimal(s string) (*apd.Decimal, error) {
	d, _, err := apd.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("parsing decimal %q: %w", s, err)
	}
	return d, nil
}

// ToDecimal converts any numeric value to a decimal.
func ToDecimal(v any) (*apd.Decimal, bool) {
	switch x := v.(type) {
	case *apd.Decimal:
		return x, x != nil
	case int64:
		return apd.New(x, 0), true
	case float64:
		d := new(apd.Decimal)
		if _, err := d.SetFloat64(x); err != nil {
			return nil, false
		}
		return d, true
	case bool:
		if x {
			return apd.New(1, 0), true
		}
		return apd.New(0, 0), true
	}
	switch n := Normalize(v).(type) {
	case int64, float64:
		return ToDecimal(n)
	}
	return nil, false
}

// IsNumber reports whether v is one of the numeric representations.
func IsNumber(v any) bool {
	switch v.(type) {
	case int64, float64, *apd.Decimal:
		return true
	}
	return false
}

// Normalize converts native Go values into the forms the runtime
// works with: int64, float64, *apd.Decimal, string, bool, time.Time,
// time.Duration, []any, map[string]any and nil.
// Values of other types (structs, pointers to structs) are returned as is.
func Normalize(v any) any {
	switch x := v.(type) {
	case nil, int64, float64, *apd.Decimal, string, bool, time.Time, time.Duration:
		return v
	case int:
		return int64(x)
	case int8:
		return int64(x)
	case int16:
		return int64(x)
	case int32:
		return int64(x)
	case uint:
		return int64(x)
	case uint8:
		return int64(x)
	case uint16:
		return int64(x)
	case uint32:
		return int64(x)
	case uint64:
		return int64(x)
	case float32:
		return float64(x)
	case []any:
		out := make([]any, len(x))
		for i := range x {
			out[i] = Normalize(x[i])
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = Normalize(e)
		}
		return out
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			return []any{}
		}
		out := make([]any, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			out[i] = Normalize(rv.Index(i).Interface())
		}
		return out
	case reflect.Map:
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			out[fmt.Sprint(Normalize(iter.Key().Interface()))] = Normalize(iter.Value().Interface())
		}
		return out
	case reflect.String:
		return rv.String()
	case reflect.Bool:
		return rv.Bool()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int()
	case reflect.Float32, reflect.Float64:
		return rv.Float()
	}
	return v
}

// Equal compares two runtime values. Numbers compare by value across
// their representations, lists (and tuples) element by element and maps
// key by key.
func Equal(a, b any) bool {
	a, b = Normalize(a), Normalize(b)

	if IsNumber(a) && IsNumber(b) {
		return CompareNumbers(a, b) == 0
	}

	switch x := a.(type) {
	case nil:
		return b == nil
	case time.Time:
		y, ok := b.(time.Time)
		return ok && x.Equal(y)
	case []any:
		y, ok := b.([]any)
		if !ok || len(x) != len(y) {
			return false
		}
		for i := range x {
			if !Equal(x[i], y[i]) {
				return false
			}
		}
		return true
	case map[string]any:
		y, ok := b.(map[string]any)
		if !ok || len(x) != len(y) {
			return false
		}
		for k, v := range x {
			w, ok := y[k]
			if !ok || !Equal(v, w) {
				return false
			}
		}
		return true
	}
	return reflect.DeepEqual(a, b)
}

// CompareNumbers returns -1, 0 or 1. Both values must be numbers.
func CompareNumbers(a, b any) int {
	if x, ok := a.(int64); ok {
		if y, ok := b.(int64); ok {
			switch {
			case x < y:
				return -1
			case x > y:
				return 1
			}
			return 0
		}
	}
	if x, ok := a.(float64); ok {
		if y, ok := b.(float64); ok {
			switch {
			case x < y:
				return -1
			case x > y:
				return 1
			}
			return 0
		}
	}
	x, ok1 := ToDecimal(a)
	y, ok2 := ToDecimal(b)
	if !ok1 || !ok2 {
		return 0
	}
	return x.Cmp(y)
}

// TypeOf infers the type of a runtime value.
func TypeOf(v any) Type {
	switch x := Normalize(v).(type) {
	case nil:
		return Any{}
	case int64:
		return Int{}
	case float64:
		return Float{}
	case *apd.Decimal:
		return Decimal{}
	case string:
		return String{}
	case bool:
		return Bool{}
	case time.Time:
		return Date{}
	case time.Duration:
		return Duration{}
	case []any:
		var elem Type = Any{}
		for i, e := range x {
			t := TypeOf(e)
			if i > 0 && t.String() != elem.String() {
				return List{ValueType: Any{}}
			}
			elem = t
		}
		return List{ValueType: elem}
	case map[string]any:
		return Map{KeyType: String{}, ValueType: Any{}}
	}
	return Any{}
}

// Conforms reports whether v can be considered a value of type t without
// conversion. Nil conforms to every type.
func Conforms(t Type, v any) bool {
	v = Normalize(v)
	if v == nil || t == nil {
		return true
	}
	switch tt := t.(type) {
	case Any:
		return true
	case Decimal, Float:
		return IsNumber(v)
	case Int:
		_, ok := v.(int64)
		return ok
	case List:
		l, ok := v.([]any)
		if !ok {
			return false
		}
		for _, e := range l {
			if !Conforms(tt.ValueType, e) {
				return false
			}
		}
		return true
	case Map:
		m, ok := v.(map[string]any)
		if !ok {
			return false
		}
		for _, e := range m {
			if !Conforms(tt.ValueType, e) {
				return false
			}
		}
		return true
	}
	return TypeOf(v).String() == t.String()
}

// Coerce converts v to the type t. It is used to turn the literals
// written in test cases into the values a function would have returned.
func Coerce(t Type, v any) (any, error) {
	v = Normalize(v)
	if t == nil || v == nil {
		return v, nil
	}

	switch tt := t.(type) {
	case Any:
		return v, nil
	case Int:
		switch x := v.(type) {
		case int64:
			return x, nil
		case float64:
			if x == math.Trunc(x) {
				return int64(x), nil
			}
		case *apd.Decimal:
			if i, err := x.Int64(); err == nil {
				return i, nil
			}
		case string:
			if i, err := strconv.ParseInt(strings.TrimSpace(x), 10, 64); err == nil {
				return i, nil
			}
		}
	case Decimal:
		if d, ok := ToDecimal(v); ok {
			return d, nil
		}
		if s, ok := v.(string); ok {
			return ParseDecimal(s)
		}
	case Float:
		switch x := v.(type) {
		case int64:
			return float64(x), nil
		case float64:
			return x, nil
		case *apd.Decimal:
			return x.Float64()
		case string:
			return strconv.ParseFloat(strings.TrimSpace(x), 64)
		}
	case String:
		if s, ok := v.(string); ok {
			return s, nil
		}
		return Format(v), nil
	case Bool:
		switch x := v.(type) {
		case bool:
			return x, nil
		case string:
			return strconv.ParseBool(strings.TrimSpace(x))
		}
	case Date:
		switch x := v.(type) {
		case time.Time:
			return x, nil
		case string:
			return ParseDate(x)
		}
	case Duration:
		switch x := v.(type) {
		case time.Duration:
			return x, nil
		case string:
			return time.ParseDuration(strings.TrimSpace(x))
		}
	case List:
		l, ok := v.([]any)
		if !ok {
			break
		}
		out := make([]any, len(l))
		for i := range l {
			e, err := Coerce(tt.ValueType, l[i])
			if err != nil {
				return nil, fmt.Errorf("element %d: %w", i, err)
			}
			out[i] = e
		}
		return out, nil
	case Map:
		m, ok := v.(map[string]any)
		if !ok {
			break
		}
		out := make(map[string]any, len(m))
		for k, e := range m {
			c, err := Coerce(tt.ValueType, e)
			if err != nil {
				return nil, fmt.Errorf("key %q: %w", k, err)
			}
			out[k] = c
		}
		return out, nil
	}
	return nil, fmt.Errorf("cannot convert %s to %s", Format(v), t)
}

// Format renders a runtime value the way it is written in rule
// algorithms and test cases: None, True/False, quoted strings, lists in
// brackets and dicts in braces with sorted keys.
func Format(v any) string {
	switch x := Normalize(v).(type) {
	case nil:
		return "None"
	case bool:
		if x {
			return "True"
		}
		return "False"
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case *apd.Decimal:
		return x.Text('f')
	case string:
		return strconv.Quote(x)
	case time.Time:
		return x.Format(DateLayout)
	case time.Duration:
		return x.String()
	case []any:
		parts := make([]string, len(x))
		for i := range x {
			parts[i] = Format(x[i])
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case map[string]any:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, len(keys))
		for i, k := range keys {
			parts[i] = strconv.Quote(k) + ": " + Format(x[k])
		}
		return "{" + strings.Join(parts, ", ") + "}"
	default:
		return fmt.Sprintf("%v", x)
	}
}

// Literal renders a value in the source form of the rule language, so
// that parsing it gives the value back: dates become date(y, m, d) and
// decimals without a fractional part Decimal('n').
func Literal(v any) string {
	switch x := Normalize(v).(type) {
	case time.Time:
		return fmt.Sprintf("date(%d, %d, %d)", x.Year(), int(x.Month()), x.Day())
	case *apd.Decimal:
		s := x.Text('f')
		if !strings.Contains(s, ".") {
			return "Decimal('" + s + "')"
		}
		return s
	case []any:
		parts := make([]string, len(x))
		for i := range x {
			parts[i] = Literal(x[i])
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case map[string]any:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, len(keys))
		for i, k := range keys {
			parts[i] = strconv.Quote(k) + ": " + Literal(x[k])
		}
		return "{" + strings.Join(parts, ", ") + "}"
	}
	return Format(v)
}

// JSON converts a runtime value into a value encoding/json can render.
// Decimals become floats and dates their YYYY-MM-DD form.
func JSON(v any) any {
	switch x := Normalize(v).(type) {
	case *apd.Decimal:
		f, err := x.Float64()
		if err != nil {
			return x.Text('f')
		}
		return f
	case time.Time:
		return x.Format(DateLayout)
	case time.Duration:
		return x.String()
	case []any:
		out := make([]any, len(x))
		for i := range x {
			out[i] = JSON(x[i])
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = JSON(e)
		}
		return out
	default:
		return x
	}
}

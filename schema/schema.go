// Package schema defines the data types used by arbiter.
//
// Types describe the arguments and return values of tree elements, rule
// parameters and declared rule results. They are also used to coerce the
// literal values written in test cases into the values a function would
// have returned.
package schema

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/cockroachdb/apd/v3"
)

// Type defines a type in the arbiter type system.
type Type interface {
	// Implements the stringer interface
	String() string

	// Zero returns a 'template' of the type to enable
	// use of reflection when converting to and from native types.
	Zero() any
}

// String defines a string type.
type String struct{}

// Int defines a 64 bit integer type.
type Int struct{}

// Float defines a float64 type. Prefer Decimal for amounts.
type Float struct{}

// Decimal defines an arbitrary precision decimal type, backed by apd.
type Decimal struct{}

// Any defines a type for an "undefined" or unspecified type.
type Any struct{}

// Bool defines a type for true/false.
type Bool struct{}

// Date defines a calendar date, represented as a time.Time at midnight UTC.
type Date struct{}

// Duration defines a type for the time.Duration type.
type Duration struct{}

// List defines a type representing a slice of values.
// Tuples are lists.
type List struct {
	ValueType Type // the type of element stored in the list
}

// Map defines a type representing a map of keys and values.
type Map struct {
	KeyType   Type // the type of the map key
	ValueType Type // the type of the value stored in the map
}

// Zero Methods
func (String) Zero() any   { return string("") }
func (Int) Zero() any      { return int64(0) }
func (Bool) Zero() any     { return bool(false) }
func (Float) Zero() any    { return float64(0.0) }
func (Decimal) Zero() any  { return apd.New(0, 0) }
func (Date) Zero() any     { return time.Time{} }
func (Duration) Zero() any { return time.Duration(0) }
func (Any) Zero() any      { return nil }

func (t List) Zero() (retval any) {
	defer func() {
		if r := recover(); r != nil {
			retval = nil
		}
	}()

	if t.ValueType == nil || t.ValueType.Zero() == nil {
		return []any{}
	}

	tt := reflect.TypeOf(t.ValueType.Zero())
	s := reflect.MakeSlice(reflect.SliceOf(tt), 0, 0)
	return s.Interface()
}

func (t Map) Zero() (retval any) {
	// A panic handler here because we're using reflection
	defer func() {
		if r := recover(); r != nil {
			retval = nil
		}
	}()

	if t.KeyType == nil || t.ValueType == nil || t.KeyType.Zero() == nil || t.ValueType.Zero() == nil {
		return map[string]any{}
	}

	tk := reflect.TypeOf(t.KeyType.Zero())
	tv := reflect.TypeOf(t.ValueType.Zero())
	return reflect.MakeMap(reflect.MapOf(tk, tv)).Interface()
}

// String Methods
func (Int) String() string      { return "int" }
func (Bool) String() string     { return "bool" }
func (String) String() string   { return "string" }
func (Any) String() string      { return "any" }
func (Duration) String() string { return "duration" }
func (Date) String() string     { return "date" }
func (Float) String() string    { return "float" }
func (Decimal) String() string  { return "decimal" }
func (t List) String() string   { return fmt.Sprintf("[]%v", t.ValueType) }
func (t Map) String() string    { return fmt.Sprintf("map[%s]%s", t.KeyType, t.ValueType) }

// Value is a value paired with its type.
type Value struct {
	Val  any  // the value stored
	Type Type // the type stored
}

// aliases maps the names used by business users for result types
// onto the primitive types.
var aliases = map[string]Type{
	"string":   String{},
	"char":     String{},
	"text":     String{},
	"int":      Int{},
	"integer":  Int{},
	"float":    Float{},
	"decimal":  Decimal{},
	"numeric":  Decimal{},
	"bool":     Bool{},
	"boolean":  Bool{},
	"date":     Date{},
	"duration": Duration{},
	"any":      Any{},
	"list":     List{ValueType: Any{}},
	"dict":     Map{KeyType: String{}, ValueType: Any{}},
}

// ParseType parses a string that represents a type and returns the type.
// The primitive types are their lower-case names (string, int, decimal, date, etc.)
// Maps and lists look like Go maps and slices: map[string]decimal and []string.
// The names list and dict are shorthands for []any and map[string]any.
func ParseType(t string) (Type, error) {
	t = strings.TrimSpace(t)

	if strings.HasPrefix(t, "map") {
		return parseMap(t)
	}

	if strings.HasPrefix(t, "[]") {
		return parseList(t)
	}

	if typ, ok := aliases[t]; ok {
		return typ, nil
	}
	return Any{}, fmt.Errorf("unrecognized type: %q", t)
}

// MustParseType is like ParseType but panics on error.
func MustParseType(t string) Type {
	typ, err := ParseType(t)
	if err != nil {
		panic(err)
	}
	return typ
}

// parseMap parses a string and returns a map type.
// The string must in the format map[<keytype]<valuetype>.
// Example: map[string]int
func parseMap(t string) (Type, error) {
	rest, ok := strings.CutPrefix(t, "map[")
	if !ok {
		return Any{}, fmt.Errorf("bad map specification %q", t)
	}
	end := strings.Index(rest, "]")
	if end < 1 || end == len(rest)-1 {
		return Any{}, fmt.Errorf("bad map specification %q", t)
	}

	keyType, err := ParseType(rest[:end])
	if err != nil {
		return Any{}, err
	}

	valueType, err := ParseType(rest[end+1:])
	if err != nil {
		return Any{}, err
	}

	return Map{
		KeyType:   keyType,
		ValueType: valueType,
	}, nil
}

// parseList parses a string and returns a list type.
// The string must be in the format []<valuetype>
// Example: []string
func parseList(t string) (Type, error) {
	valueTypeName := strings.TrimPrefix(t, "[]")
	if valueTypeName == "" {
		return Any{}, fmt.Errorf("bad list specification %q", t)
	}
	valueType, err := ParseType(valueTypeName)
	if err != nil {
		return Any{}, err
	}

	return List{
		ValueType: valueType,
	}, nil
}

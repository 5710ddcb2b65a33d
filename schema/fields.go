package schema

import (
	"reflect"
	"strings"
	"time"

	"github.com/markbates/inflect"
)

// Field returns the attribute name of v. Dicts are looked up by key,
// dates expose year, month, day and weekday, and structs are looked up by
// json tag or by the CamelCase form of name (contract_start becomes
// ContractStart).
func Field(v any, name string) (any, bool) {
	switch x := v.(type) {
	case nil:
		return nil, false
	case map[string]any:
		f, ok := x[name]
		return f, ok
	case time.Time:
		switch name {
		case "year":
			return int64(x.Year()), true
		case "month":
			return int64(x.Month()), true
		case "day":
			return int64(x.Day()), true
		case "weekday":
			// Monday is 0
			return int64((x.Weekday() + 6) % 7), true
		}
		return nil, false
	}

	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return nil, false
		}
		rv = rv.Elem()
	}
	switch rv.Kind() {
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil, false
		}
		f := rv.MapIndex(reflect.ValueOf(name).Convert(rv.Type().Key()))
		if !f.IsValid() {
			return nil, false
		}
		return Normalize(f.Interface()), true
	case reflect.Struct:
		t := rv.Type()
		camel := inflect.Camelize(name)
		for i := 0; i < t.NumField(); i++ {
			sf := t.Field(i)
			if !sf.IsExported() {
				continue
			}
			tag, _, _ := strings.Cut(sf.Tag.Get("json"), ",")
			if tag == name || sf.Name == name || sf.Name == camel {
				return Normalize(rv.Field(i).Interface()), true
			}
		}
	}
	return nil, false
}

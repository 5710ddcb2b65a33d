package cel

// This file contains functions that convert values
//    FROM arbiter runtime values TO CEL values (toCEL)
//    FROM CEL evaluation output TO arbiter runtime values (fromCEL)

import (
	"time"

	"github.com/cockroachdb/apd/v3"
	"github.com/ezachrisen/arbiter/schema"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/google/cel-go/common/types/traits"
)

// toCEL converts a runtime value. Decimals become doubles.
func toCEL(v any) ref.Val {
	return types.DefaultTypeAdapter.NativeToValue(celNative(schema.Normalize(v)))
}

func celNative(v any) any {
	switch x := v.(type) {
	case *apd.Decimal:
		f, err := x.Float64()
		if err != nil {
			return x.Text('f')
		}
		return f
	case []any:
		out := make([]any, len(x))
		for i := range x {
			out[i] = celNative(x[i])
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = celNative(e)
		}
		return out
	}
	return v
}

// fromCEL converts a CEL value into the runtime representation.
func fromCEL(v ref.Val) any {
	if v == nil {
		return nil
	}
	switch x := v.(type) {
	case types.Null:
		return nil
	case traits.Mapper:
		out := map[string]any{}
		it := x.Iterator()
		for it.HasNext() == types.True {
			k := it.Next()
			key, ok := k.Value().(string)
			if !ok {
				key = schema.Format(fromCEL(k))
			}
			out[key] = fromCEL(x.Get(k))
		}
		return out
	case traits.Lister:
		out := []any{}
		it := x.Iterator()
		for it.HasNext() == types.True {
			out = append(out, fromCEL(it.Next()))
		}
		return out
	}

	switch n := v.Value().(type) {
	case time.Time:
		return n.UTC()
	case ref.Val:
		return fromCEL(n)
	default:
		return schema.Normalize(n)
	}
}

package jsbridge

import (
	"fmt"
	"math/big"

	"github.com/dop251/goja"
)

// materialize builds a fresh script value for v. Mapping members become own
// enumerable data properties in member order, so keys such as "__proto__"
// stay ordinary data.
func materialize(rt *goja.Runtime, v Value) (goja.Value, error) {
	return materializeDepth(rt, v, 0)
}

func materializeDepth(rt *goja.Runtime, v Value, depth int) (goja.Value, error) {
	if depth > MaxNestingDepth {
		return nil, ErrMaxDepth
	}
	switch v.Kind() {
	case KindNull:
		return goja.Null(), nil
	case KindBool:
		return rt.ToValue(v.Bool()), nil
	case KindNumber:
		n := v.Number()
		switch {
		case n.IsUnsigned():
			return rt.ToValue(new(big.Int).SetUint64(n.Uint64())), nil
		case n.IsInteger():
			// Integers a float64 cannot hold exactly become BigInts.
			if i := n.Int64(); i > maxSafeInteger || i < -maxSafeInteger {
				return rt.ToValue(big.NewInt(i)), nil
			}
			return rt.ToValue(n.Int64()), nil
		default:
			return rt.ToValue(n.Float64()), nil
		}
	case KindString:
		return rt.ToValue(v.Text()), nil
	case KindSequence:
		seq := v.Sequence()
		items := make([]any, len(seq))
		for i, item := range seq {
			el, err := materializeDepth(rt, item, depth+1)
			if err != nil {
				return nil, err
			}
			items[i] = el
		}
		return rt.NewArray(items...), nil
	case KindMapping:
		obj := rt.NewObject()
		for _, member := range v.Members() {
			el, err := materializeDepth(rt, member.Value, depth+1)
			if err != nil {
				return nil, err
			}
			if err := obj.DefineDataProperty(member.Key, el, goja.FLAG_TRUE, goja.FLAG_TRUE, goja.FLAG_TRUE); err != nil {
				return nil, fmt.Errorf("define %q: %w", member.Key, err)
			}
		}
		return obj, nil
	default:
		return nil, fmt.Errorf("%w: kind %s", ErrUnsupportedValue, v.Kind())
	}
}

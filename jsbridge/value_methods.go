package jsbridge

import (
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"reflect"
	"slices"
	"strconv"
	"strings"
	"time"
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindSequence:
		return "sequence"
	case KindMapping:
		return "mapping"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

func (n Number) String() string {
	switch n.form {
	case numberUint:
		return strconv.FormatUint(n.u, 10)
	case numberFloat:
		return formatFloat(n.f)
	default:
		return strconv.FormatInt(n.i, 10)
	}
}

// String returns the text of a string value and the canonical document of
// every other value.
func (v Value) String() string {
	if v.kind == KindString {
		return v.data.(string)
	}
	doc, err := FormatDocument(v)
	if err != nil {
		return fmt.Sprintf("<%s: %v>", v.kind, err)
	}
	return doc
}

// Equal compares deeply. Mapping order is significant and numbers must agree
// on both value and integer/float form.
func (v Value) Equal(other Value) bool {
	if v.kind != other.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindBool:
		return v.Bool() == other.Bool()
	case KindNumber:
		return v.Number().Equal(other.Number())
	case KindString:
		return v.Text() == other.Text()
	case KindSequence:
		return slices.EqualFunc(v.Sequence(), other.Sequence(), Value.Equal)
	case KindMapping:
		return slices.EqualFunc(v.Members(), other.Members(), func(a, b Member) bool {
			return a.Key == b.Key && a.Value.Equal(b.Value)
		})
	default:
		return false
	}
}

// Clone returns a deep copy sharing no substructure with v.
func (v Value) Clone() Value {
	switch v.kind {
	case KindSequence:
		seq := v.Sequence()
		cloned := make([]Value, len(seq))
		for i, elem := range seq {
			cloned[i] = elem.Clone()
		}
		return NewSequence(cloned)
	case KindMapping:
		members := v.Members()
		m := newMapping(len(members))
		for _, member := range members {
			m.set(member.Key, member.Value.Clone())
		}
		return Value{kind: KindMapping, data: m}
	default:
		return v
	}
}

// Interface converts v to plain Go data: nil, bool, int64, uint64, float64,
// string, []any and map[string]any.
func (v Value) Interface() any {
	switch v.kind {
	case KindBool:
		return v.Bool()
	case KindNumber:
		n := v.Number()
		switch {
		case n.IsUnsigned():
			return n.Uint64()
		case n.IsInteger():
			return n.Int64()
		default:
			return n.Float64()
		}
	case KindString:
		return v.Text()
	case KindSequence:
		seq := v.Sequence()
		out := make([]any, len(seq))
		for i, elem := range seq {
			out[i] = elem.Interface()
		}
		return out
	case KindMapping:
		members := v.Members()
		out := make(map[string]any, len(members))
		for _, member := range members {
			out[member.Key] = member.Value.Interface()
		}
		return out
	default:
		return nil
	}
}

// FromGo converts plain Go data into a Value. Maps are ordered by key.
func FromGo(val any) (Value, error) {
	switch v := val.(type) {
	case nil:
		return NewNull(), nil
	case Value:
		return v.Clone(), nil
	case bool:
		return NewBool(v), nil
	case string:
		return NewString(v), nil
	case int:
		return NewInt(int64(v)), nil
	case int8:
		return NewInt(int64(v)), nil
	case int16:
		return NewInt(int64(v)), nil
	case int32:
		return NewInt(int64(v)), nil
	case int64:
		return NewInt(v), nil
	case uint:
		return NewUint(uint64(v)), nil
	case uint8:
		return NewUint(uint64(v)), nil
	case uint16:
		return NewUint(uint64(v)), nil
	case uint32:
		return NewUint(uint64(v)), nil
	case uint64:
		return NewUint(v), nil
	case float32:
		return NewFloat(float64(v)), nil
	case float64:
		return NewFloat(v), nil
	case json.Number:
		return numberFromLiteral(v.String())
	case *big.Int:
		if v == nil {
			return NewNull(), nil
		}
		return NewBigInt(v), nil
	case time.Time:
		return NewString(v.Format(time.RFC3339Nano)), nil
	case []byte:
		return NewString(string(v)), nil
	case []Value:
		out := make([]Value, len(v))
		for i, elem := range v {
			out[i] = elem.Clone()
		}
		return NewSequence(out), nil
	case []any:
		out := make([]Value, len(v))
		for i, elem := range v {
			converted, err := FromGo(elem)
			if err != nil {
				return NewNull(), fmt.Errorf("index %d: %w", i, err)
			}
			out[i] = converted
		}
		return NewSequence(out), nil
	case map[string]Value:
		cloned := make(map[string]Value, len(v))
		for key, elem := range v {
			cloned[key] = elem.Clone()
		}
		return NewMappingFromMap(cloned), nil
	case map[string]any:
		out := make(map[string]Value, len(v))
		for key, elem := range v {
			converted, err := FromGo(elem)
			if err != nil {
				return NewNull(), fmt.Errorf("key %q: %w", key, err)
			}
			out[key] = converted
		}
		return NewMappingFromMap(out), nil
	default:
		return NewNull(), fmt.Errorf("%w: Go type %s", ErrUnsupportedValue, reflect.TypeOf(val))
	}
}

func formatFloat(f float64) string {
	if math.IsInf(f, 1) {
		return "Infinity"
	}
	if math.IsInf(f, -1) {
		return "-Infinity"
	}
	if math.IsNaN(f) {
		return "NaN"
	}
	abs := math.Abs(f)
	format := byte('f')
	if abs != 0 && (abs < 1e-6 || abs >= 1e21) {
		format = 'e'
	}
	text := strconv.FormatFloat(f, format, -1, 64)
	if format == 'f' && !strings.Contains(text, ".") {
		text += ".0"
	}
	return text
}

package jsbridge

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/big"
	"strconv"

	"github.com/dop251/goja"
)

// ConversionError reports a script value that has no structured
// representation. Path locates it inside the converted value ($ is the root).
type ConversionError struct {
	Path   string
	Reason string
	Err    error
}

func (e *ConversionError) Error() string {
	return fmt.Sprintf("cannot convert %s at %s", e.Reason, e.Path)
}

func (e *ConversionError) Unwrap() error { return e.Err }

// maxSafeInteger is the largest integer a float64 holds exactly.
const maxSafeInteger = 1 << 53

// ctxCheckInterval is how many visited values pass between context checks.
const ctxCheckInterval = 1024

type exporter struct {
	ctx     context.Context
	rt      *goja.Runtime
	active  map[*goja.Object]struct{}
	visited int
}

// exportValue converts a script value into a Value. Getters and toJSON
// methods run during conversion, so a JavaScript exception may panic through
// this call; callers outside a native function wrap it in Runtime.Try.
// Conversion stops with ctx's error once ctx is done.
func exportValue(ctx context.Context, rt *goja.Runtime, val goja.Value) (Value, error) {
	ex := &exporter{ctx: ctx, rt: rt, active: make(map[*goja.Object]struct{})}
	out, _, err := ex.convert(val, "$", "", 0)
	return out, err
}

// convert returns (value, present, error); present is false for values a
// mapping member omits (undefined).
func (ex *exporter) convert(val goja.Value, path, key string, depth int) (Value, bool, error) {
	if depth > MaxNestingDepth {
		return Value{}, false, &ConversionError{Path: path, Reason: "value nested too deeply", Err: ErrMaxDepth}
	}
	if err := ex.visit(path); err != nil {
		return Value{}, false, err
	}
	if val == nil || goja.IsUndefined(val) {
		return NewNull(), false, nil
	}
	if goja.IsNull(val) {
		return NewNull(), true, nil
	}

	switch {
	case goja.IsString(val):
		return NewString(val.String()), true, nil
	case goja.IsNumber(val):
		return exportNumber(val.Export()), true, nil
	case goja.IsBigInt(val):
		if b, ok := val.Export().(*big.Int); ok {
			return NewBigInt(b), true, nil
		}
		return NewString(val.String()), true, nil
	}

	if _, ok := val.(*goja.Symbol); ok {
		return Value{}, false, &ConversionError{Path: path, Reason: "symbol", Err: ErrUnsupportedValue}
	}

	obj, ok := val.(*goja.Object)
	if !ok {
		if b, isBool := val.Export().(bool); isBool {
			return NewBool(b), true, nil
		}
		return Value{}, false, &ConversionError{Path: path, Reason: fmt.Sprintf("value of type %s", val.ExportType()), Err: ErrUnsupportedValue}
	}

	if _, callable := goja.AssertFunction(obj); callable {
		return Value{}, false, &ConversionError{Path: path, Reason: "function", Err: ErrUnsupportedValue}
	}

	if _, seen := ex.active[obj]; seen {
		return Value{}, false, &ConversionError{Path: path, Reason: "cyclic structure", Err: ErrUnsupportedValue}
	}
	ex.active[obj] = struct{}{}
	defer delete(ex.active, obj)

	if toJSON, ok := goja.AssertFunction(obj.Get("toJSON")); ok {
		res, err := toJSON(obj, ex.rt.ToValue(key))
		if err != nil {
			panic(err)
		}
		if other, isObj := res.(*goja.Object); isObj && other == obj {
			return Value{}, false, &ConversionError{Path: path, Reason: "cyclic structure", Err: ErrUnsupportedValue}
		}
		return ex.convert(res, path, key, depth+1)
	}

	switch obj.ClassName() {
	case "String":
		return NewString(obj.String()), true, nil
	case "Number":
		return exportNumber(obj.ToNumber().Export()), true, nil
	case "Boolean":
		return NewBool(obj.ToBoolean()), true, nil
	case "BigInt":
		if b, ok := obj.Export().(*big.Int); ok {
			return NewBigInt(b), true, nil
		}
	case "Array":
		out, err := ex.convertArray(obj, path, depth)
		return out, true, err
	}

	out, err := ex.convertObject(obj, path, depth)
	return out, true, err
}

// visit counts one converted value against the conversion budget and
// periodically checks the context.
func (ex *exporter) visit(path string) error {
	ex.visited++
	if ex.visited > MaxConvertedValues {
		return &ConversionError{Path: path, Reason: "value with too many elements", Err: ErrMaxLength}
	}
	if ex.visited%ctxCheckInterval == 0 && ex.ctx != nil {
		if err := ex.ctx.Err(); err != nil {
			return fmt.Errorf("conversion interrupted: %w", err)
		}
	}
	return nil
}

func (ex *exporter) convertArray(obj *goja.Object, path string, depth int) (Value, error) {
	length := obj.Get("length").ToInteger()
	if length < 0 {
		return Value{}, &ConversionError{Path: path, Reason: "array with invalid length", Err: ErrUnsupportedValue}
	}
	if length > MaxSequenceLength {
		return Value{}, &ConversionError{Path: path, Reason: fmt.Sprintf("array of length %d", length), Err: ErrMaxLength}
	}
	items := make([]Value, 0, min(length, ctxCheckInterval))
	for i := int64(0); i < length; i++ {
		idx := strconv.FormatInt(i, 10)
		item, _, err := ex.convert(obj.Get(idx), path+"["+idx+"]", idx, depth+1)
		if err != nil {
			return Value{}, err
		}
		items = append(items, item)
	}
	return NewSequence(items), nil
}

func (ex *exporter) convertObject(obj *goja.Object, path string, depth int) (Value, error) {
	keys := obj.Keys()
	m := newMapping(len(keys))
	for _, key := range keys {
		item, present, err := ex.convert(obj.Get(key), memberPath(path, key), key, depth+1)
		if err != nil {
			return Value{}, err
		}
		if !present {
			continue
		}
		m.set(key, item)
	}
	return Value{kind: KindMapping, data: m}, nil
}

// exportNumber maps an exported goja number to a Number. Integral values in
// the exactly representable range become integers; NaN and infinities become
// Null, as they would in a JSON document.
func exportNumber(raw any) Value {
	switch n := raw.(type) {
	case int64:
		return NewInt(n)
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return NewNull()
		}
		if n == math.Trunc(n) && math.Abs(n) <= maxSafeInteger {
			return NewInt(int64(n))
		}
		return NewFloat(n)
	case int:
		return NewInt(int64(n))
	default:
		return NewNull()
	}
}

func memberPath(parent, key string) string {
	if isIdentifier(key) {
		return parent + "." + key
	}
	return parent + "[" + strconv.Quote(key) + "]"
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_' || r == '$':
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case i > 0 && r >= '0' && r <= '9':
		default:
			return false
		}
	}
	return true
}

// isConversionError reports whether err came from exportValue.
func isConversionError(err error) bool {
	var convErr *ConversionError
	return errors.As(err, &convErr)
}

func conversionEvalError(err error) *EvalError {
	return &EvalError{Kind: ErrorKindConversion, Type: "ConversionError", Message: err.Error()}
}

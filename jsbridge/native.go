package jsbridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dop251/goja"
)

// NativeFunc is a host function callable from script code. Its result is
// materialized as a fresh script value. Returning a *ScriptError throws the
// named script error; any other error throws a plain Error with its text.
type NativeFunc func(call *NativeCall) (Value, error)

// NativeCall carries the arguments of one script-to-host call.
type NativeCall struct {
	exec *execution
	name string
	args []goja.Value
}

// Context returns the context of the evaluation the call belongs to.
func (c *NativeCall) Context() context.Context { return c.exec.ctx }

// Name returns the global name the native was registered under.
func (c *NativeCall) Name() string { return c.name }

// Logger returns the engine logger.
func (c *NativeCall) Logger() *slog.Logger { return c.exec.engine.logger }

// NumArgs reports how many arguments the script passed.
func (c *NativeCall) NumArgs() int { return len(c.args) }

// StringArg returns argument i when it is a script string.
func (c *NativeCall) StringArg(i int) (string, bool) {
	if i < 0 || i >= len(c.args) {
		return "", false
	}
	arg := c.args[i]
	if !goja.IsString(arg) {
		return "", false
	}
	return arg.String(), true
}

// Arg converts argument i into a Value. Missing arguments are Null.
func (c *NativeCall) Arg(i int) (Value, error) {
	if i < 0 || i >= len(c.args) {
		return NewNull(), nil
	}
	return exportValue(c.exec.ctx, c.exec.rt, c.args[i])
}

// ArgType names the script type of argument i the way typeof would.
func (c *NativeCall) ArgType(i int) string {
	if i < 0 || i >= len(c.args) {
		return "undefined"
	}
	return typeOf(c.args[i])
}

// Args converts every argument.
func (c *NativeCall) Args() ([]Value, error) {
	out := make([]Value, len(c.args))
	for i := range c.args {
		v, err := c.Arg(i)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// ScriptError is thrown into script code as an error object whose name is
// Name. Fields become extra properties of the thrown object.
type ScriptError struct {
	Name    string
	Message string
	Fields  []Member
}

func (e *ScriptError) Error() string {
	if e.Message == "" {
		return e.Name
	}
	return e.Name + ": " + e.Message
}

func TypeErrorf(format string, args ...any) *ScriptError {
	return &ScriptError{Name: "TypeError", Message: fmt.Sprintf(format, args...)}
}

func ReferenceErrorf(format string, args ...any) *ScriptError {
	return &ScriptError{Name: "ReferenceError", Message: fmt.Sprintf(format, args...)}
}

var builtinErrorConstructors = map[string]bool{
	"Error":          true,
	"TypeError":      true,
	"RangeError":     true,
	"ReferenceError": true,
	"SyntaxError":    true,
	"EvalError":      true,
	"URIError":       true,
}

// newErrorObject constructs a script error. Names without a builtin
// constructor are Error instances with an overridden name.
func newErrorObject(rt *goja.Runtime, name, message string, fields []Member) *goja.Object {
	ctorName := name
	if !builtinErrorConstructors[ctorName] {
		ctorName = "Error"
	}
	obj, err := rt.New(rt.Get(ctorName), rt.ToValue(message))
	if err != nil {
		obj = rt.NewTypeError(message)
	}
	if ctorName != name {
		_ = obj.DefineDataProperty("name", rt.ToValue(name), goja.FLAG_TRUE, goja.FLAG_TRUE, goja.FLAG_FALSE)
	}
	for _, field := range fields {
		val, err := materialize(rt, field.Value)
		if err != nil {
			continue
		}
		_ = obj.Set(field.Key, val)
	}
	return obj
}

// throwable turns a native failure into the value panicked into goja.
func (x *execution) throwable(err error) any {
	var scriptErr *ScriptError
	if errors.As(err, &scriptErr) {
		return newErrorObject(x.rt, scriptErr.Name, scriptErr.Message, scriptErr.Fields)
	}
	var exception *goja.Exception
	if errors.As(err, &exception) {
		return exception
	}
	if isUncatchable(err) {
		return err
	}
	return newErrorObject(x.rt, "Error", err.Error(), nil)
}

// isUncatchable reports interrupts and stack overflows, which must unwind
// the whole program rather than be turned into catchable errors.
func isUncatchable(err error) bool {
	var interrupted *goja.InterruptedError
	var overflow *goja.StackOverflowError
	return errors.As(err, &interrupted) || errors.As(err, &overflow)
}

// bindNative wraps fn as a goja function value. Go panics inside fn are
// rethrown as script errors; goja's own panics pass through untouched. A
// native that returns after the evaluation context is done interrupts the
// program before its next instruction, whatever fn returned.
func (x *execution) bindNative(name string, fn NativeFunc) goja.Value {
	return x.rt.ToValue(func(fc goja.FunctionCall) goja.Value {
		call := &NativeCall{exec: x, name: name, args: fc.Arguments}
		out, err := x.callNative(call, fn)
		if ctxErr := x.ctx.Err(); ctxErr != nil {
			x.rt.Interrupt(ctxErr)
			return goja.Undefined()
		}
		if err != nil {
			panic(x.throwable(err))
		}
		val, err := materialize(x.rt, out)
		if err != nil {
			panic(x.throwable(fmt.Errorf("%s: result: %w", name, err)))
		}
		return val
	})
}

func (x *execution) callNative(call *NativeCall, fn NativeFunc) (out Value, err error) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		switch p := r.(type) {
		case goja.Value, *goja.Exception:
			panic(r)
		case error:
			if isUncatchable(p) {
				panic(r)
			}
			x.engine.logger.Error("native panicked", "native", call.name, "panic", p)
			err = fmt.Errorf("%s: panic: %w", call.name, p)
		default:
			x.engine.logger.Error("native panicked", "native", call.name, "panic", p)
			err = fmt.Errorf("%s: panic: %v", call.name, p)
		}
	}()
	return fn(call)
}

func typeOf(val goja.Value) string {
	switch {
	case val == nil || goja.IsUndefined(val):
		return "undefined"
	case goja.IsNull(val):
		return "object"
	case goja.IsString(val):
		return "string"
	case goja.IsNumber(val):
		return "number"
	case goja.IsBigInt(val):
		return "bigint"
	}
	if _, ok := val.(*goja.Symbol); ok {
		return "symbol"
	}
	if obj, ok := val.(*goja.Object); ok {
		if _, callable := goja.AssertFunction(obj); callable {
			return "function"
		}
		return "object"
	}
	if _, ok := val.Export().(bool); ok {
		return "boolean"
	}
	return "undefined"
}

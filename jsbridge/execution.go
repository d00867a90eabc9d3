package jsbridge

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/dop251/goja"
	"github.com/dop251/goja/parser"
)

// execution is the state of one Evaluate call. Nothing in it outlives the
// call.
type execution struct {
	engine  *Engine
	ctx     context.Context
	rt      *goja.Runtime
	name    string
	source  string
	modules *moduleRegistry
}

// Evaluate runs source as one program in a fresh interpreter and converts its
// completion value. Failures of any kind are reported in Result.Err.
func (e *Engine) Evaluate(ctx context.Context, source string, opts EvalOptions) (result Result) {
	if ctx == nil {
		ctx = context.Background()
	}
	if e.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.config.Timeout)
		defer cancel()
	}

	name := opts.Name
	if name == "" {
		name = defaultScriptName
	}

	started := time.Now()
	defer func() {
		if r := recover(); r != nil {
			result = Result{Err: &EvalError{Kind: ErrorKindInternal, Type: "InternalError", Message: fmt.Sprint(r)}}
		}
		if result.Err != nil {
			e.logger.Debug("evaluation failed",
				"script", name,
				"kind", result.Err.Kind.String(),
				"error", result.Err.Description(),
				"duration", time.Since(started),
			)
		}
	}()

	prg, compileErr := compileProgram(name, source)
	if compileErr != nil {
		return Result{Err: compileErr}
	}

	x := e.newExecution(ctx, name, source)
	if evalErr := x.install(opts); evalErr != nil {
		return Result{Err: evalErr}
	}

	stop := context.AfterFunc(ctx, func() {
		x.rt.Interrupt(ctx.Err())
	})
	defer stop()

	completion, err := x.rt.RunProgram(prg)
	if err != nil {
		return Result{Err: x.describe(runtimeError(err))}
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return Result{Err: interruptedError(ctxErr)}
	}

	value, evalErr := x.exportCompletion(completion)
	if evalErr != nil {
		return Result{Err: evalErr}
	}
	return Result{Value: value}
}

func (e *Engine) newExecution(ctx context.Context, name, source string) *execution {
	rt := goja.New()
	rt.SetMaxCallStackSize(e.config.MaxCallStackSize)
	x := &execution{
		engine: e,
		ctx:    ctx,
		rt:     rt,
		name:   name,
		source: source,
	}
	x.modules = newModuleRegistry(x)
	return x
}

// install registers require, globals and natives. Natives are installed last
// so a global cannot shadow one.
func (x *execution) install(opts EvalOptions) *EvalError {
	if err := x.rt.Set("require", x.modules.requireFunc()); err != nil {
		return setupError(err)
	}

	for _, name := range sortedKeys(opts.Globals) {
		if name == "" {
			return setupError(errors.New("global name cannot be empty"))
		}
		val, err := materialize(x.rt, opts.Globals[name])
		if err != nil {
			return setupError(fmt.Errorf("global %s: %w", name, err))
		}
		if err := x.rt.Set(name, val); err != nil {
			return setupError(fmt.Errorf("global %s: %w", name, err))
		}
	}

	for _, name := range sortedKeys(opts.Natives) {
		fn := opts.Natives[name]
		if name == "" || fn == nil {
			return setupError(fmt.Errorf("native %q is empty", name))
		}
		if err := x.rt.Set(name, x.bindNative(name, fn)); err != nil {
			return setupError(fmt.Errorf("native %s: %w", name, err))
		}
	}
	return nil
}

// exportCompletion converts the program's completion value. Getters and
// toJSON methods may throw while doing so.
func (x *execution) exportCompletion(completion goja.Value) (value Value, evalErr *EvalError) {
	var convErr error
	exception := x.tryUncatchable(func() {
		value, convErr = exportValue(x.ctx, x.rt, completion)
	}, &evalErr)
	if evalErr != nil {
		return Value{}, evalErr
	}
	if exception != nil {
		return Value{}, x.describe(runtimeError(exception))
	}
	if convErr != nil {
		if ctxErr := x.ctx.Err(); ctxErr != nil {
			return Value{}, interruptedError(ctxErr)
		}
		return Value{}, conversionEvalError(convErr)
	}
	return value, nil
}

// tryUncatchable is Runtime.Try that also captures interrupts raised while f
// runs script code.
func (x *execution) tryUncatchable(f func(), out **EvalError) (exception *goja.Exception) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		if err, ok := r.(error); ok && isUncatchable(err) {
			*out = runtimeError(err)
			return
		}
		panic(r)
	}()
	return x.rt.Try(f)
}

// describe attaches a code frame for the innermost frame of the main program.
func (x *execution) describe(evalErr *EvalError) *EvalError {
	if evalErr.CodeFrame != "" {
		return evalErr
	}
	for _, frame := range evalErr.Frames {
		if frame.Source == x.name && frame.Line > 0 {
			evalErr.CodeFrame = formatCodeFrame(x.source, frame.Line, frame.Column)
			break
		}
	}
	return evalErr
}

func compileProgram(name, source string) (*goja.Program, *EvalError) {
	program, err := parser.ParseFile(nil, name, source, 0)
	if err != nil {
		return nil, compileError(source, err)
	}
	prg, err := goja.CompileAST(program, false)
	if err != nil {
		return nil, compileError(source, err)
	}
	return prg, nil
}

func setupError(err error) *EvalError {
	return &EvalError{Kind: ErrorKindSetup, Type: "SetupError", Message: err.Error()}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

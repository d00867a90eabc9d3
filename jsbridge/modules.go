package jsbridge

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"

	"github.com/dop251/goja"
)

// ModuleLoader resolves a require() specifier to module source. A loader
// reports found=false for unknown modules; err is reserved for lookups that
// failed.
type ModuleLoader interface {
	Resolve(ctx context.Context, specifier string) (source string, found bool, err error)
}

// NoopModuleLoader resolves nothing, so every require() throws a
// ReferenceError.
type NoopModuleLoader struct{}

func (NoopModuleLoader) Resolve(context.Context, string) (string, bool, error) {
	return "", false, nil
}

// MapModuleLoader serves modules from memory, keyed by normalized name
// ("lib/util" for require("./lib/util.js")).
type MapModuleLoader map[string]string

func (m MapModuleLoader) Resolve(_ context.Context, specifier string) (string, bool, error) {
	source, ok := m[normalizeModuleName(specifier)]
	return source, ok, nil
}

// DirModuleLoader reads NAME.js from the first root that has it.
type DirModuleLoader struct {
	roots []string
}

func NewDirModuleLoader(roots ...string) (*DirModuleLoader, error) {
	cleaned := make([]string, 0, len(roots))
	for _, root := range roots {
		if strings.TrimSpace(root) == "" {
			return nil, fmt.Errorf("jsbridge: module path cannot be empty")
		}
		info, err := os.Stat(root)
		if err != nil {
			return nil, fmt.Errorf("jsbridge: module path %q: %w", root, err)
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("jsbridge: module path %q is not a directory", root)
		}
		cleaned = append(cleaned, filepath.Clean(root))
	}
	return &DirModuleLoader{roots: cleaned}, nil
}

func (l *DirModuleLoader) Resolve(_ context.Context, specifier string) (string, bool, error) {
	name := normalizeModuleName(specifier)
	if name == "" || path.IsAbs(name) || slices.Contains(strings.Split(name, "/"), "..") {
		return "", false, fmt.Errorf("module name %q escapes search paths", specifier)
	}
	for _, root := range l.roots {
		data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(name)+".js"))
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return "", false, err
		}
		return string(data), true, nil
	}
	return "", false, nil
}

// moduleRegistry holds the CommonJS module objects of one evaluation. A
// module is cached before its body runs, so a cyclic require observes the
// partially populated exports.
type moduleRegistry struct {
	exec    *execution
	modules map[string]*goja.Object
}

func newModuleRegistry(x *execution) *moduleRegistry {
	return &moduleRegistry{exec: x, modules: make(map[string]*goja.Object)}
}

func (m *moduleRegistry) requireFunc() goja.Value {
	return m.exec.rt.ToValue(func(fc goja.FunctionCall) goja.Value {
		return m.require(fc.Argument(0))
	})
}

func (m *moduleRegistry) require(arg goja.Value) goja.Value {
	x := m.exec
	rt := x.rt
	if !goja.IsString(arg) {
		panic(newErrorObject(rt, "TypeError", fmt.Sprintf("require: module name must be a string, got %s", typeOf(arg)), nil))
	}
	specifier := arg.String()
	name := normalizeModuleName(specifier)
	if name == "" {
		panic(newErrorObject(rt, "TypeError", "require: module name must be non-empty", nil))
	}

	if module, ok := m.modules[name]; ok {
		return module.Get("exports")
	}

	if err := x.engine.enforceModulePolicy(name); err != nil {
		panic(newErrorObject(rt, "Error", err.Error(), nil))
	}

	source, found, err := x.engine.config.ModuleLoader.Resolve(x.ctx, specifier)
	if err != nil {
		panic(newErrorObject(rt, "Error", fmt.Sprintf("require: module %q: %v", name, err), nil))
	}
	if !found {
		panic(newErrorObject(rt, "ReferenceError", fmt.Sprintf("require: module %q not found", name), nil))
	}

	prg, err := goja.Compile(name+".js", "(function (exports, require, module) {"+source+"\n})", false)
	if err != nil {
		evalErr := compileError(source, err)
		panic(newErrorObject(rt, "SyntaxError", fmt.Sprintf("require: module %q: %s", name, evalErr.Message), nil))
	}
	wrapper, err := rt.RunProgram(prg)
	if err != nil {
		panic(err)
	}
	fn, ok := goja.AssertFunction(wrapper)
	if !ok {
		panic(newErrorObject(rt, "Error", fmt.Sprintf("require: module %q did not compile to a function", name), nil))
	}

	exports := rt.NewObject()
	module := rt.NewObject()
	_ = module.Set("id", name)
	_ = module.Set("exports", exports)
	m.modules[name] = module

	x.engine.logger.Debug("module loaded", "module", name)
	if _, err := fn(goja.Undefined(), exports, m.requireFunc(), module); err != nil {
		delete(m.modules, name)
		panic(err)
	}
	return module.Get("exports")
}

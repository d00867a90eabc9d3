package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/mattn/go-sqlite3"

	"github.com/mgomes/jsbridge/dispatch"
	"github.com/mgomes/jsbridge/jsbridge"
)

// hostOptions are the flags shared by run and repl.
type hostOptions struct {
	fixtures    string
	sqlDriver   string
	sqlDSN      string
	sqlName     string
	failureMode string
	timeout     time.Duration
	modulePaths pathList
	logLevel    string
}

func (o *hostOptions) register(fs *flag.FlagSet) {
	fs.StringVar(&o.fixtures, "fixtures", "", "TOML fixture file answering capability calls")
	fs.StringVar(&o.sqlDriver, "sql-driver", "", "database driver (sqlite3 or mysql)")
	fs.StringVar(&o.sqlDSN, "sql-dsn", "", "database data source name")
	fs.StringVar(&o.sqlName, "sql-name", "sql", "capability identifier for the database")
	fs.StringVar(&o.failureMode, "failure-mode", "value", "capability failure mode (value or exception)")
	fs.DurationVar(&o.timeout, "timeout", 0, "evaluation timeout")
	fs.Var(&o.modulePaths, "module-path", "add a module search directory (repeatable)")
	fs.StringVar(&o.logLevel, "log-level", "warn", "log level (debug, info, warn, error)")
}

type host struct {
	engine *jsbridge.Engine
	mux    *dispatch.Mux
	sql    *dispatch.SQL
	logger *slog.Logger
}

// build wires the engine and dispatchers. baseDir is searched for modules
// before any -module-path directory.
func (o *hostOptions) build(ctx context.Context, baseDir string, logOut io.Writer) (*host, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(o.logLevel)); err != nil {
		return nil, fmt.Errorf("invalid log level %q", o.logLevel)
	}
	logger := slog.New(slog.NewTextHandler(logOut, &slog.HandlerOptions{Level: level}))

	mode, err := jsbridge.ParseFailureMode(o.failureMode)
	if err != nil {
		return nil, err
	}
	moduleDirs, err := computeModulePaths(baseDir, o.modulePaths)
	if err != nil {
		return nil, err
	}
	loader, err := jsbridge.NewDirModuleLoader(moduleDirs...)
	if err != nil {
		return nil, err
	}
	engine, err := jsbridge.NewEngine(jsbridge.Config{
		Timeout:      o.timeout,
		FailureMode:  mode,
		ModuleLoader: loader,
		Logger:       logger,
	})
	if err != nil {
		return nil, err
	}

	h := &host{engine: engine, mux: dispatch.NewMux(), logger: logger}
	if o.fixtures != "" {
		fixtures, err := dispatch.LoadFixtures(o.fixtures, logger)
		if err != nil {
			return nil, err
		}
		h.mux.HandleDefault(fixtures)
	}
	if o.sqlDriver != "" || o.sqlDSN != "" {
		if o.sqlDriver == "" || o.sqlDSN == "" {
			return nil, errors.New("-sql-driver and -sql-dsn must be set together")
		}
		if strings.TrimSpace(o.sqlName) == "" {
			return nil, errors.New("-sql-name cannot be empty")
		}
		db, err := dispatch.OpenSQL(ctx, o.sqlDriver, o.sqlDSN, logger)
		if err != nil {
			return nil, err
		}
		h.sql = db
		h.mux.Handle(o.sqlName, db)
	}
	logger.Debug("host ready", "capabilities", h.mux.Identifiers(), "module_paths", moduleDirs)
	return h, nil
}

func (h *host) evaluate(ctx context.Context, source, name string, globals map[string]jsbridge.Value) jsbridge.Result {
	bridgeName := h.engine.Config().BridgeName
	return h.engine.Evaluate(ctx, source, jsbridge.EvalOptions{
		Name:    name,
		Globals: globals,
		Natives: map[string]jsbridge.NativeFunc{bridgeName: h.engine.CallBridge(h.mux)},
	})
}

func (h *host) Close() error {
	if h.sql == nil {
		return nil
	}
	return h.sql.Close()
}

type pathList []string

func (l *pathList) String() string {
	return strings.Join(*l, string(os.PathListSeparator))
}

func (l *pathList) Set(value string) error {
	*l = append(*l, value)
	return nil
}

func computeModulePaths(baseDir string, extras []string) ([]string, error) {
	seen := make(map[string]struct{})
	var dirs []string
	addPath := func(label, p string) error {
		abs, err := filepath.Abs(p)
		if err != nil {
			return fmt.Errorf("resolve %s %q: %w", label, p, err)
		}
		info, err := os.Stat(abs)
		if err != nil {
			return fmt.Errorf("access %s %q: %w", label, abs, err)
		}
		if !info.IsDir() {
			return fmt.Errorf("%s %q is not a directory", label, abs)
		}
		if _, ok := seen[abs]; ok {
			return nil
		}
		seen[abs] = struct{}{}
		dirs = append(dirs, abs)
		return nil
	}
	if err := addPath("script directory", baseDir); err != nil {
		return nil, err
	}
	for _, extra := range extras {
		if err := addPath("module path", extra); err != nil {
			return nil, err
		}
	}
	return dirs, nil
}

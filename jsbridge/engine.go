package jsbridge

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strings"
	"time"
)

// FailureMode selects how a failed capability call reaches script code.
type FailureMode int

const (
	// FailureAsValue returns the failure text as an ordinary string.
	FailureAsValue FailureMode = iota
	// FailureAsException throws a catchable CapabilityError.
	FailureAsException
)

func (m FailureMode) String() string {
	switch m {
	case FailureAsException:
		return "exception"
	default:
		return "value"
	}
}

// ParseFailureMode accepts "value" or "exception".
func ParseFailureMode(s string) (FailureMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "value":
		return FailureAsValue, nil
	case "exception":
		return FailureAsException, nil
	default:
		return FailureAsValue, fmt.Errorf("jsbridge: unknown failure mode %q", s)
	}
}

const (
	DefaultBridgeName       = "subinvoke"
	defaultMaxCallStackSize = 1024
	defaultScriptName       = "main.js"
)

var identifierPattern = regexp.MustCompile(`^[A-Za-z_$][A-Za-z0-9_$]*$`)

type Config struct {
	MaxCallStackSize    int
	Timeout             time.Duration
	ModuleLoader        ModuleLoader
	ModuleAllowList     []string
	ModuleDenyList      []string
	CapabilityAllowList []string
	CapabilityDenyList  []string
	FailureMode         FailureMode
	BridgeName          string
	Logger              *slog.Logger
}

// Engine evaluates scripts. It holds only configuration, so one Engine may
// serve concurrent evaluations.
type Engine struct {
	config Config
	logger *slog.Logger
}

// NewEngine applies defaults to cfg and validates it.
func NewEngine(cfg Config) (*Engine, error) {
	if cfg.MaxCallStackSize <= 0 {
		cfg.MaxCallStackSize = defaultMaxCallStackSize
	}
	if cfg.ModuleLoader == nil {
		cfg.ModuleLoader = NoopModuleLoader{}
	}
	if cfg.BridgeName == "" {
		cfg.BridgeName = DefaultBridgeName
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.Timeout < 0 {
		return nil, fmt.Errorf("jsbridge: timeout must be non-negative")
	}
	if !identifierPattern.MatchString(cfg.BridgeName) {
		return nil, fmt.Errorf("jsbridge: bridge name %q is not a valid identifier", cfg.BridgeName)
	}
	if cfg.FailureMode != FailureAsValue && cfg.FailureMode != FailureAsException {
		return nil, fmt.Errorf("jsbridge: unknown failure mode %d", cfg.FailureMode)
	}

	if err := validatePolicyPatterns(cfg.ModuleAllowList, "module", "allow", normalizeModulePolicyPattern); err != nil {
		return nil, err
	}
	if err := validatePolicyPatterns(cfg.ModuleDenyList, "module", "deny", normalizeModulePolicyPattern); err != nil {
		return nil, err
	}
	if err := validatePolicyPatterns(cfg.CapabilityAllowList, "capability", "allow", strings.TrimSpace); err != nil {
		return nil, err
	}
	if err := validatePolicyPatterns(cfg.CapabilityDenyList, "capability", "deny", strings.TrimSpace); err != nil {
		return nil, err
	}

	return &Engine{config: cfg, logger: cfg.Logger}, nil
}

// MustNewEngine is NewEngine that panics on invalid configuration.
func MustNewEngine(cfg Config) *Engine {
	engine, err := NewEngine(cfg)
	if err != nil {
		panic(err)
	}
	return engine
}

// Config returns the configuration with defaults applied.
func (e *Engine) Config() Config { return e.config }

// EvalOptions configures a single evaluation.
type EvalOptions struct {
	// Natives are registered as global functions.
	Natives map[string]NativeFunc
	// Globals are materialized as global values before the program runs.
	Globals map[string]Value
	// Name labels the program in stack frames. Defaults to main.js.
	Name string
}

// Run evaluates source with the call bridge to d registered under the
// configured bridge name.
func (e *Engine) Run(ctx context.Context, source string, d Dispatcher) Result {
	return e.Evaluate(ctx, source, EvalOptions{
		Natives: map[string]NativeFunc{e.config.BridgeName: e.CallBridge(d)},
	})
}

// CallBridge returns the bridge native for d configured from the engine:
// failure mode, capability policy and logger.
func (e *Engine) CallBridge(d Dispatcher) NativeFunc {
	return NewCallBridge(d, BridgeOptions{
		FailureMode: e.config.FailureMode,
		AllowList:   e.config.CapabilityAllowList,
		DenyList:    e.config.CapabilityDenyList,
		Logger:      e.logger,
	})
}

// Check parses and compiles source without running it.
func (e *Engine) Check(source string) error {
	if _, evalErr := compileProgram(defaultScriptName, source); evalErr != nil {
		return evalErr
	}
	return nil
}

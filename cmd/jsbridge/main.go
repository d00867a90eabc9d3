package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/mgomes/jsbridge/jsbridge"
)

func main() {
	if err := runCLI(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runCLI(args []string) error {
	if len(args) < 2 {
		return usageError()
	}
	switch args[1] {
	case "run":
		return runCommand(args[2:])
	case "check":
		return checkCommand(args[2:])
	case "repl":
		return replCommand(args[2:])
	case "help", "-h", "--help":
		printUsage()
		return nil
	default:
		return usageError()
	}
}

func runCommand(args []string) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.SetOutput(new(flagErrorSink))
	var opts hostOptions
	opts.register(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	remaining := fs.Args()
	if len(remaining) == 0 {
		return errors.New("jsbridge run: script path required")
	}
	scriptPath, input, err := readScript(remaining[0])
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	h, err := opts.build(ctx, filepath.Dir(scriptPath), os.Stderr)
	if err != nil {
		return err
	}
	defer h.Close()

	scriptArgs := make([]jsbridge.Value, len(remaining)-1)
	for i, raw := range remaining[1:] {
		scriptArgs[i] = jsbridge.NewString(raw)
	}
	res := h.evaluate(ctx, input, filepath.Base(scriptPath), map[string]jsbridge.Value{
		"args": jsbridge.NewSequence(scriptArgs),
	})
	doc, err := res.Document()
	if err != nil {
		return fmt.Errorf("format result: %w", err)
	}
	fmt.Println(doc)
	if res.Err != nil {
		return fmt.Errorf("execution failed: %w", res.Err)
	}
	return nil
}

func checkCommand(args []string) error {
	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	fs.SetOutput(new(flagErrorSink))
	if err := fs.Parse(args); err != nil {
		return err
	}
	remaining := fs.Args()
	if len(remaining) == 0 {
		return errors.New("jsbridge check: script path required")
	}
	_, input, err := readScript(remaining[0])
	if err != nil {
		return err
	}
	engine, err := jsbridge.NewEngine(jsbridge.Config{})
	if err != nil {
		return err
	}
	if err := engine.Check(input); err != nil {
		return fmt.Errorf("compile failed: %w", err)
	}
	return nil
}

func readScript(path string) (string, string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", "", fmt.Errorf("resolve script path: %w", err)
	}
	input, err := os.ReadFile(abs)
	if err != nil {
		return "", "", fmt.Errorf("read script: %w", err)
	}
	return abs, string(input), nil
}

func usageError() error {
	printUsage()
	return errors.New("invalid command")
}

func printUsage() {
	prog := filepath.Base(os.Args[0])
	fmt.Fprintf(os.Stderr, "Usage: %s run [flags] <script> [args...]\n", prog)
	fmt.Fprintf(os.Stderr, "       %s check <script>\n", prog)
	fmt.Fprintf(os.Stderr, "       %s repl [flags]\n", prog)
	fmt.Fprintln(os.Stderr, "Flags:")
	fmt.Fprintln(os.Stderr, "  -fixtures <file>")
	fmt.Fprintln(os.Stderr, "    serve capability calls from a TOML fixture file")
	fmt.Fprintln(os.Stderr, "  -sql-driver <name>, -sql-dsn <dsn>")
	fmt.Fprintln(os.Stderr, "    expose a database (sqlite3 or mysql) as a capability")
	fmt.Fprintln(os.Stderr, "  -sql-name <identifier>")
	fmt.Fprintln(os.Stderr, "    capability identifier for the database (default \"sql\")")
	fmt.Fprintln(os.Stderr, "  -failure-mode value|exception")
	fmt.Fprintln(os.Stderr, "    how failed capability calls reach the script (default \"value\")")
	fmt.Fprintln(os.Stderr, "  -timeout <duration>")
	fmt.Fprintln(os.Stderr, "    interrupt evaluation after the duration")
	fmt.Fprintln(os.Stderr, "  -module-path <dir>")
	fmt.Fprintln(os.Stderr, "    add a directory to module search paths (repeatable)")
	fmt.Fprintln(os.Stderr, "  -log-level debug|info|warn|error")
	fmt.Fprintln(os.Stderr, "    log level for stderr output (default \"warn\")")
}

type flagErrorSink struct{}

func (flagErrorSink) Write(p []byte) (int, error) {
	return len(p), nil
}

package jsbridge

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/dop251/goja"
	"github.com/dop251/goja/parser"
)

// ErrorKind classifies why an evaluation failed.
type ErrorKind int

const (
	ErrorKindInternal ErrorKind = iota
	ErrorKindSyntax
	ErrorKindRuntime
	ErrorKindConversion
	ErrorKindInterrupted
	ErrorKindStackOverflow
	ErrorKindSetup
)

func (k ErrorKind) String() string {
	switch k {
	case ErrorKindSyntax:
		return "syntax"
	case ErrorKindRuntime:
		return "runtime"
	case ErrorKindConversion:
		return "conversion"
	case ErrorKindInterrupted:
		return "interrupted"
	case ErrorKindStackOverflow:
		return "stack overflow"
	case ErrorKindSetup:
		return "setup"
	default:
		return "internal"
	}
}

// StackFrame is one script frame captured when an evaluation failed.
type StackFrame struct {
	Function string
	Source   string
	Line     int
	Column   int
}

// EvalError describes a failed evaluation. Type carries the interpreter's own
// classification (ReferenceError, SyntaxError, ...) when there is one.
type EvalError struct {
	Kind      ErrorKind
	Type      string
	Message   string
	CodeFrame string
	Frames    []StackFrame
}

const (
	evalErrorFrameHead = 8
	evalErrorFrameTail = 8
)

// Description renders the single-line "Type: Message" form used as the
// error field of a Result.
func (e *EvalError) Description() string {
	if e.Type == "" {
		return e.Message
	}
	if e.Message == "" {
		return e.Type
	}
	return e.Type + ": " + e.Message
}

func (e *EvalError) Error() string {
	var b strings.Builder
	b.WriteString(e.Description())
	if e.CodeFrame != "" {
		b.WriteString("\n")
		b.WriteString(e.CodeFrame)
	}
	renderFrame := func(frame StackFrame) {
		name := frame.Function
		if name == "" {
			name = "<anonymous>"
		}
		switch {
		case frame.Line > 0 && frame.Column > 0:
			fmt.Fprintf(&b, "\n  at %s (%s:%d:%d)", name, frame.Source, frame.Line, frame.Column)
		case frame.Line > 0:
			fmt.Fprintf(&b, "\n  at %s (%s line %d)", name, frame.Source, frame.Line)
		default:
			fmt.Fprintf(&b, "\n  at %s", name)
		}
	}

	if len(e.Frames) <= evalErrorFrameHead+evalErrorFrameTail {
		for _, frame := range e.Frames {
			renderFrame(frame)
		}
		return b.String()
	}

	for _, frame := range e.Frames[:evalErrorFrameHead] {
		renderFrame(frame)
	}
	omitted := len(e.Frames) - (evalErrorFrameHead + evalErrorFrameTail)
	fmt.Fprintf(&b, "\n  ... %d frames omitted ...", omitted)
	for _, frame := range e.Frames[len(e.Frames)-evalErrorFrameTail:] {
		renderFrame(frame)
	}
	return b.String()
}

func formatCodeFrame(source string, line, column int) string {
	if source == "" || line <= 0 {
		return ""
	}

	lines := strings.Split(source, "\n")
	if line > len(lines) {
		return ""
	}

	lineText := strings.TrimRight(lines[line-1], "\r")
	lineRunes := []rune(lineText)

	if column <= 0 {
		column = 1
	}
	if column > len(lineRunes)+1 {
		column = len(lineRunes) + 1
	}

	lineLabel := strconv.Itoa(line)
	gutterPad := strings.Repeat(" ", len(lineLabel))
	caretPad := strings.Repeat(" ", column-1)

	return fmt.Sprintf(
		"  --> line %d, column %d\n %s | %s\n %s | %s^",
		line,
		column,
		lineLabel,
		lineText,
		gutterPad,
		caretPad,
	)
}

// compileError converts parser and compiler failures into an EvalError with a
// code frame pointing at the offending token.
func compileError(source string, err error) *EvalError {
	var list parser.ErrorList
	if errors.As(err, &list) && len(list) > 0 {
		first := list[0]
		return &EvalError{
			Kind:      ErrorKindSyntax,
			Type:      "SyntaxError",
			Message:   first.Message,
			CodeFrame: formatCodeFrame(source, first.Position.Line, first.Position.Column),
		}
	}
	var single *parser.Error
	if errors.As(err, &single) {
		return &EvalError{
			Kind:      ErrorKindSyntax,
			Type:      "SyntaxError",
			Message:   single.Message,
			CodeFrame: formatCodeFrame(source, single.Position.Line, single.Position.Column),
		}
	}

	var syntaxErr *goja.CompilerSyntaxError
	if errors.As(err, &syntaxErr) {
		out := &EvalError{Kind: ErrorKindSyntax, Type: "SyntaxError", Message: syntaxErr.Message}
		if syntaxErr.File != nil {
			pos := syntaxErr.File.Position(syntaxErr.Offset)
			out.CodeFrame = formatCodeFrame(source, pos.Line, pos.Column)
		}
		return out
	}
	var refErr *goja.CompilerReferenceError
	if errors.As(err, &refErr) {
		out := &EvalError{Kind: ErrorKindSyntax, Type: "ReferenceError", Message: refErr.Message}
		if refErr.File != nil {
			pos := refErr.File.Position(refErr.Offset)
			out.CodeFrame = formatCodeFrame(source, pos.Line, pos.Column)
		}
		return out
	}
	return &EvalError{Kind: ErrorKindSyntax, Type: "SyntaxError", Message: err.Error()}
}

// interruptedError reports a program stopped by its context outside the
// interpreter loop, e.g. while converting a value.
func interruptedError(cause error) *EvalError {
	return &EvalError{
		Kind:    ErrorKindInterrupted,
		Type:    "InterruptedError",
		Message: fmt.Sprintf("execution interrupted: %v", cause),
	}
}

// runtimeError converts an error returned by goja while running a program.
func runtimeError(err error) *EvalError {
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		reason := "execution interrupted"
		if v := interrupted.Value(); v != nil {
			reason = fmt.Sprintf("execution interrupted: %v", v)
		}
		return &EvalError{
			Kind:    ErrorKindInterrupted,
			Type:    "InterruptedError",
			Message: reason,
			Frames:  convertFrames(interrupted.Stack()),
		}
	}

	var overflow *goja.StackOverflowError
	if errors.As(err, &overflow) {
		return &EvalError{
			Kind:    ErrorKindStackOverflow,
			Type:    "RangeError",
			Message: "Maximum call stack size exceeded",
			Frames:  convertFrames(overflow.Stack()),
		}
	}

	var exception *goja.Exception
	if errors.As(err, &exception) {
		typ, msg := describeThrown(exception.Value())
		return &EvalError{
			Kind:    ErrorKindRuntime,
			Type:    typ,
			Message: msg,
			Frames:  convertFrames(exception.Stack()),
		}
	}

	return &EvalError{Kind: ErrorKindInternal, Type: "InternalError", Message: err.Error()}
}

// describeThrown splits a thrown value into the classification and message
// the interpreter itself would print for it.
func describeThrown(val goja.Value) (string, string) {
	if val == nil || goja.IsUndefined(val) {
		return "", "undefined"
	}
	obj, ok := val.(*goja.Object)
	if !ok {
		return "", val.String()
	}
	name, hasName := stringProperty(obj, "name")
	msg, hasMsg := stringProperty(obj, "message")
	if hasName && hasMsg {
		return name, msg
	}
	return "", safeString(obj)
}

func stringProperty(obj *goja.Object, key string) (string, bool) {
	var out string
	var ok bool
	func() {
		defer func() {
			if recover() != nil {
				ok = false
			}
		}()
		v := obj.Get(key)
		if v != nil && goja.IsString(v) {
			out, ok = v.String(), true
		}
	}()
	return out, ok
}

func safeString(val goja.Value) (text string) {
	defer func() {
		if recover() != nil {
			text = "[object]"
		}
	}()
	return val.String()
}

func convertFrames(frames []goja.StackFrame) []StackFrame {
	if len(frames) == 0 {
		return nil
	}
	out := make([]StackFrame, 0, len(frames))
	for i := range frames {
		frame := &frames[i]
		pos := frame.Position()
		out = append(out, StackFrame{
			Function: frame.FuncName(),
			Source:   frame.SrcName(),
			Line:     pos.Line,
			Column:   pos.Column,
		})
	}
	return out
}

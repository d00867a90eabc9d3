package main

import (
	"context"
	"io"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/mgomes/jsbridge/jsbridge"
)

func newTestREPL(t *testing.T) replModel {
	t.Helper()
	opts := hostOptions{sqlName: "sql", failureMode: "value", logLevel: "warn"}
	h, err := opts.build(context.Background(), t.TempDir(), io.Discard)
	if err != nil {
		t.Fatalf("build host: %v", err)
	}
	t.Cleanup(func() { h.Close() })
	return newREPLModel(h)
}

func TestUpdateQuitCommandReturnsQuit(t *testing.T) {
	m := newTestREPL(t)
	m.input.SetValue(":quit")

	model, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	rm, ok := model.(replModel)
	if !ok {
		t.Fatalf("unexpected model type %T", model)
	}

	if !rm.quitting {
		t.Fatalf("quitting flag not set")
	}
	if rm.input.Value() != "" {
		t.Fatalf("input not cleared after quit command")
	}
	if cmd == nil {
		t.Fatalf("expected tea.Quit command")
	}
	if msg := cmd(); msg != nil {
		if _, ok := msg.(tea.QuitMsg); !ok {
			t.Fatalf("expected QuitMsg, got %T", msg)
		}
	}
}

func TestUpdateNonQuitCommandDoesNotReturnCmd(t *testing.T) {
	m := newTestREPL(t)
	m.input.SetValue(":help")

	model, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	rm, ok := model.(replModel)
	if !ok {
		t.Fatalf("unexpected model type %T", model)
	}

	if cmd != nil {
		t.Fatalf("expected no command for non-quit input")
	}
	if rm.quitting {
		t.Fatalf("quitting should remain false")
	}
	if !rm.help.ShowAll {
		t.Fatalf("help toggle should be enabled")
	}
	if rm.input.Value() != "" {
		t.Fatalf("input not cleared after command")
	}
}

func TestEvaluateCarriesAssignmentsForward(t *testing.T) {
	m := newTestREPL(t)

	output, isErr := m.evaluate("let score = 40")
	if isErr {
		t.Fatalf("unexpected eval error: %s", output)
	}
	if output != "40" {
		t.Fatalf("unexpected output %q", output)
	}

	output, isErr = m.evaluate("score + 2")
	if isErr {
		t.Fatalf("unexpected eval error: %s", output)
	}
	if output != "42" {
		t.Fatalf("expected carried global, got %q", output)
	}
	if last := m.env["_"]; !last.Equal(jsbridge.NewInt(42)) {
		t.Fatalf("expected _ to hold the last value, got %s", last)
	}
}

func TestEvaluateEqualityDoesNotOverwriteVariable(t *testing.T) {
	m := newTestREPL(t)
	m.env["a"] = jsbridge.NewInt(5)

	output, isErr := m.evaluate("a == 5")
	if isErr {
		t.Fatalf("unexpected eval error: %s", output)
	}

	if a := m.env["a"]; !a.Equal(jsbridge.NewInt(5)) {
		t.Fatalf("variable a was clobbered by equality expression: %s", a)
	}
}

func TestEvaluateReportsErrors(t *testing.T) {
	m := newTestREPL(t)
	output, isErr := m.evaluate("missing + 1")
	if !isErr || !strings.Contains(output, "ReferenceError") {
		t.Fatalf("expected ReferenceError, got %q", output)
	}
	output, isErr = m.evaluate("subinvoke('svc', 'm', null)")
	if isErr || output != `capability "svc" is not registered` {
		t.Fatalf("unexpected bridge output %q", output)
	}
}

func TestResetClearsGlobals(t *testing.T) {
	m := newTestREPL(t)
	if _, isErr := m.evaluate("x = 1"); isErr {
		t.Fatalf("unexpected eval error")
	}
	m, _ = m.handleCommand(":reset")
	if len(m.env) != 0 {
		t.Fatalf("expected empty environment after reset, got %d entries", len(m.env))
	}
}

func TestSubmitRecordsKindAndRecall(t *testing.T) {
	m := newTestREPL(t)
	m.input.SetValue("[1, 2]")
	model, _ := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	m = model.(replModel)

	if len(m.transcript) != 1 {
		t.Fatalf("expected one transcript line, got %d", len(m.transcript))
	}
	if got := m.transcript[0]; got.failed || got.kind != jsbridge.KindSequence {
		t.Fatalf("unexpected transcript line %+v", got)
	}

	model, _ = m.Update(tea.KeyMsg{Type: tea.KeyUp})
	m = model.(replModel)
	if m.input.Value() != "[1, 2]" {
		t.Fatalf("expected recalled input, got %q", m.input.Value())
	}
	model, _ = m.Update(tea.KeyMsg{Type: tea.KeyDown})
	m = model.(replModel)
	if m.input.Value() != "" {
		t.Fatalf("expected input cleared past newest entry, got %q", m.input.Value())
	}
}

func TestCompleteExtendsToSharedPrefix(t *testing.T) {
	m := newTestREPL(t)
	m.env["total"] = jsbridge.NewInt(1)
	m.env["totals"] = jsbridge.NewInt(2)

	m.input.SetValue("1 + tot")
	m = m.complete()
	if m.input.Value() != "1 + total" {
		t.Fatalf("unexpected completion %q", m.input.Value())
	}
	if n := len(m.transcript); n != 1 || m.transcript[0].output != "total  totals" {
		t.Fatalf("expected candidate list, got %+v", m.transcript)
	}

	m.input.SetValue("subi")
	m = m.complete()
	if m.input.Value() != "subinvoke" {
		t.Fatalf("expected bridge name completion, got %q", m.input.Value())
	}
}

func TestUnknownCommandIsReported(t *testing.T) {
	m := newTestREPL(t)
	m, cmd := m.handleCommand(":frobnicate")
	if cmd != nil {
		t.Fatalf("unexpected command for unknown input")
	}
	if len(m.transcript) != 1 || !m.transcript[0].failed || !strings.Contains(m.transcript[0].output, ":frobnicate") {
		t.Fatalf("unexpected transcript %+v", m.transcript)
	}
}

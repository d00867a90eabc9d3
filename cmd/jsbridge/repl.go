package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"maps"
	"os"
	"regexp"
	"slices"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mgomes/jsbridge/jsbridge"
)

var (
	accent = lipgloss.Color("#3B82F6")
	muted  = lipgloss.Color("#6B7280")

	titleStyle  = lipgloss.NewStyle().Foreground(accent).Bold(true)
	promptStyle = lipgloss.NewStyle().Foreground(accent).Bold(true)
	echoStyle   = lipgloss.NewStyle().Foreground(muted)
	valueStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#10B981"))
	kindStyle   = lipgloss.NewStyle().Foreground(muted).Italic(true)
	failStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#EF4444"))
	noteStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#F59E0B"))
	panelStyle  = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(accent).
			Padding(0, 1)
)

// replKeys implements help.KeyMap so the footer and the full help screen are
// rendered from the same bindings that Update matches.
type replKeys struct {
	Submit   key.Binding
	Prev     key.Binding
	Next     key.Binding
	Complete key.Binding
	Vars     key.Binding
	Help     key.Binding
	Clear    key.Binding
	Quit     key.Binding
}

func (k replKeys) ShortHelp() []key.Binding {
	return []key.Binding{k.Help, k.Vars, k.Clear, k.Quit}
}

func (k replKeys) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Submit, k.Prev, k.Next, k.Complete},
		{k.Vars, k.Clear, k.Help, k.Quit},
	}
}

var keys = replKeys{
	Submit:   key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "evaluate")),
	Prev:     key.NewBinding(key.WithKeys("up"), key.WithHelp("↑", "previous input")),
	Next:     key.NewBinding(key.WithKeys("down"), key.WithHelp("↓", "next input")),
	Complete: key.NewBinding(key.WithKeys("tab"), key.WithHelp("tab", "complete name")),
	Vars:     key.NewBinding(key.WithKeys("ctrl+v"), key.WithHelp("ctrl+v", "globals")),
	Help:     key.NewBinding(key.WithKeys("ctrl+k"), key.WithHelp("ctrl+k", "help")),
	Clear:    key.NewBinding(key.WithKeys("ctrl+l"), key.WithHelp("ctrl+l", "clear")),
	Quit:     key.NewBinding(key.WithKeys("ctrl+c", "ctrl+d"), key.WithHelp("ctrl+c", "quit")),
}

const replCommands = ":help :vars :clear :reset :quit"

// jsWords are offered by tab completion alongside globals.
var jsWords = []string{
	"var", "let", "const", "function", "return", "typeof", "null", "undefined",
	"true", "false", "JSON", "Math", "Object", "Array", "require", "args",
}

// transcriptLine is one evaluated input, or a note when source is empty.
type transcriptLine struct {
	source string
	output string
	kind   jsbridge.Kind
	failed bool
}

type replModel struct {
	input      textinput.Model
	help       help.Model
	host       *host
	env        map[string]jsbridge.Value
	transcript []transcriptLine
	recall     []string
	recallPos  int
	width      int
	height     int
	showVars   bool
	quitting   bool
	ready      bool
}

func newREPLModel(h *host) replModel {
	ti := textinput.New()
	ti.Placeholder = "expression, or :help"
	ti.Prompt = "js> "
	ti.PromptStyle = promptStyle
	ti.CharLimit = 2000
	ti.Width = 60
	ti.Focus()

	return replModel{
		input:     ti,
		help:      help.New(),
		host:      h,
		env:       make(map[string]jsbridge.Value),
		recallPos: -1,
	}
}

func (m replModel) Init() tea.Cmd {
	return textinput.Blink
}

func (m replModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.input.Width = max(msg.Width-len(m.input.Prompt)-2, 10)
		m.help.Width = msg.Width
		m.ready = true
		return m, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, keys.Quit):
			m.quitting = true
			return m, tea.Quit
		case key.Matches(msg, keys.Clear):
			m.transcript = nil
			return m, nil
		case key.Matches(msg, keys.Vars):
			m.showVars = !m.showVars
			return m, nil
		case key.Matches(msg, keys.Help):
			m.help.ShowAll = !m.help.ShowAll
			return m, nil
		case key.Matches(msg, keys.Prev):
			return m.stepRecall(-1), nil
		case key.Matches(msg, keys.Next):
			return m.stepRecall(1), nil
		case key.Matches(msg, keys.Complete):
			return m.complete(), nil
		case key.Matches(msg, keys.Submit):
			return m.submit()
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m replModel) submit() (tea.Model, tea.Cmd) {
	line := strings.TrimSpace(m.input.Value())
	m.input.SetValue("")
	m.recallPos = -1
	if line == "" {
		return m, nil
	}
	if strings.HasPrefix(line, ":") {
		return m.handleCommand(line)
	}

	output, failed := m.evaluate(line)
	entry := transcriptLine{source: line, output: output, failed: failed}
	if !failed {
		entry.kind = m.env["_"].Kind()
	}
	m.transcript = append(m.transcript, entry)
	m.recall = append(m.recall, line)
	return m, nil
}

// stepRecall moves through previously submitted inputs; stepping past the
// newest one clears the input.
func (m replModel) stepRecall(delta int) replModel {
	if len(m.recall) == 0 {
		return m
	}
	pos := m.recallPos
	switch {
	case pos == -1 && delta < 0:
		pos = len(m.recall) - 1
	case pos == -1:
		return m
	default:
		pos += delta
	}
	switch {
	case pos < 0:
		pos = 0
	case pos >= len(m.recall):
		m.recallPos = -1
		m.input.SetValue("")
		return m
	}
	m.recallPos = pos
	m.input.SetValue(m.recall[pos])
	m.input.CursorEnd()
	return m
}

func (m replModel) handleCommand(line string) (replModel, tea.Cmd) {
	name := strings.Fields(line)[0]
	switch name {
	case ":help", ":h":
		m.help.ShowAll = !m.help.ShowAll
	case ":vars", ":v":
		m.showVars = !m.showVars
	case ":clear", ":c":
		m.transcript = nil
	case ":reset", ":r":
		m.env = make(map[string]jsbridge.Value)
		m.transcript = append(m.transcript, transcriptLine{output: "globals cleared"})
	case ":quit", ":q":
		m.quitting = true
		return m, tea.Quit
	default:
		m.transcript = append(m.transcript, transcriptLine{
			output: fmt.Sprintf("unknown command %s (try %s)", name, replCommands),
			failed: true,
		})
	}
	return m, nil
}

// complete extends the last word to the longest prefix shared by every
// matching name and lists the candidates when more than one remains.
func (m replModel) complete() replModel {
	value := m.input.Value()
	start := strings.LastIndexFunc(value, func(r rune) bool {
		return !(r == '_' || r == '$' || r >= '0' && r <= '9' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z')
	}) + 1
	word := value[start:]
	if word == "" {
		return m
	}

	names := append([]string{m.host.engine.Config().BridgeName}, jsWords...)
	names = append(names, slices.Sorted(maps.Keys(m.env))...)
	var matches []string
	for _, name := range names {
		if strings.HasPrefix(name, word) && !slices.Contains(matches, name) {
			matches = append(matches, name)
		}
	}
	if len(matches) == 0 {
		return m
	}

	prefix := matches[0]
	for _, other := range matches[1:] {
		for !strings.HasPrefix(other, prefix) {
			prefix = prefix[:len(prefix)-1]
		}
	}
	m.input.SetValue(value[:start] + prefix)
	m.input.CursorEnd()
	if len(matches) > 1 {
		m.transcript = append(m.transcript, transcriptLine{output: strings.Join(matches, "  ")})
	}
	return m
}

// assignPattern matches `name = expr` with an optional declaration keyword.
// Comparisons and arrow functions are not assignments.
var assignPattern = regexp.MustCompile(`^(?:(?:var|let|const)\s+)?([A-Za-z_$][A-Za-z0-9_$]*)\s*=([^=>].*)$`)

// evaluate runs input as a fresh program. Values from earlier lines are
// materialized as globals, so only exportable values survive between lines.
func (m replModel) evaluate(input string) (string, bool) {
	source := input
	match := assignPattern.FindStringSubmatch(input)
	if match != nil {
		// drop the keyword so the completion value is the assigned value
		source = match[1] + " =" + match[2]
	}

	res := m.host.evaluate(context.Background(), source, "repl.js", m.env)
	if res.Err != nil {
		return res.Err.Error(), true
	}
	if match != nil {
		m.env[match[1]] = res.Value
	}
	m.env["_"] = res.Value
	return res.Value.String(), false
}

func (m replModel) View() string {
	if m.quitting {
		return echoStyle.Render("bye") + "\n"
	}
	if !m.ready {
		return "starting..."
	}

	var sections []string
	sections = append(sections, titleStyle.Render("jsbridge")+echoStyle.Render(" · bridge "+m.host.engine.Config().BridgeName+"() · "+replCommands))

	var panels []string
	if m.showVars {
		panels = append(panels, renderGlobals(m.env))
	}
	footer := m.help.View(keys)

	used := 3 + lipgloss.Height(footer)
	for _, p := range panels {
		used += lipgloss.Height(p)
	}
	sections = append(sections, m.renderTranscript(m.height-used))
	sections = append(sections, panels...)
	sections = append(sections, m.input.View(), footer)
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

// renderTranscript keeps the newest lines that fit in rows.
func (m replModel) renderTranscript(rows int) string {
	var lines []string
	for _, entry := range m.transcript {
		if entry.source != "" {
			lines = append(lines, echoStyle.Render("› "+entry.source))
		}
		switch {
		case entry.failed:
			lines = append(lines, failStyle.Render(entry.output))
		case entry.source == "":
			lines = append(lines, noteStyle.Render(entry.output))
		default:
			lines = append(lines, valueStyle.Render(entry.output)+" "+kindStyle.Render(entry.kind.String()))
		}
	}
	lines = strings.Split(strings.Join(lines, "\n"), "\n")
	if rows < 1 {
		rows = 1
	}
	if len(lines) > rows {
		lines = lines[len(lines)-rows:]
	}
	return strings.Join(lines, "\n")
}

func renderGlobals(env map[string]jsbridge.Value) string {
	if len(env) == 0 {
		return panelStyle.Render(echoStyle.Render("no globals yet"))
	}
	rows := []string{titleStyle.Render("globals")}
	for _, name := range slices.Sorted(maps.Keys(env)) {
		val := env[name]
		rows = append(rows, fmt.Sprintf("%s %s %s", noteStyle.Render(name), val.String(), kindStyle.Render(val.Kind().String())))
	}
	return panelStyle.Render(strings.Join(rows, "\n"))
}

func replCommand(args []string) error {
	fs := flag.NewFlagSet("repl", flag.ContinueOnError)
	fs.SetOutput(new(flagErrorSink))
	var opts hostOptions
	opts.register(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("resolve working directory: %w", err)
	}
	// stderr output would corrupt the alternate screen
	h, err := opts.build(context.Background(), cwd, io.Discard)
	if err != nil {
		return err
	}
	defer h.Close()

	p := tea.NewProgram(newREPLModel(h), tea.WithAltScreen())
	_, err = p.Run()
	return err
}

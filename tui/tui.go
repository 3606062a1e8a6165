package tui

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/Oudwins/somedaex/internals/cliutil"
	"github.com/Oudwins/somedaex/internals/pipeline"
	"github.com/Oudwins/somedaex/internals/tasks"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var (
	headerStyle   = lipgloss.NewStyle().Bold(true)
	selectedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	faintStyle    = lipgloss.NewStyle().Faint(true)
	errorStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	statusStyles  = map[string]lipgloss.Style{
		"complete": lipgloss.NewStyle().Foreground(lipgloss.Color("10")),
		"ready":    lipgloss.NewStyle().Foreground(lipgloss.Color("14")),
		"working":  lipgloss.NewStyle().Foreground(lipgloss.Color("11")),
		"error":    errorStyle,
	}
)

type keyMap struct {
	Up     key.Binding
	Down   key.Binding
	Add    key.Binding
	Delete key.Binding
	Edit   key.Binding
	Resync key.Binding
	Select key.Binding
	Back   key.Binding
	Quit   key.Binding
}

var keys = keyMap{
	Up:     key.NewBinding(key.WithKeys("up", "k")),
	Down:   key.NewBinding(key.WithKeys("down", "j")),
	Add:    key.NewBinding(key.WithKeys("a")),
	Delete: key.NewBinding(key.WithKeys("d", "x")),
	Edit:   key.NewBinding(key.WithKeys("e")),
	Resync: key.NewBinding(key.WithKeys("r")),
	Select: key.NewBinding(key.WithKeys("enter")),
	Back:   key.NewBinding(key.WithKeys("esc")),
	Quit:   key.NewBinding(key.WithKeys("q", "ctrl+c")),
}

type mode int

const (
	modeList mode = iota
	modePickType
	modeEdit
)

type changedMsg struct{}

type opDoneMsg struct {
	action string
	err    error
}

type model struct {
	ctx        context.Context
	pipeline   *pipeline.Pipeline
	changes    <-chan struct{}
	types      []*tasks.Type
	views      []pipeline.View
	cursor     int
	typeCursor int
	mode       mode
	input      textinput.Model
	message    string
	err        error
}

// Run shows the pipeline until the user quits or ctx is cancelled.
func Run(ctx context.Context, p *pipeline.Pipeline) error {
	changes := make(chan struct{}, 1)
	stop := p.Watch(func(pipeline.Change) {
		select {
		case changes <- struct{}{}:
		default:
		}
	})
	defer stop()

	program := tea.NewProgram(newModel(ctx, p, changes), tea.WithContext(ctx), tea.WithAltScreen())
	_, err := program.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}

func newModel(ctx context.Context, p *pipeline.Pipeline, changes <-chan struct{}) model {
	input := textinput.New()
	input.Prompt = "set: "
	input.Placeholder = "key=value"

	m := model{
		ctx:      ctx,
		pipeline: p,
		changes:  changes,
		types:    p.Registry().List(),
		input:    input,
	}
	return m.refresh()
}

func (m model) Init() tea.Cmd {
	return waitForChange(m.ctx, m.changes)
}

func waitForChange(ctx context.Context, changes <-chan struct{}) tea.Cmd {
	return func() tea.Msg {
		select {
		case <-changes:
			return changedMsg{}
		case <-ctx.Done():
			return nil
		}
	}
}

func (m model) refresh() model {
	all := m.pipeline.Tasks()
	m.views = make([]pipeline.View, 0, len(all))
	for _, task := range all {
		m.views = append(m.views, task.View())
	}
	if m.cursor >= len(m.views) {
		m.cursor = len(m.views) - 1
	}
	if m.cursor < 0 {
		m.cursor = 0
	}
	return m
}

func (m model) selected() (*pipeline.Task, bool) {
	if len(m.views) == 0 {
		return nil, false
	}
	return m.pipeline.Get(m.views[m.cursor].ID)
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case changedMsg:
		return m.refresh(), waitForChange(m.ctx, m.changes)
	case opDoneMsg:
		m.err = msg.err
		m.message = ""
		if msg.err == nil {
			m.message = msg.action
		}
		return m.refresh(), nil
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
		switch m.mode {
		case modePickType:
			return m.updatePickType(msg)
		case modeEdit:
			return m.updateEdit(msg)
		default:
			return m.updateList(msg)
		}
	}
	return m, nil
}

func (m model) updateList(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, keys.Quit):
		return m, tea.Quit
	case key.Matches(msg, keys.Up):
		if m.cursor > 0 {
			m.cursor--
		}
	case key.Matches(msg, keys.Down):
		if m.cursor < len(m.views)-1 {
			m.cursor++
		}
	case key.Matches(msg, keys.Add):
		m.mode = modePickType
		m.typeCursor = 0
	case key.Matches(msg, keys.Delete):
		task, ok := m.selected()
		if !ok {
			return m, nil
		}
		return m, m.deleteTask(task)
	case key.Matches(msg, keys.Edit):
		if _, ok := m.selected(); !ok {
			return m, nil
		}
		m.mode = modeEdit
		m.input.SetValue("")
		return m, m.input.Focus()
	case key.Matches(msg, keys.Resync):
		return m, m.resync()
	}
	return m, nil
}

func (m model) updatePickType(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, keys.Back):
		m.mode = modeList
	case key.Matches(msg, keys.Up):
		if m.typeCursor > 0 {
			m.typeCursor--
		}
	case key.Matches(msg, keys.Down):
		if m.typeCursor < len(m.types)-1 {
			m.typeCursor++
		}
	case key.Matches(msg, keys.Select):
		m.mode = modeList
		if len(m.types) == 0 {
			return m, nil
		}
		return m, m.addTask(m.types[m.typeCursor].ID)
	}
	return m, nil
}

func (m model) updateEdit(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, keys.Back):
		m.mode = modeList
		m.input.Blur()
		return m, nil
	case key.Matches(msg, keys.Select):
		m.mode = modeList
		m.input.Blur()
		task, ok := m.selected()
		if !ok {
			return m, nil
		}
		updates, err := cliutil.ParseAssignments([]string{m.input.Value()})
		if err != nil {
			m.err = err
			return m, nil
		}
		return m, m.updateConfig(task, updates)
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m model) addTask(typeID string) tea.Cmd {
	ctx, p := m.ctx, m.pipeline
	return func() tea.Msg {
		task, err := p.AddTask(ctx, typeID)
		if err != nil {
			return opDoneMsg{err: fmt.Errorf("add %s: %w", typeID, err)}
		}
		return opDoneMsg{action: fmt.Sprintf("added task %d", task.ID())}
	}
}

func (m model) deleteTask(task *pipeline.Task) tea.Cmd {
	ctx, p := m.ctx, m.pipeline
	id := task.ID()
	return func() tea.Msg {
		if err := p.DeleteTask(ctx, task); err != nil {
			return opDoneMsg{err: fmt.Errorf("delete %d: %w", id, err)}
		}
		return opDoneMsg{action: fmt.Sprintf("deleted task %d", id)}
	}
}

func (m model) updateConfig(task *pipeline.Task, updates tasks.Config) tea.Cmd {
	ctx, p := m.ctx, m.pipeline
	return func() tea.Msg {
		if err := p.UpdateConfig(ctx, task, updates); err != nil {
			return opDoneMsg{err: fmt.Errorf("update %d: %w", task.ID(), err)}
		}
		return opDoneMsg{action: fmt.Sprintf("updated task %d", task.ID())}
	}
}

func (m model) resync() tea.Cmd {
	ctx, p := m.ctx, m.pipeline
	return func() tea.Msg {
		if err := p.Resync(ctx); err != nil {
			return opDoneMsg{err: fmt.Errorf("resync: %w", err)}
		}
		return opDoneMsg{action: "resynced"}
	}
}

func (m model) View() string {
	lines := []string{headerStyle.Render("Pipeline"), ""}
	if len(m.views) == 0 {
		lines = append(lines, faintStyle.Render("  no tasks yet, press a to add one"))
	}
	for i, view := range m.views {
		marker := "  "
		title := fmt.Sprintf("#%d %s", view.ID, view.Title)
		if i == m.cursor {
			marker = "> "
			title = selectedStyle.Render(title)
		}
		lines = append(lines, fmt.Sprintf("%s%s [%s]", marker, title, renderStatus(view.Status)))
		if i == m.cursor {
			lines = append(lines, renderDetails(view)...)
		}
	}

	switch m.mode {
	case modePickType:
		lines = append(lines, "", headerStyle.Render("Add task"))
		for i, t := range m.types {
			marker := "  "
			if i == m.typeCursor {
				marker = "> "
			}
			lines = append(lines, fmt.Sprintf("%s%-12s %s", marker, t.ID, faintStyle.Render(t.Category)))
		}
	case modeEdit:
		lines = append(lines, "", m.input.View())
	}

	lines = append(lines, "")
	if m.err != nil {
		lines = append(lines, errorStyle.Render(m.err.Error()))
	} else if m.message != "" {
		lines = append(lines, faintStyle.Render(m.message))
	}
	lines = append(lines, faintStyle.Render(help(m.mode)))
	return strings.Join(lines, "\n")
}

func renderStatus(status string) string {
	if style, ok := statusStyles[status]; ok {
		return style.Render(status)
	}
	return faintStyle.Render(status)
}

func renderDetails(view pipeline.View) []string {
	var lines []string
	for _, k := range slices.Sorted(maps.Keys(view.Config)) {
		lines = append(lines, faintStyle.Render(fmt.Sprintf("      %s: %v", k, view.Config[k])))
	}
	if view.Column != nil {
		lines = append(lines, faintStyle.Render(fmt.Sprintf("      column: %s", *view.Column)))
	}
	if len(view.Schema) > 0 {
		cols := make([]string, 0, len(view.Schema))
		for _, col := range view.Schema {
			cols = append(cols, fmt.Sprintf("%s %s", col.Name, col.Type))
		}
		lines = append(lines, faintStyle.Render("      schema: "+strings.Join(cols, ", ")))
	}
	return lines
}

func help(m mode) string {
	switch m {
	case modePickType:
		return "↑/↓: choose  enter: add  esc: back"
	case modeEdit:
		return "enter: apply  esc: cancel"
	default:
		return "a: add  d: delete  e: edit  r: resync  q: quit"
	}
}

package cli

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/sbenjam1n/surveyflow/internal/engine"
	"github.com/sbenjam1n/surveyflow/internal/logger"
	"github.com/sbenjam1n/surveyflow/internal/survey"
)

var runCmd = &cobra.Command{
	Use:   "run <id>",
	Short: "Fill in a survey interactively",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		s, err := openSession(ctx)
		if err != nil {
			return err
		}
		defer s.Close()

		// The terminal belongs to the program; logs go to a file.
		if log, err := logger.NewTo(cfg.LogMode, filepath.Join(projectRoot(), "surveyflow.log")); err == nil {
			s.log = log
		}

		c, err := s.open(ctx, args[0])
		if err != nil {
			return err
		}
		defer c.Close(ctx)

		final, err := tea.NewProgram(newRunModel(ctx, c), tea.WithAltScreen()).Run()
		if err != nil {
			return err
		}
		m := final.(runModel)
		switch {
		case m.finished != "":
			fmt.Printf("Survey %s: %s recorded\n", c.ID(), m.finished)
		case c.InFlight():
			fmt.Println(warnStyle.Render("Left while a section change was still saving; it may not be recorded"))
		default:
			if err := s.store.SaveState(ctx, c.ID(), c.Persisted()); err != nil {
				return fmt.Errorf("save draft: %w", err)
			}
			fmt.Printf("Progress saved. Resume with: survey run %s\n", c.ID())
		}
		return nil
	},
}

// --- Messages ---

type persistDoneMsg struct {
	t   *engine.Transition
	err error
}

// --- Model ---

type runModel struct {
	ctx context.Context
	c   *engine.Controller

	cursor   int
	editing  bool
	buffer   string
	status   string
	failed   bool
	finished engine.Action
	width    int
	height   int
}

func newRunModel(ctx context.Context, c *engine.Controller) runModel {
	return runModel{ctx: ctx, c: c, width: 80, height: 24}
}

func (m runModel) Init() tea.Cmd {
	return nil
}

// focusable returns the indices of the current section's items that accept input.
func (m runModel) focusable() []int {
	sec := m.c.CurrentSection()
	if sec == nil {
		return nil
	}
	var out []int
	for i, it := range sec.Items {
		if it.Interactive() && it.Enabled {
			out = append(out, i)
		}
	}
	return out
}

func (m runModel) focused() *survey.Item {
	idx := m.focusable()
	if m.cursor < 0 || m.cursor >= len(idx) {
		return nil
	}
	return m.c.CurrentSection().Items[idx[m.cursor]]
}

func (m runModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case persistDoneMsg:
		if err := m.c.EndTransition(msg.t, msg.err); err != nil {
			m.setError(err)
		} else {
			m.setStatus("Saved " + msg.t.To)
		}
		m.clampCursor()
		return m, nil

	case tea.KeyMsg:
		if m.editing {
			return m.handleEditKey(msg)
		}
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "j", "down", "tab":
			m.blur()
			if m.cursor < len(m.focusable())-1 {
				m.cursor++
			}
		case "k", "up", "shift+tab":
			m.blur()
			if m.cursor > 0 {
				m.cursor--
			}
		case " ", "enter":
			m.activate()
		case "n", "right":
			return m.move(m.c.CurrentIndex() + 1)
		case "p", "left":
			return m.move(m.c.CurrentIndex() - 1)
		case "s":
			return m.finish(engine.ActionSubmit)
		case "x":
			return m.finish(engine.ActionCancel)
		}
	}
	return m, nil
}

func (m *runModel) handleEditKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyCtrlC:
		return *m, tea.Quit
	case tea.KeyEnter:
		it := m.focused()
		m.editing = false
		if it == nil {
			return *m, nil
		}
		if err := m.c.SetValue(it, m.buffer); err != nil {
			m.setError(err)
		} else {
			m.setStatus("")
		}
		m.c.Touch(it)
	case tea.KeyEsc:
		m.editing = false
		m.buffer = ""
	case tea.KeyBackspace:
		if r := []rune(m.buffer); len(r) > 0 {
			m.buffer = string(r[:len(r)-1])
		}
	case tea.KeySpace:
		m.buffer += " "
	case tea.KeyRunes:
		m.buffer += string(msg.Runes)
	}
	return *m, nil
}

// activate toggles a choice item or starts editing a text item.
func (m *runModel) activate() {
	it := m.focused()
	if it == nil {
		return
	}
	if !it.Type.IsChoice() {
		m.editing = true
		m.buffer = formatValue(m.c.State().Scalar(it.Field))
		return
	}
	on := true
	if it.Type == survey.TypeBoolean {
		on = !m.c.State().Flag(it.Field, it.FlagKey())
	}
	if err := m.c.SetValue(it, on); err != nil {
		m.setError(err)
	}
	m.c.Touch(it)
}

func (m *runModel) blur() {
	if it := m.focused(); it != nil {
		m.c.Touch(it)
	}
}

func (m runModel) move(target int) (tea.Model, tea.Cmd) {
	t, ok, err := m.c.BeginTransition(target)
	switch {
	case errors.Is(err, engine.ErrTransitionInFlight):
		m.setStatus("Still saving the previous section…")
		return m, nil
	case err != nil:
		m.setError(err)
		return m, nil
	case !ok:
		if target >= 0 && target < len(m.c.EnabledSections()) {
			m.touchSection()
			m.setError(errors.New("complete this section before moving on"))
		}
		return m, nil
	case t == nil:
		return m, nil
	}
	m.cursor = 0
	m.setStatus("Saving…")
	ctx := m.ctx
	return m, func() tea.Msg {
		return persistDoneMsg{t: t, err: t.Persist(ctx)}
	}
}

func (m runModel) finish(action engine.Action) (tea.Model, tea.Cmd) {
	if err := m.c.Finish(m.ctx, action); err != nil {
		if errors.Is(err, engine.ErrSectionInvalid) {
			m.setError(errors.New("some answers are missing or invalid"))
		} else {
			m.setError(err)
		}
		return m, nil
	}
	m.finished = action
	return m, tea.Quit
}

func (m *runModel) touchSection() {
	if sec := m.c.CurrentSection(); sec != nil {
		for _, it := range sec.Items {
			m.c.Touch(it)
		}
	}
}

func (m *runModel) clampCursor() {
	if n := len(m.focusable()); m.cursor >= n {
		m.cursor = max(n-1, 0)
	}
}

func (m *runModel) setStatus(s string) {
	m.status = s
	m.failed = false
}

func (m *runModel) setError(err error) {
	m.status = err.Error()
	m.failed = true
}

func (m runModel) View() string {
	var b strings.Builder
	def := m.c.Survey()
	title := def.Title
	if title == "" {
		title = def.ID
	}
	page := fmt.Sprintf("%d/%d", m.c.CurrentIndex()+1, len(m.c.EnabledSections()))
	b.WriteString(titleStyle.Render(title) + "  " + dimStyle.Render(page) + "\n")
	b.WriteString(strings.Repeat("─", min(m.width, 80)) + "\n")

	sec := m.c.CurrentSection()
	if sec == nil {
		b.WriteString(dimStyle.Render("  No section is enabled") + "\n")
	} else {
		cursor := -1
		if idx := m.focusable(); m.cursor < len(idx) {
			cursor = idx[m.cursor]
		}
		b.WriteString(renderSection(m.c, sec, cursor, false))
	}

	if m.editing {
		b.WriteString("\n> " + m.buffer + "█")
	}
	if m.status != "" {
		b.WriteString("\n")
		if m.failed {
			b.WriteString(failStyle.Render(m.status))
		} else {
			b.WriteString(dimStyle.Render(m.status))
		}
	}

	b.WriteString("\n")
	help := "j/k:move  space/enter:select/edit  n/p:next/prev section  q:save & quit"
	if m.c.IsLastPage() {
		help += "  s:submit"
	}
	help += "  x:cancel survey"
	b.WriteString(helpStyle.Render(help))
	return b.String()
}

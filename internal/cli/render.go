package cli

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/sbenjam1n/surveyflow/internal/codec"
	"github.com/sbenjam1n/surveyflow/internal/engine"
	"github.com/sbenjam1n/surveyflow/internal/survey"
)

// --- Styles ---

var (
	titleStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	selectedStyle = lipgloss.NewStyle().Bold(true).Background(lipgloss.Color("236")).Foreground(lipgloss.Color("15"))
	dimStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	warnStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	pathStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("14"))
	helpStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	headerStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
	passStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
	failStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))
)

// renderOverview lists every section with its enablement and validity and
// marks the current one.
func renderOverview(c *engine.Controller) string {
	var b strings.Builder
	def := c.Survey()
	title := def.Title
	if title == "" {
		title = def.ID
	}
	b.WriteString(titleStyle.Render(title) + "  " + dimStyle.Render(def.ID) + "\n")

	current := c.CurrentSection()
	for _, sec := range def.Sections {
		marker := "  "
		if sec == current {
			marker = "▶ "
		}
		line := marker + sectionLabel(sec)
		switch {
		case !sec.Enabled:
			b.WriteString(dimStyle.Render(line+"  (disabled)") + "\n")
		case !sec.Valid:
			b.WriteString(line + "  " + warnStyle.Render("incomplete") + "\n")
		default:
			b.WriteString(line + "  " + passStyle.Render("ok") + "\n")
		}
	}
	return b.String()
}

// renderSection draws the items of sec with their current values. cursor
// highlights one interactive item; pass -1 for none. Messages are shown
// for touched items, or for all when showAll is set.
func renderSection(c *engine.Controller, sec *survey.Section, cursor int, showAll bool) string {
	var b strings.Builder
	b.WriteString(pathStyle.Render(sectionLabel(sec)) + "\n")
	if sec.Description != "" {
		b.WriteString(dimStyle.Render(sec.Description) + "\n")
	}
	b.WriteString(strings.Repeat("─", 40) + "\n")

	seen := make(map[string]bool)
	for i, it := range sec.Items {
		if !it.Interactive() {
			if it.Enabled {
				b.WriteString("  " + dimStyle.Render(it.Label) + "\n")
			}
			continue
		}
		if !it.Enabled {
			continue
		}
		line := "  " + itemLine(c, it)
		if i == cursor {
			b.WriteString(selectedStyle.Render(line) + "\n")
		} else {
			b.WriteString(line + "\n")
		}
		if seen[it.Field] {
			continue
		}
		seen[it.Field] = true
		if (showAll || it.Touched) && len(it.Messages) > 0 {
			for _, m := range it.Messages {
				b.WriteString("    " + warnStyle.Render("! "+m) + "\n")
			}
		}
	}
	return b.String()
}

func itemLine(c *engine.Controller, it *survey.Item) string {
	label := it.Label
	if label == "" {
		label = it.Field
	}
	req := ""
	if it.Required {
		req = "*"
	}
	state := c.State()
	switch {
	case it.Type.IsOption():
		mark := "( )"
		if state.Flag(it.Field, it.FlagKey()) {
			mark = "(•)"
		}
		return fmt.Sprintf("%s %s%s %s", mark, label, req, dimStyle.Render(it.Field+"="+it.FlagKey()))
	case it.Type == survey.TypeBoolean:
		mark := "[ ]"
		if state.Flag(it.Field, it.FlagKey()) {
			mark = "[x]"
		}
		return fmt.Sprintf("%s %s%s %s", mark, label, req, dimStyle.Render(it.Field))
	default:
		v := formatValue(codec.Project(it.Field, state, c.Survey()))
		if v == "" {
			v = dimStyle.Render("(empty)")
		}
		return fmt.Sprintf("%s%s: %s %s", label, req, v, dimStyle.Render("["+string(it.Type)+"]"))
	}
}

func sectionLabel(sec *survey.Section) string {
	if sec.Title != "" {
		return sec.Title + " " + dimStyle.Render("("+sec.ID+")")
	}
	return sec.ID
}

func formatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case float64:
		return survey.FormatNumber(x)
	case []any:
		parts := make([]string, len(x))
		for i, e := range x {
			parts[i] = formatValue(e)
		}
		return strings.Join(parts, ", ")
	default:
		s, _ := survey.Canonical(v)
		return s
	}
}

func navHelp(c *engine.Controller) string {
	var parts []string
	if c.CanMovePrev() {
		parts = append(parts, "survey answer "+c.ID()+" --prev")
	}
	if c.CanMoveNext() {
		parts = append(parts, "survey answer "+c.ID()+" --next")
	} else if !c.IsLastPage() {
		parts = append(parts, warnStyle.Render("complete this section to continue"))
	}
	if c.IsLastPage() {
		parts = append(parts, "survey complete "+c.ID())
	}
	return helpStyle.Render(strings.Join(parts, "  |  "))
}

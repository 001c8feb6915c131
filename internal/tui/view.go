package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/fentz26/tasksync/internal/models"
	"github.com/fentz26/tasksync/internal/session"
)

// View implements tea.Model
func (a *App) View() string {
	var b strings.Builder

	link := onlineStyle.Render("● LIVE")
	if a.sess.Offline() {
		link = offlineStyle.Render("○ OFFLINE")
	}
	header := titleStyle.Render("tasksync")
	header += "  " + lipgloss.NewStyle().Foreground(cyanColor).Render(a.project)
	header += "  " + link
	header += "  " + mutedStyle.Render("as "+a.sess.User())
	if a.filter.OnlyMine {
		header += "  " + lipgloss.NewStyle().Foreground(warningColor).Render("[mine]")
	}
	if a.filter.Query != "" {
		header += "  " + lipgloss.NewStyle().Foreground(warningColor).Render(fmt.Sprintf("[/%s]", a.filter.Query))
	}
	b.WriteString(header + "\n")
	b.WriteString(strings.Repeat("─", max(0, a.width)) + "\n")

	contentHeight := max(5, a.height-8)
	switch {
	case a.loading:
		b.WriteString("\n  Loading " + a.project + "...\n")
	case a.mode == modeHistory:
		b.WriteString(a.renderHistory(contentHeight))
	default:
		b.WriteString(a.renderBoard(contentHeight))
	}

	// Message bar
	if a.message != "" {
		msgStyle := lipgloss.NewStyle().Foreground(successColor)
		if strings.HasPrefix(a.message, "Error") {
			msgStyle = lipgloss.NewStyle().Foreground(errorColor)
		}
		b.WriteString("\n" + msgStyle.Render(a.message))
	} else {
		b.WriteString("\n")
	}

	if a.mode == modeSearch {
		b.WriteString("\n" + inputBoxStyle.Render(a.search.View()))
	}
	b.WriteString("\n")

	var status string
	switch a.mode {
	case modeHistory:
		status = fmt.Sprintf(" History: %d | ↑↓:nav | Enter:undo back to here | Esc:back", len(a.history))
	case modeSearch:
		status = " Enter:apply | Esc:clear"
	default:
		undo := "u:undo"
		if !a.sess.CanUndo() {
			undo = "u:-"
		}
		status = fmt.Sprintf(" Cards: %d | ←→↑↓:nav | </>:move | s:done status | %s | U:redo | H:history | m:mine | /:search | q:quit", a.board.Count(), undo)
	}
	b.WriteString(statusBarStyle.Width(max(0, a.width)).Render(status))
	return b.String()
}

func (a *App) renderBoard(height int) string {
	width := max(20, (a.width-6)/len(models.Columns))
	panels := make([]string, 0, len(models.Columns))
	for i, col := range models.Columns {
		style := panelStyle
		if i == a.col {
			style = activePanelStyle
		}
		panels = append(panels, style.Width(width).Render(a.renderColumn(i, col, width-2, height-2)))
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, panels...)
}

func (a *App) renderColumn(idx int, col models.Column, width, height int) string {
	cards := a.board[col]
	lines := []string{
		lipgloss.NewStyle().Bold(true).Render(fmt.Sprintf("%s (%d)", col.Title(), len(cards))),
		"",
	}
	if len(cards) == 0 {
		lines = append(lines, mutedStyle.Render("no cards"))
		return strings.Join(lines, "\n")
	}

	// each card takes two lines
	visible := max(1, (height-2)/2)
	start := 0
	if cur := a.rows[idx]; cur >= visible {
		start = cur - visible + 1
	}
	end := min(len(cards), start+visible)
	for i := start; i < end; i++ {
		lines = append(lines, a.renderCard(cards[i], idx == a.col && i == a.rows[idx], width)...)
	}
	if end < len(cards) {
		lines = append(lines, helpStyle.Render(fmt.Sprintf("+%d more", len(cards)-end)))
	}
	return strings.Join(lines, "\n")
}

func (a *App) renderCard(c session.Card, selected bool, width int) []string {
	name := c.Name
	if c.Flagged {
		name = "⚑ " + name
	}
	detail := fmt.Sprintf("%d%%", c.Percent)
	if c.Status.Column() == models.ColumnDone {
		detail = string(c.Status)
	}
	if c.EndDate != "" {
		detail += " · due " + c.EndDate
	}
	if len(c.Assignees) > 0 {
		detail += " · " + strings.Join(c.Assignees, ",")
	}
	if parent := parentLabel(c.Label); parent != "" {
		detail = parent + " · " + detail
	}

	name = truncate(name, width-4)
	detail = truncate(detail, width-4)
	if selected {
		return []string{selectedStyle.Render("▶ " + name), selectedStyle.Render("  " + detail)}
	}
	style := cardStyle
	if !c.Editable {
		style = style.Foreground(mutedColor)
	}
	return []string{style.Render("  " + name), cardStyle.Render("  " + helpStyle.Render(detail))}
}

func (a *App) renderHistory(height int) string {
	var b strings.Builder
	b.WriteString("\n  Undo history (oldest first)\n")
	b.WriteString("  " + strings.Repeat("─", 40) + "\n\n")

	start := max(0, a.histIdx-height+4)
	for i := start; i < len(a.history) && i < start+height-3; i++ {
		e := a.history[i]
		line := fmt.Sprintf("%2d. %s", i+1, e.String())
		if i == a.histIdx {
			b.WriteString(selectedStyle.Render("▶ "+line) + "\n")
		} else {
			b.WriteString(cardStyle.Render("  "+line) + "  " + formatStatus(e.NewStatus) + "\n")
		}
	}
	return b.String()
}

// parentLabel drops the last breadcrumb segment, the card's own name.
func parentLabel(label string) string {
	i := strings.LastIndex(label, " > ")
	if i < 0 {
		return ""
	}
	return label[:i]
}

func truncate(s string, n int) string {
	if n <= 1 || lipgloss.Width(s) <= n {
		return s
	}
	r := []rune(s)
	if len(r) > n-1 {
		r = r[:n-1]
	}
	return string(r) + "…"
}

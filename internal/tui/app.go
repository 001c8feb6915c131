// Package tui provides the interactive kanban board for tasksync.
package tui

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/fentz26/tasksync/internal/models"
	"github.com/fentz26/tasksync/internal/session"
)

const openTimeout = 10 * time.Second

// mode is the screen being shown.
type mode int

const (
	modeBoard mode = iota
	modeSearch
	modeHistory
)

// App is the main TUI application model.
type App struct {
	sess    *session.Session
	events  *Events
	project string

	board  session.Board
	filter session.Filter
	col    int
	rows   [3]int

	mode    mode
	search  textinput.Model
	history []models.UndoEntry
	histIdx int

	message string
	loading bool
	width   int
	height  int
}

// New creates a board for sess that opens project on start.
func New(sess *session.Session, events *Events, project string) *App {
	ti := textinput.New()
	ti.Placeholder = "search cards"
	ti.CharLimit = 128
	ti.Width = 40

	if events == nil {
		events = NewEvents()
	}
	return &App{
		sess:    sess,
		events:  events,
		project: project,
		board:   session.Board{},
		search:  ti,
		loading: true,
		width:   100,
		height:  30,
	}
}

// Run starts the TUI application.
func (a *App) Run() error {
	p := tea.NewProgram(a, tea.WithAltScreen())
	_, err := p.Run()
	return err
}

// Init implements tea.Model
func (a *App) Init() tea.Cmd {
	return tea.Batch(
		textinput.Blink,
		a.open(a.project),
		a.events.wait(),
	)
}

func (a *App) open(project string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), openTimeout)
		defer cancel()
		return openedMsg{project: project, err: a.sess.Open(ctx, project)}
	}
}

// Update implements tea.Model
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return a, tea.Quit
		}
		switch a.mode {
		case modeSearch:
			return a.updateSearch(msg)
		case modeHistory:
			return a, a.updateHistory(msg)
		default:
			return a, a.updateBoard(msg)
		}

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.search.Width = max(10, msg.Width-8)

	case openedMsg:
		a.loading = false
		if msg.err != nil {
			a.setError(msg.err)
			return a, nil
		}
		a.project = msg.project
		a.col = 0
		a.rows = [3]int{}
		a.refresh()
		if a.sess.Offline() {
			a.message = "Relay unreachable, showing the local copy of " + msg.project
		} else {
			a.message = fmt.Sprintf("Opened %s (%d cards)", msg.project, a.board.Count())
		}

	case boardChangedMsg:
		a.refresh()
		return a, a.events.wait()

	case noticeMsg:
		a.setError(msg.err)
		return a, a.events.wait()
	}
	return a, nil
}

func (a *App) updateBoard(msg tea.KeyMsg) tea.Cmd {
	switch msg.String() {
	case "q":
		return tea.Quit
	case "left", "h":
		if a.col > 0 {
			a.col--
		}
	case "right", "l":
		if a.col < len(models.Columns)-1 {
			a.col++
		}
	case "up", "k":
		if a.rows[a.col] > 0 {
			a.rows[a.col]--
		}
	case "down", "j":
		if a.rows[a.col] < len(a.column())-1 {
			a.rows[a.col]++
		}
	case "shift+left", "<":
		a.moveSelected(-1)
	case "shift+right", ">":
		a.moveSelected(1)
	case "s":
		a.cycleDoneStatus()
	case "u", "ctrl+z":
		a.undo()
	case "U", "ctrl+y":
		a.redo()
	case "H":
		a.history = a.sess.History()
		if len(a.history) == 0 {
			a.message = "Nothing to undo"
			return nil
		}
		a.histIdx = len(a.history) - 1
		a.mode = modeHistory
	case "m":
		a.filter.OnlyMine = !a.filter.OnlyMine
		a.refresh()
	case "/":
		a.mode = modeSearch
		a.search.SetValue(a.filter.Query)
		return a.search.Focus()
	case "esc":
		if a.filter.Query != "" {
			a.filter.Query = ""
			a.refresh()
		}
		a.message = ""
	case "r":
		a.loading = true
		return a.open(a.project)
	}
	return nil
}

func (a *App) updateSearch(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "enter":
		a.filter.Query = strings.TrimSpace(a.search.Value())
		a.search.Blur()
		a.mode = modeBoard
		a.refresh()
		return a, nil
	case "esc":
		a.search.Blur()
		a.search.SetValue("")
		a.filter.Query = ""
		a.mode = modeBoard
		a.refresh()
		return a, nil
	}
	var cmd tea.Cmd
	a.search, cmd = a.search.Update(msg)
	return a, cmd
}

func (a *App) updateHistory(msg tea.KeyMsg) tea.Cmd {
	switch msg.String() {
	case "up", "k":
		if a.histIdx > 0 {
			a.histIdx--
		}
	case "down", "j":
		if a.histIdx < len(a.history)-1 {
			a.histIdx++
		}
	case "enter":
		n, err := a.sess.JumpTo(a.histIdx)
		a.mode = modeBoard
		if err != nil {
			a.setError(err)
			return nil
		}
		a.message = fmt.Sprintf("Undid %d moves", n)
		a.refresh()
	case "esc", "H", "q":
		a.mode = modeBoard
	}
	return nil
}

// column returns the cards of the focused column.
func (a *App) column() []session.Card {
	return a.board[models.Columns[a.col]]
}

func (a *App) selected() (session.Card, bool) {
	cards := a.column()
	i := a.rows[a.col]
	if i < 0 || i >= len(cards) {
		return session.Card{}, false
	}
	return cards[i], true
}

func (a *App) refresh() {
	a.board = a.sess.Board(a.filter)
	for i, c := range models.Columns {
		n := len(a.board[c])
		if a.rows[i] >= n {
			a.rows[i] = max(0, n-1)
		}
	}
}

// focus puts the cursor on the card with id, wherever it now is.
func (a *App) focus(id int) {
	for i, c := range models.Columns {
		for j, card := range a.board[c] {
			if card.ID == id {
				a.col, a.rows[i] = i, j
				return
			}
		}
	}
}

func (a *App) moveSelected(step int) {
	card, ok := a.selected()
	if !ok {
		return
	}
	target := a.col + step
	if target < 0 || target >= len(models.Columns) {
		return
	}
	entry, err := a.sess.Move(card.ID, models.Columns[target])
	if err != nil {
		a.setError(err)
		return
	}
	a.refresh()
	a.focus(card.ID)
	if entry != nil {
		a.message = entry.String()
	}
}

func (a *App) cycleDoneStatus() {
	card, ok := a.selected()
	if !ok {
		return
	}
	if card.Status.Column() != models.ColumnDone {
		a.message = "Only cards in Done have a done status"
		return
	}
	i := slices.Index(models.DoneStatuses, card.Status)
	next := models.DoneStatuses[(i+1)%len(models.DoneStatuses)]
	if err := a.sess.SetDoneStatus(card.ID, next); err != nil {
		a.setError(err)
		return
	}
	a.refresh()
	a.focus(card.ID)
	a.message = fmt.Sprintf("%s is now %s", card.Name, next)
}

func (a *App) undo() {
	entry, err := a.sess.Undo()
	switch {
	case err != nil:
		a.setError(err)
	case entry == nil:
		a.refresh()
		a.message = "Nothing to undo"
	default:
		a.refresh()
		a.focus(entry.TaskID)
		a.message = "Undo: " + entry.String()
	}
}

func (a *App) redo() {
	entry, err := a.sess.Redo()
	switch {
	case err != nil:
		a.setError(err)
	case entry == nil:
		a.refresh()
		a.message = "Nothing to redo"
	default:
		a.refresh()
		a.focus(entry.TaskID)
		a.message = "Redo: " + entry.String()
	}
}

func (a *App) setError(err error) {
	switch {
	case errors.Is(err, models.ErrPermissionDenied):
		a.message = "Error: you are not assigned to that card"
	case errors.Is(err, session.ErrNoProject):
		a.message = "Error: no project open"
	case errors.Is(err, session.ErrReloaded):
		a.message = "Project was updated by another user, reloaded"
	default:
		a.message = "Error: " + err.Error()
	}
}

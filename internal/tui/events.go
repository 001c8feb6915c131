package tui

import tea "github.com/charmbracelet/bubbletea"

type boardChangedMsg struct{}

type noticeMsg struct{ err error }

type openedMsg struct {
	project string
	err     error
}

// Events carries session callbacks, which fire on network goroutines, into
// the bubbletea loop. Pass Changed and Notice as the session's OnChange and
// OnNotice hooks.
type Events struct {
	ch chan tea.Msg
}

// NewEvents creates an event queue.
func NewEvents() *Events {
	return &Events{ch: make(chan tea.Msg, 64)}
}

// Changed reports that the open project's tree changed.
func (e *Events) Changed() {
	select {
	case e.ch <- boardChangedMsg{}:
	default:
		// a redraw is already queued
	}
}

// Notice reports a failed delivery or other non-fatal problem.
func (e *Events) Notice(err error) {
	select {
	case e.ch <- noticeMsg{err: err}:
	default:
	}
}

func (e *Events) wait() tea.Cmd {
	return func() tea.Msg {
		return <-e.ch
	}
}

package tui

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fentz26/tasksync/internal/channel"
	"github.com/fentz26/tasksync/internal/models"
	"github.com/fentz26/tasksync/internal/patch"
	"github.com/fentz26/tasksync/internal/session"
)

const me = "ab1234"

type nopTransport struct{}

func (nopTransport) Send(context.Context, patch.Patch) (int64, error) { return 1, nil }

type staticLoader struct{}

func (staticLoader) LoadProject(_ context.Context, project string) (*models.Snapshot, error) {
	tree := models.Tree{Tasks: []*models.Task{
		{ID: 1, Name: "Launch", Subtasks: []*models.Task{
			{ID: 2, Name: "Write docs", AssignedTo: models.AssigneeSet{me}},
			{ID: 3, Name: "Ship build", Status: models.StatusInProgress, AssignedTo: models.AssigneeSet{"zz9999"}},
			{ID: 4, Name: "Retro", Status: models.StatusCompleted, PercentComplete: 100, AssignedTo: models.AssigneeSet{me}},
		}},
	}, TaskIDCounter: 4}
	return &models.Snapshot{Project: project, Version: 7, Tree: tree}, nil
}

func newApp(t *testing.T) *App {
	t.Helper()
	events := NewEvents()
	ch := channel.New(nil, nopTransport{}, channel.Options{User: me})
	sess := session.New(session.Options{User: me, Channel: ch, Loader: staticLoader{}, OnChange: events.Changed})
	t.Cleanup(func() { _ = sess.Close(context.Background()) })

	a := New(sess, events, "alpha")
	a.Update(a.open("alpha")())
	require.False(t, a.loading)
	drain(a.events)
	return a
}

func drain(e *Events) {
	for {
		select {
		case <-e.ch:
		default:
			return
		}
	}
}

func key(s string) tea.KeyMsg {
	switch s {
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	case "esc":
		return tea.KeyMsg{Type: tea.KeyEsc}
	case "shift+right":
		return tea.KeyMsg{Type: tea.KeyShiftRight}
	case "ctrl+z":
		return tea.KeyMsg{Type: tea.KeyCtrlZ}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func press(a *App, keys ...string) {
	for _, k := range keys {
		a.Update(key(k))
	}
}

func TestOpenShowsBoard(t *testing.T) {
	a := newApp(t)

	assert.Equal(t, 3, a.board.Count())
	assert.Contains(t, a.message, "Opened alpha")
	view := a.View()
	assert.Contains(t, view, "Not Started (1)")
	assert.Contains(t, view, "Write docs")
	assert.Contains(t, view, "LIVE")
}

func TestMoveAndUndo(t *testing.T) {
	a := newApp(t)

	press(a, "shift+right")
	card, ok := a.selected()
	require.True(t, ok)
	assert.Equal(t, 2, card.ID, "cursor follows the moved card")
	assert.Equal(t, 1, a.col)
	assert.Equal(t, "Launch > Write docs moved from Not Started to In Progress", a.message)
	assert.True(t, a.sess.CanUndo())

	press(a, "ctrl+z")
	assert.Equal(t, 0, a.col)
	assert.Len(t, a.board[models.ColumnNotStarted], 1)
	assert.Contains(t, a.message, "Undo:")

	press(a, "U")
	assert.Equal(t, 1, a.col)
	assert.Contains(t, a.message, "Redo:")
}

func TestMoveSomeoneElsesCard(t *testing.T) {
	a := newApp(t)

	press(a, "l", ">")
	assert.Equal(t, "Error: you are not assigned to that card", a.message)
	assert.Len(t, a.board[models.ColumnInProgress], 1)
}

func TestCycleDoneStatus(t *testing.T) {
	a := newApp(t)

	press(a, "s")
	assert.Equal(t, "Only cards in Done have a done status", a.message)

	press(a, "l", "l", "s")
	card, _ := a.selected()
	assert.Equal(t, models.StatusOnHold, card.Status)
	assert.False(t, a.sess.CanUndo(), "done status changes are not moves")
}

func TestFilters(t *testing.T) {
	a := newApp(t)

	press(a, "m")
	assert.Equal(t, 2, a.board.Count())
	assert.Contains(t, a.View(), "[mine]")
	press(a, "m")

	press(a, "/", "s", "h", "i", "p", "enter")
	assert.Equal(t, "ship", a.filter.Query)
	assert.Equal(t, 1, a.board.Count())

	press(a, "esc")
	assert.Equal(t, 3, a.board.Count())
}

func TestHistoryJump(t *testing.T) {
	a := newApp(t)

	press(a, "H")
	assert.Equal(t, "Nothing to undo", a.message)

	press(a, ">", ">")
	require.Len(t, a.sess.History(), 2)

	press(a, "H")
	assert.Equal(t, modeHistory, a.mode)
	assert.Contains(t, a.View(), "Undo history")

	press(a, "k", "enter")
	assert.Equal(t, modeBoard, a.mode)
	assert.Equal(t, "Undid 2 moves", a.message)
	assert.Len(t, a.board[models.ColumnNotStarted], 1)
	assert.True(t, a.sess.CanRedo())
}

func TestEvents(t *testing.T) {
	a := newApp(t)

	a.events.Notice(errors.New("send failed"))
	msg := a.events.wait()()
	_, cmd := a.Update(msg)
	assert.Equal(t, "Error: send failed", a.message)
	assert.NotNil(t, cmd, "the loop keeps listening")

	a.events.Notice(fmt.Errorf("%w: now at version 9", session.ErrReloaded))
	a.Update(a.events.wait()())
	assert.Equal(t, "Project was updated by another user, reloaded", a.message)

	require.NoError(t, a.sess.SetField(2, models.FieldName, "Docs"))
	select {
	case msg := <-a.events.ch:
		a.Update(msg)
	case <-time.After(time.Second):
		t.Fatal("no change event")
	}
	assert.Equal(t, "Docs", a.board[models.ColumnNotStarted][0].Name)
}

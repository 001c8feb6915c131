// Package ledger keeps one user's undo and redo history of kanban moves.
package ledger

import (
	"errors"
	"fmt"
	"sync"

	"github.com/fentz26/tasksync/internal/models"
)

// ErrIndexRange is returned by JumpTo for an index outside the undo stack.
var ErrIndexRange = errors.New("history index out of range")

// Board applies a recorded transition. A non-empty actor must be assigned
// to the task; an empty actor skips the check.
type Board interface {
	RestoreTransition(taskID int, status models.Status, percent int, actor string) error
}

// Ledger holds the undo and redo stacks. It only ever calls into the board,
// never the reverse, so holding its lock across a board call cannot deadlock.
type Ledger struct {
	mu    sync.Mutex
	board Board
	undo  []models.UndoEntry
	redo  []models.UndoEntry
}

// New creates an empty ledger over board.
func New(board Board) *Ledger {
	return &Ledger{board: board}
}

// Record pushes a new move and clears the redo stack.
func (l *Ledger) Record(e models.UndoEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.undo = append(l.undo, e)
	l.redo = nil
}

// Undo reverts the newest move for user. When the task is gone the entry is
// discarded and nil is returned. When the user is no longer assigned the
// entry goes back on the stack and ErrPermissionDenied is returned.
func (l *Ledger) Undo(user string) (*models.UndoEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.undo) == 0 {
		return nil, nil
	}
	e := pop(&l.undo)
	err := l.board.RestoreTransition(e.TaskID, e.OldStatus, e.OldPercent, user)
	switch {
	case errors.Is(err, models.ErrTaskNotFound):
		return nil, nil
	case err != nil:
		l.undo = append(l.undo, e)
		return nil, fmt.Errorf("undo: %w", err)
	}
	l.redo = append(l.redo, e)
	return &e, nil
}

// Redo reapplies the newest undone move for user, with the same rules as Undo.
func (l *Ledger) Redo(user string) (*models.UndoEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.redo) == 0 {
		return nil, nil
	}
	e := pop(&l.redo)
	err := l.board.RestoreTransition(e.TaskID, e.NewStatus, e.NewPercent, user)
	switch {
	case errors.Is(err, models.ErrTaskNotFound):
		return nil, nil
	case err != nil:
		l.redo = append(l.redo, e)
		return nil, fmt.Errorf("redo: %w", err)
	}
	l.undo = append(l.undo, e)
	return &e, nil
}

// JumpTo undoes every move from the top of the stack down to and including
// index. Each step lands on the redo stack on its own. Steps are not checked
// against the assignee set; steps whose task is gone are discarded. It
// returns how many moves were undone.
func (l *Ledger) JumpTo(index int) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if index < 0 || index >= len(l.undo) {
		return 0, fmt.Errorf("%w: %d", ErrIndexRange, index)
	}
	undone := 0
	for len(l.undo) > index {
		e := pop(&l.undo)
		err := l.board.RestoreTransition(e.TaskID, e.OldStatus, e.OldPercent, "")
		if errors.Is(err, models.ErrTaskNotFound) {
			continue
		}
		if err != nil {
			l.undo = append(l.undo, e)
			return undone, fmt.Errorf("jump: %w", err)
		}
		l.redo = append(l.redo, e)
		undone++
	}
	return undone, nil
}

// History returns the undo stack, oldest first. Index i is what JumpTo takes.
func (l *Ledger) History() []models.UndoEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]models.UndoEntry(nil), l.undo...)
}

// CanUndo reports whether there is anything to undo.
func (l *Ledger) CanUndo() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.undo) > 0
}

// CanRedo reports whether there is anything to redo.
func (l *Ledger) CanRedo() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.redo) > 0
}

// Reset empties both stacks, as when switching projects.
func (l *Ledger) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.undo, l.redo = nil, nil
}

func pop(stack *[]models.UndoEntry) models.UndoEntry {
	s := *stack
	e := s[len(s)-1]
	*stack = s[:len(s)-1]
	return e
}

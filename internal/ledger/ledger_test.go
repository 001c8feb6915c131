package ledger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fentz26/tasksync/internal/engine"
	"github.com/fentz26/tasksync/internal/models"
	"github.com/fentz26/tasksync/internal/patch"
)

const me = "ab1234"

type sink struct{ sent []patch.Patch }

func (s *sink) Send(p patch.Patch) { s.sent = append(s.sent, p) }

func board(t *testing.T) (*engine.Engine, *sink) {
	t.Helper()
	tree := &models.Tree{Tasks: []*models.Task{
		{ID: 1, Name: "Release", Subtasks: []*models.Task{
			{ID: 2, Name: "Notes", AssignedTo: models.AssigneeSet{me}},
			{ID: 3, Name: "Tag", AssignedTo: models.AssigneeSet{me}},
		}},
	}}
	out := &sink{}
	return engine.New(tree, engine.Options{Project: "alpha", User: me, Sender: out}), out
}

func move(t *testing.T, e *engine.Engine, l *Ledger, id int, col models.Column) {
	t.Helper()
	entry, ok, err := e.MoveToColumn(id, col)
	require.NoError(t, err)
	require.True(t, ok)
	l.Record(entry)
}

func status(e *engine.Engine, id int) (models.Status, int) {
	task, _ := e.Task(id)
	return task.Status, task.PercentComplete
}

func TestUndoRedoRoundTrip(t *testing.T) {
	e, out := board(t)
	l := New(e)
	move(t, e, l, 2, models.ColumnDone)
	out.sent = nil

	entry, err := l.Undo(me)
	require.NoError(t, err)
	require.NotNil(t, entry)
	st, pct := status(e, 2)
	assert.Equal(t, models.StatusNotStarted, st)
	assert.Equal(t, 0, pct)
	assert.False(t, l.CanUndo())
	assert.True(t, l.CanRedo())

	require.Len(t, out.sent, 3)
	assert.Equal(t, models.FieldStatus, out.sent[0].Field)
	assert.Equal(t, models.FieldPercentComplete, out.sent[1].Field)
	assert.Equal(t, 1, out.sent[2].TaskID)

	_, err = l.Redo(me)
	require.NoError(t, err)
	st, pct = status(e, 2)
	assert.Equal(t, models.StatusCompleted, st)
	assert.Equal(t, 100, pct)
	assert.True(t, l.CanUndo())
	assert.False(t, l.CanRedo())
}

func TestUndo_OnlyChangedFieldsEmitted(t *testing.T) {
	e, out := board(t)
	l := New(e)
	move(t, e, l, 2, models.ColumnInProgress)
	out.sent = nil

	_, err := l.Undo(me)
	require.NoError(t, err)

	require.Len(t, out.sent, 1)
	assert.Equal(t, models.FieldStatus, out.sent[0].Field)
}

func TestUndo_RefusedLeavesStacksUnchanged(t *testing.T) {
	e, _ := board(t)
	l := New(e)
	move(t, e, l, 2, models.ColumnDone)
	move(t, e, l, 3, models.ColumnInProgress)
	_, err := l.Undo(me)
	require.NoError(t, err)

	// Someone else reassigns task 2.
	require.NoError(t, e.ApplyRemote(patch.Patch{Op: patch.OpUpdate, TaskID: 2, Field: models.FieldAssignedTo, Value: []byte(`["zz9999"]`)}))
	undoBefore, redoBefore := l.History(), l.CanRedo()

	_, err = l.Undo(me)

	assert.ErrorIs(t, err, models.ErrPermissionDenied)
	assert.Equal(t, undoBefore, l.History())
	assert.Equal(t, redoBefore, l.CanRedo())
	st, _ := status(e, 2)
	assert.Equal(t, models.StatusCompleted, st)
}

func TestUndo_VanishedTaskDropsEntry(t *testing.T) {
	e, _ := board(t)
	l := New(e)
	move(t, e, l, 2, models.ColumnDone)
	require.NoError(t, e.ApplyRemote(patch.Patch{Op: patch.OpDeleteSubtask, TaskID: 2}))

	entry, err := l.Undo(me)

	assert.NoError(t, err)
	assert.Nil(t, entry)
	assert.False(t, l.CanUndo())
	assert.False(t, l.CanRedo())
}

func TestRecordClearsRedo(t *testing.T) {
	e, _ := board(t)
	l := New(e)
	move(t, e, l, 2, models.ColumnDone)
	_, err := l.Undo(me)
	require.NoError(t, err)
	require.True(t, l.CanRedo())

	move(t, e, l, 3, models.ColumnDone)
	assert.False(t, l.CanRedo())
}

func TestJumpTo(t *testing.T) {
	e, _ := board(t)
	l := New(e)
	move(t, e, l, 2, models.ColumnInProgress)
	move(t, e, l, 2, models.ColumnDone)
	move(t, e, l, 3, models.ColumnDone)
	// Ownership is not checked per step.
	require.NoError(t, e.ApplyRemote(patch.Patch{Op: patch.OpUpdate, TaskID: 3, Field: models.FieldAssignedTo, Value: []byte(`[]`)}))

	n, err := l.JumpTo(1)

	require.NoError(t, err)
	assert.Equal(t, 2, n)
	require.Len(t, l.History(), 1)
	st, _ := status(e, 2)
	assert.Equal(t, models.StatusInProgress, st)
	st, pct := status(e, 3)
	assert.Equal(t, models.StatusNotStarted, st)
	assert.Equal(t, 0, pct)

	// The last step undone is the first redone.
	entry, err := l.Redo("")
	require.NoError(t, err)
	assert.Equal(t, 2, entry.TaskID)

	_, err = l.JumpTo(5)
	assert.ErrorIs(t, err, ErrIndexRange)
}

func TestHistoryLabelsAreFrozen(t *testing.T) {
	e, _ := board(t)
	l := New(e)
	move(t, e, l, 2, models.ColumnDone)
	require.NoError(t, e.ApplyRemote(patch.Patch{Op: patch.OpUpdate, TaskID: 2, Field: models.FieldName, Value: []byte(`"Changelog"`)}))

	h := l.History()
	require.Len(t, h, 1)
	assert.Equal(t, "Release > Notes", h[0].Label)
	assert.Equal(t, "Release > Notes moved from Not Started to Done", h[0].String())
}

func TestReset(t *testing.T) {
	e, _ := board(t)
	l := New(e)
	move(t, e, l, 2, models.ColumnDone)
	l.Reset()
	assert.False(t, l.CanUndo())
	entry, err := l.Undo(me)
	assert.NoError(t, err)
	assert.Nil(t, entry)
}

// Package engine owns one client's copy of a project tree. Remote patches
// are applied silently; local actions mutate the tree and emit the patches
// that replicate them, including re-derived ancestor percentages.
package engine

import (
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/fentz26/tasksync/internal/models"
	"github.com/fentz26/tasksync/internal/patch"
)

// Sender queues a patch for replication.
type Sender interface {
	Send(p patch.Patch)
}

// Cache persists the client's working copy between runs.
type Cache interface {
	SaveTree(project string, tree *models.Tree) error
}

// Options configures an Engine.
type Options struct {
	Project  string
	User     string
	Sender   Sender
	Cache    Cache
	Logger   *slog.Logger
	OnChange func()
}

// Engine serializes every read and write of the tree behind one mutex, so
// the socket reader, debounce timers and UI calls never interleave.
type Engine struct {
	mu       sync.Mutex
	project  string
	user     string
	tree     *models.Tree
	sender   Sender
	cache    Cache
	logger   *slog.Logger
	onChange func()
}

// New creates an engine over tree. A nil tree starts empty.
func New(tree *models.Tree, opts Options) *Engine {
	if tree == nil {
		tree = &models.Tree{}
	}
	tree.Normalize()
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Engine{
		project:  opts.Project,
		user:     opts.User,
		tree:     tree,
		sender:   opts.Sender,
		cache:    opts.Cache,
		logger:   opts.Logger.With("project", opts.Project),
		onChange: opts.OnChange,
	}
}

// Project returns the project name.
func (e *Engine) Project() string { return e.project }

// User returns the acting user id.
func (e *Engine) User() string { return e.user }

// View runs fn with the live tree under the engine lock. fn must not retain
// the tree or call back into the engine.
func (e *Engine) View(fn func(tree *models.Tree)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	fn(e.tree)
}

// Snapshot returns a deep copy of the tree.
func (e *Engine) Snapshot() *models.Tree {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tree.Clone()
}

// Task returns a copy of one task.
func (e *Engine) Task(id int) (*models.Task, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.tree.FindByID(id)
	if !ok {
		return nil, false
	}
	return t.Clone(), true
}

// CanEdit reports whether the user may edit a leaf task.
func (e *Engine) CanEdit(id int) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.tree.FindByID(id)
	return ok && t.IsLeaf() && t.AssignedTo.Contains(e.user)
}

// Replace swaps in a freshly loaded tree.
func (e *Engine) Replace(tree *models.Tree) {
	tree.Normalize()
	e.mutate(func() (bool, error) {
		e.tree = tree
		return true, nil
	})
}

// ApplyRemote applies a patch received from another client. Patches for
// tasks that no longer exist are dropped.
func (e *Engine) ApplyRemote(p patch.Patch) error {
	return e.mutate(func() (bool, error) {
		out, err := Mutate(e.tree, p)
		if errors.Is(err, models.ErrTaskNotFound) {
			e.logger.Debug("remote patch for missing task", "op", p.Op, "taskId", p.TaskID, "error", err)
			return false, nil
		}
		if err != nil {
			e.logger.Warn("remote patch not applied", "op", p.Op, "taskId", p.TaskID, "error", err)
			return false, err
		}
		return out.Changed, nil
	})
}

// SetField edits one field of a task and replicates it. Setting the value
// the field already holds does nothing.
func (e *Engine) SetField(taskID int, field string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return e.mutate(func() (bool, error) {
		task, ok := e.tree.FindByID(taskID)
		if !ok {
			return false, models.ErrTaskNotFound
		}
		if err := e.checkEdit(task, field); err != nil {
			return false, err
		}
		if field == models.FieldPercentComplete && percentOver(raw) {
			return false, ErrPercentRange
		}
		changed, err := task.SetField(field, raw)
		if err != nil || !changed {
			return false, err
		}
		e.emitField(task, field)
		if field == models.FieldStatus {
			e.imply(task)
		}
		e.emitDerived(e.tree.RecomputeAncestors(taskID))
		return true, nil
	})
}

// MoveToColumn drops a card into a board column, setting the column's
// default status. It returns the undo entry for the move, or ok=false when
// the card already sits in that column.
func (e *Engine) MoveToColumn(taskID int, col models.Column) (entry models.UndoEntry, ok bool, err error) {
	err = e.mutate(func() (bool, error) {
		task, found := e.tree.FindByID(taskID)
		if !found {
			return false, models.ErrTaskNotFound
		}
		if !task.IsLeaf() {
			return false, ErrNotLeaf
		}
		if !task.AssignedTo.Contains(e.user) {
			return false, models.ErrPermissionDenied
		}
		if task.Status.Column() == col {
			return false, nil
		}

		entry = models.UndoEntry{
			TaskID:     taskID,
			OldStatus:  task.Status.Normalize(),
			OldPercent: task.PercentComplete,
			Label:      strings.Join(e.tree.Breadcrumb(taskID), " > "),
		}
		task.Status = col.DefaultStatus()
		e.emitField(task, models.FieldStatus)
		e.imply(task)
		e.emitDerived(e.tree.RecomputeAncestors(taskID))

		entry.NewStatus = task.Status
		entry.NewPercent = task.PercentComplete
		ok = true
		return true, nil
	})
	return entry, ok, err
}

// RestoreTransition sets a task's status and percent to recorded values and
// replicates whichever of the two changed. A non-empty actor must be
// assigned to the task; an empty actor skips the check.
func (e *Engine) RestoreTransition(taskID int, status models.Status, percent int, actor string) error {
	return e.mutate(func() (bool, error) {
		task, ok := e.tree.FindByID(taskID)
		if !ok {
			return false, models.ErrTaskNotFound
		}
		if actor != "" && !task.AssignedTo.Contains(actor) {
			return false, models.ErrPermissionDenied
		}
		changed := false
		if task.Status.Normalize() != status {
			task.Status = status
			e.emitField(task, models.FieldStatus)
			changed = true
		}
		if task.PercentComplete != percent {
			task.PercentComplete = percent
			e.emitField(task, models.FieldPercentComplete)
			changed = true
		}
		if changed {
			e.emitDerived(e.tree.RecomputeAncestors(taskID))
		}
		return changed, nil
	})
}

// AddTask appends a top-level task, allocating its id when it has none.
func (e *Engine) AddTask(task *models.Task) (int, error) {
	var id int
	err := e.mutate(func() (bool, error) {
		t := task.Clone()
		if t.ID == 0 {
			t.ID = e.tree.NextID()
		}
		t.Normalize()
		if err := e.tree.Add(t); err != nil {
			return false, err
		}
		id = t.ID
		e.send(patch.AddTask(t))
		return true, nil
	})
	return id, err
}

// AddSubtask appends a subtask under parentID.
func (e *Engine) AddSubtask(parentID int, task *models.Task) (int, error) {
	var id int
	err := e.mutate(func() (bool, error) {
		t := task.Clone()
		if t.ID == 0 {
			t.ID = e.tree.NextID()
		}
		t.Normalize()
		if err := e.tree.AddChild(parentID, t); err != nil {
			return false, err
		}
		id = t.ID
		e.send(patch.AddSubtask(parentID, t))
		e.emitDerived(recomputeFrom(e.tree, parentID))
		return true, nil
	})
	return id, err
}

// DeleteTask removes a task and its subtree and clears references to them.
func (e *Engine) DeleteTask(taskID int) error {
	return e.mutate(func() (bool, error) {
		loc, ok := e.tree.FindParentOf(taskID)
		if !ok {
			return false, models.ErrTaskNotFound
		}
		e.tree.Remove(taskID)
		e.send(patch.Delete(taskID, loc.Parent == nil))
		if loc.Parent != nil {
			e.emitDerived(recomputeFrom(e.tree, loc.Parent.ID))
		}
		return true, nil
	})
}

// ReorderSubtask swaps a task with its previous or next sibling.
func (e *Engine) ReorderSubtask(taskID int, direction string) error {
	return e.mutate(func() (bool, error) {
		if err := e.tree.Move(taskID, direction); err != nil {
			return false, err
		}
		e.send(patch.Reorder(taskID, direction))
		return true, nil
	})
}

// mutate runs fn under the lock, persists when it changed something and
// notifies after the lock is released.
func (e *Engine) mutate(fn func() (bool, error)) error {
	e.mu.Lock()
	changed, err := fn()
	if changed && e.cache != nil {
		if cerr := e.cache.SaveTree(e.project, e.tree); cerr != nil {
			e.logger.Warn("save local cache", "error", cerr)
		}
	}
	e.mu.Unlock()

	if changed && e.onChange != nil {
		e.onChange()
	}
	return err
}

func (e *Engine) checkEdit(task *models.Task, field string) error {
	if !task.IsLeaf() {
		if field == models.FieldPercentComplete {
			return ErrDerivedField
		}
		return nil
	}
	if !task.AssignedTo.Contains(e.user) {
		return models.ErrPermissionDenied
	}
	return nil
}

// imply applies the percent a local status change forces and replicates it.
func (e *Engine) imply(task *models.Task) {
	p, ok := task.Status.ImpliedPercent()
	if !ok || task.PercentComplete == p {
		return
	}
	task.PercentComplete = p
	e.emitField(task, models.FieldPercentComplete)
}

func (e *Engine) emitField(task *models.Task, field string) {
	v, err := task.Value(field)
	if err != nil {
		e.logger.Error("emit field", "field", field, "error", err)
		return
	}
	p, err := patch.EncodeFieldPatch(task, field, v)
	if err != nil {
		e.logger.Error("emit field", "field", field, "error", err)
		return
	}
	e.send(p)
}

func (e *Engine) emitDerived(tasks []*models.Task) {
	for _, t := range tasks {
		e.emitField(t, models.FieldPercentComplete)
	}
}

func (e *Engine) send(p patch.Patch) {
	if e.sender == nil {
		return
	}
	p.Project = e.project
	e.sender.Send(p)
}

// percentOver reports whether a raw percent value is above 100. Negative
// values are clamped later rather than rejected.
func percentOver(raw json.RawMessage) bool {
	var f float64
	if json.Unmarshal(raw, &f) == nil {
		return f > 100
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		return err == nil && f > 100
	}
	return false
}

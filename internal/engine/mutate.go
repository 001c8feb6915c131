package engine

import (
	"errors"
	"fmt"

	"github.com/fentz26/tasksync/internal/models"
	"github.com/fentz26/tasksync/internal/patch"
)

// Outcome describes what Mutate did to a tree.
type Outcome struct {
	// Patch is the patch as applied; updateCell arrives here translated.
	Patch patch.Patch
	// Changed is false when the patch left the tree as it was.
	Changed bool
	// Derived lists ancestors whose percent was re-derived to a new value.
	Derived []*models.Task
}

// Mutate applies p to tree. It never emits anything and applies no
// status-to-percent implication, so every replica that receives the same
// patch ends in the same state. Both clients and the relay use it.
func Mutate(tree *models.Tree, p patch.Patch) (Outcome, error) {
	out := Outcome{Patch: p}

	switch p.Op {
	case patch.OpUpdateCell:
		up, err := patch.TranslateCellPatch(tree, p)
		if errors.Is(err, patch.ErrNotPatchable) {
			// Derived and unknown columns are ignored.
			return out, nil
		}
		if err != nil {
			return out, err
		}
		return Mutate(tree, up)

	case patch.OpUpdate:
		task, ok := tree.FindByID(p.TaskID)
		if !ok {
			return out, fmt.Errorf("update %d: %w", p.TaskID, models.ErrTaskNotFound)
		}
		changed, err := task.SetField(p.Field, p.Value)
		if err != nil {
			return out, err
		}
		out.Changed = changed
		if changed && (p.Field == models.FieldPercentComplete || p.Field == models.FieldStatus) {
			out.Derived = tree.RecomputeAncestors(p.TaskID)
		}

	case patch.OpAddTask:
		if p.Task == nil {
			return out, fmt.Errorf("addTask: %w", models.ErrInvalidValue)
		}
		task := p.Task.Clone()
		task.Normalize()
		if err := tree.Add(task); err != nil {
			return out, fmt.Errorf("addTask %d: %w", task.ID, err)
		}
		out.Changed = true

	case patch.OpAddSubtask:
		if p.Subtask == nil {
			return out, fmt.Errorf("addSubtask: %w", models.ErrInvalidValue)
		}
		sub := p.Subtask.Clone()
		sub.Normalize()
		if err := tree.AddChild(p.ParentTaskID, sub); err != nil {
			return out, fmt.Errorf("addSubtask %d under %d: %w", sub.ID, p.ParentTaskID, err)
		}
		out.Changed = true
		out.Derived = recomputeFrom(tree, p.ParentTaskID)

	case patch.OpDeleteTask, patch.OpDeleteSubtask:
		loc, ok := tree.FindParentOf(p.TaskID)
		if !ok {
			return out, fmt.Errorf("%s %d: %w", p.Op, p.TaskID, models.ErrTaskNotFound)
		}
		tree.Remove(p.TaskID)
		out.Changed = true
		if loc.Parent != nil {
			out.Derived = recomputeFrom(tree, loc.Parent.ID)
		}

	case patch.OpReorderSubtask:
		if err := tree.Move(p.TaskID, p.Direction); err != nil {
			return out, fmt.Errorf("reorder %d: %w", p.TaskID, err)
		}
		out.Changed = true

	default:
		return out, fmt.Errorf("%w: %q", ErrUnknownOp, p.Op)
	}
	return out, nil
}

// recomputeFrom re-derives id itself and then its ancestors, returning the
// nodes whose percent moved.
func recomputeFrom(tree *models.Tree, id int) []*models.Task {
	node, ok := tree.FindByID(id)
	if !ok {
		return nil
	}
	var changed []*models.Task
	before := node.PercentComplete
	models.RecomputePercent(node)
	if node.PercentComplete != before {
		changed = append(changed, node)
	}
	return append(changed, tree.RecomputeAncestors(id)...)
}

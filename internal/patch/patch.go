// Package patch defines the wire format shared by clients and the relay:
// field-level patches, the legacy positional cell dialect, and the grid export.
package patch

import (
	"encoding/json"
	"fmt"

	"github.com/fentz26/tasksync/internal/models"
)

// Op names a patch operation.
type Op string

const (
	OpUpdate         Op = "update"
	OpAddTask        Op = "addTask"
	OpAddSubtask     Op = "addSubtask"
	OpDeleteTask     Op = "deleteTask"
	OpDeleteSubtask  Op = "deleteSubtask"
	OpUpdateCell     Op = "updateCell"
	OpReorderSubtask Op = "reorderSubtask"
)

// Structural reports whether the op changes the shape of the tree.
func (o Op) Structural() bool {
	switch o {
	case OpAddTask, OpAddSubtask, OpDeleteTask, OpDeleteSubtask, OpReorderSubtask:
		return true
	}
	return false
}

// Patch is one replicated change. Which fields are set depends on Op.
// Version is stamped by the relay on the patches it broadcasts.
type Patch struct {
	Op           Op              `json:"op" validate:"required,oneof=update addTask addSubtask deleteTask deleteSubtask updateCell reorderSubtask"`
	TaskID       int             `json:"taskId,omitempty" validate:"gte=0"`
	Field        string          `json:"field,omitempty"`
	Value        json.RawMessage `json:"value,omitempty"`
	Task         *models.Task    `json:"task,omitempty"`
	ParentTaskID int             `json:"parentTaskId,omitempty" validate:"gte=0"`
	Subtask      *models.Task    `json:"subtask,omitempty"`
	Key          string          `json:"key,omitempty"`
	Cell         *Cell           `json:"cell,omitempty"`
	Direction    string          `json:"direction,omitempty" validate:"omitempty,oneof=up down"`
	NoBroadcast  bool            `json:"noBroadcast,omitempty"`
	Version      int64           `json:"version,omitempty"`
	Project      string          `json:"project" validate:"required,max=128,projectname"`
	User         string          `json:"user,omitempty"`
	ClientID     string          `json:"clientId,omitempty"`
}

// Cell is one cell of the legacy grid.
type Cell struct {
	Text   string `json:"text"`
	Align  string `json:"align,omitempty"`
	Indent int    `json:"indent,omitempty"`
}

// Touches reports whether the patch targets the given task, either directly,
// as the parent of an added subtask, or as the added task itself.
func (p Patch) Touches(id int) bool {
	switch {
	case p.TaskID == id, p.ParentTaskID == id:
		return true
	case p.Task != nil && p.Task.ID == id:
		return true
	case p.Subtask != nil && p.Subtask.ID == id:
		return true
	}
	return false
}

// Target returns the id of the task the patch is about, if any.
func (p Patch) Target() int {
	switch {
	case p.TaskID != 0:
		return p.TaskID
	case p.Task != nil:
		return p.Task.ID
	case p.Subtask != nil:
		return p.Subtask.ID
	}
	return 0
}

// EncodeFieldPatch builds an update patch setting field on task to value.
func EncodeFieldPatch(task *models.Task, field string, value any) (Patch, error) {
	if task == nil {
		return Patch{}, models.ErrTaskNotFound
	}
	if _, err := task.Value(field); err != nil {
		return Patch{}, err
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return Patch{}, fmt.Errorf("encode %s: %w", field, err)
	}
	return Patch{Op: OpUpdate, TaskID: task.ID, Field: field, Value: raw}, nil
}

// AddTask builds an addTask patch carrying a deep copy of task.
func AddTask(task *models.Task) Patch {
	return Patch{Op: OpAddTask, Task: task.Clone()}
}

// AddSubtask builds an addSubtask patch carrying a deep copy of sub.
func AddSubtask(parentID int, sub *models.Task) Patch {
	return Patch{Op: OpAddSubtask, ParentTaskID: parentID, Subtask: sub.Clone()}
}

// Delete builds the delete patch appropriate for a task's level.
func Delete(id int, topLevel bool) Patch {
	if topLevel {
		return Patch{Op: OpDeleteTask, TaskID: id}
	}
	return Patch{Op: OpDeleteSubtask, TaskID: id}
}

// Reorder builds a reorderSubtask patch.
func Reorder(id int, direction string) Patch {
	return Patch{Op: OpReorderSubtask, TaskID: id, Direction: direction}
}

package models

import "fmt"

// UndoEntry records one kanban move so it can be reverted. The label is
// captured when the move happens and is not refreshed if the task is renamed.
type UndoEntry struct {
	TaskID     int    `json:"taskId"`
	OldStatus  Status `json:"oldStatus"`
	NewStatus  Status `json:"newStatus"`
	OldPercent int    `json:"oldPercent"`
	NewPercent int    `json:"newPercent"`
	Label      string `json:"label"`
}

// String describes the move for history lists.
func (e UndoEntry) String() string {
	return fmt.Sprintf("%s moved from %s to %s", e.Label, e.OldStatus.Column().Title(), e.NewStatus.Column().Title())
}

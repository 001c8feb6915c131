// Package models defines the project task tree shared by every client and the relay.
package models

import (
	"bytes"
	"encoding/json"
	"strconv"
)

// MaxDepth is the deepest supported nesting: task, subtask, sub-subtask.
const MaxDepth = 3

// Task is one node of the project tree.
type Task struct {
	ID              int            `json:"id"`
	Name            string         `json:"name"`
	StartDate       string         `json:"startDate"`
	EndDate         string         `json:"endDate"`
	PercentComplete int            `json:"percentComplete"`
	Status          Status         `json:"status"`
	AssignedTo      AssigneeSet    `json:"assignedTo"`
	Cost            Cost           `json:"cost"`
	Flagged         bool           `json:"flagged"`
	Predecessor     PredecessorSet `json:"predecessor"`
	Description     string         `json:"description"`
	Attachments     []Attachment   `json:"attachments"`
	Subtasks        []*Task        `json:"subtasks"`
}

// Attachment describes a file stored by the attachment service.
type Attachment struct {
	Name       string `json:"name"`
	Size       int64  `json:"size"`
	MimeType   string `json:"mimeType"`
	StoredName string `json:"storedName"`
	Uploading  bool   `json:"uploading,omitempty"`
}

// IsLeaf reports whether the task has no subtasks.
func (t *Task) IsLeaf() bool {
	return len(t.Subtasks) == 0
}

// Clone returns a deep copy of the task and its subtree.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	c := *t
	if t.AssignedTo != nil {
		c.AssignedTo = append(AssigneeSet{}, t.AssignedTo...)
	}
	if t.Predecessor != nil {
		c.Predecessor = append(PredecessorSet{}, t.Predecessor...)
	}
	if t.Attachments != nil {
		c.Attachments = append([]Attachment{}, t.Attachments...)
	}
	if t.Subtasks != nil {
		c.Subtasks = make([]*Task, len(t.Subtasks))
		for i, st := range t.Subtasks {
			c.Subtasks[i] = st.Clone()
		}
	}
	return &c
}

// Normalize fills defaults across the subtree: empty status reads as Not
// Started, nil sets become empty ones and nil subtasks are dropped.
func (t *Task) Normalize() {
	t.walk(func(n *Task) {
		n.Subtasks = compact(n.Subtasks)
		n.Status = n.Status.Normalize()
		if n.AssignedTo == nil {
			n.AssignedTo = AssigneeSet{}
		}
		if n.Predecessor == nil {
			n.Predecessor = PredecessorSet{}
		}
	})
}

// height returns the number of levels in the subtree rooted at t.
func (t *Task) height() int {
	h := 0
	for _, st := range t.Subtasks {
		if sh := st.height(); sh > h {
			h = sh
		}
	}
	return h + 1
}

// walk visits t and all its descendants depth-first.
func (t *Task) walk(fn func(*Task)) {
	fn(t)
	for _, st := range t.Subtasks {
		st.walk(fn)
	}
}

// Cost is a free-form numeric-ish string. Older snapshots stored it as a JSON number.
type Cost string

// UnmarshalJSON accepts either a string or a number.
func (c *Cost) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*c = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*c = Cost(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*c = Cost(n.String())
	return nil
}

func parseID(s string) (int, bool) {
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

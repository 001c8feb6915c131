package models

import (
	"iter"
	"strings"
)

// Tree is the whole task hierarchy of one project.
type Tree struct {
	Tasks         []*Task `json:"tasks"`
	TaskIDCounter int     `json:"taskIdCounter"`
}

// Location is where a task sits: its parent (nil for top level), the sibling list and its index.
type Location struct {
	Parent   *Task
	Siblings []*Task
	Index    int
}

// Leaf is a task with no subtasks plus the names leading to it.
type Leaf struct {
	Task       *Task
	Breadcrumb []string
}

// Label joins the breadcrumb for display.
func (l Leaf) Label() string {
	return strings.Join(l.Breadcrumb, " > ")
}

// Row is one line of the flattened grid view.
type Row struct {
	Task   *Task
	Indent int
}

// Normalize repairs a freshly decoded tree: nil tasks are dropped and the id
// counter is raised past every id in use.
func (t *Tree) Normalize() {
	t.Tasks = compact(t.Tasks)
	for _, task := range t.Tasks {
		task.Normalize()
	}
	t.observe(t.Tasks...)
}

func compact(list []*Task) []*Task {
	out := list[:0]
	for _, t := range list {
		if t != nil {
			out = append(out, t)
		}
	}
	return out
}

// Clone returns a deep copy of the tree.
func (t *Tree) Clone() *Tree {
	c := &Tree{TaskIDCounter: t.TaskIDCounter}
	if t.Tasks != nil {
		c.Tasks = make([]*Task, len(t.Tasks))
		for i, task := range t.Tasks {
			c.Tasks[i] = task.Clone()
		}
	}
	return c
}

// NextID allocates a fresh task id. Ids are never reused.
func (t *Tree) NextID() int {
	t.TaskIDCounter++
	return t.TaskIDCounter
}

// observe raises the counter to cover the ids in the given subtrees.
func (t *Tree) observe(tasks ...*Task) {
	for _, task := range tasks {
		task.walk(func(n *Task) {
			if n.ID > t.TaskIDCounter {
				t.TaskIDCounter = n.ID
			}
		})
	}
}

// FindByID searches the whole tree depth-first.
func (t *Tree) FindByID(id int) (*Task, bool) {
	loc, ok := t.FindParentOf(id)
	if !ok {
		return nil, false
	}
	return loc.Siblings[loc.Index], true
}

// FindParentOf locates a task within its parent's subtask list.
func (t *Tree) FindParentOf(id int) (Location, bool) {
	return findIn(nil, t.Tasks, id)
}

func findIn(parent *Task, list []*Task, id int) (Location, bool) {
	for i, task := range list {
		if task.ID == id {
			return Location{Parent: parent, Siblings: list, Index: i}, true
		}
		if loc, ok := findIn(task, task.Subtasks, id); ok {
			return loc, true
		}
	}
	return Location{}, false
}

// Ancestors returns the chain of parents of id, nearest first.
func (t *Tree) Ancestors(id int) []*Task {
	var chain []*Task
	for {
		loc, ok := t.FindParentOf(id)
		if !ok || loc.Parent == nil {
			return chain
		}
		chain = append(chain, loc.Parent)
		id = loc.Parent.ID
	}
}

// Depth returns the 1-based level of id, or 0 when it is not in the tree.
func (t *Tree) Depth(id int) int {
	if _, ok := t.FindByID(id); !ok {
		return 0
	}
	return len(t.Ancestors(id)) + 1
}

// Breadcrumb returns the names from the top-level task down to id.
func (t *Tree) Breadcrumb(id int) []string {
	task, ok := t.FindByID(id)
	if !ok {
		return nil
	}
	chain := t.Ancestors(id)
	crumbs := make([]string, 0, len(chain)+1)
	for i := len(chain) - 1; i >= 0; i-- {
		crumbs = append(crumbs, displayName(chain[i]))
	}
	return append(crumbs, displayName(task))
}

func displayName(t *Task) string {
	if strings.TrimSpace(t.Name) == "" {
		return "(unnamed)"
	}
	return t.Name
}

// Add appends a new top-level task.
func (t *Tree) Add(task *Task) error {
	if _, exists := t.FindByID(task.ID); exists {
		return ErrDuplicateID
	}
	if task.height() > MaxDepth {
		return ErrTooDeep
	}
	t.Tasks = append(t.Tasks, task)
	t.observe(task)
	return nil
}

// AddChild appends task to the subtasks of parentID.
func (t *Tree) AddChild(parentID int, task *Task) error {
	parent, ok := t.FindByID(parentID)
	if !ok {
		return ErrTaskNotFound
	}
	if _, exists := t.FindByID(task.ID); exists {
		return ErrDuplicateID
	}
	if t.Depth(parentID)+task.height() > MaxDepth {
		return ErrTooDeep
	}
	parent.Subtasks = append(parent.Subtasks, task)
	t.observe(task)
	return nil
}

// Remove detaches id and its subtree, then clears every predecessor
// reference to any removed id.
func (t *Tree) Remove(id int) (*Task, bool) {
	loc, ok := t.FindParentOf(id)
	if !ok {
		return nil, false
	}
	removed := loc.Siblings[loc.Index]
	rest := append(loc.Siblings[:loc.Index:loc.Index], loc.Siblings[loc.Index+1:]...)
	if loc.Parent == nil {
		t.Tasks = rest
	} else {
		loc.Parent.Subtasks = rest
	}
	removed.walk(func(n *Task) {
		t.ClearPredecessorRefs(n.ID)
	})
	return removed, true
}

// Move swaps id with its previous ("up") or next ("down") sibling.
func (t *Tree) Move(id int, direction string) error {
	loc, ok := t.FindParentOf(id)
	if !ok {
		return ErrTaskNotFound
	}
	i, s := loc.Index, loc.Siblings
	switch {
	case direction == "up" && i > 0:
		s[i], s[i-1] = s[i-1], s[i]
	case direction == "down" && i < len(s)-1:
		s[i], s[i+1] = s[i+1], s[i]
	default:
		return ErrCannotMove
	}
	return nil
}

// ClearPredecessorRefs removes deletedID from every predecessor set and
// returns how many tasks were touched.
func (t *Tree) ClearPredecessorRefs(deletedID int) int {
	touched := 0
	for _, task := range t.Tasks {
		task.walk(func(n *Task) {
			if rest, ok := n.Predecessor.Without(deletedID); ok {
				n.Predecessor = rest
				touched++
			}
		})
	}
	return touched
}

// RecomputePercent re-derives the percent of node and every non-leaf below
// it from their direct children. Leaves are left alone.
func RecomputePercent(node *Task) {
	if node.IsLeaf() {
		return
	}
	sum := 0
	for _, child := range node.Subtasks {
		RecomputePercent(child)
		sum += child.PercentComplete
	}
	node.PercentComplete = roundMean(sum, len(node.Subtasks))
}

// roundMean rounds half up, matching the board's original arithmetic.
func roundMean(sum, n int) int {
	if sum < 0 {
		return -roundMean(-sum, n)
	}
	return (2*sum + n) / (2 * n)
}

// RecomputeAncestors re-derives every ancestor of id, nearest first, and
// returns the ones whose percent changed.
func (t *Tree) RecomputeAncestors(id int) []*Task {
	var changed []*Task
	for _, anc := range t.Ancestors(id) {
		before := anc.PercentComplete
		RecomputePercent(anc)
		if anc.PercentComplete != before {
			changed = append(changed, anc)
		}
	}
	return changed
}

// RecomputeAll re-derives every non-leaf in the tree.
func (t *Tree) RecomputeAll() {
	for _, task := range t.Tasks {
		RecomputePercent(task)
	}
}

// Leaves lazily yields every named leaf with its breadcrumb. Nodes with an
// empty name are skipped together with their subtree.
func (t *Tree) Leaves() iter.Seq[Leaf] {
	return func(yield func(Leaf) bool) {
		var walk func(n *Task, path []string) bool
		walk = func(n *Task, path []string) bool {
			if strings.TrimSpace(n.Name) == "" {
				return true
			}
			path = append(path[:len(path):len(path)], n.Name)
			if n.IsLeaf() {
				return yield(Leaf{Task: n, Breadcrumb: path})
			}
			for _, st := range n.Subtasks {
				if !walk(st, path) {
					return false
				}
			}
			return true
		}
		for _, task := range t.Tasks {
			if !walk(task, nil) {
				return
			}
		}
	}
}

// Rows flattens the tree depth-first in tree order. Empty-named top-level
// tasks are skipped with their subtrees; unnamed subtasks keep their row.
// Grid export and positional cell addressing both use it so they always agree.
func (t *Tree) Rows() []Row {
	var rows []Row
	var walk func(n *Task, indent int)
	walk = func(n *Task, indent int) {
		if indent == 0 && strings.TrimSpace(n.Name) == "" {
			return
		}
		rows = append(rows, Row{Task: n, Indent: indent})
		for _, st := range n.Subtasks {
			walk(st, indent+1)
		}
	}
	for _, task := range t.Tasks {
		walk(task, 0)
	}
	return rows
}

// TaskAtRow resolves a positional row index against the current tree.
func (t *Tree) TaskAtRow(row int) (*Task, bool) {
	rows := t.Rows()
	if row < 0 || row >= len(rows) {
		return nil, false
	}
	return rows[row].Task, true
}

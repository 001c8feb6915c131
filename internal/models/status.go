package models

// Status is the workflow state of a task.
type Status string

const (
	StatusNotStarted Status = "Not Started"
	StatusInProgress Status = "In Progress"
	StatusCompleted  Status = "Completed"
	StatusOnHold     Status = "On Hold"
	StatusCancelled  Status = "Cancelled"
)

// Statuses lists every valid status in display order.
var Statuses = []Status{StatusNotStarted, StatusInProgress, StatusCompleted, StatusOnHold, StatusCancelled}

// DoneStatuses are the statuses selectable on a card in the done column.
var DoneStatuses = []Status{StatusCompleted, StatusOnHold, StatusCancelled}

// ParseStatus returns the status named by s.
func ParseStatus(s string) (Status, bool) {
	for _, st := range Statuses {
		if string(st) == s {
			return st, true
		}
	}
	return "", false
}

// Normalize maps the empty status to Not Started.
func (s Status) Normalize() Status {
	if s == "" {
		return StatusNotStarted
	}
	return s
}

// ImpliedPercent returns the percent a local status change forces, if any.
func (s Status) ImpliedPercent() (int, bool) {
	switch s {
	case StatusCompleted:
		return 100, true
	case StatusNotStarted:
		return 0, true
	}
	return 0, false
}

// Column returns the board column that shows a task in this status.
func (s Status) Column() Column {
	switch s.Normalize() {
	case StatusInProgress:
		return ColumnInProgress
	case StatusCompleted, StatusOnHold, StatusCancelled:
		return ColumnDone
	default:
		return ColumnNotStarted
	}
}

// Column is one of the three kanban board columns.
type Column string

const (
	ColumnNotStarted Column = "not-started"
	ColumnInProgress Column = "in-progress"
	ColumnDone       Column = "done"
)

// Columns lists the board columns left to right.
var Columns = []Column{ColumnNotStarted, ColumnInProgress, ColumnDone}

// DefaultStatus is the status a card takes when dropped into the column.
func (c Column) DefaultStatus() Status {
	switch c {
	case ColumnInProgress:
		return StatusInProgress
	case ColumnDone:
		return StatusCompleted
	default:
		return StatusNotStarted
	}
}

// Title is the column heading.
func (c Column) Title() string {
	switch c {
	case ColumnInProgress:
		return "In Progress"
	case ColumnDone:
		return "Done"
	default:
		return "Not Started"
	}
}

// ParseColumn returns the column with the given key.
func ParseColumn(s string) (Column, bool) {
	for _, c := range Columns {
		if string(c) == s {
			return c, true
		}
	}
	return "", false
}

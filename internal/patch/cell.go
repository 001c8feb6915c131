package patch

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/fentz26/tasksync/internal/models"
)

// Grid column indices. Column 3 (duration) is derived from the dates.
const (
	ColName = iota
	ColStartDate
	ColEndDate
	ColDuration
	ColPredecessor
	ColPercent
	ColStatus
	ColAssignedTo
	ColCost
)

var colToField = map[int]string{
	ColName:        models.FieldName,
	ColStartDate:   models.FieldStartDate,
	ColEndDate:     models.FieldEndDate,
	ColPredecessor: models.FieldPredecessor,
	ColPercent:     models.FieldPercentComplete,
	ColStatus:      models.FieldStatus,
	ColAssignedTo:  models.FieldAssignedTo,
	ColCost:        models.FieldCost,
}

// FieldForColumn returns the task field edited through a grid column.
func FieldForColumn(col int) (string, bool) {
	f, ok := colToField[col]
	return f, ok
}

// CellKey formats a sparse grid key.
func CellKey(row, col int) string {
	return strconv.Itoa(row) + "-" + strconv.Itoa(col)
}

// ParseCellKey splits a "<row>-<col>" key.
func ParseCellKey(key string) (row, col int, err error) {
	r, c, ok := strings.Cut(key, "-")
	if !ok {
		return 0, 0, fmt.Errorf("%w: %q", ErrBadCellKey, key)
	}
	row, err1 := strconv.Atoi(r)
	col, err2 := strconv.Atoi(c)
	if err1 != nil || err2 != nil || row < 0 || col < 0 {
		return 0, 0, fmt.Errorf("%w: %q", ErrBadCellKey, key)
	}
	return row, col, nil
}

// TranslateCellPatch converts a legacy updateCell patch into a field update
// against the current tree. The row is resolved on every call by walking the
// tree, so concurrent structural edits can shift which task a row names.
// Columns that map to no field return ErrNotPatchable; appliers ignore them.
func TranslateCellPatch(tree *models.Tree, p Patch) (Patch, error) {
	if p.Op != OpUpdateCell {
		return Patch{}, fmt.Errorf("%w: %s", ErrWrongOp, p.Op)
	}
	row, col, err := ParseCellKey(p.Key)
	if err != nil {
		return Patch{}, err
	}
	field, ok := FieldForColumn(col)
	if !ok {
		return Patch{}, fmt.Errorf("%w: column %d", ErrNotPatchable, col)
	}
	task, ok := tree.TaskAtRow(row)
	if !ok {
		return Patch{}, fmt.Errorf("row %d: %w", row, models.ErrTaskNotFound)
	}

	var text string
	if p.Cell != nil {
		text = strings.TrimSpace(p.Cell.Text)
	}
	value, err := json.Marshal(cellValue(tree, field, text))
	if err != nil {
		return Patch{}, fmt.Errorf("encode cell value: %w", err)
	}

	return Patch{
		Op:          OpUpdate,
		TaskID:      task.ID,
		Field:       field,
		Value:       value,
		NoBroadcast: p.NoBroadcast,
		Project:     p.Project,
		User:        p.User,
		ClientID:    p.ClientID,
	}, nil
}

// cellValue maps free-form cell text to a field value, falling back to the
// field's default when the text does not parse.
func cellValue(tree *models.Tree, field, text string) any {
	switch field {
	case models.FieldStartDate, models.FieldEndDate:
		if _, err := time.Parse(time.DateOnly, text); err != nil {
			return ""
		}
		return text
	case models.FieldPercentComplete:
		return models.ClampPercent(leadingInt(text))
	case models.FieldStatus:
		if st, ok := models.ParseStatus(text); ok {
			return st
		}
		return models.StatusNotStarted
	case models.FieldAssignedTo:
		return models.ParseAssigneeList(text)
	case models.FieldPredecessor:
		return resolvePredecessors(tree, text)
	}
	return text
}

// leadingInt reads an optional sign and the digits that follow, ignoring any
// trailing text. Anything else is 0.
func leadingInt(s string) int {
	end := 0
	if end < len(s) && (s[end] == '-' || s[end] == '+') {
		end++
	}
	start := end
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == start {
		return 0
	}
	n, err := strconv.Atoi(s[:end])
	if err != nil {
		return 0
	}
	return n
}

// resolvePredecessors accepts ids or the breadcrumb labels ExportGrid writes,
// for tasks at any level. Unknown tokens are dropped.
func resolvePredecessors(tree *models.Tree, text string) models.PredecessorSet {
	set := models.PredecessorSet{}
	if text == "" {
		return set
	}
	var labels map[string]int
	for _, token := range strings.Split(text, ",") {
		token = strings.TrimSpace(token)
		if token == "" {
			continue
		}
		if ids := models.ParsePredecessorList(token); len(ids) > 0 {
			if !set.Contains(ids[0]) {
				set = append(set, ids[0])
			}
			continue
		}
		if labels == nil {
			labels = make(map[string]int)
			for _, r := range tree.Rows() {
				label := strings.Join(tree.Breadcrumb(r.Task.ID), " > ")
				if _, dup := labels[label]; !dup {
					labels[label] = r.Task.ID
				}
			}
		}
		if id, ok := labels[token]; ok && !set.Contains(id) {
			set = append(set, id)
		}
	}
	return set
}

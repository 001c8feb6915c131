package patch

import (
	"strconv"
	"strings"
	"time"

	"github.com/fentz26/tasksync/internal/models"
)

// Column describes one column of the legacy grid.
type Column struct {
	ID               int              `json:"id"`
	Name             string           `json:"name"`
	Type             string           `json:"type"`
	Width            int              `json:"width"`
	DurationStartCol *int             `json:"durationStartCol,omitempty"`
	DurationEndCol   *int             `json:"durationEndCol,omitempty"`
	DropdownOptions  []DropdownOption `json:"dropdownOptions,omitempty"`
}

// DropdownOption is one selectable value of a dropdown column.
type DropdownOption struct {
	Value string `json:"value"`
	Color string `json:"color"`
}

// Grid is the spreadsheet rendition of a tree: a column schema plus sparse
// cells keyed "<row>-<col>".
type Grid struct {
	Columns  []Column        `json:"columns"`
	CellData map[string]Cell `json:"cellData"`
	Rows     int             `json:"rows"`
}

var statusColors = map[models.Status]string{
	models.StatusNotStarted: "#f0f0f0",
	models.StatusInProgress: "#e3f0fc",
	models.StatusCompleted:  "#e6f5ea",
	models.StatusOnHold:     "#fff3e0",
	models.StatusCancelled:  "#fde8e8",
}

// GridColumns returns the fixed column schema.
func GridColumns() []Column {
	start, end := ColStartDate, ColEndDate
	opts := make([]DropdownOption, len(models.Statuses))
	for i, s := range models.Statuses {
		opts[i] = DropdownOption{Value: string(s), Color: statusColors[s]}
	}
	return []Column{
		{ID: ColName, Name: "Task Name", Type: "text", Width: 250},
		{ID: ColStartDate, Name: "Start Date", Type: "date", Width: 140},
		{ID: ColEndDate, Name: "End Date", Type: "date", Width: 140},
		{ID: ColDuration, Name: "Duration", Type: "duration", Width: 100, DurationStartCol: &start, DurationEndCol: &end},
		{ID: ColPredecessor, Name: "Predecessor", Type: "predecessor", Width: 180},
		{ID: ColPercent, Name: "% Complete", Type: "percent", Width: 100},
		{ID: ColStatus, Name: "Status", Type: "dropdown", Width: 140, DropdownOptions: opts},
		{ID: ColAssignedTo, Name: "Assigned To", Type: "contacts", Width: 180},
		{ID: ColCost, Name: "Cost", Type: "cost", Width: 120},
	}
}

// ExportGrid renders the tree as a grid. Row order matches Tree.Rows, which
// is also what TranslateCellPatch resolves rows against.
func ExportGrid(tree *models.Tree) Grid {
	rows := tree.Rows()
	g := Grid{Columns: GridColumns(), CellData: make(map[string]Cell), Rows: len(rows)}
	for i, r := range rows {
		t := r.Task
		g.CellData[CellKey(i, ColName)] = Cell{Text: t.Name, Indent: r.Indent}
		if t.StartDate != "" {
			g.CellData[CellKey(i, ColStartDate)] = Cell{Text: t.StartDate}
		}
		if t.EndDate != "" {
			g.CellData[CellKey(i, ColEndDate)] = Cell{Text: t.EndDate}
		}
		if d := Duration(t.StartDate, t.EndDate); d != "" {
			g.CellData[CellKey(i, ColDuration)] = Cell{Text: d}
		}
		if label := predecessorLabel(tree, t.Predecessor); label != "" {
			g.CellData[CellKey(i, ColPredecessor)] = Cell{Text: label}
		}
		if t.PercentComplete != 0 {
			g.CellData[CellKey(i, ColPercent)] = Cell{Text: strconv.Itoa(t.PercentComplete), Align: "right"}
		}
		if t.Status != "" {
			g.CellData[CellKey(i, ColStatus)] = Cell{Text: string(t.Status)}
		}
		if len(t.AssignedTo) > 0 {
			g.CellData[CellKey(i, ColAssignedTo)] = Cell{Text: t.AssignedTo.String()}
		}
		if t.Cost != "" {
			g.CellData[CellKey(i, ColCost)] = Cell{Text: string(t.Cost)}
		}
	}
	return g
}

// Duration is the inclusive day count between two ISO dates, formatted "Nd".
func Duration(start, end string) string {
	if start == "" || end == "" {
		return ""
	}
	s, err1 := time.Parse(time.DateOnly, start)
	e, err2 := time.Parse(time.DateOnly, end)
	if err1 != nil || err2 != nil {
		return ""
	}
	days := int(e.Sub(s).Hours()/24) + 1
	return strconv.Itoa(days) + "d"
}

func predecessorLabel(tree *models.Tree, preds models.PredecessorSet) string {
	var labels []string
	for _, id := range preds {
		crumbs := tree.Breadcrumb(id)
		if crumbs == nil {
			continue
		}
		labels = append(labels, strings.Join(crumbs, " > "))
	}
	return strings.Join(labels, ", ")
}

package audit

import (
	"encoding/json"
	"testing"

	"github.com/fentz26/tasksync/internal/models"
	"github.com/fentz26/tasksync/internal/patch"
)

type memWriter struct {
	entries []models.ChangeEntry
}

func (w *memWriter) WriteChange(e models.ChangeEntry) (*models.ChangeEntry, error) {
	e.ID = "c1"
	w.entries = append(w.entries, e)
	return &e, nil
}

func TestRecord_Update(t *testing.T) {
	w := &memWriter{}
	log := NewChangeLog(w)

	p := patch.Patch{Op: patch.OpUpdate, Project: "alpha", TaskID: 4, Field: "name", Value: json.RawMessage(`"Ship"`), User: "ab1234", ClientID: "c_1"}
	e, err := log.Record(p, 12)
	if err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if e.Version != 12 || e.TaskID != 4 || e.User != "ab1234" || e.ClientID != "c_1" {
		t.Errorf("Unexpected entry %+v", e)
	}
	if string(e.Details) != `{"field":"name","value":"Ship"}` {
		t.Errorf("Unexpected details %s", e.Details)
	}
	if len(e.InputsHash) != 64 {
		t.Errorf("Expected sha256 hex hash, got %q", e.InputsHash)
	}

	again, _ := log.Record(p, 13)
	if again.InputsHash != e.InputsHash {
		t.Error("Expected identical patches to hash identically")
	}
}

func TestRecord_AddSubtask(t *testing.T) {
	w := &memWriter{}
	log := NewChangeLog(w)

	p := patch.AddSubtask(2, &models.Task{ID: 9, Name: "Deep"})
	p.Project = "alpha"
	e, err := log.Record(p, 3)
	if err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if e.ParentTaskID != 2 || e.SubtaskID != 9 || e.TaskID != 0 {
		t.Errorf("Expected parent 2 and subtask 9, got %+v", e)
	}
	if string(e.Details) != `{"name":"Deep"}` {
		t.Errorf("Unexpected details %s", e.Details)
	}
}

func TestRecord_AddTask(t *testing.T) {
	w := &memWriter{}
	e, _ := NewChangeLog(w).Record(patch.AddTask(&models.Task{ID: 7, Name: "Top"}), 1)
	if e.TaskID != 7 {
		t.Errorf("Expected task id taken from the added task, got %d", e.TaskID)
	}
}

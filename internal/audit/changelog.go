// Package audit records every patch the relay applies in the project change log.
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/fentz26/tasksync/internal/models"
	"github.com/fentz26/tasksync/internal/patch"
)

// Writer is where change entries are stored.
type Writer interface {
	WriteChange(e models.ChangeEntry) (*models.ChangeEntry, error)
}

// ChangeLog turns applied patches into change-log entries.
type ChangeLog struct {
	store Writer
}

// NewChangeLog creates a change log over w.
func NewChangeLog(w Writer) *ChangeLog {
	return &ChangeLog{store: w}
}

// details is what the log keeps of a patch besides its indexed ids.
type details struct {
	Field     string          `json:"field,omitempty"`
	Value     json.RawMessage `json:"value,omitempty"`
	Key       string          `json:"key,omitempty"`
	Cell      *patch.Cell     `json:"cell,omitempty"`
	Direction string          `json:"direction,omitempty"`
	Name      string          `json:"name,omitempty"`
}

// Record writes the entry for p, which produced version. Cell patches are
// recorded as the update they were translated to, so task logs find them.
func (l *ChangeLog) Record(p patch.Patch, version int64) (*models.ChangeEntry, error) {
	e := models.ChangeEntry{
		Project:      p.Project,
		Version:      version,
		Op:           string(p.Op),
		TaskID:       p.TaskID,
		ParentTaskID: p.ParentTaskID,
		User:         p.User,
		ClientID:     p.ClientID,
		InputsHash:   hashInputs(p),
	}
	d := details{Field: p.Field, Value: p.Value, Key: p.Key, Cell: p.Cell, Direction: p.Direction}
	switch {
	case p.Subtask != nil:
		e.SubtaskID = p.Subtask.ID
		d.Name = p.Subtask.Name
	case p.Task != nil:
		e.TaskID = p.Task.ID
		d.Name = p.Task.Name
	}
	raw, err := json.Marshal(d)
	if err != nil {
		return nil, err
	}
	e.Details = raw
	return l.store.WriteChange(e)
}

// hashInputs creates a SHA256 hash of the inputs for reproducibility.
func hashInputs(inputs any) string {
	data, err := json.Marshal(inputs)
	if err != nil {
		return "hash_error"
	}
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}

package models

import (
	"encoding/json"
	"time"
)

// Snapshot is a project's tree as served to joining clients.
type Snapshot struct {
	Project string `json:"project"`
	Version int64  `json:"version"`
	Tree
}

// ChangeEntry is one applied patch in a project's change log.
type ChangeEntry struct {
	ID           string          `json:"id"`
	Project      string          `json:"project"`
	Version      int64           `json:"version"`
	Op           string          `json:"op"`
	TaskID       int             `json:"taskId,omitempty"`
	ParentTaskID int             `json:"parentTaskId,omitempty"`
	SubtaskID    int             `json:"subtaskId,omitempty"`
	User         string          `json:"user,omitempty"`
	ClientID     string          `json:"clientId,omitempty"`
	Details      json.RawMessage `json:"details"`
	InputsHash   string          `json:"inputsHash"`
	Timestamp    time.Time       `json:"timestamp"`
}

// Backup is a stored full copy of a project at a version milestone.
type Backup struct {
	ID        string    `json:"id"`
	Project   string    `json:"project"`
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"createdAt"`
}

package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/fentz26/tasksync/internal/models"
	"github.com/fentz26/tasksync/internal/patch"
)

func TestIsLocal(t *testing.T) {
	cases := map[string]bool{
		"http://127.0.0.1:7480":     true,
		"http://localhost:7480":     true,
		"http://[::1]:7480":         true,
		"https://relay.example.com": false,
		"http://10.0.0.5:7480":      false,
		"::not a url::":             false,
	}
	for api, want := range cases {
		if got := isLocal(api); got != want {
			t.Errorf("isLocal(%q) = %v, want %v", api, got, want)
		}
	}
}

func TestWriteGridCSV(t *testing.T) {
	tree := &models.Tree{Tasks: []*models.Task{
		{ID: 1, Name: "Build", Subtasks: []*models.Task{
			{ID: 2, Name: "Compile, link", PercentComplete: 40, StartDate: "2024-03-01", EndDate: "2024-03-02"},
		}},
	}}
	tree.RecomputeAll()
	grid := patch.ExportGrid(tree)

	var buf bytes.Buffer
	if err := writeGridCSV(&buf, &grid); err != nil {
		t.Fatalf("writeGridCSV failed: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("Expected header and 2 rows, got %q", buf.String())
	}
	if !strings.HasPrefix(lines[0], "Task Name,") {
		t.Errorf("Unexpected header %q", lines[0])
	}
	if !strings.HasPrefix(lines[2], `"  Compile, link",2024-03-01,2024-03-02,2d`) {
		t.Errorf("Unexpected subtask row %q", lines[2])
	}
}

func TestParseTaskID(t *testing.T) {
	if id, err := parseTaskID("12"); err != nil || id != 12 {
		t.Errorf("Expected 12, got %d, %v", id, err)
	}
	for _, s := range []string{"0", "-3", "x"} {
		if _, err := parseTaskID(s); err == nil {
			t.Errorf("Expected error for %q", s)
		}
	}
}

package relay

import (
	"context"
	"errors"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/fentz26/tasksync/internal/channel"
	"github.com/fentz26/tasksync/internal/models"
	"github.com/fentz26/tasksync/internal/patch"
	"github.com/fentz26/tasksync/internal/session"
	"github.com/fentz26/tasksync/internal/store"
)

type client struct {
	ws   *channel.WSTransport
	sess *session.Session
}

func connect(t *testing.T, ts *httptest.Server, user string) *client {
	t.Helper()
	httpc := channel.NewHTTPClient(ts.URL, 2*time.Second)
	ws := channel.DialWS(ts.URL, channel.WSOptions{ReconnectInterval: 50 * time.Millisecond})
	ch := channel.New(ws, httpc, channel.Options{User: user, Debounce: 20 * time.Millisecond})
	sess := session.New(session.Options{User: user, Channel: ch, Loader: httpc})
	t.Cleanup(func() { sess.Close(context.Background()) })

	waitFor(t, "websocket connect", ws.Connected)
	return &client{ws: ws, sess: sess}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func task(s *session.Session, id int) *models.Task {
	t, _ := s.Engine().Task(id)
	return t
}

func TestTwoClientsStayInSync(t *testing.T) {
	st, err := store.New(filepath.Join(t.TempDir(), "relay.db"))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	defer st.Close()
	server := buildServer(st)
	ts := httptest.NewServer(server.Handler())
	defer ts.Close()
	defer server.Shutdown(context.Background())

	for _, p := range []patch.Patch{
		{Op: patch.OpAddTask, Project: "alpha", Task: &models.Task{ID: 1, Name: "Release"}},
		{Op: patch.OpAddSubtask, Project: "alpha", ParentTaskID: 1, Subtask: &models.Task{ID: 2, Name: "Notes", AssignedTo: models.AssigneeSet{"ab1234"}}},
		{Op: patch.OpAddSubtask, Project: "alpha", ParentTaskID: 1, Subtask: &models.Task{ID: 3, Name: "Tag", AssignedTo: models.AssigneeSet{"zz9999"}}},
	} {
		if _, err := server.service.ApplyPatch(p); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	alice := connect(t, ts, "ab1234")
	bob := connect(t, ts, "zz9999")
	ctx := context.Background()
	if err := alice.sess.Open(ctx, "alpha"); err != nil {
		t.Fatalf("alice open: %v", err)
	}
	if err := bob.sess.Open(ctx, "alpha"); err != nil {
		t.Fatalf("bob open: %v", err)
	}
	hub := server.hub
	waitFor(t, "both clients in room", func() bool { return hub.RoomSize("alpha") == 2 })

	// Alice drags her card to Done; Bob sees the card and the parent move.
	if _, err := alice.sess.Move(2, models.ColumnDone); err != nil {
		t.Fatalf("move: %v", err)
	}
	waitFor(t, "bob sees done card", func() bool {
		n := task(bob.sess, 2)
		return n.Status == models.StatusCompleted && n.PercentComplete == 100 && task(bob.sess, 1).PercentComplete == 50
	})

	// Bob cannot move Alice's card.
	if _, err := bob.sess.Move(2, models.ColumnInProgress); !errors.Is(err, models.ErrPermissionDenied) {
		t.Errorf("Expected permission denied, got %v", err)
	}

	// Bob finishes his own card; Alice's percent for the parent follows.
	if _, err := bob.sess.Move(3, models.ColumnDone); err != nil {
		t.Fatalf("bob move: %v", err)
	}
	waitFor(t, "alice sees parent at 100", func() bool { return task(alice.sess, 1).PercentComplete == 100 })

	// Alice undoes; both replicas converge on the restored state.
	if _, err := alice.sess.Undo(); err != nil {
		t.Fatalf("undo: %v", err)
	}
	waitFor(t, "bob sees undo", func() bool {
		n := task(bob.sess, 2)
		return n.Status == models.StatusNotStarted && n.PercentComplete == 0 && task(bob.sess, 1).PercentComplete == 50
	})

	waitFor(t, "relay settles", func() bool {
		snap, err := server.service.Load("alpha")
		return err == nil && snap.Tasks[0].Subtasks[0].Status == models.StatusNotStarted && snap.Tasks[0].PercentComplete == 50
	})

	// Alice's own echoes never reached her engine as remote patches, and
	// her tree matches the relay.
	snap, _ := server.service.Load("alpha")
	mine := alice.sess.Engine().Snapshot()
	for _, id := range []int{1, 2, 3} {
		want, _ := snap.FindByID(id)
		got, _ := mine.FindByID(id)
		if want.Status != got.Status || want.PercentComplete != got.PercentComplete {
			t.Errorf("task %d: relay %s/%d, alice %s/%d", id, want.Status, want.PercentComplete, got.Status, got.PercentComplete)
		}
	}
}

func TestFallsBackToHTTPWithoutSocket(t *testing.T) {
	st, err := store.New(filepath.Join(t.TempDir(), "relay.db"))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	defer st.Close()
	server := buildServer(st)
	ts := httptest.NewServer(server.Handler())
	defer ts.Close()

	if _, err := server.service.ApplyPatch(patch.Patch{Op: patch.OpAddTask, Project: "alpha", Task: &models.Task{ID: 1, Name: "Solo", AssignedTo: models.AssigneeSet{"ab1234"}}}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	httpc := channel.NewHTTPClient(ts.URL, 2*time.Second)
	ch := channel.New(nil, httpc, channel.Options{User: "ab1234", Debounce: 10 * time.Millisecond})
	sess := session.New(session.Options{User: "ab1234", Channel: ch, Loader: httpc})
	defer sess.Close(context.Background())

	if err := sess.Open(context.Background(), "alpha"); err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := sess.SetField(1, models.FieldName, "Solo run"); err != nil {
		t.Fatalf("set field: %v", err)
	}

	waitFor(t, "relay applies fallback patch", func() bool {
		snap, _ := server.service.Load("alpha")
		return snap.Tasks[0].Name == "Solo run"
	})
	logs, _ := server.service.TaskLogs("alpha", 1, 0)
	if len(logs) != 2 || logs[0].User != "ab1234" || logs[0].ClientID != ch.ClientID() {
		t.Errorf("Expected stamped change entry, got %+v", logs)
	}
}

package channel

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fentz26/tasksync/internal/models"
	"github.com/fentz26/tasksync/internal/patch"
)

type recorder struct {
	mu   sync.Mutex
	sent []patch.Patch
	err  error
}

func (r *recorder) Send(_ context.Context, p patch.Patch) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return 0, r.err
	}
	r.sent = append(r.sent, p)
	return int64(len(r.sent)), nil
}

func (r *recorder) patches() []patch.Patch {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]patch.Patch(nil), r.sent...)
}

type fakeLive struct {
	recorder
	connected bool
	joins     []string
	leaves    []string
	handler   func(patch.Patch)
}

func (f *fakeLive) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}
func (f *fakeLive) Join(_ context.Context, project string) error {
	f.mu.Lock()
	f.joins = append(f.joins, project)
	f.mu.Unlock()
	return nil
}
func (f *fakeLive) Leave(_ context.Context, project string) error {
	f.mu.Lock()
	f.leaves = append(f.leaves, project)
	f.mu.Unlock()
	return nil
}
func (f *fakeLive) OnPatch(fn func(patch.Patch)) { f.handler = fn }
func (f *fakeLive) Close() error                 { return nil }

func update(taskID int, field string, value any) patch.Patch {
	raw, _ := json.Marshal(value)
	return patch.Patch{Op: patch.OpUpdate, TaskID: taskID, Field: field, Value: raw}
}

func TestSend_DebouncesRapidEdits(t *testing.T) {
	http := &recorder{}
	c := New(nil, http, Options{User: "ab1234", Debounce: 50 * time.Millisecond})
	defer c.Close()
	require.NoError(t, c.JoinRoom(context.Background(), "alpha"))

	c.Send(update(3, models.FieldPercentComplete, 10))
	c.Send(update(3, models.FieldPercentComplete, 20))
	c.Send(update(3, models.FieldPercentComplete, 30))

	assert.Eventually(t, func() bool { return len(http.patches()) == 1 }, time.Second, 10*time.Millisecond)
	time.Sleep(100 * time.Millisecond)

	sent := http.patches()
	require.Len(t, sent, 1)
	assert.JSONEq(t, `30`, string(sent[0].Value))
	assert.Equal(t, "alpha", sent[0].Project)
	assert.Equal(t, "ab1234", sent[0].User)
	assert.Equal(t, c.ClientID(), sent[0].ClientID)
}

func TestSend_DebounceIsPerTaskAndField(t *testing.T) {
	http := &recorder{}
	c := New(nil, http, Options{Debounce: 30 * time.Millisecond})
	defer c.Close()

	c.Send(update(1, models.FieldCost, "10"))
	c.Send(update(2, models.FieldCost, "20"))
	c.Send(update(1, models.FieldDescription, "notes"))

	assert.Eventually(t, func() bool { return len(http.patches()) == 3 }, time.Second, 10*time.Millisecond)
}

func TestSend_ImmediateOpsKeepOrder(t *testing.T) {
	http := &recorder{}
	c := New(nil, http, Options{Debounce: time.Hour})
	defer c.Close()

	c.Send(patch.AddTask(&models.Task{ID: 5, Name: "New"}))
	c.Send(update(5, models.FieldStatus, models.StatusInProgress))
	c.Send(patch.Delete(5, true))

	assert.Eventually(t, func() bool { return len(http.patches()) == 3 }, time.Second, 10*time.Millisecond)
	sent := http.patches()
	assert.Equal(t, patch.OpAddTask, sent[0].Op)
	assert.Equal(t, patch.OpUpdate, sent[1].Op)
	assert.Equal(t, patch.OpDeleteTask, sent[2].Op)
}

func TestSend_PrefersLiveAndFallsBack(t *testing.T) {
	live := &fakeLive{connected: true}
	http := &recorder{}
	c := New(live, http, Options{})
	defer c.Close()

	c.Send(update(1, models.FieldName, "a"))
	assert.Eventually(t, func() bool { return len(live.patches()) == 1 }, time.Second, 10*time.Millisecond)

	live.mu.Lock()
	live.connected = false
	live.mu.Unlock()
	c.Send(update(1, models.FieldName, "b"))
	assert.Eventually(t, func() bool { return len(http.patches()) == 1 }, time.Second, 10*time.Millisecond)
}

func TestSend_FailureRaisesNotice(t *testing.T) {
	http := &recorder{err: errors.New("connection refused")}
	c := New(nil, http, Options{})
	defer c.Close()

	notices := make(chan error, 1)
	c.OnNotice(func(err error) { notices <- err })
	c.Send(update(1, models.FieldName, "a"))

	select {
	case err := <-notices:
		assert.ErrorIs(t, err, ErrSendFailed)
		assert.Contains(t, err.Error(), "connection refused")
	case <-time.After(time.Second):
		t.Fatal("no notice raised")
	}
}

func TestReceive_DropsOwnEcho(t *testing.T) {
	live := &fakeLive{connected: true}
	c := New(live, &recorder{}, Options{ClientID: "c_me"})
	defer c.Close()
	require.NoError(t, c.JoinRoom(context.Background(), "alpha"))

	var got []patch.Patch
	c.OnReceive(func(p patch.Patch) { got = append(got, p) })

	own := update(1, models.FieldName, "mine")
	own.ClientID, own.Project = "c_me", "alpha"
	other := update(1, models.FieldName, "theirs")
	other.ClientID, other.Project = "c_other", "alpha"
	stray := update(1, models.FieldName, "elsewhere")
	stray.ClientID, stray.Project = "c_other", "beta"

	live.handler(own)
	live.handler(other)
	live.handler(stray)

	require.Len(t, got, 1)
	assert.JSONEq(t, `"theirs"`, string(got[0].Value))
}

func TestOnVersion_AcksAndPushedPatches(t *testing.T) {
	live := &fakeLive{connected: true}
	c := New(live, &recorder{}, Options{ClientID: "c_me", Debounce: time.Hour})
	defer c.Close()
	require.NoError(t, c.JoinRoom(context.Background(), "alpha"))

	var mu sync.Mutex
	var versions []int64
	c.OnVersion(func(project string, v int64) {
		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, "alpha", project)
		versions = append(versions, v)
	})

	c.Send(update(2, models.FieldPercentComplete, 40))
	assert.Equal(t, 1, c.Pending())
	c.Flush()
	assert.Eventually(t, func() bool { return c.Pending() == 0 && len(live.patches()) == 1 }, time.Second, 10*time.Millisecond)

	echo := live.patches()[0]
	echo.Version = 7
	live.handler(echo)
	other := update(3, models.FieldName, "theirs")
	other.ClientID, other.Project, other.Version = "c_other", "alpha", 8
	live.handler(other)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int64{1, 7, 8}, versions)
}

func TestJoinRoom_FlushesAndSwitches(t *testing.T) {
	live := &fakeLive{connected: true}
	c := New(live, &recorder{}, Options{Debounce: time.Hour})
	defer c.Close()
	ctx := context.Background()

	require.NoError(t, c.JoinRoom(ctx, "alpha"))
	c.Send(update(2, models.FieldPercentComplete, 40))
	require.NoError(t, c.JoinRoom(ctx, "beta"))

	assert.Eventually(t, func() bool { return len(live.patches()) == 1 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, "alpha", live.patches()[0].Project)
	assert.Equal(t, []string{"alpha", "beta"}, live.joins)
	assert.Equal(t, []string{"alpha"}, live.leaves)
	assert.Equal(t, "beta", c.Room())

	require.NoError(t, c.LeaveRoom(ctx, "beta"))
	assert.Equal(t, "", c.Room())
}

func TestClose_DrainsPending(t *testing.T) {
	http := &recorder{}
	c := New(nil, http, Options{Debounce: time.Hour})

	c.Send(update(1, models.FieldDescription, "draft"))
	require.NoError(t, c.Close())

	require.Len(t, http.patches(), 1)

	notices := 0
	c.OnNotice(func(error) { notices++ })
	c.Send(update(1, models.FieldName, "late"))
	assert.Equal(t, 1, notices)
}

func TestDebounced(t *testing.T) {
	assert.True(t, Debounced(update(1, models.FieldPercentComplete, 1)))
	assert.False(t, Debounced(update(1, models.FieldStatus, "Completed")))
	assert.False(t, Debounced(patch.Delete(1, false)))
}

func TestWebsocketURL(t *testing.T) {
	assert.Equal(t, "ws://127.0.0.1:7466/ws", WebsocketURL("http://127.0.0.1:7466"))
	assert.Equal(t, "wss://sync.example.com/ws", WebsocketURL("https://sync.example.com/"))
	assert.Equal(t, "ws://h/ws", WebsocketURL("ws://h/ws"))
}

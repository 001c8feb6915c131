package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fentz26/tasksync/internal/channel"
	"github.com/fentz26/tasksync/internal/models"
	"github.com/fentz26/tasksync/internal/patch"
)

const me = "ab1234"

type fakeLive struct {
	mu      sync.Mutex
	joined  []string
	sent    []patch.Patch
	handler func(patch.Patch)
}

func (f *fakeLive) Send(_ context.Context, p patch.Patch) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, p)
	return int64(len(f.sent)), nil
}

func (f *fakeLive) Connected() bool { return true }

func (f *fakeLive) Join(_ context.Context, project string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.joined = append(f.joined, project)
	return nil
}

func (f *fakeLive) Leave(context.Context, string) error { return nil }
func (f *fakeLive) OnPatch(fn func(patch.Patch))        { f.handler = fn }
func (f *fakeLive) Close() error                        { return nil }

func (f *fakeLive) patches() []patch.Patch {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]patch.Patch(nil), f.sent...)
}

type fakeLoader struct {
	snaps map[string]*models.Snapshot
	err   error
}

func (l *fakeLoader) LoadProject(_ context.Context, project string) (*models.Snapshot, error) {
	if l.err != nil {
		return nil, l.err
	}
	snap, ok := l.snaps[project]
	if !ok {
		return nil, errors.New("404")
	}
	return &models.Snapshot{Project: project, Version: snap.Version, Tree: *snap.Tree.Clone()}, nil
}

func (l *fakeLoader) Version(_ context.Context, project string) (int64, error) {
	if l.err != nil {
		return 0, l.err
	}
	snap, ok := l.snaps[project]
	if !ok {
		return 0, errors.New("404")
	}
	return snap.Version, nil
}

// slowLoader runs during while the snapshot is in flight.
type slowLoader struct {
	*fakeLoader
	during func()
}

func (l *slowLoader) LoadProject(ctx context.Context, project string) (*models.Snapshot, error) {
	snap, err := l.fakeLoader.LoadProject(ctx, project)
	if l.during != nil {
		l.during()
	}
	return snap, err
}

type memCache struct {
	mu    sync.Mutex
	trees map[string]*models.Tree
}

func (c *memCache) SaveTree(project string, tree *models.Tree) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.trees == nil {
		c.trees = map[string]*models.Tree{}
	}
	c.trees[project] = tree.Clone()
	return nil
}

func (c *memCache) LoadLocal(project string) (*models.Tree, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.trees[project]
	if !ok {
		return nil, nil
	}
	return t.Clone(), nil
}

func alphaTree() models.Tree {
	return models.Tree{Tasks: []*models.Task{
		{ID: 1, Name: "Launch", Subtasks: []*models.Task{
			{ID: 2, Name: "Write docs", AssignedTo: models.AssigneeSet{me}},
			{ID: 3, Name: "Ship build", Status: models.StatusInProgress, AssignedTo: models.AssigneeSet{"zz9999"}},
			{ID: 4, Name: "Party", Status: models.StatusOnHold, AssignedTo: models.AssigneeSet{me, "zz9999"}},
		}},
		{ID: 5, Name: ""},
	}, TaskIDCounter: 5}
}

func newSession(t *testing.T, loader Loader, cache *memCache) (*Session, *fakeLive) {
	t.Helper()
	live := &fakeLive{}
	ch := channel.New(live, nil, channel.Options{User: me, Debounce: 10 * time.Millisecond})
	opts := Options{User: me, Channel: ch, Loader: loader}
	if cache != nil {
		opts.Cache = cache
	}
	if v, ok := loader.(VersionSource); ok {
		opts.Versions = v
	}
	s := New(opts)
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	return s, live
}

func TestOpen_LoadsSnapshotAndJoins(t *testing.T) {
	cache := &memCache{}
	loader := &fakeLoader{snaps: map[string]*models.Snapshot{"alpha": {Version: 3, Tree: alphaTree()}}}
	s, live := newSession(t, loader, cache)

	require.NoError(t, s.Open(context.Background(), "alpha"))

	assert.Equal(t, "alpha", s.Project())
	assert.False(t, s.Offline())
	assert.Equal(t, []string{"alpha"}, live.joined)
	cached, _ := cache.LoadLocal("alpha")
	require.NotNil(t, cached)
	assert.Len(t, cached.Tasks, 2)
}

func TestOpen_FallsBackToLocalCache(t *testing.T) {
	cache := &memCache{}
	tree := alphaTree()
	require.NoError(t, cache.SaveTree("alpha", &tree))
	s, _ := newSession(t, &fakeLoader{err: errors.New("connection refused")}, cache)

	require.NoError(t, s.Open(context.Background(), "alpha"))
	assert.True(t, s.Offline())
	assert.Equal(t, 3, s.Board(Filter{}).Count())

	err := s.Open(context.Background(), "beta")
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, "alpha", s.Project())
}

func TestOpen_RejectsBadName(t *testing.T) {
	s, _ := newSession(t, &fakeLoader{}, nil)
	assert.ErrorIs(t, s.Open(context.Background(), "no spaces"), patch.ErrInvalidPatch)
}

func TestActionsWithoutProject(t *testing.T) {
	s, _ := newSession(t, &fakeLoader{}, nil)
	_, err := s.Move(2, models.ColumnDone)
	assert.ErrorIs(t, err, ErrNoProject)
	_, err = s.Undo()
	assert.ErrorIs(t, err, ErrNoProject)
	assert.Empty(t, s.Board(Filter{}))
	assert.False(t, s.CanUndo())
}

func TestBoard_ColumnsAndFilters(t *testing.T) {
	loader := &fakeLoader{snaps: map[string]*models.Snapshot{"alpha": {Tree: alphaTree()}}}
	s, _ := newSession(t, loader, nil)
	require.NoError(t, s.Open(context.Background(), "alpha"))

	b := s.Board(Filter{})
	require.Len(t, b[models.ColumnNotStarted], 1)
	assert.Equal(t, "Launch > Write docs", b[models.ColumnNotStarted][0].Label)
	assert.True(t, b[models.ColumnNotStarted][0].Editable)
	require.Len(t, b[models.ColumnInProgress], 1)
	assert.False(t, b[models.ColumnInProgress][0].Editable)
	require.Len(t, b[models.ColumnDone], 1)
	assert.Equal(t, models.StatusOnHold, b[models.ColumnDone][0].Status)

	assert.Equal(t, 2, s.Board(Filter{OnlyMine: true}).Count())
	mine := s.Board(Filter{Query: "SHIP"})
	require.Equal(t, 1, mine.Count())
	assert.Equal(t, 3, mine[models.ColumnInProgress][0].ID)
	assert.Equal(t, 3, s.Board(Filter{Query: "launch"}).Count())
}

func TestMove_RecordsAndReplicates(t *testing.T) {
	loader := &fakeLoader{snaps: map[string]*models.Snapshot{"alpha": {Tree: alphaTree()}}}
	s, live := newSession(t, loader, nil)
	require.NoError(t, s.Open(context.Background(), "alpha"))

	entry, err := s.Move(2, models.ColumnDone)
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, "Launch > Write docs", entry.Label)
	assert.True(t, s.CanUndo())

	none, err := s.Move(2, models.ColumnDone)
	require.NoError(t, err)
	assert.Nil(t, none)
	assert.Len(t, s.History(), 1)

	_, err = s.Move(3, models.ColumnDone)
	assert.ErrorIs(t, err, models.ErrPermissionDenied)

	assert.Eventually(t, func() bool {
		var status, percent bool
		for _, p := range live.patches() {
			if p.TaskID == 2 && p.Field == models.FieldStatus {
				status = true
			}
			if p.TaskID == 2 && p.Field == models.FieldPercentComplete {
				percent = true
			}
		}
		return status && percent
	}, time.Second, 10*time.Millisecond)

	for _, p := range live.patches() {
		assert.Equal(t, "alpha", p.Project)
		assert.Equal(t, me, p.User)
	}

	_, err = s.Undo()
	require.NoError(t, err)
	task, _ := s.Engine().Task(2)
	assert.Equal(t, models.StatusNotStarted, task.Status)
	assert.True(t, s.CanRedo())
	_, err = s.Redo()
	require.NoError(t, err)
	task, _ = s.Engine().Task(2)
	assert.Equal(t, models.StatusCompleted, task.Status)
}

func TestReceive_AppliesRemotePatches(t *testing.T) {
	loader := &fakeLoader{snaps: map[string]*models.Snapshot{"alpha": {Tree: alphaTree()}}}
	s, live := newSession(t, loader, nil)
	require.NoError(t, s.Open(context.Background(), "alpha"))

	live.handler(patch.Patch{Op: patch.OpUpdate, Project: "alpha", ClientID: "c_other", TaskID: 3, Field: models.FieldStatus, Value: []byte(`"Completed"`)})
	live.handler(patch.Patch{Op: patch.OpUpdate, Project: "beta", ClientID: "c_other", TaskID: 2, Field: models.FieldName, Value: []byte(`"x"`)})

	b := s.Board(Filter{})
	assert.Len(t, b[models.ColumnDone], 2)
	task, _ := s.Engine().Task(2)
	assert.Equal(t, "Write docs", task.Name)
}

func TestOpen_SwitchResetsHistory(t *testing.T) {
	loader := &fakeLoader{snaps: map[string]*models.Snapshot{
		"alpha": {Tree: alphaTree()},
		"beta":  {Tree: alphaTree()},
	}}
	s, live := newSession(t, loader, nil)
	require.NoError(t, s.Open(context.Background(), "alpha"))
	_, err := s.Move(2, models.ColumnInProgress)
	require.NoError(t, err)

	require.NoError(t, s.Open(context.Background(), "beta"))

	assert.False(t, s.CanUndo())
	assert.Equal(t, []string{"alpha", "beta"}, live.joined)
}

func TestSetDoneStatus(t *testing.T) {
	loader := &fakeLoader{snaps: map[string]*models.Snapshot{"alpha": {Tree: alphaTree()}}}
	s, _ := newSession(t, loader, nil)
	require.NoError(t, s.Open(context.Background(), "alpha"))

	assert.ErrorIs(t, s.SetDoneStatus(4, models.StatusInProgress), ErrNotDone)
	require.NoError(t, s.SetDoneStatus(4, models.StatusCancelled))
	task, _ := s.Engine().Task(4)
	assert.Equal(t, models.StatusCancelled, task.Status)
}

func remoteRename(taskID int, name string, version int64) patch.Patch {
	raw, _ := json.Marshal(name)
	return patch.Patch{Op: patch.OpUpdate, TaskID: taskID, Field: models.FieldName, Value: raw,
		Project: "alpha", ClientID: "c_other", Version: version}
}

func taskName(t *testing.T, s *Session, id int) string {
	t.Helper()
	task, ok := s.Engine().Task(id)
	require.True(t, ok)
	return task.Name
}

func TestResync_RecoversPatchMissedWhileDisconnected(t *testing.T) {
	ctx := context.Background()
	loader := &fakeLoader{snaps: map[string]*models.Snapshot{"alpha": {Version: 3, Tree: alphaTree()}}}
	live := &fakeLive{}
	ch := channel.New(live, nil, channel.Options{User: me})
	var mu sync.Mutex
	var notices []error
	s := New(Options{User: me, Channel: ch, Loader: loader, Versions: loader, OnNotice: func(err error) {
		mu.Lock()
		defer mu.Unlock()
		notices = append(notices, err)
	}})
	t.Cleanup(func() { _ = s.Close(ctx) })
	require.NoError(t, s.Open(ctx, "alpha"))

	reloaded, err := s.Resync(ctx)
	require.NoError(t, err)
	assert.False(t, reloaded, "up to date")

	// Version 4 is broadcast while the socket is down and never arrives.
	missed := alphaTree()
	missed.Tasks[0].Subtasks[1].Name = "Ship release"
	loader.snaps["alpha"] = &models.Snapshot{Version: 4, Tree: missed}

	reloaded, err = s.Resync(ctx)
	require.NoError(t, err)
	assert.True(t, reloaded)
	assert.Equal(t, "Ship release", taskName(t, s, 3))
	assert.EqualValues(t, 4, s.Version())
	mu.Lock()
	require.Len(t, notices, 1)
	assert.ErrorIs(t, notices[0], ErrReloaded)
	mu.Unlock()

	reloaded, err = s.Resync(ctx)
	require.NoError(t, err)
	assert.False(t, reloaded)
}

func TestReceive_GapLeavesVersionBehind(t *testing.T) {
	ctx := context.Background()
	loader := &fakeLoader{snaps: map[string]*models.Snapshot{"alpha": {Version: 3, Tree: alphaTree()}}}
	s, live := newSession(t, loader, nil)
	require.NoError(t, s.Open(ctx, "alpha"))

	live.handler(remoteRename(2, "Docs v4", 4))
	assert.EqualValues(t, 4, s.Version())

	// 5 is lost; 6 still applies but the version stays put.
	live.handler(remoteRename(3, "Build v6", 6))
	assert.Equal(t, "Build v6", taskName(t, s, 3))
	assert.EqualValues(t, 4, s.Version())

	relay := alphaTree()
	relay.Tasks[0].Subtasks[0].Name = "Docs v4"
	relay.Tasks[0].Subtasks[1].Name = "Build v6"
	relay.Tasks[0].Subtasks[2].Name = "Party v5"
	loader.snaps["alpha"] = &models.Snapshot{Version: 6, Tree: relay}

	reloaded, err := s.Resync(ctx)
	require.NoError(t, err)
	assert.True(t, reloaded)
	assert.Equal(t, "Party v5", taskName(t, s, 4))
	assert.EqualValues(t, 6, s.Version())
}

func TestOpen_AppliesPatchesArrivingDuringLoad(t *testing.T) {
	loader := &slowLoader{fakeLoader: &fakeLoader{snaps: map[string]*models.Snapshot{"alpha": {Version: 3, Tree: alphaTree()}}}}
	s, live := newSession(t, loader, nil)
	loader.during = func() {
		live.handler(remoteRename(2, "Already in snapshot", 3))
		live.handler(remoteRename(3, "Renamed", 4))
	}

	require.NoError(t, s.Open(context.Background(), "alpha"))

	assert.Equal(t, "Write docs", taskName(t, s, 2))
	assert.Equal(t, "Renamed", taskName(t, s, 3))
	assert.EqualValues(t, 4, s.Version())
}

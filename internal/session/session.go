// Package session ties one user's replication channel, apply engine and
// undo ledger to the project they have open.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/fentz26/tasksync/internal/channel"
	"github.com/fentz26/tasksync/internal/engine"
	"github.com/fentz26/tasksync/internal/ledger"
	"github.com/fentz26/tasksync/internal/models"
	"github.com/fentz26/tasksync/internal/patch"
)

var (
	ErrNoProject   = errors.New("no project open")
	ErrUnavailable = errors.New("project unavailable offline")
	ErrNotDone     = errors.New("status is not a done status")
	ErrReloaded    = errors.New("project was updated by another user and reloaded")
)

// Loader fetches a project's snapshot from the relay.
type Loader interface {
	LoadProject(ctx context.Context, project string) (*models.Snapshot, error)
}

// VersionSource reports the relay's current version of a project.
type VersionSource interface {
	Version(ctx context.Context, project string) (int64, error)
}

// LocalCache keeps the last known tree of each project on disk.
type LocalCache interface {
	engine.Cache
	LoadLocal(project string) (*models.Tree, error)
}

// Options configures a Session.
type Options struct {
	User     string
	Channel  *channel.Channel
	Loader   Loader
	Versions VersionSource
	Cache    LocalCache
	Logger   *slog.Logger
	OnChange func()
	OnNotice func(error)
}

// Session is the client side of one user working on one project at a time.
type Session struct {
	user     string
	ch       *channel.Channel
	loader   Loader
	versions VersionSource
	cache    LocalCache
	logger   *slog.Logger
	onChange func()
	onNotice func(error)

	// recvMu orders remote patches against snapshot installs.
	recvMu sync.Mutex

	mu      sync.Mutex
	project string
	offline bool
	eng     *engine.Engine
	led     *ledger.Ledger

	// version is the newest project version with no gaps below it; seen
	// holds versions received ahead of it.
	version int64
	seen    map[int64]bool

	// While a snapshot for opening is loading, its patches wait in buffered.
	opening  string
	buffered []patch.Patch
}

// New creates a session with no project open.
func New(opts Options) *Session {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	s := &Session{
		user:     opts.User,
		ch:       opts.Channel,
		loader:   opts.Loader,
		versions: opts.Versions,
		cache:    opts.Cache,
		logger:   opts.Logger.With("user", opts.User),
		onChange: opts.OnChange,
		onNotice: opts.OnNotice,
	}
	if s.ch != nil {
		s.ch.OnReceive(s.receive)
		s.ch.OnVersion(s.observe)
		if opts.OnNotice != nil {
			s.ch.OnNotice(opts.OnNotice)
		}
	}
	return s
}

// Open switches to project: pending edits are flushed to the old room, the
// new room is joined and the snapshot is loaded. When the relay cannot be
// reached the local cache is used instead. History starts empty. Patches for
// project that arrive while the snapshot loads are applied once it is in.
func (s *Session) Open(ctx context.Context, project string) error {
	if !patch.ValidProjectName(project) {
		return fmt.Errorf("open %q: %w", project, patch.ErrInvalidPatch)
	}
	s.startOpen(project)
	if s.ch != nil {
		if err := s.ch.JoinRoom(ctx, project); err != nil {
			s.logger.Warn("join room failed", "project", project, "error", err)
		}
	}

	tree, version, offline, err := s.load(ctx, project)
	if err != nil {
		s.cancelOpen()
		if prev := s.Project(); s.ch != nil && prev != "" && prev != project {
			if jerr := s.ch.JoinRoom(ctx, prev); jerr != nil {
				s.logger.Warn("rejoin room failed", "project", prev, "error", jerr)
			}
		}
		return err
	}
	s.install(project, tree, version, offline)
	return nil
}

// Resync asks the relay for the open project's version and reloads the
// snapshot when the relay is ahead, as it is after patches were broadcast
// while this client was disconnected. Nothing is checked while local edits
// are still on their way out. It reports whether a reload happened.
func (s *Session) Resync(ctx context.Context) (bool, error) {
	if s.versions == nil || s.loader == nil {
		return false, nil
	}
	s.mu.Lock()
	project, have := s.project, s.version
	s.mu.Unlock()
	if project == "" {
		return false, ErrNoProject
	}
	if s.ch != nil && s.ch.Pending() > 0 {
		return false, nil
	}

	latest, err := s.versions.Version(ctx, project)
	if err != nil {
		return false, fmt.Errorf("check version of %s: %w", project, err)
	}
	if latest <= have {
		return false, nil
	}

	s.logger.Info("relay is ahead, reloading", "project", project, "have", have, "relay", latest)
	s.startOpen(project)
	snap, err := s.loader.LoadProject(ctx, project)
	if err != nil {
		s.cancelOpen()
		return false, fmt.Errorf("reload %s: %w", project, err)
	}
	s.install(project, &snap.Tree, snap.Version, false)
	s.notice(fmt.Errorf("%w: now at version %d", ErrReloaded, snap.Version))
	return true, nil
}

// Watch runs Resync every interval until ctx is done.
func (s *Session) Watch(ctx context.Context, every time.Duration) {
	if every <= 0 {
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Resync(ctx); err != nil && !errors.Is(err, ErrNoProject) {
				s.logger.Debug("version check failed", "error", err)
			}
		}
	}
}

// Version returns the project version the open tree is known to include.
func (s *Session) Version() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version
}

func (s *Session) startOpen(project string) {
	s.mu.Lock()
	s.opening = project
	s.buffered = nil
	s.mu.Unlock()
}

// cancelOpen stops buffering and hands what was buffered to the current
// engine, which drops patches for other projects.
func (s *Session) cancelOpen() {
	s.recvMu.Lock()
	defer s.recvMu.Unlock()
	s.mu.Lock()
	pending := s.buffered
	s.opening, s.buffered = "", nil
	eng := s.eng
	s.mu.Unlock()
	for _, p := range pending {
		s.apply(eng, p)
	}
}

// install makes tree the open project and replays the patches that arrived
// while it loaded, skipping those the snapshot already holds.
func (s *Session) install(project string, tree *models.Tree, version int64, offline bool) {
	opts := engine.Options{
		Project:  project,
		User:     s.user,
		Logger:   s.logger,
		OnChange: s.onChange,
	}
	if s.ch != nil {
		opts.Sender = s.ch
	}
	if s.cache != nil {
		opts.Cache = s.cache
	}
	eng := engine.New(tree, opts)
	if s.cache != nil && !offline {
		if err := s.cache.SaveTree(project, eng.Snapshot()); err != nil {
			s.logger.Warn("save local cache", "project", project, "error", err)
		}
	}

	s.recvMu.Lock()
	s.mu.Lock()
	pending := s.buffered
	s.project = project
	s.offline = offline
	s.eng = eng
	s.led = ledger.New(eng)
	s.version = version
	s.seen = nil
	s.opening, s.buffered = "", nil
	s.mu.Unlock()
	for _, p := range pending {
		if p.Version > 0 && p.Version <= version {
			continue
		}
		s.apply(eng, p)
	}
	s.recvMu.Unlock()

	s.logger.Info("project opened", "project", project, "version", version, "offline", offline)
	if s.onChange != nil {
		s.onChange()
	}
}

func (s *Session) load(ctx context.Context, project string) (*models.Tree, int64, bool, error) {
	var loadErr error
	if s.loader != nil {
		snap, err := s.loader.LoadProject(ctx, project)
		if err == nil {
			return &snap.Tree, snap.Version, false, nil
		}
		loadErr = err
		s.logger.Warn("load project failed, trying local cache", "project", project, "error", err)
	}
	if s.cache != nil {
		tree, err := s.cache.LoadLocal(project)
		if err != nil {
			return nil, 0, false, fmt.Errorf("load local %s: %w", project, err)
		}
		if tree != nil {
			return tree, 0, true, nil
		}
	}
	if loadErr != nil {
		return nil, 0, false, fmt.Errorf("%w: %s: %w", ErrUnavailable, project, loadErr)
	}
	return nil, 0, false, fmt.Errorf("%w: %s", ErrUnavailable, project)
}

// Close leaves the room and shuts the channel down after pending sends drain.
func (s *Session) Close(ctx context.Context) error {
	if s.ch == nil {
		return nil
	}
	if p := s.Project(); p != "" {
		if err := s.ch.LeaveRoom(ctx, p); err != nil {
			s.logger.Warn("leave room failed", "project", p, "error", err)
		}
	}
	return s.ch.Close()
}

// Project returns the open project name.
func (s *Session) Project() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.project
}

// Offline reports whether the open project came from the local cache.
func (s *Session) Offline() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.offline
}

// User returns the acting user id.
func (s *Session) User() string { return s.user }

// Engine returns the engine of the open project, or nil.
func (s *Session) Engine() *engine.Engine {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.eng
}

func (s *Session) current() (*engine.Engine, *ledger.Ledger, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.eng == nil {
		return nil, nil, ErrNoProject
	}
	return s.eng, s.led, nil
}

func (s *Session) receive(p patch.Patch) {
	s.recvMu.Lock()
	defer s.recvMu.Unlock()
	s.mu.Lock()
	if s.opening != "" && (p.Project == "" || p.Project == s.opening) {
		s.buffered = append(s.buffered, p)
		s.mu.Unlock()
		return
	}
	eng := s.eng
	s.mu.Unlock()
	s.apply(eng, p)
}

func (s *Session) apply(eng *engine.Engine, p patch.Patch) {
	if eng == nil || (p.Project != "" && p.Project != eng.Project()) {
		return
	}
	if err := eng.ApplyRemote(p); err != nil {
		s.logger.Warn("apply remote patch", "op", p.Op, "taskId", p.TaskID, "error", err)
	}
	if p.Version > 0 {
		s.observe(eng.Project(), p.Version)
	}
}

// observe records that project has reached v. The tracked version only
// advances over consecutive versions, so a missed patch leaves it behind
// the relay until Resync reloads.
func (s *Session) observe(project string, v int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if project != s.project || v <= s.version {
		return
	}
	if s.seen == nil {
		s.seen = make(map[int64]bool)
	}
	s.seen[v] = true
	for s.seen[s.version+1] {
		delete(s.seen, s.version+1)
		s.version++
	}
}

func (s *Session) notice(err error) {
	if s.onNotice != nil {
		s.onNotice(err)
	}
}

// Move drops a card into a column and records the move for undo. A drop
// into the card's own column returns nil and records nothing.
func (s *Session) Move(taskID int, col models.Column) (*models.UndoEntry, error) {
	eng, led, err := s.current()
	if err != nil {
		return nil, err
	}
	entry, ok, err := eng.MoveToColumn(taskID, col)
	if err != nil || !ok {
		return nil, err
	}
	led.Record(entry)
	return &entry, nil
}

// SetDoneStatus picks which done status a card in the done column shows.
func (s *Session) SetDoneStatus(taskID int, status models.Status) error {
	if !slices.Contains(models.DoneStatuses, status) {
		return fmt.Errorf("%w: %q", ErrNotDone, status)
	}
	eng, _, err := s.current()
	if err != nil {
		return err
	}
	return eng.SetField(taskID, models.FieldStatus, status)
}

// SetField edits one field of a task.
func (s *Session) SetField(taskID int, field string, value any) error {
	eng, _, err := s.current()
	if err != nil {
		return err
	}
	return eng.SetField(taskID, field, value)
}

// Undo reverts the user's newest move.
func (s *Session) Undo() (*models.UndoEntry, error) {
	_, led, err := s.current()
	if err != nil {
		return nil, err
	}
	return led.Undo(s.user)
}

// Redo reapplies the user's newest undone move.
func (s *Session) Redo() (*models.UndoEntry, error) {
	_, led, err := s.current()
	if err != nil {
		return nil, err
	}
	return led.Redo(s.user)
}

// JumpTo undoes every move back to and including history index i.
func (s *Session) JumpTo(i int) (int, error) {
	_, led, err := s.current()
	if err != nil {
		return 0, err
	}
	return led.JumpTo(i)
}

// History returns the undo history, oldest first.
func (s *Session) History() []models.UndoEntry {
	_, led, err := s.current()
	if err != nil {
		return nil
	}
	return led.History()
}

// CanUndo reports whether Undo has anything to do.
func (s *Session) CanUndo() bool {
	_, led, err := s.current()
	return err == nil && led.CanUndo()
}

// CanRedo reports whether Redo has anything to do.
func (s *Session) CanRedo() bool {
	_, led, err := s.current()
	return err == nil && led.CanRedo()
}

// Card is one leaf task as shown on the board.
type Card struct {
	ID        int
	Name      string
	Label     string
	Status    models.Status
	Percent   int
	Assignees models.AssigneeSet
	Flagged   bool
	EndDate   string
	Editable  bool
}

// Filter narrows the board.
type Filter struct {
	OnlyMine bool
	Query    string
}

// Board is the kanban view of the open project.
type Board map[models.Column][]Card

// Count returns the number of cards on the board.
func (b Board) Count() int {
	n := 0
	for _, cards := range b {
		n += len(cards)
	}
	return n
}

// Board lays out every named leaf of the open project by column, in tree order.
func (s *Session) Board(f Filter) Board {
	board := Board{}
	eng, _, err := s.current()
	if err != nil {
		return board
	}
	query := strings.ToLower(strings.TrimSpace(f.Query))
	eng.View(func(tree *models.Tree) {
		for leaf := range tree.Leaves() {
			t := leaf.Task
			mine := t.AssignedTo.Contains(s.user)
			if f.OnlyMine && !mine {
				continue
			}
			label := leaf.Label()
			if query != "" && !strings.Contains(strings.ToLower(label), query) {
				continue
			}
			col := t.Status.Column()
			board[col] = append(board[col], Card{
				ID:        t.ID,
				Name:      t.Name,
				Label:     label,
				Status:    t.Status.Normalize(),
				Percent:   t.PercentComplete,
				Assignees: slices.Clone(t.AssignedTo),
				Flagged:   t.Flagged,
				EndDate:   t.EndDate,
				Editable:  mine,
			})
		}
	})
	return board
}

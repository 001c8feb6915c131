// Package relay provides the server side of tasksync: it applies patches
// to each project's authoritative tree, keeps the change log and backups,
// and fans patches out to every client in the project's room.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/fentz26/tasksync/internal/audit"
	"github.com/fentz26/tasksync/internal/engine"
	"github.com/fentz26/tasksync/internal/models"
	"github.com/fentz26/tasksync/internal/patch"
	"github.com/fentz26/tasksync/internal/snapshot"
)

// Defaults for version-milestone backups.
const (
	DefaultBackupEvery = 50
	DefaultBackupKeep  = 50
)

// Store is the persistence the relay needs beyond the snapshot cache.
type Store interface {
	CreateBackup(snap *models.Snapshot) (*models.Backup, error)
	PruneBackups(project string, keep int) (int, error)
	TaskLogs(project string, taskID, limit int) ([]models.ChangeEntry, error)
	Ping(ctx context.Context) error
}

// Broadcaster fans an applied patch out to a project's room.
type Broadcaster interface {
	Broadcast(project string, p patch.Patch)
}

// Options configures a Service.
type Options struct {
	BackupEvery int64
	BackupKeep  int
	Logger      *slog.Logger
}

// Service provides the relay business logic.
type Service struct {
	cache       *snapshot.Cache
	store       Store
	changes     *audit.ChangeLog
	broadcaster Broadcaster
	backupEvery int64
	backupKeep  int
	logger      *slog.Logger
}

// NewService creates a new relay service.
func NewService(cache *snapshot.Cache, st Store, changes *audit.ChangeLog, opts Options) *Service {
	if opts.BackupEvery <= 0 {
		opts.BackupEvery = DefaultBackupEvery
	}
	if opts.BackupKeep <= 0 {
		opts.BackupKeep = DefaultBackupKeep
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Service{
		cache:       cache,
		store:       st,
		changes:     changes,
		backupEvery: opts.BackupEvery,
		backupKeep:  opts.BackupKeep,
		logger:      opts.Logger,
	}
}

// SetBroadcaster wires the hub that receives applied patches.
func (s *Service) SetBroadcaster(b Broadcaster) {
	s.broadcaster = b
}

// Result is the outcome of ApplyPatch.
type Result struct {
	// Version is the project version after the patch.
	Version int64
	// Applied is false when the patch changed nothing, for example because
	// its task was already deleted.
	Applied bool
}

// ApplyPatch validates p and applies it to its project. Each applied patch
// bumps the project version, is written to the change log and is broadcast
// to the room unless it asks not to be. Broadcasting happens under the
// project lock, so the room sees patches in the order they were applied.
func (s *Service) ApplyPatch(p patch.Patch) (Result, error) {
	if err := patch.Validate(p); err != nil {
		return Result{}, err
	}

	var res Result
	var backup *models.Snapshot
	err := s.cache.Update(p.Project, func(snap *models.Snapshot) (bool, error) {
		res.Version = snap.Version
		out, err := engine.Mutate(&snap.Tree, p)
		switch {
		case errors.Is(err, models.ErrTaskNotFound), errors.Is(err, models.ErrDuplicateID):
			s.logger.Debug("patch skipped", "project", p.Project, "op", p.Op, "taskId", p.TaskID, "error", err)
			return false, nil
		case err != nil:
			return false, err
		case !out.Changed:
			return false, nil
		}

		snap.Version++
		res.Version = snap.Version
		res.Applied = true

		if _, err := s.changes.Record(out.Patch, snap.Version); err != nil {
			s.logger.Error("write change log", "project", p.Project, "version", snap.Version, "error", err)
		}
		if snap.Version%s.backupEvery == 0 {
			backup = &models.Snapshot{Project: snap.Project, Version: snap.Version, Tree: *snap.Tree.Clone()}
		}
		if s.broadcaster != nil && !out.Patch.NoBroadcast {
			bp := out.Patch
			bp.Version = snap.Version
			s.broadcaster.Broadcast(p.Project, bp)
		}
		return true, nil
	})
	if err != nil {
		return Result{}, fmt.Errorf("apply %s: %w", p.Op, err)
	}

	if backup != nil {
		s.backup(backup)
	}
	return res, nil
}

func (s *Service) backup(snap *models.Snapshot) {
	b, err := s.store.CreateBackup(snap)
	if err != nil {
		s.logger.Error("create backup", "project", snap.Project, "version", snap.Version, "error", err)
		return
	}
	removed, err := s.store.PruneBackups(snap.Project, s.backupKeep)
	if err != nil {
		s.logger.Error("prune backups", "project", snap.Project, "error", err)
		return
	}
	s.logger.Info("backup created", "project", snap.Project, "version", b.Version, "pruned", removed)
}

// Load returns a project's current snapshot.
func (s *Service) Load(project string) (*models.Snapshot, error) {
	if !patch.ValidProjectName(project) {
		return nil, fmt.Errorf("%w: project %q", patch.ErrInvalidPatch, project)
	}
	return s.cache.Get(project)
}

// Version returns a project's current version.
func (s *Service) Version(project string) (int64, error) {
	if !patch.ValidProjectName(project) {
		return 0, fmt.Errorf("%w: project %q", patch.ErrInvalidPatch, project)
	}
	return s.cache.Version(project)
}

// Grid returns the legacy grid export of a project.
func (s *Service) Grid(project string) (patch.Grid, error) {
	snap, err := s.Load(project)
	if err != nil {
		return patch.Grid{}, err
	}
	return patch.ExportGrid(&snap.Tree), nil
}

// TaskLogs returns change-log entries that touch a task, newest first.
func (s *Service) TaskLogs(project string, taskID, limit int) ([]models.ChangeEntry, error) {
	if !patch.ValidProjectName(project) {
		return nil, fmt.Errorf("%w: project %q", patch.ErrInvalidPatch, project)
	}
	return s.store.TaskLogs(project, taskID, limit)
}

// Ping checks the store is reachable.
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

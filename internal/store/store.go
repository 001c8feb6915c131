// Package store provides SQLite-backed persistence for tasksync.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/fentz26/tasksync/internal/models"
)

// Store provides access to the tasksync SQLite database. The relay keeps
// project snapshots, the change log and backups in it; clients use the
// local_cache table for their offline copy.
type Store struct {
	db *sql.DB
}

// New creates a new Store and runs migrations.
func New(dbPath string) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	// SQLite only supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate runs idempotent schema migrations.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS projects (
		name TEXT PRIMARY KEY,
		data TEXT NOT NULL,
		version INTEGER NOT NULL DEFAULT 0,
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS changes (
		id TEXT PRIMARY KEY,
		project TEXT NOT NULL,
		version INTEGER NOT NULL,
		op TEXT NOT NULL,
		task_id INTEGER,
		parent_task_id INTEGER,
		subtask_id INTEGER,
		user_id TEXT,
		client_id TEXT,
		details TEXT,
		inputs_hash TEXT NOT NULL,
		timestamp DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS backups (
		id TEXT PRIMARY KEY,
		project TEXT NOT NULL,
		version INTEGER NOT NULL,
		data TEXT NOT NULL,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS local_cache (
		project TEXT PRIMARY KEY,
		data TEXT NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_changes_project ON changes(project, version);
	CREATE INDEX IF NOT EXISTS idx_backups_project ON backups(project, version);
	`

	_, err := s.db.Exec(schema)
	return err
}

// --- Project Operations ---

// SaveProject writes a project snapshot, replacing any previous one.
func (s *Store) SaveProject(snap *models.Snapshot) error {
	data, err := json.Marshal(snap.Tree)
	if err != nil {
		return fmt.Errorf("marshal project: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT INTO projects (name, data, version, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET data = excluded.data, version = excluded.version, updated_at = excluded.updated_at`,
		snap.Project, string(data), snap.Version, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("save project: %w", err)
	}
	return nil
}

// LoadProject reads a project snapshot. A missing project returns nil, nil.
func (s *Store) LoadProject(name string) (*models.Snapshot, error) {
	var data string
	snap := &models.Snapshot{Project: name}
	err := s.db.QueryRow(
		`SELECT data, version FROM projects WHERE name = ?`, name,
	).Scan(&data, &snap.Version)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query project: %w", err)
	}
	if err := json.Unmarshal([]byte(data), &snap.Tree); err != nil {
		return nil, fmt.Errorf("decode project %s: %w", name, err)
	}
	snap.Normalize()
	return snap, nil
}

// ListProjects returns every stored project name.
func (s *Store) ListProjects() ([]string, error) {
	rows, err := s.db.Query(`SELECT name FROM projects ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("query projects: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// --- Change Log Operations ---

// WriteChange appends an entry to the change log, filling its id and time.
func (s *Store) WriteChange(e models.ChangeEntry) (*models.ChangeEntry, error) {
	e.ID = uuid.New().String()
	e.Timestamp = time.Now().UTC()
	if len(e.Details) == 0 {
		e.Details = json.RawMessage("{}")
	}

	_, err := s.db.Exec(
		`INSERT INTO changes (id, project, version, op, task_id, parent_task_id, subtask_id, user_id, client_id, details, inputs_hash, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Project, e.Version, e.Op, nullInt(e.TaskID), nullInt(e.ParentTaskID), nullInt(e.SubtaskID),
		e.User, e.ClientID, string(e.Details), e.InputsHash, e.Timestamp,
	)
	if err != nil {
		return nil, fmt.Errorf("insert change: %w", err)
	}
	return &e, nil
}

// TaskLogs returns change-log entries of project that touch taskID as the
// updated task, the parent of an added subtask or the added subtask itself,
// newest first. limit <= 0 means no limit.
func (s *Store) TaskLogs(project string, taskID, limit int) ([]models.ChangeEntry, error) {
	query := `SELECT id, project, version, op, task_id, parent_task_id, subtask_id, user_id, client_id, details, inputs_hash, timestamp
		FROM changes WHERE project = ? AND (task_id = ? OR parent_task_id = ? OR subtask_id = ?)
		ORDER BY version DESC, timestamp DESC`
	args := []any{project, taskID, taskID, taskID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query changes: %w", err)
	}
	defer rows.Close()

	entries := []models.ChangeEntry{}
	for rows.Next() {
		var e models.ChangeEntry
		var taskID, parentID, subtaskID sql.NullInt64
		var user, clientID, details sql.NullString
		if err := rows.Scan(&e.ID, &e.Project, &e.Version, &e.Op, &taskID, &parentID, &subtaskID,
			&user, &clientID, &details, &e.InputsHash, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan change: %w", err)
		}
		e.TaskID = int(taskID.Int64)
		e.ParentTaskID = int(parentID.Int64)
		e.SubtaskID = int(subtaskID.Int64)
		e.User = user.String
		e.ClientID = clientID.String
		if details.Valid {
			e.Details = json.RawMessage(details.String)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// --- Backup Operations ---

// CreateBackup stores a full copy of snap.
func (s *Store) CreateBackup(snap *models.Snapshot) (*models.Backup, error) {
	data, err := json.Marshal(snap.Tree)
	if err != nil {
		return nil, fmt.Errorf("marshal backup: %w", err)
	}
	b := &models.Backup{
		ID:        uuid.New().String(),
		Project:   snap.Project,
		Version:   snap.Version,
		CreatedAt: time.Now().UTC(),
	}
	_, err = s.db.Exec(
		`INSERT INTO backups (id, project, version, data, created_at) VALUES (?, ?, ?, ?, ?)`,
		b.ID, b.Project, b.Version, string(data), b.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert backup: %w", err)
	}
	return b, nil
}

// ListBackups returns a project's backups, newest first.
func (s *Store) ListBackups(project string) ([]models.Backup, error) {
	rows, err := s.db.Query(
		`SELECT id, project, version, created_at FROM backups WHERE project = ? ORDER BY version DESC, created_at DESC`,
		project,
	)
	if err != nil {
		return nil, fmt.Errorf("query backups: %w", err)
	}
	defer rows.Close()

	var backups []models.Backup
	for rows.Next() {
		var b models.Backup
		if err := rows.Scan(&b.ID, &b.Project, &b.Version, &b.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan backup: %w", err)
		}
		backups = append(backups, b)
	}
	return backups, rows.Err()
}

// LoadBackup reads the snapshot stored in a backup. A missing backup
// returns nil, nil.
func (s *Store) LoadBackup(id string) (*models.Snapshot, error) {
	var data string
	snap := &models.Snapshot{}
	err := s.db.QueryRow(
		`SELECT project, version, data FROM backups WHERE id = ?`, id,
	).Scan(&snap.Project, &snap.Version, &data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query backup: %w", err)
	}
	if err := json.Unmarshal([]byte(data), &snap.Tree); err != nil {
		return nil, fmt.Errorf("decode backup %s: %w", id, err)
	}
	snap.Normalize()
	return snap, nil
}

// PruneBackups deletes all but the newest keep backups of a project and
// returns how many were removed.
func (s *Store) PruneBackups(project string, keep int) (int, error) {
	if keep < 0 {
		keep = 0
	}
	result, err := s.db.Exec(
		`DELETE FROM backups WHERE project = ? AND id NOT IN (
			SELECT id FROM backups WHERE project = ? ORDER BY version DESC, created_at DESC LIMIT ?
		)`,
		project, project, keep,
	)
	if err != nil {
		return 0, fmt.Errorf("prune backups: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("check rows affected: %w", err)
	}
	return int(n), nil
}

// --- Local Cache Operations ---

// SaveTree stores a client's working copy of a project.
func (s *Store) SaveTree(project string, tree *models.Tree) error {
	data, err := json.Marshal(tree)
	if err != nil {
		return fmt.Errorf("marshal tree: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT INTO local_cache (project, data, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(project) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		project, string(data), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("save local cache: %w", err)
	}
	return nil
}

// LoadLocal reads a client's cached copy. A missing entry returns nil, nil.
func (s *Store) LoadLocal(project string) (*models.Tree, error) {
	var data string
	err := s.db.QueryRow(`SELECT data FROM local_cache WHERE project = ?`, project).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query local cache: %w", err)
	}
	tree := &models.Tree{}
	if err := json.Unmarshal([]byte(data), tree); err != nil {
		return nil, fmt.Errorf("decode local cache %s: %w", project, err)
	}
	tree.Normalize()
	return tree, nil
}

func nullInt(v int) sql.NullInt64 {
	return sql.NullInt64{Int64: int64(v), Valid: v != 0}
}

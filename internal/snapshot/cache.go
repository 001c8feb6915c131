// Package snapshot keeps the relay's working copy of every open project in
// memory and writes changed projects back to the store in the background.
package snapshot

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fentz26/tasksync/internal/models"
)

// DefaultFlushInterval is how often dirty projects are written back.
const DefaultFlushInterval = 2 * time.Second

// Store is the durable home of project snapshots.
type Store interface {
	LoadProject(name string) (*models.Snapshot, error)
	SaveProject(snap *models.Snapshot) error
}

type entry struct {
	mu    sync.Mutex
	snap  *models.Snapshot
	dirty bool
}

// Cache holds loaded projects. Each project has its own lock, so patches to
// one project are applied one at a time while projects proceed in parallel.
type Cache struct {
	store    Store
	interval time.Duration
	logger   *slog.Logger

	mu       sync.Mutex
	projects map[string]*entry

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a cache over store. interval <= 0 uses DefaultFlushInterval.
func New(store Store, interval time.Duration, logger *slog.Logger) *Cache {
	if interval <= 0 {
		interval = DefaultFlushInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Cache{
		store:    store,
		interval: interval,
		logger:   logger,
		projects: make(map[string]*entry),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start begins the background flush loop.
func (c *Cache) Start() {
	c.wg.Add(1)
	go c.flushLoop()
}

// Stop ends the flush loop and writes back everything still dirty.
func (c *Cache) Stop() error {
	c.cancel()
	c.wg.Wait()
	return c.FlushAll()
}

func (c *Cache) flushLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			if err := c.FlushAll(); err != nil {
				c.logger.Warn("flush projects", "error", err)
			}
		}
	}
}

// entry returns the cache entry for name, loading it from the store on
// first use. Unknown projects start empty at version 0.
func (c *Cache) entry(name string) (*entry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.projects[name]; ok {
		return e, nil
	}
	snap, err := c.store.LoadProject(name)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", name, err)
	}
	if snap == nil {
		snap = &models.Snapshot{Project: name}
	}
	e := &entry{snap: snap}
	c.projects[name] = e
	return e, nil
}

// Get returns a deep copy of a project's current snapshot.
func (c *Cache) Get(name string) (*models.Snapshot, error) {
	e, err := c.entry(name)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return &models.Snapshot{Project: e.snap.Project, Version: e.snap.Version, Tree: *e.snap.Tree.Clone()}, nil
}

// Version returns a project's current version.
func (c *Cache) Version(name string) (int64, error) {
	e, err := c.entry(name)
	if err != nil {
		return 0, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snap.Version, nil
}

// Update runs fn with exclusive access to a project's live snapshot. When
// fn reports a change the project is marked for the next flush. fn must not
// retain the snapshot.
func (c *Cache) Update(name string, fn func(snap *models.Snapshot) (bool, error)) error {
	e, err := c.entry(name)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	changed, err := fn(e.snap)
	if changed {
		e.dirty = true
	}
	return err
}

// Dirty reports how many projects wait to be written back.
func (c *Cache) Dirty() int {
	n := 0
	for _, e := range c.entries() {
		e.mu.Lock()
		if e.dirty {
			n++
		}
		e.mu.Unlock()
	}
	return n
}

// FlushAll writes every dirty project to the store. A project that fails
// stays dirty and is retried on the next flush.
func (c *Cache) FlushAll() error {
	var firstErr error
	for _, e := range c.entries() {
		e.mu.Lock()
		if !e.dirty {
			e.mu.Unlock()
			continue
		}
		err := c.store.SaveProject(e.snap)
		if err == nil {
			e.dirty = false
		}
		name := e.snap.Project
		e.mu.Unlock()

		if err != nil {
			c.logger.Error("save project", "project", name, "error", err)
			if firstErr == nil {
				firstErr = fmt.Errorf("save %s: %w", name, err)
			}
		}
	}
	return firstErr
}

func (c *Cache) entries() []*entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*entry, 0, len(c.projects))
	for _, e := range c.projects {
		out = append(out, e)
	}
	return out
}

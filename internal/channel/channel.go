// Package channel replicates patches between one client and the relay.
//
// Outgoing patches are stamped with the room, user and client id, coalesced
// for free-typing fields, and delivered in order by a single sender goroutine
// over the websocket when it is up and over HTTP otherwise. Incoming patches
// that carry our own client id are dropped.
package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fentz26/tasksync/internal/patch"
)

// DefaultAckTimeout bounds how long one delivery may take.
const DefaultAckTimeout = 5 * time.Second

// Transport delivers one patch and returns the project version it produced.
type Transport interface {
	Send(ctx context.Context, p patch.Patch) (int64, error)
}

// Live is a persistent transport that also pushes patches from the relay.
type Live interface {
	Transport
	Connected() bool
	Join(ctx context.Context, project string) error
	Leave(ctx context.Context, project string) error
	OnPatch(fn func(patch.Patch))
	Close() error
}

// Options configures a Channel.
type Options struct {
	User       string
	ClientID   string
	Debounce   time.Duration
	AckTimeout time.Duration
	Logger     *slog.Logger
}

// Channel is one client's replication endpoint.
type Channel struct {
	live     Live
	fallback Transport
	user     string
	clientID string
	timeout  time.Duration
	logger   *slog.Logger
	debounce *Debouncer

	mu        sync.Mutex
	room      string
	onReceive func(patch.Patch)
	onNotice  func(error)
	onVersion func(project string, version int64)
	queue     []patch.Patch
	sending   int
	closed    bool

	wake chan struct{}
	done chan struct{}
	wg   sync.WaitGroup
}

// NewClientID returns a fresh per-process client id.
func NewClientID() string {
	return "c_" + uuid.New().String()
}

// New creates a channel. live may be nil, in which case every patch goes
// over the fallback transport and nothing is received.
func New(live Live, fallback Transport, opts Options) *Channel {
	if opts.ClientID == "" {
		opts.ClientID = NewClientID()
	}
	if opts.AckTimeout <= 0 {
		opts.AckTimeout = DefaultAckTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	c := &Channel{
		live:     live,
		fallback: fallback,
		user:     opts.User,
		clientID: opts.ClientID,
		timeout:  opts.AckTimeout,
		logger:   opts.Logger.With("clientId", opts.ClientID),
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	c.debounce = NewDebouncer(opts.Debounce, c.enqueue)
	if live != nil {
		live.OnPatch(c.receive)
	}
	c.wg.Add(1)
	go c.sendLoop()
	return c
}

// ClientID returns the id stamped on every outgoing patch.
func (c *Channel) ClientID() string { return c.clientID }

// User returns the acting user id.
func (c *Channel) User() string { return c.user }

// Room returns the project currently joined, or "".
func (c *Channel) Room() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.room
}

// OnReceive registers the handler for patches from other clients.
func (c *Channel) OnReceive(fn func(patch.Patch)) {
	c.mu.Lock()
	c.onReceive = fn
	c.mu.Unlock()
}

// OnNotice registers the handler for delivery failures. Failures are never
// rolled back; the handler is the only place they surface.
func (c *Channel) OnNotice(fn func(error)) {
	c.mu.Lock()
	c.onNotice = fn
	c.mu.Unlock()
}

// OnVersion registers the handler for project versions learned from acks and
// from patches the relay pushes, own echoes included. Versions can arrive out
// of order.
func (c *Channel) OnVersion(fn func(project string, version int64)) {
	c.mu.Lock()
	c.onVersion = fn
	c.mu.Unlock()
}

// Pending reports how many outgoing patches are debounced, queued or being
// delivered.
func (c *Channel) Pending() int {
	c.mu.Lock()
	n := len(c.queue) + c.sending
	c.mu.Unlock()
	return n + c.debounce.Pending()
}

// Send stamps and queues a patch for the current room.
func (c *Channel) Send(p patch.Patch) {
	c.mu.Lock()
	if p.Project == "" {
		p.Project = c.room
	}
	closed := c.closed
	c.mu.Unlock()
	if closed {
		c.notice(fmt.Errorf("%w: %w", ErrSendFailed, ErrClosed))
		return
	}
	p.User = c.user
	p.ClientID = c.clientID

	if Debounced(p) {
		c.debounce.Put(p)
		return
	}
	c.enqueue(p)
}

// Flush sends every debounced patch now.
func (c *Channel) Flush() {
	c.debounce.Flush()
}

// JoinRoom switches the channel to project. Pending debounced edits are
// flushed first so they still reach the room they were made in.
func (c *Channel) JoinRoom(ctx context.Context, project string) error {
	c.Flush()
	c.mu.Lock()
	prev := c.room
	c.room = project
	c.mu.Unlock()

	if c.live == nil {
		return nil
	}
	if prev != "" && prev != project {
		if err := c.live.Leave(ctx, prev); err != nil {
			c.logger.Warn("leave room failed", "project", prev, "error", err)
		}
	}
	if err := c.live.Join(ctx, project); err != nil {
		return fmt.Errorf("join %s: %w", project, err)
	}
	return nil
}

// LeaveRoom leaves project if it is the current room.
func (c *Channel) LeaveRoom(ctx context.Context, project string) error {
	c.Flush()
	c.mu.Lock()
	if c.room != project {
		c.mu.Unlock()
		return nil
	}
	c.room = ""
	c.mu.Unlock()

	if c.live == nil {
		return nil
	}
	if err := c.live.Leave(ctx, project); err != nil {
		return fmt.Errorf("leave %s: %w", project, err)
	}
	return nil
}

// Close flushes pending edits, waits for the queue to drain and closes the
// live transport.
func (c *Channel) Close() error {
	c.Flush()
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	close(c.done)
	c.wg.Wait()
	if c.live != nil {
		return c.live.Close()
	}
	return nil
}

func (c *Channel) receive(p patch.Patch) {
	if p.Version > 0 {
		c.version(p.Project, p.Version)
	}
	if p.ClientID == c.clientID {
		c.logger.Debug("dropping own echo", "op", p.Op, "taskId", p.TaskID)
		return
	}
	c.mu.Lock()
	room := c.room
	fn := c.onReceive
	c.mu.Unlock()
	if p.Project != "" && p.Project != room {
		return
	}
	if fn != nil {
		fn(p)
	}
}

func (c *Channel) enqueue(p patch.Patch) {
	c.mu.Lock()
	c.queue = append(c.queue, p)
	c.mu.Unlock()
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func (c *Channel) sendLoop() {
	defer c.wg.Done()
	for {
		select {
		case <-c.wake:
			c.drain()
		case <-c.done:
			c.drain()
			return
		}
	}
}

func (c *Channel) drain() {
	for {
		c.mu.Lock()
		if len(c.queue) == 0 {
			c.mu.Unlock()
			return
		}
		p := c.queue[0]
		c.queue = c.queue[1:]
		c.sending++
		c.mu.Unlock()

		version, err := c.deliver(p)
		if err != nil {
			c.logger.Warn("patch delivery failed", "op", p.Op, "taskId", p.TaskID, "error", err)
			c.notice(fmt.Errorf("%w: %s task %d: %w", ErrSendFailed, p.Op, p.TaskID, err))
		} else if version > 0 {
			c.version(p.Project, version)
		}

		c.mu.Lock()
		c.sending--
		c.mu.Unlock()
	}
}

func (c *Channel) deliver(p patch.Patch) (int64, error) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	if c.live != nil && c.live.Connected() {
		v, err := c.live.Send(ctx, p)
		if !errors.Is(err, ErrNotConnected) {
			return v, err
		}
	}
	if c.fallback == nil {
		return 0, ErrNotConnected
	}
	return c.fallback.Send(ctx, p)
}

func (c *Channel) version(project string, v int64) {
	c.mu.Lock()
	fn := c.onVersion
	c.mu.Unlock()
	if fn != nil {
		fn(project, v)
	}
}

func (c *Channel) notice(err error) {
	c.mu.Lock()
	fn := c.onNotice
	c.mu.Unlock()
	if fn != nil {
		fn(err)
	}
}

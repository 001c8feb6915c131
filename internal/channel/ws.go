package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/fentz26/tasksync/internal/patch"
)

const (
	DefaultReconnectInterval = 2 * time.Second
	wsWriteWait              = 10 * time.Second
)

// WSTransport is the persistent transport. It reconnects on its own and
// re-joins the current room after every reconnect.
type WSTransport struct {
	url       string
	dialer    *websocket.Dialer
	reconnect time.Duration
	logger    *slog.Logger

	mu      sync.Mutex
	conn    *websocket.Conn
	room    string
	nextID  int64
	pending map[int64]chan patch.Frame
	onPatch func(patch.Patch)
	onState func(connected bool)

	writeMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// WSOptions configures a WSTransport.
type WSOptions struct {
	ReconnectInterval time.Duration
	Logger            *slog.Logger
	OnState           func(connected bool)
}

// DialWS starts connecting to the relay in the background and returns at
// once. Until the first connection succeeds Connected reports false and
// callers fall back to HTTP.
func DialWS(rawURL string, opts WSOptions) *WSTransport {
	if opts.ReconnectInterval <= 0 {
		opts.ReconnectInterval = DefaultReconnectInterval
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	t := &WSTransport{
		url:       WebsocketURL(rawURL),
		dialer:    &websocket.Dialer{HandshakeTimeout: 5 * time.Second},
		reconnect: opts.ReconnectInterval,
		logger:    opts.Logger,
		pending:   make(map[int64]chan patch.Frame),
		onState:   opts.OnState,
		ctx:       ctx,
		cancel:    cancel,
	}
	t.wg.Add(1)
	go t.run()
	return t
}

// WebsocketURL maps an http(s) relay address to its websocket endpoint.
func WebsocketURL(base string) string {
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	if strings.HasSuffix(base, "/ws") {
		return base
	}
	return strings.TrimSuffix(base, "/") + "/ws"
}

// OnPatch registers the handler for patches pushed by the relay. It runs on
// the reader goroutine.
func (t *WSTransport) OnPatch(fn func(patch.Patch)) {
	t.mu.Lock()
	t.onPatch = fn
	t.mu.Unlock()
}

// OnState registers the handler called when the socket connects or drops.
// It replaces any handler given in WSOptions.
func (t *WSTransport) OnState(fn func(connected bool)) {
	t.mu.Lock()
	t.onState = fn
	t.mu.Unlock()
}

// Connected reports whether a socket is currently open.
func (t *WSTransport) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn != nil
}

// Join makes project the current room. The membership is remembered and
// replayed after a reconnect, so joining while disconnected is not an error.
func (t *WSTransport) Join(ctx context.Context, project string) error {
	t.mu.Lock()
	t.room = project
	t.mu.Unlock()
	_, err := t.request(ctx, patch.Frame{Type: patch.FrameJoin, Project: project})
	if errors.Is(err, ErrNotConnected) {
		return nil
	}
	return err
}

// Leave drops the current room membership.
func (t *WSTransport) Leave(ctx context.Context, project string) error {
	t.mu.Lock()
	if t.room == project {
		t.room = ""
	}
	t.mu.Unlock()
	_, err := t.request(ctx, patch.Frame{Type: patch.FrameLeave, Project: project})
	if errors.Is(err, ErrNotConnected) {
		return nil
	}
	return err
}

// Send delivers one patch and waits for the relay's acknowledgement.
func (t *WSTransport) Send(ctx context.Context, p patch.Patch) (int64, error) {
	ack, err := t.request(ctx, patch.Frame{Type: patch.FrameSend, Project: p.Project, Patch: &p})
	if err != nil {
		return 0, err
	}
	return ack.Version, nil
}

// Close stops reconnecting and closes the socket. Requests still waiting
// for an ack fail.
func (t *WSTransport) Close() error {
	t.cancel()
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn != nil {
		t.writeMu.Lock()
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		t.writeMu.Unlock()
		conn.Close()
	}
	t.wg.Wait()
	return nil
}

func (t *WSTransport) request(ctx context.Context, f patch.Frame) (patch.Frame, error) {
	t.mu.Lock()
	conn := t.conn
	if conn == nil {
		t.mu.Unlock()
		return patch.Frame{}, ErrNotConnected
	}
	t.nextID++
	f.ID = t.nextID
	ch := make(chan patch.Frame, 1)
	t.pending[f.ID] = ch
	t.mu.Unlock()

	defer func() {
		t.mu.Lock()
		delete(t.pending, f.ID)
		t.mu.Unlock()
	}()

	t.writeMu.Lock()
	conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	err := conn.WriteJSON(f)
	t.writeMu.Unlock()
	if err != nil {
		return patch.Frame{}, fmt.Errorf("write %s: %w", f.Type, err)
	}

	select {
	case ack, ok := <-ch:
		if !ok {
			return patch.Frame{}, fmt.Errorf("%s: %w", f.Type, ErrNotConnected)
		}
		if !ack.OK {
			return ack, fmt.Errorf("%w: %s", ErrRejected, ack.Error)
		}
		return ack, nil
	case <-ctx.Done():
		return patch.Frame{}, fmt.Errorf("wait for %s ack: %w", f.Type, ctx.Err())
	case <-t.ctx.Done():
		return patch.Frame{}, ErrClosed
	}
}

func (t *WSTransport) run() {
	defer t.wg.Done()
	for {
		conn, _, err := t.dialer.DialContext(t.ctx, t.url, http.Header{})
		if err != nil {
			if t.ctx.Err() != nil {
				return
			}
			t.logger.Debug("websocket dial failed", "url", t.url, "error", err)
		} else {
			t.serve(conn)
			if t.ctx.Err() != nil {
				return
			}
			t.logger.Info("websocket disconnected, reconnecting", "url", t.url)
		}

		select {
		case <-t.ctx.Done():
			return
		case <-time.After(t.reconnect):
		}
	}
}

// serve owns one connection until it drops.
func (t *WSTransport) serve(conn *websocket.Conn) {
	t.mu.Lock()
	t.conn = conn
	room := t.room
	onState := t.onState
	t.mu.Unlock()
	if onState != nil {
		onState(true)
	}

	if room != "" {
		go func() {
			ctx, cancel := context.WithTimeout(t.ctx, wsWriteWait)
			defer cancel()
			if _, err := t.request(ctx, patch.Frame{Type: patch.FrameJoin, Project: room}); err != nil {
				t.logger.Warn("rejoin failed", "project", room, "error", err)
			}
		}()
	}

	t.readLoop(conn)

	t.mu.Lock()
	t.conn = nil
	for id, ch := range t.pending {
		close(ch)
		delete(t.pending, id)
	}
	t.mu.Unlock()
	conn.Close()
	if onState != nil {
		onState(false)
	}
}

func (t *WSTransport) readLoop(conn *websocket.Conn) {
	for {
		var f patch.Frame
		if err := conn.ReadJSON(&f); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				t.logger.Debug("websocket read failed", "error", err)
			}
			return
		}
		switch f.Type {
		case patch.FrameAck:
			t.mu.Lock()
			ch, ok := t.pending[f.ID]
			delete(t.pending, f.ID)
			t.mu.Unlock()
			if ok {
				ch <- f
			}
		case patch.FramePatch:
			if f.Patch == nil {
				continue
			}
			t.mu.Lock()
			fn := t.onPatch
			t.mu.Unlock()
			if fn != nil {
				fn(*f.Patch)
			}
		default:
			t.logger.Debug("unknown frame", "type", f.Type)
		}
	}
}

package relay

import (
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/fentz26/tasksync/internal/patch"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4 << 20
	sendBuffer     = 256
)

// conn is one websocket client. It is in at most one room.
type conn struct {
	ws     *websocket.Conn
	send   chan patch.Frame
	room   string
	closed bool
}

// Hub tracks websocket clients by room and relays patches between them.
type Hub struct {
	service  *Service
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu    sync.Mutex
	rooms map[string]map[*conn]struct{}
	conns map[*conn]struct{}
}

// NewHub creates a hub and registers it as the service's broadcaster.
func NewHub(service *Service, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Hub{
		service: service,
		logger:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		rooms: make(map[string]map[*conn]struct{}),
		conns: make(map[*conn]struct{}),
	}
	service.SetBroadcaster(h)
	return h
}

// ServeHTTP upgrades the request and serves the connection until it closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", "error", err)
		return
	}
	c := &conn{ws: ws, send: make(chan patch.Frame, sendBuffer)}
	h.mu.Lock()
	h.conns[c] = struct{}{}
	h.mu.Unlock()

	go h.writePump(c)
	h.readPump(c)
}

// Broadcast sends p to every client in the project's room, the sender
// included. Clients that cannot keep up are disconnected.
func (h *Hub) Broadcast(project string, p patch.Patch) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.rooms[project] {
		pp := p
		h.sendLocked(c, patch.Frame{Type: patch.FramePatch, Patch: &pp})
	}
}

// RoomSize returns how many clients are in a room.
func (h *Hub) RoomSize(project string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms[project])
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.conns {
		h.dropLocked(c)
	}
}

func (h *Hub) readPump(c *conn) {
	defer func() {
		h.mu.Lock()
		h.dropLocked(c)
		h.mu.Unlock()
		c.ws.Close()
	}()

	c.ws.SetReadLimit(maxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var f patch.Frame
		if err := c.ws.ReadJSON(&f); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("websocket read failed", "error", err)
			}
			return
		}
		h.handle(c, f)
	}
}

func (h *Hub) handle(c *conn, f patch.Frame) {
	switch f.Type {
	case patch.FrameJoin:
		if !patch.ValidProjectName(f.Project) {
			h.reply(c, patch.Ack(f.ID, 0, fmt.Errorf("%w: project %q", patch.ErrInvalidPatch, f.Project)))
			return
		}
		h.mu.Lock()
		h.leaveLocked(c)
		c.room = f.Project
		if h.rooms[f.Project] == nil {
			h.rooms[f.Project] = make(map[*conn]struct{})
		}
		h.rooms[f.Project][c] = struct{}{}
		h.mu.Unlock()
		version, err := h.service.Version(f.Project)
		h.reply(c, patch.Ack(f.ID, version, err))

	case patch.FrameLeave:
		h.mu.Lock()
		if c.room == f.Project || f.Project == "" {
			h.leaveLocked(c)
		}
		h.mu.Unlock()
		h.reply(c, patch.Ack(f.ID, 0, nil))

	case patch.FrameSend:
		if f.Patch == nil {
			h.reply(c, patch.Ack(f.ID, 0, fmt.Errorf("%w: missing patch", patch.ErrInvalidPatch)))
			return
		}
		p := *f.Patch
		if p.Project == "" {
			h.mu.Lock()
			p.Project = c.room
			h.mu.Unlock()
		}
		res, err := h.service.ApplyPatch(p)
		if err != nil {
			h.logger.Warn("patch rejected", "project", p.Project, "op", p.Op, "clientId", p.ClientID, "error", err)
		}
		h.reply(c, patch.Ack(f.ID, res.Version, err))

	default:
		h.reply(c, patch.Ack(f.ID, 0, fmt.Errorf("unknown frame type %q", f.Type)))
	}
}

func (h *Hub) reply(c *conn, f patch.Frame) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sendLocked(c, f)
}

func (h *Hub) sendLocked(c *conn, f patch.Frame) {
	if c.closed {
		return
	}
	select {
	case c.send <- f:
	default:
		h.logger.Warn("client too slow, disconnecting", "project", c.room)
		h.dropLocked(c)
	}
}

func (h *Hub) leaveLocked(c *conn) {
	if c.room == "" {
		return
	}
	members := h.rooms[c.room]
	delete(members, c)
	if len(members) == 0 {
		delete(h.rooms, c.room)
	}
	c.room = ""
}

func (h *Hub) dropLocked(c *conn) {
	if c.closed {
		return
	}
	h.leaveLocked(c)
	delete(h.conns, c)
	c.closed = true
	close(c.send)
}

// writePump owns all writes to the connection, including keepalive pings.
func (h *Hub) writePump(c *conn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case f, ok := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteJSON(f); err != nil {
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

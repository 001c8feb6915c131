package relay

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/fentz26/tasksync/internal/models"
	"github.com/fentz26/tasksync/internal/patch"
)

// Server provides the HTTP and websocket API of the relay.
type Server struct {
	service *Service
	hub     *Hub
	addr    string
	version string
	server  *http.Server
}

// NewServer creates a new HTTP server.
func NewServer(service *Service, hub *Hub, addr, version string) *Server {
	return &Server{
		service: service,
		hub:     hub,
		addr:    addr,
		version: version,
	}
}

// Handler returns the request router.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.Handle("/ws", s.hub)
	mux.HandleFunc("/api/patch", s.handlePatch)
	mux.HandleFunc("/api/projects/", s.handleProject)
	mux.HandleFunc("/api/task-logs", s.handleTaskLogs)
	mux.HandleFunc("/health", s.handleHealth)

	return mux
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:        s.addr,
		Handler:     s.Handler(),
		ReadTimeout: 10 * time.Second,
	}

	log.Printf("Starting tasksync relay on %s", s.addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server and disconnects websocket clients.
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.Close()
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

type patchResponse struct {
	OK      bool   `json:"ok"`
	Version int64  `json:"version"`
	Error   string `json:"error,omitempty"`
}

// handlePatch handles POST /api/patch, the fallback path for clients
// without a live socket.
func (s *Server) handlePatch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var p patch.Patch
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxMessageSize)).Decode(&p); err != nil {
		writeJSON(w, http.StatusBadRequest, patchResponse{Error: "invalid json"})
		return
	}

	res, err := s.service.ApplyPatch(p)
	if err != nil {
		log.Printf("Patch rejected (%s %s): %v", p.Project, p.Op, err)
		writeJSON(w, statusFor(err), patchResponse{Version: res.Version, Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, patchResponse{OK: true, Version: res.Version})
}

// handleProject handles /api/projects/{name}[/version|/grid].
func (s *Server) handleProject(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	path := strings.TrimPrefix(r.URL.Path, "/api/projects/")
	parts := strings.Split(path, "/")
	if len(parts) == 0 || parts[0] == "" {
		http.Error(w, "project name required", http.StatusBadRequest)
		return
	}

	name := parts[0]
	action := ""
	if len(parts) > 1 {
		action = parts[1]
	}

	switch action {
	case "":
		snap, err := s.service.Load(name)
		if err != nil {
			http.Error(w, err.Error(), statusFor(err))
			return
		}
		writeJSON(w, http.StatusOK, snap)
	case "version":
		v, err := s.service.Version(name)
		if err != nil {
			http.Error(w, err.Error(), statusFor(err))
			return
		}
		writeJSON(w, http.StatusOK, map[string]int64{"version": v})
	case "grid":
		g, err := s.service.Grid(name)
		if err != nil {
			http.Error(w, err.Error(), statusFor(err))
			return
		}
		writeJSON(w, http.StatusOK, g)
	default:
		http.Error(w, "not found", http.StatusNotFound)
	}
}

type taskLogsResponse struct {
	OK      bool                 `json:"ok"`
	Entries []models.ChangeEntry `json:"entries"`
}

// handleTaskLogs handles GET /api/task-logs?project=&taskId=&limit=
func (s *Server) handleTaskLogs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	q := r.URL.Query()
	taskID, err := strconv.Atoi(q.Get("taskId"))
	if err != nil {
		http.Error(w, "taskId must be a number", http.StatusBadRequest)
		return
	}
	limit, _ := strconv.Atoi(q.Get("limit"))

	entries, err := s.service.TaskLogs(q.Get("project"), taskID, limit)
	if err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}
	if entries == nil {
		entries = []models.ChangeEntry{}
	}
	writeJSON(w, http.StatusOK, taskLogsResponse{OK: true, Entries: entries})
}

// HealthResponse is the payload of GET /health.
type HealthResponse struct {
	OK      bool   `json:"ok"`
	DB      string `json:"db"`
	Version string `json:"version"`
	Time    string `json:"time"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	resp := HealthResponse{
		OK:      true,
		DB:      "ok",
		Version: s.version,
		Time:    time.Now().UTC().Format(time.RFC3339),
	}
	status := http.StatusOK

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.service.Ping(ctx); err != nil {
		resp.OK = false
		resp.DB = "error: " + err.Error()
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, patch.ErrInvalidPatch),
		errors.Is(err, patch.ErrBadCellKey),
		errors.Is(err, patch.ErrNotPatchable),
		errors.Is(err, models.ErrUnknownField),
		errors.Is(err, models.ErrInvalidValue):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrTooDeep),
		errors.Is(err, models.ErrCannotMove):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

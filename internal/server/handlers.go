// Package server exposes HTTP handlers: the WebSocket upgrade, the room and
// user admin API, health checks, and the built-in test page.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/Tyrowin/roomchat/internal/store"
)

const healthText = "Room chat server is running!"

// ErrorResponse is the body of every non-2xx admin API response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// CreateRoomResponse is returned by POST /rooms.
type CreateRoomResponse struct {
	RoomID  string `json:"room_id"`
	Name    string `json:"name"`
	Message string `json:"message"`
}

// CreateUserResponse is returned by POST /users.
type CreateUserResponse struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Message  string `json:"message"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status           string `json:"status"`
	ConnectedClients int    `json:"connected_clients"`
	Rooms            int    `json:"rooms"`
	BroadcastScope   string `json:"broadcast_scope"`
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("Error writing JSON response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{Error: code, Message: message})
}

// WebSocketHandler upgrades GET /ws/{user_id} (or /ws?user_id=) and starts a
// session for that identity.
func (s *Server) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}

	userID := strings.TrimSpace(r.PathValue("user_id"))
	if userID == "" {
		userID = strings.TrimSpace(r.URL.Query().Get("user_id"))
	}
	if userID == "" {
		http.Error(w, "user_id is required", http.StatusBadRequest)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	client := NewClient(conn, s.dispatcher, userID, r.RemoteAddr, s.config)
	if !s.hub.Go(client.Run) {
		log.Printf("Rejecting connection from %s: server is shutting down", r.RemoteAddr)
		_ = client.Close()
	}
}

// HealthHandler provides a simple health check endpoint that returns server status.
func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprint(w, healthText)
}

// IndexHandler serves static_dir/index.html when present, otherwise the
// plain-text health message.
func (s *Server) IndexHandler(w http.ResponseWriter, r *http.Request) {
	if s.config.StaticDir != "" {
		index := filepath.Join(s.config.StaticDir, "index.html")
		if info, err := os.Stat(index); err == nil && !info.IsDir() {
			http.ServeFile(w, r, index)
			return
		}
	}
	HealthHandler(w, r)
}

// HealthJSONHandler reports connection and room counts.
func (s *Server) HealthJSONHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:           "healthy",
		ConnectedClients: s.hub.Count(),
		Rooms:            s.rooms.Count(),
		BroadcastScope:   string(s.hub.Scope()),
	})
}

// ListRoomsHandler handles GET /rooms.
func (s *Server) ListRoomsHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.rooms.ListRooms())
}

// CreateRoomHandler handles POST /rooms with a name query or form field.
func (s *Server) CreateRoomHandler(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimSpace(r.FormValue("name"))
	if name == "" {
		writeError(w, http.StatusBadRequest, "validation_error", "Room name is required")
		return
	}

	room := s.rooms.CreateRoom(name)
	log.Printf("Room %s (%s) created", room.ID, room.Name)
	writeJSON(w, http.StatusOK, CreateRoomResponse{
		RoomID:  room.ID,
		Name:    room.Name,
		Message: "Room created",
	})
}

// GetRoomHandler handles GET /rooms/{id}.
func (s *Server) GetRoomHandler(w http.ResponseWriter, r *http.Request) {
	room, err := s.rooms.GetRoom(r.PathValue("id"))
	if err != nil {
		writeStoreError(w, err, "Room not found")
		return
	}
	writeJSON(w, http.StatusOK, room)
}

// RoomMessagesHandler handles GET /rooms/{id}/messages?limit=N. The limit
// defaults to the configured history limit; zero or less returns everything.
func (s *Server) RoomMessagesHandler(w http.ResponseWriter, r *http.Request) {
	limit := s.config.HistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "validation_error", "limit must be an integer")
			return
		}
		limit = parsed
	}

	messages, err := s.rooms.RecentMessages(r.PathValue("id"), limit)
	if err != nil {
		writeStoreError(w, err, "Room not found")
		return
	}
	writeJSON(w, http.StatusOK, messages)
}

// ListUsersHandler handles GET /users.
func (s *Server) ListUsersHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.users.ListUsers())
}

// CreateUserHandler handles POST /users with a username query or form field.
func (s *Server) CreateUserHandler(w http.ResponseWriter, r *http.Request) {
	username := strings.TrimSpace(r.FormValue("username"))
	if username == "" {
		writeError(w, http.StatusBadRequest, "validation_error", "Username is required")
		return
	}

	user := s.users.CreateUser(username)
	log.Printf("User %s (%s) created", user.ID, user.Username)
	writeJSON(w, http.StatusOK, CreateUserResponse{
		UserID:   user.ID,
		Username: user.Username,
		Message:  "User created",
	})
}

// GetUserHandler handles GET /users/{id}.
func (s *Server) GetUserHandler(w http.ResponseWriter, r *http.Request) {
	user, err := s.users.GetUser(r.PathValue("id"))
	if err != nil {
		writeStoreError(w, err, "User not found")
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func writeStoreError(w http.ResponseWriter, err error, notFoundMessage string) {
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found", notFoundMessage)
		return
	}
	log.Printf("Store error: %v", err)
	writeError(w, http.StatusInternalServerError, "internal_error", "Internal server error")
}

// Package server wires HTTP handlers into a ServeMux for the chat
// application via routing helpers.
package server

import (
	"net/http"
	"os"
	"path/filepath"
)

// SetupRoutes configures and returns an HTTP ServeMux with all application routes.
func SetupRoutes(s *Server) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/{$}", s.IndexHandler)
	mux.HandleFunc("GET /health", s.HealthJSONHandler)
	mux.HandleFunc("GET /test", TestPageHandler)

	mux.HandleFunc("/ws", s.WebSocketHandler)
	mux.HandleFunc("/ws/{user_id}", s.WebSocketHandler)

	mux.HandleFunc("GET /rooms", s.ListRoomsHandler)
	mux.HandleFunc("POST /rooms", s.CreateRoomHandler)
	mux.HandleFunc("GET /rooms/{id}", s.GetRoomHandler)
	mux.HandleFunc("GET /rooms/{id}/messages", s.RoomMessagesHandler)

	mux.HandleFunc("GET /users", s.ListUsersHandler)
	mux.HandleFunc("POST /users", s.CreateUserHandler)
	mux.HandleFunc("GET /users/{id}", s.GetUserHandler)

	if dir := s.config.StaticDir; dir != "" {
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			mux.Handle("GET /static/", http.StripPrefix("/static/", http.FileServer(http.Dir(filepath.Clean(dir)))))
		}
	}

	return mux
}

package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/roomchat/internal/store"
)

// Server owns the shared chat state and exposes it over HTTP and WebSocket.
type Server struct {
	config     Config
	hub        *Hub
	rooms      *store.RoomStore
	users      *store.UserDirectory
	dispatcher *Dispatcher
	archive    store.Archive
	upgrader   websocket.Upgrader
}

// New builds a Server from cfg. When cfg.DatabasePath is set the SQLite
// archive is opened and the stores are restored from it.
func New(cfg *Config) (*Server, error) {
	if cfg == nil {
		cfg = NewConfig()
	}
	c := sanitizeConfig(*cfg)

	var (
		archive store.Archive
		opts    []store.Option
	)
	if c.DatabasePath != "" {
		a, err := store.OpenSQLite(c.DatabasePath, c.DatabaseDebug)
		if err != nil {
			return nil, err
		}
		snap, err := a.Load()
		if err != nil {
			_ = a.Close()
			return nil, fmt.Errorf("failed to restore archive: %w", err)
		}
		log.Printf("Restored %d rooms and %d users from %s", len(snap.Rooms), len(snap.Users), c.DatabasePath)
		archive = a
		opts = append(opts, store.WithArchive(a), store.WithSnapshot(snap))
	}

	return NewWithStores(c,
		store.NewRoomStore(c.DefaultRoomName, opts...),
		store.NewUserDirectory(opts...),
		archive,
	), nil
}

// NewWithStores builds a Server around existing stores. archive may be nil.
func NewWithStores(cfg Config, rooms *store.RoomStore, users *store.UserDirectory, archive store.Archive) *Server {
	cfg = sanitizeConfig(cfg)
	hub := NewHub(cfg.BroadcastScope)
	origins := newOriginPolicy(cfg.AllowedOrigins)

	return &Server{
		config:     cfg,
		hub:        hub,
		rooms:      rooms,
		users:      users,
		dispatcher: NewDispatcher(hub, rooms, users),
		archive:    archive,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     origins.check,
		},
	}
}

// Config returns the sanitized configuration in use.
func (s *Server) Config() Config {
	return s.config
}

// Hub returns the connection registry.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Rooms returns the room store.
func (s *Server) Rooms() *store.RoomStore {
	return s.rooms
}

// Users returns the user directory.
func (s *Server) Users() *store.UserDirectory {
	return s.users
}

// Handler returns the HTTP handler serving every route.
func (s *Server) Handler() http.Handler {
	return SetupRoutes(s)
}

// Close shuts the hub down, waiting for sessions until ctx expires, and
// closes the archive.
func (s *Server) Close(ctx context.Context) error {
	timeout := s.config.ShutdownTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}

	var errs []error
	if err := s.hub.Shutdown(timeout); err != nil {
		errs = append(errs, fmt.Errorf("hub shutdown: %w", err))
	}
	if s.archive != nil {
		if err := s.archive.Close(); err != nil {
			errs = append(errs, fmt.Errorf("archive close: %w", err))
		}
	}
	return errors.Join(errs...)
}

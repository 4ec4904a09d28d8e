package store

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

// RoomStore is the room registry and transcript storage. All access goes
// through a single RWMutex; values handed out are copies.
type RoomStore struct {
	mu        sync.RWMutex
	rooms     map[string]*Room
	defaultID string
	seq       uint64 // last assigned Message.Seq
	archive   Archive
}

// NewRoomStore creates a store holding a default room. When a snapshot with
// a default room is supplied that room is reused, otherwise a new one named
// defaultName is created.
func NewRoomStore(defaultName string, opts ...Option) *RoomStore {
	o := buildOptions(opts)
	s := &RoomStore{
		rooms:   make(map[string]*Room, len(o.rooms)+1),
		archive: o.archive,
	}

	for _, room := range o.rooms {
		restored := room.clone()
		s.rooms[restored.ID] = &restored
		for _, msg := range restored.Messages {
			s.seq = max(s.seq, msg.Seq)
		}
		if restored.IsDefault && s.defaultID == "" {
			s.defaultID = restored.ID
		}
	}

	if s.defaultID == "" {
		room := s.insert(defaultName, true)
		s.defaultID = room.ID
	}

	return s
}

// DefaultRoomID returns the id of the room created at startup.
func (s *RoomStore) DefaultRoomID() string {
	return s.defaultID
}

// CreateRoom registers a new empty room and returns it.
func (s *RoomStore) CreateRoom(name string) Room {
	return s.insert(name, false)
}

func (s *RoomStore) insert(name string, isDefault bool) Room {
	room := &Room{
		ID:        uuid.New().String(),
		Name:      name,
		CreatedAt: time.Now(),
		IsDefault: isDefault,
		Messages:  []Message{},
	}

	s.mu.Lock()
	s.rooms[room.ID] = room
	created := room.clone()
	s.mu.Unlock()

	if s.archive != nil {
		if err := s.archive.SaveRoom(created); err != nil {
			log.Printf("Failed to archive room %s: %v", created.ID, err)
		}
	}

	return created
}

// GetRoom returns a copy of the room, or ErrNotFound.
func (s *RoomStore) GetRoom(roomID string) (Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	room, ok := s.rooms[roomID]
	if !ok {
		return Room{}, fmt.Errorf("room %s: %w", roomID, ErrNotFound)
	}
	return room.clone(), nil
}

// HasRoom reports whether roomID is known.
func (s *RoomStore) HasRoom(roomID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.rooms[roomID]
	return ok
}

// ListRooms returns a snapshot of all rooms in no particular order.
func (s *RoomStore) ListRooms() []Room {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rooms := make([]Room, 0, len(s.rooms))
	for _, room := range s.rooms {
		rooms = append(rooms, room.clone())
	}
	return rooms
}

// AppendMessage adds msg to the transcript of roomID and stamps its Seq. It
// reports false and stores nothing when the room is unknown.
func (s *RoomStore) AppendMessage(roomID string, msg Message) bool {
	s.mu.Lock()
	room, ok := s.rooms[roomID]
	if ok {
		s.seq++
		msg.Seq = s.seq
		room.Messages = append(room.Messages, msg)
	}
	s.mu.Unlock()

	if !ok {
		return false
	}

	if s.archive != nil {
		if err := s.archive.SaveMessage(msg); err != nil {
			log.Printf("Failed to archive message %s: %v", msg.ID, err)
		}
	}
	return true
}

// RecentMessages returns the last limit messages of roomID in chronological
// order. A limit of zero or less returns the whole transcript.
func (s *RoomStore) RecentMessages(roomID string, limit int) ([]Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	room, ok := s.rooms[roomID]
	if !ok {
		return nil, fmt.Errorf("room %s: %w", roomID, ErrNotFound)
	}

	messages := room.Messages
	if limit > 0 && len(messages) > limit {
		messages = messages[len(messages)-limit:]
	}

	out := make([]Message, len(messages))
	copy(out, messages)
	return out, nil
}

// Count returns the number of rooms.
func (s *RoomStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rooms)
}

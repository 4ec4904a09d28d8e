// Package store holds the authoritative in-memory state of the chat service:
// rooms with their transcripts and the user directory. An optional Archive
// mirrors every write so state can be restored on the next start.
package store

import (
	"errors"
	"time"

	"github.com/oklog/ulid/v2"
)

// ErrNotFound is returned when a room or user id is unknown.
var ErrNotFound = errors.New("not found")

const fallbackNamePrefix = "Guest-"

// User is a registered chat participant.
type User struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"created_at"`
}

// Room is a named channel with its own append-only transcript.
type Room struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	IsDefault bool      `json:"is_default"`
	Messages  []Message `json:"messages"`
}

// Message is a single chat line. Username is captured at send time so later
// renames never rewrite history. Seq is assigned by the RoomStore on append
// and orders the transcript.
type Message struct {
	ID        string    `json:"id"`
	RoomID    string    `json:"room_id"`
	UserID    string    `json:"user_id"`
	Username  string    `json:"username"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	Seq       uint64    `json:"-"`
}

// NewMessage builds a message stamped with a fresh ULID and the current time.
func NewMessage(roomID, userID, username, content string) Message {
	return Message{
		ID:        ulid.Make().String(),
		RoomID:    roomID,
		UserID:    userID,
		Username:  username,
		Content:   content,
		Timestamp: time.Now(),
	}
}

// FallbackName derives the display name used for identities that have no
// directory entry. The result depends only on the id.
func FallbackName(userID string) string {
	runes := []rune(userID)
	if len(runes) > 8 {
		runes = runes[:8]
	}
	return fallbackNamePrefix + string(runes)
}

func (r Room) clone() Room {
	out := r
	out.Messages = append([]Message(nil), r.Messages...)
	if out.Messages == nil {
		out.Messages = []Message{}
	}
	return out
}

// Option configures a RoomStore or UserDirectory.
type Option func(*options)

type options struct {
	archive Archive
	rooms   []Room
	users   []User
}

// WithArchive mirrors every write into the given archive.
func WithArchive(a Archive) Option {
	return func(o *options) {
		o.archive = a
	}
}

// WithSnapshot seeds the store with previously archived state.
func WithSnapshot(s Snapshot) Option {
	return func(o *options) {
		o.rooms = s.Rooms
		o.users = s.Users
	}
}

func buildOptions(opts []Option) options {
	var o options
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}

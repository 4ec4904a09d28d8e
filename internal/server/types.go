// Package server defines the inbound frame and outbound event formats shared
// by the session handler and the hub.
package server

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/Tyrowin/roomchat/internal/store"
)

// Inbound frame kinds.
const (
	FrameChat     = "chat"
	FrameJoinRoom = "join_room"
)

// Outbound event kinds.
const (
	EventSystem = "system"
	EventChat   = "chat"
)

// Frame is a decoded client frame. Unknown types are accepted and ignored.
type Frame struct {
	Type    string `json:"type"`
	RoomID  string `json:"room_id,omitempty"`
	Content string `json:"content,omitempty"`
}

// SystemEvent is a server generated notice (welcome, join, leave).
type SystemEvent struct {
	Type      string    `json:"type"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// ChatEvent carries a user authored message.
type ChatEvent struct {
	Type    string        `json:"type"`
	Message store.Message `json:"message"`
}

func encodeSystemEvent(content string) ([]byte, error) {
	return json.Marshal(SystemEvent{
		Type:      EventSystem,
		Content:   content,
		Timestamp: time.Now(),
	})
}

func encodeChatEvent(msg store.Message) ([]byte, error) {
	return json.Marshal(ChatEvent{
		Type:    EventChat,
		Message: msg,
	})
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}

package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/Tyrowin/roomchat/internal/store"
)

const welcomeText = "Welcome to the chat!"

// ErrMalformedFrame wraps frames that could not be decoded.
var ErrMalformedFrame = errors.New("malformed frame")

// Dispatcher applies decoded frames to the room store and hub. It holds no
// per-connection state, so one instance serves every session.
type Dispatcher struct {
	hub   *Hub
	rooms *store.RoomStore
	users *store.UserDirectory
}

// NewDispatcher wires a Dispatcher to the shared state.
func NewDispatcher(hub *Hub, rooms *store.RoomStore, users *store.UserDirectory) *Dispatcher {
	return &Dispatcher{hub: hub, rooms: rooms, users: users}
}

// Open queues the welcome notice on handle and then registers it for userID,
// so the welcome is always the first event the connection sees. The handle
// is registered even when the welcome cannot be queued.
func (d *Dispatcher) Open(userID string, handle Handle) error {
	payload, err := encodeSystemEvent(welcomeText)
	if err != nil {
		d.hub.Connect(userID, handle)
		return fmt.Errorf("encode welcome: %w", err)
	}
	sendErr := handle.Send(payload)
	d.hub.Connect(userID, handle)

	if sendErr != nil {
		return fmt.Errorf("send welcome to %s: %w", userID, sendErr)
	}
	return nil
}

// Dispatch decodes one raw frame from userID and acts on it. Undecodable
// input yields ErrMalformedFrame and changes nothing; unknown kinds are
// ignored.
func (d *Dispatcher) Dispatch(userID string, raw []byte) error {
	var frame Frame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	switch frame.Type {
	case FrameChat:
		d.handleChat(userID, frame)
	case FrameJoinRoom:
		d.handleJoin(userID, frame)
	default:
		log.Printf("Ignoring frame of type %q from %s", frame.Type, userID)
	}
	return nil
}

// resolveRoom maps an omitted room id to the default room.
func (d *Dispatcher) resolveRoom(roomID string) string {
	if roomID == "" {
		return d.rooms.DefaultRoomID()
	}
	return roomID
}

func (d *Dispatcher) handleChat(userID string, frame Frame) store.Message {
	roomID := d.resolveRoom(frame.RoomID)
	msg := store.NewMessage(roomID, userID, d.users.ResolveName(userID), frame.Content)

	if d.rooms.AppendMessage(roomID, msg) {
		d.hub.Subscribe(userID, roomID)
	} else {
		log.Printf("Message %s from %s targets unknown room %s; not stored", msg.ID, userID, roomID)
	}

	payload, err := encodeChatEvent(msg)
	if err != nil {
		log.Printf("Error encoding chat event from %s: %v", userID, err)
		return msg
	}
	d.hub.BroadcastToRoom(payload, roomID)
	return msg
}

func (d *Dispatcher) handleJoin(userID string, frame Frame) {
	roomID := d.resolveRoom(frame.RoomID)
	if d.rooms.HasRoom(roomID) {
		d.hub.Subscribe(userID, roomID)
	} else {
		log.Printf("User %s joined unknown room %s; not subscribed", userID, roomID)
	}
	d.broadcastNotice(roomID, d.users.ResolveName(userID)+" joined")
}

// Close releases handle for userID. A departure notice goes out only when
// the handle was still the live one and the user has a directory entry.
func (d *Dispatcher) Close(userID string, handle Handle) {
	rooms, released := d.hub.Release(userID, handle)
	if !released {
		return
	}

	name, known := d.users.DisplayName(userID)
	if !known {
		return
	}

	text := name + " left"
	if d.hub.Scope() == ScopeGlobal || len(rooms) == 0 {
		d.broadcastNotice(d.rooms.DefaultRoomID(), text)
		return
	}
	for _, roomID := range rooms {
		d.broadcastNotice(roomID, text)
	}
}

func (d *Dispatcher) broadcastNotice(roomID, text string) {
	payload, err := encodeSystemEvent(text)
	if err != nil {
		log.Printf("Error encoding system notice: %v", err)
		return
	}
	d.hub.BroadcastToRoom(payload, roomID)
}

// Package server coordinates connection registration, room subscriptions and
// message fan-out for the chat service via the Hub type.
package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"
)

// BroadcastScope selects which registered connections a room broadcast reaches.
type BroadcastScope string

const (
	// ScopeGlobal delivers every broadcast to every registered connection,
	// whatever room id it names.
	ScopeGlobal BroadcastScope = "global"
	// ScopeRoom delivers only to connections subscribed to the target room.
	ScopeRoom BroadcastScope = "room"
)

// ParseBroadcastScope validates a configured scope name.
func ParseBroadcastScope(s string) (BroadcastScope, error) {
	switch BroadcastScope(s) {
	case ScopeGlobal, ScopeRoom:
		return BroadcastScope(s), nil
	case "":
		return ScopeGlobal, nil
	default:
		return "", fmt.Errorf("unknown broadcast scope %q", s)
	}
}

// Handle is a send-capable connection registered in the Hub. Implementations
// must be comparable (pointer types) since the Hub checks identity when a
// session releases its entry.
type Handle interface {
	Send(payload []byte) error
	Close() error
}

// BroadcastResult reports what a single broadcast did.
type BroadcastResult struct {
	Attempted int
	Delivered int
	Pruned    int
}

// ErrNotConnected is returned by SendTo for user ids without a live handle.
var ErrNotConnected = errors.New("user not connected")

type registrant struct {
	userID string
	handle Handle
}

// Hub tracks exactly one live Handle per user id and fans payloads out to
// them. All state is guarded by one RWMutex; sends happen outside it.
type Hub struct {
	mu        sync.RWMutex
	conns     map[string]Handle
	rooms     map[string]map[string]struct{} // roomID -> userIDs
	userRooms map[string]map[string]struct{} // userID -> roomIDs
	scope     BroadcastScope
	closed    bool
	wg        sync.WaitGroup
	ctx       context.Context
	cancel    context.CancelFunc
}

// NewHub creates an empty Hub using the given broadcast scope.
func NewHub(scope BroadcastScope) *Hub {
	if scope == "" {
		scope = ScopeGlobal
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		conns:     make(map[string]Handle),
		rooms:     make(map[string]map[string]struct{}),
		userRooms: make(map[string]map[string]struct{}),
		scope:     scope,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Scope returns the broadcast scope the Hub was created with.
func (h *Hub) Scope() BroadcastScope {
	return h.scope
}

// Done is closed once Shutdown starts.
func (h *Hub) Done() <-chan struct{} {
	return h.ctx.Done()
}

// Connect installs h as the live handle for userID. A previously registered
// different handle is closed. After Shutdown the handle is closed instead.
func (h *Hub) Connect(userID string, handle Handle) {
	if handle == nil {
		log.Printf("Received nil handle for %s; skipping", userID)
		return
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		closeHandle(userID, handle)
		return
	}
	previous := h.conns[userID]
	h.conns[userID] = handle
	count := len(h.conns)
	h.mu.Unlock()

	if previous != nil && previous != handle {
		log.Printf("Connection for %s replaced; closing previous connection", userID)
		closeHandle(userID, previous)
	}
	log.Printf("Client %s registered. Total clients: %d", userID, count)
}

// Disconnect removes the entry for userID if present.
func (h *Hub) Disconnect(userID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.conns[userID]; !ok {
		return
	}
	delete(h.conns, userID)
	h.dropSubscriptionsLocked(userID)
	log.Printf("Client %s unregistered. Total clients: %d", userID, len(h.conns))
}

// Release removes userID only while handle is still its registered entry. It
// returns the rooms the user was subscribed to and whether the entry was
// removed. A session that has been superseded gets false.
func (h *Hub) Release(userID string, handle Handle) ([]string, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	current, ok := h.conns[userID]
	if !ok || current != handle {
		return nil, false
	}
	delete(h.conns, userID)
	rooms := h.dropSubscriptionsLocked(userID)
	log.Printf("Client %s unregistered. Total clients: %d", userID, len(h.conns))
	return rooms, true
}

// Subscribe records that userID follows roomID. Subscriptions only narrow
// fan-out under ScopeRoom but are tracked in both scopes.
func (h *Hub) Subscribe(userID, roomID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.conns[userID]; !ok {
		return
	}
	if h.rooms[roomID] == nil {
		h.rooms[roomID] = make(map[string]struct{})
	}
	h.rooms[roomID][userID] = struct{}{}
	if h.userRooms[userID] == nil {
		h.userRooms[userID] = make(map[string]struct{})
	}
	h.userRooms[userID][roomID] = struct{}{}
}

// Subscriptions returns the room ids userID is subscribed to.
func (h *Hub) Subscriptions(userID string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	rooms := make([]string, 0, len(h.userRooms[userID]))
	for roomID := range h.userRooms[userID] {
		rooms = append(rooms, roomID)
	}
	return rooms
}

func (h *Hub) dropSubscriptionsLocked(userID string) []string {
	joined := h.userRooms[userID]
	rooms := make([]string, 0, len(joined))
	for roomID := range joined {
		rooms = append(rooms, roomID)
		delete(h.rooms[roomID], userID)
		if len(h.rooms[roomID]) == 0 {
			delete(h.rooms, roomID)
		}
	}
	delete(h.userRooms, userID)
	return rooms
}

// IsConnected reports whether userID has a live handle.
func (h *Hub) IsConnected(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.conns[userID]
	return ok
}

// Count returns the number of registered connections.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// RoomCount returns the number of connections subscribed to roomID.
func (h *Hub) RoomCount(roomID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[roomID])
}

// SendTo delivers payload to a single user. A failed send prunes the handle.
func (h *Hub) SendTo(userID string, payload []byte) error {
	h.mu.RLock()
	handle, ok := h.conns[userID]
	h.mu.RUnlock()

	if !ok {
		return fmt.Errorf("send to %s: %w", userID, ErrNotConnected)
	}
	if err := handle.Send(payload); err != nil {
		h.removeFailedClients([]registrant{{userID: userID, handle: handle}})
		return fmt.Errorf("send to %s: %w", userID, err)
	}
	return nil
}

// BroadcastToRoom sends payload to the registrants selected by the Hub's
// scope. Registrants are snapshotted under the lock and sent to after it is
// released; any handle whose Send fails is removed and closed.
func (h *Hub) BroadcastToRoom(payload []byte, roomID string) BroadcastResult {
	targets := h.getClientSnapshot(roomID)

	result := BroadcastResult{Attempted: len(targets)}
	failed := h.broadcastToClients(targets, payload)
	result.Delivered = result.Attempted - len(failed)
	result.Pruned = h.removeFailedClients(failed)

	log.Printf("Broadcast to room %s: %d attempted, %d delivered, %d pruned",
		roomID, result.Attempted, result.Delivered, result.Pruned)
	return result
}

// getClientSnapshot returns the registrants a broadcast to roomID targets.
func (h *Hub) getClientSnapshot(roomID string) []registrant {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.scope == ScopeRoom {
		members := h.rooms[roomID]
		targets := make([]registrant, 0, len(members))
		for userID := range members {
			if handle, ok := h.conns[userID]; ok {
				targets = append(targets, registrant{userID: userID, handle: handle})
			}
		}
		return targets
	}

	targets := make([]registrant, 0, len(h.conns))
	for userID, handle := range h.conns {
		targets = append(targets, registrant{userID: userID, handle: handle})
	}
	return targets
}

// broadcastToClients attempts delivery to each target and returns the ones
// that failed.
func (h *Hub) broadcastToClients(targets []registrant, payload []byte) []registrant {
	var failed []registrant
	for _, target := range targets {
		if err := h.safeSend(target.handle, payload); err != nil {
			log.Printf("Delivery to %s failed: %v", target.userID, err)
			failed = append(failed, target)
		}
	}
	return failed
}

func (h *Hub) safeSend(handle Handle, payload []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("recovered from panic in send: %v", r)
		}
	}()
	return handle.Send(payload)
}

// removeFailedClients drops failed registrants that are still current and
// closes them after the lock is released. It returns how many were removed.
func (h *Hub) removeFailedClients(failed []registrant) int {
	if len(failed) == 0 {
		return 0
	}

	h.mu.Lock()
	var toClose []registrant
	for _, target := range failed {
		if current, ok := h.conns[target.userID]; ok && current == target.handle {
			delete(h.conns, target.userID)
			h.dropSubscriptionsLocked(target.userID)
			toClose = append(toClose, target)
		}
	}
	h.mu.Unlock()

	for _, target := range toClose {
		log.Printf("Client %s removed after failed delivery", target.userID)
		closeHandle(target.userID, target.handle)
	}
	return len(toClose)
}

// Go runs fn on a goroutine tracked by Shutdown. It returns false without
// running fn once Shutdown has started.
func (h *Hub) Go(fn func()) bool {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return false
	}
	h.wg.Add(1)
	h.mu.Unlock()

	go func() {
		defer h.wg.Done()
		fn()
	}()
	return true
}

// shutdownClients closes every registered handle and empties the registry.
func (h *Hub) shutdownClients() {
	log.Println("Shutting down all client connections...")

	h.mu.Lock()
	h.closed = true
	targets := make([]registrant, 0, len(h.conns))
	for userID, handle := range h.conns {
		targets = append(targets, registrant{userID: userID, handle: handle})
	}
	h.conns = make(map[string]Handle)
	h.rooms = make(map[string]map[string]struct{})
	h.userRooms = make(map[string]map[string]struct{})
	h.mu.Unlock()

	for _, target := range targets {
		closeHandle(target.userID, target.handle)
	}
	log.Printf("Closed %d client connections", len(targets))
}

// Shutdown closes all connections and waits for tracked goroutines to finish,
// or returns context.DeadlineExceeded after timeout.
func (h *Hub) Shutdown(timeout time.Duration) error {
	log.Println("Initiating hub shutdown...")

	h.cancel()
	h.shutdownClients()

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Println("Hub shutdown completed successfully")
		return nil
	case <-time.After(timeout):
		log.Println("Hub shutdown timeout reached, some goroutines may still be running")
		return context.DeadlineExceeded
	}
}

func closeHandle(userID string, handle Handle) {
	if err := handle.Close(); err != nil && !isExpectedCloseError(err) {
		log.Printf("Error closing connection for %s: %v", userID, err)
	}
}

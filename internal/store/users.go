package store

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

// UserDirectory maps user ids to profiles.
type UserDirectory struct {
	mu      sync.RWMutex
	users   map[string]User
	archive Archive
}

// NewUserDirectory creates an empty directory, or one seeded from a snapshot.
func NewUserDirectory(opts ...Option) *UserDirectory {
	o := buildOptions(opts)
	d := &UserDirectory{
		users:   make(map[string]User, len(o.users)),
		archive: o.archive,
	}
	for _, user := range o.users {
		d.users[user.ID] = user
	}
	return d
}

// CreateUser registers a new user under a generated id.
func (d *UserDirectory) CreateUser(username string) User {
	user := User{
		ID:        uuid.New().String(),
		Username:  username,
		CreatedAt: time.Now(),
	}

	d.mu.Lock()
	d.users[user.ID] = user
	d.mu.Unlock()

	if d.archive != nil {
		if err := d.archive.SaveUser(user); err != nil {
			log.Printf("Failed to archive user %s: %v", user.ID, err)
		}
	}
	return user
}

// GetUser returns the user, or ErrNotFound.
func (d *UserDirectory) GetUser(userID string) (User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	user, ok := d.users[userID]
	if !ok {
		return User{}, fmt.Errorf("user %s: %w", userID, ErrNotFound)
	}
	return user, nil
}

// ListUsers returns a snapshot of all users in no particular order.
func (d *UserDirectory) ListUsers() []User {
	d.mu.RLock()
	defer d.mu.RUnlock()

	users := make([]User, 0, len(d.users))
	for _, user := range d.users {
		users = append(users, user)
	}
	return users
}

// DisplayName returns the registered name for userID and whether the user
// is known.
func (d *UserDirectory) DisplayName(userID string) (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	user, ok := d.users[userID]
	if !ok {
		return "", false
	}
	return user.Username, true
}

// ResolveName returns the registered name, falling back to FallbackName for
// unknown ids. The fallback is never stored.
func (d *UserDirectory) ResolveName(userID string) string {
	if name, ok := d.DisplayName(userID); ok {
		return name
	}
	return FallbackName(userID)
}

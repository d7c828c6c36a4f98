package core

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/samber/lo"
)

// Closer closes the transport behind a live connection. Implementations
// must not block.
type Closer interface {
	Close(reason string) error
}

// Binding is the directory entry of one live connection.
type Binding struct {
	Token     string
	UserID    int64
	Room      string
	CreatedAt time.Time
	closer    Closer
}

// Directory indexes live connections by token and by (user, room) so that a
// member's sockets can be found and closed when they are evicted. It does not
// own the connections.
type Directory struct {
	mu      sync.RWMutex
	byToken map[string]*Binding
	byRoom  map[string]map[int64]map[string]struct{} // room -> user -> tokens
}

// NewDirectory creates an empty directory.
func NewDirectory() *Directory {
	return &Directory{
		byToken: make(map[string]*Binding),
		byRoom:  make(map[string]map[int64]map[string]struct{}),
	}
}

// Register records a live connection. A duplicate token is a logic fault and
// yields ErrConflict.
func (d *Directory) Register(token string, userID int64, room string, closer Closer) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.byToken[token]; exists {
		return fmt.Errorf("register %s: %w", token, ErrConflict)
	}

	d.byToken[token] = &Binding{
		Token:     token,
		UserID:    userID,
		Room:      room,
		CreatedAt: time.Now(),
		closer:    closer,
	}

	users, ok := d.byRoom[room]
	if !ok {
		users = make(map[int64]map[string]struct{})
		d.byRoom[room] = users
	}
	tokens, ok := users[userID]
	if !ok {
		tokens = make(map[string]struct{})
		users[userID] = tokens
	}
	tokens[token] = struct{}{}
	return nil
}

// Unregister removes and returns the binding of token. ErrNotFound means the
// connection was already removed, which callers treat as success.
func (d *Directory) Unregister(token string) (Binding, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.unregisterLocked(token)
}

func (d *Directory) unregisterLocked(token string) (Binding, error) {
	b, ok := d.byToken[token]
	if !ok {
		return Binding{}, ErrNotFound
	}
	delete(d.byToken, token)

	if users, ok := d.byRoom[b.Room]; ok {
		if tokens, ok := users[b.UserID]; ok {
			delete(tokens, token)
			if len(tokens) == 0 {
				delete(users, b.UserID)
			}
		}
		if len(users) == 0 {
			delete(d.byRoom, b.Room)
		}
	}
	return *b, nil
}

// Lookup returns the binding of token without removing it.
func (d *Directory) Lookup(token string) (Binding, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	b, ok := d.byToken[token]
	if !ok {
		return Binding{}, false
	}
	return *b, true
}

// FindConnections returns the tokens of user's live connections in room.
func (d *Directory) FindConnections(userID int64, room string) []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	tokens := lo.Keys(d.byRoom[room][userID])
	sort.Strings(tokens)
	return tokens
}

// RoomUsers returns the IDs of users with live connections in room.
func (d *Directory) RoomUsers(room string) []int64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return lo.Keys(d.byRoom[room])
}

// EvictAll unregisters every connection of user in room and closes each
// one through its Closer. Tokens that disappear concurrently are skipped.
// The removed bindings are returned so the caller can finish cleanup.
func (d *Directory) EvictAll(userID int64, room string, reason string) []Binding {
	var evicted []Binding
	for _, token := range d.FindConnections(userID, room) {
		b, err := d.Unregister(token)
		if err != nil {
			continue
		}
		if b.closer != nil {
			_ = b.closer.Close(reason)
		}
		evicted = append(evicted, b)
	}
	return evicted
}

// Len returns the number of live connections.
func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.byToken)
}

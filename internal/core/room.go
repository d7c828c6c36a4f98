package core

import (
	"sync"
	"time"
)

// RoomKind classifies rooms by how membership works.
type RoomKind int

const (
	// RoomPublic is the implicit open room; it has no member list.
	RoomPublic RoomKind = iota
	// RoomGroup is a named room with an admin; callers auto-join if eligible.
	RoomGroup
	// RoomPrivate is a two-person room; only members may connect.
	RoomPrivate
)

func (k RoomKind) String() string {
	switch k {
	case RoomPublic:
		return "public"
	case RoomGroup:
		return "group"
	case RoomPrivate:
		return "private"
	default:
		return "unknown"
	}
}

// Room is the registry's view of a room record.
type Room struct {
	ID        int64
	Key       string
	Name      string
	AdminID   *int64
	Private   bool
	CreatedAt time.Time
}

// Kind derives the room kind from its attributes.
func (r Room) Kind() RoomKind {
	switch {
	case r.Private:
		return RoomPrivate
	case r.Name != "":
		return RoomGroup
	default:
		return RoomPublic
	}
}

// IsAdmin reports whether user administers the room.
func (r Room) IsAdmin(userID int64) bool {
	return r.AdminID != nil && *r.AdminID == userID
}

// roomLocks hands out one mutex per room key. All Directory, Presence and
// Hub mutations for a room happen under its mutex; different rooms never
// contend beyond the map lookup.
type roomLocks struct {
	mu    sync.Mutex
	locks map[string]*roomLock
}

type roomLock struct {
	mu   sync.Mutex
	refs int
}

func newRoomLocks() *roomLocks {
	return &roomLocks{locks: make(map[string]*roomLock)}
}

// Lock acquires the room's mutex and returns its unlock function.
func (l *roomLocks) Lock(room string) func() {
	l.mu.Lock()
	rl, ok := l.locks[room]
	if !ok {
		rl = &roomLock{}
		l.locks[room] = rl
	}
	rl.refs++
	l.mu.Unlock()

	rl.mu.Lock()
	return func() {
		rl.mu.Unlock()

		l.mu.Lock()
		rl.refs--
		if rl.refs == 0 {
			delete(l.locks, room)
		}
		l.mu.Unlock()
	}
}

type memberKey struct {
	room string
	user int64
}

// evictionLog remembers evictions so that a connection admitted while one
// was running can be refused once it holds the room lock. Writers hold the
// room lock as well.
type evictionLog struct {
	mu      sync.Mutex
	users   map[memberKey]uint64
	deleted map[string]struct{}
}

func newEvictionLog() *evictionLog {
	return &evictionLog{
		users:   make(map[memberKey]uint64),
		deleted: make(map[string]struct{}),
	}
}

// stamp returns how many times user was evicted from room.
func (e *evictionLog) stamp(room string, user int64) uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.users[memberKey{room: room, user: user}]
}

func (e *evictionLog) userEvicted(room string, user int64) {
	e.mu.Lock()
	e.users[memberKey{room: room, user: user}]++
	e.mu.Unlock()
}

// roomDeleted marks room as gone. Room keys are never reused.
func (e *evictionLog) roomDeleted(room string) {
	e.mu.Lock()
	e.deleted[room] = struct{}{}
	for k := range e.users {
		if k.room == room {
			delete(e.users, k)
		}
	}
	e.mu.Unlock()
}

func (e *evictionLog) isDeleted(room string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.deleted[room]
	return ok
}

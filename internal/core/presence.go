package core

import (
	"sort"
	"sync"

	"github.com/samber/lo"
)

// Presence tracks, per room, which users have at least one live connection.
// A user with several connections (tabs) counts once.
type Presence struct {
	mu    sync.RWMutex
	rooms map[string]*roomPresence
}

type roomPresence struct {
	mu    sync.Mutex
	conns map[int64]int // user ID -> live connection count
}

// NewPresence creates an empty tracker.
func NewPresence() *Presence {
	return &Presence{rooms: make(map[string]*roomPresence)}
}

func (p *Presence) room(key string, create bool) *roomPresence {
	p.mu.RLock()
	rp, ok := p.rooms[key]
	p.mu.RUnlock()
	if ok || !create {
		return rp
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if rp, ok = p.rooms[key]; !ok {
		rp = &roomPresence{conns: make(map[int64]int)}
		p.rooms[key] = rp
	}
	return rp
}

// MarkOnline records one more connection of user in room. The user turns
// online only on the 0->1 edge, reported by wasAlreadyOnline == false.
func (p *Presence) MarkOnline(room string, userID int64) (wasAlreadyOnline bool, count int) {
	rp := p.room(room, true)
	rp.mu.Lock()
	defer rp.mu.Unlock()

	rp.conns[userID]++
	return rp.conns[userID] > 1, len(rp.conns)
}

// MarkOffline drops one connection of user in room. isNowOffline is true
// only on the 1->0 edge. Calling it for a user with no connections is a no-op.
func (p *Presence) MarkOffline(room string, userID int64) (isNowOffline bool, count int) {
	rp := p.room(room, false)
	if rp == nil {
		return false, 0
	}
	rp.mu.Lock()
	defer rp.mu.Unlock()

	n, ok := rp.conns[userID]
	if !ok {
		return false, len(rp.conns)
	}
	if n > 1 {
		rp.conns[userID] = n - 1
		return false, len(rp.conns)
	}
	delete(rp.conns, userID)
	return true, len(rp.conns)
}

// Count returns the number of distinct online users in room.
func (p *Presence) Count(room string) int {
	rp := p.room(room, false)
	if rp == nil {
		return 0
	}
	rp.mu.Lock()
	defer rp.mu.Unlock()
	return len(rp.conns)
}

// CountExcluding returns the number of online users in room other than userID.
func (p *Presence) CountExcluding(room string, userID int64) int {
	rp := p.room(room, false)
	if rp == nil {
		return 0
	}
	rp.mu.Lock()
	defer rp.mu.Unlock()

	n := len(rp.conns)
	if _, ok := rp.conns[userID]; ok {
		n--
	}
	return n
}

// IsOnline reports whether userID has a live connection in room.
func (p *Presence) IsOnline(room string, userID int64) bool {
	rp := p.room(room, false)
	if rp == nil {
		return false
	}
	rp.mu.Lock()
	defer rp.mu.Unlock()
	_, ok := rp.conns[userID]
	return ok
}

// Online returns the sorted IDs of users online in room.
func (p *Presence) Online(room string) []int64 {
	rp := p.room(room, false)
	if rp == nil {
		return nil
	}
	rp.mu.Lock()
	ids := lo.Keys(rp.conns)
	rp.mu.Unlock()

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Forget drops all presence state of a room, e.g. after it was deleted.
func (p *Presence) Forget(room string) {
	p.mu.Lock()
	delete(p.rooms, room)
	p.mu.Unlock()
}

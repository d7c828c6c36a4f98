package core

import (
	"slices"
	"sync"
	"sync/atomic"
	"testing"
)

func mustRegister(t *testing.T, d *Directory, token string, user int64, room string, conn Closer) {
	t.Helper()
	if err := d.Register(token, user, room, conn); err != nil {
		t.Fatalf("register %s: %v", token, err)
	}
}

func TestDirectoryRegisterConflict(t *testing.T) {
	d := NewDirectory()
	mustRegister(t, d, "t1", 1, "r", nil)
	mustErrorIs(t, d.Register("t1", 2, "other", nil), ErrConflict)
	if n := d.Len(); n != 1 {
		t.Fatalf("expected 1 binding, got %d", n)
	}
}

func TestDirectoryUnregister(t *testing.T) {
	d := NewDirectory()
	mustRegister(t, d, "t1", 1, "r", nil)

	b, err := d.Unregister("t1")
	if err != nil {
		t.Fatalf("unregister: %v", err)
	}
	if b.UserID != 1 || b.Room != "r" {
		t.Fatalf("unexpected binding %+v", b)
	}

	_, err = d.Unregister("t1")
	mustErrorIs(t, err, ErrNotFound)
	if got := d.FindConnections(1, "r"); len(got) != 0 {
		t.Errorf("expected no connections, got %v", got)
	}
	if got := d.RoomUsers("r"); len(got) != 0 {
		t.Errorf("expected no room users, got %v", got)
	}
}

func TestDirectoryFindConnectionsScopedToRoom(t *testing.T) {
	d := NewDirectory()
	mustRegister(t, d, "a1", 1, "r", nil)
	mustRegister(t, d, "a2", 1, "r", nil)
	mustRegister(t, d, "a3", 1, "other", nil)
	mustRegister(t, d, "b1", 2, "r", nil)

	if got := d.FindConnections(1, "r"); !slices.Equal(got, []string{"a1", "a2"}) {
		t.Errorf("expected [a1 a2], got %v", got)
	}
	users := d.RoomUsers("r")
	slices.Sort(users)
	if !slices.Equal(users, []int64{1, 2}) {
		t.Errorf("expected users [1 2], got %v", users)
	}
}

func TestDirectoryEvictAllClosesEachConnection(t *testing.T) {
	d := NewDirectory()
	c1, c2, other := &fakeConn{}, &fakeConn{}, &fakeConn{}
	mustRegister(t, d, "a1", 1, "r", c1)
	mustRegister(t, d, "a2", 1, "r", c2)
	mustRegister(t, d, "a3", 1, "other", other)

	if evicted := d.EvictAll(1, "r", "bye"); len(evicted) != 2 {
		t.Fatalf("expected 2 evictions, got %d", len(evicted))
	}

	for _, c := range []*fakeConn{c1, c2} {
		if closed, reason := c.Closed(); !closed || reason != "bye" {
			t.Errorf("expected closed with bye, got closed=%v reason=%q", closed, reason)
		}
	}
	if closed, _ := other.Closed(); closed {
		t.Errorf("connection in another room was closed")
	}
	if got := d.FindConnections(1, "r"); len(got) != 0 {
		t.Errorf("expected no connections left, got %v", got)
	}
}

func TestDirectoryEvictRacesWithUnregister(t *testing.T) {
	d := NewDirectory()
	for i := range 100 {
		mustRegister(t, d, string(rune('A'+i)), 1, "r", &fakeConn{})
	}
	tokens := d.FindConnections(1, "r")

	var removed atomic.Int32
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		removed.Add(int32(len(d.EvictAll(1, "r", "evicted"))))
	}()
	go func() {
		defer wg.Done()
		for _, tok := range tokens {
			if _, err := d.Unregister(tok); err == nil {
				removed.Add(1)
			}
		}
	}()
	wg.Wait()

	// Each token is removed exactly once.
	if n := removed.Load(); n != 100 {
		t.Fatalf("expected 100 removals, got %d", n)
	}
	if n := d.Len(); n != 0 {
		t.Fatalf("expected empty directory, got %d", n)
	}
}

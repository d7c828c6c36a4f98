package core

import (
	"slices"
	"sync"
	"testing"
)

func TestPresenceCountsUsersNotConnections(t *testing.T) {
	p := NewPresence()

	if was, n := p.MarkOnline("r", 1); was || n != 1 {
		t.Fatalf("first tab: was=%v n=%d", was, n)
	}
	if was, n := p.MarkOnline("r", 1); !was || n != 1 {
		t.Fatalf("second tab must not be an online edge: was=%v n=%d", was, n)
	}

	if _, n := p.MarkOnline("r", 2); n != 2 {
		t.Fatalf("expected 2 online, got %d", n)
	}
	if n := p.CountExcluding("r", 1); n != 1 {
		t.Errorf("count excluding online user: got %d", n)
	}
	if n := p.CountExcluding("r", 3); n != 2 {
		t.Errorf("count excluding offline user: got %d", n)
	}
	if got := p.Online("r"); !slices.Equal(got, []int64{1, 2}) {
		t.Errorf("expected online [1 2], got %v", got)
	}

	if off, n := p.MarkOffline("r", 1); off || n != 2 {
		t.Fatalf("closing one of two tabs: off=%v n=%d", off, n)
	}
	if off, n := p.MarkOffline("r", 1); !off || n != 1 {
		t.Fatalf("closing the last tab: off=%v n=%d", off, n)
	}
	if p.IsOnline("r", 1) {
		t.Fatalf("user 1 should be offline")
	}
}

func TestPresenceMarkOfflineTwiceIsNoop(t *testing.T) {
	p := NewPresence()
	p.MarkOnline("r", 7)

	if off, n := p.MarkOffline("r", 7); !off || n != 0 {
		t.Fatalf("first offline: off=%v n=%d", off, n)
	}
	if off, n := p.MarkOffline("r", 7); off || n != 0 {
		t.Fatalf("second offline: off=%v n=%d", off, n)
	}
	if n := p.Count("r"); n != 0 {
		t.Fatalf("expected empty room, got %d", n)
	}
	if off, _ := p.MarkOffline("unknown", 7); off {
		t.Fatalf("unknown room must not report an offline edge")
	}
}

func TestPresenceRoomsAreIndependent(t *testing.T) {
	p := NewPresence()
	p.MarkOnline("a", 1)
	p.MarkOnline("b", 1)
	p.MarkOffline("a", 1)

	if n := p.Count("a"); n != 0 {
		t.Errorf("room a: got %d", n)
	}
	if n := p.Count("b"); n != 1 {
		t.Errorf("room b: got %d", n)
	}

	p.Forget("b")
	if n := p.Count("b"); n != 0 {
		t.Errorf("forgotten room b: got %d", n)
	}
}

func TestPresenceConcurrentBalancedOps(t *testing.T) {
	p := NewPresence()

	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func(user int64) {
			defer wg.Done()
			for range 100 {
				p.MarkOnline("r", user)
				p.MarkOffline("r", user)
			}
		}(int64(i % 5))
	}
	wg.Wait()

	if n := p.Count("r"); n != 0 {
		t.Fatalf("expected empty room, got %d", n)
	}
	if got := p.Online("r"); len(got) != 0 {
		t.Fatalf("expected no online users, got %v", got)
	}
}

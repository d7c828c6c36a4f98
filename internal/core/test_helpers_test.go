package core

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/vovakirdan/wirechat-hub/internal/store"
	"github.com/vovakirdan/wirechat-hub/internal/store/sqlite"
	"github.com/vovakirdan/wirechat-hub/internal/utils"
)

const testPublicKey = "public-chat"

type fakeConn struct {
	mu     sync.Mutex
	closed bool
	reason string
}

func (c *fakeConn) Close(reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		c.reason = reason
	}
	return nil
}

func (c *fakeConn) Closed() (bool, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed, c.reason
}

type eligibilityFunc func(ctx context.Context, userID int64, room Room) (bool, error)

func (f eligibilityFunc) IsEligibleToJoin(ctx context.Context, userID int64, room Room) (bool, error) {
	return f(ctx, userID, room)
}

// failingMessages rejects every write.
type failingMessages struct {
	store.MessageStore
}

func (failingMessages) SaveMessage(context.Context, *store.Message) error {
	return errors.New("disk full")
}

// hookedRooms runs a one-shot hook right after IsMember answers, so tests
// can interleave a concurrent change with admission.
type hookedRooms struct {
	store.RoomStore

	mu   sync.Mutex
	hook func()
}

func (h *hookedRooms) afterIsMember(fn func()) {
	h.mu.Lock()
	h.hook = fn
	h.mu.Unlock()
}

func (h *hookedRooms) IsMember(ctx context.Context, userID, roomID int64) (bool, error) {
	ok, err := h.RoomStore.IsMember(ctx, userID, roomID)
	h.mu.Lock()
	fn := h.hook
	h.hook = nil
	h.mu.Unlock()
	if fn != nil {
		fn()
	}
	return ok, err
}

type testEnv struct {
	store    *sqlite.SQLiteStore
	registry *Registry
	hub      *Hub
	chat     *Chat
}

type envOption func(*envConfig)

type envConfig struct {
	opts        Options
	eligibility Eligibility
	messages    func(store.MessageStore) store.MessageStore
	rooms       func(store.RoomStore) store.RoomStore
}

func withQueueSize(n int) envOption {
	return func(c *envConfig) { c.opts.QueueSize = n }
}

func withEligibility(e Eligibility) envOption {
	return func(c *envConfig) { c.eligibility = e }
}

func withMessages(wrap func(store.MessageStore) store.MessageStore) envOption {
	return func(c *envConfig) { c.messages = wrap }
}

func withRooms(wrap func(store.RoomStore) store.RoomStore) envOption {
	return func(c *envConfig) { c.rooms = wrap }
}

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()

	cfg := envConfig{opts: Options{QueueSize: 16, HistoryLimit: 40}}
	for _, opt := range opts {
		opt(&cfg)
	}

	st, err := sqlite.NewWithSetup(":memory:", sqlite.ApplySchema)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	var messages store.MessageStore = st
	if cfg.messages != nil {
		messages = cfg.messages(st)
	}
	var rooms store.RoomStore = st
	if cfg.rooms != nil {
		rooms = cfg.rooms(st)
	}

	registry := NewRegistry(rooms, testPublicKey, nil)
	hub := NewHub(nil, nil)
	chat := NewChat(registry, hub, messages, cfg.eligibility, cfg.opts, nil)
	return &testEnv{store: st, registry: registry, hub: hub, chat: chat}
}

func (e *testEnv) user(t *testing.T, name string) User {
	t.Helper()
	u, err := e.store.CreateUser(context.Background(), name, "hash", name+"@example.com")
	if err != nil {
		t.Fatalf("create user %s: %v", name, err)
	}
	return User{ID: u.ID, Name: u.Username}
}

func (e *testEnv) connect(t *testing.T, u User, room string) (*Session, *fakeConn) {
	t.Helper()
	conn := &fakeConn{}
	s, err := e.chat.Connect(context.Background(), ConnectionContext{
		Token:   utils.NewToken(),
		User:    u,
		RoomKey: room,
	}, conn)
	if err != nil {
		t.Fatalf("connect %s to %s: %v", u.Name, room, err)
	}
	return s, conn
}

// mustEvent waits for the next event of kind, skipping others.
func mustEvent(t *testing.T, ch <-chan Event, kind EventKind) Event {
	t.Helper()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-ch:
			if ev.Kind() == kind {
				return ev
			}
		case <-deadline:
			t.Fatalf("expected event kind %v not received", kind)
			return nil
		}
	}
}

func mustPresence(t *testing.T, ch <-chan Event) PresenceUpdate {
	t.Helper()
	return mustEvent(t, ch, EventPresenceUpdate).(PresenceUpdate)
}

// drain discards everything currently queued.
func drain(ch <-chan Event) {
	for {
		select {
		case <-ch:
		default:
			return
		}
	}
}

func expectNoEvent(t *testing.T, ch <-chan Event) {
	t.Helper()
	select {
	case ev := <-ch:
		t.Fatalf("unexpected event %v: %+v", ev.Kind(), ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func mustErrorIs(t *testing.T, err, target error) {
	t.Helper()
	if !errors.Is(err, target) {
		t.Fatalf("expected %v, got %v", target, err)
	}
}

// waitFor polls cond until it holds or two seconds pass.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

package core

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"
	"github.com/samber/lo"
)

// DeliverFunc enqueues an event for one subscriber. It must not block; an
// error means the subscriber cannot take more events and must be dropped.
type DeliverFunc func(ev Event) error

// DropFunc is invoked, on its own goroutine, for every subscriber the hub
// removed after a failed delivery.
type DropFunc func(room, token string, err error)

// Relay forwards locally published events to other processes and injects
// theirs into this hub. Publish must not block.
type Relay interface {
	Publish(room string, ev Event)
	Run(ctx context.Context, sink Sink) error
}

// Sink receives events arriving from a relay.
type Sink interface {
	DeliverLocal(room string, ev Event)
}

type subscriber struct {
	token   string
	deliver DeliverFunc
}

// Hub fans events out to the subscribers of a room topic.
type Hub struct {
	mu     sync.RWMutex
	topics map[string]map[string]*subscriber

	onDrop DropFunc
	relay  Relay
	logger *zerolog.Logger
}

// NewHub creates a hub. relay may be nil for a single-process deployment.
func NewHub(logger *zerolog.Logger, relay Relay) *Hub {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	l := logger.With().Str("component", "hub").Logger()
	return &Hub{
		topics: make(map[string]map[string]*subscriber),
		relay:  relay,
		logger: &l,
	}
}

// SetDropHandler installs the callback for subscribers removed after a
// failed delivery. It must be called before the hub is used.
func (h *Hub) SetDropHandler(fn DropFunc) {
	h.onDrop = fn
}

// Subscribe adds token to room's topic.
func (h *Hub) Subscribe(room, token string, deliver DeliverFunc) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs, ok := h.topics[room]
	if !ok {
		subs = make(map[string]*subscriber)
		h.topics[room] = subs
	}
	if _, exists := subs[token]; exists {
		return fmt.Errorf("subscribe %s to %s: %w", token, room, ErrConflict)
	}
	subs[token] = &subscriber{token: token, deliver: deliver}
	return nil
}

// Unsubscribe removes token from room's topic. It reports whether the token
// was subscribed.
func (h *Hub) Unsubscribe(room, token string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.removeLocked(room, token, nil)
}

func (h *Hub) removeLocked(room, token string, want *subscriber) bool {
	subs, ok := h.topics[room]
	if !ok {
		return false
	}
	sub, ok := subs[token]
	if !ok || (want != nil && sub != want) {
		return false
	}
	delete(subs, token)
	if len(subs) == 0 {
		delete(h.topics, room)
	}
	return true
}

// Publish delivers ev to every local subscriber of room and hands chat
// messages to the relay, if any.
func (h *Hub) Publish(room string, ev Event) {
	h.DeliverLocal(room, ev)
	if h.relay != nil && ev.Kind() == EventNewMessage {
		h.relay.Publish(room, ev)
	}
}

// DeliverLocal delivers ev to the subscribers of room in this process only.
// Subscribers whose delivery fails are removed and reported to the drop
// handler; the rest are unaffected.
func (h *Hub) DeliverLocal(room string, ev Event) {
	type failure struct {
		sub *subscriber
		err error
	}
	var failed []failure

	h.mu.RLock()
	for _, sub := range h.topics[room] {
		if err := sub.deliver(ev); err != nil {
			failed = append(failed, failure{sub: sub, err: err})
		}
	}
	h.mu.RUnlock()

	if len(failed) == 0 {
		return
	}

	h.mu.Lock()
	removed := lo.Filter(failed, func(f failure, _ int) bool {
		return h.removeLocked(room, f.sub.token, f.sub)
	})
	h.mu.Unlock()

	for _, f := range removed {
		h.logger.Warn().
			Str("room", room).
			Str("token", f.sub.token).
			Str("event", ev.Kind().String()).
			Err(f.err).
			Msg("dropping subscriber")
		if h.onDrop != nil {
			go h.onDrop(room, f.sub.token, f.err)
		}
	}
}

// Teardown removes room's topic and returns the tokens that were subscribed.
func (h *Hub) Teardown(room string) []string {
	h.mu.Lock()
	subs := h.topics[room]
	delete(h.topics, room)
	h.mu.Unlock()

	tokens := lo.Keys(subs)
	sort.Strings(tokens)
	return tokens
}

// Subscribers returns the number of tokens subscribed to room.
func (h *Hub) Subscribers(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[room])
}

// IsSubscribed reports whether token is subscribed to room.
func (h *Hub) IsSubscribed(room, token string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.topics[room][token]
	return ok
}

// RunRelay pumps remote events into the hub until ctx is done. It returns
// immediately when no relay is configured.
func (h *Hub) RunRelay(ctx context.Context) error {
	if h.relay == nil {
		return nil
	}
	return h.relay.Run(ctx, h)
}

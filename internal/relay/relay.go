// Package relay carries chat messages between hub instances running in
// different processes. Presence stays local to each process.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/vovakirdan/wirechat-hub/internal/core"
)

const outboxSize = 1024

// Backend moves opaque payloads over a shared bus.
type Backend interface {
	Send(ctx context.Context, payload []byte) error
	// Listen calls handle for every payload until ctx is done.
	Listen(ctx context.Context, handle func(payload []byte)) error
	Close() error
}

// Relay implements core.Relay over a Backend.
type Relay struct {
	node    string
	backend Backend
	out     chan []byte
	logger  *zerolog.Logger
}

// New creates a relay. node identifies this process so that its own
// messages are not delivered twice.
func New(node string, backend Backend, logger *zerolog.Logger) *Relay {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	l := logger.With().Str("component", "relay").Str("node", node).Logger()
	return &Relay{
		node:    node,
		backend: backend,
		out:     make(chan []byte, outboxSize),
		logger:  &l,
	}
}

// Publish queues ev for the bus. Events other than chat messages are ignored
// and a full outbox drops the event.
func (r *Relay) Publish(room string, ev core.Event) {
	payload, ok, err := Encode(r.node, room, ev)
	if err != nil {
		r.logger.Error().Err(err).Str("room", room).Msg("encode relay envelope")
		return
	}
	if !ok {
		return
	}
	select {
	case r.out <- payload:
	default:
		r.logger.Warn().Str("room", room).Msg("relay outbox full, dropping message")
	}
}

// Run sends queued events and delivers remote ones into sink until ctx is
// done. The backend is closed on return.
func (r *Relay) Run(ctx context.Context, sink core.Sink) error {
	defer func() {
		if err := r.backend.Close(); err != nil {
			r.logger.Warn().Err(err).Msg("close relay backend")
		}
	}()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case payload := <-r.out:
				if err := r.backend.Send(ctx, payload); err != nil {
					r.logger.Warn().Err(err).Msg("relay send failed")
				}
			}
		}
	})

	g.Go(func() error {
		return r.backend.Listen(ctx, func(payload []byte) {
			env, ev, err := Decode(payload)
			if err != nil {
				r.logger.Warn().Err(err).Msg("drop malformed relay envelope")
				return
			}
			if env.Node == r.node {
				return
			}
			sink.DeliverLocal(env.Room, ev)
		})
	})

	r.logger.Info().Msg("relay running")
	return g.Wait()
}

// Envelope is the bus payload.
type Envelope struct {
	Node    string      `json:"node"`
	Room    string      `json:"room"`
	Message messageJSON `json:"message"`
}

type messageJSON struct {
	ID        int64     `json:"id"`
	AuthorID  int64     `json:"author_id"`
	Author    string    `json:"author"`
	Body      string    `json:"body,omitempty"`
	File      *fileJSON `json:"file,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type fileJSON struct {
	Path string `json:"path"`
	Name string `json:"name"`
	MIME string `json:"mime"`
}

// Encode serializes a NewMessage event. ok is false for other event kinds.
func Encode(node, room string, ev core.Event) (payload []byte, ok bool, err error) {
	nm, isMsg := ev.(core.NewMessage)
	if !isMsg {
		return nil, false, nil
	}
	m := nm.Message
	env := Envelope{
		Node: node,
		Room: room,
		Message: messageJSON{
			ID:        m.ID,
			AuthorID:  m.Author.ID,
			Author:    m.Author.Name,
			Body:      m.Body,
			CreatedAt: m.CreatedAt,
		},
	}
	if m.File != nil {
		env.Message.File = &fileJSON{Path: m.File.Path, Name: m.File.Name, MIME: m.File.MIME}
	}
	payload, err = json.Marshal(env)
	if err != nil {
		return nil, false, fmt.Errorf("marshal envelope: %w", err)
	}
	return payload, true, nil
}

// Decode parses a payload produced by Encode.
func Decode(payload []byte) (Envelope, core.Event, error) {
	var env Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return Envelope{}, nil, fmt.Errorf("unmarshal envelope: %w", err)
	}
	if env.Room == "" || env.Node == "" {
		return Envelope{}, nil, fmt.Errorf("envelope missing room or node")
	}
	m := env.Message
	msg := core.Message{
		ID:        m.ID,
		Room:      env.Room,
		Author:    core.User{ID: m.AuthorID, Name: m.Author},
		Body:      m.Body,
		CreatedAt: m.CreatedAt,
	}
	if m.File != nil {
		msg.File = &core.FileRef{
			Path:    m.File.Path,
			Name:    m.File.Name,
			MIME:    m.File.MIME,
			IsImage: core.IsImageMIME(m.File.MIME),
		}
	}
	return env, core.NewMessage{Message: msg}, nil
}

var _ core.Relay = (*Relay)(nil)

package core

import (
	"sync"
	"sync/atomic"
)

// SessionState is the lifecycle state of a chat session.
type SessionState int32

const (
	// StateIdle is a session that has not started connecting.
	StateIdle SessionState = iota
	// StateConnecting is a session being admitted to its room.
	StateConnecting
	// StateJoined is a session subscribed to its room.
	StateJoined
	// StateClosed is terminal.
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateJoined:
		return "joined"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Conn is the transport side of a live connection.
// Close must not block; the transport finishes the close handshake on its own.
type Conn interface {
	Close(reason string) error
}

// ConnectionContext carries everything the core needs from the web layer to
// admit a connection.
type ConnectionContext struct {
	Token   string
	User    User
	RoomKey string
}

// Session is one live connection bound to one room. The transport reads
// Events until Done is closed.
type Session struct {
	token string
	user  User
	room  Room
	conn  Conn

	state  atomic.Int32
	events chan Event
	done   chan struct{}
	once   sync.Once
}

func newSession(token string, user User, conn Conn, queueSize int) *Session {
	if queueSize <= 0 {
		queueSize = 1
	}
	s := &Session{
		token:  token,
		user:   user,
		conn:   conn,
		events: make(chan Event, queueSize),
		done:   make(chan struct{}),
	}
	s.state.Store(int32(StateIdle))
	return s
}

// Token returns the connection token.
func (s *Session) Token() string { return s.token }

// User returns the session's user.
func (s *Session) User() User { return s.user }

// Room returns the room the session joined.
func (s *Session) Room() Room { return s.room }

// State returns the current lifecycle state.
func (s *Session) State() SessionState { return SessionState(s.state.Load()) }

// Events is the session's outbound queue.
func (s *Session) Events() <-chan Event { return s.events }

// Done is closed once the session reaches StateClosed.
func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) setState(st SessionState) {
	s.state.Store(int32(st))
}

// close moves the session to StateClosed. It reports whether this call did
// the transition.
func (s *Session) close() bool {
	closed := false
	s.once.Do(func() {
		s.setState(StateClosed)
		close(s.done)
		closed = true
	})
	return closed
}

// deliver enqueues ev without blocking. Presence counts are rewritten to
// exclude the session's own user.
func (s *Session) deliver(ev Event) error {
	select {
	case <-s.done:
		return ErrSessionClosed
	default:
	}

	if pu, ok := ev.(PresenceUpdate); ok {
		// The viewer is always among the online users of its own room.
		pu.OnlineCount = max(pu.OnlineCount-1, 0)
		ev = pu
	}

	select {
	case s.events <- ev:
		return nil
	default:
		return ErrQueueFull
	}
}

// notify enqueues an error notice for the session only. A full queue drops
// the notice.
func (s *Session) notify(err error) {
	_ = s.deliver(NoticeFromError(err))
}

// GlobalSession is a connection to the online-status topic. It only ever
// receives OnlineStatusChanged markers; the transport recomputes the summary
// when one arrives.
type GlobalSession struct {
	token string
	user  User
	conn  Conn

	events chan Event
	done   chan struct{}
	once   sync.Once
}

func newGlobalSession(token string, user User, conn Conn) *GlobalSession {
	return &GlobalSession{
		token: token,
		user:  user,
		conn:  conn,
		// One pending marker is enough to trigger a recomputation.
		events: make(chan Event, 1),
		done:   make(chan struct{}),
	}
}

// Token returns the connection token.
func (g *GlobalSession) Token() string { return g.token }

// User returns the session's user.
func (g *GlobalSession) User() User { return g.user }

// Events is the session's outbound queue.
func (g *GlobalSession) Events() <-chan Event { return g.events }

// Done is closed once the session ends.
func (g *GlobalSession) Done() <-chan struct{} { return g.done }

func (g *GlobalSession) close() bool {
	closed := false
	g.once.Do(func() {
		close(g.done)
		closed = true
	})
	return closed
}

func (g *GlobalSession) deliver(ev Event) error {
	select {
	case <-g.done:
		return ErrSessionClosed
	default:
	}
	if ev.Kind() != EventOnlineStatusChanged {
		return nil
	}
	select {
	case g.events <- ev:
	default:
		// A marker is already pending.
	}
	return nil
}

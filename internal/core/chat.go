package core

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-hub/internal/store"
)

// Close reasons reported to evicted connections.
const (
	ReasonRemoved      = "removed from room"
	ReasonRoomDeleted  = "room deleted"
	ReasonSlowConsumer = "outbound queue overflow"
	ReasonShutdown     = "server shutting down"
)

// MsgVerifyEmail is the rejection message for callers who fail the
// eligibility check.
const MsgVerifyEmail = "verify your email to join group rooms"

// Eligibility decides whether a user may auto-join a group room.
type Eligibility interface {
	IsEligibleToJoin(ctx context.Context, userID int64, room Room) (bool, error)
}

// Options tunes a Chat.
type Options struct {
	// QueueSize is the capacity of each session's outbound queue.
	QueueSize int
	// HistoryLimit is the default number of messages History returns.
	HistoryLimit int
}

// Chat drives the lifecycle of live connections. It composes the registry,
// presence tracker, connection directory and hub, and serializes all
// bookkeeping of a room under that room's lock.
type Chat struct {
	registry    *Registry
	presence    *Presence
	directory   *Directory
	hub         *Hub
	messages    store.MessageStore
	eligibility Eligibility
	locks       *roomLocks
	evictions   *evictionLog
	logger      *zerolog.Logger

	queueSize    int
	historyLimit int

	mu       sync.Mutex
	sessions map[string]*Session
	globals  map[string]*GlobalSession
}

// NewChat wires a Chat. It installs itself as the registry's evictor and as
// the hub's drop handler. eligibility may be nil, in which case every caller
// may join group rooms.
func NewChat(registry *Registry, hub *Hub, messages store.MessageStore, eligibility Eligibility, opts Options, logger *zerolog.Logger) *Chat {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 64
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = 40
	}
	l := logger.With().Str("component", "chat").Logger()

	c := &Chat{
		registry:     registry,
		presence:     NewPresence(),
		directory:    NewDirectory(),
		hub:          hub,
		messages:     messages,
		eligibility:  eligibility,
		locks:        newRoomLocks(),
		evictions:    newEvictionLog(),
		logger:       &l,
		queueSize:    opts.QueueSize,
		historyLimit: opts.HistoryLimit,
		sessions:     make(map[string]*Session),
		globals:      make(map[string]*GlobalSession),
	}
	registry.SetEvictor(c)
	hub.SetDropHandler(c.handleDrop)
	return c
}

// Presence exposes the presence tracker.
func (c *Chat) Presence() *Presence { return c.presence }

// Directory exposes the connection directory.
func (c *Chat) Directory() *Directory { return c.directory }

// Registry exposes the room registry.
func (c *Chat) Registry() *Registry { return c.registry }

// Connect admits a connection to its room. On success the session is
// subscribed and counted online; on failure nothing was registered.
func (c *Chat) Connect(ctx context.Context, cc ConnectionContext, conn Conn) (*Session, error) {
	s := newSession(cc.Token, cc.User, conn, c.queueSize)
	s.setState(StateConnecting)

	room, err := c.resolve(ctx, cc.RoomKey)
	if err != nil {
		s.close()
		return nil, err
	}
	// Admission does I/O outside the room lock; an eviction of this user
	// or of the whole room in the meantime is caught below.
	stamp := c.evictions.stamp(room.Key, s.user.ID)
	if err := c.admitRoom(ctx, room, s.user.ID, true); err != nil {
		s.close()
		return nil, err
	}
	s.room = room

	unlock := c.locks.Lock(room.Key)
	defer unlock()

	if c.evictions.isDeleted(room.Key) {
		s.close()
		return nil, coreError(ErrRoomNotFound, "room not found")
	}
	if c.evictions.stamp(room.Key, s.user.ID) != stamp {
		s.close()
		return nil, coreError(ErrForbidden, "you are not a member of this room")
	}

	if err := c.directory.Register(s.token, s.user.ID, room.Key, conn); err != nil {
		c.logger.Error().Err(err).Str("token", s.token).Msg("directory register failed")
		s.close()
		return nil, err
	}
	if err := c.hub.Subscribe(room.Key, s.token, s.deliver); err != nil {
		c.logger.Error().Err(err).Str("token", s.token).Msg("hub subscribe failed")
		_, _ = c.directory.Unregister(s.token)
		s.close()
		return nil, err
	}
	c.mu.Lock()
	c.sessions[s.token] = s
	c.mu.Unlock()
	s.setState(StateJoined)

	wasOnline, count := c.presence.MarkOnline(room.Key, s.user.ID)
	if wasOnline {
		_ = s.deliver(PresenceUpdate{Room: room.Key, OnlineCount: count})
	} else {
		c.hub.Publish(room.Key, PresenceUpdate{Room: room.Key, OnlineCount: count})
		c.hub.Publish(GlobalTopic, OnlineStatusChanged{Room: room.Key})
	}

	c.logger.Debug().
		Str("room", room.Key).
		Str("user", s.user.Name).
		Str("token", s.token).
		Int("online", count).
		Msg("session joined")
	return s, nil
}

// Authorize checks that user may read and post in roomKey without joining
// it implicitly.
func (c *Chat) Authorize(ctx context.Context, userID int64, roomKey string) (Room, error) {
	return c.admit(ctx, userID, roomKey, false)
}

func (c *Chat) admit(ctx context.Context, userID int64, key string, autoJoin bool) (Room, error) {
	room, err := c.resolve(ctx, key)
	if err != nil {
		return Room{}, err
	}
	if err := c.admitRoom(ctx, room, userID, autoJoin); err != nil {
		return Room{}, err
	}
	return room, nil
}

func (c *Chat) admitRoom(ctx context.Context, room Room, userID int64, autoJoin bool) error {
	switch room.Kind() {
	case RoomPublic:
		return nil
	case RoomPrivate:
		ok, err := c.registry.IsMember(ctx, room, userID)
		if err != nil {
			return err
		}
		if !ok {
			return coreError(ErrForbidden, "you are not a member of this room")
		}
		return nil
	default:
		ok, err := c.registry.IsMember(ctx, room, userID)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		if !autoJoin {
			return coreError(ErrForbidden, "you are not a member of this room")
		}
		if c.eligibility != nil {
			eligible, err := c.eligibility.IsEligibleToJoin(ctx, userID, room)
			if err != nil {
				return err
			}
			if !eligible {
				return coreError(ErrForbidden, MsgVerifyEmail)
			}
		}
		return c.registry.AddMember(ctx, room.Key, userID)
	}
}

func (c *Chat) resolve(ctx context.Context, key string) (Room, error) {
	if key == "" || key == c.registry.PublicKey() {
		return c.registry.EnsurePublicRoom(ctx)
	}
	return c.registry.Resolve(ctx, key)
}

// OnMessage handles one inbound frame of a joined session. Errors are also
// delivered to the session as an ErrorNotice; none of them close it.
func (c *Chat) OnMessage(ctx context.Context, s *Session, raw []byte) error {
	if s.State() != StateJoined {
		return coreError(ErrNotJoined, "session is not joined")
	}

	var sub Submission
	if err := json.Unmarshal(raw, &sub); err != nil {
		cerr := coreError(ErrInvalidMessage, "malformed message")
		s.notify(cerr)
		return cerr
	}
	if _, err := c.post(ctx, s.room, s.user, sub); err != nil {
		s.notify(err)
		return err
	}
	return nil
}

// PostFile persists a file message in roomKey and broadcasts it.
func (c *Chat) PostFile(ctx context.Context, user User, roomKey string, file FileRef) (Message, error) {
	room, err := c.Authorize(ctx, user.ID, roomKey)
	if err != nil {
		return Message{}, err
	}
	return c.post(ctx, room, user, Submission{File: &file})
}

func (c *Chat) post(ctx context.Context, room Room, author User, sub Submission) (Message, error) {
	sub, err := sub.Normalize()
	if err != nil {
		return Message{}, err
	}

	rec := &store.Message{
		RoomID:   room.ID,
		UserID:   author.ID,
		Username: author.Name,
	}
	if sub.Body != "" {
		body := sub.Body
		rec.Body = &body
	}
	if sub.File != nil {
		rec.File = &store.File{Path: sub.File.Path, Name: sub.File.Name, MIME: sub.File.MIME}
	}
	if err := c.messages.SaveMessage(ctx, rec); err != nil {
		c.logger.Error().Err(err).Str("room", room.Key).Msg("failed to save message")
		return Message{}, storeErr(err, "save message")
	}

	msg := messageFromStore(rec, room.Key)
	c.hub.Publish(room.Key, NewMessage{Message: msg})
	return msg, nil
}

// History returns up to limit recent messages of roomKey, oldest first.
// A non-positive limit uses the configured default.
func (c *Chat) History(ctx context.Context, roomKey string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = c.historyLimit
	}
	room, err := c.resolve(ctx, roomKey)
	if err != nil {
		return nil, err
	}
	recs, err := c.messages.ListRecentMessages(ctx, room.ID, limit)
	if err != nil {
		return nil, storeErr(err, "list messages")
	}
	msgs := make([]Message, 0, len(recs))
	for _, rec := range recs {
		msgs = append(msgs, messageFromStore(rec, room.Key))
	}
	return msgs, nil
}

// Disconnect runs the disconnect path of s. It is safe to call any number of
// times and concurrently with evictions; only the first caller does work.
func (c *Chat) Disconnect(s *Session) {
	if s.room.Key != "" {
		c.release(s.room.Key, s.token)
	}
	s.close()
}

func (c *Chat) release(roomKey, token string) (Binding, bool) {
	unlock := c.locks.Lock(roomKey)
	defer unlock()

	b, err := c.directory.Unregister(token)
	if err != nil {
		return Binding{}, false
	}
	c.finishLocked(b)
	return b, true
}

// finishLocked completes the disconnect of an already unregistered binding.
// The room lock must be held.
func (c *Chat) finishLocked(b Binding) {
	c.hub.Unsubscribe(b.Room, b.Token)

	c.mu.Lock()
	s := c.sessions[b.Token]
	delete(c.sessions, b.Token)
	c.mu.Unlock()
	if s != nil {
		s.close()
	}

	offline, count := c.presence.MarkOffline(b.Room, b.UserID)
	if offline {
		c.hub.Publish(b.Room, PresenceUpdate{Room: b.Room, OnlineCount: count})
		c.hub.Publish(GlobalTopic, OnlineStatusChanged{Room: b.Room})
	}
	c.logger.Debug().
		Str("room", b.Room).
		Int64("user_id", b.UserID).
		Str("token", b.Token).
		Int("online", count).
		Msg("session left")
}

// ForceEvict closes every live connection of user in roomKey and returns how
// many there were.
func (c *Chat) ForceEvict(_ context.Context, userID int64, roomKey string) int {
	unlock := c.locks.Lock(roomKey)
	defer unlock()

	c.evictions.userEvicted(roomKey, userID)
	evicted := c.directory.EvictAll(userID, roomKey, ReasonRemoved)
	for _, b := range evicted {
		c.finishLocked(b)
	}
	return len(evicted)
}

// EvictRoom closes every live connection in roomKey and drops the room's
// topic and presence state.
func (c *Chat) EvictRoom(_ context.Context, roomKey string) int {
	unlock := c.locks.Lock(roomKey)
	defer unlock()

	c.evictions.roomDeleted(roomKey)
	n := 0
	for _, userID := range c.directory.RoomUsers(roomKey) {
		evicted := c.directory.EvictAll(userID, roomKey, ReasonRoomDeleted)
		for _, b := range evicted {
			c.finishLocked(b)
		}
		n += len(evicted)
	}
	if stale := c.hub.Teardown(roomKey); len(stale) > 0 {
		c.logger.Warn().Str("room", roomKey).Strs("tokens", stale).Msg("tore down untracked subscribers")
	}
	c.presence.Forget(roomKey)
	return n
}

// handleDrop runs the disconnect path for a subscriber the hub removed.
func (c *Chat) handleDrop(room, token string, err error) {
	if room == GlobalTopic {
		c.mu.Lock()
		g := c.globals[token]
		c.mu.Unlock()
		if g != nil {
			_ = g.conn.Close(ReasonSlowConsumer)
			c.DisconnectGlobal(g)
		}
		return
	}

	unlock := c.locks.Lock(room)
	defer unlock()

	b, uerr := c.directory.Unregister(token)
	if uerr != nil {
		return
	}
	c.logger.Warn().Err(err).Str("room", room).Str("token", token).Msg("closing slow connection")
	if b.closer != nil {
		_ = b.closer.Close(ReasonSlowConsumer)
	}
	c.finishLocked(b)
}

// CloseAll closes every live connection, e.g. on shutdown. The transports
// then run their own disconnect paths.
func (c *Chat) CloseAll(reason string) int {
	c.mu.Lock()
	conns := make([]Conn, 0, len(c.sessions)+len(c.globals))
	for _, s := range c.sessions {
		conns = append(conns, s.conn)
	}
	for _, g := range c.globals {
		conns = append(conns, g.conn)
	}
	c.mu.Unlock()

	for _, conn := range conns {
		if conn != nil {
			_ = conn.Close(reason)
		}
	}
	return len(conns)
}

// SessionCount returns the number of joined room sessions.
func (c *Chat) SessionCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sessions)
}

func messageFromStore(rec *store.Message, roomKey string) Message {
	msg := Message{
		ID:        rec.ID,
		Room:      roomKey,
		Author:    User{ID: rec.UserID, Name: rec.Username},
		CreatedAt: rec.CreatedAt,
	}
	if rec.Body != nil {
		msg.Body = *rec.Body
	}
	if rec.File != nil {
		msg.File = &FileRef{
			Path:    rec.File.Path,
			Name:    rec.File.Name,
			MIME:    rec.File.MIME,
			IsImage: IsImageMIME(rec.File.MIME),
		}
	}
	return msg
}

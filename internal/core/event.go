package core

// EventKind discriminates the Event variants.
type EventKind int

const (
	// EventNewMessage carries a freshly persisted chat message.
	EventNewMessage EventKind = iota
	// EventPresenceUpdate carries a room's online user count.
	EventPresenceUpdate
	// EventOnlineStatusChanged tells global sessions to recompute their summary.
	EventOnlineStatusChanged
	// EventErrorNotice is an ephemeral error for a single session.
	EventErrorNotice
)

func (k EventKind) String() string {
	switch k {
	case EventNewMessage:
		return "new_message"
	case EventPresenceUpdate:
		return "presence_update"
	case EventOnlineStatusChanged:
		return "online_status_changed"
	case EventErrorNotice:
		return "error"
	default:
		return "unknown"
	}
}

// Event is the closed set of notifications the core delivers to sessions.
// Only types in this package implement it.
type Event interface {
	Kind() EventKind
	isEvent()
}

// NewMessage is published to a room after a message was persisted.
type NewMessage struct {
	Message Message
}

// PresenceUpdate is published to a room when its online user count changes.
// OnlineCount counts distinct users; when delivered to a session it excludes
// that session's own user.
type PresenceUpdate struct {
	Room        string
	OnlineCount int
}

// OnlineStatusChanged is published on the global status topic whenever any
// room's presence changes.
type OnlineStatusChanged struct {
	Room string
}

// ErrorNotice is delivered only to the session that caused it.
type ErrorNotice struct {
	Code    string
	Message string
}

func (NewMessage) Kind() EventKind          { return EventNewMessage }
func (PresenceUpdate) Kind() EventKind      { return EventPresenceUpdate }
func (OnlineStatusChanged) Kind() EventKind { return EventOnlineStatusChanged }
func (ErrorNotice) Kind() EventKind         { return EventErrorNotice }

func (NewMessage) isEvent()          {}
func (PresenceUpdate) isEvent()      {}
func (OnlineStatusChanged) isEvent() {}
func (ErrorNotice) isEvent()         {}

// NoticeFromError converts an error into an ErrorNotice.
func NoticeFromError(err error) ErrorNotice {
	return ErrorNotice{Code: CodeOf(err), Message: err.Error()}
}

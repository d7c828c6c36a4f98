package proto

// ProtocolVersion is the wire protocol spoken on the chat sockets. Clients
// may announce theirs with the "protocol" query parameter.
const ProtocolVersion = 2

const (
	OutboundTypeEvent = "event"
	OutboundTypeError = "error"

	EventMessage      = "message"
	EventPresence     = "presence"
	EventHistory      = "history"
	EventOnlineStatus = "online_status"

	ErrCodeUnauthorized       = "unauthorized"
	ErrCodeUnsupportedVersion = "unsupported_version"
	ErrCodeRateLimited        = "rate_limited"
)

// Inbound is a chat message sent by the client on a room socket.
type Inbound struct {
	Body string `json:"body"`
}

// Outbound is the envelope for messages sent to the client.
type Outbound struct {
	Type  string `json:"type"`
	Event string `json:"event,omitempty"`
	Data  any    `json:"data,omitempty"`
	Error *Error `json:"error,omitempty"`
}

// MessageData is a persisted chat message.
type MessageData struct {
	ID       int64     `json:"id"`
	Room     string    `json:"room"`
	AuthorID int64     `json:"author_id"`
	Author   string    `json:"author"`
	Body     string    `json:"body,omitempty"`
	File     *FileData `json:"file,omitempty"`
	TS       int64     `json:"ts"`
}

// FileData describes an attached file.
type FileData struct {
	URL     string `json:"url"`
	Name    string `json:"name"`
	MIME    string `json:"mime"`
	IsImage bool   `json:"is_image"`
}

// PresenceData carries the number of other users online in a room.
type PresenceData struct {
	Room        string `json:"room"`
	OnlineCount int    `json:"online_count"`
}

// HistoryData is sent once after joining a room, oldest message first.
type HistoryData struct {
	Room     string        `json:"room"`
	Messages []MessageData `json:"messages"`
}

// OnlineStatusData is the cross-room presence summary of a global socket.
type OnlineStatusData struct {
	PublicOnline int               `json:"public_online"`
	AnyOnline    bool              `json:"any_online"`
	Rooms        []RoomOnlineCount `json:"rooms"`
}

// RoomOnlineCount is one room's entry in OnlineStatusData.
type RoomOnlineCount struct {
	Key     string `json:"key"`
	Name    string `json:"name,omitempty"`
	Private bool   `json:"private"`
	Online  int    `json:"online"`
}

// Error describes a protocol-level error response.
type Error struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
}

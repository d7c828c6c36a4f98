package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned (wrapped) when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// User represents a user in the system.
type User struct {
	ID            int64
	Username      string
	PasswordHash  string
	Email         string
	EmailVerified bool
	CreatedAt     time.Time
}

// Room represents a chat room record.
//
// A room with no Name and no Private flag is the implicit public room.
// Private rooms carry a PairKey so that one exists per unordered user pair.
type Room struct {
	ID        int64
	Key       string
	Name      *string
	AdminID   *int64
	Private   bool
	PairKey   *string
	CreatedAt time.Time
}

// Message represents a persisted chat message.
// At least one of Body or File is set.
type Message struct {
	ID        int64
	RoomID    int64
	UserID    int64
	Username  string
	Body      *string
	File      *File
	CreatedAt time.Time
}

// File references an uploaded file attached to a message.
type File struct {
	Path string
	Name string
	MIME string
}

// UserStore handles user persistence.
type UserStore interface {
	// CreateUser creates a new user with hashed password.
	CreateUser(ctx context.Context, username, passwordHash, email string) (*User, error)

	// GetUserByID retrieves a user by ID.
	GetUserByID(ctx context.Context, id int64) (*User, error)

	// GetUserByUsername retrieves a user by username.
	GetUserByUsername(ctx context.Context, username string) (*User, error)

	// SetEmailVerified marks the user's email as verified or not.
	SetEmailVerified(ctx context.Context, id int64, verified bool) error
}

// RoomStore handles room and membership persistence.
type RoomStore interface {
	// CreateRoom creates a new room.
	CreateRoom(ctx context.Context, key string, name *string, adminID *int64, private bool) (*Room, error)

	// CreatePrivateRoom creates a private room for two users.
	// Returns the existing room when one already exists for the pair key.
	CreatePrivateRoom(ctx context.Context, key, pairKey string, user1ID, user2ID int64) (*Room, error)

	// GetRoomByKey retrieves a room by its key.
	GetRoomByKey(ctx context.Context, key string) (*Room, error)

	// RenameRoom updates the display name of a room.
	RenameRoom(ctx context.Context, roomID int64, name *string) error

	// DeleteRoom removes a room with its memberships and messages.
	DeleteRoom(ctx context.Context, roomID int64) error

	// ListRoomsForUser lists rooms the user is a member of.
	ListRoomsForUser(ctx context.Context, userID int64) ([]*Room, error)

	// AddMember adds a user to a room.
	AddMember(ctx context.Context, userID, roomID int64) error

	// RemoveMember removes a user from a room.
	RemoveMember(ctx context.Context, userID, roomID int64) error

	// IsMember checks if user is a member of the room.
	IsMember(ctx context.Context, userID, roomID int64) (bool, error)

	// ListMembers lists all members of a room.
	ListMembers(ctx context.Context, roomID int64) ([]int64, error)
}

// MessageStore handles message persistence.
type MessageStore interface {
	// SaveMessage persists a message and fills in its ID and CreatedAt.
	SaveMessage(ctx context.Context, msg *Message) error

	// ListRecentMessages returns up to limit most recent messages of a room,
	// oldest first.
	ListRecentMessages(ctx context.Context, roomID int64, limit int) ([]*Message, error)
}

// Store aggregates all storage interfaces.
type Store interface {
	UserStore
	RoomStore
	MessageStore

	// Close closes the underlying database connection.
	Close() error
}

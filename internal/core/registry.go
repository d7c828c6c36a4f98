package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-hub/internal/store"
	"github.com/vovakirdan/wirechat-hub/internal/utils"
)

// MaxRoomNameLength is the longest accepted group room name, in runes.
const MaxRoomNameLength = 128

// Evictor force-disconnects live connections. The chat layer implements it;
// the registry calls it whenever membership shrinks or a room goes away.
type Evictor interface {
	ForceEvict(ctx context.Context, userID int64, roomKey string) int
	EvictRoom(ctx context.Context, roomKey string) int
}

// Registry is the durable record of rooms and memberships. It holds no
// connection state.
type Registry struct {
	rooms     store.RoomStore
	publicKey string
	evictor   Evictor
	logger    *zerolog.Logger

	publicMu sync.Mutex
}

// NewRegistry creates a registry over rooms. publicKey names the implicit
// public room.
func NewRegistry(rooms store.RoomStore, publicKey string, logger *zerolog.Logger) *Registry {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	l := logger.With().Str("component", "registry").Logger()
	return &Registry{
		rooms:     rooms,
		publicKey: publicKey,
		logger:    &l,
	}
}

// SetEvictor wires the eviction callback.
func (r *Registry) SetEvictor(e Evictor) {
	r.evictor = e
}

// PublicKey returns the key of the public room.
func (r *Registry) PublicKey() string {
	return r.publicKey
}

// Resolve looks a room up by key.
func (r *Registry) Resolve(ctx context.Context, key string) (Room, error) {
	rec, err := r.rooms.GetRoomByKey(ctx, key)
	if err != nil {
		return Room{}, storeErr(err, "resolve room")
	}
	return roomFromStore(rec), nil
}

// EnsurePublicRoom returns the public room, creating it on first use.
func (r *Registry) EnsurePublicRoom(ctx context.Context) (Room, error) {
	room, err := r.Resolve(ctx, r.publicKey)
	if err == nil || !errors.Is(err, ErrRoomNotFound) {
		return room, err
	}

	r.publicMu.Lock()
	defer r.publicMu.Unlock()

	if room, err = r.Resolve(ctx, r.publicKey); err == nil || !errors.Is(err, ErrRoomNotFound) {
		return room, err
	}
	rec, err := r.rooms.CreateRoom(ctx, r.publicKey, nil, nil, false)
	if err != nil {
		return Room{}, storeErr(err, "create public room")
	}
	r.logger.Info().Str("room", rec.Key).Msg("public room created")
	return roomFromStore(rec), nil
}

// CreatePrivateRoom returns the private room of users a and b, creating it
// if needed. Argument order does not matter.
func (r *Registry) CreatePrivateRoom(ctx context.Context, a, b int64) (Room, error) {
	if a == b {
		return Room{}, coreError(ErrBadRequest, "cannot open a private room with yourself")
	}
	rec, err := r.rooms.CreatePrivateRoom(ctx, utils.NewRoomKey(), utils.PairKey(a, b), a, b)
	if err != nil {
		return Room{}, storeErr(err, "create private room")
	}
	return roomFromStore(rec), nil
}

// CreateGroupRoom creates a named room administered by admin, who also
// becomes its first member.
func (r *Registry) CreateGroupRoom(ctx context.Context, admin int64, name string) (Room, error) {
	name, err := normalizeRoomName(name)
	if err != nil {
		return Room{}, err
	}
	rec, err := r.rooms.CreateRoom(ctx, utils.NewRoomKey(), &name, &admin, false)
	if err != nil {
		return Room{}, storeErr(err, "create group room")
	}
	if err := r.rooms.AddMember(ctx, admin, rec.ID); err != nil {
		return Room{}, storeErr(err, "add admin to room")
	}
	r.logger.Info().Str("room", rec.Key).Int64("admin", admin).Msg("group room created")
	return roomFromStore(rec), nil
}

// AddMember adds user to room. Adding an existing member is a no-op.
func (r *Registry) AddMember(ctx context.Context, key string, userID int64) error {
	room, err := r.Resolve(ctx, key)
	if err != nil {
		return err
	}
	if err := r.rooms.AddMember(ctx, userID, room.ID); err != nil {
		return storeErr(err, "add member")
	}
	return nil
}

// RemoveMember removes user from room and evicts their live connections
// there.
func (r *Registry) RemoveMember(ctx context.Context, key string, userID int64) error {
	room, err := r.Resolve(ctx, key)
	if err != nil {
		return err
	}
	return r.removeMember(ctx, room, userID)
}

func (r *Registry) removeMember(ctx context.Context, room Room, userID int64) error {
	if err := r.rooms.RemoveMember(ctx, userID, room.ID); err != nil {
		return storeErr(err, "remove member")
	}
	if r.evictor != nil {
		n := r.evictor.ForceEvict(ctx, userID, room.Key)
		r.logger.Debug().Str("room", room.Key).Int64("user", userID).Int("evicted", n).Msg("member removed")
	}
	return nil
}

// RemoveMembers removes several members at once. Only the admin may do so;
// the admin never removes themself this way.
func (r *Registry) RemoveMembers(ctx context.Context, caller int64, key string, users []int64) error {
	room, err := r.adminRoom(ctx, caller, key)
	if err != nil {
		return err
	}
	for _, userID := range users {
		if userID == caller {
			continue
		}
		if err := r.removeMember(ctx, room, userID); err != nil {
			return err
		}
	}
	return nil
}

// Leave removes user from a room they are a member of.
func (r *Registry) Leave(ctx context.Context, key string, userID int64) error {
	room, err := r.Resolve(ctx, key)
	if err != nil {
		return err
	}
	ok, err := r.rooms.IsMember(ctx, userID, room.ID)
	if err != nil {
		return storeErr(err, "check membership")
	}
	if !ok {
		return coreError(ErrForbidden, "you are not a member of this room")
	}
	return r.removeMember(ctx, room, userID)
}

// RenameRoom changes a group room's display name. Admin only.
func (r *Registry) RenameRoom(ctx context.Context, caller int64, key, name string) (Room, error) {
	room, err := r.adminRoom(ctx, caller, key)
	if err != nil {
		return Room{}, err
	}
	name, err = normalizeRoomName(name)
	if err != nil {
		return Room{}, err
	}
	if err := r.rooms.RenameRoom(ctx, room.ID, &name); err != nil {
		return Room{}, storeErr(err, "rename room")
	}
	room.Name = name
	return room, nil
}

// DeleteRoom evicts every live connection of the room and then removes it.
// Only the admin may delete a room.
func (r *Registry) DeleteRoom(ctx context.Context, caller int64, key string) error {
	room, err := r.adminRoom(ctx, caller, key)
	if err != nil {
		return err
	}
	if r.evictor != nil {
		n := r.evictor.EvictRoom(ctx, room.Key)
		r.logger.Info().Str("room", room.Key).Int("evicted", n).Msg("evicted room before delete")
	}
	if err := r.rooms.DeleteRoom(ctx, room.ID); err != nil {
		return storeErr(err, "delete room")
	}
	return nil
}

// IsMember reports whether user belongs to room.
func (r *Registry) IsMember(ctx context.Context, room Room, userID int64) (bool, error) {
	ok, err := r.rooms.IsMember(ctx, userID, room.ID)
	if err != nil {
		return false, storeErr(err, "check membership")
	}
	return ok, nil
}

// Members lists the user IDs of room's members.
func (r *Registry) Members(ctx context.Context, room Room) ([]int64, error) {
	ids, err := r.rooms.ListMembers(ctx, room.ID)
	if err != nil {
		return nil, storeErr(err, "list members")
	}
	return ids, nil
}

// RoomsFor lists the rooms user is a member of.
func (r *Registry) RoomsFor(ctx context.Context, userID int64) ([]Room, error) {
	recs, err := r.rooms.ListRoomsForUser(ctx, userID)
	if err != nil {
		return nil, storeErr(err, "list rooms")
	}
	rooms := make([]Room, 0, len(recs))
	for _, rec := range recs {
		rooms = append(rooms, roomFromStore(rec))
	}
	return rooms, nil
}

func (r *Registry) adminRoom(ctx context.Context, caller int64, key string) (Room, error) {
	room, err := r.Resolve(ctx, key)
	if err != nil {
		return Room{}, err
	}
	if !room.IsAdmin(caller) {
		return Room{}, coreError(ErrPermissionDenied, "only the room admin can do this")
	}
	return room, nil
}

func normalizeRoomName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if err := validate.Var(name, fmt.Sprintf("required,max=%d", MaxRoomNameLength)); err != nil {
		return "", coreError(ErrBadRequest, fmt.Sprintf("room name must be 1 to %d characters", MaxRoomNameLength))
	}
	return name, nil
}

func roomFromStore(rec *store.Room) Room {
	room := Room{
		ID:        rec.ID,
		Key:       rec.Key,
		AdminID:   rec.AdminID,
		Private:   rec.Private,
		CreatedAt: rec.CreatedAt,
	}
	if rec.Name != nil {
		room.Name = *rec.Name
	}
	return room
}

// storeErr maps a storage error to the core taxonomy.
func storeErr(err error, op string) error {
	if errors.Is(err, store.ErrNotFound) {
		return &CoreError{Code: ErrCodeRoomNotFound, Message: "room not found", Err: ErrRoomNotFound}
	}
	return &CoreError{Code: ErrCodeStorage, Message: op + ": storage unavailable", Err: fmt.Errorf("%w: %w", ErrStorage, err)}
}

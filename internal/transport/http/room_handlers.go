package http

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-hub/internal/auth"
	"github.com/vovakirdan/wirechat-hub/internal/core"
	"github.com/vovakirdan/wirechat-hub/internal/proto"
)

const maxHistoryLimit = 200

// RoomHandlers provides HTTP handlers for room management endpoints.
type RoomHandlers struct {
	chat        *core.Chat
	authService *auth.Service
	log         *zerolog.Logger
}

// NewRoomHandlers creates a new room handlers instance.
func NewRoomHandlers(chat *core.Chat, authService *auth.Service, logger *zerolog.Logger) *RoomHandlers {
	return &RoomHandlers{
		chat:        chat,
		authService: authService,
		log:         logger,
	}
}

// CreateRoomRequest represents the create room request body.
type CreateRoomRequest struct {
	Name string `json:"name" binding:"required,max=128"`
}

// PrivateRoomRequest names the other participant of a private room.
type PrivateRoomRequest struct {
	Username string `json:"username" binding:"required"`
}

// UpdateRoomRequest is the admin edit form: an optional new name and members
// to remove.
type UpdateRoomRequest struct {
	Name          *string `json:"name"`
	RemoveMembers []int64 `json:"remove_members"`
}

// RoomResponse represents a room in API responses.
type RoomResponse struct {
	Key       string  `json:"key"`
	Name      string  `json:"name,omitempty"`
	Kind      string  `json:"kind"`
	AdminID   *int64  `json:"admin_id,omitempty"`
	Online    int     `json:"online"`
	Members   []int64 `json:"members,omitempty"`
	CreatedAt string  `json:"created_at"`
}

func (h *RoomHandlers) roomResponse(room core.Room, viewer int64) RoomResponse {
	return RoomResponse{
		Key:       room.Key,
		Name:      room.Name,
		Kind:      room.Kind().String(),
		AdminID:   room.AdminID,
		Online:    h.chat.Presence().CountExcluding(room.Key, viewer),
		CreatedAt: room.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
	}
}

// CreateRoom creates a group room administered by the caller.
// POST /api/rooms
func (h *RoomHandlers) CreateRoom(c *gin.Context) {
	user, ok := currentUser(c, h.log)
	if !ok {
		return
	}

	var req CreateRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Debug().Err(err).Msg("invalid create room request")
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	room, err := h.chat.Registry().CreateGroupRoom(c.Request.Context(), user.ID, req.Name)
	if err != nil {
		respondError(c, h.log, err, "failed to create room")
		return
	}

	h.log.Info().Str("room", room.Key).Str("name", room.Name).Int64("admin_id", user.ID).Msg("room created successfully")
	c.JSON(http.StatusCreated, h.roomResponse(room, user.ID))
}

// OpenPrivateRoom returns the private room between the caller and another
// user, creating it on first use.
// POST /api/rooms/private
func (h *RoomHandlers) OpenPrivateRoom(c *gin.Context) {
	user, ok := currentUser(c, h.log)
	if !ok {
		return
	}

	var req PrivateRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	other, err := h.authService.LookupUser(c.Request.Context(), req.Username)
	if err != nil {
		if errors.Is(err, auth.ErrUserNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "user not found"})
			return
		}
		h.log.Error().Err(err).Str("username", req.Username).Msg("failed to look up user")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	room, err := h.chat.Registry().CreatePrivateRoom(c.Request.Context(), user.ID, other.ID)
	if err != nil {
		respondError(c, h.log, err, "failed to open private room")
		return
	}
	c.JSON(http.StatusOK, h.roomResponse(room, user.ID))
}

// ListRooms lists the public room and every room the caller belongs to.
// GET /api/rooms
func (h *RoomHandlers) ListRooms(c *gin.Context) {
	user, ok := currentUser(c, h.log)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	public, err := h.chat.Registry().EnsurePublicRoom(ctx)
	if err != nil {
		respondError(c, h.log, err, "failed to load public room")
		return
	}
	rooms, err := h.chat.Registry().RoomsFor(ctx, user.ID)
	if err != nil {
		respondError(c, h.log, err, "failed to list rooms")
		return
	}

	response := make([]RoomResponse, 0, len(rooms)+1)
	response = append(response, h.roomResponse(public, user.ID))
	for _, room := range rooms {
		response = append(response, h.roomResponse(room, user.ID))
	}

	h.log.Debug().Int64("user_id", user.ID).Int("room_count", len(response)).Msg("rooms listed successfully")
	c.JSON(http.StatusOK, response)
}

// GetRoom describes one room the caller may access.
// GET /api/rooms/:key
func (h *RoomHandlers) GetRoom(c *gin.Context) {
	user, ok := currentUser(c, h.log)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	room, err := h.chat.Authorize(ctx, user.ID, c.Param("key"))
	if err != nil {
		respondError(c, h.log, err, "failed to load room")
		return
	}

	resp := h.roomResponse(room, user.ID)
	if room.Kind() != core.RoomPublic {
		if resp.Members, err = h.chat.Registry().Members(ctx, room); err != nil {
			respondError(c, h.log, err, "failed to list members")
			return
		}
	}
	c.JSON(http.StatusOK, resp)
}

// UpdateRoom renames a room and removes members. Admin only.
// PATCH /api/rooms/:key
func (h *RoomHandlers) UpdateRoom(c *gin.Context) {
	user, ok := currentUser(c, h.log)
	if !ok {
		return
	}

	var req UpdateRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	ctx := c.Request.Context()
	key := c.Param("key")
	registry := h.chat.Registry()

	var (
		room core.Room
		err  error
	)
	if req.Name != nil {
		room, err = registry.RenameRoom(ctx, user.ID, key, *req.Name)
	} else {
		room, err = registry.Resolve(ctx, key)
		if err == nil && !room.IsAdmin(user.ID) {
			err = &core.CoreError{Code: core.ErrCodePermissionDenied, Message: "only the room admin can do this", Err: core.ErrPermissionDenied}
		}
	}
	if err != nil {
		respondError(c, h.log, err, "failed to update room")
		return
	}

	if len(req.RemoveMembers) > 0 {
		if err := registry.RemoveMembers(ctx, user.ID, key, req.RemoveMembers); err != nil {
			respondError(c, h.log, err, "failed to remove members")
			return
		}
		h.log.Info().Str("room", key).Int("removed", len(req.RemoveMembers)).Msg("members removed")
	}

	c.JSON(http.StatusOK, h.roomResponse(room, user.ID))
}

// DeleteRoom deletes a room after evicting everyone in it. Admin only.
// DELETE /api/rooms/:key
func (h *RoomHandlers) DeleteRoom(c *gin.Context) {
	user, ok := currentUser(c, h.log)
	if !ok {
		return
	}

	key := c.Param("key")
	if err := h.chat.Registry().DeleteRoom(c.Request.Context(), user.ID, key); err != nil {
		respondError(c, h.log, err, "failed to delete room")
		return
	}

	h.log.Info().Str("room", key).Int64("admin_id", user.ID).Msg("room deleted")
	c.Status(http.StatusNoContent)
}

// LeaveRoom removes the caller from a room.
// POST /api/rooms/:key/leave
func (h *RoomHandlers) LeaveRoom(c *gin.Context) {
	user, ok := currentUser(c, h.log)
	if !ok {
		return
	}

	if err := h.chat.Registry().Leave(c.Request.Context(), c.Param("key"), user.ID); err != nil {
		respondError(c, h.log, err, "failed to leave room")
		return
	}
	c.Status(http.StatusNoContent)
}

// ListMessages returns recent messages of a room, oldest first.
// GET /api/rooms/:key/messages?limit=N
func (h *RoomHandlers) ListMessages(c *gin.Context) {
	user, ok := currentUser(c, h.log)
	if !ok {
		return
	}

	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxHistoryLimit {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "limit must be between 1 and 200"})
			return
		}
		limit = n
	}

	ctx := c.Request.Context()
	room, err := h.chat.Authorize(ctx, user.ID, c.Param("key"))
	if err != nil {
		respondError(c, h.log, err, "failed to load room")
		return
	}

	msgs, err := h.chat.History(ctx, room.Key, limit)
	if err != nil {
		respondError(c, h.log, err, "failed to list messages")
		return
	}

	response := make([]proto.MessageData, 0, len(msgs))
	for _, msg := range msgs {
		response = append(response, messageData(msg))
	}
	c.JSON(http.StatusOK, response)
}

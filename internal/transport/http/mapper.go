package http

import (
	"errors"
	"net/http"
	"path"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-hub/internal/core"
	"github.com/vovakirdan/wirechat-hub/internal/proto"
)

// filesPrefix is the URL prefix uploaded files are served under.
const filesPrefix = "/files"

func messageData(msg core.Message) proto.MessageData {
	data := proto.MessageData{
		ID:       msg.ID,
		Room:     msg.Room,
		AuthorID: msg.Author.ID,
		Author:   msg.Author.Name,
		Body:     msg.Body,
		TS:       msg.CreatedAt.Unix(),
	}
	if msg.File != nil {
		data.File = &proto.FileData{
			URL:     path.Join(filesPrefix, msg.File.Path),
			Name:    msg.File.Name,
			MIME:    msg.File.MIME,
			IsImage: msg.File.IsImage,
		}
	}
	return data
}

func historyOutbound(room string, msgs []core.Message) proto.Outbound {
	messages := make([]proto.MessageData, 0, len(msgs))
	for _, msg := range msgs {
		messages = append(messages, messageData(msg))
	}
	return proto.Outbound{
		Type:  proto.OutboundTypeEvent,
		Event: proto.EventHistory,
		Data:  proto.HistoryData{Room: room, Messages: messages},
	}
}

func summaryOutbound(sum core.OnlineSummary) proto.Outbound {
	rooms := make([]proto.RoomOnlineCount, 0, len(sum.Rooms))
	for _, r := range sum.Rooms {
		rooms = append(rooms, proto.RoomOnlineCount{
			Key:     r.Key,
			Name:    r.Name,
			Private: r.Private,
			Online:  r.Online,
		})
	}
	return proto.Outbound{
		Type:  proto.OutboundTypeEvent,
		Event: proto.EventOnlineStatus,
		Data: proto.OnlineStatusData{
			PublicOnline: sum.Public,
			AnyOnline:    sum.AnyOnline,
			Rooms:        rooms,
		},
	}
}

func errorOutbound(code, msg string) proto.Outbound {
	return proto.Outbound{
		Type:  proto.OutboundTypeError,
		Error: &proto.Error{Code: code, Msg: msg},
	}
}

// outboundFromEvent renders a room event. Every session receives the same
// rendering of a NewMessage.
func outboundFromEvent(ev core.Event) proto.Outbound {
	switch e := ev.(type) {
	case core.NewMessage:
		return proto.Outbound{
			Type:  proto.OutboundTypeEvent,
			Event: proto.EventMessage,
			Data:  messageData(e.Message),
		}
	case core.PresenceUpdate:
		return proto.Outbound{
			Type:  proto.OutboundTypeEvent,
			Event: proto.EventPresence,
			Data:  proto.PresenceData{Room: e.Room, OnlineCount: e.OnlineCount},
		}
	case core.ErrorNotice:
		return errorOutbound(e.Code, e.Message)
	case core.OnlineStatusChanged:
		return proto.Outbound{Type: proto.OutboundTypeEvent, Event: proto.EventOnlineStatus}
	default:
		return errorOutbound(core.ErrCodeInternal, "unknown event")
	}
}

// statusFor maps a core error to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, core.ErrRoomNotFound), errors.Is(err, core.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrForbidden), errors.Is(err, core.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, core.ErrInvalidMessage), errors.Is(err, core.ErrBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes a core error as JSON. Server errors are logged and
// their details hidden.
func respondError(c *gin.Context, logger *zerolog.Logger, err error, msg string) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		logger.Error().Err(err).Str("path", c.Request.URL.Path).Msg(msg)
		c.JSON(status, ErrorResponse{Error: "internal server error"})
		return
	}
	resp := ErrorResponse{Error: err.Error(), Code: core.CodeOf(err)}
	if errors.Is(err, core.ErrForbidden) && resp.Code == core.ErrCodeForbidden {
		resp.Redirect = eligibilityRedirect(err)
	}
	c.JSON(status, resp)
}

// eligibilityRedirect points ineligible users at the page where they can
// fix their account.
func eligibilityRedirect(err error) string {
	var ce *core.CoreError
	if errors.As(err, &ce) && ce.Message == core.MsgVerifyEmail {
		return "/profile/settings"
	}
	return ""
}

package http

import (
	"context"
	"errors"
	"io"
	"strconv"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-hub/internal/config"
	"github.com/vovakirdan/wirechat-hub/internal/core"
	"github.com/vovakirdan/wirechat-hub/internal/proto"
	"github.com/vovakirdan/wirechat-hub/internal/utils"
)

// WSHandler upgrades HTTP connections and bridges them to core sessions.
type WSHandler struct {
	chat *core.Chat
	cfg  *config.Config
	log  *zerolog.Logger
}

// NewWSHandler builds a new WebSocket handler.
func NewWSHandler(chat *core.Chat, cfg *config.Config, logger *zerolog.Logger) *WSHandler {
	return &WSHandler{chat: chat, cfg: cfg, log: logger}
}

// wsConn is the core.Conn of a socket. Close only records the reason and
// signals the write loop; the handler finishes the close handshake.
type wsConn struct {
	done chan struct{}
	once sync.Once

	mu     sync.Mutex
	reason string
}

func newWSConn() *wsConn {
	return &wsConn{done: make(chan struct{})}
}

func (w *wsConn) Close(reason string) error {
	w.once.Do(func() {
		w.mu.Lock()
		w.reason = reason
		w.mu.Unlock()
		close(w.done)
	})
	return nil
}

func (w *wsConn) Reason() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.reason
}

func closeStatusFor(reason string) websocket.StatusCode {
	switch reason {
	case core.ReasonShutdown:
		return websocket.StatusGoingAway
	case core.ReasonSlowConsumer:
		return websocket.StatusTryAgainLater
	default:
		return websocket.StatusPolicyViolation
	}
}

func (h *WSHandler) accept(c *gin.Context) (*websocket.Conn, error) {
	opts := &websocket.AcceptOptions{OriginPatterns: h.cfg.AllowedOrigins}
	if len(h.cfg.AllowedOrigins) == 0 {
		opts.InsecureSkipVerify = true
	}
	conn, err := websocket.Accept(c.Writer, c.Request, opts)
	if err != nil {
		return nil, err
	}
	if h.cfg.MaxMessageBytes > 0 {
		conn.SetReadLimit(h.cfg.MaxMessageBytes)
	}
	return conn, nil
}

// checkProtocol rejects clients announcing a protocol version other than
// ours. It reports whether the connection may continue.
func (h *WSHandler) checkProtocol(ctx context.Context, c *gin.Context, conn *websocket.Conn) bool {
	raw := c.Query("protocol")
	if raw == "" {
		return true
	}
	if v, err := strconv.Atoi(raw); err == nil && v == proto.ProtocolVersion {
		return true
	}
	h.log.Debug().Str("protocol", raw).Msg("unsupported protocol version")
	_ = wsjson.Write(ctx, conn, errorOutbound(proto.ErrCodeUnsupportedVersion,
		"unsupported protocol version, expected "+strconv.Itoa(proto.ProtocolVersion)))
	_ = conn.Close(websocket.StatusPolicyViolation, "unsupported protocol version")
	return false
}

// ServeChat joins the caller to a room and streams its events.
// GET /ws/chat/:key
func (h *WSHandler) ServeChat(c *gin.Context) {
	user, ok := currentUser(c, h.log)
	if !ok {
		return
	}

	conn, err := h.accept(c)
	if err != nil {
		h.log.Error().Err(err).Msg("ws accept error")
		return
	}
	defer conn.CloseNow()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	if !h.checkProtocol(ctx, c, conn) {
		return
	}

	adapter := newWSConn()
	sess, err := h.chat.Connect(ctx, core.ConnectionContext{
		Token:   utils.NewToken(),
		User:    user,
		RoomKey: c.Param("key"),
	}, adapter)
	if err != nil {
		h.log.Debug().Err(err).Str("room", c.Param("key")).Int64("user_id", user.ID).Msg("ws join rejected")
		msg := err.Error()
		if statusFor(err) >= 500 {
			msg = "internal server error"
		}
		_ = wsjson.Write(ctx, conn, errorOutbound(core.CodeOf(err), msg))
		_ = conn.Close(websocket.StatusPolicyViolation, core.CodeOf(err))
		return
	}
	defer h.chat.Disconnect(sess)

	log := h.log.With().Str("room", sess.Room().Key).Str("token", sess.Token()).Logger()

	history, err := h.chat.History(ctx, sess.Room().Key, h.cfg.HistoryLimit)
	if err != nil {
		log.Error().Err(err).Msg("load history")
		history = nil
	}
	seen := newHistoryCutoff(history)
	if err := wsjson.Write(ctx, conn, historyOutbound(sess.Room().Key, history)); err != nil {
		log.Debug().Err(err).Msg("write history")
		return
	}

	errCh := make(chan error, 2)
	go func() {
		errCh <- h.readLoop(ctx, conn, sess, &log)
	}()
	go func() {
		errCh <- h.writeLoop(ctx, conn, sess, adapter, seen, &log)
	}()

	err = <-errCh
	if reason := adapter.Reason(); reason != "" {
		// Closing the socket unblocks the read loop.
		_ = conn.Close(closeStatusFor(reason), reason)
		cancel()
		<-errCh
		return
	}
	cancel()
	<-errCh
	h.closeWith(conn, err, &log)
}

// closeWith ends the handshake after the loops stopped on err.
func (h *WSHandler) closeWith(conn *websocket.Conn, err error, log *zerolog.Logger) {
	status := websocket.StatusNormalClosure
	reason := "closing"
	if err != nil && !errors.Is(err, context.Canceled) {
		if errors.Is(err, io.EOF) {
			err = nil
		}
		if s := websocket.CloseStatus(err); s != -1 {
			status = s
		}
		if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
			err = nil
		}
		if err != nil {
			if status == websocket.StatusNormalClosure {
				status = websocket.StatusInternalError
			}
			reason = err.Error()
			log.Warn().Err(err).Msg("ws connection closed with error")
		}
	}
	_ = conn.Close(status, reason)
}

func (h *WSHandler) readLoop(ctx context.Context, conn *websocket.Conn, sess *core.Session, log *zerolog.Logger) error {
	limiter := newMessageLimiter(h.cfg.MessagesPerMinute)
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}

		if !limiter.Allow() {
			if err := wsjson.Write(ctx, conn, errorOutbound(proto.ErrCodeRateLimited, "too many messages")); err != nil {
				return err
			}
			continue
		}

		if err := h.chat.OnMessage(ctx, sess, data); err != nil {
			log.Debug().Err(err).Msg("inbound message rejected")
			if errors.Is(err, core.ErrNotJoined) {
				return err
			}
		}
	}
}

func (h *WSHandler) writeLoop(ctx context.Context, conn *websocket.Conn, sess *core.Session, adapter *wsConn, seen *historyCutoff, log *zerolog.Logger) error {
	for {
		select {
		case ev := <-sess.Events():
			if seen.shown(ev) {
				continue
			}
			if err := wsjson.Write(ctx, conn, outboundFromEvent(ev)); err != nil {
				log.Debug().Err(err).Msg("write ws event")
				return err
			}
		case <-sess.Done():
			return nil
		case <-adapter.done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// historyCutoff drops live messages that the history snapshot already
// showed. Only messages queued before the snapshot can be duplicates, so
// filtering stops at the first newer message; relayed messages from other
// nodes carry IDs from a different sequence and must not be compared after
// that point.
type historyCutoff struct {
	lastID int64
}

func newHistoryCutoff(history []core.Message) *historyCutoff {
	var c historyCutoff
	if n := len(history); n > 0 {
		c.lastID = history[n-1].ID
	}
	return &c
}

func (c *historyCutoff) shown(ev core.Event) bool {
	if c.lastID == 0 {
		return false
	}
	nm, ok := ev.(core.NewMessage)
	if !ok {
		return false
	}
	if nm.Message.ID <= c.lastID {
		return true
	}
	c.lastID = 0
	return false
}

// ServeOnlineStatus streams the caller's cross-room presence summary.
// GET /ws/online-status
func (h *WSHandler) ServeOnlineStatus(c *gin.Context) {
	user, ok := currentUser(c, h.log)
	if !ok {
		return
	}

	conn, err := h.accept(c)
	if err != nil {
		h.log.Error().Err(err).Msg("ws accept error")
		return
	}
	defer conn.CloseNow()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	if !h.checkProtocol(ctx, c, conn) {
		return
	}

	adapter := newWSConn()
	g, err := h.chat.ConnectGlobal(ctx, core.ConnectionContext{Token: utils.NewToken(), User: user}, adapter)
	if err != nil {
		h.log.Error().Err(err).Int64("user_id", user.ID).Msg("online status subscribe failed")
		_ = conn.Close(websocket.StatusInternalError, "internal error")
		return
	}
	defer h.chat.DisconnectGlobal(g)

	// Nothing is read from this socket; CloseRead handles control frames
	// and cancels ctx when the peer goes away.
	ctx = conn.CloseRead(ctx)

	log := h.log.With().Str("token", g.Token()).Int64("user_id", user.ID).Logger()
	err = h.summaryLoop(ctx, conn, g, adapter, user.ID)

	if reason := adapter.Reason(); reason != "" {
		_ = conn.Close(closeStatusFor(reason), reason)
		return
	}
	h.closeWith(conn, err, &log)
}

func (h *WSHandler) summaryLoop(ctx context.Context, conn *websocket.Conn, g *core.GlobalSession, adapter *wsConn, userID int64) error {
	for {
		select {
		case <-g.Events():
			sum, err := h.chat.OnlineSummary(ctx, userID)
			if err != nil {
				return err
			}
			if err := wsjson.Write(ctx, conn, summaryOutbound(sum)); err != nil {
				return err
			}
		case <-g.Done():
			return nil
		case <-adapter.done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

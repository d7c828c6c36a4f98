package http

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/vovakirdan/wirechat-hub/internal/config"
	"github.com/vovakirdan/wirechat-hub/internal/core"
	"github.com/vovakirdan/wirechat-hub/internal/proto"
)

func chatPath(key string) string {
	return "/ws/chat/" + key
}

func TestWebSocketMessageFanOut(t *testing.T) {
	srv := newTestServer(t)
	aliceToken, _ := srv.register(t, "alice", false)
	bobToken, _ := srv.register(t, "bob", false)
	key := srv.cfg.PublicRoomKey

	ctx, closeCtx := context.WithTimeout(context.Background(), 5*time.Second)
	defer closeCtx()

	connA := srv.dial(t, ctx, chatPath(key), aliceToken)
	f := readFrame(t, ctx, connA)
	if f.Event != proto.EventHistory {
		t.Fatalf("expected history first, got %+v", f)
	}
	var presence proto.PresenceData
	decodeData(t, readUntil(t, ctx, connA, isEvent(proto.EventPresence)), &presence)
	if presence.OnlineCount != 0 {
		t.Fatalf("alice alone should see 0 others, got %d", presence.OnlineCount)
	}

	connB := srv.dial(t, ctx, chatPath(key), bobToken)
	decodeData(t, readUntil(t, ctx, connB, isEvent(proto.EventPresence)), &presence)
	if presence.OnlineCount != 1 {
		t.Fatalf("bob should see alice online, got %d", presence.OnlineCount)
	}
	decodeData(t, readUntil(t, ctx, connA, isEvent(proto.EventPresence)), &presence)
	if presence.OnlineCount != 1 {
		t.Fatalf("alice should see bob online, got %d", presence.OnlineCount)
	}

	if err := wsjson.Write(ctx, connA, proto.Inbound{Body: "hi there"}); err != nil {
		t.Fatalf("send message: %v", err)
	}

	for name, conn := range map[string]*websocket.Conn{"alice": connA, "bob": connB} {
		var msg proto.MessageData
		decodeData(t, readUntil(t, ctx, conn, isEvent(proto.EventMessage)), &msg)
		if msg.Author != "alice" || msg.Body != "hi there" || msg.Room != key {
			t.Fatalf("%s got unexpected message: %+v", name, msg)
		}
	}

	// Bob leaving drops alice's count back to zero.
	connB.Close(websocket.StatusNormalClosure, "done")
	decodeData(t, readUntil(t, ctx, connA, isEvent(proto.EventPresence)), &presence)
	if presence.OnlineCount != 0 {
		t.Fatalf("expected 0 after bob left, got %d", presence.OnlineCount)
	}
}

func TestWebSocketHistoryOnJoin(t *testing.T) {
	srv := newTestServer(t)
	token, _ := srv.register(t, "alice", false)
	key := srv.cfg.PublicRoomKey

	ctx, closeCtx := context.WithTimeout(context.Background(), 5*time.Second)
	defer closeCtx()

	first := srv.dial(t, ctx, chatPath(key), token)
	readFrame(t, ctx, first)
	for i := range 3 {
		if err := wsjson.Write(ctx, first, proto.Inbound{Body: "msg " + strconv.Itoa(i)}); err != nil {
			t.Fatalf("send: %v", err)
		}
		readUntil(t, ctx, first, isEvent(proto.EventMessage))
	}

	second := srv.dial(t, ctx, chatPath(key), token)
	f := readFrame(t, ctx, second)
	if f.Event != proto.EventHistory {
		t.Fatalf("expected history frame, got %+v", f)
	}
	var history proto.HistoryData
	decodeData(t, f, &history)
	if len(history.Messages) != 3 || history.Messages[0].Body != "msg 0" || history.Messages[2].Body != "msg 2" {
		t.Fatalf("unexpected history: %+v", history.Messages)
	}
}

func TestWebSocketInvalidMessageKeepsConnection(t *testing.T) {
	srv := newTestServer(t)
	token, _ := srv.register(t, "alice", false)

	ctx, closeCtx := context.WithTimeout(context.Background(), 5*time.Second)
	defer closeCtx()

	conn := srv.dial(t, ctx, chatPath(srv.cfg.PublicRoomKey), token)

	if err := wsjson.Write(ctx, conn, proto.Inbound{Body: "   "}); err != nil {
		t.Fatalf("send: %v", err)
	}
	readUntil(t, ctx, conn, isError(core.ErrCodeInvalidMessage))

	if err := conn.Write(ctx, websocket.MessageText, []byte("{not json")); err != nil {
		t.Fatalf("send: %v", err)
	}
	readUntil(t, ctx, conn, isError(core.ErrCodeInvalidMessage))

	if err := wsjson.Write(ctx, conn, proto.Inbound{Body: "still here"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	readUntil(t, ctx, conn, isEvent(proto.EventMessage))
}

func TestWebSocketRequiresToken(t *testing.T) {
	srv := newTestServer(t)

	ctx, closeCtx := context.WithTimeout(context.Background(), 3*time.Second)
	defer closeCtx()

	_, resp, err := websocket.Dial(ctx, srv.wsURL(chatPath(srv.cfg.PublicRoomKey), ""), nil)
	if err == nil {
		t.Fatal("expected dial without token to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %+v", resp)
	}

	_, resp, err = websocket.Dial(ctx, srv.wsURL(chatPath(srv.cfg.PublicRoomKey), "garbage"), nil)
	if err == nil || resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for invalid token, got %v", err)
	}
}

func TestProtocolVersionMismatch(t *testing.T) {
	srv := newTestServer(t)
	token, _ := srv.register(t, "alice", false)

	ctx, closeCtx := context.WithTimeout(context.Background(), 3*time.Second)
	defer closeCtx()

	path := chatPath(srv.cfg.PublicRoomKey) + "?protocol=" + strconv.Itoa(proto.ProtocolVersion+1)
	conn := srv.dial(t, ctx, path, token)

	f := readFrame(t, ctx, conn)
	if f.Type != proto.OutboundTypeError || f.Error == nil || f.Error.Code != proto.ErrCodeUnsupportedVersion {
		t.Fatalf("expected unsupported_version error, got %+v", f)
	}
	if srv.chat.SessionCount() != 0 {
		t.Fatalf("expected no session to be joined, got %d", srv.chat.SessionCount())
	}
}

func TestWebSocketGroupRoomRequiresVerifiedEmail(t *testing.T) {
	srv := newTestServer(t)
	aliceToken, _ := srv.register(t, "alice", true)
	bobToken, _ := srv.register(t, "bob", false)

	resp := srv.do(t, http.MethodPost, "/api/rooms", aliceToken, `{"name":"team"}`)
	var room RoomResponse
	decodeJSON(t, resp, &room)

	ctx, closeCtx := context.WithTimeout(context.Background(), 3*time.Second)
	defer closeCtx()

	conn := srv.dial(t, ctx, chatPath(room.Key), bobToken)
	f := readFrame(t, ctx, conn)
	if f.Type != proto.OutboundTypeError || f.Error == nil || f.Error.Code != core.ErrCodeForbidden {
		t.Fatalf("expected forbidden error, got %+v", f)
	}
	if f.Error.Msg != core.MsgVerifyEmail {
		t.Errorf("expected verify email message, got %q", f.Error.Msg)
	}
}

func TestWebSocketRemovedMemberIsClosed(t *testing.T) {
	srv := newTestServer(t)
	aliceToken, _ := srv.register(t, "alice", true)
	bobToken, bobID := srv.register(t, "bob", true)

	resp := srv.do(t, http.MethodPost, "/api/rooms", aliceToken, `{"name":"team"}`)
	var room RoomResponse
	decodeJSON(t, resp, &room)

	ctx, closeCtx := context.WithTimeout(context.Background(), 5*time.Second)
	defer closeCtx()

	// Verified bob joins implicitly on connect.
	conn := srv.dial(t, ctx, chatPath(room.Key), bobToken)
	readFrame(t, ctx, conn)

	resp = srv.do(t, http.MethodPatch, "/api/rooms/"+room.Key, aliceToken, map[string]any{
		"remove_members": []int64{bobID},
	})
	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", resp.Code, resp.Body.String())
	}

	var err error
	for err == nil {
		_, _, err = conn.Read(ctx)
	}
	var closeErr websocket.CloseError
	if !errors.As(err, &closeErr) || closeErr.Code != websocket.StatusPolicyViolation {
		t.Fatalf("expected policy violation close, got %v", err)
	}
	if closeErr.Reason != core.ReasonRemoved {
		t.Errorf("expected reason %q, got %q", core.ReasonRemoved, closeErr.Reason)
	}
}

func TestWebSocketRateLimited(t *testing.T) {
	srv := newTestServer(t, func(cfg *config.Config) {
		cfg.MessagesPerMinute = 1
	})
	token, _ := srv.register(t, "alice", false)

	ctx, closeCtx := context.WithTimeout(context.Background(), 3*time.Second)
	defer closeCtx()

	conn := srv.dial(t, ctx, chatPath(srv.cfg.PublicRoomKey), token)
	for range 2 {
		if err := wsjson.Write(ctx, conn, proto.Inbound{Body: "spam"}); err != nil {
			t.Fatalf("send: %v", err)
		}
	}
	readUntil(t, ctx, conn, isError(proto.ErrCodeRateLimited))
}

func TestOnlineStatusSocket(t *testing.T) {
	srv := newTestServer(t)
	aliceToken, _ := srv.register(t, "alice", false)
	bobToken, _ := srv.register(t, "bob", false)

	ctx, closeCtx := context.WithTimeout(context.Background(), 5*time.Second)
	defer closeCtx()

	status := srv.dial(t, ctx, "/ws/online-status", aliceToken)

	var sum proto.OnlineStatusData
	decodeData(t, readUntil(t, ctx, status, isEvent(proto.EventOnlineStatus)), &sum)
	if sum.PublicOnline != 0 || sum.AnyOnline {
		t.Fatalf("expected nobody online, got %+v", sum)
	}

	srv.dial(t, ctx, chatPath(srv.cfg.PublicRoomKey), bobToken)

	readUntil(t, ctx, status, func(f frame) bool {
		if f.Event != proto.EventOnlineStatus {
			return false
		}
		decodeData(t, f, &sum)
		return sum.PublicOnline == 1
	})
	if !sum.AnyOnline {
		t.Errorf("expected any_online with bob in the public room, got %+v", sum)
	}
}

func TestCloseAllOnShutdown(t *testing.T) {
	srv := newTestServer(t)
	token, _ := srv.register(t, "alice", false)

	ctx, closeCtx := context.WithTimeout(context.Background(), 5*time.Second)
	defer closeCtx()

	conn := srv.dial(t, ctx, chatPath(srv.cfg.PublicRoomKey), token)
	readFrame(t, ctx, conn)

	if n := srv.chat.CloseAll(core.ReasonShutdown); n != 1 {
		t.Fatalf("expected 1 connection closed, got %d", n)
	}

	var err error
	for err == nil {
		_, _, err = conn.Read(ctx)
	}
	if websocket.CloseStatus(err) != websocket.StatusGoingAway {
		t.Fatalf("expected going away close, got %v", err)
	}
}

func TestHistoryCutoffStopsAfterNewerMessage(t *testing.T) {
	seen := newHistoryCutoff([]core.Message{{ID: 4}, {ID: 5}})

	steps := []struct {
		ev   core.Event
		want bool
	}{
		{core.PresenceUpdate{Room: "r", OnlineCount: 1}, false},
		{core.NewMessage{Message: core.Message{ID: 5}}, true},
		{core.NewMessage{Message: core.Message{ID: 6}}, false},
		// A relayed message numbered by another node's store.
		{core.NewMessage{Message: core.Message{ID: 2}}, false},
	}
	for i, step := range steps {
		if got := seen.shown(step.ev); got != step.want {
			t.Fatalf("step %d: shown = %v, want %v", i, got, step.want)
		}
	}

	empty := newHistoryCutoff(nil)
	if empty.shown(core.NewMessage{Message: core.Message{ID: 1}}) {
		t.Fatalf("empty history must not filter messages")
	}
}

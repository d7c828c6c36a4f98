package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-hub/internal/auth"
	"github.com/vovakirdan/wirechat-hub/internal/config"
	"github.com/vovakirdan/wirechat-hub/internal/core"
	"github.com/vovakirdan/wirechat-hub/internal/store/sqlite"
)

type testServer struct {
	store   *sqlite.SQLiteStore
	auth    *auth.Service
	chat    *core.Chat
	cfg     *config.Config
	handler http.Handler
	ts      *httptest.Server
}

// newTestServer wires the full HTTP stack on an in-memory SQLite store.
func newTestServer(t *testing.T, mutate ...func(*config.Config)) *testServer {
	t.Helper()

	st, err := sqlite.NewWithSetup(":memory:", sqlite.ApplySchema)
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	cfg := config.Default()
	cfg.Addr = ":0"
	cfg.UploadDir = t.TempDir()
	cfg.JWTSecret = "test-secret"
	for _, m := range mutate {
		m(&cfg)
	}

	disabledLogger := zerolog.Nop()

	authService := auth.NewService(st, &auth.JWTConfig{
		Secret:   []byte(cfg.JWTSecret),
		Issuer:   "test",
		Audience: "test",
		TTL:      24 * time.Hour,
	})
	registry := core.NewRegistry(st, cfg.PublicRoomKey, &disabledLogger)
	hub := core.NewHub(&disabledLogger, nil)
	chat := core.NewChat(registry, hub, st, authService, core.Options{
		QueueSize:    cfg.OutboundQueueSize,
		HistoryLimit: cfg.HistoryLimit,
	}, &disabledLogger)

	server := NewServer(chat, authService, st, &cfg, &disabledLogger)
	ts := httptest.NewServer(server.Handler)
	t.Cleanup(ts.Close)

	return &testServer{
		store:   st,
		auth:    authService,
		chat:    chat,
		cfg:     &cfg,
		handler: server.Handler,
		ts:      ts,
	}
}

// register creates a user and returns its token and id. Verified users may
// join group rooms.
func (s *testServer) register(t *testing.T, username string, verified bool) (string, int64) {
	t.Helper()

	ctx := context.Background()
	token, err := s.auth.Register(ctx, username, "password123", username+"@example.com")
	if err != nil {
		t.Fatalf("failed to register %s: %v", username, err)
	}
	if verified {
		if err := s.auth.VerifyEmail(ctx, username); err != nil {
			t.Fatalf("failed to verify %s: %v", username, err)
		}
	}
	u, err := s.auth.LookupUser(ctx, username)
	if err != nil {
		t.Fatalf("failed to look up %s: %v", username, err)
	}
	return token, u.ID
}

// do sends a request through the router and records the response.
func (s *testServer) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		switch b := body.(type) {
		case string:
			reader = strings.NewReader(b)
		default:
			raw, err := json.Marshal(b)
			if err != nil {
				t.Fatalf("marshal body: %v", err)
			}
			reader = bytes.NewReader(raw)
		}
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp := httptest.NewRecorder()
	s.handler.ServeHTTP(resp, req)
	return resp
}

func decodeJSON(t *testing.T, resp *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(resp.Body.Bytes(), v); err != nil {
		t.Fatalf("failed to unmarshal response %q: %v", resp.Body.String(), err)
	}
}

// dial opens a socket at path authenticated with token.
func (s *testServer) dial(t *testing.T, ctx context.Context, path, token string) *websocket.Conn {
	t.Helper()

	conn, resp, err := websocket.Dial(ctx, s.wsURL(path, token), nil)
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		t.Fatalf("dial %s: %v (status %d)", path, err, status)
	}
	t.Cleanup(func() { _ = conn.CloseNow() })
	return conn
}

func (s *testServer) wsURL(path, token string) string {
	u := strings.Replace(s.ts.URL, "http", "ws", 1) + path
	if token == "" {
		return u
	}
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return u + sep + "token=" + token
}

// frame is an outbound envelope with its payload left raw.
type frame struct {
	Type  string          `json:"type"`
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code string `json:"code"`
		Msg  string `json:"msg"`
	} `json:"error"`
}

func readFrame(t *testing.T, ctx context.Context, conn *websocket.Conn) frame {
	t.Helper()
	var f frame
	if err := wsjson.Read(ctx, conn, &f); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	return f
}

// readUntil skips frames until one matches.
func readUntil(t *testing.T, ctx context.Context, conn *websocket.Conn, match func(frame) bool) frame {
	t.Helper()
	for {
		f := readFrame(t, ctx, conn)
		if match(f) {
			return f
		}
	}
}

func isEvent(name string) func(frame) bool {
	return func(f frame) bool { return f.Type == "event" && f.Event == name }
}

func isError(code string) func(frame) bool {
	return func(f frame) bool { return f.Type == "error" && f.Error != nil && f.Error.Code == code }
}

func decodeData(t *testing.T, f frame, v any) {
	t.Helper()
	if err := json.Unmarshal(f.Data, v); err != nil {
		t.Fatalf("unmarshal %s data: %v", f.Event, err)
	}
}

package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/vovakirdan/wirechat-hub/internal/proto"
)

func main() {
	if err := run(); err != nil {
		log.Printf("ws_chat: %v", err)
		os.Exit(1)
	}
}

func run() error {
	server := flag.String("server", "http://localhost:8080", "server base URL")
	user := flag.String("user", "cli-user", "username")
	password := flag.String("password", "password123", "password")
	register := flag.Bool("register", false, "register the user before logging in")
	room := flag.String("room", "public-chat", "room key to join")
	flag.Parse()

	baseCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(baseCtx)
	defer cancel()

	if *register {
		if _, err := authenticate(ctx, *server+"/api/register", *user, *password); err != nil {
			return fmt.Errorf("register: %w", err)
		}
	}
	token, err := authenticate(ctx, *server+"/api/login", *user, *password)
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}

	wsURL := strings.Replace(*server, "http", "ws", 1) + "/ws/chat/" + url.PathEscape(*room) +
		"?protocol=" + strconv.Itoa(proto.ProtocolVersion) + "&token=" + url.QueryEscape(token)
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")

	fmt.Printf("Connected to %s as %s in room %s\n", *server, *user, *room)
	fmt.Println("Type messages and press Enter to send. Ctrl+C to exit.")

	go func() {
		defer cancel()
		readLoop(ctx, conn)
	}()

	writeLoop(ctx, conn)

	stop()
	cancel()
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
	return nil
}

func authenticate(ctx context.Context, endpoint, user, password string) (string, error) {
	body, err := json.Marshal(map[string]string{"username": user, "password": password})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var out struct {
		Token string `json:"token"`
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("%s: %s", resp.Status, out.Error)
	}
	return out.Token, nil
}

type frame struct {
	Type  string          `json:"type"`
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
	Error *proto.Error    `json:"error"`
}

func readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		var f frame
		if err := wsjson.Read(ctx, conn, &f); err != nil {
			// Treat expected shutdowns quietly.
			if errors.Is(err, context.Canceled) {
				return
			}
			var closeErr websocket.CloseError
			if errors.As(err, &closeErr) {
				if closeErr.Code != websocket.StatusNormalClosure && closeErr.Code != websocket.StatusGoingAway {
					fmt.Printf("connection closed: %s\n", closeErr.Reason)
				}
				return
			}
			log.Printf("read error: %v", err)
			return
		}

		if f.Type == proto.OutboundTypeError && f.Error != nil {
			fmt.Printf("error [%s]: %s\n", f.Error.Code, f.Error.Msg)
			continue
		}

		switch f.Event {
		case proto.EventHistory:
			var data proto.HistoryData
			if err := json.Unmarshal(f.Data, &data); err != nil {
				log.Printf("unmarshal history: %v", err)
				continue
			}
			for _, msg := range data.Messages {
				printMessage(msg)
			}
		case proto.EventMessage:
			var msg proto.MessageData
			if err := json.Unmarshal(f.Data, &msg); err != nil {
				log.Printf("unmarshal message: %v", err)
				continue
			}
			printMessage(msg)
		case proto.EventPresence:
			var data proto.PresenceData
			if err := json.Unmarshal(f.Data, &data); err != nil {
				log.Printf("unmarshal presence: %v", err)
				continue
			}
			fmt.Printf("[room %s] %d other(s) online\n", data.Room, data.OnlineCount)
		default:
			fmt.Printf("event=%s data=%s\n", f.Event, f.Data)
		}
	}
}

func printMessage(msg proto.MessageData) {
	if msg.File != nil {
		fmt.Printf("[%s] %s: %s (file %s %s)\n", msg.Room, msg.Author, msg.Body, msg.File.Name, msg.File.URL)
		return
	}
	fmt.Printf("[%s] %s: %s\n", msg.Room, msg.Author, msg.Body)
}

func writeLoop(ctx context.Context, conn *websocket.Conn) {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			text := strings.TrimSpace(line)
			if text == "" {
				continue
			}
			if err := wsjson.Write(ctx, conn, proto.Inbound{Body: text}); err != nil {
				log.Printf("send error: %v", err)
				return
			}
		}
	}
}

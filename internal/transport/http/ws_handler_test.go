package http

import (
	"context"
	"encoding/json"
	"fmt"
	stdhttp "net/http"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/talkroom/talkroom-server/internal/proto"
)

func dialWS(ctx context.Context, t *testing.T, env *testEnv, token string) *websocket.Conn {
	t.Helper()

	wsURL := strings.Replace(env.srv.URL, "http", "ws", 1) + "/ws"
	opts := &websocket.DialOptions{}
	if token != "" {
		opts.HTTPHeader = stdhttp.Header{"Authorization": []string{"Bearer " + token}}
	}

	conn, _, err := websocket.Dial(ctx, wsURL, opts)
	if err != nil {
		t.Fatalf("ws dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "done") })

	return conn
}

func sendFrame(ctx context.Context, t *testing.T, conn *websocket.Conn, frameType string, data any) {
	t.Helper()

	payload, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("marshal %s payload: %v", frameType, err)
	}
	if err := wsjson.Write(ctx, conn, proto.Inbound{Type: frameType, Data: payload}); err != nil {
		t.Fatalf("write %s frame: %v", frameType, err)
	}
}

// wsFrame mirrors proto.Outbound with the payload left raw for per-test
// decoding.
type wsFrame struct {
	Type  string          `json:"type"`
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
	Error *proto.Error    `json:"error"`
}

func readFrame(ctx context.Context, t *testing.T, conn *websocket.Conn) wsFrame {
	t.Helper()

	var frame wsFrame
	if err := wsjson.Read(ctx, conn, &frame); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	return frame
}

func joinURL(roomID int64) string {
	return fmt.Sprintf("/api/rooms/%d/join", roomID)
}

func historyURL(roomID int64) string {
	return fmt.Sprintf("/api/rooms/%d/messages", roomID)
}

func TestWebSocketSubscribeAndSend(t *testing.T) {
	env := newTestEnv(t)

	aliceToken := env.registerUser(t, "alice")
	bobToken := env.registerUser(t, "bob")

	status, body := env.request(t, stdhttp.MethodPost, "/api/rooms", aliceToken, map[string]any{
		"name": "team-chat",
	})
	if status != stdhttp.StatusCreated {
		t.Fatalf("create room: status %d, body %s", status, body)
	}
	room := decodeJSON[RoomResponse](t, body)

	if status, _ := env.request(t, stdhttp.MethodPost, joinURL(room.ID), bobToken, nil); status != stdhttp.StatusNoContent {
		t.Fatalf("join: status %d", status)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	connA := dialWS(ctx, t, env, aliceToken)
	connB := dialWS(ctx, t, env, bobToken)

	for _, conn := range []*websocket.Conn{connA, connB} {
		sendFrame(ctx, t, conn, proto.InboundTypeSubscribe, proto.SubscribeData{Room: room.ID})
		ack := readFrame(ctx, t, conn)
		if ack.Type != proto.OutboundTypeEvent || ack.Event != proto.EventNameSubscribed {
			t.Fatalf("expected subscribed ack, got %+v", ack)
		}
	}

	sendFrame(ctx, t, connA, proto.InboundTypeSend, proto.SendData{Room: room.ID, Text: "hi there"})

	// Both subscribers, the sender included, receive the relayed message.
	for name, conn := range map[string]*websocket.Conn{"alice": connA, "bob": connB} {
		frame := readFrame(ctx, t, conn)
		if frame.Type != proto.OutboundTypeEvent || frame.Event != proto.EventNameMessage {
			t.Fatalf("%s: expected message event, got %+v", name, frame)
		}
		var msg proto.EventMessage
		if err := json.Unmarshal(frame.Data, &msg); err != nil {
			t.Fatalf("%s: decode message event: %v", name, err)
		}
		if msg.Room != room.ID || msg.Text != "hi there" || msg.User != "alice" {
			t.Fatalf("%s: unexpected message: %+v", name, msg)
		}
		if msg.ID == 0 || msg.TS == 0 {
			t.Fatalf("%s: message missing id or timestamp: %+v", name, msg)
		}
	}

	// The message is durable regardless of live delivery.
	status, body = env.request(t, stdhttp.MethodGet, historyURL(room.ID), bobToken, nil)
	if status != stdhttp.StatusOK {
		t.Fatalf("history: status %d, body %s", status, body)
	}
	if messages := decodeJSON[[]MessageResponse](t, body); len(messages) != 1 {
		t.Fatalf("expected 1 persisted message, got %d", len(messages))
	}
}

func TestWebSocketHelloAuthenticatesSession(t *testing.T) {
	env := newTestEnv(t)

	aliceToken := env.registerUser(t, "alice")
	status, body := env.request(t, stdhttp.MethodPost, "/api/rooms", aliceToken, map[string]any{
		"name": "team-chat",
	})
	if status != stdhttp.StatusCreated {
		t.Fatalf("create room: status %d, body %s", status, body)
	}
	room := decodeJSON[RoomResponse](t, body)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// No Authorization header at connect; hello binds the identity instead.
	conn := dialWS(ctx, t, env, "")
	sendFrame(ctx, t, conn, proto.InboundTypeHello, proto.HelloData{Token: aliceToken})
	sendFrame(ctx, t, conn, proto.InboundTypeSubscribe, proto.SubscribeData{Room: room.ID})

	ack := readFrame(ctx, t, conn)
	if ack.Type != proto.OutboundTypeEvent || ack.Event != proto.EventNameSubscribed {
		t.Fatalf("expected subscribed ack, got %+v", ack)
	}
}

func TestWebSocketSubscribeUnauthenticated(t *testing.T) {
	env := newTestEnv(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := dialWS(ctx, t, env, "")
	sendFrame(ctx, t, conn, proto.InboundTypeSubscribe, proto.SubscribeData{Room: 1})

	frame := readFrame(ctx, t, conn)
	if frame.Type != proto.OutboundTypeError || frame.Error == nil || frame.Error.Code != "unauthenticated" {
		t.Fatalf("expected unauthenticated error frame, got %+v", frame)
	}
}

func TestWebSocketSubscribeNonParticipant(t *testing.T) {
	env := newTestEnv(t)

	aliceToken := env.registerUser(t, "alice")
	outsiderToken := env.registerUser(t, "outsider")

	status, body := env.request(t, stdhttp.MethodPost, "/api/rooms", aliceToken, map[string]any{
		"name": "members-only",
	})
	if status != stdhttp.StatusCreated {
		t.Fatalf("create room: status %d, body %s", status, body)
	}
	room := decodeJSON[RoomResponse](t, body)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := dialWS(ctx, t, env, outsiderToken)
	sendFrame(ctx, t, conn, proto.InboundTypeSubscribe, proto.SubscribeData{Room: room.ID})

	frame := readFrame(ctx, t, conn)
	if frame.Type != proto.OutboundTypeError || frame.Error == nil || frame.Error.Code != "not_a_participant" {
		t.Fatalf("expected not_a_participant error frame, got %+v", frame)
	}

	// The connection survives the rejection.
	sendFrame(ctx, t, conn, proto.InboundTypeSend, proto.SendData{Room: room.ID, Text: "hi"})
	frame = readFrame(ctx, t, conn)
	if frame.Type != proto.OutboundTypeError || frame.Error == nil || frame.Error.Code != "not_a_participant" {
		t.Fatalf("expected not_a_participant error frame, got %+v", frame)
	}
}

func TestWebSocketUnsubscribe(t *testing.T) {
	env := newTestEnv(t)

	aliceToken := env.registerUser(t, "alice")
	status, body := env.request(t, stdhttp.MethodPost, "/api/rooms", aliceToken, map[string]any{
		"name": "come-and-go",
	})
	if status != stdhttp.StatusCreated {
		t.Fatalf("create room: status %d, body %s", status, body)
	}
	room := decodeJSON[RoomResponse](t, body)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := dialWS(ctx, t, env, aliceToken)
	sendFrame(ctx, t, conn, proto.InboundTypeSubscribe, proto.SubscribeData{Room: room.ID})
	if ack := readFrame(ctx, t, conn); ack.Event != proto.EventNameSubscribed {
		t.Fatalf("expected subscribed ack, got %+v", ack)
	}

	sendFrame(ctx, t, conn, proto.InboundTypeUnsubscribe, proto.SubscribeData{Room: room.ID})
	if ack := readFrame(ctx, t, conn); ack.Event != proto.EventNameUnsubscribed {
		t.Fatalf("expected unsubscribed ack, got %+v", ack)
	}

	if n := env.hub.SubscriberCount(room.ID); n != 0 {
		t.Fatalf("room still has %d subscribers", n)
	}
}

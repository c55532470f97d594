package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	stdhttp "net/http"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/talkroom/talkroom-server/internal/auth"
	"github.com/talkroom/talkroom-server/internal/core"
	"github.com/talkroom/talkroom-server/internal/proto"
)

// WSHandler upgrades HTTP connections and bridges them to core.Client.
// It is the connection gate: every control-plane frame is checked against
// the session's bound identity before it reaches the hub.
type WSHandler struct {
	hub      *core.Hub
	verifier auth.Verifier
	log      *zerolog.Logger
}

// NewWSHandler builds a new WebSocket handler.
func NewWSHandler(hub *core.Hub, verifier auth.Verifier, logger *zerolog.Logger) stdhttp.Handler {
	return &WSHandler{hub: hub, verifier: verifier, log: logger}
}

func (h *WSHandler) ServeHTTP(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	ctx := r.Context()

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("ws accept error")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "internal error")

	client := core.NewClient(uuid.NewString())

	// Connect-time credential: bind on success, log and continue
	// unauthenticated otherwise. Some clients open the socket before they
	// hold a token, so a bad header never tears the connection down.
	if header := r.Header.Get("Authorization"); header != "" {
		if identity, err := h.verifyHeader(header); err != nil {
			h.log.Warn().Err(err).Str("client_id", client.ID).Msg("connect credential rejected")
		} else {
			client.Bind(identity)
		}
	}

	h.hub.Register(client)
	defer h.hub.Unregister(client)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 2)
	go func() {
		errCh <- h.readLoop(ctx, conn, client)
	}()
	go func() {
		errCh <- h.writeLoop(ctx, conn, client)
	}()

	err = <-errCh
	cancel() // stop the other goroutine
	<-errCh

	status := websocket.StatusNormalClosure
	reason := "closing"
	if err != nil && !errors.Is(err, context.Canceled) {
		if errors.Is(err, io.EOF) {
			err = nil
		}
		if s := websocket.CloseStatus(err); s != 0 {
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
			h.log.Warn().Err(err).Msg("ws connection closed with error")
		}
	}

	conn.Close(status, reason)
}

func (h *WSHandler) verifyHeader(header string) (*auth.Identity, error) {
	token, err := auth.ParseBearer(header)
	if err != nil {
		return nil, err
	}
	return h.verifier.Verify(token)
}

// ensureIdentity re-attempts authentication from a per-frame token for
// sessions without a bound identity. Returns false when the session stays
// unauthenticated; the frame must then never reach the hub.
func (h *WSHandler) ensureIdentity(client *core.Client, token string) bool {
	if client.Identity() != nil {
		return true
	}
	if token == "" {
		return false
	}
	identity, err := h.verifier.Verify(token)
	if err != nil {
		h.log.Warn().Err(err).Str("client_id", client.ID).Msg("frame credential rejected")
		return false
	}
	client.Bind(identity)
	return true
}

func (h *WSHandler) readLoop(ctx context.Context, conn *websocket.Conn, client *core.Client) error {
	for {
		var inbound proto.Inbound
		if err := wsjson.Read(ctx, conn, &inbound); err != nil {
			return err
		}

		outbound := h.handleInbound(ctx, client, inbound)
		if outbound != nil {
			if err := wsjson.Write(ctx, conn, outbound); err != nil {
				return err
			}
		}
	}
}

// handleInbound decodes one frame and routes it by kind. The returned frame,
// when non-nil, is the direct reply on the same connection.
func (h *WSHandler) handleInbound(ctx context.Context, client *core.Client, inbound proto.Inbound) *proto.Outbound {
	switch inbound.Type {
	case proto.InboundTypeHello:
		var hello proto.HelloData
		if err := json.Unmarshal(inbound.Data, &hello); err != nil {
			return protoError(core.ErrCodeBadRequest, "malformed hello")
		}
		// A rejected hello credential is logged, not surfaced; later
		// subscribe/send frames fail closed instead.
		h.ensureIdentity(client, hello.Token)
		return nil

	case proto.InboundTypeSubscribe:
		var sub proto.SubscribeData
		if err := json.Unmarshal(inbound.Data, &sub); err != nil || sub.Room < 1 {
			return protoError(core.ErrCodeBadRequest, "room is required")
		}
		if !h.ensureIdentity(client, sub.Token) {
			return protoError(core.ErrCodeUnauthenticated, "unauthenticated")
		}
		if err := h.hub.Subscribe(ctx, client, sub.Room); err != nil {
			return outboundFromError(err)
		}
		return &proto.Outbound{
			Type:  proto.OutboundTypeEvent,
			Event: proto.EventNameSubscribed,
			Data:  proto.EventRoom{Room: sub.Room},
		}

	case proto.InboundTypeUnsubscribe:
		var sub proto.SubscribeData
		if err := json.Unmarshal(inbound.Data, &sub); err != nil || sub.Room < 1 {
			return protoError(core.ErrCodeBadRequest, "room is required")
		}
		h.hub.Unsubscribe(client, sub.Room)
		return &proto.Outbound{
			Type:  proto.OutboundTypeEvent,
			Event: proto.EventNameUnsubscribed,
			Data:  proto.EventRoom{Room: sub.Room},
		}

	case proto.InboundTypeSend:
		var send proto.SendData
		if err := json.Unmarshal(inbound.Data, &send); err != nil || send.Room < 1 {
			return protoError(core.ErrCodeBadRequest, "room is required")
		}
		if !h.ensureIdentity(client, send.Token) {
			return protoError(core.ErrCodeUnauthenticated, "unauthenticated")
		}
		if _, err := h.hub.Send(ctx, client, send.Room, send.Text); err != nil {
			return outboundFromError(err)
		}
		// Delivery to subscribers, the sender included, arrives through the
		// bus relay; there is no direct ack frame.
		return nil

	default:
		return protoError(core.ErrCodeBadRequest, "unknown frame type")
	}
}

func (h *WSHandler) writeLoop(ctx context.Context, conn *websocket.Conn, client *core.Client) error {
	for {
		select {
		case event, ok := <-client.Events:
			if !ok {
				return nil
			}
			if err := wsjson.Write(ctx, conn, outboundFromEvent(event)); err != nil {
				h.log.Error().Err(err).Str("client_id", client.ID).Msg("write ws event")
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

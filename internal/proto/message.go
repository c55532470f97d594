package proto

import "encoding/json"

// Inbound is the envelope for frames coming from the client. Type selects
// the payload shape; decoding happens once here and behavior lives in the
// per-kind handlers, not in the payload types.
type Inbound struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

const (
	InboundTypeHello       = "hello"
	InboundTypeSubscribe   = "subscribe"
	InboundTypeUnsubscribe = "unsubscribe"
	InboundTypeSend        = "send"

	OutboundTypeEvent = "event"
	OutboundTypeError = "error"

	EventNameMessage      = "message"
	EventNameSubscribed   = "subscribed"
	EventNameUnsubscribed = "unsubscribed"
)

// HelloData carries a credential for sessions that attach the token
// per-event instead of at connect time.
type HelloData struct {
	Token string `json:"token"`
}

// SubscribeData requests a room topic subscription. Token, when present,
// re-attempts authentication for a session without a bound identity.
type SubscribeData struct {
	Room  int64  `json:"room"`
	Token string `json:"token,omitempty"`
}

// SendData is a chat message from the client.
type SendData struct {
	Room  int64  `json:"room"`
	Text  string `json:"text"`
	Token string `json:"token,omitempty"`
}

// Outbound is the envelope for frames sent to the client.
type Outbound struct {
	Type  string `json:"type"`
	Event string `json:"event,omitempty"`
	Data  any    `json:"data,omitempty"`
	Error *Error `json:"error,omitempty"`
}

// EventMessage is a chat message delivered to a subscriber.
type EventMessage struct {
	ID   int64  `json:"id"`
	Room int64  `json:"room"`
	User string `json:"user"`
	Text string `json:"text"`
	TS   int64  `json:"ts"`
}

// EventRoom acknowledges a subscription change.
type EventRoom struct {
	Room int64 `json:"room"`
}

// Error describes a protocol-level error response.
type Error struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
}

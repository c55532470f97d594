// Package bus is the shared fan-out channel between server processes. Every
// persisted message is published once; each process runs exactly one
// subscriber that relays to its locally connected clients.
package bus

import (
	"context"
	"time"

	"github.com/talkroom/talkroom-server/internal/store"
)

// Envelope is the wire form of a message on the bus.
type Envelope struct {
	MessageID int64  `json:"message_id"`
	RoomID    int64  `json:"room_id"`
	UserID    int64  `json:"user_id"`
	Username  string `json:"username"`
	Body      string `json:"body"`
	SentAt    int64  `json:"sent_at"`
}

// Handler consumes one envelope delivered by the bus subscriber.
type Handler func(Envelope)

// Bus fans persisted messages out to all server processes.
type Bus interface {
	// Publish sends the envelope to every subscriber, including the caller's
	// own process. Delivery is at-most-once; disconnected subscribers catch
	// up through message history, not the bus.
	Publish(ctx context.Context, env Envelope) error

	// Subscribe registers this process's single handler and starts the relay
	// goroutine. It returns once the subscription is established; the handler
	// runs until ctx is cancelled or the bus is closed.
	Subscribe(ctx context.Context, handler Handler) error

	// Close releases the underlying connection.
	Close() error
}

// FromMessage builds the bus envelope for a persisted message.
func FromMessage(msg *store.Message) Envelope {
	return Envelope{
		MessageID: msg.ID,
		RoomID:    msg.RoomID,
		UserID:    msg.UserID,
		Username:  msg.Username,
		Body:      msg.Body,
		SentAt:    msg.CreatedAt.UnixMilli(),
	}
}

// ToMessage converts a relayed envelope back to the domain message.
func (e Envelope) ToMessage() *store.Message {
	return &store.Message{
		ID:        e.MessageID,
		RoomID:    e.RoomID,
		UserID:    e.UserID,
		Username:  e.Username,
		Body:      e.Body,
		CreatedAt: time.UnixMilli(e.SentAt),
	}
}

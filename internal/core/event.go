package core

import "github.com/talkroom/talkroom-server/internal/store"

// EventKind is a notification the core emits to clients.
type EventKind int

const (
	// EventRoomMessage delivers a chat message relayed from the bus.
	EventRoomMessage EventKind = iota
	// EventSubscribed acknowledges a successful room subscription.
	EventSubscribed
	// EventUnsubscribed acknowledges dropping a room subscription.
	EventUnsubscribed
	// EventError reports a rejected command on the same logical channel.
	EventError
)

// Event is sent to clients to describe what happened in the system.
type Event struct {
	Kind    EventKind
	RoomID  int64
	Message *store.Message
	Error   *CoreError
}

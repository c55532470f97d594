package core

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/talkroom/talkroom-server/internal/bus"
	"github.com/talkroom/talkroom-server/internal/store"
)

// Hub tracks this process's connected clients and their room subscriptions,
// authorizes subscribe/send against current membership, and relays messages
// arriving from the shared bus to local subscribers.
//
// The registry maps are process-local by design: each process only ever
// touches its own client set, so the relay needs no cross-process
// coordination. Store and bus calls happen outside the registry lock.
type Hub struct {
	store store.Store
	bus   bus.Bus
	log   *zerolog.Logger

	mu          sync.RWMutex
	clients     map[*Client]struct{}
	rooms       map[int64]map[*Client]struct{}
	clientRooms map[*Client]map[int64]struct{}
}

// NewHub creates a hub over the given store and bus.
func NewHub(st store.Store, b bus.Bus, logger *zerolog.Logger) *Hub {
	return &Hub{
		store:       st,
		bus:         b,
		log:         logger,
		clients:     make(map[*Client]struct{}),
		rooms:       make(map[int64]map[*Client]struct{}),
		clientRooms: make(map[*Client]map[int64]struct{}),
	}
}

// Start establishes this process's single bus subscription. It returns once
// the subscription is live; the relay then runs until ctx is cancelled.
func (h *Hub) Start(ctx context.Context) error {
	if err := h.bus.Subscribe(ctx, h.relay); err != nil {
		return fmt.Errorf("subscribe bus: %w", err)
	}
	return nil
}

// Register adds a connected client to the hub.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.clientRooms[c] = make(map[int64]struct{})
	h.mu.Unlock()
}

// Unregister drops the client and every subscription it holds. Called when
// the underlying connection closes; no unsubscribe handshake is required.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	for roomID := range h.clientRooms[c] {
		h.removeFromRoomLocked(roomID, c)
	}
	delete(h.clientRooms, c)
	delete(h.clients, c)
	h.mu.Unlock()
}

// Subscribe checks membership and adds the client to the room topic.
// The client must already carry a bound identity.
func (h *Hub) Subscribe(ctx context.Context, c *Client, roomID int64) error {
	identity := c.Identity()
	if identity == nil {
		return coreError(ErrCodeUnauthenticated, "unauthenticated")
	}

	ok, err := h.store.IsParticipant(ctx, roomID, identity.UserID)
	if err != nil {
		h.log.Error().Err(err).Int64("room_id", roomID).Msg("membership check failed")
		return toCoreError(err)
	}
	if !ok {
		return coreError(ErrCodeNotAParticipant, "not a participant of this room")
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	// The connection may have unregistered while the membership check ran;
	// acking a subscription that was never recorded would mislead the client.
	if _, registered := h.clients[c]; !registered {
		return coreError(ErrCodeInternal, "session closed")
	}

	room := h.rooms[roomID]
	if room == nil {
		room = make(map[*Client]struct{})
		h.rooms[roomID] = room
	}
	room[c] = struct{}{}
	h.clientRooms[c][roomID] = struct{}{}

	return nil
}

// Unsubscribe drops the client from the room topic.
func (h *Hub) Unsubscribe(c *Client, roomID int64) {
	h.mu.Lock()
	h.removeFromRoomLocked(roomID, c)
	if memberships, ok := h.clientRooms[c]; ok {
		delete(memberships, roomID)
	}
	h.mu.Unlock()
}

// Send re-checks membership, persists the message with its read markers, and
// publishes it on the shared bus. Delivery to subscribers, including ones on
// this process, happens through the bus relay.
func (h *Hub) Send(ctx context.Context, c *Client, roomID int64, body string) (*store.Message, error) {
	identity := c.Identity()
	if identity == nil {
		return nil, coreError(ErrCodeUnauthenticated, "unauthenticated")
	}

	ok, err := h.store.IsParticipant(ctx, roomID, identity.UserID)
	if err != nil {
		h.log.Error().Err(err).Int64("room_id", roomID).Msg("membership check failed")
		return nil, toCoreError(err)
	}
	if !ok {
		return nil, coreError(ErrCodeNotAParticipant, "not a participant of this room")
	}

	msg, err := h.store.SendMessage(ctx, roomID, identity.UserID, body)
	if err != nil {
		return nil, toCoreError(err)
	}

	if err := h.bus.Publish(ctx, bus.FromMessage(msg)); err != nil {
		// The message is durable; subscribers that miss the broadcast catch
		// up through history.
		h.log.Error().Err(err).Int64("message_id", msg.ID).Msg("bus publish failed")
	}

	return msg, nil
}

// relay delivers a bus envelope to every local client subscribed to its room.
// A process with no local subscribers for the room drops it silently.
func (h *Hub) relay(env bus.Envelope) {
	h.mu.RLock()
	room := h.rooms[env.RoomID]
	if len(room) == 0 {
		h.mu.RUnlock()
		return
	}
	subscribers := make([]*Client, 0, len(room))
	for c := range room {
		subscribers = append(subscribers, c)
	}
	h.mu.RUnlock()

	msg := env.ToMessage()
	event := &Event{Kind: EventRoomMessage, RoomID: env.RoomID, Message: msg}
	for _, c := range subscribers {
		select {
		case c.Events <- event:
		default:
			// Drop for slow consumers; catch-up is history, not the bus.
			h.log.Debug().Str("client_id", c.ID).Int64("room_id", env.RoomID).Msg("drop event for slow client")
		}
	}
}

func (h *Hub) removeFromRoomLocked(roomID int64, c *Client) {
	room := h.rooms[roomID]
	if room == nil {
		return
	}
	delete(room, c)
	if len(room) == 0 {
		delete(h.rooms, roomID)
	}
}

// SubscriberCount reports how many local clients are subscribed to the room.
func (h *Hub) SubscriberCount(roomID int64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[roomID])
}

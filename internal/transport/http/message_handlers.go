package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/talkroom/talkroom-server/internal/store"
)

// MessageHandlers provides HTTP handlers for history and read tracking.
type MessageHandlers struct {
	store store.Store
	rooms *RoomHandlers
	log   *zerolog.Logger
}

// NewMessageHandlers creates a new message handlers instance.
func NewMessageHandlers(st store.Store, rooms *RoomHandlers, logger *zerolog.Logger) *MessageHandlers {
	return &MessageHandlers{
		store: st,
		rooms: rooms,
		log:   logger,
	}
}

// MessageResponse represents a message in API responses.
type MessageResponse struct {
	ID        int64  `json:"id"`
	RoomID    int64  `json:"room_id"`
	UserID    int64  `json:"user_id"`
	Username  string `json:"username"`
	Body      string `json:"body"`
	CreatedAt string `json:"created_at"`
}

// History returns the full backlog of a room in chronological order.
// GET /api/rooms/:id/messages
func (h *MessageHandlers) History(c *gin.Context) {
	uid, ok := currentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}

	roomID, ok := roomIDParam(c)
	if !ok {
		return
	}

	isMember, err := h.store.IsParticipant(c.Request.Context(), roomID, uid)
	if err != nil {
		h.rooms.respondStoreError(c, err)
		return
	}
	if !isMember {
		// Distinguish a missing room from a membership rejection.
		if _, err := h.store.GetRoomByID(c.Request.Context(), roomID); err != nil {
			h.rooms.respondStoreError(c, err)
			return
		}
		c.JSON(http.StatusForbidden, ErrorResponse{Error: "not a participant"})
		return
	}

	messages, err := h.store.History(c.Request.Context(), roomID)
	if err != nil {
		h.rooms.respondStoreError(c, err)
		return
	}

	items := make([]MessageResponse, 0, len(messages))
	for _, msg := range messages {
		items = append(items, MessageResponse{
			ID:        msg.ID,
			RoomID:    msg.RoomID,
			UserID:    msg.UserID,
			Username:  msg.Username,
			Body:      msg.Body,
			CreatedAt: msg.CreatedAt.Format(time.RFC3339),
		})
	}

	c.JSON(http.StatusOK, items)
}

// MarkRead flips every unread marker the caller holds in the room.
// POST /api/rooms/:id/read
func (h *MessageHandlers) MarkRead(c *gin.Context) {
	uid, ok := currentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}

	roomID, ok := roomIDParam(c)
	if !ok {
		return
	}

	if _, err := h.store.GetRoomByID(c.Request.Context(), roomID); err != nil {
		h.rooms.respondStoreError(c, err)
		return
	}

	if err := h.store.MarkAllRead(c.Request.Context(), roomID, uid); err != nil {
		h.rooms.respondStoreError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

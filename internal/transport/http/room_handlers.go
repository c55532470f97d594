package http

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/talkroom/talkroom-server/internal/store"
)

// RoomHandlers provides HTTP handlers for room and membership endpoints.
type RoomHandlers struct {
	store store.Store
	log   *zerolog.Logger
}

// NewRoomHandlers creates a new room handlers instance.
func NewRoomHandlers(st store.Store, logger *zerolog.Logger) *RoomHandlers {
	return &RoomHandlers{
		store: st,
		log:   logger,
	}
}

// CreateRoomRequest represents the create room request body.
type CreateRoomRequest struct {
	Name string `json:"name" binding:"required,min=1,max=64"`
}

// PrivateRoomRequest represents the get-or-create private room request body.
type PrivateRoomRequest struct {
	UserID int64 `json:"user_id" binding:"required"`
}

// RoomResponse represents a room in API responses.
type RoomResponse struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	Kind      string `json:"kind"`
	CreatedAt string `json:"created_at"`
}

// RoomSummaryResponse is a room annotated with the viewer's unread count.
type RoomSummaryResponse struct {
	RoomResponse
	UnreadCount int `json:"unread_count"`
}

// PageResponse wraps a paginated listing.
type PageResponse[T any] struct {
	Items []T `json:"items"`
	Total int `json:"total"`
}

func roomResponse(room *store.Room) RoomResponse {
	return RoomResponse{
		ID:        room.ID,
		Name:      room.Name,
		Kind:      string(room.Kind),
		CreatedAt: room.CreatedAt.Format(time.RFC3339),
	}
}

// respondStoreError maps store failures onto HTTP statuses.
func (h *RoomHandlers) respondStoreError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "not found"})
	case errors.Is(err, store.ErrInvalidRoomKind):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "operation not valid for this room kind"})
	case errors.Is(err, store.ErrNotAParticipant):
		c.JSON(http.StatusForbidden, ErrorResponse{Error: "not a participant"})
	case errors.Is(err, store.ErrEmptyMessage):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "message body is empty"})
	default:
		h.log.Error().Err(err).Msg("store operation failed")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
	}
}

func pageParams(c *gin.Context) (page, pageSize int, keyword string) {
	page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ = strconv.Atoi(c.DefaultQuery("page_size", "20"))
	keyword = c.Query("keyword")
	return page, pageSize, keyword
}

func roomIDParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id < 1 {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid room id"})
		return 0, false
	}
	return id, true
}

// CreateRoom handles group room creation.
// POST /api/rooms
func (h *RoomHandlers) CreateRoom(c *gin.Context) {
	uid, ok := currentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}

	var req CreateRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Debug().Err(err).Msg("invalid create room request")
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	room, err := h.store.CreateGroupRoom(c.Request.Context(), req.Name, uid)
	if err != nil {
		h.respondStoreError(c, err)
		return
	}

	h.log.Info().Int64("room_id", room.ID).Str("room_name", room.Name).Int64("creator_id", uid).Msg("group room created")
	c.JSON(http.StatusCreated, roomResponse(room))
}

// ListRooms handles listing/searching group rooms.
// GET /api/rooms?page=&page_size=&keyword=
func (h *RoomHandlers) ListRooms(c *gin.Context) {
	page, pageSize, keyword := pageParams(c)

	rooms, total, err := h.store.ListGroupRooms(c.Request.Context(), page, pageSize, keyword)
	if err != nil {
		h.respondStoreError(c, err)
		return
	}

	items := make([]RoomResponse, 0, len(rooms))
	for _, room := range rooms {
		items = append(items, roomResponse(room))
	}

	c.JSON(http.StatusOK, PageResponse[RoomResponse]{Items: items, Total: total})
}

// JoinRoom handles joining a group room.
// POST /api/rooms/:id/join
func (h *RoomHandlers) JoinRoom(c *gin.Context) {
	uid, ok := currentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}

	roomID, ok := roomIDParam(c)
	if !ok {
		return
	}

	if err := h.store.Join(c.Request.Context(), roomID, uid); err != nil {
		h.respondStoreError(c, err)
		return
	}

	h.log.Info().Int64("room_id", roomID).Int64("user_id", uid).Msg("joined room")
	c.Status(http.StatusNoContent)
}

// LeaveRoom handles leaving a group room.
// POST /api/rooms/:id/leave
func (h *RoomHandlers) LeaveRoom(c *gin.Context) {
	uid, ok := currentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}

	roomID, ok := roomIDParam(c)
	if !ok {
		return
	}

	if err := h.store.Leave(c.Request.Context(), roomID, uid); err != nil {
		h.respondStoreError(c, err)
		return
	}

	h.log.Info().Int64("room_id", roomID).Int64("user_id", uid).Msg("left room")
	c.Status(http.StatusNoContent)
}

// PrivateRoom handles get-or-create of a two-party private room.
// POST /api/rooms/private
func (h *RoomHandlers) PrivateRoom(c *gin.Context) {
	uid, ok := currentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}

	var req PrivateRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Debug().Err(err).Msg("invalid private room request")
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}
	if req.UserID == uid {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "cannot open a private room with yourself"})
		return
	}

	if _, err := h.store.GetUserByID(c.Request.Context(), req.UserID); err != nil {
		h.respondStoreError(c, err)
		return
	}

	room, err := h.store.GetOrCreatePrivateRoom(c.Request.Context(), uid, req.UserID)
	if err != nil {
		h.respondStoreError(c, err)
		return
	}

	c.JSON(http.StatusOK, roomResponse(room))
}

// MyRooms handles listing the caller's rooms with unread counts.
// GET /api/me/rooms?page=&page_size=&keyword=
func (h *RoomHandlers) MyRooms(c *gin.Context) {
	uid, ok := currentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}

	page, pageSize, keyword := pageParams(c)

	summaries, total, err := h.store.MyRooms(c.Request.Context(), uid, page, pageSize, keyword)
	if err != nil {
		h.respondStoreError(c, err)
		return
	}

	items := make([]RoomSummaryResponse, 0, len(summaries))
	for _, s := range summaries {
		items = append(items, RoomSummaryResponse{
			RoomResponse: roomResponse(&s.Room),
			UnreadCount:  s.UnreadCount,
		})
	}

	c.JSON(http.StatusOK, PageResponse[RoomSummaryResponse]{Items: items, Total: total})
}

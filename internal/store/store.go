package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a room, user, or message does not exist.
	ErrNotFound = errors.New("not found")
	// ErrNotAParticipant is returned when an identity is not a member of the target room.
	ErrNotAParticipant = errors.New("not a participant")
	// ErrInvalidRoomKind is returned for join/leave against the wrong room kind.
	ErrInvalidRoomKind = errors.New("invalid room kind")
	// ErrEmptyMessage is returned when a message body is empty.
	ErrEmptyMessage = errors.New("empty message body")
	// ErrUserExists is returned when a username is already taken.
	ErrUserExists = errors.New("user already exists")
)

// RoomKind distinguishes multi-party rooms from exactly-two-party ones.
// Immutable after room creation.
type RoomKind string

const (
	RoomKindGroup   RoomKind = "GROUP"
	RoomKindPrivate RoomKind = "PRIVATE"
)

// User represents a registered user.
type User struct {
	ID           int64
	Username     string
	PasswordHash string
	CreatedAt    time.Time
}

// Room represents a chat room.
type Room struct {
	ID   int64
	Name string
	Kind RoomKind
	// PairKey is set for private rooms only: "dm:{minUserID}:{maxUserID}".
	// A UNIQUE constraint on it deduplicates concurrent private-room creation.
	PairKey   *string
	CreatedAt time.Time
}

// Participant represents a user's current membership in a room.
type Participant struct {
	RoomID   int64
	UserID   int64
	JoinedAt time.Time
}

// Message is an immutable persisted chat message.
type Message struct {
	ID        int64
	RoomID    int64
	UserID    int64
	Username  string
	Body      string
	CreatedAt time.Time
}

// ReadMarker records whether one participant has acknowledged one message.
type ReadMarker struct {
	MessageID int64
	RoomID    int64
	UserID    int64
	Read      bool
}

// RoomSummary is a room annotated with the viewer's unread message count.
type RoomSummary struct {
	Room
	UnreadCount int
}

// MaxPageSize is the server-side clamp for paginated room listings.
const MaxPageSize = 50

// UserStore handles user persistence.
type UserStore interface {
	// CreateUser creates a new user with hashed password.
	CreateUser(ctx context.Context, username, passwordHash string) (*User, error)

	// GetUserByID retrieves a user by ID.
	GetUserByID(ctx context.Context, id int64) (*User, error)

	// GetUserByUsername retrieves a user by username.
	GetUserByUsername(ctx context.Context, username string) (*User, error)
}

// RoomStore handles room and membership persistence.
type RoomStore interface {
	// CreateGroupRoom creates a group room with the creator as its first
	// participant. Room names are not unique.
	CreateGroupRoom(ctx context.Context, name string, creatorID int64) (*Room, error)

	// ListGroupRooms lists group rooms, optionally filtered by a
	// case-insensitive substring match on name. Page is 1-based; pageSize is
	// clamped to MaxPageSize. Returns the page and the total match count.
	ListGroupRooms(ctx context.Context, page, pageSize int, keyword string) ([]*Room, int, error)

	// GetRoomByID retrieves a room by ID.
	GetRoomByID(ctx context.Context, id int64) (*Room, error)

	// Join adds the user to a group room. Idempotent for existing members.
	// Returns ErrNotFound for a missing room, ErrInvalidRoomKind for a
	// private one.
	Join(ctx context.Context, roomID, userID int64) error

	// Leave removes the user from a group room. When the last participant
	// leaves, the room and its messages and read markers are deleted.
	// Returns ErrInvalidRoomKind for a private room.
	Leave(ctx context.Context, roomID, userID int64) error

	// GetOrCreatePrivateRoom returns the private room for the unordered user
	// pair, creating it (with both participants) when absent. Safe under
	// concurrent calls for the same pair.
	GetOrCreatePrivateRoom(ctx context.Context, userA, userB int64) (*Room, error)

	// MyRooms lists rooms the user participates in, each annotated with the
	// user's unread count, optionally filtered by keyword on room name.
	MyRooms(ctx context.Context, userID int64, page, pageSize int, keyword string) ([]*RoomSummary, int, error)

	// IsParticipant reports whether the user is a current member of the room.
	IsParticipant(ctx context.Context, roomID, userID int64) (bool, error)

	// ListParticipants lists user IDs of all current members of a room.
	ListParticipants(ctx context.Context, roomID int64) ([]int64, error)
}

// MessageStore handles message persistence and read tracking.
type MessageStore interface {
	// SendMessage persists a message and one read marker per current
	// participant (the author's pre-set to read) in a single transaction.
	// The author must be a current participant and the body non-empty.
	SendMessage(ctx context.Context, roomID, authorID int64, body string) (*Message, error)

	// History returns the full backlog of a room in chronological order.
	History(ctx context.Context, roomID int64) ([]*Message, error)

	// MarkAllRead flips every unread marker for (roomID, userID) to read.
	MarkAllRead(ctx context.Context, roomID, userID int64) error

	// UnreadCount counts the user's unread markers in the room.
	UnreadCount(ctx context.Context, roomID, userID int64) (int, error)
}

// Store aggregates all storage interfaces.
type Store interface {
	UserStore
	RoomStore
	MessageStore

	// Close closes the underlying database connection.
	Close() error
}

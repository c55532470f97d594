package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/talkroom/talkroom-server/internal/store"
)

// SQLiteStore implements store.Store for SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// New creates a new SQLite store and applies the schema.
// dbPath is the path to the SQLite database file.
func New(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite works best with a single connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	if err := Migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// isUniqueViolation reports whether err is a UNIQUE constraint failure.
func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

func clampPage(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 1
	}
	if pageSize > store.MaxPageSize {
		pageSize = store.MaxPageSize
	}
	return page, pageSize
}

// ==== UserStore implementation ====

// CreateUser creates a new user with hashed password.
func (s *SQLiteStore) CreateUser(ctx context.Context, username, passwordHash string) (*store.User, error) {
	query := `
		INSERT INTO users (username, password_hash)
		VALUES (?, ?)
	`
	result, err := s.db.ExecContext(ctx, query, username, passwordHash)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrUserExists
		}
		return nil, fmt.Errorf("insert user: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("get last insert id: %w", err)
	}

	return s.GetUserByID(ctx, id)
}

// GetUserByID retrieves a user by ID.
func (s *SQLiteStore) GetUserByID(ctx context.Context, id int64) (*store.User, error) {
	query := `
		SELECT id, username, password_hash, created_at
		FROM users
		WHERE id = ?
	`
	var user store.User
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&user.ID,
		&user.Username,
		&user.PasswordHash,
		&user.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("user %d: %w", id, store.ErrNotFound)
		}
		return nil, fmt.Errorf("query user: %w", err)
	}

	return &user, nil
}

// GetUserByUsername retrieves a user by username.
func (s *SQLiteStore) GetUserByUsername(ctx context.Context, username string) (*store.User, error) {
	query := `
		SELECT id, username, password_hash, created_at
		FROM users
		WHERE username = ?
	`
	var user store.User
	err := s.db.QueryRowContext(ctx, query, username).Scan(
		&user.ID,
		&user.Username,
		&user.PasswordHash,
		&user.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("user %q: %w", username, store.ErrNotFound)
		}
		return nil, fmt.Errorf("query user: %w", err)
	}

	return &user, nil
}

// ==== RoomStore implementation ====

// CreateGroupRoom creates a group room with the creator as its first participant.
func (s *SQLiteStore) CreateGroupRoom(ctx context.Context, name string, creatorID int64) (*store.Room, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	result, err := tx.ExecContext(ctx, `INSERT INTO rooms (name, kind) VALUES (?, 'GROUP')`, name)
	if err != nil {
		return nil, fmt.Errorf("insert room: %w", err)
	}

	roomID, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("get last insert id: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `INSERT INTO participants (room_id, user_id) VALUES (?, ?)`, roomID, creatorID); err != nil {
		return nil, fmt.Errorf("insert creator participant: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}

	return s.GetRoomByID(ctx, roomID)
}

// ListGroupRooms lists group rooms with pagination and optional keyword filter.
func (s *SQLiteStore) ListGroupRooms(ctx context.Context, page, pageSize int, keyword string) ([]*store.Room, int, error) {
	page, pageSize = clampPage(page, pageSize)
	pattern := "%" + strings.TrimSpace(keyword) + "%"

	var total int
	countQuery := `SELECT COUNT(*) FROM rooms WHERE kind = 'GROUP' AND name LIKE ?`
	if err := s.db.QueryRowContext(ctx, countQuery, pattern).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count rooms: %w", err)
	}

	query := `
		SELECT id, name, kind, pair_key, created_at
		FROM rooms
		WHERE kind = 'GROUP' AND name LIKE ?
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?
	`
	rows, err := s.db.QueryContext(ctx, query, pattern, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, 0, fmt.Errorf("query rooms: %w", err)
	}
	defer rows.Close()

	rooms, err := scanRooms(rows)
	if err != nil {
		return nil, 0, err
	}

	return rooms, total, rows.Err()
}

func scanRooms(rows *sql.Rows) ([]*store.Room, error) {
	var rooms []*store.Room
	for rows.Next() {
		var room store.Room
		var pairKey sql.NullString
		if err := rows.Scan(&room.ID, &room.Name, &room.Kind, &pairKey, &room.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan room: %w", err)
		}
		if pairKey.Valid {
			room.PairKey = &pairKey.String
		}
		rooms = append(rooms, &room)
	}
	return rooms, nil
}

// GetRoomByID retrieves a room by ID.
func (s *SQLiteStore) GetRoomByID(ctx context.Context, id int64) (*store.Room, error) {
	query := `
		SELECT id, name, kind, pair_key, created_at
		FROM rooms
		WHERE id = ?
	`
	var room store.Room
	var pairKey sql.NullString
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&room.ID,
		&room.Name,
		&room.Kind,
		&pairKey,
		&room.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("room %d: %w", id, store.ErrNotFound)
		}
		return nil, fmt.Errorf("query room: %w", err)
	}

	if pairKey.Valid {
		room.PairKey = &pairKey.String
	}

	return &room, nil
}

// Join adds the user to a group room. Idempotent for existing members.
func (s *SQLiteStore) Join(ctx context.Context, roomID, userID int64) error {
	room, err := s.GetRoomByID(ctx, roomID)
	if err != nil {
		return err
	}
	if room.Kind != store.RoomKindGroup {
		return fmt.Errorf("join room %d: %w", roomID, store.ErrInvalidRoomKind)
	}

	query := `
		INSERT OR IGNORE INTO participants (room_id, user_id)
		VALUES (?, ?)
	`
	if _, err := s.db.ExecContext(ctx, query, roomID, userID); err != nil {
		return fmt.Errorf("insert participant: %w", err)
	}

	return nil
}

// Leave removes the user from a group room. The last participant leaving
// tears the room down together with its messages and read markers.
func (s *SQLiteStore) Leave(ctx context.Context, roomID, userID int64) error {
	room, err := s.GetRoomByID(ctx, roomID)
	if err != nil {
		return err
	}
	if room.Kind != store.RoomKindGroup {
		return fmt.Errorf("leave room %d: %w", roomID, store.ErrInvalidRoomKind)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, `DELETE FROM participants WHERE room_id = ? AND user_id = ?`, roomID, userID); err != nil {
		return fmt.Errorf("delete participant: %w", err)
	}

	// Markers live and die with the participant row; leaving them behind
	// would resurface as stale unread counts on rejoin.
	if _, err := tx.ExecContext(ctx, `DELETE FROM read_markers WHERE room_id = ? AND user_id = ?`, roomID, userID); err != nil {
		return fmt.Errorf("delete read markers: %w", err)
	}

	var remaining int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM participants WHERE room_id = ?`, roomID).Scan(&remaining); err != nil {
		return fmt.Errorf("count participants: %w", err)
	}

	if remaining == 0 {
		if _, err := tx.ExecContext(ctx, `DELETE FROM read_markers WHERE room_id = ?`, roomID); err != nil {
			return fmt.Errorf("delete read markers: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE room_id = ?`, roomID); err != nil {
			return fmt.Errorf("delete messages: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM rooms WHERE id = ?`, roomID); err != nil {
			return fmt.Errorf("delete room: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	return nil
}

// PairKey normalizes an unordered user pair into the private room dedup key.
func PairKey(userA, userB int64) string {
	if userA > userB {
		userA, userB = userB, userA
	}
	return fmt.Sprintf("dm:%d:%d", userA, userB)
}

// GetOrCreatePrivateRoom returns the private room for the unordered user pair,
// creating it when absent. A concurrent create for the same pair loses the
// UNIQUE race on pair_key and resolves by re-reading.
func (s *SQLiteStore) GetOrCreatePrivateRoom(ctx context.Context, userA, userB int64) (*store.Room, error) {
	pairKey := PairKey(userA, userB)

	room, err := s.getRoomByPairKey(ctx, pairKey)
	if err == nil {
		return room, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	roomID, err := s.createPrivateRoom(ctx, pairKey, userA, userB)
	if err != nil {
		if isUniqueViolation(err) {
			return s.getRoomByPairKey(ctx, pairKey)
		}
		return nil, err
	}

	return s.GetRoomByID(ctx, roomID)
}

func (s *SQLiteStore) getRoomByPairKey(ctx context.Context, pairKey string) (*store.Room, error) {
	query := `
		SELECT id, name, kind, pair_key, created_at
		FROM rooms
		WHERE pair_key = ?
	`
	var room store.Room
	var key sql.NullString
	err := s.db.QueryRowContext(ctx, query, pairKey).Scan(
		&room.ID,
		&room.Name,
		&room.Kind,
		&key,
		&room.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("room %q: %w", pairKey, store.ErrNotFound)
		}
		return nil, fmt.Errorf("query room: %w", err)
	}

	if key.Valid {
		room.PairKey = &key.String
	}

	return &room, nil
}

func (s *SQLiteStore) createPrivateRoom(ctx context.Context, pairKey string, userA, userB int64) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	result, err := tx.ExecContext(ctx,
		`INSERT INTO rooms (name, kind, pair_key) VALUES (?, 'PRIVATE', ?)`,
		pairKey, pairKey,
	)
	if err != nil {
		return 0, fmt.Errorf("insert room: %w", err)
	}

	roomID, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("get last insert id: %w", err)
	}

	memberQuery := `INSERT INTO participants (room_id, user_id) VALUES (?, ?)`
	if _, err := tx.ExecContext(ctx, memberQuery, roomID, userA); err != nil {
		return 0, fmt.Errorf("insert first participant: %w", err)
	}
	if userB != userA {
		if _, err := tx.ExecContext(ctx, memberQuery, roomID, userB); err != nil {
			return 0, fmt.Errorf("insert second participant: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit transaction: %w", err)
	}

	return roomID, nil
}

// MyRooms lists rooms the user participates in, annotated with unread counts.
func (s *SQLiteStore) MyRooms(ctx context.Context, userID int64, page, pageSize int, keyword string) ([]*store.RoomSummary, int, error) {
	page, pageSize = clampPage(page, pageSize)
	pattern := "%" + strings.TrimSpace(keyword) + "%"

	var total int
	countQuery := `
		SELECT COUNT(*)
		FROM rooms r
		JOIN participants p ON p.room_id = r.id
		WHERE p.user_id = ? AND r.name LIKE ?
	`
	if err := s.db.QueryRowContext(ctx, countQuery, userID, pattern).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count rooms: %w", err)
	}

	query := `
		SELECT r.id, r.name, r.kind, r.pair_key, r.created_at,
		       (SELECT COUNT(*) FROM read_markers m
		        WHERE m.room_id = r.id AND m.user_id = p.user_id AND m.read = 0) AS unread
		FROM rooms r
		JOIN participants p ON p.room_id = r.id
		WHERE p.user_id = ? AND r.name LIKE ?
		ORDER BY r.created_at DESC, r.id DESC
		LIMIT ? OFFSET ?
	`
	rows, err := s.db.QueryContext(ctx, query, userID, pattern, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, 0, fmt.Errorf("query rooms: %w", err)
	}
	defer rows.Close()

	var summaries []*store.RoomSummary
	for rows.Next() {
		var summary store.RoomSummary
		var pairKey sql.NullString
		if err := rows.Scan(&summary.ID, &summary.Name, &summary.Kind, &pairKey, &summary.CreatedAt, &summary.UnreadCount); err != nil {
			return nil, 0, fmt.Errorf("scan room summary: %w", err)
		}
		if pairKey.Valid {
			summary.PairKey = &pairKey.String
		}
		summaries = append(summaries, &summary)
	}

	return summaries, total, rows.Err()
}

// IsParticipant reports whether the user is a current member of the room.
func (s *SQLiteStore) IsParticipant(ctx context.Context, roomID, userID int64) (bool, error) {
	query := `
		SELECT 1 FROM participants
		WHERE room_id = ? AND user_id = ?
	`
	var exists int
	err := s.db.QueryRowContext(ctx, query, roomID, userID).Scan(&exists)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("query membership: %w", err)
	}

	return true, nil
}

// ListParticipants lists user IDs of all current members of a room.
func (s *SQLiteStore) ListParticipants(ctx context.Context, roomID int64) ([]int64, error) {
	query := `
		SELECT user_id FROM participants
		WHERE room_id = ?
		ORDER BY joined_at ASC, user_id ASC
	`
	rows, err := s.db.QueryContext(ctx, query, roomID)
	if err != nil {
		return nil, fmt.Errorf("query participants: %w", err)
	}
	defer rows.Close()

	var members []int64
	for rows.Next() {
		var userID int64
		if err := rows.Scan(&userID); err != nil {
			return nil, fmt.Errorf("scan participant: %w", err)
		}
		members = append(members, userID)
	}

	return members, rows.Err()
}

// ==== MessageStore implementation ====

// SendMessage persists a message together with one read marker per current
// participant. The author's marker is pre-set to read. All-or-nothing.
func (s *SQLiteStore) SendMessage(ctx context.Context, roomID, authorID int64, body string) (*store.Message, error) {
	if strings.TrimSpace(body) == "" {
		return nil, store.ErrEmptyMessage
	}

	if _, err := s.GetRoomByID(ctx, roomID); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Re-check membership inside the transaction so a message can never be
	// persisted for a room the author just left.
	var one int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM participants WHERE room_id = ? AND user_id = ?`, roomID, authorID).Scan(&one)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("send to room %d: %w", roomID, store.ErrNotAParticipant)
		}
		return nil, fmt.Errorf("query membership: %w", err)
	}

	createdAt := time.Now().UTC()
	result, err := tx.ExecContext(ctx,
		`INSERT INTO messages (room_id, user_id, body, created_at) VALUES (?, ?, ?, ?)`,
		roomID, authorID, body, createdAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}

	messageID, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("get last insert id: %w", err)
	}

	markerQuery := `
		INSERT INTO read_markers (message_id, room_id, user_id, read)
		SELECT ?, ?, user_id, CASE WHEN user_id = ? THEN 1 ELSE 0 END
		FROM participants
		WHERE room_id = ?
	`
	if _, err := tx.ExecContext(ctx, markerQuery, messageID, roomID, authorID, roomID); err != nil {
		return nil, fmt.Errorf("insert read markers: %w", err)
	}

	var username string
	if err := tx.QueryRowContext(ctx, `SELECT username FROM users WHERE id = ?`, authorID).Scan(&username); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("query author: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}

	return &store.Message{
		ID:        messageID,
		RoomID:    roomID,
		UserID:    authorID,
		Username:  username,
		Body:      body,
		CreatedAt: createdAt,
	}, nil
}

// History returns the full backlog of a room in chronological order.
func (s *SQLiteStore) History(ctx context.Context, roomID int64) ([]*store.Message, error) {
	if _, err := s.GetRoomByID(ctx, roomID); err != nil {
		return nil, err
	}

	query := `
		SELECT m.id, m.room_id, m.user_id, COALESCE(u.username, ''), m.body, m.created_at
		FROM messages m
		LEFT JOIN users u ON u.id = m.user_id
		WHERE m.room_id = ?
		ORDER BY m.id ASC
	`
	rows, err := s.db.QueryContext(ctx, query, roomID)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var messages []*store.Message
	for rows.Next() {
		var msg store.Message
		if err := rows.Scan(&msg.ID, &msg.RoomID, &msg.UserID, &msg.Username, &msg.Body, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, &msg)
	}

	return messages, rows.Err()
}

// MarkAllRead flips every unread marker for (roomID, userID) to read.
func (s *SQLiteStore) MarkAllRead(ctx context.Context, roomID, userID int64) error {
	query := `
		UPDATE read_markers
		SET read = 1
		WHERE room_id = ? AND user_id = ? AND read = 0
	`
	if _, err := s.db.ExecContext(ctx, query, roomID, userID); err != nil {
		return fmt.Errorf("update read markers: %w", err)
	}
	return nil
}

// UnreadCount counts the user's unread markers in the room.
func (s *SQLiteStore) UnreadCount(ctx context.Context, roomID, userID int64) (int, error) {
	query := `
		SELECT COUNT(*) FROM read_markers
		WHERE room_id = ? AND user_id = ? AND read = 0
	`
	var count int
	if err := s.db.QueryRowContext(ctx, query, roomID, userID).Scan(&count); err != nil {
		return 0, fmt.Errorf("count unread markers: %w", err)
	}
	return count, nil
}

// Ensure SQLiteStore implements store.Store
var _ store.Store = (*SQLiteStore)(nil)

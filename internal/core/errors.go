package core

import (
	"errors"

	"github.com/talkroom/talkroom-server/internal/auth"
	"github.com/talkroom/talkroom-server/internal/store"
)

// Error codes for domain errors.
const (
	ErrCodeUnauthenticated = "unauthenticated"
	ErrCodeNotAParticipant = "not_a_participant"
	ErrCodeNotFound        = "not_found"
	ErrCodeInvalidRoomKind = "invalid_room_kind"
	ErrCodeBadRequest      = "bad_request"
	ErrCodeInternal        = "internal"
)

// CoreError wraps a code and human-readable message.
type CoreError struct {
	Code    string
	Message string
}

func (e *CoreError) Error() string {
	return e.Message
}

func coreError(code, msg string) *CoreError {
	return &CoreError{Code: code, Message: msg}
}

// toCoreError converts store/auth failures into the caller-visible taxonomy.
// Anything unrecognized is reported as internal without its cause attached.
func toCoreError(err error) *CoreError {
	var ce *CoreError
	switch {
	case errors.As(err, &ce):
		return ce
	case errors.Is(err, auth.ErrUnauthenticated), errors.Is(err, auth.ErrTokenExpired):
		return coreError(ErrCodeUnauthenticated, "unauthenticated")
	case errors.Is(err, store.ErrNotAParticipant):
		return coreError(ErrCodeNotAParticipant, "not a participant of this room")
	case errors.Is(err, store.ErrNotFound):
		return coreError(ErrCodeNotFound, "room not found")
	case errors.Is(err, store.ErrInvalidRoomKind):
		return coreError(ErrCodeInvalidRoomKind, "operation not valid for this room kind")
	case errors.Is(err, store.ErrEmptyMessage):
		return coreError(ErrCodeBadRequest, "message body is empty")
	default:
		return coreError(ErrCodeInternal, "internal error")
	}
}

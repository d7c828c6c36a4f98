package core

import "errors"

// Error codes for domain errors.
const (
	ErrCodeRoomNotFound     = "room_not_found"
	ErrCodeForbidden        = "forbidden"
	ErrCodePermissionDenied = "permission_denied"
	ErrCodeInvalidMessage   = "invalid_message"
	ErrCodeConflict         = "conflict"
	ErrCodeStorage          = "storage_error"
	ErrCodeNotFound         = "not_found"
	ErrCodeBadRequest       = "bad_request"
	ErrCodeNotJoined        = "not_joined"
	ErrCodeRateLimited      = "rate_limited"
	ErrCodeInternal         = "internal"
)

var (
	ErrRoomNotFound     = errors.New("room not found")
	ErrForbidden        = errors.New("forbidden")
	ErrPermissionDenied = errors.New("permission denied")
	ErrInvalidMessage   = errors.New("invalid message")
	ErrConflict         = errors.New("conflict")
	ErrStorage          = errors.New("storage error")
	ErrNotFound         = errors.New("not found")
	ErrBadRequest       = errors.New("bad request")
	ErrNotJoined        = errors.New("session not joined")

	// ErrQueueFull is reported by a subscriber whose outbound queue overflowed.
	ErrQueueFull = errors.New("outbound queue full")
	// ErrSessionClosed is reported by a subscriber that already shut down.
	ErrSessionClosed = errors.New("session closed")
)

// CoreError wraps a code and human-readable message around a sentinel.
type CoreError struct {
	Code    string
	Message string
	Err     error
}

func (e *CoreError) Error() string {
	return e.Message
}

func (e *CoreError) Unwrap() error {
	return e.Err
}

func coreError(sentinel error, msg string) *CoreError {
	return &CoreError{Code: CodeOf(sentinel), Message: msg, Err: sentinel}
}

// CodeOf maps an error to its wire code.
func CodeOf(err error) string {
	var ce *CoreError
	if errors.As(err, &ce) && ce.Code != "" {
		return ce.Code
	}
	switch {
	case errors.Is(err, ErrRoomNotFound):
		return ErrCodeRoomNotFound
	case errors.Is(err, ErrForbidden):
		return ErrCodeForbidden
	case errors.Is(err, ErrPermissionDenied):
		return ErrCodePermissionDenied
	case errors.Is(err, ErrInvalidMessage):
		return ErrCodeInvalidMessage
	case errors.Is(err, ErrConflict):
		return ErrCodeConflict
	case errors.Is(err, ErrStorage):
		return ErrCodeStorage
	case errors.Is(err, ErrNotFound):
		return ErrCodeNotFound
	case errors.Is(err, ErrBadRequest):
		return ErrCodeBadRequest
	case errors.Is(err, ErrNotJoined):
		return ErrCodeNotJoined
	default:
		return ErrCodeInternal
	}
}

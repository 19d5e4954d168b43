package core

import "errors"

// Error codes for domain errors.
const (
	ErrCodeBadRequest         = "bad_request"
	ErrCodeUnknownType        = "unknown_type"
	ErrCodeUnauthorized       = "unauthorized"
	ErrCodeNotInGuild         = "not_in_guild"
	ErrCodeNotInRoom          = "not_in_room"
	ErrCodeContentRequired    = "content_required"
	ErrCodeMessageTooLong     = "message_too_long"
	ErrCodeNotFound           = "not_found"
	ErrCodeProfileUnavailable = "profile_unavailable"
	ErrCodeRateLimited        = "rate_limited"
	ErrCodeInternal           = "internal_error"
)

var (
	// ErrConnClosed is returned when acting on a connection whose transport is gone.
	ErrConnClosed = errors.New("connection closed")
	// ErrSlowConsumer is returned when a connection's outbound buffer is full.
	ErrSlowConsumer = errors.New("slow consumer")
	// ErrIdentityMismatch is returned when a connection tries to switch identity.
	ErrIdentityMismatch = errors.New("connection already bound to another identity")
	// ErrNotRegistered is returned when a room operation targets an unregistered connection.
	ErrNotRegistered = errors.New("connection not registered")
)

// CoreError wraps a code and human-readable message.
// Handlers return it for failures the client should see verbatim.
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

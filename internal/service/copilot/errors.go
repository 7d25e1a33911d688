package copilot

import "errors"

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrTooManySessions = errors.New("too many active sessions")
	ErrSessionClosed   = errors.New("session closed")
	ErrSessionExpired  = errors.New("session exceeded its maximum duration")
	ErrLimitExceeded   = errors.New("session limit exceeded")
	ErrUnknownChannel  = errors.New("unknown audio channel")
)

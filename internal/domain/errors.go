package domain

import "errors"

var (
	// ErrSessionNotFound signals an unknown session identifier.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionClosed signals an operation on a torn-down session.
	ErrSessionClosed = errors.New("session closed")
	// ErrEmptyQuery signals a blank query message.
	ErrEmptyQuery = errors.New("query message is empty")
	// ErrInvalidSortMode signals an unsupported sort mode.
	ErrInvalidSortMode = errors.New("invalid sort mode")
	// ErrRequestInFlight signals that a request is already outstanding.
	ErrRequestInFlight = errors.New("request already in flight")
	// ErrAssistantUnavailable signals a transport or parse failure
	// talking to the assistant service.
	ErrAssistantUnavailable = errors.New("assistant service unavailable")
	// ErrAssistantError signals an explicit application-level failure
	// reported by the assistant service.
	ErrAssistantError = errors.New("assistant error")
)

// AssistantError wraps ErrAssistantError with the message the assistant
// service supplied, when it supplied one.
type AssistantError struct {
	Message string
}

func (e *AssistantError) Error() string {
	if e.Message == "" {
		return ErrAssistantError.Error()
	}
	return ErrAssistantError.Error() + ": " + e.Message
}

func (e *AssistantError) Unwrap() error { return ErrAssistantError }

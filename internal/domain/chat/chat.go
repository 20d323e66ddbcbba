// Package chat defines conversation turns exchanged with the assistant.
package chat

// Role identifies the author of a conversation turn.
type Role string

// Conversation roles.
const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Turn is a single conversation message.
type Turn struct {
	Role    Role
	Content string
}

// CloneTurns returns an independent copy of a turn slice. History is
// append-only for the life of a session, so snapshots taken at request
// time must not alias the live slice.
func CloneTurns(turns []Turn) []Turn {
	if turns == nil {
		return nil
	}
	return append([]Turn(nil), turns...)
}

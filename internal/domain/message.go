// Package domain contains core domain types for the SliceTalk dialogue server.
package domain

// Role identifies the author of a conversation message. Besides the three
// standard chat roles, a message may carry a specialist name ("order",
// "pizza", "delivery") or "supervisor" for routing announcements, which the
// client UI uses for attribution.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message is a single entry in a session's conversation history.
type Message struct {
	Role Role   `json:"role"`
	Text string `json:"text"`
}

// ChatRole maps the message role onto one of the three roles the chat
// completions API accepts. Specialist and supervisor messages speak as the
// assistant.
func (m Message) ChatRole() string {
	switch m.Role {
	case RoleUser, RoleSystem:
		return string(m.Role)
	default:
		return string(RoleAssistant)
	}
}

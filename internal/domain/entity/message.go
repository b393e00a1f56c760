package entity

import "time"

// Message roles. Unknown roles normalize to RoleUser at context build
// time so a malformed history row can never break a provider payload.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
	RoleTool      = "tool"
	RolePlatform  = "platform"
)

// NormalizeRole maps arbitrary stored role strings onto the closed set
// accepted by providers.
func NormalizeRole(role string) string {
	switch role {
	case RoleUser, RoleAssistant, RoleSystem, RoleTool, RolePlatform:
		return role
	default:
		return RoleUser
	}
}

// Thread owns an ordered message history. Deleting a thread cascades to
// its messages and must invalidate the thread-history cache.
type Thread struct {
	ID        string
	MetaData  map[string]any
	CreatedAt time.Time
}

// Message is one entry of a thread's history. Messages are append-only
// per turn and totally ordered by CreatedAt within a thread.
type Message struct {
	ID          string
	ThreadID    string
	Role        string
	Content     string
	AssistantID string
	RunID       string
	ToolID      string
	SenderID    string
	CreatedAt   time.Time
}

package chat

import "time"

// Role 标识一条对话记录的发言方。
type Role string

const (
	RoleHuman Role = "human"
	RoleAI    Role = "ai"
)

// Turn is one immutable entry of a session's message log.
type Turn struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

// HumanTurn 构造用户发言。
func HumanTurn(content string) Turn {
	return Turn{Role: RoleHuman, Content: content, CreatedAt: time.Now().UTC()}
}

// AITurn 构造助手回复。
func AITurn(content string) Turn {
	return Turn{Role: RoleAI, Content: content, CreatedAt: time.Now().UTC()}
}

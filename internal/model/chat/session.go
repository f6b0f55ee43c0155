package chat

import "time"

// Session describes one conversation log. The ID doubles as the
// continuation token handed back to callers.
type Session struct {
	ID        string    `json:"id"`
	PersonaID string    `json:"personaId,omitempty"`
	Turns     int       `json:"turns"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

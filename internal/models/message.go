package models

import "time"

// Message represents one entry of the conversation transcript. Content of user and developer entries is fixed
// at creation, while an assistant entry starts empty and grows as stream fragments are appended to it.
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

// Role represents the role of a transcript participant.
type Role string

const (
	// RoleUser represents human input.
	RoleUser Role = "user"
	// RoleDeveloper represents the system/instruction text sent along with a user message.
	RoleDeveloper Role = "developer"
	// RoleAssistant represents the model's reply. It is the only role whose content is mutated after creation.
	RoleAssistant Role = "assistant"
)

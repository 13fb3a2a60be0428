package models

import "time"

// Sender is the UI-facing vocabulary for message authorship.
type Sender string

// Role is the store and wire vocabulary for message authorship.
type Role string

const (
	// SenderUser marks a message typed by the user.
	SenderUser Sender = "user"
	// SenderAI marks a message generated by a model.
	SenderAI Sender = "ai"

	// RoleUser represents a user message.
	RoleUser Role = "user"
	// RoleAssistant represents an assistant message.
	RoleAssistant Role = "assistant"
)

// Sender maps the store vocabulary onto the UI vocabulary. Unknown roles map
// to SenderAI so that stray system entries never render as the user.
func (r Role) Sender() Sender {
	if r == RoleUser {
		return SenderUser
	}
	return SenderAI
}

// Role maps the UI vocabulary onto the store vocabulary.
func (s Sender) Role() Role {
	if s == SenderUser {
		return RoleUser
	}
	return RoleAssistant
}

// Message is an individual entry in a conversation as the UI sees it. The
// content of a SenderAI message is mutated in place while its stream is
// active and becomes read-only once the stream completes.
type Message struct {
	ID             string
	Content        string
	Sender         Sender
	Timestamp      time.Time
	CharacterID    string
	ConversationID string

	// ImageRefs holds opaque blob references or absolute URLs attached to
	// this message, in the order they were attached.
	ImageRefs []string

	// Failed marks a synthetic error bubble. Failed messages are never
	// persisted and never replayed as history.
	Failed bool
}

// MessageRecord is the persisted form of a message. Role uses the store
// vocabulary; converting to and from Message goes through Role.Sender and
// Sender.Role.
type MessageRecord struct {
	ID             string    `json:"id"`
	UserID         string    `json:"userId"`
	CharacterID    string    `json:"characterId"`
	ConversationID string    `json:"conversationId"`
	Role           Role      `json:"role"`
	Content        string    `json:"content"`
	ImageRefs      []string  `json:"imageRefs,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// Message converts a stored record into its UI representation.
func (r MessageRecord) Message() Message {
	return Message{
		ID:             r.ID,
		Content:        r.Content,
		Sender:         r.Role.Sender(),
		Timestamp:      r.Timestamp,
		CharacterID:    r.CharacterID,
		ConversationID: r.ConversationID,
		ImageRefs:      r.ImageRefs,
	}
}

// Character supplies the system prompt and model selection for every turn it
// participates in. A character is immutable for the duration of a single
// turn; edits apply to subsequent turns only.
type Character struct {
	ID           string            `json:"id"`
	Name         string            `json:"name"`
	AvatarRef    string            `json:"avatarRef,omitempty"`
	SystemPrompt string            `json:"systemPrompt"`
	Model        string            `json:"model,omitempty"`
	UserID       string            `json:"userId"`
	CreatedAt    time.Time         `json:"createdAt"`
	Display      map[string]string `json:"display,omitempty"`
}

// Conversation groups messages exchanged with one character. UpdatedAt is
// bumped on every message append and drives most-recent-first ordering in
// history lists.
type Conversation struct {
	ID          string    `json:"id"`
	CharacterID string    `json:"characterId"`
	UserID      string    `json:"userId"`
	Title       string    `json:"title"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

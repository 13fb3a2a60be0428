package models

// ChatMessage is one history entry of the chat completion request body.
type ChatMessage struct {
	Role      Role     `json:"role"`
	Content   string   `json:"content"`
	ImageURLs []string `json:"imageUrls,omitempty"`
}

// CharacterPayload carries the character inputs of a chat completion request.
type CharacterPayload struct {
	Prompt string `json:"prompt"`
	Model  string `json:"model,omitempty"`
}

// ChatRequest is the body of POST /api/chat. The effective model is Model if
// present, then Character.Model, then the server's configured default.
type ChatRequest struct {
	Messages  []ChatMessage    `json:"messages"`
	Character CharacterPayload `json:"character"`
	Model     string           `json:"model,omitempty"`
}

// ChatChunk is the payload of one event on the chat completion response
// stream.
type ChatChunk struct {
	Content string `json:"content"`
}

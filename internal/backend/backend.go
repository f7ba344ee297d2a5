package backend

import (
	"context"
)

// Message is one turn sent to or received from the model.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Response is the backend's answer to a generation request.
type Response struct {
	Text     string         `json:"text"`
	Blocked  bool           `json:"blocked"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Backend generates a model response from a system prompt and a
// conversation history ending with the user's current turn.
type Backend interface {
	// Name returns the backend identifier.
	Name() string
	// Generate produces a response. Blocked responses indicate the
	// upstream refused the request for its own safety reasons.
	Generate(ctx context.Context, systemPrompt string, turns []Message) (*Response, error)
}

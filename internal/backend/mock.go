package backend

import (
	"context"
	"strings"
)

// Mock answers from canned patterns so the gateway can run end to end
// without upstream API costs. Selected with BACKEND_KIND=mock.
type Mock struct{}

func NewMock() *Mock { return &Mock{} }

func (m *Mock) Name() string { return "mock" }

// Generate matches the last user turn against a small set of topics.
func (m *Mock) Generate(_ context.Context, _ string, turns []Message) (*Response, error) {
	var last string
	for _, t := range turns {
		if t.Role == "user" {
			last = t.Content
		}
	}
	if last == "" {
		return &Response{Text: "I'm here to help!"}, nil
	}

	msg := strings.ToLower(last)
	var text string
	switch {
	case strings.Contains(msg, "python"):
		text = "Python is a high-level, interpreted programming language known for its simplicity and readability. It's widely used for web development, data science, automation, and more!"
	case strings.Contains(msg, "hello"), strings.Contains(msg, "hi"):
		text = "Hello! How can I assist you today?"
	case strings.Contains(msg, "help"):
		text = "I'm here to help! You can ask me questions about programming, general knowledge, or anything else you'd like to know."
	case strings.Contains(msg, "capital") && strings.Contains(msg, "france"):
		text = "The capital of France is Paris."
	case strings.Contains(msg, "weather"):
		text = "I don't have access to real-time weather data, but I'd be happy to help you with other questions!"
	case strings.Contains(msg, "?"):
		text = "That's an interesting question! Based on what you've asked, I can provide information and assistance. How can I help you further?"
	default:
		text = "I understand. I'm here to assist you with any questions or tasks you have. What would you like to know?"
	}
	return &Response{Text: text, Metadata: map[string]any{"backend": "mock"}}, nil
}

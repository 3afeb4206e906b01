package ai

import "context"

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Provider produces a complete assistant reply.
type Provider interface {
	Chat(ctx context.Context, messages []Message) (string, error)
}

// UserPrompt is the single-turn conversation sent for a prompt.
func UserPrompt(prompt string) []Message {
	return []Message{{Role: "user", Content: prompt}}
}

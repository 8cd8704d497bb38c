package llm

import "context"

// Usage contains token accounting for one completion call.
type Usage struct {
	InputTokens  int `json:"inputTokens"`
	OutputTokens int `json:"outputTokens"`
}

// Completion is the result of one prompt round-trip.
type Completion struct {
	Text  string `json:"text"`
	Usage Usage  `json:"usage"`
}

// Client is the completion-service boundary. Implementations must be safe
// for concurrent use.
type Client interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string) (*Completion, error)
}

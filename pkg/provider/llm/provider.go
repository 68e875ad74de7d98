// Package llm defines the Provider interface for the language model that grades
// completed assessments.
//
// Grading is a single request/response exchange: a system prompt, a user
// message carrying the candidate's answers, and one completion back. The
// interface is intentionally narrow so that any chat-completion backend can
// satisfy it.
package llm

import (
	"context"
	"errors"
	"strings"
)

// Chat roles accepted in [Message.Role].
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

var (
	// ErrEmptyRequest is returned when a request carries neither a system
	// prompt nor any message.
	ErrEmptyRequest = errors.New("llm: empty request")

	// ErrNoChoices is returned when a backend answers without a completion.
	ErrNoChoices = errors.New("llm: response has no choices")

	// ErrRateLimited marks a rejection the backend expects to be retried later.
	ErrRateLimited = errors.New("llm: rate limited")

	// ErrUnauthorized marks a rejected API key. Retrying will not help.
	ErrUnauthorized = errors.New("llm: unauthorized")
)

// Message is a single chat message.
type Message struct {
	// Role is one of [RoleSystem], [RoleUser] or [RoleAssistant].
	Role string

	// Content is the text content of the message.
	Content string
}

// Usage reports token consumption for a completion.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CompletionRequest is the input to [Provider.Complete].
type CompletionRequest struct {
	// Messages is the conversation, oldest first.
	Messages []Message

	// SystemPrompt, if non-empty, is prepended as a system message.
	SystemPrompt string

	// Temperature controls sampling randomness. Zero leaves the backend default.
	Temperature float64

	// MaxTokens caps the completion length. Zero leaves the backend default.
	MaxTokens int

	// Seed asks for reproducible sampling. Backends without seeding ignore it.
	Seed *int64
}

// Validate reports [ErrEmptyRequest] for a request with nothing to complete.
func (r CompletionRequest) Validate() error {
	if strings.TrimSpace(r.SystemPrompt) != "" {
		return nil
	}
	for _, m := range r.Messages {
		if strings.TrimSpace(m.Content) != "" {
			return nil
		}
	}
	return ErrEmptyRequest
}

// CompletionResponse is the output of [Provider.Complete].
type CompletionResponse struct {
	Content string
	Usage   Usage

	// Model is the model that answered, as reported by the backend.
	Model string

	// Truncated is set when the completion stopped at the token limit.
	Truncated bool
}

// Provider is the abstraction over any chat-completion backend.
// Implementations must be safe for concurrent use.
type Provider interface {
	// Complete sends req and returns the full completion.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}

// IsTruncation reports whether a backend finish reason means the token limit
// was hit.
func IsTruncation(finishReason string) bool {
	switch strings.ToLower(finishReason) {
	case "length", "max_tokens", "max_output_tokens":
		return true
	}
	return false
}

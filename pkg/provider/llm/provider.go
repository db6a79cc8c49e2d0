// Package llm defines the Provider interface for answer-generation backends.
//
// An LLM provider wraps a remote or local model API (OpenAI, Anthropic,
// Ollama, …) behind a single call: given the transcript of what a speaker
// said, plus the conversation identity and its recent history, produce the
// assistant's natural-language answer.
//
// Implementations must be safe for concurrent use.
package llm

import "context"

// Message is a single entry in a conversation history.
type Message struct {
	// Role is one of "system", "user", or "assistant".
	Role string

	// Content is the text content of the message.
	Content string
}

// AnswerRequest carries everything the model needs to answer one utterance.
type AnswerRequest struct {
	// Transcript is the transcribed speech the assistant is answering.
	Transcript string

	// ConversationID identifies the channel/call the exchange belongs to.
	// Providers may use it for per-conversation state; the bundled
	// implementations only log it.
	ConversationID string

	// Model overrides the provider's default model for this request.
	// Empty means use the provider default.
	Model string

	// SystemPrompt is an optional instruction injected before the history.
	SystemPrompt string

	// History is the ordered prior conversation, oldest first.
	History []Message
}

// Provider is the abstraction over any answer-generation backend.
type Provider interface {
	// Answer produces the assistant's reply to req.Transcript. An empty
	// answer with a nil error is never returned; backends that produce
	// nothing report an error instead.
	Answer(ctx context.Context, req AnswerRequest) (string, error)
}

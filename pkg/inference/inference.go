// Package inference provides the AI-provider abstraction for the
// conversation loop.
//
// The package abstracts chat completions with tool calling behind a
// single Provider interface, enabling seamless switching between
// providers like OpenAI, Ollama, vLLM, Together, and others that
// implement the OpenAI-compatible API.
//
// Example usage:
//
//	client, _ := inference.NewClient(
//	    inference.WithAPIKey(os.Getenv("OPENAI_API_KEY")),
//	    inference.WithModel("gpt-4o-mini"),
//	)
//	defer client.Close()
//
//	resp, _ := client.Chat(ctx, &inference.ChatRequest{
//	    Messages: []inference.Message{
//	        {Role: inference.RoleUser, Content: "Hello!"},
//	    },
//	})
package inference

import "context"

// Provider is the inference interface the orchestrator depends on.
// Given an ordered conversation and a fixed tool schema, it returns
// either final text or a list of tool-call requests; nothing else is
// assumed about the model.
type Provider interface {
	// Chat generates a response from a sequence of messages.
	Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error)

	// Health checks provider connectivity and API key validity.
	Health(ctx context.Context) error

	// Close releases any resources held by the provider.
	Close() error
}

// ChatRequest for chat completions.
type ChatRequest struct {
	// Messages is the conversation history.
	Messages []Message

	// Model overrides the default model.
	Model string

	// MaxTokens limits the response length.
	MaxTokens int

	// Temperature controls randomness (0.0-2.0).
	Temperature float64

	// Tools available for the model to call.
	Tools []Tool

	// ToolChoice controls tool use: "auto", "none", "required".
	ToolChoice string
}

// ChatResponse from chat completion.
type ChatResponse struct {
	// Message is the assistant's response. When the model requests
	// tool execution, Message.ToolCalls is non-empty.
	Message Message

	// FinishReason indicates why generation stopped (stop, tool_calls).
	FinishReason string

	// Usage tracks token consumption.
	Usage Usage

	// Model used for generation.
	Model string

	// LatencyMs is the response time in milliseconds.
	LatencyMs int64
}

// Usage tracks token consumption for billing and limits.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

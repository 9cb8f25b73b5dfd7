package conversation

import (
	"context"
	"encoding/json"
)

const (
	ChatRoleSystem    = "system"
	ChatRoleUser      = "user"
	ChatRoleAssistant = "assistant"
	ChatRoleTool      = "tool"
)

// ChatMessage is an internal message representation. Assistant messages may
// carry tool calls; tool messages carry the result for one call.
type ChatMessage struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	ToolName   string     `json:"tool_name,omitempty"`
}

// ToolCall is a structured function invocation issued by the model.
type ToolCall struct {
	ID   string          `json:"id"`
	Name string          `json:"name"`
	Args json.RawMessage `json:"args"`
}

// ToolDefinition describes one callable tool to the model. Parameters is a
// JSON-schema object.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  map[string]any
}

type TokenUsage struct {
	InputTokens  int32
	OutputTokens int32
	TotalTokens  int32
}

type LLMRequest struct {
	Model       string
	System      string
	Messages    []ChatMessage
	Tools       []ToolDefinition
	MaxTokens   int32
	Temperature float32
}

// StreamEvent is one item on a model's output stream. Exactly one of Text,
// ToolCall, Done, or Err is meaningful per event; Usage rides on Done.
type StreamEvent struct {
	Text     string
	ToolCall *ToolCall
	Done     bool
	Usage    TokenUsage
	Err      error
}

// StreamingLLMClient is a tool-capable, streaming chat model provider.
type StreamingLLMClient interface {
	// Name identifies the provider for logs and metrics.
	Name() string
	// StreamChat opens a completion stream. The returned channel is closed
	// after a Done or Err event. Cancelling ctx must stop the stream.
	StreamChat(ctx context.Context, req LLMRequest) (<-chan StreamEvent, error)
}

package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"github.com/google/uuid"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// GeminiClient implements StreamingLLMClient using Google's Gemini API.
type GeminiClient struct {
	client  *genai.Client
	modelID string
}

// NewGeminiClient creates a new Gemini streaming client.
func NewGeminiClient(ctx context.Context, apiKey, modelID string) (*GeminiClient, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("conversation: gemini api key is required")
	}
	if strings.TrimSpace(modelID) == "" {
		modelID = "gemini-2.5-flash"
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("conversation: failed to create gemini client: %w", err)
	}

	return &GeminiClient{
		client:  client,
		modelID: modelID,
	}, nil
}

func (c *GeminiClient) Name() string { return "gemini" }

// StreamChat opens a streaming completion. Text deltas and function calls are
// emitted as they arrive; the channel closes after a Done or Err event.
func (c *GeminiClient) StreamChat(ctx context.Context, req LLMRequest) (<-chan StreamEvent, error) {
	if len(req.Messages) == 0 {
		return nil, errors.New("conversation: gemini requires at least one message")
	}

	modelID := c.modelID
	if strings.TrimSpace(req.Model) != "" {
		modelID = req.Model
	}
	model := c.client.GenerativeModel(modelID)

	if req.Temperature > 0 {
		model.SetTemperature(req.Temperature)
	}
	if req.MaxTokens > 0 {
		model.SetMaxOutputTokens(req.MaxTokens)
	}
	if strings.TrimSpace(req.System) != "" {
		model.SystemInstruction = genai.NewUserContent(genai.Text(req.System))
	}
	if len(req.Tools) > 0 {
		decls := make([]*genai.FunctionDeclaration, 0, len(req.Tools))
		for _, t := range req.Tools {
			decls = append(decls, &genai.FunctionDeclaration{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  toGeminiSchema(t.Parameters),
			})
		}
		model.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}

	cs := model.StartChat()
	for _, msg := range req.Messages[:len(req.Messages)-1] {
		if msg.Role == ChatRoleSystem {
			continue
		}
		parts := geminiParts(msg)
		if len(parts) == 0 {
			continue
		}
		cs.History = append(cs.History, &genai.Content{
			Role:  geminiRole(msg.Role),
			Parts: parts,
		})
	}

	last := req.Messages[len(req.Messages)-1]
	lastParts := geminiParts(last)
	if len(lastParts) == 0 {
		return nil, errors.New("conversation: gemini requires a non-empty final message")
	}

	iter := cs.SendMessageStream(ctx, lastParts...)
	events := make(chan StreamEvent)

	go func() {
		defer close(events)
		var usage TokenUsage
		for {
			resp, err := iter.Next()
			if errors.Is(err, iterator.Done) {
				emit(ctx, events, StreamEvent{Done: true, Usage: usage})
				return
			}
			if err != nil {
				emit(ctx, events, StreamEvent{Err: fmt.Errorf("conversation: gemini stream: %w", err)})
				return
			}
			if resp.UsageMetadata != nil {
				usage = TokenUsage{
					InputTokens:  resp.UsageMetadata.PromptTokenCount,
					OutputTokens: resp.UsageMetadata.CandidatesTokenCount,
					TotalTokens:  resp.UsageMetadata.TotalTokenCount,
				}
			}
			for _, cand := range resp.Candidates {
				if cand.Content == nil {
					continue
				}
				for _, part := range cand.Content.Parts {
					switch p := part.(type) {
					case genai.Text:
						if string(p) != "" {
							if !emit(ctx, events, StreamEvent{Text: string(p)}) {
								return
							}
						}
					case genai.FunctionCall:
						args, err := json.Marshal(p.Args)
						if err != nil {
							args = []byte("{}")
						}
						call := &ToolCall{ID: uuid.NewString(), Name: p.Name, Args: args}
						if !emit(ctx, events, StreamEvent{ToolCall: call}) {
							return
						}
					}
				}
			}
		}
	}()

	return events, nil
}

// Close releases resources held by the Gemini client.
func (c *GeminiClient) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

func emit(ctx context.Context, ch chan<- StreamEvent, ev StreamEvent) bool {
	select {
	case ch <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func geminiRole(role string) string {
	switch role {
	case ChatRoleAssistant:
		return "model"
	case ChatRoleTool:
		return "function"
	default:
		return "user"
	}
}

func geminiParts(msg ChatMessage) []genai.Part {
	var parts []genai.Part

	if msg.Role == ChatRoleTool {
		var result map[string]any
		if err := json.Unmarshal([]byte(msg.Content), &result); err != nil {
			result = map[string]any{"output": msg.Content}
		}
		return []genai.Part{genai.FunctionResponse{Name: msg.ToolName, Response: result}}
	}

	if strings.TrimSpace(msg.Content) != "" {
		parts = append(parts, genai.Text(msg.Content))
	}
	for _, tc := range msg.ToolCalls {
		var args map[string]any
		if err := json.Unmarshal(tc.Args, &args); err != nil {
			args = map[string]any{}
		}
		parts = append(parts, genai.FunctionCall{Name: tc.Name, Args: args})
	}
	return parts
}

// toGeminiSchema converts a JSON-schema object into the genai schema type.
// Only the subset used by the tool declarations is handled.
func toGeminiSchema(m map[string]any) *genai.Schema {
	if m == nil {
		return nil
	}
	s := &genai.Schema{Type: geminiType(m["type"])}
	if d, ok := m["description"].(string); ok {
		s.Description = d
	}
	if props, ok := m["properties"].(map[string]any); ok {
		s.Properties = make(map[string]*genai.Schema, len(props))
		for name, raw := range props {
			if sub, ok := raw.(map[string]any); ok {
				s.Properties[name] = toGeminiSchema(sub)
			}
		}
	}
	if items, ok := m["items"].(map[string]any); ok {
		s.Items = toGeminiSchema(items)
	}
	switch req := m["required"].(type) {
	case []string:
		s.Required = req
	case []any:
		for _, r := range req {
			if name, ok := r.(string); ok {
				s.Required = append(s.Required, name)
			}
		}
	}
	return s
}

func geminiType(v any) genai.Type {
	t, _ := v.(string)
	switch t {
	case "object":
		return genai.TypeObject
	case "array":
		return genai.TypeArray
	case "number":
		return genai.TypeNumber
	case "integer":
		return genai.TypeInteger
	case "boolean":
		return genai.TypeBoolean
	default:
		return genai.TypeString
	}
}

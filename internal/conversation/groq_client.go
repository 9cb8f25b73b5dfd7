package conversation

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
)

// GroqClient implements StreamingLLMClient against Groq's OpenAI-compatible
// chat completions API. It serves as the fallback provider when Gemini fails.
type GroqClient struct {
	baseURL string
	apiKey  string
	modelID string
	client  *http.Client
}

func NewGroqClient(baseURL, apiKey, modelID string) *GroqClient {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = "https://api.groq.com/openai/v1"
	}
	if strings.TrimSpace(modelID) == "" {
		modelID = "llama-3.3-70b-versatile"
	}
	return &GroqClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		modelID: modelID,
		// Streams stay open for the length of a model turn, so no
		// client-level timeout; cancellation comes from ctx.
		client: &http.Client{Timeout: 0},
	}
}

func (c *GroqClient) Name() string { return "groq" }

type groqFunction struct {
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

type groqToolCall struct {
	ID       string       `json:"id,omitempty"`
	Type     string       `json:"type,omitempty"`
	Function groqFunction `json:"function"`
}

type groqMessage struct {
	Role       string         `json:"role"`
	Content    string         `json:"content,omitempty"`
	ToolCalls  []groqToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
}

type groqToolDef struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type groqTool struct {
	Type     string      `json:"type"`
	Function groqToolDef `json:"function"`
}

type groqChatReq struct {
	Model       string        `json:"model"`
	Messages    []groqMessage `json:"messages"`
	Tools       []groqTool    `json:"tools,omitempty"`
	Stream      bool          `json:"stream"`
	MaxTokens   int32         `json:"max_tokens,omitempty"`
	Temperature float32       `json:"temperature,omitempty"`
}

type groqStreamResp struct {
	Choices []struct {
		Delta struct {
			Content   string `json:"content"`
			ToolCalls []struct {
				Index    int          `json:"index"`
				ID       string       `json:"id"`
				Function groqFunction `json:"function"`
			} `json:"tool_calls"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int32 `json:"prompt_tokens"`
		CompletionTokens int32 `json:"completion_tokens"`
		TotalTokens      int32 `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// StreamChat opens the SSE stream. Connection and HTTP-level failures are
// returned synchronously, which lets the orchestrator fall back before any
// bytes reach the patient.
func (c *GroqClient) StreamChat(ctx context.Context, req LLMRequest) (<-chan StreamEvent, error) {
	if strings.TrimSpace(c.apiKey) == "" {
		return nil, errors.New("conversation: groq api key is required")
	}

	model := c.modelID
	if strings.TrimSpace(req.Model) != "" {
		model = req.Model
	}

	body := groqChatReq{
		Model:       model,
		Stream:      true,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}
	if strings.TrimSpace(req.System) != "" {
		body.Messages = append(body.Messages, groqMessage{Role: ChatRoleSystem, Content: req.System})
	}
	for _, m := range req.Messages {
		if m.Role == ChatRoleSystem {
			continue
		}
		gm := groqMessage{Role: m.Role, Content: m.Content, ToolCallID: m.ToolCallID}
		for _, tc := range m.ToolCalls {
			gm.ToolCalls = append(gm.ToolCalls, groqToolCall{
				ID:   tc.ID,
				Type: "function",
				Function: groqFunction{
					Name:      tc.Name,
					Arguments: string(tc.Args),
				},
			})
		}
		body.Messages = append(body.Messages, gm)
	}
	for _, t := range req.Tools {
		body.Tools = append(body.Tools, groqTool{
			Type: "function",
			Function: groqToolDef{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}

	b, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("conversation: groq request: %w", err)
	}

	url := fmt.Sprintf("%s/chat/completions", strings.TrimRight(c.baseURL, "/"))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("conversation: groq request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("conversation: groq: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4*1024))
		resp.Body.Close()
		msg := strings.TrimSpace(string(payload))
		if msg == "" {
			msg = fmt.Sprintf("status %d", resp.StatusCode)
		}
		return nil, fmt.Errorf("conversation: groq: %s", msg)
	}

	events := make(chan StreamEvent)
	go func() {
		defer close(events)
		defer resp.Body.Close()
		c.scanStream(ctx, resp.Body, events)
	}()
	return events, nil
}

type pendingToolCall struct {
	id   string
	name string
	args strings.Builder
}

func (c *GroqClient) scanStream(ctx context.Context, body io.Reader, events chan<- StreamEvent) {
	sc := bufio.NewScanner(body)
	buf := make([]byte, 0, 64*1024)
	sc.Buffer(buf, 2*1024*1024)

	var usage TokenUsage
	pending := make(map[int]*pendingToolCall)

	finish := func() {
		// Arguments stream in fragments keyed by index; only now are the
		// accumulated calls complete.
		indexes := make([]int, 0, len(pending))
		for i := range pending {
			indexes = append(indexes, i)
		}
		sort.Ints(indexes)
		for _, i := range indexes {
			p := pending[i]
			args := p.args.String()
			if strings.TrimSpace(args) == "" {
				args = "{}"
			}
			if !emit(ctx, events, StreamEvent{ToolCall: &ToolCall{
				ID:   p.id,
				Name: p.name,
				Args: json.RawMessage(args),
			}}) {
				return
			}
		}
		emit(ctx, events, StreamEvent{Done: true, Usage: usage})
	}

	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "[DONE]" {
			finish()
			return
		}

		var decoded groqStreamResp
		if err := json.Unmarshal([]byte(data), &decoded); err != nil {
			emit(ctx, events, StreamEvent{Err: fmt.Errorf("conversation: groq stream: %w", err)})
			return
		}
		if decoded.Error != nil && decoded.Error.Message != "" {
			emit(ctx, events, StreamEvent{Err: fmt.Errorf("conversation: groq stream: %s", decoded.Error.Message)})
			return
		}
		if decoded.Usage != nil {
			usage = TokenUsage{
				InputTokens:  decoded.Usage.PromptTokens,
				OutputTokens: decoded.Usage.CompletionTokens,
				TotalTokens:  decoded.Usage.TotalTokens,
			}
		}
		if len(decoded.Choices) == 0 {
			continue
		}
		choice := decoded.Choices[0]
		if choice.Delta.Content != "" {
			if !emit(ctx, events, StreamEvent{Text: choice.Delta.Content}) {
				return
			}
		}
		for _, tc := range choice.Delta.ToolCalls {
			p, ok := pending[tc.Index]
			if !ok {
				p = &pendingToolCall{}
				pending[tc.Index] = p
			}
			if tc.ID != "" {
				p.id = tc.ID
			}
			if tc.Function.Name != "" {
				p.name = tc.Function.Name
			}
			p.args.WriteString(tc.Function.Arguments)
		}
	}

	if err := sc.Err(); err != nil {
		emit(ctx, events, StreamEvent{Err: fmt.Errorf("conversation: groq stream: %w", err)})
		return
	}
	// Some servers close the stream without a [DONE] sentinel.
	finish()
}

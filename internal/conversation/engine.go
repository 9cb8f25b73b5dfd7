package conversation

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/puri-adityakumar/mednotes-ai/pkg/logging"
)

// TextSink receives assistant text deltas as they stream from the model. A
// sink error aborts the turn; the relay uses this to stop on client
// disconnect.
type TextSink func(delta string) error

// TurnResult is the outcome of one full model turn, after all tool steps.
type TurnResult struct {
	// Text is everything streamed to the sink, across all steps.
	Text string
	// AppointmentID is set when a bookAppointment call succeeded this turn.
	AppointmentID *uuid.UUID
	Usage         TokenUsage
	Steps         int
}

// Engine drives a streaming model through tool calls until it produces a
// final text answer or the step limit is reached.
type Engine struct {
	maxSteps int
	logger   *logging.Logger
}

func NewEngine(maxSteps int, logger *logging.Logger) *Engine {
	if maxSteps <= 0 {
		maxSteps = 10
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Engine{maxSteps: maxSteps, logger: logger}
}

// Run executes the turn. Tool results are fed back to the model and the loop
// continues until a step finishes without tool calls. The step limit bounds
// runaway models; hitting it ends the turn with whatever text streamed so far.
func (e *Engine) Run(ctx context.Context, client StreamingLLMClient, tools *Toolset, req LLMRequest, sink TextSink) (TurnResult, error) {
	var result TurnResult
	messages := make([]ChatMessage, len(req.Messages))
	copy(messages, req.Messages)

	for step := 0; step < e.maxSteps; step++ {
		result.Steps = step + 1
		req.Messages = messages

		events, err := client.StreamChat(ctx, req)
		if err != nil {
			return result, fmt.Errorf("conversation: %s stream open: %w", client.Name(), err)
		}

		var (
			stepText string
			calls    []ToolCall
		)
		for ev := range events {
			switch {
			case ev.Err != nil:
				return result, ev.Err
			case ev.ToolCall != nil:
				calls = append(calls, *ev.ToolCall)
			case ev.Done:
				result.Usage = ev.Usage
			default:
				// A delta the sink rejects never becomes part of the reply.
				if sink != nil {
					if err := sink(ev.Text); err != nil {
						return result, fmt.Errorf("conversation: sink: %w", err)
					}
				}
				stepText += ev.Text
				result.Text += ev.Text
			}
		}
		if err := ctx.Err(); err != nil {
			return result, err
		}

		if len(calls) == 0 {
			return result, nil
		}

		messages = append(messages, ChatMessage{
			Role:      ChatRoleAssistant,
			Content:   stepText,
			ToolCalls: calls,
		})
		for _, call := range calls {
			payload, err := tools.Execute(ctx, call)
			if err != nil {
				e.logger.Warn("tool call rejected", "tool", call.Name, "error", err)
				payload = json.RawMessage(`{"error":"unknown tool"}`)
			}
			if call.Name == ToolBookAppointment {
				if id := bookedAppointmentID(payload); id != nil {
					result.AppointmentID = id
				}
			}
			messages = append(messages, ChatMessage{
				Role:       ChatRoleTool,
				Content:    string(payload),
				ToolCallID: call.ID,
				ToolName:   call.Name,
			})
		}
	}

	e.logger.Warn("turn hit step limit", "model", client.Name(), "max_steps", e.maxSteps)
	return result, nil
}

func bookedAppointmentID(payload json.RawMessage) *uuid.UUID {
	var res BookAppointmentResult
	if err := json.Unmarshal(payload, &res); err != nil || !res.Success {
		return nil
	}
	id, err := uuid.Parse(res.AppointmentID)
	if err != nil {
		return nil
	}
	return &id
}

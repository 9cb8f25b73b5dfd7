package conversation

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func sseHandler(t *testing.T, lines []string) http.HandlerFunc {
	t.Helper()
	return func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chat/completions", r.URL.Path)
		require.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req groqChatReq
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.True(t, req.Stream)

		w.Header().Set("Content-Type", "text/event-stream")
		for _, line := range lines {
			_, _ = w.Write([]byte(line + "\n\n"))
		}
	}
}

func collect(t *testing.T, events <-chan StreamEvent) (text string, calls []ToolCall, done bool) {
	t.Helper()
	for ev := range events {
		switch {
		case ev.Err != nil:
			t.Fatalf("unexpected stream error: %v", ev.Err)
		case ev.ToolCall != nil:
			calls = append(calls, *ev.ToolCall)
		case ev.Done:
			done = true
		default:
			text += ev.Text
		}
	}
	return text, calls, done
}

func TestGroqStreamChatTextDeltas(t *testing.T) {
	srv := httptest.NewServer(sseHandler(t, []string{
		`data: {"choices":[{"delta":{"content":"Hello"}}]}`,
		`data: {"choices":[{"delta":{"content":" there"}}]}`,
		`data: [DONE]`,
	}))
	defer srv.Close()

	client := NewGroqClient(srv.URL, "test-key", "llama-3.3-70b-versatile")
	events, err := client.StreamChat(context.Background(), LLMRequest{
		System:   "be brief",
		Messages: []ChatMessage{{Role: ChatRoleUser, Content: "hi"}},
	})
	require.NoError(t, err)

	text, calls, done := collect(t, events)
	require.Equal(t, "Hello there", text)
	require.Empty(t, calls)
	require.True(t, done)
}

func TestGroqStreamChatToolCallFragments(t *testing.T) {
	srv := httptest.NewServer(sseHandler(t, []string{
		`data: {"choices":[{"delta":{"tool_calls":[{"index":0,"id":"call_1","function":{"name":"bookAppointment","arguments":"{\"doctorName\":"}}]}}]}`,
		`data: {"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"\"Shekhar\"}"}}]}}]}`,
		`data: {"choices":[{"delta":{},"finish_reason":"tool_calls"}]}`,
		`data: [DONE]`,
	}))
	defer srv.Close()

	client := NewGroqClient(srv.URL, "test-key", "")
	events, err := client.StreamChat(context.Background(), LLMRequest{
		Messages: []ChatMessage{{Role: ChatRoleUser, Content: "book it"}},
	})
	require.NoError(t, err)

	_, calls, done := collect(t, events)
	require.True(t, done)
	require.Len(t, calls, 1)
	require.Equal(t, "call_1", calls[0].ID)
	require.Equal(t, "bookAppointment", calls[0].Name)

	var args BookAppointmentInput
	require.NoError(t, json.Unmarshal(calls[0].Args, &args))
	require.Equal(t, "Shekhar", args.DoctorName)
}

func TestGroqStreamChatHTTPErrorIsSynchronous(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error":{"message":"rate limit exceeded"}}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client := NewGroqClient(srv.URL, "test-key", "")
	_, err := client.StreamChat(context.Background(), LLMRequest{
		Messages: []ChatMessage{{Role: ChatRoleUser, Content: "hi"}},
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "rate limit exceeded")
}

func TestGroqStreamChatMissingKey(t *testing.T) {
	client := NewGroqClient("", "", "")
	_, err := client.StreamChat(context.Background(), LLMRequest{
		Messages: []ChatMessage{{Role: ChatRoleUser, Content: "hi"}},
	})
	require.Error(t, err)
}

func TestGroqStreamChatNoDoneSentinel(t *testing.T) {
	srv := httptest.NewServer(sseHandler(t, []string{
		`data: {"choices":[{"delta":{"content":"partial"}}]}`,
	}))
	defer srv.Close()

	client := NewGroqClient(srv.URL, "test-key", "")
	events, err := client.StreamChat(context.Background(), LLMRequest{
		Messages: []ChatMessage{{Role: ChatRoleUser, Content: "hi"}},
	})
	require.NoError(t, err)

	text, _, done := collect(t, events)
	require.Equal(t, "partial", text)
	require.True(t, done)
}

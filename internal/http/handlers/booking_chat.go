package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/puri-adityakumar/mednotes-ai/internal/conversation"
	"github.com/puri-adityakumar/mednotes-ai/internal/identity"
	"github.com/puri-adityakumar/mednotes-ai/pkg/logging"
)

// BookingChatHandler serves the patient-facing booking conversation: a
// streaming chat turn endpoint and a transcript history endpoint.
type BookingChatHandler struct {
	orchestrator *conversation.Orchestrator
	logger       *logging.Logger
}

func NewBookingChatHandler(orchestrator *conversation.Orchestrator, logger *logging.Logger) *BookingChatHandler {
	if orchestrator == nil {
		panic("handlers: orchestrator required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &BookingChatHandler{orchestrator: orchestrator, logger: logger}
}

// wirePart is one content part of an incoming UI message.
type wirePart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// wireMessage is one UI message from the chat client.
type wireMessage struct {
	Role  string     `json:"role"`
	Parts []wirePart `json:"parts"`
}

// chatTurnRequest is the POST body for a chat turn.
type chatTurnRequest struct {
	Messages []wireMessage `json:"messages"`
	ChatID   string        `json:"chatId,omitempty"`
}

// sseStream frames SSE data events and tolerates writes after close, because
// the model goroutine can race the client hanging up.
type sseStream struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	flusher http.Flusher
	closed  bool
}

func newSSEStream(w http.ResponseWriter) (*sseStream, bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, false
	}
	return &sseStream{w: w, flusher: flusher}, true
}

func (s *sseStream) Send(payload any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", b); err != nil {
		s.closed = true
		return err
	}
	s.flusher.Flush()
	return nil
}

func (s *sseStream) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

// Turn handles POST /api/chat/booking. The response is an SSE stream of
// text-delta events followed by a finish event; the resolved session id is
// exposed in the X-Chat-Id header before the first byte.
func (h *BookingChatHandler) Turn(w http.ResponseWriter, r *http.Request) {
	patientID, ok := h.patientID(r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var req chatTurnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	messages := toChatMessages(req.Messages)
	if len(messages) == 0 {
		http.Error(w, "messages are required", http.StatusBadRequest)
		return
	}

	chatID := strings.TrimSpace(req.ChatID)
	if chatID == "" {
		chatID = uuid.NewString()
	}

	stream, ok := newSSEStream(w)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.Header().Set("X-Chat-Id", chatID)

	ctx := r.Context()
	wroteAny := false
	sink := func(delta string) error {
		wroteAny = true
		return stream.Send(map[string]any{"type": "text-delta", "delta": delta})
	}

	out, err := h.orchestrator.ProcessTurn(ctx, conversation.TurnInput{
		PatientID: patientID,
		ChatID:    chatID,
		Messages:  messages,
	}, sink)
	if err != nil {
		if errors.Is(err, conversation.ErrEmptyTurn) {
			http.Error(w, "messages are required", http.StatusBadRequest)
			return
		}
		h.logger.Error("chat turn failed", "error", err, "chat_id", chatID)
		if !wroteAny {
			http.Error(w, "failed to process message", http.StatusInternalServerError)
			return
		}
		// Part of the reply already streamed; end the stream cleanly.
	}

	finish := map[string]any{"type": "finish"}
	if out.AppointmentID != nil {
		finish["appointmentId"] = out.AppointmentID.String()
	}
	_ = stream.Send(finish)
	stream.Close()
}

// historyTurn is one transcript row in the history response.
type historyTurn struct {
	ID            string `json:"id"`
	Role          string `json:"role"`
	Content       string `json:"content"`
	AppointmentID string `json:"appointment_id,omitempty"`
	CreatedAt     string `json:"created_at"`
}

// History handles GET /api/chat/booking/history?chatId=...
func (h *BookingChatHandler) History(w http.ResponseWriter, r *http.Request) {
	patientID, ok := h.patientID(r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	chatID := strings.TrimSpace(r.URL.Query().Get("chatId"))
	if chatID == "" {
		http.Error(w, "chatId is required", http.StatusBadRequest)
		return
	}

	turns, err := h.orchestrator.History(r.Context(), patientID, chatID)
	if err != nil {
		h.logger.Error("failed to load chat history", "error", err, "chat_id", chatID)
		http.Error(w, "failed to load history", http.StatusInternalServerError)
		return
	}

	out := make([]historyTurn, 0, len(turns))
	for _, t := range turns {
		ht := historyTurn{
			ID:        t.ID.String(),
			Role:      t.Role,
			Content:   t.Content,
			CreatedAt: t.CreatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
		}
		if t.AppointmentID != nil {
			ht.AppointmentID = t.AppointmentID.String()
		}
		out = append(out, ht)
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"chatId": chatID, "messages": out})
}

func (h *BookingChatHandler) patientID(r *http.Request) (uuid.UUID, bool) {
	raw, ok := identity.UserIDFromContext(r.Context())
	if !ok {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

// toChatMessages flattens UI messages into the internal representation,
// concatenating text parts and dropping anything else.
func toChatMessages(in []wireMessage) []conversation.ChatMessage {
	out := make([]conversation.ChatMessage, 0, len(in))
	for _, m := range in {
		var sb strings.Builder
		for _, p := range m.Parts {
			if p.Type == "" || p.Type == "text" {
				sb.WriteString(p.Text)
			}
		}
		role := m.Role
		if role != conversation.ChatRoleAssistant {
			role = conversation.ChatRoleUser
		}
		if strings.TrimSpace(sb.String()) == "" {
			continue
		}
		out = append(out, conversation.ChatMessage{Role: role, Content: sb.String()})
	}
	return out
}

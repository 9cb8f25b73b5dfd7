package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/puri-adityakumar/mednotes-ai/internal/observability/metrics"
	"github.com/puri-adityakumar/mednotes-ai/internal/profiles"
	"github.com/puri-adityakumar/mednotes-ai/pkg/logging"
)

// errProviderMarker signals that the primary model streamed provider-error
// text (quota, rate limit) disguised as content instead of failing the call.
var errProviderMarker = errors.New("conversation: provider error marker in stream")

// Quota and rate-limit failures from hosted models often surface as text in
// the stream rather than as transport errors. These markers identify them.
var errorMarkers = []string{
	`"error"`,
	"quota",
	"exceeded",
	"429",
	"resource_exhausted",
	"ai_apicallerror",
}

func containsErrorMarker(s string) bool {
	lower := strings.ToLower(s)
	for _, m := range errorMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

// guardedSink scans the primary stream for provider-error markers before
// forwarding each delta. A detected marker is withheld from the patient and
// aborts the primary run so the fallback can continue the same stream.
type guardedSink struct {
	sink      TextSink
	seen      strings.Builder
	forwarded bool
}

func (g *guardedSink) write(delta string) error {
	g.seen.WriteString(delta)
	if containsErrorMarker(g.seen.String()) {
		return errProviderMarker
	}
	g.forwarded = true
	if g.sink == nil {
		return nil
	}
	return g.sink(delta)
}

// TurnStore persists chat turns for a session.
type TurnStore interface {
	InsertUserTurn(ctx context.Context, patientID uuid.UUID, chatID, content string) (uuid.UUID, error)
	InsertAssistantTurn(ctx context.Context, patientID uuid.UUID, chatID, content string, appointmentID *uuid.UUID) (uuid.UUID, error)
	LinkAppointment(ctx context.Context, patientID uuid.UUID, chatID string, appointmentID uuid.UUID) (int64, error)
	ListSession(ctx context.Context, patientID uuid.UUID, chatID string) ([]ChatTurn, error)
}

// PatientLookup resolves the authenticated patient's profile.
type PatientLookup interface {
	GetPatient(ctx context.Context, id uuid.UUID) (*profiles.Patient, error)
}

// TranscriptStore caches a session's transcript. Cache failures are
// tolerated; Postgres remains the source of truth.
type TranscriptStore interface {
	Save(ctx context.Context, patientID, chatID string, history []ChatMessage) error
	Load(ctx context.Context, patientID, chatID string) ([]ChatMessage, error)
}

// OrchestratorConfig wires an Orchestrator.
type OrchestratorConfig struct {
	Primary  StreamingLLMClient
	Fallback StreamingLLMClient

	Store     TurnStore
	Cache     TranscriptStore
	Patients  PatientLookup
	Directory DoctorDirectory
	Scheduler Scheduler

	Logger  *logging.Logger
	Metrics *metrics.ChatMetrics

	Location          *time.Location
	SlotMins          int
	MaxToolSteps      int
	PromptDoctorLimit int
	Now               func() time.Time
}

// Orchestrator runs one booking-chat turn end to end: persist the user
// message, stream the primary model through its tool calls, fall back to the
// secondary model when the primary fails before any output, and persist the
// assistant's reply.
type Orchestrator struct {
	primary  StreamingLLMClient
	fallback StreamingLLMClient

	store     TurnStore
	cache     TranscriptStore
	patients  PatientLookup
	directory DoctorDirectory
	scheduler Scheduler

	engine  *Engine
	logger  *logging.Logger
	metrics *metrics.ChatMetrics

	loc         *time.Location
	slotMins    int
	doctorLimit int
	now         func() time.Time
}

func NewOrchestrator(cfg OrchestratorConfig) (*Orchestrator, error) {
	if cfg.Primary == nil {
		return nil, errors.New("conversation: primary model client is required")
	}
	if cfg.Store == nil {
		return nil, errors.New("conversation: turn store is required")
	}
	if cfg.Patients == nil || cfg.Directory == nil || cfg.Scheduler == nil {
		return nil, errors.New("conversation: patients, directory and scheduler are required")
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.SlotMins <= 0 {
		cfg.SlotMins = 30
	}
	if cfg.PromptDoctorLimit <= 0 {
		cfg.PromptDoctorLimit = 5
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Orchestrator{
		primary:     cfg.Primary,
		fallback:    cfg.Fallback,
		store:       cfg.Store,
		cache:       cfg.Cache,
		patients:    cfg.Patients,
		directory:   cfg.Directory,
		scheduler:   cfg.Scheduler,
		engine:      NewEngine(cfg.MaxToolSteps, cfg.Logger),
		logger:      cfg.Logger,
		metrics:     cfg.Metrics,
		loc:         cfg.Location,
		slotMins:    cfg.SlotMins,
		doctorLimit: cfg.PromptDoctorLimit,
		now:         cfg.Now,
	}, nil
}

// TurnInput is one incoming chat turn. Messages is the client's view of the
// conversation; the last entry must be the patient's new message.
type TurnInput struct {
	PatientID uuid.UUID
	ChatID    string
	Messages  []ChatMessage
}

// TurnOutput reports what the turn produced.
type TurnOutput struct {
	Text          string
	AppointmentID *uuid.UUID
	Model         string
	FellBack      bool
	Partial       bool
}

// ErrEmptyTurn is returned when the turn carries no user message.
var ErrEmptyTurn = errors.New("conversation: turn has no user message")

// ProcessTurn runs the turn, streaming assistant text into sink as it
// arrives. The user message is persisted before the model runs; the assistant
// reply is persisted after, even when the stream ended early.
func (o *Orchestrator) ProcessTurn(ctx context.Context, in TurnInput, sink TextSink) (TurnOutput, error) {
	start := o.now()

	userText := lastUserMessage(in.Messages)
	if strings.TrimSpace(userText) == "" {
		return TurnOutput{}, ErrEmptyTurn
	}

	// Persist the patient's message first so the transcript survives any
	// downstream failure.
	if _, err := o.store.InsertUserTurn(ctx, in.PatientID, in.ChatID, userText); err != nil {
		o.logger.Error("failed to persist user turn", "error", err, "chat_id", in.ChatID)
	}

	// A client that sends only its newest message still gets model context
	// from the cached transcript of earlier turns.
	if o.cache != nil && len(in.Messages) == 1 {
		cached, err := o.cache.Load(ctx, in.PatientID.String(), in.ChatID)
		if err != nil {
			o.logger.Warn("failed to load cached transcript", "error", err, "chat_id", in.ChatID)
		} else if len(cached) > 0 {
			in.Messages = append(cached, in.Messages...)
		}
	}

	req, tools, err := o.prepareTurn(ctx, in)
	if err != nil {
		return TurnOutput{}, err
	}

	guard := &guardedSink{sink: sink}
	out := TurnOutput{Model: o.primary.Name()}

	result, runErr := o.engine.Run(ctx, o.primary, tools, req, guard.write)
	out.Text = result.Text
	out.AppointmentID = result.AppointmentID

	// Any primary failure hands the turn to the fallback model, which streams
	// into the same sink. When the primary already forwarded bytes, the
	// fallback's reply continues that stream; the rejected marker delta was
	// never forwarded and never joins the reply.
	if runErr != nil && o.fallback != nil && ctx.Err() == nil {
		o.logger.Warn("primary model failed, falling back",
			"primary", o.primary.Name(), "fallback", o.fallback.Name(),
			"forwarded", guard.forwarded, "error", runErr)
		o.metrics.ObserveFallback(fallbackReason(runErr))

		out.Model = o.fallback.Name()
		out.FellBack = true
		fbResult, fbErr := o.engine.Run(ctx, o.fallback, tools, req, sink)
		out.Text += fbResult.Text
		if fbResult.AppointmentID != nil {
			out.AppointmentID = fbResult.AppointmentID
		}
		runErr = fbErr
	}

	if runErr != nil {
		if out.Text == "" {
			o.metrics.ObserveTurn(out.Model, "error")
			return out, fmt.Errorf("conversation: turn failed: %w", runErr)
		}
		// The patient already saw part of the reply. Keep what streamed and
		// end the turn normally.
		o.logger.Warn("stream ended early, keeping partial reply", "model", out.Model, "error", runErr)
		out.Partial = true
	}

	o.finalizeTurn(ctx, in, req.Messages, out)

	status := "ok"
	if out.Partial {
		status = "partial"
	}
	o.metrics.ObserveTurn(out.Model, status)
	o.metrics.ObserveTurnLatency(out.Model, o.now().Sub(start).Seconds())
	return out, nil
}

// History returns the persisted transcript for a session.
func (o *Orchestrator) History(ctx context.Context, patientID uuid.UUID, chatID string) ([]ChatTurn, error) {
	return o.store.ListSession(ctx, patientID, chatID)
}

func (o *Orchestrator) prepareTurn(ctx context.Context, in TurnInput) (LLMRequest, *Toolset, error) {
	doctors, err := o.directory.ListDoctors(ctx)
	if err != nil {
		return LLMRequest{}, nil, fmt.Errorf("conversation: list doctors: %w", err)
	}
	roster := doctors
	if len(roster) > o.doctorLimit {
		roster = roster[:o.doctorLimit]
	}

	firstName := ""
	if patient, err := o.patients.GetPatient(ctx, in.PatientID); err == nil {
		firstName = patient.FirstName
	} else if !errors.Is(err, profiles.ErrProfileNotFound) {
		o.logger.Warn("failed to load patient profile", "error", err, "patient_id", in.PatientID)
	}

	tools := NewToolset(ToolsetConfig{
		Scheduler: o.scheduler,
		Directory: o.directory,
		Linker:    o.store,
		Logger:    o.logger,
		Metrics:   o.metrics,
		PatientID: in.PatientID,
		ChatID:    in.ChatID,
		Location:  o.loc,
		SlotMins:  o.slotMins,
		Now:       o.now,
	})

	req := LLMRequest{
		System:   BuildSystemPrompt(firstName, roster, o.now(), o.loc),
		Messages: in.Messages,
	}
	req.Tools = tools.Definitions()
	return req, tools, nil
}

// finalizeTurn persists the assistant reply exactly once and refreshes the
// transcript cache.
func (o *Orchestrator) finalizeTurn(ctx context.Context, in TurnInput, messages []ChatMessage, out TurnOutput) {
	if strings.TrimSpace(out.Text) == "" {
		return
	}
	if _, err := o.store.InsertAssistantTurn(ctx, in.PatientID, in.ChatID, out.Text, out.AppointmentID); err != nil {
		o.logger.Error("failed to persist assistant turn", "error", err, "chat_id", in.ChatID)
	}
	if o.cache != nil {
		history := append(append([]ChatMessage{}, messages...), ChatMessage{
			Role:    ChatRoleAssistant,
			Content: out.Text,
		})
		if err := o.cache.Save(ctx, in.PatientID.String(), in.ChatID, history); err != nil {
			o.logger.Warn("failed to cache transcript", "error", err, "chat_id", in.ChatID)
		}
	}
}

func fallbackReason(err error) string {
	switch {
	case errors.Is(err, errProviderMarker):
		return "error_marker"
	default:
		return "stream_error"
	}
}

func lastUserMessage(messages []ChatMessage) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == ChatRoleUser {
			return messages[i].Content
		}
	}
	return ""
}

// Package conversation tracks the dialogue around an agent request. Each
// message is classified, held back with a clarifying question when the
// reading is uncertain, and turned into a proposal that the user confirms or
// rejects before anything executes.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/haasonsaas/foreman/internal/storage"
	"github.com/haasonsaas/foreman/pkg/models"
)

// DefaultClarificationLimit is the number of consecutive clarification
// rounds after which the machine offers a menu instead of another question.
const DefaultClarificationLimit = 3

// EscalationMenu is the reply used once the clarification limit is passed.
const EscalationMenu = `I'm having trouble pinning this down. Here is what I can do:
1. Create or update a task
2. Create a project
3. Send a Slack message
4. Set up Drive folders
5. Search project documents
6. Show your projects or tasks
Reply with a number or describe one of these.`

// Turn is the outcome of handling one message.
type Turn struct {
	Phase    models.Phase
	Reply    string
	Analysis *Analysis
	// GeneratePlan is set when the request is clear enough to plan.
	GeneratePlan bool
	// Execute is set when the user confirmed the pending plan; Plan holds it.
	Execute bool
	Plan    *models.Plan
	// Escalated is set when the clarification limit was passed.
	Escalated bool
}

// Machine is the conversation state machine.
type Machine struct {
	store      storage.ConversationStore
	classifier Classifier
	floor      float64
	limit      int
	now        func() time.Time
	logger     *slog.Logger
}

// Option configures a Machine.
type Option func(*Machine)

// WithNow sets the clock.
func WithNow(now func() time.Time) Option {
	return func(m *Machine) { m.now = now }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Machine) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithConfidenceFloor overrides ConfidenceFloor.
func WithConfidenceFloor(floor float64) Option {
	return func(m *Machine) { m.floor = floor }
}

// WithClarificationLimit overrides DefaultClarificationLimit.
func WithClarificationLimit(limit int) Option {
	return func(m *Machine) {
		if limit > 0 {
			m.limit = limit
		}
	}
}

// NewMachine creates a Machine. A nil classifier uses HeuristicClassifier.
func NewMachine(store storage.ConversationStore, classifier Classifier, opts ...Option) *Machine {
	if classifier == nil {
		classifier = HeuristicClassifier{}
	}
	m := &Machine{
		store:      store,
		classifier: classifier,
		floor:      ConfidenceFloor,
		limit:      DefaultClarificationLimit,
		now:        time.Now,
		logger:     slog.Default().With("component", "conversation"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// State loads a conversation, returning a fresh state when none is stored.
func (m *Machine) State(ctx context.Context, conversationID string) (*models.ConversationState, error) {
	state, err := m.store.GetConversation(ctx, conversationID)
	if errors.Is(err, storage.ErrNotFound) {
		return models.NewConversationState(conversationID, m.now()), nil
	}
	if err != nil {
		return nil, fmt.Errorf("load conversation %s: %w", conversationID, err)
	}
	if state.Entities == nil {
		state.Entities = map[string]string{}
	}
	if state.WorkingMemory.AccumulatedEntities == nil {
		state.WorkingMemory.AccumulatedEntities = map[string]string{}
	}
	return state, nil
}

// Handle processes one user message.
func (m *Machine) Handle(ctx context.Context, conversationID, message string, sc models.SessionContext, history []models.ChatMessage) (*Turn, error) {
	if strings.TrimSpace(conversationID) == "" {
		return nil, fmt.Errorf("conversation id is required")
	}
	state, err := m.State(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	if state.Phase == models.PhaseProposing && state.PendingConfirmation != nil {
		switch ClassifyReply(message) {
		case ReplyConfirm:
			plan := state.PendingConfirmation.Plan
			state.Phase = models.PhaseExecuting
			state.PendingConfirmation = nil
			if err := m.save(ctx, state); err != nil {
				return nil, err
			}
			m.logger.Info("plan confirmed", "conversation_id", conversationID)
			return &Turn{Phase: state.Phase, Reply: "Great, starting now.", Execute: true, Plan: plan}, nil
		case ReplyReject:
			state.Phase = models.PhaseClarifying
			state.PendingConfirmation = nil
			state.ClarificationCount = 0
			if err := m.save(ctx, state); err != nil {
				return nil, err
			}
			return &Turn{Phase: state.Phase, Reply: "No problem, I won't do that. What would you like to change?"}, nil
		default:
			// Neither a clear yes nor a clear no: the message is a new request.
			state.PendingConfirmation = nil
		}
	}

	previous := state.Phase
	analysis, topic, err := m.classify(ctx, state, message, sc, history)
	if err != nil {
		return nil, err
	}

	state.Confidence = analysis.Confidence
	if analysis.SuggestedIntent != "" {
		state.Intent = analysis.SuggestedIntent
		state.WorkingMemory.PartialIntent = analysis.SuggestedIntent
	}
	state.WorkingMemory.LastTopic = topic
	for k, v := range analysis.Entities {
		state.Entities[k] = v
		state.WorkingMemory.AccumulatedEntities[k] = v
	}
	// Entities gathered in earlier rounds complete the current reading.
	for k, v := range state.WorkingMemory.AccumulatedEntities {
		if _, ok := analysis.Entities[k]; !ok {
			analysis.Entities[k] = v
		}
	}

	if analysis.NeedsClarification {
		if previous == models.PhaseClarifying {
			state.ClarificationCount++
		}
		state.Phase = models.PhaseClarifying
		turn := &Turn{Phase: state.Phase, Analysis: analysis, Reply: strings.Join(analysis.ClarifyingQuestions, " ")}
		if state.ClarificationCount > m.limit {
			turn.Reply = EscalationMenu
			turn.Escalated = true
			state.ClarificationCount = 0
			m.logger.Info("clarification limit reached", "conversation_id", conversationID)
		}
		if err := m.save(ctx, state); err != nil {
			return nil, err
		}
		return turn, nil
	}

	state.ClarificationCount = 0
	state.Phase = models.PhaseProposing
	if err := m.save(ctx, state); err != nil {
		return nil, err
	}
	return &Turn{Phase: state.Phase, Analysis: analysis, GeneratePlan: true}, nil
}

// classify reads message on its own and, while clarifying, as a follow-up
// to the previous topic. The follow-up reading wins when it resolves the
// request. It returns the analysis and the topic it was read from.
func (m *Machine) classify(ctx context.Context, state *models.ConversationState, message string, sc models.SessionContext, history []models.ChatMessage) (*Analysis, string, error) {
	analysis, err := m.classifier.Classify(ctx, message, sc, history)
	if err != nil {
		return nil, "", fmt.Errorf("classify message: %w", err)
	}
	analysis = ApplyFloor(analysis, m.floor)
	previousTopic := state.WorkingMemory.LastTopic
	if !analysis.NeedsClarification || state.Phase != models.PhaseClarifying || previousTopic == "" {
		return analysis, message, nil
	}

	combined := previousTopic + " " + message
	followUp, err := m.classifier.Classify(ctx, combined, sc, history)
	if err != nil {
		return nil, "", fmt.Errorf("classify follow-up: %w", err)
	}
	followUp = ApplyFloor(followUp, m.floor)
	if followUp.NeedsClarification {
		return analysis, combined, nil
	}
	return followUp, combined, nil
}

// Propose attaches plan as the pending confirmation and returns the
// question to put to the user.
func (m *Machine) Propose(ctx context.Context, conversationID string, plan *models.Plan) (*Turn, error) {
	if plan == nil {
		return nil, fmt.Errorf("propose: nil plan")
	}
	state, err := m.State(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	description := plan.Description
	if description == "" {
		description = plan.Title
	}
	state.Phase = models.PhaseProposing
	state.ClarificationCount = 0
	state.PendingConfirmation = &models.PendingConfirmation{Plan: plan, Description: description}
	if err := m.save(ctx, state); err != nil {
		return nil, err
	}
	return &Turn{
		Phase: state.Phase,
		Plan:  plan,
		Reply: ProposalMessage(description, len(plan.Steps)),
	}, nil
}

// ProposalMessage is the confirmation question for a plan.
func ProposalMessage(description string, steps int) string {
	description = strings.TrimSuffix(strings.TrimSpace(description), ".")
	if description != "" {
		description = strings.ToLower(description[:1]) + description[1:]
	}
	noun := "steps"
	if steps == 1 {
		noun = "step"
	}
	return fmt.Sprintf("I'll %s. This will involve %d %s. Shall I proceed?", description, steps, noun)
}

// Complete marks the conversation finished after execution.
func (m *Machine) Complete(ctx context.Context, conversationID, agentSessionID string) error {
	state, err := m.State(ctx, conversationID)
	if err != nil {
		return err
	}
	state.Phase = models.PhaseCompleted
	state.PendingConfirmation = nil
	if agentSessionID != "" {
		state.AgentSessionID = agentSessionID
	}
	return m.save(ctx, state)
}

// Reset forgets the conversation.
func (m *Machine) Reset(ctx context.Context, conversationID string) error {
	if err := m.store.DeleteConversation(ctx, conversationID); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("reset conversation %s: %w", conversationID, err)
	}
	return nil
}

func (m *Machine) save(ctx context.Context, state *models.ConversationState) error {
	state.UpdatedAt = m.now()
	if err := m.store.SaveConversation(ctx, state); err != nil {
		return fmt.Errorf("save conversation %s: %w", state.ConversationID, err)
	}
	return nil
}

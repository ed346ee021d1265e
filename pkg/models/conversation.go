package models

import "time"

// Phase is the stage of a conversation.
type Phase string

const (
	PhaseClarifying Phase = "clarifying"
	PhaseProposing  Phase = "proposing"
	PhaseExecuting  Phase = "executing"
	PhaseCompleted  Phase = "completed"
)

// ConversationState is the per-conversation state carried between turns.
type ConversationState struct {
	ConversationID      string               `json:"conversation_id"`
	Phase               Phase                `json:"phase"`
	Intent              string               `json:"intent,omitempty"`
	Entities            map[string]string    `json:"entities,omitempty"`
	WorkingMemory       WorkingMemory        `json:"working_memory"`
	PendingConfirmation *PendingConfirmation `json:"pending_confirmation,omitempty"`
	Confidence          float64              `json:"confidence"`
	ClarificationCount  int                  `json:"clarification_count"`
	AgentSessionID      string               `json:"agent_session_id,omitempty"`
	UpdatedAt           time.Time            `json:"updated_at"`
}

// WorkingMemory accumulates context across clarification rounds.
type WorkingMemory struct {
	PartialIntent       string            `json:"partial_intent,omitempty"`
	LastTopic           string            `json:"last_topic,omitempty"`
	AccumulatedEntities map[string]string `json:"accumulated_entities,omitempty"`
}

// PendingConfirmation is a plan snapshot waiting for a yes or no.
type PendingConfirmation struct {
	Plan        *Plan  `json:"plan"`
	Description string `json:"description"`
}

// NewConversationState returns the state used for a conversation's first message.
func NewConversationState(conversationID string, now time.Time) *ConversationState {
	return &ConversationState{
		ConversationID: conversationID,
		Phase:          PhaseClarifying,
		Entities:       map[string]string{},
		WorkingMemory: WorkingMemory{
			AccumulatedEntities: map[string]string{},
		},
		Confidence: 0.5,
		UpdatedAt:  now,
	}
}

// ChatMessage is one message of conversation history.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

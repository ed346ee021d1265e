package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/haasonsaas/foreman/internal/agent"
	"github.com/haasonsaas/foreman/pkg/models"
)

// Exchange is the service's answer to one chat message.
type Exchange struct {
	Phase     models.Phase
	Reply     string
	Plan      *models.Plan
	Result    *models.AgentResult
	Escalated bool
}

// HandleMessage drives one chat turn for a session. The session id doubles
// as the conversation id. A clear request is planned and proposed; a
// confirmation approves the pending plan as the session's user and runs it.
// A finished session takes no more messages.
func (s *Service) HandleMessage(ctx context.Context, sessionID, message string, history []models.ChatMessage) (*Exchange, error) {
	if s.machine == nil {
		return nil, ErrNoConversation
	}
	session, err := s.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if session.State.Terminal() {
		return nil, fmt.Errorf("%w: %s is %s", ErrSessionFinished, sessionID, session.State)
	}

	turn, err := s.machine.Handle(ctx, sessionID, message, session.Context, history)
	if err != nil {
		return nil, err
	}
	out := &Exchange{Phase: turn.Phase, Reply: turn.Reply, Escalated: turn.Escalated}

	switch {
	case turn.GeneratePlan:
		request := message
		if state, err := s.machine.State(ctx, sessionID); err == nil && strings.TrimSpace(state.WorkingMemory.LastTopic) != "" {
			request = state.WorkingMemory.LastTopic
		}
		plan, err := s.GeneratePlan(ctx, sessionID, request)
		if err != nil {
			return nil, err
		}
		proposal, err := s.machine.Propose(ctx, sessionID, plan)
		if err != nil {
			return nil, err
		}
		out.Phase, out.Reply, out.Plan = proposal.Phase, proposal.Reply, plan

	case turn.Execute:
		if err := s.ApprovePlan(ctx, sessionID, session.UserID); err != nil {
			return nil, err
		}
		result, err := s.ExecutePlan(ctx, sessionID)
		if err != nil && !errors.Is(err, agent.ErrCancelled) {
			return nil, err
		}
		if err := s.machine.Complete(ctx, sessionID, sessionID); err != nil {
			s.logger.Warn("failed to complete conversation", "session_id", sessionID, "error", err)
		}
		out.Phase, out.Plan, out.Result = models.PhaseCompleted, turn.Plan, result
		if result != nil {
			out.Reply = result.Summary
		} else {
			out.Reply = "Execution was cancelled."
		}
	}
	return out, nil
}

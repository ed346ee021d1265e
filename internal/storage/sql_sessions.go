package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/haasonsaas/foreman/pkg/models"
)

const sessionColumns = `id, user_id, project_id, state, plan, result, context, error, started_at, updated_at`

// CreateSession inserts a new session.
func (s *SQLStore) CreateSession(ctx context.Context, session *models.AgentSession) error {
	if session == nil {
		return fmt.Errorf("session is required")
	}
	planJSON, resultJSON, contextJSON, err := encodeSession(session)
	if err != nil {
		return err
	}

	_, err = s.exec(ctx, `
		INSERT INTO agent_sessions (`+sessionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		session.ID,
		session.UserID,
		nullableString(session.ProjectID),
		string(session.State),
		planJSON,
		resultJSON,
		contextJSON,
		nullableString(session.Error),
		session.StartedAt,
		session.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

// GetSession retrieves a session by ID.
func (s *SQLStore) GetSession(ctx context.Context, id string) (*models.AgentSession, error) {
	row := s.queryRow(ctx, `SELECT `+sessionColumns+` FROM agent_sessions WHERE id = $1`, id)
	session, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return session, nil
}

// UpdateSession replaces the mutable fields of a session.
func (s *SQLStore) UpdateSession(ctx context.Context, session *models.AgentSession) error {
	if session == nil {
		return fmt.Errorf("session is required")
	}
	planJSON, resultJSON, contextJSON, err := encodeSession(session)
	if err != nil {
		return err
	}

	res, err := s.exec(ctx, `
		UPDATE agent_sessions SET
			project_id = $2,
			state = $3,
			plan = $4,
			result = $5,
			context = $6,
			error = $7,
			updated_at = $8
		WHERE id = $1
	`,
		session.ID,
		nullableString(session.ProjectID),
		string(session.State),
		planJSON,
		resultJSON,
		contextJSON,
		nullableString(session.Error),
		session.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	return expectAffected(res)
}

// ListSessions returns matching sessions, newest first.
func (s *SQLStore) ListSessions(ctx context.Context, filter SessionFilter) ([]*models.AgentSession, error) {
	q := newListQuery(`SELECT ` + sessionColumns + ` FROM agent_sessions WHERE 1=1`)
	if filter.UserID != "" {
		q.where("user_id = $%d", filter.UserID)
	}
	if len(filter.States) > 0 {
		states := make([]string, len(filter.States))
		for i, state := range filter.States {
			states[i] = string(state)
		}
		q.in("state", states)
	}
	if !filter.UpdatedBefore.IsZero() {
		q.where("updated_at < $%d", filter.UpdatedBefore)
	}
	q.orderLimit("started_at DESC", filter.Limit)

	rows, err := s.query(ctx, q.String(), q.args...)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*models.AgentSession
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return sessions, nil
}

func encodeSession(session *models.AgentSession) (planJSON, resultJSON, contextJSON []byte, err error) {
	if session.Plan != nil {
		if planJSON, err = marshalJSON(session.Plan); err != nil {
			return nil, nil, nil, fmt.Errorf("marshal plan: %w", err)
		}
	}
	if session.Result != nil {
		if resultJSON, err = marshalJSON(session.Result); err != nil {
			return nil, nil, nil, fmt.Errorf("marshal result: %w", err)
		}
	}
	if contextJSON, err = marshalJSON(session.Context); err != nil {
		return nil, nil, nil, fmt.Errorf("marshal context: %w", err)
	}
	return planJSON, resultJSON, contextJSON, nil
}

func scanSession(sc scanner) (*models.AgentSession, error) {
	var (
		session     models.AgentSession
		projectID   sql.NullString
		state       string
		planJSON    []byte
		resultJSON  []byte
		contextJSON []byte
		errMsg      sql.NullString
	)
	if err := sc.Scan(
		&session.ID,
		&session.UserID,
		&projectID,
		&state,
		&planJSON,
		&resultJSON,
		&contextJSON,
		&errMsg,
		&session.StartedAt,
		&session.UpdatedAt,
	); err != nil {
		return nil, err
	}

	session.ProjectID = projectID.String
	session.State = models.SessionState(state)
	session.Error = errMsg.String
	if len(planJSON) > 0 {
		session.Plan = &models.Plan{}
		if err := unmarshalJSON(planJSON, session.Plan); err != nil {
			return nil, fmt.Errorf("unmarshal plan: %w", err)
		}
	}
	if len(resultJSON) > 0 {
		session.Result = &models.AgentResult{}
		if err := unmarshalJSON(resultJSON, session.Result); err != nil {
			return nil, fmt.Errorf("unmarshal result: %w", err)
		}
	}
	if err := unmarshalJSON(contextJSON, &session.Context); err != nil {
		return nil, fmt.Errorf("unmarshal context: %w", err)
	}
	return &session, nil
}

// GetConversation retrieves conversation state by conversation ID.
func (s *SQLStore) GetConversation(ctx context.Context, id string) (*models.ConversationState, error) {
	var stateJSON []byte
	err := s.queryRow(ctx, `SELECT state FROM conversation_states WHERE id = $1`, id).Scan(&stateJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	var state models.ConversationState
	if err := unmarshalJSON(stateJSON, &state); err != nil {
		return nil, fmt.Errorf("unmarshal conversation: %w", err)
	}
	return &state, nil
}

// SaveConversation upserts conversation state.
func (s *SQLStore) SaveConversation(ctx context.Context, state *models.ConversationState) error {
	if state == nil {
		return fmt.Errorf("conversation state is required")
	}
	stateJSON, err := marshalJSON(state)
	if err != nil {
		return fmt.Errorf("marshal conversation: %w", err)
	}
	_, err = s.exec(ctx, `
		INSERT INTO conversation_states (id, phase, state, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			phase = excluded.phase,
			state = excluded.state,
			updated_at = excluded.updated_at
	`, state.ConversationID, string(state.Phase), stateJSON, state.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save conversation: %w", err)
	}
	return nil
}

// DeleteConversation removes conversation state.
func (s *SQLStore) DeleteConversation(ctx context.Context, id string) error {
	if _, err := s.exec(ctx, `DELETE FROM conversation_states WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	return nil
}

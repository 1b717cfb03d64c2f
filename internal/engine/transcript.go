package engine

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/google/uuid"

	"missioncontrol/internal/audit"
	"missioncontrol/internal/domain"
	"missioncontrol/internal/repo"
)

// CreateConversation opens a conversation. A TASK conversation may name its task; each task
// has at most one.
func (e Engine) CreateConversation(ctx context.Context, typ domain.ConversationType, taskID string, actor audit.Actor) (domain.Conversation, error) {
	if !typ.Valid() {
		return domain.Conversation{}, invalid("type", "must be TASK or WAR_ROOM, got %q", typ)
	}
	task := optionalString(taskID)
	if task != nil && typ != domain.ConversationTask {
		return domain.Conversation{}, invalid("task_id", "only TASK conversations reference a task")
	}
	var c domain.Conversation
	err := inTx(ctx, e.DB, func(tx *sql.Tx) error {
		if task != nil {
			if _, err := e.Repo.GetTaskTx(ctx, tx, *task); err != nil {
				if errors.Is(err, repo.ErrNotFound) {
					return invalid("task_id", "task %s not found", *task)
				}
				return err
			}
			if _, err := e.Repo.GetConversationByTaskTx(ctx, tx, *task); err == nil {
				return invalid("task_id", "task %s already has a conversation", *task)
			} else if !errors.Is(err, repo.ErrNotFound) {
				return err
			}
		}
		var err error
		c, err = e.createConversationTx(ctx, tx, typ, task, actor)
		return err
	})
	if err != nil {
		return domain.Conversation{}, err
	}
	return c, nil
}

// CreateConversationTx opens a conversation inside the caller's transaction.
func (e Engine) CreateConversationTx(ctx context.Context, tx *sql.Tx, typ domain.ConversationType, actor audit.Actor) (domain.Conversation, error) {
	return e.createConversationTx(ctx, tx, typ, nil, actor)
}

func (e Engine) createConversationTx(ctx context.Context, tx *sql.Tx, typ domain.ConversationType, taskID *string, actor audit.Actor) (domain.Conversation, error) {
	c := domain.Conversation{
		ID:        uuid.NewString(),
		Type:      typ,
		TaskID:    taskID,
		CreatedAt: e.timestamp(),
	}
	if err := e.Repo.InsertConversation(ctx, tx, c); err != nil {
		return c, err
	}
	_, err := e.AuditWriter().Append(ctx, tx, actor, "conversation.created", "conversation", c.ID, audit.Payload{
		"type":    c.Type,
		"task_id": derefString(taskID),
	})
	return c, err
}

func (e Engine) GetConversation(ctx context.Context, id string) (domain.Conversation, error) {
	return e.Repo.GetConversation(ctx, id)
}

// TurnInput is the content of a turn to append.
type TurnInput struct {
	SpeakerType    string
	SpeakerID      string
	Content        string
	ToolEventsJSON string
}

func validateTurn(in TurnInput) error {
	switch in.SpeakerType {
	case domain.SpeakerSystem, domain.SpeakerAgent, domain.SpeakerOperator:
	default:
		return invalid("speaker_type", "must be system, agent or operator, got %q", in.SpeakerType)
	}
	if in.SpeakerType == domain.SpeakerAgent && strings.TrimSpace(in.SpeakerID) == "" {
		return invalid("speaker_id", "is required for agent turns")
	}
	if strings.TrimSpace(in.Content) == "" && strings.TrimSpace(in.ToolEventsJSON) == "" {
		return invalid("content", "is required")
	}
	return validateJSON("tool_events", in.ToolEventsJSON)
}

// AppendTurn appends one turn to the end of a conversation and audits the append.
func (e Engine) AppendTurn(ctx context.Context, conversationID string, in TurnInput, actor audit.Actor) (domain.Turn, error) {
	var turn domain.Turn
	err := inTx(ctx, e.DB, func(tx *sql.Tx) error {
		var err error
		turn, err = e.AppendTurnTx(ctx, tx, conversationID, in)
		if err != nil {
			return err
		}
		_, err = e.AuditWriter().Append(ctx, tx, actor, "turn.appended", "conversation", conversationID, audit.Payload{
			"turn_id":      turn.ID,
			"seq":          turn.Seq,
			"speaker_type": turn.SpeakerType,
		})
		return err
	})
	if err != nil {
		return domain.Turn{}, err
	}
	return turn, nil
}

// AppendTurnTx appends inside the caller's transaction without an audit record; the chair
// uses it since the transcript is the record of a run.
func (e Engine) AppendTurnTx(ctx context.Context, tx *sql.Tx, conversationID string, in TurnInput) (domain.Turn, error) {
	if err := validateTurn(in); err != nil {
		return domain.Turn{}, err
	}
	if _, err := e.Repo.GetConversationTx(ctx, tx, conversationID); err != nil {
		return domain.Turn{}, err
	}
	return e.Repo.InsertTurn(ctx, tx, domain.Turn{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		SpeakerType:    in.SpeakerType,
		SpeakerID:      optionalString(in.SpeakerID),
		Content:        in.Content,
		ToolEventsJSON: strings.TrimSpace(in.ToolEventsJSON),
		CreatedAt:      e.timestamp(),
	})
}

// ReadTurns returns the transcript in append order. It fails with repo.ErrNotFound for an
// unknown conversation.
func (e Engine) ReadTurns(ctx context.Context, conversationID string) ([]domain.Turn, error) {
	if _, err := e.Repo.GetConversation(ctx, conversationID); err != nil {
		return nil, err
	}
	return e.Repo.ListTurns(ctx, conversationID)
}

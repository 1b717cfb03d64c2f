package repo

import (
	"context"
	"database/sql"

	"missioncontrol/internal/domain"
)

func scanConversation(row rowScanner) (domain.Conversation, error) {
	var c domain.Conversation
	var taskID sql.NullString
	var typ string
	err := row.Scan(&c.ID, &typ, &taskID, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	if err != nil {
		return c, err
	}
	c.Type = domain.ConversationType(typ)
	c.TaskID = stringPtr(taskID)
	return c, nil
}

func (r Repo) InsertConversation(ctx context.Context, tx *sql.Tx, c domain.Conversation) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO conversations(id,type,task_id,created_at) VALUES (?,?,?,?)`,
		c.ID, string(c.Type), nullableStringPtr(c.TaskID), c.CreatedAt)
	return err
}

func (r Repo) GetConversation(ctx context.Context, id string) (domain.Conversation, error) {
	return scanConversation(r.DB.QueryRowContext(ctx, `SELECT id,type,task_id,created_at FROM conversations WHERE id=?`, id))
}

func (r Repo) GetConversationTx(ctx context.Context, tx *sql.Tx, id string) (domain.Conversation, error) {
	return scanConversation(tx.QueryRowContext(ctx, `SELECT id,type,task_id,created_at FROM conversations WHERE id=?`, id))
}

func (r Repo) GetConversationByTaskTx(ctx context.Context, tx *sql.Tx, taskID string) (domain.Conversation, error) {
	return scanConversation(tx.QueryRowContext(ctx, `SELECT id,type,task_id,created_at FROM conversations WHERE task_id=?`, taskID))
}

// InsertTurn appends t at the end of its conversation, assigning the next sequence number.
// It must run inside the transaction that owns the write so seq stays gap free.
func (r Repo) InsertTurn(ctx context.Context, tx *sql.Tx, t domain.Turn) (domain.Turn, error) {
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq),0)+1 FROM turns WHERE conversation_id=?`, t.ConversationID).Scan(&t.Seq); err != nil {
		return t, err
	}
	_, err := tx.ExecContext(ctx, `INSERT INTO turns(id,conversation_id,seq,speaker_type,speaker_id,content,tool_events_json,created_at) VALUES (?,?,?,?,?,?,?,?)`,
		t.ID, t.ConversationID, t.Seq, t.SpeakerType, nullableStringPtr(t.SpeakerID), t.Content, nullable(t.ToolEventsJSON), t.CreatedAt)
	return t, err
}

// ListTurns returns the whole transcript of a conversation in append order.
func (r Repo) ListTurns(ctx context.Context, conversationID string) ([]domain.Turn, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,conversation_id,seq,speaker_type,speaker_id,content,tool_events_json,created_at
FROM turns WHERE conversation_id=? ORDER BY seq ASC`, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Turn{}
	for rows.Next() {
		var t domain.Turn
		var speakerID, toolEvents sql.NullString
		if err := rows.Scan(&t.ID, &t.ConversationID, &t.Seq, &t.SpeakerType, &speakerID, &t.Content, &toolEvents, &t.CreatedAt); err != nil {
			return nil, err
		}
		t.SpeakerID = stringPtr(speakerID)
		if toolEvents.Valid {
			t.ToolEventsJSON = toolEvents.String
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

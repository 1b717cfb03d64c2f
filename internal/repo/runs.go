package repo

import (
	"context"
	"database/sql"

	"missioncontrol/internal/domain"
)

const runColumns = `id,conversation_id,slot,state,final_answer,delivery_error,delivered_at,created_at,updated_at`

func scanRun(row rowScanner) (domain.WarRoomRun, error) {
	var run domain.WarRoomRun
	var slot, answer, deliveryErr, deliveredAt sql.NullString
	var state string
	err := row.Scan(&run.ID, &run.ConversationID, &slot, &state, &answer, &deliveryErr, &deliveredAt, &run.CreatedAt, &run.UpdatedAt)
	if err == sql.ErrNoRows {
		return run, ErrNotFound
	}
	if err != nil {
		return run, err
	}
	run.State = domain.RunState(state)
	run.Slot = stringPtr(slot)
	if answer.Valid {
		run.FinalAnswer = answer.String
	}
	run.DeliveryError = stringPtr(deliveryErr)
	run.DeliveredAt = stringPtr(deliveredAt)
	return run, nil
}

func (r Repo) InsertRun(ctx context.Context, tx *sql.Tx, run domain.WarRoomRun) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO war_room_runs(`+runColumns+`) VALUES (?,?,?,?,?,?,?,?,?)`,
		run.ID, run.ConversationID, nullableStringPtr(run.Slot), string(run.State), nil, nil, nil, run.CreatedAt, run.UpdatedAt)
	return err
}

func (r Repo) GetRun(ctx context.Context, id string) (domain.WarRoomRun, error) {
	return scanRun(r.DB.QueryRowContext(ctx, `SELECT `+runColumns+` FROM war_room_runs WHERE id=?`, id))
}

func (r Repo) GetRunBySlot(ctx context.Context, slot string) (domain.WarRoomRun, error) {
	return scanRun(r.DB.QueryRowContext(ctx, `SELECT `+runColumns+` FROM war_room_runs WHERE slot=?`, slot))
}

// ListRuns returns runs newest first. The cursor is the composite created_at|id of the last
// run of the previous page.
func (r Repo) ListRuns(ctx context.Context, limit int, cursorCreatedAt, cursorID string) ([]domain.WarRoomRun, error) {
	query := `SELECT ` + runColumns + ` FROM war_room_runs`
	var args []any
	if cursorCreatedAt != "" && cursorID != "" {
		query += ` WHERE (created_at < ? OR (created_at = ? AND id < ?))`
		args = append(args, cursorCreatedAt, cursorCreatedAt, cursorID)
	}
	query += ` ORDER BY created_at DESC, id DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.WarRoomRun{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, run)
	}
	return res, rows.Err()
}

// UpdateRunState records a state transition. Terminal runs are never moved again.
func (r Repo) UpdateRunState(ctx context.Context, tx *sql.Tx, id string, state domain.RunState, now string) error {
	res, err := tx.ExecContext(ctx, `UPDATE war_room_runs SET state=?, updated_at=? WHERE id=? AND state NOT IN ('DELIVERED','DELIVERY_FAILED','CANCELLED')`,
		string(state), now, id)
	if err != nil {
		return err
	}
	return checkRunUpdated(ctx, tx, res, id)
}

// SetRunAnswer stores the final answer and moves the run to ANSWERED.
func (r Repo) SetRunAnswer(ctx context.Context, tx *sql.Tx, id, answer, now string) error {
	res, err := tx.ExecContext(ctx, `UPDATE war_room_runs SET state=?, final_answer=?, updated_at=? WHERE id=? AND final_answer IS NULL`,
		string(domain.RunAnswered), answer, now, id)
	if err != nil {
		return err
	}
	return checkRunUpdated(ctx, tx, res, id)
}

func (r Repo) MarkRunDelivered(ctx context.Context, tx *sql.Tx, id, now string) error {
	res, err := tx.ExecContext(ctx, `UPDATE war_room_runs SET state=?, delivered_at=?, updated_at=? WHERE id=? AND state=?`,
		string(domain.RunDelivered), now, now, id, string(domain.RunAnswered))
	if err != nil {
		return err
	}
	return checkRunUpdated(ctx, tx, res, id)
}

// SetRunDeliveryError annotates an answered run with the delivery failure. The answer and
// transcript are left as they are.
func (r Repo) SetRunDeliveryError(ctx context.Context, tx *sql.Tx, id, reason, now string) error {
	res, err := tx.ExecContext(ctx, `UPDATE war_room_runs SET state=?, delivery_error=?, updated_at=? WHERE id=? AND state=?`,
		string(domain.RunDeliveryFailed), reason, now, id, string(domain.RunAnswered))
	if err != nil {
		return err
	}
	return checkRunUpdated(ctx, tx, res, id)
}

func checkRunUpdated(ctx context.Context, tx *sql.Tx, res sql.Result, id string) error {
	if n, err := res.RowsAffected(); err != nil || n > 0 {
		return err
	}
	var one int
	err := tx.QueryRowContext(ctx, `SELECT 1 FROM war_room_runs WHERE id=?`, id).Scan(&one)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return ErrConflict
}

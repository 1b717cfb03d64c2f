package repo

import (
	"context"
	"database/sql"
	"strings"

	"missioncontrol/internal/domain"
)

func (r Repo) InsertAuditEvent(ctx context.Context, tx *sql.Tx, e domain.AuditEvent) (int64, error) {
	res, err := tx.ExecContext(ctx, `INSERT INTO audit_events(actor,role,action,entity_type,entity_id,payload_json,created_at) VALUES (?,?,?,?,?,?,?)`,
		e.Actor, e.Role, e.Action, e.EntityType, nullable(e.EntityID), e.PayloadJSON, e.CreatedAt)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

type AuditFilters struct {
	Actor      string
	Action     string
	EntityType string
	EntityID   string
	// Cursor returns events strictly older than this id.
	Cursor int64
	Limit  int
}

func scanAuditRows(rows *sql.Rows) ([]domain.AuditEvent, error) {
	defer rows.Close()
	res := []domain.AuditEvent{}
	for rows.Next() {
		var e domain.AuditEvent
		var entityID sql.NullString
		if err := rows.Scan(&e.ID, &e.Actor, &e.Role, &e.Action, &e.EntityType, &entityID, &e.PayloadJSON, &e.CreatedAt); err != nil {
			return nil, err
		}
		if entityID.Valid {
			e.EntityID = entityID.String
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// ListAuditEvents returns the most recent events first.
func (r Repo) ListAuditEvents(ctx context.Context, f AuditFilters) ([]domain.AuditEvent, error) {
	clauses := []string{"1=1"}
	var args []any
	if f.Actor != "" {
		clauses = append(clauses, "actor=?")
		args = append(args, f.Actor)
	}
	if f.Action != "" {
		clauses = append(clauses, "action=?")
		args = append(args, f.Action)
	}
	if f.EntityType != "" {
		clauses = append(clauses, "entity_type=?")
		args = append(args, f.EntityType)
	}
	if f.EntityID != "" {
		clauses = append(clauses, "entity_id=?")
		args = append(args, f.EntityID)
	}
	if f.Cursor > 0 {
		clauses = append(clauses, "id<?")
		args = append(args, f.Cursor)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, `SELECT id,actor,role,action,entity_type,entity_id,payload_json,created_at FROM audit_events
WHERE `+strings.Join(clauses, " AND ")+` ORDER BY id DESC LIMIT ?`, args...)
	if err != nil {
		return nil, err
	}
	return scanAuditRows(rows)
}

// AuditEventsAfter returns events with ids greater than cursor in ascending order.
func (r Repo) AuditEventsAfter(ctx context.Context, cursor int64, limit int) ([]domain.AuditEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT id,actor,role,action,entity_type,entity_id,payload_json,created_at FROM audit_events
WHERE id>? ORDER BY id ASC LIMIT ?`, cursor, limit)
	if err != nil {
		return nil, err
	}
	return scanAuditRows(rows)
}

func (r Repo) LatestAuditEventID(ctx context.Context) (int64, error) {
	var id int64
	err := r.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(id),0) FROM audit_events`).Scan(&id)
	return id, err
}

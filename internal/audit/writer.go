// Package audit appends immutable records of state mutations. Records are written inside
// the transaction of the mutation they describe, so a mutation commits only with its record.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"missioncontrol/internal/domain"
	"missioncontrol/internal/repo"
)

// Actor identifies who performed a mutation and in which role.
type Actor struct {
	ID   string
	Role string
}

// Chair is the actor for every mutation made while driving a war-room run.
var Chair = Actor{ID: "system:chair", Role: "system"}

type Payload map[string]any

type Writer struct {
	Repo repo.Repo
	Now  func() time.Time
}

func (w Writer) Append(ctx context.Context, tx *sql.Tx, actor Actor, action, entityType, entityID string, payload Payload) (domain.AuditEvent, error) {
	if actor.ID == "" {
		return domain.AuditEvent{}, errors.New("audit actor required")
	}
	if action == "" || entityType == "" {
		return domain.AuditEvent{}, errors.New("audit action and entity type required")
	}
	now := time.Now
	if w.Now != nil {
		now = w.Now
	}
	role := actor.Role
	if role == "" {
		role = "operator"
	}
	if payload == nil {
		payload = Payload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return domain.AuditEvent{}, fmt.Errorf("marshal audit payload: %w", err)
	}
	evt := domain.AuditEvent{
		Actor:       actor.ID,
		Role:        role,
		Action:      action,
		EntityType:  entityType,
		EntityID:    entityID,
		PayloadJSON: string(data),
		CreatedAt:   repo.FormatTime(now()),
	}
	id, err := w.Repo.InsertAuditEvent(ctx, tx, evt)
	if err != nil {
		return domain.AuditEvent{}, fmt.Errorf("record audit %s: %w", action, err)
	}
	evt.ID = id
	return evt, nil
}

package engine

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"strings"

	"github.com/google/uuid"

	"missioncontrol/internal/audit"
	"missioncontrol/internal/domain"
	"missioncontrol/internal/repo"
)

// ListAudit returns audit events most recent first.
func (e Engine) ListAudit(ctx context.Context, f repo.AuditFilters) ([]domain.AuditEvent, error) {
	return e.Repo.ListAuditEvents(ctx, f)
}

// CreateAPIKey issues a key for actorID. The plaintext is returned once and only its hash is stored.
func (e Engine) CreateAPIKey(ctx context.Context, actorID, role, name string, actor audit.Actor) (domain.APIKey, string, error) {
	actorID = strings.TrimSpace(actorID)
	if actorID == "" {
		return domain.APIKey{}, "", invalid("actor_id", "is required")
	}
	if role == "" {
		role = "operator"
	}
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return domain.APIKey{}, "", err
	}
	plaintext := "mc_" + hex.EncodeToString(buf)
	key := domain.APIKey{
		ID:        uuid.NewString(),
		ActorID:   actorID,
		Role:      role,
		Name:      name,
		KeyHash:   repo.HashAPIKey(plaintext),
		CreatedAt: e.timestamp(),
	}
	err := inTx(ctx, e.DB, func(tx *sql.Tx) error {
		if err := e.Repo.InsertAPIKey(ctx, tx, key); err != nil {
			return err
		}
		_, err := e.AuditWriter().Append(ctx, tx, actor, "api_key.created", "api_key", key.ID, audit.Payload{
			"actor_id": key.ActorID,
			"role":     key.Role,
			"name":     key.Name,
		})
		return err
	})
	if err != nil {
		return domain.APIKey{}, "", err
	}
	return key, plaintext, nil
}

func (e Engine) ListAPIKeys(ctx context.Context, actorID string) ([]domain.APIKey, error) {
	return e.Repo.ListAPIKeys(ctx, actorID)
}

func (e Engine) RevokeAPIKey(ctx context.Context, id string, actor audit.Actor) error {
	return inTx(ctx, e.DB, func(tx *sql.Tx) error {
		if err := e.Repo.DeleteAPIKey(ctx, tx, id); err != nil {
			return err
		}
		_, err := e.AuditWriter().Append(ctx, tx, actor, "api_key.revoked", "api_key", id, nil)
		return err
	})
}

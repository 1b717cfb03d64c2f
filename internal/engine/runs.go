package engine

import (
	"context"
	"strings"

	"missioncontrol/internal/domain"
)

func (e Engine) GetRun(ctx context.Context, id string) (domain.WarRoomRun, error) {
	return e.Repo.GetRun(ctx, id)
}

// ListRuns pages runs newest first. The returned cursor is empty on the last page.
func (e Engine) ListRuns(ctx context.Context, limit int, cursor string) ([]domain.WarRoomRun, string, error) {
	if limit <= 0 {
		limit = 20
	}
	var createdAt, id string
	if cursor != "" {
		var ok bool
		createdAt, id, ok = strings.Cut(cursor, "|")
		if !ok || createdAt == "" || id == "" {
			return nil, "", invalid("cursor", "malformed cursor")
		}
	}
	runs, err := e.Repo.ListRuns(ctx, limit, createdAt, id)
	if err != nil {
		return nil, "", err
	}
	next := ""
	if len(runs) == limit {
		last := runs[len(runs)-1]
		next = last.CreatedAt + "|" + last.ID
	}
	return runs, next, nil
}

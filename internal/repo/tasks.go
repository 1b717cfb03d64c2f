package repo

import (
	"context"
	"database/sql"
	"strings"

	"missioncontrol/internal/domain"
)

const taskColumns = `id,title,description,status,priority,sort_order,owner_agent_id,version,created_at,updated_at`

func scanTask(row rowScanner) (domain.Task, error) {
	var t domain.Task
	var description, owner sql.NullString
	var sortOrder sql.NullInt64
	var status string
	err := row.Scan(&t.ID, &t.Title, &description, &status, &t.Priority, &sortOrder, &owner, &t.Version, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	t.Status = domain.TaskStatus(status)
	if description.Valid {
		t.Description = description.String
	}
	if sortOrder.Valid {
		v := int(sortOrder.Int64)
		t.SortOrder = &v
	}
	t.OwnerAgentID = stringPtr(owner)
	return t, nil
}

func (r Repo) InsertTask(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO tasks(`+taskColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.Title, nullable(t.Description), string(t.Status), t.Priority, nullableIntPtr(t.SortOrder),
		nullableStringPtr(t.OwnerAgentID), t.Version, t.CreatedAt, t.UpdatedAt)
	return err
}

func (r Repo) GetTask(ctx context.Context, id string) (domain.Task, error) {
	return scanTask(r.DB.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id))
}

func (r Repo) GetTaskTx(ctx context.Context, tx *sql.Tx, id string) (domain.Task, error) {
	return scanTask(tx.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id))
}

// UpdateTask stores t when the row still carries expectedVersion; the stored version is bumped.
func (r Repo) UpdateTask(ctx context.Context, tx *sql.Tx, t domain.Task, expectedVersion int64) error {
	res, err := tx.ExecContext(ctx, `UPDATE tasks SET title=?, description=?, status=?, priority=?, sort_order=?, owner_agent_id=?, version=version+1, updated_at=?
WHERE id=? AND version=?`,
		t.Title, nullable(t.Description), string(t.Status), t.Priority, nullableIntPtr(t.SortOrder), nullableStringPtr(t.OwnerAgentID),
		t.UpdatedAt, t.ID, expectedVersion)
	if err != nil {
		return err
	}
	return checkVersioned(ctx, tx, res, "tasks", t.ID)
}

type TaskFilters struct {
	Status       domain.TaskStatus
	OwnerAgentID string
	Limit        int
}

// ListTasks orders tasks the way a board column reads: explicit sort_order first,
// then higher priority, then oldest.
func (r Repo) ListTasks(ctx context.Context, f TaskFilters) ([]domain.Task, error) {
	var clauses []string
	var args []any
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, string(f.Status))
	}
	if f.OwnerAgentID != "" {
		clauses = append(clauses, "owner_agent_id=?")
		args = append(args, f.OwnerAgentID)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + taskColumns + ` FROM tasks ` + where + `
ORDER BY CASE WHEN sort_order IS NULL THEN 1 ELSE 0 END, sort_order ASC, priority DESC, created_at ASC, id ASC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Task{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

func (r Repo) CountTasksByStatus(ctx context.Context) (map[domain.TaskStatus]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT status, count(*) FROM tasks GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[domain.TaskStatus]int{}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		res[domain.TaskStatus(status)] = count
	}
	return res, rows.Err()
}

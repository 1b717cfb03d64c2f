package engine

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"missioncontrol/internal/audit"
	"missioncontrol/internal/domain"
	"missioncontrol/internal/repo"
)

// TaskCreateOptions are parameters for creating a task.
type TaskCreateOptions struct {
	ID           string
	Title        string
	Description  string
	Status       domain.TaskStatus
	Priority     int
	SortOrder    *int
	OwnerAgentID string
	Actor        audit.Actor
}

func (e Engine) CreateTask(ctx context.Context, opts TaskCreateOptions) (domain.Task, error) {
	now := e.timestamp()
	t := domain.Task{
		ID:           newID(opts.ID),
		Title:        strings.TrimSpace(opts.Title),
		Description:  opts.Description,
		Status:       opts.Status,
		Priority:     opts.Priority,
		SortOrder:    opts.SortOrder,
		OwnerAgentID: optionalString(opts.OwnerAgentID),
		Version:      1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if t.Status == "" {
		t.Status = domain.StatusBacklog
	}
	if t.Title == "" {
		return domain.Task{}, invalid("title", "is required")
	}
	if !t.Status.Valid() {
		return domain.Task{}, invalid("status", "unknown status %q", t.Status)
	}
	err := inTx(ctx, e.DB, func(tx *sql.Tx) error {
		if err := e.ensureOwner(ctx, tx, t.OwnerAgentID); err != nil {
			return err
		}
		if err := e.Repo.InsertTask(ctx, tx, t); err != nil {
			return err
		}
		_, err := e.AuditWriter().Append(ctx, tx, opts.Actor, "task.created", "task", t.ID, audit.Payload{
			"title":          t.Title,
			"status":         t.Status,
			"owner_agent_id": derefString(t.OwnerAgentID),
		})
		return err
	})
	if err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

func (e Engine) ensureOwner(ctx context.Context, tx *sql.Tx, owner *string) error {
	if owner == nil {
		return nil
	}
	if _, err := e.Repo.GetAgentTx(ctx, tx, *owner); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return invalid("owner_agent_id", "agent %s not found", *owner)
		}
		return err
	}
	return nil
}

func (e Engine) GetTask(ctx context.Context, id string) (domain.Task, error) {
	return e.Repo.GetTask(ctx, id)
}

func (e Engine) ListTasks(ctx context.Context, f repo.TaskFilters) ([]domain.Task, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, invalid("status", "unknown status %q", f.Status)
	}
	return e.Repo.ListTasks(ctx, f)
}

// TaskUpdateOptions patches a task. Nil fields are left unchanged; an empty OwnerAgentID
// clears the owner and ClearSortOrder drops the tie-break.
type TaskUpdateOptions struct {
	ID              string
	ExpectedVersion *int64
	Title           *string
	Description     *string
	Status          *domain.TaskStatus
	Priority        *int
	SortOrder       *int
	ClearSortOrder  bool
	OwnerAgentID    *string
	Actor           audit.Actor
}

// UpdateTask applies a version-checked patch. Any column may move to any column.
// A status move, a reassignment and other field edits are each audited as their own event.
func (e Engine) UpdateTask(ctx context.Context, opts TaskUpdateOptions) (domain.Task, error) {
	var t domain.Task
	err := inTx(ctx, e.DB, func(tx *sql.Tx) error {
		var err error
		t, err = e.updateTaskTx(ctx, tx, opts)
		return err
	})
	if err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

func (e Engine) updateTaskTx(ctx context.Context, tx *sql.Tx, opts TaskUpdateOptions) (domain.Task, error) {
	t, err := e.Repo.GetTaskTx(ctx, tx, opts.ID)
	if err != nil {
		return t, err
	}
	expected := t.Version
	if opts.ExpectedVersion != nil {
		if *opts.ExpectedVersion != t.Version {
			return t, repo.ErrConflict
		}
		expected = *opts.ExpectedVersion
	}
	original := t
	var fields []string
	if opts.Title != nil && strings.TrimSpace(*opts.Title) != t.Title {
		t.Title = strings.TrimSpace(*opts.Title)
		if t.Title == "" {
			return t, invalid("title", "is required")
		}
		fields = append(fields, "title")
	}
	if opts.Description != nil && *opts.Description != t.Description {
		t.Description = *opts.Description
		fields = append(fields, "description")
	}
	if opts.Priority != nil && *opts.Priority != t.Priority {
		t.Priority = *opts.Priority
		fields = append(fields, "priority")
	}
	if opts.ClearSortOrder && t.SortOrder != nil {
		t.SortOrder = nil
		fields = append(fields, "sort_order")
	} else if opts.SortOrder != nil && (t.SortOrder == nil || *t.SortOrder != *opts.SortOrder) {
		v := *opts.SortOrder
		t.SortOrder = &v
		fields = append(fields, "sort_order")
	}
	statusChanged := false
	if opts.Status != nil && *opts.Status != t.Status {
		if !opts.Status.Valid() {
			return t, invalid("status", "unknown status %q", *opts.Status)
		}
		t.Status = *opts.Status
		statusChanged = true
	}
	ownerChanged := false
	if opts.OwnerAgentID != nil && *opts.OwnerAgentID != derefString(t.OwnerAgentID) {
		t.OwnerAgentID = optionalString(*opts.OwnerAgentID)
		if err := e.ensureOwner(ctx, tx, t.OwnerAgentID); err != nil {
			return t, err
		}
		ownerChanged = true
	}
	if !statusChanged && !ownerChanged && len(fields) == 0 {
		return t, nil
	}
	t.UpdatedAt = e.timestamp()
	if err := e.Repo.UpdateTask(ctx, tx, t, expected); err != nil {
		return t, err
	}
	t.Version = expected + 1
	w := e.AuditWriter()
	if statusChanged {
		if _, err := w.Append(ctx, tx, opts.Actor, "task.status_changed", "task", t.ID, audit.Payload{
			"from": original.Status,
			"to":   t.Status,
		}); err != nil {
			return t, err
		}
	}
	if ownerChanged {
		if _, err := w.Append(ctx, tx, opts.Actor, "task.reassigned", "task", t.ID, audit.Payload{
			"from": derefString(original.OwnerAgentID),
			"to":   derefString(t.OwnerAgentID),
		}); err != nil {
			return t, err
		}
	}
	if len(fields) > 0 {
		if _, err := w.Append(ctx, tx, opts.Actor, "task.updated", "task", t.ID, audit.Payload{"fields": fields}); err != nil {
			return t, err
		}
	}
	return t, nil
}

// BoardColumn is one status column of the board in display order.
type BoardColumn struct {
	Status domain.TaskStatus `json:"status"`
	Tasks  []domain.Task     `json:"tasks"`
}

// Board returns all six columns, each ordered the way ListTasks orders tasks.
func (e Engine) Board(ctx context.Context) ([]BoardColumn, error) {
	tasks, err := e.Repo.ListTasks(ctx, repo.TaskFilters{})
	if err != nil {
		return nil, err
	}
	byStatus := map[domain.TaskStatus][]domain.Task{}
	for _, t := range tasks {
		byStatus[t.Status] = append(byStatus[t.Status], t)
	}
	cols := make([]BoardColumn, 0, len(domain.TaskStatuses))
	for _, s := range domain.TaskStatuses {
		col := BoardColumn{Status: s, Tasks: byStatus[s]}
		if col.Tasks == nil {
			col.Tasks = []domain.Task{}
		}
		cols = append(cols, col)
	}
	return cols, nil
}

// TaskConversation returns the task's conversation, creating it on first use.
func (e Engine) TaskConversation(ctx context.Context, taskID string, actor audit.Actor) (domain.Conversation, error) {
	var c domain.Conversation
	err := inTx(ctx, e.DB, func(tx *sql.Tx) error {
		if _, err := e.Repo.GetTaskTx(ctx, tx, taskID); err != nil {
			return err
		}
		var err error
		c, err = e.Repo.GetConversationByTaskTx(ctx, tx, taskID)
		if err == nil {
			return nil
		}
		if !errors.Is(err, repo.ErrNotFound) {
			return err
		}
		c, err = e.createConversationTx(ctx, tx, domain.ConversationTask, &taskID, actor)
		return err
	})
	if err != nil {
		return domain.Conversation{}, err
	}
	return c, nil
}

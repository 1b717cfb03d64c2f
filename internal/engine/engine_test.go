package engine_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"missioncontrol/internal/audit"
	"missioncontrol/internal/config"
	"missioncontrol/internal/db"
	"missioncontrol/internal/domain"
	"missioncontrol/internal/engine"
	"missioncontrol/internal/migrate"
	"missioncontrol/internal/repo"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

var operator = audit.Actor{ID: "op-1", Role: "operator"}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	eng := engine.New(conn, config.Default())
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var tick int
	eng.Now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Millisecond)
	}
	return testEnv{Engine: eng, Ctx: context.Background()}
}

func (env testEnv) auditActions(t *testing.T, entityID string) []string {
	t.Helper()
	events, err := env.Engine.ListAudit(env.Ctx, repo.AuditFilters{EntityID: entityID, Limit: 100})
	if err != nil {
		t.Fatalf("list audit: %v", err)
	}
	var actions []string
	for i := len(events) - 1; i >= 0; i-- {
		actions = append(actions, events[i].Action)
	}
	return actions
}

func TestCreateAgentDefaultsAndValidation(t *testing.T) {
	env := newTestEnv(t)
	a, err := env.Engine.CreateAgent(env.Ctx, engine.AgentCreateOptions{
		ID:          "a1",
		Name:        "Scout",
		Role:        "research",
		SkillsAllow: []string{"report-status", "report-status"},
		Actor:       operator,
	})
	if err != nil {
		t.Fatalf("create agent: %v", err)
	}
	if !a.Enabled || a.Version != 1 {
		t.Fatalf("unexpected defaults %+v", a)
	}
	if len(a.SkillsAllow) != 1 || a.SkillsAllow[0] != "report-status" {
		t.Fatalf("skills not normalized: %v", a.SkillsAllow)
	}
	if len(a.OutputContract.RequiredFields) != 4 {
		t.Fatalf("expected default output contract, got %v", a.OutputContract)
	}
	_, err = env.Engine.CreateAgent(env.Ctx, engine.AgentCreateOptions{Name: "x", Role: "y",
		ExecutionPolicy: domain.ExecutionPolicy{Default: "auto"}, Actor: operator})
	var verr *engine.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := env.Engine.CreateAgent(env.Ctx, engine.AgentCreateOptions{Role: "y", Actor: operator}); !errors.As(err, &verr) {
		t.Fatalf("expected name required, got %v", err)
	}
	got := env.auditActions(t, "a1")
	if len(got) != 1 || got[0] != "agent.created" {
		t.Fatalf("unexpected audit %v", got)
	}
}

func TestPaddedSkillsRejected(t *testing.T) {
	env := newTestEnv(t)
	for _, skills := range [][]string{{" report-status"}, {"report-status\t"}, {""}} {
		_, err := env.Engine.CreateAgent(env.Ctx, engine.AgentCreateOptions{Name: "x", Role: "y", SkillsAllow: skills, Actor: operator})
		var verr *engine.ValidationError
		if !errors.As(err, &verr) || verr.Field != "skills_allow" {
			t.Fatalf("skills %q: expected skills_allow validation error, got %v", skills, err)
		}
	}
	a, err := env.Engine.CreateAgent(env.Ctx, engine.AgentCreateOptions{ID: "a1", Name: "x", Role: "y", SkillsAllow: []string{"report-status"}, Actor: operator})
	if err != nil {
		t.Fatal(err)
	}
	padded := []string{"report-status "}
	_, err = env.Engine.UpdateAgent(env.Ctx, engine.AgentUpdateOptions{ID: a.ID, SkillsAllow: &padded, Actor: operator})
	var verr *engine.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected validation error on update, got %v", err)
	}
	got, err := env.Engine.GetAgent(env.Ctx, a.ID)
	if err != nil || len(got.SkillsAllow) != 1 || got.SkillsAllow[0] != "report-status" || got.Version != 1 {
		t.Fatalf("rejected update changed agent: %+v %v", got, err)
	}
}

func TestUpdateAgentVersionAndAudit(t *testing.T) {
	env := newTestEnv(t)
	a, err := env.Engine.CreateAgent(env.Ctx, engine.AgentCreateOptions{ID: "a1", Name: "Scout", Role: "research", Actor: operator})
	if err != nil {
		t.Fatal(err)
	}
	stale := a.Version
	name := "Scout II"
	a, err = env.Engine.UpdateAgent(env.Ctx, engine.AgentUpdateOptions{ID: "a1", ExpectedVersion: &stale, Name: &name, Actor: operator})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if a.Name != name || a.Version != stale+1 {
		t.Fatalf("unexpected agent %+v", a)
	}
	role := "lead"
	if _, err := env.Engine.UpdateAgent(env.Ctx, engine.AgentUpdateOptions{ID: "a1", ExpectedVersion: &stale, Role: &role, Actor: operator}); !errors.Is(err, repo.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if _, err := env.Engine.SetAgentEnabled(env.Ctx, "a1", false, operator); err != nil {
		t.Fatalf("disable: %v", err)
	}
	if _, err := env.Engine.UpdateAgent(env.Ctx, engine.AgentUpdateOptions{ID: "missing", Name: &name, Actor: operator}); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	got := env.auditActions(t, "a1")
	want := []string{"agent.created", "agent.updated", "agent.disabled"}
	if len(got) != len(want) {
		t.Fatalf("audit = %v want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("audit = %v want %v", got, want)
		}
	}
	enabled, err := env.Engine.ListAgents(env.Ctx, repo.AgentFilters{EnabledOnly: true})
	if err != nil || len(enabled) != 0 {
		t.Fatalf("expected no enabled agents, got %v %v", enabled, err)
	}
}

func TestUpdateWorkStateRestrictedToChairOrSelf(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.CreateAgent(env.Ctx, engine.AgentCreateOptions{ID: "a1", Name: "Scout", Role: "research", Actor: operator}); err != nil {
		t.Fatal(err)
	}
	ws := domain.WorkState{TaskID: "t1", Status: "working", NextStep: "ship"}
	var verr *engine.ValidationError
	if _, err := env.Engine.UpdateWorkState(env.Ctx, "a1", ws, operator); !errors.As(err, &verr) {
		t.Fatalf("expected rejection for operator, got %v", err)
	}
	a, err := env.Engine.UpdateWorkState(env.Ctx, "a1", ws, audit.Actor{ID: "a1", Role: "agent"})
	if err != nil {
		t.Fatalf("self update: %v", err)
	}
	if a.WorkState == nil || a.WorkState.Status != "working" || a.WorkState.UpdatedAt == "" {
		t.Fatalf("unexpected work state %+v", a.WorkState)
	}
	if _, err := env.Engine.UpdateWorkState(env.Ctx, "a1", ws, audit.Chair); err != nil {
		t.Fatalf("chair update: %v", err)
	}
}

func TestTaskStaleVersionConflictsAndStatusMoveAuditsOnce(t *testing.T) {
	env := newTestEnv(t)
	task, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{ID: "t1", Title: "Ship it", Actor: operator})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	if task.Status != domain.StatusBacklog {
		t.Fatalf("expected BACKLOG default, got %s", task.Status)
	}
	current := task.Version
	doing := domain.StatusDoing
	moved, err := env.Engine.UpdateTask(env.Ctx, engine.TaskUpdateOptions{ID: "t1", ExpectedVersion: &current, Status: &doing, Actor: operator})
	if err != nil {
		t.Fatalf("move: %v", err)
	}
	if moved.Status != domain.StatusDoing || moved.Version != current+1 {
		t.Fatalf("unexpected task %+v", moved)
	}
	done := domain.StatusDone
	if _, err := env.Engine.UpdateTask(env.Ctx, engine.TaskUpdateOptions{ID: "t1", ExpectedVersion: &current, Status: &done, Actor: operator}); !errors.Is(err, repo.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	events, err := env.Engine.ListAudit(env.Ctx, repo.AuditFilters{EntityID: "t1", Action: "task.status_changed"})
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 {
		t.Fatalf("expected one status event, got %d", len(events))
	}
	var payload map[string]string
	if err := json.Unmarshal([]byte(events[0].PayloadJSON), &payload); err != nil {
		t.Fatal(err)
	}
	if payload["from"] != "BACKLOG" || payload["to"] != "DOING" {
		t.Fatalf("unexpected payload %v", payload)
	}
	if got := env.auditActions(t, "t1"); len(got) != 2 {
		t.Fatalf("expected created + status_changed only, got %v", got)
	}
}

func TestAnyColumnToAnyColumn(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{ID: "t1", Title: "loop", Status: domain.StatusDone, Actor: operator}); err != nil {
		t.Fatal(err)
	}
	for _, s := range []domain.TaskStatus{domain.StatusBacklog, domain.StatusBlocked, domain.StatusReview, domain.StatusReady, domain.StatusDone} {
		s := s
		task, err := env.Engine.UpdateTask(env.Ctx, engine.TaskUpdateOptions{ID: "t1", Status: &s, Actor: operator})
		if err != nil || task.Status != s {
			t.Fatalf("move to %s: %v", s, err)
		}
	}
	bogus := domain.TaskStatus("ARCHIVED")
	var verr *engine.ValidationError
	if _, err := env.Engine.UpdateTask(env.Ctx, engine.TaskUpdateOptions{ID: "t1", Status: &bogus, Actor: operator}); !errors.As(err, &verr) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestReassignIsSeparateFromStatus(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.CreateAgent(env.Ctx, engine.AgentCreateOptions{ID: "a1", Name: "Scout", Role: "research", Actor: operator}); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{ID: "t1", Title: "x", OwnerAgentID: "ghost", Actor: operator}); err == nil {
		t.Fatalf("expected unknown owner to fail")
	}
	if _, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{ID: "t1", Title: "x", Actor: operator}); err != nil {
		t.Fatal(err)
	}
	owner := "a1"
	task, err := env.Engine.UpdateTask(env.Ctx, engine.TaskUpdateOptions{ID: "t1", OwnerAgentID: &owner, Actor: operator})
	if err != nil {
		t.Fatalf("reassign: %v", err)
	}
	if task.Status != domain.StatusBacklog || task.OwnerAgentID == nil || *task.OwnerAgentID != "a1" {
		t.Fatalf("unexpected task %+v", task)
	}
	got := env.auditActions(t, "t1")
	if len(got) != 2 || got[1] != "task.reassigned" {
		t.Fatalf("unexpected audit %v", got)
	}
}

func TestBoardColumnsOrdered(t *testing.T) {
	env := newTestEnv(t)
	one := 1
	for _, opts := range []engine.TaskCreateOptions{
		{ID: "low", Title: "low", Priority: 1},
		{ID: "high", Title: "high", Priority: 5},
		{ID: "pinned", Title: "pinned", Priority: 0, SortOrder: &one},
		{ID: "done", Title: "done", Status: domain.StatusDone},
	} {
		opts.Actor = operator
		if _, err := env.Engine.CreateTask(env.Ctx, opts); err != nil {
			t.Fatal(err)
		}
	}
	cols, err := env.Engine.Board(env.Ctx)
	if err != nil {
		t.Fatalf("board: %v", err)
	}
	if len(cols) != 6 || cols[0].Status != domain.StatusBacklog || cols[5].Status != domain.StatusDone {
		t.Fatalf("unexpected columns %+v", cols)
	}
	backlog := cols[0].Tasks
	if len(backlog) != 3 || backlog[0].ID != "pinned" || backlog[1].ID != "high" || backlog[2].ID != "low" {
		t.Fatalf("unexpected backlog order %+v", backlog)
	}
	if len(cols[5].Tasks) != 1 || len(cols[2].Tasks) != 0 {
		t.Fatalf("unexpected column contents")
	}
}

func TestTurnRoundTripPreservesOrder(t *testing.T) {
	env := newTestEnv(t)
	conv, err := env.Engine.CreateConversation(env.Ctx, domain.ConversationWarRoom, "", operator)
	if err != nil {
		t.Fatalf("create conversation: %v", err)
	}
	turns, err := env.Engine.ReadTurns(env.Ctx, conv.ID)
	if err != nil || len(turns) != 0 {
		t.Fatalf("expected empty transcript, got %v %v", turns, err)
	}
	contents := []string{"first", "second", "third", "fourth"}
	for _, c := range contents {
		if _, err := env.Engine.AppendTurn(env.Ctx, conv.ID, engine.TurnInput{SpeakerType: domain.SpeakerOperator, SpeakerID: "op-1", Content: c}, operator); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	first, err := env.Engine.ReadTurns(env.Ctx, conv.ID)
	if err != nil {
		t.Fatal(err)
	}
	second, err := env.Engine.ReadTurns(env.Ctx, conv.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(first) != len(contents) || len(second) != len(contents) {
		t.Fatalf("unexpected lengths %d %d", len(first), len(second))
	}
	for i, c := range contents {
		if first[i].Content != c || first[i].Seq != int64(i+1) {
			t.Fatalf("turn %d = %+v", i, first[i])
		}
		if first[i].ID != second[i].ID || first[i].Seq != second[i].Seq {
			t.Fatalf("reads differ at %d", i)
		}
	}
	if _, err := env.Engine.ReadTurns(env.Ctx, "missing"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := env.Engine.AppendTurn(env.Ctx, "missing", engine.TurnInput{SpeakerType: domain.SpeakerSystem, Content: "x"}, operator); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found on append, got %v", err)
	}
	var verr *engine.ValidationError
	if _, err := env.Engine.AppendTurn(env.Ctx, conv.ID, engine.TurnInput{SpeakerType: "robot", Content: "x"}, operator); !errors.As(err, &verr) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestTaskConversationIsUnique(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{ID: "t1", Title: "x", Actor: operator}); err != nil {
		t.Fatal(err)
	}
	c1, err := env.Engine.TaskConversation(env.Ctx, "t1", operator)
	if err != nil {
		t.Fatalf("task conversation: %v", err)
	}
	c2, err := env.Engine.TaskConversation(env.Ctx, "t1", operator)
	if err != nil {
		t.Fatal(err)
	}
	if c1.ID != c2.ID || c1.Type != domain.ConversationTask {
		t.Fatalf("expected same TASK conversation, got %+v %+v", c1, c2)
	}
	if _, err := env.Engine.CreateConversation(env.Ctx, domain.ConversationTask, "t1", operator); err == nil {
		t.Fatalf("expected duplicate task conversation to fail")
	}
	if _, err := env.Engine.TaskConversation(env.Ctx, "nope", operator); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestAPIKeyLifecycle(t *testing.T) {
	env := newTestEnv(t)
	key, plaintext, err := env.Engine.CreateAPIKey(env.Ctx, "ops-bot", "", "ci", operator)
	if err != nil {
		t.Fatalf("create key: %v", err)
	}
	if key.Role != "operator" || plaintext == "" || key.KeyHash == plaintext {
		t.Fatalf("unexpected key %+v", key)
	}
	found, err := env.Engine.Repo.GetAPIKeyByHash(env.Ctx, repo.HashAPIKey(plaintext))
	if err != nil || found.ID != key.ID {
		t.Fatalf("lookup by hash: %v", err)
	}
	if err := env.Engine.RevokeAPIKey(env.Ctx, key.ID, operator); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if err := env.Engine.RevokeAPIKey(env.Ctx, key.ID, operator); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

package missioncontrolsdk_test

import (
	"context"
	"net/http/httptest"
	"testing"

	"missioncontrol/internal/audit"
	"missioncontrol/internal/config"
	"missioncontrol/internal/db"
	"missioncontrol/internal/engine"
	"missioncontrol/internal/migrate"
	"missioncontrol/internal/server"
	missioncontrolsdk "missioncontrol/sdk/go"
)

func newTestAPI(t *testing.T) (*httptest.Server, engine.Engine) {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, config.Default())
	handler, err := server.New(server.Config{Engine: e})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv, e
}

func TestClientWithAPIKey(t *testing.T) {
	srv, e := newTestAPI(t)
	ctx := context.Background()
	admin := audit.Actor{ID: "admin", Role: "operator"}

	agent, err := e.CreateAgent(ctx, engine.AgentCreateOptions{ID: "scout", Name: "Scout", Role: "research", Actor: admin})
	if err != nil {
		t.Fatalf("create agent: %v", err)
	}
	_, key, err := e.CreateAPIKey(ctx, agent.ID, "agent", "scout key", admin)
	if err != nil {
		t.Fatalf("create api key: %v", err)
	}

	client := missioncontrolsdk.New(srv.URL)
	client.APIKey = key

	task, err := client.CreateTask(ctx, "Map the competitors")
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	moved, err := client.MoveTask(ctx, task.ID, "DOING", task.Version)
	if err != nil {
		t.Fatalf("move task: %v", err)
	}
	if moved.Status != "DOING" {
		t.Fatalf("expected DOING, got %s", moved.Status)
	}
	if _, err := client.MoveTask(ctx, task.ID, "DONE", task.Version); !missioncontrolsdk.IsConflict(err) {
		t.Fatalf("expected conflict, got %v", err)
	}

	updated, err := client.ReportWorkState(ctx, agent.ID, missioncontrolsdk.WorkState{TaskID: task.ID, Status: "researching"})
	if err != nil {
		t.Fatalf("report work state: %v", err)
	}
	if updated.WorkState == nil || updated.WorkState.TaskID != task.ID {
		t.Fatalf("work state not stored: %+v", updated)
	}

	page, err := client.AuditPage(ctx, 2, "")
	if err != nil {
		t.Fatalf("audit page: %v", err)
	}
	if len(page.Items) != 2 || page.NextCursor == "" {
		t.Fatalf("expected a full first page with a cursor: %+v", page)
	}
	if page.Items[0].Actor != agent.ID || page.Items[0].Action != "agent.work_state_updated" {
		t.Fatalf("unexpected newest event: %+v", page.Items[0])
	}
}

func TestClientUnauthorized(t *testing.T) {
	srv, _ := newTestAPI(t)
	client := missioncontrolsdk.New(srv.URL)
	client.APIKey = "mc_nope"
	_, err := client.Board(context.Background())
	apiErr, ok := err.(*missioncontrolsdk.APIError)
	if !ok || apiErr.StatusCode != 401 || apiErr.Code != "invalid_credentials" {
		t.Fatalf("expected 401 invalid_credentials, got %v", err)
	}
}

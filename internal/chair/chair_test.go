package chair_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"missioncontrol/internal/audit"
	"missioncontrol/internal/chair"
	"missioncontrol/internal/config"
	"missioncontrol/internal/db"
	"missioncontrol/internal/domain"
	"missioncontrol/internal/engine"
	"missioncontrol/internal/gateway"
	"missioncontrol/internal/migrate"
	"missioncontrol/internal/repo"
)

var operator = audit.Actor{ID: "op-1", Role: "operator"}

type fakeCapability struct {
	mu      sync.Mutex
	calls   []string
	respond func(ctx context.Context, agent domain.Agent) (gateway.Report, error)
}

func (f *fakeCapability) ReportStatus(ctx context.Context, agent domain.Agent, brief gateway.Brief) (gateway.Report, error) {
	f.mu.Lock()
	f.calls = append(f.calls, agent.ID)
	f.mu.Unlock()
	if f.respond != nil {
		return f.respond(ctx, agent)
	}
	return gateway.Report{Content: "status from " + agent.ID}, nil
}

func (f *fakeCapability) called(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.calls {
		if c == id {
			return true
		}
	}
	return false
}

type fakeDelivery struct {
	mu   sync.Mutex
	sent []string
	err  error
}

func (f *fakeDelivery) Deliver(ctx context.Context, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, text)
	return f.err
}

type testEnv struct {
	Engine     engine.Engine
	Chair      *chair.Chair
	Capability *fakeCapability
	Delivery   *fakeDelivery
	Ctx        context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default()
	eng := engine.New(conn, cfg)
	var mu sync.Mutex
	clock := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	eng.Now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		clock = clock.Add(time.Millisecond)
		return clock
	}
	capability := &fakeCapability{}
	delivery := &fakeDelivery{}
	c := chair.New(eng, capability, delivery, cfg, log.New(io.Discard, "", 0))
	return testEnv{Engine: eng, Chair: c, Capability: capability, Delivery: delivery, Ctx: context.Background()}
}

func (env testEnv) addAgent(t *testing.T, id string, sort int, skills ...string) domain.Agent {
	t.Helper()
	a, err := env.Engine.CreateAgent(env.Ctx, engine.AgentCreateOptions{
		ID:              id,
		Name:            strings.ToUpper(id),
		Role:            "worker",
		SortOrder:       sort,
		SkillsAllow:     skills,
		ExecutionPolicy: domain.ExecutionPolicy{Default: domain.ModePropose},
		Actor:           operator,
	})
	if err != nil {
		t.Fatalf("create agent %s: %v", id, err)
	}
	return a
}

func (env testEnv) turns(t *testing.T, run domain.WarRoomRun) []domain.Turn {
	t.Helper()
	turns, err := env.Engine.ReadTurns(env.Ctx, run.ConversationID)
	if err != nil {
		t.Fatalf("read turns: %v", err)
	}
	return turns
}

func TestSingleAgentRunProducesThreeTurns(t *testing.T) {
	env := newTestEnv(t)
	env.addAgent(t, "a1", 0, "report-status")
	run, err := env.Chair.RunMeeting(env.Ctx, chair.RunOptions{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	turns := env.turns(t, run)
	if len(turns) != 3 {
		t.Fatalf("expected 3 turns, got %d: %+v", len(turns), turns)
	}
	if turns[0].SpeakerType != domain.SpeakerSystem || turns[0].Content != "start" {
		t.Fatalf("unexpected start turn %+v", turns[0])
	}
	if turns[1].SpeakerType != domain.SpeakerAgent || turns[1].SpeakerID == nil || *turns[1].SpeakerID != "a1" {
		t.Fatalf("unexpected agent turn %+v", turns[1])
	}
	if turns[2].Content != "final answer: "+run.FinalAnswer {
		t.Fatalf("final turn %q does not carry answer %q", turns[2].Content, run.FinalAnswer)
	}
	if run.State != domain.RunDelivered || run.DeliveryError != nil {
		t.Fatalf("unexpected run %+v", run)
	}
	if len(env.Delivery.sent) != 1 || env.Delivery.sent[0] != run.FinalAnswer {
		t.Fatalf("expected one delivery of the answer, got %v", env.Delivery.sent)
	}
	conv, err := env.Engine.GetConversation(env.Ctx, run.ConversationID)
	if err != nil || conv.Type != domain.ConversationWarRoom {
		t.Fatalf("unexpected conversation %+v %v", conv, err)
	}
}

func TestZeroAgentsStillAnswers(t *testing.T) {
	env := newTestEnv(t)
	disabled := env.addAgent(t, "off", 0, "report-status")
	if _, err := env.Engine.SetAgentEnabled(env.Ctx, disabled.ID, false, operator); err != nil {
		t.Fatal(err)
	}
	first, err := env.Chair.RunMeeting(env.Ctx, chair.RunOptions{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	second, err := env.Chair.RunMeeting(env.Ctx, chair.RunOptions{})
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if first.FinalAnswer == "" || first.FinalAnswer != second.FinalAnswer {
		t.Fatalf("expected deterministic answer, got %q and %q", first.FinalAnswer, second.FinalAnswer)
	}
	if !strings.Contains(first.FinalAnswer, "no enabled agents") {
		t.Fatalf("unexpected answer %q", first.FinalAnswer)
	}
	if len(env.Capability.calls) != 0 {
		t.Fatalf("disabled agent was called")
	}
	if got := env.turns(t, first); len(got) != 2 {
		t.Fatalf("expected start + final turns, got %d", len(got))
	}
}

func TestFailingAgentIsIsolated(t *testing.T) {
	env := newTestEnv(t)
	env.addAgent(t, "a1", 1, "report-status")
	env.addAgent(t, "a2", 2, "report-status")
	env.addAgent(t, "a3", 3, "report-status")
	env.Capability.respond = func(ctx context.Context, agent domain.Agent) (gateway.Report, error) {
		if agent.ID == "a2" {
			return gateway.Report{}, errors.New("gateway exploded")
		}
		return gateway.Report{Content: "ok " + agent.ID}, nil
	}
	run, err := env.Chair.RunMeeting(env.Ctx, chair.RunOptions{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if run.FinalAnswer == "" || run.State != domain.RunDelivered {
		t.Fatalf("unexpected run %+v", run)
	}
	turns := env.turns(t, run)
	if len(turns) != 5 {
		t.Fatalf("expected 5 turns, got %d", len(turns))
	}
	if turns[1].Content != "ok a1" || turns[3].Content != "ok a3" {
		t.Fatalf("agent turns out of order: %q %q", turns[1].Content, turns[3].Content)
	}
	if turns[2].SpeakerType != domain.SpeakerSystem || !strings.Contains(turns[2].Content, "a2") {
		t.Fatalf("expected failure turn for a2, got %+v", turns[2])
	}
	if !strings.Contains(run.FinalAnswer, "1 failed") {
		t.Fatalf("answer should count the failure: %q", run.FinalAnswer)
	}
}

func TestGatewayReportFailuresStillDeliver(t *testing.T) {
	env := newTestEnv(t)
	for i := 1; i <= 6; i++ {
		env.addAgent(t, fmt.Sprintf("a%d", i), i, "report-status")
	}
	var (
		mu        sync.Mutex
		spawned   int
		delivered []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Tool string         `json:"tool"`
			Args map[string]any `json:"args"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.Header().Set("Content-Type", "application/json")
		mu.Lock()
		defer mu.Unlock()
		switch body.Tool {
		case "sessions_spawn":
			spawned++
			if spawned%2 == 0 {
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte(`{"error":"overloaded"}`))
				return
			}
			_, _ = w.Write([]byte(`{"ok":false,"error":"agent unavailable"}`))
		case "message":
			delivered = append(delivered, fmt.Sprint(body.Args["message"]))
			_, _ = w.Write([]byte(`{"ok":true,"result":{"messageId":"1"}}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()
	client := gateway.NewClient(config.GatewayConfig{
		URL:            srv.URL,
		Token:          "tok",
		TimeoutSeconds: 5,
		Breaker:        config.BreakerConfig{MaxFailures: 2, OpenSeconds: 60},
	}, log.New(io.Discard, "", 0))
	c := chair.New(env.Engine, gateway.Reporter{Client: client},
		gateway.NewMessenger(client, config.DeliveryConfig{Channel: "telegram", ChatID: "-100"}),
		config.Default(), log.New(io.Discard, "", 0))

	run, err := c.RunMeeting(env.Ctx, chair.RunOptions{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if run.State != domain.RunDelivered {
		t.Fatalf("expected delivered run, got %s", run.State)
	}
	if !strings.Contains(run.FinalAnswer, "6 failed") {
		t.Fatalf("answer should count six failures: %q", run.FinalAnswer)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(delivered) != 1 || delivered[0] != run.FinalAnswer {
		t.Fatalf("expected the answer delivered once, got %q", delivered)
	}
}

func TestStructuredReportIsKeptInTranscript(t *testing.T) {
	env := newTestEnv(t)
	env.addAgent(t, "a1", 0, "report-status")
	env.Capability.respond = func(ctx context.Context, agent domain.Agent) (gateway.Report, error) {
		return gateway.Report{
			Content:        "looking after the parser",
			ToolEventsJSON: `[{"tool":"git"}]`,
			WorkState:      &domain.WorkState{TaskID: "t9", Status: "ZEBRA-BLOCKED", NextStep: "wait"},
			Moves:          []gateway.Move{{TaskID: "t9", To: domain.StatusReview}},
		}, nil
	}
	run, err := env.Chair.RunMeeting(env.Ctx, chair.RunOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(run.FinalAnswer, "ZEBRA-BLOCKED") {
		t.Fatalf("answer should carry the reported status: %q", run.FinalAnswer)
	}
	turns := env.turns(t, run)
	if turns[1].SpeakerType != domain.SpeakerAgent {
		t.Fatalf("expected agent turn, got %+v", turns[1])
	}
	var events struct {
		ToolEvents []map[string]any `json:"toolEvents"`
		WorkState  domain.WorkState `json:"workState"`
		Moves      []gateway.Move   `json:"moves"`
	}
	if err := json.Unmarshal([]byte(turns[1].ToolEventsJSON), &events); err != nil {
		t.Fatalf("agent tool events: %v (%s)", err, turns[1].ToolEventsJSON)
	}
	if events.WorkState.Status != "ZEBRA-BLOCKED" || events.WorkState.TaskID != "t9" {
		t.Fatalf("work state missing from transcript: %s", turns[1].ToolEventsJSON)
	}
	if len(events.Moves) != 1 || events.Moves[0].To != domain.StatusReview {
		t.Fatalf("moves missing from transcript: %s", turns[1].ToolEventsJSON)
	}
	if len(events.ToolEvents) != 1 || events.ToolEvents[0]["tool"] != "git" {
		t.Fatalf("agent tool events lost: %s", turns[1].ToolEventsJSON)
	}
}

func TestWorkStateFailureIsRecorded(t *testing.T) {
	env := newTestEnv(t)
	env.addAgent(t, "gone", 0, "report-status")
	env.Capability.respond = func(ctx context.Context, agent domain.Agent) (gateway.Report, error) {
		if _, err := env.Engine.DB.ExecContext(ctx, `DELETE FROM agents WHERE id = ?`, agent.ID); err != nil {
			return gateway.Report{}, err
		}
		return gateway.Report{Content: "still here", WorkState: &domain.WorkState{TaskID: "t1", Status: "working"}}, nil
	}
	run, err := env.Chair.RunMeeting(env.Ctx, chair.RunOptions{})
	if err != nil {
		t.Fatal(err)
	}
	var found bool
	for _, turn := range env.turns(t, run) {
		if turn.SpeakerType == domain.SpeakerSystem && strings.Contains(turn.Content, "work state update for agent gone failed") {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a system turn for the failed work state update: %+v", env.turns(t, run))
	}
	if run.State != domain.RunDelivered {
		t.Fatalf("expected delivered run, got %s", run.State)
	}
}

func TestSlowReportTimesOut(t *testing.T) {
	env := newTestEnv(t)
	env.Chair.Config.ReportTimeoutSeconds = 1
	env.addAgent(t, "slow", 1, "report-status")
	env.addAgent(t, "fast", 2, "report-status")
	env.Capability.respond = func(ctx context.Context, agent domain.Agent) (gateway.Report, error) {
		if agent.ID == "slow" {
			<-ctx.Done()
			return gateway.Report{}, ctx.Err()
		}
		return gateway.Report{Content: "fast is fine"}, nil
	}
	run, err := env.Chair.RunMeeting(env.Ctx, chair.RunOptions{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	turns := env.turns(t, run)
	if !strings.Contains(turns[1].Content, "timed out") || turns[2].Content != "fast is fine" {
		t.Fatalf("unexpected turns %q / %q", turns[1].Content, turns[2].Content)
	}
}

func TestTurnsFollowRosterOrderNotCompletion(t *testing.T) {
	env := newTestEnv(t)
	ids := []string{"a1", "a2", "a3", "a4"}
	for i, id := range ids {
		env.addAgent(t, id, i, "report-status")
	}
	env.Capability.respond = func(ctx context.Context, agent domain.Agent) (gateway.Report, error) {
		// earlier agents answer last
		delay := map[string]time.Duration{"a1": 60, "a2": 40, "a3": 20, "a4": 0}[agent.ID]
		time.Sleep(delay * time.Millisecond)
		return gateway.Report{Content: "report " + agent.ID}, nil
	}
	run, err := env.Chair.RunMeeting(env.Ctx, chair.RunOptions{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	turns := env.turns(t, run)
	for i, id := range ids {
		if turns[i+1].Content != "report "+id {
			t.Fatalf("turn %d = %q, want report %s", i+1, turns[i+1].Content, id)
		}
	}
}

func TestDeniedAgentIsNotCalled(t *testing.T) {
	env := newTestEnv(t)
	env.addAgent(t, "nope", 0)
	run, err := env.Chair.RunMeeting(env.Ctx, chair.RunOptions{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if env.Capability.called("nope") {
		t.Fatalf("denied agent must not be called")
	}
	turns := env.turns(t, run)
	if len(turns) != 3 || turns[1].SpeakerType != domain.SpeakerSystem || !strings.Contains(turns[1].Content, "denied") {
		t.Fatalf("expected denial turn, got %+v", turns)
	}
}

func TestDeliveryFailureKeepsTranscript(t *testing.T) {
	env := newTestEnv(t)
	env.addAgent(t, "a1", 0, "report-status")
	env.Delivery.err = &gateway.DeliveryError{Reason: "telegram unreachable"}
	run, err := env.Chair.RunMeeting(env.Ctx, chair.RunOptions{})
	var delErr *gateway.DeliveryError
	if !errors.As(err, &delErr) {
		t.Fatalf("expected delivery error, got %v", err)
	}
	if run.State != domain.RunDeliveryFailed || run.DeliveryError == nil || *run.DeliveryError != "telegram unreachable" {
		t.Fatalf("unexpected run %+v", run)
	}
	if run.FinalAnswer == "" {
		t.Fatalf("answer lost on delivery failure")
	}
	stored, err := env.Engine.GetRun(env.Ctx, run.ID)
	if err != nil || stored.DeliveryError == nil {
		t.Fatalf("stored run lacks delivery error: %+v %v", stored, err)
	}
	if turns := env.turns(t, run); len(turns) != 3 {
		t.Fatalf("transcript not readable after delivery failure: %d turns", len(turns))
	}
	if len(env.Delivery.sent) != 1 {
		t.Fatalf("delivery must be attempted once, got %d", len(env.Delivery.sent))
	}
}

func TestMissingDeliveryIsRecordedAsFailure(t *testing.T) {
	env := newTestEnv(t)
	env.Chair.Delivery = nil
	run, err := env.Chair.RunMeeting(env.Ctx, chair.RunOptions{})
	var delErr *gateway.DeliveryError
	if !errors.As(err, &delErr) || run.State != domain.RunDeliveryFailed {
		t.Fatalf("expected recorded delivery failure, got %+v %v", run, err)
	}
}

func TestSlotIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	env.addAgent(t, "a1", 0, "report-status")
	first, err := env.Chair.RunMeeting(env.Ctx, chair.RunOptions{Slot: "2024-03-01T09:00"})
	if err != nil {
		t.Fatal(err)
	}
	second, err := env.Chair.RunMeeting(env.Ctx, chair.RunOptions{Slot: "2024-03-01T09:00"})
	if err != nil {
		t.Fatal(err)
	}
	if first.ID != second.ID {
		t.Fatalf("expected the same run, got %s and %s", first.ID, second.ID)
	}
	if len(env.Capability.calls) != 1 || len(env.Delivery.sent) != 1 {
		t.Fatalf("second invocation had side effects: calls=%v sent=%v", env.Capability.calls, env.Delivery.sent)
	}
}

func TestOverlappingRunRejected(t *testing.T) {
	env := newTestEnv(t)
	env.addAgent(t, "a1", 0, "report-status")
	entered := make(chan struct{})
	release := make(chan struct{})
	env.Capability.respond = func(ctx context.Context, agent domain.Agent) (gateway.Report, error) {
		close(entered)
		<-release
		return gateway.Report{Content: "done"}, nil
	}
	done := make(chan error, 1)
	go func() {
		_, err := env.Chair.RunMeeting(env.Ctx, chair.RunOptions{})
		done <- err
	}()
	<-entered
	if _, err := env.Chair.RunMeeting(env.Ctx, chair.RunOptions{}); !errors.Is(err, chair.ErrRunInProgress) {
		t.Fatalf("expected in progress, got %v", err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first run: %v", err)
	}
}

func TestCancelDuringCollection(t *testing.T) {
	env := newTestEnv(t)
	env.addAgent(t, "a1", 0, "report-status")
	ctx, cancel := context.WithCancel(env.Ctx)
	env.Capability.respond = func(callCtx context.Context, agent domain.Agent) (gateway.Report, error) {
		cancel()
		<-callCtx.Done()
		return gateway.Report{}, callCtx.Err()
	}
	run, err := env.Chair.RunMeeting(ctx, chair.RunOptions{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	if run.State != domain.RunCancelled || run.FinalAnswer != "" {
		t.Fatalf("unexpected run %+v", run)
	}
	turns := env.turns(t, run)
	if len(turns) != 2 || !strings.HasPrefix(turns[1].Content, "run cancelled") {
		t.Fatalf("unexpected turns %+v", turns)
	}
	if len(env.Delivery.sent) != 0 {
		t.Fatalf("cancelled run must not deliver")
	}
}

func TestWorkStateAndOutputContract(t *testing.T) {
	env := newTestEnv(t)
	env.addAgent(t, "a1", 0, "report-status")
	env.Capability.respond = func(ctx context.Context, agent domain.Agent) (gateway.Report, error) {
		return gateway.Report{
			Content:   "parsing",
			Fields:    map[string]any{"current_task": "t1", "status": "working"},
			WorkState: &domain.WorkState{TaskID: "t1", Status: "working"},
		}, nil
	}
	run, err := env.Chair.RunMeeting(env.Ctx, chair.RunOptions{})
	if err != nil {
		t.Fatal(err)
	}
	turns := env.turns(t, run)
	if len(turns) != 4 || !strings.Contains(turns[2].Content, "next_step, blockers") {
		t.Fatalf("expected missing fields turn, got %+v", turns)
	}
	a, err := env.Engine.GetAgent(env.Ctx, "a1")
	if err != nil {
		t.Fatal(err)
	}
	if a.WorkState == nil || a.WorkState.Status != "working" {
		t.Fatalf("work state not stored: %+v", a.WorkState)
	}
	events, err := env.Engine.ListAudit(env.Ctx, repo.AuditFilters{Action: "agent.work_state_updated"})
	if err != nil || len(events) != 1 || events[0].Actor != audit.Chair.ID {
		t.Fatalf("expected chair-audited work state update, got %+v %v", events, err)
	}
}

func TestBoardMovesFollowPolicy(t *testing.T) {
	env := newTestEnv(t)
	env.Chair.Config.ApplyMoves = true
	exec := env.addAgent(t, "exec", 1, "report-status", chair.MoveCapability)
	policy := domain.ExecutionPolicy{Default: domain.ModePropose, BySkill: map[string]domain.ExecutionMode{chair.MoveCapability: domain.ModeExecute}}
	if _, err := env.Engine.UpdateAgent(env.Ctx, engine.AgentUpdateOptions{ID: exec.ID, ExecutionPolicy: &policy, Actor: operator}); err != nil {
		t.Fatal(err)
	}
	env.addAgent(t, "prop", 2, "report-status", chair.MoveCapability)
	env.addAgent(t, "deny", 3, "report-status")
	for _, id := range []string{"t1", "t2", "t3"} {
		if _, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{ID: id, Title: id, Actor: operator}); err != nil {
			t.Fatal(err)
		}
	}
	target := map[string]string{"exec": "t1", "prop": "t2", "deny": "t3"}
	env.Capability.respond = func(ctx context.Context, agent domain.Agent) (gateway.Report, error) {
		return gateway.Report{
			Content: "moving",
			Moves:   []gateway.Move{{TaskID: target[agent.ID], To: domain.StatusDoing}},
		}, nil
	}
	run, err := env.Chair.RunMeeting(env.Ctx, chair.RunOptions{})
	if err != nil {
		t.Fatal(err)
	}
	for id, want := range map[string]domain.TaskStatus{"t1": domain.StatusDoing, "t2": domain.StatusBacklog, "t3": domain.StatusBacklog} {
		task, err := env.Engine.GetTask(env.Ctx, id)
		if err != nil || task.Status != want {
			t.Fatalf("task %s = %s, want %s (%v)", id, task.Status, want, err)
		}
	}
	events, err := env.Engine.ListAudit(env.Ctx, repo.AuditFilters{EntityID: "t1", Action: "task.status_changed"})
	if err != nil || len(events) != 1 || events[0].Actor != "system:chair" {
		t.Fatalf("expected chair-audited move, got %+v %v", events, err)
	}
	var joined []string
	for _, turn := range env.turns(t, run) {
		joined = append(joined, turn.Content)
	}
	text := strings.Join(joined, "\n")
	for _, want := range []string{"moved task t1", "proposal from prop", "agent deny denied"} {
		if !strings.Contains(text, want) {
			t.Fatalf("transcript missing %q:\n%s", want, text)
		}
	}
}

func TestAggregateIsDeterministic(t *testing.T) {
	contribs := []chair.Contribution{
		{AgentID: "a1", AgentName: "Scout", Outcome: chair.OutcomeReported, Content: "line one\nline two",
			WorkState: &domain.WorkState{Status: "working", Blockers: "none"}},
		{AgentID: "a2", Outcome: chair.OutcomeFailed, Error: "boom"},
		{AgentID: "a3", Outcome: chair.OutcomeDenied},
	}
	board := []engine.BoardColumn{{Status: domain.StatusBacklog, Tasks: []domain.Task{{ID: "t"}}}, {Status: domain.StatusDone}}
	first := chair.Aggregate(contribs, board)
	if first != chair.Aggregate(contribs, board) {
		t.Fatalf("aggregate not deterministic")
	}
	want := "War room summary: 3 agents, 1 reported, 1 failed, 1 denied.\n" +
		"- Scout (a1): line one line two [status working; blockers none]\n" +
		"- a2 (a2): no report\n" +
		"- a3 (a3): not permitted to report\n" +
		"Board: BACKLOG 1, DONE 0"
	if first != want {
		t.Fatalf("aggregate =\n%s\nwant\n%s", first, want)
	}
	if got := chair.Aggregate(nil, nil); got != "War room summary: no enabled agents." {
		t.Fatalf("unexpected empty summary %q", got)
	}
	long := strings.Repeat("x", 400)
	out := chair.Aggregate([]chair.Contribution{{AgentID: "a", Outcome: chair.OutcomeReported, Content: long}}, nil)
	if !strings.HasSuffix(out, "...") || len(out) > 400 {
		t.Fatalf("long content not truncated: %d", len(out))
	}
}

// Package chair drives war-room runs: it asks every enabled agent for a status report,
// writes the transcript, aggregates a final answer and hands it to delivery.
//
// A run moves STARTED -> COLLECTING -> AGGREGATING -> ANSWERED -> DELIVERED or
// DELIVERY_FAILED, and the state is stored on the run row after every transition.
// A run cancelled before collection completes ends in CANCELLED.
package chair

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"missioncontrol/internal/audit"
	"missioncontrol/internal/config"
	"missioncontrol/internal/domain"
	"missioncontrol/internal/engine"
	"missioncontrol/internal/gateway"
	"missioncontrol/internal/policy"
	"missioncontrol/internal/repo"
)

// ErrRunInProgress is returned when another run is already active in this process.
var ErrRunInProgress = errors.New("war room run already in progress")

// MoveCapability gates board moves proposed in reports.
const MoveCapability = "board-move"

// Capability produces one agent's status report. Implementations must honour ctx.
type Capability interface {
	ReportStatus(ctx context.Context, agent domain.Agent, brief gateway.Brief) (gateway.Report, error)
}

// Delivery posts a final answer to the outside world.
type Delivery interface {
	Deliver(ctx context.Context, text string) error
}

type Chair struct {
	Engine     engine.Engine
	Capability Capability
	Delivery   Delivery
	Config     config.WarRoomConfig
	// DeliveryTimeout bounds the single delivery attempt.
	DeliveryTimeout time.Duration
	Logger          *log.Logger

	mu sync.Mutex
}

func New(eng engine.Engine, capability Capability, delivery Delivery, cfg *config.Config, logger *log.Logger) *Chair {
	if cfg == nil {
		cfg = config.Default()
	}
	return &Chair{
		Engine:          eng,
		Capability:      capability,
		Delivery:        delivery,
		Config:          cfg.WarRoom,
		DeliveryTimeout: cfg.DeliveryTimeout(),
		Logger:          logger,
	}
}

type RunOptions struct {
	// Slot names the recurring meeting occurrence. A second run for a slot returns the first.
	Slot string
	// TriggeredBy is recorded on the war_room.started audit event.
	TriggeredBy string
}

func (c *Chair) logger() *log.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return log.Default()
}

func (c *Chair) capability() string {
	if c.Config.Capability != "" {
		return c.Config.Capability
	}
	return config.DefaultCapability
}

// RunMeeting executes one run. The returned run is valid whenever it has an id, including
// when err is a *gateway.DeliveryError or the run was cancelled.
func (c *Chair) RunMeeting(ctx context.Context, opts RunOptions) (domain.WarRoomRun, error) {
	if !c.mu.TryLock() {
		return domain.WarRoomRun{}, ErrRunInProgress
	}
	defer c.mu.Unlock()

	if opts.Slot != "" {
		existing, err := c.Engine.Repo.GetRunBySlot(ctx, opts.Slot)
		if err == nil {
			return existing, nil
		}
		if !errors.Is(err, repo.ErrNotFound) {
			return domain.WarRoomRun{}, err
		}
	}
	agents, err := c.Engine.ListAgents(ctx, repo.AgentFilters{EnabledOnly: true})
	if err != nil {
		return domain.WarRoomRun{}, fmt.Errorf("list agents: %w", err)
	}
	r, err := c.start(ctx, opts, agents)
	if err != nil {
		return domain.WarRoomRun{}, err
	}
	return c.drive(ctx, r, agents)
}

type run struct {
	id             string
	conversationID string
}

func (c *Chair) start(ctx context.Context, opts RunOptions, agents []domain.Agent) (run, error) {
	now := c.Engine.Now
	if now == nil {
		now = time.Now
	}
	r := run{id: uuid.NewString()}
	ids := make([]string, 0, len(agents))
	for _, a := range agents {
		ids = append(ids, a.ID)
	}
	startEvents, _ := json.Marshal(map[string]any{"run_id": r.id, "agents": ids})
	err := c.inTx(ctx, func(tx *sql.Tx) error {
		conv, err := c.Engine.CreateConversationTx(ctx, tx, domain.ConversationWarRoom, audit.Chair)
		if err != nil {
			return err
		}
		r.conversationID = conv.ID
		ts := repo.FormatTime(now())
		wr := domain.WarRoomRun{ID: r.id, ConversationID: conv.ID, State: domain.RunStarted, CreatedAt: ts, UpdatedAt: ts}
		if opts.Slot != "" {
			slot := opts.Slot
			wr.Slot = &slot
		}
		if err := c.Engine.Repo.InsertRun(ctx, tx, wr); err != nil {
			return fmt.Errorf("insert run: %w", err)
		}
		if _, err := c.Engine.AppendTurnTx(ctx, tx, conv.ID, engine.TurnInput{
			SpeakerType:    domain.SpeakerSystem,
			Content:        "start",
			ToolEventsJSON: string(startEvents),
		}); err != nil {
			return err
		}
		_, err = c.Engine.AuditWriter().Append(ctx, tx, audit.Chair, "war_room.started", "war_room_run", r.id, audit.Payload{
			"conversation_id": conv.ID,
			"slot":            opts.Slot,
			"triggered_by":    opts.TriggeredBy,
			"agents":          ids,
		})
		return err
	})
	return r, err
}

type collected struct {
	agent    domain.Agent
	decision policy.Decision
	report   gateway.Report
	err      error
}

func (c *Chair) drive(ctx context.Context, r run, agents []domain.Agent) (domain.WarRoomRun, error) {
	if err := ctx.Err(); err != nil {
		return c.cancel(ctx, r, err)
	}
	if err := c.transition(ctx, r, domain.RunCollecting); err != nil {
		return domain.WarRoomRun{}, err
	}
	board, err := c.Engine.Board(ctx)
	if err != nil {
		return domain.WarRoomRun{}, fmt.Errorf("board snapshot: %w", err)
	}
	results := c.collect(ctx, r, agents, board)
	if err := ctx.Err(); err != nil {
		return c.cancel(ctx, r, err)
	}

	// Collection is complete; the rest of the run is not cancellable.
	ctx = context.WithoutCancel(ctx)
	contribs, err := c.record(ctx, r, results)
	if err != nil {
		return domain.WarRoomRun{}, err
	}
	c.applyReports(ctx, r, results)

	if err := c.transition(ctx, r, domain.RunAggregating); err != nil {
		return domain.WarRoomRun{}, err
	}
	board, err = c.Engine.Board(ctx)
	if err != nil {
		return domain.WarRoomRun{}, fmt.Errorf("board snapshot: %w", err)
	}
	answer := Aggregate(contribs, board)
	if err := c.answer(ctx, r, answer); err != nil {
		return domain.WarRoomRun{}, err
	}
	deliveryErr := c.deliver(ctx, r, answer)
	wr, err := c.Engine.GetRun(ctx, r.id)
	if err != nil {
		return domain.WarRoomRun{}, err
	}
	if deliveryErr != nil {
		return wr, deliveryErr
	}
	return wr, nil
}

// collect dispatches report calls concurrently, bounded by the configured concurrency.
// Results land at the agent's roster index so transcript order never depends on timing.
func (c *Chair) collect(ctx context.Context, r run, agents []domain.Agent, board []engine.BoardColumn) []collected {
	results := make([]collected, len(agents))
	limit := c.Config.Concurrency
	if limit < 1 {
		limit = 1
	}
	timeout := time.Duration(c.Config.ReportTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = config.DefaultReportTimeoutSeconds * time.Second
	}
	capability := c.capability()
	prompt := briefPrompt(r, board)
	var g errgroup.Group
	g.SetLimit(limit)
	for i, agent := range agents {
		i, agent := i, agent
		results[i] = collected{agent: agent, decision: policy.CanPerform(agent, capability)}
		if !results[i].decision.Allowed {
			continue
		}
		g.Go(func() error {
			if c.Capability == nil {
				results[i].err = &gateway.CapabilityError{AgentID: agent.ID, Err: gateway.ErrNotConfigured}
				return nil
			}
			callCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			rep, err := c.Capability.ReportStatus(callCtx, agent, gateway.Brief{
				RunID:          r.id,
				Capability:     capability,
				Prompt:         prompt,
				RequiredFields: agent.OutputContract.RequiredFields,
			})
			if err == nil && callCtx.Err() != nil {
				err = callCtx.Err()
			}
			if err != nil {
				var capErr *gateway.CapabilityError
				if !errors.As(err, &capErr) {
					err = &gateway.CapabilityError{AgentID: agent.ID, Err: err}
				}
				results[i].err = err
				return nil
			}
			results[i].report = rep
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func briefPrompt(r run, board []engine.BoardColumn) string {
	var b strings.Builder
	fmt.Fprintf(&b, "War room run %s. Report your current status.", r.id)
	for _, col := range board {
		if len(col.Tasks) == 0 {
			continue
		}
		fmt.Fprintf(&b, "\n%s:", col.Status)
		for _, t := range col.Tasks {
			owner := "unassigned"
			if t.OwnerAgentID != nil {
				owner = *t.OwnerAgentID
			}
			fmt.Fprintf(&b, "\n- [%s] %s (owner %s, priority %d)", t.ID, t.Title, owner, t.Priority)
		}
	}
	return b.String()
}

// record writes one transcript entry per agent in roster order, inside a single transaction.
func (c *Chair) record(ctx context.Context, r run, results []collected) ([]Contribution, error) {
	capability := c.capability()
	contribs := make([]Contribution, 0, len(results))
	err := c.inTx(ctx, func(tx *sql.Tx) error {
		for _, res := range results {
			a := res.agent
			contrib := Contribution{AgentID: a.ID, AgentName: a.Name}
			var turns []engine.TurnInput
			switch {
			case !res.decision.Allowed:
				contrib.Outcome = OutcomeDenied
				turns = append(turns, systemTurn(fmt.Sprintf("agent %s denied: %s not in skills_allow", a.ID, capability),
					map[string]any{"agent_id": a.ID, "capability": capability, "outcome": OutcomeDenied}))
			case res.err != nil:
				contrib.Outcome = OutcomeFailed
				contrib.Error = res.err.Error()
				c.logger().Printf("war-room: agent %s report failed: %v", a.ID, res.err)
				turns = append(turns, systemTurn(res.err.Error(),
					map[string]any{"agent_id": a.ID, "capability": capability, "outcome": OutcomeFailed}))
			default:
				contrib.Outcome = OutcomeReported
				contrib.Content = res.report.Content
				contrib.WorkState = res.report.WorkState
				turns = append(turns, engine.TurnInput{
					SpeakerType:    domain.SpeakerAgent,
					SpeakerID:      a.ID,
					Content:        res.report.Content,
					ToolEventsJSON: reportEvents(res.report),
				})
				if missing := missingFields(a.OutputContract, res.report); len(missing) > 0 {
					turns = append(turns, systemTurn(
						fmt.Sprintf("agent %s report missing required fields: %s", a.ID, strings.Join(missing, ", ")),
						map[string]any{"agent_id": a.ID, "missing": missing}))
				}
			}
			for _, in := range turns {
				if _, err := c.Engine.AppendTurnTx(ctx, tx, r.conversationID, in); err != nil {
					return err
				}
			}
			contribs = append(contribs, contrib)
		}
		return nil
	})
	return contribs, err
}

// missingFields checks structured reports against the agent's output contract. Plain text
// reports carry no fields and are accepted as they are.
func missingFields(contract domain.OutputContract, rep gateway.Report) []string {
	if rep.Fields == nil {
		return nil
	}
	var missing []string
	for _, f := range contract.RequiredFields {
		if _, ok := rep.Fields[f]; !ok {
			missing = append(missing, f)
		}
	}
	return missing
}

// reportEvents is the tool events payload of an agent turn. Structured parts of the report
// are stored next to the agent's own tool events so the transcript holds what the chair applied.
func reportEvents(rep gateway.Report) string {
	if rep.WorkState == nil && len(rep.Moves) == 0 && rep.Fields == nil {
		return rep.ToolEventsJSON
	}
	events := map[string]any{}
	if raw := strings.TrimSpace(rep.ToolEventsJSON); raw != "" && json.Valid([]byte(raw)) {
		events["toolEvents"] = json.RawMessage(raw)
	}
	if rep.WorkState != nil {
		events["workState"] = rep.WorkState
	}
	if len(rep.Moves) > 0 {
		events["moves"] = rep.Moves
	}
	if rep.Fields != nil {
		events["fields"] = rep.Fields
	}
	data, err := json.Marshal(events)
	if err != nil {
		return rep.ToolEventsJSON
	}
	return string(data)
}

func systemTurn(content string, events map[string]any) engine.TurnInput {
	in := engine.TurnInput{SpeakerType: domain.SpeakerSystem, Content: content}
	if events != nil {
		if data, err := json.Marshal(events); err == nil {
			in.ToolEventsJSON = string(data)
		}
	}
	return in
}

// applyReports stores reported work states and handles proposed board moves.
func (c *Chair) applyReports(ctx context.Context, r run, results []collected) {
	for _, res := range results {
		if !res.decision.Allowed || res.err != nil {
			continue
		}
		a := res.agent
		if ws := res.report.WorkState; ws != nil {
			if _, err := c.Engine.UpdateWorkState(ctx, a.ID, *ws, audit.Chair); err != nil {
				c.logger().Printf("war-room: agent %s work state: %v", a.ID, err)
				c.note(ctx, r, fmt.Sprintf("work state update for agent %s failed: %v", a.ID, err),
					map[string]any{"agent_id": a.ID, "task_id": ws.TaskID, "status": ws.Status})
			}
		}
		if !c.Config.ApplyMoves {
			continue
		}
		for _, mv := range res.report.Moves {
			c.applyMove(ctx, r, a, mv)
		}
	}
}

func (c *Chair) applyMove(ctx context.Context, r run, a domain.Agent, mv gateway.Move) {
	events := map[string]any{"agent_id": a.ID, "task_id": mv.TaskID, "to": mv.To}
	decision := policy.CanPerform(a, MoveCapability)
	var content string
	switch {
	case !decision.Allowed:
		content = fmt.Sprintf("agent %s denied: cannot move task %s to %s", a.ID, mv.TaskID, mv.To)
	case decision.Mode == domain.ModePropose:
		content = fmt.Sprintf("proposal from %s: move task %s to %s", a.ID, mv.TaskID, mv.To)
		if mv.Reason != "" {
			content += " (" + mv.Reason + ")"
		}
	default:
		status := mv.To
		before, err := c.Engine.GetTask(ctx, mv.TaskID)
		if err == nil {
			_, err = c.Engine.UpdateTask(ctx, engine.TaskUpdateOptions{
				ID:              mv.TaskID,
				ExpectedVersion: &before.Version,
				Status:          &status,
				Actor:           audit.Chair,
			})
		}
		if err != nil {
			c.logger().Printf("war-room: move of task %s by %s failed: %v", mv.TaskID, a.ID, err)
			content = fmt.Sprintf("move of task %s to %s by %s failed: %v", mv.TaskID, mv.To, a.ID, err)
		} else {
			content = fmt.Sprintf("moved task %s from %s to %s for %s", mv.TaskID, before.Status, mv.To, a.ID)
		}
	}
	c.note(ctx, r, content, events)
}

// note appends a system turn outside the main record transaction.
func (c *Chair) note(ctx context.Context, r run, content string, events map[string]any) {
	err := c.inTx(ctx, func(tx *sql.Tx) error {
		_, err := c.Engine.AppendTurnTx(ctx, tx, r.conversationID, systemTurn(content, events))
		return err
	})
	if err != nil {
		c.logger().Printf("war-room: record system turn: %v", err)
	}
}

func (c *Chair) answer(ctx context.Context, r run, answer string) error {
	return c.inTx(ctx, func(tx *sql.Tx) error {
		if err := c.Engine.Repo.SetRunAnswer(ctx, tx, r.id, answer, c.timestamp()); err != nil {
			return fmt.Errorf("store answer: %w", err)
		}
		if _, err := c.Engine.AppendTurnTx(ctx, tx, r.conversationID, engine.TurnInput{
			SpeakerType: domain.SpeakerSystem,
			Content:     "final answer: " + answer,
		}); err != nil {
			return err
		}
		_, err := c.Engine.AuditWriter().Append(ctx, tx, audit.Chair, "war_room.answered", "war_room_run", r.id, audit.Payload{
			"conversation_id": r.conversationID,
		})
		return err
	})
}

// deliver makes the single delivery attempt and records its outcome on the run.
func (c *Chair) deliver(ctx context.Context, r run, answer string) error {
	var deliveryErr error
	if c.Delivery == nil {
		deliveryErr = &gateway.DeliveryError{Reason: "delivery not configured"}
	} else {
		dctx := ctx
		if c.DeliveryTimeout > 0 {
			var cancel context.CancelFunc
			dctx, cancel = context.WithTimeout(ctx, c.DeliveryTimeout)
			defer cancel()
		}
		if err := c.Delivery.Deliver(dctx, answer); err != nil {
			var de *gateway.DeliveryError
			if !errors.As(err, &de) {
				de = &gateway.DeliveryError{Reason: err.Error(), Err: err}
			}
			deliveryErr = de
		}
	}
	err := c.inTx(ctx, func(tx *sql.Tx) error {
		if deliveryErr == nil {
			if err := c.Engine.Repo.MarkRunDelivered(ctx, tx, r.id, c.timestamp()); err != nil {
				return err
			}
			_, err := c.Engine.AuditWriter().Append(ctx, tx, audit.Chair, "war_room.delivered", "war_room_run", r.id, nil)
			return err
		}
		var de *gateway.DeliveryError
		errors.As(deliveryErr, &de)
		if err := c.Engine.Repo.SetRunDeliveryError(ctx, tx, r.id, de.Reason, c.timestamp()); err != nil {
			return err
		}
		_, err := c.Engine.AuditWriter().Append(ctx, tx, audit.Chair, "war_room.delivery_failed", "war_room_run", r.id, audit.Payload{
			"reason": de.Reason,
		})
		return err
	})
	if err != nil {
		return fmt.Errorf("record delivery outcome: %w", err)
	}
	if deliveryErr != nil {
		c.logger().Printf("war-room: run %s delivery failed: %v", r.id, deliveryErr)
	}
	return deliveryErr
}

func (c *Chair) cancel(ctx context.Context, r run, cause error) (domain.WarRoomRun, error) {
	ctx = context.WithoutCancel(ctx)
	err := c.inTx(ctx, func(tx *sql.Tx) error {
		if err := c.Engine.Repo.UpdateRunState(ctx, tx, r.id, domain.RunCancelled, c.timestamp()); err != nil {
			return err
		}
		if _, err := c.Engine.AppendTurnTx(ctx, tx, r.conversationID, engine.TurnInput{
			SpeakerType: domain.SpeakerSystem,
			Content:     "run cancelled: " + cause.Error(),
		}); err != nil {
			return err
		}
		_, err := c.Engine.AuditWriter().Append(ctx, tx, audit.Chair, "war_room.cancelled", "war_room_run", r.id, audit.Payload{
			"reason": cause.Error(),
		})
		return err
	})
	if err != nil {
		return domain.WarRoomRun{}, err
	}
	wr, err := c.Engine.GetRun(ctx, r.id)
	if err != nil {
		return domain.WarRoomRun{}, err
	}
	return wr, cause
}

func (c *Chair) transition(ctx context.Context, r run, state domain.RunState) error {
	return c.inTx(ctx, func(tx *sql.Tx) error {
		if err := c.Engine.Repo.UpdateRunState(ctx, tx, r.id, state, c.timestamp()); err != nil {
			return fmt.Errorf("run %s to %s: %w", r.id, state, err)
		}
		return nil
	})
}

func (c *Chair) timestamp() string {
	if c.Engine.Now != nil {
		return repo.FormatTime(c.Engine.Now())
	}
	return repo.FormatTime(time.Now())
}

func (c *Chair) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := c.Engine.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

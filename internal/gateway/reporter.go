package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"missioncontrol/internal/domain"
)

// Brief is what the chair asks of one agent during a run.
type Brief struct {
	RunID          string
	Capability     string
	Prompt         string
	RequiredFields []string
}

// Move is a board move proposed by an agent in its report.
type Move struct {
	TaskID string            `json:"task_id"`
	To     domain.TaskStatus `json:"to"`
	Reason string            `json:"reason,omitempty"`
}

// Report is one agent's status update.
type Report struct {
	Content        string
	ToolEventsJSON string
	// Fields holds the structured status fields the agent returned, keyed by contract name.
	Fields    map[string]any
	WorkState *domain.WorkState
	Moves     []Move
}

// Reporter asks agents for status through the gateway's session tools.
type Reporter struct {
	Client *Client
}

// ReportStatus sends the brief to the agent's session, or spawns one when the agent has
// no capability handle, and decodes the reply.
func (r Reporter) ReportStatus(ctx context.Context, agent domain.Agent, brief Brief) (Report, error) {
	message := composeMessage(agent, brief)
	var (
		raw json.RawMessage
		err error
	)
	if agent.CapabilityHandle != nil && *agent.CapabilityHandle != "" {
		raw, err = r.Client.InvokeTool(ctx, "sessions_send", map[string]any{
			"sessionKey": *agent.CapabilityHandle,
			"message":    message,
		}, "")
	} else {
		args := map[string]any{"task": message, "agentId": agent.ID}
		if brief.RunID != "" {
			args["label"] = "war-room-" + brief.RunID
		}
		raw, err = r.Client.InvokeTool(ctx, "sessions_spawn", args, "")
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = fmt.Errorf("%w: %v", ctxErr, err)
		}
		return Report{}, &CapabilityError{AgentID: agent.ID, Err: err}
	}
	rep, err := DecodeReport(raw)
	if err != nil {
		return Report{}, &CapabilityError{AgentID: agent.ID, Err: err}
	}
	return rep, nil
}

func composeMessage(agent domain.Agent, brief Brief) string {
	var b strings.Builder
	if strings.TrimSpace(agent.SoulMD) != "" {
		b.WriteString(strings.TrimSpace(agent.SoulMD))
		b.WriteString("\n\n")
	}
	if agent.Model != nil {
		fmt.Fprintf(&b, "Model: %s\n", *agent.Model)
	}
	if c := strings.TrimSpace(agent.ConstraintsJSON); c != "" && c != "{}" {
		fmt.Fprintf(&b, "Constraints: %s\n", c)
	}
	b.WriteString(brief.Prompt)
	if len(brief.RequiredFields) > 0 {
		fmt.Fprintf(&b, "\n\nReply with a JSON object with \"content\" and a \"workState\" object containing: %s. "+
			"Optionally include \"moves\": [{\"task_id\",\"to\",\"reason\"}].", strings.Join(brief.RequiredFields, ", "))
	}
	return b.String()
}

type reportBody struct {
	Content    *string         `json:"content"`
	Reply      *string         `json:"reply"`
	Text       *string         `json:"text"`
	ToolEvents json.RawMessage `json:"toolEvents"`
	WorkState  map[string]any  `json:"workState"`
	Moves      []Move          `json:"moves"`
}

// DecodeReport reads a tool result. The result is either a plain string, or an object with
// content (or reply/text), toolEvents, workState and moves. A string that is itself such an
// object is decoded as one.
func DecodeReport(raw json.RawMessage) (Report, error) {
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		trimmed := strings.TrimSpace(text)
		if strings.HasPrefix(trimmed, "{") {
			if rep, err := decodeReportObject([]byte(trimmed)); err == nil && rep.Content != "" {
				return rep, nil
			}
		}
		if trimmed == "" {
			return Report{}, fmt.Errorf("empty report")
		}
		return Report{Content: trimmed}, nil
	}
	rep, err := decodeReportObject(raw)
	if err != nil {
		return Report{}, err
	}
	if rep.Content == "" {
		return Report{}, fmt.Errorf("report has no content")
	}
	return rep, nil
}

func decodeReportObject(raw []byte) (Report, error) {
	var body reportBody
	if err := json.Unmarshal(raw, &body); err != nil {
		return Report{}, fmt.Errorf("decode report: %w", err)
	}
	var rep Report
	for _, s := range []*string{body.Content, body.Reply, body.Text} {
		if s != nil && strings.TrimSpace(*s) != "" {
			rep.Content = strings.TrimSpace(*s)
			break
		}
	}
	if len(body.ToolEvents) > 0 && string(body.ToolEvents) != "null" {
		rep.ToolEventsJSON = string(body.ToolEvents)
	}
	if body.WorkState != nil {
		rep.Fields = body.WorkState
		rep.WorkState = &domain.WorkState{
			TaskID:   stringField(body.WorkState, "current_task", "task_id", "taskId"),
			Status:   stringField(body.WorkState, "status"),
			NextStep: stringField(body.WorkState, "next_step", "nextStep"),
			Blockers: stringField(body.WorkState, "blockers"),
		}
	}
	rep.Moves = body.Moves
	return rep, nil
}

func stringField(m map[string]any, keys ...string) string {
	for _, k := range keys {
		v, ok := m[k]
		if !ok || v == nil {
			continue
		}
		switch t := v.(type) {
		case string:
			return t
		case []any:
			parts := make([]string, 0, len(t))
			for _, p := range t {
				parts = append(parts, fmt.Sprint(p))
			}
			return strings.Join(parts, "; ")
		default:
			return fmt.Sprint(t)
		}
	}
	return ""
}

package chair

import (
	"fmt"
	"strings"

	"missioncontrol/internal/domain"
	"missioncontrol/internal/engine"
)

// Outcome is how one agent's turn in the collection round ended.
type Outcome string

const (
	OutcomeReported Outcome = "reported"
	OutcomeFailed   Outcome = "failed"
	OutcomeDenied   Outcome = "denied"
)

// Contribution is one agent's part of a run, in roster order.
type Contribution struct {
	AgentID   string
	AgentName string
	Outcome   Outcome
	Content   string
	WorkState *domain.WorkState
	Error     string
}

const maxSummaryContent = 280

// Aggregate builds the final answer. It depends only on its arguments, so the same
// contributions and board always give the same text.
func Aggregate(contribs []Contribution, board []engine.BoardColumn) string {
	var b strings.Builder
	if len(contribs) == 0 {
		b.WriteString("War room summary: no enabled agents.")
	} else {
		var reported, failed, denied int
		for _, c := range contribs {
			switch c.Outcome {
			case OutcomeReported:
				reported++
			case OutcomeFailed:
				failed++
			case OutcomeDenied:
				denied++
			}
		}
		fmt.Fprintf(&b, "War room summary: %d agents, %d reported, %d failed, %d denied.", len(contribs), reported, failed, denied)
		for _, c := range contribs {
			name := c.AgentName
			if name == "" {
				name = c.AgentID
			}
			fmt.Fprintf(&b, "\n- %s (%s): ", name, c.AgentID)
			switch c.Outcome {
			case OutcomeReported:
				b.WriteString(oneLine(c.Content, maxSummaryContent))
				if ws := c.WorkState; ws != nil {
					var parts []string
					if ws.TaskID != "" {
						parts = append(parts, "task "+ws.TaskID)
					}
					if ws.Status != "" {
						parts = append(parts, "status "+ws.Status)
					}
					if ws.NextStep != "" {
						parts = append(parts, "next "+oneLine(ws.NextStep, 120))
					}
					if ws.Blockers != "" {
						parts = append(parts, "blockers "+oneLine(ws.Blockers, 120))
					}
					if len(parts) > 0 {
						b.WriteString(" [" + strings.Join(parts, "; ") + "]")
					}
				}
			case OutcomeDenied:
				b.WriteString("not permitted to report")
			default:
				b.WriteString("no report")
			}
		}
	}
	if len(board) > 0 {
		counts := make([]string, 0, len(board))
		for _, col := range board {
			counts = append(counts, fmt.Sprintf("%s %d", col.Status, len(col.Tasks)))
		}
		b.WriteString("\nBoard: " + strings.Join(counts, ", "))
	}
	return b.String()
}

func oneLine(s string, max int) string {
	s = strings.Join(strings.Fields(s), " ")
	if r := []rune(s); len(r) > max {
		s = strings.TrimSpace(string(r[:max])) + "..."
	}
	return s
}

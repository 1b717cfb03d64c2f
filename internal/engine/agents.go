package engine

import (
	"context"
	"database/sql"
	"sort"
	"strings"

	"missioncontrol/internal/audit"
	"missioncontrol/internal/domain"
	"missioncontrol/internal/repo"
)

type AgentCreateOptions struct {
	ID               string
	Name             string
	Role             string
	SoulMD           string
	Model            string
	CapabilityHandle string
	Enabled          *bool
	SortOrder        int
	SkillsAllow      []string
	ExecutionPolicy  domain.ExecutionPolicy
	ConstraintsJSON  string
	OutputContract   *domain.OutputContract
	Actor            audit.Actor
}

func (e Engine) defaultOutputContract() domain.OutputContract {
	if e.Config != nil && len(e.Config.WarRoom.RequiredFields) > 0 {
		return domain.OutputContract{RequiredFields: append([]string(nil), e.Config.WarRoom.RequiredFields...)}
	}
	return domain.DefaultOutputContract()
}

func (e Engine) CreateAgent(ctx context.Context, opts AgentCreateOptions) (domain.Agent, error) {
	now := e.timestamp()
	a := domain.Agent{
		ID:               newID(opts.ID),
		Name:             strings.TrimSpace(opts.Name),
		Role:             strings.TrimSpace(opts.Role),
		SoulMD:           opts.SoulMD,
		Model:            optionalString(opts.Model),
		CapabilityHandle: optionalString(opts.CapabilityHandle),
		Enabled:          true,
		SortOrder:        opts.SortOrder,
		SkillsAllow:      normalizeSkills(opts.SkillsAllow),
		ExecutionPolicy:  opts.ExecutionPolicy,
		ConstraintsJSON:  opts.ConstraintsJSON,
		OutputContract:   e.defaultOutputContract(),
		Version:          1,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if opts.Enabled != nil {
		a.Enabled = *opts.Enabled
	}
	if opts.OutputContract != nil {
		a.OutputContract = *opts.OutputContract
	}
	if err := validateAgent(a); err != nil {
		return domain.Agent{}, err
	}
	err := inTx(ctx, e.DB, func(tx *sql.Tx) error {
		if err := e.Repo.InsertAgent(ctx, tx, a); err != nil {
			return err
		}
		_, err := e.AuditWriter().Append(ctx, tx, opts.Actor, "agent.created", "agent", a.ID, audit.Payload{
			"name":    a.Name,
			"role":    a.Role,
			"enabled": a.Enabled,
			"skills":  a.SkillsAllow,
		})
		return err
	})
	if err != nil {
		return domain.Agent{}, err
	}
	return a, nil
}

func (e Engine) GetAgent(ctx context.Context, id string) (domain.Agent, error) {
	return e.Repo.GetAgent(ctx, id)
}

func (e Engine) ListAgents(ctx context.Context, f repo.AgentFilters) ([]domain.Agent, error) {
	return e.Repo.ListAgents(ctx, f)
}

// AgentUpdateOptions patches operator-editable fields. Nil fields are left unchanged.
// A nil ExpectedVersion updates whatever version is current.
type AgentUpdateOptions struct {
	ID               string
	ExpectedVersion  *int64
	Name             *string
	Role             *string
	SoulMD           *string
	Model            *string
	CapabilityHandle *string
	SortOrder        *int
	SkillsAllow      *[]string
	ExecutionPolicy  *domain.ExecutionPolicy
	ConstraintsJSON  *string
	OutputContract   *domain.OutputContract
	Actor            audit.Actor
}

func (e Engine) UpdateAgent(ctx context.Context, opts AgentUpdateOptions) (domain.Agent, error) {
	var a domain.Agent
	err := inTx(ctx, e.DB, func(tx *sql.Tx) error {
		var err error
		a, err = e.Repo.GetAgentTx(ctx, tx, opts.ID)
		if err != nil {
			return err
		}
		expected := a.Version
		if opts.ExpectedVersion != nil {
			if *opts.ExpectedVersion != a.Version {
				return repo.ErrConflict
			}
			expected = *opts.ExpectedVersion
		}
		var fields []string
		if opts.Name != nil && strings.TrimSpace(*opts.Name) != a.Name {
			a.Name = strings.TrimSpace(*opts.Name)
			fields = append(fields, "name")
		}
		if opts.Role != nil && strings.TrimSpace(*opts.Role) != a.Role {
			a.Role = strings.TrimSpace(*opts.Role)
			fields = append(fields, "role")
		}
		if opts.SoulMD != nil && *opts.SoulMD != a.SoulMD {
			a.SoulMD = *opts.SoulMD
			fields = append(fields, "soul_md")
		}
		if opts.Model != nil && *opts.Model != derefString(a.Model) {
			a.Model = optionalString(*opts.Model)
			fields = append(fields, "model")
		}
		if opts.CapabilityHandle != nil && *opts.CapabilityHandle != derefString(a.CapabilityHandle) {
			a.CapabilityHandle = optionalString(*opts.CapabilityHandle)
			fields = append(fields, "capability_handle")
		}
		if opts.SortOrder != nil && *opts.SortOrder != a.SortOrder {
			a.SortOrder = *opts.SortOrder
			fields = append(fields, "sort_order")
		}
		if opts.SkillsAllow != nil {
			a.SkillsAllow = normalizeSkills(*opts.SkillsAllow)
			fields = append(fields, "skills_allow")
		}
		if opts.ExecutionPolicy != nil {
			a.ExecutionPolicy = *opts.ExecutionPolicy
			fields = append(fields, "execution_policy")
		}
		if opts.ConstraintsJSON != nil {
			a.ConstraintsJSON = *opts.ConstraintsJSON
			fields = append(fields, "constraints")
		}
		if opts.OutputContract != nil {
			a.OutputContract = *opts.OutputContract
			fields = append(fields, "output_contract")
		}
		if len(fields) == 0 {
			return nil
		}
		if err := validateAgent(a); err != nil {
			return err
		}
		a.UpdatedAt = e.timestamp()
		if err := e.Repo.UpdateAgent(ctx, tx, a, expected); err != nil {
			return err
		}
		a.Version = expected + 1
		_, err = e.AuditWriter().Append(ctx, tx, opts.Actor, "agent.updated", "agent", a.ID, audit.Payload{"fields": fields})
		return err
	})
	if err != nil {
		return domain.Agent{}, err
	}
	return a, nil
}

// SetAgentEnabled toggles an agent's participation in meetings.
func (e Engine) SetAgentEnabled(ctx context.Context, id string, enabled bool, actor audit.Actor) (domain.Agent, error) {
	var a domain.Agent
	err := inTx(ctx, e.DB, func(tx *sql.Tx) error {
		var err error
		a, err = e.Repo.GetAgentTx(ctx, tx, id)
		if err != nil {
			return err
		}
		if a.Enabled == enabled {
			return nil
		}
		a.Enabled = enabled
		a.UpdatedAt = e.timestamp()
		if err := e.Repo.UpdateAgent(ctx, tx, a, a.Version); err != nil {
			return err
		}
		a.Version++
		action := "agent.disabled"
		if enabled {
			action = "agent.enabled"
		}
		_, err = e.AuditWriter().Append(ctx, tx, actor, action, "agent", a.ID, nil)
		return err
	})
	if err != nil {
		return domain.Agent{}, err
	}
	return a, nil
}

// UpdateWorkState replaces an agent's work state. Only the chair or the agent itself may do this.
func (e Engine) UpdateWorkState(ctx context.Context, agentID string, ws domain.WorkState, actor audit.Actor) (domain.Agent, error) {
	if actor.ID != audit.Chair.ID && actor.ID != agentID {
		return domain.Agent{}, invalid("actor", "work state of %s can only be set by the chair or the agent itself", agentID)
	}
	if ws.UpdatedAt == "" {
		ws.UpdatedAt = e.timestamp()
	}
	var a domain.Agent
	err := inTx(ctx, e.DB, func(tx *sql.Tx) error {
		if err := e.Repo.UpdateAgentWorkState(ctx, tx, agentID, ws, e.timestamp()); err != nil {
			return err
		}
		var err error
		a, err = e.Repo.GetAgentTx(ctx, tx, agentID)
		if err != nil {
			return err
		}
		_, err = e.AuditWriter().Append(ctx, tx, actor, "agent.work_state_updated", "agent", agentID, audit.Payload{
			"task_id":   ws.TaskID,
			"status":    ws.Status,
			"next_step": ws.NextStep,
			"blockers":  ws.Blockers,
		})
		return err
	})
	if err != nil {
		return domain.Agent{}, err
	}
	return a, nil
}

func validateAgent(a domain.Agent) error {
	if a.Name == "" {
		return invalid("name", "is required")
	}
	if a.Role == "" {
		return invalid("role", "is required")
	}
	if a.ExecutionPolicy.Default != "" && !a.ExecutionPolicy.Default.Valid() {
		return invalid("execution_policy.default", "must be execute or propose, got %q", a.ExecutionPolicy.Default)
	}
	for skill, mode := range a.ExecutionPolicy.BySkill {
		if !mode.Valid() {
			return invalid("execution_policy.by_skill", "%s: must be execute or propose, got %q", skill, mode)
		}
	}
	for _, skill := range a.SkillsAllow {
		if skill == "" || skill != strings.TrimSpace(skill) {
			return invalid("skills_allow", "entries must be non-empty without surrounding whitespace, got %q", skill)
		}
	}
	for _, field := range a.OutputContract.RequiredFields {
		if strings.TrimSpace(field) == "" {
			return invalid("output_contract.required_fields", "must not contain blanks")
		}
	}
	return validateJSONObject("constraints", a.ConstraintsJSON)
}

// normalizeSkills de-duplicates and sorts. Entries are kept verbatim since matching is exact;
// validateAgent rejects blank or padded ones.
func normalizeSkills(in []string) []string {
	seen := map[string]bool{}
	out := []string{}
	for _, s := range in {
		if seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

func optionalString(s string) *string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	v := strings.TrimSpace(s)
	return &v
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

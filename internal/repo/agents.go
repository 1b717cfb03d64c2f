package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"missioncontrol/internal/domain"
)

const agentColumns = `id,name,role,soul_md,model,capability_handle,enabled,sort_order,skills_allow_json,execution_policy_json,constraints_json,output_contract_json,work_state_json,version,created_at,updated_at`

func scanAgent(row rowScanner) (domain.Agent, error) {
	var a domain.Agent
	var model, handle, workState sql.NullString
	var enabled int
	var skills, execPolicy, contract string
	err := row.Scan(&a.ID, &a.Name, &a.Role, &a.SoulMD, &model, &handle, &enabled, &a.SortOrder,
		&skills, &execPolicy, &a.ConstraintsJSON, &contract, &workState, &a.Version, &a.CreatedAt, &a.UpdatedAt)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	if err != nil {
		return a, err
	}
	a.Model = stringPtr(model)
	a.CapabilityHandle = stringPtr(handle)
	a.Enabled = enabled != 0
	if err := json.Unmarshal([]byte(skills), &a.SkillsAllow); err != nil {
		return a, fmt.Errorf("agent %s skills_allow: %w", a.ID, err)
	}
	if a.SkillsAllow == nil {
		a.SkillsAllow = []string{}
	}
	if err := json.Unmarshal([]byte(execPolicy), &a.ExecutionPolicy); err != nil {
		return a, fmt.Errorf("agent %s execution_policy: %w", a.ID, err)
	}
	if err := json.Unmarshal([]byte(contract), &a.OutputContract); err != nil {
		return a, fmt.Errorf("agent %s output_contract: %w", a.ID, err)
	}
	if workState.Valid && workState.String != "" {
		var ws domain.WorkState
		if err := json.Unmarshal([]byte(workState.String), &ws); err != nil {
			return a, fmt.Errorf("agent %s work_state: %w", a.ID, err)
		}
		a.WorkState = &ws
	}
	return a, nil
}

type agentJSON struct {
	skills, policy, constraints, contract string
}

func encodeAgent(a domain.Agent) (agentJSON, error) {
	var out agentJSON
	var err error
	skills := a.SkillsAllow
	if skills == nil {
		skills = []string{}
	}
	if out.skills, err = marshalJSON(skills, "[]"); err != nil {
		return out, err
	}
	if out.policy, err = marshalJSON(a.ExecutionPolicy, "{}"); err != nil {
		return out, err
	}
	if out.contract, err = marshalJSON(a.OutputContract, "{}"); err != nil {
		return out, err
	}
	out.constraints = a.ConstraintsJSON
	if strings.TrimSpace(out.constraints) == "" {
		out.constraints = "{}"
	}
	return out, nil
}

func (r Repo) InsertAgent(ctx context.Context, tx *sql.Tx, a domain.Agent) error {
	enc, err := encodeAgent(a)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO agents(`+agentColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		a.ID, a.Name, a.Role, a.SoulMD, nullableStringPtr(a.Model), nullableStringPtr(a.CapabilityHandle), boolInt(a.Enabled), a.SortOrder,
		enc.skills, enc.policy, enc.constraints, enc.contract, nil, a.Version, a.CreatedAt, a.UpdatedAt)
	return err
}

func (r Repo) GetAgent(ctx context.Context, id string) (domain.Agent, error) {
	return getAgent(ctx, r.DB, id)
}

func (r Repo) GetAgentTx(ctx context.Context, tx *sql.Tx, id string) (domain.Agent, error) {
	return getAgent(ctx, tx, id)
}

func getAgent(ctx context.Context, q querier, id string) (domain.Agent, error) {
	return scanAgent(q.QueryRowContext(ctx, `SELECT `+agentColumns+` FROM agents WHERE id=?`, id))
}

type AgentFilters struct {
	EnabledOnly bool
	Role        string
}

// ListAgents returns agents in roster order: sort_order, then creation time, then id.
func (r Repo) ListAgents(ctx context.Context, f AgentFilters) ([]domain.Agent, error) {
	var clauses []string
	var args []any
	if f.EnabledOnly {
		clauses = append(clauses, "enabled=1")
	}
	if f.Role != "" {
		clauses = append(clauses, "role=?")
		args = append(args, f.Role)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT `+agentColumns+` FROM agents `+where+` ORDER BY sort_order ASC, created_at ASC, id ASC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Agent{}
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

// UpdateAgent writes every operator-editable field when the stored version equals
// expectedVersion, bumping the version. Work state is left untouched.
func (r Repo) UpdateAgent(ctx context.Context, tx *sql.Tx, a domain.Agent, expectedVersion int64) error {
	enc, err := encodeAgent(a)
	if err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `UPDATE agents SET name=?, role=?, soul_md=?, model=?, capability_handle=?, enabled=?, sort_order=?,
skills_allow_json=?, execution_policy_json=?, constraints_json=?, output_contract_json=?, version=version+1, updated_at=?
WHERE id=? AND version=?`,
		a.Name, a.Role, a.SoulMD, nullableStringPtr(a.Model), nullableStringPtr(a.CapabilityHandle), boolInt(a.Enabled), a.SortOrder,
		enc.skills, enc.policy, enc.constraints, enc.contract, a.UpdatedAt, a.ID, expectedVersion)
	if err != nil {
		return err
	}
	return checkVersioned(ctx, tx, res, "agents", a.ID)
}

// UpdateAgentWorkState replaces the work state. It is last-write-wins for that field.
func (r Repo) UpdateAgentWorkState(ctx context.Context, tx *sql.Tx, id string, ws domain.WorkState, updatedAt string) error {
	payload, err := json.Marshal(ws)
	if err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `UPDATE agents SET work_state_json=?, version=version+1, updated_at=? WHERE id=?`, string(payload), updatedAt, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

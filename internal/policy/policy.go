// Package policy decides what an agent may do. Evaluation is pure: it reads only the
// agent's allowlist and execution policy and never performs I/O.
package policy

import (
	"fmt"

	"missioncontrol/internal/domain"
)

// DefaultMode applies when neither a per-capability override nor an agent default is set.
const DefaultMode = domain.ModePropose

// Decision is the outcome of CanPerform. Mode is empty when the capability is denied.
type Decision struct {
	Allowed bool                 `json:"allowed"`
	Mode    domain.ExecutionMode `json:"mode,omitempty"`
}

// DeniedError reports a capability missing from an agent's allowlist.
type DeniedError struct {
	AgentID    string
	Capability string
}

func (e DeniedError) Error() string {
	return fmt.Sprintf("agent %s is not allowed to use %s", e.AgentID, e.Capability)
}

// CanPerform allows a capability only when it appears verbatim in the agent's allowlist.
// No execution policy entry can grant a capability that is not allowlisted.
func CanPerform(agent domain.Agent, capability string) Decision {
	if !allowlisted(agent.SkillsAllow, capability) {
		return Decision{}
	}
	if mode, ok := agent.ExecutionPolicy.BySkill[capability]; ok && mode != "" {
		return Decision{Allowed: true, Mode: mode}
	}
	if agent.ExecutionPolicy.Default != "" {
		return Decision{Allowed: true, Mode: agent.ExecutionPolicy.Default}
	}
	return Decision{Allowed: true, Mode: DefaultMode}
}

// Require is CanPerform returning a DeniedError for a denial.
func Require(agent domain.Agent, capability string) (Decision, error) {
	d := CanPerform(agent, capability)
	if !d.Allowed {
		return d, DeniedError{AgentID: agent.ID, Capability: capability}
	}
	return d, nil
}

func allowlisted(allow []string, capability string) bool {
	for _, s := range allow {
		if s == capability {
			return true
		}
	}
	return false
}

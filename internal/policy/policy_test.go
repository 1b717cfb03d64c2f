package policy_test

import (
	"errors"
	"testing"

	"missioncontrol/internal/domain"
	"missioncontrol/internal/policy"
)

func TestCanPerform(t *testing.T) {
	cases := []struct {
		name  string
		agent domain.Agent
		cap   string
		want  policy.Decision
	}{
		{
			name:  "empty allowlist denies",
			agent: domain.Agent{ExecutionPolicy: domain.ExecutionPolicy{Default: domain.ModeExecute}},
			cap:   "report-status",
			want:  policy.Decision{},
		},
		{
			name: "override cannot grant a missing capability",
			agent: domain.Agent{
				SkillsAllow:     []string{"github"},
				ExecutionPolicy: domain.ExecutionPolicy{Default: domain.ModeExecute, BySkill: map[string]domain.ExecutionMode{"report-status": domain.ModeExecute}},
			},
			cap:  "report-status",
			want: policy.Decision{},
		},
		{
			name:  "match is case sensitive",
			agent: domain.Agent{SkillsAllow: []string{"Report-Status"}},
			cap:   "report-status",
			want:  policy.Decision{},
		},
		{
			name:  "system default is propose",
			agent: domain.Agent{SkillsAllow: []string{"report-status"}},
			cap:   "report-status",
			want:  policy.Decision{Allowed: true, Mode: domain.ModePropose},
		},
		{
			name:  "agent default applies",
			agent: domain.Agent{SkillsAllow: []string{"report-status"}, ExecutionPolicy: domain.ExecutionPolicy{Default: domain.ModeExecute}},
			cap:   "report-status",
			want:  policy.Decision{Allowed: true, Mode: domain.ModeExecute},
		},
		{
			name: "override wins over default",
			agent: domain.Agent{
				SkillsAllow:     []string{"github", "coolify"},
				ExecutionPolicy: domain.ExecutionPolicy{Default: domain.ModePropose, BySkill: map[string]domain.ExecutionMode{"github": domain.ModeExecute}},
			},
			cap:  "github",
			want: policy.Decision{Allowed: true, Mode: domain.ModeExecute},
		},
		{
			name: "override for another capability is ignored",
			agent: domain.Agent{
				SkillsAllow:     []string{"github", "coolify"},
				ExecutionPolicy: domain.ExecutionPolicy{Default: domain.ModePropose, BySkill: map[string]domain.ExecutionMode{"github": domain.ModeExecute}},
			},
			cap:  "coolify",
			want: policy.Decision{Allowed: true, Mode: domain.ModePropose},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := policy.CanPerform(tc.agent, tc.cap)
			if got != tc.want {
				t.Fatalf("CanPerform = %+v, want %+v", got, tc.want)
			}
		})
	}
}

func TestRequireReturnsDenied(t *testing.T) {
	_, err := policy.Require(domain.Agent{ID: "a1"}, "report-status")
	var denied policy.DeniedError
	if !errors.As(err, &denied) {
		t.Fatalf("expected DeniedError, got %v", err)
	}
	if denied.AgentID != "a1" || denied.Capability != "report-status" {
		t.Fatalf("unexpected denial %+v", denied)
	}
	d, err := policy.Require(domain.Agent{ID: "a1", SkillsAllow: []string{"report-status"}}, "report-status")
	if err != nil || d.Mode != domain.ModePropose {
		t.Fatalf("expected propose decision, got %+v %v", d, err)
	}
}

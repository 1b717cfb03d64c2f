package server

import (
	"encoding/json"

	"missioncontrol/internal/domain"
)

// Request payloads

type CreateAgentRequest struct {
	ID               *string                 `json:"id,omitempty"`
	Name             string                  `json:"name"`
	Role             string                  `json:"role"`
	SoulMD           *string                 `json:"soul_md,omitempty"`
	Model            *string                 `json:"model,omitempty"`
	CapabilityHandle *string                 `json:"capability_handle,omitempty"`
	Enabled          *bool                   `json:"enabled,omitempty"`
	SortOrder        *int                    `json:"sort_order,omitempty"`
	SkillsAllow      []string                `json:"skills_allow,omitempty"`
	ExecutionPolicy  *domain.ExecutionPolicy `json:"execution_policy,omitempty"`
	Constraints      map[string]any          `json:"constraints,omitempty"`
	OutputContract   *domain.OutputContract  `json:"output_contract,omitempty"`
}

type UpdateAgentRequest struct {
	ExpectedVersion  *int64                  `json:"expected_version,omitempty"`
	Name             *string                 `json:"name,omitempty"`
	Role             *string                 `json:"role,omitempty"`
	SoulMD           *string                 `json:"soul_md,omitempty"`
	Model            *string                 `json:"model,omitempty"`
	CapabilityHandle *string                 `json:"capability_handle,omitempty"`
	Enabled          *bool                   `json:"enabled,omitempty"`
	SortOrder        *int                    `json:"sort_order,omitempty"`
	SkillsAllow      *[]string               `json:"skills_allow,omitempty"`
	ExecutionPolicy  *domain.ExecutionPolicy `json:"execution_policy,omitempty"`
	Constraints      *map[string]any         `json:"constraints,omitempty"`
	OutputContract   *domain.OutputContract  `json:"output_contract,omitempty"`
	WorkState        *domain.WorkState       `json:"work_state,omitempty"`
}

type CreateTaskRequest struct {
	ID           *string `json:"id,omitempty"`
	Title        string  `json:"title"`
	Description  *string `json:"description,omitempty"`
	Status       *string `json:"status,omitempty" enum:"BACKLOG,READY,DOING,BLOCKED,REVIEW,DONE"`
	Priority     *int    `json:"priority,omitempty"`
	SortOrder    *int    `json:"sort_order,omitempty"`
	OwnerAgentID *string `json:"owner_agent_id,omitempty"`
}

type UpdateTaskRequest struct {
	ExpectedVersion *int64  `json:"expected_version,omitempty"`
	Title           *string `json:"title,omitempty"`
	Description     *string `json:"description,omitempty"`
	Status          *string `json:"status,omitempty" enum:"BACKLOG,READY,DOING,BLOCKED,REVIEW,DONE"`
	Priority        *int    `json:"priority,omitempty"`
	SortOrder       *int    `json:"sort_order,omitempty"`
	ClearSortOrder  bool    `json:"clear_sort_order,omitempty"`
	OwnerAgentID    *string `json:"owner_agent_id,omitempty"`
}

type CreateConversationRequest struct {
	Type   string  `json:"type" enum:"TASK,WAR_ROOM"`
	TaskID *string `json:"task_id,omitempty"`
}

type AppendTurnRequest struct {
	SpeakerType string `json:"speaker_type,omitempty" enum:"system,agent,operator"`
	Content     string `json:"content"`
	ToolEvents  any    `json:"tool_events,omitempty"`
}

type RunMeetingRequest struct {
	Slot *string `json:"slot,omitempty"`
}

// Response payloads

type TurnResponse struct {
	ID             string  `json:"id"`
	ConversationID string  `json:"conversation_id"`
	Seq            int64   `json:"seq"`
	SpeakerType    string  `json:"speaker_type"`
	SpeakerID      *string `json:"speaker_id,omitempty"`
	Content        string  `json:"content"`
	ToolEvents     any     `json:"tool_events,omitempty"`
	CreatedAt      string  `json:"created_at" format:"date-time"`
}

type ConversationResponse struct {
	domain.Conversation
	Turns []TurnResponse `json:"turns"`
}

type AuditEventResponse struct {
	ID         int64  `json:"id"`
	Actor      string `json:"actor"`
	Role       string `json:"role"`
	Action     string `json:"action"`
	EntityType string `json:"entity_type"`
	EntityID   string `json:"entity_id,omitempty"`
	Payload    any    `json:"payload"`
	CreatedAt  string `json:"created_at" format:"date-time"`
}

type paginatedRuns struct {
	Items      []domain.WarRoomRun `json:"items"`
	NextCursor string              `json:"next_cursor,omitempty"`
}

type paginatedAudit struct {
	Items      []AuditEventResponse `json:"items"`
	NextCursor string               `json:"next_cursor,omitempty"`
}

func decodeJSONText(raw string) any {
	if raw == "" {
		return nil
	}
	var out any
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return raw
	}
	return out
}

func turnResponse(t domain.Turn) TurnResponse {
	return TurnResponse{
		ID:             t.ID,
		ConversationID: t.ConversationID,
		Seq:            t.Seq,
		SpeakerType:    t.SpeakerType,
		SpeakerID:      t.SpeakerID,
		Content:        t.Content,
		ToolEvents:     decodeJSONText(t.ToolEventsJSON),
		CreatedAt:      t.CreatedAt,
	}
}

func mapTurns(items []domain.Turn) []TurnResponse {
	out := make([]TurnResponse, 0, len(items))
	for _, t := range items {
		out = append(out, turnResponse(t))
	}
	return out
}

func auditEventResponse(e domain.AuditEvent) AuditEventResponse {
	payload := decodeJSONText(e.PayloadJSON)
	if payload == nil {
		payload = map[string]any{}
	}
	return AuditEventResponse{
		ID:         e.ID,
		Actor:      e.Actor,
		Role:       e.Role,
		Action:     e.Action,
		EntityType: e.EntityType,
		EntityID:   e.EntityID,
		Payload:    payload,
		CreatedAt:  e.CreatedAt,
	}
}

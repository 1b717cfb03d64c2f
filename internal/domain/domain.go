package domain

// TaskStatus is a column of the task board.
type TaskStatus string

const (
	StatusBacklog TaskStatus = "BACKLOG"
	StatusReady   TaskStatus = "READY"
	StatusDoing   TaskStatus = "DOING"
	StatusBlocked TaskStatus = "BLOCKED"
	StatusReview  TaskStatus = "REVIEW"
	StatusDone    TaskStatus = "DONE"
)

// TaskStatuses lists the board columns in display order.
var TaskStatuses = []TaskStatus{StatusBacklog, StatusReady, StatusDoing, StatusBlocked, StatusReview, StatusDone}

func (s TaskStatus) Valid() bool {
	for _, v := range TaskStatuses {
		if s == v {
			return true
		}
	}
	return false
}

// ExecutionMode says whether a permitted capability runs directly or is proposed for approval.
type ExecutionMode string

const (
	ModeExecute ExecutionMode = "execute"
	ModePropose ExecutionMode = "propose"
)

func (m ExecutionMode) Valid() bool {
	return m == ModeExecute || m == ModePropose
}

type ExecutionPolicy struct {
	Default ExecutionMode            `json:"default,omitempty" yaml:"default"`
	BySkill map[string]ExecutionMode `json:"by_skill,omitempty" yaml:"by_skill"`
}

type OutputContract struct {
	RequiredFields []string `json:"required_fields"`
}

// DefaultOutputContract mirrors the minimal status report every agent owes the chair.
func DefaultOutputContract() OutputContract {
	return OutputContract{RequiredFields: []string{"current_task", "status", "next_step", "blockers"}}
}

type WorkState struct {
	TaskID    string `json:"task_id,omitempty"`
	Status    string `json:"status,omitempty"`
	NextStep  string `json:"next_step,omitempty"`
	Blockers  string `json:"blockers,omitempty"`
	UpdatedAt string `json:"updated_at,omitempty" format:"date-time"`
}

type Agent struct {
	ID               string          `json:"id"`
	Name             string          `json:"name"`
	Role             string          `json:"role"`
	SoulMD           string          `json:"soul_md,omitempty"`
	Model            *string         `json:"model,omitempty"`
	CapabilityHandle *string         `json:"capability_handle,omitempty"`
	Enabled          bool            `json:"enabled"`
	SortOrder        int             `json:"sort_order"`
	SkillsAllow      []string        `json:"skills_allow"`
	ExecutionPolicy  ExecutionPolicy `json:"execution_policy"`
	ConstraintsJSON  string          `json:"constraints_json,omitempty"`
	OutputContract   OutputContract  `json:"output_contract"`
	WorkState        *WorkState      `json:"work_state,omitempty"`
	Version          int64           `json:"version"`
	CreatedAt        string          `json:"created_at" format:"date-time"`
	UpdatedAt        string          `json:"updated_at" format:"date-time"`
}

type Task struct {
	ID           string     `json:"id"`
	Title        string     `json:"title"`
	Description  string     `json:"description,omitempty"`
	Status       TaskStatus `json:"status" enum:"BACKLOG,READY,DOING,BLOCKED,REVIEW,DONE"`
	Priority     int        `json:"priority"`
	SortOrder    *int       `json:"sort_order,omitempty"`
	OwnerAgentID *string    `json:"owner_agent_id,omitempty"`
	Version      int64      `json:"version"`
	CreatedAt    string     `json:"created_at" format:"date-time"`
	UpdatedAt    string     `json:"updated_at" format:"date-time"`
}

type ConversationType string

const (
	ConversationTask    ConversationType = "TASK"
	ConversationWarRoom ConversationType = "WAR_ROOM"
)

func (t ConversationType) Valid() bool {
	return t == ConversationTask || t == ConversationWarRoom
}

type Conversation struct {
	ID        string           `json:"id"`
	Type      ConversationType `json:"type" enum:"TASK,WAR_ROOM"`
	TaskID    *string          `json:"task_id,omitempty"`
	CreatedAt string           `json:"created_at" format:"date-time"`
}

const (
	SpeakerSystem   = "system"
	SpeakerAgent    = "agent"
	SpeakerOperator = "operator"
)

// Turn is one immutable transcript entry. Seq is its position within the conversation.
type Turn struct {
	ID             string  `json:"id"`
	ConversationID string  `json:"conversation_id"`
	Seq            int64   `json:"seq"`
	SpeakerType    string  `json:"speaker_type"`
	SpeakerID      *string `json:"speaker_id,omitempty"`
	Content        string  `json:"content"`
	ToolEventsJSON string  `json:"tool_events_json,omitempty"`
	CreatedAt      string  `json:"created_at" format:"date-time"`
}

type RunState string

const (
	RunStarted        RunState = "STARTED"
	RunCollecting     RunState = "COLLECTING"
	RunAggregating    RunState = "AGGREGATING"
	RunAnswered       RunState = "ANSWERED"
	RunDelivered      RunState = "DELIVERED"
	RunDeliveryFailed RunState = "DELIVERY_FAILED"
	RunCancelled      RunState = "CANCELLED"
)

// Terminal reports whether no further transition can leave the state.
func (s RunState) Terminal() bool {
	return s == RunDelivered || s == RunDeliveryFailed || s == RunCancelled
}

type WarRoomRun struct {
	ID             string   `json:"id"`
	ConversationID string   `json:"conversation_id"`
	Slot           *string  `json:"slot,omitempty"`
	State          RunState `json:"state" enum:"STARTED,COLLECTING,AGGREGATING,ANSWERED,DELIVERED,DELIVERY_FAILED,CANCELLED"`
	FinalAnswer    string   `json:"final_answer"`
	DeliveryError  *string  `json:"delivery_error,omitempty"`
	DeliveredAt    *string  `json:"delivered_at,omitempty" format:"date-time"`
	CreatedAt      string   `json:"created_at" format:"date-time"`
	UpdatedAt      string   `json:"updated_at" format:"date-time"`
}

type AuditEvent struct {
	ID          int64  `json:"id"`
	Actor       string `json:"actor"`
	Role        string `json:"role"`
	Action      string `json:"action"`
	EntityType  string `json:"entity_type"`
	EntityID    string `json:"entity_id,omitempty"`
	PayloadJSON string `json:"payload_json"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Role      string `json:"role"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

package models

import (
	"time"
)

// Directive is an inbound request to be evaluated and, if approved, executed.
// Immutable once created.
type Directive struct {
	ID          string    `json:"id"`
	Content     string    `json:"content"`
	Source      string    `json:"source"`
	SubmittedAt time.Time `json:"submitted_at"`
	Priority    int       `json:"priority"`
	SessionID   string    `json:"session_id,omitempty"`
}

// ExecutionResult is the single definitive outcome of a directive.
// At most one is produced per directive ID.
type ExecutionResult struct {
	DirectiveID    string                 `json:"directive_id"`
	Success        bool                   `json:"success"`
	Payload        map[string]interface{} `json:"payload,omitempty"`
	Error          string                 `json:"error,omitempty"`
	Duration       time.Duration          `json:"duration"`
	AlignmentScore float64                `json:"alignment_score"`
	CompletedAt    time.Time              `json:"completed_at"`
}

// SystemMessage carries escalations and other out-of-band notifications.
type SystemMessage struct {
	Type      string                 `json:"type"`
	Content   string                 `json:"content"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// System message types.
const (
	MessageTypeEscalation  = "escalation"
	MessageTypeMaintenance = "maintenance"
	MessageTypeFatal       = "fatal"
)

// AgentTask is a unit of work routed to a worker agent. The scheduler owns it
// until dispatch, then the executing agent does.
type AgentTask struct {
	ID          string                 `json:"id"`
	AgentName   string                 `json:"agent_name"`
	Type        string                 `json:"task_type"`
	Parameters  map[string]interface{} `json:"parameters,omitempty"`
	Priority    int                    `json:"priority"`
	CreatedAt   time.Time              `json:"created_at"`
	AssignedAt  time.Time              `json:"assigned_at,omitempty"`
	CompletedAt time.Time              `json:"completed_at,omitempty"`
	Result      *TaskResult            `json:"result,omitempty"`
}

// TaskResult is what an agent produced for a single task.
type TaskResult struct {
	TaskID      string                 `json:"task_id"`
	AgentName   string                 `json:"agent_name"`
	Success     bool                   `json:"success"`
	Payload     map[string]interface{} `json:"payload,omitempty"`
	Error       string                 `json:"error,omitempty"`
	Duration    time.Duration          `json:"duration"`
	CompletedAt time.Time              `json:"completed_at"`
}

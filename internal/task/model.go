package task

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Type classifies the work a task represents. The set is closed; the
// extraction pipeline never emits anything outside it.
type Type string

const (
	TypeCodeChange Type = "code-change"
	TypeNewProject Type = "new-project"
	TypeResearch   Type = "research"
	TypeWrite      Type = "write"
	TypeHumanTask  Type = "human-task"
)

// Subtype refines code-change tasks. Empty for every other type.
type Subtype string

const (
	SubtypeBug      Subtype = "bug"
	SubtypeFeature  Subtype = "feature"
	SubtypeRefactor Subtype = "refactor"
)

// Status is the task state machine. Pending tasks are claimable,
// in-progress tasks are owned by the running worker, and completed,
// failed, and cancelled are terminal. AwaitingFeedback returns to
// in-progress when a human replies on the message thread.
type Status string

const (
	StatusPending          Status = "pending"
	StatusInProgress       Status = "in-progress"
	StatusCompleted        Status = "completed"
	StatusFailed           Status = "failed"
	StatusCancelled        Status = "cancelled"
	StatusAwaitingFeedback Status = "awaiting-feedback"
)

// Terminal reports whether a task in this status will never run again
// without external intervention.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// ErrorCategory is the small fixed taxonomy recorded when execution fails.
type ErrorCategory string

const (
	ErrorCategoryTimeout    ErrorCategory = "timeout"
	ErrorCategoryQuota      ErrorCategory = "quota"
	ErrorCategoryPermission ErrorCategory = "permission"
	ErrorCategoryCancelled  ErrorCategory = "cancelled"
	ErrorCategoryUnknown    ErrorCategory = "unknown"
)

// Message is one entry on a task's feedback thread.
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Task is the unit of extracted work. DependsOn is a weak reference by
// id: the referenced task has its own lifecycle and is resolved through
// the store, never embedded. Messages and Progress are stored as JSON
// text to stay wire-compatible with records written by the client.
type Task struct {
	ID          string
	Type        Type
	Subtype     Subtype
	Title       string
	Description string
	Status      Status

	ExtractedAt time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time

	Result        string
	ErrorMessage  string
	ErrorCategory ErrorCategory

	// DependsOn holds the id of the single task that must complete
	// before this one becomes ready. Empty means no dependency.
	DependsOn string
	// SequenceIndex orders otherwise-unconstrained ready tasks. Nil
	// sorts after every indexed task.
	SequenceIndex *int

	MessagesJSON    string
	SessionID       string
	CancelRequested bool
	ProgressJSON    string
	LogFile         string

	DurationMs    int64
	ToolCount     int
	PromptVersion string

	ProjectDir  string
	DeployURL   string
	DeployLabel string
}

// Messages decodes the JSON message thread. An empty or malformed thread
// decodes to nil; thread corruption must never block execution.
func (t Task) Messages() []Message {
	if strings.TrimSpace(t.MessagesJSON) == "" {
		return nil
	}
	var msgs []Message
	if err := json.Unmarshal([]byte(t.MessagesJSON), &msgs); err != nil {
		return nil
	}
	return msgs
}

// LastMessage returns the most recent thread entry, if any.
func (t Task) LastMessage() (Message, bool) {
	msgs := t.Messages()
	if len(msgs) == 0 {
		return Message{}, false
	}
	return msgs[len(msgs)-1], true
}

// EncodeMessages renders a thread back to its stored JSON form.
func EncodeMessages(msgs []Message) (string, error) {
	if len(msgs) == 0 {
		return "", nil
	}
	data, err := json.Marshal(msgs)
	if err != nil {
		return "", fmt.Errorf("task: encode messages: %w", err)
	}
	return string(data), nil
}

// Validate enforces baseline field requirements before a task is stored.
func (t Task) Validate() error {
	if strings.TrimSpace(t.ID) == "" {
		return fmt.Errorf("task: id is required")
	}
	switch t.Type {
	case TypeCodeChange, TypeNewProject, TypeResearch, TypeWrite, TypeHumanTask:
	default:
		return fmt.Errorf("task: unknown type %q", t.Type)
	}
	if t.Subtype != "" && t.Type != TypeCodeChange {
		return fmt.Errorf("task: subtype %q only valid for code-change", t.Subtype)
	}
	switch t.Status {
	case StatusPending, StatusInProgress, StatusCompleted, StatusFailed, StatusCancelled, StatusAwaitingFeedback:
	default:
		return fmt.Errorf("task: unknown status %q", t.Status)
	}
	return nil
}

// PromptVersion correlates execution outcomes with the exact instruction
// content active when the task was claimed. Quality aggregates are
// computed offline and written back later.
type PromptVersion struct {
	ID         string
	CreatedAt  time.Time
	AvgRating  float64
	RatedCount int
}

// Heartbeat is a per-role liveness record, used only for observability.
type Heartbeat struct {
	Role     string
	LastSeen time.Time
	Status   string
}

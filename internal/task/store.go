package task

import (
	"context"
	"errors"
	"time"
)

var (
	ErrTaskNotFound          = errors.New("task not found")
	ErrTaskAlreadyExists     = errors.New("task already exists")
	ErrPromptVersionNotFound = errors.New("prompt version not found")
)

// Query narrows a task listing. Zero values mean "no constraint".
type Query struct {
	Status Status
	// Since keeps only tasks extracted at or after this instant.
	Since time.Time
}

// Update is a transactional field patch. Nil pointers leave the stored
// field untouched; non-nil pointers overwrite it, including overwriting
// with the zero value.
type Update struct {
	Status        *Status
	StartedAt     **time.Time
	CompletedAt   **time.Time
	Result        *string
	ErrorMessage  *string
	ErrorCategory *ErrorCategory
	MessagesJSON  *string
	SessionID     *string
	ProgressJSON  *string
	LogFile       *string
	DurationMs    *int64
	ToolCount     *int
	PromptVersion *string
	ProjectDir    *string
	DeployURL     *string
	DeployLabel   *string
	CancelRequest *bool
}

// ClaimStamp carries the fields written by the atomic pending to
// in-progress transition.
type ClaimStamp struct {
	StartedAt     time.Time
	LogFile       string
	PromptVersion string
}

// Store abstracts the external document store holding task records. The
// worker treats a successful Claim as its sole mutual-exclusion point;
// everything else is plain reads and field patches.
type Store interface {
	// Task fetches a single record by id. Returns ErrTaskNotFound when
	// the id is unknown.
	Task(ctx context.Context, id string) (Task, error)

	// Tasks lists records matching the query, in extraction order.
	Tasks(ctx context.Context, q Query) ([]Task, error)

	// CreateTask inserts a new record. Returns ErrTaskAlreadyExists on
	// id collision.
	CreateTask(ctx context.Context, t Task) error

	// UpdateTask applies a field patch to an existing record.
	UpdateTask(ctx context.Context, id string, u Update) error

	// ClaimTask atomically moves a pending task to in-progress, stamping
	// start time, log file, and prompt version and clearing any stale
	// progress snapshot. Returns false without error when the task is no
	// longer pending.
	ClaimTask(ctx context.Context, id string, stamp ClaimStamp) (bool, error)

	// Dependency resolves a task's single dependency link. The second
	// return is false when the task has no dependency or the referenced
	// record is gone.
	Dependency(ctx context.Context, t Task) (Task, bool, error)

	// PromptVersion fetches a version record by its short hash id.
	PromptVersion(ctx context.Context, id string) (PromptVersion, error)

	// CreatePromptVersion inserts a version record; inserting an id that
	// already exists is not an error (get-or-create semantics live in
	// the caller).
	CreatePromptVersion(ctx context.Context, v PromptVersion) error

	// WriteHeartbeat upserts a role's liveness record.
	WriteHeartbeat(ctx context.Context, hb Heartbeat) error
}

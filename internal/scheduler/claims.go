package scheduler

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/yazinsai/mic-worker/internal/task"
	"github.com/yazinsai/mic-worker/internal/tasklog"
)

// Claimer performs the atomic pending to in-progress transition and the
// startup orphan recovery. A successful claim is the worker's only
// mutual-exclusion point; everything downstream assumes ownership.
type Claimer struct {
	store       task.Store
	taskLogsDir string
	now         func() time.Time
}

// NewClaimer wires a claimer to the store. Claimed tasks get log file
// paths allocated under taskLogsDir.
func NewClaimer(store task.Store, taskLogsDir string) (*Claimer, error) {
	if store == nil {
		return nil, fmt.Errorf("scheduler: task store is required")
	}
	return &Claimer{
		store:       store,
		taskLogsDir: taskLogsDir,
		now:         func() time.Time { return time.Now().UTC() },
	}, nil
}

// Claim reserves one pending task: stamps the start time, attaches the
// pre-computed log file path, records the active prompt version, and
// clears any stale progress snapshot. Returns the stamped task and true
// on success. Any failure, including losing the race to another claim,
// returns false; the caller simply skips the task this batch.
func (c *Claimer) Claim(ctx context.Context, t task.Task, promptVersion string) (task.Task, bool, error) {
	startedAt := c.now()
	stamp := task.ClaimStamp{
		StartedAt:     startedAt,
		LogFile:       filepath.Join(c.taskLogsDir, tasklog.FileName(t.ID, startedAt)),
		PromptVersion: promptVersion,
	}
	ok, err := c.store.ClaimTask(ctx, t.ID, stamp)
	if err != nil {
		return task.Task{}, false, fmt.Errorf("scheduler: claim %s: %w", t.ID, err)
	}
	if !ok {
		return task.Task{}, false, nil
	}
	t.Status = task.StatusInProgress
	t.StartedAt = &stamp.StartedAt
	t.LogFile = stamp.LogFile
	t.PromptVersion = stamp.PromptVersion
	t.ProgressJSON = ""
	return t, true, nil
}

// Recover resets every in-progress task back to pending, clearing start
// time and log file. Run once at startup, before the first poll: with a
// single worker process, any task found in-progress is by definition
// orphaned by a crash. Returns the ids of recovered tasks.
func (c *Claimer) Recover(ctx context.Context) ([]string, error) {
	orphans, err := c.store.Tasks(ctx, task.Query{Status: task.StatusInProgress})
	if err != nil {
		return nil, fmt.Errorf("scheduler: list orphans: %w", err)
	}
	var recovered []string
	for _, orphan := range orphans {
		pending := task.StatusPending
		var clearedTime *time.Time
		cleared := ""
		err := c.store.UpdateTask(ctx, orphan.ID, task.Update{
			Status:    &pending,
			StartedAt: &clearedTime,
			LogFile:   &cleared,
		})
		if err != nil {
			return recovered, fmt.Errorf("scheduler: recover %s: %w", orphan.ID, err)
		}
		recovered = append(recovered, orphan.ID)
	}
	return recovered, nil
}

// ResetForRerun forces a specific task back to pending so a single-task
// invocation can execute it regardless of its current status.
func (c *Claimer) ResetForRerun(ctx context.Context, id string) error {
	if _, err := c.store.Task(ctx, id); err != nil {
		return fmt.Errorf("scheduler: reset %s: %w", id, err)
	}
	pending := task.StatusPending
	var clearedTime *time.Time
	cleared := ""
	noCategory := task.ErrorCategory("")
	cancel := false
	err := c.store.UpdateTask(ctx, id, task.Update{
		Status:        &pending,
		StartedAt:     &clearedTime,
		CompletedAt:   &clearedTime,
		LogFile:       &cleared,
		ErrorMessage:  &cleared,
		ErrorCategory: &noCategory,
		CancelRequest: &cancel,
	})
	if err != nil {
		return fmt.Errorf("scheduler: reset %s: %w", id, err)
	}
	return nil
}

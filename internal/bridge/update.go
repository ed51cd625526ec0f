// Package bridge serves the loopback side channel through which a
// spawned agent updates its own task record mid-execution. The driver's
// finalization defers to whatever lands here.
package bridge

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/yazinsai/mic-worker/internal/task"
)

// TaskUpdate is the inbound payload posted by the mic-task helper. All
// fields except TaskID are optional; empty fields leave the stored
// record untouched.
type TaskUpdate struct {
	TaskID      string `json:"taskId"`
	Result      string `json:"result"`
	Status      string `json:"status"`
	DeployURL   string `json:"deployUrl"`
	DeployLabel string `json:"deployLabel"`
}

// Normalize trims whitespace before validation.
func (u *TaskUpdate) Normalize() {
	if u == nil {
		return
	}
	u.TaskID = strings.TrimSpace(u.TaskID)
	u.Result = strings.TrimSpace(u.Result)
	u.Status = strings.TrimSpace(u.Status)
	u.DeployURL = strings.TrimSpace(u.DeployURL)
	u.DeployLabel = strings.TrimSpace(u.DeployLabel)
}

// Validate enforces the side-channel contract: a task id, at least one
// field to set, and a status the agent is allowed to declare.
func (u TaskUpdate) Validate() error {
	if u.TaskID == "" {
		return errors.New("taskId is required")
	}
	if u.Result == "" && u.Status == "" && u.DeployURL == "" && u.DeployLabel == "" {
		return errors.New("update sets no fields")
	}
	switch task.Status(u.Status) {
	case "", task.StatusCompleted, task.StatusFailed, task.StatusAwaitingFeedback:
	default:
		return fmt.Errorf("status %q not settable through the side channel", u.Status)
	}
	return nil
}

// patch converts the payload into a store field patch.
func (u TaskUpdate) patch(now time.Time) task.Update {
	var p task.Update
	if u.Result != "" {
		p.Result = &u.Result
	}
	if u.Status != "" {
		status := task.Status(u.Status)
		p.Status = &status
		if status.Terminal() {
			at := &now
			p.CompletedAt = &at
		}
	}
	if u.DeployURL != "" {
		p.DeployURL = &u.DeployURL
	}
	if u.DeployLabel != "" {
		p.DeployLabel = &u.DeployLabel
	}
	return p
}

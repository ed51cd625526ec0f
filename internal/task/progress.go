package task

import (
	"encoding/json"
	"fmt"
	"time"
)

// MaxActivityEntries bounds the progress timeline. Older entries are
// dropped as new ones arrive.
const MaxActivityEntries = 30

// ActivityKind tags one timeline entry.
type ActivityKind string

const (
	ActivitySkill     ActivityKind = "skill"
	ActivityTool      ActivityKind = "tool"
	ActivityAgent     ActivityKind = "agent"
	ActivityMessage   ActivityKind = "message"
	ActivityMilestone ActivityKind = "milestone"
)

// ActivityStatus is the lifecycle of a timeline entry.
type ActivityStatus string

const (
	ActivityActive ActivityStatus = "active"
	ActivityDone   ActivityStatus = "done"
	ActivityError  ActivityStatus = "error"
)

// ActivityEntry is one row of the user-facing activity feed.
type ActivityEntry struct {
	Kind       ActivityKind   `json:"kind"`
	Icon       string         `json:"icon"`
	Label      string         `json:"label"`
	Detail     string         `json:"detail,omitempty"`
	StartedAt  time.Time      `json:"startedAt"`
	DurationMs int64          `json:"durationMs,omitempty"`
	Status     ActivityStatus `json:"status"`
}

// Progress is the bounded, human-readable summary projected from a
// task's raw log output. It is ephemeral: created when a log starts
// being watched, overwritten wholesale on each persist, and discarded
// when the task leaves in-progress. It is never the source of truth for
// task status.
type Progress struct {
	CurrentActivity string          `json:"currentActivity,omitempty"`
	Skills          []string        `json:"skills,omitempty"`
	CurrentTask     string          `json:"currentTask,omitempty"`
	TasksDone       int             `json:"tasksDone,omitempty"`
	TasksTotal      int             `json:"tasksTotal,omitempty"`
	Activities      []ActivityEntry `json:"activities,omitempty"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}

// AddSkill records a skill invocation, deduplicating by name.
func (p *Progress) AddSkill(name string) {
	for _, s := range p.Skills {
		if s == name {
			return
		}
	}
	p.Skills = append(p.Skills, name)
}

// AppendActivity pushes an entry onto the timeline, evicting the oldest
// entries beyond MaxActivityEntries.
func (p *Progress) AppendActivity(e ActivityEntry) {
	p.Activities = append(p.Activities, e)
	if n := len(p.Activities); n > MaxActivityEntries {
		p.Activities = p.Activities[n-MaxActivityEntries:]
	}
}

// Encode renders the snapshot to its stored JSON form.
func (p Progress) Encode() (string, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("task: encode progress: %w", err)
	}
	return string(data), nil
}

// DecodeProgress parses a stored snapshot. Empty input yields a zero
// snapshot rather than an error.
func DecodeProgress(raw string) (Progress, error) {
	var p Progress
	if raw == "" {
		return p, nil
	}
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return Progress{}, fmt.Errorf("task: decode progress: %w", err)
	}
	return p, nil
}

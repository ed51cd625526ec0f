package task

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-memory Store used by tests and single-shot runs
// that do not need persistence. Safe for concurrent use.
type MemoryStore struct {
	mu         sync.Mutex
	tasks      map[string]Task
	order      []string
	versions   map[string]PromptVersion
	heartbeats map[string]Heartbeat
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tasks:      make(map[string]Task),
		versions:   make(map[string]PromptVersion),
		heartbeats: make(map[string]Heartbeat),
	}
}

func (s *MemoryStore) Task(ctx context.Context, id string) (Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return Task{}, ErrTaskNotFound
	}
	return t, nil
}

func (s *MemoryStore) Tasks(ctx context.Context, q Query) ([]Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Task, 0, len(s.order))
	for _, id := range s.order {
		t := s.tasks[id]
		if q.Status != "" && t.Status != q.Status {
			continue
		}
		if !q.Since.IsZero() && t.ExtractedAt.Before(q.Since) {
			continue
		}
		out = append(out, t)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].ExtractedAt.Before(out[j].ExtractedAt)
	})
	return out, nil
}

func (s *MemoryStore) CreateTask(ctx context.Context, t Task) error {
	if err := t.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[t.ID]; ok {
		return ErrTaskAlreadyExists
	}
	s.tasks[t.ID] = t
	s.order = append(s.order, t.ID)
	return nil
}

func (s *MemoryStore) UpdateTask(ctx context.Context, id string, u Update) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return ErrTaskNotFound
	}
	applyUpdate(&t, u)
	s.tasks[id] = t
	return nil
}

func (s *MemoryStore) ClaimTask(ctx context.Context, id string, stamp ClaimStamp) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return false, ErrTaskNotFound
	}
	if t.Status != StatusPending {
		return false, nil
	}
	started := stamp.StartedAt
	t.Status = StatusInProgress
	t.StartedAt = &started
	t.LogFile = stamp.LogFile
	t.PromptVersion = stamp.PromptVersion
	t.ProgressJSON = ""
	s.tasks[id] = t
	return true, nil
}

func (s *MemoryStore) Dependency(ctx context.Context, t Task) (Task, bool, error) {
	if t.DependsOn == "" {
		return Task{}, false, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	dep, ok := s.tasks[t.DependsOn]
	if !ok {
		return Task{}, false, nil
	}
	return dep, true, nil
}

func (s *MemoryStore) PromptVersion(ctx context.Context, id string) (PromptVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.versions[id]
	if !ok {
		return PromptVersion{}, ErrPromptVersionNotFound
	}
	return v, nil
}

func (s *MemoryStore) CreatePromptVersion(ctx context.Context, v PromptVersion) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.versions[v.ID]; ok {
		return nil
	}
	s.versions[v.ID] = v
	return nil
}

func (s *MemoryStore) WriteHeartbeat(ctx context.Context, hb Heartbeat) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.heartbeats[hb.Role] = hb
	return nil
}

// Heartbeat returns the stored record for a role; tests only.
func (s *MemoryStore) Heartbeat(role string) (Heartbeat, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	hb, ok := s.heartbeats[role]
	return hb, ok
}

func applyUpdate(t *Task, u Update) {
	if u.Status != nil {
		t.Status = *u.Status
	}
	if u.StartedAt != nil {
		t.StartedAt = *u.StartedAt
	}
	if u.CompletedAt != nil {
		t.CompletedAt = *u.CompletedAt
	}
	if u.Result != nil {
		t.Result = *u.Result
	}
	if u.ErrorMessage != nil {
		t.ErrorMessage = *u.ErrorMessage
	}
	if u.ErrorCategory != nil {
		t.ErrorCategory = *u.ErrorCategory
	}
	if u.MessagesJSON != nil {
		t.MessagesJSON = *u.MessagesJSON
	}
	if u.SessionID != nil {
		t.SessionID = *u.SessionID
	}
	if u.ProgressJSON != nil {
		t.ProgressJSON = *u.ProgressJSON
	}
	if u.LogFile != nil {
		t.LogFile = *u.LogFile
	}
	if u.DurationMs != nil {
		t.DurationMs = *u.DurationMs
	}
	if u.ToolCount != nil {
		t.ToolCount = *u.ToolCount
	}
	if u.PromptVersion != nil {
		t.PromptVersion = *u.PromptVersion
	}
	if u.ProjectDir != nil {
		t.ProjectDir = *u.ProjectDir
	}
	if u.DeployURL != nil {
		t.DeployURL = *u.DeployURL
	}
	if u.DeployLabel != nil {
		t.DeployLabel = *u.DeployLabel
	}
	if u.CancelRequest != nil {
		t.CancelRequested = *u.CancelRequest
	}
}

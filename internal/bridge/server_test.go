package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/yazinsai/mic-worker/internal/task"
)

func startTestServer(t *testing.T, store task.Store) *Server {
	t.Helper()
	s, err := NewServer(Settings{ListenAddr: "127.0.0.1:0"}, store)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() { _ = s.Shutdown(context.Background()) })
	return s
}

func seedTask(t *testing.T, store task.Store, id string) {
	t.Helper()
	err := store.CreateTask(context.Background(), task.Task{
		ID:          id,
		Type:        task.TypeCodeChange,
		Title:       "task " + id,
		Status:      task.StatusInProgress,
		ExtractedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("seed task: %v", err)
	}
}

func postUpdate(t *testing.T, s *Server, payload any) *http.Response {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	resp, err := http.Post("http://"+s.Addr()+"/update", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestUpdateAppliesFieldPatch(t *testing.T) {
	store := task.NewMemoryStore()
	seedTask(t, store, "t-1")
	s := startTestServer(t, store)

	resp := postUpdate(t, s, TaskUpdate{
		TaskID:      "t-1",
		Result:      "Deployed the new landing page",
		Status:      "awaiting-feedback",
		DeployURL:   "https://preview.example.com/abc",
		DeployLabel: "Preview",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	got, err := store.Task(context.Background(), "t-1")
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if got.Status != task.StatusAwaitingFeedback {
		t.Fatalf("status = %s", got.Status)
	}
	if got.Result != "Deployed the new landing page" {
		t.Fatalf("result = %q", got.Result)
	}
	if got.DeployURL != "https://preview.example.com/abc" || got.DeployLabel != "Preview" {
		t.Fatalf("deploy fields = %q %q", got.DeployURL, got.DeployLabel)
	}
	if got.CompletedAt != nil {
		t.Fatalf("awaiting-feedback must not stamp completedAt")
	}
}

func TestUpdateTerminalStatusStampsCompletedAt(t *testing.T) {
	store := task.NewMemoryStore()
	seedTask(t, store, "t-2")
	s := startTestServer(t, store)

	resp := postUpdate(t, s, TaskUpdate{TaskID: "t-2", Status: "completed", Result: "done"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	got, _ := store.Task(context.Background(), "t-2")
	if got.Status != task.StatusCompleted || got.CompletedAt == nil {
		t.Fatalf("task = %+v", got)
	}
}

func TestUpdateRejectsInvalidPayloads(t *testing.T) {
	store := task.NewMemoryStore()
	seedTask(t, store, "t-3")
	s := startTestServer(t, store)

	cases := []struct {
		name    string
		payload TaskUpdate
		want    int
	}{
		{"missing task id", TaskUpdate{Result: "x"}, http.StatusBadRequest},
		{"no fields set", TaskUpdate{TaskID: "t-3"}, http.StatusBadRequest},
		{"status not settable", TaskUpdate{TaskID: "t-3", Status: "pending"}, http.StatusBadRequest},
		{"unknown task", TaskUpdate{TaskID: "ghost", Result: "x"}, http.StatusNotFound},
	}
	for _, tc := range cases {
		resp := postUpdate(t, s, tc.payload)
		if resp.StatusCode != tc.want {
			t.Fatalf("%s: status = %d, want %d", tc.name, resp.StatusCode, tc.want)
		}
	}

	// The rejected updates must not have touched the record.
	got, _ := store.Task(context.Background(), "t-3")
	if got.Status != task.StatusInProgress || got.Result != "" {
		t.Fatalf("record mutated by rejected update: %+v", got)
	}
}

func TestUpdateRejectsNonJSON(t *testing.T) {
	store := task.NewMemoryStore()
	s := startTestServer(t, store)

	resp, err := http.Post("http://"+s.Addr()+"/update", "application/json", bytes.NewReader([]byte("not json")))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestHealthEndpoint(t *testing.T) {
	store := task.NewMemoryStore()
	s := startTestServer(t, store)

	resp, err := http.Get("http://" + s.Addr() + "/health")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

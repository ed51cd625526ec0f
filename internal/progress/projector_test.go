package progress

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/yazinsai/mic-worker/internal/task"
)

// countingStore counts progress persists while delegating everything to
// the wrapped store.
type countingStore struct {
	task.Store
	mu             sync.Mutex
	progressWrites int
}

func (c *countingStore) UpdateTask(ctx context.Context, id string, u task.Update) error {
	if u.ProgressJSON != nil {
		c.mu.Lock()
		c.progressWrites++
		c.mu.Unlock()
	}
	return c.Store.UpdateTask(ctx, id, u)
}

func (c *countingStore) writes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.progressWrites
}

func seedRunningTask(t *testing.T, store task.Store, id string) string {
	t.Helper()
	logFile := filepath.Join(t.TempDir(), id+".log")
	err := store.CreateTask(context.Background(), task.Task{
		ID:          id,
		Type:        task.TypeCodeChange,
		Title:       "task " + id,
		Status:      task.StatusPending,
		ExtractedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	ok, err := store.ClaimTask(context.Background(), id, task.ClaimStamp{
		StartedAt: time.Now().UTC(),
		LogFile:   logFile,
	})
	if err != nil || !ok {
		t.Fatalf("claim: ok=%v err=%v", ok, err)
	}
	return logFile
}

func appendLine(t *testing.T, path, line string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		t.Fatalf("open log: %v", err)
	}
	defer f.Close()
	if _, err := f.WriteString(line + "\n"); err != nil {
		t.Fatalf("append: %v", err)
	}
}

func TestProjectorDebouncesBurstIntoOneWrite(t *testing.T) {
	store := &countingStore{Store: task.NewMemoryStore()}
	p, err := New(store, nil, nil, Options{DebounceWindow: 60 * time.Millisecond})
	if err != nil {
		t.Fatalf("new projector: %v", err)
	}
	logFile := seedRunningTask(t, store, "t-1")
	p.syncWatchSet(context.Background())

	// Five parse events inside one debounce window.
	for i := 0; i < 5; i++ {
		appendLine(t, logFile, toolUseLine(fmt.Sprintf("tu-%d", i), "Grep", `{"pattern":"x"}`))
		p.tailOnce()
	}
	if got := store.writes(); got != 0 {
		t.Fatalf("write fired before debounce window: %d", got)
	}

	deadline := time.Now().Add(2 * time.Second)
	for store.writes() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	// Allow any stray timer to fire before counting.
	time.Sleep(150 * time.Millisecond)
	if got := store.writes(); got != 1 {
		t.Fatalf("progress writes = %d, want exactly 1", got)
	}

	got, err := store.Task(context.Background(), "t-1")
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	snap, err := task.DecodeProgress(got.ProgressJSON)
	if err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if len(snap.Activities) != 5 {
		t.Fatalf("activities = %d, want 5", len(snap.Activities))
	}
	if snap.UpdatedAt.IsZero() {
		t.Fatalf("updatedAt not stamped")
	}
}

func TestProjectorDropsFinishedTaskAndCancelsPendingWrite(t *testing.T) {
	store := &countingStore{Store: task.NewMemoryStore()}
	p, err := New(store, nil, nil, Options{DebounceWindow: 80 * time.Millisecond})
	if err != nil {
		t.Fatalf("new projector: %v", err)
	}
	logFile := seedRunningTask(t, store, "t-2")
	p.syncWatchSet(context.Background())

	appendLine(t, logFile, toolUseLine("tu-1", "Read", `{"file_path":"a.go"}`))
	p.tailOnce()

	// Task finishes before the debounce fires; the pending write must be
	// cancelled along with the watch.
	completed := task.StatusCompleted
	if err := store.UpdateTask(context.Background(), "t-2", task.Update{Status: &completed}); err != nil {
		t.Fatalf("complete task: %v", err)
	}
	p.syncWatchSet(context.Background())

	time.Sleep(200 * time.Millisecond)
	if got := store.writes(); got != 0 {
		t.Fatalf("write fired for dropped task: %d", got)
	}
}

func TestTailerCarriesPartialLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tail.log")
	tl := newTailer(path)

	// Missing file is silence, not an error.
	if lines, err := tl.Lines(); err != nil || len(lines) != 0 {
		t.Fatalf("missing file: lines=%v err=%v", lines, err)
	}

	if err := os.WriteFile(path, []byte("first\nsec"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	lines, err := tl.Lines()
	if err != nil {
		t.Fatalf("tail: %v", err)
	}
	if len(lines) != 1 || lines[0] != "first" {
		t.Fatalf("lines = %v, partial line must be held back", lines)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := f.WriteString("ond\nthird\n"); err != nil {
		t.Fatalf("append: %v", err)
	}
	f.Close()

	lines, err = tl.Lines()
	if err != nil {
		t.Fatalf("tail: %v", err)
	}
	if len(lines) != 2 || lines[0] != "second" || lines[1] != "third" {
		t.Fatalf("lines = %v, want rejoined [second third]", lines)
	}

	// Nothing new: no lines, no error.
	if lines, err := tl.Lines(); err != nil || len(lines) != 0 {
		t.Fatalf("idle tail: lines=%v err=%v", lines, err)
	}
}

func TestDebouncerCoalescesPerKey(t *testing.T) {
	var mu sync.Mutex
	fired := map[string]int{}
	d := newDebouncer(40*time.Millisecond, func(key string) {
		mu.Lock()
		fired[key]++
		mu.Unlock()
	})
	defer d.Stop()

	for i := 0; i < 5; i++ {
		d.Schedule("a")
		time.Sleep(5 * time.Millisecond)
	}
	d.Schedule("b")
	d.Cancel("b")

	time.Sleep(120 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if fired["a"] != 1 {
		t.Fatalf("key a fired %d times, want 1", fired["a"])
	}
	if fired["b"] != 0 {
		t.Fatalf("cancelled key b fired %d times", fired["b"])
	}
}

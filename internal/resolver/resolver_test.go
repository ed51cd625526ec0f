package resolver

import (
	"context"
	"testing"
	"time"

	"github.com/yazinsai/mic-worker/internal/task"
)

func newStore(t *testing.T, tasks ...task.Task) *task.MemoryStore {
	t.Helper()
	store := task.NewMemoryStore()
	for _, seed := range tasks {
		if seed.ExtractedAt.IsZero() {
			seed.ExtractedAt = time.Now().UTC()
		}
		if err := store.CreateTask(context.Background(), seed); err != nil {
			t.Fatalf("seed %s: %v", seed.ID, err)
		}
	}
	return store
}

func pending(t *testing.T, store task.Store) []task.Task {
	t.Helper()
	out, err := store.Tasks(context.Background(), task.Query{Status: task.StatusPending})
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	return out
}

func seqPtr(v int) *int { return &v }

func TestResolveReadyIffDependencyCompleted(t *testing.T) {
	cases := []struct {
		name      string
		depStatus task.Status
		wantReady bool
	}{
		{"completed", task.StatusCompleted, true},
		{"pending", task.StatusPending, false},
		{"in-progress", task.StatusInProgress, false},
		{"failed", task.StatusFailed, false},
		{"cancelled", task.StatusCancelled, false},
		{"awaiting-feedback", task.StatusAwaitingFeedback, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := newStore(t,
				task.Task{ID: "dep", Type: task.TypeResearch, Status: tc.depStatus},
				task.Task{ID: "child", Type: task.TypeWrite, Status: task.StatusPending, DependsOn: "dep"},
			)
			res, err := New(store)
			if err != nil {
				t.Fatalf("new: %v", err)
			}
			snap, err := res.Resolve(context.Background(), pending(t, store))
			if err != nil {
				t.Fatalf("resolve: %v", err)
			}
			gotReady := false
			for _, r := range snap.Ready {
				if r.ID == "child" {
					gotReady = true
				}
			}
			if gotReady != tc.wantReady {
				t.Fatalf("child ready = %v, want %v (dep %s)", gotReady, tc.wantReady, tc.depStatus)
			}
			if !tc.wantReady {
				if len(snap.Blocked) != 1 || snap.Blocked[0].BlockedBy != tc.depStatus {
					t.Fatalf("blocked = %+v", snap.Blocked)
				}
			}
		})
	}
}

func TestResolveSequenceOrdering(t *testing.T) {
	store := newStore(t,
		task.Task{ID: "free-1", Type: task.TypeWrite, Status: task.StatusPending},
		task.Task{ID: "idx-9", Type: task.TypeWrite, Status: task.StatusPending, SequenceIndex: seqPtr(9)},
		task.Task{ID: "free-2", Type: task.TypeWrite, Status: task.StatusPending},
		task.Task{ID: "idx-2", Type: task.TypeWrite, Status: task.StatusPending, SequenceIndex: seqPtr(2)},
	)
	res, _ := New(store)
	snap, err := res.Resolve(context.Background(), pending(t, store))
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	var order []string
	for _, r := range snap.Ready {
		order = append(order, r.ID)
	}
	want := []string{"idx-2", "idx-9", "free-1", "free-2"}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestResolveDependencyChainAcrossPolls(t *testing.T) {
	ctx := context.Background()
	store := newStore(t,
		task.Task{ID: "a", Type: task.TypeCodeChange, Status: task.StatusPending, SequenceIndex: seqPtr(1)},
		task.Task{ID: "b", Type: task.TypeCodeChange, Status: task.StatusPending, SequenceIndex: seqPtr(2), DependsOn: "a"},
	)
	res, _ := New(store)

	snap, err := res.Resolve(ctx, pending(t, store))
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(snap.Ready) != 1 || snap.Ready[0].ID != "a" {
		t.Fatalf("first poll ready = %+v", snap.Ready)
	}

	status := task.StatusCompleted
	if err := store.UpdateTask(ctx, "a", task.Update{Status: &status}); err != nil {
		t.Fatalf("complete a: %v", err)
	}
	snap, err = res.Resolve(ctx, pending(t, store))
	if err != nil {
		t.Fatalf("second resolve: %v", err)
	}
	if len(snap.Ready) != 1 || snap.Ready[0].ID != "b" {
		t.Fatalf("second poll ready = %+v", snap.Ready)
	}
}

func TestResolveMissingDependencyStaysBlocked(t *testing.T) {
	store := newStore(t,
		task.Task{ID: "orphaned", Type: task.TypeWrite, Status: task.StatusPending, DependsOn: "gone"},
	)
	res, _ := New(store)
	snap, err := res.Resolve(context.Background(), pending(t, store))
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(snap.Ready) != 0 {
		t.Fatalf("ready = %+v", snap.Ready)
	}
	if len(snap.Blocked) != 1 || !snap.Blocked[0].MissingDep {
		t.Fatalf("blocked = %+v", snap.Blocked)
	}
}

func TestResolveSkipsNonPendingInput(t *testing.T) {
	store := newStore(t,
		task.Task{ID: "busy", Type: task.TypeWrite, Status: task.StatusInProgress},
	)
	res, _ := New(store)
	snap, err := res.Resolve(context.Background(), []task.Task{{
		ID: "busy", Type: task.TypeWrite, Status: task.StatusInProgress,
	}})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(snap.Ready) != 0 || len(snap.Blocked) != 0 {
		t.Fatalf("snapshot = %+v", snap)
	}
}

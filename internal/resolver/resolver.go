package resolver

import (
	"context"
	"fmt"
	"sort"

	"github.com/yazinsai/mic-worker/internal/task"
)

// Node pairs a pending task with its resolved dependency metadata.
type Node struct {
	Task task.Task
	// BlockedBy is the dependency's current status when the node is
	// blocked; empty for ready nodes.
	BlockedBy task.Status
	// MissingDep marks a dependency reference whose record no longer
	// exists. The node stays blocked; a vanished dependency can never
	// reach completed.
	MissingDep bool
}

// Ready reports whether the node can be dispatched now.
func (n Node) Ready() bool {
	return n.BlockedBy == "" && !n.MissingDep
}

// Snapshot is one resolution pass over the pending set.
type Snapshot struct {
	// Ready tasks, ordered ascending by sequence index. Unindexed tasks
	// sort after every indexed one, keeping their discovery order.
	Ready []task.Task
	// Blocked nodes, annotated with the blocking dependency's status.
	Blocked []Node
}

// Resolver partitions pending tasks into ready and blocked using each
// task's single dependency edge. The dependency is complete only when
// its status equals completed; a failed or cancelled dependency leaves
// the dependent blocked indefinitely (no failure propagation).
type Resolver struct {
	store task.Store
}

// New wires a resolver to the task store.
func New(store task.Store) (*Resolver, error) {
	if store == nil {
		return nil, fmt.Errorf("resolver: task store is required")
	}
	return &Resolver{store: store}, nil
}

// Resolve evaluates the given pending tasks against current dependency
// state. Tasks whose status is no longer pending are skipped; the poll
// that produced them raced a claim or an external edit.
func (r *Resolver) Resolve(ctx context.Context, pending []task.Task) (Snapshot, error) {
	var snap Snapshot
	for _, t := range pending {
		if t.Status != task.StatusPending {
			continue
		}
		if t.DependsOn == "" {
			snap.Ready = append(snap.Ready, t)
			continue
		}
		dep, ok, err := r.store.Dependency(ctx, t)
		if err != nil {
			return Snapshot{}, fmt.Errorf("resolver: dependency of %s: %w", t.ID, err)
		}
		if !ok {
			snap.Blocked = append(snap.Blocked, Node{Task: t, MissingDep: true})
			continue
		}
		if dep.Status == task.StatusCompleted {
			snap.Ready = append(snap.Ready, t)
			continue
		}
		snap.Blocked = append(snap.Blocked, Node{Task: t, BlockedBy: dep.Status})
	}
	sortBySequence(snap.Ready)
	return snap, nil
}

// sortBySequence orders ready tasks ascending by sequence index. Nil
// indexes are treated as +infinity; the sort is stable so unindexed
// tasks keep discovery order among themselves.
func sortBySequence(tasks []task.Task) {
	sort.SliceStable(tasks, func(i, j int) bool {
		a, b := tasks[i].SequenceIndex, tasks[j].SequenceIndex
		switch {
		case a == nil:
			return false
		case b == nil:
			return true
		default:
			return *a < *b
		}
	})
}

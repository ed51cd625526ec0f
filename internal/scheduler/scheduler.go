package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/yazinsai/mic-worker/internal/heartbeat"
	"github.com/yazinsai/mic-worker/internal/logging"
	"github.com/yazinsai/mic-worker/internal/resolver"
	"github.com/yazinsai/mic-worker/internal/task"
)

// Executor runs one claimed task to a terminal state. Implementations
// contain all task-level failures internally; the scheduler never sees
// an error from a single task.
type Executor interface {
	Execute(ctx context.Context, t task.Task)
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, t task.Task)

func (f ExecutorFunc) Execute(ctx context.Context, t task.Task) { f(ctx, t) }

// Options tune one scheduler instance.
type Options struct {
	// MaxConcurrency bounds each dispatch batch.
	MaxConcurrency int
	// PollInterval is the sleep between poll cycles in continuous mode.
	PollInterval time.Duration
	// Once runs a single poll cycle and returns.
	Once bool
	// Limit caps tasks processed per invocation; 0 means unlimited.
	Limit int
	// Since restricts polling to tasks extracted at or after this time.
	Since time.Time
	// OnlyTaskID restricts dispatch to one task id.
	OnlyTaskID string
}

// Scheduler polls the store, resolves ready work, claims it, and drives
// the executor in bounded batches with a full join barrier between
// batches. It assumes it is the only active instance; two concurrent
// schedulers would race claims and duplicate work.
type Scheduler struct {
	store         task.Store
	resolver      *resolver.Resolver
	claimer       *Claimer
	exec          Executor
	beater        *heartbeat.Beater
	log           *logging.Logger
	promptVersion string
	opts          Options
}

// New assembles a scheduler.
func New(store task.Store, res *resolver.Resolver, claimer *Claimer, exec Executor, beater *heartbeat.Beater, log *logging.Logger, promptVersion string, opts Options) (*Scheduler, error) {
	if store == nil || res == nil || claimer == nil || exec == nil {
		return nil, fmt.Errorf("scheduler: store, resolver, claimer, and executor are required")
	}
	if opts.MaxConcurrency <= 0 {
		opts.MaxConcurrency = 15
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 10 * time.Second
	}
	return &Scheduler{
		store:         store,
		resolver:      res,
		claimer:       claimer,
		exec:          exec,
		beater:        beater,
		log:           log,
		promptVersion: promptVersion,
		opts:          opts,
	}, nil
}

// Run executes poll cycles until ctx is cancelled (continuous mode) or
// one cycle finishes (Once). The per-invocation Limit spans cycles.
func (s *Scheduler) Run(ctx context.Context) error {
	remaining := s.opts.Limit
	ticker := time.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()
	for {
		s.beater.Beat(ctx, "polling")
		processed, err := s.runCycle(ctx, remaining)
		if err != nil {
			// Store outages are transient by assumption; keep polling.
			s.log.Printf("scheduler: poll cycle failed: %v", err)
		}
		if s.opts.Limit > 0 {
			remaining -= processed
			if remaining <= 0 {
				s.log.Printf("scheduler: task limit %d reached", s.opts.Limit)
				return nil
			}
		}
		if s.opts.Once {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// runCycle repeatedly resolves and dispatches batches until no ready
// work remains. Tasks completing in batch N can unblock dependents for
// batch N+1 because the ready set is re-resolved after every barrier.
func (s *Scheduler) runCycle(ctx context.Context, remaining int) (int, error) {
	processed := 0
	for {
		if ctx.Err() != nil {
			return processed, ctx.Err()
		}
		pending, err := s.store.Tasks(ctx, task.Query{Status: task.StatusPending, Since: s.opts.Since})
		if err != nil {
			return processed, fmt.Errorf("scheduler: list pending: %w", err)
		}
		if s.opts.OnlyTaskID != "" {
			pending = filterByID(pending, s.opts.OnlyTaskID)
		}
		snap, err := s.resolver.Resolve(ctx, pending)
		if err != nil {
			return processed, err
		}
		for _, node := range snap.Blocked {
			if node.MissingDep {
				s.log.Printf("scheduler: %s blocked: dependency %s not found", node.Task.ID, node.Task.DependsOn)
				continue
			}
			s.log.Printf("scheduler: %s blocked: dependency %s is %s", node.Task.ID, node.Task.DependsOn, node.BlockedBy)
		}
		batch := snap.Ready
		if len(batch) == 0 {
			return processed, nil
		}
		if len(batch) > s.opts.MaxConcurrency {
			batch = batch[:s.opts.MaxConcurrency]
		}
		if s.opts.Limit > 0 {
			left := remaining - processed
			if left <= 0 {
				return processed, nil
			}
			if len(batch) > left {
				batch = batch[:left]
			}
		}
		started := s.dispatch(ctx, batch)
		if started == 0 {
			// Every claim was lost or failed; wait for the next poll
			// rather than spinning on the same ready set.
			return processed, nil
		}
		processed += started
		if s.opts.Limit > 0 && processed >= remaining {
			return processed, nil
		}
	}
}

// dispatch claims and executes one batch concurrently, blocking until
// every member reaches a terminal state (the join barrier). Claim
// failures are non-fatal: the task is skipped and reappears on the next
// poll if still pending.
func (s *Scheduler) dispatch(ctx context.Context, batch []task.Task) int {
	var wg sync.WaitGroup
	started := 0
	for _, t := range batch {
		claimed, ok, err := s.claimer.Claim(ctx, t, s.promptVersion)
		if err != nil {
			s.log.Printf("scheduler: claim %s failed: %v", t.ID, err)
			continue
		}
		if !ok {
			s.log.Printf("scheduler: %s no longer pending, skipping", t.ID)
			continue
		}
		started++
		wg.Add(1)
		go func(claimed task.Task) {
			defer wg.Done()
			s.exec.Execute(ctx, claimed)
		}(claimed)
	}
	if started > 0 {
		s.log.Printf("scheduler: dispatched batch of %d", started)
	}
	wg.Wait()
	return started
}

func filterByID(tasks []task.Task, id string) []task.Task {
	for _, t := range tasks {
		if t.ID == id {
			return []task.Task{t}
		}
	}
	return nil
}

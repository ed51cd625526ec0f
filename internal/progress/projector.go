// Package progress projects each in-progress task's raw log file into
// the bounded, human-readable snapshot stored on the task record. It
// tails incrementally, parses best-effort, and persists through a
// per-task debounce so log bursts coalesce into single writes.
package progress

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/yazinsai/mic-worker/internal/heartbeat"
	"github.com/yazinsai/mic-worker/internal/logging"
	"github.com/yazinsai/mic-worker/internal/task"
)

// Options tune one projector instance.
type Options struct {
	// WatchInterval is how often the watch set is reconciled against the
	// store's in-progress tasks.
	WatchInterval time.Duration
	// TailInterval is how often every watched log file is tailed.
	TailInterval time.Duration
	// DebounceWindow is the quiet period before a changed snapshot is
	// persisted.
	DebounceWindow time.Duration
}

func (o *Options) applyDefaults() {
	if o.WatchInterval <= 0 {
		o.WatchInterval = 2 * time.Second
	}
	if o.TailInterval <= 0 {
		o.TailInterval = 500 * time.Millisecond
	}
	if o.DebounceWindow <= 0 {
		o.DebounceWindow = 800 * time.Millisecond
	}
}

// watch is the per-task projection state.
type watch struct {
	mu       sync.Mutex
	tailer   *tailer
	parser   *parser
	progress task.Progress
}

// Projector keeps the persisted progress snapshots of in-progress tasks
// approximately in sync with their log files.
type Projector struct {
	store  task.Store
	log    *logging.Logger
	beater *heartbeat.Beater
	opts   Options
	deb    *debouncer
	now    func() time.Time

	mu      sync.Mutex
	watched map[string]*watch

	// baseCtx is the Run context, used by debounce callbacks that fire
	// outside any tick.
	ctxMu   sync.Mutex
	baseCtx context.Context
}

// New assembles a projector.
func New(store task.Store, beater *heartbeat.Beater, log *logging.Logger, opts Options) (*Projector, error) {
	if store == nil {
		return nil, fmt.Errorf("progress: store is required")
	}
	opts.applyDefaults()
	p := &Projector{
		store:   store,
		log:     log,
		beater:  beater,
		opts:    opts,
		now:     func() time.Time { return time.Now().UTC() },
		watched: make(map[string]*watch),
		baseCtx: context.Background(),
	}
	p.deb = newDebouncer(opts.DebounceWindow, p.persist)
	return p, nil
}

// Run reconciles and tails until ctx is cancelled.
func (p *Projector) Run(ctx context.Context) error {
	p.ctxMu.Lock()
	p.baseCtx = ctx
	p.ctxMu.Unlock()
	defer p.deb.Stop()

	watchTicker := time.NewTicker(p.opts.WatchInterval)
	defer watchTicker.Stop()
	tailTicker := time.NewTicker(p.opts.TailInterval)
	defer tailTicker.Stop()

	p.syncWatchSet(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-watchTicker.C:
			p.beater.Beat(ctx, "projecting")
			p.syncWatchSet(ctx)
		case <-tailTicker.C:
			p.tailOnce()
		}
	}
}

// syncWatchSet adds in-progress tasks that have a log file and drops
// everything else, cancelling pending writes for dropped tasks. The
// snapshot of a dropped task stays whatever was last persisted; the
// driver's claim path clears it on the next run.
func (p *Projector) syncWatchSet(ctx context.Context) {
	running, err := p.store.Tasks(ctx, task.Query{Status: task.StatusInProgress})
	if err != nil {
		p.log.Printf("progress: list in-progress: %v", err)
		return
	}
	active := make(map[string]bool, len(running))
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, t := range running {
		if t.LogFile == "" {
			continue
		}
		active[t.ID] = true
		if _, ok := p.watched[t.ID]; ok {
			continue
		}
		w := &watch{tailer: newTailer(t.LogFile)}
		w.parser = newParser(&w.progress, p.now)
		p.watched[t.ID] = w
	}
	for id := range p.watched {
		if !active[id] {
			delete(p.watched, id)
			p.deb.Cancel(id)
		}
	}
}

// tailOnce reads the new lines of every watched file and schedules a
// debounced persist for each task whose snapshot changed.
func (p *Projector) tailOnce() {
	p.mu.Lock()
	snapshot := make(map[string]*watch, len(p.watched))
	for id, w := range p.watched {
		snapshot[id] = w
	}
	p.mu.Unlock()

	for id, w := range snapshot {
		w.mu.Lock()
		lines, err := w.tailer.Lines()
		if err != nil {
			w.mu.Unlock()
			p.log.Printf("progress: tail %s: %v", id, err)
			continue
		}
		changed := false
		for _, line := range lines {
			if w.parser.Feed(line) {
				changed = true
			}
		}
		if changed {
			w.progress.UpdatedAt = p.now()
		}
		w.mu.Unlock()
		if changed {
			p.deb.Schedule(id)
		}
	}
}

// persist is the debounce callback: encode and write one snapshot.
func (p *Projector) persist(id string) {
	p.mu.Lock()
	w, ok := p.watched[id]
	p.mu.Unlock()
	if !ok {
		return
	}
	w.mu.Lock()
	encoded, err := w.progress.Encode()
	w.mu.Unlock()
	if err != nil {
		p.log.Printf("progress: encode %s: %v", id, err)
		return
	}
	p.ctxMu.Lock()
	ctx := p.baseCtx
	p.ctxMu.Unlock()
	if err := p.store.UpdateTask(ctx, id, task.Update{ProgressJSON: &encoded}); err != nil {
		p.log.Printf("progress: persist %s: %v", id, err)
	}
}

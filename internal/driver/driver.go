// Package driver runs one claimed task to a terminal state: it
// assembles the prompt, spawns the external agent, watches for
// cancellation, and finalizes status. All failures stay contained to
// the task being executed.
package driver

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/yazinsai/mic-worker/internal/agent"
	"github.com/yazinsai/mic-worker/internal/logging"
	"github.com/yazinsai/mic-worker/internal/notify"
	"github.com/yazinsai/mic-worker/internal/task"
	"github.com/yazinsai/mic-worker/internal/tasklog"
)

// Config tunes one driver instance.
type Config struct {
	PromptsDir     string
	WorkspacesRoot string
	// BridgeAddr is handed to the agent so its helper CLI can reach the
	// side channel.
	BridgeAddr string
	// CancelPollInterval is how often the cancellation flag is re-read
	// while the agent runs.
	CancelPollInterval time.Duration
	// SettleDelay is the pause before finalization, letting the agent's
	// own side-channel writes land first.
	SettleDelay time.Duration
	// FallbackResultMax bounds the captured-text fallback result.
	FallbackResultMax int
	// ErrorMessageMax bounds recorded error messages.
	ErrorMessageMax int
}

func (c *Config) applyDefaults() {
	if c.CancelPollInterval <= 0 {
		c.CancelPollInterval = 3 * time.Second
	}
	if c.SettleDelay <= 0 {
		c.SettleDelay = 2 * time.Second
	}
	if c.FallbackResultMax <= 0 {
		c.FallbackResultMax = 8000
	}
	if c.ErrorMessageMax <= 0 {
		c.ErrorMessageMax = 1000
	}
}

// Driver is the per-task execution state machine.
type Driver struct {
	store    task.Store
	runner   agent.Runner
	notifier notify.Notifier
	log      *logging.Logger
	cfg      Config
	now      func() time.Time
}

// New assembles a driver.
func New(store task.Store, runner agent.Runner, notifier notify.Notifier, log *logging.Logger, cfg Config) (*Driver, error) {
	if store == nil || runner == nil {
		return nil, fmt.Errorf("driver: store and runner are required")
	}
	if notifier == nil {
		notifier = notify.Nop{}
	}
	cfg.applyDefaults()
	return &Driver{
		store:    store,
		runner:   runner,
		notifier: notifier,
		log:      log,
		cfg:      cfg,
		now:      func() time.Time { return time.Now().UTC() },
	}, nil
}

// Execute runs one claimed (in-progress) task to a terminal state. It
// never returns an error: every failure mode ends in the task's own
// status fields.
func (d *Driver) Execute(ctx context.Context, t task.Task) {
	startedAt := d.now()
	if t.StartedAt != nil {
		startedAt = *t.StartedAt
	}

	// Resume only when the agent session exists and a human replied
	// since the last run; otherwise the full prompt is rebuilt.
	mode := tasklog.ModeFresh
	feedback := ""
	if t.SessionID != "" {
		if last, ok := t.LastMessage(); ok && last.Role == "user" {
			mode = tasklog.ModeResume
			feedback = last.Content
		}
	}

	workDir, err := resolveWorkDir(t, d.cfg.WorkspacesRoot)
	if err != nil {
		d.finalizeFailed(ctx, t, agent.Result{}, 0, err.Error())
		return
	}
	if t.ProjectDir == "" && workDir != d.cfg.WorkspacesRoot {
		t.ProjectDir = workDir
		if err := d.store.UpdateTask(ctx, t.ID, task.Update{ProjectDir: &workDir}); err != nil {
			d.log.Printf("driver: %s: persist project dir: %v", t.ID, err)
		}
	}

	inv := agent.Invocation{
		WorkDir: workDir,
		Env: []string{
			"MIC_TASK_ID=" + t.ID,
			"MIC_BRIDGE_ADDR=" + d.cfg.BridgeAddr,
		},
	}
	if mode == tasklog.ModeResume {
		inv.SessionID = t.SessionID
		inv.Prompt = feedback
	} else {
		var dep *task.Task
		if resolved, ok, err := d.store.Dependency(ctx, t); err != nil {
			d.log.Printf("driver: %s: resolve dependency: %v", t.ID, err)
		} else if ok {
			dep = &resolved
		}
		inv.Prompt = assemblePrompt(t, dep, instructionFor(d.cfg.PromptsDir, t.Type))
	}

	tlog, err := tasklog.Create(t.LogFile, t, startedAt, mode)
	if err != nil {
		d.finalizeFailed(ctx, t, agent.Result{}, 0, err.Error())
		return
	}

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()
	var cancelled atomic.Bool
	go d.watchCancellation(runCtx, t.ID, &cancelled, cancelRun)

	res, runErr := d.runner.Run(runCtx, inv, func(line string) {
		if err := tlog.WriteLine(line); err != nil {
			d.log.Printf("driver: %s: log write: %v", t.ID, err)
		}
	})
	duration := d.now().Sub(startedAt)
	if err := tlog.WriteExit(res.ExitCode, res.Stderr, cancelled.Load(), res.SessionID); err != nil {
		d.log.Printf("driver: %s: log exit block: %v", t.ID, err)
	}

	// Worker shutdown is not a task failure: leave the task in-progress
	// so startup recovery reschedules it.
	if ctx.Err() != nil && !cancelled.Load() {
		d.log.Printf("driver: %s: interrupted by shutdown, leaving for recovery", t.ID)
		return
	}

	switch {
	case cancelled.Load():
		d.finalizeCancelled(ctx, t, res, duration)
	case runErr != nil:
		d.log.Printf("driver: %s: agent run failed: %v", t.ID, runErr)
		d.finalizeFailed(ctx, t, res, duration, res.Stderr)
	default:
		d.finalizeCompleted(ctx, t, res, duration, mode)
	}
}

// watchCancellation polls the task's cancellation flag and kills the
// agent when it flips. Read errors are retried on the next tick.
func (d *Driver) watchCancellation(ctx context.Context, taskID string, cancelled *atomic.Bool, cancelRun context.CancelFunc) {
	ticker := time.NewTicker(d.cfg.CancelPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fresh, err := d.store.Task(ctx, taskID)
			if err != nil {
				continue
			}
			if fresh.CancelRequested {
				cancelled.Store(true)
				cancelRun()
				return
			}
		}
	}
}

// finalizeCompleted handles a normal agent exit. It pauses briefly so
// side-channel writes made by the agent itself propagate, then defers
// to whatever the agent already set on the record.
func (d *Driver) finalizeCompleted(ctx context.Context, t task.Task, res agent.Result, duration time.Duration, mode tasklog.Mode) {
	select {
	case <-time.After(d.cfg.SettleDelay):
	case <-ctx.Done():
	}
	fresh, err := d.store.Task(ctx, t.ID)
	if err != nil {
		d.log.Printf("driver: %s: re-read before finalize: %v", t.ID, err)
		fresh = t
	}

	durationMs := duration.Milliseconds()
	update := task.Update{
		DurationMs: &durationMs,
		ToolCount:  &res.ToolCount,
	}
	if res.SessionID != "" {
		update.SessionID = &res.SessionID
	}

	if fresh.Status == task.StatusAwaitingFeedback {
		// The agent parked itself waiting for a human; only metrics are
		// ours to update.
		if err := d.store.UpdateTask(ctx, t.ID, update); err != nil {
			d.log.Printf("driver: %s: update metrics: %v", t.ID, err)
		}
		d.dispatchNotification(ctx, fresh, notify.EventAwaitingFeedback)
		return
	}

	result := fresh.Result
	if result == "" {
		result = res.ResultText
	}
	if result == "" {
		result = truncateTail(res.AssistantText, d.cfg.FallbackResultMax)
	}
	completed := task.StatusCompleted
	completedAt := d.now()
	at := &completedAt
	update.Status = &completed
	update.CompletedAt = &at
	if fresh.Result == "" {
		update.Result = &result
	}
	if mode == tasklog.ModeResume && result != "" {
		// Keep the conversation coherent for the next resume.
		thread := append(fresh.Messages(), task.Message{
			Role:      "assistant",
			Content:   result,
			Timestamp: completedAt,
		})
		if encoded, err := task.EncodeMessages(thread); err == nil {
			update.MessagesJSON = &encoded
		}
	}
	if err := d.store.UpdateTask(ctx, t.ID, update); err != nil {
		d.log.Printf("driver: %s: finalize completed: %v", t.ID, err)
		return
	}
	d.dispatchNotification(ctx, fresh, notify.EventCompleted)
}

// finalizeFailed records an abnormal exit with its classified category.
func (d *Driver) finalizeFailed(ctx context.Context, t task.Task, res agent.Result, duration time.Duration, detail string) {
	failed := task.StatusFailed
	completedAt := d.now()
	at := &completedAt
	durationMs := duration.Milliseconds()
	category := classifyFailure(res.ExitCode, detail)
	message := truncateTail(detail, d.cfg.ErrorMessageMax)
	if message == "" {
		message = fmt.Sprintf("agent exited with code %d", res.ExitCode)
	}
	update := task.Update{
		Status:        &failed,
		CompletedAt:   &at,
		DurationMs:    &durationMs,
		ToolCount:     &res.ToolCount,
		ErrorMessage:  &message,
		ErrorCategory: &category,
	}
	if res.SessionID != "" {
		update.SessionID = &res.SessionID
	}
	if err := d.store.UpdateTask(ctx, t.ID, update); err != nil {
		d.log.Printf("driver: %s: finalize failed: %v", t.ID, err)
		return
	}
	d.dispatchNotification(ctx, t, notify.EventFailed)
}

// finalizeCancelled records a cooperative cancellation, distinct from
// failure, keeping whatever metrics accumulated before the kill.
func (d *Driver) finalizeCancelled(ctx context.Context, t task.Task, res agent.Result, duration time.Duration) {
	cancelledStatus := task.StatusCancelled
	completedAt := d.now()
	at := &completedAt
	durationMs := duration.Milliseconds()
	category := task.ErrorCategoryCancelled
	message := "cancelled by request"
	update := task.Update{
		Status:        &cancelledStatus,
		CompletedAt:   &at,
		DurationMs:    &durationMs,
		ToolCount:     &res.ToolCount,
		ErrorMessage:  &message,
		ErrorCategory: &category,
	}
	if res.SessionID != "" {
		update.SessionID = &res.SessionID
	}
	if err := d.store.UpdateTask(context.WithoutCancel(ctx), t.ID, update); err != nil {
		d.log.Printf("driver: %s: finalize cancelled: %v", t.ID, err)
	}
}

func (d *Driver) dispatchNotification(ctx context.Context, t task.Task, event notify.Event) {
	n := notify.Notification{TaskID: t.ID, Title: t.Title, Type: t.Type, Event: event}
	if err := d.notifier.Notify(ctx, n); err != nil {
		d.log.Printf("driver: %s: notify %s: %v", t.ID, event, err)
	}
}

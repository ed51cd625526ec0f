// mic-worker is the task execution daemon: it polls the store for
// pending tasks, resolves dependencies, claims ready work, drives the
// external agent, and projects live progress from the agent's logs.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/yazinsai/mic-worker/internal/agent"
	"github.com/yazinsai/mic-worker/internal/bridge"
	"github.com/yazinsai/mic-worker/internal/config"
	"github.com/yazinsai/mic-worker/internal/driver"
	"github.com/yazinsai/mic-worker/internal/heartbeat"
	"github.com/yazinsai/mic-worker/internal/logging"
	"github.com/yazinsai/mic-worker/internal/notify"
	"github.com/yazinsai/mic-worker/internal/progress"
	"github.com/yazinsai/mic-worker/internal/promptver"
	"github.com/yazinsai/mic-worker/internal/resolver"
	"github.com/yazinsai/mic-worker/internal/scheduler"
	"github.com/yazinsai/mic-worker/internal/task"
)

func main() {
	home := flag.String("config", "", "directory holding .mic-worker (defaults to cwd)")
	once := flag.Bool("once", false, "run a single poll cycle and exit")
	limit := flag.Int("limit", 0, "max tasks to process this invocation (0 = unlimited)")
	taskID := flag.String("task", "", "reset this task to pending and run only it")
	quiet := flag.Bool("quiet", false, "suppress stderr echo of the worker log")
	skipRecovery := flag.Bool("skip-recovery", false, "skip startup orphan recovery")
	sinceRaw := flag.String("since", "", "only consider tasks extracted on/after (today, yesterday, RFC3339, YYYY-MM-DD, or epoch)")
	flag.Parse()

	since, err := parseSince(*sinceRaw, time.Now())
	if err != nil {
		die("parse -since: %v", err)
	}

	cfg, err := config.Load(*home)
	if err != nil {
		die("load config: %v", err)
	}
	log, err := logging.New(cfg.LogsDir(), *quiet)
	if err != nil {
		die("open worker log: %v", err)
	}
	defer log.Close()

	store, err := task.NewSQLiteStore(cfg.StorePath())
	if err != nil {
		die("open store: %v", err)
	}
	defer store.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tracker := promptver.New(store, cfg.PromptsDir(), cfg.GuidelinePaths())
	version, err := tracker.Init(ctx)
	if err != nil {
		die("init prompt version: %v", err)
	}
	log.Printf("worker: prompt version %s", version)

	claimer, err := scheduler.NewClaimer(store, cfg.TaskLogsDir())
	if err != nil {
		die("init claimer: %v", err)
	}
	if !*skipRecovery {
		recovered, err := claimer.Recover(ctx)
		if err != nil {
			die("orphan recovery: %v", err)
		}
		if len(recovered) > 0 {
			log.Printf("worker: recovered %d orphaned task(s): %s", len(recovered), strings.Join(recovered, ", "))
		}
	}
	if *taskID != "" {
		if err := claimer.ResetForRerun(ctx, *taskID); err != nil {
			die("reset task %s: %v", *taskID, err)
		}
		log.Printf("worker: reset %s to pending for rerun", *taskID)
	}

	bridgeServer, err := bridge.NewServer(bridge.Settings{ListenAddr: cfg.File.Bridge.ListenAddr}, store, bridge.WithLogger(log))
	if err != nil {
		die("init bridge: %v", err)
	}
	if err := bridgeServer.Start(ctx); err != nil {
		die("start bridge: %v", err)
	}

	var notifier notify.Notifier = notify.Nop{}
	if url := cfg.File.Notify.WebhookURL; url != "" {
		notifier = notify.NewWebhook(url)
		log.Printf("worker: notifying %s", url)
	}

	runner := &agent.CLIRunner{
		Command:  cfg.File.Agent.Command,
		BaseArgs: cfg.File.Agent.Args,
	}
	drv, err := driver.New(store, runner, notifier, log, driver.Config{
		PromptsDir:         cfg.PromptsDir(),
		WorkspacesRoot:     cfg.WorkspacesDir(),
		BridgeAddr:         bridgeServer.Addr(),
		CancelPollInterval: config.DefaultCancelInterval,
		SettleDelay:        config.DefaultSettleDelay,
	})
	if err != nil {
		die("init driver: %v", err)
	}

	res, err := resolver.New(store)
	if err != nil {
		die("init resolver: %v", err)
	}
	sched, err := scheduler.New(store, res, claimer, drv, heartbeat.New(store, "scheduler"), log, version, scheduler.Options{
		MaxConcurrency: cfg.File.Scheduler.MaxConcurrency,
		PollInterval:   time.Duration(cfg.File.Scheduler.PollInterval),
		Once:           *once,
		Limit:          *limit,
		Since:          since,
		OnlyTaskID:     *taskID,
	})
	if err != nil {
		die("init scheduler: %v", err)
	}
	proj, err := progress.New(store, heartbeat.New(store, "projector"), log, progress.Options{
		WatchInterval:  config.DefaultWatchInterval,
		TailInterval:   config.DefaultTailInterval,
		DebounceWindow: config.DefaultDebounceWindow,
	})
	if err != nil {
		die("init projector: %v", err)
	}

	runCtx, cancelAll := context.WithCancel(ctx)
	defer cancelAll()
	g := new(errgroup.Group)
	g.Go(func() error {
		// Scheduler exit (limit reached, -once, or shutdown) winds down
		// the projector and bridge with it.
		defer cancelAll()
		return ignoreCanceled(sched.Run(runCtx))
	})
	g.Go(func() error {
		return ignoreCanceled(proj.Run(runCtx))
	})
	g.Go(func() error {
		<-runCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return bridgeServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		die("worker: %v", err)
	}
	log.Printf("worker: shutdown complete")
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// parseSince accepts the keywords today/yesterday, an RFC3339 timestamp,
// a YYYY-MM-DD date, or an epoch in seconds or milliseconds.
func parseSince(raw string, now time.Time) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	switch strings.ToLower(raw) {
	case "today":
		return midnight(now), nil
	case "yesterday":
		return midnight(now).AddDate(0, 0, -1), nil
	}
	if epoch, err := strconv.ParseInt(raw, 10, 64); err == nil {
		// Millisecond epochs are unambiguously larger than any plausible
		// second epoch.
		if epoch > 1_000_000_000_000 {
			return time.UnixMilli(epoch).UTC(), nil
		}
		return time.Unix(epoch, 0).UTC(), nil
	}
	if ts, err := time.Parse(time.RFC3339, raw); err == nil {
		return ts, nil
	}
	if ts, err := time.ParseInLocation("2006-01-02", raw, now.Location()); err == nil {
		return ts, nil
	}
	return time.Time{}, fmt.Errorf("unrecognized value %q", raw)
}

func midnight(t time.Time) time.Time {
	year, month, day := t.Date()
	return time.Date(year, month, day, 0, 0, 0, 0, t.Location())
}

func die(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

// mic-watch is a read-only terminal viewer for tasks and their live
// progress snapshots.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/yazinsai/mic-worker/internal/config"
	"github.com/yazinsai/mic-worker/internal/task"
	"github.com/yazinsai/mic-worker/internal/tui"
)

func main() {
	home := flag.String("config", "", "directory holding .mic-worker (defaults to cwd)")
	refresh := flag.Duration("refresh", 2*time.Second, "store refresh interval")
	flag.Parse()

	cfg, err := config.Load(*home)
	if err != nil {
		die("load config: %v", err)
	}
	store, err := task.NewSQLiteStore(cfg.StorePath())
	if err != nil {
		die("open store: %v", err)
	}
	defer store.Close()

	program := tea.NewProgram(tui.New(store, *refresh), tea.WithAltScreen())
	if _, err := program.Run(); err != nil {
		die("run viewer: %v", err)
	}
}

func die(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

// Package tasklog manages per-task execution log files. Each run gets
// its own file holding a header block, the raw agent output stream, and
// an exit block; the progress projector tails these files.
package tasklog

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/yazinsai/mic-worker/internal/task"
)

// Mode records whether a run started a fresh agent session or resumed an
// existing one.
type Mode string

const (
	ModeFresh  Mode = "fresh"
	ModeResume Mode = "resume"
)

// FileName builds the canonical log file name for a task started at ts:
// {taskId}-{sanitizedISOTimestamp}.log. Colons and dots are not safe in
// every filesystem, so they become dashes.
func FileName(taskID string, ts time.Time) string {
	stamp := ts.UTC().Format(time.RFC3339)
	stamp = strings.NewReplacer(":", "-", ".", "-").Replace(stamp)
	return fmt.Sprintf("%s-%s.log", taskID, stamp)
}

// Log appends to one task's execution log. Safe for concurrent use; the
// driver writes stream lines while finalization appends the exit block.
type Log struct {
	path string
	mu   sync.Mutex
	file *os.File
}

// Create opens the log file at path (pre-computed during the claim) and
// writes the header block.
func Create(path string, t task.Task, startedAt time.Time, mode Mode) (*Log, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("tasklog: ensure dir: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("tasklog: open %s: %w", path, err)
	}
	l := &Log{path: path, file: file}
	header := fmt.Sprintf(
		"=== task %s\n=== type %s\n=== title %s\n=== description %s\n=== started %s\n=== mode %s\n",
		t.ID, t.Type, singleLine(t.Title), singleLine(t.Description),
		startedAt.UTC().Format(time.RFC3339), mode,
	)
	if err := l.write(header); err != nil {
		_ = file.Close()
		return nil, err
	}
	return l, nil
}

// Path returns the file backing this log.
func (l *Log) Path() string {
	if l == nil {
		return ""
	}
	return l.path
}

// WriteLine appends one raw agent stream line.
func (l *Log) WriteLine(line string) error {
	return l.write(strings.TrimRight(line, "\n") + "\n")
}

// WriteExit appends the closing exit block and closes the file.
func (l *Log) WriteExit(exitCode int, stderr string, cancelled bool, sessionID string) error {
	block := fmt.Sprintf(
		"=== exit code %d\n=== stderr %s\n=== cancelled %t\n=== session %s\n",
		exitCode, singleLine(tail(stderr, 2000)), cancelled, sessionID,
	)
	if err := l.write(block); err != nil {
		return err
	}
	return l.Close()
}

// Close releases the file handle.
func (l *Log) Close() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

func (l *Log) write(s string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return fmt.Errorf("tasklog: %s already closed", l.path)
	}
	if _, err := l.file.WriteString(s); err != nil {
		return fmt.Errorf("tasklog: write %s: %w", l.path, err)
	}
	return nil
}

func singleLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func tail(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[len(s)-max:]
}

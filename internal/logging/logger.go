// Package logging appends timestamped lines to .mic-worker/logs/worker.log
// so failures can be inspected after the process exits. Unless quiet, the
// same lines are echoed to stderr.
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Logger is a minimal append-only diagnostic logger.
type Logger struct {
	file  *os.File
	quiet bool
}

// New creates (or reuses) the worker log file in logDir.
func New(logDir string, quiet bool) (*Logger, error) {
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, fmt.Errorf("logging: ensure log dir: %w", err)
	}
	path := filepath.Join(logDir, "worker.log")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("logging: open log file: %w", err)
	}
	return &Logger{file: f, quiet: quiet}, nil
}

// Close releases the file handle.
func (l *Logger) Close() error {
	if l == nil || l.file == nil {
		return nil
	}
	return l.file.Close()
}

// Printf writes a single timestamped line.
func (l *Logger) Printf(format string, args ...any) {
	if l == nil {
		return
	}
	line := strings.TrimRight(fmt.Sprintf(format, args...), "\n")
	stamped := fmt.Sprintf("[%s] %s\n", time.Now().Format(time.RFC3339), line)
	if l.file != nil {
		fmt.Fprint(l.file, stamped)
	}
	if !l.quiet {
		fmt.Fprint(os.Stderr, stamped)
	}
}

package agent

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// Invocation describes one agent run.
type Invocation struct {
	// Prompt is the full assembled prompt for fresh runs, or only the
	// new feedback when resuming.
	Prompt string
	// SessionID resumes an existing agent conversation when non-empty.
	SessionID string
	// WorkDir is the directory the agent operates in.
	WorkDir string
	// Env entries are appended to the inherited environment.
	Env []string
}

// Result summarizes a finished (or killed) agent run. Partial results
// are returned even when Run errors, so callers can record what the
// agent managed to do before dying.
type Result struct {
	ExitCode int
	Stderr   string
	// SessionID is the conversation id the agent reported, enabling
	// later resumes.
	SessionID string
	// ResultText is the agent's explicit final answer, when it sent one.
	ResultText string
	// AssistantText accumulates free-form output, retained only as a
	// fallback result when the agent never reported one explicitly.
	AssistantText string
	ToolCount     int
}

// Runner executes one agent invocation, streaming raw output lines to
// sink as they arrive. sink may be nil.
type Runner interface {
	Run(ctx context.Context, inv Invocation, sink func(line string)) (Result, error)
}

// CLIRunner drives the agent binary (claude by default) in streaming
// print mode. Each stdout line is forwarded to sink and decoded to
// accumulate the Result.
type CLIRunner struct {
	Command string
	// BaseArgs are applied to every invocation, e.g.
	// ["-p", "--verbose", "--output-format", "stream-json"].
	BaseArgs []string
	// Env entries appended to every invocation's environment.
	Env []string
}

// scanBufSize accommodates single events carrying whole files.
const scanBufSize = 4 * 1024 * 1024

// Run spawns the process and blocks until it exits or ctx is cancelled.
// Cancellation kills the process; the partial Result is still returned.
func (r *CLIRunner) Run(ctx context.Context, inv Invocation, sink func(line string)) (Result, error) {
	args := make([]string, 0, len(r.BaseArgs)+3)
	args = append(args, r.BaseArgs...)
	if inv.SessionID != "" {
		args = append(args, "--resume", inv.SessionID)
	}
	args = append(args, inv.Prompt)

	cmd := exec.CommandContext(ctx, r.Command, args...)
	cmd.Dir = inv.WorkDir
	cmd.Env = append(os.Environ(), append(append([]string{}, r.Env...), inv.Env...)...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return Result{}, fmt.Errorf("agent: stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return Result{}, fmt.Errorf("agent: start %s: %w", r.Command, err)
	}

	res := Result{SessionID: inv.SessionID}
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), scanBufSize)
	var captured []string
	for scanner.Scan() {
		line := scanner.Text()
		if sink != nil {
			sink(line)
		}
		ev, ok := DecodeEvent(line)
		if !ok {
			continue
		}
		if ev.SessionID != "" {
			res.SessionID = ev.SessionID
		}
		res.ToolCount += len(ev.ToolUses)
		if ev.Type == EventAssistant && ev.Text != "" {
			captured = append(captured, ev.Text)
		}
		if ev.Type == EventResult {
			if ev.Result != "" {
				res.ResultText = ev.Result
			}
			res.ExitCode = 0
			if ev.IsError {
				res.ExitCode = 1
			}
		}
	}
	scanErr := scanner.Err()

	waitErr := cmd.Wait()
	res.Stderr = stderr.String()
	res.AssistantText = strings.Join(captured, "\n")
	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
	}
	if ctx.Err() != nil {
		return res, fmt.Errorf("agent: %s killed: %w", r.Command, ctx.Err())
	}
	if waitErr != nil {
		return res, fmt.Errorf("agent: %s exited: %w", r.Command, waitErr)
	}
	if scanErr != nil {
		return res, fmt.Errorf("agent: read stream: %w", scanErr)
	}
	return res, nil
}

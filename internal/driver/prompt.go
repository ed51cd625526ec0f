package driver

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/yazinsai/mic-worker/internal/task"
)

// instructionFor loads the type-specific instruction template from the
// prompts directory. Missing templates are fine; the prompt simply
// carries no extra instructions.
func instructionFor(promptsDir string, typ task.Type) string {
	data, err := os.ReadFile(filepath.Join(promptsDir, string(typ)+".md"))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// assemblePrompt builds the full prompt for a fresh run: the task
// itself, the completed dependency's result as context, the message
// thread so far, and the type-specific instructions.
func assemblePrompt(t task.Task, dep *task.Task, instructions string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Task: %s\n\n%s\n", t.Title, strings.TrimSpace(t.Description))
	if t.Subtype != "" {
		fmt.Fprintf(&b, "\nChange kind: %s\n", t.Subtype)
	}
	if dep != nil && dep.Status == task.StatusCompleted && strings.TrimSpace(dep.Result) != "" {
		fmt.Fprintf(&b, "\n## Context from prerequisite task %q\n\n%s\n", dep.Title, strings.TrimSpace(dep.Result))
	}
	if msgs := t.Messages(); len(msgs) > 0 {
		b.WriteString("\n## Conversation so far\n\n")
		for _, m := range msgs {
			fmt.Fprintf(&b, "%s: %s\n", m.Role, strings.TrimSpace(m.Content))
		}
	}
	if instructions != "" {
		fmt.Fprintf(&b, "\n## Instructions\n\n%s\n", instructions)
	}
	return b.String()
}

// resolveWorkDir picks the directory the agent runs in. Existing project
// paths are reused; brand-new projects get a collision-free slug
// directory under the workspaces root.
func resolveWorkDir(t task.Task, workspacesRoot string) (string, error) {
	if t.ProjectDir != "" {
		return t.ProjectDir, nil
	}
	if t.Type != task.TypeNewProject {
		return workspacesRoot, nil
	}
	base := slugify(t.Title)
	if base == "" {
		base = t.ID
	}
	dir := filepath.Join(workspacesRoot, base)
	if _, err := os.Stat(dir); err == nil {
		// Taken; a short random suffix keeps the name readable while
		// guaranteeing uniqueness.
		dir = filepath.Join(workspacesRoot, base+"-"+uuid.NewString()[:8])
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("driver: allocate project dir: %w", err)
	}
	return dir, nil
}

// slugify lowercases a title into a filesystem-safe directory name.
func slugify(title string) string {
	var b strings.Builder
	lastDash := true
	for _, r := range strings.ToLower(title) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash {
				b.WriteByte('-')
				lastDash = true
			}
		}
	}
	return strings.Trim(b.String(), "-")
}

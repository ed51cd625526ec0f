package progress

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/yazinsai/mic-worker/internal/agent"
	"github.com/yazinsai/mic-worker/internal/task"
)

// toolStyle maps a tool name to its feed presentation.
type toolStyle struct {
	icon  string
	label string
}

var toolStyles = map[string]toolStyle{
	"Read":      {"📖", "Reading"},
	"Write":     {"✏️", "Writing"},
	"Edit":      {"✏️", "Editing"},
	"Grep":      {"🔍", "Searching"},
	"Glob":      {"🔍", "Searching"},
	"Bash":      {"💻", "Running"},
	"WebSearch": {"🌐", "Searching the web"},
	"WebFetch":  {"🌐", "Fetching"},
}

// deniedCommandPrefixes suppress internal plumbing commands from the
// visible feed. Their invocations are still tracked so the matching
// completion event does not dangle.
var deniedCommandPrefixes = []string{
	"update-action-cli",
	"mic-task",
}

// intentPrefixes pick out declarative first-person statements worth
// surfacing as narration.
var intentPrefixes = []string{
	"I'll ",
	"I will ",
	"I'm going to ",
	"Let me ",
	"Now I'll ",
	"Next I'll ",
}

const maxDetailLen = 80

// openInvocation tracks a tool_use awaiting its tool_result.
type openInvocation struct {
	startedAt  time.Time
	entryIndex int
	suppressed bool
}

// parser folds decoded stream events into a progress snapshot. It is
// best-effort by contract: lines that do not decode, and completions
// with no matching invocation, are ignored.
type parser struct {
	progress *task.Progress
	open     map[string]*openInvocation
	now      func() time.Time
}

func newParser(p *task.Progress, now func() time.Time) *parser {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &parser{progress: p, open: make(map[string]*openInvocation), now: now}
}

// Feed consumes one raw log line and reports whether the snapshot
// changed in a way worth persisting.
func (pr *parser) Feed(line string) bool {
	ev, ok := agent.DecodeEvent(line)
	if !ok {
		return false
	}
	changed := false
	switch ev.Type {
	case agent.EventAssistant:
		for _, tu := range ev.ToolUses {
			if pr.handleToolUse(tu) {
				changed = true
			}
		}
		if ev.Text != "" {
			if pr.handleNarration(ev.Text) {
				changed = true
			}
		}
	case agent.EventUser:
		for _, tr := range ev.ToolResults {
			if pr.handleToolResult(tr) {
				changed = true
			}
		}
	case agent.EventResult:
		pr.progress.CurrentActivity = "Wrapping up"
		pr.appendEntry(task.ActivityEntry{
			Kind:      task.ActivityMilestone,
			Icon:      "🏁",
			Label:     "Finished",
			StartedAt: pr.now(),
			Status:    task.ActivityDone,
		})
		changed = true
	}
	return changed
}

func (pr *parser) handleToolUse(tu agent.ToolUse) bool {
	switch tu.Name {
	case "Skill":
		name := tu.InputString("command")
		if name == "" {
			name = tu.InputString("name")
		}
		if name == "" {
			return false
		}
		pr.progress.AddSkill(name)
		pr.progress.CurrentActivity = name
		pr.openEntry(tu.ID, task.ActivityEntry{
			Kind:      task.ActivitySkill,
			Icon:      "⚡",
			Label:     name,
			StartedAt: pr.now(),
			Status:    task.ActivityActive,
		})
		return true

	case "TodoWrite":
		todos := tu.Todos()
		if len(todos) == 0 {
			return false
		}
		done := 0
		current := ""
		for _, item := range todos {
			switch item.Status {
			case "completed":
				done++
			case "in_progress":
				if current == "" {
					current = item.Content
				}
			}
		}
		pr.progress.TasksDone = done
		pr.progress.TasksTotal = len(todos)
		pr.progress.CurrentTask = current
		return true

	case "Task":
		desc := truncateDetail(tu.InputString("description"))
		if desc == "" {
			desc = "Delegating work"
		}
		pr.progress.CurrentActivity = desc
		pr.openEntry(tu.ID, task.ActivityEntry{
			Kind:      task.ActivityAgent,
			Icon:      "🤖",
			Label:     desc,
			Detail:    tu.InputString("subagent_type"),
			StartedAt: pr.now(),
			Status:    task.ActivityActive,
		})
		return true

	default:
		style, known := toolStyles[tu.Name]
		if !known {
			style = toolStyle{"🔧", tu.Name}
		}
		detail := toolDetail(tu)
		if tu.Name == "Bash" && deniedCommand(detail) {
			// Still tracked so the completion event resolves cleanly.
			pr.open[tu.ID] = &openInvocation{startedAt: pr.now(), entryIndex: -1, suppressed: true}
			return false
		}
		activity := style.label
		if detail != "" {
			activity += " " + detail
		}
		pr.progress.CurrentActivity = activity
		pr.openEntry(tu.ID, task.ActivityEntry{
			Kind:      task.ActivityTool,
			Icon:      style.icon,
			Label:     style.label,
			Detail:    detail,
			StartedAt: pr.now(),
			Status:    task.ActivityActive,
		})
		return true
	}
}

func (pr *parser) handleToolResult(tr agent.ToolResult) bool {
	inv, ok := pr.open[tr.ToolUseID]
	if !ok {
		return false
	}
	delete(pr.open, tr.ToolUseID)
	if inv.suppressed || inv.entryIndex < 0 {
		return false
	}
	entry := &pr.progress.Activities[inv.entryIndex]
	entry.Status = task.ActivityDone
	if tr.IsError {
		entry.Status = task.ActivityError
	}
	entry.DurationMs = pr.now().Sub(inv.startedAt).Milliseconds()
	return true
}

// handleNarration surfaces a leading intent sentence from assistant text.
func (pr *parser) handleNarration(text string) bool {
	sentence := intentSentence(text)
	if sentence == "" {
		return false
	}
	pr.progress.CurrentActivity = sentence
	pr.appendEntry(task.ActivityEntry{
		Kind:      task.ActivityMessage,
		Icon:      "💬",
		Label:     sentence,
		StartedAt: pr.now(),
		Status:    task.ActivityDone,
	})
	return true
}

// openEntry appends an active entry and records the invocation so a later
// tool_result can close it. Ring eviction shifts stored indices.
func (pr *parser) openEntry(id string, e task.ActivityEntry) {
	idx := pr.appendEntry(e)
	if id != "" {
		pr.open[id] = &openInvocation{startedAt: e.StartedAt, entryIndex: idx}
	}
}

// appendEntry pushes onto the bounded timeline and rebases open-entry
// indices past any evicted prefix. Entries that fall off the ring can no
// longer be closed; their invocations resolve to no-ops.
func (pr *parser) appendEntry(e task.ActivityEntry) int {
	before := len(pr.progress.Activities)
	pr.progress.AppendActivity(e)
	evicted := before + 1 - len(pr.progress.Activities)
	if evicted > 0 {
		for _, inv := range pr.open {
			if inv.entryIndex >= 0 {
				inv.entryIndex -= evicted
			}
		}
	}
	return len(pr.progress.Activities) - 1
}

func toolDetail(tu agent.ToolUse) string {
	switch tu.Name {
	case "Read", "Write", "Edit":
		if p := tu.InputString("file_path"); p != "" {
			return filepath.Base(p)
		}
	case "Grep", "Glob":
		return truncateDetail(tu.InputString("pattern"))
	case "WebSearch":
		return truncateDetail(tu.InputString("query"))
	case "WebFetch":
		return truncateDetail(tu.InputString("url"))
	case "Bash":
		if d := tu.InputString("description"); d != "" {
			return truncateDetail(d)
		}
		return truncateDetail(tu.InputString("command"))
	}
	return ""
}

func deniedCommand(detail string) bool {
	for _, prefix := range deniedCommandPrefixes {
		if strings.HasPrefix(detail, prefix) {
			return true
		}
	}
	return false
}

func intentSentence(text string) string {
	first := strings.TrimSpace(text)
	if i := strings.IndexAny(first, "\n"); i >= 0 {
		first = strings.TrimSpace(first[:i])
	}
	if i := strings.Index(first, ". "); i >= 0 {
		first = first[:i+1]
	}
	if len(first) == 0 || len(first) > 120 {
		return ""
	}
	for _, prefix := range intentPrefixes {
		if strings.HasPrefix(first, prefix) {
			return first
		}
	}
	return ""
}

func truncateDetail(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= maxDetailLen {
		return s
	}
	return s[:maxDetailLen] + "…"
}

package progress

import (
	"fmt"
	"testing"
	"time"

	"github.com/yazinsai/mic-worker/internal/task"
)

func toolUseLine(id, name, input string) string {
	return fmt.Sprintf(`{"type":"assistant","message":{"content":[{"type":"tool_use","id":%q,"name":%q,"input":%s}]}}`, id, name, input)
}

func toolResultLine(id string, isError bool) string {
	return fmt.Sprintf(`{"type":"user","message":{"content":[{"type":"tool_result","tool_use_id":%q,"is_error":%v}]}}`, id, isError)
}

func textLine(text string) string {
	return fmt.Sprintf(`{"type":"assistant","message":{"content":[{"type":"text","text":%q}]}}`, text)
}

func fixedClock() func() time.Time {
	t := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)
	return func() time.Time {
		t = t.Add(time.Second)
		return t
	}
}

func TestParserSkillInvocation(t *testing.T) {
	var p task.Progress
	pr := newParser(&p, fixedClock())

	if !pr.Feed(toolUseLine("tu-1", "Skill", `{"command":"frontend-design"}`)) {
		t.Fatalf("skill invocation must change state")
	}
	if len(p.Skills) != 1 || p.Skills[0] != "frontend-design" {
		t.Fatalf("skills = %v", p.Skills)
	}
	if p.CurrentActivity != "frontend-design" {
		t.Fatalf("currentActivity = %q", p.CurrentActivity)
	}
	if len(p.Activities) != 1 || p.Activities[0].Kind != task.ActivitySkill || p.Activities[0].Status != task.ActivityActive {
		t.Fatalf("activities = %+v", p.Activities)
	}

	// Same skill again stays deduplicated in the list.
	pr.Feed(toolUseLine("tu-2", "Skill", `{"command":"frontend-design"}`))
	if len(p.Skills) != 1 {
		t.Fatalf("skill list not deduplicated: %v", p.Skills)
	}
}

func TestParserDenylistedShellCommandSuppressed(t *testing.T) {
	var p task.Progress
	pr := newParser(&p, fixedClock())

	if pr.Feed(toolUseLine("tu-deny", "Bash", `{"description":"update-action-cli status pending"}`)) {
		t.Fatalf("denylisted command must not change visible state")
	}
	if len(p.Activities) != 0 {
		t.Fatalf("denylisted command leaked into feed: %+v", p.Activities)
	}
	// Its completion still resolves cleanly, without inventing an entry.
	if pr.Feed(toolResultLine("tu-deny", false)) {
		t.Fatalf("completion of suppressed command must be a no-op")
	}

	if !pr.Feed(toolUseLine("tu-ok", "Bash", `{"description":"Run the test suite"}`)) {
		t.Fatalf("ordinary command must appear")
	}
	if len(p.Activities) != 1 || p.Activities[0].Detail != "Run the test suite" {
		t.Fatalf("activities = %+v", p.Activities)
	}
}

func TestParserToolCompletionMatchedByID(t *testing.T) {
	var p task.Progress
	pr := newParser(&p, fixedClock())

	pr.Feed(toolUseLine("tu-1", "Read", `{"file_path":"/repo/internal/app/main.go"}`))
	pr.Feed(toolUseLine("tu-2", "Grep", `{"pattern":"TODO"}`))
	if !pr.Feed(toolResultLine("tu-1", false)) {
		t.Fatalf("matched completion must change state")
	}
	if !pr.Feed(toolResultLine("tu-2", true)) {
		t.Fatalf("matched error completion must change state")
	}

	if p.Activities[0].Status != task.ActivityDone {
		t.Fatalf("first entry = %+v", p.Activities[0])
	}
	if p.Activities[0].Detail != "main.go" {
		t.Fatalf("read detail = %q, want base file name", p.Activities[0].Detail)
	}
	if p.Activities[0].DurationMs <= 0 {
		t.Fatalf("duration not recorded: %+v", p.Activities[0])
	}
	if p.Activities[1].Status != task.ActivityError {
		t.Fatalf("second entry = %+v", p.Activities[1])
	}
	// Completions with no opening invocation are ignored.
	if pr.Feed(toolResultLine("tu-unknown", false)) {
		t.Fatalf("unmatched completion must be a no-op")
	}
}

func TestParserTaskListUpdate(t *testing.T) {
	var p task.Progress
	pr := newParser(&p, fixedClock())

	input := `{"todos":[{"content":"Set up schema","status":"completed"},{"content":"Build API","status":"in_progress"},{"content":"Write tests","status":"pending"}]}`
	if !pr.Feed(toolUseLine("tu-3", "TodoWrite", input)) {
		t.Fatalf("task-list update must change state")
	}
	if p.TasksDone != 1 || p.TasksTotal != 3 {
		t.Fatalf("counts = %d/%d", p.TasksDone, p.TasksTotal)
	}
	if p.CurrentTask != "Build API" {
		t.Fatalf("currentTask = %q", p.CurrentTask)
	}
}

func TestParserIntentNarration(t *testing.T) {
	var p task.Progress
	pr := newParser(&p, fixedClock())

	if !pr.Feed(textLine("I'll start by setting up the project structure.")) {
		t.Fatalf("intent sentence must surface as narration")
	}
	if len(p.Activities) != 1 || p.Activities[0].Kind != task.ActivityMessage {
		t.Fatalf("activities = %+v", p.Activities)
	}
	if p.CurrentActivity != "I'll start by setting up the project structure." {
		t.Fatalf("currentActivity = %q", p.CurrentActivity)
	}
	// Plain prose without a leading intent phrase is not narration.
	if pr.Feed(textLine("The schema uses three tables.")) {
		t.Fatalf("non-intent text must not change state")
	}
}

func TestParserTimelineRingAndLateCompletion(t *testing.T) {
	var p task.Progress
	pr := newParser(&p, fixedClock())

	pr.Feed(toolUseLine("tu-old", "Read", `{"file_path":"first.go"}`))
	for i := 0; i < task.MaxActivityEntries+5; i++ {
		pr.Feed(toolUseLine(fmt.Sprintf("tu-%d", i), "Grep", `{"pattern":"x"}`))
	}
	if len(p.Activities) != task.MaxActivityEntries {
		t.Fatalf("ring size = %d, want %d", len(p.Activities), task.MaxActivityEntries)
	}
	// The opening entry was evicted; its completion must be a safe no-op.
	if pr.Feed(toolResultLine("tu-old", false)) {
		t.Fatalf("completion of an evicted entry must be a no-op")
	}
	// A still-resident invocation completes at its rebased position.
	lastID := fmt.Sprintf("tu-%d", task.MaxActivityEntries+4)
	if !pr.Feed(toolResultLine(lastID, false)) {
		t.Fatalf("resident completion must change state")
	}
	if got := p.Activities[len(p.Activities)-1].Status; got != task.ActivityDone {
		t.Fatalf("last entry status = %s", got)
	}
}

func TestParserIgnoresNoise(t *testing.T) {
	var p task.Progress
	pr := newParser(&p, fixedClock())
	for _, line := range []string{
		"",
		"=== task t-1",
		"plain prose line",
		`{"type":"mystery"}`,
	} {
		if pr.Feed(line) {
			t.Fatalf("noise line %q must not change state", line)
		}
	}
}

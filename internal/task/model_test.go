package task

import (
	"fmt"
	"testing"
	"time"
)

func TestMessagesRoundTrip(t *testing.T) {
	thread := []Message{
		{Role: "assistant", Content: "done with the refactor", Timestamp: time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)},
		{Role: "user", Content: "please also update the README", Timestamp: time.Date(2026, 8, 1, 9, 5, 0, 0, time.UTC)},
	}
	encoded, err := EncodeMessages(thread)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	tk := Task{MessagesJSON: encoded}
	last, ok := tk.LastMessage()
	if !ok {
		t.Fatalf("expected last message")
	}
	if last.Role != "user" || last.Content != "please also update the README" {
		t.Fatalf("last message = %+v", last)
	}
}

func TestMessagesMalformedThreadIsEmpty(t *testing.T) {
	tk := Task{MessagesJSON: "{not json"}
	if msgs := tk.Messages(); msgs != nil {
		t.Fatalf("malformed thread decoded to %+v", msgs)
	}
	if _, ok := tk.LastMessage(); ok {
		t.Fatalf("malformed thread produced a last message")
	}
}

func TestValidateRejectsBadRecords(t *testing.T) {
	cases := []struct {
		name string
		task Task
	}{
		{"missing id", Task{Type: TypeWrite, Status: StatusPending}},
		{"unknown type", Task{ID: "x", Type: "mystery", Status: StatusPending}},
		{"unknown status", Task{ID: "x", Type: TypeWrite, Status: "paused"}},
		{"subtype on research", Task{ID: "x", Type: TypeResearch, Subtype: SubtypeBug, Status: StatusPending}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := tc.task.Validate(); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
	good := Task{ID: "x", Type: TypeCodeChange, Subtype: SubtypeBug, Status: StatusPending}
	if err := good.Validate(); err != nil {
		t.Fatalf("valid task rejected: %v", err)
	}
}

func TestProgressTimelineBounded(t *testing.T) {
	var p Progress
	for i := 0; i < MaxActivityEntries+10; i++ {
		p.AppendActivity(ActivityEntry{
			Kind:   ActivityTool,
			Label:  fmt.Sprintf("entry-%d", i),
			Status: ActivityDone,
		})
	}
	if len(p.Activities) != MaxActivityEntries {
		t.Fatalf("timeline length = %d, want %d", len(p.Activities), MaxActivityEntries)
	}
	if p.Activities[0].Label != "entry-10" {
		t.Fatalf("oldest surviving entry = %s", p.Activities[0].Label)
	}
	if last := p.Activities[len(p.Activities)-1]; last.Label != fmt.Sprintf("entry-%d", MaxActivityEntries+9) {
		t.Fatalf("newest entry = %s", last.Label)
	}
}

func TestProgressSkillsDeduplicated(t *testing.T) {
	var p Progress
	p.AddSkill("frontend-design")
	p.AddSkill("database-migrations")
	p.AddSkill("frontend-design")
	if len(p.Skills) != 2 {
		t.Fatalf("skills = %v", p.Skills)
	}
}

func TestProgressEncodeDecode(t *testing.T) {
	p := Progress{
		CurrentActivity: "Running the test suite",
		Skills:          []string{"frontend-design"},
		TasksDone:       2,
		TasksTotal:      5,
		UpdatedAt:       time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
	}
	raw, err := p.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := DecodeProgress(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.CurrentActivity != p.CurrentActivity || got.TasksTotal != 5 {
		t.Fatalf("round trip = %+v", got)
	}
	if _, err := DecodeProgress(""); err != nil {
		t.Fatalf("empty snapshot should decode clean: %v", err)
	}
}

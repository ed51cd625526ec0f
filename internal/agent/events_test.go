package agent

import "testing"

func TestDecodeEventSystemInit(t *testing.T) {
	line := `{"type":"system","subtype":"init","session_id":"sess-1"}`
	ev, ok := DecodeEvent(line)
	if !ok {
		t.Fatalf("decode failed")
	}
	if ev.Type != EventSystem || ev.Subtype != "init" || ev.SessionID != "sess-1" {
		t.Fatalf("event = %+v", ev)
	}
}

func TestDecodeEventAssistantBlocks(t *testing.T) {
	line := `{"type":"assistant","session_id":"sess-1","message":{"content":[` +
		`{"type":"thinking","thinking":"weighing options"},` +
		`{"type":"text","text":"I'll start with the schema."},` +
		`{"type":"tool_use","id":"toolu_1","name":"Bash","input":{"command":"go test ./...","description":"Run the test suite"}}` +
		`]}}`
	ev, ok := DecodeEvent(line)
	if !ok {
		t.Fatalf("decode failed")
	}
	if ev.Text != "I'll start with the schema." {
		t.Fatalf("text = %q", ev.Text)
	}
	if ev.Thinking != "weighing options" {
		t.Fatalf("thinking = %q", ev.Thinking)
	}
	if len(ev.ToolUses) != 1 {
		t.Fatalf("tool uses = %+v", ev.ToolUses)
	}
	tu := ev.ToolUses[0]
	if tu.ID != "toolu_1" || tu.Name != "Bash" {
		t.Fatalf("tool use = %+v", tu)
	}
	if got := tu.InputString("description"); got != "Run the test suite" {
		t.Fatalf("description = %q", got)
	}
	if got := tu.InputString("missing"); got != "" {
		t.Fatalf("missing key = %q", got)
	}
}

func TestDecodeEventToolResult(t *testing.T) {
	line := `{"type":"user","message":{"content":[{"type":"tool_result","tool_use_id":"toolu_1","is_error":true}]}}`
	ev, ok := DecodeEvent(line)
	if !ok {
		t.Fatalf("decode failed")
	}
	if len(ev.ToolResults) != 1 || ev.ToolResults[0].ToolUseID != "toolu_1" || !ev.ToolResults[0].IsError {
		t.Fatalf("tool results = %+v", ev.ToolResults)
	}
}

func TestDecodeEventResult(t *testing.T) {
	line := `{"type":"result","subtype":"success","session_id":"sess-1","result":"All done.","is_error":false}`
	ev, ok := DecodeEvent(line)
	if !ok {
		t.Fatalf("decode failed")
	}
	if ev.Type != EventResult || ev.Result != "All done." || ev.IsError {
		t.Fatalf("event = %+v", ev)
	}
}

func TestDecodeEventRejectsNoise(t *testing.T) {
	for _, line := range []string{
		"",
		"=== task task-1",
		"plain prose output",
		`{"type":"mystery"}`,
		`{broken json`,
	} {
		if _, ok := DecodeEvent(line); ok {
			t.Fatalf("decoded noise line %q", line)
		}
	}
}

func TestTodosDecoding(t *testing.T) {
	line := `{"type":"assistant","message":{"content":[{"type":"tool_use","id":"toolu_2","name":"TodoWrite","input":{"todos":[` +
		`{"content":"write schema","status":"completed"},` +
		`{"content":"wire handlers","status":"in_progress"},` +
		`{"content":"add tests","status":"pending"}]}}]}}`
	ev, ok := DecodeEvent(line)
	if !ok || len(ev.ToolUses) != 1 {
		t.Fatalf("decode failed: %+v", ev)
	}
	todos := ev.ToolUses[0].Todos()
	if len(todos) != 3 {
		t.Fatalf("todos = %+v", todos)
	}
	if todos[1].Content != "wire handlers" || todos[1].Status != "in_progress" {
		t.Fatalf("todo[1] = %+v", todos[1])
	}
}

// Package agent spawns the external autonomous agent process and decodes
// its structured output stream. The agent emits one JSON event per line;
// anything that does not decode is treated as noise, never as an error.
package agent

import (
	"encoding/json"
	"strings"
)

// EventType enumerates the top-level stream event kinds.
type EventType string

const (
	EventSystem    EventType = "system"
	EventAssistant EventType = "assistant"
	EventUser      EventType = "user"
	EventResult    EventType = "result"
)

// ToolUse is one tool invocation opened by the agent. Input is kept raw;
// consumers pull the fields they care about with InputString.
type ToolUse struct {
	ID    string
	Name  string
	Input json.RawMessage
}

// InputString extracts a string field from the tool input, or "".
func (tu ToolUse) InputString(key string) string {
	if len(tu.Input) == 0 {
		return ""
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(tu.Input, &fields); err != nil {
		return ""
	}
	raw, ok := fields[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

// TodoItem is one entry of a structured task-list update.
type TodoItem struct {
	Content string `json:"content"`
	Status  string `json:"status"`
}

// Todos decodes a task-list update from a TodoWrite-style invocation.
// Returns nil when the input carries no list.
func (tu ToolUse) Todos() []TodoItem {
	if len(tu.Input) == 0 {
		return nil
	}
	var payload struct {
		Todos []TodoItem `json:"todos"`
	}
	if err := json.Unmarshal(tu.Input, &payload); err != nil {
		return nil
	}
	return payload.Todos
}

// ToolResult closes a previously opened tool invocation.
type ToolResult struct {
	ToolUseID string
	IsError   bool
}

// Event is one decoded line of the agent's output stream.
type Event struct {
	Type      EventType
	Subtype   string
	SessionID string

	// Text is the concatenated assistant text blocks of this event.
	Text string
	// Thinking is the concatenated reasoning segments, kept separate
	// from Text so it never leaks into fallback results.
	Thinking string

	ToolUses    []ToolUse
	ToolResults []ToolResult

	// Result carries the agent's explicit final answer on result events.
	Result  string
	IsError bool
}

type rawEvent struct {
	Type      string          `json:"type"`
	Subtype   string          `json:"subtype"`
	SessionID string          `json:"session_id"`
	Result    string          `json:"result"`
	IsError   bool            `json:"is_error"`
	Message   json.RawMessage `json:"message"`
}

type rawBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text"`
	Thinking  string          `json:"thinking"`
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Input     json.RawMessage `json:"input"`
	ToolUseID string          `json:"tool_use_id"`
	IsError   bool            `json:"is_error"`
}

// DecodeEvent parses one stream line. ok is false for blank lines,
// non-JSON noise (log headers, plain prose), and unknown event types.
func DecodeEvent(line string) (Event, bool) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" || !strings.HasPrefix(trimmed, "{") {
		return Event{}, false
	}
	var raw rawEvent
	if err := json.Unmarshal([]byte(trimmed), &raw); err != nil {
		return Event{}, false
	}
	ev := Event{
		Subtype:   raw.Subtype,
		SessionID: raw.SessionID,
		Result:    raw.Result,
		IsError:   raw.IsError,
	}
	switch EventType(raw.Type) {
	case EventSystem, EventAssistant, EventUser, EventResult:
		ev.Type = EventType(raw.Type)
	default:
		return Event{}, false
	}
	if len(raw.Message) > 0 {
		var msg struct {
			Content []rawBlock `json:"content"`
		}
		if err := json.Unmarshal(raw.Message, &msg); err == nil {
			var text, thinking []string
			for _, block := range msg.Content {
				switch block.Type {
				case "text":
					if block.Text != "" {
						text = append(text, block.Text)
					}
				case "thinking":
					if block.Thinking != "" {
						thinking = append(thinking, block.Thinking)
					}
				case "tool_use":
					ev.ToolUses = append(ev.ToolUses, ToolUse{
						ID:    block.ID,
						Name:  block.Name,
						Input: block.Input,
					})
				case "tool_result":
					ev.ToolResults = append(ev.ToolResults, ToolResult{
						ToolUseID: block.ToolUseID,
						IsError:   block.IsError,
					})
				}
			}
			ev.Text = strings.Join(text, "\n")
			ev.Thinking = strings.Join(thinking, "\n")
		}
	}
	return ev, true
}

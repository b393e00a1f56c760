package service

import (
	"testing"

	"go.uber.org/zap"
)

func testLogger() *zap.Logger {
	logger, _ := zap.NewDevelopment()
	return logger
}

// collect feeds fragments one by one and gathers every event including
// the flush.
func collect(t *testing.T, fragments ...string) []ScanEvent {
	t.Helper()
	s := NewScanner()
	var events []ScanEvent
	for _, f := range fragments {
		events = append(events, s.Feed(f)...)
	}
	return append(events, s.Flush()...)
}

// joinKind concatenates the text of all events of one kind.
func joinKind(events []ScanEvent, kind ScanEventKind) string {
	var out string
	for _, ev := range events {
		if ev.Kind == kind {
			out += ev.Text
		}
	}
	return out
}

func toolCalls(events []ScanEvent) []ScanEvent {
	var out []ScanEvent
	for _, ev := range events {
		if ev.Kind == ScanToolCall {
			out = append(out, ev)
		}
	}
	return out
}

// === Plain content ===

func TestScanner_PlainContent(t *testing.T) {
	events := collect(t, "hello ", "world")
	if got := joinKind(events, ScanContent); got != "hello world" {
		t.Errorf("content: got %q", got)
	}
	if calls := toolCalls(events); len(calls) != 0 {
		t.Errorf("expected no tool calls, got %d", len(calls))
	}
}

func TestScanner_AngleBracketReleased(t *testing.T) {
	// A '<' that stops being a viable marker prefix must come back out
	// as ordinary content.
	tests := []struct {
		name  string
		input string
	}{
		{"comparison", "a < b and c > d"},
		{"html-ish tag", "use <br> here"},
		{"lone bracket at end", "trailing <"},
		{"partial marker at end", "trailing <fc"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			events := collect(t, tt.input)
			if got := joinKind(events, ScanContent); got != tt.input {
				t.Errorf("got %q, want %q", got, tt.input)
			}
		})
	}
}

// === Inline tool-call dialects ===

func TestScanner_ToolCallDialects(t *testing.T) {
	payload := `{"name": "get_weather", "arguments": {"city": "Oslo"}}`
	tests := []struct {
		name  string
		input string
	}{
		{"fc", "<fc>" + payload + "</fc>"},
		{"tool_call xml", "<tool_call>" + payload + "</tool_call>"},
		{"tool_code", "<tool_code>" + payload + "</tool_code>"},
		{"json fence", "```json\n" + payload + "\n```"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			events := collect(t, tt.input)
			calls := toolCalls(events)
			if len(calls) != 1 {
				t.Fatalf("expected 1 tool call, got %d", len(calls))
			}
			if calls[0].Text != payload {
				t.Errorf("payload: got %q", calls[0].Text)
			}
			// The payload also streams as call_arguments, never content.
			if got := joinKind(events, ScanContent); got != "" {
				t.Errorf("leaked into content: %q", got)
			}
		})
	}
}

func TestScanner_SplitMarkerAcrossFeeds(t *testing.T) {
	payload := `{"name": "lookup", "arguments": {}}`
	// Every tag boundary is split mid-marker.
	events := collect(t, "before <f", "c>"+payload[:7], payload[7:]+"</f", "c> after")

	calls := toolCalls(events)
	if len(calls) != 1 {
		t.Fatalf("expected 1 tool call, got %d", len(calls))
	}
	if calls[0].Text != payload {
		t.Errorf("payload: got %q", calls[0].Text)
	}
	if got := joinKind(events, ScanContent); got != "before  after" {
		t.Errorf("content: got %q", got)
	}
}

func TestScanner_ContentAroundCall(t *testing.T) {
	events := collect(t, `Sure. <fc>{"name": "f", "arguments": {}}</fc> Done.`)
	if got := joinKind(events, ScanContent); got != "Sure.  Done." {
		t.Errorf("content: got %q", got)
	}
	if len(toolCalls(events)) != 1 {
		t.Error("expected 1 tool call")
	}
}

// === Thinking channels ===

func TestScanner_ThinkPlanDecision(t *testing.T) {
	events := collect(t, "<think>deep</think><plan>steps</plan><decision>go</decision>tail")
	if got := joinKind(events, ScanReasoning); got != "deep" {
		t.Errorf("reasoning: got %q", got)
	}
	if got := joinKind(events, ScanPlan); got != "steps" {
		t.Errorf("plan: got %q", got)
	}
	if got := joinKind(events, ScanDecision); got != "go" {
		t.Errorf("decision: got %q", got)
	}
	if got := joinKind(events, ScanContent); got != "tail" {
		t.Errorf("content: got %q", got)
	}
}

func TestScanner_UnterminatedThinkFlushes(t *testing.T) {
	s := NewScanner()
	events := s.Feed("<think>still going")
	events = append(events, s.Flush()...)
	if got := joinKind(events, ScanReasoning); got != "still going" {
		t.Errorf("reasoning: got %q", got)
	}
}

// === Channel-header dialect ===

func TestScanner_ChannelAnalysisAndFinal(t *testing.T) {
	events := collect(t,
		"<|channel|>analysis<|message|>weighing options<|end|>",
		"<|channel|>final<|message|>the answer<|end|>",
	)
	if got := joinKind(events, ScanReasoning); got != "weighing options" {
		t.Errorf("reasoning: got %q", got)
	}
	if got := joinKind(events, ScanContent); got != "the answer" {
		t.Errorf("content: got %q", got)
	}
}

func TestScanner_ChannelCommentaryEmitsCall(t *testing.T) {
	payload := `{"name": "get_weather", "arguments": {"city": "Oslo"}}`
	events := collect(t, "<|channel|>commentary to=functions.get_weather<|message|>"+payload+"<|call|>")

	calls := toolCalls(events)
	if len(calls) != 1 {
		t.Fatalf("expected 1 tool call, got %d", len(calls))
	}
	if calls[0].Text != payload {
		t.Errorf("payload: got %q", calls[0].Text)
	}
	if got := joinKind(events, ScanCallArgs); got != payload {
		t.Errorf("call_arguments: got %q", got)
	}
}

// === Section dialect ===

func TestScanner_SectionDialect(t *testing.T) {
	args := `{"city": "Oslo"}`
	input := "<|tool_calls_section_begin|>" +
		"<|tool_call_begin|>functions.get_weather:0<|tool_call_argument_begin|>" +
		args +
		"<|tool_call_end|><|tool_calls_section_end|>done"

	events := collect(t, input)
	calls := toolCalls(events)
	if len(calls) != 1 {
		t.Fatalf("expected 1 tool call, got %d", len(calls))
	}
	if calls[0].CallID != "functions.get_weather:0" {
		t.Errorf("call id: got %q", calls[0].CallID)
	}
	if calls[0].Text != args {
		t.Errorf("args: got %q", calls[0].Text)
	}
	if got := joinKind(events, ScanContent); got != "done" {
		t.Errorf("content: got %q", got)
	}
}

func TestScanner_SectionDialectMultipleCalls(t *testing.T) {
	input := "<|tool_calls_section_begin|>" +
		`<|tool_call_begin|>functions.a:0<|tool_call_argument_begin|>{"x": 1}<|tool_call_end|>` +
		`<|tool_call_begin|>functions.b:1<|tool_call_argument_begin|>{"y": 2}<|tool_call_end|>` +
		"<|tool_calls_section_end|>"

	calls := toolCalls(collect(t, input))
	if len(calls) != 2 {
		t.Fatalf("expected 2 tool calls, got %d", len(calls))
	}
	if calls[0].CallID != "functions.a:0" || calls[1].CallID != "functions.b:1" {
		t.Errorf("call ids: %q, %q", calls[0].CallID, calls[1].CallID)
	}
}

// === InToolBlock ===

func TestScanner_InToolBlock(t *testing.T) {
	s := NewScanner()
	s.Feed("<fc>{")
	if !s.InToolBlock() {
		t.Error("expected InToolBlock inside <fc>")
	}
	s.Feed(`"name": "f", "arguments": {}}</fc>`)
	if s.InToolBlock() {
		t.Error("expected InToolBlock false after close")
	}
}

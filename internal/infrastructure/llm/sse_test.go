package llm

import (
	"context"
	"strings"
	"testing"

	"github.com/strandlabs/strand/internal/domain/service"
)

func runParse(t *testing.T, stream string) ([]service.Delta, error) {
	t.Helper()
	out := make(chan service.Delta, 64)
	err := parseSSE(context.Background(), strings.NewReader(stream), out, testLogger())
	close(out)

	var deltas []service.Delta
	for d := range out {
		deltas = append(deltas, d)
	}
	return deltas, err
}

// === Content streams ===

func TestParseSSE_ContentDeltas(t *testing.T) {
	stream := "data: {\"choices\":[{\"delta\":{\"content\":\"Hel\"}}]}\n" +
		"data: {\"choices\":[{\"delta\":{\"content\":\"lo\"}}]}\n" +
		"data: [DONE]\n"

	deltas, err := runParse(t, stream)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	var text string
	for _, d := range deltas {
		text += d.Content
	}
	if text != "Hello" {
		t.Errorf("content: got %q", text)
	}
}

func TestParseSSE_ReasoningChannel(t *testing.T) {
	stream := "data: {\"choices\":[{\"delta\":{\"reasoning_content\":\"thinking\"}}]}\n" +
		"data: [DONE]\n"

	deltas, err := runParse(t, stream)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(deltas) != 1 || deltas[0].ReasoningContent != "thinking" {
		t.Errorf("deltas: %+v", deltas)
	}
}

// === Termination ===

func TestParseSSE_FinishReasonBreaksWithoutDone(t *testing.T) {
	// Some gateways never send [DONE]; finish_reason alone must end the
	// stream, leaving trailing lines unread.
	stream := "data: {\"choices\":[{\"delta\":{\"content\":\"hi\"},\"finish_reason\":\"stop\"}]}\n" +
		"data: {\"choices\":[{\"delta\":{\"content\":\"never seen\"}}]}\n"

	deltas, err := runParse(t, stream)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(deltas) != 1 {
		t.Fatalf("deltas: got %d, want 1", len(deltas))
	}
	if deltas[0].FinishReason != "stop" {
		t.Errorf("finish reason: %q", deltas[0].FinishReason)
	}
}

func TestParseSSE_EOFWithoutDoneIsClean(t *testing.T) {
	deltas, err := runParse(t, "data: {\"choices\":[{\"delta\":{\"content\":\"partial\"}}]}\n")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(deltas) != 1 || deltas[0].Content != "partial" {
		t.Errorf("deltas: %+v", deltas)
	}
}

// === Tool calls ===

func TestParseSSE_ToolCallDeltas(t *testing.T) {
	stream := "data: {\"choices\":[{\"delta\":{\"tool_calls\":[{\"index\":0,\"id\":\"call_1\",\"function\":{\"name\":\"get_weather\"}}]}}]}\n" +
		"data: {\"choices\":[{\"delta\":{\"tool_calls\":[{\"index\":0,\"function\":{\"arguments\":\"{\\\"city\\\":\"}}]}}]}\n" +
		"data: {\"choices\":[{\"delta\":{\"tool_calls\":[{\"index\":0,\"function\":{\"arguments\":\"\\\"Oslo\\\"}\"}}]}}]}\n" +
		"data: {\"choices\":[{\"delta\":{},\"finish_reason\":\"tool_calls\"}]}\n"

	deltas, err := runParse(t, stream)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	var id, name, args string
	for _, d := range deltas {
		for _, tc := range d.ToolCalls {
			if tc.Index != 0 {
				t.Errorf("index: got %d", tc.Index)
			}
			id += tc.ID
			name += tc.Name
			args += tc.Arguments
		}
	}
	if id != "call_1" || name != "get_weather" {
		t.Errorf("id=%q name=%q", id, name)
	}
	if args != `{"city":"Oslo"}` {
		t.Errorf("arguments: %q", args)
	}
	if deltas[len(deltas)-1].FinishReason != "tool_calls" {
		t.Errorf("finish reason: %q", deltas[len(deltas)-1].FinishReason)
	}
}

// === Malformed input ===

func TestParseSSE_SkipsNoise(t *testing.T) {
	stream := ": keepalive comment\n" +
		"event: message\n" +
		"data: not json at all\n" +
		"data: {\"choices\":[{\"delta\":{\"content\":\"ok\"}}]}\n" +
		"data: [DONE]\n"

	deltas, err := runParse(t, stream)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(deltas) != 1 || deltas[0].Content != "ok" {
		t.Errorf("deltas: %+v", deltas)
	}
}

func TestParseSSE_InBandErrorFailsStream(t *testing.T) {
	stream := "data: {\"error\":{\"message\":\"rate limited\",\"type\":\"rate_limit\"}}\n"

	_, err := runParse(t, stream)
	if err == nil || !strings.Contains(err.Error(), "rate limited") {
		t.Errorf("got %v, want in-band error surfaced", err)
	}
}

func TestParseSSE_EmptyChoicesSkipped(t *testing.T) {
	// Usage-only final frames carry no choices.
	stream := "data: {\"choices\":[],\"usage\":{\"prompt_tokens\":10,\"completion_tokens\":5}}\n" +
		"data: [DONE]\n"

	deltas, err := runParse(t, stream)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(deltas) != 0 {
		t.Errorf("deltas: %+v", deltas)
	}
}

// === Usage accounting ===

func TestUsage_TotalFallsBackToSum(t *testing.T) {
	u := &Usage{PromptTokens: 10, CompletionTokens: 5}
	if got := u.Total(); got != 15 {
		t.Errorf("sum fallback: got %d", got)
	}
	u.TotalTokens = 100
	if got := u.Total(); got != 100 {
		t.Errorf("explicit total: got %d", got)
	}
}

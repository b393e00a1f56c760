package service

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/strandlabs/strand/internal/domain/entity"
)

// Delta is one raw upstream fragment after provider-side decoding:
// either plain string content, a native reasoning channel, or
// structured tool-call fragments keyed by slot index.
type Delta struct {
	Content          string
	ReasoningContent string
	ToolCalls        []ToolCallDelta
	FinishReason     string
}

// ToolCallDelta is one structured tool-call fragment. Providers stream
// these piecewise: the id and name arrive once, arguments in shards.
type ToolCallDelta struct {
	Index     int
	ID        string
	Name      string
	Arguments string
}

// Event is one normalized, tagged fragment in emission order.
type Event struct {
	Type     entity.ChunkType
	Text     string
	ToolCall *entity.ToolCallInfo // set when Type == ChunkToolCall
}

// toolCallSlot accumulates structured fragments for one index until the
// finish signal, then assembles the call once.
type toolCallSlot struct {
	id   string
	name string
	args strings.Builder
}

// Normalizer is the provider-agnostic delta normalizer (C1). It accepts
// structured delta objects or plain string content and emits a single
// tagged event sequence. One normalizer per provider stream; not safe
// for concurrent use.
type Normalizer struct {
	scanner *Scanner
	slots   map[int]*toolCallSlot
	order   []int
}

// NewNormalizer creates a normalizer with a fresh scanner.
func NewNormalizer() *Normalizer {
	return &Normalizer{
		scanner: NewScanner(),
		slots:   make(map[int]*toolCallSlot),
	}
}

// Feed consumes one delta and returns the events it produced.
// Ordering is strict: events come out in input order and no event type
// interleaves inside a partial tag.
func (n *Normalizer) Feed(d Delta) []Event {
	var out []Event

	if d.ReasoningContent != "" {
		out = append(out, Event{Type: entity.ChunkReasoning, Text: d.ReasoningContent})
	}

	for _, tc := range d.ToolCalls {
		slot, ok := n.slots[tc.Index]
		if !ok {
			slot = &toolCallSlot{}
			n.slots[tc.Index] = slot
			n.order = append(n.order, tc.Index)
		}
		if tc.ID != "" {
			slot.id = tc.ID
		}
		if tc.Name != "" {
			slot.name = tc.Name
		}
		if tc.Arguments != "" {
			slot.args.WriteString(tc.Arguments)
			out = append(out, Event{Type: entity.ChunkCallArguments, Text: tc.Arguments})
		}
	}

	if d.Content != "" {
		for _, ev := range n.scanner.Feed(d.Content) {
			out = append(out, n.convert(ev)...)
		}
	}

	if d.FinishReason != "" {
		out = append(out, n.drainSlots()...)
	}
	return out
}

// Close flushes the scanner and any structured slots that never saw a
// finish signal. Pending reasoning/arguments surface under their own
// tags; anything else surfaces as content.
func (n *Normalizer) Close() []Event {
	var out []Event
	for _, ev := range n.scanner.Flush() {
		out = append(out, n.convert(ev)...)
	}
	out = append(out, n.drainSlots()...)
	return out
}

func (n *Normalizer) drainSlots() []Event {
	var out []Event
	for _, idx := range n.order {
		slot := n.slots[idx]
		raw := slot.args.String()
		info := &entity.ToolCallInfo{
			ID:      slot.id,
			Name:    slot.name,
			RawArgs: raw,
		}
		if info.ID == "" {
			info.ID = newCallID()
		}
		if raw != "" {
			var args map[string]any
			if err := json.Unmarshal([]byte(raw), &args); err == nil {
				info.Arguments = args
			}
		}
		out = append(out, Event{Type: entity.ChunkToolCall, ToolCall: info})
		delete(n.slots, idx)
	}
	n.order = n.order[:0]
	return out
}

// convert maps scanner events onto normalized events, parsing inline
// tool-call payloads into ToolCallInfo. A payload that fails JSON
// validation stays as the call_arguments already streamed; the router
// owns parse-failure handling.
func (n *Normalizer) convert(ev ScanEvent) []Event {
	switch ev.Kind {
	case ScanContent:
		return []Event{{Type: entity.ChunkContent, Text: ev.Text}}
	case ScanReasoning:
		return []Event{{Type: entity.ChunkReasoning, Text: ev.Text}}
	case ScanPlan:
		return []Event{{Type: entity.ChunkPlan, Text: ev.Text}}
	case ScanDecision:
		return []Event{{Type: entity.ChunkDecision, Text: ev.Text}}
	case ScanCallArgs:
		return []Event{{Type: entity.ChunkCallArguments, Text: ev.Text}}
	case ScanToolCall:
		info, ok := parseInlineCall(ev.Text)
		if !ok {
			info, ok = parseSectionCall(ev.CallID, ev.Text)
		}
		if !ok {
			return nil
		}
		if ev.CallID != "" {
			info.ID = ev.CallID
		}
		return []Event{{Type: entity.ChunkToolCall, ToolCall: info}}
	}
	return nil
}

// parseInlineCall decodes an inline {"name":..., "arguments":{...}}
// payload. Inline dialects carry no provider id, so one is minted.
func parseInlineCall(raw string) (*entity.ToolCallInfo, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, false
	}
	var envelope struct {
		Name      string         `json:"name"`
		Arguments map[string]any `json:"arguments"`
	}
	if err := json.Unmarshal([]byte(raw), &envelope); err != nil || envelope.Name == "" {
		return nil, false
	}
	return &entity.ToolCallInfo{
		ID:        newCallID(),
		Name:      envelope.Name,
		Arguments: envelope.Arguments,
		RawArgs:   raw,
	}, true
}

// parseSectionCall decodes a section-dialect payload, where the call id
// carries the function name ("functions.get_weather:0") and the payload
// is the bare argument object.
func parseSectionCall(callID, raw string) (*entity.ToolCallInfo, bool) {
	name := strings.TrimPrefix(callID, "functions.")
	if i := strings.LastIndex(name, ":"); i >= 0 {
		name = name[:i]
	}
	if name == "" {
		return nil, false
	}
	raw = strings.TrimSpace(raw)
	var args map[string]any
	if raw != "" {
		if err := json.Unmarshal([]byte(raw), &args); err != nil {
			return nil, false
		}
	}
	return &entity.ToolCallInfo{
		ID:        callID,
		Name:      name,
		Arguments: args,
		RawArgs:   raw,
	}, true
}

func newCallID() string {
	return fmt.Sprintf("call_%s", uuid.NewString())
}

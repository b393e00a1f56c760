package service

import "strings"

// ScanEventKind tags one fragment produced by the markup scanner.
type ScanEventKind int

const (
	ScanContent ScanEventKind = iota
	ScanReasoning
	ScanPlan
	ScanDecision
	ScanCallArgs
	// ScanToolCall closes a tool-call block; Text holds the fully
	// accumulated raw payload, CallID the provider id when the dialect
	// carries one (Kimi).
	ScanToolCall
)

// ScanEvent is one tagged fragment in input order.
type ScanEvent struct {
	Kind   ScanEventKind
	Text   string
	CallID string
}

// scanState is the explicit state of the streaming scanner. Each state
// has its own marker table.
type scanState int

const (
	stateText scanState = iota
	stateThink
	statePlan
	stateDecision
	stateFC
	stateToolXML
	stateToolCode
	stateJSONFence
	stateHermesChannel
	stateHermesBody
	stateKimiSection
	stateKimiCallID
	stateKimiArgs
)

// marker actions.
type markerAction int

const (
	actEnter markerAction = iota // enter Target
	actClose                     // close current block, return to Target
	actNoise                     // consume marker, stay in state
)

type marker struct {
	text   string
	action markerAction
	target scanState
}

// markerTable maps each state to the markers recognized in it.
// Matching is exact, viability is prefix-based: a '<' that can no
// longer begin any marker is released as ordinary content.
var markerTable = map[scanState][]marker{
	stateText: {
		{"<fc>", actEnter, stateFC},
		{"<tool_call>", actEnter, stateToolXML},
		{"<tool_code>", actEnter, stateToolCode},
		{"```json", actEnter, stateJSONFence},
		{"<think>", actEnter, stateThink},
		{"<plan>", actEnter, statePlan},
		{"<decision>", actEnter, stateDecision},
		{"<|channel|>", actEnter, stateHermesChannel},
		{"<|tool_calls_section_begin|>", actEnter, stateKimiSection},
	},
	stateThink:    {{"</think>", actClose, stateText}},
	statePlan:     {{"</plan>", actClose, stateText}},
	stateDecision: {{"</decision>", actClose, stateText}},
	stateFC:       {{"</fc>", actClose, stateText}},
	stateToolXML:  {{"</tool_call>", actClose, stateText}},
	stateToolCode: {{"</tool_code>", actClose, stateText}},
	stateJSONFence: {
		{"```", actClose, stateText},
	},
	stateHermesChannel: {
		{"<|message|>", actEnter, stateHermesBody},
	},
	stateHermesBody: {
		{"<|channel|>", actClose, stateHermesChannel},
		{"<|call|>", actClose, stateText},
		{"<|end|>", actClose, stateText},
	},
	stateKimiSection: {
		{"<|tool_call_begin|>", actEnter, stateKimiCallID},
		{"<|tool_calls_section_end|>", actClose, stateText},
	},
	stateKimiCallID: {
		{"<|tool_call_argument_begin|>", actEnter, stateKimiArgs},
	},
	stateKimiArgs: {
		{"<|tool_call_end|>", actClose, stateKimiSection},
	},
}

// pipeStates are the states in which any unrecognized <|...|> sequence
// is consumed as noise rather than emitted as content.
var pipeStates = map[scanState]bool{
	stateHermesChannel: true,
	stateHermesBody:    true,
	stateKimiSection:   true,
	stateKimiCallID:    true,
	stateKimiArgs:      true,
}

const maxPipeMarker = 64 // longest tolerated <|...|> sequence

// Scanner is the single-pass streaming markup scanner (C1). It consumes
// input one byte at a time and never requires a complete tag in one
// chunk: partial markers are buffered and released as content the
// moment they stop being a viable prefix.
type Scanner struct {
	state   scanState
	pending []byte

	argBuf     strings.Builder // payload of the open tool-call block
	channelBuf strings.Builder // hermes channel name
	kimiID     strings.Builder // kimi tool call id
	hermesKind ScanEventKind   // role of the current hermes body

	events []ScanEvent
}

// NewScanner creates a scanner in the plain-text state.
func NewScanner() *Scanner {
	return &Scanner{state: stateText, hermesKind: ScanContent}
}

// Feed consumes one upstream content fragment and returns the events it
// produced, in input order. Adjacent bytes of the same kind coalesce
// into one event per call.
func (s *Scanner) Feed(chunk string) []ScanEvent {
	s.events = s.events[:0]
	for i := 0; i < len(chunk); i++ {
		s.feedByte(chunk[i])
	}
	return append([]ScanEvent(nil), s.events...)
}

// Flush terminates the input. Any buffered partial marker is released
// into the open block; an unterminated tool-call block stays as the
// call_arguments already emitted (no tool_call event).
func (s *Scanner) Flush() []ScanEvent {
	s.events = s.events[:0]
	for len(s.pending) > 0 {
		b := s.pending[0]
		s.pending = s.pending[1:]
		s.emitByte(b)
	}
	return append([]ScanEvent(nil), s.events...)
}

// InToolBlock reports whether the scanner is inside an open tool-call
// payload (used by the orchestrator to decide flush semantics).
func (s *Scanner) InToolBlock() bool {
	switch s.state {
	case stateFC, stateToolXML, stateToolCode, stateJSONFence, stateKimiArgs:
		return true
	}
	return false
}

func (s *Scanner) feedByte(b byte) {
	s.pending = append(s.pending, b)
	for len(s.pending) > 0 {
		m, viable, noise := s.matchPending()
		if noise {
			s.pending = s.pending[:0]
			return
		}
		if m != nil {
			s.pending = s.pending[:0]
			s.applyMarker(m)
			return
		}
		if viable {
			return
		}
		// No marker can match: release the head byte as block content
		// and retry the remainder (it may start a new marker).
		head := s.pending[0]
		s.pending = s.pending[1:]
		s.emitByte(head)
	}
}

// matchPending resolves the pending buffer against the current state's
// marker table. Returns the matched marker, whether the buffer is still
// a viable prefix, and whether it resolved to <|...|> noise.
func (s *Scanner) matchPending() (*marker, bool, bool) {
	p := string(s.pending)
	for i := range markerTable[s.state] {
		m := &markerTable[s.state][i]
		if p == m.text {
			return m, false, false
		}
	}
	viable := false
	for i := range markerTable[s.state] {
		m := &markerTable[s.state][i]
		if strings.HasPrefix(m.text, p) {
			viable = true
			break
		}
	}
	// In pipe-marker states an arbitrary <|...|> run is held until it
	// closes, then dropped as noise if it matched no known marker.
	if pipeStates[s.state] && strings.HasPrefix(p, "<|") {
		if strings.HasSuffix(p, "|>") && len(p) > 2 {
			return nil, false, true
		}
		if len(p) < maxPipeMarker {
			return nil, true, false
		}
		return nil, false, false
	}
	return nil, viable, false
}

func (s *Scanner) applyMarker(m *marker) {
	from := s.state
	switch m.action {
	case actEnter:
		switch m.target {
		case stateFC, stateToolXML, stateToolCode, stateJSONFence:
			s.argBuf.Reset()
		case stateHermesChannel:
			s.channelBuf.Reset()
		case stateKimiCallID:
			s.kimiID.Reset()
		case stateKimiArgs:
			s.argBuf.Reset()
		case stateHermesBody:
			s.hermesKind = hermesRole(s.channelBuf.String())
			if s.hermesKind == ScanCallArgs {
				s.argBuf.Reset()
			}
		}
		s.state = m.target
	case actClose:
		switch from {
		case stateFC, stateToolXML, stateToolCode, stateJSONFence:
			s.appendEvent(ScanEvent{Kind: ScanToolCall, Text: strings.TrimSpace(s.argBuf.String())})
			s.argBuf.Reset()
		case stateKimiArgs:
			s.appendEvent(ScanEvent{
				Kind:   ScanToolCall,
				Text:   strings.TrimSpace(s.argBuf.String()),
				CallID: strings.TrimSpace(s.kimiID.String()),
			})
			s.argBuf.Reset()
			s.kimiID.Reset()
		case stateHermesBody:
			if s.hermesKind == ScanCallArgs && s.argBuf.Len() > 0 {
				s.appendEvent(ScanEvent{Kind: ScanToolCall, Text: strings.TrimSpace(s.argBuf.String())})
				s.argBuf.Reset()
			}
			if m.target == stateHermesChannel {
				s.channelBuf.Reset()
			}
		}
		s.state = m.target
	case actNoise:
	}
}

func (s *Scanner) emitByte(b byte) {
	switch s.state {
	case stateText:
		s.appendByte(ScanContent, b)
	case stateThink:
		s.appendByte(ScanReasoning, b)
	case statePlan:
		s.appendByte(ScanPlan, b)
	case stateDecision:
		s.appendByte(ScanDecision, b)
	case stateFC, stateToolXML, stateToolCode, stateJSONFence:
		s.argBuf.WriteByte(b)
		s.appendByte(ScanCallArgs, b)
	case stateHermesChannel:
		s.channelBuf.WriteByte(b)
	case stateHermesBody:
		if s.hermesKind == ScanCallArgs {
			s.argBuf.WriteByte(b)
		}
		s.appendByte(s.hermesKind, b)
	case stateKimiSection:
		// separators between nested call markers, discard
	case stateKimiCallID:
		s.kimiID.WriteByte(b)
	case stateKimiArgs:
		s.argBuf.WriteByte(b)
		s.appendByte(ScanCallArgs, b)
	}
}

func (s *Scanner) appendByte(kind ScanEventKind, b byte) {
	if n := len(s.events); n > 0 && s.events[n-1].Kind == kind && kind != ScanToolCall {
		s.events[n-1].Text += string(b)
		return
	}
	s.events = append(s.events, ScanEvent{Kind: kind, Text: string(b)})
}

func (s *Scanner) appendEvent(ev ScanEvent) {
	s.events = append(s.events, ev)
}

// hermesRole maps a Hermes channel header to the event kind its body
// should stream as. Headers may carry recipients ("commentary
// to=functions.get_weather"), so matching is by leading token.
func hermesRole(channel string) ScanEventKind {
	c := strings.TrimSpace(strings.ToLower(channel))
	switch {
	case strings.HasPrefix(c, "analysis"):
		return ScanReasoning
	case strings.HasPrefix(c, "commentary"):
		return ScanCallArgs
	case strings.HasPrefix(c, "final"):
		return ScanContent
	default:
		return ScanContent
	}
}

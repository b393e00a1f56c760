package entity

// ChunkType tags one streamed fragment delivered to SSE subscribers.
type ChunkType string

const (
	ChunkContent       ChunkType = "content"
	ChunkReasoning     ChunkType = "reasoning"
	ChunkPlan          ChunkType = "plan"
	ChunkDecision      ChunkType = "decision"
	ChunkCallArguments ChunkType = "call_arguments"
	ChunkToolCall      ChunkType = "tool_call"
	ChunkHotCode       ChunkType = "hot_code"
	ChunkStatus        ChunkType = "status"
	ChunkError         ChunkType = "error"

	// Code interpreter extensions.
	ChunkHotCodeOutput   ChunkType = "hot_code_output"
	ChunkCodeInterpreter ChunkType = "code_interpreter_stream"
)

// StreamChunk is the transient frame written to the completions SSE
// stream: data: {"type":...,"content":...,"run_id":...}\n\n
type StreamChunk struct {
	Type    ChunkType `json:"type"`
	Content any       `json:"content"`
	RunID   string    `json:"run_id,omitempty"`
}

// ToolCallInfo is a fully assembled tool invocation intent: the
// provider correlation id, tool name, and parsed arguments. RawArgs
// preserves the original argument text so a malformed payload can still
// be surfaced to the router.
type ToolCallInfo struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
	RawArgs   string         `json:"-"`
}

// InterpreterFile is one generated artifact returned by the code
// interpreter sandbox, base64-encoded for transport.
type InterpreterFile struct {
	Filename string `json:"filename"`
	FileID   string `json:"file_id"`
	Base64   string `json:"base64"`
	MimeType string `json:"mime_type"`
}

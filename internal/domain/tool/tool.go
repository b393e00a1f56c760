package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// Kind classifies a tool's side effects. Safe kinds skip approval
// policies and loop accounting.
type Kind string

const (
	KindRead    Kind = "read"    // read-only lookups (file_search, web_read)
	KindSearch  Kind = "search"  // search operations (web_search, vector search)
	KindExecute Kind = "execute" // remote execution (code_interpreter, computer)
	KindFetch   Kind = "fetch"   // network fetches
)

// SafeKinds are side-effect free.
var SafeKinds = map[Kind]bool{
	KindRead:   true,
	KindSearch: true,
}

// Invocation carries the run-scoped context a handler needs beyond its
// raw arguments.
type Invocation struct {
	RunID       string
	ThreadID    string
	AssistantID string
	ActionID    string
	TurnIndex   int
	// Emit forwards an intermediate chunk (hot code output, interpreter
	// files) onto the run's stream. Never nil.
	Emit func(chunkType string, content any)
}

// Result is what a handler returns. Output is fed back to the model as
// the tool message; Error is a structured payload when Success is false.
type Result struct {
	Output   string
	Success  bool
	Error    string
	Metadata map[string]any
}

// Handler is the common capability set every platform tool implements.
// Consumer tools never reach a handler: the router surfaces them to the
// caller instead.
type Handler interface {
	Name() string
	Kind() Kind
	Execute(ctx context.Context, args map[string]any, inv *Invocation) (*Result, error)
}

// Registry maps tool names to handler variants. The router consults it
// to classify a call as platform-native; unknown names take the
// consumer path.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register adds a handler. Duplicate names error.
func (r *Registry) Register(h Handler) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[h.Name()]; exists {
		return fmt.Errorf("tool %q already registered", h.Name())
	}
	r.handlers[h.Name()] = h
	return nil
}

// Get returns the handler for a name, if any.
func (r *Registry) Get(name string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[name]
	return h, ok
}

// Has reports whether a name is a registered platform tool.
func (r *Registry) Has(name string) bool {
	_, ok := r.Get(name)
	return ok
}

// Names returns all registered tool names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	return names
}

// ArgsFingerprint produces a stable key for deduplication caches.
func ArgsFingerprint(name string, args map[string]any) string {
	raw, err := json.Marshal(args)
	if err != nil {
		return name
	}
	return name + ":" + string(raw)
}

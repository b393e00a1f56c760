package entity

import (
	"encoding/json"
	"time"
)

// ToolFunction is the function half of a tool spec: name, description,
// and a JSON Schema for the arguments.
type ToolFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// ToolSpec is one declared tool of an assistant, OpenAI wire shape.
type ToolSpec struct {
	Type     string        `json:"type"`
	Function *ToolFunction `json:"function,omitempty"`
}

// ResourceSet binds a tool type to the resources it may touch.
type ResourceSet struct {
	VectorStoreIDs []string `json:"vector_store_ids,omitempty"`
	FileIDs        []string `json:"file_ids,omitempty"`
}

// ToolResources maps tool type → resource set, e.g.
// {"file_search": {"vector_store_ids": [...]}}.
type ToolResources map[string]ResourceSet

// Assistant is the per-tenant model configuration. Immutable during a
// run: looked up once at run start and served from cache after.
type Assistant struct {
	ID            string         `json:"id"`
	Name          string         `json:"name,omitempty"`
	Model         string         `json:"model"`
	Instructions  string         `json:"instructions,omitempty"`
	Tools         []ToolSpec     `json:"tools,omitempty"`
	ToolResources ToolResources  `json:"tool_resources,omitempty"`
	MetaData      map[string]any `json:"metadata,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// ToolCatalogJSON serializes the tool list for the system message.
// An assistant without tools renders as an empty array so the prompt
// shape stays stable.
func (a *Assistant) ToolCatalogJSON() string {
	if len(a.Tools) == 0 {
		return "[]"
	}
	raw, err := json.Marshal(a.Tools)
	if err != nil {
		return "[]"
	}
	return string(raw)
}

// HasTool reports whether the assistant declares a function tool by
// name, or a built-in tool by type.
func (a *Assistant) HasTool(name string) bool {
	for _, t := range a.Tools {
		if t.Function != nil && t.Function.Name == name {
			return true
		}
		if t.Function == nil && t.Type == name {
			return true
		}
	}
	return false
}

// VectorStoreIDs returns the stores bound to file_search, in order.
func (a *Assistant) VectorStoreIDs() []string {
	if a.ToolResources == nil {
		return nil
	}
	return a.ToolResources["file_search"].VectorStoreIDs
}

package entity

import "time"

// ToolRecord is a registered consumer tool definition. Platform tools
// live in the in-process registry; records exist so callers can declare
// the tools their own runtime executes and reuse them across
// assistants.
type ToolRecord struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
	Kind        string         `json:"kind,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// Spec renders the record in the assistant tool-spec wire shape.
func (t *ToolRecord) Spec() ToolSpec {
	return ToolSpec{
		Type: "function",
		Function: &ToolFunction{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  t.Parameters,
		},
	}
}

package service

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/strandlabs/strand/internal/domain/entity"
)

// SchemaValidator validates tool-call arguments against the JSON Schema
// declared in the assistant's tool catalog. Compiled schemas are cached
// by assistant id + tool name; an assistant update invalidates through
// the same path as the assistant cache.
type SchemaValidator struct {
	mu       sync.RWMutex
	compiled map[string]*jsonschema.Schema
}

// NewSchemaValidator creates an empty validator.
func NewSchemaValidator() *SchemaValidator {
	return &SchemaValidator{compiled: make(map[string]*jsonschema.Schema)}
}

// Validate checks args against the named function tool's parameters
// schema. Tools without a declared schema accept anything.
func (v *SchemaValidator) Validate(assistant *entity.Assistant, toolName string, args map[string]any) error {
	spec := findFunctionSpec(assistant, toolName)
	if spec == nil || len(spec.Parameters) == 0 {
		return nil
	}

	sch, err := v.schemaFor(assistant.ID, toolName, spec.Parameters)
	if err != nil {
		return fmt.Errorf("compile schema for %s: %w", toolName, err)
	}

	// Round-trip through JSON so numeric types match what the schema
	// engine expects.
	raw, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("encode arguments: %w", err)
	}
	instance, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("decode arguments: %w", err)
	}
	if err := sch.Validate(instance); err != nil {
		return fmt.Errorf("arguments for %s: %w", toolName, err)
	}
	return nil
}

// Invalidate drops all cached schemas for an assistant.
func (v *SchemaValidator) Invalidate(assistantID string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	prefix := assistantID + "/"
	for key := range v.compiled {
		if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
			delete(v.compiled, key)
		}
	}
}

func (v *SchemaValidator) schemaFor(assistantID, toolName string, params map[string]any) (*jsonschema.Schema, error) {
	key := assistantID + "/" + toolName
	v.mu.RLock()
	sch, ok := v.compiled[key]
	v.mu.RUnlock()
	if ok {
		return sch, nil
	}

	compiler := jsonschema.NewCompiler()
	url := fmt.Sprintf("strand://tools/%s.json", key)
	if err := compiler.AddResource(url, toAnyDoc(params)); err != nil {
		return nil, err
	}
	sch, err := compiler.Compile(url)
	if err != nil {
		return nil, err
	}

	v.mu.Lock()
	v.compiled[key] = sch
	v.mu.Unlock()
	return sch, nil
}

// toAnyDoc normalizes a decoded schema document for the compiler.
func toAnyDoc(params map[string]any) any {
	raw, err := json.Marshal(params)
	if err != nil {
		return params
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return params
	}
	return doc
}

func findFunctionSpec(a *entity.Assistant, name string) *entity.ToolFunction {
	for _, t := range a.Tools {
		if t.Function != nil && t.Function.Name == name {
			return t.Function
		}
	}
	return nil
}

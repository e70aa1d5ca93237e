// Package tools implements the Tool Executor collaborator: a registry
// of callable tools, each tagged with a permission level, that the Turn
// Executor's Tool Loop invokes on a model's behalf.
package tools

import (
	"context"

	"orchestra/internal/types"
)

// ExecuteFunc is the signature every tool implements. It returns the
// tool's textual result; an error marks the result as a failure for the
// calling model to see (not a Go-level panic condition).
type ExecuteFunc func(ctx context.Context, args map[string]any) (string, error)

// Tool is one registered capability.
type Tool struct {
	// Name is the unique identifier used in LLM tool-calling and in
	// ToolInvocation.Name.
	Name string

	// Description is surfaced to models as part of their tool list.
	Description string

	// Schema is a JSON-Schema-shaped parameter description, validated
	// loosely against Required before Execute runs.
	Schema map[string]any

	// Required lists argument names that must be present.
	Required []string

	// PermissionLevel gates whether the Permission Manager must consult
	// the UI collaborator before this tool runs.
	PermissionLevel types.PermissionLevel

	// Execute runs the tool.
	Execute ExecuteFunc
}

// Validate checks that the tool definition is well-formed enough to
// register.
func (t *Tool) Validate() error {
	if t.Name == "" {
		return ErrToolNameEmpty
	}
	if t.Execute == nil {
		return ErrToolExecuteNil
	}
	return nil
}

// Descriptor converts the tool's registration-time metadata into the
// types.ToolDescriptor shape consumed by the Turn Executor and by
// LLMClient implementations building a provider-specific tool list.
func (t *Tool) Descriptor() types.ToolDescriptor {
	return types.ToolDescriptor{
		Name:            t.Name,
		Description:     t.Description,
		Schema:          t.Schema,
		PermissionLevel: t.PermissionLevel,
	}
}

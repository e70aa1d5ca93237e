package tools

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"orchestra/internal/logging"
	"orchestra/internal/types"
)

// Registry holds all available tools and implements types.ToolExecutor.
// It is thread-safe and supports registration at runtime (cmd/orchestra
// builds one instance and adds the builtin tools to it by calling
// builtin.RegisterFileTools, RegisterShellTools and RegisterGitTools).
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*Tool
}

// NewRegistry creates a new empty tool registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*Tool)}
}

// Register adds a tool to the registry. Returns an error if a tool with
// the same name already exists.
func (r *Registry) Register(tool *Tool) error {
	if err := tool.Validate(); err != nil {
		return fmt.Errorf("invalid tool: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[tool.Name]; exists {
		return fmt.Errorf("%w: %s", ErrToolAlreadyRegistered, tool.Name)
	}
	r.tools[tool.Name] = tool

	logging.ToolsDebug("registered tool %s (permission=%s)", tool.Name, tool.PermissionLevel)
	return nil
}

// MustRegister registers a tool and panics on error. Use for static
// tool registration at wiring time.
func (r *Registry) MustRegister(tool *Tool) {
	if err := r.Register(tool); err != nil {
		panic(fmt.Sprintf("failed to register tool %s: %v", tool.Name, err))
	}
}

// Get returns a tool by name, or nil if not found.
func (r *Registry) Get(name string) *Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools[name]
}

// List implements types.ToolExecutor: every registered tool's
// descriptor, in a stable name-sorted order.
func (r *Registry) List() []types.ToolDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]types.ToolDescriptor, 0, len(names))
	for _, name := range names {
		out = append(out, r.tools[name].Descriptor())
	}
	return out
}

// Execute implements types.ToolExecutor. Unknown tools and missing
// required arguments are not Go errors the caller must specially
// handle — they come back as a synthesized, marked-error ToolResult so
// the Tool Loop can feed the failure back to the model as a normal tool
// result. The deadline governs only the tool's own Execute call; the
// parent ctx's cancellation is still honored.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any, deadline time.Duration) (*types.ToolResult, error) {
	start := time.Now()

	tool := r.Get(name)
	if tool == nil {
		err := fmt.Errorf("%w: %s", ErrToolNotFound, name)
		return errorResult(err, start), err
	}

	if err := validateArgs(tool, args); err != nil {
		return errorResult(err, start), err
	}

	callCtx := ctx
	var cancel context.CancelFunc
	if deadline > 0 {
		callCtx, cancel = context.WithTimeout(ctx, deadline)
		defer cancel()
	}

	logging.ToolsDebug("executing tool %s", name)
	content, err := tool.Execute(callCtx, args)
	duration := time.Since(start)

	if err != nil {
		if callCtx.Err() != nil {
			logging.Tools("tool %s exceeded its %v deadline", name, deadline)
		}
		return &types.ToolResult{Content: err.Error(), IsError: true, DurationMs: duration.Milliseconds()}, err
	}

	logging.ToolsDebug("tool %s completed in %v", name, duration)
	return &types.ToolResult{Content: content, IsError: false, DurationMs: duration.Milliseconds()}, nil
}

func errorResult(err error, start time.Time) *types.ToolResult {
	return &types.ToolResult{
		Content:    err.Error(),
		IsError:    true,
		DurationMs: time.Since(start).Milliseconds(),
	}
}

func validateArgs(tool *Tool, args map[string]any) error {
	for _, required := range tool.Required {
		if _, ok := args[required]; !ok {
			return fmt.Errorf("%w: %s", ErrMissingRequiredArg, required)
		}
	}

	props, _ := tool.Schema["properties"].(map[string]any)
	for name, value := range args {
		propSchema, ok := props[name].(map[string]any)
		if !ok {
			continue
		}
		if err := validateOneArg(name, value, propSchema); err != nil {
			return err
		}
	}
	return nil
}

// validateOneArg checks one argument against its declared JSON-Schema
// property: the value's type, and for integer/number types, the
// declared minimum/maximum. It does not coerce — a value of the wrong
// type is rejected rather than converted.
func validateOneArg(name string, value any, schema map[string]any) error {
	declType, _ := schema["type"].(string)
	switch declType {
	case "string":
		if _, ok := value.(string); !ok {
			return fmt.Errorf("%w: %s must be a string", ErrInvalidArgType, name)
		}
	case "boolean":
		if _, ok := value.(bool); !ok {
			return fmt.Errorf("%w: %s must be a boolean", ErrInvalidArgType, name)
		}
	case "integer", "number":
		num, ok := value.(float64)
		if !ok {
			return fmt.Errorf("%w: %s must be a number", ErrInvalidArgType, name)
		}
		if declType == "integer" && num != math.Trunc(num) {
			return fmt.Errorf("%w: %s must be an integer", ErrInvalidArgType, name)
		}
		if min, ok := schema["minimum"].(float64); ok && num < min {
			return fmt.Errorf("%w: %s is below the minimum of %v", ErrArgOutOfBounds, name, min)
		}
		if max, ok := schema["maximum"].(float64); ok && num > max {
			return fmt.Errorf("%w: %s exceeds the maximum of %v", ErrArgOutOfBounds, name, max)
		}
	case "array":
		if _, ok := value.([]any); !ok {
			return fmt.Errorf("%w: %s must be an array", ErrInvalidArgType, name)
		}
	case "object":
		if _, ok := value.(map[string]any); !ok {
			return fmt.Errorf("%w: %s must be an object", ErrInvalidArgType, name)
		}
	}
	return nil
}

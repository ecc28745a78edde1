package tools

import (
	"context"
	"encoding/json"
	"slices"
	"sync"

	"chorus/internal/provider"
)

// Registry holds the external tool implementations by tag.
// It is safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	tools map[Tag]Tool
}

// NewRegistry creates a new empty tool registry.
func NewRegistry() *Registry {
	return &Registry{
		tools: make(map[Tag]Tool),
	}
}

// Register adds a tool. Its name must be a known tag.
func (r *Registry) Register(tool Tool) error {
	if tool == nil {
		return NewInvalidArgsError("registry", "tool cannot be nil", nil)
	}
	tag, ok := Parse(tool.Name())
	if !ok {
		return NewInvalidArgsError("registry", "unknown tool tag", nil)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[tag]; exists {
		return NewToolAlreadyExistsError(string(tag))
	}
	r.tools[tag] = tool
	return nil
}

// MustRegister adds a tool and panics on error. It is meant for wiring at
// startup.
func (r *Registry) MustRegister(tool Tool) {
	if err := r.Register(tool); err != nil {
		panic(err)
	}
}

// Get retrieves the tool of a tag.
func (r *Registry) Get(tag Tag) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tool, ok := r.tools[tag]
	return tool, ok
}

// Has reports whether tag has an implementation.
func (r *Registry) Has(tag Tag) bool {
	_, ok := r.Get(tag)
	return ok
}

// Tags returns the registered tags in declaration order.
func (r *Registry) Tags() []Tag {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Tag, 0, len(r.tools))
	for _, tag := range allTags {
		if _, ok := r.tools[tag]; ok {
			out = append(out, tag)
		}
	}
	return out
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// Execute runs the tool of a tag.
func (r *Registry) Execute(ctx context.Context, tag Tag, args map[string]any) (ToolResult, error) {
	tool, ok := r.Get(tag)
	if !ok {
		return ToolResult{}, NewToolNotFoundError(string(tag))
	}
	return tool.Execute(ctx, args)
}

// ToProviderTools converts the registered tools to backend function
// definitions in declaration order.
func (r *Registry) ToProviderTools() ([]provider.Tool, error) {
	tags := r.Tags()
	result := make([]provider.Tool, 0, len(tags))
	for _, tag := range tags {
		tool, _ := r.Get(tag)
		raw, err := json.Marshal(tool.Parameters())
		if err != nil {
			return nil, NewInvalidArgsError(tool.Name(), "failed to marshal parameters", err)
		}
		result = append(result, provider.Tool{
			Type: "function",
			Function: provider.ToolFunction{
				Name:        tool.Name(),
				Description: tool.Description(),
				Parameters:  raw,
			},
		})
	}
	return result, nil
}

// Offered merges the registered tags with builtin ones and returns them in
// declaration order.
func (r *Registry) Offered(builtin ...Tag) []Tag {
	have := r.Tags()
	out := make([]Tag, 0, len(have)+len(builtin))
	for _, tag := range allTags {
		if slices.Contains(have, tag) || slices.Contains(builtin, tag) {
			out = append(out, tag)
		}
	}
	return out
}

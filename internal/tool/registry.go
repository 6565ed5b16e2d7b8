package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	einotool "github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"

	"github.com/rokytory/winx-code-agent/internal/dispatch"
	"github.com/rokytory/winx-code-agent/internal/logging"
)

// Registry manages tool registration and lookup.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry creates a new tool registry.
func NewRegistry() *Registry {
	return &Registry{
		tools: make(map[string]Tool),
	}
}

// Register adds a tool to the registry.
func (r *Registry) Register(tool Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	logging.Debug().Str("tool", tool.ID()).Msg("Registering tool")
	r.tools[tool.ID()] = tool
}

// Get retrieves a tool by ID.
func (r *Registry) Get(id string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[id]
	return tool, ok
}

// List returns all registered tools sorted by ID.
func (r *Registry) List() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tools := make([]Tool, 0, len(r.tools))
	for _, tool := range r.tools {
		tools = append(tools, tool)
	}
	sort.Slice(tools, func(i, j int) bool { return tools[i].ID() < tools[j].ID() })
	return tools
}

// IDs returns all tool IDs, sorted.
func (r *Registry) IDs() []string {
	tools := r.List()
	ids := make([]string, len(tools))
	for i, t := range tools {
		ids[i] = t.ID()
	}
	return ids
}

// Run executes a tool by ID. Unknown tools and undecodable input are
// reported as error results like any other failure.
func (r *Registry) Run(ctx context.Context, id string, input json.RawMessage) *Result {
	t, ok := r.Get(id)
	if !ok {
		return &Result{
			Title:   id,
			Output:  fmt.Sprintf("unknown tool %q", id),
			IsError: true,
			Kind:    dispatch.KindInvalidInput,
		}
	}
	if len(input) == 0 {
		input = json.RawMessage(`{}`)
	}

	start := time.Now()
	result, err := t.Execute(ctx, input)
	if err != nil {
		result = ErrorResult(id, err)
	}

	ev := logging.Debug()
	if result.IsError {
		ev = logging.Info().Str("kind", result.Kind)
	}
	ev.Str("tool", id).Dur("took", time.Since(start)).Bool("error", result.IsError).Msg("Tool executed")
	return result
}

// EinoTools returns Eino-compatible tools.
func (r *Registry) EinoTools() []einotool.BaseTool {
	list := r.List()
	tools := make([]einotool.BaseTool, 0, len(list))
	for _, t := range list {
		tools = append(tools, t.EinoTool())
	}
	return tools
}

// ToolInfos returns Eino tool infos for all tools.
func (r *Registry) ToolInfos() ([]*schema.ToolInfo, error) {
	list := r.List()
	infos := make([]*schema.ToolInfo, 0, len(list))
	for _, t := range list {
		infos = append(infos, toolInfo(t))
	}
	return infos, nil
}

// DefaultRegistry creates a registry with one tool per dispatcher
// operation.
func DefaultRegistry(d *dispatch.Dispatcher) *Registry {
	r := NewRegistry()
	r.Register(NewInitializeTool(d))
	r.Register(NewRunCommandTool(d))
	r.Register(NewReadFilesTool(d))
	r.Register(NewWriteIfEmptyTool(d))
	r.Register(NewEditFileTool(d))
	r.Register(NewReadImageTool(d))
	r.Register(NewSaveContextTool(d))
	return r
}

// Package tool exposes the dispatcher operations as named tools with JSON
// Schema parameters, for the MCP and HTTP transports and for Eino agents.
package tool

import (
	"context"
	"encoding/json"
	"fmt"

	einotool "github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"

	"github.com/rokytory/winx-code-agent/internal/dispatch"
)

// Tool defines the interface for all tools.
type Tool interface {
	// ID returns the tool identifier.
	ID() string

	// Description returns the tool description.
	Description() string

	// Parameters returns the JSON Schema for tool parameters.
	Parameters() json.RawMessage

	// Execute runs the tool. Failures of the operation are reported as a
	// Result with IsError set.
	Execute(ctx context.Context, input json.RawMessage) (*Result, error)

	// EinoTool returns an Eino-compatible tool implementation.
	EinoTool() einotool.InvokableTool
}

// Result represents the output of a tool execution.
type Result struct {
	Title       string         `json:"title"`
	Output      string         `json:"output"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	Attachments []Attachment   `json:"attachments,omitempty"`
	IsError     bool           `json:"isError,omitempty"`
	// Kind classifies a failure, e.g. "permission_denied".
	Kind string `json:"kind,omitempty"`
}

// Attachment represents a file attachment.
type Attachment struct {
	Filename  string `json:"filename"`
	MediaType string `json:"mediaType"`
	URL       string `json:"url"` // data: URL
	// Data is the base64 encoded content.
	Data string `json:"-"`
}

// Text is the output as shown to a client; failures carry their kind.
func (r *Result) Text() string {
	if r.IsError {
		return fmt.Sprintf("Error (%s): %s", r.Kind, r.Output)
	}
	return r.Output
}

// ErrorResult converts an operation error into a result.
func ErrorResult(title string, err error) *Result {
	return &Result{
		Title:   title,
		Output:  err.Error(),
		IsError: true,
		Kind:    dispatch.ErrorKind(err),
	}
}

// BaseTool provides a base implementation for tools.
type BaseTool struct {
	id          string
	description string
	parameters  json.RawMessage
	execute     func(ctx context.Context, input json.RawMessage) (*Result, error)
}

// NewBaseTool creates a new base tool.
func NewBaseTool(id, description string, params json.RawMessage, execute func(context.Context, json.RawMessage) (*Result, error)) *BaseTool {
	return &BaseTool{
		id:          id,
		description: description,
		parameters:  params,
		execute:     execute,
	}
}

func (t *BaseTool) ID() string                  { return t.id }
func (t *BaseTool) Description() string         { return t.description }
func (t *BaseTool) Parameters() json.RawMessage { return t.parameters }

func (t *BaseTool) Execute(ctx context.Context, input json.RawMessage) (*Result, error) {
	return t.execute(ctx, input)
}

// EinoTool returns an Eino-compatible tool implementation.
func (t *BaseTool) EinoTool() einotool.InvokableTool {
	return &einoToolWrapper{tool: t}
}

// einoToolWrapper wraps a Tool to implement Eino's InvokableTool interface.
type einoToolWrapper struct {
	tool Tool
}

// Info returns the tool information.
func (w *einoToolWrapper) Info(ctx context.Context) (*schema.ToolInfo, error) {
	return toolInfo(w.tool), nil
}

// InvokableRun executes the tool. Operation failures are returned as text
// so the model can read and react to them.
func (w *einoToolWrapper) InvokableRun(ctx context.Context, argsJSON string, opts ...einotool.Option) (string, error) {
	result, err := w.tool.Execute(ctx, json.RawMessage(argsJSON))
	if err != nil {
		return "", err
	}
	return result.Text(), nil
}

func toolInfo(t Tool) *schema.ToolInfo {
	return &schema.ToolInfo{
		Name:        t.ID(),
		Desc:        t.Description(),
		ParamsOneOf: schema.NewParamsOneOfByParams(parseJSONSchemaToParams(t.Parameters())),
	}
}

type jsonSchemaProp struct {
	Type        string                    `json:"type"`
	Description string                    `json:"description"`
	Enum        []string                  `json:"enum"`
	Items       *jsonSchemaProp           `json:"items"`
	Properties  map[string]jsonSchemaProp `json:"properties"`
	Required    []string                  `json:"required"`
}

// parseJSONSchemaToParams converts JSON Schema to Eino ParameterInfo.
func parseJSONSchemaToParams(schemaJSON json.RawMessage) map[string]*schema.ParameterInfo {
	var root jsonSchemaProp
	if err := json.Unmarshal(schemaJSON, &root); err != nil {
		return nil
	}
	return convertProperties(root)
}

func convertProperties(obj jsonSchemaProp) map[string]*schema.ParameterInfo {
	requiredSet := make(map[string]bool)
	for _, r := range obj.Required {
		requiredSet[r] = true
	}

	params := make(map[string]*schema.ParameterInfo, len(obj.Properties))
	for name, prop := range obj.Properties {
		info := convertProperty(prop)
		info.Required = requiredSet[name]
		params[name] = info
	}
	return params
}

func convertProperty(prop jsonSchemaProp) *schema.ParameterInfo {
	paramType := schema.String
	switch prop.Type {
	case "integer":
		paramType = schema.Integer
	case "number":
		paramType = schema.Number
	case "boolean":
		paramType = schema.Boolean
	case "array":
		paramType = schema.Array
	case "object":
		paramType = schema.Object
	}

	info := &schema.ParameterInfo{
		Type: paramType,
		Desc: prop.Description,
		Enum: prop.Enum,
	}
	if prop.Items != nil {
		info.ElemInfo = convertProperty(*prop.Items)
	}
	if len(prop.Properties) > 0 {
		info.SubParams = convertProperties(prop)
	}
	return info
}

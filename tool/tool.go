// Package tool implements the function / tool calling subsystem that lets
// research agents invoke structured capabilities (retrieval APIs, computations,
// MCP backed services) with schema validated arguments, consistent error
// handling and bounded execution telemetry.
package tool

import (
	"context"
	"fmt"

	"github.com/Clinical-Copilot/Medical-Deep-Research/logging"
)

// Tool defines the interface for extending agent capabilities with external functions.
//
// Tools are handed to agents to enable function calling, allowing agents to
// perform actions beyond text generation such as literature search, web
// crawling, database queries, or any other programmatic operation.
//
// Tool implementations should:
//   - Provide clear, descriptive names and descriptions
//   - Define proper JSON schema for parameters
//   - Handle errors gracefully
//   - Be thread-safe if used concurrently
type Tool interface {
	// Name returns the unique identifier for this tool.
	// Names should be descriptive and follow function naming conventions (snake_case recommended).
	Name() string

	// Description returns a human-readable description of what this tool does.
	// This description is provided to the LLM to help it understand when and how to use the tool.
	Description() string

	// Parameters returns a JSON schema describing the expected input format.
	// This schema is used for parameter validation and LLM function calling.
	Parameters() map[string]interface{}

	// Call executes the tool with structured arguments and a call scoped Context.
	// Arguments are parsed from JSON and validated against the tool's schema.
	Call(toolCtx *Context, args map[string]interface{}) (interface{}, error)
}

// Context carries per invocation data into a tool call: the cancellation
// context, the model issued call identifier and a logger.
type Context struct {
	ctx    context.Context
	callID string
	logger logging.Logger
}

// NewContext constructs a tool call Context. A nil logger defaults to NoOp.
func NewContext(ctx context.Context, callID string, logger logging.Logger) *Context {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	return &Context{ctx: ctx, callID: callID, logger: logger}
}

// Context returns the underlying cancellation context.
func (tc *Context) Context() context.Context { return tc.ctx }

// CallID returns the model issued function call identifier, correlating the
// model request with the tool execution.
func (tc *Context) CallID() string { return tc.callID }

// Logger returns the logger scoped to this invocation.
func (tc *Context) Logger() logging.Logger { return tc.logger }

// ToolError represents errors that occur during tool execution.
type ToolError struct {
	Tool    string      `json:"tool"`              // Name of the tool that failed
	Message string      `json:"message"`           // Error message
	Code    string      `json:"code"`              // Error code for categorization
	Details interface{} `json:"details,omitempty"` // Additional error details
}

func (e *ToolError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("tool error [%s] in %s: %s", e.Code, e.Tool, e.Message)
	}
	return fmt.Sprintf("tool error in %s: %s", e.Tool, e.Message)
}

// NewToolError creates a new ToolError with the specified details.
func NewToolError(tool, message, code string) *ToolError {
	return &ToolError{
		Tool:    tool,
		Message: message,
		Code:    code,
	}
}

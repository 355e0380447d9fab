// Package agent implements the research delegates that execute individual
// plan steps. A delegate receives the accumulated step context as messages,
// runs a bounded model + tool loop and returns the final text result.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/Clinical-Copilot/Medical-Deep-Research/logging"
	"github.com/Clinical-Copilot/Medical-Deep-Research/model"
	"github.com/Clinical-Copilot/Medical-Deep-Research/tool"
)

// RecursionLimitEnv names the environment variable that overrides the default
// tool loop limit when no explicit limit is configured.
const RecursionLimitEnv = "AGENT_RECURSION_LIMIT"

// DefaultMaxToolCalls bounds the tool loop when neither an explicit limit nor
// a valid environment override is present.
const DefaultMaxToolCalls = 20

// ErrToolBudget is returned when the delegate exhausts its tool loop budget
// before the model produces a final answer.
var ErrToolBudget = errors.New("agent: tool call budget exhausted")

// Result is the outcome of one delegate invocation. Messages holds the full
// exchange (model turns and tool results); Content is the final answer text.
type Result struct {
	Messages []model.Message
	Content  string
}

// Delegate executes one unit of work for the research team.
type Delegate interface {
	// Invoke runs the delegate on the given input messages.
	Invoke(ctx context.Context, input []model.Message) (*Result, error)

	// Role returns the delegate role name (researcher, coder).
	Role() string
}

// Options configure a ReActAgent.
type Options struct {
	// MaxToolCalls bounds the reason/act loop. Non-positive values fall back
	// to the AGENT_RECURSION_LIMIT environment variable, then to
	// DefaultMaxToolCalls.
	MaxToolCalls int

	// Instructions is the system prompt for the delegate's model calls.
	Instructions string

	// Telemetry, when set, receives tool_start / tool_complete events around
	// every tool execution.
	Telemetry *tool.Telemetry

	Logger logging.Logger
}

// ReActAgent is a Delegate that alternates model calls with tool executions
// until the model answers without requesting tools or the loop budget is
// exhausted.
type ReActAgent struct {
	role         string
	model        model.Model
	tools        []tool.Tool
	toolsByName  map[string]tool.Tool
	maxToolCalls int
	instructions string
	telemetry    *tool.Telemetry
	logger       logging.Logger
}

// New creates a ReActAgent for a role with its model and tool set.
func New(role string, m model.Model, tools []tool.Tool, optFns ...func(o *Options)) *ReActAgent {
	opts := Options{
		Logger: logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	byName := make(map[string]tool.Tool, len(tools))
	for _, t := range tools {
		byName[t.Name()] = t
	}

	return &ReActAgent{
		role:         role,
		model:        m,
		tools:        tools,
		toolsByName:  byName,
		maxToolCalls: resolveLimit(opts.MaxToolCalls, opts.Logger),
		instructions: opts.Instructions,
		telemetry:    opts.Telemetry,
		logger:       opts.Logger,
	}
}

// resolveLimit picks the effective tool loop limit: an explicit positive
// value wins, then a valid positive AGENT_RECURSION_LIMIT, then the default.
func resolveLimit(explicit int, logger logging.Logger) int {
	if explicit > 0 {
		return explicit
	}
	raw := os.Getenv(RecursionLimitEnv)
	if raw == "" {
		return DefaultMaxToolCalls
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		logger.Warn("agent.recursion_limit.invalid", "value", raw, "default", DefaultMaxToolCalls)
		return DefaultMaxToolCalls
	}
	return n
}

// Role returns the delegate role name.
func (a *ReActAgent) Role() string { return a.role }

// MaxToolCalls returns the resolved tool loop limit.
func (a *ReActAgent) MaxToolCalls() int { return a.maxToolCalls }

// Invoke runs the bounded reason/act loop. Each iteration performs one model
// call; requested tool calls are executed in order and their results appended
// to the transcript before the next iteration. A model response without tool
// calls terminates the loop with the final answer.
func (a *ReActAgent) Invoke(ctx context.Context, input []model.Message) (*Result, error) {
	messages := make([]model.Message, len(input))
	copy(messages, input)

	defs := a.toolDefinitions()

	for i := 0; i < a.maxToolCalls; i++ {
		start := time.Now()
		resp, err := model.Call(ctx, a.model, model.Request{
			Instructions: a.instructions,
			Messages:     messages,
			Tools:        defs,
		})
		if err != nil {
			return nil, fmt.Errorf("%s model call: %w", a.role, err)
		}
		a.logger.Debug("agent.model_call", "role", a.role, "duration_ms", time.Since(start).Milliseconds(), "tool_calls", len(resp.ToolCalls))

		if len(resp.ToolCalls) == 0 {
			messages = append(messages, model.Message{Role: "assistant", Content: resp.Content, Name: a.role})
			return &Result{Messages: messages, Content: resp.Content}, nil
		}

		if resp.Content != "" {
			messages = append(messages, model.Message{Role: "assistant", Content: resp.Content, Name: a.role})
		}

		for _, call := range resp.ToolCalls {
			observation := a.executeToolCall(ctx, call)
			messages = append(messages, model.Message{
				Role:    "tool",
				Content: fmt.Sprintf("Observation from %s: %s", call.Name, observation),
				Name:    call.Name,
			})
		}
	}

	return nil, fmt.Errorf("%s after %d tool calls: %w", a.role, a.maxToolCalls, ErrToolBudget)
}

// executeToolCall resolves and runs one tool call, emitting telemetry around
// the execution. Failures become observation text rather than loop errors so
// the model can recover or try another tool.
func (a *ReActAgent) executeToolCall(ctx context.Context, call model.ToolCall) string {
	var args map[string]any
	if len(call.Arguments) > 0 {
		if err := json.Unmarshal(call.Arguments, &args); err != nil {
			a.logger.Warn("agent.tool_args.invalid", "role", a.role, "tool", call.Name, "error", err.Error())
			return fmt.Sprintf("invalid tool arguments: %v", err)
		}
	}

	t, ok := a.toolsByName[call.Name]
	if !ok {
		a.logger.Warn("agent.tool.unknown", "role", a.role, "tool", call.Name)
		return fmt.Sprintf("unknown tool %q", call.Name)
	}

	if a.telemetry != nil {
		a.telemetry.EmitStart(call.Name, call.ID, args)
	}

	tc := tool.NewContext(ctx, call.ID, a.logger)
	result, err := t.Call(tc, args)

	if a.telemetry != nil {
		a.telemetry.EmitComplete(call.Name, call.ID, args, result, err)
	}

	if err != nil {
		return fmt.Sprintf("tool failed: %v", err)
	}
	return fmt.Sprintf("%v", result)
}

func (a *ReActAgent) toolDefinitions() []model.ToolDefinition {
	if len(a.tools) == 0 {
		return nil
	}
	defs := make([]model.ToolDefinition, len(a.tools))
	for i, t := range a.tools {
		defs[i] = model.ToolDefinition{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Parameters(),
		}
	}
	return defs
}

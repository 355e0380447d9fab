// Package workflow contains the streaming driver that runs the research
// graph for one query and converts state snapshots into an ordered,
// deduplicated event feed.
package workflow

import (
	"github.com/Clinical-Copilot/Medical-Deep-Research/model"
	"github.com/Clinical-Copilot/Medical-Deep-Research/plan"
)

// EventType discriminates driver event variants.
type EventType string

// Event types emitted by the driver.
const (
	// EventMessage carries one newly appended transcript message.
	EventMessage EventType = "message"
	// EventPlan carries the validated plan, emitted at most once per run.
	EventPlan EventType = "plan"
	// EventExecutionRes carries one completed step result, once per step.
	EventExecutionRes EventType = "execution_res"
	// EventToolStart / EventToolComplete forward tool telemetry.
	EventToolStart    EventType = "tool_start"
	EventToolComplete EventType = "tool_complete"
	// EventFinalReport carries the final report text.
	EventFinalReport EventType = "final_report"
	// EventError carries a step failure or a fatal run error.
	EventError EventType = "error"
)

// ToolActivity describes one tool execution for tool_start / tool_complete
// events.
type ToolActivity struct {
	Tool   string         `json:"tool"`
	CallID string         `json:"call_id,omitempty"`
	Params map[string]any `json:"params,omitempty"`
	Result any            `json:"result,omitempty"`
	Err    string         `json:"error,omitempty"`
}

// Event is the discriminated union streamed to the caller. Exactly the
// fields relevant to Type are populated.
type Event struct {
	Type EventType `json:"type"`

	// Message is set for EventMessage.
	Message *model.Message `json:"message,omitempty"`

	// Plan is set for EventPlan.
	Plan *plan.Plan `json:"plan,omitempty"`

	// StepTitle is set for EventExecutionRes and step-failure EventError.
	StepTitle string `json:"step_title,omitempty"`

	// Content carries the step result, final report or error text.
	Content string `json:"content,omitempty"`

	// Tool is set for EventToolStart / EventToolComplete.
	Tool *ToolActivity `json:"tool,omitempty"`
}

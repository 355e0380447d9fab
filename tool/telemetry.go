package tool

import (
	"sync"
	"time"
)

// TelemetryKind discriminates telemetry event variants.
type TelemetryKind string

const (
	// TelemetryToolStart is emitted just before a tool executes.
	TelemetryToolStart TelemetryKind = "tool_start"
	// TelemetryToolComplete is emitted after a tool execution finishes.
	TelemetryToolComplete TelemetryKind = "tool_complete"
)

// TelemetryEvent records the start or completion of a single tool execution.
// Completion events carry the (truncatable) result or the error string.
type TelemetryEvent struct {
	Kind   TelemetryKind  `json:"kind"`
	Tool   string         `json:"tool"`
	CallID string         `json:"call_id,omitempty"`
	Params map[string]any `json:"params,omitempty"`
	Result any            `json:"result,omitempty"`
	Err    string         `json:"error,omitempty"`
	At     time.Time      `json:"at"`
}

// Telemetry is a bounded, thread safe queue of tool execution events. Agents
// push events around every tool call; the workflow driver drains the queue
// between state snapshots and forwards the events to its consumer. When the
// queue is full new events are dropped rather than blocking the agent.
type Telemetry struct {
	mu     sync.Mutex
	events []TelemetryEvent
	limit  int
}

// NewTelemetry creates a queue holding at most size events (minimum 1).
func NewTelemetry(size int) *Telemetry {
	if size < 1 {
		size = 1
	}
	return &Telemetry{limit: size}
}

// EmitStart records that a tool is about to run. Non-blocking.
func (t *Telemetry) EmitStart(tool, callID string, params map[string]any) {
	t.push(TelemetryEvent{
		Kind:   TelemetryToolStart,
		Tool:   tool,
		CallID: callID,
		Params: params,
		At:     time.Now(),
	})
}

// EmitComplete records a finished tool execution with its result or error. Non-blocking.
func (t *Telemetry) EmitComplete(tool, callID string, params map[string]any, result any, err error) {
	ev := TelemetryEvent{
		Kind:   TelemetryToolComplete,
		Tool:   tool,
		CallID: callID,
		Params: params,
		Result: result,
		At:     time.Now(),
	}
	if err != nil {
		ev.Err = err.Error()
	}
	t.push(ev)
}

func (t *Telemetry) push(ev TelemetryEvent) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.events) >= t.limit {
		return // full, drop
	}
	t.events = append(t.events, ev)
}

// Drain removes and returns all queued events in emission order.
func (t *Telemetry) Drain() []TelemetryEvent {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.events) == 0 {
		return nil
	}
	out := t.events
	t.events = nil
	return out
}

// Len reports the current queue depth.
func (t *Telemetry) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.events)
}

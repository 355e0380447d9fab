// Package plan defines the research plan data model produced by the planner
// and executed step by step by the research team. It includes lenient parsing
// of model emitted JSON (repair pass + strict validation) and the Candidate
// variant that tracks whether the current plan is still raw text or has been
// validated into a structured Plan.
package plan

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

// StepType categorizes a plan step by the capability it requires.
type StepType string

const (
	// StepTypeResearch marks steps handled by the researcher (retrieval, search).
	StepTypeResearch StepType = "research"
	// StepTypeProcessing marks steps handled by the coder (computation, analysis).
	StepTypeProcessing StepType = "processing"
)

// ExecutionFailedTag prefixes the execution result of a step whose delegate
// failed. It keeps the write-once result invariant while ensuring the router
// never re-selects the step.
const ExecutionFailedTag = "[EXECUTION_FAILED]"

// Step is a single unit of work within a plan. ExecutionRes is empty until
// the step has been executed and is written exactly once.
type Step struct {
	Title        string   `json:"title"`
	Description  string   `json:"description"`
	StepType     StepType `json:"step_type"`
	ExecutionRes string   `json:"execution_res,omitempty"`
}

// Executed reports whether the step has an execution result recorded.
func (s *Step) Executed() bool { return s.ExecutionRes != "" }

// Failed reports whether the step's execution result carries the failure tag.
func (s *Step) Failed() bool { return strings.HasPrefix(s.ExecutionRes, ExecutionFailedTag) }

// Plan is the structured output of the planner node.
type Plan struct {
	HasEnoughContext bool    `json:"has_enough_context"`
	Thought          string  `json:"thought"`
	Title            string  `json:"title"`
	Steps            []*Step `json:"steps"`
}

// FirstPending returns the first step without an execution result, or nil if
// every step has been executed.
func (p *Plan) FirstPending() *Step {
	for _, s := range p.Steps {
		if !s.Executed() {
			return s
		}
	}
	return nil
}

// Completed returns the steps that already carry an execution result,
// preserving plan order.
func (p *Plan) Completed() []*Step {
	var done []*Step
	for _, s := range p.Steps {
		if s.Executed() {
			done = append(done, s)
		}
	}
	return done
}

// AllExecuted reports whether every step has an execution result.
func (p *Plan) AllExecuted() bool {
	return p.FirstPending() == nil
}

// Clone returns a deep copy. Node functions clone before writing execution
// results so emitted state snapshots stay isolated.
func (p *Plan) Clone() *Plan {
	if p == nil {
		return nil
	}
	np := &Plan{
		HasEnoughContext: p.HasEnoughContext,
		Thought:          p.Thought,
		Title:            p.Title,
	}
	if p.Steps != nil {
		np.Steps = make([]*Step, len(p.Steps))
		for i, s := range p.Steps {
			cp := *s
			np.Steps[i] = &cp
		}
	}
	return np
}

// JSON renders the plan as compact JSON. Marshaling a Plan cannot fail.
func (p *Plan) JSON() string {
	b, _ := json.Marshal(p)
	return string(b)
}

// ValidationError describes why a raw plan document failed structural validation.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("plan validation failed for '%s': %s", e.Field, e.Message)
}

// Repair attempts to fix malformed JSON emitted by a model (unquoted keys,
// trailing commas, fenced code blocks) and returns the repaired document.
func Repair(raw string) (string, error) {
	cleaned := stripFences(raw)
	repaired, err := jsonrepair.JSONRepair(cleaned)
	if err != nil {
		return "", fmt.Errorf("json repair: %w", err)
	}
	return repaired, nil
}

// stripFences removes a surrounding markdown code fence if present.
func stripFences(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// planDoc is the permissive decode target for Parse. Pointer fields
// distinguish absent keys from zero values.
type planDoc struct {
	HasEnoughContext *bool      `json:"has_enough_context"`
	Thought          *string    `json:"thought"`
	Title            *string    `json:"title"`
	Steps            []*stepDoc `json:"steps"`
}

type stepDoc struct {
	Title        *string `json:"title"`
	Description  *string `json:"description"`
	StepType     *string `json:"step_type"`
	ExecutionRes *string `json:"execution_res"`
}

// Parse repairs and strictly validates a raw planner output into a Plan.
// Documents wrapped in a "planner_output" envelope are unwrapped first.
// Missing required fields or unknown step types are validation errors.
func Parse(raw string) (*Plan, error) {
	repaired, err := Repair(raw)
	if err != nil {
		return nil, err
	}

	body := unwrapEnvelope(repaired)

	var doc planDoc
	if err := json.Unmarshal([]byte(body), &doc); err != nil {
		return nil, fmt.Errorf("plan decode: %w", err)
	}

	if doc.HasEnoughContext == nil {
		return nil, &ValidationError{Field: "has_enough_context", Message: "missing required field"}
	}
	if doc.Title == nil || *doc.Title == "" {
		return nil, &ValidationError{Field: "title", Message: "missing required field"}
	}
	if doc.Thought == nil {
		return nil, &ValidationError{Field: "thought", Message: "missing required field"}
	}

	p := &Plan{
		HasEnoughContext: *doc.HasEnoughContext,
		Thought:          *doc.Thought,
		Title:            *doc.Title,
	}

	for i, sd := range doc.Steps {
		if sd == nil {
			return nil, &ValidationError{Field: fmt.Sprintf("steps[%d]", i), Message: "null step"}
		}
		if sd.Title == nil || *sd.Title == "" {
			return nil, &ValidationError{Field: fmt.Sprintf("steps[%d].title", i), Message: "missing required field"}
		}
		if sd.Description == nil {
			return nil, &ValidationError{Field: fmt.Sprintf("steps[%d].description", i), Message: "missing required field"}
		}
		if sd.StepType == nil {
			return nil, &ValidationError{Field: fmt.Sprintf("steps[%d].step_type", i), Message: "missing required field"}
		}
		st := StepType(*sd.StepType)
		if st != StepTypeResearch && st != StepTypeProcessing {
			return nil, &ValidationError{
				Field:   fmt.Sprintf("steps[%d].step_type", i),
				Message: fmt.Sprintf("unknown step type %q", *sd.StepType),
			}
		}
		step := &Step{
			Title:       *sd.Title,
			Description: *sd.Description,
			StepType:    st,
		}
		if sd.ExecutionRes != nil {
			step.ExecutionRes = *sd.ExecutionRes
		}
		p.Steps = append(p.Steps, step)
	}

	return p, nil
}

// Sniff performs a lenient decode of raw planner output, answering only two
// questions the planner router needs: is the document JSON at all, and does
// it claim has_enough_context. Full structural validation is deferred.
func Sniff(raw string) (hasEnough bool, err error) {
	repaired, rerr := Repair(raw)
	if rerr != nil {
		return false, rerr
	}

	body := unwrapEnvelope(repaired)

	var generic map[string]any
	if derr := json.Unmarshal([]byte(body), &generic); derr != nil {
		return false, fmt.Errorf("plan decode: %w", derr)
	}

	if v, ok := generic["has_enough_context"].(bool); ok {
		return v, nil
	}
	return false, nil
}

// unwrapEnvelope unwraps a {"planner_output": {...}} document if the wrapper
// is present, otherwise returns the input unchanged.
func unwrapEnvelope(body string) string {
	var envelope struct {
		PlannerOutput json.RawMessage `json:"planner_output"`
	}
	if err := json.Unmarshal([]byte(body), &envelope); err == nil && len(envelope.PlannerOutput) > 0 {
		trimmed := strings.TrimSpace(string(envelope.PlannerOutput))
		if strings.HasPrefix(trimmed, "{") {
			return trimmed
		}
	}
	return body
}

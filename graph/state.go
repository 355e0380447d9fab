// Package graph implements the research workflow state machine: the shared
// State threaded through every node, the partial Update each node returns,
// and the table-driven Graph that routes between nodes under a bounded step
// budget.
package graph

import (
	"github.com/Clinical-Copilot/Medical-Deep-Research/model"
	"github.com/Clinical-Copilot/Medical-Deep-Research/plan"
)

// State is the single value threaded through every node in one run. It is
// owned exclusively by the graph for the run's lifetime; nodes receive it
// read-only and return partial Updates.
type State struct {
	// Messages is the append-only transcript of coordinator, planner and
	// agent outputs, also used as conversation context for model calls.
	Messages []model.Message

	// CurrentPlan holds the plan in its raw or validated form.
	CurrentPlan plan.Candidate

	// PlanIterations counts accepted plan revisions, bounded by the
	// configured maximum.
	PlanIterations int

	// Observations accumulates one free-text finding per completed step.
	Observations []string

	// FinalReport is set exactly once by the reporter node.
	FinalReport string

	// HumanFeedback enables the interactive plan review gate. Configuration,
	// not mutated during a run.
	HumanFeedback bool
}

// Clone deep-copies the state so emitted snapshots stay isolated from
// subsequent node execution.
func (s *State) Clone() State {
	ns := State{
		PlanIterations: s.PlanIterations,
		FinalReport:    s.FinalReport,
		HumanFeedback:  s.HumanFeedback,
		CurrentPlan:    s.CurrentPlan.Clone(),
	}
	if s.Messages != nil {
		ns.Messages = make([]model.Message, len(s.Messages))
		copy(ns.Messages, s.Messages)
	}
	if s.Observations != nil {
		ns.Observations = make([]string, len(s.Observations))
		copy(ns.Observations, s.Observations)
	}
	return ns
}

// Update is the partial state delta a node returns. Message and observation
// entries are appended; pointer fields replace the current value when set.
type Update struct {
	Messages       []model.Message
	CurrentPlan    *plan.Candidate
	PlanIterations *int
	Observations   []string
	FinalReport    *string
}

// Apply merges an update into the state.
func (s *State) Apply(u Update) {
	s.Messages = append(s.Messages, u.Messages...)
	if u.CurrentPlan != nil {
		s.CurrentPlan = *u.CurrentPlan
	}
	if u.PlanIterations != nil {
		s.PlanIterations = *u.PlanIterations
	}
	s.Observations = append(s.Observations, u.Observations...)
	if u.FinalReport != nil {
		s.FinalReport = *u.FinalReport
	}
}

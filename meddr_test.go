package meddr

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Clinical-Copilot/Medical-Deep-Research/model"
	"github.com/Clinical-Copilot/Medical-Deep-Research/workflow"
)

const twoStepPlanJSON = `{
	"has_enough_context": false,
	"thought": "Gather then compute.",
	"title": "Two Step Plan",
	"steps": [
		{"title": "Gather", "description": "Collect data.", "step_type": "research"},
		{"title": "Compute", "description": "Analyze data.", "step_type": "processing"}
	]
}`

func collect(t *testing.T, events <-chan workflow.Event) []workflow.Event {
	t.Helper()
	var out []workflow.Event
	for ev := range events {
		out = append(out, ev)
	}
	return out
}

func TestNew_RequiresModel(t *testing.T) {
	_, err := New(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no model configured")
}

func TestNew_RoleOverrideWithoutDefault(t *testing.T) {
	// A single role override is not enough; the other roles still need a model.
	_, err := New(context.Background(), func(o *Options) {
		o.CoordinatorModel = model.NewMockModel("coordinator", "mock")
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "planner")
}

func TestWorkflow_DirectAnswer(t *testing.T) {
	m := model.NewMockModel("all", "mock")
	m.AddResponse("ping", "pong")

	w, err := New(context.Background(), func(o *Options) {
		o.Model = m
	})
	require.NoError(t, err)
	defer w.Close()

	events, err := w.Run(context.Background(), workflow.Request{Query: "ping"})
	require.NoError(t, err)

	all := collect(t, events)
	require.Len(t, all, 1)
	assert.Equal(t, workflow.EventMessage, all[0].Type)
	assert.Equal(t, "pong", all[0].Message.Content)

	runs, err := w.Runs()
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "ping", runs[0].Query)

	rec, err := w.GetRun(runs[0].ID)
	require.NoError(t, err)
	assert.Equal(t, "ping", rec.Query)
}

func TestWorkflow_FullResearchRun(t *testing.T) {
	coordinator := model.NewMockModel("coordinator", "mock")
	coordinator.AddToolCallResponse("research aspirin", model.ToolCall{
		ID: "fc1", Name: "handoff_to_planner", Arguments: []byte(`{"task_title": "aspirin"}`),
	})
	planner := model.NewMockModel("planner", "mock")
	planner.AddResponse("research aspirin", twoStepPlanJSON)

	w, err := New(context.Background(), func(o *Options) {
		o.Model = model.NewMockModel("all", "mock")
		o.CoordinatorModel = coordinator
		o.PlannerModel = planner
	})
	require.NoError(t, err)
	defer w.Close()

	events, err := w.Run(context.Background(), workflow.Request{Query: "research aspirin"})
	require.NoError(t, err)
	all := collect(t, events)

	var plans, results, reports int
	for _, ev := range all {
		switch ev.Type {
		case workflow.EventPlan:
			plans++
			assert.Equal(t, "Two Step Plan", ev.Plan.Title)
		case workflow.EventExecutionRes:
			results++
			assert.NotEmpty(t, ev.Content)
		case workflow.EventFinalReport:
			reports++
			assert.NotEmpty(t, ev.Content)
		case workflow.EventError:
			t.Fatalf("unexpected error event: %s", ev.Content)
		}
	}
	assert.Equal(t, 1, plans)
	assert.Equal(t, 2, results)
	assert.Equal(t, 1, reports)

	runs, err := w.Runs()
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.NotEmpty(t, runs[0].FinalReport)
	assert.Len(t, runs[0].Observations, 2)
}

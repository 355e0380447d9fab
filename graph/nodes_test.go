package graph

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Clinical-Copilot/Medical-Deep-Research/agent"
	"github.com/Clinical-Copilot/Medical-Deep-Research/logging"
	"github.com/Clinical-Copilot/Medical-Deep-Research/model"
	"github.com/Clinical-Copilot/Medical-Deep-Research/plan"
)

// recordingLogger captures warning messages for assertions.
type recordingLogger struct {
	logging.NoOpLogger
	warns []string
}

func (l *recordingLogger) Warn(msg string, _ ...any) { l.warns = append(l.warns, msg) }

const twoStepPlanJSON = `{
	"has_enough_context": false,
	"thought": "Gather then compute.",
	"title": "Two Step Plan",
	"steps": [
		{"title": "Gather", "description": "Collect data.", "step_type": "research"},
		{"title": "Compute", "description": "Analyze data.", "step_type": "processing"}
	]
}`

const enoughContextPlanJSON = `{"has_enough_context": true, "thought": "Known answer.", "title": "Direct", "steps": []}`

// stubDelegate is a canned agent.Delegate recording its inputs.
type stubDelegate struct {
	role    string
	content string
	err     error
	inputs  [][]model.Message
}

func (d *stubDelegate) Invoke(_ context.Context, input []model.Message) (*agent.Result, error) {
	d.inputs = append(d.inputs, input)
	if d.err != nil {
		return nil, d.err
	}
	return &agent.Result{Content: d.content}, nil
}

func (d *stubDelegate) Role() string { return d.role }

// scriptedFeedback returns canned verdicts in order.
type scriptedFeedback struct {
	verdicts []string
	calls    int
}

func (f *scriptedFeedback) ReviewPlan(_ context.Context, _ string) (string, error) {
	v := f.verdicts[f.calls]
	f.calls++
	return v, nil
}

func testNodes(cfg NodesConfig) *Nodes {
	if cfg.CoordinatorModel == nil {
		cfg.CoordinatorModel = model.NewMockModel("coordinator", "mock")
	}
	if cfg.PlannerModel == nil {
		cfg.PlannerModel = model.NewMockModel("planner", "mock")
	}
	if cfg.ReporterModel == nil {
		cfg.ReporterModel = model.NewMockModel("reporter", "mock")
	}
	return NewNodes(cfg)
}

func userState(query string) *State {
	return &State{Messages: []model.Message{{Role: "user", Content: query}}}
}

// -------------------- coordinator --------------------

func TestCoordinator_HandsOffToPlanner(t *testing.T) {
	m := model.NewMockModel("coordinator", "mock")
	m.AddToolCallResponse("research aspirin", model.ToolCall{
		ID: "fc1", Name: "handoff_to_planner", Arguments: []byte(`{"task_title": "aspirin"}`),
	})
	n := testNodes(NodesConfig{CoordinatorModel: m})

	cmd, err := n.Coordinator(context.Background(), userState("research aspirin"))
	require.NoError(t, err)
	assert.Equal(t, NodePlanner, cmd.Goto)
	assert.Empty(t, cmd.Update.Messages)
}

func TestCoordinator_DirectAnswerEndsRun(t *testing.T) {
	m := model.NewMockModel("coordinator", "mock")
	m.AddResponse("ping", "pong")
	lg := &recordingLogger{}
	n := testNodes(NodesConfig{CoordinatorModel: m, Logger: lg})

	cmd, err := n.Coordinator(context.Background(), userState("ping"))
	require.NoError(t, err)
	assert.Equal(t, NodeEnd, cmd.Goto)
	require.Len(t, cmd.Update.Messages, 1)
	assert.Equal(t, "coordinator", cmd.Update.Messages[0].Name)
	assert.Equal(t, "pong", cmd.Update.Messages[0].Content)
	// Answering directly is a normal outcome, not a warning condition.
	assert.Empty(t, lg.warns)
}

// -------------------- planner --------------------

func TestPlanner_ShortCircuitsAtIterationBudget(t *testing.T) {
	m := model.NewMockModel("planner", "mock")
	n := testNodes(NodesConfig{PlannerModel: m, MaxPlanIterations: 1})

	s := userState("q")
	s.PlanIterations = 1
	cmd, err := n.Planner(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, NodeReporter, cmd.Goto)
	// No model call is made when the budget is already spent.
	assert.Equal(t, 0, m.Calls())
}

func TestPlanner_EnoughContextGoesToReporter(t *testing.T) {
	m := model.NewMockModel("planner", "mock")
	m.AddResponse("q", enoughContextPlanJSON)
	n := testNodes(NodesConfig{PlannerModel: m})

	cmd, err := n.Planner(context.Background(), userState("q"))
	require.NoError(t, err)
	assert.Equal(t, NodeReporter, cmd.Goto)
	require.NotNil(t, cmd.Update.CurrentPlan)
	assert.True(t, cmd.Update.CurrentPlan.IsValidated())
	assert.True(t, cmd.Update.CurrentPlan.Plan().HasEnoughContext)
	require.Len(t, cmd.Update.Messages, 1)
	assert.Equal(t, "planner", cmd.Update.Messages[0].Name)
}

func TestPlanner_PendingPlanGoesToFeedback(t *testing.T) {
	m := model.NewMockModel("planner", "mock")
	m.AddResponse("q", twoStepPlanJSON)
	n := testNodes(NodesConfig{PlannerModel: m})

	cmd, err := n.Planner(context.Background(), userState("q"))
	require.NoError(t, err)
	assert.Equal(t, NodeHumanFeedback, cmd.Goto)
	require.NotNil(t, cmd.Update.CurrentPlan)
	// Plan stays raw until the feedback gate validates it.
	assert.False(t, cmd.Update.CurrentPlan.IsValidated())
	assert.Equal(t, twoStepPlanJSON, cmd.Update.CurrentPlan.Raw())
}

func TestPlanner_InvalidJSON(t *testing.T) {
	m := model.NewMockModel("planner", "mock")
	m.AddResponse("q", "I am unable to produce a plan.")
	n := testNodes(NodesConfig{PlannerModel: m})

	// First iteration: terminate.
	cmd, err := n.Planner(context.Background(), userState("q"))
	require.NoError(t, err)
	assert.Equal(t, NodeEnd, cmd.Goto)
	assert.Nil(t, cmd.Update.CurrentPlan)

	// After an accepted plan: degrade to the reporter.
	s := userState("q")
	s.PlanIterations = 1
	n2 := testNodes(NodesConfig{PlannerModel: m, MaxPlanIterations: 3})
	cmd, err = n2.Planner(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, NodeReporter, cmd.Goto)
}

// -------------------- human feedback --------------------

func TestHumanFeedback_AutoAccept(t *testing.T) {
	n := testNodes(NodesConfig{})

	s := userState("q")
	s.CurrentPlan = plan.FromRaw(twoStepPlanJSON)
	cmd, err := n.HumanFeedback(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, NodeResearchTeam, cmd.Goto)
	require.NotNil(t, cmd.Update.CurrentPlan)
	assert.True(t, cmd.Update.CurrentPlan.IsValidated())
	require.NotNil(t, cmd.Update.PlanIterations)
	assert.Equal(t, 1, *cmd.Update.PlanIterations)
}

func TestHumanFeedback_EnoughContextSkipsExecution(t *testing.T) {
	n := testNodes(NodesConfig{})

	s := userState("q")
	s.CurrentPlan = plan.FromRaw(enoughContextPlanJSON)
	cmd, err := n.HumanFeedback(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, NodeReporter, cmd.Goto)
}

func TestHumanFeedback_EditPlanRoutesToModifier(t *testing.T) {
	fb := &scriptedFeedback{verdicts: []string{"[EDIT_PLAN] add a safety review step"}}
	n := testNodes(NodesConfig{Feedback: fb})

	s := userState("q")
	s.HumanFeedback = true
	s.CurrentPlan = plan.FromRaw(twoStepPlanJSON)
	cmd, err := n.HumanFeedback(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, NodePlanModifier, cmd.Goto)
	require.Len(t, cmd.Update.Messages, 1)
	assert.Equal(t, "feedback", cmd.Update.Messages[0].Name)
	assert.Contains(t, cmd.Update.Messages[0].Content, "safety review")
}

func TestHumanFeedback_UnrecognizedVerdictAccepts(t *testing.T) {
	fb := &scriptedFeedback{verdicts: []string{"looks fine I guess"}}
	n := testNodes(NodesConfig{Feedback: fb})

	s := userState("q")
	s.HumanFeedback = true
	s.CurrentPlan = plan.FromRaw(twoStepPlanJSON)
	cmd, err := n.HumanFeedback(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, NodeResearchTeam, cmd.Goto)
}

func TestHumanFeedback_InvalidPlanFallback(t *testing.T) {
	n := testNodes(NodesConfig{})

	s := userState("q")
	s.CurrentPlan = plan.FromRaw("not json at all")
	cmd, err := n.HumanFeedback(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, NodeEnd, cmd.Goto)

	s.PlanIterations = 1
	cmd, err = n.HumanFeedback(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, NodeReporter, cmd.Goto)
}

// -------------------- plan modifier --------------------

func TestPlanModifier_RewritesPlan(t *testing.T) {
	m := model.NewMockModel("planner", "mock")
	revised := strings.Replace(twoStepPlanJSON, "Two Step Plan", "Revised Plan", 1)
	m.AddResponse(modificationPrompt(twoStepPlanJSON, "add a safety review step"), revised)
	n := testNodes(NodesConfig{PlannerModel: m})

	s := userState("q")
	s.CurrentPlan = plan.FromRaw(twoStepPlanJSON)
	s.Messages = append(s.Messages, model.Message{Role: "user", Content: "[EDIT_PLAN] add a safety review step", Name: "feedback"})

	cmd, err := n.PlanModifier(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, NodeHumanFeedback, cmd.Goto)
	require.NotNil(t, cmd.Update.CurrentPlan)
	assert.True(t, cmd.Update.CurrentPlan.IsValidated())
	assert.Equal(t, "Revised Plan", cmd.Update.CurrentPlan.Plan().Title)
	require.Len(t, cmd.Update.Messages, 1)
	assert.Equal(t, "plan_modifier", cmd.Update.Messages[0].Name)
}

func TestPlanModifier_NoFeedbackReturnsToGate(t *testing.T) {
	n := testNodes(NodesConfig{})

	s := userState("q")
	s.CurrentPlan = plan.FromRaw(twoStepPlanJSON)
	cmd, err := n.PlanModifier(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, NodeHumanFeedback, cmd.Goto)
	assert.Nil(t, cmd.Update.CurrentPlan)
}

func TestPlanModifier_InvalidRevisionKeepsPlan(t *testing.T) {
	m := model.NewMockModel("planner", "mock")
	m.AddResponse(modificationPrompt(twoStepPlanJSON, "whatever"), "sorry, cannot comply")
	n := testNodes(NodesConfig{PlannerModel: m})

	s := userState("q")
	s.CurrentPlan = plan.FromRaw(twoStepPlanJSON)
	s.Messages = append(s.Messages, model.Message{Role: "user", Content: "[EDIT_PLAN] whatever", Name: "feedback"})

	cmd, err := n.PlanModifier(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, NodeHumanFeedback, cmd.Goto)
	assert.Nil(t, cmd.Update.CurrentPlan)
}

// -------------------- research team router --------------------

func validatedState(t *testing.T, planJSON string) *State {
	t.Helper()
	p, err := plan.Parse(planJSON)
	require.NoError(t, err)
	s := userState("q")
	s.CurrentPlan = plan.FromPlan(p)
	return s
}

func TestResearchTeam_RoutingDeterminism(t *testing.T) {
	n := testNodes(NodesConfig{})
	s := validatedState(t, twoStepPlanJSON)

	// Both steps pending: research step first.
	cmd, err := n.ResearchTeam(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, NodeResearcher, cmd.Goto)

	// After the research step completes, the processing step is next.
	s.CurrentPlan.Plan().Steps[0].ExecutionRes = "done"
	cmd, err = n.ResearchTeam(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, NodeCoder, cmd.Goto)

	// Everything executed: back to the planner.
	s.CurrentPlan.Plan().Steps[1].ExecutionRes = "done"
	cmd, err = n.ResearchTeam(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, NodePlanner, cmd.Goto)
}

func TestResearchTeam_NoPlanGoesToPlanner(t *testing.T) {
	n := testNodes(NodesConfig{})
	cmd, err := n.ResearchTeam(context.Background(), userState("q"))
	require.NoError(t, err)
	assert.Equal(t, NodePlanner, cmd.Goto)
}

// -------------------- step execution --------------------

func TestExecuteStep_Success(t *testing.T) {
	researcher := &stubDelegate{role: "researcher", content: "found evidence"}
	n := testNodes(NodesConfig{Researcher: researcher})
	s := validatedState(t, twoStepPlanJSON)

	cmd, err := n.Researcher(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, NodeResearchTeam, cmd.Goto)

	// Result written into a cloned plan; the input state is untouched.
	require.NotNil(t, cmd.Update.CurrentPlan)
	assert.Equal(t, "found evidence", cmd.Update.CurrentPlan.Plan().Steps[0].ExecutionRes)
	assert.Empty(t, s.CurrentPlan.Plan().Steps[0].ExecutionRes)

	require.Len(t, cmd.Update.Messages, 1)
	assert.Equal(t, "researcher", cmd.Update.Messages[0].Name)
	assert.Equal(t, []string{"found evidence"}, cmd.Update.Observations)

	// Researcher input carries the task and the citation reminder.
	require.Len(t, researcher.inputs, 1)
	input := researcher.inputs[0]
	require.Len(t, input, 2)
	assert.Contains(t, input[0].Content, "# Current Task")
	assert.Contains(t, input[0].Content, "Gather")
	assert.Contains(t, input[1].Content, "### References")
}

func TestExecuteStep_CompletedFindingsInContext(t *testing.T) {
	coder := &stubDelegate{role: "coder", content: "computed"}
	n := testNodes(NodesConfig{Coder: coder})
	s := validatedState(t, twoStepPlanJSON)
	s.CurrentPlan.Plan().Steps[0].ExecutionRes = "found evidence"

	_, err := n.Coder(context.Background(), s)
	require.NoError(t, err)
	require.Len(t, coder.inputs, 1)
	input := coder.inputs[0]
	// No citation reminder for the coder.
	require.Len(t, input, 1)
	assert.Contains(t, input[0].Content, "# Existing Research Findings")
	assert.Contains(t, input[0].Content, "found evidence")
	assert.Contains(t, input[0].Content, "Compute")
}

func TestExecuteStep_FailureMarksStep(t *testing.T) {
	researcher := &stubDelegate{role: "researcher", err: errors.New("tool transport down")}
	n := testNodes(NodesConfig{Researcher: researcher})
	s := validatedState(t, twoStepPlanJSON)

	cmd, err := n.Researcher(context.Background(), s)
	require.NoError(t, err) // the run continues
	assert.Equal(t, NodeResearchTeam, cmd.Goto)

	step := cmd.Update.CurrentPlan.Plan().Steps[0]
	assert.True(t, step.Failed())
	assert.Contains(t, step.ExecutionRes, "tool transport down")

	// The router never re-selects a failed step.
	s.Apply(cmd.Update)
	routed, err := n.ResearchTeam(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, NodeCoder, routed.Goto)
}

// -------------------- reporter --------------------

func TestReporter_LongFormat(t *testing.T) {
	m := model.NewMockModel("reporter", "mock")
	m.AddResponse("Below are some observations for the research task:\n\nfound evidence", "# Final Report")
	n := testNodes(NodesConfig{ReporterModel: m})

	s := validatedState(t, twoStepPlanJSON)
	s.Observations = []string{"found evidence"}

	cmd, err := n.Reporter(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, NodeEnd, cmd.Goto)
	require.NotNil(t, cmd.Update.FinalReport)
	assert.Equal(t, "# Final Report", *cmd.Update.FinalReport)
	assert.Equal(t, 1, m.Calls())
}

func TestReporter_CustomFormatGeneratesPrompt(t *testing.T) {
	m := model.NewMockModel("reporter", "mock")
	m.AddResponse(customPromptGenerator("bullet points in Spanish"), "CUSTOM PROMPT")
	n := testNodes(NodesConfig{ReporterModel: m, OutputFormat: "bullet points in Spanish"})

	s := validatedState(t, twoStepPlanJSON)
	cmd, err := n.Reporter(context.Background(), s)
	require.NoError(t, err)
	require.NotNil(t, cmd.Update.FinalReport)
	// Two model calls: prompt generation then the report itself.
	assert.Equal(t, 2, m.Calls())
}

func TestReporter_RawPlanSummary(t *testing.T) {
	m := model.NewMockModel("reporter", "mock")
	n := testNodes(NodesConfig{ReporterModel: m})

	s := userState("q")
	s.CurrentPlan = plan.FromRaw(`{"title": "Raw Title", "thought": "raw thought"}`)
	_, err := n.Reporter(context.Background(), s)
	require.NoError(t, err)

	title, thought := planSummary(s.CurrentPlan)
	assert.Equal(t, "Raw Title", title)
	assert.Equal(t, "raw thought", thought)

	// Unparsable raw plan falls back to the text itself.
	title, thought = planSummary(plan.FromRaw("free text plan"))
	assert.Equal(t, "Research Task", title)
	assert.Equal(t, "free text plan", thought)
}

// -------------------- full graph --------------------

func TestGraph_TwoStepScenario(t *testing.T) {
	coordinator := model.NewMockModel("coordinator", "mock")
	coordinator.AddToolCallResponse("research topic", model.ToolCall{
		ID: "fc1", Name: "handoff_to_planner", Arguments: []byte(`{"task_title": "topic"}`),
	})
	planner := model.NewMockModel("planner", "mock")
	planner.AddResponse("research topic", twoStepPlanJSON)
	reporter := model.NewMockModel("reporter", "mock")
	reporter.AddResponse("Below are some observations for the research task:\n\ncomputed", "# Report")

	n := testNodes(NodesConfig{
		CoordinatorModel: coordinator,
		PlannerModel:     planner,
		ReporterModel:    reporter,
		Researcher:       &stubDelegate{role: "researcher", content: "found evidence"},
		Coder:            &stubDelegate{role: "coder", content: "computed"},
	})

	snapshots, errCh := n.Graph().Stream(context.Background(), *userState("research topic"), 15)
	states, err := drain(t, snapshots, errCh)
	require.NoError(t, err)
	require.NotEmpty(t, states)

	final := states[len(states)-1]
	assert.Equal(t, "# Report", final.FinalReport)
	assert.Equal(t, []string{"found evidence", "computed"}, final.Observations)
	assert.Equal(t, 1, final.PlanIterations)
	assert.True(t, final.CurrentPlan.Plan().AllExecuted())
	// Planner is consulted once more after all steps execute, then
	// short-circuits to the reporter at the iteration budget.
	assert.Equal(t, 1, planner.Calls())
}

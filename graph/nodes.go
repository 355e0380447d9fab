package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Clinical-Copilot/Medical-Deep-Research/agent"
	"github.com/Clinical-Copilot/Medical-Deep-Research/logging"
	"github.com/Clinical-Copilot/Medical-Deep-Research/model"
	"github.com/Clinical-Copilot/Medical-Deep-Research/plan"
)

// NodesConfig wires models, delegates and budgets into the node functions.
type NodesConfig struct {
	// MaxPlanIterations bounds accepted plan revisions. Defaults to 1.
	MaxPlanIterations int

	// OutputFormat selects the reporter style: OutputFormatLong (default),
	// OutputFormatShort, or free-text custom instructions.
	OutputFormat string

	CoordinatorModel model.Model
	PlannerModel     model.Model
	ReporterModel    model.Model

	Researcher agent.Delegate
	Coder      agent.Delegate

	// Feedback supplies human plan review. Only consulted when the run's
	// HumanFeedback flag is set; nil behaves as auto-accept.
	Feedback FeedbackProvider

	Logger logging.Logger
}

// Nodes holds the node function implementations for one workflow
// configuration. The same Nodes value can serve many runs.
type Nodes struct {
	cfg NodesConfig
}

// NewNodes validates and applies defaults to the config.
func NewNodes(cfg NodesConfig) *Nodes {
	if cfg.MaxPlanIterations <= 0 {
		cfg.MaxPlanIterations = 1
	}
	if cfg.OutputFormat == "" {
		cfg.OutputFormat = OutputFormatLong
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NoOpLogger{}
	}
	return &Nodes{cfg: cfg}
}

// Graph assembles the full workflow state machine with coordinator as entry.
func (n *Nodes) Graph() *Graph {
	g := New(NodeCoordinator, func(o *Options) {
		o.Logger = n.cfg.Logger
	})
	g.Register(NodeCoordinator, n.Coordinator)
	g.Register(NodePlanner, n.Planner)
	g.Register(NodePlanModifier, n.PlanModifier)
	g.Register(NodeHumanFeedback, n.HumanFeedback)
	g.Register(NodeResearchTeam, n.ResearchTeam)
	g.Register(NodeResearcher, n.Researcher)
	g.Register(NodeCoder, n.Coder)
	g.Register(NodeReporter, n.Reporter)
	return g
}

// Coordinator decides whether the query needs research. A hand-off tool call
// routes to the planner; a direct reply appends a coordinator message and
// ends the run.
func (n *Nodes) Coordinator(ctx context.Context, s *State) (Command, error) {
	resp, err := model.Call(ctx, n.cfg.CoordinatorModel, model.Request{
		Instructions: coordinatorInstructions,
		Messages:     s.Messages,
		Tools:        []model.ToolDefinition{handoffToPlannerTool()},
	})
	if err != nil {
		return Command{}, fmt.Errorf("coordinator model: %w", err)
	}

	if len(resp.ToolCalls) > 0 {
		return Command{Goto: NodePlanner}, nil
	}

	n.cfg.Logger.Info("coordinator.direct_answer", "content_len", len(resp.Content))
	return Command{
		Update: Update{Messages: []model.Message{{
			Role:    "assistant",
			Content: resp.Content,
			Name:    "coordinator",
		}}},
		Goto: NodeEnd,
	}, nil
}

// Planner generates the research plan. It short-circuits to the reporter
// without a model call once the plan iteration budget is spent. Invalid JSON
// degrades per the iteration count; has_enough_context skips execution
// entirely.
func (n *Nodes) Planner(ctx context.Context, s *State) (Command, error) {
	if s.PlanIterations >= n.cfg.MaxPlanIterations {
		return Command{Goto: NodeReporter}, nil
	}

	resp, err := model.Call(ctx, n.cfg.PlannerModel, model.Request{
		Instructions: plannerInstructions,
		Messages:     s.Messages,
	})
	if err != nil {
		return Command{}, fmt.Errorf("planner model: %w", err)
	}
	raw := resp.Content

	hasEnough, sniffErr := plan.Sniff(raw)
	if sniffErr != nil {
		n.cfg.Logger.Warn("planner.invalid_json", "error", sniffErr.Error())
		return Command{Goto: n.invalidPlanFallback(s)}, nil
	}

	plannerMsg := model.Message{Role: "assistant", Content: raw, Name: "planner"}

	if hasEnough {
		validated, parseErr := plan.Parse(raw)
		if parseErr != nil {
			n.cfg.Logger.Warn("planner.validation_failed", "error", parseErr.Error())
			return Command{Goto: n.invalidPlanFallback(s)}, nil
		}
		candidate := plan.FromPlan(validated)
		return Command{
			Update: Update{
				Messages:    []model.Message{plannerMsg},
				CurrentPlan: &candidate,
			},
			Goto: NodeReporter,
		}, nil
	}

	candidate := plan.FromRaw(raw)
	return Command{
		Update: Update{
			Messages:    []model.Message{plannerMsg},
			CurrentPlan: &candidate,
		},
		Goto: NodeHumanFeedback,
	}, nil
}

// invalidPlanFallback picks the degradation target for unusable planner
// output: report what we have after at least one accepted plan, otherwise
// end the run.
func (n *Nodes) invalidPlanFallback(s *State) Node {
	if s.PlanIterations > 0 {
		return NodeReporter
	}
	return NodeEnd
}

// PlanModifier rewrites the current plan according to the latest feedback
// message and returns to the feedback gate for review. A revision that fails
// validation leaves the plan untouched.
func (n *Nodes) PlanModifier(ctx context.Context, s *State) (Command, error) {
	feedback := lastFeedback(s.Messages)
	if feedback == "" {
		n.cfg.Logger.Warn("plan_modifier.no_feedback")
		return Command{Goto: NodeHumanFeedback}, nil
	}

	if strings.HasPrefix(strings.ToUpper(feedback), FeedbackEditPlan) {
		feedback = strings.TrimSpace(feedback[len(FeedbackEditPlan):])
	}

	resp, err := model.Call(ctx, n.cfg.PlannerModel, model.Request{
		Messages: []model.Message{{
			Role:    "user",
			Content: modificationPrompt(s.CurrentPlan.JSON(), feedback),
		}},
	})
	if err != nil {
		return Command{}, fmt.Errorf("plan modifier model: %w", err)
	}

	revised, parseErr := plan.Parse(resp.Content)
	if parseErr != nil {
		n.cfg.Logger.Warn("plan_modifier.invalid_json", "error", parseErr.Error())
		return Command{Goto: NodeHumanFeedback}, nil
	}

	candidate := plan.FromPlan(revised)
	return Command{
		Update: Update{
			Messages: []model.Message{{
				Role:    "assistant",
				Content: resp.Content,
				Name:    "plan_modifier",
			}},
			CurrentPlan: &candidate,
		},
		Goto: NodeHumanFeedback,
	}, nil
}

// lastFeedback returns the content of the most recent feedback message.
func lastFeedback(messages []model.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Name == "feedback" {
			return messages[i].Content
		}
	}
	return ""
}

// HumanFeedback gates plan acceptance. With the flag off (or no provider) the
// plan auto-accepts; otherwise [EDIT_PLAN] feedback routes to the modifier
// and anything else accepts. Acceptance validates the candidate, increments
// the iteration count and routes by has_enough_context.
func (n *Nodes) HumanFeedback(ctx context.Context, s *State) (Command, error) {
	if s.HumanFeedback && n.cfg.Feedback != nil {
		verdict, err := n.cfg.Feedback.ReviewPlan(ctx, s.CurrentPlan.JSON())
		if err != nil {
			return Command{}, fmt.Errorf("plan review: %w", err)
		}
		if strings.HasPrefix(strings.ToUpper(verdict), FeedbackEditPlan) {
			return Command{
				Update: Update{Messages: []model.Message{{
					Role:    "user",
					Content: verdict,
					Name:    "feedback",
				}}},
				Goto: NodePlanModifier,
			}, nil
		}
		if !strings.HasPrefix(strings.ToUpper(verdict), FeedbackAccepted) {
			n.cfg.Logger.Info("human_feedback.default_accept")
		}
	}

	validated, err := s.CurrentPlan.Resolve()
	if err != nil {
		n.cfg.Logger.Warn("human_feedback.invalid_plan", "error", err.Error())
		return Command{Goto: n.invalidPlanFallback(s)}, nil
	}

	iterations := s.PlanIterations + 1
	candidate := plan.FromPlan(validated)

	next := NodeResearchTeam
	if validated.HasEnoughContext {
		next = NodeReporter
	}

	return Command{
		Update: Update{
			CurrentPlan:    &candidate,
			PlanIterations: &iterations,
		},
		Goto: next,
	}, nil
}

// ResearchTeam routes the first pending step to its executor by step type.
// A missing, empty or fully executed plan returns to the planner.
func (n *Nodes) ResearchTeam(_ context.Context, s *State) (Command, error) {
	current := s.CurrentPlan.Plan()
	if current == nil || len(current.Steps) == 0 {
		return Command{Goto: NodePlanner}, nil
	}
	step := current.FirstPending()
	if step == nil {
		return Command{Goto: NodePlanner}, nil
	}
	switch step.StepType {
	case plan.StepTypeResearch:
		n.cfg.Logger.Info("research_team.dispatch", "executor", "researcher", "step", step.Title)
		return Command{Goto: NodeResearcher}, nil
	case plan.StepTypeProcessing:
		n.cfg.Logger.Info("research_team.dispatch", "executor", "coder", "step", step.Title)
		return Command{Goto: NodeCoder}, nil
	default:
		return Command{Goto: NodePlanner}, nil
	}
}

// Researcher executes the first pending step with the research delegate.
func (n *Nodes) Researcher(ctx context.Context, s *State) (Command, error) {
	return n.executeStep(ctx, s, n.cfg.Researcher)
}

// Coder executes the first pending step with the coding delegate.
func (n *Nodes) Coder(ctx context.Context, s *State) (Command, error) {
	return n.executeStep(ctx, s, n.cfg.Coder)
}

// executeStep runs the delegate on the first pending step, writing the step
// result into a cloned plan so the previous snapshot stays intact. Delegate
// failures mark the step with the failure tag instead of aborting the run.
func (n *Nodes) executeStep(ctx context.Context, s *State, delegate agent.Delegate) (Command, error) {
	if delegate == nil {
		return Command{}, fmt.Errorf("no delegate configured for step execution")
	}

	current := s.CurrentPlan.Plan()
	if current == nil {
		return Command{Goto: NodeResearchTeam}, nil
	}

	cloned := current.Clone()
	step := cloned.FirstPending()
	if step == nil {
		n.cfg.Logger.Warn("execute_step.no_pending_step")
		return Command{Goto: NodeResearchTeam}, nil
	}

	n.cfg.Logger.Info("execute_step.start", "executor", delegate.Role(), "step", step.Title)

	input := stepInput(cloned, step)
	if delegate.Role() == "researcher" {
		input = append(input, model.Message{Role: "system", Content: citationReminder, Name: "system"})
	}

	result, err := delegate.Invoke(ctx, input)

	var content string
	if err != nil {
		content = fmt.Sprintf("%s step %q: %v", plan.ExecutionFailedTag, step.Title, err)
		n.cfg.Logger.Error("execute_step.failed", "executor", delegate.Role(), "step", step.Title, "error", err.Error())
	} else {
		content = result.Content
		n.cfg.Logger.Info("execute_step.done", "executor", delegate.Role(), "step", step.Title)
	}

	step.ExecutionRes = content
	candidate := plan.FromPlan(cloned)

	return Command{
		Update: Update{
			Messages: []model.Message{{
				Role:    "assistant",
				Content: content,
				Name:    delegate.Role(),
			}},
			CurrentPlan:  &candidate,
			Observations: []string{content},
		},
		Goto: NodeResearchTeam,
	}, nil
}

// stepInput assembles the delegate context: completed step findings followed
// by the current task.
func stepInput(p *plan.Plan, step *plan.Step) []model.Message {
	var b strings.Builder
	completed := p.Completed()
	if len(completed) > 0 {
		b.WriteString("# Existing Research Findings\n\n")
		for i, done := range completed {
			fmt.Fprintf(&b, "## Existing Finding %d: %s\n\n<finding>\n%s\n</finding>\n\n", i+1, done.Title, done.ExecutionRes)
		}
	}
	fmt.Fprintf(&b, "# Current Task\n\n## Title\n\n%s\n\n## Description\n\n%s", step.Title, step.Description)

	return []model.Message{{Role: "user", Content: b.String()}}
}

// Reporter writes the final report from the plan summary and accumulated
// observations, honoring the configured output format. It is also invoked
// directly by the workflow driver when the step budget is exhausted.
func (n *Nodes) Reporter(ctx context.Context, s *State) (Command, error) {
	title, thought := planSummary(s.CurrentPlan)

	task := model.Message{
		Role:    "user",
		Content: fmt.Sprintf("# Research Requirements\n\n## Task\n\n%s\n\n## Description\n\n%s", title, thought),
	}

	var (
		instructions string
		messages     []model.Message
		reminder     string
	)

	switch {
	case n.cfg.OutputFormat == OutputFormatShort:
		instructions = shortReporterInstructions
		messages = []model.Message{task}
		reminder = shortFormatReminder
	case n.cfg.OutputFormat == OutputFormatLong:
		instructions = longReporterInstructions
		messages = []model.Message{task}
		reminder = longFormatReminder
	default:
		// Custom format: generate a bespoke reporter prompt first.
		promptResp, err := model.Call(ctx, n.cfg.ReporterModel, model.Request{
			Messages: []model.Message{{Role: "user", Content: customPromptGenerator(n.cfg.OutputFormat)}},
		})
		if err != nil {
			return Command{}, fmt.Errorf("reporter prompt generation: %w", err)
		}
		messages = []model.Message{
			{Role: "user", Content: promptResp.Content},
			task,
		}
		reminder = customFormatReminder(n.cfg.OutputFormat)
	}

	messages = append(messages, model.Message{Role: "user", Content: reminder, Name: "system"})
	for _, obs := range s.Observations {
		messages = append(messages, model.Message{
			Role:    "user",
			Content: fmt.Sprintf("Below are some observations for the research task:\n\n%s", obs),
			Name:    "observation",
		})
	}

	resp, err := model.Call(ctx, n.cfg.ReporterModel, model.Request{
		Instructions: instructions,
		Messages:     messages,
	})
	if err != nil {
		return Command{}, fmt.Errorf("reporter model: %w", err)
	}

	report := resp.Content
	return Command{
		Update: Update{FinalReport: &report},
		Goto:   NodeEnd,
	}, nil
}

// planSummary extracts a title and thought for the reporter from whichever
// form the plan is in, with forgiving fallbacks for raw text.
func planSummary(c plan.Candidate) (title, thought string) {
	title = "Research Task"
	thought = "No detailed thought process available"

	if p := c.Plan(); p != nil {
		if p.Title != "" {
			title = p.Title
		}
		if p.Thought != "" {
			thought = p.Thought
		}
		return title, thought
	}

	raw := c.Raw()
	if raw == "" {
		return title, thought
	}

	var doc map[string]any
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return title, raw
	}
	if v, ok := doc["title"].(string); ok && v != "" {
		title = v
	}
	if v, ok := doc["thought"].(string); ok && v != "" {
		thought = v
	}
	return title, thought
}

// Package meddr provides a high-level façade over the deep research workflow:
// a coordinator/planner/executor graph that turns a medical research query
// into a cited report. Most applications interact with this package by:
//  1. Creating a Workflow via New() with at least one model configured
//  2. Starting runs with Run() and consuming the event stream
//  3. Inspecting past runs through Runs() / GetRun()
//
// The façade wires the models, step delegates, MCP tool providers and run
// store together and delegates orchestration to the workflow driver. All
// defaults are safe for local development; production deployments typically
// supply a durable store and a structured logger.
package meddr

import (
	"context"
	"fmt"

	"github.com/Clinical-Copilot/Medical-Deep-Research/agent"
	"github.com/Clinical-Copilot/Medical-Deep-Research/graph"
	"github.com/Clinical-Copilot/Medical-Deep-Research/logging"
	"github.com/Clinical-Copilot/Medical-Deep-Research/mcp"
	"github.com/Clinical-Copilot/Medical-Deep-Research/model"
	"github.com/Clinical-Copilot/Medical-Deep-Research/store"
	"github.com/Clinical-Copilot/Medical-Deep-Research/tool"
	"github.com/Clinical-Copilot/Medical-Deep-Research/workflow"
)

// DefaultTelemetryBuffer is the tool telemetry queue capacity.
const DefaultTelemetryBuffer = 128

const researcherInstructions = `You are a researcher. Investigate the given task using the available search
and retrieval tools, then synthesize what you found into a structured answer.
Always track where each piece of information came from and include a
"References" section listing the source URLs at the end. Do not perform any
mathematical computation and do not fabricate sources.`

const coderInstructions = `You are a coder and data analyst. Solve the given task by planning the
computation, carrying it out and documenting the methodology along with the
results. Prefer exact calculation over estimation and state any assumptions
you had to make.`

// Options configures the Workflow façade.
type Options struct {
	// Model is the default model for every role. Individual roles can be
	// overridden below.
	Model model.Model

	// Per-role model overrides.
	CoordinatorModel model.Model
	PlannerModel     model.Model
	ReporterModel    model.Model
	ResearcherModel  model.Model
	CoderModel       model.Model

	// ResearcherTools / CoderTools are the built-in tool sets of the step
	// delegates. MCP-discovered tools are appended per role.
	ResearcherTools []tool.Tool
	CoderTools      []tool.Tool

	// MCP, when set, supplies additional role scoped tools from configured
	// MCP servers. Discovery failures fall back to the built-in tools.
	MCP *mcp.Registry

	// Feedback supplies interactive plan review for runs with the
	// HumanFeedback flag set. Nil auto-accepts plans.
	Feedback graph.FeedbackProvider

	// MaxToolCalls bounds each delegate's tool loop. Non-positive values use
	// the agent package defaults.
	MaxToolCalls int

	// TelemetryBuffer sets the tool telemetry queue capacity.
	TelemetryBuffer int

	// Store records completed runs (defaults to an in-memory store).
	Store store.Store

	// Logger (defaults to NoOp logger if nil).
	Logger logging.Logger
}

// Workflow is the high-level façade aggregating the driver, the run store and
// the shared tool telemetry queue.
type Workflow struct {
	driver    *workflow.Driver
	store     store.Store
	telemetry *tool.Telemetry
	registry  *mcp.Registry
	logger    logging.Logger
}

// New creates a Workflow with optional overrides. At minimum a default Model
// (or a full set of per-role models) must be configured. MCP tool discovery
// happens here, so the context bounds the server handshakes.
func New(ctx context.Context, optFns ...func(o *Options)) (*Workflow, error) {
	opts := Options{
		TelemetryBuffer: DefaultTelemetryBuffer,
		Logger:          logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Store == nil {
		opts.Store = store.NewInMemoryStore()
	}

	coordinator, err := roleModel("coordinator", opts.CoordinatorModel, opts.Model)
	if err != nil {
		return nil, err
	}
	planner, err := roleModel("planner", opts.PlannerModel, opts.Model)
	if err != nil {
		return nil, err
	}
	reporter, err := roleModel("reporter", opts.ReporterModel, opts.Model)
	if err != nil {
		return nil, err
	}
	researcherModel, err := roleModel("researcher", opts.ResearcherModel, opts.Model)
	if err != nil {
		return nil, err
	}
	coderModel, err := roleModel("coder", opts.CoderModel, opts.Model)
	if err != nil {
		return nil, err
	}

	telemetry := tool.NewTelemetry(opts.TelemetryBuffer)

	researcher := agent.New("researcher", researcherModel,
		resolveTools(ctx, opts.MCP, "researcher", opts.ResearcherTools, opts.Logger),
		func(o *agent.Options) {
			o.MaxToolCalls = opts.MaxToolCalls
			o.Instructions = researcherInstructions
			o.Telemetry = telemetry
			o.Logger = opts.Logger
		})
	coder := agent.New("coder", coderModel,
		resolveTools(ctx, opts.MCP, "coder", opts.CoderTools, opts.Logger),
		func(o *agent.Options) {
			o.MaxToolCalls = opts.MaxToolCalls
			o.Instructions = coderInstructions
			o.Telemetry = telemetry
			o.Logger = opts.Logger
		})

	driver := workflow.New(graph.NodesConfig{
		CoordinatorModel: coordinator,
		PlannerModel:     planner,
		ReporterModel:    reporter,
		Researcher:       researcher,
		Coder:            coder,
		Feedback:         opts.Feedback,
		Logger:           opts.Logger,
	}, func(o *workflow.Options) {
		o.Telemetry = telemetry
		o.Store = opts.Store
		o.Logger = opts.Logger
	})

	return &Workflow{
		driver:    driver,
		store:     opts.Store,
		telemetry: telemetry,
		registry:  opts.MCP,
		logger:    opts.Logger,
	}, nil
}

// roleModel picks the per-role override, then the default model.
func roleModel(role string, override, fallback model.Model) (model.Model, error) {
	if override != nil {
		return override, nil
	}
	if fallback != nil {
		return fallback, nil
	}
	return nil, fmt.Errorf("meddr: no model configured for %s", role)
}

// resolveTools combines the built-in tools of a role with the tools its MCP
// servers expose. Discovery problems leave the built-in set untouched.
func resolveTools(ctx context.Context, reg *mcp.Registry, role string, defaults []tool.Tool, logger logging.Logger) []tool.Tool {
	if reg == nil {
		return defaults
	}
	discovered, err := reg.ToolsForRole(ctx, role)
	if err != nil {
		if logger != nil {
			logger.Warn("meddr.mcp_discovery.failed", "role", role, "error", err.Error())
		}
		return defaults
	}
	if len(discovered) == 0 {
		return defaults
	}
	tools := make([]tool.Tool, 0, len(defaults)+len(discovered))
	tools = append(tools, defaults...)
	return append(tools, discovered...)
}

// Run starts one research run and returns its event stream. The channel is
// closed when the run completes.
func (w *Workflow) Run(ctx context.Context, req workflow.Request) (<-chan workflow.Event, error) {
	return w.driver.Run(ctx, req)
}

// Runs lists completed runs, oldest first.
func (w *Workflow) Runs() ([]store.RunRecord, error) {
	return w.store.List()
}

// GetRun returns one completed run by id.
func (w *Workflow) GetRun(id string) (store.RunRecord, error) {
	return w.store.Get(id)
}

// Close releases MCP server sessions, if any.
func (w *Workflow) Close() error {
	if w.registry == nil {
		return nil
	}
	return w.registry.Close()
}

package workflow

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Clinical-Copilot/Medical-Deep-Research/graph"
	"github.com/Clinical-Copilot/Medical-Deep-Research/logging"
	"github.com/Clinical-Copilot/Medical-Deep-Research/model"
	"github.com/Clinical-Copilot/Medical-Deep-Research/store"
	"github.com/Clinical-Copilot/Medical-Deep-Research/tool"
)

// Default run budgets.
const (
	DefaultMaxPlanIterations = 1
	DefaultMaxStepBudget     = 15
)

// ErrEmptyQuery is returned by Run for a blank query.
var ErrEmptyQuery = errors.New("workflow: empty query")

// Request describes one research run.
type Request struct {
	// Query is the user's research question. Required.
	Query string

	// MaxPlanIterations bounds accepted plan revisions. Defaults to 1.
	MaxPlanIterations int

	// MaxStepBudget bounds total node transitions. Defaults to 15.
	MaxStepBudget int

	// OutputFormat is "long-report" (default), "short-report" or free-text
	// custom instructions for the reporter.
	OutputFormat string

	// HumanFeedback enables the interactive plan review gate.
	HumanFeedback bool
}

func (r *Request) applyDefaults() {
	if r.MaxPlanIterations <= 0 {
		r.MaxPlanIterations = DefaultMaxPlanIterations
	}
	if r.MaxStepBudget <= 0 {
		r.MaxStepBudget = DefaultMaxStepBudget
	}
	if r.OutputFormat == "" {
		r.OutputFormat = graph.OutputFormatLong
	}
}

// Options configure a Driver.
type Options struct {
	// Telemetry is the tool event queue shared with the delegates. Drained
	// at the top of every snapshot iteration.
	Telemetry *tool.Telemetry

	// Store records completed runs. Nil disables run history.
	Store store.Store

	// BufferSize is the event channel capacity.
	BufferSize int

	Logger logging.Logger
}

// Driver runs the research graph for one query at a time and streams events.
// The zero budgets in the base config are overridden per request.
type Driver struct {
	base      graph.NodesConfig
	telemetry *tool.Telemetry
	store     store.Store
	buffer    int
	logger    logging.Logger
}

// New creates a Driver from the node wiring shared by all runs (models,
// delegates, feedback provider).
func New(base graph.NodesConfig, optFns ...func(o *Options)) *Driver {
	opts := Options{
		BufferSize: 64,
		Logger:     logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Driver{
		base:      base,
		telemetry: opts.Telemetry,
		store:     opts.Store,
		buffer:    opts.BufferSize,
		logger:    opts.Logger,
	}
}

// Run starts one research run and returns its event stream. The channel is
// closed when the run ends; unless the run ends at the coordinator or the
// first plan never materializes, the last event is a final_report or an error.
func (d *Driver) Run(ctx context.Context, req Request) (<-chan Event, error) {
	if strings.TrimSpace(req.Query) == "" {
		return nil, ErrEmptyQuery
	}
	req.applyDefaults()

	cfg := d.base
	cfg.MaxPlanIterations = req.MaxPlanIterations
	cfg.OutputFormat = req.OutputFormat
	if cfg.Logger == nil {
		cfg.Logger = d.logger
	}
	nodes := graph.NewNodes(cfg)

	initial := graph.State{
		Messages:      []model.Message{{Role: "user", Content: req.Query}},
		HumanFeedback: req.HumanFeedback,
	}

	events := make(chan Event, d.buffer)
	go d.run(ctx, nodes, initial, req, events)
	return events, nil
}

func (d *Driver) run(ctx context.Context, nodes *graph.Nodes, initial graph.State, req Request, events chan<- Event) {
	defer close(events)

	runID := uuid.NewString()
	started := time.Now()
	d.logger.Info("workflow.run.start", "run_id", runID, "budget", req.MaxStepBudget)

	snapshots, errCh := nodes.Graph().Stream(ctx, initial, req.MaxStepBudget)

	last := initial.Clone()
	lastMessageCount := len(initial.Messages)
	planEmitted := false
	emittedSteps := map[string]bool{}
	lastReport := ""

	emit := func(ev Event) {
		select {
		case <-ctx.Done():
		case events <- ev:
		}
	}

	processSnapshot := func(snap graph.State) {
		d.drainTelemetry(emit)

		// New transcript messages, in order, exactly once.
		for i := lastMessageCount; i < len(snap.Messages); i++ {
			msg := snap.Messages[i]
			emit(Event{Type: EventMessage, Message: &msg})
		}
		if len(snap.Messages) > lastMessageCount {
			lastMessageCount = len(snap.Messages)
		}

		// The plan, once, the first time it is structurally valid.
		if !planEmitted && snap.CurrentPlan.IsValidated() {
			emit(Event{Type: EventPlan, Plan: snap.CurrentPlan.Plan().Clone()})
			planEmitted = true
		}

		// Newly completed steps, keyed by title. Failed steps surface
		// as error events instead of results.
		if p := snap.CurrentPlan.Plan(); p != nil {
			for _, step := range p.Steps {
				if !step.Executed() || emittedSteps[step.Title] {
					continue
				}
				emittedSteps[step.Title] = true
				if step.Failed() {
					emit(Event{Type: EventError, StepTitle: step.Title, Content: step.ExecutionRes})
				} else {
					emit(Event{Type: EventExecutionRes, StepTitle: step.Title, Content: step.ExecutionRes})
				}
			}
		}

		if snap.FinalReport != "" && snap.FinalReport != lastReport {
			lastReport = snap.FinalReport
			emit(Event{Type: EventFinalReport, Content: snap.FinalReport})
		}

		last = snap
	}

	for snapshots != nil || errCh != nil {
		select {
		case snap, ok := <-snapshots:
			if !ok {
				snapshots = nil
				continue
			}
			processSnapshot(snap)

		case err, ok := <-errCh:
			if !ok {
				errCh = nil
				continue
			}
			if err == nil {
				continue
			}

			// The graph closes the snapshot stream right after reporting an
			// error, but buffered snapshots may still be pending. Drain them
			// first so events stay ordered and the fallback below works from
			// the actual last state, not a stale one.
			if snapshots != nil {
				for snap := range snapshots {
					processSnapshot(snap)
				}
				snapshots = nil
			}

			var budgetErr *graph.BudgetExceededError
			if errors.As(err, &budgetErr) {
				d.logger.Warn("workflow.budget_exceeded", "run_id", runID, "limit", budgetErr.Limit)
				if report, rerr := d.forceReport(ctx, nodes, &last); rerr != nil {
					emit(Event{Type: EventError, Content: rerr.Error()})
				} else if report != lastReport {
					lastReport = report
					emit(Event{Type: EventFinalReport, Content: report})
				}
				continue
			}

			d.logger.Error("workflow.run.failed", "run_id", runID, "error", err.Error())
			emit(Event{Type: EventError, Content: err.Error()})
		}
	}

	d.drainTelemetry(emit)
	d.record(runID, req, &last, started)
	d.logger.Info("workflow.run.done", "run_id", runID, "reported", lastReport != "")
}

// forceReport runs the reporter directly against the last snapshot, the
// budget-exhaustion fallback guaranteeing the run ends with a report.
func (d *Driver) forceReport(ctx context.Context, nodes *graph.Nodes, last *graph.State) (string, error) {
	cmd, err := nodes.Reporter(ctx, last)
	if err != nil {
		return "", err
	}
	last.Apply(cmd.Update)
	return last.FinalReport, nil
}

func (d *Driver) drainTelemetry(emit func(Event)) {
	if d.telemetry == nil {
		return
	}
	for _, te := range d.telemetry.Drain() {
		activity := &ToolActivity{
			Tool:   te.Tool,
			CallID: te.CallID,
			Params: te.Params,
			Result: te.Result,
			Err:    te.Err,
		}
		kind := EventToolStart
		if te.Kind == tool.TelemetryToolComplete {
			kind = EventToolComplete
		}
		emit(Event{Type: kind, Tool: activity})
	}
}

func (d *Driver) record(runID string, req Request, last *graph.State, started time.Time) {
	if d.store == nil {
		return
	}
	rec := store.RunRecord{
		ID:           runID,
		Query:        req.Query,
		Messages:     last.Messages,
		Observations: last.Observations,
		FinalReport:  last.FinalReport,
		Started:      started,
		Completed:    time.Now(),
	}
	if err := d.store.Save(rec); err != nil {
		d.logger.Warn("workflow.record.failed", "run_id", runID, "error", err.Error())
	}
}

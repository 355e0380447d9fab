package graph

import (
	"context"
	"fmt"

	"github.com/Clinical-Copilot/Medical-Deep-Research/logging"
)

// Node identifies one state of the workflow machine.
type Node string

// Workflow nodes. NodeEnd is terminal.
const (
	NodeCoordinator   Node = "coordinator"
	NodePlanner       Node = "planner"
	NodePlanModifier  Node = "plan_modifier"
	NodeHumanFeedback Node = "human_feedback"
	NodeResearchTeam  Node = "research_team"
	NodeResearcher    Node = "researcher"
	NodeCoder         Node = "coder"
	NodeReporter      Node = "reporter"
	NodeEnd           Node = "__end__"
)

// Command is the result of one node execution: a partial state update plus
// the next node to run.
type Command struct {
	Update Update
	Goto   Node
}

// NodeFunc executes one node against the current state.
type NodeFunc func(ctx context.Context, s *State) (Command, error)

// BudgetExceededError signals that a run consumed its step budget before
// reaching a terminal node. Callers detect it with errors.As and trigger the
// reporter fallback instead of failing the run.
type BudgetExceededError struct {
	Limit int
}

// Error implements the error interface.
func (e *BudgetExceededError) Error() string {
	return fmt.Sprintf("graph: step budget exceeded (limit %d)", e.Limit)
}

// Options configure a Graph.
type Options struct {
	Logger logging.Logger
}

// Graph is a table-driven dispatcher over NodeFuncs. Exactly one node runs at
// a time; each transition emits a state snapshot.
type Graph struct {
	entry  Node
	nodes  map[Node]NodeFunc
	logger logging.Logger
}

// New creates an empty graph with the given entry node.
func New(entry Node, optFns ...func(o *Options)) *Graph {
	opts := Options{
		Logger: logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Graph{
		entry:  entry,
		nodes:  map[Node]NodeFunc{},
		logger: opts.Logger,
	}
}

// Register binds a node identifier to its function. Registering the same
// node twice replaces the previous binding.
func (g *Graph) Register(n Node, fn NodeFunc) {
	g.nodes[n] = fn
}

// Stream runs the graph from the entry node until NodeEnd, emitting a deep
// copied state snapshot after every node execution. The budget bounds the
// total number of node transitions; exceeding it yields a
// *BudgetExceededError on the error channel. Both channels are closed when
// the run ends.
func (g *Graph) Stream(ctx context.Context, initial State, budget int) (<-chan State, <-chan error) {
	snapshots := make(chan State, 16)
	errCh := make(chan error, 1)

	go func() {
		defer close(snapshots)
		defer close(errCh)

		state := initial.Clone()
		current := g.entry

		for steps := 0; current != NodeEnd; steps++ {
			if budget > 0 && steps >= budget {
				errCh <- &BudgetExceededError{Limit: budget}
				return
			}

			select {
			case <-ctx.Done():
				errCh <- ctx.Err()
				return
			default:
			}

			fn, ok := g.nodes[current]
			if !ok {
				errCh <- fmt.Errorf("graph: no node registered for %q", current)
				return
			}

			cmd, err := fn(ctx, &state)
			if err != nil {
				errCh <- fmt.Errorf("graph: node %s: %w", current, err)
				return
			}

			state.Apply(cmd.Update)
			g.logger.Debug("graph.transition", "from", string(current), "to", string(cmd.Goto), "step", steps)

			select {
			case <-ctx.Done():
				errCh <- ctx.Err()
				return
			case snapshots <- state.Clone():
			}

			current = cmd.Goto
		}
	}()

	return snapshots, errCh
}

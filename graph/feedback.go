package graph

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
)

// Feedback verdict prefixes recognized by the human feedback node. Anything
// else accepts the plan by default.
const (
	FeedbackAccepted = "[ACCEPTED]"
	FeedbackEditPlan = "[EDIT_PLAN]"
)

// FeedbackProvider supplies the human verdict on a proposed plan. ReviewPlan
// blocks until feedback is available or the context is cancelled.
type FeedbackProvider interface {
	ReviewPlan(ctx context.Context, planJSON string) (string, error)
}

// TerminalFeedback reads plan feedback from an interactive terminal (or any
// reader/writer pair, which makes it testable).
type TerminalFeedback struct {
	in  *bufio.Reader
	out io.Writer
}

// NewTerminalFeedback creates a TerminalFeedback over the given streams.
func NewTerminalFeedback(in io.Reader, out io.Writer) *TerminalFeedback {
	return &TerminalFeedback{
		in:  bufio.NewReader(in),
		out: out,
	}
}

// ReviewPlan prints the plan with the accepted/edit options and reads one
// line of feedback.
func (t *TerminalFeedback) ReviewPlan(_ context.Context, planJSON string) (string, error) {
	divider := strings.Repeat("=", 50)
	fmt.Fprintf(t.out, "\n%s\nPLAN REVIEW REQUIRED\n%s\n", divider, divider)
	fmt.Fprintf(t.out, "%s\n%s\n", planJSON, divider)
	fmt.Fprintf(t.out, "Options:\n  %s - Accept the plan and continue\n  %s <your feedback>\n%s\n", FeedbackAccepted, FeedbackEditPlan, divider)
	fmt.Fprint(t.out, "Enter your feedback: ")

	line, err := t.in.ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("read feedback: %w", err)
	}
	return strings.TrimSpace(line), nil
}

package plan

import "errors"

// ErrNoCandidate is returned when a Candidate operation requires a plan but
// the candidate is empty.
var ErrNoCandidate = errors.New("plan: empty candidate")

// Candidate is a tagged variant holding the current plan in one of two
// states: raw planner text that has not passed validation yet, or a
// validated structured Plan. Exactly one of the two is set; consumers branch
// on the state instead of re-parsing opportunistically.
type Candidate struct {
	raw       string
	validated *Plan
}

// FromRaw wraps unvalidated planner output text.
func FromRaw(raw string) Candidate {
	return Candidate{raw: raw}
}

// FromPlan wraps an already validated plan.
func FromPlan(p *Plan) Candidate {
	return Candidate{validated: p}
}

// IsZero reports whether the candidate holds neither raw text nor a plan.
func (c Candidate) IsZero() bool {
	return c.raw == "" && c.validated == nil
}

// IsValidated reports whether the candidate holds a structured plan.
func (c Candidate) IsValidated() bool { return c.validated != nil }

// Raw returns the raw planner text (empty when validated).
func (c Candidate) Raw() string { return c.raw }

// Plan returns the validated plan, or nil when the candidate is raw or empty.
func (c Candidate) Plan() *Plan { return c.validated }

// Resolve returns the validated plan, parsing the raw text on demand. The
// candidate itself is not mutated; callers that want to persist the upgrade
// store FromPlan(result) back into state.
func (c Candidate) Resolve() (*Plan, error) {
	if c.validated != nil {
		return c.validated, nil
	}
	if c.raw == "" {
		return nil, ErrNoCandidate
	}
	return Parse(c.raw)
}

// JSON renders the candidate for prompts and feedback review: validated plans
// marshal structurally, raw candidates pass through unchanged.
func (c Candidate) JSON() string {
	if c.validated != nil {
		return c.validated.JSON()
	}
	return c.raw
}

// Clone deep-copies the candidate so state snapshots stay isolated.
func (c Candidate) Clone() Candidate {
	if c.validated != nil {
		return Candidate{validated: c.validated.Clone()}
	}
	return Candidate{raw: c.raw}
}

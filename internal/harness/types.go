package harness

import (
	"github.com/GrigorianNick/multiverse-simulator/internal/handle"
)

// StepRecord is what one step did.
type StepRecord struct {
	Op     string        `json:"op"`
	Target string        `json:"target"`
	Label  string        `json:"label,omitempty"`
	Handle handle.Handle `json:"handle"`
	Seq    int           `json:"seq"`
}

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is true when every assertion held.
	Pass bool `json:"pass"`

	// Steps records each step in order.
	Steps []StepRecord `json:"steps"`

	// Labels maps every label to its node.
	Labels map[string]handle.Handle `json:"labels"`

	// Snapshot is the resolved state of every labeled node.
	Snapshot Snapshot `json:"snapshot"`

	// Errors holds assertion failures. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Steps:  []StepRecord{},
		Labels: make(map[string]handle.Handle),
		Errors: []string{},
	}
}

// AddError records an assertion failure.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// labelOf returns the label of h, or "" when h is unlabeled.
func (r *Result) labelOf(h handle.Handle) string {
	for label, lh := range r.Labels {
		if lh == h {
			return label
		}
	}
	return ""
}

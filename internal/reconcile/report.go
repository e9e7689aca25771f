package reconcile

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"

	adldap "github.com/isometry/haridsync/internal/ldap"
)

// Outcome is the terminal state of one entity.
type Outcome string

const (
	OutcomeCreated Outcome = "created"
	OutcomeUpdated Outcome = "updated"
	OutcomeDeleted Outcome = "deleted"
	OutcomeSkipped Outcome = "skipped"
	OutcomeFailed  Outcome = "failed"
)

// Outcomes lists every outcome in report order.
var Outcomes = []Outcome{OutcomeCreated, OutcomeUpdated, OutcomeDeleted, OutcomeSkipped, OutcomeFailed}

// Result records what happened to one entity.
type Result struct {
	Kind       adldap.Kind
	Identifier string
	DN         string
	GUID       uuid.UUID // objectGUID of a pre-existing entry
	SID        string    // objectSid of a pre-existing entry, in S-1-... form
	Outcome    Outcome
	Relocated  bool
	Err        error
}

func (r Result) String() string {
	id := r.Identifier
	if id == "" {
		id = "<unidentified>"
	}
	if r.Err != nil {
		return fmt.Sprintf("%s %s: %s: %v", r.Kind, id, r.Outcome, r.Err)
	}
	return fmt.Sprintf("%s %s: %s", r.Kind, id, r.Outcome)
}

// Report accumulates the results of one run.
type Report struct {
	RunID    string
	Started  time.Time
	Finished time.Time
	Results  []Result
}

// Add appends a result.
func (r *Report) Add(res Result) {
	r.Results = append(r.Results, res)
}

// Count returns the number of results of kind with outcome.
func (r *Report) Count(kind adldap.Kind, outcome Outcome) int {
	n := 0
	for _, res := range r.Results {
		if res.Kind == kind && res.Outcome == outcome {
			n++
		}
	}
	return n
}

// Failures returns the failed results in processing order.
func (r *Report) Failures() []Result {
	var failed []Result
	for _, res := range r.Results {
		if res.Outcome == OutcomeFailed {
			failed = append(failed, res)
		}
	}
	return failed
}

// Relocations returns how many entries were moved.
func (r *Report) Relocations() int {
	n := 0
	for _, res := range r.Results {
		if res.Relocated {
			n++
		}
	}
	return n
}

// Duration returns the wall time of the run.
func (r *Report) Duration() time.Duration {
	if r.Finished.IsZero() {
		return 0
	}
	return r.Finished.Sub(r.Started)
}

// Summary returns the per-kind outcome counts as log fields.
func (r *Report) Summary() map[string]any {
	fields := map[string]any{
		"relocated": r.Relocations(),
		"failed":    len(r.Failures()),
	}
	for _, kind := range []adldap.Kind{adldap.KindUser, adldap.KindGroup} {
		for _, outcome := range Outcomes {
			fields[kind.String()+"s_"+string(outcome)] = r.Count(kind, outcome)
		}
	}
	return fields
}

// WriteTo writes the counts followed by one line per failed entity.
func (r *Report) WriteTo(w io.Writer) (int64, error) {
	var b strings.Builder
	for _, kind := range []adldap.Kind{adldap.KindUser, adldap.KindGroup} {
		parts := make([]string, 0, len(Outcomes))
		for _, outcome := range Outcomes {
			parts = append(parts, fmt.Sprintf("%d %s", r.Count(kind, outcome), outcome))
		}
		fmt.Fprintf(&b, "%ss: %s\n", kind, strings.Join(parts, ", "))
	}
	fmt.Fprintf(&b, "relocated: %d\n", r.Relocations())

	failures := r.Failures()
	if len(failures) > 0 {
		fmt.Fprintf(&b, "failures (%d):\n", len(failures))
		for _, res := range failures {
			fmt.Fprintf(&b, "  %s\n", res)
		}
	}

	n, err := io.WriteString(w, b.String())
	return int64(n), err
}

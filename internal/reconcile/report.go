package reconcile

import (
	"errors"
	"fmt"
	"time"

	"github.com/openmined/cardsync/internal/remotetree"
	"github.com/openmined/cardsync/internal/source"
)

type Action string

const (
	ActionNoop    Action = "noop"
	ActionAdopted Action = "adopted"
	ActionCreated Action = "created"
	ActionUpdated Action = "updated"
	ActionRenamed Action = "renamed"
	ActionDeleted Action = "deleted"
	ActionSkipped Action = "skipped"
)

// Outcome is the result of reconciling one entity. ExternalID is set when
// the entity became tracked during this call.
type Outcome struct {
	SourceID   string            `json:"source_id"`
	Kind       source.Kind       `json:"kind"`
	ExternalID string            `json:"external_id,omitempty"`
	Action     Action            `json:"action"`
	Path       string            `json:"path,omitempty"`
	Object     remotetree.Object `json:"-"`
}

// EntityError carries enough context to retry or alert on one entity.
type EntityError struct {
	SourceID string
	Kind     source.Kind
	Path     string
	Err      error
}

func (e *EntityError) Error() string {
	return fmt.Sprintf("%s %s at %q: %v", e.Kind, e.SourceID, e.Path, e.Err)
}

func (e *EntityError) Unwrap() error {
	return e.Err
}

// Report collects the outcomes of a publish pass or sweep.
type Report struct {
	Started  time.Time     `json:"started"`
	Finished time.Time     `json:"finished"`
	Outcomes []*Outcome    `json:"outcomes"`
	Errors   []error       `json:"-"`
	Failures []string      `json:"failures,omitempty"`
	DryRun   bool          `json:"dry_run"`
	Duration time.Duration `json:"duration"`
}

func newReport() *Report {
	return &Report{Started: time.Now()}
}

func (r *Report) add(o *Outcome, err error) {
	if o != nil {
		r.Outcomes = append(r.Outcomes, o)
	}
	if err != nil {
		r.Errors = append(r.Errors, err)
		r.Failures = append(r.Failures, err.Error())
	}
}

func (r *Report) merge(other *Report) {
	r.Outcomes = append(r.Outcomes, other.Outcomes...)
	r.Errors = append(r.Errors, other.Errors...)
	r.Failures = append(r.Failures, other.Failures...)
}

func (r *Report) finish() {
	r.Finished = time.Now()
	r.Duration = r.Finished.Sub(r.Started)
}

// Count returns how many outcomes took action a.
func (r *Report) Count(a Action) int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Action == a {
			n++
		}
	}
	return n
}

// Err joins every entity failure, or returns nil.
func (r *Report) Err() error {
	return errors.Join(r.Errors...)
}

package automation

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ActionResult is the outcome of executing exactly one Action.
//
// Results are created by the executor once dispatch returns and are passed
// by value afterwards; nothing mutates them.
type ActionResult struct {
	// RunID is the Execute call that produced this result.
	RunID string

	// Index is the action's position in its sequence.
	Index int

	Action Action

	Success bool

	// Value is the kind-specific payload: Match for image kinds, RGB for
	// pixel kinds, nil otherwise and on failure.
	Value any

	// Err is non-nil iff Success is false.
	Err error

	// Duration is wall-clock time measured around dispatch by the executor.
	Duration time.Duration

	// Timestamp is when dispatch started.
	Timestamp time.Time
}

// Class returns the classification of the result's error.
func (r ActionResult) Class() ErrorClass { return Classify(r.Err) }

// Match returns the result's match payload, if any.
func (r ActionResult) Match() (Match, bool) {
	m, ok := r.Value.(Match)
	return m, ok
}

// Color returns the result's colour payload, if any.
func (r ActionResult) Color() (RGB, bool) {
	c, ok := r.Value.(RGB)
	return c, ok
}

// Record flattens the result into its persisted and wire form.
func (r ActionResult) Record() ResultRecord {
	rec := ResultRecord{
		RunID:       r.RunID,
		Index:       r.Index,
		Kind:        r.Action.Kind(),
		Description: r.Action.Description(),
		Action:      r.Action.Definition(),
		Success:     r.Success,
		Value:       r.Value,
		ErrorClass:  r.Class(),
		DurationMS:  r.Duration.Milliseconds(),
		ExecutedAt:  r.Timestamp,
	}
	if r.Err != nil {
		rec.Error = r.Err.Error()
	}
	return rec
}

// MarshalJSON encodes the result as its ResultRecord.
func (r ActionResult) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.Record())
}

// ResultRecord is the serialisable form of an ActionResult.
type ResultRecord struct {
	RunID       string     `json:"run_id"`
	Index       int        `json:"index"`
	Kind        Kind       `json:"kind"`
	Description string     `json:"description,omitempty"`
	Action      Definition `json:"action"`
	Success     bool       `json:"success"`
	Value       any        `json:"value,omitempty"`
	ErrorClass  ErrorClass `json:"error_class,omitempty"`
	Error       string     `json:"error,omitempty"`
	DurationMS  int64      `json:"duration_ms"`
	ExecutedAt  time.Time  `json:"executed_at"`
}

// Err rebuilds an error that matches the record's class with errors.Is.
func (rec ResultRecord) Err() error {
	if rec.Success && rec.ErrorClass == ClassNone {
		return nil
	}
	return &classError{class: rec.ErrorClass, msg: rec.Error}
}

// Summary aggregates a set of results.
type Summary struct {
	Succeeded     int           `json:"succeeded"`
	Failed        int           `json:"failed"`
	TotalDuration time.Duration `json:"total_duration_ns"`
}

// Total is Succeeded + Failed.
func (s Summary) Total() int { return s.Succeeded + s.Failed }

// Summarise computes a Summary over results.
func Summarise(results []ActionResult) Summary {
	var s Summary
	for _, r := range results {
		if r.Success {
			s.Succeeded++
		} else {
			s.Failed++
		}
		s.TotalDuration += r.Duration
	}
	return s
}

// RunStatus is the final state of an Execute call.
type RunStatus string

// Run statuses.
const (
	// RunCompleted means every action was attempted and succeeded.
	RunCompleted RunStatus = "completed"
	// RunPartial means every action was attempted and at least one failed.
	RunPartial RunStatus = "partial"
	// RunFailed means a failure stopped the sequence early.
	RunFailed RunStatus = "failed"
	// RunCancelled means the context ended mid-sequence.
	RunCancelled RunStatus = "cancelled"
	// RunAborted means an unexpected error aborted the sequence.
	RunAborted RunStatus = "aborted"
)

// Run is the audit record of one Execute call.
type Run struct {
	ID            string         `json:"id"`
	Source        string         `json:"source,omitempty"`
	Status        RunStatus      `json:"status"`
	StopOnFailure bool           `json:"stop_on_failure"`
	ActionsTotal  int            `json:"actions_total"`
	Succeeded     int            `json:"succeeded"`
	Failed        int            `json:"failed"`
	StartedAt     time.Time      `json:"started_at"`
	CompletedAt   *time.Time     `json:"completed_at,omitempty"`
	DurationMS    int64          `json:"duration_ms"`
	Error         string         `json:"error,omitempty"`
	Results       []ResultRecord `json:"results,omitempty"`
}

// Attempted is the number of actions that produced a result.
func (r *Run) Attempted() int { return r.Succeeded + r.Failed }

// GenerateID returns a new run ID.
func GenerateID() string {
	return uuid.New().String()
}

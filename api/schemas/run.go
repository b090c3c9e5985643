// api/schemas/run.go
package schemas

import "time"

// RunState is a state of the flow controller's state machine.
type RunState string

const (
	StateIdle           RunState = "IDLE"
	StateDetecting      RunState = "DETECTING"
	StateFilling        RunState = "FILLING"
	StateAdvancing      RunState = "ADVANCING"
	StateWaitingForStep RunState = "WAITING_FOR_STEP"
	StateAtReview       RunState = "AT_REVIEW"
	StateDone           RunState = "DONE"
	StateAborted        RunState = "ABORTED"
)

// IsTerminal reports whether no further transitions are possible.
func (s RunState) IsTerminal() bool {
	return s == StateDone || s == StateAborted
}

// AbortReason explains an ABORTED run.
type AbortReason string

const (
	AbortNone             AbortReason = ""
	AbortNoFields         AbortReason = "no-fields"
	AbortNoAdvanceControl AbortReason = "no-advance-control"
	AbortStepTimeout      AbortReason = "step-timeout"
	AbortStepLimit        AbortReason = "step-limit"
	AbortBridgeError      AbortReason = "bridge-error"
	AbortCancelled        AbortReason = "cancelled"
	// AbortNavigation is used when the run's start URL cannot be loaded.
	AbortNavigation AbortReason = "navigation-error"
)

// StepReport summarizes one completed step.
type StepReport struct {
	Index       int            `json:"index"`
	Detected    int            `json:"detected"`
	Filled      int            `json:"filled"`
	Partial     int            `json:"partial"`
	Skipped     int            `json:"skipped"`
	SkipReasons map[Reason]int `json:"skip_reasons,omitempty"`
	// PageError holds text from an error indicator the page showed while
	// the engine waited for the next step.
	PageError string `json:"page_error,omitempty"`
}

// Record adds one field outcome to the report.
func (r *StepReport) Record(outcome Outcome, reason Reason) {
	switch outcome {
	case OutcomeFilled:
		r.Filled++
	case OutcomeFilledPartial:
		r.Filled++
		r.Partial++
	default:
		r.Skipped++
		if r.SkipReasons == nil {
			r.SkipReasons = make(map[Reason]int)
		}
		r.SkipReasons[reason]++
	}
}

// -- Engine Events --

// FillProgress is emitted once per processed field.
type FillProgress struct {
	RunID      string    `json:"run_id"`
	StepIndex  int       `json:"step_index"`
	FieldLabel string    `json:"field_label"`
	Outcome    Outcome   `json:"outcome"`
	Reason     Reason    `json:"reason,omitempty"`
	Detail     string    `json:"detail,omitempty"`
	At         time.Time `json:"at"`
}

// FillDone is emitted exactly once when a run reaches a terminal state.
type FillDone struct {
	RunID       string       `json:"run_id"`
	FinalState  RunState     `json:"final_state"`
	AbortReason AbortReason  `json:"abort_reason,omitempty"`
	Platform    string       `json:"platform,omitempty"`
	URL         string       `json:"url,omitempty"`
	StepReports []StepReport `json:"step_reports"`
}

// RunStatus answers the status command.
type RunStatus struct {
	RunID       string       `json:"run_id"`
	State       RunState     `json:"state"`
	AbortReason AbortReason  `json:"abort_reason,omitempty"`
	StepReports []StepReport `json:"step_reports"`
}

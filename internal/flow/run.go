package flow

import (
	"sync"

	"github.com/xkilldash9x/formpilot/api/schemas"
)

// Run is the observable state of one flow execution. The controller is its
// only writer; status queries read it concurrently.
type Run struct {
	ID string
	// StartURL, when set, is loaded before the first detection.
	StartURL string

	mu       sync.Mutex
	state    schemas.RunState
	abort    schemas.AbortReason
	history  []schemas.RunState
	reports  []schemas.StepReport
	platform string
	url      string
}

// NewRun returns a run in IDLE.
func NewRun(id string) *Run {
	return &Run{ID: id, state: schemas.StateIdle, history: []schemas.RunState{schemas.StateIdle}}
}

// State returns the current state.
func (r *Run) State() schemas.RunState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// History returns every state the run has entered, in order.
func (r *Run) History() []schemas.RunState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]schemas.RunState(nil), r.history...)
}

// Status answers the status command.
func (r *Run) Status() schemas.RunStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return schemas.RunStatus{
		RunID:       r.ID,
		State:       r.state,
		AbortReason: r.abort,
		StepReports: r.reportsLocked(),
	}
}

// Summary builds the FILL_DONE event for a terminal run.
func (r *Run) Summary() schemas.FillDone {
	r.mu.Lock()
	defer r.mu.Unlock()
	return schemas.FillDone{
		RunID:       r.ID,
		FinalState:  r.state,
		AbortReason: r.abort,
		Platform:    r.platform,
		URL:         r.url,
		StepReports: r.reportsLocked(),
	}
}

func (r *Run) reportsLocked() []schemas.StepReport {
	out := make([]schemas.StepReport, len(r.reports))
	copy(out, r.reports)
	return out
}

// enter moves the run to a new state. Terminal states are final.
func (r *Run) enter(s schemas.RunState) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state.IsTerminal() {
		return false
	}
	r.state = s
	r.history = append(r.history, s)
	return true
}

func (r *Run) abortWith(reason schemas.AbortReason) bool {
	if !r.enter(schemas.StateAborted) {
		return false
	}
	r.mu.Lock()
	r.abort = reason
	r.mu.Unlock()
	return true
}

func (r *Run) addReport(rep schemas.StepReport) {
	r.mu.Lock()
	r.reports = append(r.reports, rep)
	r.mu.Unlock()
}

func (r *Run) setPage(platform, url string) {
	r.mu.Lock()
	r.platform, r.url = platform, url
	r.mu.Unlock()
}

package cmd

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/xkilldash9x/formpilot/api/schemas"
)

func TestRenderSummary(t *testing.T) {
	done := schemas.FillDone{
		RunID:      "run-1",
		FinalState: schemas.StateDone,
		Platform:   "greenhouse",
		StepReports: []schemas.StepReport{
			{Index: 0, Detected: 3, Filled: 2, Skipped: 1, SkipReasons: map[schemas.Reason]int{schemas.ReasonNoMapping: 1}},
			{Index: 1, Detected: 2, Filled: 2, Partial: 1},
		},
	}
	out := renderSummary(done)

	assert.Contains(t, out, "run-1")
	assert.Contains(t, out, "DONE")
	assert.Contains(t, out, "greenhouse")
	assert.Contains(t, out, "step 1: 3 detected, 2 filled")
	assert.Contains(t, out, "NO_MAPPING=1")
	assert.Contains(t, out, "(1 partial)")
	assert.Contains(t, out, "4 filled, 1 skipped")
	assert.Contains(t, out, "submit it yourself")
}

func TestRenderSummaryAborted(t *testing.T) {
	out := renderSummary(schemas.FillDone{RunID: "run-2", FinalState: schemas.StateAborted, AbortReason: schemas.AbortCancelled})
	assert.Contains(t, out, "ABORTED (cancelled)")
	assert.NotContains(t, out, "submit it yourself")
	assert.False(t, reachedReview(schemas.FillDone{FinalState: schemas.StateAborted}))
	assert.True(t, reachedReview(schemas.FillDone{FinalState: schemas.StateDone}))
}

func TestFormatReasonsIsSorted(t *testing.T) {
	got := formatReasons(map[schemas.Reason]int{schemas.ReasonHidden: 2, schemas.ReasonFileField: 1})
	assert.Equal(t, "FILE_FIELD=1 HIDDEN=2", got)
}

func TestTeeEmitterForwardsToAll(t *testing.T) {
	var a, b bytes.Buffer
	tee := teeEmitter{newProgressPrinter(&a), newProgressPrinter(&b)}
	tee.Progress(schemas.FillProgress{StepIndex: 0, FieldLabel: "Email", Outcome: schemas.OutcomeFilled})
	tee.Progress(schemas.FillProgress{StepIndex: 1, FieldLabel: "Resume", Outcome: schemas.OutcomeSkipped, Reason: schemas.ReasonFileField})
	tee.Done(schemas.FillDone{})

	for _, buf := range []*bytes.Buffer{&a, &b} {
		assert.Contains(t, buf.String(), "[1] Email")
		assert.Contains(t, buf.String(), "[2] Resume (FILE_FIELD)")
	}
}

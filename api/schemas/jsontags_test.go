package schemas_test

import (
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/xkilldash9x/formpilot/api/schemas"
)

// TestStructJSONTags uses reflection to verify the json tags of the bridge
// payloads. These names are the contract with the UI and the backend.
func TestStructJSONTags(t *testing.T) {
	t.Parallel()
	testCases := []struct {
		name         string
		structRef    any
		expectedTags map[string]string
	}{
		{
			name:      "Envelope",
			structRef: schemas.Envelope{},
			expectedTags: map[string]string{
				"Kind":          "kind",
				"CorrelationID": "correlation_id,omitempty",
				"RunID":         "run_id,omitempty",
				"Payload":       "payload,omitempty",
				"Error":         "error,omitempty",
			},
		},
		{
			name:      "FillProgress",
			structRef: schemas.FillProgress{},
			expectedTags: map[string]string{
				"RunID":      "run_id",
				"StepIndex":  "step_index",
				"FieldLabel": "field_label",
				"Outcome":    "outcome",
				"Reason":     "reason,omitempty",
			},
		},
		{
			name:      "FillDone",
			structRef: schemas.FillDone{},
			expectedTags: map[string]string{
				"RunID":       "run_id",
				"FinalState":  "final_state",
				"AbortReason": "abort_reason,omitempty",
				"StepReports": "step_reports",
			},
		},
		{
			name:      "StepReport",
			structRef: schemas.StepReport{},
			expectedTags: map[string]string{
				"Index":       "index",
				"Detected":    "detected",
				"Filled":      "filled",
				"Skipped":     "skipped",
				"SkipReasons": "skip_reasons,omitempty",
			},
		},
		{
			name:      "MatchResult",
			structRef: schemas.MatchResult{},
			expectedTags: map[string]string{
				"Answer":     "answer,omitempty",
				"Confidence": "confidence_0_100",
				"MatchedID":  "matched_id,omitempty",
			},
		},
		{
			name:      "UserProfile",
			structRef: schemas.UserProfile{},
			expectedTags: map[string]string{
				"FirstName":      "first_name",
				"Email":          "email",
				"WorkAuthorized": "work_authorized,omitempty",
				"MinSalary":      "min_salary,omitempty",
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			typ := reflect.TypeOf(tc.structRef)
			for fieldName, expectedTag := range tc.expectedTags {
				field, found := typ.FieldByName(fieldName)
				if assert.True(t, found, "Field %s not found in struct %s", fieldName, tc.name) {
					assert.Equal(t, expectedTag, field.Tag.Get("json"), "Incorrect JSON tag for %s.%s", tc.name, fieldName)
				}
			}
		})
	}
}

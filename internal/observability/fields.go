// File: internal/observability/fields.go
package observability

import "go.uber.org/zap"

// Field keys shared by every component that logs about a run.
const (
	KeyRunID     = "run_id"
	KeyStep      = "step"
	KeyHandle    = "handle"
	KeyPlatform  = "platform"
	KeyState     = "state"
	KeyKind      = "kind"
	KeyMessageID = "correlation_id"
)

// ForRun returns a child of base tagged with the run identifier and a
// component name.
func ForRun(base *zap.Logger, component, runID string) *zap.Logger {
	if base == nil {
		base = GetLogger()
	}
	return base.Named(component).With(zap.String(KeyRunID, runID))
}

// Step tags a log line with the step index.
func Step(i int) zap.Field { return zap.Int(KeyStep, i) }

// Handle tags a log line with a page element handle.
func Handle(h string) zap.Field { return zap.String(KeyHandle, h) }

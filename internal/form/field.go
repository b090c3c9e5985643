// Package form turns an annotated page snapshot into the ordered list of
// fields the engine fills on the current step.
package form

import (
	"github.com/xkilldash9x/formpilot/api/schemas"
	"github.com/xkilldash9x/formpilot/internal/browser/dom"
)

// Field is the engine's view of one interactive input. Choice groups own
// one Option per member control.
type Field struct {
	Handle dom.Handle
	// Selector is a best-effort CSS selector, for logs only.
	Selector    string
	Label       string
	Name        string
	Placeholder string
	Variant     schemas.Variant
	Kind        schemas.Kind
	Required    bool
	Value       string
	Checked     bool
	Options     []Option
	// Order is the document position of the field's first element.
	Order int
}

// Option is one choice of a dropdown or one member of a group.
type Option struct {
	Text  string
	Value string
	// Handle is set for group members; dropdown options are addressed by Index.
	Handle  dom.Handle
	Index   int
	Checked bool
}

// IsGroup reports whether the field folds several member controls.
func (f Field) IsGroup() bool {
	return f.Variant == schemas.VariantChoiceGroup || f.Variant == schemas.VariantMultiChoice
}

// Handles returns every element handle the field owns.
func (f Field) Handles() []dom.Handle {
	if !f.IsGroup() {
		return []dom.Handle{f.Handle}
	}
	out := make([]dom.Handle, 0, len(f.Options))
	for _, o := range f.Options {
		out = append(out, o.Handle)
	}
	return out
}

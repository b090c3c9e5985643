package form

import (
	"fmt"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/xkilldash9x/formpilot/api/schemas"
	"github.com/xkilldash9x/formpilot/internal/browser/dom"
)

// minBlockInputs is the number of controls that makes a non-form block a
// candidate form.
const minBlockInputs = 5

const controlSelector = "input, select, textarea"

// Options tailor detection to a platform.
type Options struct {
	// Scope restricts detection to a subtree. Nil means the whole document.
	Scope *goquery.Selection
	// RequiredMarkers are classes that mark every control beneath them required.
	RequiredMarkers []string
	// LabelFor is consulted before the generic label chain. An empty result
	// falls through to the chain.
	LabelFor func(control *goquery.Selection) string
}

// Detect returns the admissible fields of the snapshot in document order.
// An empty result is a valid observation.
func Detect(snap *dom.Snapshot, opts Options) []Field {
	candidates := Candidates(snap.Doc.Selection)
	if opts.Scope != nil {
		// A platform scope is itself a candidate even below the block threshold.
		candidates = Candidates(opts.Scope).AddSelection(opts.Scope)
	}
	d := detection{
		opts:   opts,
		labels: labelSource{doc: snap.Doc},
		order:  documentOrder(snap),
	}
	return d.run(candidateControls(candidates))
}

// Candidates returns the candidate form containers of a scope: every form,
// plus blocks holding at least five controls outside any form.
func Candidates(scope *goquery.Selection) *goquery.Selection {
	forms := scope.Find("form").AddSelection(scope.Filter("form"))
	blocks := scope.Find("div, section, fieldset, main, article").FilterFunction(func(_ int, s *goquery.Selection) bool {
		return s.ParentsFiltered("form").Length() == 0 && s.Find(controlSelector).Length() >= minBlockInputs
	})
	return forms.AddSelection(blocks)
}

// candidateControls collects every control of every candidate, deduplicated
// by handle.
func candidateControls(candidates *goquery.Selection) []*goquery.Selection {
	seen := make(map[dom.Handle]bool)
	var out []*goquery.Selection
	candidates.Find(controlSelector).Each(func(_ int, s *goquery.Selection) {
		h := dom.HandleOf(s)
		if h == "" || seen[h] {
			return
		}
		seen[h] = true
		out = append(out, s)
	})
	return out
}

func documentOrder(snap *dom.Snapshot) map[dom.Handle]int {
	order := make(map[dom.Handle]int)
	snap.Doc.Find(controlSelector).Each(func(i int, s *goquery.Selection) {
		if h := dom.HandleOf(s); h != "" {
			order[h] = i
		}
	})
	return order
}

type detection struct {
	opts   Options
	labels labelSource
	order  map[dom.Handle]int
}

func (d detection) run(controls []*goquery.Selection) []Field {
	sort.SliceStable(controls, func(i, j int) bool {
		return d.order[dom.HandleOf(controls[i])] < d.order[dom.HandleOf(controls[j])]
	})

	var admissible []*goquery.Selection
	checkboxes := make(map[string]int)
	for _, c := range controls {
		if !Admissible(c) {
			continue
		}
		admissible = append(admissible, c)
		if inputType(c) == "checkbox" && c.AttrOr("name", "") != "" {
			checkboxes[c.AttrOr("name", "")]++
		}
	}

	var fields []Field
	groups := make(map[string]int) // group key -> index into fields
	for _, c := range admissible {
		name := c.AttrOr("name", "")
		key := ""
		switch t := inputType(c); {
		case t == "radio" && name != "":
			key = "radio:" + name
		case t == "checkbox" && checkboxes[name] > 1:
			key = "checkbox:" + name
		}
		if key == "" {
			fields = append(fields, d.single(c))
			continue
		}
		if i, ok := groups[key]; ok {
			fields[i].Options = append(fields[i].Options, d.member(c, len(fields[i].Options)))
			continue
		}
		groups[key] = len(fields)
		fields = append(fields, Field{
			Handle:   dom.HandleOf(c),
			Selector: selectorFor(c),
			Name:     name,
			Order:    d.order[dom.HandleOf(c)],
			Options:  []Option{d.member(c, 0)},
		})
	}

	for key, i := range groups {
		d.finishGroup(&fields[i], strings.HasPrefix(key, "radio:"))
	}
	return fields
}

// single builds the field of a standalone control.
func (d detection) single(c *goquery.Selection) Field {
	raw, label := d.label(c)
	f := Field{
		Handle:      dom.HandleOf(c),
		Selector:    selectorFor(c),
		Label:       label,
		Name:        c.AttrOr("name", ""),
		Placeholder: c.AttrOr("placeholder", ""),
		Variant:     variantOf(c),
		Value:       dom.Value(c),
		Order:       d.order[dom.HandleOf(c)],
	}
	f.Required = d.required(c, raw)
	switch f.Variant {
	case schemas.VariantBoolean:
		f.Checked = dom.Checked(c)
	case schemas.VariantChoiceGroup:
		// An unnamed radio is a group of one.
		f.Options = []Option{d.member(c, 0)}
	case schemas.VariantSingleChoice:
		f.Options = selectOptions(c)
		for _, o := range f.Options {
			if o.Checked {
				f.Value = o.Value
			}
		}
	}
	return f
}

func (d detection) label(c *goquery.Selection) (raw, label string) {
	if d.opts.LabelFor != nil {
		if raw := d.opts.LabelFor(c); Normalize(raw) != "" {
			return raw, Normalize(raw)
		}
	}
	return d.labels.resolve(c)
}

func (d detection) member(c *goquery.Selection, i int) Option {
	return Option{
		Text:    d.labels.optionLabel(c),
		Value:   c.AttrOr("value", "on"),
		Handle:  dom.HandleOf(c),
		Index:   i,
		Checked: dom.Checked(c),
	}
}

// finishGroup resolves the label, variant, value and required flag of a
// folded group once all members are known.
func (d detection) finishGroup(f *Field, radio bool) {
	f.Variant = schemas.VariantMultiChoice
	if radio {
		f.Variant = schemas.VariantChoiceGroup
	}

	members := make([]*goquery.Selection, 0, len(f.Options))
	var checked []string
	for _, o := range f.Options {
		if o.Checked {
			checked = append(checked, o.Value)
		}
		members = append(members, d.labels.doc.Find("["+dom.HandleAttr+"=\""+string(o.Handle)+"\"]"))
	}
	f.Value = strings.Join(checked, ",")

	all := members[0]
	for _, m := range members[1:] {
		all = all.AddSelection(m)
	}
	raw, label := d.labels.groupLabel(all, f.Name)
	f.Label = label
	for _, m := range members {
		if d.required(m, raw) {
			f.Required = true
		}
	}
}

func (d detection) required(c *goquery.Selection, rawLabel string) bool {
	if _, ok := c.Attr("required"); ok {
		return true
	}
	if strings.EqualFold(c.AttrOr("aria-required", ""), "true") {
		return true
	}
	if strings.Contains(rawLabel, "*") {
		return true
	}
	return dom.HasClass(c, d.opts.RequiredMarkers)
}

// -- Admissibility --

var skipTypes = map[string]bool{
	"hidden": true, "password": true, "submit": true, "button": true, "reset": true, "image": true,
}

var csrfNames = map[string]bool{
	"_token": true, "authenticity_token": true, "__requestverificationtoken": true,
}

// Admissible reports whether a control is a fillable field: not hidden by
// type, enabled, writable, rendered and not a known skip-kind.
func Admissible(c *goquery.Selection) bool {
	if goquery.NodeName(c) == "input" && skipTypes[inputType(c)] {
		return false
	}
	if _, ok := c.Attr("disabled"); ok {
		return false
	}
	if _, ok := c.Attr("readonly"); ok {
		return false
	}
	if strings.EqualFold(c.AttrOr("aria-disabled", ""), "true") {
		return false
	}
	if !dom.Rendered(c) {
		return false
	}
	return !isSkipKind(c)
}

func isSkipKind(c *goquery.Selection) bool {
	name := strings.ToLower(c.AttrOr("name", ""))
	ident := strings.ToLower(name + " " + c.AttrOr("id", "") + " " + c.AttrOr("class", ""))
	if strings.Contains(ident, "captcha") || strings.Contains(ident, "csrf") || strings.Contains(ident, "xsrf") {
		return true
	}
	return csrfNames[name]
}

func inputType(c *goquery.Selection) string {
	if goquery.NodeName(c) != "input" {
		return ""
	}
	t := strings.ToLower(strings.TrimSpace(c.AttrOr("type", "text")))
	if t == "" {
		return "text"
	}
	return t
}

// variantOf infers the variant of a standalone control from its tag and type.
func variantOf(c *goquery.Selection) schemas.Variant {
	switch goquery.NodeName(c) {
	case "textarea":
		return schemas.VariantMultilineText
	case "select":
		return schemas.VariantSingleChoice
	}
	switch inputType(c) {
	case "email":
		return schemas.VariantEmail
	case "tel":
		return schemas.VariantPhone
	case "number", "range":
		return schemas.VariantNumber
	case "date", "datetime-local", "month", "week", "time":
		return schemas.VariantDate
	case "file":
		return schemas.VariantFile
	case "checkbox":
		return schemas.VariantBoolean
	case "radio":
		return schemas.VariantChoiceGroup
	}
	return schemas.VariantText
}

func selectOptions(c *goquery.Selection) []Option {
	var opts []Option
	c.Find("option").Each(func(i int, o *goquery.Selection) {
		text := Normalize(o.Text())
		value, ok := o.Attr("value")
		if !ok {
			value = text
		}
		_, selected := o.Attr("selected")
		opts = append(opts, Option{Text: text, Value: value, Index: i, Checked: selected})
	})
	return opts
}

func selectorFor(c *goquery.Selection) string {
	tag := goquery.NodeName(c)
	if id := c.AttrOr("id", ""); id != "" {
		return fmt.Sprintf("%s#%s", tag, id)
	}
	if name := c.AttrOr("name", ""); name != "" {
		return fmt.Sprintf("%s[name=%q]", tag, name)
	}
	return fmt.Sprintf("[%s=%q]", dom.HandleAttr, string(dom.HandleOf(c)))
}

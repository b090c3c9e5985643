// Package adapter encapsulates per-site divergence: where the form lives,
// how its labels read, and which controls advance or submit it.
package adapter

import (
	"errors"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/xkilldash9x/formpilot/internal/browser/dom"
	"github.com/xkilldash9x/formpilot/internal/form"
)

// ErrNoControl is returned when an adapter cannot find an intent control.
var ErrNoControl = errors.New("adapter: no matching control")

// Control is an intent-bearing element located on a snapshot.
type Control struct {
	Handle dom.Handle
	Text   string
}

// Indicators are page signals watched while waiting for the next step.
type Indicators struct {
	Confirmation Locator
	Error        Locator
}

// Adapter is the capability set of one platform strategy.
type Adapter interface {
	Name() string
	Applies(snap *dom.Snapshot) bool
	DetectFields(snap *dom.Snapshot) []form.Field
	// NextControl locates the control that advances one step. It never
	// returns a control whose text reads as submission.
	NextControl(snap *dom.Snapshot) (Control, error)
	SubmitControl(snap *dom.Snapshot) (Control, error)
	IsReviewStep(snap *dom.Snapshot) bool
	// PreAttachedFile reports whether the page already holds an attachment
	// for a file field.
	PreAttachedFile(snap *dom.Snapshot, f form.Field) bool
	RequiredMarkers() []string
	Indicators() Indicators
}

// Intent locates the candidates for one action and ranks them by phrase.
type Intent struct {
	Locator Locator
	Phrases []string
}

// Platform is a table-driven Adapter. Every built-in adapter is a Platform.
type Platform struct {
	ID string
	// Hosts match the URL host by suffix. Markers match the document.
	Hosts   []string
	Markers Locator
	// Always makes the platform apply to every page.
	Always bool

	Scope    Locator
	Required []string
	LabelFor func(control *goquery.Selection) string

	Next   Intent
	Submit Intent
	// Review matches content shown only on the pre-submit review view.
	Review Locator
	// Attached matches an existing attachment near a file field.
	Attached Locator
	Signals  Indicators
}

var _ Adapter = (*Platform)(nil)

func (p *Platform) Name() string { return p.ID }

func (p *Platform) RequiredMarkers() []string { return p.Required }

func (p *Platform) Indicators() Indicators { return p.Signals }

// Applies matches the URL host first, then document markers.
func (p *Platform) Applies(snap *dom.Snapshot) bool {
	if p.Always {
		return true
	}
	for _, h := range p.Hosts {
		if onHost(snap.URL, h) {
			return true
		}
	}
	return p.Markers != nil && p.Markers.Find(snap.Doc.Selection).Length() > 0
}

// onHost reports whether raw's hostname is host or one of its subdomains.
func onHost(raw, host string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	name := strings.TrimSuffix(strings.ToLower(u.Hostname()), ".")
	return name == host || strings.HasSuffix(name, "."+host)
}

func (p *Platform) DetectFields(snap *dom.Snapshot) []form.Field {
	opts := form.Options{RequiredMarkers: p.Required, LabelFor: p.LabelFor}
	if p.Scope != nil {
		if scope := p.Scope.Find(snap.Doc.Selection); scope.Length() > 0 {
			opts.Scope = scope
		}
	}
	return form.Detect(snap, opts)
}

func (p *Platform) NextControl(snap *dom.Snapshot) (Control, error) {
	submitText := append(append([]string(nil), p.Submit.Phrases...), genericSubmitPhrases...)
	return locate(snap, p.Next, func(s *goquery.Selection) bool {
		_, isSubmit := elementPhrase(s, submitText, false)
		return !isSubmit
	})
}

func (p *Platform) SubmitControl(snap *dom.Snapshot) (Control, error) {
	return locate(snap, p.Submit, nil)
}

// IsReviewStep is true when review content is visible, or when a submit
// control is present without any way to advance (the last page of a
// single-page form).
func (p *Platform) IsReviewStep(snap *dom.Snapshot) bool {
	if p.Review != nil && visible(p.Review.Find(snap.Doc.Selection)).Length() > 0 {
		return true
	}
	if _, err := p.SubmitControl(snap); err != nil {
		return false
	}
	_, err := p.NextControl(snap)
	return errors.Is(err, ErrNoControl)
}

func (p *Platform) PreAttachedFile(snap *dom.Snapshot, f form.Field) bool {
	if p.Attached == nil {
		return false
	}
	el := snap.Find(f.Handle)
	// The indicator must live in the same field container as the input.
	for scope := el.Parent(); scope.Length() > 0 && !scope.Is("form, body"); scope = scope.Parent() {
		if scope.Find("input[type=file]").Length() > 1 {
			break
		}
		if hits := p.Attached.Find(scope); hits.Length() > 0 && strings.TrimSpace(hits.Text()+hits.AttrOr("value", "")) != "" {
			return true
		}
	}
	return false
}

// locate ranks the visible, enabled candidates of an intent. Higher phrase
// specificity wins, then primary styling; remaining ties go to the last
// candidate in document order.
func locate(snap *dom.Snapshot, in Intent, keep func(*goquery.Selection) bool) (Control, error) {
	if in.Locator == nil {
		return Control{}, ErrNoControl
	}
	order := make(map[dom.Handle]int)
	for i, h := range snap.Handles() {
		order[h] = i
	}

	var best Control
	bestScore, bestOrder := -1, -1
	visible(in.Locator.Find(snap.Doc.Selection)).Each(func(_ int, s *goquery.Selection) {
		h := dom.HandleOf(s)
		if h == "" || disabled(s) || (keep != nil && !keep(s)) {
			return
		}
		text := ElementText(s)
		score := 0
		if m, ok := elementPhrase(s, in.Phrases, false); ok {
			score = m.score()
		}
		if primary(s) {
			score++
		}
		if score > bestScore || (score == bestScore && order[h] > bestOrder) {
			best, bestScore, bestOrder = Control{Handle: h, Text: text}, score, order[h]
		}
	})
	if bestScore < 0 {
		return Control{}, ErrNoControl
	}
	return best, nil
}

func visible(sel *goquery.Selection) *goquery.Selection {
	return sel.FilterFunction(func(_ int, s *goquery.Selection) bool {
		if !dom.Rendered(s) {
			return false
		}
		// Unstamped review text has no size annotations of its own.
		if _, ok := s.Attr(dom.HandleAttr); !ok {
			return !hiddenAncestor(s)
		}
		return true
	})
}

func hiddenAncestor(s *goquery.Selection) bool {
	for p := s; p.Length() > 0; p = p.Parent() {
		if _, ok := p.Attr("hidden"); ok {
			return true
		}
		if strings.Contains(strings.ReplaceAll(p.AttrOr("style", ""), " ", ""), "display:none") {
			return true
		}
	}
	return false
}

func disabled(s *goquery.Selection) bool {
	if _, ok := s.Attr("disabled"); ok {
		return true
	}
	return strings.EqualFold(s.AttrOr("aria-disabled", ""), "true")
}

func primary(s *goquery.Selection) bool {
	class := strings.ToLower(s.AttrOr("class", ""))
	return strings.Contains(class, "primary") || strings.Contains(class, "cta")
}

// browser/dom/page.go
package dom

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// Handle identifies one element for the lifetime of a document. The page
// stamps it into the HandleAttr attribute and never reuses a value.
type Handle string

// Snapshot annotations written by the page before serialization.
const (
	HandleAttr  = "data-fp-id"
	WidthAttr   = "data-fp-w"
	HeightAttr  = "data-fp-h"
	ValueAttr   = "data-fp-value"
	CheckedAttr = "data-fp-checked"
)

// InteractiveSelector matches every element the page stamps with a handle.
const InteractiveSelector = "input, select, textarea, button, a, [role=button], [role=radio], [role=checkbox]"

// Event is a DOM notification dispatched after a mutation.
type Event string

const (
	EventInput  Event = "input"
	EventChange Event = "change"
	EventBlur   Event = "blur"
	EventClick  Event = "click"
	EventFocus  Event = "focus"
)

// ErrNoElement is returned when a handle no longer resolves to an element.
var ErrNoElement = errors.New("dom: element not found")

// Page is the minimal set of primitives the engine needs from a live document.
// Every mutation addresses an element by handle.
type Page interface {
	// URL returns the location of the current document.
	URL() string
	// Snapshot annotates the document and returns its parsed HTML.
	Snapshot(ctx context.Context) (*Snapshot, error)
	// Visible reports whether the element is still attached and rendered.
	Visible(ctx context.Context, h Handle) (bool, error)

	Focus(ctx context.Context, h Handle) error
	// Clear empties a text control's value.
	Clear(ctx context.Context, h Handle) error
	// TypeRune appends one character to the value and dispatches "input".
	TypeRune(ctx context.Context, h Handle, r rune) error
	Dispatch(ctx context.Context, h Handle, ev Event) error
	// SetChecked sets a checkbox or radio and dispatches "click" then "change".
	SetChecked(ctx context.Context, h Handle, checked bool) error
	// SelectIndex selects the option at idx and dispatches "input" then "change".
	SelectIndex(ctx context.Context, h Handle, idx int) error
	// Click activates the element.
	Click(ctx context.Context, h Handle) error
	// Highlight paints the element's background for d.
	Highlight(ctx context.Context, h Handle, color string, d time.Duration) error
}

// Snapshot is one annotated, parsed view of a document.
type Snapshot struct {
	URL string
	Doc *goquery.Document
}

// ParseSnapshot parses annotated HTML.
func ParseSnapshot(url string, r io.Reader) (*Snapshot, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("dom: failed to parse snapshot: %w", err)
	}
	return &Snapshot{URL: url, Doc: doc}, nil
}

// Find resolves a handle to its element. The selection is empty when the
// handle is not present.
func (s *Snapshot) Find(h Handle) *goquery.Selection {
	return s.Doc.Find(fmt.Sprintf("[%s=%q]", HandleAttr, string(h)))
}

// Handles returns every handle stamped on an interactive element, in
// document order.
func (s *Snapshot) Handles() []Handle {
	var out []Handle
	s.Doc.Find("[" + HandleAttr + "]").Each(func(_ int, sel *goquery.Selection) {
		out = append(out, HandleOf(sel))
	})
	return out
}

// InputHandles returns the handles of form controls only. Step identity is
// a comparison of these sets.
func (s *Snapshot) InputHandles() map[Handle]struct{} {
	set := make(map[Handle]struct{})
	s.Doc.Find("input, select, textarea").Each(func(_ int, sel *goquery.Selection) {
		if h := HandleOf(sel); h != "" {
			set[h] = struct{}{}
		}
	})
	return set
}

// Text returns the whitespace-collapsed text of the body without script or
// style content.
func (s *Snapshot) Text() string {
	body := s.Doc.Find("body").Clone()
	body.Find("script, style, noscript, template").Remove()
	return strings.Join(strings.Fields(body.Text()), " ")
}

// HandleOf returns the handle stamped on sel's first element.
func HandleOf(sel *goquery.Selection) Handle {
	v, _ := sel.Attr(HandleAttr)
	return Handle(v)
}

// Rendered reports whether the element has a non-zero rendered box. Missing
// annotations are read as rendered.
func Rendered(sel *goquery.Selection) bool {
	return dimension(sel, WidthAttr) != 0 && dimension(sel, HeightAttr) != 0
}

func dimension(sel *goquery.Selection, attr string) float64 {
	raw, ok := sel.Attr(attr)
	if !ok {
		return 1
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 1
	}
	return f
}

// Value returns the live value of a control, falling back to its value attribute.
func Value(sel *goquery.Selection) string {
	if v, ok := sel.Attr(ValueAttr); ok {
		return v
	}
	if goquery.NodeName(sel) == "textarea" {
		return sel.Text()
	}
	v, _ := sel.Attr("value")
	return v
}

// Checked returns the live checked state of a checkbox or radio.
func Checked(sel *goquery.Selection) bool {
	if v, ok := sel.Attr(CheckedAttr); ok {
		return v == "true"
	}
	_, ok := sel.Attr("checked")
	return ok
}

// HasClass reports whether sel or any ancestor carries one of the classes.
func HasClass(sel *goquery.Selection, classes []string) bool {
	for _, c := range classes {
		if c == "" {
			continue
		}
		if sel.HasClass(c) || sel.ParentsFiltered("."+c).Length() > 0 {
			return true
		}
	}
	return false
}

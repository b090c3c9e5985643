// Package domtest provides an in-memory dom.Page over goquery. Fixtures are
// plain HTML documents; the page stamps handles and rendered sizes the way
// the browser script does and records every dispatched event against a
// virtual clock.
package domtest

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/xkilldash9x/formpilot/internal/browser/dom"
)

// GotoAttr on a fixture element loads the step with that index when the
// element is clicked.
const GotoAttr = "data-goto"

// Clock is a virtual clock. Sleeping advances it instantly.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

func NewClock() *Clock {
	return &Clock{now: time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// Sleep implements humanoid.Sleeper.
func (c *Clock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.Advance(d)
	return nil
}

// Record is one event observed by the page.
type Record struct {
	At     time.Time
	Handle dom.Handle
	Event  dom.Event
	// Value is the control's value after the event.
	Value string
}

// Page is a scripted multi-step document.
type Page struct {
	mu      sync.Mutex
	clock   *Clock
	url     string
	steps   []string
	step    int
	doc     *goquery.Document
	seq     int
	records []Record
	colors  map[dom.Handle]string

	// OnType runs after every TypeRune with the control's new value.
	OnType func(h dom.Handle, value string)
	// OnClick runs after every Click, after any step navigation.
	OnClick func(h dom.Handle)
	// BeforeMutate may fail or panic to simulate a page rejecting a write.
	BeforeMutate func(h dom.Handle, op string) error
	// SnapshotErr, when set, is returned by Snapshot.
	SnapshotErr error
}

var _ dom.Page = (*Page)(nil)

// New loads steps[0]. A nil clock gets a fresh one.
func New(clock *Clock, url string, steps ...string) *Page {
	if clock == nil {
		clock = NewClock()
	}
	p := &Page{clock: clock, url: url, steps: steps, colors: make(map[dom.Handle]string)}
	if len(steps) > 0 {
		p.load(0)
	} else {
		p.loadHTML("<html><body></body></html>")
	}
	return p
}

func (p *Page) load(i int) {
	p.step = i
	p.loadHTML(p.steps[i])
}

func (p *Page) loadHTML(html string) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		panic(fmt.Sprintf("domtest: bad fixture: %v", err))
	}
	doc.Find(dom.InteractiveSelector).Each(func(_ int, sel *goquery.Selection) {
		p.seq++
		sel.SetAttr(dom.HandleAttr, "fp-"+strconv.Itoa(p.seq))
		if _, ok := sel.Attr(dom.WidthAttr); !ok {
			w, h := "120", "24"
			if hiddenByMarkup(sel) {
				w, h = "0", "0"
			}
			sel.SetAttr(dom.WidthAttr, w)
			sel.SetAttr(dom.HeightAttr, h)
		}
	})
	p.doc = doc
}

func hiddenByMarkup(sel *goquery.Selection) bool {
	for s := sel; s.Length() > 0; s = s.Parent() {
		if _, ok := s.Attr("hidden"); ok {
			return true
		}
		style, _ := s.Attr("style")
		if strings.Contains(strings.ReplaceAll(style, " ", ""), "display:none") {
			return true
		}
	}
	return false
}

// LoadStep replaces the document with fixture i, assigning fresh handles.
func (p *Page) LoadStep(i int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.load(i)
}

// Edit mutates the live document. Elements added by fn are not stamped.
func (p *Page) Edit(fn func(doc *goquery.Document)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fn(p.doc)
}

// Step returns the index of the loaded fixture.
func (p *Page) Step() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.step
}

func (p *Page) URL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url
}

func (p *Page) SetURL(u string) {
	p.mu.Lock()
	p.url = u
	p.mu.Unlock()
}

func (p *Page) Snapshot(ctx context.Context) (*dom.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.SnapshotErr != nil {
		return nil, p.SnapshotErr
	}
	html, err := p.doc.Html()
	if err != nil {
		return nil, err
	}
	return dom.ParseSnapshot(p.url, strings.NewReader(html))
}

func (p *Page) Visible(ctx context.Context, h dom.Handle) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	sel := p.find(h)
	return sel.Length() > 0 && dom.Rendered(sel), nil
}

// SetVisible changes the rendered size of an element.
func (p *Page) SetVisible(h dom.Handle, visible bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	w, ht := "0", "0"
	if visible {
		w, ht = "120", "24"
	}
	p.find(h).SetAttr(dom.WidthAttr, w).SetAttr(dom.HeightAttr, ht)
}

func (p *Page) Focus(ctx context.Context, h dom.Handle) error {
	return p.mutate(ctx, h, "focus", func(sel *goquery.Selection) {
		p.record(h, dom.EventFocus, dom.Value(sel))
	})
}

func (p *Page) Clear(ctx context.Context, h dom.Handle) error {
	return p.mutate(ctx, h, "clear", func(sel *goquery.Selection) {
		sel.SetAttr(dom.ValueAttr, "")
	})
}

func (p *Page) TypeRune(ctx context.Context, h dom.Handle, r rune) error {
	var value string
	err := p.mutate(ctx, h, "type", func(sel *goquery.Selection) {
		value = dom.Value(sel) + string(r)
		sel.SetAttr(dom.ValueAttr, value)
		p.record(h, dom.EventInput, value)
	})
	if err == nil && p.OnType != nil {
		p.OnType(h, value)
	}
	return err
}

func (p *Page) Dispatch(ctx context.Context, h dom.Handle, ev dom.Event) error {
	return p.mutate(ctx, h, "dispatch", func(sel *goquery.Selection) {
		p.record(h, ev, dom.Value(sel))
	})
}

func (p *Page) SetChecked(ctx context.Context, h dom.Handle, checked bool) error {
	return p.mutate(ctx, h, "check", func(sel *goquery.Selection) {
		if checked && strings.EqualFold(sel.AttrOr("type", ""), "radio") {
			name := sel.AttrOr("name", "")
			p.doc.Find(fmt.Sprintf("input[type=radio][name=%q]", name)).SetAttr(dom.CheckedAttr, "false")
		}
		sel.SetAttr(dom.CheckedAttr, strconv.FormatBool(checked))
		p.record(h, dom.EventClick, sel.AttrOr("value", ""))
		p.record(h, dom.EventChange, sel.AttrOr("value", ""))
	})
}

func (p *Page) SelectIndex(ctx context.Context, h dom.Handle, idx int) error {
	return p.mutate(ctx, h, "select", func(sel *goquery.Selection) {
		opts := sel.Find("option")
		opts.RemoveAttr("selected")
		opt := opts.Eq(idx)
		opt.SetAttr("selected", "selected")
		value, ok := opt.Attr("value")
		if !ok {
			value = strings.TrimSpace(opt.Text())
		}
		sel.SetAttr(dom.ValueAttr, value)
		p.record(h, dom.EventInput, value)
		p.record(h, dom.EventChange, value)
	})
}

func (p *Page) Click(ctx context.Context, h dom.Handle) error {
	target := -1
	err := p.mutate(ctx, h, "click", func(sel *goquery.Selection) {
		p.record(h, dom.EventClick, "")
		if raw, ok := sel.Attr(GotoAttr); ok {
			if n, err := strconv.Atoi(raw); err == nil && n >= 0 && n < len(p.steps) {
				target = n
			}
		}
		if target >= 0 {
			p.load(target)
		}
	})
	if err == nil && p.OnClick != nil {
		p.OnClick(h)
	}
	return err
}

func (p *Page) Highlight(ctx context.Context, h dom.Handle, color string, _ time.Duration) error {
	return p.mutate(ctx, h, "highlight", func(*goquery.Selection) {
		p.colors[h] = color
	})
}

// mutate runs fn on the element under the page lock.
func (p *Page) mutate(ctx context.Context, h dom.Handle, op string, fn func(*goquery.Selection)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if p.BeforeMutate != nil {
		if err := p.BeforeMutate(h, op); err != nil {
			return err
		}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	sel := p.find(h)
	if sel.Length() == 0 {
		return fmt.Errorf("%w: %s", dom.ErrNoElement, h)
	}
	fn(sel)
	return nil
}

func (p *Page) find(h dom.Handle) *goquery.Selection {
	return p.doc.Find(fmt.Sprintf("[%s=%q]", dom.HandleAttr, string(h)))
}

func (p *Page) record(h dom.Handle, ev dom.Event, value string) {
	p.records = append(p.records, Record{At: p.clock.Now(), Handle: h, Event: ev, Value: value})
}

// -- Inspection --

// Records returns a copy of every recorded event.
func (p *Page) Records() []Record {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Record(nil), p.records...)
}

// EventsFor returns the events recorded for one handle.
func (p *Page) EventsFor(h dom.Handle) []dom.Event {
	var out []dom.Event
	for _, r := range p.Records() {
		if r.Handle == h {
			out = append(out, r.Event)
		}
	}
	return out
}

// Clicked reports whether the element was ever clicked.
func (p *Page) Clicked(h dom.Handle) bool {
	for _, ev := range p.EventsFor(h) {
		if ev == dom.EventClick {
			return true
		}
	}
	return false
}

// Handle returns the handle of the first element matching css in the
// loaded document, or "" when nothing matches.
func (p *Page) Handle(css string) dom.Handle {
	p.mu.Lock()
	defer p.mu.Unlock()
	return dom.HandleOf(p.doc.Find(css).First())
}

// Value returns the live value of an element.
func (p *Page) Value(h dom.Handle) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return dom.Value(p.find(h))
}

// IsChecked returns the live checked state of an element.
func (p *Page) IsChecked(h dom.Handle) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return dom.Checked(p.find(h))
}

// HighlightColor returns the last highlight painted on an element.
func (p *Page) HighlightColor(h dom.Handle) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.colors[h]
}

package adapter

import (
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"
	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"
)

// Locator finds elements below a root. Adapters compose locators instead of
// passing selector strings through the engine.
type Locator interface {
	Find(root *goquery.Selection) *goquery.Selection
}

// CSS matches a CSS selector.
type CSS string

func (c CSS) Find(root *goquery.Selection) *goquery.Selection {
	return root.Find(string(c))
}

// Text matches elements among Tags whose text names one of Phrases. With
// Exact the whole text must equal a phrase; otherwise a whole-word
// occurrence is enough. Comparison is case-insensitive.
type Text struct {
	Tags    string
	Phrases []string
	Exact   bool
}

func (t Text) Find(root *goquery.Selection) *goquery.Selection {
	return root.Find(t.Tags).FilterFunction(func(_ int, s *goquery.Selection) bool {
		_, ok := elementPhrase(s, t.Phrases, t.Exact)
		return ok
	})
}

// PageText matches the body when its prose, excluding controls, names one
// of Phrases.
type PageText []string

func (p PageText) Find(root *goquery.Selection) *goquery.Selection {
	body := root.Find("body").AddSelection(root.Filter("body")).First()
	if body.Length() == 0 {
		return none(root)
	}
	prose := body.Clone()
	prose.Find("button, a, input, select, textarea, option, script, style, [role=button], [hidden]").Remove()
	if _, ok := bestPhrase(prose.Text(), p, false); ok {
		return body
	}
	return none(root)
}

// Attr matches elements among Tags whose attribute Name contains one of
// Values, case-insensitively. An empty Values matches presence.
type Attr struct {
	Tags   string
	Name   string
	Values []string
}

func (a Attr) Find(root *goquery.Selection) *goquery.Selection {
	tags := a.Tags
	if tags == "" {
		tags = "*"
	}
	return root.Find(tags).FilterFunction(func(_ int, s *goquery.Selection) bool {
		v, ok := s.Attr(a.Name)
		if !ok {
			return false
		}
		if len(a.Values) == 0 {
			return true
		}
		v = strings.ToLower(v)
		for _, want := range a.Values {
			if strings.Contains(v, strings.ToLower(want)) {
				return true
			}
		}
		return false
	})
}

// Within matches Inner below any match of Scope.
type Within struct {
	Scope Locator
	Inner Locator
}

func (w Within) Find(root *goquery.Selection) *goquery.Selection {
	return w.Inner.Find(w.Scope.Find(root))
}

// AnyOf is the union of its locators.
type AnyOf []Locator

func (a AnyOf) Find(root *goquery.Selection) *goquery.Selection {
	out := none(root)
	for _, l := range a {
		out = out.AddSelection(l.Find(root))
	}
	return out
}

// XPath matches an XPath expression evaluated from each root node. An
// invalid expression matches nothing.
type XPath string

func (x XPath) Find(root *goquery.Selection) *goquery.Selection {
	var nodes []*html.Node
	for _, n := range root.Nodes {
		found, err := htmlquery.QueryAll(n, string(x))
		if err != nil {
			return none(root)
		}
		nodes = append(nodes, found...)
	}
	return none(root).AddNodes(nodes...)
}

// none returns an empty selection on root's document. Its node slice is
// freshly allocated, so adding to it never writes into root.Nodes.
func none(root *goquery.Selection) *goquery.Selection {
	return root.FilterFunction(func(int, *goquery.Selection) bool { return false })
}

// ElementText is the text a user reads on an element: its content, else
// its value (for input buttons), else its accessible name.
func ElementText(s *goquery.Selection) string {
	for _, t := range []string{s.Text(), s.AttrOr("value", ""), s.AttrOr("aria-label", ""), s.AttrOr("title", "")} {
		if t = strings.Join(strings.Fields(t), " "); t != "" {
			return t
		}
	}
	return ""
}

// elementPhrase matches phrases against an element's text and its
// accessible name, keeping the more specific match.
func elementPhrase(s *goquery.Selection, phrases []string, exactOnly bool) (phraseMatch, bool) {
	best, ok := bestPhrase(ElementText(s), phrases, exactOnly)
	if aria := s.AttrOr("aria-label", ""); aria != "" {
		if m, found := bestPhrase(aria, phrases, exactOnly); found && (!ok || m.score() > best.score()) {
			best, ok = m, true
		}
	}
	return best, ok
}

// fold lowercases and turns runs of non-alphanumerics into single spaces.
func fold(text string) string {
	var b strings.Builder
	space := true
	for _, r := range strings.ToLower(text) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			space = false
			continue
		}
		if !space {
			b.WriteByte(' ')
			space = true
		}
	}
	return strings.TrimSpace(b.String())
}

// phraseMatch describes how specifically a text names a phrase.
type phraseMatch struct {
	words int
	exact bool
}

func (m phraseMatch) score() int {
	s := m.words * 10
	if m.exact {
		s += 5
	}
	return s
}

// bestPhrase returns the most specific phrase occurring in text.
func bestPhrase(text string, phrases []string, exactOnly bool) (phraseMatch, bool) {
	folded := fold(text)
	if folded == "" {
		return phraseMatch{}, false
	}
	padded := " " + folded + " "
	var best phraseMatch
	found := false
	for _, p := range phrases {
		fp := fold(p)
		if fp == "" {
			continue
		}
		m := phraseMatch{words: len(strings.Fields(fp)), exact: folded == fp}
		if !m.exact && (exactOnly || !strings.Contains(padded, " "+fp+" ")) {
			continue
		}
		if !found || m.score() > best.score() {
			best, found = m, true
		}
	}
	return best, found
}

package form

import (
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"
	"github.com/xkilldash9x/formpilot/internal/browser/dom"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// UnknownLabel is the label of a field nothing else could name.
const UnknownLabel = "Unknown Field"

var titleCaser = cases.Title(language.English)

// Normalize collapses whitespace and strips trailing colons and
// required-indicator asterisks.
func Normalize(raw string) string {
	s := strings.Join(strings.Fields(raw), " ")
	for {
		trimmed := strings.TrimSpace(strings.TrimLeft(strings.TrimRight(s, " :*"), " *"))
		if trimmed == s {
			return s
		}
		s = trimmed
	}
}

// Humanize turns a programmatic name into a title-cased label:
// "first_name" and "firstName" both become "First Name".
func Humanize(name string) string {
	var b strings.Builder
	var prev rune
	for _, r := range name {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if unicode.IsUpper(r) && unicode.IsLower(prev) {
				b.WriteRune(' ')
			}
			b.WriteRune(r)
		default:
			b.WriteRune(' ')
		}
		prev = r
	}
	words := strings.Fields(b.String())
	if len(words) == 0 {
		return ""
	}
	return titleCaser.String(strings.Join(words, " "))
}

// labelSource resolves the raw label of one control. The raw text is kept
// so callers can spot required asterisks before normalization drops them.
type labelSource struct {
	doc *goquery.Document
}

// resolve walks the label priority chain and returns the first candidate
// that is non-empty after normalization.
func (ls labelSource) resolve(sel *goquery.Selection) (raw, label string) {
	candidates := []func() string{
		func() string { return ls.forLabel(sel) },
		func() string { return ls.enclosingLabel(sel) },
		func() string { return ls.precedingLabel(sel) },
		func() string { return ls.accessibleName(sel) },
		func() string { return sel.AttrOr("placeholder", "") },
		func() string { return Humanize(sel.AttrOr("name", "")) },
	}
	for _, c := range candidates {
		raw = c()
		if label = Normalize(raw); label != "" {
			return raw, label
		}
	}
	return "", UnknownLabel
}

// forLabel is the text of a label whose for attribute names the control.
func (ls labelSource) forLabel(sel *goquery.Selection) string {
	id, ok := sel.Attr("id")
	if !ok || id == "" {
		return ""
	}
	lbl := ls.doc.Find("label[for]").FilterFunction(func(_ int, l *goquery.Selection) bool {
		return l.AttrOr("for", "") == id
	}).First()
	return lbl.Text()
}

// enclosingLabel is the innermost wrapping label, minus the control's own text.
func (ls labelSource) enclosingLabel(sel *goquery.Selection) string {
	lbl := sel.Closest("label")
	if lbl.Length() == 0 {
		return ""
	}
	clone := lbl.Clone()
	if h := dom.HandleOf(sel); h != "" {
		clone.Find("[" + dom.HandleAttr + "=\"" + string(h) + "\"]").Remove()
	} else {
		clone.Find(goquery.NodeName(sel)).Remove()
	}
	return clone.Text()
}

func (ls labelSource) precedingLabel(sel *goquery.Selection) string {
	prev := sel.Prev()
	if goquery.NodeName(prev) != "label" {
		return ""
	}
	return prev.Text()
}

// accessibleName reads aria-label, then the elements named by aria-labelledby.
func (ls labelSource) accessibleName(sel *goquery.Selection) string {
	if v := sel.AttrOr("aria-label", ""); strings.TrimSpace(v) != "" {
		return v
	}
	return ls.labelledBy(sel)
}

func (ls labelSource) labelledBy(sel *goquery.Selection) string {
	ids := strings.Fields(sel.AttrOr("aria-labelledby", ""))
	if len(ids) == 0 {
		return ""
	}
	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		target := ls.doc.Find("[id]").FilterFunction(func(_ int, s *goquery.Selection) bool {
			return s.AttrOr("id", "") == id
		}).First()
		if t := strings.TrimSpace(target.Text()); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, " ")
}

// optionLabel names one member of a radio or checkbox group.
func (ls labelSource) optionLabel(sel *goquery.Selection) string {
	for _, raw := range []string{
		ls.forLabel(sel),
		ls.enclosingLabel(sel),
		followingLabel(sel),
		sel.AttrOr("aria-label", ""),
		sel.AttrOr("value", ""),
	} {
		if l := Normalize(raw); l != "" {
			return l
		}
	}
	return ""
}

func followingLabel(sel *goquery.Selection) string {
	next := sel.Next()
	if goquery.NodeName(next) != "label" {
		return ""
	}
	return next.Text()
}

var labelLikeTags = map[string]bool{
	"label": true, "legend": true, "p": true, "span": true, "div": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"strong": true, "b": true, "dt": true,
}

// groupLabel names a radio or checkbox group: fieldset legend, then an
// ARIA group name, then label-like text beside the group container, then
// the humanized group name.
func (ls labelSource) groupLabel(members *goquery.Selection, name string) (raw, label string) {
	first := members.First()

	candidates := []func() string{
		func() string {
			return first.Closest("fieldset").ChildrenFiltered("legend").First().Text()
		},
		func() string {
			grp := first.Closest("[role=radiogroup], [role=group]")
			if grp.Length() == 0 {
				return ""
			}
			return ls.accessibleName(grp)
		},
		func() string { return nearbyHeading(groupContainer(members)) },
		func() string { return Humanize(name) },
	}
	for _, c := range candidates {
		raw = c()
		if label = Normalize(raw); label != "" {
			return raw, label
		}
	}
	return "", UnknownLabel
}

// groupContainer is the nearest ancestor holding every member.
func groupContainer(members *goquery.Selection) *goquery.Selection {
	container := members.First().Parent()
	for container.Length() > 0 && goquery.NodeName(container) != "body" {
		all := true
		members.Each(func(_ int, m *goquery.Selection) {
			if all && !container.Contains(m.Get(0)) {
				all = false
			}
		})
		if all && goquery.NodeName(container) != "label" {
			return container
		}
		container = container.Parent()
	}
	return container
}

// nearbyHeading looks for label-like text ahead of the first control: first
// among the container's children, then among its preceding siblings (nearest
// first), then one level up.
func nearbyHeading(container *goquery.Selection) string {
	for level := 0; level < 2 && container.Length() > 0; level++ {
		if t := firstLabelLike(container.Children()); t != "" {
			return t
		}
		if t := firstLabelLike(container.PrevAll()); t != "" {
			return t
		}
		container = container.Parent()
	}
	return ""
}

func firstLabelLike(sel *goquery.Selection) string {
	var found string
	sel.EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if s.Is("input, select, textarea") || s.Find("input, select, textarea").Length() > 0 {
			return false
		}
		if !labelLikeTags[goquery.NodeName(s)] {
			return true
		}
		if t := strings.TrimSpace(s.Text()); t != "" {
			found = t
			return false
		}
		return true
	})
	return found
}

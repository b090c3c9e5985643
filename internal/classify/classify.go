// Package classify assigns a semantic kind to each detected field.
package classify

import (
	"strings"
	"unicode"

	"github.com/xkilldash9x/formpilot/api/schemas"
	"github.com/xkilldash9x/formpilot/internal/form"
)

// phrases is the literal dictionary per kind. Matching is whole-word on
// normalized text, so longer phrases are strictly more specific.
var phrases = map[schemas.Kind][]string{
	schemas.KindFirstName:           {"first name", "given name", "forename", "legal first name", "preferred first name", "fname"},
	schemas.KindLastName:            {"last name", "family name", "surname", "legal last name", "lname"},
	schemas.KindEmail:               {"email", "e mail", "email address"},
	schemas.KindPhone:               {"phone", "phone number", "mobile", "mobile number", "telephone", "cell phone"},
	schemas.KindLinkedInURL:         {"linkedin", "linkedin url", "linkedin profile"},
	schemas.KindGitHubURL:           {"github", "github url", "github profile"},
	schemas.KindPortfolioURL:        {"portfolio", "portfolio url", "website", "personal website", "personal site"},
	schemas.KindStreet:              {"street", "address", "street address", "address line 1", "address 1"},
	schemas.KindCity:                {"city", "town"},
	schemas.KindState:               {"state", "province", "state province", "region"},
	schemas.KindPostalCode:          {"zip", "zip code", "postal code", "postcode"},
	schemas.KindCountry:             {"country", "country of residence"},
	schemas.KindWorkAuthorized:      {"legally authorized to work", "authorized to work", "work authorization", "eligible to work", "right to work"},
	schemas.KindRequiresSponsorship: {"visa sponsorship", "require sponsorship", "sponsorship", "require visa", "need sponsorship"},
	schemas.KindYearsExperience:     {"years of experience", "total experience", "years experience", "how many years"},
	schemas.KindCurrentTitle:        {"current title", "job title", "current job title", "current position", "current role"},
	schemas.KindDesiredSalary:       {"desired salary", "expected salary", "salary expectation", "salary expectations", "desired compensation", "compensation expectations"},
	schemas.KindNoticePeriod:        {"notice period", "how much notice", "weeks notice"},
	schemas.KindResumeFile:          {"resume", "cv", "curriculum vitae", "resume cv"},
	schemas.KindCoverLetterFile:     {"cover letter"},
}

// Classifier maps fields to semantic kinds.
type Classifier struct {
	phrases map[schemas.Kind][]string
}

// New returns a classifier over the built-in dictionary.
func New() *Classifier {
	return &Classifier{phrases: phrases}
}

// Classify returns the kind of one field. Variant overrides come first,
// then the label, then the humanized programmatic name. Attachment kinds
// are reserved for file inputs: a text box labelled "Cover Letter" is a
// free-form question.
func (c *Classifier) Classify(f form.Field) schemas.Kind {
	k := c.classify(f)
	if k.IsFile() && f.Variant != schemas.VariantFile {
		return schemas.KindUnknown
	}
	return k
}

func (c *Classifier) classify(f form.Field) schemas.Kind {
	switch f.Variant {
	case schemas.VariantEmail:
		return schemas.KindEmail
	case schemas.VariantPhone:
		return schemas.KindPhone
	case schemas.VariantFile:
		if strings.Contains(strings.ToLower(f.Label), "cover") {
			return schemas.KindCoverLetterFile
		}
		return schemas.KindResumeFile
	}
	if k := c.Match(f.Label); k != schemas.KindUnknown {
		return k
	}
	return c.Match(form.Humanize(f.Name))
}

// ClassifyAll sets Kind on every field in place.
func (c *Classifier) ClassifyAll(fields []form.Field) {
	for i := range fields {
		fields[i].Kind = c.Classify(fields[i])
	}
}

// Match finds the kind whose phrase matches text most specifically. The
// longest matched phrase wins; equal lengths go to the earlier kind in
// schemas.Kinds.
func (c *Classifier) Match(text string) schemas.Kind {
	padded := " " + fold(text) + " "
	if strings.TrimSpace(padded) == "" {
		return schemas.KindUnknown
	}

	best, bestLen := schemas.KindUnknown, 0
	for _, kind := range schemas.Kinds {
		for _, p := range c.phrases[kind] {
			if len(p) > bestLen && strings.Contains(padded, " "+p+" ") {
				best, bestLen = kind, len(p)
			}
		}
	}
	return best
}

// fold lowercases text and turns every run of non-alphanumerics into one space.
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

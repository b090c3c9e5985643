package classify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/xkilldash9x/formpilot/api/schemas"
	"github.com/xkilldash9x/formpilot/internal/form"
)

func TestMatchDictionary(t *testing.T) {
	c := New()
	cases := []struct {
		label string
		want  schemas.Kind
	}{
		{"First Name", schemas.KindFirstName},
		{"Given name(s)", schemas.KindFirstName},
		{"Surname", schemas.KindLastName},
		{"E-mail", schemas.KindEmail},
		{"Email address", schemas.KindEmail},
		{"LinkedIn URL", schemas.KindLinkedInURL},
		{"GitHub profile", schemas.KindGitHubURL},
		{"Personal website", schemas.KindPortfolioURL},
		{"Street address", schemas.KindStreet},
		{"City", schemas.KindCity},
		{"State / Province", schemas.KindState},
		{"ZIP code", schemas.KindPostalCode},
		{"Country of residence", schemas.KindCountry},
		{"Are you legally authorized to work in the United States?", schemas.KindWorkAuthorized},
		{"Will you now or in the future require sponsorship?", schemas.KindRequiresSponsorship},
		{"Years of experience", schemas.KindYearsExperience},
		{"Current job title", schemas.KindCurrentTitle},
		{"Salary expectations", schemas.KindDesiredSalary},
		{"Notice period", schemas.KindNoticePeriod},
		{"Why are you interested in this role?", schemas.KindUnknown},
		{"", schemas.KindUnknown},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, c.Match(tc.label), tc.label)
	}
}

func TestMatchIsWholeWord(t *testing.T) {
	c := New()
	assert.Equal(t, schemas.KindUnknown, c.Match("Ethnicity"), "city inside a word is not a match")
	assert.Equal(t, schemas.KindUnknown, c.Match("Statement of purpose"))
	assert.Equal(t, schemas.KindUnknown, c.Match("Emailing preferences"))
}

func TestMatchTieBreaks(t *testing.T) {
	c := New()
	// "email address" (13) beats "address" (7).
	assert.Equal(t, schemas.KindEmail, c.Match("Email Address"))
	// "legally authorized to work" beats the shorter sponsorship phrase.
	assert.Equal(t, schemas.KindWorkAuthorized, c.Match("Legally authorized to work without sponsorship"))

	// Equal-length phrases resolve to the earlier enumerated kind.
	tie := &Classifier{phrases: map[schemas.Kind][]string{
		schemas.KindCity:  {"home"},
		schemas.KindState: {"base"},
	}}
	assert.Equal(t, schemas.KindCity, tie.Match("home base"))
	assert.Equal(t, schemas.KindCity, tie.Match("base home"))
}

func TestClassifyVariantOverrides(t *testing.T) {
	c := New()
	assert.Equal(t, schemas.KindEmail, c.Classify(form.Field{Label: "Contact", Variant: schemas.VariantEmail}))
	assert.Equal(t, schemas.KindPhone, c.Classify(form.Field{Label: "Anything", Variant: schemas.VariantPhone}))
	assert.Equal(t, schemas.KindResumeFile, c.Classify(form.Field{Label: "Attachment", Variant: schemas.VariantFile}))
	assert.Equal(t, schemas.KindCoverLetterFile, c.Classify(form.Field{Label: "Cover Letter (optional)", Variant: schemas.VariantFile}))
}

func TestAttachmentKindsNeedFileInputs(t *testing.T) {
	c := New()
	assert.Equal(t, schemas.KindUnknown, c.Classify(form.Field{Label: "Cover Letter", Variant: schemas.VariantMultilineText}))
	assert.Equal(t, schemas.KindUnknown, c.Classify(form.Field{Label: "Resume", Variant: schemas.VariantText}))
	assert.Equal(t, schemas.KindUnknown, c.Classify(form.Field{Label: "Paste here", Name: "cv", Variant: schemas.VariantMultilineText}))
	assert.Equal(t, schemas.KindResumeFile, c.Classify(form.Field{Label: "Resume", Variant: schemas.VariantFile}))
}

func TestClassifyFallsBackToName(t *testing.T) {
	c := New()
	f := form.Field{Label: "Your answer", Name: "postal_code", Variant: schemas.VariantText}
	assert.Equal(t, schemas.KindPostalCode, c.Classify(f))

	f = form.Field{Label: "City", Name: "email", Variant: schemas.VariantText}
	assert.Equal(t, schemas.KindCity, c.Classify(f), "label wins over name")
}

func TestClassifyAll(t *testing.T) {
	fields := []form.Field{
		{Label: "First Name", Variant: schemas.VariantText},
		{Label: "Resume", Variant: schemas.VariantFile},
		{Label: "Anything else?", Variant: schemas.VariantMultilineText},
	}
	New().ClassifyAll(fields)
	assert.Equal(t, []schemas.Kind{schemas.KindFirstName, schemas.KindResumeFile, schemas.KindUnknown},
		[]schemas.Kind{fields[0].Kind, fields[1].Kind, fields[2].Kind})
}

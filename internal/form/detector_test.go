package form

import (
	"context"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xkilldash9x/formpilot/api/schemas"
	"github.com/xkilldash9x/formpilot/internal/browser/dom"
	"github.com/xkilldash9x/formpilot/internal/browser/dom/domtest"
)

func snapshot(t *testing.T, html string) (*dom.Snapshot, *domtest.Page) {
	t.Helper()
	page := domtest.New(nil, "https://jobs.example.test/apply", html)
	snap, err := page.Snapshot(context.Background())
	require.NoError(t, err)
	return snap, page
}

func labels(fields []Field) []string {
	out := make([]string, len(fields))
	for i, f := range fields {
		out[i] = f.Label
	}
	return out
}

func TestLabelPriorityChain(t *testing.T) {
	snap, _ := snapshot(t, `<html><body><form>
		<label for="fn">First Name *</label><input id="fn" name="fn" placeholder="ignored">
		<label>Last   Name: <input name="ln"></label>
		<label>Email</label><input name="em" type="email">
		<input name="ph" type="tel" aria-label="Phone number">
		<span id="city-lbl">City</span><input name="c" aria-labelledby="city-lbl">
		<input name="pc" placeholder="Postal code">
		<input name="linkedin_url">
		<input>
	</form></body></html>`)

	fields := Detect(snap, Options{})
	assert.Equal(t, []string{
		"First Name", "Last Name", "Email", "Phone number", "City", "Postal code", "Linkedin Url", UnknownLabel,
	}, labels(fields))
	assert.True(t, fields[0].Required, "asterisk in the raw label marks required")
	assert.False(t, fields[1].Required)
	assert.Equal(t, schemas.VariantEmail, fields[2].Variant)
	assert.Equal(t, schemas.VariantPhone, fields[3].Variant)
}

func TestEnclosingLabelStripsOwnText(t *testing.T) {
	snap, _ := snapshot(t, `<html><body><form>
		<label>Country <select name="country"><option>Canada</option><option>Chile</option></select></label>
	</form></body></html>`)

	fields := Detect(snap, Options{})
	require.Len(t, fields, 1)
	assert.Equal(t, "Country", fields[0].Label)
	assert.Equal(t, schemas.VariantSingleChoice, fields[0].Variant)
	require.Len(t, fields[0].Options, 2)
	assert.Equal(t, "Chile", fields[0].Options[1].Value, "value falls back to option text")
}

func TestAdmissibility(t *testing.T) {
	snap, _ := snapshot(t, `<html><body><form>
		<input type="hidden" name="h">
		<input type="password" name="pw">
		<input type="submit" value="Go">
		<input name="dis" disabled>
		<input name="ro" readonly>
		<input name="ghost" style="display:none">
		<input name="zero" data-fp-w="0" data-fp-h="0">
		<textarea name="g-recaptcha-response"></textarea>
		<input name="authenticity_token">
		<input name="csrf_field">
		<input name="keep">
	</form></body></html>`)

	fields := Detect(snap, Options{})
	require.Len(t, fields, 1)
	assert.Equal(t, "keep", fields[0].Name)
}

func TestGroupsFold(t *testing.T) {
	snap, _ := snapshot(t, `<html><body><form>
		<fieldset><legend>Are you legally authorized to work in the United States?</legend>
			<label><input type="radio" name="auth" value="yes" required> Yes</label>
			<label><input type="radio" name="auth" value="no"> No</label>
		</fieldset>
		<div class="q"><p>Which languages do you speak?</p>
			<input type="checkbox" id="l1" name="lang" value="en"><label for="l1">English</label>
			<input type="checkbox" id="l2" name="lang" value="fr" checked><label for="l2">French</label>
		</div>
		<label><input type="checkbox" name="terms"> I agree to the terms</label>
	</form></body></html>`)

	fields := Detect(snap, Options{})
	require.Len(t, fields, 3)

	auth := fields[0]
	assert.Equal(t, schemas.VariantChoiceGroup, auth.Variant)
	assert.Equal(t, "Are you legally authorized to work in the United States?", auth.Label)
	assert.True(t, auth.Required)
	require.Len(t, auth.Options, 2)
	assert.Equal(t, "Yes", auth.Options[0].Text)
	assert.Equal(t, "no", auth.Options[1].Value)
	assert.NotEqual(t, auth.Options[0].Handle, auth.Options[1].Handle)

	lang := fields[1]
	assert.Equal(t, schemas.VariantMultiChoice, lang.Variant)
	assert.Equal(t, "Which languages do you speak?", lang.Label)
	assert.Equal(t, "fr", lang.Value)
	assert.Equal(t, []string{"English", "French"}, []string{lang.Options[0].Text, lang.Options[1].Text})

	terms := fields[2]
	assert.Equal(t, schemas.VariantBoolean, terms.Variant)
	assert.Equal(t, "I agree to the terms", terms.Label)
}

func TestGroupLabelFromSiblingAndAria(t *testing.T) {
	snap, _ := snapshot(t, `<html><body><form>
		<div><label>Do you require visa sponsorship?</label>
			<div class="opts"><input type="radio" name="visa" value="Yes"><input type="radio" name="visa" value="No"></div>
		</div>
		<div role="radiogroup" aria-label="Preferred shift">
			<input type="radio" name="shift" value="day"><input type="radio" name="shift" value="night">
		</div>
		<div><input type="radio" name="remote_ok" value="y"></div>
	</form></body></html>`)

	fields := Detect(snap, Options{})
	assert.Equal(t, []string{"Do you require visa sponsorship?", "Preferred shift", "Remote Ok"}, labels(fields))
	assert.Equal(t, "Yes", fields[0].Options[0].Text, "member text falls back to value")
}

func TestCandidateBlocks(t *testing.T) {
	snap, _ := snapshot(t, `<html><body>
		<div id="search"><input name="q"></div>
		<section id="apply">
			<input name="a"><input name="b"><input name="c"><input name="d"><input name="e">
		</section>
		<form><input name="f"></form>
	</body></html>`)

	fields := Detect(snap, Options{})
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = f.Name
	}
	assert.Equal(t, []string{"a", "b", "c", "d", "e", "f"}, names, "a lone input outside any candidate is ignored")
	for i := 1; i < len(fields); i++ {
		assert.Less(t, fields[i-1].Order, fields[i].Order)
	}
}

func TestOptionsScopeMarkersAndLabelHook(t *testing.T) {
	snap, _ := snapshot(t, `<html><body>
		<form id="newsletter"><input name="subscribe_email"></form>
		<div class="modal">
			<div class="is-required"><span class="lbl">Mobile</span><input name="m"></div>
			<input name="other" aria-label="Other">
		</div>
	</body></html>`)

	fields := Detect(snap, Options{
		Scope:           snap.Doc.Find(".modal"),
		RequiredMarkers: []string{"is-required"},
		LabelFor: func(c *goquery.Selection) string {
			return c.Prev().Filter(".lbl").Text()
		},
	})
	require.Len(t, fields, 2)
	assert.Equal(t, "Mobile", fields[0].Label)
	assert.True(t, fields[0].Required)
	assert.Equal(t, "Other", fields[1].Label, "empty hook result falls through to the chain")
	assert.False(t, fields[1].Required)
}

func TestDetectEmptyDocument(t *testing.T) {
	snap, _ := snapshot(t, `<html><body><p>Thanks for applying.</p></body></html>`)
	assert.Empty(t, Detect(snap, Options{}))
}

func TestDetectReadsLiveState(t *testing.T) {
	snap, _ := snapshot(t, `<html><body><form>
		<input name="first" data-fp-value="Ada">
		<select name="s"><option value="a">A</option><option value="b" selected>B</option></select>
	</form></body></html>`)

	fields := Detect(snap, Options{})
	require.Len(t, fields, 2)
	assert.Equal(t, "Ada", fields[0].Value)
	assert.Equal(t, "b", fields[1].Value)
	assert.Equal(t, `input[name="first"]`, fields[0].Selector)
}

package adapter

import (
	"context"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/html"

	"github.com/xkilldash9x/formpilot/internal/browser/dom"
	"github.com/xkilldash9x/formpilot/internal/browser/dom/domtest"
)

func snap(t *testing.T, url, html string) (*dom.Snapshot, *domtest.Page) {
	t.Helper()
	page := domtest.New(nil, url, html)
	s, err := page.Snapshot(context.Background())
	require.NoError(t, err)
	return s, page
}

func TestGenericNextNeverReturnsSubmit(t *testing.T) {
	s, page := snap(t, "https://careers.example.test", `<html><body><form>
		<input name="a">
		<button>Submit</button>
		<button class="btn">Continue</button>
	</form></body></html>`)

	c, err := Generic().NextControl(s)
	require.NoError(t, err)
	assert.Equal(t, page.Handle("button.btn"), c.Handle)

	sub, err := Generic().SubmitControl(s)
	require.NoError(t, err)
	assert.Equal(t, "Submit", sub.Text)
}

func TestGenericTieBreaks(t *testing.T) {
	t.Run("specific phrase beats generic", func(t *testing.T) {
		s, page := snap(t, "https://x.test", `<html><body>
			<button id="a">Submit application</button><button id="b" class="btn-primary">Submit</button>
		</body></html>`)
		c, err := Generic().SubmitControl(s)
		require.NoError(t, err)
		assert.Equal(t, page.Handle("#a"), c.Handle)
	})

	t.Run("primary beats plain at equal specificity", func(t *testing.T) {
		s, page := snap(t, "https://x.test", `<html><body>
			<button id="a" class="btn-primary">Next</button><button id="b">Next</button>
		</body></html>`)
		c, err := Generic().NextControl(s)
		require.NoError(t, err)
		assert.Equal(t, page.Handle("#a"), c.Handle)
	})

	t.Run("last in document order on full tie", func(t *testing.T) {
		s, page := snap(t, "https://x.test", `<html><body>
			<a id="a">Next</a><button id="b">Next</button>
		</body></html>`)
		c, err := Generic().NextControl(s)
		require.NoError(t, err)
		assert.Equal(t, page.Handle("#b"), c.Handle)
	})

	t.Run("exact text beats containing text", func(t *testing.T) {
		s, page := snap(t, "https://x.test", `<html><body>
			<button id="a">Continue</button><button id="b">Continue reading</button>
		</body></html>`)
		c, err := Generic().NextControl(s)
		require.NoError(t, err)
		assert.Equal(t, page.Handle("#a"), c.Handle)
	})
}

func TestGenericControlFilters(t *testing.T) {
	s, page := snap(t, "https://x.test", `<html><body>
		<button id="hidden" style="display:none">Next</button>
		<button id="off" disabled>Next</button>
		<button id="aria" aria-label="Continue">&rarr;</button>
		<input id="inp" type="submit" value="Proceed">
	</body></html>`)

	c, err := Generic().NextControl(s)
	require.NoError(t, err)
	assert.Equal(t, page.Handle("#inp"), c.Handle)
	assert.Equal(t, "Proceed", c.Text)

	s, page = snap(t, "https://x.test", `<html><body><button id="aria" aria-label="Continue">&rarr;</button></body></html>`)
	c, err = Generic().NextControl(s)
	require.NoError(t, err)
	assert.Equal(t, page.Handle("#aria"), c.Handle, "accessible name counts")

	s, _ = snap(t, "https://x.test", `<html><body><p>Nothing here</p></body></html>`)
	_, err = Generic().NextControl(s)
	assert.ErrorIs(t, err, ErrNoControl)
}

func TestGenericReviewDetection(t *testing.T) {
	s, _ := snap(t, "https://x.test", `<html><body><h2>Review your application</h2><button>Submit</button><button>Back</button></body></html>`)
	assert.True(t, Generic().IsReviewStep(s))

	s, _ = snap(t, "https://x.test", `<html><body><form><input name="a"><button>Submit</button></form></body></html>`)
	assert.True(t, Generic().IsReviewStep(s), "submit without next is the last step")

	s, _ = snap(t, "https://x.test", `<html><body><form><input name="a"><button>Next</button><button>Submit</button></form></body></html>`)
	assert.False(t, Generic().IsReviewStep(s))

	s, _ = snap(t, "https://x.test", `<html><body><form><input name="a"><button>Review your application</button></form></body></html>`)
	assert.False(t, Generic().IsReviewStep(s), "button text is not review prose")

	s, _ = snap(t, "https://x.test", `<html><body><div hidden><p>Review your application</p></div><button>Next</button></body></html>`)
	assert.False(t, Generic().IsReviewStep(s))
}

func TestRegistrySelection(t *testing.T) {
	r := NewRegistry()
	assert.Equal(t, []string{"workday", "greenhouse", "lever", "smartrecruiters", "linkedin-easy-apply", "generic"}, r.Names())

	cases := map[string]struct {
		url, html string
	}{
		"workday":             {"https://acme.wd5.myworkdayjobs.com/en-US/careers/job/apply", `<html><body></body></html>`},
		"greenhouse":          {"https://boards.greenhouse.io/acme/jobs/1", `<html><body></body></html>`},
		"lever":               {"https://jobs.lever.co/acme/123/apply", `<html><body></body></html>`},
		"smartrecruiters":     {"https://jobs.smartrecruiters.com/Acme/1", `<html><body></body></html>`},
		"linkedin-easy-apply": {"https://www.linkedin.com/jobs/view/1", `<html><body><div class="jobs-easy-apply-modal"></div></body></html>`},
		"generic":             {"https://www.linkedin.com/jobs/view/1", `<html><body><p>no modal</p></body></html>`},
	}
	for want, tc := range cases {
		s, _ := snap(t, tc.url, tc.html)
		assert.Equal(t, want, r.Select(s).Name(), tc.url)
	}

	s, _ := snap(t, "https://careers.acme.test/apply", `<html><body><form id="application_form"></form></body></html>`)
	assert.Equal(t, "greenhouse", r.Select(s).Name(), "embedded boards are found by markup")
}

func TestWorkdayLabelsAndControls(t *testing.T) {
	s, page := snap(t, "https://acme.wd1.myworkdayjobs.com/apply", `<html><body>
		<div data-automation-id="applyFlowPage">
			<div data-automation-id="formField-legalNameSection_firstName">
				<label>First Name*</label><div><input data-automation-id="legalNameSection_firstName"></div>
			</div>
			<button data-automation-id="bottom-navigation-next-button">Save and Continue</button>
		</div>
	</body></html>`)

	w := Workday()
	fields := w.DetectFields(s)
	require.Len(t, fields, 1)
	assert.Equal(t, "First Name", fields[0].Label)
	assert.True(t, fields[0].Required)

	c, err := w.NextControl(s)
	require.NoError(t, err)
	assert.Equal(t, page.Handle("[data-automation-id=bottom-navigation-next-button]"), c.Handle)
	assert.False(t, w.IsReviewStep(s))

	review, _ := snap(t, "https://acme.wd1.myworkdayjobs.com/apply", `<html><body>
		<div data-automation-id="applyFlowPage">
			<h2> Review </h2>
			<button data-automation-id="bottom-navigation-next-button">Save and Continue</button>
		</div>
	</body></html>`)
	assert.True(t, w.IsReviewStep(review))
}

func TestLinkedInScopesToModal(t *testing.T) {
	s, page := snap(t, "https://www.linkedin.com/jobs/view/1", `<html><body>
		<input name="search" aria-label="Search">
		<div class="jobs-easy-apply-modal">
			<form><label for="ph">Mobile phone number</label><input id="ph" name="phone"></form>
			<button aria-label="Continue to next step">Next</button>
		</div>
	</body></html>`)
	a := NewRegistry().Select(s)
	require.Equal(t, "linkedin-easy-apply", a.Name())

	fields := a.DetectFields(s)
	require.Len(t, fields, 1)
	assert.Equal(t, "Mobile phone number", fields[0].Label)

	c, err := a.NextControl(s)
	require.NoError(t, err)
	assert.Equal(t, page.Handle("button"), c.Handle)

	s, _ = snap(t, "https://www.linkedin.com/jobs/view/1", `<html><body>
		<div class="jobs-easy-apply-modal"><h3>Review your application</h3>
		<button aria-label="Submit application">Submit application</button></div>
	</body></html>`)
	a = NewRegistry().Select(s)
	assert.True(t, a.IsReviewStep(s))
	_, err = a.NextControl(s)
	assert.ErrorIs(t, err, ErrNoControl)
}

func TestLinkedInHostMatching(t *testing.T) {
	const modal = `<html><body><div class="jobs-easy-apply-modal"></div></body></html>`
	r := NewRegistry()

	hosts := map[string]bool{
		"https://www.linkedin.com/jobs/view/1":                     true,
		"https://linkedin.com/jobs/view/1":                         true,
		"https://WWW.LinkedIn.com./jobs/view/1":                    true,
		"https://evil-linkedin.com/jobs/view/1":                    false,
		"https://linkedin.com.attacker.test/jobs/view/1":           false,
		"https://jobs.example.test/apply?ref=linkedin.com":         false,
		"https://jobs.example.test/redirect/www.linkedin.com/jobs": false,
		"://broken": false,
	}
	for raw, want := range hosts {
		assert.Equal(t, want, onHost(raw, "linkedin.com"), raw)

		s, _ := snap(t, raw, modal)
		if want {
			assert.Equal(t, "linkedin-easy-apply", r.Select(s).Name(), raw)
		} else {
			assert.NotEqual(t, "linkedin-easy-apply", r.Select(s).Name(), raw)
		}
	}
}

func TestPreAttachedFile(t *testing.T) {
	s, _ := snap(t, "https://boards.greenhouse.io/acme/jobs/1", `<html><body>
		<form id="application_form">
			<div class="field"><label>Resume</label><input type="file" name="resume"><span id="resume_filename">cv.pdf</span></div>
			<div class="field"><label>Cover Letter</label><input type="file" name="cover"><span class="attachment-filename"></span></div>
		</form>
	</body></html>`)
	g := Greenhouse()
	fields := g.DetectFields(s)
	require.Len(t, fields, 2)
	assert.True(t, g.PreAttachedFile(s, fields[0]))
	assert.False(t, g.PreAttachedFile(s, fields[1]), "empty indicator means nothing attached")
}

func TestLocators(t *testing.T) {
	s, _ := snap(t, "https://x.test", `<html><body>
		<div class="a"><span data-role="Primary-Action">Go</span></div>
		<div class="b"><span data-role="secondary">Go</span></div>
	</body></html>`)
	root := s.Doc.Selection

	assert.Equal(t, 2, CSS("span").Find(root).Length())
	assert.Equal(t, 1, Attr{Tags: "span", Name: "data-role", Values: []string{"primary"}}.Find(root).Length())
	assert.Equal(t, 2, Attr{Name: "data-role"}.Find(root).Length())
	assert.Equal(t, 1, Within{Scope: CSS(".b"), Inner: Text{Tags: "span", Phrases: []string{"go"}, Exact: true}}.Find(root).Length())
	assert.Equal(t, 2, AnyOf{CSS(".a span"), CSS(".b span"), CSS(".a span")}.Find(root).Length())
	assert.Equal(t, 0, PageText{"primary action"}.Find(root).Length(), "attribute values are not prose")
	assert.Equal(t, 1, PageText{"go"}.Find(root).Length())

	assert.Equal(t, 1, XPath("//div[@class='b']/span").Find(root).Length())
	assert.Equal(t, 1, XPath(".//span").Find(root.Find(".a")).Length(), "relative to the root")
	assert.Equal(t, 0, XPath("//span[").Find(root).Length(), "invalid expressions match nothing")
}

func TestLocatorsLeaveRootUntouched(t *testing.T) {
	s, _ := snap(t, "https://x.test", `<html><body>
		<div class="a"><span>One</span></div>
		<div class="b"><span>Two</span><button>Next</button></div>
	</body></html>`)
	root := s.Doc.Selection
	before := append([]*html.Node(nil), root.Nodes...)

	locators := []Locator{
		AnyOf{CSS(".a span"), CSS(".b span")},
		AnyOf{CSS("span"), CSS(".b span"), XPath("//div[@class='a']/span")},
		AnyOf{PageText{"nothing here"}, CSS(".b button")},
		XPath("//span"),
		XPath("//span["),
		PageText{"missing phrase"},
		Within{Scope: AnyOf{CSS(".a"), CSS(".b")}, Inner: CSS("span")},
	}
	want := []int{2, 2, 1, 2, 0, 0, 2}
	for i, l := range locators {
		assert.Equal(t, want[i], l.Find(root).Length(), "locator %d", i)
		assert.Equal(t, before, root.Nodes, "locator %d changed the root", i)
	}

	// Results built on an empty match can be extended without touching root.
	empty := PageText{"missing phrase"}.Find(root)
	_ = empty.AddSelection(root.Find("span"))
	assert.Equal(t, before, root.Nodes)
	assert.Equal(t, "html", goquery.NodeName(root.Find("html").First()))
}

package adapter

import (
	"github.com/PuerkitoBio/goquery"
	"github.com/xkilldash9x/formpilot/internal/browser/dom"
)

const buttonTags = "button, input[type=submit], input[type=button], a, [role=button]"

var (
	genericNextPhrases   = []string{"next", "continue", "review", "save and continue", "proceed", "apply"}
	genericSubmitPhrases = []string{"submit", "submit application", "send application"}
	genericReviewPhrases = []string{"review your application", "review and submit", "review your information", "please review your"}
	confirmationPhrases  = []string{"thank you for applying", "application submitted", "application received", "thanks for applying"}
)

// Generic applies to every page. It finds controls by their visible text.
func Generic() *Platform {
	return &Platform{
		ID:     "generic",
		Always: true,
		Next: Intent{
			Locator: Text{Tags: buttonTags, Phrases: genericNextPhrases},
			Phrases: genericNextPhrases,
		},
		Submit: Intent{
			Locator: Text{Tags: buttonTags, Phrases: genericSubmitPhrases},
			Phrases: genericSubmitPhrases,
		},
		Review: PageText(genericReviewPhrases),
		Attached: AnyOf{
			CSS(".file-name, .filename, .attachment-name, .uploaded-file"),
			Attr{Name: "data-file-attached"},
		},
		Signals: Indicators{
			Confirmation: PageText(confirmationPhrases),
			Error:        CSS("[role=alert], .error-message, .form-error, .field-error"),
		},
	}
}

// Workday serves myworkdayjobs.com tenants. Fields sit in
// data-automation-id containers whose label has no for attribute.
func Workday() *Platform {
	next := []string{"save and continue", "next", "continue"}
	submit := []string{"submit"}
	return &Platform{
		ID:      "workday",
		Hosts:   []string{"myworkdayjobs.com", "myworkday.com"},
		Markers: CSS("[data-automation-id=applyFlowPage], [data-automation-id=jobPostingPage]"),
		Scope:   CSS("[data-automation-id=applyFlowPage]"),
		LabelFor: func(c *goquery.Selection) string {
			return c.Closest("[data-automation-id^=formField-]").Find("label").First().Text()
		},
		Next: Intent{
			Locator: AnyOf{
				CSS("[data-automation-id=bottom-navigation-next-button], [data-automation-id=pageFooterNextButton]"),
				Text{Tags: buttonTags, Phrases: next},
			},
			Phrases: next,
		},
		Submit: Intent{
			Locator: AnyOf{
				CSS("[data-automation-id=bottom-navigation-submit-button]"),
				Text{Tags: buttonTags, Phrases: submit, Exact: true},
			},
			Phrases: submit,
		},
		Review: AnyOf{
			CSS("[data-automation-id=reviewJobApplicationPage]"),
			XPath(`//*[@data-automation-id='applyFlowPage']//h2[normalize-space(.)='Review']`),
		},
		Attached: CSS("[data-automation-id=file-upload-successful], [data-automation-id=fileName]"),
		Signals: Indicators{
			Confirmation: CSS("[data-automation-id=applyFlowConfirmationPage]"),
			Error:        CSS("[data-automation-id=errorMessage], [data-automation-id=inputAlert]"),
		},
	}
}

// Greenhouse hosts single-page boards; review is reached when only the
// submit button remains.
func Greenhouse() *Platform {
	submit := []string{"submit application", "submit"}
	return &Platform{
		ID:       "greenhouse",
		Hosts:    []string{"boards.greenhouse.io", "job-boards.greenhouse.io"},
		Markers:  CSS("form#application_form, form#application-form"),
		Scope:    CSS("#application_form, #application-form"),
		Required: []string{"required"},
		Next: Intent{
			Locator: Text{Tags: buttonTags, Phrases: []string{"next", "continue"}},
			Phrases: []string{"next", "continue"},
		},
		Submit: Intent{
			Locator: AnyOf{CSS("#submit_app, button[type=submit]"), Text{Tags: buttonTags, Phrases: submit}},
			Phrases: submit,
		},
		Attached: CSS("#resume_filename, .attachment-filename, [data-testid=resume-filename]"),
		Signals: Indicators{
			Confirmation: AnyOf{CSS("#application_confirmation"), PageText(confirmationPhrases)},
			Error:        CSS("#error_message, .field-error-msg, .error-message"),
		},
	}
}

// Lever forms group each prompt in an .application-question block.
func Lever() *Platform {
	submit := []string{"submit application", "submit"}
	return &Platform{
		ID:      "lever",
		Hosts:   []string{"jobs.lever.co"},
		Markers: CSS(".application-form .application-question"),
		Scope:   CSS(".application-form, form#application-form"),
		LabelFor: func(c *goquery.Selection) string {
			q := c.Closest(".application-question, .application-field")
			return q.Find(".application-label, .text").First().Text()
		},
		Required: []string{"required-field"},
		Next: Intent{
			Locator: Text{Tags: buttonTags, Phrases: []string{"next", "continue"}},
			Phrases: []string{"next", "continue"},
		},
		Submit: Intent{
			Locator: AnyOf{CSS("#btn-submit, button[data-qa=btn-submit]"), Text{Tags: buttonTags, Phrases: submit}},
			Phrases: submit,
		},
		Attached: CSS(".resume-upload-success, .filename"),
		Signals: Indicators{
			Confirmation: AnyOf{CSS("[data-qa=msg-submit-success]"), PageText(confirmationPhrases)},
			Error:        CSS(".error-message, [data-qa=error-message]"),
		},
	}
}

// SmartRecruiters uses a paged flow with test-id footer buttons.
func SmartRecruiters() *Platform {
	next := []string{"next", "continue"}
	submit := []string{"submit", "send"}
	return &Platform{
		ID:      "smartrecruiters",
		Hosts:   []string{"jobs.smartrecruiters.com", "careers.smartrecruiters.com"},
		Markers: Attr{Tags: "oc-oneclick-form, [data-test]", Name: "data-test", Values: []string{"oneclick"}},
		Next: Intent{
			Locator: AnyOf{CSS("button[data-test=footer-next]"), Text{Tags: buttonTags, Phrases: next}},
			Phrases: next,
		},
		Submit: Intent{
			Locator: AnyOf{CSS("button[data-test=footer-submit]"), Text{Tags: buttonTags, Phrases: submit, Exact: true}},
			Phrases: submit,
		},
		Review:   AnyOf{CSS("[data-test=review-section]"), PageText(genericReviewPhrases)},
		Attached: CSS("[data-test=resume-file-name], [data-test=file-name]"),
		Signals: Indicators{
			Confirmation: AnyOf{CSS("[data-test=application-success]"), PageText(confirmationPhrases)},
			Error:        CSS("[data-test=error-message], .error, [role=alert]"),
		},
	}
}

// LinkedInEasyApply handles the Easy Apply modal. Everything outside the
// modal belongs to the job page and is ignored.
func LinkedInEasyApply() *Platform {
	modal := CSS(".jobs-easy-apply-modal, [data-test-modal-id=easy-apply-modal]")
	next := []string{"next", "continue to next step", "review", "review your application"}
	submit := []string{"submit application"}
	return &Platform{
		ID:       "linkedin-easy-apply",
		Markers:  modal,
		Scope:    modal,
		Required: []string{"fb-dash-form-element__label-title--is-required"},
		Next: Intent{
			Locator: Within{Scope: modal, Inner: AnyOf{
				Attr{Tags: "button", Name: "aria-label", Values: []string{"continue to next step", "review your application"}},
				Text{Tags: "button", Phrases: next},
			}},
			Phrases: next,
		},
		Submit: Intent{
			Locator: Within{Scope: modal, Inner: AnyOf{
				Attr{Tags: "button", Name: "aria-label", Values: submit},
				Text{Tags: "button", Phrases: submit},
			}},
			Phrases: submit,
		},
		Review:   Within{Scope: modal, Inner: Text{Tags: "h3, h2", Phrases: []string{"review your application"}}},
		Attached: CSS(".jobs-document-upload-redesign-card__container--selected, .jobs-resume-picker__resume--selected"),
		Signals: Indicators{
			Confirmation: Text{Tags: "h2, h3", Phrases: []string{"your application was sent", "application sent"}},
			Error:        CSS(".artdeco-inline-feedback--error"),
		},
	}
}

// Registry selects the first applicable adapter in priority order. The
// generic adapter is always last, so selection is total.
type Registry struct {
	adapters []Adapter
}

// NewRegistry returns the built-in adapters in priority order, followed by
// any extras ahead of the generic fallback.
func NewRegistry(extra ...Adapter) *Registry {
	list := []Adapter{Workday(), Greenhouse(), Lever(), SmartRecruiters()}
	// LinkedIn is detected by its modal, so it only applies on linkedin.com.
	list = append(list, linkedInOnly(LinkedInEasyApply()))
	list = append(list, extra...)
	list = append(list, Generic())
	return &Registry{adapters: list}
}

// Select returns the adapter that handles the snapshot.
func (r *Registry) Select(snap *dom.Snapshot) Adapter {
	for _, a := range r.adapters {
		if a.Applies(snap) {
			return a
		}
	}
	return Generic()
}

// Names lists adapter identifiers in priority order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.adapters))
	for i, a := range r.adapters {
		out[i] = a.Name()
	}
	return out
}

type hostGate struct {
	*Platform
	host string
}

func (g hostGate) Applies(snap *dom.Snapshot) bool {
	return onHost(snap.URL, g.host) && g.Platform.Applies(snap)
}

func linkedInOnly(p *Platform) Adapter {
	return hostGate{Platform: p, host: "linkedin.com"}
}

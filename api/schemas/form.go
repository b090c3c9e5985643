// api/schemas/form.go
package schemas

import "strings"

// -- Field Variants --

// Variant is the mechanical shape of an input.
type Variant string

const (
	VariantText          Variant = "TEXT"
	VariantMultilineText Variant = "MULTILINE_TEXT"
	VariantEmail         Variant = "EMAIL"
	VariantPhone         Variant = "PHONE"
	VariantNumber        Variant = "NUMBER"
	VariantDate          Variant = "DATE"
	// VariantSingleChoice is a dropdown with a fixed option list.
	VariantSingleChoice Variant = "SINGLE_CHOICE"
	// VariantMultiChoice is a group of checkboxes under one label.
	VariantMultiChoice Variant = "MULTI_CHOICE"
	// VariantBoolean is a lone checkbox.
	VariantBoolean Variant = "BOOLEAN"
	// VariantChoiceGroup is a set of radio controls sharing a group name.
	VariantChoiceGroup Variant = "CHOICE_GROUP"
	VariantFile        Variant = "FILE"
)

// IsTextual reports whether the variant is filled by typing characters.
func (v Variant) IsTextual() bool {
	switch v {
	case VariantText, VariantMultilineText, VariantEmail, VariantPhone, VariantNumber, VariantDate:
		return true
	}
	return false
}

// -- Semantic Kinds --

// Kind is the profile concept a field represents.
type Kind string

const (
	KindFirstName           Kind = "FIRST_NAME"
	KindLastName            Kind = "LAST_NAME"
	KindEmail               Kind = "EMAIL"
	KindPhone               Kind = "PHONE"
	KindLinkedInURL         Kind = "LINKEDIN_URL"
	KindGitHubURL           Kind = "GITHUB_URL"
	KindPortfolioURL        Kind = "PORTFOLIO_URL"
	KindStreet              Kind = "STREET"
	KindCity                Kind = "CITY"
	KindState               Kind = "STATE"
	KindPostalCode          Kind = "POSTAL_CODE"
	KindCountry             Kind = "COUNTRY"
	KindWorkAuthorized      Kind = "WORK_AUTHORIZED"
	KindRequiresSponsorship Kind = "REQUIRES_SPONSORSHIP"
	KindYearsExperience     Kind = "YEARS_EXPERIENCE"
	KindCurrentTitle        Kind = "CURRENT_TITLE"
	KindDesiredSalary       Kind = "DESIRED_SALARY"
	KindNoticePeriod        Kind = "NOTICE_PERIOD"
	KindResumeFile          Kind = "RESUME_FILE"
	KindCoverLetterFile     Kind = "COVER_LETTER_FILE"
	KindUnknown             Kind = "UNKNOWN"
)

// Kinds lists every semantic kind in enumeration order. The order is
// significant: it breaks ties between equally specific classifier phrases.
var Kinds = []Kind{
	KindFirstName, KindLastName, KindEmail, KindPhone,
	KindLinkedInURL, KindGitHubURL, KindPortfolioURL,
	KindStreet, KindCity, KindState, KindPostalCode, KindCountry,
	KindWorkAuthorized, KindRequiresSponsorship,
	KindYearsExperience, KindCurrentTitle, KindDesiredSalary, KindNoticePeriod,
	KindResumeFile, KindCoverLetterFile, KindUnknown,
}

// IsFile reports whether the kind names an attachment.
func (k Kind) IsFile() bool {
	return k == KindResumeFile || k == KindCoverLetterFile
}

// -- Fill Outcomes --

// Outcome is the per-field result reported in FILL_PROGRESS.
type Outcome string

const (
	OutcomeFilled        Outcome = "filled"
	OutcomeFilledPartial Outcome = "filled-partial"
	OutcomeSkipped       Outcome = "skipped"
)

// Reason is the code attached to a skipped field.
type Reason string

const (
	ReasonNone               Reason = ""
	ReasonNoMapping          Reason = "NO_MAPPING"
	ReasonLowConfidence      Reason = "LOW_CONFIDENCE"
	ReasonFileField          Reason = "FILE_FIELD"
	ReasonValidationRejected Reason = "VALIDATION_REJECTED"
	ReasonHidden             Reason = "HIDDEN"
	ReasonUnsupportedVariant Reason = "UNSUPPORTED_VARIANT"
	ReasonCancelled          Reason = "CANCELLED"
)

// DetailFilePreattached marks a FILE field the page already has an attachment for.
const DetailFilePreattached = "variant-file-preattached"

// IsTruthy interprets a value against the fixed truthy set {true, "true", "yes", "1"}.
func IsTruthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "true", "yes", "1":
		return true
	}
	return false
}

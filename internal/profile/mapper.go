// Package profile resolves semantic kinds to concrete values from the
// user's profile.
package profile

import (
	"strconv"
	"strings"

	"github.com/xkilldash9x/formpilot/api/schemas"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// DefaultCountry is used when the profile leaves the country unset.
const DefaultCountry = "United States"

var grouping = message.NewPrinter(language.English)

// Mapper reads one run's profile. The profile is never written.
type Mapper struct {
	p schemas.UserProfile
}

// NewMapper returns a mapper over a copy of the profile.
func NewMapper(p schemas.UserProfile) *Mapper {
	return &Mapper{p: p}
}

// Value returns the profile value for kind. The second result is false
// when the kind has no value: UNKNOWN, the file kinds, or an unset attribute.
func (m *Mapper) Value(kind schemas.Kind) (string, bool) {
	p := m.p
	switch kind {
	case schemas.KindFirstName:
		return present(p.FirstName)
	case schemas.KindLastName:
		return present(p.LastName)
	case schemas.KindEmail:
		return present(p.Email)
	case schemas.KindPhone:
		return present(p.Phone)
	case schemas.KindLinkedInURL:
		return present(p.LinkedInURL)
	case schemas.KindGitHubURL:
		return present(p.GitHubURL)
	case schemas.KindPortfolioURL:
		return present(p.PortfolioURL)
	case schemas.KindStreet:
		return present(p.Street)
	case schemas.KindCity:
		return present(p.City)
	case schemas.KindState:
		return present(p.State)
	case schemas.KindPostalCode:
		return present(p.PostalCode)
	case schemas.KindCountry:
		if strings.TrimSpace(p.Country) == "" {
			return DefaultCountry, true
		}
		return p.Country, true
	case schemas.KindCurrentTitle:
		return present(p.CurrentTitle)
	case schemas.KindWorkAuthorized:
		return yesNo(p.WorkAuthorized)
	case schemas.KindRequiresSponsorship:
		return yesNo(p.RequiresSponsorship)
	case schemas.KindYearsExperience:
		if p.YearsExperience == nil {
			return "", false
		}
		return strconv.FormatFloat(*p.YearsExperience, 'f', -1, 64), true
	case schemas.KindDesiredSalary:
		if p.MinSalary == nil {
			return "", false
		}
		return FormatSalary(*p.MinSalary, p.SalaryCurrency), true
	case schemas.KindNoticePeriod:
		if p.NoticeWeeks == nil {
			return "", false
		}
		return strconv.Itoa(*p.NoticeWeeks) + " weeks", true
	}
	return "", false
}

// FormatSalary groups digits and prefixes "$" for USD (the default) or
// the ISO code otherwise: 120000 -> "$120,000", "EUR 95,000".
func FormatSalary(amount int64, currency string) string {
	digits := grouping.Sprintf("%d", amount)
	cur := strings.ToUpper(strings.TrimSpace(currency))
	if cur == "" || cur == "USD" {
		return "$" + digits
	}
	return cur + " " + digits
}

func present(s string) (string, bool) {
	s = strings.TrimSpace(s)
	return s, s != ""
}

func yesNo(b *bool) (string, bool) {
	if b == nil {
		return "", false
	}
	if *b {
		return "Yes", true
	}
	return "No", true
}

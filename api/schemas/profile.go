// api/schemas/profile.go
package schemas

// UserProfile is the canonical profile supplied by the backend. Pointer
// fields distinguish "unset" from a zero value.
type UserProfile struct {
	FirstName           string   `json:"first_name" yaml:"first_name"`
	LastName            string   `json:"last_name" yaml:"last_name"`
	Email               string   `json:"email" yaml:"email"`
	Phone               string   `json:"phone" yaml:"phone"`
	LinkedInURL         string   `json:"linkedin_url,omitempty" yaml:"linkedin_url"`
	GitHubURL           string   `json:"github_url,omitempty" yaml:"github_url"`
	PortfolioURL        string   `json:"portfolio_url,omitempty" yaml:"portfolio_url"`
	Street              string   `json:"street,omitempty" yaml:"street"`
	City                string   `json:"city,omitempty" yaml:"city"`
	State               string   `json:"state,omitempty" yaml:"state"`
	PostalCode          string   `json:"postal_code,omitempty" yaml:"postal_code"`
	Country             string   `json:"country,omitempty" yaml:"country"`
	WorkAuthorized      *bool    `json:"work_authorized,omitempty" yaml:"work_authorized"`
	RequiresSponsorship *bool    `json:"requires_sponsorship,omitempty" yaml:"requires_sponsorship"`
	YearsExperience     *float64 `json:"years_experience,omitempty" yaml:"years_experience"`
	CurrentTitle        string   `json:"current_title,omitempty" yaml:"current_title"`
	MinSalary           *int64   `json:"min_salary,omitempty" yaml:"min_salary"`
	SalaryCurrency      string   `json:"salary_currency,omitempty" yaml:"salary_currency"`
	NoticeWeeks         *int     `json:"notice_weeks,omitempty" yaml:"notice_weeks"`
}

// MatchRequest is the payload of questions.match.
type MatchRequest struct {
	Text string `json:"text"`
}

// MatchResult is the backend's answer for one free-form prompt.
type MatchResult struct {
	Answer     string `json:"answer,omitempty"`
	Confidence int    `json:"confidence_0_100"`
	MatchedID  string `json:"matched_id,omitempty"`
	NotFound   bool   `json:"not_found,omitempty"`
}

// ApplicationRecord is the payload of applications.create.
type ApplicationRecord struct {
	Company     string       `json:"company"`
	Role        string       `json:"role"`
	URL         string       `json:"url"`
	AppliedAt   string       `json:"applied_at"`
	StepReports []StepReport `json:"step_reports"`
}

// ApplicationCreated is the response of applications.create.
type ApplicationCreated struct {
	ID string `json:"id"`
}

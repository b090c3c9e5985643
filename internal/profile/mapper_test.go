package profile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xkilldash9x/formpilot/api/schemas"
)

func ptr[T any](v T) *T { return &v }

func fullProfile() schemas.UserProfile {
	return schemas.UserProfile{
		FirstName:           "Ada",
		LastName:            "Lovelace",
		Email:               "ada@x.io",
		Phone:               "+1-555-0100",
		LinkedInURL:         "https://linkedin.com/in/ada",
		City:                "London",
		WorkAuthorized:      ptr(true),
		RequiresSponsorship: ptr(false),
		YearsExperience:     ptr(2.5),
		MinSalary:           ptr(int64(120000)),
		NoticeWeeks:         ptr(2),
	}
}

func TestMapperDirectKinds(t *testing.T) {
	m := NewMapper(fullProfile())
	for kind, want := range map[schemas.Kind]string{
		schemas.KindFirstName:   "Ada",
		schemas.KindLastName:    "Lovelace",
		schemas.KindEmail:       "ada@x.io",
		schemas.KindPhone:       "+1-555-0100",
		schemas.KindLinkedInURL: "https://linkedin.com/in/ada",
		schemas.KindCity:        "London",
	} {
		got, ok := m.Value(kind)
		assert.True(t, ok, kind)
		assert.Equal(t, want, got, kind)
	}
}

func TestMapperDerivedKinds(t *testing.T) {
	m := NewMapper(fullProfile())

	v, _ := m.Value(schemas.KindWorkAuthorized)
	assert.Equal(t, "Yes", v)
	v, _ = m.Value(schemas.KindRequiresSponsorship)
	assert.Equal(t, "No", v)
	v, _ = m.Value(schemas.KindYearsExperience)
	assert.Equal(t, "2.5", v)
	v, _ = m.Value(schemas.KindDesiredSalary)
	assert.Equal(t, "$120,000", v)
	v, _ = m.Value(schemas.KindNoticePeriod)
	assert.Equal(t, "2 weeks", v)
	v, _ = m.Value(schemas.KindCountry)
	assert.Equal(t, DefaultCountry, v)
}

func TestMapperAbsent(t *testing.T) {
	m := NewMapper(schemas.UserProfile{Country: "Canada"})
	for _, kind := range []schemas.Kind{
		schemas.KindFirstName, schemas.KindWorkAuthorized, schemas.KindYearsExperience,
		schemas.KindDesiredSalary, schemas.KindNoticePeriod,
		schemas.KindResumeFile, schemas.KindCoverLetterFile, schemas.KindUnknown,
	} {
		_, ok := m.Value(kind)
		assert.False(t, ok, kind)
	}
	v, ok := m.Value(schemas.KindCountry)
	assert.True(t, ok)
	assert.Equal(t, "Canada", v)
}

func TestFormatSalary(t *testing.T) {
	assert.Equal(t, "$95,000", FormatSalary(95000, "usd"))
	assert.Equal(t, "EUR 1,250,000", FormatSalary(1250000, "eur"))
	assert.Equal(t, "$0", FormatSalary(0, ""))
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()

	good := filepath.Join(dir, "profile.yaml")
	require.NoError(t, os.WriteFile(good, []byte(`
first_name: Ada
last_name: Lovelace
email: ada@x.io
work_authorized: true
min_salary: 120000
notice_weeks: 4
`), 0o600))
	p, err := LoadFile(good)
	require.NoError(t, err)
	assert.Equal(t, "Ada", p.FirstName)
	require.NotNil(t, p.WorkAuthorized)
	assert.True(t, *p.WorkAuthorized)
	assert.Nil(t, p.RequiresSponsorship)
	assert.Equal(t, int64(120000), *p.MinSalary)

	typo := filepath.Join(dir, "typo.yaml")
	require.NoError(t, os.WriteFile(typo, []byte("first_nam: Ada\n"), 0o600))
	_, err = LoadFile(typo)
	assert.Error(t, err)

	empty := filepath.Join(dir, "empty.yaml")
	require.NoError(t, os.WriteFile(empty, []byte("city: Paris\n"), 0o600))
	_, err = LoadFile(empty)
	assert.ErrorIs(t, err, ErrEmptyProfile)

	_, err = LoadFile(filepath.Join(dir, "absent.yaml"))
	assert.Error(t, err)
}

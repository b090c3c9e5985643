package profile

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/xkilldash9x/formpilot/api/schemas"
	"gopkg.in/yaml.v3"
)

// ErrEmptyProfile is returned for a profile file with no name or email.
var ErrEmptyProfile = errors.New("profile: file defines neither a name nor an email")

// LoadFile reads a YAML profile for offline runs. Unknown keys are rejected
// so typos surface instead of silently leaving a kind unmapped.
func LoadFile(path string) (schemas.UserProfile, error) {
	var p schemas.UserProfile
	raw, err := os.ReadFile(path)
	if err != nil {
		return p, fmt.Errorf("profile: read %s: %w", path, err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil {
		return p, fmt.Errorf("profile: parse %s: %w", path, err)
	}
	if p.FirstName == "" && p.LastName == "" && p.Email == "" {
		return p, ErrEmptyProfile
	}
	return p, nil
}

// Static serves a fixed profile.
type Static schemas.UserProfile

func (s Static) GetProfile(ctx context.Context) (schemas.UserProfile, error) {
	return schemas.UserProfile(s), ctx.Err()
}

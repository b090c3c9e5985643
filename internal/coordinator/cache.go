package coordinator

import (
	"context"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/xkilldash9x/formpilot/api/schemas"
)

// Backend is the profile and question service the coordinator proxies.
// backend.Client satisfies it.
type Backend interface {
	Profile(ctx context.Context) (schemas.UserProfile, error)
	Questions(ctx context.Context) ([]schemas.StoredQuestion, error)
	Match(ctx context.Context, text string) (schemas.MatchResult, error)
	CreateApplication(ctx context.Context, rec schemas.ApplicationRecord) (schemas.ApplicationCreated, error)
}

// cachedBackend memoizes profile and match answers for a short time.
// Failures are never cached.
type cachedBackend struct {
	Backend
	profiles *expirable.LRU[string, schemas.UserProfile]
	matches  *expirable.LRU[string, schemas.MatchResult]
}

const profileKey = "profile"

func newCachedBackend(b Backend, size int, ttl time.Duration) *cachedBackend {
	if size <= 0 {
		size = 256
	}
	return &cachedBackend{
		Backend:  b,
		profiles: expirable.NewLRU[string, schemas.UserProfile](1, nil, ttl),
		matches:  expirable.NewLRU[string, schemas.MatchResult](size, nil, ttl),
	}
}

func (c *cachedBackend) Profile(ctx context.Context) (schemas.UserProfile, error) {
	if p, ok := c.profiles.Get(profileKey); ok {
		return p, nil
	}
	p, err := c.Backend.Profile(ctx)
	if err != nil {
		return p, err
	}
	c.profiles.Add(profileKey, p)
	return p, nil
}

func (c *cachedBackend) Match(ctx context.Context, text string) (schemas.MatchResult, error) {
	key := matchKey(text)
	if res, ok := c.matches.Get(key); ok {
		return res, nil
	}
	res, err := c.Backend.Match(ctx, text)
	if err != nil {
		return res, err
	}
	c.matches.Add(key, res)
	return res, nil
}

// Purge drops every cached answer.
func (c *cachedBackend) Purge() {
	c.profiles.Purge()
	c.matches.Purge()
}

func matchKey(text string) string {
	return strings.ToLower(strings.Join(strings.Fields(text), " "))
}

// Package backend is the HTTP client for the profile and question service
// behind the coordinator: profile.get, questions.match and
// applications.create.
package backend

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	json "github.com/json-iterator/go"
	"github.com/zalando/go-keyring"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/formpilot/api/schemas"
	"github.com/xkilldash9x/formpilot/internal/config"
)

// KeyringService groups formpilot's secrets in the OS keychain.
const KeyringService = "formpilot"

// maxErrorBody caps how much of a failed response is kept in the error.
const maxErrorBody = 512

var (
	// ErrNoBaseURL is returned when no backend is configured.
	ErrNoBaseURL = errors.New("backend: base url not configured")
	// ErrUnauthorized is returned for 401 and 403 responses.
	ErrUnauthorized = errors.New("backend: unauthorized")
)

// StatusError is a non-2xx response.
type StatusError struct {
	Op     string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("backend: %s returned %d: %s", e.Op, e.Status, e.Body)
}

// Client talks to the backend. It is safe for concurrent use.
type Client struct {
	base    string
	token   string
	http    *http.Client
	limiter *rate.Limiter
	group   singleflight.Group
	logger  *zap.Logger

	maxRetries     uint64
	backoffFactory func() backoff.BackOff
}

// NewClient builds a client from cfg. An empty cfg.Token is looked up in the
// OS keyring under the base URL.
func NewClient(cfg config.BackendConfig, logger *zap.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, ErrNoBaseURL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	token := cfg.Token
	if token == "" {
		if stored, err := LoadToken(cfg.BaseURL); err == nil {
			token = stored
		}
	}
	limit := rate.Limit(cfg.RateLimit)
	if cfg.RateLimit <= 0 {
		limit = rate.Inf
	}
	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 1
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		base:       strings.TrimRight(cfg.BaseURL, "/"),
		token:      token,
		http:       &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(limit, burst),
		logger:     logger.Named("backend"),
		maxRetries: uint64(max(cfg.MaxRetries, 0)),
		backoffFactory: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 200 * time.Millisecond
			b.MaxInterval = 2 * time.Second
			return b
		},
	}, nil
}

// LoadToken reads the API token stored for baseURL.
func LoadToken(baseURL string) (string, error) {
	token, err := keyring.Get(KeyringService, keyringAccount(baseURL))
	if err != nil {
		return "", fmt.Errorf("backend: no stored token for %s: %w", baseURL, err)
	}
	return token, nil
}

// StoreToken saves the API token for baseURL in the OS keyring.
func StoreToken(baseURL, token string) error {
	if strings.TrimSpace(token) == "" {
		return errors.New("backend: token is empty")
	}
	return keyring.Set(KeyringService, keyringAccount(baseURL), token)
}

// DeleteToken removes the stored token for baseURL.
func DeleteToken(baseURL string) error {
	return keyring.Delete(KeyringService, keyringAccount(baseURL))
}

func keyringAccount(baseURL string) string {
	return "formpilot:backend:" + strings.TrimRight(baseURL, "/")
}

// Profile fetches the user profile. Concurrent callers share one request.
func (c *Client) Profile(ctx context.Context) (schemas.UserProfile, error) {
	v, err, shared := c.group.Do("profile", func() (any, error) {
		var p schemas.UserProfile
		err := c.do(ctx, "profile.get", http.MethodGet, "/profile", nil, &p)
		return p, err
	})
	if shared {
		c.logger.Debug("Profile fetch shared with a concurrent caller.")
	}
	if err != nil {
		return schemas.UserProfile{}, err
	}
	return v.(schemas.UserProfile), nil
}

// Questions lists the stored question/answer pairs.
func (c *Client) Questions(ctx context.Context) ([]schemas.StoredQuestion, error) {
	var res schemas.QuestionsResult
	if err := c.do(ctx, "questions.list", http.MethodGet, "/questions", nil, &res); err != nil {
		return nil, err
	}
	return res.Questions, nil
}

// Match asks the backend for the stored answer closest to text.
func (c *Client) Match(ctx context.Context, text string) (schemas.MatchResult, error) {
	var res schemas.MatchResult
	err := c.do(ctx, "questions.match", http.MethodPost, "/questions/match", schemas.MatchRequest{Text: text}, &res)
	return res, err
}

// CreateApplication records a submitted application.
func (c *Client) CreateApplication(ctx context.Context, rec schemas.ApplicationRecord) (schemas.ApplicationCreated, error) {
	var res schemas.ApplicationCreated
	err := c.do(ctx, "applications.create", http.MethodPost, "/applications", rec, &res)
	return res, err
}

// do performs one call, retrying transport failures and transient statuses
// with exponential backoff.
func (c *Client) do(ctx context.Context, op, method, path string, body, out any) error {
	var payload []byte
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("backend: failed to encode %s request: %w", op, err)
		}
		payload = data
	}

	attempt := 0
	operation := func() error {
		attempt++
		err := c.attempt(ctx, op, method, path, payload, out)
		if err != nil && !isPermanent(err) {
			c.logger.Warn("Backend call failed, retrying.", zap.String("op", op), zap.Int("attempt", attempt), zap.Error(err))
		}
		return err
	}
	b := backoff.WithMaxRetries(c.backoffFactory(), c.maxRetries)
	return backoff.Retry(operation, backoff.WithContext(b, ctx))
}

func (c *Client) attempt(ctx context.Context, op, method, path string, payload []byte, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return backoff.Permanent(fmt.Errorf("backend: %s: %w", op, err))
	}

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return backoff.Permanent(fmt.Errorf("backend: %s: %w", op, err))
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return backoff.Permanent(fmt.Errorf("backend: %s: %w", op, err))
		}
		return fmt.Errorf("backend: %s: %w", op, err)
	}
	defer resp.Body.Close()
	c.logger.Debug("Backend call.", zap.String("op", op), zap.Int("status", resp.StatusCode), zap.Duration("took", time.Since(start)))

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return backoff.Permanent(fmt.Errorf("%w: %s returned %d", ErrUnauthorized, op, resp.StatusCode))
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		serr := &StatusError{Op: op, Status: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
		if transient(resp.StatusCode) {
			return serr
		}
		return backoff.Permanent(serr)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return backoff.Permanent(fmt.Errorf("backend: failed to decode %s response: %w", op, err))
	}
	return nil
}

func transient(status int) bool {
	switch status {
	case http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

func isPermanent(err error) bool {
	var perm *backoff.PermanentError
	return errors.As(err, &perm)
}

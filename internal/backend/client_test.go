package backend

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	json "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/formpilot/api/schemas"
	"github.com/xkilldash9x/formpilot/internal/config"
)

func newTestClient(t *testing.T, handler http.Handler, token string) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	c, err := NewClient(config.BackendConfig{
		BaseURL:   server.URL,
		Token:     token,
		Timeout:   2 * time.Second,
		RateLimit: 1000,
		RateBurst: 10,
	}, zaptest.NewLogger(t))
	require.NoError(t, err)
	return c
}

func TestNewClientRequiresBaseURL(t *testing.T) {
	_, err := NewClient(config.BackendConfig{}, nil)
	assert.ErrorIs(t, err, ErrNoBaseURL)
}

func TestProfile(t *testing.T) {
	var auth string
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/profile", r.URL.Path)
		auth = r.Header.Get("Authorization")
		_, _ = w.Write([]byte(`{"first_name":"Ada","last_name":"Lovelace","email":"ada@example.com","phone":"+44 20 7946 0000"}`))
	}), "tok-1")

	p, err := c.Profile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Ada", p.FirstName)
	assert.Equal(t, "ada@example.com", p.Email)
	assert.Equal(t, "Bearer tok-1", auth)
}

func TestProfileCollapsesConcurrentFetches(t *testing.T) {
	var hits atomic.Int32
	release := make(chan struct{})
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		<-release
		_, _ = w.Write([]byte(`{"first_name":"Ada"}`))
	}), "tok")

	var wg sync.WaitGroup
	results := make([]schemas.UserProfile, 5)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p, err := c.Profile(context.Background())
			assert.NoError(t, err)
			results[i] = p
		}(i)
	}
	// Give every caller time to join the in-flight request.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), hits.Load())
	for _, p := range results {
		assert.Equal(t, "Ada", p.FirstName)
	}
}

func TestMatch(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/questions/match", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var req schemas.MatchRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "Why do you want to work here?", req.Text)
		_, _ = w.Write([]byte(`{"answer":"Mission.","confidence_0_100":90,"matched_id":"q7"}`))
	}), "tok")

	res, err := c.Match(context.Background(), "Why do you want to work here?")
	require.NoError(t, err)
	assert.Equal(t, schemas.MatchResult{Answer: "Mission.", Confidence: 90, MatchedID: "q7"}, res)
}

func TestQuestionsAndApplications(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /questions", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"questions":[{"id":"q1","text":"Why us?","answer":"Because."}]}`))
	})
	mux.HandleFunc("POST /applications", func(w http.ResponseWriter, r *http.Request) {
		var rec schemas.ApplicationRecord
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&rec))
		assert.Equal(t, "Acme", rec.Company)
		assert.Len(t, rec.StepReports, 1)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"app-1"}`))
	})
	c := newTestClient(t, mux, "tok")

	qs, err := c.Questions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []schemas.StoredQuestion{{ID: "q1", Text: "Why us?", Answer: "Because."}}, qs)

	created, err := c.CreateApplication(context.Background(), schemas.ApplicationRecord{
		Company:     "Acme",
		Role:        "Engineer",
		URL:         "https://boards.greenhouse.io/acme/jobs/1",
		StepReports: []schemas.StepReport{{Index: 0, Detected: 4, Filled: 4}},
	})
	require.NoError(t, err)
	assert.Equal(t, "app-1", created.ID)
}

func TestErrorResponses(t *testing.T) {
	t.Run("Unauthorized", func(t *testing.T) {
		c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		}), "bad")
		_, err := c.Profile(context.Background())
		assert.ErrorIs(t, err, ErrUnauthorized)
	})

	t.Run("ServerError", func(t *testing.T) {
		c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
		}), "tok")
		_, err := c.Match(context.Background(), "x")
		var se *StatusError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, http.StatusServiceUnavailable, se.Status)
		assert.Equal(t, "questions.match", se.Op)
		assert.Equal(t, "database unavailable", se.Body)
	})

	t.Run("MalformedBody", func(t *testing.T) {
		c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"first_name":`))
		}), "tok")
		_, err := c.Profile(context.Background())
		assert.ErrorContains(t, err, "failed to decode profile.get response")
	})

	t.Run("CancelledWhileRateLimited", func(t *testing.T) {
		c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{}`))
		}), "tok")
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := c.Questions(ctx)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestRetries(t *testing.T) {
	newRetryingClient := func(t *testing.T, handler http.HandlerFunc) *Client {
		t.Helper()
		c := newTestClient(t, handler, "tok")
		c.maxRetries = 2
		c.backoffFactory = func() backoff.BackOff {
			return backoff.NewConstantBackOff(time.Millisecond)
		}
		return c
	}

	t.Run("TransientStatusIsRetried", func(t *testing.T) {
		var hits atomic.Int32
		c := newRetryingClient(t, func(w http.ResponseWriter, r *http.Request) {
			if hits.Add(1) == 1 {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			_, _ = w.Write([]byte(`{"answer":"Yes","confidence":90,"matched_id":"q1"}`))
		})
		res, err := c.Match(context.Background(), "Are you authorized?")
		require.NoError(t, err)
		assert.Equal(t, "Yes", res.Answer)
		assert.Equal(t, int32(2), hits.Load())
	})

	t.Run("GivesUpAfterMaxRetries", func(t *testing.T) {
		var hits atomic.Int32
		c := newRetryingClient(t, func(w http.ResponseWriter, r *http.Request) {
			hits.Add(1)
			w.WriteHeader(http.StatusBadGateway)
		})
		_, err := c.Questions(context.Background())
		var se *StatusError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, http.StatusBadGateway, se.Status)
		assert.Equal(t, int32(3), hits.Load(), "first attempt plus two retries")
	})

	t.Run("ClientErrorsAreNotRetried", func(t *testing.T) {
		var hits atomic.Int32
		c := newRetryingClient(t, func(w http.ResponseWriter, r *http.Request) {
			hits.Add(1)
			http.Error(w, "bad record", http.StatusBadRequest)
		})
		_, err := c.CreateApplication(context.Background(), schemas.ApplicationRecord{Company: "Acme"})
		var se *StatusError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, http.StatusBadRequest, se.Status)
		assert.Equal(t, int32(1), hits.Load())
	})

	t.Run("UnauthorizedIsNotRetried", func(t *testing.T) {
		var hits atomic.Int32
		c := newRetryingClient(t, func(w http.ResponseWriter, r *http.Request) {
			hits.Add(1)
			w.WriteHeader(http.StatusForbidden)
		})
		_, err := c.Profile(context.Background())
		assert.ErrorIs(t, err, ErrUnauthorized)
		assert.Equal(t, int32(1), hits.Load())
	})
}

func TestTokenFromKeyring(t *testing.T) {
	keyring.MockInit()

	var auth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		_, _ = w.Write([]byte(`{}`))
	}))
	t.Cleanup(server.Close)

	require.NoError(t, StoreToken(server.URL+"/", "from-keyring"))
	got, err := LoadToken(server.URL)
	require.NoError(t, err)
	assert.Equal(t, "from-keyring", got)

	c, err := NewClient(config.BackendConfig{BaseURL: server.URL, RateLimit: 5, RateBurst: 1}, zaptest.NewLogger(t))
	require.NoError(t, err)
	_, err = c.Profile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Bearer from-keyring", auth)

	require.NoError(t, DeleteToken(server.URL))
	_, err = LoadToken(server.URL)
	assert.Error(t, err)
	assert.Error(t, StoreToken(server.URL, "  "))
}

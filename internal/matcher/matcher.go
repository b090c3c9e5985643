// Package matcher resolves free-form questions to stored answers through
// the coordinator.
package matcher

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/xkilldash9x/formpilot/api/schemas"
	"go.uber.org/zap"
)

// Defaults for the acceptance threshold and per-call timeout.
const (
	DefaultThreshold = 85
	DefaultTimeout   = 2 * time.Second
)

// Client answers questions.match.
type Client interface {
	MatchQuestion(ctx context.Context, text string) (schemas.MatchResult, error)
}

// Result is the matcher's decision for one prompt.
type Result struct {
	Answer     string
	Confidence int
	MatchedID  string
	// Accepted is true iff the answer may be filled.
	Accepted bool
	// Reason explains a rejected result.
	Reason schemas.Reason
}

type cacheKey struct {
	label string
	step  int
}

// Matcher is owned by one run. Its cache dies with it.
type Matcher struct {
	client    Client
	threshold int
	timeout   time.Duration
	logger    *zap.Logger

	mu    sync.Mutex
	cache map[cacheKey]Result
}

// New builds a matcher. Non-positive threshold or timeout select the defaults.
func New(client Client, threshold int, timeout time.Duration, logger *zap.Logger) *Matcher {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Matcher{
		client:    client,
		threshold: threshold,
		timeout:   timeout,
		logger:    logger.Named("matcher"),
		cache:     make(map[cacheKey]Result),
	}
}

// Resolve asks the backend for the best stored answer to label. The
// request is issued at most once per (label, step); errors and timeouts
// yield NO_MAPPING and a score below the threshold yields LOW_CONFIDENCE.
func (m *Matcher) Resolve(ctx context.Context, label string, step int) Result {
	key := cacheKey{label: label, step: step}
	m.mu.Lock()
	if r, ok := m.cache[key]; ok {
		m.mu.Unlock()
		return r
	}
	m.mu.Unlock()

	r := m.ask(ctx, label)
	if r.Reason == schemas.ReasonCancelled {
		return r
	}

	m.mu.Lock()
	m.cache[key] = r
	m.mu.Unlock()
	return r
}

func (m *Matcher) ask(ctx context.Context, label string) Result {
	if m.client == nil {
		return Result{Reason: schemas.ReasonNoMapping}
	}
	callCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	res, err := m.client.MatchQuestion(callCtx, label)
	if err != nil {
		if ctx.Err() != nil {
			return Result{Reason: schemas.ReasonCancelled}
		}
		if errors.Is(err, context.DeadlineExceeded) {
			m.logger.Info("Question match timed out.", zap.String("label", label), zap.Duration("timeout", m.timeout))
		} else {
			m.logger.Warn("Question match failed.", zap.String("label", label), zap.Error(err))
		}
		return Result{Reason: schemas.ReasonNoMapping}
	}

	out := Result{Answer: res.Answer, Confidence: res.Confidence, MatchedID: res.MatchedID}
	switch {
	case res.NotFound || strings.TrimSpace(res.Answer) == "":
		out.Reason = schemas.ReasonNoMapping
	case res.Confidence < m.threshold:
		out.Reason = schemas.ReasonLowConfidence
	default:
		out.Accepted = true
	}
	m.logger.Debug("Question matched.",
		zap.String("label", label),
		zap.Int("confidence", res.Confidence),
		zap.Bool("accepted", out.Accepted))
	return out
}

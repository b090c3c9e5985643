package matcher

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/xkilldash9x/formpilot/api/schemas"
	"go.uber.org/zap/zaptest"
)

type mockClient struct {
	mock.Mock
}

func (m *mockClient) MatchQuestion(ctx context.Context, text string) (schemas.MatchResult, error) {
	args := m.Called(ctx, text)
	return args.Get(0).(schemas.MatchResult), args.Error(1)
}

const why = "Why are you interested in this role?"

func TestThresholdBoundary(t *testing.T) {
	for _, tc := range []struct {
		confidence int
		accepted   bool
		reason     schemas.Reason
	}{
		{84, false, schemas.ReasonLowConfidence},
		{85, true, schemas.ReasonNone},
		{90, true, schemas.ReasonNone},
		{0, false, schemas.ReasonLowConfidence},
	} {
		client := new(mockClient)
		client.On("MatchQuestion", mock.Anything, why).
			Return(schemas.MatchResult{Answer: "Because ...", Confidence: tc.confidence, MatchedID: "q1"}, nil).Once()

		m := New(client, 0, 0, zaptest.NewLogger(t))
		r := m.Resolve(context.Background(), why, 0)
		assert.Equal(t, tc.accepted, r.Accepted, "confidence %d", tc.confidence)
		assert.Equal(t, tc.reason, r.Reason, "confidence %d", tc.confidence)
		assert.Equal(t, tc.confidence, r.Confidence)
		client.AssertExpectations(t)
	}
}

func TestNotFoundAndErrors(t *testing.T) {
	client := new(mockClient)
	client.On("MatchQuestion", mock.Anything, "a").Return(schemas.MatchResult{NotFound: true}, nil)
	client.On("MatchQuestion", mock.Anything, "b").Return(schemas.MatchResult{}, errors.New("backend down"))
	client.On("MatchQuestion", mock.Anything, "c").Return(schemas.MatchResult{Confidence: 99}, nil)

	m := New(client, 85, time.Second, zaptest.NewLogger(t))
	for _, label := range []string{"a", "b", "c"} {
		r := m.Resolve(context.Background(), label, 0)
		assert.False(t, r.Accepted, label)
		assert.Equal(t, schemas.ReasonNoMapping, r.Reason, label)
	}
}

func TestTimeoutYieldsNoMapping(t *testing.T) {
	client := new(mockClient)
	client.On("MatchQuestion", mock.Anything, why).
		Run(func(args mock.Arguments) {
			<-args.Get(0).(context.Context).Done()
		}).
		Return(schemas.MatchResult{}, context.DeadlineExceeded)

	m := New(client, 85, 20*time.Millisecond, zaptest.NewLogger(t))
	start := time.Now()
	r := m.Resolve(context.Background(), why, 0)
	assert.Equal(t, schemas.ReasonNoMapping, r.Reason)
	assert.Less(t, time.Since(start), time.Second)
}

func TestParentCancellationIsNotCached(t *testing.T) {
	client := new(mockClient)
	client.On("MatchQuestion", mock.Anything, why).Return(schemas.MatchResult{}, context.Canceled).Once()
	client.On("MatchQuestion", mock.Anything, why).Return(schemas.MatchResult{Answer: "ok", Confidence: 95}, nil).Once()

	m := New(client, 85, time.Second, zaptest.NewLogger(t))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Equal(t, schemas.ReasonCancelled, m.Resolve(ctx, why, 0).Reason)
	assert.True(t, m.Resolve(context.Background(), why, 0).Accepted)
}

func TestAtMostOncePerLabelAndStep(t *testing.T) {
	client := new(mockClient)
	client.On("MatchQuestion", mock.Anything, why).
		Return(schemas.MatchResult{Answer: "Because", Confidence: 90}, nil)

	m := New(client, 85, time.Second, zaptest.NewLogger(t))
	for i := 0; i < 3; i++ {
		m.Resolve(context.Background(), why, 0)
	}
	m.Resolve(context.Background(), why, 1)
	client.AssertNumberOfCalls(t, "MatchQuestion", 2)
}

func TestNilClient(t *testing.T) {
	m := New(nil, 85, time.Second, nil)
	assert.Equal(t, schemas.ReasonNoMapping, m.Resolve(context.Background(), why, 0).Reason)
}

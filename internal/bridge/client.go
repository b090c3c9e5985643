package bridge

import (
	"context"
	"time"

	"github.com/xkilldash9x/formpilot/api/schemas"
	"go.uber.org/zap"
)

// eventTimeout bounds the write of a fire-and-forget event.
const eventTimeout = 2 * time.Second

// Client is the engine's typed view of the coordinator. It supplies the
// profile and question matches to a run and receives its events.
type Client struct {
	bridge *Bridge
	logger *zap.Logger
}

// NewClient wraps an engine-side bridge.
func NewClient(b *Bridge) *Client {
	return &Client{bridge: b, logger: b.logger.Named("client")}
}

// GetProfile fetches the canonical profile.
func (c *Client) GetProfile(ctx context.Context) (schemas.UserProfile, error) {
	var p schemas.UserProfile
	err := c.bridge.Request(ctx, schemas.MsgGetProfile, "", nil, &p)
	return p, err
}

// GetQuestions lists the stored answers the backend knows.
func (c *Client) GetQuestions(ctx context.Context) ([]schemas.StoredQuestion, error) {
	var res schemas.QuestionsResult
	if err := c.bridge.Request(ctx, schemas.MsgGetQuestions, "", nil, &res); err != nil {
		return nil, err
	}
	return res.Questions, nil
}

// MatchQuestion resolves one free-form prompt.
func (c *Client) MatchQuestion(ctx context.Context, text string) (schemas.MatchResult, error) {
	var res schemas.MatchResult
	err := c.bridge.Request(ctx, schemas.MsgMatchQuestion, "", schemas.MatchRequest{Text: text}, &res)
	return res, err
}

// LogApplication records a submitted application.
func (c *Client) LogApplication(ctx context.Context, rec schemas.ApplicationRecord) (schemas.ApplicationCreated, error) {
	var res schemas.ApplicationCreated
	err := c.bridge.Request(ctx, schemas.MsgLogApplication, "", rec, &res)
	return res, err
}

// Progress forwards a FILL_PROGRESS event.
func (c *Client) Progress(ev schemas.FillProgress) {
	c.emit(schemas.MsgFillProgress, ev.RunID, ev)
}

// Done forwards a FILL_DONE event.
func (c *Client) Done(ev schemas.FillDone) {
	c.emit(schemas.MsgFillDone, ev.RunID, ev)
}

func (c *Client) emit(kind schemas.MessageKind, runID string, payload any) {
	ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
	defer cancel()
	if err := c.bridge.Notify(ctx, kind, runID, payload); err != nil {
		c.logger.Warn("Failed to emit event.", zap.String("kind", string(kind)), zap.String("run_id", runID), zap.Error(err))
	}
}

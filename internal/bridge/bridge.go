// Package bridge carries every message between the engine and the
// coordinator. Requests are correlated with their replies by token; commands
// and events arriving from the peer are dispatched to registered handlers.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/xkilldash9x/formpilot/api/schemas"
	"github.com/xkilldash9x/formpilot/internal/observability"
	"go.uber.org/zap"
)

var (
	// ErrClosed is returned once the bridge or its connection is closed.
	ErrClosed = errors.New("bridge: closed")
	// ErrTimeout is returned when a reply does not arrive in time.
	ErrTimeout = errors.New("bridge: request timed out")
	// ErrUnknownKind is returned for envelopes outside the message set.
	ErrUnknownKind = errors.New("bridge: unknown message kind")
	// ErrNoHandler is reported to the peer for commands nobody serves.
	ErrNoHandler = errors.New("bridge: no handler for message kind")
)

// DefaultRequestTimeout bounds a request when neither the caller's context
// nor the options set a deadline.
const DefaultRequestTimeout = 10 * time.Second

// RemoteError is the peer's ERROR reply to a request.
type RemoteError struct {
	Kind    schemas.MessageKind
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("bridge: peer rejected %s: %s", e.Kind, e.Message)
}

// Handler serves one inbound message. The returned value becomes the reply
// payload; an error becomes an ERROR reply. Events get no reply.
type Handler func(ctx context.Context, env schemas.Envelope) (any, error)

// Options configure a Bridge.
type Options struct {
	RequestTimeout time.Duration
	Logger         *zap.Logger
}

// Bridge is one endpoint of a connection.
type Bridge struct {
	conn    Conn
	timeout time.Duration
	logger  *zap.Logger

	mu       sync.Mutex
	closed   bool
	pending  map[string]chan schemas.Envelope
	handlers map[schemas.MessageKind]Handler

	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
	handlerWG sync.WaitGroup
	err       error
}

// New wraps conn. Call Start to begin reading.
func New(conn Conn, opts Options) *Bridge {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = DefaultRequestTimeout
	}
	if opts.Logger == nil {
		opts.Logger = observability.GetLogger()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Bridge{
		conn:     conn,
		timeout:  opts.RequestTimeout,
		logger:   opts.Logger.Named("bridge"),
		pending:  make(map[string]chan schemas.Envelope),
		handlers: make(map[schemas.MessageKind]Handler),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
}

// Handle registers h for inbound messages of kind. Register before Start.
func (b *Bridge) Handle(kind schemas.MessageKind, h Handler) {
	b.mu.Lock()
	b.handlers[kind] = h
	b.mu.Unlock()
}

// Start launches the reader goroutine. The bridge closes itself when the
// connection fails.
func (b *Bridge) Start() {
	go b.readLoop()
}

// Done is closed when the bridge has shut down.
func (b *Bridge) Done() <-chan struct{} {
	return b.done
}

// Err returns the reason the bridge shut down, if it has.
func (b *Bridge) Err() error {
	select {
	case <-b.done:
		return b.err
	default:
		return nil
	}
}

// Close shuts the bridge down, failing every pending request with ErrClosed
// and waiting for running handlers.
func (b *Bridge) Close() error {
	b.shutdown(ErrClosed)
	return nil
}

func (b *Bridge) shutdown(reason error) {
	b.closeOnce.Do(func() {
		b.err = reason
		b.cancel()
		_ = b.conn.Close()
		b.mu.Lock()
		b.closed = true
		for id, ch := range b.pending {
			close(ch)
			delete(b.pending, id)
		}
		b.mu.Unlock()
		b.handlerWG.Wait()
		close(b.done)
	})
}

// Request sends a message and waits for the reply with the same
// correlation token, decoding its payload into out.
func (b *Bridge) Request(ctx context.Context, kind schemas.MessageKind, runID string, payload, out any) error {
	if _, ok := kind.ResponseKind(); !ok {
		return fmt.Errorf("bridge: %s is not a request kind", kind)
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}

	body, err := Payload(payload)
	if err != nil {
		return err
	}
	env := schemas.Envelope{Kind: kind, CorrelationID: uuid.NewString(), RunID: runID, Payload: body}
	reply := make(chan schemas.Envelope, 1)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	b.pending[env.CorrelationID] = reply
	b.mu.Unlock()
	defer b.forget(env.CorrelationID)

	if err := b.write(ctx, env); err != nil {
		return b.requestErr(ctx, kind, err)
	}

	select {
	case resp, ok := <-reply:
		if !ok {
			return ErrClosed
		}
		if resp.Kind == schemas.MsgError {
			return &RemoteError{Kind: kind, Message: resp.Error}
		}
		return Unpack(resp, out)
	case <-ctx.Done():
		return b.requestErr(ctx, kind, ctx.Err())
	}
}

func (b *Bridge) requestErr(ctx context.Context, kind schemas.MessageKind, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s: %w", ErrTimeout, kind, ctx.Err())
	}
	return err
}

// Notify sends an event that expects no reply.
func (b *Bridge) Notify(ctx context.Context, kind schemas.MessageKind, runID string, payload any) error {
	body, err := Payload(payload)
	if err != nil {
		return err
	}
	return b.write(ctx, schemas.Envelope{Kind: kind, RunID: runID, Payload: body})
}

func (b *Bridge) forget(id string) {
	b.mu.Lock()
	delete(b.pending, id)
	b.mu.Unlock()
}

func (b *Bridge) write(ctx context.Context, env schemas.Envelope) error {
	data, err := Encode(env)
	if err != nil {
		return err
	}
	select {
	case <-b.done:
		return ErrClosed
	default:
	}
	return b.conn.WriteFrame(ctx, data)
}

func (b *Bridge) readLoop() {
	for {
		data, err := b.conn.ReadFrame()
		if err != nil {
			if !errors.Is(err, ErrClosed) {
				b.logger.Warn("Bridge connection lost.", zap.Error(err))
			}
			b.shutdown(err)
			return
		}
		env, err := Decode(data)
		if err != nil {
			b.logger.Warn("Dropping undecodable frame.", zap.Error(err))
			if env.CorrelationID != "" {
				b.reply(env, nil, err)
			}
			continue
		}
		b.dispatch(env)
	}
}

// dispatch routes a reply to its waiting request, or a command or event to
// its handler.
func (b *Bridge) dispatch(env schemas.Envelope) {
	if env.CorrelationID != "" {
		b.mu.Lock()
		ch, ok := b.pending[env.CorrelationID]
		if ok {
			delete(b.pending, env.CorrelationID)
		}
		b.mu.Unlock()
		if ok {
			ch <- env
			return
		}
	}

	b.mu.Lock()
	h, ok := b.handlers[env.Kind]
	b.mu.Unlock()
	if !ok {
		if env.CorrelationID != "" {
			b.reply(env, nil, fmt.Errorf("%w: %s", ErrNoHandler, env.Kind))
		} else {
			b.logger.Debug("Ignoring unhandled event.", zap.String(observability.KeyKind, string(env.Kind)))
		}
		return
	}

	// Events run on the read loop so they are observed in send order.
	if env.CorrelationID == "" {
		if _, err := b.invoke(h, env); err != nil {
			b.logger.Warn("Event handler failed.", zap.String(observability.KeyKind, string(env.Kind)), zap.Error(err))
		}
		return
	}

	b.handlerWG.Add(1)
	go func() {
		defer b.handlerWG.Done()
		result, err := b.invoke(h, env)
		b.reply(env, result, err)
	}()
}

func (b *Bridge) invoke(h Handler, env schemas.Envelope) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("Recovered from panic in bridge handler.",
				zap.String(observability.KeyKind, string(env.Kind)), zap.Any("panic", r))
			err = fmt.Errorf("bridge: handler panicked: %v", r)
		}
	}()
	return h(b.ctx, env)
}

// reply answers a request, echoing its correlation token.
func (b *Bridge) reply(req schemas.Envelope, result any, herr error) {
	out := schemas.Envelope{CorrelationID: req.CorrelationID, RunID: req.RunID}
	kind, ok := req.Kind.ResponseKind()
	switch {
	case herr != nil || !ok:
		out.Kind = schemas.MsgError
		if herr == nil {
			herr = fmt.Errorf("bridge: %s expects no reply", req.Kind)
		}
		out.Error = herr.Error()
	default:
		out.Kind = kind
		body, err := Payload(result)
		if err != nil {
			out.Kind, out.Error = schemas.MsgError, err.Error()
		} else {
			out.Payload = body
		}
	}

	ctx, cancel := context.WithTimeout(b.ctx, b.timeout)
	defer cancel()
	if err := b.write(ctx, out); err != nil && !errors.Is(err, ErrClosed) && b.ctx.Err() == nil {
		b.logger.Warn("Failed to send reply.", zap.String(observability.KeyMessageID, req.CorrelationID), zap.Error(err))
	}
}

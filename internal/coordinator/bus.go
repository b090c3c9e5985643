package coordinator

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/formpilot/api/schemas"
)

// ErrBusClosed is returned by Post after Shutdown.
var ErrBusClosed = errors.New("coordinator: event bus is shut down")

// Message is the envelope for data transmitted over the EventBus.
type Message struct {
	ID        string
	Timestamp time.Time
	Kind      schemas.MessageKind
	Payload   any
}

type subscriber struct {
	ch       chan Message
	done     chan struct{}
	stopOnce sync.Once
}

// EventBus fans run events out to UI subscribers.
type EventBus struct {
	logger *zap.Logger

	subscribers map[schemas.MessageKind][]*subscriber
	mu          sync.RWMutex
	bufferSize  int

	// activePosts tracks Post calls still delivering.
	activePosts sync.WaitGroup

	shutdownChan chan struct{}
	shutdownOnce sync.Once
	isShutdown   bool
	shutdownMu   sync.Mutex
}

// NewEventBus initializes the EventBus.
func NewEventBus(logger *zap.Logger, bufferSize int) *EventBus {
	if bufferSize < 0 {
		bufferSize = 0
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventBus{
		logger:       logger.Named("event_bus"),
		subscribers:  make(map[schemas.MessageKind][]*subscriber),
		bufferSize:   bufferSize,
		shutdownChan: make(chan struct{}),
	}
}

// Post delivers a message to every subscriber of kind. It blocks while a
// subscriber's buffer is full, until ctx is done.
func (eb *EventBus) Post(ctx context.Context, kind schemas.MessageKind, payload any) error {
	eb.shutdownMu.Lock()
	if eb.isShutdown {
		eb.shutdownMu.Unlock()
		return ErrBusClosed
	}
	eb.activePosts.Add(1)
	eb.shutdownMu.Unlock()
	defer eb.activePosts.Done()

	msg := Message{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Kind:      kind,
		Payload:   payload,
	}

	eb.mu.RLock()
	subs := append([]*subscriber(nil), eb.subscribers[kind]...)
	eb.mu.RUnlock()
	if len(subs) == 0 {
		return nil
	}
	eb.logger.Debug("Posting message", zap.String("kind", string(kind)), zap.String("id", msg.ID), zap.Int("subscribers", len(subs)))

	for _, sub := range subs {
		select {
		case sub.ch <- msg:
		case <-sub.done:
			// Unsubscribed while we were delivering.
		case <-ctx.Done():
			return ctx.Err()
		case <-eb.shutdownChan:
			return ErrBusClosed
		}
	}
	return nil
}

// Subscribe returns a channel of messages of the given kinds and a function
// that ends the subscription. The channel is closed on Shutdown.
func (eb *EventBus) Subscribe(kinds ...schemas.MessageKind) (<-chan Message, func()) {
	if len(kinds) == 0 {
		panic("must subscribe to at least one message kind")
	}
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.isClosed() {
		closedCh := make(chan Message)
		close(closedCh)
		return closedCh, func() {}
	}

	sub := &subscriber{ch: make(chan Message, eb.bufferSize), done: make(chan struct{})}
	subscribed := append([]schemas.MessageKind(nil), kinds...)
	for _, k := range subscribed {
		eb.subscribers[k] = append(eb.subscribers[k], sub)
	}

	unsubscribe := func() {
		sub.stopOnce.Do(func() { close(sub.done) })
		eb.mu.Lock()
		defer eb.mu.Unlock()
		for _, k := range subscribed {
			subs := eb.subscribers[k]
			for i, s := range subs {
				if s == sub {
					eb.subscribers[k] = append(subs[:i:i], subs[i+1:]...)
					break
				}
			}
			if len(eb.subscribers[k]) == 0 {
				delete(eb.subscribers, k)
			}
		}
	}
	return sub.ch, unsubscribe
}

func (eb *EventBus) isClosed() bool {
	eb.shutdownMu.Lock()
	defer eb.shutdownMu.Unlock()
	return eb.isShutdown
}

// Shutdown stops accepting posts, waits for in-flight deliveries and closes
// every subscriber channel.
func (eb *EventBus) Shutdown() {
	eb.shutdownOnce.Do(func() {
		eb.logger.Info("Shutting down event bus...")

		eb.shutdownMu.Lock()
		eb.isShutdown = true
		eb.shutdownMu.Unlock()

		close(eb.shutdownChan)
		eb.activePosts.Wait()

		// No Post can be sending now, so closing is safe.
		eb.mu.Lock()
		unique := make(map[*subscriber]struct{})
		for _, subs := range eb.subscribers {
			for _, s := range subs {
				unique[s] = struct{}{}
			}
		}
		for s := range unique {
			close(s.ch)
		}
		eb.subscribers = make(map[schemas.MessageKind][]*subscriber)
		eb.mu.Unlock()

		eb.logger.Info("Event bus shut down gracefully.")
	})
}

package coordinator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/formpilot/api/schemas"
)

func newTestBus(t *testing.T, bufferSize int) *EventBus {
	return NewEventBus(zaptest.NewLogger(t), bufferSize)
}

func TestBusDeliversByKind(t *testing.T) {
	eb := newTestBus(t, 4)
	defer eb.Shutdown()

	progress, unsubscribeProgress := eb.Subscribe(schemas.MsgFillProgress)
	defer unsubscribeProgress()
	both, unsubscribeBoth := eb.Subscribe(schemas.MsgFillProgress, schemas.MsgFillDone)
	defer unsubscribeBoth()

	ctx := context.Background()
	require.NoError(t, eb.Post(ctx, schemas.MsgFillProgress, schemas.FillProgress{RunID: "r1", FieldLabel: "Email"}))
	require.NoError(t, eb.Post(ctx, schemas.MsgFillDone, schemas.FillDone{RunID: "r1"}))

	msg := <-progress
	assert.Equal(t, schemas.MsgFillProgress, msg.Kind)
	assert.Equal(t, "Email", msg.Payload.(schemas.FillProgress).FieldLabel)
	assert.NotEmpty(t, msg.ID)
	select {
	case extra := <-progress:
		t.Fatalf("progress subscriber received %s", extra.Kind)
	default:
	}

	assert.Equal(t, schemas.MsgFillProgress, (<-both).Kind)
	assert.Equal(t, schemas.MsgFillDone, (<-both).Kind)
}

func TestBusPostWithoutSubscribers(t *testing.T) {
	eb := newTestBus(t, 0)
	defer eb.Shutdown()
	assert.NoError(t, eb.Post(context.Background(), schemas.MsgFillDone, nil))
}

func TestBusPostCancellation(t *testing.T) {
	eb := newTestBus(t, 0)
	defer eb.Shutdown()

	msgChan, unsubscribe := eb.Subscribe(schemas.MsgFillProgress)
	defer unsubscribe()

	ctx, cancel := context.WithCancel(context.Background())
	postDone := make(chan error)
	go func() {
		postDone <- eb.Post(ctx, schemas.MsgFillProgress, "payload")
	}()

	// Ensure Post is blocking.
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-postDone:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Post did not return promptly after cancellation.")
	}
	select {
	case <-msgChan:
		t.Error("Message should not have been delivered after cancellation.")
	default:
	}
}

func TestBusUnsubscribeReleasesBlockedPost(t *testing.T) {
	eb := newTestBus(t, 0)
	defer eb.Shutdown()

	_, unsubscribe := eb.Subscribe(schemas.MsgFillDone)
	postDone := make(chan error)
	go func() {
		postDone <- eb.Post(context.Background(), schemas.MsgFillDone, "payload")
	}()
	time.Sleep(20 * time.Millisecond)
	unsubscribe()
	unsubscribe()

	select {
	case err := <-postDone:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Post stayed blocked on an unsubscribed reader.")
	}
}

func TestBusShutdownUnderLoad(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	eb := newTestBus(t, 2)
	var subscribers sync.WaitGroup
	for i := 0; i < 5; i++ {
		msgChan, _ := eb.Subscribe(schemas.MsgFillProgress)
		subscribers.Add(1)
		go func() {
			defer subscribers.Done()
			for range msgChan {
				time.Sleep(time.Millisecond)
			}
		}()
	}

	var publishers sync.WaitGroup
	for i := 0; i < 10; i++ {
		publishers.Add(1)
		go func() {
			defer publishers.Done()
			for j := 0; j < 20; j++ {
				if err := eb.Post(context.Background(), schemas.MsgFillProgress, j); err != nil {
					assert.ErrorIs(t, err, ErrBusClosed)
					return
				}
			}
		}()
	}

	time.Sleep(10 * time.Millisecond)
	eb.Shutdown()
	publishers.Wait()
	subscribers.Wait()

	assert.ErrorIs(t, eb.Post(context.Background(), schemas.MsgFillProgress, "late"), ErrBusClosed)
	closed, _ := eb.Subscribe(schemas.MsgFillProgress)
	_, open := <-closed
	assert.False(t, open, "subscriptions after shutdown are closed")
}

// Package engine is the command surface of the autofill engine: it starts,
// cancels and reports on runs, one at a time, and serves those commands over
// the coordinator bridge.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/formpilot/api/schemas"
	"github.com/xkilldash9x/formpilot/internal/bridge"
	"github.com/xkilldash9x/formpilot/internal/flow"
)

var (
	// ErrRunActive rejects a start while another run is in flight.
	ErrRunActive = errors.New("engine: a run is already active")
	// ErrUnknownRun is returned for run ids this engine never issued.
	ErrUnknownRun = errors.New("engine: unknown run")
)

// historySize bounds how many finished runs remain queryable.
const historySize = 32

// -- Interfaces for Dependency Inversion --

// Runner executes one run to completion. flow.Controller satisfies it.
type Runner interface {
	Execute(ctx context.Context, run *flow.Run) schemas.FillDone
}

type activeRun struct {
	run    *flow.Run
	cancel context.CancelFunc
	done   chan struct{}
	result schemas.FillDone
}

// Engine owns at most one active run.
type Engine struct {
	runner Runner
	logger *zap.Logger
	newID  func() string

	mu     sync.Mutex
	active *activeRun
	runs   map[string]*activeRun
	order  []string
	wg     sync.WaitGroup
}

// New creates an Engine around runner.
func New(runner Runner, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		runner: runner,
		logger: logger.Named("engine"),
		newID:  uuid.NewString,
		runs:   make(map[string]*activeRun),
	}
}

// Start begins a run on the current page, or on startURL when it is set,
// and returns its id. The run outlives ctx's cancellation; use Cancel.
func (e *Engine) Start(ctx context.Context, startURL string) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.active != nil {
		e.logger.Warn("Rejected start: run already active.", zap.String("active_run", e.active.run.ID))
		return "", ErrRunActive
	}

	run := flow.NewRun(e.newID())
	run.StartURL = startURL
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	a := &activeRun{run: run, cancel: cancel, done: make(chan struct{})}
	e.active = a
	e.remember(a)

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer cancel()
		result := e.runner.Execute(runCtx, run)

		e.mu.Lock()
		a.result = result
		if e.active == a {
			e.active = nil
		}
		e.mu.Unlock()
		close(a.done)
	}()

	e.logger.Info("Run started.", zap.String("run_id", run.ID), zap.String("url", startURL))
	return run.ID, nil
}

// remember records a run for status queries, evicting the oldest finished
// runs beyond historySize.
func (e *Engine) remember(a *activeRun) {
	e.runs[a.run.ID] = a
	e.order = append(e.order, a.run.ID)
	for len(e.order) > historySize {
		oldest := e.order[0]
		if e.active != nil && e.active.run.ID == oldest {
			break
		}
		delete(e.runs, oldest)
		e.order = e.order[1:]
	}
}

// Cancel requests cancellation of a run. Cancelling a finished or already
// cancelled run is a no-op.
func (e *Engine) Cancel(runID string) error {
	e.mu.Lock()
	a, ok := e.runs[runID]
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownRun, runID)
	}
	a.cancel()
	return nil
}

// Status reports a run's state and step reports.
func (e *Engine) Status(runID string) (schemas.RunStatus, error) {
	e.mu.Lock()
	a, ok := e.runs[runID]
	e.mu.Unlock()
	if !ok {
		return schemas.RunStatus{}, fmt.Errorf("%w: %s", ErrUnknownRun, runID)
	}
	return a.run.Status(), nil
}

// Active returns the id of the run in flight, if any.
func (e *Engine) Active() (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.active == nil {
		return "", false
	}
	return e.active.run.ID, true
}

// Wait blocks until the run finishes and returns its FILL_DONE summary.
func (e *Engine) Wait(ctx context.Context, runID string) (schemas.FillDone, error) {
	e.mu.Lock()
	a, ok := e.runs[runID]
	e.mu.Unlock()
	if !ok {
		return schemas.FillDone{}, fmt.Errorf("%w: %s", ErrUnknownRun, runID)
	}
	select {
	case <-a.done:
		e.mu.Lock()
		defer e.mu.Unlock()
		return a.result, nil
	case <-ctx.Done():
		return schemas.FillDone{}, ctx.Err()
	}
}

// Shutdown cancels the active run and waits for it to emit its summary.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	if e.active != nil {
		e.active.cancel()
	}
	e.mu.Unlock()

	finished := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Serve registers the engine's commands on an engine-side bridge.
func (e *Engine) Serve(b *bridge.Bridge) {
	b.Handle(schemas.MsgFillForm, func(ctx context.Context, env schemas.Envelope) (any, error) {
		var cmd schemas.FillFormCommand
		if err := bridge.Unpack(env, &cmd); err != nil {
			return nil, err
		}
		id, err := e.Start(ctx, cmd.URL)
		if err != nil {
			return nil, err
		}
		return schemas.FillFormAck{RunID: id}, nil
	})
	b.Handle(schemas.MsgCancel, func(_ context.Context, env schemas.Envelope) (any, error) {
		id := commandRunID(env)
		if err := e.Cancel(id); err != nil {
			return nil, err
		}
		return schemas.FillFormAck{RunID: id}, nil
	})
	b.Handle(schemas.MsgGetStatus, func(_ context.Context, env schemas.Envelope) (any, error) {
		return e.Status(commandRunID(env))
	})
}

// commandRunID reads the target run from the envelope, falling back to the
// payload.
func commandRunID(env schemas.Envelope) string {
	if env.RunID != "" {
		return env.RunID
	}
	var ack schemas.FillFormAck
	_ = bridge.Unpack(env, &ack)
	return ack.RunID
}

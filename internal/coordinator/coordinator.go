// Package coordinator is the out-of-page side of the bridge. It accepts one
// engine connection, answers its profile and question requests from the
// backend, fans run events out to UI subscribers and exposes the engine's
// commands over HTTP.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	json "github.com/json-iterator/go"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/formpilot/api/schemas"
	"github.com/xkilldash9x/formpilot/internal/bridge"
	"github.com/xkilldash9x/formpilot/internal/config"
	"github.com/xkilldash9x/formpilot/internal/observability"
	"github.com/xkilldash9x/formpilot/internal/store"
)

// ErrNoEngine is returned for commands while no engine is connected.
var ErrNoEngine = errors.New("coordinator: no engine connected")

const (
	eventPostTimeout = 2 * time.Second
	saveTimeout      = 5 * time.Second
	shutdownTimeout  = 10 * time.Second
)

// RunStore persists run summaries. store.Store satisfies it.
type RunStore interface {
	SaveRun(ctx context.Context, done schemas.FillDone) error
	RecentRuns(ctx context.Context, limit int) ([]store.RunRecord, error)
}

// Coordinator serves the bridge endpoint and the UI API.
type Coordinator struct {
	cfg     config.CoordinatorConfig
	backend *cachedBackend
	store   RunStore
	tokens  *TokenService
	bus     *EventBus
	logger  *zap.Logger
	timeout time.Duration

	mu     sync.Mutex
	engine *bridge.Bridge
	wg     sync.WaitGroup
}

// Options carries the optional collaborators.
type Options struct {
	// Store, when set, receives every FILL_DONE summary.
	Store RunStore
	// RequestTimeout bounds each bridge request. Zero uses the bridge default.
	RequestTimeout time.Duration
	Logger         *zap.Logger
}

// New builds a coordinator. An empty JWTSecret disables engine
// authentication.
func New(cfg config.CoordinatorConfig, backend Backend, opts Options) *Coordinator {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Coordinator{
		cfg:     cfg,
		backend: newCachedBackend(backend, cfg.CacheSize, cfg.CacheTTL),
		store:   opts.Store,
		bus:     NewEventBus(logger, cfg.EventQueue),
		logger:  logger.Named("coordinator"),
		timeout: opts.RequestTimeout,
	}
	if cfg.JWTSecret != "" {
		c.tokens = NewTokenService(cfg.JWTSecret, cfg.TokenTTL)
	} else {
		c.logger.Warn("Engine authentication disabled: no jwt_secret configured.")
	}
	return c
}

// Bus exposes the event bus for in-process subscribers.
func (c *Coordinator) Bus() *EventBus { return c.bus }

// Handler returns the HTTP routes.
func (c *Coordinator) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	// Long-lived streams: no request timeout middleware on this router.
	r.Get("/bridge", c.handleBridge)
	r.Get("/events", c.handleEvents)

	r.Route("/runs", func(r chi.Router) {
		r.Post("/", c.handleStartRun)
		r.Get("/", c.handleRecentRuns)
		r.Get("/{id}", c.handleStatus)
		r.Post("/{id}/cancel", c.handleCancel)
	})
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]bool{"engine_connected": c.connected() != nil})
	})
	return r
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (c *Coordinator) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              c.cfg.ListenAddr,
		Handler:           c.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		c.logger.Info("Coordinator listening.", zap.String("addr", c.cfg.ListenAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("coordinator: serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		// Close the bus first so SSE handlers return and the server can drain.
		c.bus.Shutdown()
		err := srv.Shutdown(shutdownCtx)
		c.Close()
		return err
	})
	return g.Wait()
}

// Close disconnects the engine and stops the event bus.
func (c *Coordinator) Close() {
	c.mu.Lock()
	engine := c.engine
	c.engine = nil
	c.mu.Unlock()
	if engine != nil {
		engine.Close()
		<-engine.Done()
	}
	c.bus.Shutdown()
	c.wg.Wait()
}

func (c *Coordinator) connected() *bridge.Bridge {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.engine
}

// Attach serves an engine over conn, replacing any previous engine.
func (c *Coordinator) Attach(conn bridge.Conn, engineName string) *bridge.Bridge {
	b := bridge.New(conn, bridge.Options{RequestTimeout: c.timeout, Logger: c.logger.With(zap.String("engine", engineName))})
	c.register(b)

	c.mu.Lock()
	previous := c.engine
	c.engine = b
	c.mu.Unlock()
	if previous != nil {
		c.logger.Info("Replacing connected engine.")
		previous.Close()
	}

	b.Start()
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		<-b.Done()
		c.mu.Lock()
		if c.engine == b {
			c.engine = nil
		}
		c.mu.Unlock()
		c.logger.Info("Engine disconnected.", zap.String("engine", engineName), zap.Error(b.Err()))
	}()
	c.logger.Info("Engine connected.", zap.String("engine", engineName))
	return b
}

// register installs the coordinator's side of the protocol.
func (c *Coordinator) register(b *bridge.Bridge) {
	b.Handle(schemas.MsgGetProfile, func(ctx context.Context, _ schemas.Envelope) (any, error) {
		return c.backend.Profile(ctx)
	})
	b.Handle(schemas.MsgGetQuestions, func(ctx context.Context, _ schemas.Envelope) (any, error) {
		qs, err := c.backend.Questions(ctx)
		if err != nil {
			return nil, err
		}
		return schemas.QuestionsResult{Questions: qs}, nil
	})
	b.Handle(schemas.MsgMatchQuestion, func(ctx context.Context, env schemas.Envelope) (any, error) {
		var req schemas.MatchRequest
		if err := bridge.Unpack(env, &req); err != nil {
			return nil, err
		}
		return c.backend.Match(ctx, req.Text)
	})
	b.Handle(schemas.MsgLogApplication, func(ctx context.Context, env schemas.Envelope) (any, error) {
		var rec schemas.ApplicationRecord
		if err := bridge.Unpack(env, &rec); err != nil {
			return nil, err
		}
		return c.backend.CreateApplication(ctx, rec)
	})
	b.Handle(schemas.MsgFillProgress, func(ctx context.Context, env schemas.Envelope) (any, error) {
		var ev schemas.FillProgress
		if err := bridge.Unpack(env, &ev); err != nil {
			return nil, err
		}
		return nil, c.publish(ctx, schemas.MsgFillProgress, ev)
	})
	b.Handle(schemas.MsgFillDone, func(ctx context.Context, env schemas.Envelope) (any, error) {
		var ev schemas.FillDone
		if err := bridge.Unpack(env, &ev); err != nil {
			return nil, err
		}
		c.persist(ctx, ev)
		return nil, c.publish(ctx, schemas.MsgFillDone, ev)
	})
}

func (c *Coordinator) publish(ctx context.Context, kind schemas.MessageKind, payload any) error {
	postCtx, cancel := context.WithTimeout(ctx, eventPostTimeout)
	defer cancel()
	return c.bus.Post(postCtx, kind, payload)
}

func (c *Coordinator) persist(ctx context.Context, done schemas.FillDone) {
	if c.store == nil {
		return
	}
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), saveTimeout)
	defer cancel()
	if err := c.store.SaveRun(saveCtx, done); err != nil {
		c.logger.Error("Failed to persist run.", zap.String(observability.KeyRunID, done.RunID), zap.Error(err))
	}
}

// -- HTTP handlers --

func (c *Coordinator) handleBridge(w http.ResponseWriter, r *http.Request) {
	name := "engine"
	if c.tokens != nil {
		claims, err := c.tokens.Validate(bearer(r))
		if err != nil {
			c.logger.Warn("Rejected engine connection.", zap.Error(err))
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		name = claims.Subject
	}
	conn, err := bridge.Accept(w, r)
	if err != nil {
		c.logger.Warn("Engine upgrade failed.", zap.Error(err))
		return
	}
	c.Attach(conn, name)
}

func (c *Coordinator) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	events, unsubscribe := c.bus.Subscribe(schemas.MsgFillProgress, schemas.MsgFillDone)
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case msg, ok := <-events:
			if !ok {
				return
			}
			data, err := json.Marshal(msg.Payload)
			if err != nil {
				c.logger.Warn("Dropping unencodable event.", zap.Error(err))
				continue
			}
			if _, err := fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", msg.ID, msg.Kind, data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func (c *Coordinator) handleStartRun(w http.ResponseWriter, r *http.Request) {
	var cmd schemas.FillFormCommand
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid body: %w", err))
			return
		}
	}
	var ack schemas.FillFormAck
	if err := c.request(r.Context(), schemas.MsgFillForm, "", cmd, &ack); err != nil {
		c.writeCommandError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, ack)
}

func (c *Coordinator) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var ack schemas.FillFormAck
	if err := c.request(r.Context(), schemas.MsgCancel, id, nil, &ack); err != nil {
		c.writeCommandError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, ack)
}

func (c *Coordinator) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var status schemas.RunStatus
	if err := c.request(r.Context(), schemas.MsgGetStatus, id, nil, &status); err != nil {
		c.writeCommandError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (c *Coordinator) handleRecentRuns(w http.ResponseWriter, r *http.Request) {
	if c.store == nil {
		writeJSON(w, http.StatusOK, []store.RunRecord{})
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	runs, err := c.store.RecentRuns(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if runs == nil {
		runs = []store.RunRecord{}
	}
	writeJSON(w, http.StatusOK, runs)
}

func (c *Coordinator) request(ctx context.Context, kind schemas.MessageKind, runID string, payload, out any) error {
	engine := c.connected()
	if engine == nil {
		return ErrNoEngine
	}
	return engine.Request(ctx, kind, runID, payload, out)
}

func (c *Coordinator) writeCommandError(w http.ResponseWriter, err error) {
	var remote *bridge.RemoteError
	switch {
	case errors.Is(err, ErrNoEngine), errors.Is(err, bridge.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, err)
	case errors.Is(err, bridge.ErrTimeout):
		writeError(w, http.StatusGatewayTimeout, err)
	case errors.As(err, &remote):
		writeError(w, remoteStatus(remote), errors.New(remote.Message))
	default:
		writeError(w, http.StatusBadGateway, err)
	}
}

// remoteStatus maps an engine-side refusal to an HTTP status.
func remoteStatus(e *bridge.RemoteError) int {
	switch {
	case containsFold(e.Message, "already active"):
		return http.StatusConflict
	case containsFold(e.Message, "unknown run"):
		return http.StatusNotFound
	}
	return http.StatusBadGateway
}

func containsFold(s, sub string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(sub))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

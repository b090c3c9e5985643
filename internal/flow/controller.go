// Package flow drives one autofill run as a finite state machine: detect the
// step's fields, fill them in document order, activate the advance control,
// wait for the next step, and stop at the review step without submitting.
package flow

import (
	"context"
	"strings"
	"time"

	"github.com/xkilldash9x/formpilot/api/schemas"
	"github.com/xkilldash9x/formpilot/internal/adapter"
	"github.com/xkilldash9x/formpilot/internal/browser/dom"
	"github.com/xkilldash9x/formpilot/internal/classify"
	"github.com/xkilldash9x/formpilot/internal/config"
	"github.com/xkilldash9x/formpilot/internal/filler"
	"github.com/xkilldash9x/formpilot/internal/form"
	"github.com/xkilldash9x/formpilot/internal/matcher"
	"github.com/xkilldash9x/formpilot/internal/observability"
	"github.com/xkilldash9x/formpilot/internal/profile"
	"go.uber.org/zap"
)

// Emitter receives run events. Emission is fire-and-forget.
type Emitter interface {
	Progress(ev schemas.FillProgress)
	Done(ev schemas.FillDone)
}

// ProfileSource supplies the user profile once per run.
type ProfileSource interface {
	GetProfile(ctx context.Context) (schemas.UserProfile, error)
}

// Navigator loads a run's start URL.
type Navigator interface {
	Navigate(ctx context.Context, url string) error
}

// Pacer supplies every pause the run takes.
type Pacer interface {
	filler.Pacer
	FieldPause(ctx context.Context) error
	AdvancePause(ctx context.Context) error
	Wait(ctx context.Context, d time.Duration) error
	HighlightDuration() time.Duration
}

// Dependencies wires a controller to its collaborators.
type Dependencies struct {
	Page dom.Page
	// Navigator is required only for runs with a StartURL.
	Navigator Navigator
	Registry  *adapter.Registry
	Profiles  ProfileSource
	// Matches may be nil, in which case every unknown field is NO_MAPPING.
	Matches matcher.Client
	Pacer   Pacer
	Emitter Emitter
	// Now stamps progress events. Defaults to time.Now.
	Now    func() time.Time
	Logger *zap.Logger
}

// Controller executes runs. It holds no per-run state, so one controller
// can execute consecutive runs.
type Controller struct {
	deps       Dependencies
	cfg        config.EngineConfig
	classifier *classify.Classifier
}

// New builds a controller. Zero-valued engine settings take their defaults.
func New(cfg config.EngineConfig, deps Dependencies) *Controller {
	def := config.NewDefaultConfig().Engine()
	if cfg.StepWait <= 0 {
		cfg.StepWait = def.StepWait
	}
	if cfg.StepPollInterval <= 0 {
		cfg.StepPollInterval = def.StepPollInterval
	}
	if cfg.MaxStepTransitions <= 0 {
		cfg.MaxStepTransitions = def.MaxStepTransitions
	}
	if cfg.ProfileTimeout <= 0 {
		cfg.ProfileTimeout = def.ProfileTimeout
	}
	if deps.Registry == nil {
		deps.Registry = adapter.NewRegistry()
	}
	if deps.Emitter == nil {
		deps.Emitter = nopEmitter{}
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Controller{deps: deps, cfg: cfg, classifier: classify.New()}
}

// Execute drives run from IDLE to a terminal state and emits FILL_DONE once.
// Cancelling ctx aborts the run at the next suspension point.
func (c *Controller) Execute(ctx context.Context, run *Run) schemas.FillDone {
	logger := observability.ForRun(c.deps.Logger, "flow", run.ID)
	logger.Info("Run starting.")

	x := &execution{
		Controller: c,
		run:        run,
		logger:     logger,
	}
	x.drive(ctx)

	done := run.Summary()
	logger.Info("Run finished.",
		zap.String(observability.KeyState, string(done.FinalState)),
		zap.String("abort_reason", string(done.AbortReason)),
		zap.Int("steps", len(done.StepReports)))
	c.deps.Emitter.Done(done)
	return done
}

// execution is the state of one run in flight.
type execution struct {
	*Controller
	run    *Run
	logger *zap.Logger

	mapper  *profile.Mapper
	matcher *matcher.Matcher
	filler  *filler.Filler
	adapter adapter.Adapter

	step        int
	transitions int
	report      *schemas.StepReport
	snap        *dom.Snapshot
	fields      []form.Field
	// previous holds the input handles of the step being left.
	previous map[dom.Handle]struct{}
}

func (x *execution) drive(ctx context.Context) {
	x.run.enter(schemas.StateDetecting)
	if !x.loadProfile(ctx) || !x.navigate(ctx) {
		return
	}
	x.matcher = matcher.New(x.deps.Matches, x.cfg.MatchThreshold, x.cfg.MatchTimeout, x.logger)
	x.filler = filler.New(x.deps.Page, x.deps.Pacer, x.deps.Pacer.HighlightDuration(), x.logger)

	for {
		if ctx.Err() != nil {
			x.abort(schemas.AbortCancelled)
			return
		}
		state := x.run.State()
		if state.IsTerminal() {
			return
		}
		x.logger.Debug("Entering state.", zap.String(observability.KeyState, string(state)), observability.Step(x.step))

		switch state {
		case schemas.StateDetecting:
			x.detect(ctx)
		case schemas.StateFilling:
			x.fill(ctx)
		case schemas.StateAdvancing:
			x.advance(ctx)
		case schemas.StateWaitingForStep:
			x.waitForStep(ctx)
		case schemas.StateAtReview:
			x.closeReport()
			x.run.enter(schemas.StateDone)
		default:
			x.abort(schemas.AbortCancelled)
		}
	}
}

// loadProfile fetches the profile once; the run cannot proceed without it.
func (x *execution) loadProfile(ctx context.Context) bool {
	if x.deps.Profiles == nil {
		x.abort(schemas.AbortBridgeError)
		return false
	}
	pctx, cancel := context.WithTimeout(ctx, x.cfg.ProfileTimeout)
	defer cancel()
	p, err := x.deps.Profiles.GetProfile(pctx)
	if err != nil {
		if ctx.Err() != nil {
			x.abort(schemas.AbortCancelled)
			return false
		}
		x.logger.Error("Failed to fetch profile, aborting run.", zap.Error(err))
		x.abort(schemas.AbortBridgeError)
		return false
	}
	x.mapper = profile.NewMapper(p)
	return true
}

func (x *execution) navigate(ctx context.Context) bool {
	if x.run.StartURL == "" {
		return true
	}
	if x.deps.Navigator == nil {
		x.logger.Error("Run has a start URL but no navigator is configured.")
		x.abort(schemas.AbortNavigation)
		return false
	}
	if err := x.deps.Navigator.Navigate(ctx, x.run.StartURL); err != nil {
		if ctx.Err() != nil {
			x.abort(schemas.AbortCancelled)
			return false
		}
		x.logger.Error("Failed to load start URL.", zap.String("url", x.run.StartURL), zap.Error(err))
		x.abort(schemas.AbortNavigation)
		return false
	}
	return true
}

func (x *execution) detect(ctx context.Context) {
	snap, err := x.deps.Page.Snapshot(ctx)
	if err != nil {
		if ctx.Err() != nil {
			x.abort(schemas.AbortCancelled)
			return
		}
		x.logger.Error("Failed to snapshot page.", zap.Error(err))
		x.openReport(0)
		x.abort(schemas.AbortNoFields)
		return
	}
	if x.adapter == nil {
		x.adapter = x.deps.Registry.Select(snap)
		x.run.setPage(x.adapter.Name(), snap.URL)
		x.logger.Info("Platform adapter selected.", zap.String(observability.KeyPlatform, x.adapter.Name()))
	}

	x.snap = snap
	x.fields = x.adapter.DetectFields(snap)
	x.classifier.ClassifyAll(x.fields)
	x.openReport(len(x.fields))
	x.logger.Info("Step detected.", observability.Step(x.step), zap.Int("fields", len(x.fields)))

	switch {
	case len(x.fields) == 0 && (x.adapter.IsReviewStep(snap) || x.confirmed(snap)):
		x.run.enter(schemas.StateAtReview)
	case len(x.fields) > 0:
		x.run.enter(schemas.StateFilling)
	default:
		if _, err := x.adapter.NextControl(snap); err == nil {
			x.run.enter(schemas.StateAdvancing)
			return
		}
		x.logger.Warn("No fields and no advance control.", observability.Step(x.step))
		x.abort(schemas.AbortNoFields)
	}
}

// fill processes every detected field in document order.
func (x *execution) fill(ctx context.Context) {
	for i, f := range x.fields {
		if i > 0 {
			if err := x.deps.Pacer.FieldPause(ctx); err != nil {
				x.abort(schemas.AbortCancelled)
				return
			}
		}
		res := x.process(ctx, f)
		x.report.Record(res.Outcome, res.Reason)
		x.deps.Emitter.Progress(schemas.FillProgress{
			RunID:      x.run.ID,
			StepIndex:  x.step,
			FieldLabel: f.Label,
			Outcome:    res.Outcome,
			Reason:     res.Reason,
			Detail:     res.Detail,
			At:         x.deps.Now(),
		})
		if res.Reason == schemas.ReasonCancelled {
			x.abort(schemas.AbortCancelled)
			return
		}
	}
	x.run.enter(schemas.StateAdvancing)
}

// process resolves a value for one field and fills it.
func (x *execution) process(ctx context.Context, f form.Field) filler.Result {
	logger := x.logger.With(observability.Handle(string(f.Handle)), zap.String("label", f.Label))

	handle := f.Handle
	if f.IsGroup() && len(f.Options) > 0 {
		handle = f.Options[0].Handle
	}
	if ok, err := x.deps.Page.Visible(ctx, handle); err != nil || !ok {
		if ctx.Err() != nil {
			return filler.Result{Outcome: schemas.OutcomeSkipped, Reason: schemas.ReasonCancelled}
		}
		logger.Debug("Field no longer visible.", zap.Error(err))
		return filler.Result{Outcome: schemas.OutcomeSkipped, Reason: schemas.ReasonHidden}
	}

	if f.Variant == schemas.VariantFile {
		return x.filler.File(x.adapter.PreAttachedFile(x.snap, f))
	}

	var value string
	if f.Kind != schemas.KindUnknown {
		v, ok := x.mapper.Value(f.Kind)
		if !ok {
			return filler.Result{Outcome: schemas.OutcomeSkipped, Reason: schemas.ReasonNoMapping}
		}
		value = v
	} else {
		m := x.matcher.Resolve(ctx, f.Label, x.step)
		if !m.Accepted {
			return filler.Result{Outcome: schemas.OutcomeSkipped, Reason: m.Reason}
		}
		logger.Debug("Using matched answer.", zap.Int("confidence", m.Confidence), zap.String("matched_id", m.MatchedID))
		value = m.Answer
	}

	res := x.filler.Fill(ctx, f, value)
	logger.Debug("Field processed.", zap.String("outcome", string(res.Outcome)), zap.String("reason", string(res.Reason)))
	return res
}

func (x *execution) advance(ctx context.Context) {
	snap, err := x.deps.Page.Snapshot(ctx)
	if err != nil {
		if ctx.Err() != nil {
			x.abort(schemas.AbortCancelled)
			return
		}
		x.logger.Error("Failed to snapshot page before advancing.", zap.Error(err))
		x.abort(schemas.AbortNoAdvanceControl)
		return
	}
	x.snap = snap
	if x.adapter.IsReviewStep(snap) {
		x.run.enter(schemas.StateAtReview)
		return
	}
	ctrl, err := x.adapter.NextControl(snap)
	if err != nil {
		x.logger.Warn("No advance control on a non-review step.", observability.Step(x.step))
		x.abort(schemas.AbortNoAdvanceControl)
		return
	}
	if x.transitions >= x.cfg.MaxStepTransitions {
		x.logger.Warn("Step transition limit reached.", zap.Int("limit", x.cfg.MaxStepTransitions))
		x.abort(schemas.AbortStepLimit)
		return
	}
	if err := x.deps.Pacer.AdvancePause(ctx); err != nil {
		x.abort(schemas.AbortCancelled)
		return
	}

	x.previous = snap.InputHandles()
	x.transitions++
	x.logger.Info("Activating advance control.",
		observability.Handle(string(ctrl.Handle)),
		zap.String("text", ctrl.Text),
		zap.Int("transition", x.transitions))
	if err := x.deps.Page.Click(ctx, ctrl.Handle); err != nil {
		if ctx.Err() != nil {
			x.abort(schemas.AbortCancelled)
			return
		}
		// The click may have navigated away mid-dispatch; the wait decides.
		x.logger.Warn("Advance control activation reported an error.", zap.Error(err))
	}
	x.run.enter(schemas.StateWaitingForStep)
}

// waitForStep polls until a new step, the review step or a confirmation is
// observable, or the wait bound elapses.
func (x *execution) waitForStep(ctx context.Context) {
	var waited time.Duration
	for {
		snap, err := x.deps.Page.Snapshot(ctx)
		if err != nil && ctx.Err() != nil {
			x.abort(schemas.AbortCancelled)
			return
		}
		if err == nil {
			x.notePageError(snap)
			if x.changed(snap) || x.adapter.IsReviewStep(snap) || x.confirmed(snap) {
				x.closeReport()
				x.step++
				x.run.enter(schemas.StateDetecting)
				return
			}
		}
		if waited >= x.cfg.StepWait {
			x.logger.Warn("Timed out waiting for the next step.", zap.Duration("wait", x.cfg.StepWait))
			x.abort(schemas.AbortStepTimeout)
			return
		}
		interval := x.cfg.StepPollInterval
		if rest := x.cfg.StepWait - waited; interval > rest {
			interval = rest
		}
		if err := x.deps.Pacer.Wait(ctx, interval); err != nil {
			x.abort(schemas.AbortCancelled)
			return
		}
		waited += interval
	}
}

// changed reports whether the input handle set differs from the step left.
func (x *execution) changed(snap *dom.Snapshot) bool {
	now := snap.InputHandles()
	if len(now) != len(x.previous) {
		return true
	}
	for h := range now {
		if _, ok := x.previous[h]; !ok {
			return true
		}
	}
	return false
}

func (x *execution) confirmed(snap *dom.Snapshot) bool {
	loc := x.adapter.Indicators().Confirmation
	return loc != nil && loc.Find(snap.Doc.Selection).Length() > 0
}

// notePageError records the first error text the page shows during a wait.
func (x *execution) notePageError(snap *dom.Snapshot) {
	loc := x.adapter.Indicators().Error
	if loc == nil || x.report == nil || x.report.PageError != "" {
		return
	}
	hits := loc.Find(snap.Doc.Selection)
	for i := 0; i < hits.Length(); i++ {
		if text := strings.Join(strings.Fields(hits.Eq(i).Text()), " "); text != "" {
			x.report.PageError = text
			x.logger.Info("Page reported an error.", zap.String("error", text), observability.Step(x.step))
			return
		}
	}
}

func (x *execution) openReport(detected int) {
	x.report = &schemas.StepReport{Index: x.step, Detected: detected}
}

// closeReport publishes the current step's report.
func (x *execution) closeReport() {
	if x.report == nil {
		return
	}
	x.run.addReport(*x.report)
	x.report = nil
}

// abort publishes any open report and ends the run.
func (x *execution) abort(reason schemas.AbortReason) {
	x.closeReport()
	if x.run.abortWith(reason) {
		level := x.logger.Warn
		if reason == schemas.AbortCancelled {
			level = x.logger.Info
		}
		level("Run aborted.", zap.String("reason", string(reason)), observability.Step(x.step))
	}
}

type nopEmitter struct{}

func (nopEmitter) Progress(schemas.FillProgress) {}
func (nopEmitter) Done(schemas.FillDone)         {}

// Package filler writes values into detected fields with the technique each
// variant demands and emits the events pages listen for.
package filler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/xkilldash9x/formpilot/api/schemas"
	"github.com/xkilldash9x/formpilot/internal/browser/dom"
	"github.com/xkilldash9x/formpilot/internal/form"
	"go.uber.org/zap"
)

// Highlight colours for filled and partially matched elements.
const (
	ColorFilled  = "#c8f7c5"
	ColorPartial = "#fff3b0"
)

// DetailNoOption marks a choice value no option matched.
const DetailNoOption = "no-matching-option"

// Pacer supplies the per-character pause, measured from the moment the
// previous character was sent.
type Pacer interface {
	Now() time.Time
	KeyPause(ctx context.Context, since time.Time) error
}

// Result is the outcome of one fill attempt.
type Result struct {
	Outcome schemas.Outcome
	Reason  schemas.Reason
	Detail  string
}

// Success reports whether the field was filled, fully or partially.
func (r Result) Success() bool {
	return r.Outcome == schemas.OutcomeFilled || r.Outcome == schemas.OutcomeFilledPartial
}

func filled() Result                  { return Result{Outcome: schemas.OutcomeFilled} }
func partial() Result                 { return Result{Outcome: schemas.OutcomeFilledPartial} }
func skipped(r schemas.Reason) Result { return Result{Outcome: schemas.OutcomeSkipped, Reason: r} }

// Filler mutates the page. It is used by one run at a time.
type Filler struct {
	page      dom.Page
	pacer     Pacer
	highlight time.Duration
	logger    *zap.Logger
}

// New builds a filler over page.
func New(page dom.Page, pacer Pacer, highlight time.Duration, logger *zap.Logger) *Filler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Filler{page: page, pacer: pacer, highlight: highlight, logger: logger.Named("filler")}
}

// Fill writes value into f. It never panics and never returns an error:
// failures become reason codes, and cancellation becomes CANCELLED.
func (fl *Filler) Fill(ctx context.Context, f form.Field, value string) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			fl.logger.Error("Recovered from panic while filling field.",
				zap.String("label", f.Label), zap.Any("panic", r))
			res = skipped(schemas.ReasonValidationRejected)
			res.Detail = fmt.Sprint(r)
		}
	}()

	var err error
	switch {
	case f.Variant.IsTextual():
		res, err = fl.fillText(ctx, f, value)
	case f.Variant == schemas.VariantSingleChoice:
		res, err = fl.fillSelect(ctx, f, value)
	case f.Variant == schemas.VariantChoiceGroup:
		res, err = fl.fillGroup(ctx, f, value)
	case f.Variant == schemas.VariantBoolean:
		res, err = fl.fillBoolean(ctx, f, value)
	case f.Variant == schemas.VariantMultiChoice:
		res, err = fl.fillMulti(ctx, f, value)
	case f.Variant == schemas.VariantFile:
		return skipped(schemas.ReasonFileField)
	default:
		return skipped(schemas.ReasonUnsupportedVariant)
	}
	if err != nil {
		if ctx.Err() != nil || errors.Is(err, context.Canceled) {
			return skipped(schemas.ReasonCancelled)
		}
		fl.logger.Warn("Page rejected fill.", zap.String("label", f.Label), zap.Error(err))
		res = skipped(schemas.ReasonValidationRejected)
		res.Detail = err.Error()
	}
	return res
}

// File reports a file field. Files are never attached by the engine.
func (fl *Filler) File(preattached bool) Result {
	if preattached {
		return Result{Outcome: schemas.OutcomeFilled, Detail: schemas.DetailFilePreattached}
	}
	return skipped(schemas.ReasonFileField)
}

// fillText clears the control and types value one character at a time with
// a randomized pause between characters, then commits with change and blur.
func (fl *Filler) fillText(ctx context.Context, f form.Field, value string) (Result, error) {
	if err := fl.page.Focus(ctx, f.Handle); err != nil {
		return Result{}, err
	}
	if err := fl.page.Clear(ctx, f.Handle); err != nil {
		return Result{}, err
	}
	var sent time.Time
	for i, r := range []rune(value) {
		if i > 0 {
			if err := fl.pacer.KeyPause(ctx, sent); err != nil {
				return Result{}, err
			}
		}
		sent = fl.pacer.Now()
		if err := fl.page.TypeRune(ctx, f.Handle, r); err != nil {
			return Result{}, err
		}
	}
	if err := fl.page.Dispatch(ctx, f.Handle, dom.EventChange); err != nil {
		return Result{}, err
	}
	if err := fl.page.Dispatch(ctx, f.Handle, dom.EventBlur); err != nil {
		return Result{}, err
	}
	fl.paint(ctx, f.Handle, ColorFilled)
	return filled(), nil
}

// fillSelect picks the first exact option match, else the first substring
// match in either direction. Options with an empty value are placeholders.
func (fl *Filler) fillSelect(ctx context.Context, f form.Field, value string) (Result, error) {
	opt, exact, ok := MatchOption(f.Options, value)
	if !ok {
		r := skipped(schemas.ReasonValidationRejected)
		r.Detail = DetailNoOption
		return r, nil
	}
	if err := fl.page.SelectIndex(ctx, f.Handle, opt.Index); err != nil {
		return Result{}, err
	}
	if exact {
		fl.paint(ctx, f.Handle, ColorFilled)
		return filled(), nil
	}
	fl.paint(ctx, f.Handle, ColorPartial)
	return partial(), nil
}

// MatchOption implements the dropdown precedence: exact beats substring and
// earlier options beat later ones within each tier.
func MatchOption(options []form.Option, value string) (form.Option, bool, bool) {
	want := strings.ToLower(strings.TrimSpace(value))
	if want == "" {
		return form.Option{}, false, false
	}
	var candidates []form.Option
	for _, o := range options {
		if strings.TrimSpace(o.Value) != "" {
			candidates = append(candidates, o)
		}
	}
	for _, o := range candidates {
		if strings.EqualFold(strings.TrimSpace(o.Value), want) || strings.EqualFold(o.Text, want) {
			return o, true, true
		}
	}
	for _, o := range candidates {
		v, t := strings.ToLower(strings.TrimSpace(o.Value)), strings.ToLower(o.Text)
		if strings.Contains(v, want) || strings.Contains(want, v) ||
			(t != "" && (strings.Contains(t, want) || strings.Contains(want, t))) {
			return o, false, true
		}
	}
	return form.Option{}, false, false
}

// fillGroup selects the first radio whose value or label equals value.
func (fl *Filler) fillGroup(ctx context.Context, f form.Field, value string) (Result, error) {
	want := strings.TrimSpace(value)
	for _, o := range f.Options {
		if !strings.EqualFold(o.Value, want) && !strings.EqualFold(o.Text, want) {
			continue
		}
		if err := fl.page.SetChecked(ctx, o.Handle, true); err != nil {
			return Result{}, err
		}
		fl.paint(ctx, o.Handle, ColorFilled)
		return filled(), nil
	}
	r := skipped(schemas.ReasonValidationRejected)
	r.Detail = DetailNoOption
	return r, nil
}

// fillBoolean toggles a lone checkbox only when its state differs.
func (fl *Filler) fillBoolean(ctx context.Context, f form.Field, value string) (Result, error) {
	want := schemas.IsTruthy(value)
	if f.Checked != want {
		if err := fl.page.SetChecked(ctx, f.Handle, want); err != nil {
			return Result{}, err
		}
	}
	fl.paint(ctx, f.Handle, ColorFilled)
	return filled(), nil
}

// fillMulti splits value at commas and applies boolean semantics per
// option. Tokens that match no option make the result partial.
func (fl *Filler) fillMulti(ctx context.Context, f form.Field, value string) (Result, error) {
	tokens := make(map[string]bool)
	for _, part := range strings.Split(value, ",") {
		if p := strings.ToLower(strings.TrimSpace(part)); p != "" {
			tokens[p] = false
		}
	}
	if len(tokens) == 0 {
		r := skipped(schemas.ReasonValidationRejected)
		r.Detail = DetailNoOption
		return r, nil
	}

	for _, o := range f.Options {
		want := false
		for _, key := range []string{strings.ToLower(o.Value), strings.ToLower(o.Text)} {
			if _, ok := tokens[key]; ok {
				tokens[key] = true
				want = true
			}
		}
		if o.Checked != want {
			if err := fl.page.SetChecked(ctx, o.Handle, want); err != nil {
				return Result{}, err
			}
		}
		if want {
			fl.paint(ctx, o.Handle, ColorFilled)
		}
	}

	matched := 0
	for _, hit := range tokens {
		if hit {
			matched++
		}
	}
	switch {
	case matched == 0:
		r := skipped(schemas.ReasonValidationRejected)
		r.Detail = DetailNoOption
		return r, nil
	case matched < len(tokens):
		return partial(), nil
	}
	return filled(), nil
}

// paint highlights a filled element. The value is already on the page, so
// a failed or cancelled highlight never changes the outcome.
func (fl *Filler) paint(ctx context.Context, h dom.Handle, color string) {
	if err := fl.page.Highlight(ctx, h, color, fl.highlight); err != nil {
		fl.logger.Debug("Highlight failed.", zap.String("handle", string(h)), zap.Error(err))
	}
}

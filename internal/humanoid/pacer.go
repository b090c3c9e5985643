// File: internal/humanoid/pacer.go
package humanoid

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/xkilldash9x/formpilot/internal/config"
)

// Sleeper pauses execution for a duration. Implementations must return
// ctx.Err() promptly when the context is cancelled mid-pause.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// TimerSleeper is the production Sleeper backed by a real timer.
type TimerSleeper struct{}

func (TimerSleeper) Now() time.Time { return time.Now() }

func (TimerSleeper) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Pacer draws randomized pauses from the configured ranges and sleeps
// through a Sleeper. It is safe for concurrent use.
type Pacer struct {
	cfg     config.PacingConfig
	sleeper Sleeper
	now     func() time.Time

	mu  sync.Mutex
	rng *rand.Rand
}

// NewPacer builds a pacer. A nil sleeper selects TimerSleeper and a nil rng
// is seeded from the clock. A sleeper with a Now method also serves as the
// pacer's clock.
func NewPacer(cfg config.PacingConfig, sleeper Sleeper, rng *rand.Rand) *Pacer {
	if sleeper == nil {
		sleeper = TimerSleeper{}
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	now := time.Now
	if c, ok := sleeper.(interface{ Now() time.Time }); ok {
		now = c.Now
	}
	return &Pacer{cfg: cfg, sleeper: sleeper, now: now, rng: rng}
}

// Now reads the pacer's clock.
func (p *Pacer) Now() time.Time {
	return p.now()
}

// KeyPause ends one drawn key gap after since, the moment the previous
// character was sent. Time already spent since then is not slept again.
func (p *Pacer) KeyPause(ctx context.Context, since time.Time) error {
	d := p.draw(p.cfg.KeyDelayMin, p.cfg.KeyDelayMax) - p.now().Sub(since)
	if d <= 0 {
		return ctx.Err()
	}
	return p.sleeper.Sleep(ctx, d)
}

// FieldPause is the gap between two field fills.
func (p *Pacer) FieldPause(ctx context.Context) error {
	return p.pause(ctx, p.cfg.FieldDelayMin, p.cfg.FieldDelayMax)
}

// AdvancePause precedes activation of an advance control.
func (p *Pacer) AdvancePause(ctx context.Context) error {
	return p.pause(ctx, p.cfg.AdvanceDelayMin, p.cfg.AdvanceDelayMax)
}

// Wait sleeps for exactly d. Used for polling.
func (p *Pacer) Wait(ctx context.Context, d time.Duration) error {
	return p.sleeper.Sleep(ctx, d)
}

// HighlightDuration is how long fill highlights stay on an element.
func (p *Pacer) HighlightDuration() time.Duration {
	return p.cfg.HighlightDuration
}

func (p *Pacer) pause(ctx context.Context, min, max time.Duration) error {
	return p.sleeper.Sleep(ctx, p.draw(min, max))
}

// draw returns a uniform duration in [min, max].
func (p *Pacer) draw(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return min + time.Duration(p.rng.Int63n(int64(max-min)+1))
}

// RecordingSleeper returns immediately and remembers every requested pause.
// It still honours cancellation so callers observe ctx errors. Its Now is a
// virtual clock that moves only by the recorded pauses.
type RecordingSleeper struct {
	mu     sync.Mutex
	pauses []time.Duration
}

func (r *RecordingSleeper) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	r.pauses = append(r.pauses, d)
	r.mu.Unlock()
	return nil
}

// Now returns the Unix epoch advanced by every recorded pause.
func (r *RecordingSleeper) Now() time.Time {
	return time.Unix(0, 0).UTC().Add(r.Total())
}

// Pauses returns a copy of the recorded durations.
func (r *RecordingSleeper) Pauses() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.pauses...)
}

// Total sums the recorded durations.
func (r *RecordingSleeper) Total() time.Duration {
	var sum time.Duration
	for _, d := range r.Pauses() {
		sum += d
	}
	return sum
}

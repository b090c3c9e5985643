// File: internal/config/pacing.go
// This file defines the PacingConfig struct: the randomized pauses that make
// the engine type and navigate at a human cadence. Every pause is drawn
// uniformly from [Min, Max].
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// PacingConfig holds the bounds of every randomized pause. The ranges may be
// narrowed but never widened past the limits in pacingLimits.
type PacingConfig struct {
	// Between consecutive characters of a text fill.
	KeyDelayMin time.Duration `mapstructure:"key_delay_min" yaml:"key_delay_min"`
	KeyDelayMax time.Duration `mapstructure:"key_delay_max" yaml:"key_delay_max"`

	// Between consecutive field fills.
	FieldDelayMin time.Duration `mapstructure:"field_delay_min" yaml:"field_delay_min"`
	FieldDelayMax time.Duration `mapstructure:"field_delay_max" yaml:"field_delay_max"`

	// Before activating an advance control.
	AdvanceDelayMin time.Duration `mapstructure:"advance_delay_min" yaml:"advance_delay_min"`
	AdvanceDelayMax time.Duration `mapstructure:"advance_delay_max" yaml:"advance_delay_max"`

	// How long a filled element keeps its highlight.
	HighlightDuration time.Duration `mapstructure:"highlight_duration" yaml:"highlight_duration"`
}

// setPacingDefaults registers the pacing defaults under browser.pacing.
func setPacingDefaults(v *viper.Viper) {
	v.SetDefault("browser.pacing.key_delay_min", "50ms")
	v.SetDefault("browser.pacing.key_delay_max", "100ms")
	v.SetDefault("browser.pacing.field_delay_min", "300ms")
	v.SetDefault("browser.pacing.field_delay_max", "800ms")
	v.SetDefault("browser.pacing.advance_delay_min", "500ms")
	v.SetDefault("browser.pacing.advance_delay_max", "2s")
	v.SetDefault("browser.pacing.highlight_duration", "1200ms")
}

// DefaultPacingConfig returns the pacing bounds the engine ships with.
func DefaultPacingConfig() PacingConfig {
	return PacingConfig{
		KeyDelayMin:       50 * time.Millisecond,
		KeyDelayMax:       100 * time.Millisecond,
		FieldDelayMin:     300 * time.Millisecond,
		FieldDelayMax:     800 * time.Millisecond,
		AdvanceDelayMin:   500 * time.Millisecond,
		AdvanceDelayMax:   2 * time.Second,
		HighlightDuration: 1200 * time.Millisecond,
	}
}

// pacingLimits are the outer bounds each configured range must sit inside.
var pacingLimits = map[string][2]time.Duration{
	"key_delay":     {50 * time.Millisecond, 100 * time.Millisecond},
	"field_delay":   {300 * time.Millisecond, 800 * time.Millisecond},
	"advance_delay": {500 * time.Millisecond, 2 * time.Second},
}

// Validate checks that every range is well formed and inside its limits.
func (p PacingConfig) Validate() error {
	ranges := []struct {
		name     string
		min, max time.Duration
	}{
		{"key_delay", p.KeyDelayMin, p.KeyDelayMax},
		{"field_delay", p.FieldDelayMin, p.FieldDelayMax},
		{"advance_delay", p.AdvanceDelayMin, p.AdvanceDelayMax},
	}
	for _, r := range ranges {
		if r.min < 0 || r.max < r.min {
			return fmt.Errorf("%s range [%s, %s] is invalid", r.name, r.min, r.max)
		}
		lim := pacingLimits[r.name]
		if r.min < lim[0] || r.max > lim[1] {
			return fmt.Errorf("%s range [%s, %s] must lie within [%s, %s]", r.name, r.min, r.max, lim[0], lim[1])
		}
	}
	if p.HighlightDuration < 0 {
		return fmt.Errorf("highlight_duration %s is negative", p.HighlightDuration)
	}
	return nil
}

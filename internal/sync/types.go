package sync

import (
	"fmt"
	"math"
	"time"

	"github.com/zsiec/lockstep/internal/config"
)

// Role tags a stream as the timeline reference or a follower.
type Role int

const (
	RolePrimary Role = iota
	RoleSecondary
)

func (r Role) String() string {
	if r == RolePrimary {
		return "primary"
	}
	return "secondary"
}

func (r Role) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

func (r *Role) UnmarshalText(b []byte) error {
	switch string(b) {
	case "primary":
		*r = RolePrimary
	case "secondary":
		*r = RoleSecondary
	default:
		return fmt.Errorf("unknown role %q", b)
	}
	return nil
}

// CorrectionState is the per-secondary correction mode.
type CorrectionState int

const (
	InSync CorrectionState = iota
	Nudging
)

func (c CorrectionState) String() string {
	if c == Nudging {
		return "nudging"
	}
	return "in_sync"
}

func (c CorrectionState) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *CorrectionState) UnmarshalText(b []byte) error {
	switch string(b) {
	case "in_sync":
		*c = InSync
	case "nudging":
		*c = Nudging
	default:
		return fmt.Errorf("unknown correction state %q", b)
	}
	return nil
}

// DriftReading is the last drift measured for a secondary.
type DriftReading struct {
	Ms          int64     `json:"ms"`
	Seconds     float64   `json:"seconds"`
	InTolerance bool      `json:"in_tolerance"`
	At          time.Time `json:"at"`
}

// Action is the outcome of evaluating one secondary on one tick.
type Action int

const (
	ActionSkipped Action = iota
	ActionInSync
	ActionResumed
	ActionHardSync
	ActionNudge
	ActionNegativeTarget
)

func (a Action) String() string {
	switch a {
	case ActionSkipped:
		return "skipped"
	case ActionInSync:
		return "in_sync"
	case ActionResumed:
		return "resumed"
	case ActionHardSync:
		return "hard_sync"
	case ActionNudge:
		return "nudge"
	case ActionNegativeTarget:
		return "negative_target"
	default:
		return fmt.Sprintf("action(%d)", int(a))
	}
}

// Decision describes what the corrector did with a secondary.
type Decision struct {
	Action Action
	Diff   float64 // seconds, positive when the secondary is ahead
	Target float64 // seconds on the secondary's own timeline
	Rate   float64 // rate commanded, zero when none was
}

// Config holds the correction policy constants.
type Config struct {
	TickInterval  time.Duration
	Threshold     time.Duration
	MinThreshold  time.Duration
	HardThreshold time.Duration
	SeekCooldown  time.Duration
	NudgeStep     float64
	MinRate       float64
	MaxRate       float64
	SettleDelay   time.Duration
}

func DefaultConfig() Config {
	return Config{
		TickInterval:  100 * time.Millisecond,
		Threshold:     40 * time.Millisecond,
		MinThreshold:  5 * time.Millisecond,
		HardThreshold: 250 * time.Millisecond,
		SeekCooldown:  time.Second,
		NudgeStep:     0.10,
		MinRate:       0.25,
		MaxRate:       2.0,
		SettleDelay:   50 * time.Millisecond,
	}
}

// ConfigFrom converts the file configuration section.
func ConfigFrom(c config.SyncConfig) Config {
	return Config{
		TickInterval:  c.TickInterval,
		Threshold:     time.Duration(c.ThresholdMs) * time.Millisecond,
		MinThreshold:  time.Duration(c.MinThresholdMs) * time.Millisecond,
		HardThreshold: c.HardThreshold,
		SeekCooldown:  c.SeekCooldown,
		NudgeStep:     c.NudgeStep,
		MinRate:       c.MinRate,
		MaxRate:       c.MaxRate,
		SettleDelay:   c.SettleDelay,
	}
}

// StreamSpec is the exportable description of a stream.
type StreamSpec struct {
	Identifier string `json:"identifier"`
	OffsetMs   int    `json:"offset_ms"`
}

// DefaultStreams is used when no stream list is configured.
func DefaultStreams() []StreamSpec {
	return []StreamSpec{
		{Identifier: "kbNdx0yqbZE", OffsetMs: 0},
		{Identifier: "fckdimdQ2ak", OffsetMs: 300},
	}
}

// SpecsFrom converts configured streams. No configured streams yields nil so
// Seed falls back to the defaults.
func SpecsFrom(streams []config.StreamConfig) []StreamSpec {
	if len(streams) == 0 {
		return nil
	}
	specs := make([]StreamSpec, 0, len(streams))
	for _, s := range streams {
		specs = append(specs, StreamSpec{Identifier: s.Identifier, OffsetMs: s.OffsetMs})
	}
	return specs
}

// FormatTime renders seconds as mm:ss.mmm.
func FormatTime(seconds float64) string {
	if seconds < 0 || math.IsNaN(seconds) {
		seconds = 0
	}
	total := int64(math.Floor(seconds*1000 + 1e-6))
	return fmt.Sprintf("%02d:%02d.%03d", total/60000, (total/1000)%60, total%1000)
}

// FormatDrift renders a drift readout as a signed millisecond value.
func FormatDrift(ms int64) string {
	if ms > 0 {
		return fmt.Sprintf("+%dms", ms)
	}
	return fmt.Sprintf("%dms", ms)
}

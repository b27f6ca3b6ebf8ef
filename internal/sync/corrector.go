package sync

import (
	"math"
	"time"

	"github.com/zsiec/lockstep/internal/playback"
)

// rateEpsilon absorbs float noise when comparing backend-reported rates.
const rateEpsilon = 1e-9

// Corrector applies the per-tick drift policy to one secondary at a time.
type Corrector struct {
	cfg Config
	now func() time.Time
}

func NewCorrector(cfg Config, now func() time.Time) *Corrector {
	if now == nil {
		now = time.Now
	}
	return &Corrector{cfg: cfg, now: now}
}

// Evaluate measures s against the primary and issues at most one seek and
// one rate command. threshold is in seconds.
func (c *Corrector) Evaluate(s *Stream, primaryTime, primaryRate, threshold float64) Decision {
	if s.backend == nil || s.State == playback.StateBuffering {
		return Decision{Action: ActionSkipped}
	}

	// A rate mismatch outside a nudge is a manual change and is left alone
	if s.Correction != Nudging && math.Abs(s.BackendRate()-primaryRate) > rateEpsilon {
		return Decision{Action: ActionSkipped}
	}

	now := c.now()
	target := primaryTime + float64(s.OffsetMs)/1000
	diff := s.CurrentTime() - target

	if now.Sub(s.LastSeekAt) < c.cfg.SeekCooldown {
		return Decision{Action: ActionSkipped, Diff: diff, Target: target}
	}

	abs := math.Abs(diff)
	d := Decision{Diff: diff, Target: target}

	switch {
	case abs <= threshold:
		d.Action = ActionInSync
		if s.Correction == Nudging {
			s.clearNudge(primaryRate)
			d.Action = ActionResumed
			d.Rate = primaryRate
		}

	case abs > c.cfg.HardThreshold.Seconds():
		if target < 0 {
			// Only the seek is rejected; a running nudge still ends
			d.Action = ActionNegativeTarget
			if s.Correction == Nudging {
				s.clearNudge(primaryRate)
				d.Rate = primaryRate
			}
			break
		}
		s.seek(target)
		s.LastSeekAt = now
		s.setRate(primaryRate)
		s.Correction = InSync
		d.Action = ActionHardSync
		d.Rate = primaryRate

	default:
		rate := math.Min(c.cfg.MaxRate, primaryRate+c.cfg.NudgeStep)
		if diff > 0 {
			rate = math.Max(c.cfg.MinRate, primaryRate-c.cfg.NudgeStep)
		}
		s.setRate(rate)
		s.Correction = Nudging
		s.nudgeBase = primaryRate
		d.Action = ActionNudge
		d.Rate = rate
	}

	s.Drift = DriftReading{
		Ms:          int64(math.Round(diff * 1000)),
		Seconds:     diff,
		InTolerance: abs <= threshold,
		At:          now,
	}
	s.HasDrift = true

	return d
}

// HardSync seeks s to the primary position plus its offset and ends any
// nudge at primaryRate. A negative target is rejected and reported as false.
func (c *Corrector) HardSync(s *Stream, primaryTime, primaryRate float64) bool {
	target := primaryTime + float64(s.OffsetMs)/1000
	if target < 0 || s.backend == nil {
		return false
	}
	s.seek(target)
	s.LastSeekAt = c.now()
	s.clearNudge(primaryRate)
	return true
}

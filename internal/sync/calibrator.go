package sync

import (
	"math"

	"github.com/zsiec/lockstep/internal/logger"
)

// Calibrator derives per-stream offsets from taps and manual edits.
type Calibrator struct {
	session   *Session
	corrector *Corrector
	log       logger.Logger
}

// Tap marks the moment a shared event is seen on s. A primary tap sets the
// cue; a later secondary tap turns the cue into that secondary's offset.
func (c *Calibrator) Tap(s *Stream) {
	t := s.CurrentTime()
	s.TapTime = t
	s.HasTap = true

	p := c.session.primary
	if s == p {
		c.session.setCue(t)
		c.log.WithField("cue", FormatTime(t)).Info("Primary cue recorded")
		return
	}

	cue, ok := c.session.PendingCue()
	if !ok || p == nil {
		return
	}

	s.OffsetMs = int(math.Round((t - cue) * 1000))
	c.session.clearCue()
	c.corrector.HardSync(s, p.CurrentTime(), p.BackendRate())

	c.log.WithFields(map[string]interface{}{
		"stream_id": s.ID,
		"offset_ms": s.OffsetMs,
	}).Info("Offset calibrated from tap")
}

// SetOffset assigns an offset in milliseconds. Primary offsets are fixed at
// zero.
func (c *Calibrator) SetOffset(s *Stream, ms int) {
	if s == c.session.primary {
		return
	}
	s.OffsetMs = ms
	c.applyWhilePaused(s)
}

func (c *Calibrator) AdjustOffset(s *Stream, deltaMs int) {
	if s == c.session.primary {
		return
	}
	s.OffsetMs += deltaMs
	c.applyWhilePaused(s)
}

// applyWhilePaused seeks immediately when paused; while playing the next
// tick converges the stream.
func (c *Calibrator) applyWhilePaused(s *Stream) {
	p := c.session.primary
	if c.session.playing || p == nil {
		return
	}
	c.corrector.HardSync(s, p.CurrentTime(), p.BackendRate())
}

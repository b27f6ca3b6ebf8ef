package sync

import (
	"fmt"
	"time"

	"github.com/zsiec/lockstep/internal/logger"
	"github.com/zsiec/lockstep/internal/metrics"
	"github.com/zsiec/lockstep/internal/playback"
)

// Controller owns role assignment, labels, volume normalization and the
// primary-state broadcast protocol.
type Controller struct {
	session   *Session
	corrector *Corrector
	cfg       Config
	log       logger.Logger
	sampled   *logger.SampledLogger
	observers []Observer

	factory playback.Factory
	// listen builds the event sink for a new backend of s
	listen func(s *Stream, gen uint64) playback.Listener
	// after runs fn on the engine loop once d has elapsed
	after func(d time.Duration, fn func())

	nextGen uint64
}

// Add appends a stream. The first stream becomes the primary.
func (c *Controller) Add(identifier string, offsetMs int) *Stream {
	s := newStream("", offsetMs, c.sampled)
	c.session.streams = append(c.session.streams, s)

	if c.session.primary == nil {
		c.promote(s)
	} else {
		s.Role = RoleSecondary
	}
	c.relabel()

	c.log.WithFields(map[string]interface{}{
		"stream_id": s.ID,
		"label":     s.Label,
		"offset_ms": offsetMs,
	}).Info("Stream added")

	if identifier != "" {
		c.Load(s, identifier)
	}

	c.normalizeVolume()
	c.streamsChanged()
	return s
}

// Remove destroys and drops a stream, re-electing the primary if needed.
// It reports whether the id was known.
func (c *Controller) Remove(id string) bool {
	idx := c.session.indexOf(id)
	if idx < 0 {
		return false
	}

	s := c.session.streams[idx]
	s.destroy()
	c.session.streams = append(c.session.streams[:idx], c.session.streams[idx+1:]...)
	metrics.ForgetStream(s.ID)

	if s == c.session.primary {
		c.session.primary = nil
		c.session.clearCue()
		if len(c.session.streams) > 0 {
			c.promote(c.session.streams[0])
		} else {
			c.session.playing = false
		}
	}
	c.relabel()
	c.normalizeVolume()

	c.log.WithFields(map[string]interface{}{
		"stream_id": id,
		"remaining": len(c.session.streams),
	}).Info("Stream removed")

	c.streamsChanged()
	return true
}

// Load cues identifier into s, creating the backend on first use. Invalid
// identifiers are logged and leave the stream unchanged.
func (c *Controller) Load(s *Stream, identifier string) bool {
	videoID := playback.ExtractVideoID(identifier)
	if videoID == "" {
		c.log.WithFields(map[string]interface{}{
			"stream_id": s.ID,
			"input":     identifier,
		}).Warn("Invalid video identifier")
		return false
	}
	s.Identifier = videoID

	if s.backend != nil {
		s.State = playback.StateUnstarted
		s.report("cue", s.backend.Cue(videoID))
		return true
	}

	c.nextGen++
	gen := c.nextGen
	backend, err := c.factory(videoID, c.listen(s, gen))
	if err != nil {
		metrics.RecordBackendError("create")
		c.log.WithError(err).WithField("stream_id", s.ID).Error("Failed to create backend")
		return false
	}
	s.backend = backend
	s.backendGen = gen
	s.ready = false
	s.State = playback.StateUnstarted
	s.setVolume(s.Volume)
	return true
}

func (c *Controller) promote(s *Stream) {
	s.Role = RolePrimary
	s.OffsetMs = 0
	// A nudged rate would become the reference every secondary is held to
	s.clearNudge(s.nudgeBase)
	s.HasDrift = false
	c.session.primary = s
	for _, other := range c.session.streams {
		if other != s {
			other.Role = RoleSecondary
		}
	}
	c.log.WithField("stream_id", s.ID).Info("Stream promoted to primary")
}

func (c *Controller) relabel() {
	n := 0
	for _, s := range c.session.streams {
		if s == c.session.primary {
			s.Label = "Primary"
			continue
		}
		n++
		s.Label = fmt.Sprintf("Secondary %d", n)
	}
}

func (c *Controller) normalizeVolume() {
	count := len(c.session.streams)
	if count == 0 {
		return
	}
	volume := 100 / count
	for _, s := range c.session.streams {
		s.setVolume(volume)
	}
	c.log.WithFields(map[string]interface{}{
		"volume":  volume,
		"streams": count,
	}).Debug("Volume normalized")
}

// OnPrimaryStateChanged drives the broadcast protocol.
func (c *Controller) OnPrimaryStateChanged(state playback.State) {
	if c.session.primary == nil {
		return
	}

	switch state {
	case playback.StatePlaying:
		c.session.playing = true
		c.broadcast("play", (*Stream).play)
		c.playingChanged(true)

	case playback.StatePaused:
		c.session.playing = false
		c.broadcast("pause", (*Stream).pause)
		c.ForceSyncAll()
		c.playingChanged(false)

	case playback.StateBuffering:
		// Secondaries wait for the primary; playing stays set
		c.broadcast("pause", (*Stream).pause)

	case playback.StateCued, playback.StateEnded:
		c.session.playing = false
		c.playingChanged(false)
	}
}

// OnPrimaryRateChanged mirrors a primary rate change to every secondary.
func (c *Controller) OnPrimaryRateChanged(rate float64) {
	for _, s := range c.session.secondaries() {
		s.setRate(rate)
	}
	metrics.RecordBroadcast("set_rate")
}

// RelativeSeekAll pauses the secondaries, then after the settle delay moves
// every stream, the primary included, by delta seconds from its own position.
func (c *Controller) RelativeSeekAll(delta float64) {
	c.broadcast("pause", (*Stream).pause)
	c.after(c.cfg.SettleDelay, func() {
		for _, s := range c.session.streams {
			s.step(delta)
		}
		c.log.WithField("delta", delta).Debug("Relative seek applied")
	})
}

func (c *Controller) PlayAll() {
	p := c.session.primary
	if p == nil {
		return
	}
	p.play()
	for _, s := range c.session.secondaries() {
		s.play()
	}
}

func (c *Controller) PauseAll() {
	for _, s := range c.session.streams {
		s.pause()
	}
}

// ForceSyncAll hard-syncs every secondary to the primary's position.
func (c *Controller) ForceSyncAll() {
	p := c.session.primary
	if p == nil {
		return
	}
	pt, pr := p.CurrentTime(), p.BackendRate()
	for _, s := range c.session.secondaries() {
		c.corrector.HardSync(s, pt, pr)
	}
}

func (c *Controller) broadcast(command string, fn func(*Stream)) {
	for _, s := range c.session.secondaries() {
		fn(s)
	}
	metrics.RecordBroadcast(command)
}

func (c *Controller) playingChanged(playing bool) {
	metrics.SetPlaying(playing)
	for _, o := range c.observers {
		o.PlayingChanged(playing)
	}
}

func (c *Controller) streamsChanged() {
	n := len(c.session.streams)
	metrics.SetStreams(n)
	for _, o := range c.observers {
		o.StreamsChanged(n)
	}
}

package sync

import (
	"time"

	"github.com/google/uuid"

	"github.com/zsiec/lockstep/internal/logger"
	"github.com/zsiec/lockstep/internal/metrics"
	"github.com/zsiec/lockstep/internal/playback"
)

const defaultQuality = "default"

// Stream is one synchronized playback slot. All fields are owned by the
// engine loop.
type Stream struct {
	ID         string
	Label      string
	Identifier string
	Role       Role
	OffsetMs   int

	PlaybackRate float64
	Correction   CorrectionState
	LastSeekAt   time.Time
	State        playback.State
	Volume       int
	Quality      string

	TapTime  float64
	HasTap   bool
	Drift    DriftReading
	HasDrift bool

	backend    playback.Backend
	backendGen uint64
	ready      bool
	// primary rate the current nudge is relative to
	nudgeBase  float64
	log        *logger.SampledLogger
}

func newStream(identifier string, offsetMs int, log *logger.SampledLogger) *Stream {
	id := uuid.New().String()
	return &Stream{
		ID:           id,
		Identifier:   identifier,
		OffsetMs:     offsetMs,
		PlaybackRate: 1.0,
		State:        playback.StateUnstarted,
		Quality:      defaultQuality,
		log:          log,
	}
}

// HasBackend reports whether a player has been materialized for the stream.
func (s *Stream) HasBackend() bool {
	return s.backend != nil
}

// CurrentTime is the backend position, 0 without a backend.
func (s *Stream) CurrentTime() float64 {
	if s.backend == nil {
		return 0
	}
	return s.backend.CurrentTime()
}

// BackendRate is the rate the backend reports, 1 without a backend.
func (s *Stream) BackendRate() float64 {
	if s.backend == nil {
		return 1
	}
	return s.backend.PlaybackRate()
}

func (s *Stream) play() {
	if s.backend != nil {
		s.report("play", s.backend.Play())
	}
}

func (s *Stream) pause() {
	if s.backend != nil {
		s.report("pause", s.backend.Pause())
	}
}

func (s *Stream) seek(seconds float64) {
	if s.backend != nil {
		s.report("seek", s.backend.SeekTo(seconds, true))
	}
}

// step seeks relative to the stream's own position.
func (s *Stream) step(delta float64) {
	if s.backend != nil {
		s.seek(s.backend.CurrentTime() + delta)
	}
}

func (s *Stream) setRate(rate float64) {
	s.PlaybackRate = rate
	if s.backend != nil {
		s.report("set_rate", s.backend.SetPlaybackRate(rate))
	}
}

// clearNudge ends a nudge by restoring rate. It is a no-op unless the
// stream is nudging.
func (s *Stream) clearNudge(rate float64) {
	if s.Correction != Nudging {
		return
	}
	s.setRate(rate)
	s.Correction = InSync
}

func (s *Stream) setVolume(volume int) {
	s.Volume = volume
	if s.backend != nil {
		s.report("set_volume", s.backend.SetVolume(volume))
	}
}

func (s *Stream) setQuality(quality string) {
	s.Quality = quality
	if s.backend != nil {
		s.report("set_quality", s.backend.SetPlaybackQuality(quality))
	}
}

func (s *Stream) destroy() {
	if s.backend == nil {
		return
	}
	s.report("destroy", s.backend.Destroy())
	s.backend = nil
	s.ready = false
}

// report logs and counts a failed backend command. The next tick's
// measurement is the only retry.
func (s *Stream) report(command string, err error) {
	if err == nil {
		return
	}
	metrics.RecordBackendError(command)
	if s.log != nil {
		s.log.DebugWithCategory(logger.CategoryBackendCommand, "Backend command failed", map[string]interface{}{
			"stream_id": s.ID,
			"command":   command,
			"error":     err.Error(),
		})
	}
}

// StreamStatus is a read-only view of a stream for API consumers.
type StreamStatus struct {
	ID           string          `json:"id"`
	Label        string          `json:"label"`
	Identifier   string          `json:"identifier"`
	Role         Role            `json:"role"`
	OffsetMs     int             `json:"offset_ms"`
	PlaybackRate float64         `json:"playback_rate"`
	Correction   CorrectionState `json:"correction"`
	State        playback.State  `json:"state"`
	Volume       int             `json:"volume"`
	Quality      string          `json:"quality"`
	Loaded       bool            `json:"loaded"`
	CurrentTime  float64         `json:"current_time"`
	TapTime      *float64        `json:"tap_time,omitempty"`
	Drift        *DriftReading   `json:"drift,omitempty"`
}

func (s *Stream) status() StreamStatus {
	st := StreamStatus{
		ID:           s.ID,
		Label:        s.Label,
		Identifier:   s.Identifier,
		Role:         s.Role,
		OffsetMs:     s.OffsetMs,
		PlaybackRate: s.PlaybackRate,
		Correction:   s.Correction,
		State:        s.State,
		Volume:       s.Volume,
		Quality:      s.Quality,
		Loaded:       s.backend != nil,
		CurrentTime:  s.CurrentTime(),
	}
	if s.HasTap {
		t := s.TapTime
		st.TapTime = &t
	}
	if s.HasDrift {
		d := s.Drift
		st.Drift = &d
	}
	return st
}

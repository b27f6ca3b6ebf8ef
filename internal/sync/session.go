package sync

import (
	"math"
	"time"
)

// Session is the aggregate the engine loop owns: the ordered stream set,
// the primary reference, the global playing flag, the drift tolerance and
// the pending calibration cue.
type Session struct {
	streams   []*Stream
	primary   *Stream
	playing   bool
	threshold float64

	pendingCue    float64
	hasPendingCue bool
}

func newSession(threshold time.Duration) *Session {
	return &Session{threshold: threshold.Seconds()}
}

func (s *Session) Streams() []*Stream { return s.streams }
func (s *Session) Primary() *Stream   { return s.primary }
func (s *Session) Playing() bool      { return s.playing }

// Threshold is the drift tolerance in seconds.
func (s *Session) Threshold() float64 { return s.threshold }

// PendingCue returns the primary tap time awaiting a secondary tap.
func (s *Session) PendingCue() (float64, bool) {
	return s.pendingCue, s.hasPendingCue
}

func (s *Session) Find(id string) *Stream {
	for _, st := range s.streams {
		if st.ID == id {
			return st
		}
	}
	return nil
}

func (s *Session) indexOf(id string) int {
	for i, st := range s.streams {
		if st.ID == id {
			return i
		}
	}
	return -1
}

func (s *Session) secondaries() []*Stream {
	out := make([]*Stream, 0, len(s.streams))
	for _, st := range s.streams {
		if st != s.primary {
			out = append(out, st)
		}
	}
	return out
}

func (s *Session) setCue(t float64) {
	s.pendingCue = t
	s.hasPendingCue = true
}

func (s *Session) clearCue() {
	s.pendingCue = 0
	s.hasPendingCue = false
}

// setThresholdMs clamps to min and returns the effective value in ms.
func (s *Session) setThresholdMs(ms int, min time.Duration) int {
	v := float64(ms) / 1000
	if v < min.Seconds() {
		v = min.Seconds()
	}
	s.threshold = v
	return s.ThresholdMs()
}

func (s *Session) ThresholdMs() int {
	return int(math.Round(s.threshold * 1000))
}

// SessionSnapshot is a consistent copy of the session taken on the loop.
type SessionSnapshot struct {
	Streams     []StreamStatus `json:"streams"`
	PrimaryID   string         `json:"primary_id,omitempty"`
	Playing     bool           `json:"playing"`
	ThresholdMs int            `json:"threshold_ms"`
	PendingCue  *float64       `json:"pending_cue,omitempty"`
	TakenAt     time.Time      `json:"taken_at"`
}

func (s *Session) snapshot(now time.Time) SessionSnapshot {
	snap := SessionSnapshot{
		Streams:     make([]StreamStatus, 0, len(s.streams)),
		Playing:     s.playing,
		ThresholdMs: s.ThresholdMs(),
		TakenAt:     now,
	}
	if s.primary != nil {
		snap.PrimaryID = s.primary.ID
	}
	if s.hasPendingCue {
		c := s.pendingCue
		snap.PendingCue = &c
	}
	for _, st := range s.streams {
		snap.Streams = append(snap.Streams, st.status())
	}
	return snap
}

func (s *Session) export() []StreamSpec {
	specs := make([]StreamSpec, 0, len(s.streams))
	for _, st := range s.streams {
		specs = append(specs, StreamSpec{Identifier: st.Identifier, OffsetMs: st.OffsetMs})
	}
	return specs
}

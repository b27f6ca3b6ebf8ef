package playback

import (
	"errors"
	"fmt"
)

// State is the player state reported by a backend.
type State int

const (
	StateUnstarted State = -1
	StateEnded     State = 0
	StatePlaying   State = 1
	StatePaused    State = 2
	StateBuffering State = 3
	StateCued      State = 5
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateUnstarted:
		return "unstarted"
	case StateEnded:
		return "ended"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	case StateBuffering:
		return "buffering"
	case StateCued:
		return "cued"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// MarshalText encodes the state by name so snapshots stay readable.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a state name produced by MarshalText.
func (s *State) UnmarshalText(b []byte) error {
	switch string(b) {
	case "unstarted":
		*s = StateUnstarted
	case "ended":
		*s = StateEnded
	case "playing":
		*s = StatePlaying
	case "paused":
		*s = StatePaused
	case "buffering":
		*s = StateBuffering
	case "cued":
		*s = StateCued
	default:
		return fmt.Errorf("unknown player state %q", string(b))
	}
	return nil
}

// ErrDestroyed is returned by commands issued to a destroyed backend.
var ErrDestroyed = errors.New("backend destroyed")

// Backend is the command surface of one playback instance. Commands are
// fire-and-forget from the caller's point of view; a returned error only
// means the command was not accepted.
type Backend interface {
	Play() error
	Pause() error
	SeekTo(seconds float64, allowSeekAhead bool) error
	CurrentTime() float64
	PlaybackRate() float64
	SetPlaybackRate(rate float64) error
	SetVolume(volume int) error
	SetPlaybackQuality(quality string) error
	// Cue loads a new video without starting playback.
	Cue(videoID string) error
	Destroy() error
}

// Listener receives backend events. Implementations must not block.
type Listener interface {
	OnReady()
	OnStateChange(state State)
	OnPlaybackRateChange(rate float64)
}

// Factory creates a backend for videoID that reports to listener.
type Factory func(videoID string, listener Listener) (Backend, error)

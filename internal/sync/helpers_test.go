package sync

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/zsiec/lockstep/internal/logger"
	"github.com/zsiec/lockstep/internal/playback"
)

func testLogger() logger.Logger {
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)
	return logger.NewLogrusAdapter(logrus.NewEntry(log))
}

type fakeClock struct {
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1_700_000_000, 0)}
}

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

var errBackend = errors.New("backend unavailable")

// fakeBackend records every command; position and rate only change when a
// test or a command sets them.
type fakeBackend struct {
	videoID  string
	listener playback.Listener

	position float64
	rate     float64
	volume   int
	quality  string

	calls     []string
	seeks     []float64
	rates     []float64
	destroyed bool
	fail      bool
}

func (b *fakeBackend) record(call string) error {
	b.calls = append(b.calls, call)
	if b.fail {
		return errBackend
	}
	return nil
}

func (b *fakeBackend) Play() error  { return b.record("play") }
func (b *fakeBackend) Pause() error { return b.record("pause") }

func (b *fakeBackend) SeekTo(seconds float64, allowSeekAhead bool) error {
	b.seeks = append(b.seeks, seconds)
	b.position = seconds
	return b.record(fmt.Sprintf("seek:%.3f", seconds))
}

func (b *fakeBackend) CurrentTime() float64  { return b.position }
func (b *fakeBackend) PlaybackRate() float64 { return b.rate }

func (b *fakeBackend) SetPlaybackRate(rate float64) error {
	b.rates = append(b.rates, rate)
	b.rate = rate
	return b.record(fmt.Sprintf("rate:%.2f", rate))
}

func (b *fakeBackend) SetVolume(volume int) error {
	b.volume = volume
	return b.record(fmt.Sprintf("volume:%d", volume))
}

func (b *fakeBackend) SetPlaybackQuality(quality string) error {
	b.quality = quality
	return b.record("quality:" + quality)
}

func (b *fakeBackend) Cue(videoID string) error {
	b.videoID = videoID
	return b.record("cue:" + videoID)
}

func (b *fakeBackend) Destroy() error {
	b.destroyed = true
	return b.record("destroy")
}

func (b *fakeBackend) reset() {
	b.calls = nil
	b.seeks = nil
	b.rates = nil
}

type recordingObserver struct {
	playing []bool
	drift   map[string][]DriftReading
	counts  []int
}

func newRecordingObserver() *recordingObserver {
	return &recordingObserver{drift: make(map[string][]DriftReading)}
}

func (o *recordingObserver) PlayingChanged(p bool) { o.playing = append(o.playing, p) }
func (o *recordingObserver) StreamsChanged(n int)  { o.counts = append(o.counts, n) }
func (o *recordingObserver) DriftMeasured(id string, r DriftReading) {
	o.drift[id] = append(o.drift[id], r)
}

// harness drives an engine without its loop: tests call controller and
// handler methods directly and flush queued backend events by hand.
type harness struct {
	t        *testing.T
	e        *Engine
	clock    *fakeClock
	observer *recordingObserver
	backends map[string]*fakeBackend
	delayed  []func()
	failNext bool
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		t:        t,
		clock:    newFakeClock(),
		observer: newRecordingObserver(),
		backends: make(map[string]*fakeBackend),
	}

	factory := func(videoID string, l playback.Listener) (playback.Backend, error) {
		if h.failNext {
			h.failNext = false
			return nil, errBackend
		}
		b := &fakeBackend{videoID: videoID, listener: l, rate: 1.0, quality: "default"}
		h.backends[videoID] = b
		return b, nil
	}

	h.e = NewEngine(DefaultConfig(), factory,
		WithLogger(testLogger()),
		WithClock(h.clock.Now),
		WithObserver(h.observer),
	)
	h.e.after = func(d time.Duration, fn func()) { h.delayed = append(h.delayed, fn) }
	return h
}

func (h *harness) add(identifier string, offsetMs int) (*Stream, *fakeBackend) {
	s := h.e.controller.Add(identifier, offsetMs)
	return s, h.backends[playback.ExtractVideoID(identifier)]
}

// flush runs everything backend listeners have queued.
func (h *harness) flush() {
	for _, fn := range h.e.queue.drain() {
		fn()
	}
}

func (h *harness) runDelayed() {
	fns := h.delayed
	h.delayed = nil
	for _, fn := range fns {
		fn()
	}
}

// startPlaying puts the primary and secondaries into Playing via backend
// events, then clears recorded calls.
func (h *harness) startPlaying() {
	for _, s := range h.e.session.streams {
		b := s.backend.(*fakeBackend)
		b.listener.OnStateChange(playback.StatePlaying)
	}
	h.flush()
	require.True(h.t, h.e.session.playing)
	for _, b := range h.backends {
		b.reset()
	}
}

func (h *harness) requireRoleInvariant() {
	h.t.Helper()
	primaries := 0
	for _, s := range h.e.session.streams {
		if s.Role == RolePrimary {
			primaries++
			require.Same(h.t, h.e.session.primary, s)
			require.Equal(h.t, "Primary", s.Label)
		}
	}
	if len(h.e.session.streams) == 0 {
		require.Zero(h.t, primaries)
		require.Nil(h.t, h.e.session.primary)
		return
	}
	require.Equal(h.t, 1, primaries)
}

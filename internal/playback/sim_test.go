package playback

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingListener struct {
	mu     sync.Mutex
	ready  int
	states []State
	rates  []float64
}

func (l *recordingListener) OnReady() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ready++
}

func (l *recordingListener) OnStateChange(s State) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.states = append(l.states, s)
}

func (l *recordingListener) OnPlaybackRateChange(r float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rates = append(l.rates, r)
}

func (l *recordingListener) States() []State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]State(nil), l.states...)
}

func (l *recordingListener) Ready() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ready
}

func TestSimBackend_PositionAdvancesWithRate(t *testing.T) {
	clock := newFakeClock()
	b := NewSimBackend("kbNdx0yqbZE", nil, SimOptions{Now: clock.Now})

	assert.Equal(t, StateUnstarted, b.State())
	assert.Equal(t, 0.0, b.CurrentTime())

	require.NoError(t, b.Play())
	clock.Advance(2 * time.Second)
	assert.InDelta(t, 2.0, b.CurrentTime(), 1e-9)

	require.NoError(t, b.SetPlaybackRate(1.5))
	clock.Advance(2 * time.Second)
	assert.InDelta(t, 5.0, b.CurrentTime(), 1e-9)

	require.NoError(t, b.Pause())
	clock.Advance(10 * time.Second)
	assert.InDelta(t, 5.0, b.CurrentTime(), 1e-9)
}

func TestSimBackend_Skew(t *testing.T) {
	clock := newFakeClock()
	b := NewSimBackend("kbNdx0yqbZE", nil, SimOptions{Now: clock.Now, Skew: 1.01})

	require.NoError(t, b.Play())
	clock.Advance(100 * time.Second)
	assert.InDelta(t, 101.0, b.CurrentTime(), 1e-9)
}

func TestSimBackend_RateClamped(t *testing.T) {
	b := NewSimBackend("kbNdx0yqbZE", nil, SimOptions{})

	require.NoError(t, b.SetPlaybackRate(5))
	assert.Equal(t, 2.0, b.PlaybackRate())

	require.NoError(t, b.SetPlaybackRate(0.01))
	assert.Equal(t, 0.25, b.PlaybackRate())
}

func TestSimBackend_Events(t *testing.T) {
	clock := newFakeClock()
	l := &recordingListener{}
	b := NewSimBackend("kbNdx0yqbZE", l, SimOptions{Now: clock.Now})

	assert.Eventually(t, func() bool { return l.Ready() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, b.Play())
	require.NoError(t, b.Play())
	require.NoError(t, b.Pause())
	require.NoError(t, b.Cue("fckdimdQ2ak"))

	assert.Equal(t, []State{StatePlaying, StatePaused, StateCued}, l.States())
	assert.Equal(t, "fckdimdQ2ak", b.VideoID())
	assert.Equal(t, 0.0, b.CurrentTime())
}

func TestSimBackend_SeekBuffers(t *testing.T) {
	clock := newFakeClock()
	l := &recordingListener{}
	b := NewSimBackend("kbNdx0yqbZE", l, SimOptions{Now: clock.Now, SeekBuffer: 10 * time.Millisecond})

	require.NoError(t, b.Play())
	require.NoError(t, b.SeekTo(42, true))
	assert.Equal(t, StateBuffering, b.State())
	assert.Equal(t, 42.0, b.CurrentTime())

	assert.Eventually(t, func() bool { return b.State() == StatePlaying }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []State{StatePlaying, StateBuffering, StatePlaying}, l.States())
}

func TestSimBackend_Stall(t *testing.T) {
	clock := newFakeClock()
	b := NewSimBackend("kbNdx0yqbZE", nil, SimOptions{Now: clock.Now})

	b.Stall(time.Millisecond)
	assert.Equal(t, StateUnstarted, b.State(), "stall only applies while playing")

	require.NoError(t, b.Play())
	clock.Advance(time.Second)
	b.Stall(20 * time.Millisecond)
	assert.Equal(t, StateBuffering, b.State())

	clock.Advance(time.Second)
	assert.InDelta(t, 1.0, b.CurrentTime(), 1e-9, "position frozen while buffering")

	assert.Eventually(t, func() bool { return b.State() == StatePlaying }, time.Second, 5*time.Millisecond)
}

func TestSimBackend_Destroy(t *testing.T) {
	b := NewSimBackend("kbNdx0yqbZE", nil, SimOptions{})
	require.NoError(t, b.Destroy())
	require.NoError(t, b.Destroy())

	assert.ErrorIs(t, b.Play(), ErrDestroyed)
	assert.ErrorIs(t, b.Pause(), ErrDestroyed)
	assert.ErrorIs(t, b.SeekTo(1, true), ErrDestroyed)
	assert.ErrorIs(t, b.SetPlaybackRate(1), ErrDestroyed)
	assert.ErrorIs(t, b.SetVolume(10), ErrDestroyed)
	assert.ErrorIs(t, b.SetPlaybackQuality("hd720"), ErrDestroyed)
	assert.ErrorIs(t, b.Cue("x"), ErrDestroyed)
}

func TestStateText(t *testing.T) {
	for _, s := range []State{StateUnstarted, StateEnded, StatePlaying, StatePaused, StateBuffering, StateCued} {
		text, err := s.MarshalText()
		require.NoError(t, err)

		var got State
		require.NoError(t, got.UnmarshalText(text))
		assert.Equal(t, s, got)
	}

	var s State
	assert.Error(t, s.UnmarshalText([]byte("rewinding")))
}

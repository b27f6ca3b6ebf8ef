package sync

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zsiec/lockstep/internal/playback"
)

func TestTickPreconditions(t *testing.T) {
	h := newHarness(t)
	h.e.tick() // empty session

	_, pb := h.add(vidA, 0)
	_, b1 := h.add(vidB, 0)
	pb.position, b1.position = 10, 11
	b1.reset()

	h.e.tick()
	assert.Empty(t, b1.calls, "not playing")

	h.startPlaying()
	pb.listener.OnStateChange(playback.StateBuffering)
	h.flush()
	b1.reset()

	h.e.tick()
	assert.Empty(t, b1.calls, "primary buffering suppresses correction")
	assert.True(t, h.e.session.playing)

	pb.listener.OnStateChange(playback.StatePlaying)
	h.flush()
	b1.reset()

	h.e.tick()
	assert.Equal(t, []float64{10.0}, b1.seeks)
}

func TestTickCorrectsEverySecondary(t *testing.T) {
	h := newHarness(t)
	_, pb := h.add(vidA, 0)
	s1, b1 := h.add(vidB, 0)
	s2, b2 := h.add(vidC, 5000)
	h.startPlaying()

	pb.position = 10.0
	b1.position = 10.3
	b2.position = 15.05

	h.e.tick()

	assert.Equal(t, []float64{10.0}, b1.seeks)
	assert.Equal(t, InSync, s1.Correction)
	assert.Equal(t, Nudging, s2.Correction)
	assert.InDelta(t, 0.9, b2.rate, 1e-9)

	require.Len(t, h.observer.drift[s1.ID], 1)
	assert.Equal(t, int64(300), h.observer.drift[s1.ID][0].Ms)
	assert.Equal(t, int64(50), h.observer.drift[s2.ID][0].Ms)
}

func TestTickUsesPrimaryReportedRate(t *testing.T) {
	h := newHarness(t)
	_, pb := h.add(vidA, 0)
	_, b1 := h.add(vidB, 0)
	h.startPlaying()

	pb.listener.OnPlaybackRateChange(1.5)
	pb.rate = 1.5
	h.flush()

	pb.position, b1.position = 10, 9.9
	h.e.tick()

	assert.InDelta(t, 1.6, b1.rate, 1e-9)
}

func TestTickConvergesSimulatedDrift(t *testing.T) {
	h := newHarness(t)
	_, pb := h.add(vidA, 0)
	s1, b1 := h.add(vidB, 0)
	h.startPlaying()

	pb.position, b1.position = 0, 0.2

	// Advance both backends by hand at their commanded rates
	for i := 0; i < 100; i++ {
		h.e.tick()
		pb.position += 0.1 * pb.rate
		b1.position += 0.1 * b1.rate
		h.clock.Advance(100 * time.Millisecond)
	}

	require.True(t, s1.HasDrift)
	assert.True(t, s1.Drift.InTolerance)
	assert.Equal(t, InSync, s1.Correction)
	assert.InDelta(t, 1.0, b1.rate, 1e-9)
}

func TestSetThresholdClamps(t *testing.T) {
	h := newHarness(t)

	assert.Equal(t, 5, h.e.setThreshold(1))
	assert.InDelta(t, 0.005, h.e.session.Threshold(), 1e-12)
	assert.Equal(t, 60, h.e.setThreshold(60))
	assert.Equal(t, 40, h.e.session.setThresholdMs(40, DefaultConfig().MinThreshold))
}

func TestSeedReplacesStreams(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.add(vidC, 0)

	done := runEngine(t, h.e)
	defer done()

	require.NoError(t, h.e.Seed(ctx, []StreamSpec{
		{Identifier: vidA},
		{Identifier: "garbage"},
		{Identifier: "https://youtu.be/" + vidB, OffsetMs: 250},
	}))

	specs, err := h.e.Export(ctx)
	require.NoError(t, err)
	assert.Equal(t, []StreamSpec{{Identifier: vidA}, {Identifier: vidB, OffsetMs: 250}}, specs)
}

func TestSeedDefaults(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	done := runEngine(t, h.e)
	defer done()

	require.NoError(t, h.e.Seed(ctx, nil))

	specs, err := h.e.Export(ctx)
	require.NoError(t, err)
	assert.Equal(t, DefaultStreams(), specs)
}

func TestSeedEmptyListClearsSession(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.add(vidA, 0)
	h.add(vidB, 0)
	done := runEngine(t, h.e)
	defer done()

	specs, ok := ParseShareQuery("v1=not-a-video")
	require.True(t, ok)
	require.NoError(t, h.e.Seed(ctx, specs))

	snap, err := h.e.Snapshot(ctx)
	require.NoError(t, err)
	assert.Empty(t, snap.Streams)
	assert.Empty(t, snap.PrimaryID)
}

// runEngine starts the loop with a long tick so tests control corrections.
func runEngine(t *testing.T, e *Engine) func() {
	t.Helper()
	e.cfg.TickInterval = time.Hour
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- e.Run(ctx) }()

	return func() {
		cancel()
		select {
		case err := <-errCh:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Fatal("engine did not stop")
		}
	}
}

func TestEngineControlSurface(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	done := runEngine(t, h.e)
	defer done()

	primary, err := h.e.AddStream(ctx, vidA, 0)
	require.NoError(t, err)
	assert.Equal(t, RolePrimary, primary.Role)
	assert.Equal(t, "Primary", primary.Label)

	sec, err := h.e.AddStream(ctx, "", 300)
	require.NoError(t, err)
	assert.False(t, sec.Loaded)

	found, err := h.e.SetIdentifier(ctx, sec.ID, vidB)
	require.NoError(t, err)
	assert.True(t, found)

	found, err = h.e.AdjustOffset(ctx, sec.ID, 100)
	require.NoError(t, err)
	assert.True(t, found)

	found, err = h.e.SetQuality(ctx, sec.ID, "hd1080")
	require.NoError(t, err)
	assert.True(t, found)

	found, err = h.e.Tap(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, found)

	ms, err := h.e.SetThreshold(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, 5, ms)

	ms, err = h.e.AdjustThreshold(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 15, ms)

	snap, err := h.e.Snapshot(ctx)
	require.NoError(t, err)
	require.Len(t, snap.Streams, 2)
	assert.Equal(t, primary.ID, snap.PrimaryID)
	assert.Equal(t, 15, snap.ThresholdMs)
	assert.False(t, snap.Playing)
	assert.Equal(t, 400, snap.Streams[1].OffsetMs)
	assert.Equal(t, vidB, snap.Streams[1].Identifier)
	assert.Equal(t, "hd1080", snap.Streams[1].Quality)
	assert.True(t, snap.Streams[1].Loaded)
	assert.Equal(t, "hd1080", h.backends[vidB].quality)

	require.NoError(t, h.e.PlayAll(ctx))
	assert.Contains(t, h.backends[vidA].calls, "play")

	require.NoError(t, h.e.PauseAll(ctx))
	assert.Contains(t, h.backends[vidB].calls, "pause")

	require.NoError(t, h.e.Step(ctx, 1.0/30))
	assert.Len(t, h.delayed, 1)

	found, err = h.e.RemoveStream(ctx, primary.ID)
	require.NoError(t, err)
	assert.True(t, found)

	snap, err = h.e.Snapshot(ctx)
	require.NoError(t, err)
	require.Len(t, snap.Streams, 1)
	assert.Equal(t, sec.ID, snap.PrimaryID)
	assert.Equal(t, 0, snap.Streams[0].OffsetMs)
}

func TestEngineBackendEventsReachLoop(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	done := runEngine(t, h.e)
	defer done()

	_, err := h.e.AddStream(ctx, vidA, 0)
	require.NoError(t, err)
	_, err = h.e.AddStream(ctx, vidB, 0)
	require.NoError(t, err)

	var pb, b1 *fakeBackend
	require.NoError(t, h.e.do(ctx, func() {
		pb, b1 = h.backends[vidA], h.backends[vidB]
	}))

	pb.listener.OnStateChange(playback.StatePlaying)

	assert.Eventually(t, func() bool {
		snap, err := h.e.Snapshot(ctx)
		return err == nil && snap.Playing
	}, time.Second, 5*time.Millisecond)

	var calls []string
	require.NoError(t, h.e.do(ctx, func() { calls = append(calls, b1.calls...) }))
	assert.Contains(t, calls, "play")
}

func TestEngineStopped(t *testing.T) {
	h := newHarness(t)
	done := runEngine(t, h.e)
	done()

	<-h.e.Done()
	_, err := h.e.AddStream(context.Background(), vidA, 0)
	assert.ErrorIs(t, err, ErrEngineStopped)
	assert.ErrorIs(t, h.e.Run(context.Background()), ErrEngineRunning)
}

func TestEngineCallerContext(t *testing.T) {
	h := newHarness(t) // loop never started
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := h.e.Snapshot(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestEngineShutdownDestroysBackends(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	done := runEngine(t, h.e)

	_, err := h.e.AddStream(ctx, vidA, 0)
	require.NoError(t, err)
	done()

	assert.True(t, h.backends[vidA].destroyed)
}

func TestEngineLastTick(t *testing.T) {
	h := newHarness(t)
	assert.True(t, h.e.LastTick().IsZero())

	h.e.tick()
	assert.Equal(t, h.clock.Now().UnixNano(), h.e.LastTick().UnixNano())
}

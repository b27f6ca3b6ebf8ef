package sync

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zsiec/lockstep/internal/playback"
)

const defaultThreshold = 0.04

func newCorrectorFixture(offsetMs int, position float64) (*Corrector, *Stream, *fakeBackend, *fakeClock) {
	clock := newFakeClock()
	b := &fakeBackend{rate: 1.0, position: position}
	s := newStream(vidB, offsetMs, nil)
	s.Role = RoleSecondary
	s.backend = b
	s.State = playback.StatePlaying
	return NewCorrector(DefaultConfig(), clock.Now), s, b, clock
}

func TestEvaluateInTolerance(t *testing.T) {
	c, s, b, _ := newCorrectorFixture(0, 10.03)

	d := c.Evaluate(s, 10.0, 1.0, defaultThreshold)

	assert.Equal(t, ActionInSync, d.Action)
	assert.Empty(t, b.calls)
	require.True(t, s.HasDrift)
	assert.Equal(t, int64(30), s.Drift.Ms)
	assert.True(t, s.Drift.InTolerance)
}

func TestEvaluateThresholdIdempotence(t *testing.T) {
	c, s, b, clock := newCorrectorFixture(300, 10.31)

	for i := 0; i < 50; i++ {
		d := c.Evaluate(s, 10.0, 1.0, defaultThreshold)
		assert.Equal(t, ActionInSync, d.Action)
		clock.Advance(100 * time.Millisecond)
	}
	assert.Empty(t, b.calls)
	assert.Equal(t, InSync, s.Correction)
}

func TestEvaluateHardDriftSeeks(t *testing.T) {
	c, s, b, clock := newCorrectorFixture(0, 10.3)

	d := c.Evaluate(s, 10.0, 1.0, defaultThreshold)

	assert.Equal(t, ActionHardSync, d.Action)
	assert.Equal(t, []float64{10.0}, b.seeks)
	assert.Equal(t, []float64{1.0}, b.rates)
	assert.Equal(t, clock.Now(), s.LastSeekAt)
	assert.Equal(t, InSync, s.Correction)
	assert.Equal(t, int64(300), s.Drift.Ms)
	assert.False(t, s.Drift.InTolerance)
}

func TestEvaluateSoftDriftNudges(t *testing.T) {
	c, s, b, _ := newCorrectorFixture(5000, 15.05)

	d := c.Evaluate(s, 10.0, 1.0, defaultThreshold)

	assert.Equal(t, ActionNudge, d.Action)
	assert.Empty(t, b.seeks)
	require.Len(t, b.rates, 1)
	assert.InDelta(t, 0.90, b.rates[0], 1e-9)
	assert.Equal(t, Nudging, s.Correction)
	assert.True(t, s.LastSeekAt.IsZero(), "nudges leave the seek clock alone")
	assert.Equal(t, int64(50), s.Drift.Ms)
}

func TestEvaluateBehindSpeedsUp(t *testing.T) {
	c, s, b, _ := newCorrectorFixture(0, 9.9)

	d := c.Evaluate(s, 10.0, 1.0, defaultThreshold)

	assert.Equal(t, ActionNudge, d.Action)
	assert.InDelta(t, 1.10, d.Rate, 1e-9)
	assert.InDelta(t, 1.10, b.rate, 1e-9)
	assert.Equal(t, int64(-100), s.Drift.Ms)
}

func TestEvaluateHardSoftBoundary(t *testing.T) {
	tests := []struct {
		name     string
		position float64
		want     Action
	}{
		{"exactly hard threshold is soft", 10.25, ActionNudge},
		{"just past hard threshold", 10.2500001, ActionHardSync},
		{"exactly hard threshold behind is soft", 9.75, ActionNudge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, s, _, _ := newCorrectorFixture(0, tt.position)
			assert.Equal(t, tt.want, c.Evaluate(s, 10.0, 1.0, defaultThreshold).Action)
		})
	}
}

func TestEvaluateRateClamp(t *testing.T) {
	tests := []struct {
		name        string
		position    float64
		primaryRate float64
		want        float64
	}{
		{"behind at max rate", 9.9, 2.0, 2.0},
		{"behind near max rate", 9.9, 1.95, 2.0},
		{"ahead at min rate", 10.1, 0.25, 0.25},
		{"ahead near min rate", 10.1, 0.3, 0.25},
		{"ahead at double speed", 10.1, 2.0, 1.9},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, s, b, _ := newCorrectorFixture(0, tt.position)
			b.rate = tt.primaryRate

			d := c.Evaluate(s, 10.0, tt.primaryRate, defaultThreshold)

			require.Equal(t, ActionNudge, d.Action)
			assert.InDelta(t, tt.want, d.Rate, 1e-9)
			assert.GreaterOrEqual(t, d.Rate, 0.25)
			assert.LessOrEqual(t, d.Rate, 2.0)
		})
	}
}

func TestEvaluateResumesAfterNudge(t *testing.T) {
	c, s, b, _ := newCorrectorFixture(0, 10.1)

	require.Equal(t, ActionNudge, c.Evaluate(s, 10.0, 1.0, defaultThreshold).Action)

	b.position = 10.01
	d := c.Evaluate(s, 10.0, 1.0, defaultThreshold)

	assert.Equal(t, ActionResumed, d.Action)
	assert.Equal(t, InSync, s.Correction)
	assert.Equal(t, 1.0, b.rate)
}

func TestEvaluateCooldown(t *testing.T) {
	c, s, b, clock := newCorrectorFixture(0, 11.0)

	require.Equal(t, ActionHardSync, c.Evaluate(s, 10.0, 1.0, defaultThreshold).Action)
	reading := s.Drift

	// Drift reappears immediately after the seek
	b.position = 12.0
	b.reset()

	clock.Advance(999 * time.Millisecond)
	d := c.Evaluate(s, 10.0, 1.0, defaultThreshold)
	assert.Equal(t, ActionSkipped, d.Action)
	assert.Empty(t, b.calls)
	assert.Equal(t, reading, s.Drift, "readout is untouched during cooldown")

	clock.Advance(time.Millisecond)
	d = c.Evaluate(s, 10.0, 1.0, defaultThreshold)
	assert.Equal(t, ActionHardSync, d.Action)
	assert.Equal(t, []float64{10.0}, b.seeks)
}

func TestEvaluateNegativeTarget(t *testing.T) {
	c, s, b, _ := newCorrectorFixture(-5000, 0.0)

	d := c.Evaluate(s, 1.0, 1.0, defaultThreshold)

	assert.Equal(t, ActionNegativeTarget, d.Action)
	assert.Empty(t, b.calls)
	assert.True(t, s.LastSeekAt.IsZero())
	require.True(t, s.HasDrift)
	assert.Equal(t, int64(4000), s.Drift.Ms)
}

func TestEvaluateNegativeTargetEndsNudge(t *testing.T) {
	c, s, b, clock := newCorrectorFixture(0, 9.9)
	require.Equal(t, ActionNudge, c.Evaluate(s, 10.0, 1.0, defaultThreshold).Action)
	require.InDelta(t, 1.1, b.rate, 1e-9)
	b.reset()

	s.OffsetMs = -20000
	clock.Advance(2 * time.Second)
	d := c.Evaluate(s, 10.0, 1.0, defaultThreshold)

	assert.Equal(t, ActionNegativeTarget, d.Action)
	assert.Empty(t, b.seeks)
	assert.Equal(t, []float64{1.0}, b.rates)
	assert.Equal(t, InSync, s.Correction)
	assert.Equal(t, int64(19900), s.Drift.Ms)

	// Later ticks at the same target stay silent
	b.reset()
	d = c.Evaluate(s, 10.0, 1.0, defaultThreshold)
	assert.Equal(t, ActionNegativeTarget, d.Action)
	assert.Empty(t, b.calls)
}

func TestEvaluateSkipsBuffering(t *testing.T) {
	c, s, b, _ := newCorrectorFixture(0, 12.0)
	s.State = playback.StateBuffering

	d := c.Evaluate(s, 10.0, 1.0, defaultThreshold)

	assert.Equal(t, ActionSkipped, d.Action)
	assert.Empty(t, b.calls)
	assert.False(t, s.HasDrift)
}

func TestEvaluateRespectsManualRate(t *testing.T) {
	c, s, b, _ := newCorrectorFixture(0, 12.0)
	b.rate = 1.5

	d := c.Evaluate(s, 10.0, 1.0, defaultThreshold)

	assert.Equal(t, ActionSkipped, d.Action)
	assert.Empty(t, b.calls)
}

func TestEvaluateWhileNudgingIgnoresRateMismatch(t *testing.T) {
	c, s, b, _ := newCorrectorFixture(0, 10.1)
	require.Equal(t, ActionNudge, c.Evaluate(s, 10.0, 1.0, defaultThreshold).Action)
	require.InDelta(t, 0.9, b.rate, 1e-9)

	d := c.Evaluate(s, 10.0, 1.0, defaultThreshold)
	assert.Equal(t, ActionNudge, d.Action)
}

func TestEvaluateWithoutBackend(t *testing.T) {
	c := NewCorrector(DefaultConfig(), nil)
	s := newStream("", 0, nil)
	assert.Equal(t, ActionSkipped, c.Evaluate(s, 10.0, 1.0, defaultThreshold).Action)
	assert.False(t, c.HardSync(s, 10.0, 1.0))
}

func TestHardSync(t *testing.T) {
	c, s, b, clock := newCorrectorFixture(-3500, 0)

	assert.True(t, c.HardSync(s, 12.0, 1.0))
	assert.Equal(t, []float64{8.5}, b.seeks)
	assert.Empty(t, b.rates, "no rate command outside a nudge")
	assert.Equal(t, clock.Now(), s.LastSeekAt)

	b.reset()
	assert.False(t, c.HardSync(s, 1.0, 1.0), "negative target is rejected")
	assert.Empty(t, b.calls)
}

func TestHardSyncEndsNudge(t *testing.T) {
	c, s, b, _ := newCorrectorFixture(0, 10.1)
	require.Equal(t, ActionNudge, c.Evaluate(s, 10.0, 1.0, defaultThreshold).Action)
	require.InDelta(t, 0.9, b.rate, 1e-9)
	b.reset()

	assert.True(t, c.HardSync(s, 10.0, 1.0))

	assert.Equal(t, []float64{10.0}, b.seeks)
	assert.Equal(t, []float64{1.0}, b.rates)
	assert.Equal(t, InSync, s.Correction)
}

func TestEvaluateRuntimeThreshold(t *testing.T) {
	c, s, _, _ := newCorrectorFixture(0, 10.08)

	assert.Equal(t, ActionNudge, c.Evaluate(s, 10.0, 1.0, 0.04).Action)
	assert.Equal(t, ActionResumed, c.Evaluate(s, 10.0, 1.0, 0.1).Action)
}

package registry

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/zsiec/lockstep/internal/logger"
	"github.com/zsiec/lockstep/internal/playback"
	lsync "github.com/zsiec/lockstep/internal/sync"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *RedisRegistry) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	reg := NewRedisRegistry(client, logger.NewNullLogger(), "test:", 10*time.Second)

	t.Cleanup(func() {
		_ = client.Close()
		mr.Close()
	})
	return mr, reg
}

func testSnapshot() lsync.SessionSnapshot {
	drift := &lsync.DriftReading{Ms: 42, Seconds: 0.042, InTolerance: true}
	return lsync.SessionSnapshot{
		Streams: []lsync.StreamStatus{
			{
				ID:           "s-1",
				Label:        "Primary",
				Identifier:   "kbNdx0yqbZE",
				Role:         lsync.RolePrimary,
				PlaybackRate: 1,
				State:        playback.StatePlaying,
				CurrentTime:  12.5,
			},
			{
				ID:           "s-2",
				Label:        "Secondary 1",
				Identifier:   "fckdimdQ2ak",
				Role:         lsync.RoleSecondary,
				OffsetMs:     300,
				PlaybackRate: 1,
				Correction:   lsync.Nudging,
				State:        playback.StatePlaying,
				CurrentTime:  12.84,
				Drift:        drift,
			},
		},
		PrimaryID:   "s-1",
		Playing:     true,
		ThresholdMs: 40,
		TakenAt:     time.Unix(1_700_000_000, 0).UTC(),
	}
}

type staticSource struct {
	snap lsync.SessionSnapshot
	err  error
}

func (s *staticSource) Snapshot(ctx context.Context) (lsync.SessionSnapshot, error) {
	return s.snap, s.err
}

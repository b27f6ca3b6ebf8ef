// Package registry mirrors session snapshots to an external store so that
// dashboards can follow a running instance without talking to its API.
package registry

import (
	"context"
	"errors"
	"time"

	lsync "github.com/zsiec/lockstep/internal/sync"
)

// ErrSessionNotFound is returned when an instance has no live session record.
var ErrSessionNotFound = errors.New("session not found")

// SessionRecord is the per-instance summary written on every publish.
type SessionRecord struct {
	Instance    string    `json:"instance"`
	PrimaryID   string    `json:"primary_id,omitempty"`
	Playing     bool      `json:"playing"`
	ThresholdMs int       `json:"threshold_ms"`
	Streams     int       `json:"streams"`
	PendingCue  *float64  `json:"pending_cue,omitempty"`
	Version     string    `json:"version,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// StreamRecord is the per-stream entry written on every publish.
type StreamRecord struct {
	ID           string    `json:"id"`
	Position     int       `json:"position"`
	Label        string    `json:"label"`
	Identifier   string    `json:"identifier"`
	Role         string    `json:"role"`
	OffsetMs     int       `json:"offset_ms"`
	PlaybackRate float64   `json:"playback_rate"`
	Correction   string    `json:"correction"`
	State        string    `json:"state"`
	CurrentTime  float64   `json:"current_time"`
	DriftMs      *int64    `json:"drift_ms,omitempty"`
	InTolerance  bool      `json:"in_tolerance"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Registry stores the latest snapshot of each instance.
type Registry interface {
	// Publish replaces the instance's records. Streams absent from the
	// call are removed.
	Publish(ctx context.Context, session SessionRecord, streams []StreamRecord) error
	// Withdraw removes every record of the instance.
	Withdraw(ctx context.Context, instance string) error
	Session(ctx context.Context, instance string) (*SessionRecord, error)
	Streams(ctx context.Context, instance string) ([]StreamRecord, error)
	// Instances lists instances whose session record is still live.
	Instances(ctx context.Context) ([]string, error)
	Close() error
}

// FromSnapshot converts an engine snapshot into registry records.
func FromSnapshot(instance, version string, snap lsync.SessionSnapshot) (SessionRecord, []StreamRecord) {
	session := SessionRecord{
		Instance:    instance,
		PrimaryID:   snap.PrimaryID,
		Playing:     snap.Playing,
		ThresholdMs: snap.ThresholdMs,
		Streams:     len(snap.Streams),
		PendingCue:  snap.PendingCue,
		Version:     version,
		UpdatedAt:   snap.TakenAt,
	}

	streams := make([]StreamRecord, 0, len(snap.Streams))
	for i, st := range snap.Streams {
		rec := StreamRecord{
			ID:           st.ID,
			Position:     i,
			Label:        st.Label,
			Identifier:   st.Identifier,
			Role:         st.Role.String(),
			OffsetMs:     st.OffsetMs,
			PlaybackRate: st.PlaybackRate,
			Correction:   st.Correction.String(),
			State:        st.State.String(),
			CurrentTime:  st.CurrentTime,
			UpdatedAt:    snap.TakenAt,
		}
		if st.Drift != nil {
			ms := st.Drift.Ms
			rec.DriftMs = &ms
			rec.InTolerance = st.Drift.InTolerance
		}
		streams = append(streams, rec)
	}
	return session, streams
}

package health

import (
	"context"
	"fmt"
	"time"
)

// TickSource is the part of the sync engine liveness depends on.
type TickSource interface {
	LastTick() time.Time
	TickInterval() time.Duration
}

// EngineChecker reports down when the correction loop has not ticked for
// more than a fixed number of intervals.
type EngineChecker struct {
	engine    TickSource
	maxMissed int
	now       func() time.Time
}

func NewEngineChecker(engine TickSource) *EngineChecker {
	return &EngineChecker{engine: engine, maxMissed: 10, now: time.Now}
}

func (e *EngineChecker) Name() string {
	return "sync_engine"
}

func (e *EngineChecker) Check(ctx context.Context) error {
	last := e.engine.LastTick()
	if last.IsZero() {
		return fmt.Errorf("sync engine has not started")
	}

	limit := time.Duration(e.maxMissed) * e.engine.TickInterval()
	if since := e.now().Sub(last); since > limit {
		return fmt.Errorf("sync engine stalled: last tick %v ago (limit %v)", since.Round(time.Millisecond), limit)
	}
	return nil
}

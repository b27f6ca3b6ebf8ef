package sync

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zsiec/lockstep/internal/logger"
	"github.com/zsiec/lockstep/internal/metrics"
	"github.com/zsiec/lockstep/internal/playback"
)

var (
	ErrEngineStopped = errors.New("sync engine stopped")
	ErrEngineRunning = errors.New("sync engine already running")
)

// Observer receives session notifications on the engine loop. Implementations
// must not block.
type Observer interface {
	PlayingChanged(playing bool)
	DriftMeasured(streamID string, reading DriftReading)
	StreamsChanged(count int)
}

type Option func(*Engine)

func WithLogger(l logger.Logger) Option {
	return func(e *Engine) { e.log = l }
}

func WithObserver(o Observer) Option {
	return func(e *Engine) { e.observers = append(e.observers, o) }
}

// WithClock replaces time.Now for cooldowns, readouts and liveness.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// Engine is the composition root. Run is the only goroutine that touches
// the session; everything else enqueues work for it.
type Engine struct {
	cfg       Config
	log       logger.Logger
	sampled   *logger.SampledLogger
	now       func() time.Time
	observers []Observer

	session    *Session
	corrector  *Corrector
	controller *Controller
	calibrator *Calibrator

	queue *eventQueue
	after func(d time.Duration, fn func())

	lastTick atomic.Int64
	running  atomic.Bool
	stopped  chan struct{}
	stopOnce sync.Once
}

func NewEngine(cfg Config, factory playback.Factory, opts ...Option) *Engine {
	e := &Engine{
		cfg:     cfg,
		log:     logger.NewNullLogger(),
		now:     time.Now,
		queue:   newEventQueue(),
		stopped: make(chan struct{}),
	}
	e.after = e.afterOnLoop
	for _, opt := range opts {
		opt(e)
	}

	e.log = logger.WithComponent(e.log, "sync")
	e.sampled = logger.NewSampledLogger(e.log).
		WithSampler(logger.CategoryDrift, time.Second, 5).
		WithSampler(logger.CategoryBackendCommand, time.Second, 3).
		WithSampler(logger.CategoryBackendEvent, time.Second, 10)

	e.session = newSession(cfg.Threshold)
	e.corrector = NewCorrector(cfg, e.now)
	e.calibrator = &Calibrator{session: e.session, corrector: e.corrector, log: e.log}
	e.controller = &Controller{
		session:   e.session,
		corrector: e.corrector,
		cfg:       cfg,
		log:       e.log,
		sampled:   e.sampled,
		observers: e.observers,
		factory:   factory,
		listen: func(s *Stream, gen uint64) playback.Listener {
			return &streamListener{engine: e, streamID: s.ID, gen: gen}
		},
		after: func(d time.Duration, fn func()) { e.after(d, fn) },
	}

	metrics.SetThreshold(float64(e.session.ThresholdMs()))
	metrics.SetStreams(0)
	metrics.SetPlaying(false)
	return e
}

func (e *Engine) afterOnLoop(d time.Duration, fn func()) {
	time.AfterFunc(d, func() { e.queue.push(fn) })
}

// Run drains the event queue and drives the correction tick until ctx is
// done. Backends are destroyed on exit.
func (e *Engine) Run(ctx context.Context) error {
	if !e.running.CompareAndSwap(false, true) {
		return ErrEngineRunning
	}

	ticker := time.NewTicker(e.cfg.TickInterval)
	defer ticker.Stop()
	defer e.shutdown()

	e.lastTick.Store(e.now().UnixNano())
	e.log.WithField("tick_interval", e.cfg.TickInterval.String()).Info("Sync engine started")

	for {
		select {
		case <-ctx.Done():
			e.log.Info("Sync engine stopping")
			return nil
		case <-e.queue.notify:
			for _, fn := range e.queue.drain() {
				fn()
			}
		case <-ticker.C:
			e.tick()
		}
	}
}

func (e *Engine) shutdown() {
	e.stopOnce.Do(func() {
		e.queue.close()
		close(e.stopped)
		for _, s := range e.session.streams {
			s.destroy()
		}
	})
}

// Done is closed once Run has returned.
func (e *Engine) Done() <-chan struct{} {
	return e.stopped
}

// LastTick is when the loop last ran a correction tick.
func (e *Engine) LastTick() time.Time {
	n := e.lastTick.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

func (e *Engine) TickInterval() time.Duration {
	return e.cfg.TickInterval
}

// do runs fn on the loop and waits for it.
func (e *Engine) do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	if !e.queue.push(func() {
		defer close(done)
		fn()
	}) {
		return ErrEngineStopped
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-e.stopped:
		return ErrEngineStopped
	}
}

func (e *Engine) tick() {
	now := e.now()
	e.lastTick.Store(now.UnixNano())
	metrics.IncrementTicks()

	p := e.session.primary
	if p == nil || !e.session.playing || p.State != playback.StatePlaying {
		return
	}

	pt := p.CurrentTime()
	pr := p.BackendRate()
	threshold := e.session.threshold

	for _, s := range e.session.secondaries() {
		d := e.corrector.Evaluate(s, pt, pr, threshold)
		if d.Action == ActionSkipped {
			continue
		}
		e.recordDecision(s, d)
	}
}

func (e *Engine) recordDecision(s *Stream, d Decision) {
	metrics.ObserveDrift(s.ID, s.Drift.Ms)
	metrics.RecordCorrection(s.ID, d.Action.String())
	for _, o := range e.observers {
		o.DriftMeasured(s.ID, s.Drift)
	}

	if d.Action == ActionInSync {
		return
	}

	fields := map[string]interface{}{
		"stream_id": s.ID,
		"action":    d.Action.String(),
		"drift":     FormatDrift(s.Drift.Ms),
		"target":    FormatTime(d.Target),
	}
	if d.Rate != 0 {
		fields["rate"] = d.Rate
	}
	e.sampled.InfoWithCategory(logger.CategoryDrift, "Drift correction", fields)
}

func (e *Engine) handleReady(id string, gen uint64) {
	s := e.live(id, gen)
	if s == nil {
		return
	}
	s.ready = true
	s.setRate(s.PlaybackRate)
	s.setQuality(s.Quality)
	s.setVolume(s.Volume)

	e.sampled.DebugWithCategory(logger.CategoryBackendEvent, "Backend ready", map[string]interface{}{
		"stream_id": id,
		"video_id":  s.Identifier,
	})
}

func (e *Engine) handleStateChange(id string, gen uint64, state playback.State) {
	s := e.live(id, gen)
	if s == nil {
		return
	}
	s.State = state

	e.sampled.DebugWithCategory(logger.CategoryBackendEvent, "Backend state changed", map[string]interface{}{
		"stream_id": id,
		"state":     state.String(),
	})

	if s == e.session.primary {
		e.controller.OnPrimaryStateChanged(state)
	}
}

func (e *Engine) handleRateChange(id string, gen uint64, rate float64) {
	s := e.live(id, gen)
	if s == nil {
		return
	}
	s.PlaybackRate = rate
	if s == e.session.primary {
		e.controller.OnPrimaryRateChanged(rate)
	}
}

// live resolves a backend event to its stream, or nil for stale events.
func (e *Engine) live(id string, gen uint64) *Stream {
	s := e.session.Find(id)
	if s == nil || s.backend == nil || s.backendGen != gen {
		return nil
	}
	return s
}

// AddStream appends a stream. An empty or invalid identifier leaves the
// stream without a backend until SetIdentifier.
func (e *Engine) AddStream(ctx context.Context, identifier string, offsetMs int) (StreamStatus, error) {
	var st StreamStatus
	err := e.do(ctx, func() {
		st = e.controller.Add(identifier, offsetMs).status()
	})
	return st, err
}

// RemoveStream reports whether the id was known.
func (e *Engine) RemoveStream(ctx context.Context, id string) (bool, error) {
	var found bool
	err := e.do(ctx, func() {
		found = e.controller.Remove(id)
	})
	return found, err
}

// SetIdentifier loads a video into an existing stream.
func (e *Engine) SetIdentifier(ctx context.Context, id, identifier string) (bool, error) {
	var found bool
	err := e.do(ctx, func() {
		s := e.session.Find(id)
		if s == nil {
			return
		}
		found = true
		e.controller.Load(s, identifier)
	})
	return found, err
}

func (e *Engine) PlayAll(ctx context.Context) error {
	return e.do(ctx, e.controller.PlayAll)
}

func (e *Engine) PauseAll(ctx context.Context) error {
	return e.do(ctx, e.controller.PauseAll)
}

// Step moves every stream by delta seconds after pausing the secondaries.
func (e *Engine) Step(ctx context.Context, delta float64) error {
	return e.do(ctx, func() { e.controller.RelativeSeekAll(delta) })
}

// SetThreshold sets the drift tolerance and returns the effective value
// after clamping to the configured minimum.
func (e *Engine) SetThreshold(ctx context.Context, ms int) (int, error) {
	var effective int
	err := e.do(ctx, func() {
		effective = e.setThreshold(ms)
	})
	return effective, err
}

func (e *Engine) AdjustThreshold(ctx context.Context, deltaMs int) (int, error) {
	var effective int
	err := e.do(ctx, func() {
		effective = e.setThreshold(e.session.ThresholdMs() + deltaMs)
	})
	return effective, err
}

func (e *Engine) setThreshold(ms int) int {
	effective := e.session.setThresholdMs(ms, e.cfg.MinThreshold)
	metrics.SetThreshold(float64(effective))
	e.log.WithField("threshold_ms", effective).Info("Sync threshold changed")
	return effective
}

func (e *Engine) SetOffset(ctx context.Context, id string, ms int) (bool, error) {
	return e.withStream(ctx, id, func(s *Stream) { e.calibrator.SetOffset(s, ms) })
}

func (e *Engine) AdjustOffset(ctx context.Context, id string, deltaMs int) (bool, error) {
	return e.withStream(ctx, id, func(s *Stream) { e.calibrator.AdjustOffset(s, deltaMs) })
}

func (e *Engine) Tap(ctx context.Context, id string) (bool, error) {
	return e.withStream(ctx, id, e.calibrator.Tap)
}

// SetQuality stores the quality target and applies it to a loaded backend.
func (e *Engine) SetQuality(ctx context.Context, id, quality string) (bool, error) {
	return e.withStream(ctx, id, func(s *Stream) { s.setQuality(quality) })
}

func (e *Engine) withStream(ctx context.Context, id string, fn func(*Stream)) (bool, error) {
	var found bool
	err := e.do(ctx, func() {
		if s := e.session.Find(id); s != nil {
			found = true
			fn(s)
		}
	})
	return found, err
}

// Export lists the streams in order as identifier and offset pairs.
func (e *Engine) Export(ctx context.Context) ([]StreamSpec, error) {
	var specs []StreamSpec
	err := e.do(ctx, func() {
		specs = e.session.export()
	})
	return specs, err
}

// Seed replaces the stream set. A nil list loads DefaultStreams while an
// empty non-nil list leaves the session empty. Entries with an unusable
// identifier are skipped.
func (e *Engine) Seed(ctx context.Context, specs []StreamSpec) error {
	if specs == nil {
		specs = DefaultStreams()
	}
	return e.do(ctx, func() {
		for len(e.session.streams) > 0 {
			e.controller.Remove(e.session.streams[len(e.session.streams)-1].ID)
		}
		for _, spec := range specs {
			if playback.ExtractVideoID(spec.Identifier) == "" {
				e.log.WithField("identifier", spec.Identifier).Warn("Skipping stream with invalid identifier")
				continue
			}
			e.controller.Add(spec.Identifier, spec.OffsetMs)
		}
	})
}

func (e *Engine) Snapshot(ctx context.Context) (SessionSnapshot, error) {
	var snap SessionSnapshot
	err := e.do(ctx, func() {
		snap = e.session.snapshot(e.now())
	})
	return snap, err
}

package playback

import (
	"sync"
	"time"
)

const (
	minSimRate = 0.25
	maxSimRate = 2.0
)

// SimOptions tunes a simulated backend.
type SimOptions struct {
	// Skew scales the simulated clock; 1.0 is a perfect clock.
	Skew float64
	// ReadyDelay is how long after creation OnReady fires.
	ReadyDelay time.Duration
	// SeekBuffer is how long the player buffers after a seek while playing.
	SeekBuffer time.Duration
	// Now overrides the clock, mainly for tests.
	Now func() time.Time
}

// SimBackend is an in-process player whose position advances with the wall
// clock at its playback rate multiplied by a clock skew, so several of them
// drift apart the way independent players do.
type SimBackend struct {
	mu       sync.Mutex
	opts     SimOptions
	listener Listener

	videoID   string
	state     State
	position  float64
	anchor    time.Time
	rate      float64
	volume    int
	quality   string
	destroyed bool

	ready  *time.Timer
	resume *time.Timer
}

// NewSimBackend creates a simulated player for videoID.
func NewSimBackend(videoID string, listener Listener, opts SimOptions) *SimBackend {
	if opts.Skew <= 0 {
		opts.Skew = 1.0
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	b := &SimBackend{
		opts:     opts,
		listener: listener,
		videoID:  videoID,
		state:    StateUnstarted,
		anchor:   opts.Now(),
		rate:     1.0,
		volume:   100,
		quality:  "default",
	}

	if listener != nil {
		b.ready = time.AfterFunc(opts.ReadyDelay, func() {
			b.mu.Lock()
			destroyed := b.destroyed
			b.mu.Unlock()
			if !destroyed {
				listener.OnReady()
			}
		})
	}

	return b
}

// SimFactory returns a Factory producing simulated backends. skew, when
// non-nil, is called once per backend to pick its clock skew.
func SimFactory(opts SimOptions, skew func() float64) Factory {
	return func(videoID string, listener Listener) (Backend, error) {
		o := opts
		if skew != nil {
			o.Skew = skew()
		}
		return NewSimBackend(videoID, listener, o), nil
	}
}

// VideoID returns the currently loaded video.
func (b *SimBackend) VideoID() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.videoID
}

// State returns the current simulated state.
func (b *SimBackend) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Volume returns the last volume set.
func (b *SimBackend) Volume() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.volume
}

// Quality returns the last quality label set.
func (b *SimBackend) Quality() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.quality
}

func (b *SimBackend) positionLocked(now time.Time) float64 {
	if b.state != StatePlaying {
		return b.position
	}
	return b.position + now.Sub(b.anchor).Seconds()*b.rate*b.opts.Skew
}

// freezeLocked folds elapsed play time into position and re-anchors.
func (b *SimBackend) freezeLocked(now time.Time) {
	b.position = b.positionLocked(now)
	b.anchor = now
}

func (b *SimBackend) stopResumeLocked() {
	if b.resume != nil {
		b.resume.Stop()
		b.resume = nil
	}
}

// setStateLocked returns true when the state actually changed.
func (b *SimBackend) setStateLocked(s State) bool {
	if b.state == s {
		return false
	}
	b.state = s
	return true
}

func (b *SimBackend) notifyState(s State) {
	if b.listener != nil {
		b.listener.OnStateChange(s)
	}
}

// bufferLocked moves into Buffering and schedules the return to Playing.
func (b *SimBackend) bufferLocked(d time.Duration) {
	b.stopResumeLocked()
	b.state = StateBuffering
	b.resume = time.AfterFunc(d, b.finishBuffering)
}

func (b *SimBackend) finishBuffering() {
	b.mu.Lock()
	if b.destroyed || b.state != StateBuffering {
		b.mu.Unlock()
		return
	}
	b.resume = nil
	b.anchor = b.opts.Now()
	b.state = StatePlaying
	b.mu.Unlock()

	b.notifyState(StatePlaying)
}

func (b *SimBackend) Play() error {
	b.mu.Lock()
	if b.destroyed {
		b.mu.Unlock()
		return ErrDestroyed
	}
	if b.state == StateBuffering && b.resume != nil {
		// already on its way to Playing
		b.mu.Unlock()
		return nil
	}
	b.freezeLocked(b.opts.Now())
	changed := b.setStateLocked(StatePlaying)
	b.mu.Unlock()

	if changed {
		b.notifyState(StatePlaying)
	}
	return nil
}

func (b *SimBackend) Pause() error {
	b.mu.Lock()
	if b.destroyed {
		b.mu.Unlock()
		return ErrDestroyed
	}
	b.freezeLocked(b.opts.Now())
	b.stopResumeLocked()
	changed := b.setStateLocked(StatePaused)
	b.mu.Unlock()

	if changed {
		b.notifyState(StatePaused)
	}
	return nil
}

func (b *SimBackend) SeekTo(seconds float64, allowSeekAhead bool) error {
	b.mu.Lock()
	if b.destroyed {
		b.mu.Unlock()
		return ErrDestroyed
	}
	if seconds < 0 {
		seconds = 0
	}
	b.freezeLocked(b.opts.Now())
	b.position = seconds

	buffering := b.state == StatePlaying && b.opts.SeekBuffer > 0
	if buffering {
		b.bufferLocked(b.opts.SeekBuffer)
	}
	b.mu.Unlock()

	if buffering {
		b.notifyState(StateBuffering)
	}
	return nil
}

func (b *SimBackend) CurrentTime() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.positionLocked(b.opts.Now())
}

func (b *SimBackend) PlaybackRate() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.rate
}

func (b *SimBackend) SetPlaybackRate(rate float64) error {
	b.mu.Lock()
	if b.destroyed {
		b.mu.Unlock()
		return ErrDestroyed
	}
	if rate < minSimRate {
		rate = minSimRate
	}
	if rate > maxSimRate {
		rate = maxSimRate
	}
	b.freezeLocked(b.opts.Now())
	changed := b.rate != rate
	b.rate = rate
	b.mu.Unlock()

	if changed && b.listener != nil {
		b.listener.OnPlaybackRateChange(rate)
	}
	return nil
}

func (b *SimBackend) SetVolume(volume int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.destroyed {
		return ErrDestroyed
	}
	if volume < 0 {
		volume = 0
	}
	if volume > 100 {
		volume = 100
	}
	b.volume = volume
	return nil
}

func (b *SimBackend) SetPlaybackQuality(quality string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.destroyed {
		return ErrDestroyed
	}
	b.quality = quality
	return nil
}

func (b *SimBackend) Cue(videoID string) error {
	b.mu.Lock()
	if b.destroyed {
		b.mu.Unlock()
		return ErrDestroyed
	}
	b.stopResumeLocked()
	b.videoID = videoID
	b.position = 0
	b.anchor = b.opts.Now()
	changed := b.setStateLocked(StateCued)
	b.mu.Unlock()

	if changed {
		b.notifyState(StateCued)
	}
	return nil
}

// Stall forces the player into Buffering for d, as a network hiccup would.
func (b *SimBackend) Stall(d time.Duration) {
	b.mu.Lock()
	if b.destroyed || b.state != StatePlaying {
		b.mu.Unlock()
		return
	}
	b.freezeLocked(b.opts.Now())
	b.bufferLocked(d)
	b.mu.Unlock()

	b.notifyState(StateBuffering)
}

func (b *SimBackend) Destroy() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.destroyed {
		return nil
	}
	b.destroyed = true
	b.stopResumeLocked()
	if b.ready != nil {
		b.ready.Stop()
	}
	return nil
}

package sync

import (
	"sync"

	"github.com/zsiec/lockstep/internal/playback"
)

// eventQueue is an unbounded FIFO of closures with a single consumer. The
// notify channel holds at most one wakeup, so producers never block.
type eventQueue struct {
	mu     sync.Mutex
	items  []func()
	notify chan struct{}
	closed bool
}

func newEventQueue() *eventQueue {
	return &eventQueue{notify: make(chan struct{}, 1)}
}

// push enqueues fn and reports false once the queue is closed.
func (q *eventQueue) push(fn func()) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items, fn)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return true
}

// drain takes everything queued so far.
func (q *eventQueue) drain() []func() {
	q.mu.Lock()
	items := q.items
	q.items = nil
	q.mu.Unlock()
	return items
}

func (q *eventQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.items = nil
	q.mu.Unlock()
}

func (q *eventQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// streamListener forwards backend callbacks onto the engine queue. gen pins
// the callbacks to one backend instance so late events from a destroyed or
// replaced backend are dropped.
type streamListener struct {
	engine   *Engine
	streamID string
	gen      uint64
}

var _ playback.Listener = (*streamListener)(nil)

func (l *streamListener) OnReady() {
	l.engine.queue.push(func() { l.engine.handleReady(l.streamID, l.gen) })
}

func (l *streamListener) OnStateChange(state playback.State) {
	l.engine.queue.push(func() { l.engine.handleStateChange(l.streamID, l.gen, state) })
}

func (l *streamListener) OnPlaybackRateChange(rate float64) {
	l.engine.queue.push(func() { l.engine.handleRateChange(l.streamID, l.gen, rate) })
}

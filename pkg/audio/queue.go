package audio

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// ErrQueueClosed is returned by [FrameQueue.Push] after [FrameQueue.Close].
var ErrQueueClosed = errors.New("audio: frame queue closed")

// DefaultQueueSize is the frame capacity used when a non-positive size is
// passed to [NewFrameQueue].
const DefaultQueueSize = 256

// FrameQueue is the bounded hand-off between capture sources and the single
// pipeline consumer. Any number of goroutines may push; exactly one goroutine
// should pop.
//
// Close acts as the end-of-stream sentinel: a blocked [FrameQueue.Pop]
// returns once the frames already queued are drained. Close never closes the
// underlying channel, so a producer racing with Close cannot panic.
type FrameQueue struct {
	ch        chan AudioFrame
	done      chan struct{}
	closeOnce sync.Once

	dropped atomic.Uint64
}

// NewFrameQueue returns a queue holding at most size frames.
func NewFrameQueue(size int) *FrameQueue {
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &FrameQueue{
		ch:   make(chan AudioFrame, size),
		done: make(chan struct{}),
	}
}

// TryPush enqueues f without blocking. When the queue is full or closed the
// frame is dropped, the overflow counter is incremented and false is
// returned. Safe to call from real-time audio callbacks.
func (q *FrameQueue) TryPush(f AudioFrame) bool {
	select {
	case <-q.done:
		q.dropped.Add(1)
		return false
	default:
	}
	select {
	case q.ch <- f:
		return true
	default:
		q.dropped.Add(1)
		return false
	}
}

// Push enqueues f, blocking until there is room, the queue is closed
// ([ErrQueueClosed]) or ctx is done.
func (q *FrameQueue) Push(ctx context.Context, f AudioFrame) error {
	select {
	case <-q.done:
		return ErrQueueClosed
	default:
	}
	select {
	case q.ch <- f:
		return nil
	case <-q.done:
		return ErrQueueClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pop returns the next frame. It blocks until a frame is available, the
// queue is closed and drained, or ctx is done. ok is false in the latter two
// cases.
func (q *FrameQueue) Pop(ctx context.Context) (f AudioFrame, ok bool) {
	select {
	case f = <-q.ch:
		return f, true
	case <-q.done:
		select {
		case f = <-q.ch:
			return f, true
		default:
			return AudioFrame{}, false
		}
	case <-ctx.Done():
		return AudioFrame{}, false
	}
}

// Close marks the end of the stream. It is idempotent and safe to call from
// any goroutine.
func (q *FrameQueue) Close() {
	q.closeOnce.Do(func() { close(q.done) })
}

// Closed reports whether [FrameQueue.Close] has been called.
func (q *FrameQueue) Closed() bool {
	select {
	case <-q.done:
		return true
	default:
		return false
	}
}

// Dropped returns the number of frames discarded by [FrameQueue.TryPush].
func (q *FrameQueue) Dropped() uint64 { return q.dropped.Load() }

// Len returns the number of frames currently queued.
func (q *FrameQueue) Len() int { return len(q.ch) }

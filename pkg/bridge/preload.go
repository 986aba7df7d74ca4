package bridge

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// preloadPollInterval is how often Await re-checks for a queue that does
// not exist yet.
const preloadPollInterval = 100 * time.Millisecond

// Queue carries audio generated before the media socket attached. The
// producing generation task pushes wire frames and calls Finish; the
// session drains Frames once connected. Only the producer closes the frame
// channel, so Push and Finish must stay on the producer goroutine.
type Queue struct {
	frames chan []byte

	done     chan struct{}
	doneOnce sync.Once

	mu       sync.Mutex
	greeting string
}

func newQueue() *Queue {
	return &Queue{
		frames: make(chan []byte, 512),
		done:   make(chan struct{}),
	}
}

// Push appends one wire frame, blocking while the buffer is full. Returns
// false once the queue has been cancelled; the producer should stop
// generating then.
func (q *Queue) Push(frame []byte) bool {
	select {
	case <-q.done:
		return false
	default:
	}
	select {
	case q.frames <- frame:
		return true
	case <-q.done:
		return false
	}
}

// Finish marks the end of the preloaded audio. Consumers draining Frames
// observe the channel close. Must be called exactly once, by the producer.
func (q *Queue) Finish() {
	close(q.frames)
}

// Cancel releases a producer blocked in Push and marks the queue dead.
// Idempotent, callable from any goroutine.
func (q *Queue) Cancel() {
	q.doneOnce.Do(func() { close(q.done) })
}

// Frames is the ordered stream of preloaded wire frames, closed by the
// producer's Finish.
func (q *Queue) Frames() <-chan []byte {
	return q.frames
}

// Done is closed when the queue is cancelled. Consumers select on it so a
// producer that never finishes cannot wedge them.
func (q *Queue) Done() <-chan struct{} {
	return q.done
}

// SetGreeting records the greeting text once it is known, so the session
// can seed its history even when generation outruns attachment.
func (q *Queue) SetGreeting(text string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.greeting = text
}

// Greeting returns the recorded greeting text, empty until generation
// produced it.
func (q *Queue) Greeting() string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.greeting
}

// Broker holds preload queues keyed by provider call id.
type Broker struct {
	mu     sync.Mutex
	queues map[string]*Queue
}

// NewBroker creates an empty broker.
func NewBroker() *Broker {
	return &Broker{queues: make(map[string]*Queue)}
}

// Create makes the queue for a call. Creating one that already exists is
// an error; a call has exactly one preload stream.
func (b *Broker) Create(callID string) (*Queue, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.queues[callID]; exists {
		return nil, fmt.Errorf("preload queue for call %s already exists", callID)
	}
	q := newQueue()
	b.queues[callID] = q
	return q, nil
}

// Get returns the queue for a call if one exists.
func (b *Broker) Get(callID string) (*Queue, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	q, ok := b.queues[callID]
	return q, ok
}

// Await polls for the queue until it appears or maxWait elapses. Inbound
// calls legitimately attach their socket before generation registers the
// queue, so absence now does not mean absence soon.
func (b *Broker) Await(ctx context.Context, callID string, maxWait time.Duration) (*Queue, bool) {
	deadline := time.Now().Add(maxWait)
	for {
		if q, ok := b.Get(callID); ok {
			return q, true
		}
		if time.Now().After(deadline) {
			return nil, false
		}
		select {
		case <-ctx.Done():
			return nil, false
		case <-time.After(preloadPollInterval):
		}
	}
}

// Drop removes the queue for a call and cancels its producer. Safe when
// none exists.
func (b *Broker) Drop(callID string) {
	b.mu.Lock()
	q, ok := b.queues[callID]
	delete(b.queues, callID)
	b.mu.Unlock()
	if ok {
		q.Cancel()
	}
}

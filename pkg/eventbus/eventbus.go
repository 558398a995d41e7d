// Package eventbus provides a small lock-free pub/sub used to decouple the
// health monitor from the failure handler and redistributor.
package eventbus

import (
	"context"
	"strconv"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v4"
)

// Bus fans events out to subscriber channels. Publishing never blocks: a
// subscriber that cannot keep up drops events and the drop is counted.
type Bus[T any] struct {
	subscribers   *xsync.Map[string, *subscriber[T]]
	subscriberSeq atomic.Uint64
	bufferSize    int
	isShutdown    atomic.Bool
}

type subscriber[T any] struct {
	ch       chan T
	id       string
	done     chan struct{}
	dropped  atomic.Uint64
	isActive atomic.Bool
}

const DefaultBufferSize = 64

// New creates a bus with the default per-subscriber buffer.
func New[T any]() *Bus[T] {
	return NewWithBuffer[T](DefaultBufferSize)
}

func NewWithBuffer[T any](bufferSize int) *Bus[T] {
	if bufferSize < 1 {
		bufferSize = 1
	}
	return &Bus[T]{
		subscribers: xsync.NewMap[string, *subscriber[T]](),
		bufferSize:  bufferSize,
	}
}

// Subscribe returns a channel that receives events and a cleanup function.
// The subscription also ends when ctx is cancelled.
func (b *Bus[T]) Subscribe(ctx context.Context) (<-chan T, func()) {
	if b.isShutdown.Load() {
		ch := make(chan T)
		close(ch)
		return ch, func() {}
	}

	id := "sub_" + strconv.FormatUint(b.subscriberSeq.Add(1), 10)
	sub := &subscriber[T]{
		id:   id,
		ch:   make(chan T, b.bufferSize),
		done: make(chan struct{}),
	}
	sub.isActive.Store(true)
	b.subscribers.Store(id, sub)

	go func() {
		select {
		case <-ctx.Done():
			b.unsubscribe(id)
		case <-sub.done:
		}
	}()

	return sub.ch, func() { b.unsubscribe(id) }
}

// Publish delivers an event to every active subscriber, returning the number
// of deliveries. Events are observed in publish order per subscriber.
func (b *Bus[T]) Publish(event T) int {
	if b.isShutdown.Load() {
		return 0
	}

	delivered := 0
	b.subscribers.Range(func(id string, sub *subscriber[T]) bool {
		if !sub.isActive.Load() {
			return true
		}
		select {
		case sub.ch <- event:
			delivered++
		default:
			sub.dropped.Add(1)
		}
		return true
	})
	return delivered
}

// Shutdown stops the bus. Subscriber channels are not closed; they are
// garbage collected once no sender references remain.
func (b *Bus[T]) Shutdown() {
	if !b.isShutdown.CompareAndSwap(false, true) {
		return
	}
	b.subscribers.Range(func(id string, sub *subscriber[T]) bool {
		b.unsubscribe(id)
		return true
	})
	b.subscribers.Clear()
}

// Dropped reports the aggregate number of dropped events.
func (b *Bus[T]) Dropped() uint64 {
	var total uint64
	b.subscribers.Range(func(id string, sub *subscriber[T]) bool {
		total += sub.dropped.Load()
		return true
	})
	return total
}

func (b *Bus[T]) unsubscribe(id string) {
	if sub, exists := b.subscribers.Load(id); exists {
		if sub.isActive.CompareAndSwap(true, false) {
			close(sub.done)
		}
		b.subscribers.Delete(id)
	}
}

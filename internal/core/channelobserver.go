package core

import (
	"context"
	"errors"
	"sync"

	"github.com/valter-silva-au/tasksync/pkg/models"
)

// ErrObserverClosed is returned by a ChannelObserver that was closed by its owner.
var ErrObserverClosed = errors.New("observer closed")

// ChannelObserver is an Observer backed by a buffered channel, suitable for
// long-lived consumers such as streaming HTTP responses or terminal views.
// A full buffer blocks Deliver until the consumer catches up or the delivery
// deadline passes, at which point the registry evicts it and Done closes.
type ChannelObserver[T any] struct {
	ch        chan T
	done      chan struct{}
	closeOnce sync.Once

	mu  sync.Mutex
	err error
}

// NewChannelObserver creates a ChannelObserver with the given buffer size.
func NewChannelObserver[T any](buffer int) *ChannelObserver[T] {
	if buffer < 0 {
		buffer = 0
	}
	return &ChannelObserver[T]{
		ch:   make(chan T, buffer),
		done: make(chan struct{}),
	}
}

// Deliver implements Observer.
func (o *ChannelObserver[T]) Deliver(ctx context.Context, payload T) error {
	select {
	case <-o.done:
		return ErrObserverClosed
	default:
	}

	select {
	case o.ch <- payload:
		return nil
	case <-o.done:
		return ErrObserverClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// C returns the channel payloads arrive on. It is never closed; consumers
// select on Done as well.
func (o *ChannelObserver[T]) C() <-chan T { return o.ch }

// Done is closed once Close has been called or the registry evicted the
// observer.
func (o *ChannelObserver[T]) Done() <-chan struct{} { return o.done }

// Evicted implements Evictable. It has no effect once the owner closed the
// observer.
func (o *ChannelObserver[T]) Evicted(err error) {
	if err == nil {
		err = models.ErrObserverDelivery
	}
	o.closeOnce.Do(func() {
		o.mu.Lock()
		o.err = err
		o.mu.Unlock()
		close(o.done)
	})
}

// Err returns the eviction cause, or nil while the observer is live or when
// its owner closed it.
func (o *ChannelObserver[T]) Err() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.err
}

// Close marks the observer as torn down. Further deliveries fail, which makes
// the registry drop it if the owner did not unsubscribe first. Close is
// idempotent.
func (o *ChannelObserver[T]) Close() {
	o.closeOnce.Do(func() { close(o.done) })
}

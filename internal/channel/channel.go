// Package channel is the message-passing substrate shared by the orchestrator
// and the programs running inside rendering tabs.
//
// A Bus delivers every published value to every live subscriber. It does not
// scope deliveries to a conversation: subscribers filter for themselves,
// usually by the resource id carried in the value. Delivery is best effort and
// fire-and-forget, with one guarantee: a given subscriber observes values in
// the order they were published.
package channel

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/oklog/ulid/v2"
)

// ErrClosed is returned when publishing to or subscribing on a closed bus.
var ErrClosed = errors.New("channel closed")

// Handler receives one delivered value. Handlers of one subscription run
// sequentially on that subscription's goroutine.
type Handler[T any] func(T)

// Subscription is a registered handler. Unsubscribe is idempotent; once it
// returns the handler is not invoked again, apart from an invocation already
// running on the delivery goroutine.
type Subscription interface {
	ID() string
	Unsubscribe() error
}

// Bus is a many-to-many broadcast registry. The zero value is not usable; call New.
type Bus[T any] struct {
	mu     sync.RWMutex
	subs   map[string]*subscription[T]
	closed bool
}

// New returns an empty bus.
func New[T any]() *Bus[T] {
	return &Bus[T]{subs: make(map[string]*subscription[T])}
}

// Subscribe registers h for every value published after this call returns.
func (b *Bus[T]) Subscribe(h Handler[T]) (Subscription, error) {
	if h == nil {
		return nil, errors.New("channel: nil handler")
	}
	s := &subscription[T]{
		id:      ulid.Make().String(),
		bus:     b,
		handler: h,
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrClosed
	}
	b.subs[s.id] = s
	b.mu.Unlock()

	go s.run()
	return s, nil
}

// Publish hands v to every current subscriber and returns without waiting for
// any handler to run.
func (b *Bus[T]) Publish(v T) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}
	for _, s := range b.subs {
		s.enqueue(v)
	}
	return nil
}

// Len reports the number of live subscriptions.
func (b *Bus[T]) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close unsubscribes everyone. Further Publish and Subscribe calls fail with ErrClosed.
func (b *Bus[T]) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	subs := make([]*subscription[T], 0, len(b.subs))
	for _, s := range b.subs {
		subs = append(subs, s)
	}
	b.subs = make(map[string]*subscription[T])
	b.mu.Unlock()

	for _, s := range subs {
		s.stop()
	}
	return nil
}

func (b *Bus[T]) remove(id string) {
	b.mu.Lock()
	delete(b.subs, id)
	b.mu.Unlock()
}

type subscription[T any] struct {
	id      string
	bus     *Bus[T]
	handler Handler[T]

	mu    sync.Mutex
	queue []T

	wake   chan struct{}
	done   chan struct{}
	closed atomic.Bool
}

func (s *subscription[T]) ID() string { return s.id }

func (s *subscription[T]) Unsubscribe() error {
	if !s.stop() {
		return nil
	}
	s.bus.remove(s.id)
	return nil
}

// stop marks the subscription closed and releases the delivery goroutine.
// It reports whether this call performed the transition.
func (s *subscription[T]) stop() bool {
	if s.closed.Swap(true) {
		return false
	}
	close(s.done)
	s.mu.Lock()
	s.queue = nil
	s.mu.Unlock()
	return true
}

func (s *subscription[T]) enqueue(v T) {
	if s.closed.Load() {
		return
	}
	s.mu.Lock()
	s.queue = append(s.queue, v)
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *subscription[T]) next() (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var zero T
	if len(s.queue) == 0 {
		return zero, false
	}
	v := s.queue[0]
	s.queue[0] = zero
	s.queue = s.queue[1:]
	return v, true
}

func (s *subscription[T]) run() {
	for {
		select {
		case <-s.done:
			return
		case <-s.wake:
		}
		for {
			v, ok := s.next()
			if !ok {
				break
			}
			if s.closed.Load() {
				return
			}
			s.handler(v)
		}
	}
}

// Package pubsub provides typed in-process broadcast publishers.
//
// Every subscriber owns a buffered channel and an explicit Subscription
// handle; it must call Cancel on teardown. Delivery to one subscriber is in
// publish order. A subscriber whose buffer is full blocks the publisher until
// it drains or the publish context is done, so slow consumers see every
// event instead of silently losing some.
package pubsub

import (
	"context"
	"sync"
)

const defaultBuffer = 64

type Publisher[T any] struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]*Subscription[T]
	closed bool
}

func NewPublisher[T any]() *Publisher[T] {
	return &Publisher[T]{subs: make(map[int]*Subscription[T])}
}

type Subscription[T any] struct {
	id    int
	ch    chan T
	owner *Publisher[T]
	once  sync.Once
	done  chan struct{}
}

// C returns the delivery channel. It is closed after Cancel or when the
// publisher closes.
func (s *Subscription[T]) C() <-chan T {
	return s.ch
}

// Cancel detaches the subscription. Safe to call more than once.
func (s *Subscription[T]) Cancel() {
	s.owner.remove(s.id)
}

func (s *Subscription[T]) close() {
	s.once.Do(func() {
		close(s.done)
		close(s.ch)
	})
}

// Subscribe registers a new subscriber with the given buffer size; a
// non-positive size uses the default.
func (p *Publisher[T]) Subscribe(buffer ...int) *Subscription[T] {
	size := defaultBuffer
	if len(buffer) > 0 && buffer[0] > 0 {
		size = buffer[0]
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	sub := &Subscription[T]{
		id:    p.nextID,
		ch:    make(chan T, size),
		owner: p,
		done:  make(chan struct{}),
	}
	p.nextID++
	if p.closed {
		sub.close()
		return sub
	}
	p.subs[sub.id] = sub
	return sub
}

func (p *Publisher[T]) remove(id int) {
	p.mu.Lock()
	sub, ok := p.subs[id]
	delete(p.subs, id)
	p.mu.Unlock()
	if ok {
		sub.close()
	}
}

// Publish delivers v to every current subscriber.
func (p *Publisher[T]) Publish(ctx context.Context, v T) error {
	p.mu.RLock()
	subs := make([]*Subscription[T], 0, len(p.subs))
	for _, s := range p.subs {
		subs = append(subs, s)
	}
	p.mu.RUnlock()
	for _, s := range subs {
		if err := s.deliver(ctx, v); err != nil {
			return err
		}
	}
	return nil
}

func (s *Subscription[T]) deliver(ctx context.Context, v T) (err error) {
	defer func() {
		// the subscription was cancelled while we were sending
		if recover() != nil {
			err = nil
		}
	}()
	select {
	case <-s.done:
		return nil
	default:
	}
	select {
	case s.ch <- v:
		return nil
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Len returns the number of live subscribers.
func (p *Publisher[T]) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.subs)
}

// Close cancels every subscription; later subscribers get closed channels.
func (p *Publisher[T]) Close() {
	p.mu.Lock()
	subs := p.subs
	p.subs = make(map[int]*Subscription[T])
	p.closed = true
	p.mu.Unlock()
	for _, s := range subs {
		s.close()
	}
}

package sign

import (
	"sync"

	"moff.io/walletconnect-sign/pkg/concurrent"
)

// topicLocks serializes mutations per topic; topics never block each other.
type topicLocks struct {
	mu    sync.Mutex
	locks map[string]*topicLock
}

type topicLock struct {
	sync.Mutex
	refs int
}

func newTopicLocks() *topicLocks {
	return &topicLocks{locks: make(map[string]*topicLock)}
}

// Lock blocks until topic is free and returns its unlock func.
func (l *topicLocks) Lock(topic string) func() {
	l.mu.Lock()
	lk, ok := l.locks[topic]
	if !ok {
		lk = &topicLock{}
		l.locks[topic] = lk
	}
	lk.refs++
	l.mu.Unlock()

	lk.Lock()
	return func() {
		lk.Unlock()
		l.mu.Lock()
		lk.refs--
		if lk.refs == 0 {
			delete(l.locks, topic)
		}
		l.mu.Unlock()
	}
}

// topicExecutor runs submitted funcs in order per topic, different topics in
// parallel up to the limiter's capacity.
type topicExecutor struct {
	limiter concurrent.Limiter

	mu     sync.Mutex
	queues map[string][]func()
}

func newTopicExecutor(limiter concurrent.Limiter) *topicExecutor {
	return &topicExecutor{limiter: limiter, queues: make(map[string][]func())}
}

func (e *topicExecutor) Submit(topic string, fn func()) {
	e.mu.Lock()
	q, running := e.queues[topic]
	e.queues[topic] = append(q, fn)
	e.mu.Unlock()
	if !running {
		e.limiter.Go(func() { e.drain(topic) })
	}
}

func (e *topicExecutor) drain(topic string) {
	for {
		e.mu.Lock()
		q := e.queues[topic]
		if len(q) == 0 {
			delete(e.queues, topic)
			e.mu.Unlock()
			return
		}
		fn := q[0]
		e.queues[topic] = q[1:]
		e.mu.Unlock()
		fn()
	}
}

package relaystore

import "sync"

// deliveryQueue decouples the connection read loop from a watch consumer:
// pushes never block, a pump goroutine forwards them in order, and stop
// closes the output channel even while the consumer lags.
type deliveryQueue[T any] struct {
	out  chan T
	done chan struct{}

	mu      sync.Mutex
	cond    *sync.Cond
	pending []T
	closed  bool
}

func newDeliveryQueue[T any]() *deliveryQueue[T] {
	q := &deliveryQueue[T]{
		out:  make(chan T),
		done: make(chan struct{}),
	}
	q.cond = sync.NewCond(&q.mu)
	go q.pump()
	return q
}

func (q *deliveryQueue[T]) push(v T) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.pending = append(q.pending, v)
	q.cond.Signal()
	q.mu.Unlock()
}

func (q *deliveryQueue[T]) stop() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.done)
	q.cond.Signal()
	q.mu.Unlock()
}

func (q *deliveryQueue[T]) pump() {
	defer close(q.out)
	for {
		q.mu.Lock()
		for len(q.pending) == 0 && !q.closed {
			q.cond.Wait()
		}
		if q.closed {
			q.mu.Unlock()
			return
		}
		v := q.pending[0]
		q.pending = q.pending[1:]
		q.mu.Unlock()

		select {
		case q.out <- v:
		case <-q.done:
			return
		}
	}
}

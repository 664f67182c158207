package memstore

import "sync"

// watcher decouples write notification from delivery: pushes append to an
// unbounded queue under the store lock, and a pump goroutine drains the
// queue into the subscriber's channel. Writers never block on slow readers.
type watcher[T any] struct {
	ch   chan T
	done chan struct{}

	mu      sync.Mutex
	cond    *sync.Cond
	pending []T
	closed  bool
}

func newWatcher[T any]() *watcher[T] {
	w := &watcher[T]{
		ch:   make(chan T),
		done: make(chan struct{}),
	}
	w.cond = sync.NewCond(&w.mu)
	go w.pump()
	return w
}

func (w *watcher[T]) push(v T) {
	w.mu.Lock()
	if !w.closed {
		w.pending = append(w.pending, v)
		w.cond.Signal()
	}
	w.mu.Unlock()
}

func (w *watcher[T]) stop() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	close(w.done)
	w.cond.Signal()
	w.mu.Unlock()
}

func (w *watcher[T]) pump() {
	for {
		w.mu.Lock()
		for len(w.pending) == 0 && !w.closed {
			w.cond.Wait()
		}
		if w.closed {
			w.mu.Unlock()
			close(w.ch)
			return
		}
		v := w.pending[0]
		w.pending = w.pending[1:]
		w.mu.Unlock()

		select {
		case w.ch <- v:
		case <-w.done:
			close(w.ch)
			return
		}
	}
}

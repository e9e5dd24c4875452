package risk

import "sync"

// fanout delivers values to every subscriber without blocking the sender.
type fanout[T any] struct {
	mu     sync.RWMutex
	subs   map[int]chan T
	next   int
	buffer int
	onDrop func()
}

func newFanout[T any](buffer int, onDrop func()) *fanout[T] {
	return &fanout[T]{
		subs:   make(map[int]chan T),
		buffer: buffer,
		onDrop: onDrop,
	}
}

func (f *fanout[T]) subscribe() (<-chan T, func()) {
	f.mu.Lock()
	id := f.next
	f.next++
	ch := make(chan T, f.buffer)
	f.subs[id] = ch
	f.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.subs, id)
			close(ch)
			f.mu.Unlock()
		})
	}
}

func (f *fanout[T]) publish(v T) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	for _, ch := range f.subs {
		select {
		case ch <- v:
		default:
			if f.onDrop != nil {
				f.onDrop()
			}
		}
	}
}

func (f *fanout[T]) count() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.subs)
}
